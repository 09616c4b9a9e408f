package prescriptions

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/angelmondragon/medcart/internal/notifications"
	"github.com/angelmondragon/medcart/internal/session"
	"github.com/angelmondragon/medcart/pkg/db"
	"github.com/angelmondragon/medcart/pkg/db/models"
	"github.com/angelmondragon/medcart/pkg/enums"
	pkgerrors "github.com/angelmondragon/medcart/pkg/errors"
	"github.com/angelmondragon/medcart/pkg/logger"
)

// CreateInput describes a freshly uploaded document.
type CreateInput struct {
	ID        uuid.UUID `validate:"required"`
	FileName  string    `validate:"required"`
	FileSize  int64     `validate:"gte=0"`
	MediaType string    `validate:"required"`
	URL       string    `validate:"required,url"`
}

// Service manages prescription records for owners and reviewers.
type Service interface {
	Create(ctx context.Context, ownerID string, input CreateInput) (*models.Prescription, error)
	AttachText(ctx context.Context, id uuid.UUID, text string) error
	RequestVerification(ctx context.Context, sess *session.Session, id uuid.UUID) (*models.Prescription, error)
	Review(ctx context.Context, admin *session.Session, id uuid.UUID, decision enums.PrescriptionStatus, note string) (*models.Prescription, error)
	Delete(ctx context.Context, sess *session.Session, id uuid.UUID) error
	List(ctx context.Context, sess *session.Session) ([]models.Prescription, error)
	Get(ctx context.Context, sess *session.Session, id uuid.UUID) (*models.Prescription, error)
}

type repository interface {
	Create(ctx context.Context, rec *models.Prescription) (*models.Prescription, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Prescription, error)
	Update(ctx context.Context, rec *models.Prescription, columns ...string) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListByOwner(ctx context.Context, ownerID string) ([]models.Prescription, error)
	ListAll(ctx context.Context) ([]models.Prescription, error)
}

type ownerNotifier interface {
	Notify(ctx context.Context, userID string, notice notifications.Notice) error
}

type eventPublisher interface {
	Publish(ctx context.Context, ev Event)
}

// ServiceParams wires the prescription service.
type ServiceParams struct {
	Repo     repository
	Notifier ownerNotifier
	Events   eventPublisher
	Logger   *logger.Logger
	Now      func() time.Time
}

type service struct {
	repo     repository
	notifier ownerNotifier
	events   eventPublisher
	logg     *logger.Logger
	validate *validator.Validate
	now      func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("prescription repository required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		repo:     params.Repo,
		notifier: params.Notifier,
		events:   params.Events,
		logg:     params.Logger,
		validate: validator.New(),
		now:      now,
	}, nil
}

func (s *service) Create(ctx context.Context, ownerID string, input CreateInput) (*models.Prescription, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "owner id is required")
	}
	if err := s.validate.Struct(input); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid prescription")
	}

	rec := &models.Prescription{
		ID:        input.ID,
		OwnerID:   ownerID,
		FileName:  input.FileName,
		FileSize:  input.FileSize,
		MediaType: input.MediaType,
		URL:       input.URL,
		Status:    enums.PrescriptionStatusUploaded,
	}
	created, err := s.repo.Create(ctx, rec)
	if err != nil {
		if db.IsUniqueViolation(err, "") {
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "prescription already exists")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create prescription")
	}
	s.publish(ctx, enums.PrescriptionEventCreated, created)
	return created, nil
}

func (s *service) AttachText(ctx context.Context, id uuid.UUID, text string) error {
	rec, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	rec.OCRText = &text
	if err := s.save(ctx, rec, "ocr_text"); err != nil {
		return err
	}
	s.publish(ctx, enums.PrescriptionEventUpdated, rec)
	return nil
}

func (s *service) RequestVerification(ctx context.Context, sess *session.Session, id uuid.UUID) (*models.Prescription, error) {
	if err := session.RequireUser(sess, "login required"); err != nil {
		return nil, err
	}
	rec, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.OwnerID != sess.UserID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "prescription belongs to another user")
	}
	switch rec.Status {
	case enums.PrescriptionStatusUploaded, enums.PrescriptionStatusRejected:
	default:
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("cannot request verification while %s", rec.Status))
	}

	rec.Status = enums.PrescriptionStatusPending
	if err := s.save(ctx, rec, "status"); err != nil {
		return nil, err
	}
	s.publish(ctx, enums.PrescriptionEventStatusChanged, rec)
	return rec, nil
}

func (s *service) Review(ctx context.Context, admin *session.Session, id uuid.UUID, decision enums.PrescriptionStatus, note string) (*models.Prescription, error) {
	if err := session.RequireAdmin(admin); err != nil {
		return nil, err
	}
	action, err := enums.AuditActionFor(decision)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid review decision")
	}
	rec, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	note = strings.TrimSpace(note)
	rec.Status = decision
	rec.AdminNote = &note
	rec.AuditTrail = append(rec.AuditTrail, models.AuditEntry{
		AdminID:   admin.UserID,
		AdminName: admin.Name(),
		Action:    action,
		Note:      note,
		At:        s.now().UTC(),
	})
	if err := s.save(ctx, rec, "status", "admin_note", "audit_trail"); err != nil {
		return nil, err
	}
	s.publish(ctx, enums.PrescriptionEventStatusChanged, rec)
	s.notifyOwner(ctx, rec, decision, note)
	return rec, nil
}

func (s *service) Delete(ctx context.Context, sess *session.Session, id uuid.UUID) error {
	if err := session.RequireUser(sess, "login required"); err != nil {
		return err
	}
	rec, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if rec.OwnerID != sess.UserID && !sess.IsAdmin {
		return pkgerrors.New(pkgerrors.CodeForbidden, "prescription belongs to another user")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if db.IsNotFound(err) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "prescription not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete prescription")
	}
	s.publish(ctx, enums.PrescriptionEventDeleted, rec)
	return nil
}

func (s *service) List(ctx context.Context, sess *session.Session) ([]models.Prescription, error) {
	if err := session.RequireUser(sess, "login required"); err != nil {
		return nil, err
	}
	var (
		recs []models.Prescription
		err  error
	)
	if sess.IsAdmin {
		recs, err = s.repo.ListAll(ctx)
	} else {
		recs, err = s.repo.ListByOwner(ctx, sess.UserID)
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list prescriptions")
	}
	return recs, nil
}

func (s *service) Get(ctx context.Context, sess *session.Session, id uuid.UUID) (*models.Prescription, error) {
	if err := session.RequireUser(sess, "login required"); err != nil {
		return nil, err
	}
	rec, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.OwnerID != sess.UserID && !sess.IsAdmin {
		// Hide other owners' records entirely.
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "prescription not found")
	}
	return rec, nil
}

func (s *service) load(ctx context.Context, id uuid.UUID) (*models.Prescription, error) {
	rec, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "prescription not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load prescription")
	}
	return rec, nil
}

func (s *service) save(ctx context.Context, rec *models.Prescription, columns ...string) error {
	if err := s.repo.Update(ctx, rec, columns...); err != nil {
		if db.IsNotFound(err) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "prescription not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update prescription")
	}
	return nil
}

func (s *service) publish(ctx context.Context, eventType enums.PrescriptionEventType, rec *models.Prescription) {
	if s.events == nil {
		return
	}
	s.events.Publish(ctx, newEvent(eventType, rec, s.now()))
}

// RecordLink is the reference stored on notifications about a prescription.
func RecordLink(id uuid.UUID) string {
	return "prescriptions/" + id.String()
}

func (s *service) notifyOwner(ctx context.Context, rec *models.Prescription, decision enums.PrescriptionStatus, note string) {
	if s.notifier == nil {
		return
	}
	title := "Prescription verified"
	message := fmt.Sprintf("%s was verified.", rec.FileName)
	if decision == enums.PrescriptionStatusRejected {
		title = "Prescription rejected"
		message = fmt.Sprintf("%s was rejected.", rec.FileName)
	}
	if note != "" {
		message = fmt.Sprintf("%s Note: %s", message, note)
	}
	link := RecordLink(rec.ID)
	err := s.notifier.Notify(ctx, rec.OwnerID, notifications.Notice{
		Type:    enums.NotificationTypePrescriptionUpdate,
		Title:   title,
		Message: message,
		Link:    &link,
	})
	if err != nil {
		ctx = s.logg.WithRecordID(ctx, rec.ID.String())
		s.logg.WarnErr(ctx, "failed to notify prescription owner", err)
	}
}
