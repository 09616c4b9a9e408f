package notifications

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/medcart/pkg/db/models"
	"github.com/angelmondragon/medcart/pkg/enums"
	pkgerrors "github.com/angelmondragon/medcart/pkg/errors"
	"github.com/angelmondragon/medcart/pkg/logger"
)

const defaultListLimit = 50

// Notice is a persistent in-app message addressed to one user.
type Notice struct {
	Type    enums.NotificationType
	Title   string
	Message string
	Link    *string
}

// Toast is an ephemeral advisory shown to whoever is at the console.
type Toast struct {
	Level   enums.NoticeLevel `json:"level"`
	Message string            `json:"message"`
	At      time.Time         `json:"at"`
}

// Sink receives toasts. Implementations must not block.
type Sink interface {
	Deliver(Toast)
}

// Service delivers persistent notices and ephemeral toasts.
type Service struct {
	repo Repository
	logg *logger.Logger
	now  func() time.Time

	mu    sync.RWMutex
	sinks []Sink
}

func NewService(repo Repository, logg *logger.Logger, sinks ...Sink) (*Service, error) {
	if logg == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "logger required")
	}
	return &Service{repo: repo, logg: logg, now: time.Now, sinks: sinks}, nil
}

// AddSink registers another toast destination.
func (s *Service) AddSink(sink Sink) {
	if sink == nil {
		return
	}
	s.mu.Lock()
	s.sinks = append(s.sinks, sink)
	s.mu.Unlock()
}

// Notify persists a notice for userID.
func (s *Service) Notify(ctx context.Context, userID string, notice Notice) error {
	if s.repo == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "notifications repository required")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if !notice.Type.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid notification type")
	}
	if strings.TrimSpace(notice.Title) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "notification title required")
	}

	row := &models.Notification{
		UserID:  userID,
		Type:    notice.Type,
		Title:   notice.Title,
		Message: notice.Message,
		Link:    notice.Link,
	}
	if err := s.repo.Create(ctx, row); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create notification")
	}
	return nil
}

// Toast fans message out to every sink and logs it.
func (s *Service) Toast(ctx context.Context, level enums.NoticeLevel, message string) {
	toast := Toast{Level: level, Message: message, At: s.now().UTC()}

	ctx = s.logg.WithField(ctx, "level", string(level))
	switch level {
	case enums.NoticeLevelError, enums.NoticeLevelWarning:
		s.logg.Warn(ctx, message)
	default:
		s.logg.Info(ctx, message)
	}

	s.mu.RLock()
	sinks := append([]Sink(nil), s.sinks...)
	s.mu.RUnlock()
	for _, sink := range sinks {
		sink.Deliver(toast)
	}
}

func (s *Service) List(ctx context.Context, userID string, unreadOnly bool) ([]models.Notification, error) {
	if s.repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "notifications repository required")
	}
	if strings.TrimSpace(userID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	rows, err := s.repo.ListByUser(ctx, userID, defaultListLimit, unreadOnly)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list notifications")
	}
	return rows, nil
}

func (s *Service) MarkRead(ctx context.Context, userID string, notificationID uuid.UUID) error {
	if s.repo == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "notifications repository required")
	}
	if strings.TrimSpace(userID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if notificationID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "notification id required")
	}

	found, err := s.repo.MarkRead(ctx, userID, notificationID, s.now().UTC())
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark notification read")
	}
	if !found {
		return pkgerrors.New(pkgerrors.CodeNotFound, "notification not found")
	}
	return nil
}

func (s *Service) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	if s.repo == nil {
		return 0, pkgerrors.New(pkgerrors.CodeDependency, "notifications repository required")
	}
	if strings.TrimSpace(userID) == "" {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}

	count, err := s.repo.MarkAllRead(ctx, userID, s.now().UTC())
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark notifications read")
	}
	return count, nil
}
