package uploads

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/medcart/internal/ocr"
	"github.com/angelmondragon/medcart/internal/prescriptions"
	"github.com/angelmondragon/medcart/internal/session"
	"github.com/angelmondragon/medcart/pkg/db/models"
	"github.com/angelmondragon/medcart/pkg/enums"
	pkgerrors "github.com/angelmondragon/medcart/pkg/errors"
	"github.com/angelmondragon/medcart/pkg/logger"
	"github.com/angelmondragon/medcart/pkg/metrics"
)

const (
	msgLoginRequired = "Please login to upload prescriptions."
	msgPickFiles     = "Pick files first."
)

const (
	DefaultStallThreshold    = 30 * time.Second
	DefaultStallPollInterval = 5 * time.Second
	DefaultMaxConcurrent     = 4
)

type recordStore interface {
	Create(ctx context.Context, ownerID string, input prescriptions.CreateInput) (*models.Prescription, error)
}

type extractor interface {
	Schedule(job ocr.Job)
	Drain(ctx context.Context) error
}

type notifier interface {
	Toast(ctx context.Context, level enums.NoticeLevel, message string)
}

// Result describes one file that reached storage. RecordID is nil when the
// prescription record could not be written.
type Result struct {
	TaskID   TaskID
	BatchID  string
	FileName string
	URL      string
	RecordID *uuid.UUID
}

// Service orchestrates concurrent prescription uploads.
type Service interface {
	UploadBatch(ctx context.Context, sess *session.Session, files []CandidateFile) ([]Result, error)
	Retry(ctx context.Context, sess *session.Session, id TaskID) (*Result, error)
	Remove(id TaskID) bool
	// ClearBatch forgets the finished tasks of a batch once its results
	// have been shown.
	ClearBatch(batchID string) int
	Tasks() []Task
	Close(ctx context.Context) error
}

// ServiceParams wires the orchestrator. Extractor, Metrics and OnPersisted
// are optional.
type ServiceParams struct {
	Policy            *Policy
	Tracker           *Tracker
	Uploader          Uploader
	Records           recordStore
	Extractor         extractor
	Notifier          notifier
	Logger            *logger.Logger
	Metrics           *metrics.UploadMetrics
	StallThreshold    time.Duration
	StallPollInterval time.Duration
	MaxConcurrent     int
	OnPersisted       func(models.Prescription)
}

type service struct {
	policy         *Policy
	tracker        *Tracker
	uploader       Uploader
	records        recordStore
	extractor      extractor
	notifier       notifier
	logg           *logger.Logger
	metrics        *metrics.UploadMetrics
	stallThreshold time.Duration
	maxConcurrent  int
	onPersisted    func(models.Prescription)
	monitor        *stallMonitor
	now            func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Tracker == nil {
		return nil, fmt.Errorf("upload tracker required")
	}
	if params.Uploader == nil {
		return nil, fmt.Errorf("uploader required")
	}
	if params.Records == nil {
		return nil, fmt.Errorf("record store required")
	}
	if params.Notifier == nil {
		return nil, fmt.Errorf("notifier required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.StallThreshold <= 0 {
		params.StallThreshold = DefaultStallThreshold
	}
	if params.StallPollInterval <= 0 {
		params.StallPollInterval = DefaultStallPollInterval
	}
	if params.MaxConcurrent <= 0 {
		params.MaxConcurrent = DefaultMaxConcurrent
	}
	if params.Policy == nil {
		params.Policy = NewPolicy(DefaultMaxFileBytes)
	}

	s := &service{
		policy:         params.Policy,
		tracker:        params.Tracker,
		uploader:       params.Uploader,
		records:        params.Records,
		extractor:      params.Extractor,
		notifier:       params.Notifier,
		logg:           params.Logger,
		metrics:        params.Metrics,
		stallThreshold: params.StallThreshold,
		maxConcurrent:  params.MaxConcurrent,
		onPersisted:    params.OnPersisted,
		now:            time.Now,
	}
	s.monitor = newStallMonitor(params.StallPollInterval, s.sweepStalled)
	return s, nil
}

func (s *service) UploadBatch(ctx context.Context, sess *session.Session, files []CandidateFile) ([]Result, error) {
	if err := session.RequireUser(sess, msgLoginRequired); err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, msgPickFiles)
	}

	admission, err := s.policy.Admit(files)
	if notice := admission.Notice(); notice != "" {
		s.notifier.Toast(ctx, enums.NoticeLevelError, notice)
	}
	if err != nil {
		return nil, err
	}
	files = admission.Accepted

	batchID := uuid.NewString()
	ctx = s.logg.WithFields(ctx, map[string]any{
		"batch_id": batchID,
		"user_id":  sess.UserID,
		"files":    len(files),
		"rejected": len(admission.Rejected),
	})

	ids := make([]TaskID, len(files))
	for i, f := range files {
		ids[i] = s.tracker.Add(batchID, f)
	}

	s.monitor.acquire()
	defer s.monitor.release()

	s.logg.Info(ctx, "upload batch started")

	outcomes := make([]*Result, len(files))
	g := new(errgroup.Group)
	g.SetLimit(s.maxConcurrent)
	for i := range files {
		g.Go(func() error {
			// File failures are reported through the tracker and notices;
			// returning nil keeps siblings running.
			attempt, err := s.tracker.Start(ids[i], enums.UploadStatusPending)
			if err != nil {
				// Removed before its turn came.
				s.logg.WarnErr(ctx, "upload task not started", err)
				return nil
			}
			outcomes[i] = s.runTask(ctx, sess.UserID, ids[i], attempt)
			return nil
		})
	}
	_ = g.Wait()

	results := make([]Result, 0, len(files))
	for _, r := range outcomes {
		if r != nil {
			results = append(results, *r)
		}
	}

	if len(results) > 0 {
		s.notifier.Toast(ctx, enums.NoticeLevelSuccess, fmt.Sprintf("Uploaded %d file(s) successfully", len(results)))
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{"succeeded": len(results), "failed": len(files) - len(results)}), "upload batch finished")

	return results, nil
}

func (s *service) Retry(ctx context.Context, sess *session.Session, id TaskID) (*Result, error) {
	if err := session.RequireUser(sess, msgLoginRequired); err != nil {
		return nil, err
	}
	task, ok := s.tracker.Get(id)
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "upload task not found")
	}
	ctx = s.logg.WithFields(ctx, map[string]any{"batch_id": task.BatchID, "user_id": sess.UserID})

	s.monitor.acquire()
	defer s.monitor.release()

	attempt, err := s.tracker.Start(id, enums.UploadStatusFailed, enums.UploadStatusStalled)
	if err != nil {
		current, found := s.tracker.Get(id)
		if !found {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "upload task not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeStateConflict, err, fmt.Sprintf("upload of %s cannot be retried while %s", current.File.Name, current.Status)).
			WithDetails(map[string]any{"status": current.Status})
	}

	res := s.runTask(ctx, sess.UserID, id, attempt)
	if res == nil {
		current, _ := s.tracker.Get(id)
		return nil, pkgerrors.New(pkgerrors.CodeUploadFailed, fmt.Sprintf("Failed to upload %s", task.File.Name)).
			WithDetails(map[string]any{"error": current.Err})
	}
	return res, nil
}

func (s *service) Remove(id TaskID) bool {
	return s.tracker.Remove(id)
}

func (s *service) ClearBatch(batchID string) int {
	return s.tracker.Clear(batchID)
}

func (s *service) Tasks() []Task {
	return s.tracker.Snapshot()
}

// Close waits for detached text extraction to finish or ctx to expire.
func (s *service) Close(ctx context.Context) error {
	if s.extractor == nil {
		return nil
	}
	return s.extractor.Drain(ctx)
}

// runTask performs the upload attempt handed out by Tracker.Start and returns
// nil when the file did not reach storage.
func (s *service) runTask(ctx context.Context, ownerID string, id TaskID, attempt int) *Result {
	task, ok := s.tracker.Get(id)
	if !ok {
		return nil
	}
	file := task.File
	ctx = s.logg.WithFields(ctx, map[string]any{"task_id": string(id), "file": file.Name, "attempt": attempt})

	s.metrics.UploadStarted(file.MediaType)
	started := s.now()

	url, err := s.uploader.Upload(ctx, file, ownerID, func(pct int) {
		s.tracker.Progress(id, attempt, pct)
	})
	if err != nil {
		s.metrics.UploadFailed(file.MediaType, s.now().Sub(started))
		uploadErr := pkgerrors.Wrap(pkgerrors.CodeUploadFailed, err, fmt.Sprintf("Failed to upload %s", file.Name))
		if s.tracker.Fail(id, attempt, err) {
			s.notifier.Toast(ctx, enums.NoticeLevelError, uploadErr.Message())
		}
		s.logg.Error(ctx, "upload failed", uploadErr)
		return nil
	}
	s.metrics.UploadSucceeded(file.MediaType, s.now().Sub(started))

	if !s.tracker.Complete(id, attempt, url) {
		// Superseded by a retry or removed while in flight.
		s.logg.Warn(ctx, "discarding result of superseded upload attempt")
		return nil
	}

	result := &Result{TaskID: id, BatchID: task.BatchID, FileName: file.Name, URL: url}

	if rec := s.persist(ctx, ownerID, file, url); rec != nil {
		rid := rec.ID
		result.RecordID = &rid
		s.tracker.Attach(id, rid)
		if s.extractor != nil {
			s.extractor.Schedule(ocr.Job{
				RecordID:  rid,
				OwnerID:   ownerID,
				FileName:  file.Name,
				MediaType: file.MediaType,
				Open:      file.Open,
			})
		}
	}

	s.notifier.Toast(ctx, enums.NoticeLevelSuccess, fmt.Sprintf("Uploaded %s successfully", file.Name))
	return result
}

func (s *service) persist(ctx context.Context, ownerID string, file CandidateFile, url string) *models.Prescription {
	rec, err := s.records.Create(ctx, ownerID, prescriptions.CreateInput{
		ID:        uuid.New(),
		FileName:  file.Name,
		FileSize:  file.Size,
		MediaType: file.MediaType,
		URL:       url,
	})
	if err != nil {
		s.metrics.PersistFailed()
		s.logg.Error(ctx, "failed to save prescription metadata", pkgerrors.Wrap(pkgerrors.CodeMetadataPersist, err, "create prescription record"))
		return nil
	}
	if s.onPersisted != nil {
		s.onPersisted(*rec)
	}
	return rec
}

func (s *service) sweepStalled() {
	for _, task := range s.tracker.SweepStalled(s.stallThreshold) {
		ctx := s.logg.WithFields(context.Background(), map[string]any{
			"task_id":  string(task.ID),
			"batch_id": task.BatchID,
			"file":     task.File.Name,
			"code":     pkgerrors.CodeUploadStalled,
		})
		s.metrics.UploadStalled()
		s.logg.Warn(ctx, "upload stalled")
		s.notifier.Toast(ctx, enums.NoticeLevelWarning, fmt.Sprintf("Upload seems stalled for %s. You can Retry or Remove.", task.File.Name))
	}
}
