package ocr

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/medcart/pkg/enums"
	pkgerrors "github.com/angelmondragon/medcart/pkg/errors"
	"github.com/angelmondragon/medcart/pkg/logger"
	"github.com/angelmondragon/medcart/pkg/metrics"
)

const (
	mediaTypePDF = "application/pdf"

	DefaultTimeout  = 2 * time.Minute
	DefaultLanguage = "eng"

	// maxInputBytes bounds what is read from a source; uploads are capped well below it.
	maxInputBytes = 32 << 20
)

// Job describes one uploaded file awaiting text extraction.
type Job struct {
	RecordID  uuid.UUID
	OwnerID   string
	FileName  string
	MediaType string
	Open      func() (io.ReadCloser, error)
}

// Engine loads a recognition session for a language.
type Engine interface {
	Load(ctx context.Context, language string) (Recognizer, error)
}

// Recognizer is a loaded recognition session. Close must be called once the
// session is no longer needed, whatever the outcome of Recognize.
type Recognizer interface {
	Recognize(ctx context.Context, image []byte, mediaType string) (string, error)
	Close() error
}

// Rasterizer renders the first page of a paged document to an image.
type Rasterizer interface {
	FirstPage(ctx context.Context, document []byte) (image []byte, mediaType string, err error)
}

type textStore interface {
	AttachText(ctx context.Context, id uuid.UUID, text string) error
}

type notifier interface {
	Toast(ctx context.Context, level enums.NoticeLevel, message string)
}

type locker interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	ExtractionLockKey(recordID string) string
}

// WorkerParams wires the extraction worker. Rasterizer, Locker and Metrics
// are optional.
type WorkerParams struct {
	Engine     Engine
	Rasterizer Rasterizer
	Records    textStore
	Notifier   notifier
	Locker     locker
	Logger     *logger.Logger
	Metrics    *metrics.UploadMetrics
	Language   string
	Timeout    time.Duration
}

// Worker runs best-effort text extraction for uploaded prescriptions.
// Failures are logged and counted; they never reach the caller.
type Worker struct {
	engine     Engine
	rasterizer Rasterizer
	records    textStore
	notifier   notifier
	locker     locker
	logg       *logger.Logger
	metrics    *metrics.UploadMetrics
	language   string
	timeout    time.Duration
	now        func() time.Time

	mu      sync.Mutex
	closed  bool
	pending sync.WaitGroup
}

func NewWorker(params WorkerParams) (*Worker, error) {
	if params.Engine == nil {
		return nil, fmt.Errorf("recognition engine required")
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
	if params.Language == "" {
		params.Language = DefaultLanguage
	}
	if params.Timeout <= 0 {
		params.Timeout = DefaultTimeout
	}
	return &Worker{
		engine:     params.Engine,
		rasterizer: params.Rasterizer,
		records:    params.Records,
		notifier:   params.Notifier,
		locker:     params.Locker,
		logg:       params.Logger,
		metrics:    params.Metrics,
		language:   params.Language,
		timeout:    params.Timeout,
		now:        time.Now,
	}, nil
}

// Schedule runs Extract in a detached goroutine bounded by the worker
// timeout. Jobs scheduled after Drain has started are dropped.
func (w *Worker) Schedule(job Job) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		w.logg.Warn(w.jobContext(context.Background(), job), "extraction worker closed, dropping job")
		w.metrics.Extraction(metrics.ExtractionSkipped, 0)
		return
	}
	w.pending.Add(1)
	w.mu.Unlock()

	go func() {
		defer w.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
		defer cancel()
		w.Extract(ctx, job)
	}()
}

// Drain stops accepting jobs and waits for scheduled ones to finish or ctx to
// expire.
func (w *Worker) Drain(ctx context.Context) error {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.pending.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("draining text extraction: %w", ctx.Err())
	}
}

// Extract recognizes text in the job's file and attaches it to the record.
func (w *Worker) Extract(ctx context.Context, job Job) {
	ctx = w.jobContext(ctx, job)
	started := w.now()

	defer func() {
		if r := recover(); r != nil {
			w.fail(ctx, started, "text extraction panicked", fmt.Errorf("panic: %v", r))
		}
	}()

	if w.locker != nil {
		key := w.locker.ExtractionLockKey(job.RecordID.String())
		acquired, err := w.locker.SetNX(ctx, key, job.OwnerID, w.timeout)
		switch {
		case err != nil:
			w.logg.WarnErr(ctx, "extraction lock unavailable, continuing without it", err)
		case !acquired:
			w.logg.Info(ctx, "text extraction already running for record")
			w.metrics.Extraction(metrics.ExtractionSkipped, 0)
			return
		default:
			defer func() {
				if err := w.locker.Del(context.WithoutCancel(ctx), key); err != nil {
					w.logg.WarnErr(ctx, "releasing extraction lock", err)
				}
			}()
		}
	}

	image, mediaType, err := w.prepare(ctx, job)
	if err != nil {
		w.fail(ctx, started, "reading file for text extraction", err)
		return
	}

	text, err := w.recognize(ctx, image, mediaType)
	if err != nil {
		w.fail(ctx, started, "text recognition failed", err)
		return
	}

	text = strings.TrimSpace(text)
	if text == "" {
		w.logg.Debug(ctx, "text recognition returned no text")
		w.metrics.Extraction(metrics.ExtractionEmpty, w.now().Sub(started))
		return
	}

	if err := w.records.AttachText(ctx, job.RecordID, text); err != nil {
		w.fail(ctx, started, "storing extracted text", err)
		return
	}

	w.metrics.Extraction(metrics.ExtractionStored, w.now().Sub(started))
	w.notifier.Toast(ctx, enums.NoticeLevelInfo, fmt.Sprintf("OCR completed for %s", job.FileName))
}

func (w *Worker) recognize(ctx context.Context, image []byte, mediaType string) (text string, err error) {
	session, err := w.engine.Load(ctx, w.language)
	if err != nil {
		return "", fmt.Errorf("loading recognizer: %w", err)
	}
	defer func() {
		if closeErr := session.Close(); closeErr != nil {
			w.logg.WarnErr(ctx, "closing recognizer", closeErr)
		}
	}()
	return session.Recognize(ctx, image, mediaType)
}

// prepare reads the job's bytes and rasterizes paged documents. Rasterization
// failure falls back to the original bytes.
func (w *Worker) prepare(ctx context.Context, job Job) ([]byte, string, error) {
	if job.Open == nil {
		return nil, "", fmt.Errorf("job for %s has no content", job.FileName)
	}
	rc, err := job.Open()
	if err != nil {
		return nil, "", err
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, maxInputBytes))
	if err != nil {
		return nil, "", err
	}

	if job.MediaType != mediaTypePDF || w.rasterizer == nil {
		return data, job.MediaType, nil
	}

	image, imageType, err := w.rasterizer.FirstPage(ctx, data)
	if err != nil {
		w.logg.WarnErr(ctx, "rasterizing first page failed, using original document", err)
		w.metrics.Extraction(metrics.ExtractionRasterize, 0)
		return data, job.MediaType, nil
	}
	return image, imageType, nil
}

func (w *Worker) fail(ctx context.Context, started time.Time, msg string, err error) {
	w.logg.WarnErr(ctx, msg, pkgerrors.Wrap(pkgerrors.CodeExtraction, err, msg))
	w.metrics.Extraction(metrics.ExtractionFailed, w.now().Sub(started))
}

func (w *Worker) jobContext(ctx context.Context, job Job) context.Context {
	ctx = w.logg.WithRecordID(ctx, job.RecordID.String())
	return w.logg.WithField(ctx, "file", job.FileName)
}
