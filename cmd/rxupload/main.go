package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"

	"github.com/angelmondragon/medcart/api/controllers"
	"github.com/angelmondragon/medcart/api/routes"
	"github.com/angelmondragon/medcart/internal/notifications"
	"github.com/angelmondragon/medcart/internal/ocr"
	"github.com/angelmondragon/medcart/internal/prescriptions"
	"github.com/angelmondragon/medcart/internal/session"
	"github.com/angelmondragon/medcart/internal/uploads"
	"github.com/angelmondragon/medcart/pkg/config"
	"github.com/angelmondragon/medcart/pkg/db"
	"github.com/angelmondragon/medcart/pkg/enums"
	"github.com/angelmondragon/medcart/pkg/idempotency"
	"github.com/angelmondragon/medcart/pkg/instance"
	"github.com/angelmondragon/medcart/pkg/logger"
	"github.com/angelmondragon/medcart/pkg/metrics"
	"github.com/angelmondragon/medcart/pkg/migrate"
	"github.com/angelmondragon/medcart/pkg/pubsub"
	"github.com/angelmondragon/medcart/pkg/redis"
	"github.com/angelmondragon/medcart/pkg/storage/gcs"
)

const serviceName = "rxupload"

type options struct {
	session string
	retries int
	watch   time.Duration
	files   []string
}

func main() {
	logg := logger.New(logger.Options{ServiceName: serviceName})

	if err := godotenv.Load(); err != nil {
		logg.Debug(context.Background(), ".env file not found, relying on environment")
	}

	var opts options
	flag.StringVar(&opts.session, "session", "", "session token (defaults to MEDCART_SESSION_TOKEN)")
	flag.IntVar(&opts.retries, "retries", 1, "retry rounds for failed uploads")
	flag.DurationVar(&opts.watch, "watch", 0, "keep following prescription updates for this long after uploading")
	flag.Parse()
	opts.files = flag.Args()
	if len(opts.files) == 0 {
		fmt.Fprintln(os.Stderr, "usage: rxupload [flags] FILE...")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: serviceName,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"instance": instance.GetID(),
	})

	if err := run(ctx, cfg, logg, opts); err != nil {
		logg.Error(ctx, "rxupload failed", err)
		os.Exit(1)
	}
}

// closers runs shutdown hooks in reverse registration order.
type closers []func() error

func (c *closers) add(fn func() error) {
	*c = append(*c, fn)
}

func (c closers) close() error {
	var err error
	for i := len(c) - 1; i >= 0; i-- {
		err = multierr.Append(err, c[i]())
	}
	return err
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger, opts options) error {
	var cleanup closers
	defer func() {
		if closeErr := cleanup.close(); closeErr != nil {
			logg.Error(ctx, "error during shutdown", closeErr)
		}
	}()

	pingers := map[string]controllers.Pinger{}

	dbClient, err := db.New(ctx, cfg.DB, cfg.FeatureFlags, logg)
	if err != nil {
		return fmt.Errorf("bootstrap database: %w", err)
	}
	cleanup.add(dbClient.Close)
	pingers["database"] = dbClient

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return fmt.Errorf("dev migrations: %w", err)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return fmt.Errorf("bootstrap redis: %w", err)
	}
	cleanup.add(redisClient.Close)
	pingers["redis"] = redisClient

	sessions, err := session.NewManager(redisClient, cfg.Session)
	if err != nil {
		return fmt.Errorf("session manager: %w", err)
	}
	token := opts.session
	if token == "" {
		token = cfg.Session.Token
	}
	sess, err := sessions.Start(ctx, token)
	if err != nil {
		return err
	}
	ctx = logg.WithUserID(ctx, sess.UserID)

	store, err := gcs.NewClient(ctx, cfg.GCS, cfg.GCP, logg)
	if err != nil {
		return fmt.Errorf("bootstrap storage: %w", err)
	}
	cleanup.add(store.Close)
	pingers["storage"] = store

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	uploadMetrics := metrics.NewUploadMetrics(registry)

	recent := notifications.NewRecent(0)
	notifier, err := notifications.NewService(
		notifications.NewRepository(dbClient.DB()),
		logg,
		notifications.NewWriterSink(os.Stderr),
		recent,
	)
	if err != nil {
		return fmt.Errorf("notification service: %w", err)
	}

	bus := prescriptions.NewBus()
	events, err := wireEvents(ctx, cfg, logg, bus, redisClient, &cleanup, pingers)
	if err != nil {
		return err
	}

	repo := prescriptions.NewRepository(dbClient.DB())
	records, err := prescriptions.NewService(prescriptions.ServiceParams{
		Repo:     repo,
		Notifier: notifier,
		Events:   events,
		Logger:   logg,
	})
	if err != nil {
		return fmt.Errorf("prescription service: %w", err)
	}

	cache := prescriptions.NewCache()
	feed, err := prescriptions.NewFeed(repo, bus, logg)
	if err != nil {
		return fmt.Errorf("prescription feed: %w", err)
	}
	sub, err := feed.SubscribeByOwner(ctx, sess.UserID, cache.Apply, func(err error) {
		logg.Error(ctx, "prescription feed stopped", err)
		notifier.Toast(ctx, enums.NoticeLevelWarning, "Live prescription updates are unavailable")
	})
	if err != nil {
		return err
	}
	cleanup.add(func() error {
		sub.Close()
		return nil
	})

	printer := newProgressPrinter(os.Stdout, logg)
	params := uploads.ServiceParams{
		Policy:            uploads.NewPolicy(cfg.Upload.MaxFileBytes()),
		Tracker:           uploads.NewTracker(uploads.WithObserver(printer.Observe)),
		Uploader:          uploads.NewStorageUploader(store),
		Records:           records,
		Notifier:          notifier,
		Logger:            logg,
		Metrics:           uploadMetrics,
		StallThreshold:    cfg.Upload.StallThreshold,
		StallPollInterval: cfg.Upload.StallPollInterval,
		MaxConcurrent:     cfg.Upload.MaxConcurrent,
		OnPersisted:       cache.Optimistic,
	}
	if cfg.OCR.Enabled && cfg.OCR.OpenAIAPIKey == "" {
		logg.Warn(ctx, "text extraction enabled without an OpenAI API key, skipping it")
	} else if cfg.OCR.Enabled {
		worker, err := newExtractionWorker(cfg, logg, records, notifier, redisClient, uploadMetrics)
		if err != nil {
			return err
		}
		params.Extractor = worker
	}
	svc, err := uploads.NewService(params)
	if err != nil {
		return fmt.Errorf("upload service: %w", err)
	}
	cleanup.add(func() error {
		drainCtx, cancel := context.WithTimeout(context.Background(), cfg.Upload.ExtractionDrainMax)
		defer cancel()
		return svc.Close(drainCtx)
	})

	if cfg.Status.Addr != "" {
		server := &http.Server{
			Addr: cfg.Status.Addr,
			Handler: routes.NewRouter(cfg, logg, routes.StatusDeps{
				Pingers:  pingers,
				Uploads:  svc,
				Notices:  recent,
				Records:  cache,
				Gatherer: registry,
			}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logg.Error(ctx, "status server stopped unexpectedly", err)
			}
		}()
		logg.Info(logg.WithField(ctx, "addr", cfg.Status.Addr), "status view listening")
		cleanup.add(func() error {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	files := make([]uploads.CandidateFile, 0, len(opts.files))
	for _, path := range opts.files {
		f, err := uploads.FromPath(path)
		if err != nil {
			notifier.Toast(ctx, enums.NoticeLevelError, fmt.Sprintf("Cannot read %s", path))
			logg.WarnErr(logg.WithField(ctx, "path", path), "skipping unreadable file", err)
			continue
		}
		files = append(files, f)
	}
	if len(files) == 0 {
		return fmt.Errorf("no readable files")
	}

	results, err := svc.UploadBatch(ctx, sess, files)
	if err != nil {
		return err
	}
	results = append(results, retryFailed(ctx, logg, svc, sess, opts.retries)...)

	for _, r := range results {
		record := "-"
		if r.RecordID != nil {
			record = r.RecordID.String()
		}
		fmt.Printf("%s\t%s\t%s\n", r.FileName, record, r.URL)
	}
	acknowledged := make(map[string]bool, 1)
	for _, r := range results {
		if !acknowledged[r.BatchID] {
			acknowledged[r.BatchID] = true
			svc.ClearBatch(r.BatchID)
		}
	}

	drainCtx, cancel := context.WithTimeout(ctx, cfg.Upload.ExtractionDrainMax)
	if err := svc.Close(drainCtx); err != nil {
		logg.WarnErr(ctx, "text extraction still running at exit", err)
	}
	cancel()

	if opts.watch > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(opts.watch):
		}
	}
	fmt.Printf("%d prescription(s) on file, %d awaiting confirmation\n", len(cache.Items()), cache.Pending())

	if failed := len(files) - len(results); failed > 0 {
		return fmt.Errorf("%d of %d file(s) failed to upload", failed, len(files))
	}
	return nil
}

// retryFailed gives failed or stalled tasks up to rounds more attempts.
func retryFailed(ctx context.Context, logg *logger.Logger, svc uploads.Service, sess *session.Session, rounds int) []uploads.Result {
	var results []uploads.Result
	for round := 0; round < rounds && ctx.Err() == nil; round++ {
		var retryable []uploads.Task
		for _, t := range svc.Tasks() {
			if t.Status.IsRetryable() {
				retryable = append(retryable, t)
			}
		}
		if len(retryable) == 0 {
			break
		}
		for _, t := range retryable {
			res, err := svc.Retry(ctx, sess, t.ID)
			if err != nil {
				logg.WarnErr(logg.WithTaskID(ctx, string(t.ID)), "retry failed", err)
				continue
			}
			if res != nil {
				results = append(results, *res)
			}
		}
	}
	return results
}

// wireEvents publishes change events locally and, when a topic is
// configured, through Pub/Sub so other clients see them.
func wireEvents(
	ctx context.Context,
	cfg *config.Config,
	logg *logger.Logger,
	bus *prescriptions.Bus,
	redisClient *redis.Client,
	cleanup *closers,
	pingers map[string]controllers.Pinger,
) (*prescriptions.EventPublisher, error) {
	source := instance.GetID()
	if !cfg.PubSub.Enabled() {
		return prescriptions.NewEventPublisher(bus, nil, source, logg)
	}

	client, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		return nil, fmt.Errorf("bootstrap pubsub: %w", err)
	}
	cleanup.add(client.Close)
	pingers["pubsub"] = client

	remote := prescriptions.NewPubSubPublisher(client.PrescriptionsPublisher())
	cleanup.add(func() error {
		remote.Stop()
		return nil
	})

	if subscription := client.PrescriptionsSubscription(); subscription != nil {
		guard, err := idempotency.NewGuard(redisClient, idempotency.DefaultTTL)
		if err != nil {
			return nil, err
		}
		consumer, err := prescriptions.NewConsumer(subscription, bus, source, logg, prescriptions.WithDeduper(guard))
		if err != nil {
			return nil, err
		}
		consumeCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := consumer.Run(consumeCtx); err != nil && !errors.Is(err, context.Canceled) {
				logg.Error(ctx, "prescription event consumer stopped", err)
			}
		}()
		cleanup.add(func() error {
			cancel()
			<-done
			return nil
		})
	}

	return prescriptions.NewEventPublisher(bus, remote, source, logg)
}

func newExtractionWorker(
	cfg *config.Config,
	logg *logger.Logger,
	records prescriptions.Service,
	notifier *notifications.Service,
	redisClient *redis.Client,
	uploadMetrics *metrics.UploadMetrics,
) (*ocr.Worker, error) {
	engine, err := ocr.NewOpenAIEngine(cfg.OCR.OpenAIAPIKey, cfg.OCR.OpenAIModel)
	if err != nil {
		return nil, fmt.Errorf("recognition engine: %w", err)
	}
	return ocr.NewWorker(ocr.WorkerParams{
		Engine:     engine,
		Rasterizer: ocr.NewGhostscript(cfg.OCR.GhostscriptPath, cfg.OCR.RasterizeScale),
		Records:    records,
		Notifier:   notifier,
		Locker:     redisClient,
		Logger:     logg,
		Metrics:    uploadMetrics,
		Language:   cfg.OCR.Language,
		Timeout:    cfg.OCR.Timeout,
	})
}
