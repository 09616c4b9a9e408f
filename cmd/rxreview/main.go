package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"

	"github.com/angelmondragon/medcart/internal/notifications"
	"github.com/angelmondragon/medcart/internal/prescriptions"
	"github.com/angelmondragon/medcart/internal/session"
	"github.com/angelmondragon/medcart/pkg/config"
	"github.com/angelmondragon/medcart/pkg/db"
	pkgerrors "github.com/angelmondragon/medcart/pkg/errors"
	"github.com/angelmondragon/medcart/pkg/idempotency"
	"github.com/angelmondragon/medcart/pkg/instance"
	"github.com/angelmondragon/medcart/pkg/logger"
	"github.com/angelmondragon/medcart/pkg/migrate"
	"github.com/angelmondragon/medcart/pkg/pubsub"
	"github.com/angelmondragon/medcart/pkg/redis"
)

const serviceName = "rxreview"

type options struct {
	session string
	issue   session.Session
}

func main() {
	logg := logger.New(logger.Options{ServiceName: serviceName})
	_ = godotenv.Load()

	var opts options
	flag.StringVar(&opts.session, "session", "", "session token (defaults to MEDCART_SESSION_TOKEN)")
	flag.StringVar(&opts.issue.UserID, "user", "", "user id for issue-session")
	flag.StringVar(&opts.issue.DisplayName, "name", "", "display name for issue-session")
	flag.StringVar(&opts.issue.Email, "email", "", "email for issue-session")
	flag.BoolVar(&opts.issue.IsAdmin, "admin", false, "grant administrator rights in issue-session")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
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
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "cmd": flag.Arg(0)})

	if err := run(ctx, cfg, logg, opts, flag.Arg(0), flag.Args()[1:]); err != nil {
		if typed := pkgerrors.As(err); typed != nil {
			fmt.Fprintln(os.Stderr, typed.Message())
		}
		logg.Error(ctx, "rxreview failed", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger, opts options, cmd string, args []string) (err error) {
	dbClient, err := db.New(ctx, cfg.DB, cfg.FeatureFlags, logg)
	if err != nil {
		return fmt.Errorf("bootstrap database: %w", err)
	}
	defer func() { err = multierr.Append(err, dbClient.Close()) }()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return fmt.Errorf("dev migrations: %w", err)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return fmt.Errorf("bootstrap redis: %w", err)
	}
	defer func() { err = multierr.Append(err, redisClient.Close()) }()

	sessions, err := session.NewManager(redisClient, cfg.Session)
	if err != nil {
		return fmt.Errorf("session manager: %w", err)
	}

	if cmd == "issue-session" {
		token, err := sessions.Issue(ctx, opts.issue)
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
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

	notifier, err := notifications.NewService(notifications.NewRepository(dbClient.DB()), logg, notifications.NewWriterSink(os.Stderr))
	if err != nil {
		return fmt.Errorf("notification service: %w", err)
	}

	bus := prescriptions.NewBus()
	events, closeEvents, err := wireEvents(ctx, cfg, logg, bus, redisClient, cmd == "watch")
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, closeEvents()) }()

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
	feed, err := prescriptions.NewFeed(repo, bus, logg)
	if err != nil {
		return fmt.Errorf("prescription feed: %w", err)
	}

	a := &app{out: os.Stdout, sess: sess, records: records, notices: notifier, feed: feed}
	return a.dispatch(ctx, cmd, args)
}

// wireEvents builds the event publisher. With Pub/Sub configured, changes go
// to the topic and, for watch, remote changes are fed into bus.
func wireEvents(ctx context.Context, cfg *config.Config, logg *logger.Logger, bus *prescriptions.Bus, redisClient *redis.Client, consume bool) (*prescriptions.EventPublisher, func() error, error) {
	source := instance.GetID()
	if !cfg.PubSub.Enabled() {
		events, err := prescriptions.NewEventPublisher(bus, nil, source, logg)
		return events, func() error { return nil }, err
	}

	client, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		return nil, nil, fmt.Errorf("bootstrap pubsub: %w", err)
	}
	remote := prescriptions.NewPubSubPublisher(client.PrescriptionsPublisher())

	stopConsumer := func() {}
	if subscription := client.PrescriptionsSubscription(); consume && subscription != nil {
		guard, err := idempotency.NewGuard(redisClient, idempotency.DefaultTTL)
		if err != nil {
			remote.Stop()
			return nil, nil, multierr.Append(err, client.Close())
		}
		consumer, err := prescriptions.NewConsumer(subscription, bus, source, logg, prescriptions.WithDeduper(guard))
		if err != nil {
			remote.Stop()
			return nil, nil, multierr.Append(err, client.Close())
		}
		consumeCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := consumer.Run(consumeCtx); err != nil && !errors.Is(err, context.Canceled) {
				logg.Error(ctx, "prescription event consumer stopped", err)
			}
		}()
		stopConsumer = func() {
			cancel()
			<-done
		}
	}

	events, err := prescriptions.NewEventPublisher(bus, remote, source, logg)
	closeFn := func() error {
		stopConsumer()
		remote.Stop()
		return client.Close()
	}
	if err != nil {
		return nil, nil, multierr.Append(err, closeFn())
	}
	return events, closeFn, nil
}
