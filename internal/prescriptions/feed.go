package prescriptions

import (
	"context"
	"fmt"
	"sync"

	"github.com/angelmondragon/medcart/pkg/db/models"
	pkgerrors "github.com/angelmondragon/medcart/pkg/errors"
	"github.com/angelmondragon/medcart/pkg/logger"
)

type snapshotQuerier interface {
	ListByOwner(ctx context.Context, ownerID string) ([]models.Prescription, error)
	ListAll(ctx context.Context) ([]models.Prescription, error)
}

// Feed serves live queries over prescription records. A subscription gets
// the full result set right away and again after every matching change.
type Feed struct {
	repo snapshotQuerier
	bus  *Bus
	logg *logger.Logger
}

func NewFeed(repo snapshotQuerier, bus *Bus, logg *logger.Logger) (*Feed, error) {
	if repo == nil {
		return nil, fmt.Errorf("prescription repository required")
	}
	if bus == nil {
		return nil, fmt.Errorf("event bus required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Feed{repo: repo, bus: bus, logg: logg}, nil
}

// SnapshotFunc receives the complete, newest-first result set.
type SnapshotFunc func([]models.Prescription)

// SubscribeByOwner watches one owner's records.
func (f *Feed) SubscribeByOwner(ctx context.Context, ownerID string, onSnapshot SnapshotFunc, onError func(error)) (*Subscription, error) {
	if ownerID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "owner id is required")
	}
	query := func(ctx context.Context) ([]models.Prescription, error) {
		return f.repo.ListByOwner(ctx, ownerID)
	}
	match := func(ev Event) bool { return ev.OwnerID == ownerID }
	return f.subscribe(f.logg.WithUserID(ctx, ownerID), query, match, onSnapshot, onError)
}

// SubscribeAll watches every record. Used by reviewers.
func (f *Feed) SubscribeAll(ctx context.Context, onSnapshot SnapshotFunc, onError func(error)) (*Subscription, error) {
	match := func(Event) bool { return true }
	return f.subscribe(ctx, f.repo.ListAll, match, onSnapshot, onError)
}

func (f *Feed) subscribe(
	ctx context.Context,
	query func(context.Context) ([]models.Prescription, error),
	match func(Event) bool,
	onSnapshot SnapshotFunc,
	onError func(error),
) (*Subscription, error) {
	if onSnapshot == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "snapshot callback is required")
	}
	ctx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		cancel: cancel,
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	sub.unlisten = f.bus.Listen(func(ev Event) {
		if match(ev) {
			sub.notify()
		}
	})
	go sub.run(ctx, f.logg, query, onSnapshot, onError)
	return sub, nil
}

// Subscription is a running live query. Callbacks run on the subscription's
// own goroutine, one at a time.
type Subscription struct {
	cancel   context.CancelFunc
	unlisten func()
	signal   chan struct{}
	done     chan struct{}
	once     sync.Once
}

// notify coalesces change signals; a pending re-query covers any number of changes.
func (s *Subscription) notify() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *Subscription) run(
	ctx context.Context,
	logg *logger.Logger,
	query func(context.Context) ([]models.Prescription, error),
	onSnapshot SnapshotFunc,
	onError func(error),
) {
	defer close(s.done)
	for {
		recs, err := query(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			err = pkgerrors.Wrap(pkgerrors.CodeSubscription, err, "live query failed")
			logg.WarnErr(ctx, "prescription subscription stopped", err)
			if onError != nil {
				onError(err)
			}
			return
		}
		onSnapshot(recs)

		select {
		case <-ctx.Done():
			return
		case <-s.signal:
		}
	}
}

// Done is closed once the subscription has stopped delivering.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Close stops the subscription and waits for any running callback to return.
// It must not be called from inside a callback.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.unlisten()
		s.cancel()
	})
	<-s.done
}
