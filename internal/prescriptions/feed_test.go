package prescriptions

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/medcart/pkg/db/models"
	"github.com/angelmondragon/medcart/pkg/enums"
	pkgerrors "github.com/angelmondragon/medcart/pkg/errors"
	"github.com/angelmondragon/medcart/pkg/logger"
)

func waitSnapshot(t *testing.T, ch <-chan []models.Prescription, want int) []models.Prescription {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case snap := <-ch:
			if len(snap) == want {
				return snap
			}
		case <-deadline:
			t.Fatalf("timed out waiting for snapshot of %d records", want)
		}
	}
}

func TestFeedPushesOwnerSnapshots(t *testing.T) {
	repo := NewRepository(newTestDB(t))
	bus := NewBus()
	publisher, err := NewEventPublisher(bus, nil, "test-client", logger.Nop())
	require.NoError(t, err)
	svc, err := NewService(ServiceParams{Repo: repo, Events: publisher, Logger: logger.Nop()})
	require.NoError(t, err)
	feed, err := NewFeed(repo, bus, logger.Nop())
	require.NoError(t, err)

	ctx := context.Background()
	_, err = svc.Create(ctx, "alice", sampleInput("old.png"))
	require.NoError(t, err)

	snapshots := make(chan []models.Prescription, 16)
	sub, err := feed.SubscribeByOwner(ctx, "alice", func(recs []models.Prescription) {
		snapshots <- recs
	}, func(err error) {
		t.Errorf("unexpected subscription error: %v", err)
	})
	require.NoError(t, err)
	defer sub.Close()

	initial := waitSnapshot(t, snapshots, 1)
	require.Equal(t, "old.png", initial[0].FileName)

	_, err = svc.Create(ctx, "bob", sampleInput("other.png"))
	require.NoError(t, err)
	_, err = svc.Create(ctx, "alice", sampleInput("new.png"))
	require.NoError(t, err)

	latest := waitSnapshot(t, snapshots, 2)
	for _, rec := range latest {
		require.Equal(t, "alice", rec.OwnerID)
	}
}

type failingQuerier struct{ calls atomic.Int32 }

func (f *failingQuerier) ListByOwner(context.Context, string) ([]models.Prescription, error) {
	f.calls.Add(1)
	return nil, errors.New("permission denied")
}

func (f *failingQuerier) ListAll(context.Context) ([]models.Prescription, error) {
	f.calls.Add(1)
	return nil, errors.New("permission denied")
}

func TestFeedStopsAfterQueryError(t *testing.T) {
	querier := &failingQuerier{}
	bus := NewBus()
	feed, err := NewFeed(querier, bus, logger.Nop())
	require.NoError(t, err)

	var errorsSeen atomic.Int32
	var gotErr atomic.Value
	sub, err := feed.SubscribeAll(context.Background(), func([]models.Prescription) {
		t.Error("no snapshot expected after a failed query")
	}, func(err error) {
		errorsSeen.Add(1)
		gotErr.Store(err)
	})
	require.NoError(t, err)

	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("subscription did not stop after query error")
	}

	// Further changes must not re-query a stopped subscription.
	bus.Emit(Event{EventType: enums.PrescriptionEventCreated, OwnerID: "x"})
	sub.Close()
	sub.Close()

	if errorsSeen.Load() != 1 {
		t.Fatalf("expected exactly one error callback, got %d", errorsSeen.Load())
	}
	if querier.calls.Load() != 1 {
		t.Fatalf("expected a single query, got %d", querier.calls.Load())
	}
	if !pkgerrors.IsCode(gotErr.Load().(error), pkgerrors.CodeSubscription) {
		t.Fatalf("expected subscription error code, got %v", gotErr.Load())
	}
}

func TestSubscriptionCloseStopsDelivery(t *testing.T) {
	repo := NewRepository(newTestDB(t))
	bus := NewBus()
	feed, err := NewFeed(repo, bus, logger.Nop())
	require.NoError(t, err)

	var delivered atomic.Int32
	sub, err := feed.SubscribeByOwner(context.Background(), "alice", func([]models.Prescription) {
		delivered.Add(1)
	}, nil)
	require.NoError(t, err)

	deadline := time.Now().Add(2 * time.Second)
	for delivered.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	sub.Close()
	after := delivered.Load()

	bus.Emit(Event{EventType: enums.PrescriptionEventCreated, OwnerID: "alice"})
	time.Sleep(20 * time.Millisecond)
	if delivered.Load() != after {
		t.Fatalf("callback ran after Close returned")
	}
}

func TestSubscribeValidation(t *testing.T) {
	feed, err := NewFeed(NewRepository(newTestDB(t)), NewBus(), logger.Nop())
	require.NoError(t, err)

	_, err = feed.SubscribeByOwner(context.Background(), "", func([]models.Prescription) {}, nil)
	if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	_, err = feed.SubscribeAll(context.Background(), nil, nil)
	if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
