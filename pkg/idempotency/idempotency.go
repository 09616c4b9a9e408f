package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// DefaultTTL bounds how long a handled event id is remembered.
const DefaultTTL = 24 * time.Hour

type store interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	SeenKey(scope, id string) string
}

// Guard remembers which event ids a consumer has already handled, so
// redelivered messages can be skipped. Keys expire after the TTL.
type Guard struct {
	store store
	ttl   time.Duration
}

func NewGuard(s store, ttl time.Duration) (*Guard, error) {
	if s == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	if ttl == 0 {
		ttl = DefaultTTL
	}
	return &Guard{store: s, ttl: ttl}, nil
}

// Seen reports whether scope already handled eventID and, if not, records it.
func (g *Guard) Seen(ctx context.Context, scope string, eventID uuid.UUID) (bool, error) {
	key, err := g.key(scope, eventID)
	if err != nil {
		return false, err
	}
	set, err := g.store.SetNX(ctx, key, "1", g.ttl)
	if err != nil {
		return false, err
	}
	return !set, nil
}

func (g *Guard) key(scope string, eventID uuid.UUID) (string, error) {
	if scope == "" {
		return "", errors.New("scope is required")
	}
	if eventID == uuid.Nil {
		return "", errors.New("event id is required")
	}
	return g.store.SeenKey(scope, eventID.String()), nil
}
