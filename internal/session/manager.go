package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/angelmondragon/medcart/pkg/config"
	pkgerrors "github.com/angelmondragon/medcart/pkg/errors"
	redisclient "github.com/angelmondragon/medcart/pkg/redis"
)

const tokenBytes = 32

type sessionStore interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Touch(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
}

type sessionKeyer interface {
	SessionKey(token string) string
}

// Manager persists sessions issued after the identity provider signs a user in.
type Manager struct {
	store    sessionStore
	keyer    sessionKeyer
	ttl      time.Duration
	validate *validator.Validate
}

// NewManager constructs a session manager backed by Redis.
func NewManager(client *redisclient.Client, cfg config.SessionConfig) (*Manager, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if cfg.TTL <= 0 {
		return nil, fmt.Errorf("session ttl must be positive")
	}
	return &Manager{
		store:    client,
		keyer:    client,
		ttl:      cfg.TTL,
		validate: validator.New(),
	}, nil
}

// Issue stores s under a fresh opaque token and returns the token.
func (m *Manager) Issue(ctx context.Context, s Session) (string, error) {
	token, err := generateToken()
	if err != nil {
		return "", err
	}
	if err := m.Save(ctx, token, s); err != nil {
		return "", err
	}
	return token, nil
}

// Save writes s under token, replacing any previous payload.
func (m *Manager) Save(ctx context.Context, token string, s Session) error {
	if strings.TrimSpace(token) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "session token is required")
	}
	if err := m.validate.Struct(s); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid session")
	}
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}
	if err := m.store.Set(ctx, m.keyer.SessionKey(token), string(payload), m.ttl); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "storing session")
	}
	return nil
}

// Start resolves token into a Session and slides its expiry.
func (m *Manager) Start(ctx context.Context, token string) (*Session, error) {
	if strings.TrimSpace(token) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "session token is required")
	}
	key := m.keyer.SessionKey(token)
	raw, err := m.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, redisclient.ErrNil) {
			return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "session expired or unknown")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading session")
	}

	var s Session
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "corrupt session payload")
	}
	if !s.Authenticated() {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "session has no user")
	}

	if _, err := m.store.Touch(ctx, key, m.ttl); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "refreshing session")
	}
	return &s, nil
}

// End deletes the session behind token.
func (m *Manager) End(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return nil
	}
	return m.store.Del(ctx, m.keyer.SessionKey(token))
}

func generateToken() (string, error) {
	bytes := make([]byte, tokenBytes)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("generating session token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(bytes), nil
}
