package session

import (
	"context"
	"strings"

	pkgerrors "github.com/angelmondragon/medcart/pkg/errors"
)

// Session is the signed-in identity handed to the upload pipeline. It is
// passed explicitly; nothing in the module keeps a process-wide current user.
type Session struct {
	UserID      string `json:"user_id" validate:"required"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email" validate:"omitempty,email"`
	IsAdmin     bool   `json:"is_admin"`
}

// Authenticated reports whether s identifies a user.
func (s *Session) Authenticated() bool {
	return s != nil && strings.TrimSpace(s.UserID) != ""
}

// Name returns the display name, falling back to the email and user id.
func (s *Session) Name() string {
	if s == nil {
		return ""
	}
	for _, v := range []string{s.DisplayName, s.Email, s.UserID} {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

type ctxKey struct{}

func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

func FromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(ctxKey{}).(*Session)
	return s, ok && s != nil
}

// RequireUser returns an unauthorized error carrying message when s is not signed in.
func RequireUser(s *Session, message string) error {
	if s.Authenticated() {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeUnauthorized, message)
}

// RequireAdmin rejects sessions without administrator rights.
func RequireAdmin(s *Session) error {
	if !s.Authenticated() {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	if !s.IsAdmin {
		return pkgerrors.New(pkgerrors.CodeForbidden, "administrator access required")
	}
	return nil
}
