package middleware

import (
	"fmt"
	"net/http"

	"github.com/angelmondragon/medcart/api/responses"
	pkgerrors "github.com/angelmondragon/medcart/pkg/errors"
	"github.com/angelmondragon/medcart/pkg/logger"
)

// Recoverer turns a handler panic into an INTERNAL_ERROR envelope. Aborted
// handlers keep panicking so net/http can drop the connection.
func Recoverer(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer recoverStatusPanic(logg, w, r)
			next.ServeHTTP(w, r)
		})
	}
}

func recoverStatusPanic(logg *logger.Logger, w http.ResponseWriter, r *http.Request) {
	rec := recover()
	if rec == nil {
		return
	}
	if rec == http.ErrAbortHandler {
		panic(rec)
	}
	err, ok := rec.(error)
	if !ok {
		err = fmt.Errorf("%v", rec)
	}
	ctx := r.Context()
	if logg != nil {
		ctx = logg.WithField(ctx, "route", r.URL.Path)
	}
	// WriteError logs the wrapped error with its chain.
	responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "status handler panicked"))
}
