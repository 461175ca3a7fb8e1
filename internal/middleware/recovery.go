package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/rumor-ml/commons.systems/stmtimport/internal/logger"
)

// Recovery recovers from panics in HTTP handlers.
//
// Scope: the ServeHTTP chain only; background goroutines are not covered.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				log := logger.FromContext(r.Context())
				log.Error().
					Interface("panic", err).
					Str("stack", string(debug.Stack())).
					Str("path", r.URL.Path).
					Msg("panic recovered")
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
