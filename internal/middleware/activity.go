package middleware

import (
	"net/http"

	"github.com/ashureev/shsh-webssh/internal/identity"
)

// Toucher records that a user is active.
type Toucher interface {
	Touch(userID string)
}

// Activity marks the request's user as active before serving it. It must
// run after identity.Middleware.
func Activity(t Toucher) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if id := identity.UserIDFromContext(r.Context()); id != "" {
				t.Touch(id)
			}
			next.ServeHTTP(w, r)
		})
	}
}
