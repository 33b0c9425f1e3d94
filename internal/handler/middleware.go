package handler

import (
	"context"
	"net/http"

	"github.com/maspatas/maspatas-bfa-go/internal/domain"

	"go.uber.org/zap"
)

type contextKey string

const userKey contextKey = "user"

// sessionView is the read side of the session controller.
type sessionView interface {
	State() domain.SessionState
	TrueUser() *domain.User
}

// RequireUser rejects requests while nobody is signed in and injects the
// visible user into the context.
func RequireUser(sessions sessionView, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			st := sessions.State()
			if st.CurrentUser == nil {
				logger.Warn("auth: no session",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
				)
				writeError(w, http.StatusUnauthorized, "not signed in")
				return
			}

			ctx := context.WithValue(r.Context(), userKey, st.CurrentUser)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireSuperadmin lets through only requests made while the signed-in
// principal (the admin, when ghosting) is a superadmin.
func RequireSuperadmin(sessions sessionView, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !sessions.TrueUser().IsSuperadmin() {
				logger.Warn("auth: superadmin required",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
				)
				writeError(w, http.StatusForbidden, "superadmin required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// UserFromContext returns the user injected by RequireUser.
func UserFromContext(ctx context.Context) *domain.User {
	u, _ := ctx.Value(userKey).(*domain.User)
	return u
}
