package rbac

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/chapterhub/chapterhub/internal/shared"
)

// Middleware attaches a security context to authenticated requests.
type Middleware struct {
	Service *SecurityService
	Logger  *slog.Logger
}

// Establish builds the request user's security context once and stores it in the
// request context. Anonymous requests pass through without one, so every later
// check on them fails closed.
func (m Middleware) Establish(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := m.currentUserID(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		sc, err := m.Service.Build(r.Context(), userID)
		if err != nil {
			if m.Logger != nil {
				m.Logger.Error("rbac build security context", slog.Int64("user_id", userID), slog.Any("error", err))
			}
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithSecurityContext(r.Context(), sc)))
	})
}

func (m Middleware) currentUserID(r *http.Request) (int64, bool) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		return 0, false
	}
	raw := strings.TrimSpace(sess.User())
	if raw == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		if m.Logger != nil {
			m.Logger.Error("rbac parse user id", slog.String("value", raw))
		}
		return 0, false
	}
	return id, true
}
