package core

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"smartdelay/internal/types"
)

// adminKeyHeader carries the ops key. "Authorization: Bearer <key>" is also
// accepted.
const adminKeyHeader = "X-Admin-Key"

const (
	errCodeAuthMissing  types.ErrorCode = "auth_admin_key_invalid"
	errCodeAuthDisabled types.ErrorCode = "auth_admin_disabled"
)

// mountRoutes registers middleware in order: Recoverer first so it catches
// panics from everything below it.
func (s *Server) mountRoutes() {
	s.router.Use(s.Recoverer)
	s.router.Use(RequestIDMiddleware)
	s.router.Use(RequestLogger(s.logger))

	s.router.Get("/health", s.HandleHealth)

	s.router.Route("/ops", func(r chi.Router) {
		r.Use(s.RequireAdminKey)
		r.Post("/tick", s.HandleTick)
		r.Get("/trips/{tripID}/notifications", s.HandleListNotifications)

		if s.history != nil {
			r.Get("/ticks", s.HandleListTicks)
		}
		if s.trips != nil {
			r.Post("/trips", s.HandleCreateTrip)
			r.Get("/trips/{tripID}", s.HandleGetTrip)
			r.Delete("/trips/{tripID}", s.HandleDeleteTrip)
		}
		if s.tokens != nil {
			r.Put("/users/{userID}/push-tokens", s.HandleRegisterToken)
		}
		if s.subscriptions != nil {
			r.Put("/users/{userID}/subscription", s.HandleUpsertSubscription)
		}
	})
}

// RequireAdminKey rejects requests without the configured admin key. The
// comparison is constant time.
func (s *Server) RequireAdminKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.adminKey.IsSet() {
			Error(w, r, types.NewAppError(errCodeAuthDisabled, "ops endpoints are disabled", nil))
			return
		}
		presented := r.Header.Get(adminKeyHeader)
		if presented == "" {
			if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
				presented = strings.TrimPrefix(auth, "Bearer ")
			}
		}
		if subtle.ConstantTimeCompare([]byte(presented), []byte(s.adminKey.Unmask())) != 1 {
			s.logger.WarnContext(r.Context(), "ops request rejected",
				"path", r.URL.Path,
				"request_id", types.GetRequestID(r.Context()),
			)
			Error(w, r, types.NewAppError(errCodeAuthMissing, "missing or invalid admin key", nil))
			return
		}
		next.ServeHTTP(w, r)
	})
}
