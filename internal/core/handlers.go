package core

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"smartdelay/internal/scheduler"
	"smartdelay/internal/types"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// tickResponse is TickResult plus the per-trip operator errors as text.
type tickResponse struct {
	scheduler.TickResult
	Errors []string `json:"errors,omitempty"`
}

// HandleTick runs one tick synchronously. The body is an optional
// scheduler.TickPayload; without reference_time the server clock is used.
//
// Per-trip errors are reported in the body with a 200. A tick that could not
// run at all (lock or selection failure) is an error response.
func (s *Server) HandleTick(w http.ResponseWriter, r *http.Request) {
	var payload scheduler.TickPayload
	if err := DecodeJSON(w, r, &payload); err != nil && !errors.Is(err, io.EOF) {
		Error(w, r, err)
		return
	}

	now := s.clock.Now()
	if payload.ReferenceTime != nil {
		now = *payload.ReferenceTime
	}

	result, err := s.ticker.Tick(r.Context(), now)
	if err != nil && len(result.Errors) == 0 {
		s.logger.ErrorContext(r.Context(), "manual tick failed", "error", err)
		Error(w, r, err)
		return
	}

	resp := tickResponse{TickResult: result}
	for _, e := range result.Errors {
		resp.Errors = append(resp.Errors, e.Error())
	}
	JSON(w, r, http.StatusOK, APIResponse{Data: resp})
}

// HandleListNotifications returns the newest notifications for a trip.
// ?limit= defaults to 20 and is capped at 100. One extra row is read to
// fill pagination.has_more.
func (s *Server) HandleListNotifications(w http.ResponseWriter, r *http.Request) {
	tripID := chi.URLParam(r, "tripID")

	limit, err := parseLimit(r)
	if err != nil {
		Error(w, r, err)
		return
	}

	items, err := s.notifications.ListForTrip(r.Context(), tripID, limit+1)
	if err != nil {
		Error(w, r, err)
		return
	}
	JSON(w, r, http.StatusOK, types.NewListResponse(items, limit))
}

// HandleListTicks returns the newest recorded ticks. ?limit= follows the
// same rules as the notification history.
func (s *Server) HandleListTicks(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		Error(w, r, err)
		return
	}

	runs, err := s.history.Recent(r.Context(), scheduler.TickJobType, limit+1)
	if err != nil {
		Error(w, r, err)
		return
	}
	JSON(w, r, http.StatusOK, types.NewListResponse(runs, limit))
}

// parseLimit reads ?limit=, defaulting to 20 and capping at 100.
func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultHistoryLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, types.NewInvalidInput("limit", "must be a positive integer")
	}
	return min(n, maxHistoryLimit), nil
}
