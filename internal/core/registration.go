package core

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"smartdelay/internal/types"
)

// HandleCreateTrip registers a planned trip. The trip is due on the next
// tick that sees its departure inside the lookahead horizon.
func (s *Server) HandleCreateTrip(w http.ResponseWriter, r *http.Request) {
	var trip types.PlannedTrip
	if err := DecodeJSON(w, r, &trip); err != nil {
		Error(w, r, err)
		return
	}

	if err := s.trips.Create(r.Context(), &trip, s.clock.Now().UTC()); err != nil {
		Error(w, r, err)
		return
	}

	s.logger.InfoContext(r.Context(), "trip registered",
		"trip_id", trip.TripID,
		"user_id", trip.UserID,
		"departure", trip.PlannedDepartureLocal,
	)
	JSON(w, r, http.StatusCreated, APIResponse{Data: trip})
}

// HandleGetTrip returns one trip including its scheduling columns.
func (s *Server) HandleGetTrip(w http.ResponseWriter, r *http.Request) {
	trip, err := s.trips.GetByID(r.Context(), chi.URLParam(r, "tripID"))
	if err != nil {
		Error(w, r, err)
		return
	}
	JSON(w, r, http.StatusOK, APIResponse{Data: trip})
}

// HandleDeleteTrip removes a trip so no further evaluations happen.
func (s *Server) HandleDeleteTrip(w http.ResponseWriter, r *http.Request) {
	tripID := chi.URLParam(r, "tripID")
	if err := s.trips.Delete(r.Context(), tripID); err != nil {
		Error(w, r, err)
		return
	}
	s.logger.InfoContext(r.Context(), "trip deleted", "trip_id", tripID)
	w.WriteHeader(http.StatusNoContent)
}

type registerTokenRequest struct {
	Token    string `json:"token"`
	DeviceID string `json:"device_id,omitempty"`
}

// HandleRegisterToken stores a device token for the user in the path. The
// most recently registered token is the one the scheduler notifies, so a
// token outside the transport grammar is rejected here.
func (s *Server) HandleRegisterToken(w http.ResponseWriter, r *http.Request) {
	var req registerTokenRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		Error(w, r, err)
		return
	}

	token := &types.PushToken{
		UserID:   chi.URLParam(r, "userID"),
		Token:    req.Token,
		DeviceID: req.DeviceID,
	}
	if err := token.Validate(); err != nil {
		Error(w, r, err)
		return
	}
	if err := s.tokens.Register(r.Context(), token, s.clock.Now().UTC()); err != nil {
		Error(w, r, err)
		return
	}
	JSON(w, r, http.StatusOK, APIResponse{Data: token})
}

type subscriptionRequest struct {
	Plan             types.PlanTier           `json:"plan"`
	Status           types.SubscriptionStatus `json:"status"`
	CurrentPeriodEnd *time.Time               `json:"current_period_end,omitempty"`
	// EventAt orders updates; a request older than the stored row is a no-op.
	EventAt *time.Time `json:"event_at,omitempty"`
}

// HandleUpsertSubscription records billing state for the user in the path.
// Without event_at the server clock orders the update.
func (s *Server) HandleUpsertSubscription(w http.ResponseWriter, r *http.Request) {
	var req subscriptionRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		Error(w, r, err)
		return
	}

	switch req.Plan {
	case types.PlanFree, types.PlanPlus, types.PlanPro, types.PlanLifetime:
	default:
		Error(w, r, types.NewInvalidInput("plan", "must be one of free, plus, pro, lifetime"))
		return
	}
	switch req.Status {
	case types.SubscriptionActive, types.SubscriptionTrialing, types.SubscriptionPastDue, types.SubscriptionCanceled:
	default:
		Error(w, r, types.NewInvalidInput("status", "must be one of active, trialing, past_due, canceled"))
		return
	}

	eventAt := s.clock.Now().UTC()
	if req.EventAt != nil {
		eventAt = req.EventAt.UTC()
	}

	sub := &types.Subscription{
		UserID:           chi.URLParam(r, "userID"),
		Plan:             req.Plan,
		Status:           req.Status,
		CurrentPeriodEnd: req.CurrentPeriodEnd,
		UpdatedAt:        eventAt,
	}
	if err := s.subscriptions.Upsert(r.Context(), sub, eventAt); err != nil {
		Error(w, r, err)
		return
	}
	JSON(w, r, http.StatusOK, APIResponse{Data: sub})
}
