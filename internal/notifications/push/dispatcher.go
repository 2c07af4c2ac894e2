// Package push formats smart-delay recommendations and hands them to the push
// transport. It makes exactly one transport call per send and never retries;
// the scheduler reschedules failed deliveries.
package push

import (
	"context"
	"log/slog"
	"strconv"

	"smartdelay/internal/optimizer"
	"smartdelay/internal/types"
)

// NotificationTitle is the fixed title of every smart-delay alert.
const NotificationTitle = "Smart departure suggestion"

// Transport delivers one message to one device.
type Transport interface {
	Send(ctx context.Context, token, title, body string, data map[string]string) error
}

// Config holds the dependencies of a Dispatcher.
type Config struct {
	Transport Transport
	Logger    *slog.Logger
}

// Dispatcher is the notification dispatcher used by the scheduler.
type Dispatcher struct {
	transport Transport
	logger    *slog.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(cfg Config) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{transport: cfg.Transport, logger: logger}
}

// ValidToken reports whether token matches the transport's token grammar.
func ValidToken(token string) bool {
	return types.ValidPushToken(token)
}

// Message is the rendered alert, returned so the caller can persist exactly
// what was sent.
type Message struct {
	Title string
	Body  string
	Data  map[string]string
}

// BuildMessage renders the title, body, and routing payload for a recommendation.
func BuildMessage(delayHours int, improvementPct float64, tripID string) Message {
	return Message{
		Title: NotificationTitle,
		Body:  optimizer.FormatMessage(delayHours, improvementPct),
		Data: map[string]string{
			"type":           string(types.AlertTypeSmartDelay),
			"delayHours":     strconv.Itoa(delayHours),
			"improvementPct": strconv.FormatFloat(improvementPct, 'f', -1, 64),
			"tripId":         tripID,
		},
	}
}

// SendSmartDelayNotification sends one recommendation to token.
//
// A malformed token fails with ErrCodePushInvalidToken before any network
// call. Every transport failure, whatever its cause, is reported as
// ErrCodeUpstreamDeliveryFailed wrapping the transport error.
func (d *Dispatcher) SendSmartDelayNotification(ctx context.Context, token string, delayHours int, improvementPct float64, tripID string) (Message, error) {
	logger := types.LoggerFromContext(ctx, d.logger).With("trip_id", tripID)

	if !ValidToken(token) {
		logger.WarnContext(ctx, "push token rejected", "token", RedactToken(token))
		return Message{}, types.NewAppErrorWithDetails(
			types.ErrCodePushInvalidToken,
			"push token does not match the expected format",
			nil,
			map[string]any{"trip_id": tripID},
		)
	}

	msg := BuildMessage(delayHours, improvementPct, tripID)
	if err := d.transport.Send(ctx, token, msg.Title, msg.Body, msg.Data); err != nil {
		logger.WarnContext(ctx, "push delivery failed",
			"token", RedactToken(token),
			"error", err,
		)
		return Message{}, types.NewAppErrorWithDetails(
			types.ErrCodeUpstreamDeliveryFailed,
			"push delivery failed",
			err,
			map[string]any{"trip_id": tripID, "cause": string(types.CodeOf(err))},
		)
	}

	logger.InfoContext(ctx, "push delivered",
		"delay_hours", delayHours,
		"improvement_pct", improvementPct,
	)
	return msg, nil
}
