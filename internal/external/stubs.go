package external

import (
	"context"
	"log/slog"
	"sync"

	"smartdelay/internal/notifications/push"
)

// StubPushTransport implements push.Transport by logging each message and
// keeping it in memory. It is used when APP_ENV=local.
type StubPushTransport struct {
	logger *slog.Logger

	mu   sync.Mutex
	sent []StubPush
}

// StubPush is one message captured by StubPushTransport.
type StubPush struct {
	Token string
	Title string
	Body  string
	Data  map[string]string
}

var _ push.Transport = (*StubPushTransport)(nil)

// NewStubPushTransport creates a new StubPushTransport.
func NewStubPushTransport(logger *slog.Logger) *StubPushTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &StubPushTransport{logger: logger}
}

func (s *StubPushTransport) Send(ctx context.Context, token, title, body string, data map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "stub: push Send called",
		"token", push.RedactToken(token),
		"title", title,
		"body", body,
		"trip_id", data["tripId"],
	)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, StubPush{Token: token, Title: title, Body: body, Data: data})
	return nil
}

// Sent returns a copy of every captured message.
func (s *StubPushTransport) Sent() []StubPush {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]StubPush(nil), s.sent...)
}
