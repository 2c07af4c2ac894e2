package external

import (
	"log/slog"
	"net/http"
	"time"

	"smartdelay/internal/config"
	"smartdelay/internal/notifications/push"
	"smartdelay/internal/scheduler"
)

// ClientRegistry holds the outbound clients the scheduler depends on. It is
// the single place where vendor clients are built from configuration.
type ClientRegistry struct {
	Forecast scheduler.ForecastSource
	Push     push.Transport
}

// NewClientRegistry builds the forecast and push clients. Every HTTP client
// is bounded by the per-call timeout; the scheduler applies the same bound
// through the request context.
//
// With APP_ENV=local the push transport is a stub that logs instead of
// sending, so a developer database never pages real devices. The forecast
// source needs no credentials and is always real.
func NewClientRegistry(cfg *config.Config, logger *slog.Logger) *ClientRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.SmartDelay.CallTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	reg := &ClientRegistry{
		Forecast: NewOpenMeteoClient(&http.Client{Timeout: timeout}, OpenMeteoConfig{
			BaseURL: cfg.Forecast.BaseURL,
			Logger:  logger.With("client", "open-meteo"),
		}),
	}

	if cfg.Environment == "local" {
		logger.Info("initializing push transport in STUB mode", "environment", cfg.Environment)
		reg.Push = NewStubPushTransport(logger.With("mode", "stub"))
		return reg
	}

	reg.Push = NewExpoClient(&http.Client{Timeout: timeout}, ExpoConfig{
		BaseURL:     cfg.Push.BaseURL,
		AccessToken: cfg.Push.AccessToken,
		Logger:      logger.With("client", "expo"),
	})
	return reg
}
