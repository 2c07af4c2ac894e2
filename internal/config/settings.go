package config

import (
	"log/slog"
	"strings"

	"smartdelay/internal/optimizer"
	"smartdelay/internal/scheduler"
)

// SchedulerSettings maps the loaded tunables onto the scheduler's settings.
func (c *Config) SchedulerSettings() scheduler.Settings {
	sd := c.SmartDelay
	return scheduler.Settings{
		TickInterval:       sd.TickInterval,
		Lookahead:          sd.Lookahead,
		Cooldown:           sd.Cooldown,
		WindowHours:        sd.WindowHours,
		ThresholdPct:       sd.ThresholdPct,
		MaxDelayHours:      sd.MaxDelayHours,
		Concurrency:        sd.Concurrency,
		CallTimeout:        sd.CallTimeout,
		Sampling:           optimizer.SamplingMode(sd.Sampling),
		ForecastHours:      c.Forecast.Hours,
		NotEntitledRecheck: sd.NotEntitledRecheck,
		BatchLimit:         sd.BatchLimit,
	}
}

// SlogLevel parses LOG_LEVEL. Unknown values fall back to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
