// Package config defines the process configuration for the smart-delay
// scheduler, its Lambda entrypoint, and the migration tool. Configuration is
// loaded once at startup and is immutable afterwards.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> AWS SSM Parameter Store (Lowest)
//
// A missing required value or an invalid format fails startup.
package config

import (
	"time"

	"smartdelay/internal/types"
)

// SecretString is an alias for types.SecretString so callers can build a
// Config without importing types.
type SecretString = types.SecretString

// Config is the top-level configuration struct.
type Config struct {
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"smart-delay"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Server        ServerConfig
	Database      DatabaseConfig
	AWS           AWSConfig
	SmartDelay    SmartDelayConfig
	Forecast      ForecastConfig
	Push          PushConfig
	Observability ObservabilityConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// ServerConfig holds the ops HTTP server settings.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
	// AdminAPIKey guards POST /ops/tick. Manual ticks are disabled when unset.
	AdminAPIKey SecretString `envconfig:"ADMIN_API_KEY"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL      SecretString `envconfig:"DATABASE_URL" validate:"required,url"`
	MaxConns int32        `envconfig:"DB_MAX_CONNS" default:"10" validate:"gte=1"`
	MinConns int32        `envconfig:"DB_MIN_CONNS" default:"2" validate:"gte=0,ltefield=MaxConns"`
}

// AWSConfig holds regional configuration for the AWS SDK clients.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`
	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// SmartDelayConfig holds the evaluation loop tunables.
type SmartDelayConfig struct {
	TickInterval       time.Duration `envconfig:"SMART_DELAY_TICK_INTERVAL" default:"30m" validate:"gt=0"`
	Lookahead          time.Duration `envconfig:"SMART_DELAY_LOOKAHEAD" default:"6h" validate:"gt=0"`
	Cooldown           time.Duration `envconfig:"SMART_DELAY_COOLDOWN" default:"12h" validate:"gte=0"`
	WindowHours        int           `envconfig:"SMART_DELAY_WINDOW_HOURS" default:"3" validate:"gte=0"`
	ThresholdPct       float64       `envconfig:"SMART_DELAY_THRESHOLD_PCT" default:"15" validate:"gte=0,lte=100"`
	MaxDelayHours      int           `envconfig:"SMART_DELAY_MAX_DELAY_HOURS" default:"3" validate:"gte=0"`
	Concurrency        int           `envconfig:"SMART_DELAY_CONCURRENCY" default:"8" validate:"gte=1"`
	CallTimeout        time.Duration `envconfig:"SMART_DELAY_CALL_TIMEOUT" default:"10s" validate:"gt=0"`
	Sampling           string        `envconfig:"SMART_DELAY_SAMPLING" default:"hourly" validate:"oneof=hourly first"`
	NotEntitledRecheck time.Duration `envconfig:"SMART_DELAY_NOT_ENTITLED_RECHECK" default:"1h" validate:"gt=0"`
	BatchLimit         int           `envconfig:"SMART_DELAY_BATCH_LIMIT" default:"500" validate:"gte=1"`
}

// ForecastConfig points at the hourly forecast source.
type ForecastConfig struct {
	BaseURL string `envconfig:"FORECAST_BASE_URL" default:"https://api.open-meteo.com" validate:"required,url"`
	Hours   int    `envconfig:"FORECAST_HOURS" default:"12" validate:"gte=1,lte=384"`
}

// PushConfig points at the push transport.
type PushConfig struct {
	BaseURL     string       `envconfig:"PUSH_BASE_URL" default:"https://exp.host" validate:"required,url"`
	AccessToken SecretString `envconfig:"PUSH_ACCESS_TOKEN"`
}

// ObservabilityConfig holds metrics settings.
type ObservabilityConfig struct {
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"SmartDelay"`
	EnableMetrics   bool   `envconfig:"ENABLE_METRICS" default:"false"`
}

// BuildInfo holds build-time metadata injected via ldflags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures.
type ConfigErrorType string

const (
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	ErrValidation    ConfigErrorType = "VALIDATION_FAILED"
	ErrParsing       ConfigErrorType = "PARSING_FAILED"
)
