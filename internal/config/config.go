// Package config defines the configuration of the meeting alert daemon.
// Configuration is loaded once at startup and is immutable thereafter.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> AWS SSM Parameter Store (Lowest)
//
// Any missing required value or invalid format fails startup.
package config

import (
	"time"

	"meetingalert/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type used
// throughout configuration to prevent accidental logging of sensitive values.
type SecretString = types.SecretString

// Store backends.
const (
	StoreMemory   = "memory"
	StoreFile     = "file"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
	StoreS3       = "s3"
)

// Scheduler backends.
const (
	SchedulerTimer = "timer"
	SchedulerSQS   = "sqs"
)

// Config is the top-level configuration struct. Sub-components receive only
// the config subset they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"meetingalert"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	// Domain Configurations
	Server        ServerConfig
	Alerts        AlertsConfig
	Store         StoreConfig
	Scheduler     SchedulerConfig
	Delivery      DeliveryConfig
	AWS           AWSConfig
	Observability ObservabilityConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8080"`
	ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"10s"`
	WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"10s"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"15s"`
}

// AlertsConfig holds the alert timing policy.
type AlertsConfig struct {
	// Stages reads STAGE1_MINUTES and STAGE2_MINUTES.
	Stages types.AlertSettings

	DefaultSnooze     time.Duration `envconfig:"DEFAULT_SNOOZE" default:"1m" validate:"min=1s"`
	WakeCheckInterval time.Duration `envconfig:"WAKE_CHECK_INTERVAL" default:"30s" validate:"min=1s"`
	BackToBackGap     time.Duration `envconfig:"BACK_TO_BACK_GAP" default:"5m" validate:"min=0s"`

	QuietHours QuietHoursConfig
}

// QuietHoursConfig is a daily Do Not Disturb window. Start and End are
// HH:MM in Timezone; an End earlier than Start spans midnight.
type QuietHoursConfig struct {
	Start    string `envconfig:"QUIET_HOURS_START" validate:"required_with=End,omitempty,datetime=15:04"`
	End      string `envconfig:"QUIET_HOURS_END" validate:"required_with=Start,omitempty,datetime=15:04"`
	Timezone string `envconfig:"QUIET_HOURS_TIMEZONE" default:"UTC" validate:"timezone"`
}

// Enabled reports whether a quiet-hours window is configured.
func (q QuietHoursConfig) Enabled() bool {
	return q.Start != "" && q.End != ""
}

// StoreConfig selects and configures the alert table persistence backend.
type StoreConfig struct {
	Backend string `envconfig:"STORE_BACKEND" default:"file" validate:"oneof=memory file postgres redis s3"`

	FilePath string `envconfig:"STORE_FILE_PATH" default:"meetingalert.snapshot" validate:"required_if=Backend file"`

	// Resolved from SSM or Env
	DatabaseURL     SecretString  `envconfig:"DATABASE_URL" validate:"required_if=Backend postgres,omitempty,url"`
	MaxConns        int           `envconfig:"DB_MAX_CONNS" default:"4"`
	MinConns        int           `envconfig:"DB_MIN_CONNS" default:"1"`
	MaxConnLifetime time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`

	RedisAddrs    []string     `envconfig:"REDIS_ADDR" validate:"required_if=Backend redis"`
	RedisPassword SecretString `envconfig:"REDIS_PASSWORD"`
	RedisKey      string       `envconfig:"REDIS_KEY" default:"meetingalert:alerts"`

	S3Bucket string `envconfig:"STORE_S3_BUCKET" validate:"required_if=Backend s3"`
	S3Key    string `envconfig:"STORE_S3_KEY" default:"alerts/snapshot.json.zst"`
}

// SchedulerConfig selects how alert fire times are tracked.
type SchedulerConfig struct {
	Backend     string        `envconfig:"SCHEDULER_BACKEND" default:"timer" validate:"oneof=timer sqs"`
	SQSQueueURL string        `envconfig:"SQS_ALERT_QUEUE_URL" validate:"required_if=Backend sqs,omitempty,url"`
	SQSWaitTime time.Duration `envconfig:"SQS_WAIT_TIME" default:"20s" validate:"min=0s,max=20s"`
}

// DeliveryConfig holds the webhook sink settings. An empty WebhookURL
// delivers to the log only.
type DeliveryConfig struct {
	WebhookURL      string        `envconfig:"WEBHOOK_URL" validate:"omitempty,url"`
	WebhookSecret   SecretString  `envconfig:"WEBHOOK_SECRET"`
	WebhookPlatform string        `envconfig:"WEBHOOK_PLATFORM" default:"generic" validate:"oneof=generic slack"`
	WebhookTimeout  time.Duration `envconfig:"WEBHOOK_TIMEOUT" default:"10s"`
	UserAgent       string        `envconfig:"WEBHOOK_USER_AGENT" default:"MeetingAlert-Webhook/1.0"`

	// AllowPrivate lifts the egress guard, for receivers on localhost or a
	// private network.
	AllowPrivate bool `envconfig:"WEBHOOK_ALLOW_PRIVATE" default:"false"`
	MaxRedirects int  `envconfig:"WEBHOOK_MAX_REDIRECTS" default:"3" validate:"min=0,max=10"`
}

// AWSConfig holds regional configuration shared by every AWS client.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// ObservabilityConfig holds telemetry settings.
type ObservabilityConfig struct {
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"MeetingAlert"`
	EnableMetrics   bool   `envconfig:"ENABLE_METRICS" default:"false"`
}

// BuildInfo holds build-time metadata injected via ldflags.
// These values are NOT populated from environment variables.
type BuildInfo struct {
	Version   string `ignored:"true"`
	Commit    string `ignored:"true"`
	BuildTime string `ignored:"true"`
}

// NeedsAWS reports whether any configured component talks to AWS.
func (c *Config) NeedsAWS() bool {
	return c.Store.Backend == StoreS3 ||
		c.Scheduler.Backend == SchedulerSQS ||
		c.Observability.EnableMetrics
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrMissingEnv indicates a required environment variable was not found.
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	// ErrSSMResolution indicates a failure when fetching secrets from AWS SSM.
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
