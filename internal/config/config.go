// Package config defines the configuration structure for the escalation
// engine. Configuration is loaded once at process start and is immutable
// thereafter.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File (Lowest)
//
// Any missing required value or invalid format fails startup.
package config

import (
	"time"

	"escalator/internal/types"
)

// SecretString is an alias for types.SecretString so that config consumers do
// not need to import types just to unmask a credential.
type SecretString = types.SecretString

// Config is the top-level configuration struct. Sub-components receive only
// the config subsets they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"escalator"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Scheduler     SchedulerConfig
	Dunning       DunningConfig
	Reminders     ReminderConfig
	Summary       SummaryConfig
	Database      DatabaseConfig
	AWS           AWSConfig
	Email         EmailConfig
	Messaging     MessagingConfig
	Observability ObservabilityConfig
	Admin         AdminConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// SchedulerConfig tunes the tick loop and the per-tenant worker pool.
type SchedulerConfig struct {
	TickInterval  time.Duration `envconfig:"SCHEDULER_TICK_INTERVAL" default:"60s" validate:"min=1s"`
	Timezone      string        `envconfig:"SCHEDULER_TIMEZONE" default:"UTC" validate:"required,timezone"`
	TenantWorkers int           `envconfig:"SCHEDULER_TENANT_WORKERS" default:"4" validate:"min=1,max=64"`
	// MultiInstance enables the durable per-period job claim so that several
	// scheduler processes can run against the same database.
	MultiInstance bool          `envconfig:"SCHEDULER_MULTI_INSTANCE" default:"false"`
	ClaimTTL      time.Duration `envconfig:"SCHEDULER_CLAIM_TTL" default:"30m"`
	// GuardMode selects how per-entity progress is claimed: "atomic" uses a
	// conditional UPDATE, "serialized" a per-entity lock around read then write.
	GuardMode string `envconfig:"SCHEDULER_GUARD_MODE" default:"atomic" validate:"oneof=atomic serialized"`
}

// DunningConfig controls the invoice dunning job.
type DunningConfig struct {
	RunAt string `envconfig:"DUNNING_RUN_AT" default:"09:00" validate:"len=5"`
	// LookaheadDays bounds the cross-tenant existence query. It must cover the
	// earliest pre-due level of any tenant policy.
	LookaheadDays int `envconfig:"DUNNING_LOOKAHEAD_DAYS" default:"7" validate:"min=0,max=60"`
}

// ReminderConfig controls the appointment reminder job.
type ReminderConfig struct {
	Interval    time.Duration `envconfig:"REMINDER_INTERVAL" default:"30m" validate:"min=1m"`
	WindowStart time.Duration `envconfig:"REMINDER_WINDOW_START" default:"24h"`
	WindowEnd   time.Duration `envconfig:"REMINDER_WINDOW_END" default:"30h" validate:"gtfield=WindowStart"`
}

// SummaryConfig controls the weekly dunning summary broadcast.
type SummaryConfig struct {
	Weekday string `envconfig:"SUMMARY_WEEKDAY" default:"monday" validate:"oneof=sunday monday tuesday wednesday thursday friday saturday"`
	At      string `envconfig:"SUMMARY_AT" default:"08:00" validate:"len=5"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// AWSConfig holds AWS resource identifiers.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	// OperatorQueueURL receives operator alerts and weekly summaries. Empty
	// disables publishing; alerts are then only logged.
	OperatorQueueURL string `envconfig:"SQS_OPERATOR_ALERTS" validate:"omitempty,url"`

	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// EmailConfig holds the email provider credentials.
type EmailConfig struct {
	SendGridAPIKey SecretString `envconfig:"SENDGRID_API_KEY"`
	BaseURL        string       `envconfig:"SENDGRID_BASE_URL"`
	FromAddress    string       `envconfig:"EMAIL_FROM_ADDRESS" default:"billing@escalator.local" validate:"email"`
	FromName       string       `envconfig:"EMAIL_FROM_NAME" default:"Billing"`
	RatePerSecond  float64      `envconfig:"EMAIL_RATE_PER_SECOND" default:"10"`
	// Templates maps internal template ids ("dunning.first.email") to
	// SendGrid dynamic template ids. Unmapped ids are sent unchanged.
	Templates map[string]string `envconfig:"EMAIL_TEMPLATES"`
}

// MessagingConfig holds the SMS/WhatsApp provider credentials.
type MessagingConfig struct {
	TwilioAccountSID string       `envconfig:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken  SecretString `envconfig:"TWILIO_AUTH_TOKEN"`
	BaseURL          string       `envconfig:"TWILIO_BASE_URL"`
	SMSFrom          string       `envconfig:"SMS_FROM"`
	WhatsAppFrom     string       `envconfig:"WHATSAPP_FROM"`
	RatePerSecond    float64      `envconfig:"MESSAGING_RATE_PER_SECOND" default:"1"`
	// Templates maps internal template ids to Twilio Content SIDs.
	Templates map[string]string `envconfig:"MESSAGING_TEMPLATES"`
}

// ObservabilityConfig holds telemetry settings.
type ObservabilityConfig struct {
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"Escalator"`
	EnableMetrics   bool   `envconfig:"ENABLE_METRICS" default:"false"`
}

// AdminConfig holds the operator HTTP surface settings.
type AdminConfig struct {
	Enabled    bool         `envconfig:"ADMIN_ENABLED" default:"true"`
	ListenAddr string       `envconfig:"ADMIN_LISTEN_ADDR" default:":8080"`
	APIKey     SecretString `envconfig:"ADMIN_API_KEY" validate:"required_if=Enabled true"`
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
	// ErrMissingEnv indicates a required environment variable was not found.
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)

// Location resolves the scheduler time zone. LoadConfig has already validated
// the name, so failure here means the config was built by hand.
func (c SchedulerConfig) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}
