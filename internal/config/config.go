// Package config loads the service configuration.
//
// Sources, later ones winning:
//
//  1. in-code defaults
//  2. the YAML file named by EMAILENGINE_CONFIG_FILE (engine options only)
//  3. environment variables, including those read from a .env file
package config

import (
	"errors"
	"fmt"
	"net/mail"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/icycon/emailengine"
	"github.com/icycon/emailengine/internal/retry"
	"github.com/icycon/emailengine/internal/tasks"
	"github.com/icycon/emailengine/pkg/db"
	"github.com/icycon/emailengine/pkg/logger"
	"github.com/icycon/emailengine/pkg/mailer"
	"github.com/icycon/emailengine/pkg/mailer/resend"
	"github.com/icycon/emailengine/pkg/mailer/ses"
	"github.com/icycon/emailengine/pkg/mailer/smtp"
	"github.com/icycon/emailengine/pkg/redis"
)

// FileEnv names the variable holding the optional YAML overlay path.
const FileEnv = "EMAILENGINE_CONFIG_FILE"

// Provider kinds.
const (
	ProviderSMTP    = "smtp"
	ProviderHTTPAPI = "http_api" // alias of resend
	ProviderResend  = "resend"
	ProviderSES     = "ses"
	ProviderDryRun  = "dryrun"
)

var (
	ErrReadFile = errors.New("config: failed to read config file")
	ErrParseEnv = errors.New("config: failed to parse environment")
	ErrInvalid  = errors.New("config: invalid configuration")
)

// Engine holds the delivery options. Keys match the YAML overlay.
type Engine struct {
	ProviderKind          string  `env:"EMAILENGINE_PROVIDER_KIND" yaml:"provider_kind" validate:"oneof=smtp http_api resend ses dryrun"`
	FromAddress           string  `env:"EMAILENGINE_FROM_ADDRESS" yaml:"from_address"`
	MaxAttempts           int     `env:"EMAILENGINE_MAX_ATTEMPTS" yaml:"max_attempts" validate:"gte=1"`
	BaseBackoffSeconds    int     `env:"EMAILENGINE_BASE_BACKOFF_SECONDS" yaml:"base_backoff_seconds" validate:"gte=1"`
	MaxBackoffSeconds     int     `env:"EMAILENGINE_MAX_BACKOFF_SECONDS" yaml:"max_backoff_seconds" validate:"gtefield=BaseBackoffSeconds"`
	BackoffJitter         float64 `env:"EMAILENGINE_BACKOFF_JITTER" yaml:"backoff_jitter" validate:"gte=0,lt=1"`
	AttemptTimeoutSeconds int     `env:"EMAILENGINE_ATTEMPT_TIMEOUT_SECONDS" yaml:"attempt_timeout_seconds" validate:"gte=1"`
	StaleAfterSeconds     int     `env:"EMAILENGINE_STALE_AFTER_SECONDS" yaml:"stale_after_seconds" validate:"gtefield=AttemptTimeoutSeconds"`
	PendingAfterSeconds   int     `env:"EMAILENGINE_PENDING_AFTER_SECONDS" yaml:"pending_after_seconds" validate:"gte=1"`
	SweepBatch            int     `env:"EMAILENGINE_SWEEP_BATCH" yaml:"sweep_batch" validate:"gte=1"`
	SweepConcurrency      int     `env:"EMAILENGINE_SWEEP_CONCURRENCY" yaml:"sweep_concurrency" validate:"gte=1"`

	Schedules tasks.Schedules `yaml:",inline"`
}

// DefaultEngine returns the engine defaults.
func DefaultEngine() Engine {
	return Engine{
		ProviderKind:          ProviderDryRun,
		MaxAttempts:           5,
		BaseBackoffSeconds:    30,
		MaxBackoffSeconds:     3600,
		BackoffJitter:         0.2,
		AttemptTimeoutSeconds: 10,
		StaleAfterSeconds:     600,
		PendingAfterSeconds:   60,
		SweepBatch:            100,
		SweepConcurrency:      8,
		Schedules:             tasks.DefaultSchedules(),
	}
}

// HTTP configures the operator API server.
type HTTP struct {
	Addr            string        `env:"HTTP_ADDR" envDefault:":8080"`
	CORSOrigins     []string      `env:"HTTP_CORS_ORIGINS" envSeparator:","`
	ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

// Jobs configures the background job manager.
type Jobs struct {
	Workers       int  `env:"JOBS_MAX_WORKERS" envDefault:"50"`
	SweepsOnStart bool `env:"JOBS_SWEEPS_ON_START" envDefault:"true"`
}

// ContentCache configures template caching in front of the database.
// Redis backs the cache when it is configured.
type ContentCache struct {
	TTL        time.Duration `env:"CONTENT_CACHE_TTL" envDefault:"5m"`
	MaxEntries int           `env:"CONTENT_CACHE_MAX_ENTRIES" envDefault:"1000"`
}

// Enabled reports whether content should be cached.
func (c ContentCache) Enabled() bool { return c.TTL > 0 }

// Config is the complete service configuration.
type Config struct {
	Engine       Engine
	HTTP         HTTP
	Jobs         Jobs
	ContentCache ContentCache
	Log          logger.Config
	Sentry       logger.SentryConfig
	DB           db.Config
	Redis        redis.Config
	SMTP         smtp.Config
	Resend       resend.Config
	SES          ses.Config
}

// Load reads .env, the YAML overlay and the environment, then validates.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return load(os.Getenv(FileEnv), nil)
}

// load is Load with an explicit overlay path and environment.
// A nil environment means the process environment.
func load(file string, environ map[string]string) (*Config, error) {
	cfg := &Config{Engine: DefaultEngine()}

	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, errors.Join(ErrReadFile, err)
		}
		if err := yaml.Unmarshal(data, &cfg.Engine); err != nil {
			return nil, errors.Join(ErrReadFile, err)
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Environment: environ}); err != nil {
		return nil, errors.Join(ErrParseEnv, err)
	}

	if err := cfg.Engine.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the engine options.
func (e Engine) Validate() error {
	if err := validate.Struct(e); err != nil {
		return errors.Join(ErrInvalid, err)
	}

	switch {
	case e.FromAddress != "":
		parsed, err := mail.ParseAddress(e.FromAddress)
		if err != nil || !mailer.ValidAddress(parsed.Address) {
			return fmt.Errorf("%w: from_address %q is not a valid address", ErrInvalid, e.FromAddress)
		}
	case e.ProviderKind == ProviderSMTP || e.ProviderKind == ProviderDryRun:
		// resend and ses fall back to their own sender settings.
		return fmt.Errorf("%w: from_address is required for provider %q", ErrInvalid, e.ProviderKind)
	}
	return nil
}

// Provider returns the canonical provider kind.
func (e Engine) Provider() string {
	if e.ProviderKind == ProviderHTTPAPI {
		return ProviderResend
	}
	return e.ProviderKind
}

// Policy converts the backoff options to a retry policy.
func (e Engine) Policy() retry.Policy {
	return retry.Policy{
		MaxAttempts: e.MaxAttempts,
		Base:        seconds(e.BaseBackoffSeconds),
		Max:         seconds(e.MaxBackoffSeconds),
		Jitter:      e.BackoffJitter,
	}
}

// Options converts the engine options to emailengine options.
func (e Engine) Options() []emailengine.Option {
	return []emailengine.Option{
		emailengine.WithPolicy(e.Policy()),
		emailengine.WithAttemptTimeout(seconds(e.AttemptTimeoutSeconds)),
		emailengine.WithFromAddress(e.FromAddress),
		emailengine.WithProviderName(e.Provider()),
		emailengine.WithStaleAfter(seconds(e.StaleAfterSeconds)),
		emailengine.WithPendingAfter(seconds(e.PendingAfterSeconds)),
		emailengine.WithSweepBatch(e.SweepBatch),
		emailengine.WithSweepConcurrency(e.SweepConcurrency),
	}
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
