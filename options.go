package emailengine

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/icycon/emailengine/pkg/consent"
	"github.com/icycon/emailengine/pkg/content"
	"github.com/icycon/emailengine/pkg/distlock"
)

// SubmitHook runs after a send was created. The service uses it to enqueue
// the dispatch job. Errors are logged and never fail the submit.
type SubmitHook func(ctx context.Context, tenantID int64, id uuid.UUID) error

// LockFactory returns the distributed lock guarding the sweep called name.
// Returning nil leaves that sweep unguarded.
type LockFactory func(name string) distlock.Lock

type config struct {
	consent        consent.Checker
	content        content.Resolver
	logger         *slog.Logger
	now            func() time.Time
	locks          LockFactory
	onSubmit       SubmitHook
	from           string
	providerName   string
	policy         Policy
	attemptTimeout time.Duration
	staleAfter     time.Duration
	pendingAfter   time.Duration
	sweepBatch     int
	sweepWorkers   int
}

// Option configures the engine.
type Option func(*config)

// WithConsent sets the recipient consent reader.
// Defaults to treating every recipient as subscribed.
func WithConsent(c consent.Checker) Option {
	return func(cfg *config) {
		cfg.consent = c
	}
}

// WithContent sets the resolver for content references.
func WithContent(r content.Resolver) Option {
	return func(cfg *config) {
		cfg.content = r
	}
}

// WithLogger sets the engine logger.
// If nil, logging is disabled.
func WithLogger(l *slog.Logger) Option {
	return func(cfg *config) {
		if l != nil {
			cfg.logger = l
		}
	}
}

// WithPolicy sets the retry policy.
// Defaults to DefaultPolicy().
func WithPolicy(p Policy) Option {
	return func(cfg *config) {
		if p.MaxAttempts > 0 {
			cfg.policy = p
		}
	}
}

// WithAttemptTimeout bounds a single provider call.
// Defaults to 10 seconds.
func WithAttemptTimeout(d time.Duration) Option {
	return func(cfg *config) {
		if d > 0 {
			cfg.attemptTimeout = d
		}
	}
}

// WithFromAddress sets the sender of every message.
func WithFromAddress(from string) Option {
	return func(cfg *config) {
		cfg.from = from
	}
}

// WithProviderName labels provider metrics, e.g. "smtp" or "ses".
func WithProviderName(name string) Option {
	return func(cfg *config) {
		cfg.providerName = name
	}
}

// WithClock replaces time.Now. Useful for testing.
func WithClock(now func() time.Time) Option {
	return func(cfg *config) {
		if now != nil {
			cfg.now = now
		}
	}
}

// WithLock makes the sweeps exclusive across processes.
func WithLock(f LockFactory) Option {
	return func(cfg *config) {
		cfg.locks = f
	}
}

// WithSweepBatch caps the number of records one sweep loads.
// Defaults to 100.
func WithSweepBatch(n int) Option {
	return func(cfg *config) {
		if n > 0 {
			cfg.sweepBatch = n
		}
	}
}

// WithSweepConcurrency caps the number of records a sweep processes at once.
// Defaults to 8.
func WithSweepConcurrency(n int) Option {
	return func(cfg *config) {
		if n > 0 {
			cfg.sweepWorkers = n
		}
	}
}

// WithStaleAfter sets how long a record may stay sending before
// RecoverStale treats the attempt as abandoned.
// Defaults to 10 minutes.
func WithStaleAfter(d time.Duration) Option {
	return func(cfg *config) {
		if d > 0 {
			cfg.staleAfter = d
		}
	}
}

// WithPendingAfter sets how long a record may stay queued before
// DispatchPending picks it up.
// Defaults to 1 minute.
func WithPendingAfter(d time.Duration) Option {
	return func(cfg *config) {
		if d > 0 {
			cfg.pendingAfter = d
		}
	}
}

// WithSubmitHook sets the function run after each new send.
func WithSubmitHook(h SubmitHook) Option {
	return func(cfg *config) {
		cfg.onSubmit = h
	}
}
