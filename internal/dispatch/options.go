package dispatch

import (
	"log/slog"
	"time"

	"github.com/icycon/emailengine/pkg/consent"
	"github.com/icycon/emailengine/pkg/content"
)

// Option configures a Dispatcher.
type Option func(*Dispatcher)

func WithConsent(c consent.Checker) Option {
	return func(d *Dispatcher) {
		if c != nil {
			d.consent = c
		}
	}
}

func WithContent(r content.Resolver) Option {
	return func(d *Dispatcher) {
		if r != nil {
			d.content = r
		}
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(d *Dispatcher) {
		if log != nil {
			d.log = log
		}
	}
}

// WithAttemptTimeout bounds one provider call. Default: 10s.
func WithAttemptTimeout(t time.Duration) Option {
	return func(d *Dispatcher) {
		if t > 0 {
			d.timeout = t
		}
	}
}

// WithFromAddress sets the sender used for every message.
// Empty leaves the choice to the provider.
func WithFromAddress(from string) Option {
	return func(d *Dispatcher) {
		d.from = from
	}
}

// WithProviderName labels provider metrics.
func WithProviderName(name string) Option {
	return func(d *Dispatcher) {
		if name != "" {
			d.providerName = name
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}
