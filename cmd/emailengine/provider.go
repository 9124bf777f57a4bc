package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync/atomic"

	goredis "github.com/redis/go-redis/v9"

	"github.com/icycon/emailengine/internal/config"
	"github.com/icycon/emailengine/pkg/cache"
	"github.com/icycon/emailengine/pkg/content"
	"github.com/icycon/emailengine/pkg/job"
	"github.com/icycon/emailengine/pkg/mailer"
	"github.com/icycon/emailengine/pkg/mailer/dryrun"
	"github.com/icycon/emailengine/pkg/mailer/resend"
	"github.com/icycon/emailengine/pkg/mailer/ses"
	"github.com/icycon/emailengine/pkg/mailer/smtp"
)

// newProvider builds the delivery provider selected by provider_kind.
func newProvider(ctx context.Context, cfg *config.Config, log *slog.Logger) (mailer.Provider, error) {
	switch cfg.Engine.Provider() {
	case config.ProviderSMTP:
		return smtp.New(cfg.SMTP)
	case config.ProviderResend:
		return resend.New(cfg.Resend), nil
	case config.ProviderSES:
		return ses.New(ctx, cfg.SES)
	case config.ProviderDryRun:
		log.Warn("dry-run provider selected, no email will leave this process")
		return dryrun.New(log), nil
	default:
		return nil, fmt.Errorf("emailengine: unknown provider kind %q", cfg.Engine.ProviderKind)
	}
}

// deferredEnqueuer forwards to the job manager once it exists. The engine
// is built before the manager because the manager's tasks drive the engine.
type deferredEnqueuer struct {
	m atomic.Pointer[job.Manager]
}

func (d *deferredEnqueuer) set(m *job.Manager) {
	d.m.Store(m)
}

func (d *deferredEnqueuer) Enqueue(ctx context.Context, name string, payload any, opts ...job.EnqueueOption) error {
	m := d.m.Load()
	if m == nil {
		return job.ErrNotStarted
	}
	return m.Enqueue(ctx, name, payload, opts...)
}

// newContentResolver reads templates from postgres, cached in redis when it
// is configured and in process memory otherwise.
func newContentResolver(cfg config.ContentCache, conn *sql.DB, client goredis.UniversalClient) content.Resolver {
	resolver := content.NewPostgres(conn)
	if !cfg.Enabled() {
		return resolver
	}

	var store cache.Cache[content.Content]
	if client != nil {
		store = cache.NewRedis[content.Content](client, "emailengine:content", cfg.TTL)
	} else {
		store = cache.NewMemory[content.Content](cfg.TTL, cfg.MaxEntries)
	}
	return content.NewCached(resolver, store, cfg.TTL)
}
