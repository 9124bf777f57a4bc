// Package dryrun implements a mailer.Provider that logs messages instead of
// sending them. Used in local development and staging.
package dryrun

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/icycon/emailengine/pkg/logger"
	"github.com/icycon/emailengine/pkg/mailer"
)

// Provider accepts every valid message.
type Provider struct {
	log *slog.Logger
}

// New creates a dry-run provider. A nil logger discards output.
func New(log *slog.Logger) *Provider {
	if log == nil {
		log = logger.NewNope()
	}
	return &Provider{log: log}
}

// Deliver implements mailer.Provider.
func (p *Provider) Deliver(ctx context.Context, msg *mailer.Message) (mailer.Outcome, error) {
	if err := mailer.Validate(msg); err != nil {
		return mailer.Outcome{}, err
	}

	id := "dryrun-" + uuid.NewString()
	p.log.InfoContext(ctx, "dry-run delivery",
		logger.Email(msg.To),
		slog.String("subject", msg.Subject),
		slog.String("provider_message_id", id),
		slog.Int("text_bytes", len(msg.Text)),
		slog.Int("html_bytes", len(msg.HTML)),
	)

	return mailer.Delivered(id), nil
}

var _ mailer.Provider = (*Provider)(nil)
