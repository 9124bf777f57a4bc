// Package resend implements mailer.Provider on the Resend HTTP API.
package resend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"

	"github.com/resend/resend-go/v3"

	"github.com/icycon/emailengine/pkg/mailer"
)

// Provider implements mailer.Provider using the Resend API.
type Provider struct {
	client *resend.Client
	config Config
}

// Option configures the provider.
type Option func(*options)

type options struct {
	transport http.RoundTripper
}

// WithTransport sets the base HTTP transport. Used by tests to stub the API.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) {
		if rt != nil {
			o.transport = rt
		}
	}
}

// New creates a new Resend provider.
func New(cfg Config, opts ...Option) *Provider {
	o := &options{transport: http.DefaultTransport}
	for _, opt := range opts {
		opt(o)
	}

	httpClient := &http.Client{
		Transport: &statusTransport{next: o.transport},
		Timeout:   cfg.Timeout,
	}

	return &Provider{
		client: resend.NewCustomClient(httpClient, cfg.APIKey),
		config: cfg,
	}
}

// Deliver implements mailer.Provider.
func (p *Provider) Deliver(ctx context.Context, msg *mailer.Message) (mailer.Outcome, error) {
	if msg != nil && msg.From == "" {
		copied := *msg
		copied.From = mailer.Recipient(p.config.SenderName, p.config.SenderEmail)
		msg = &copied
	}
	if err := mailer.Validate(msg); err != nil {
		return mailer.Outcome{}, err
	}

	req := &resend.SendEmailRequest{
		From:    msg.From,
		To:      []string{msg.To},
		Subject: msg.Subject,
		Html:    msg.HTML,
		Text:    msg.Text,
		Headers: msg.Headers,
	}
	if len(msg.Tags) > 0 {
		req.Tags = convertTags(msg.Tags)
	}

	// Resend drops repeated requests carrying the same key, so a retried
	// attempt of one send is delivered at most once. An empty key sends no
	// header.
	sendOpts := &resend.SendEmailOptions{IdempotencyKey: msg.SendID()}

	ctx, status := withStatus(ctx)
	resp, err := p.client.Emails.SendWithOptions(ctx, req, sendOpts)
	if err != nil {
		if status.code >= 200 && status.code < 300 {
			// Accepted, but the body did not decode.
			return mailer.Delivered(msg.SendID()), nil
		}
		return classify(ctx, status.code, err), nil
	}

	if resp.Id == "" {
		return mailer.Delivered(msg.SendID()), nil
	}
	return mailer.Delivered(resp.Id), nil
}

// classify maps the HTTP status observed on the wire to an outcome.
// No status means the request never got a response.
func classify(ctx context.Context, code int, err error) mailer.Outcome {
	reason := fmt.Sprintf("resend: %v", err)

	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return mailer.Transient("resend: timeout: " + err.Error())
	case code == 0:
		return mailer.Transient(reason)
	case code == http.StatusTooManyRequests, code >= http.StatusInternalServerError:
		return mailer.Transient(fmt.Sprintf("resend: status %d: %v", code, err))
	case code >= http.StatusBadRequest:
		return mailer.Permanent(fmt.Sprintf("resend: status %d: %v", code, err))
	default:
		return mailer.Transient(reason)
	}
}

func convertTags(tags map[string]string) []resend.Tag {
	names := make([]string, 0, len(tags))
	for name := range tags {
		names = append(names, name)
	}
	sort.Strings(names)

	result := make([]resend.Tag, 0, len(tags))
	for _, name := range names {
		result = append(result, resend.Tag{Name: name, Value: tags[name]})
	}
	return result
}

var _ mailer.Provider = (*Provider)(nil)
