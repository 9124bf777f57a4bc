// Package smtp implements mailer.Provider on a plain SMTP relay.
//
// One connection is opened per attempt and closed afterwards; the provider
// keeps no state between calls. Replies with a 5xx code are permanent
// failures (unknown mailbox, rejected sender, failed authentication), 4xx
// replies and network errors are transient.
package smtp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/icycon/emailengine/pkg/mailer"
)

const defaultTimeout = 10 * time.Second

// Provider delivers messages through an SMTP relay.
type Provider struct {
	now    func() time.Time
	config Config
}

// New creates an SMTP provider. Host is required.
func New(cfg Config) (*Provider, error) {
	if cfg.Host == "" {
		return nil, ErrHostRequired
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.TLS == "" {
		cfg.TLS = TLSStartTLS
	}
	if cfg.HeloName == "" {
		cfg.HeloName = "localhost"
	}
	return &Provider{config: cfg, now: time.Now}, nil
}

// Deliver implements mailer.Provider.
func (p *Provider) Deliver(ctx context.Context, msg *mailer.Message) (mailer.Outcome, error) {
	if err := mailer.Validate(msg); err != nil {
		return mailer.Outcome{}, err
	}

	messageID := fmt.Sprintf("<%s@%s>", uuid.NewString(), p.config.HeloName)
	body, err := buildMessage(msg, messageID, p.now())
	if err != nil {
		return mailer.Permanent(fmt.Sprintf("smtp: build message: %v", err)), nil
	}

	if err := p.send(ctx, msg, body); err != nil {
		return classify(err), nil
	}

	return mailer.Delivered(messageID), nil
}

func (p *Provider) send(ctx context.Context, msg *mailer.Message, body []byte) error {
	deadline := time.Now().Add(p.config.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	conn, err := p.dial(ctx, deadline)
	if err != nil {
		return err
	}
	// The deadline bounds the whole exchange, not only the dial.
	if err := conn.SetDeadline(deadline); err != nil {
		_ = conn.Close()
		return err
	}

	// Closing the connection unblocks the exchange when ctx is cancelled early.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	client, err := smtp.NewClient(conn, p.config.Host)
	if err != nil {
		_ = conn.Close()
		return err
	}
	defer client.Close()

	if err := client.Hello(p.config.HeloName); err != nil {
		return err
	}

	if p.config.TLS == TLSStartTLS {
		if ok, _ := client.Extension("STARTTLS"); !ok {
			return &textproto.Error{Code: 530, Msg: "server does not support STARTTLS"}
		}
		if err := client.StartTLS(&tls.Config{ServerName: p.config.Host, MinVersion: tls.VersionTLS12}); err != nil {
			return err
		}
	}

	if p.config.Username != "" {
		auth := smtp.PlainAuth("", p.config.Username, p.config.Password, p.config.Host)
		if err := client.Auth(auth); err != nil {
			return err
		}
	}

	if err := client.Mail(envelopeAddress(msg.From)); err != nil {
		return err
	}
	if err := client.Rcpt(msg.To); err != nil {
		return err
	}

	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(body); err != nil {
		_ = w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	// The 250 after DATA means the relay owns the message. A failed QUIT must
	// not turn into a retry, which would deliver it twice.
	_ = client.Quit()
	return nil
}

func (p *Provider) dial(ctx context.Context, deadline time.Time) (net.Conn, error) {
	addr := net.JoinHostPort(p.config.Host, strconv.Itoa(p.config.Port))
	dialer := &net.Dialer{Deadline: deadline}

	if p.config.TLS == TLSImplicit {
		td := &tls.Dialer{
			NetDialer: dialer,
			Config:    &tls.Config{ServerName: p.config.Host, MinVersion: tls.VersionTLS12},
		}
		return td.DialContext(ctx, "tcp", addr)
	}
	return dialer.DialContext(ctx, "tcp", addr)
}

// classify maps an SMTP exchange error to an outcome.
func classify(err error) mailer.Outcome {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		reason := fmt.Sprintf("smtp: %d %s", tpErr.Code, tpErr.Msg)
		if tpErr.Code >= 500 {
			return mailer.Permanent(reason)
		}
		return mailer.Transient(reason)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() || errors.Is(err, context.DeadlineExceeded) {
		return mailer.Transient("smtp: timeout: " + err.Error())
	}

	return mailer.Transient("smtp: " + err.Error())
}

// envelopeAddress strips a display name from a From header value.
func envelopeAddress(from string) string {
	if mailer.ValidAddress(from) {
		return from
	}
	if a, err := mail.ParseAddress(from); err == nil {
		return a.Address
	}
	return from
}

var _ mailer.Provider = (*Provider)(nil)
