// Package mailer defines the delivery provider contract of the engine.
//
// A [Provider] performs exactly one delivery attempt and reports the result as
// an [Outcome]: [Delivered] with the provider message id, [Transient] for
// failures that may succeed on retry, or [Permanent] for failures that never
// will. The distinction drives retry eligibility, so adapters classify
// precisely and never retry on their own.
//
// # Adapters
//
//   - smtp: net/smtp with dial and exchange timeouts; 4xx replies are
//     transient, 5xx replies are permanent
//   - resend: Resend HTTP API; 429 and 5xx are transient, other 4xx permanent
//   - ses: Amazon SES v2; rejection and verification errors are permanent,
//     throttling and service errors transient
//   - dryrun: logs the message and reports it delivered
//
// # Usage
//
//	provider := smtp.New(smtp.Config{
//		Host: "smtp.example.com",
//		Port: 587,
//		TLS:  smtp.TLSStartTLS,
//	})
//
//	outcome, err := provider.Deliver(ctx, &mailer.Message{
//		From:    "no-reply@example.com",
//		To:      "a@example.com",
//		Subject: "Welcome",
//		Text:    "Hello!",
//	})
//	if err != nil {
//		// invalid input, nothing was sent
//	}
//	switch outcome.Kind {
//	case mailer.OutcomeDelivered:
//	case mailer.OutcomeTransient:
//	case mailer.OutcomePermanent:
//	}
//
// # Validation
//
// [Validate] runs before any transport work. An invalid recipient returns
// [ErrInvalidRecipient] and no connection is opened.
package mailer
