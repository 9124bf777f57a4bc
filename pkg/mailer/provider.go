package mailer

import "context"

// Provider performs exactly one delivery attempt through an outbound transport.
//
// Deliver reports the transport result as an Outcome. The error return is
// reserved for rejections that happen before any transport work, such as
// ErrInvalidRecipient; transport failures are always reported through the
// Outcome so that retry eligibility is an explicit decision of the adapter.
// Implementations must not retry internally and must honour ctx deadlines.
type Provider interface {
	Deliver(ctx context.Context, msg *Message) (Outcome, error)
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func(ctx context.Context, msg *Message) (Outcome, error)

func (f ProviderFunc) Deliver(ctx context.Context, msg *Message) (Outcome, error) {
	return f(ctx, msg)
}
