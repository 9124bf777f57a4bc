package mailer

// OutcomeKind tags the variant of a delivery outcome.
type OutcomeKind uint8

const (
	// OutcomeDelivered means the transport accepted the message.
	OutcomeDelivered OutcomeKind = iota + 1
	// OutcomeTransient means the attempt failed but retrying may succeed
	// (network errors, timeouts, 4xx SMTP replies, 5xx or 429 HTTP statuses).
	OutcomeTransient
	// OutcomePermanent means retrying cannot succeed
	// (invalid recipient, authentication failure, hard bounce).
	OutcomePermanent
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeDelivered:
		return "delivered"
	case OutcomeTransient:
		return "transient"
	case OutcomePermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Outcome is the normalised result of one delivery attempt.
// Use Delivered, Transient or Permanent to build one.
type Outcome struct {
	MessageID string // Provider message id, set only when delivered
	Reason    string // Failure reason, set only on failures
	Kind      OutcomeKind
}

// Delivered reports an accepted message with the provider's message id.
func Delivered(messageID string) Outcome {
	return Outcome{Kind: OutcomeDelivered, MessageID: messageID}
}

// Transient reports a retryable failure.
func Transient(reason string) Outcome {
	return Outcome{Kind: OutcomeTransient, Reason: reason}
}

// Permanent reports a failure that must never be retried.
func Permanent(reason string) Outcome {
	return Outcome{Kind: OutcomePermanent, Reason: reason}
}

func (o Outcome) IsDelivered() bool { return o.Kind == OutcomeDelivered }
func (o Outcome) IsTransient() bool { return o.Kind == OutcomeTransient }
func (o Outcome) IsPermanent() bool { return o.Kind == OutcomePermanent }
