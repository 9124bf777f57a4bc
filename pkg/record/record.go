// Package record defines the send record model, its state machine and the
// store contract shared by the dispatcher and the retry scheduler.
package record

import (
	"time"

	"github.com/google/uuid"
)

// State is the delivery lifecycle state of a send record.
type State string

const (
	StateQueued         State = "queued"
	StateSending        State = "sending"
	StateSent           State = "sent"
	StateRetryScheduled State = "retry_scheduled"
	StateFailed         State = "failed"
	StateDropped        State = "dropped"
)

// transitions lists the allowed target states for each source state.
var transitions = map[State][]State{
	StateQueued:         {StateSending, StateDropped},
	StateRetryScheduled: {StateSending, StateDropped},
	StateSending:        {StateSent, StateRetryScheduled, StateFailed},
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StateQueued, StateSending, StateSent, StateRetryScheduled, StateFailed, StateDropped:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible from s.
func (s State) Terminal() bool {
	return s == StateSent || s == StateFailed || s == StateDropped
}

// Cancellable reports whether a caller may still drop a record in state s.
func (s State) Cancellable() bool {
	return s == StateQueued || s == StateRetryScheduled
}

// CanTransition reports whether the state machine allows moving from one state to another.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// SendRecord is the persisted delivery lifecycle of one outbound message.
type SendRecord struct {
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	LastAttemptedAt   *time.Time `json:"last_attempted_at,omitempty"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
	NextRetryAt       *time.Time `json:"next_retry_at,omitempty"`
	Recipient         string     `json:"recipient"`
	ContentRef        string     `json:"content_ref"`
	IdempotencyNonce  string     `json:"idempotency_nonce"`
	State             State      `json:"state"`
	ProviderMessageID string     `json:"provider_message_id,omitempty"`
	LastError         string     `json:"last_error,omitempty"`
	TenantID          int64      `json:"tenant_id"`
	AttemptCount      int        `json:"attempt_count"`
	Bounces           int        `json:"bounces"`
	Complaints        int        `json:"complaints"`
	ID                uuid.UUID  `json:"id"`
}

// Due reports whether a retry_scheduled record may be picked up at now.
// Records in other states are never due.
func (r SendRecord) Due(now time.Time) bool {
	if r.State != StateRetryScheduled {
		return false
	}
	return r.NextRetryAt == nil || !r.NextRetryAt.After(now)
}

// Change describes a compare-and-set transition of one record.
// The guard is the pair (From, ExpectedAttempts) observed by the caller.
type Change struct {
	At                time.Time
	NextRetryAt       *time.Time
	From              State
	To                State
	ProviderMessageID string
	LastError         string
	TenantID          int64
	ExpectedAttempts  int
	ID                uuid.UUID
}

// ChangeFrom builds a change guarded on the observed state of rec.
func ChangeFrom(rec SendRecord, to State, at time.Time) Change {
	return Change{
		ID:               rec.ID,
		TenantID:         rec.TenantID,
		From:             rec.State,
		To:               to,
		ExpectedAttempts: rec.AttemptCount,
		At:               at,
	}
}

// Validate checks the change against the state machine.
func (c Change) Validate() error {
	if !CanTransition(c.From, c.To) {
		return ErrInvalidTransition
	}
	if c.To == StateRetryScheduled && c.NextRetryAt == nil {
		return ErrInvalidTransition
	}
	return nil
}

// Apply returns rec with the change's field rules applied.
// The caller is responsible for checking the guard first.
func (c Change) Apply(rec SendRecord) SendRecord {
	at := c.At
	rec.State = c.To
	rec.UpdatedAt = at

	switch c.To {
	case StateSending:
		rec.AttemptCount++
		rec.LastAttemptedAt = &at
		rec.NextRetryAt = nil
		rec.LastError = ""
	case StateSent:
		rec.ProviderMessageID = c.ProviderMessageID
		rec.CompletedAt = &at
		rec.NextRetryAt = nil
		rec.LastError = ""
	case StateRetryScheduled:
		next := *c.NextRetryAt
		rec.NextRetryAt = &next
		rec.LastError = c.LastError
	case StateFailed, StateDropped:
		rec.LastError = c.LastError
		rec.CompletedAt = &at
		rec.NextRetryAt = nil
	}

	return rec
}

// Reason returns the text stored with the history event of c.
func (c Change) Reason() string {
	switch c.To {
	case StateSent:
		return c.ProviderMessageID
	case StateSending:
		return ""
	default:
		return c.LastError
	}
}

// FeedbackKind is a post-delivery signal reported by the provider.
type FeedbackKind string

const (
	FeedbackBounce    FeedbackKind = "bounce"
	FeedbackComplaint FeedbackKind = "complaint"
)

// Valid reports whether k is a known feedback kind.
func (k FeedbackKind) Valid() bool {
	return k == FeedbackBounce || k == FeedbackComplaint
}

// Event is one entry in a record's history.
// Feedback entries keep From and To equal to the current state and set Feedback.
type Event struct {
	CreatedAt time.Time    `json:"created_at"`
	From      State        `json:"from_state"`
	To        State        `json:"to_state"`
	Reason    string       `json:"reason,omitempty"`
	Feedback  FeedbackKind `json:"feedback,omitempty"`
	TenantID  int64        `json:"tenant_id"`
	Attempt   int          `json:"attempt"`
	SendID    uuid.UUID    `json:"send_id"`
}
