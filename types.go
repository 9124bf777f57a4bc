package emailengine

import (
	"time"

	"github.com/icycon/emailengine/internal/dispatch"
	"github.com/icycon/emailengine/internal/retry"
	"github.com/icycon/emailengine/pkg/consent"
	"github.com/icycon/emailengine/pkg/content"
	"github.com/icycon/emailengine/pkg/record"
)

// Type aliases - public API
type (
	// SendRecord is the persisted lifecycle of one outbound message.
	SendRecord = record.SendRecord

	// State is the lifecycle state of a send.
	State = record.State

	// Event is one entry in a send's history.
	Event = record.Event

	// FeedbackKind is a post-delivery signal: bounce or complaint.
	FeedbackKind = record.FeedbackKind

	// Store persists send records.
	Store = record.Store

	// Change is a guarded state transition handed to Store.Transition.
	Change = record.Change

	// ListFilter selects the sends returned by ListSends.
	ListFilter = record.ListFilter

	// Content is the rendered subject and bodies of a message.
	Content = content.Content

	// ContentResolver maps a content reference to Content.
	ContentResolver = content.Resolver

	// ConsentChecker reports whether a recipient accepts mail from a tenant.
	ConsentChecker = consent.Checker

	// DispatchResult reports what one dispatch did.
	DispatchResult = dispatch.Result

	// Action names the effect of a dispatch.
	Action = dispatch.Action

	// Policy controls retry backoff and the attempt limit.
	Policy = retry.Policy
)

const (
	StateQueued         = record.StateQueued
	StateSending        = record.StateSending
	StateSent           = record.StateSent
	StateRetryScheduled = record.StateRetryScheduled
	StateFailed         = record.StateFailed
	StateDropped        = record.StateDropped

	FeedbackBounce    = record.FeedbackBounce
	FeedbackComplaint = record.FeedbackComplaint

	ActionSkipped        = dispatch.ActionSkipped
	ActionStale          = dispatch.ActionStale
	ActionDropped        = dispatch.ActionDropped
	ActionSent           = dispatch.ActionSent
	ActionRetryScheduled = dispatch.ActionRetryScheduled
	ActionFailed         = dispatch.ActionFailed
)

// ChangeFrom starts a transition of rec to state, guarded by the state and
// attempt count rec was read with.
func ChangeFrom(rec SendRecord, to State, at time.Time) Change {
	return record.ChangeFrom(rec, to, at)
}

// DefaultPolicy returns 5 attempts with 30s base and 1h maximum backoff.
func DefaultPolicy() Policy {
	return retry.DefaultPolicy()
}

// SendRequest asks the engine to deliver the content identified by
// ContentRef to Recipient on behalf of TenantID.
//
// Requests with the same tenant, recipient, content and non-empty Nonce are
// deduplicated. An empty Nonce disables deduplication for that request.
type SendRequest struct {
	Recipient  string `json:"recipient"`
	ContentRef string `json:"content_ref"`
	Nonce      string `json:"nonce"`
	TenantID   int64  `json:"tenant_id"`
}
