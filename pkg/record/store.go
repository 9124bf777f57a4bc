package record

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store persists send records and their history.
// Implementations must make Transition an atomic compare-and-set.
type Store interface {
	// Create inserts rec in state queued. On an idempotency key collision it
	// returns the existing id together with ErrDuplicateRequest.
	Create(ctx context.Context, rec SendRecord) (uuid.UUID, error)

	// Get returns the record owned by tenantID, or ErrNotFound.
	Get(ctx context.Context, tenantID int64, id uuid.UUID) (SendRecord, error)

	// Transition applies c if the stored state and attempt count still match
	// the guard. Returns ErrStaleState when they do not.
	Transition(ctx context.Context, c Change) (SendRecord, error)

	// FindDueRetries returns retry_scheduled records with next_retry_at <= before,
	// oldest due first.
	FindDueRetries(ctx context.Context, before time.Time, limit int) ([]SendRecord, error)

	// FindStale returns sending records last attempted at or before before.
	FindStale(ctx context.Context, before time.Time, limit int) ([]SendRecord, error)

	// FindPending returns queued records created at or before before, oldest first.
	FindPending(ctx context.Context, before time.Time, limit int) ([]SendRecord, error)

	// RecordFeedback increments the bounce or complaint counter of the sent
	// record of tenantID carrying providerMessageID.
	RecordFeedback(ctx context.Context, tenantID int64, providerMessageID string, kind FeedbackKind, at time.Time) (SendRecord, error)

	// History returns the events of one record in insertion order.
	History(ctx context.Context, tenantID int64, id uuid.UUID) ([]Event, error)

	// List returns the records of one tenant, newest first.
	List(ctx context.Context, f ListFilter) ([]SendRecord, error)
}

// ListFilter selects records for Store.List. An empty State matches every
// state; a Limit of zero or less means no limit.
type ListFilter struct {
	State    State
	TenantID int64
	Limit    int
}
