package record

import "errors"

var (
	// ErrStaleState is returned when a compare-and-set guard no longer matches.
	// Another worker already progressed the record; callers skip it.
	ErrStaleState = errors.New("record: stale state")

	// ErrDuplicateRequest is returned when the idempotency key already exists.
	ErrDuplicateRequest = errors.New("record: duplicate request")

	// ErrInvalidRecipient is returned when the recipient is not a valid email address.
	ErrInvalidRecipient = errors.New("record: invalid recipient")

	// ErrInvalidRequest is returned when a submit request misses required fields.
	ErrInvalidRequest = errors.New("record: invalid request")

	ErrNotFound          = errors.New("record: not found")
	ErrInvalidTransition = errors.New("record: invalid state transition")
	ErrNotCancellable    = errors.New("record: not cancellable")
	ErrInvalidFeedback   = errors.New("record: invalid feedback kind")
)
