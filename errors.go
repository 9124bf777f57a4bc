package emailengine

import "github.com/icycon/emailengine/pkg/record"

// Errors returned by the engine. They alias the record package sentinels so
// errors.Is works across package boundaries.
var (
	ErrInvalidRecipient  = record.ErrInvalidRecipient
	ErrInvalidRequest    = record.ErrInvalidRequest
	ErrDuplicateRequest  = record.ErrDuplicateRequest
	ErrNotFound          = record.ErrNotFound
	ErrNotCancellable    = record.ErrNotCancellable
	ErrInvalidTransition = record.ErrInvalidTransition
	ErrInvalidFeedback   = record.ErrInvalidFeedback
)
