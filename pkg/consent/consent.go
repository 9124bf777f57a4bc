// Package consent answers whether a recipient may receive mail from a tenant.
//
// A recipient with no consent row is treated as subscribed. The dispatcher
// only reads consent; Unsubscribe and Resubscribe exist for the operator API.
package consent

import (
	"context"
	"errors"
)

var ErrInvalidEmail = errors.New("consent: invalid email")

// Checker reports whether email is subscribed for tenantID.
type Checker interface {
	Subscribed(ctx context.Context, tenantID int64, email string) (bool, error)
}

// Manager is a Checker that can also change consent.
type Manager interface {
	Checker
	Unsubscribe(ctx context.Context, tenantID int64, email string) error
	Resubscribe(ctx context.Context, tenantID int64, email string) error
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context, tenantID int64, email string) (bool, error)

func (f CheckerFunc) Subscribed(ctx context.Context, tenantID int64, email string) (bool, error) {
	return f(ctx, tenantID, email)
}

// AllowAll treats every recipient as subscribed.
var AllowAll Checker = CheckerFunc(func(context.Context, int64, string) (bool, error) { return true, nil })
