package consent

import (
	"context"
	"sync"

	"github.com/icycon/emailengine/pkg/mailer"
)

type contactKey struct {
	email    string
	tenantID int64
}

// Static keeps consent in memory.
type Static struct {
	unsubscribed map[contactKey]struct{}
	mu           sync.RWMutex
}

func NewStatic() *Static {
	return &Static{unsubscribed: make(map[contactKey]struct{})}
}

func (s *Static) Subscribed(_ context.Context, tenantID int64, email string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, out := s.unsubscribed[contactKey{tenantID: tenantID, email: mailer.NormalizeAddress(email)}]
	return !out, nil
}

func (s *Static) Unsubscribe(_ context.Context, tenantID int64, email string) error {
	email = mailer.NormalizeAddress(email)
	if !mailer.ValidAddress(email) {
		return ErrInvalidEmail
	}

	s.mu.Lock()
	s.unsubscribed[contactKey{tenantID: tenantID, email: email}] = struct{}{}
	s.mu.Unlock()
	return nil
}

func (s *Static) Resubscribe(_ context.Context, tenantID int64, email string) error {
	email = mailer.NormalizeAddress(email)
	if !mailer.ValidAddress(email) {
		return ErrInvalidEmail
	}

	s.mu.Lock()
	delete(s.unsubscribed, contactKey{tenantID: tenantID, email: email})
	s.mu.Unlock()
	return nil
}

var _ Manager = (*Static)(nil)
