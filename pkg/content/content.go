// Package content resolves a content reference into the subject and bodies
// of a message. The engine treats references as opaque.
package content

import (
	"context"
	"errors"
	"sync"
)

var ErrNotFound = errors.New("content: not found")

// Content is the resolved message content.
type Content struct {
	Subject string `json:"subject" yaml:"subject"`
	Text    string `json:"text" yaml:"text"`
	HTML    string `json:"html,omitempty" yaml:"html"`
}

// Resolver resolves ref for tenantID. It returns ErrNotFound when the
// reference does not exist.
type Resolver interface {
	Resolve(ctx context.Context, tenantID int64, ref string) (Content, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, tenantID int64, ref string) (Content, error)

func (f ResolverFunc) Resolve(ctx context.Context, tenantID int64, ref string) (Content, error) {
	return f(ctx, tenantID, ref)
}

type refKey struct {
	ref      string
	tenantID int64
}

// Static keeps content in memory. Entries registered with tenant 0 are
// visible to every tenant.
type Static struct {
	items map[refKey]Content
	mu    sync.RWMutex
}

func NewStatic() *Static {
	return &Static{items: make(map[refKey]Content)}
}

// Put registers c under ref for tenantID.
func (s *Static) Put(tenantID int64, ref string, c Content) {
	s.mu.Lock()
	s.items[refKey{tenantID: tenantID, ref: ref}] = c
	s.mu.Unlock()
}

func (s *Static) Resolve(_ context.Context, tenantID int64, ref string) (Content, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if c, ok := s.items[refKey{tenantID: tenantID, ref: ref}]; ok {
		return c, nil
	}
	if c, ok := s.items[refKey{ref: ref}]; ok {
		return c, nil
	}
	return Content{}, ErrNotFound
}
