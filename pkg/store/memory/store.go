// Package memory provides an in-process record.Store.
// It is used by tests and by single-process deployments without Postgres.
package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/icycon/emailengine/pkg/record"
)

type idempotencyKey struct {
	recipient  string
	contentRef string
	nonce      string
	tenantID   int64
}

// Store keeps records in maps guarded by a single mutex.
// Every method holds the lock for its whole duration, which makes Transition
// a true compare-and-set.
type Store struct {
	records map[uuid.UUID]record.SendRecord
	keys    map[idempotencyKey]uuid.UUID
	events  map[uuid.UUID][]record.Event
	now     func() time.Time
	mu      sync.Mutex
}

// New creates an empty store.
func New() *Store {
	return &Store{
		records: make(map[uuid.UUID]record.SendRecord),
		keys:    make(map[idempotencyKey]uuid.UUID),
		events:  make(map[uuid.UUID][]record.Event),
		now:     time.Now,
	}
}

func (s *Store) Create(_ context.Context, rec record.SendRecord) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := idempotencyKey{
		tenantID:   rec.TenantID,
		recipient:  rec.Recipient,
		contentRef: rec.ContentRef,
		nonce:      rec.IdempotencyNonce,
	}
	if id, ok := s.keys[key]; ok {
		return id, record.ErrDuplicateRequest
	}

	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	rec.UpdatedAt = rec.CreatedAt
	rec.State = record.StateQueued

	s.records[rec.ID] = rec
	s.keys[key] = rec.ID
	s.events[rec.ID] = append(s.events[rec.ID], record.Event{
		SendID:    rec.ID,
		TenantID:  rec.TenantID,
		To:        record.StateQueued,
		CreatedAt: rec.CreatedAt,
	})

	return rec.ID, nil
}

func (s *Store) Get(_ context.Context, tenantID int64, id uuid.UUID) (record.SendRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok || rec.TenantID != tenantID {
		return record.SendRecord{}, record.ErrNotFound
	}
	return rec, nil
}

func (s *Store) Transition(_ context.Context, c record.Change) (record.SendRecord, error) {
	if err := c.Validate(); err != nil {
		return record.SendRecord{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[c.ID]
	if !ok || rec.TenantID != c.TenantID {
		return record.SendRecord{}, record.ErrNotFound
	}
	if rec.State != c.From || rec.AttemptCount != c.ExpectedAttempts {
		return record.SendRecord{}, record.ErrStaleState
	}

	if c.At.IsZero() {
		c.At = s.now()
	}
	rec = c.Apply(rec)
	s.records[rec.ID] = rec
	s.events[rec.ID] = append(s.events[rec.ID], record.Event{
		SendID:    rec.ID,
		TenantID:  rec.TenantID,
		From:      c.From,
		To:        c.To,
		Attempt:   rec.AttemptCount,
		Reason:    c.Reason(),
		CreatedAt: c.At,
	})

	return rec, nil
}

func (s *Store) FindDueRetries(_ context.Context, before time.Time, limit int) ([]record.SendRecord, error) {
	recs := s.filter(func(r record.SendRecord) bool {
		return r.State == record.StateRetryScheduled && r.NextRetryAt != nil && !r.NextRetryAt.After(before)
	})
	slices.SortFunc(recs, func(a, b record.SendRecord) int {
		return a.NextRetryAt.Compare(*b.NextRetryAt)
	})
	return head(recs, limit), nil
}

func (s *Store) FindStale(_ context.Context, before time.Time, limit int) ([]record.SendRecord, error) {
	recs := s.filter(func(r record.SendRecord) bool {
		return r.State == record.StateSending && r.LastAttemptedAt != nil && !r.LastAttemptedAt.After(before)
	})
	slices.SortFunc(recs, func(a, b record.SendRecord) int {
		return a.LastAttemptedAt.Compare(*b.LastAttemptedAt)
	})
	return head(recs, limit), nil
}

func (s *Store) FindPending(_ context.Context, before time.Time, limit int) ([]record.SendRecord, error) {
	recs := s.filter(func(r record.SendRecord) bool {
		return r.State == record.StateQueued && !r.CreatedAt.After(before)
	})
	slices.SortFunc(recs, func(a, b record.SendRecord) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID.String(), b.ID.String()))
	})
	return head(recs, limit), nil
}

func (s *Store) RecordFeedback(_ context.Context, tenantID int64, providerMessageID string, kind record.FeedbackKind, at time.Time) (record.SendRecord, error) {
	if !kind.Valid() {
		return record.SendRecord{}, record.ErrInvalidFeedback
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, rec := range s.records {
		if rec.TenantID != tenantID || rec.State != record.StateSent || rec.ProviderMessageID != providerMessageID {
			continue
		}

		switch kind {
		case record.FeedbackBounce:
			rec.Bounces++
		case record.FeedbackComplaint:
			rec.Complaints++
		}
		rec.UpdatedAt = at
		s.records[id] = rec
		s.events[id] = append(s.events[id], record.Event{
			SendID:    id,
			TenantID:  rec.TenantID,
			From:      rec.State,
			To:        rec.State,
			Attempt:   rec.AttemptCount,
			Feedback:  kind,
			CreatedAt: at,
		})
		return rec, nil
	}

	return record.SendRecord{}, record.ErrNotFound
}

func (s *Store) History(_ context.Context, tenantID int64, id uuid.UUID) ([]record.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok || rec.TenantID != tenantID {
		return nil, record.ErrNotFound
	}
	return slices.Clone(s.events[id]), nil
}

func (s *Store) List(_ context.Context, f record.ListFilter) ([]record.SendRecord, error) {
	recs := s.filter(func(r record.SendRecord) bool {
		return r.TenantID == f.TenantID && (f.State == "" || r.State == f.State)
	})
	slices.SortFunc(recs, func(a, b record.SendRecord) int {
		return cmp.Or(b.CreatedAt.Compare(a.CreatedAt), cmp.Compare(b.ID.String(), a.ID.String()))
	})
	return head(recs, f.Limit), nil
}

func (s *Store) filter(keep func(record.SendRecord) bool) []record.SendRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []record.SendRecord
	for _, rec := range s.records {
		if keep(rec) {
			out = append(out, rec)
		}
	}
	return out
}

func head(recs []record.SendRecord, limit int) []record.SendRecord {
	if limit > 0 && len(recs) > limit {
		return recs[:limit]
	}
	return recs
}

var _ record.Store = (*Store)(nil)
