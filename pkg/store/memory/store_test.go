package memory_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/icycon/emailengine/pkg/record"
	"github.com/icycon/emailengine/pkg/store/memory"
)

func newRecord(nonce string) record.SendRecord {
	return record.SendRecord{
		TenantID:         1,
		Recipient:        "a@example.com",
		ContentRef:       "tpl-1",
		IdempotencyNonce: nonce,
	}
}

func TestStore_Create(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := memory.New()

	id, err := s.Create(ctx, newRecord("n1"))
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, id)

	rec, err := s.Get(ctx, 1, id)
	require.NoError(t, err)
	assert.Equal(t, record.StateQueued, rec.State)
	assert.Zero(t, rec.AttemptCount)
	assert.False(t, rec.CreatedAt.IsZero())

	t.Run("duplicate returns existing id", func(t *testing.T) {
		dupID, err := s.Create(ctx, newRecord("n1"))
		require.ErrorIs(t, err, record.ErrDuplicateRequest)
		assert.Equal(t, id, dupID)
	})

	t.Run("different nonce creates new record", func(t *testing.T) {
		otherID, err := s.Create(ctx, newRecord("n2"))
		require.NoError(t, err)
		assert.NotEqual(t, id, otherID)
	})

	t.Run("other tenant cannot read", func(t *testing.T) {
		_, err := s.Get(ctx, 2, id)
		require.ErrorIs(t, err, record.ErrNotFound)
	})
}

func TestStore_Transition(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := memory.New()

	id, err := s.Create(ctx, newRecord("n1"))
	require.NoError(t, err)
	rec, err := s.Get(ctx, 1, id)
	require.NoError(t, err)

	sending, err := s.Transition(ctx, record.ChangeFrom(rec, record.StateSending, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, record.StateSending, sending.State)
	assert.Equal(t, 1, sending.AttemptCount)

	t.Run("stale guard", func(t *testing.T) {
		_, err := s.Transition(ctx, record.ChangeFrom(rec, record.StateSending, time.Now()))
		require.ErrorIs(t, err, record.ErrStaleState)
	})

	t.Run("invalid transition", func(t *testing.T) {
		_, err := s.Transition(ctx, record.ChangeFrom(sending, record.StateDropped, time.Now()))
		require.ErrorIs(t, err, record.ErrInvalidTransition)
	})

	t.Run("unknown record", func(t *testing.T) {
		c := record.ChangeFrom(sending, record.StateFailed, time.Now())
		c.ID = uuid.New()
		_, err := s.Transition(ctx, c)
		require.ErrorIs(t, err, record.ErrNotFound)
	})

	events, err := s.History(ctx, 1, id)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, record.StateQueued, events[0].To)
	assert.Equal(t, record.StateQueued, events[1].From)
	assert.Equal(t, record.StateSending, events[1].To)
	assert.Equal(t, 1, events[1].Attempt)
}

func TestStore_Transition_Concurrent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := memory.New()

	id, err := s.Create(ctx, newRecord("race"))
	require.NoError(t, err)
	rec, err := s.Get(ctx, 1, id)
	require.NoError(t, err)

	const workers = 16
	var (
		wg    sync.WaitGroup
		won   atomic.Int32
		stale atomic.Int32
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Transition(ctx, record.ChangeFrom(rec, record.StateSending, time.Now()))
			switch {
			case err == nil:
				won.Add(1)
			case assert.ErrorIs(t, err, record.ErrStaleState):
				stale.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, won.Load())
	assert.EqualValues(t, workers-1, stale.Load())
}

func TestStore_FindDueRetries(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := memory.New()
	now := time.Now()

	schedule := func(nonce string, at time.Time) uuid.UUID {
		id, err := s.Create(ctx, newRecord(nonce))
		require.NoError(t, err)
		rec, err := s.Get(ctx, 1, id)
		require.NoError(t, err)
		rec, err = s.Transition(ctx, record.ChangeFrom(rec, record.StateSending, now))
		require.NoError(t, err)
		c := record.ChangeFrom(rec, record.StateRetryScheduled, now)
		c.NextRetryAt = &at
		c.LastError = "timeout"
		_, err = s.Transition(ctx, c)
		require.NoError(t, err)
		return id
	}

	late := schedule("late", now.Add(-time.Second))
	early := schedule("early", now.Add(-time.Minute))
	schedule("future", now.Add(time.Hour))

	due, err := s.FindDueRetries(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, early, due[0].ID)
	assert.Equal(t, late, due[1].ID)

	limited, err := s.FindDueRetries(ctx, now, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, early, limited[0].ID)
}

func TestStore_FindStaleAndPending(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := memory.New()
	now := time.Now()

	pendingID, err := s.Create(ctx, newRecord("pending"))
	require.NoError(t, err)

	sendingID, err := s.Create(ctx, newRecord("sending"))
	require.NoError(t, err)
	rec, err := s.Get(ctx, 1, sendingID)
	require.NoError(t, err)
	_, err = s.Transition(ctx, record.ChangeFrom(rec, record.StateSending, now.Add(-time.Hour)))
	require.NoError(t, err)

	stale, err := s.FindStale(ctx, now.Add(-10*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, sendingID, stale[0].ID)

	pending, err := s.FindPending(ctx, now.Add(time.Second), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, pendingID, pending[0].ID)

	none, err := s.FindPending(ctx, now.Add(-time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestStore_RecordFeedback(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := memory.New()
	now := time.Now()

	id, err := s.Create(ctx, newRecord("fb"))
	require.NoError(t, err)
	rec, err := s.Get(ctx, 1, id)
	require.NoError(t, err)
	rec, err = s.Transition(ctx, record.ChangeFrom(rec, record.StateSending, now))
	require.NoError(t, err)
	c := record.ChangeFrom(rec, record.StateSent, now)
	c.ProviderMessageID = "msg-9"
	_, err = s.Transition(ctx, c)
	require.NoError(t, err)

	got, err := s.RecordFeedback(ctx, 1, "msg-9", record.FeedbackBounce, now)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Bounces)

	got, err = s.RecordFeedback(ctx, 1, "msg-9", record.FeedbackComplaint, now)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Complaints)
	assert.Equal(t, record.StateSent, got.State)

	_, err = s.RecordFeedback(ctx, 1, "unknown", record.FeedbackBounce, now)
	require.ErrorIs(t, err, record.ErrNotFound)

	_, err = s.RecordFeedback(ctx, 2, "msg-9", record.FeedbackBounce, now)
	require.ErrorIs(t, err, record.ErrNotFound, "other tenants cannot touch the record")

	_, err = s.RecordFeedback(ctx, 1, "msg-9", record.FeedbackKind("open"), now)
	require.ErrorIs(t, err, record.ErrInvalidFeedback)

	events, err := s.History(ctx, 1, id)
	require.NoError(t, err)
	require.Len(t, events, 5)
	assert.Equal(t, record.FeedbackComplaint, events[4].Feedback)
}

func TestStore_List(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := memory.New()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	var ids []uuid.UUID
	for i, nonce := range []string{"l1", "l2", "l3"} {
		rec := newRecord(nonce)
		rec.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		id, err := s.Create(ctx, rec)
		require.NoError(t, err)
		ids = append(ids, id)
	}
	other := newRecord("l4")
	other.TenantID = 2
	_, err := s.Create(ctx, other)
	require.NoError(t, err)

	rec, err := s.Get(ctx, 1, ids[0])
	require.NoError(t, err)
	c := record.ChangeFrom(rec, record.StateDropped, base)
	_, err = s.Transition(ctx, c)
	require.NoError(t, err)

	all, err := s.List(ctx, record.ListFilter{TenantID: 1})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []uuid.UUID{ids[2], ids[1], ids[0]}, []uuid.UUID{all[0].ID, all[1].ID, all[2].ID})

	queued, err := s.List(ctx, record.ListFilter{TenantID: 1, State: record.StateQueued, Limit: 1})
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, ids[2], queued[0].ID)

	dropped, err := s.List(ctx, record.ListFilter{TenantID: 1, State: record.StateDropped})
	require.NoError(t, err)
	require.Len(t, dropped, 1)
	assert.Equal(t, ids[0], dropped[0].ID)

	none, err := s.List(ctx, record.ListFilter{TenantID: 3})
	require.NoError(t, err)
	assert.Empty(t, none)
}
