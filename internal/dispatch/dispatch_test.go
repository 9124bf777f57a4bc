package dispatch_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/icycon/emailengine/internal/dispatch"
	"github.com/icycon/emailengine/internal/retry"
	"github.com/icycon/emailengine/pkg/consent"
	"github.com/icycon/emailengine/pkg/content"
	"github.com/icycon/emailengine/pkg/mailer"
	"github.com/icycon/emailengine/pkg/record"
	"github.com/icycon/emailengine/pkg/store/memory"
)

type fakeProvider struct {
	fn    func(ctx context.Context, msg *mailer.Message) (mailer.Outcome, error)
	calls atomic.Int32
}

func (p *fakeProvider) Deliver(ctx context.Context, msg *mailer.Message) (mailer.Outcome, error) {
	p.calls.Add(1)
	return p.fn(ctx, msg)
}

func returning(out mailer.Outcome, err error) *fakeProvider {
	return &fakeProvider{fn: func(context.Context, *mailer.Message) (mailer.Outcome, error) { return out, err }}
}

type env struct {
	store    *memory.Store
	consent  *consent.Static
	content  *content.Static
	provider *fakeProvider
	d        *dispatch.Dispatcher
}

func newEnv(t *testing.T, p *fakeProvider, opts ...dispatch.Option) *env {
	t.Helper()

	e := &env{
		store:    memory.New(),
		consent:  consent.NewStatic(),
		content:  content.NewStatic(),
		provider: p,
	}
	e.content.Put(0, "welcome", content.Content{Subject: "Welcome", Text: "Hello"})

	policy := retry.DefaultPolicy().WithRand(func() float64 { return 0.5 })
	base := []dispatch.Option{
		dispatch.WithConsent(e.consent),
		dispatch.WithContent(e.content),
		dispatch.WithFromAddress("no-reply@example.com"),
	}
	e.d = dispatch.New(e.store, p, retry.NewScheduler(e.store, policy), append(base, opts...)...)
	return e
}

func (e *env) queued(t *testing.T, ref string) record.SendRecord {
	t.Helper()

	id, err := e.store.Create(context.Background(), record.SendRecord{
		TenantID:         1,
		Recipient:        "a@example.com",
		ContentRef:       ref,
		IdempotencyNonce: t.Name(),
	})
	require.NoError(t, err)

	rec, err := e.store.Get(context.Background(), 1, id)
	require.NoError(t, err)
	return rec
}

func TestDispatch_Delivered(t *testing.T) {
	t.Parallel()

	var got *mailer.Message
	p := &fakeProvider{fn: func(_ context.Context, msg *mailer.Message) (mailer.Outcome, error) {
		got = msg
		return mailer.Delivered("msg-123"), nil
	}}
	e := newEnv(t, p)
	rec := e.queued(t, "welcome")

	res, err := e.d.Dispatch(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, dispatch.ActionSent, res.Action)
	assert.Equal(t, record.StateSent, res.Record.State)
	assert.Equal(t, "msg-123", res.Record.ProviderMessageID)
	assert.Equal(t, 1, res.Record.AttemptCount)
	assert.NotNil(t, res.Record.CompletedAt)

	require.NotNil(t, got)
	assert.Equal(t, "a@example.com", got.To)
	assert.Equal(t, "no-reply@example.com", got.From)
	assert.Equal(t, "Welcome", got.Subject)
	assert.Equal(t, rec.ID.String(), got.Tags["send_id"])
}

func TestDispatch_EmptyProviderIDFallsBackToSendID(t *testing.T) {
	t.Parallel()

	e := newEnv(t, returning(mailer.Delivered(""), nil))
	rec := e.queued(t, "welcome")

	res, err := e.d.Dispatch(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, rec.ID.String(), res.Record.ProviderMessageID)
}

func TestDispatch_Unsubscribed(t *testing.T) {
	t.Parallel()

	e := newEnv(t, returning(mailer.Delivered("x"), nil))
	rec := e.queued(t, "welcome")
	require.NoError(t, e.consent.Unsubscribe(context.Background(), 1, "a@example.com"))

	res, err := e.d.Dispatch(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, dispatch.ActionDropped, res.Action)
	assert.Equal(t, record.StateDropped, res.Record.State)
	assert.Equal(t, dispatch.ReasonUnsubscribed, res.Record.LastError)
	assert.Zero(t, res.Record.AttemptCount)
	assert.Zero(t, e.provider.calls.Load())
}

func TestDispatch_ContentNotFound(t *testing.T) {
	t.Parallel()

	e := newEnv(t, returning(mailer.Delivered("x"), nil))
	rec := e.queued(t, "missing")

	res, err := e.d.Dispatch(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, dispatch.ActionDropped, res.Action)
	assert.Equal(t, "content not found: missing", res.Record.LastError)
	assert.Zero(t, e.provider.calls.Load())
}

func TestDispatch_LookupErrorsLeaveRecordUntouched(t *testing.T) {
	t.Parallel()

	errDown := errors.New("db down")

	t.Run("consent", func(t *testing.T) {
		t.Parallel()

		e := newEnv(t, returning(mailer.Delivered("x"), nil),
			dispatch.WithConsent(consent.CheckerFunc(func(context.Context, int64, string) (bool, error) {
				return false, errDown
			})),
		)
		rec := e.queued(t, "welcome")

		_, err := e.d.Dispatch(context.Background(), rec)
		require.ErrorIs(t, err, errDown)

		stored, err := e.store.Get(context.Background(), 1, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, record.StateQueued, stored.State)
		assert.Zero(t, e.provider.calls.Load())
	})

	t.Run("content", func(t *testing.T) {
		t.Parallel()

		e := newEnv(t, returning(mailer.Delivered("x"), nil),
			dispatch.WithContent(content.ResolverFunc(func(context.Context, int64, string) (content.Content, error) {
				return content.Content{}, errDown
			})),
		)
		rec := e.queued(t, "welcome")

		_, err := e.d.Dispatch(context.Background(), rec)
		require.ErrorIs(t, err, errDown)

		stored, _ := e.store.Get(context.Background(), 1, rec.ID)
		assert.Equal(t, record.StateQueued, stored.State)
		assert.Zero(t, stored.AttemptCount)
	})
}

func TestDispatch_Outcomes(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name       string
		provider   *fakeProvider
		wantAction dispatch.Action
		wantState  record.State
		wantError  string
	}{
		{
			name:       "permanent fails",
			provider:   returning(mailer.Permanent("550 no such user"), nil),
			wantAction: dispatch.ActionFailed,
			wantState:  record.StateFailed,
			wantError:  "550 no such user",
		},
		{
			name:       "transient schedules retry",
			provider:   returning(mailer.Transient("421 try later"), nil),
			wantAction: dispatch.ActionRetryScheduled,
			wantState:  record.StateRetryScheduled,
			wantError:  "421 try later",
		},
		{
			name:       "invalid recipient error is permanent",
			provider:   returning(mailer.Outcome{}, mailer.ErrInvalidRecipient),
			wantAction: dispatch.ActionFailed,
			wantState:  record.StateFailed,
			wantError:  mailer.ErrInvalidRecipient.Error(),
		},
		{
			name:       "other error is transient",
			provider:   returning(mailer.Outcome{}, errors.New("connection reset")),
			wantAction: dispatch.ActionRetryScheduled,
			wantState:  record.StateRetryScheduled,
			wantError:  "connection reset",
		},
		{
			name: "panic is transient",
			provider: &fakeProvider{fn: func(context.Context, *mailer.Message) (mailer.Outcome, error) {
				panic("boom")
			}},
			wantAction: dispatch.ActionRetryScheduled,
			wantState:  record.StateRetryScheduled,
			wantError:  "panic: boom",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			e := newEnv(t, tc.provider)
			rec := e.queued(t, "welcome")

			res, err := e.d.Dispatch(context.Background(), rec)
			require.NoError(t, err)
			assert.Equal(t, tc.wantAction, res.Action)
			assert.Equal(t, tc.wantState, res.Record.State)
			assert.Equal(t, tc.wantError, res.Record.LastError)
			assert.Equal(t, 1, res.Record.AttemptCount)
			assert.Equal(t, int32(1), tc.provider.calls.Load())
		})
	}
}

func TestDispatch_Timeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	// Ignores its context entirely.
	p := &fakeProvider{fn: func(context.Context, *mailer.Message) (mailer.Outcome, error) {
		<-release
		return mailer.Delivered("late"), nil
	}}
	e := newEnv(t, p, dispatch.WithAttemptTimeout(50*time.Millisecond))
	rec := e.queued(t, "welcome")

	start := time.Now()
	res, err := e.d.Dispatch(context.Background(), rec)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, dispatch.ActionRetryScheduled, res.Action)
	assert.Equal(t, "timeout after 50ms", res.Record.LastError)
}

func TestDispatch_CallerCancellationStillCommits(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	p := &fakeProvider{fn: func(pctx context.Context, _ *mailer.Message) (mailer.Outcome, error) {
		cancel()
		assert.NoError(t, pctx.Err(), "provider context is detached from the caller")
		return mailer.Delivered("msg-1"), nil
	}}
	e := newEnv(t, p)
	rec := e.queued(t, "welcome")

	res, err := e.d.Dispatch(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, dispatch.ActionSent, res.Action)

	stored, err := e.store.Get(context.Background(), 1, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, record.StateSent, stored.State)
}

func TestDispatch_Skips(t *testing.T) {
	t.Parallel()

	t.Run("stale snapshot never calls the provider", func(t *testing.T) {
		t.Parallel()

		e := newEnv(t, returning(mailer.Delivered("x"), nil))
		rec := e.queued(t, "welcome")

		first, err := e.d.Dispatch(context.Background(), rec)
		require.NoError(t, err)
		require.Equal(t, dispatch.ActionSent, first.Action)

		// Same snapshot again; the stored record is already sent.
		res, err := e.d.Dispatch(context.Background(), rec)
		require.NoError(t, err)
		assert.Equal(t, dispatch.ActionStale, res.Action)
		assert.Equal(t, int32(1), e.provider.calls.Load())
	})

	t.Run("terminal and sending records are skipped", func(t *testing.T) {
		t.Parallel()

		e := newEnv(t, returning(mailer.Delivered("x"), nil))
		for _, st := range []record.State{record.StateSending, record.StateSent, record.StateFailed, record.StateDropped} {
			res, err := e.d.Dispatch(context.Background(), record.SendRecord{State: st})
			require.NoError(t, err)
			assert.Equal(t, dispatch.ActionSkipped, res.Action, st)
		}
		assert.Zero(t, e.provider.calls.Load())
	})

	t.Run("retry not yet due is skipped", func(t *testing.T) {
		t.Parallel()

		e := newEnv(t, returning(mailer.Transient("busy"), nil))
		rec := e.queued(t, "welcome")

		res, err := e.d.Dispatch(context.Background(), rec)
		require.NoError(t, err)
		require.Equal(t, dispatch.ActionRetryScheduled, res.Action)

		res, err = e.d.Dispatch(context.Background(), res.Record)
		require.NoError(t, err)
		assert.Equal(t, dispatch.ActionSkipped, res.Action)
		assert.Equal(t, int32(1), e.provider.calls.Load())
	})

	t.Run("due time is judged at the given instant", func(t *testing.T) {
		t.Parallel()

		e := newEnv(t, returning(mailer.Transient("busy"), nil))
		rec := e.queued(t, "welcome")

		res, err := e.d.Dispatch(context.Background(), rec)
		require.NoError(t, err)
		require.Equal(t, dispatch.ActionRetryScheduled, res.Action)

		res, err = e.d.DispatchAt(context.Background(), res.Record, res.Record.NextRetryAt.Add(time.Second))
		require.NoError(t, err)
		assert.Equal(t, dispatch.ActionRetryScheduled, res.Action)
		assert.Equal(t, 2, res.Record.AttemptCount)
		assert.Equal(t, int32(2), e.provider.calls.Load())
	})
}
