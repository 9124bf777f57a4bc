package emailengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/icycon/emailengine/internal/dispatch"
	"github.com/icycon/emailengine/internal/metrics"
	"github.com/icycon/emailengine/internal/retry"
	"github.com/icycon/emailengine/pkg/logger"
	"github.com/icycon/emailengine/pkg/mailer"
	"github.com/icycon/emailengine/pkg/record"
)

// Sweep names, used for locks, logs and metrics.
const (
	SweepRetry   = "retry"
	SweepStale   = "stale"
	SweepPending = "pending"
)

// ReasonCancelled is stored as last_error of cancelled sends.
const ReasonCancelled = "cancelled"

// ListSends page bounds.
const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// Engine is the entry point for submitting and tracking sends.
type Engine struct {
	store        record.Store
	dispatcher   *dispatch.Dispatcher
	scheduler    *retry.Scheduler
	retries      *retry.Sweeper
	stale        *retry.Sweeper
	pending      *retry.Sweeper
	logger       *slog.Logger
	now          func() time.Time
	onSubmit     SubmitHook
	staleAfter   time.Duration
	pendingAfter time.Duration
}

// New creates an engine that persists to store and delivers through provider.
func New(store record.Store, provider mailer.Provider, opts ...Option) *Engine {
	cfg := &config{
		logger:         logger.NewNope(),
		now:            time.Now,
		policy:         retry.DefaultPolicy(),
		attemptTimeout: 10 * time.Second,
		staleAfter:     10 * time.Minute,
		pendingAfter:   time.Minute,
		sweepBatch:     100,
		sweepWorkers:   8,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	scheduler := retry.NewScheduler(store, cfg.policy,
		retry.WithSchedulerLogger(cfg.logger),
		retry.WithSchedulerClock(cfg.now),
	)

	e := &Engine{
		store:     store,
		scheduler: scheduler,
		dispatcher: dispatch.New(store, provider, scheduler,
			dispatch.WithConsent(cfg.consent),
			dispatch.WithContent(cfg.content),
			dispatch.WithLogger(cfg.logger),
			dispatch.WithAttemptTimeout(cfg.attemptTimeout),
			dispatch.WithFromAddress(cfg.from),
			dispatch.WithProviderName(cfg.providerName),
			dispatch.WithClock(cfg.now),
		),
		logger:       cfg.logger,
		now:          cfg.now,
		onSubmit:     cfg.onSubmit,
		staleAfter:   cfg.staleAfter,
		pendingAfter: cfg.pendingAfter,
	}

	sweeper := func(name string, find retry.Finder) *retry.Sweeper {
		sopts := []retry.SweeperOption{
			retry.WithBatch(cfg.sweepBatch),
			retry.WithConcurrency(cfg.sweepWorkers),
			retry.WithSweeperLogger(cfg.logger),
		}
		if cfg.locks != nil {
			if l := cfg.locks(name); l != nil {
				sopts = append(sopts, retry.WithLock(l))
			}
		}
		return retry.NewSweeper(name, find, sopts...)
	}
	e.retries = sweeper(SweepRetry, store.FindDueRetries)
	e.stale = sweeper(SweepStale, store.FindStale)
	e.pending = sweeper(SweepPending, store.FindPending)

	return e
}

// Policy returns the retry policy in effect.
func (e *Engine) Policy() Policy {
	return e.scheduler.Policy()
}

// SubmitSend validates req and creates a queued send.
//
// A request that repeats the idempotency key of an earlier one returns the
// earlier id together with ErrDuplicateRequest.
func (e *Engine) SubmitSend(ctx context.Context, req SendRequest) (uuid.UUID, error) {
	recipient := mailer.NormalizeAddress(req.Recipient)
	if !mailer.ValidAddress(recipient) {
		metrics.IncSubmit("invalid")
		return uuid.Nil, ErrInvalidRecipient
	}
	if req.TenantID <= 0 || strings.TrimSpace(req.ContentRef) == "" {
		metrics.IncSubmit("invalid")
		return uuid.Nil, ErrInvalidRequest
	}

	nonce := req.Nonce
	if nonce == "" {
		nonce = uuid.NewString()
	}

	id, err := e.store.Create(ctx, record.SendRecord{
		TenantID:         req.TenantID,
		Recipient:        recipient,
		ContentRef:       req.ContentRef,
		IdempotencyNonce: nonce,
		State:            record.StateQueued,
		CreatedAt:        e.now().UTC(),
	})
	if errors.Is(err, record.ErrDuplicateRequest) {
		metrics.IncSubmit("duplicate")
		return id, ErrDuplicateRequest
	}
	if err != nil {
		metrics.IncSubmit("error")
		return uuid.Nil, fmt.Errorf("emailengine: create send: %w", err)
	}
	metrics.IncSubmit("created")

	ctx = logger.WithTenantID(logger.WithSendID(ctx, id.String()), req.TenantID)
	e.logger.InfoContext(ctx, "send queued",
		logger.Email(recipient),
		slog.String("content_ref", req.ContentRef),
	)

	if e.onSubmit != nil {
		if err := e.onSubmit(ctx, req.TenantID, id); err != nil {
			e.logger.WarnContext(ctx, "submit hook failed, pending sweep will pick the send up",
				slog.String("error", err.Error()),
			)
		}
	}

	return id, nil
}

// GetStatus returns the current snapshot of a send.
func (e *Engine) GetStatus(ctx context.Context, tenantID int64, id uuid.UUID) (SendRecord, error) {
	return e.store.Get(ctx, tenantID, id)
}

// Cancel drops a send that has not been handed to the provider yet.
// Sends in any other state return ErrNotCancellable.
func (e *Engine) Cancel(ctx context.Context, tenantID int64, id uuid.UUID) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		rec, err := e.store.Get(ctx, tenantID, id)
		if err != nil {
			return err
		}
		if !rec.State.Cancellable() {
			return ErrNotCancellable
		}

		change := record.ChangeFrom(rec, record.StateDropped, e.now().UTC())
		change.LastError = ReasonCancelled

		_, err = e.store.Transition(ctx, change)
		if errors.Is(err, record.ErrStaleState) {
			// Someone moved the record; look again.
			continue
		}
		if err != nil {
			return fmt.Errorf("emailengine: cancel send: %w", err)
		}

		e.logger.InfoContext(logger.WithTenantID(logger.WithSendID(ctx, id.String()), tenantID), "send cancelled")
		return nil
	}
}

// Dispatch attempts delivery of one send now.
func (e *Engine) Dispatch(ctx context.Context, tenantID int64, id uuid.UUID) (DispatchResult, error) {
	rec, err := e.store.Get(ctx, tenantID, id)
	if err != nil {
		return DispatchResult{}, err
	}
	return e.dispatcher.Dispatch(ctx, rec)
}

// RunRetrySweep dispatches every retry_scheduled send due at now and
// returns how many were processed.
func (e *Engine) RunRetrySweep(ctx context.Context, now time.Time) (int, error) {
	n, err := e.retries.Sweep(ctx, now, e.dispatchAt(now))
	metrics.AddSweepProcessed(SweepRetry, n)
	return n, err
}

// RecoverStale treats sends stuck in sending for longer than the stale
// window as transient failures.
func (e *Engine) RecoverStale(ctx context.Context, now time.Time) (int, error) {
	n, err := e.stale.Sweep(ctx, now.Add(-e.staleAfter), func(ctx context.Context, rec record.SendRecord) error {
		_, err := e.scheduler.HandleTransient(ctx, rec, dispatch.ReasonAbandoned)
		return err
	})
	metrics.AddSweepProcessed(SweepStale, n)
	return n, err
}

// DispatchPending dispatches sends that stayed queued longer than the
// pending window, typically because their dispatch job was never enqueued.
func (e *Engine) DispatchPending(ctx context.Context, now time.Time) (int, error) {
	n, err := e.pending.Sweep(ctx, now.Add(-e.pendingAfter), e.dispatchAt(now))
	metrics.AddSweepProcessed(SweepPending, n)
	return n, err
}

// dispatchAt returns a sweep callback that dispatches as of now. Records
// another worker got to first count as skipped.
func (e *Engine) dispatchAt(now time.Time) func(context.Context, record.SendRecord) error {
	return func(ctx context.Context, rec record.SendRecord) error {
		res, err := e.dispatcher.DispatchAt(ctx, rec, now)
		if err != nil {
			return err
		}
		if res.Action == dispatch.ActionSkipped || res.Action == dispatch.ActionStale {
			return retry.ErrSkipped
		}
		return nil
	}
}

// RecordFeedback attaches a bounce or complaint to the sent message of
// tenantID with the given provider message id. Messages of other tenants
// are reported as ErrNotFound.
func (e *Engine) RecordFeedback(ctx context.Context, tenantID int64, providerMessageID string, kind FeedbackKind) error {
	if !kind.Valid() {
		return ErrInvalidFeedback
	}
	if tenantID <= 0 || strings.TrimSpace(providerMessageID) == "" {
		return ErrInvalidRequest
	}

	rec, err := e.store.RecordFeedback(ctx, tenantID, providerMessageID, kind, e.now().UTC())
	if err != nil {
		return err
	}
	metrics.IncFeedback(string(kind))

	ctx = logger.WithTenantID(logger.WithSendID(ctx, rec.ID.String()), rec.TenantID)
	e.logger.InfoContext(ctx, "delivery feedback recorded",
		slog.String("kind", string(kind)),
		slog.Int("bounces", rec.Bounces),
		slog.Int("complaints", rec.Complaints),
	)
	return nil
}

// ListSends returns the sends of tenantID, newest first. An empty state
// lists every state. limit defaults to DefaultListLimit and is capped at
// MaxListLimit.
func (e *Engine) ListSends(ctx context.Context, tenantID int64, state State, limit int) ([]SendRecord, error) {
	if tenantID <= 0 || (state != "" && !state.Valid()) || limit < 0 {
		return nil, ErrInvalidRequest
	}
	if limit == 0 {
		limit = DefaultListLimit
	}
	return e.store.List(ctx, ListFilter{TenantID: tenantID, State: state, Limit: min(limit, MaxListLimit)})
}

// History returns the recorded events of a send, oldest first.
func (e *Engine) History(ctx context.Context, tenantID int64, id uuid.UUID) ([]Event, error) {
	return e.store.History(ctx, tenantID, id)
}
