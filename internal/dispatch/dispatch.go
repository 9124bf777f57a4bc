// Package dispatch runs one delivery attempt for a send record.
//
// The dispatcher owns the queued/retry_scheduled → sending → outcome path.
// Every state change goes through the store's compare-and-set, so any number
// of dispatchers may race on the same record and at most one reaches the
// provider. A dispatcher that loses the race returns ActionStale and does
// nothing else.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/icycon/emailengine/internal/metrics"
	"github.com/icycon/emailengine/internal/retry"
	"github.com/icycon/emailengine/pkg/consent"
	"github.com/icycon/emailengine/pkg/content"
	"github.com/icycon/emailengine/pkg/logger"
	"github.com/icycon/emailengine/pkg/mailer"
	"github.com/icycon/emailengine/pkg/record"
)

// Last-error texts for records dropped before a provider call.
const (
	ReasonUnsubscribed    = "recipient unsubscribed"
	ReasonContentNotFound = "content not found: "
	ReasonAbandoned       = "attempt abandoned without outcome"
)

// Action names what a Dispatch call did.
type Action string

const (
	ActionSkipped        Action = "skipped"
	ActionStale          Action = "stale"
	ActionDropped        Action = "dropped"
	ActionSent           Action = "sent"
	ActionRetryScheduled Action = "retry_scheduled"
	ActionFailed         Action = "failed"
)

// Result is the outcome of one Dispatch call. Record is the latest snapshot
// the dispatcher saw.
type Result struct {
	Record record.SendRecord
	Action Action
}

// Dispatcher delivers send records through a provider.
type Dispatcher struct {
	store        record.Store
	provider     mailer.Provider
	scheduler    *retry.Scheduler
	consent      consent.Checker
	content      content.Resolver
	log          *slog.Logger
	now          func() time.Time
	from         string
	providerName string
	timeout      time.Duration
}

// New creates a dispatcher. Without WithConsent every recipient is treated
// as subscribed; without WithContent every reference is unknown.
func New(store record.Store, provider mailer.Provider, scheduler *retry.Scheduler, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:        store,
		provider:     provider,
		scheduler:    scheduler,
		consent:      consent.AllowAll,
		content:      content.NewStatic(),
		log:          logger.NewNope(),
		now:          time.Now,
		timeout:      10 * time.Second,
		providerName: "unknown",
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch attempts delivery of rec. rec is a snapshot; the store decides
// whether it is still current.
//
// Consent and content lookup errors are returned with the record untouched.
// Losing a compare-and-set is not an error.
func (d *Dispatcher) Dispatch(ctx context.Context, rec record.SendRecord) (Result, error) {
	return d.DispatchAt(ctx, rec, d.now())
}

// DispatchAt is Dispatch with retry due times judged at at instead of the
// dispatcher's clock. Sweeps use it so that a record selected as due is
// dispatched as due.
func (d *Dispatcher) DispatchAt(ctx context.Context, rec record.SendRecord, at time.Time) (Result, error) {
	ctx = logger.WithTenantID(logger.WithSendID(ctx, rec.ID.String()), rec.TenantID)

	res, err := d.dispatch(ctx, rec, at.UTC())
	if err == nil {
		metrics.IncDispatch(string(res.Action))
	}
	return res, err
}

func (d *Dispatcher) dispatch(ctx context.Context, rec record.SendRecord, now time.Time) (Result, error) {
	if !eligible(rec, now) {
		return Result{Action: ActionSkipped, Record: rec}, nil
	}

	subscribed, err := d.consent.Subscribed(ctx, rec.TenantID, rec.Recipient)
	if err != nil {
		return Result{Record: rec}, fmt.Errorf("dispatch: read consent: %w", err)
	}
	if !subscribed {
		return d.drop(ctx, rec, ReasonUnsubscribed)
	}

	body, err := d.content.Resolve(ctx, rec.TenantID, rec.ContentRef)
	if errors.Is(err, content.ErrNotFound) {
		return d.drop(ctx, rec, ReasonContentNotFound+rec.ContentRef)
	}
	if err != nil {
		return Result{Record: rec}, fmt.Errorf("dispatch: resolve content: %w", err)
	}

	claimed, err := d.store.Transition(ctx, record.ChangeFrom(rec, record.StateSending, d.now().UTC()))
	if errors.Is(err, record.ErrStaleState) {
		d.log.DebugContext(ctx, "dispatch lost claim")
		return Result{Action: ActionStale, Record: rec}, nil
	}
	if err != nil {
		return Result{Record: rec}, fmt.Errorf("dispatch: claim record: %w", err)
	}

	out := d.attempt(ctx, d.message(claimed, body))

	// The record is sending now; the caller going away must not strand it.
	return d.commit(context.WithoutCancel(ctx), claimed, out)
}

// eligible reports whether rec may be dispatched at now.
func eligible(rec record.SendRecord, now time.Time) bool {
	switch rec.State {
	case record.StateQueued:
		return true
	case record.StateRetryScheduled:
		return rec.Due(now)
	default:
		return false
	}
}

func (d *Dispatcher) drop(ctx context.Context, rec record.SendRecord, reason string) (Result, error) {
	change := record.ChangeFrom(rec, record.StateDropped, d.now().UTC())
	change.LastError = reason

	updated, err := d.store.Transition(ctx, change)
	if errors.Is(err, record.ErrStaleState) {
		return Result{Action: ActionStale, Record: rec}, nil
	}
	if err != nil {
		return Result{Record: rec}, fmt.Errorf("dispatch: drop record: %w", err)
	}

	d.log.InfoContext(ctx, "send dropped", slog.String("reason", reason))
	return Result{Action: ActionDropped, Record: updated}, nil
}

func (d *Dispatcher) message(rec record.SendRecord, c content.Content) *mailer.Message {
	id := rec.ID.String()
	return &mailer.Message{
		From:    d.from,
		To:      rec.Recipient,
		Subject: c.Subject,
		Text:    c.Text,
		HTML:    c.HTML,
		Headers: map[string]string{"X-Send-Id": id},
		Tags: map[string]string{
			mailer.TagSendID:   id,
			mailer.TagTenantID: strconv.FormatInt(rec.TenantID, 10),
		},
	}
}

// attempt runs exactly one provider call bounded by the attempt timeout.
// The call runs on its own goroutine so a provider that ignores its context
// cannot hold the dispatcher past the deadline.
func (d *Dispatcher) attempt(ctx context.Context, msg *mailer.Message) mailer.Outcome {
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()

	type reply struct {
		err error
		out mailer.Outcome
	}
	done := make(chan reply, 1)
	start := time.Now()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- reply{out: mailer.Transient(fmt.Sprintf("panic: %v", r))}
			}
		}()
		out, err := d.provider.Deliver(actx, msg)
		done <- reply{out: out, err: err}
	}()

	var out mailer.Outcome
	select {
	case r := <-done:
		out = classify(r.out, r.err)
	case <-actx.Done():
		select {
		case r := <-done:
			out = classify(r.out, r.err)
		default:
			out = mailer.Transient(fmt.Sprintf("timeout after %s", d.timeout))
		}
	}

	metrics.ObserveProvider(d.providerName, out.Kind.String(), time.Since(start))
	return out
}

func classify(out mailer.Outcome, err error) mailer.Outcome {
	switch {
	case mailer.IsValidationError(err):
		return mailer.Permanent(err.Error())
	case err != nil:
		return mailer.Transient(err.Error())
	case out.Kind == 0:
		return mailer.Transient("provider returned no outcome")
	default:
		return out
	}
}

func (d *Dispatcher) commit(ctx context.Context, rec record.SendRecord, out mailer.Outcome) (Result, error) {
	switch out.Kind {
	case mailer.OutcomeDelivered:
		change := record.ChangeFrom(rec, record.StateSent, d.now().UTC())
		change.ProviderMessageID = out.MessageID
		if change.ProviderMessageID == "" {
			change.ProviderMessageID = rec.ID.String()
		}
		return d.finish(ctx, rec, change, ActionSent)

	case mailer.OutcomePermanent:
		change := record.ChangeFrom(rec, record.StateFailed, d.now().UTC())
		change.LastError = out.Reason
		return d.finish(ctx, rec, change, ActionFailed)

	default:
		updated, err := d.scheduler.HandleTransient(ctx, rec, out.Reason)
		if errors.Is(err, record.ErrStaleState) {
			d.log.WarnContext(ctx, "attempt outcome discarded, record changed during attempt")
			return Result{Action: ActionStale, Record: rec}, nil
		}
		if err != nil {
			return Result{Record: rec}, fmt.Errorf("dispatch: record transient failure: %w", err)
		}
		if updated.State == record.StateFailed {
			return Result{Action: ActionFailed, Record: updated}, nil
		}
		return Result{Action: ActionRetryScheduled, Record: updated}, nil
	}
}

func (d *Dispatcher) finish(ctx context.Context, rec record.SendRecord, change record.Change, action Action) (Result, error) {
	updated, err := d.store.Transition(ctx, change)
	if errors.Is(err, record.ErrStaleState) {
		d.log.WarnContext(ctx, "attempt outcome discarded, record changed during attempt",
			slog.String("outcome", string(action)),
		)
		return Result{Action: ActionStale, Record: rec}, nil
	}
	if err != nil {
		return Result{Record: rec}, fmt.Errorf("dispatch: commit %s: %w", action, err)
	}

	switch action {
	case ActionSent:
		d.log.InfoContext(ctx, "send delivered",
			logger.Email(rec.Recipient),
			slog.String("provider_message_id", updated.ProviderMessageID),
			slog.Int("attempt", updated.AttemptCount),
		)
	case ActionFailed:
		d.log.WarnContext(ctx, "send failed permanently",
			logger.Email(rec.Recipient),
			slog.String("reason", updated.LastError),
		)
	}
	return Result{Action: action, Record: updated}, nil
}
