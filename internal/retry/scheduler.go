// Package retry decides what happens after a transient delivery failure and
// periodically picks up records whose retry delay has elapsed.
package retry

import (
	"context"
	"log/slog"
	"time"

	"github.com/icycon/emailengine/pkg/logger"
	"github.com/icycon/emailengine/pkg/record"
)

// ExhaustedPrefix starts last_error when a record runs out of attempts.
const ExhaustedPrefix = "max retries exceeded: "

// Scheduler moves a sending record to retry_scheduled or failed.
type Scheduler struct {
	store  record.Store
	log    *slog.Logger
	now    func() time.Time
	policy Policy
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

func WithSchedulerLogger(log *slog.Logger) SchedulerOption {
	return func(s *Scheduler) {
		if log != nil {
			s.log = log
		}
	}
}

func WithSchedulerClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

func NewScheduler(store record.Store, policy Policy, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		store:  store,
		policy: policy,
		log:    logger.NewNope(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Policy returns the policy the scheduler applies.
func (s *Scheduler) Policy() Policy {
	return s.policy
}

// HandleTransient records a transient failure of rec, which must be in state
// sending. It returns record.ErrStaleState if another worker changed rec first.
func (s *Scheduler) HandleTransient(ctx context.Context, rec record.SendRecord, reason string) (record.SendRecord, error) {
	now := s.now().UTC()

	if s.policy.Exhausted(rec.AttemptCount) {
		change := record.ChangeFrom(rec, record.StateFailed, now)
		change.LastError = ExhaustedPrefix + reason

		updated, err := s.store.Transition(ctx, change)
		if err != nil {
			return rec, err
		}
		s.log.WarnContext(ctx, "send failed after retries",
			slog.Int("attempts", updated.AttemptCount),
			slog.String("reason", reason),
		)
		return updated, nil
	}

	next := now.Add(s.policy.Backoff(rec.AttemptCount))
	change := record.ChangeFrom(rec, record.StateRetryScheduled, now)
	change.LastError = reason
	change.NextRetryAt = &next

	updated, err := s.store.Transition(ctx, change)
	if err != nil {
		return rec, err
	}
	s.log.InfoContext(ctx, "send retry scheduled",
		slog.Int("attempt", updated.AttemptCount),
		slog.Time("next_retry_at", next),
		slog.String("reason", reason),
	)
	return updated, nil
}
