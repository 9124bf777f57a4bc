// Package tasks binds the engine operations to background jobs.
//
// DispatchSend runs once per submitted send. The three periodic tasks keep
// the pipeline moving when a job is lost or a worker dies mid-attempt.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/icycon/emailengine/internal/dispatch"
	"github.com/icycon/emailengine/pkg/job"
	"github.com/icycon/emailengine/pkg/logger"
	"github.com/icycon/emailengine/pkg/record"
)

// Task names.
const (
	NameDispatchSend  = "dispatch_send"
	NameRetrySweep    = "retry_sweep"
	NameStaleRecovery = "stale_recovery"
	NamePendingSweep  = "pending_sweep"
)

// Engine is the subset of the engine the tasks drive.
type Engine interface {
	Dispatch(ctx context.Context, tenantID int64, id uuid.UUID) (dispatch.Result, error)
	RunRetrySweep(ctx context.Context, now time.Time) (int, error)
	RecoverStale(ctx context.Context, now time.Time) (int, error)
	DispatchPending(ctx context.Context, now time.Time) (int, error)
}

// Enqueuer inserts background jobs. Satisfied by *job.Manager.
type Enqueuer interface {
	Enqueue(ctx context.Context, name string, payload any, opts ...job.EnqueueOption) error
}

// DispatchPayload identifies the send a DispatchSend job delivers.
type DispatchPayload struct {
	SendID   string `json:"send_id"`
	TenantID int64  `json:"tenant_id"`
}

// DispatchSend delivers one send.
type DispatchSend struct {
	engine Engine
	log    *slog.Logger
}

func NewDispatchSend(engine Engine, log *slog.Logger) *DispatchSend {
	if log == nil {
		log = logger.NewNope()
	}
	return &DispatchSend{engine: engine, log: log}
}

func (t *DispatchSend) Name() string { return NameDispatchSend }

// Handle dispatches the send. Lookup failures are returned so the job
// is retried; a send that no longer exists is not.
func (t *DispatchSend) Handle(ctx context.Context, p DispatchPayload) error {
	id, err := uuid.Parse(p.SendID)
	if err != nil {
		return errors.Join(job.ErrInvalidPayload, err)
	}
	ctx = logger.WithTenantID(logger.WithSendID(ctx, p.SendID), p.TenantID)

	res, err := t.engine.Dispatch(ctx, p.TenantID, id)
	if errors.Is(err, record.ErrNotFound) {
		t.log.WarnContext(ctx, "dispatch job for unknown send")
		return nil
	}
	if err != nil {
		return fmt.Errorf("tasks: dispatch send: %w", err)
	}

	t.log.DebugContext(ctx, "dispatch job done", slog.String("action", string(res.Action)))
	return nil
}

// EnqueueDispatch returns a submit hook that schedules a DispatchSend job
// for each new send. The job is unique per send for an hour so a repeated
// hook call never double-enqueues.
func EnqueueDispatch(enq Enqueuer) func(ctx context.Context, tenantID int64, id uuid.UUID) error {
	return func(ctx context.Context, tenantID int64, id uuid.UUID) error {
		return enq.Enqueue(ctx, NameDispatchSend,
			DispatchPayload{SendID: id.String(), TenantID: tenantID},
			job.UniqueFor(time.Hour),
			job.Tags("send"),
		)
	}
}

// sweepTask runs one engine sweep on a cron schedule.
type sweepTask struct {
	run      func(ctx context.Context, now time.Time) (int, error)
	now      func() time.Time
	log      *slog.Logger
	name     string
	schedule string
}

func (t *sweepTask) Name() string     { return t.name }
func (t *sweepTask) Schedule() string { return t.schedule }

func (t *sweepTask) Handle(ctx context.Context) error {
	n, err := t.run(ctx, t.now())
	if err != nil {
		return fmt.Errorf("tasks: %s: %w", t.name, err)
	}
	if n > 0 {
		t.log.InfoContext(ctx, "sweep task processed records",
			slog.String("task", t.name),
			slog.Int("processed", n),
		)
	}
	return nil
}

// Schedules holds the cron expressions of the periodic tasks.
type Schedules struct {
	RetrySweep    string `env:"EMAILENGINE_RETRY_SWEEP_SCHEDULE" yaml:"retry_sweep_schedule" validate:"required"`
	StaleRecovery string `env:"EMAILENGINE_STALE_RECOVERY_SCHEDULE" yaml:"stale_recovery_schedule" validate:"required"`
	PendingSweep  string `env:"EMAILENGINE_PENDING_SWEEP_SCHEDULE" yaml:"pending_sweep_schedule" validate:"required"`
}

// DefaultSchedules runs the retry and pending sweeps every minute and stale
// recovery every five minutes.
func DefaultSchedules() Schedules {
	return Schedules{
		RetrySweep:    "* * * * *",
		StaleRecovery: "*/5 * * * *",
		PendingSweep:  "* * * * *",
	}
}

// Options returns the job manager options registering every task.
func Options(engine Engine, s Schedules, log *slog.Logger) []job.Option {
	if log == nil {
		log = logger.NewNope()
	}
	periodic := func(name, schedule string, run func(context.Context, time.Time) (int, error)) *sweepTask {
		return &sweepTask{name: name, schedule: schedule, run: run, now: time.Now, log: log}
	}

	return []job.Option{
		job.WithTask[DispatchPayload](NewDispatchSend(engine, log)),
		job.WithScheduledTask(periodic(NameRetrySweep, s.RetrySweep, engine.RunRetrySweep)),
		job.WithScheduledTask(periodic(NameStaleRecovery, s.StaleRecovery, engine.RecoverStale)),
		job.WithScheduledTask(periodic(NamePendingSweep, s.PendingSweep, engine.DispatchPending)),
	}
}
