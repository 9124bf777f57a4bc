// Package job runs background tasks on River, a PostgreSQL-backed queue.
//
// Tasks are registered by structural typing. A task is any value with a
// Name() string and a Handle(ctx, P) error method; the payload type P is
// inferred and decoded from JSON before Handle runs. Periodic tasks add a
// Schedule() string returning a five-field cron expression and take no
// payload.
//
//	type DispatchSend struct{ engine *emailengine.Engine }
//
//	func (t *DispatchSend) Name() string { return "dispatch_send" }
//	func (t *DispatchSend) Handle(ctx context.Context, p DispatchPayload) error { ... }
//
//	m, err := job.NewManager(pool,
//		job.WithTask(tasks.NewDispatchSend(engine)),
//		job.WithScheduledTask(tasks.NewRetrySweep(engine)),
//	)
//	err = m.Enqueue(ctx, "dispatch_send", DispatchPayload{...}, job.UniqueFor(time.Minute))
//
// Every task shares one River job kind; the task name travels inside the job
// arguments and selects the handler from the registry. River's own retries
// apply to task errors, so handlers should return an error only when running
// them again can help.
//
// Migrate creates or upgrades River's tables and must run before the manager
// starts.
package job
