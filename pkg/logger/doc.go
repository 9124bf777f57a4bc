// Package logger provides structured logging with context extraction and Sentry integration.
//
// Loggers are plain *slog.Logger values. Handlers are wrapped in a decorator
// that runs a list of ContextExtractor functions on every call, so attributes
// stored in the context (send id, tenant id) appear on each line without
// being passed explicitly:
//
//	log := logger.New(logger.SendIDExtractor(), logger.TenantIDExtractor())
//	ctx = logger.WithSendID(ctx, rec.ID.String())
//	log.InfoContext(ctx, "send delivered", logger.Email(rec.Recipient))
//	// {"level":"INFO","msg":"send delivered","recipient":"al***@example.com","send_id":"..."}
//
// Recipient addresses must go through RedactEmail (or the Email helper)
// before they reach a log line.
//
// # Sentry
//
// NewWithSentry fans records out to stdout and Sentry. Errors create Issues,
// warnings are stored as logs. With an empty DSN, or when Sentry fails to
// initialize, the logger writes to stdout only.
package logger
