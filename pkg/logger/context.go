package logger

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
)

type (
	sendIDKey   struct{}
	tenantIDKey struct{}
)

// WithSendID stores the send record id in ctx for log enrichment.
func WithSendID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sendIDKey{}, id)
}

// WithTenantID stores the tenant id in ctx for log enrichment.
func WithTenantID(ctx context.Context, tenantID int64) context.Context {
	return context.WithValue(ctx, tenantIDKey{}, tenantID)
}

// SendIDExtractor adds "send_id" to every record logged with a ctx from WithSendID.
func SendIDExtractor() ContextExtractor {
	return func(ctx context.Context) (slog.Attr, bool) {
		if id, ok := ctx.Value(sendIDKey{}).(string); ok && id != "" {
			return slog.String("send_id", id), true
		}
		return slog.Attr{}, false
	}
}

// TenantIDExtractor adds "tenant_id" to every record logged with a ctx from WithTenantID.
func TenantIDExtractor() ContextExtractor {
	return func(ctx context.Context) (slog.Attr, bool) {
		if id, ok := ctx.Value(tenantIDKey{}).(int64); ok {
			return slog.String("tenant_id", strconv.FormatInt(id, 10)), true
		}
		return slog.Attr{}, false
	}
}

// RedactEmail masks the local part of an address, keeping at most two leading
// characters and the domain.
func RedactEmail(email string) string {
	local, domain, ok := strings.Cut(email, "@")
	if !ok || strings.Contains(domain, "@") {
		return "***@***"
	}
	if len(local) > 2 {
		return local[:2] + "***@" + domain
	}
	return "***@" + domain
}

// Email returns a redacted "recipient" attribute.
func Email(addr string) slog.Attr {
	return slog.String("recipient", RedactEmail(addr))
}
