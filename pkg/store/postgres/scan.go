package postgres

import (
	"database/sql"
	"strings"
	"time"

	"github.com/icycon/emailengine/pkg/record"
)

type rowScanner interface {
	Scan(dest ...any) error
}

// scanRecord reads one row selected with recordColumns.
func scanRecord(row rowScanner) (record.SendRecord, error) {
	var (
		rec                                 record.SendRecord
		state                               string
		lastAttempted, completed, nextRetry sql.NullTime
	)

	err := row.Scan(
		&rec.ID,
		&rec.TenantID,
		&rec.Recipient,
		&rec.ContentRef,
		&rec.IdempotencyNonce,
		&state,
		&rec.AttemptCount,
		&rec.ProviderMessageID,
		&rec.LastError,
		&rec.Bounces,
		&rec.Complaints,
		&rec.CreatedAt,
		&rec.UpdatedAt,
		&lastAttempted,
		&completed,
		&nextRetry,
	)
	if err != nil {
		return record.SendRecord{}, err
	}

	rec.State = record.State(state)
	rec.LastAttemptedAt = nullTime(lastAttempted)
	rec.CompletedAt = nullTime(completed)
	rec.NextRetryAt = nullTime(nextRetry)

	return rec, nil
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func joinColumns(cols []string) string {
	return strings.Join(cols, ", ")
}
