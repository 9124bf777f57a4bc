// Package postgres implements record.Store on PostgreSQL.
//
// The store works on a database/sql handle so it can share the pgx pool
// through stdlib.OpenDBFromPool. Queries are built with squirrel using
// dollar placeholders. Every state transition is a single guarded UPDATE,
// which makes it the compare-and-set the dispatcher relies on; the history
// row is written in the same transaction.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/icycon/emailengine/pkg/db"
	"github.com/icycon/emailengine/pkg/record"
)

// Migrations holds the goose migrations for the engine tables.
//
//go:embed migrations/*.sql
var Migrations embed.FS

// MigrationsDir is the directory inside Migrations that holds the files.
const MigrationsDir = "migrations"

const (
	sendsTable  = "email_sends"
	eventsTable = "email_send_events"
)

var recordColumns = []string{
	"id",
	"tenant_id",
	"recipient",
	"content_ref",
	"idempotency_nonce",
	"state",
	"attempt_count",
	"provider_message_id",
	"last_error",
	"bounces",
	"complaints",
	"created_at",
	"updated_at",
	"last_attempted_at",
	"completed_at",
	"next_retry_at",
}

var eventColumns = []string{
	"send_id",
	"tenant_id",
	"from_state",
	"to_state",
	"attempt",
	"reason",
	"feedback",
	"created_at",
}

// Store is a PostgreSQL-backed record.Store.
type Store struct {
	db  *sql.DB
	sb  sq.StatementBuilderType
	now func() time.Time
}

// New creates a store on top of an open database handle.
func New(conn *sql.DB) *Store {
	return &Store{
		db:  conn,
		sb:  sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
		now: time.Now,
	}
}

func (s *Store) Create(ctx context.Context, rec record.SendRecord) (uuid.UUID, error) {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now().UTC()
	}

	insert, args, err := s.sb.Insert(sendsTable).
		Columns("id", "tenant_id", "recipient", "content_ref", "idempotency_nonce", "state", "created_at", "updated_at").
		Values(rec.ID, rec.TenantID, rec.Recipient, rec.ContentRef, rec.IdempotencyNonce, string(record.StateQueued), rec.CreatedAt, rec.CreatedAt).
		Suffix("ON CONFLICT (tenant_id, recipient, content_ref, idempotency_nonce) DO NOTHING RETURNING id").
		ToSql()
	if err != nil {
		return uuid.Nil, errors.Join(ErrBuildQuery, err)
	}

	var (
		id        uuid.UUID
		duplicate bool
	)
	err = db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, insert, args...).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			duplicate = true
			return s.existingID(ctx, tx, rec, &id)
		}
		if err != nil {
			return err
		}

		return s.insertEvent(ctx, tx, record.Event{
			SendID:    id,
			TenantID:  rec.TenantID,
			To:        record.StateQueued,
			CreatedAt: rec.CreatedAt,
		})
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("postgres: create send: %w", err)
	}
	if duplicate {
		return id, record.ErrDuplicateRequest
	}

	return id, nil
}

func (s *Store) existingID(ctx context.Context, tx *sql.Tx, rec record.SendRecord, id *uuid.UUID) error {
	query, args, err := s.sb.Select("id").From(sendsTable).Where(sq.Eq{
		"tenant_id":         rec.TenantID,
		"recipient":         rec.Recipient,
		"content_ref":       rec.ContentRef,
		"idempotency_nonce": rec.IdempotencyNonce,
	}).ToSql()
	if err != nil {
		return errors.Join(ErrBuildQuery, err)
	}
	return tx.QueryRowContext(ctx, query, args...).Scan(id)
}

func (s *Store) Get(ctx context.Context, tenantID int64, id uuid.UUID) (record.SendRecord, error) {
	query, args, err := s.sb.Select(recordColumns...).From(sendsTable).
		Where(sq.Eq{"id": id, "tenant_id": tenantID}).
		ToSql()
	if err != nil {
		return record.SendRecord{}, errors.Join(ErrBuildQuery, err)
	}

	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return record.SendRecord{}, record.ErrNotFound
	}
	if err != nil {
		return record.SendRecord{}, fmt.Errorf("postgres: get send: %w", err)
	}
	return rec, nil
}

func (s *Store) Transition(ctx context.Context, c record.Change) (record.SendRecord, error) {
	if err := c.Validate(); err != nil {
		return record.SendRecord{}, err
	}
	if c.At.IsZero() {
		c.At = s.now().UTC()
	}

	query, args, err := s.transitionQuery(c).ToSql()
	if err != nil {
		return record.SendRecord{}, errors.Join(ErrBuildQuery, err)
	}

	var rec record.SendRecord
	err = db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		rec, err = scanRecord(tx.QueryRowContext(ctx, query, args...))
		if errors.Is(err, sql.ErrNoRows) {
			return s.guardFailure(ctx, tx, c)
		}
		if err != nil {
			return err
		}

		return s.insertEvent(ctx, tx, record.Event{
			SendID:    rec.ID,
			TenantID:  rec.TenantID,
			From:      c.From,
			To:        c.To,
			Attempt:   rec.AttemptCount,
			Reason:    c.Reason(),
			CreatedAt: c.At,
		})
	})
	if errors.Is(err, record.ErrStaleState) || errors.Is(err, record.ErrNotFound) {
		return record.SendRecord{}, err
	}
	if err != nil {
		return record.SendRecord{}, fmt.Errorf("postgres: transition send: %w", err)
	}

	return rec, nil
}

// transitionQuery builds the guarded UPDATE for c. The field rules mirror
// record.Change.Apply.
func (s *Store) transitionQuery(c record.Change) sq.UpdateBuilder {
	upd := s.sb.Update(sendsTable).
		Set("state", string(c.To)).
		Set("updated_at", c.At)

	switch c.To {
	case record.StateSending:
		upd = upd.
			Set("attempt_count", sq.Expr("attempt_count + 1")).
			Set("last_attempted_at", c.At).
			Set("next_retry_at", nil).
			Set("last_error", "")
	case record.StateSent:
		upd = upd.
			Set("provider_message_id", c.ProviderMessageID).
			Set("completed_at", c.At).
			Set("next_retry_at", nil).
			Set("last_error", "")
	case record.StateRetryScheduled:
		upd = upd.
			Set("next_retry_at", *c.NextRetryAt).
			Set("last_error", c.LastError)
	case record.StateFailed, record.StateDropped:
		upd = upd.
			Set("last_error", c.LastError).
			Set("completed_at", c.At).
			Set("next_retry_at", nil)
	}

	return upd.
		Where(sq.Eq{
			"id":            c.ID,
			"tenant_id":     c.TenantID,
			"state":         string(c.From),
			"attempt_count": c.ExpectedAttempts,
		}).
		Suffix("RETURNING " + joinColumns(recordColumns))
}

// guardFailure tells a missing record apart from a lost compare-and-set.
func (s *Store) guardFailure(ctx context.Context, tx *sql.Tx, c record.Change) error {
	query, args, err := s.sb.Select("1").From(sendsTable).
		Where(sq.Eq{"id": c.ID, "tenant_id": c.TenantID}).
		ToSql()
	if err != nil {
		return errors.Join(ErrBuildQuery, err)
	}

	var one int
	err = tx.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return record.ErrNotFound
	}
	if err != nil {
		return err
	}
	return record.ErrStaleState
}

func (s *Store) FindDueRetries(ctx context.Context, before time.Time, limit int) ([]record.SendRecord, error) {
	return s.find(ctx, s.sb.Select(recordColumns...).From(sendsTable).
		Where(sq.Eq{"state": string(record.StateRetryScheduled)}).
		Where(sq.LtOrEq{"next_retry_at": before}).
		OrderBy("next_retry_at ASC", "id ASC"), limit)
}

func (s *Store) FindStale(ctx context.Context, before time.Time, limit int) ([]record.SendRecord, error) {
	return s.find(ctx, s.sb.Select(recordColumns...).From(sendsTable).
		Where(sq.Eq{"state": string(record.StateSending)}).
		Where(sq.LtOrEq{"last_attempted_at": before}).
		OrderBy("last_attempted_at ASC", "id ASC"), limit)
}

func (s *Store) FindPending(ctx context.Context, before time.Time, limit int) ([]record.SendRecord, error) {
	return s.find(ctx, s.sb.Select(recordColumns...).From(sendsTable).
		Where(sq.Eq{"state": string(record.StateQueued)}).
		Where(sq.LtOrEq{"created_at": before}).
		OrderBy("created_at ASC", "id ASC"), limit)
}

func (s *Store) List(ctx context.Context, f record.ListFilter) ([]record.SendRecord, error) {
	q := s.sb.Select(recordColumns...).From(sendsTable).
		Where(sq.Eq{"tenant_id": f.TenantID}).
		OrderBy("created_at DESC", "id DESC")
	if f.State != "" {
		q = q.Where(sq.Eq{"state": string(f.State)})
	}
	return s.find(ctx, q, f.Limit)
}

func (s *Store) find(ctx context.Context, q sq.SelectBuilder, limit int) ([]record.SendRecord, error) {
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, errors.Join(ErrBuildQuery, err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: find sends: %w", err)
	}
	defer rows.Close()

	var out []record.SendRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan send: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: find sends: %w", err)
	}

	return out, nil
}

func (s *Store) RecordFeedback(ctx context.Context, tenantID int64, providerMessageID string, kind record.FeedbackKind, at time.Time) (record.SendRecord, error) {
	var counter string
	switch kind {
	case record.FeedbackBounce:
		counter = "bounces"
	case record.FeedbackComplaint:
		counter = "complaints"
	default:
		return record.SendRecord{}, record.ErrInvalidFeedback
	}

	query, args, err := s.sb.Update(sendsTable).
		Set(counter, sq.Expr(counter+" + 1")).
		Set("updated_at", at).
		Where(sq.Eq{"provider_message_id": providerMessageID, "tenant_id": tenantID, "state": string(record.StateSent)}).
		Suffix("RETURNING " + joinColumns(recordColumns)).
		ToSql()
	if err != nil {
		return record.SendRecord{}, errors.Join(ErrBuildQuery, err)
	}

	var rec record.SendRecord
	err = db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		rec, err = scanRecord(tx.QueryRowContext(ctx, query, args...))
		if errors.Is(err, sql.ErrNoRows) {
			return record.ErrNotFound
		}
		if err != nil {
			return err
		}

		return s.insertEvent(ctx, tx, record.Event{
			SendID:    rec.ID,
			TenantID:  rec.TenantID,
			From:      rec.State,
			To:        rec.State,
			Attempt:   rec.AttemptCount,
			Feedback:  kind,
			CreatedAt: at,
		})
	})
	if errors.Is(err, record.ErrNotFound) {
		return record.SendRecord{}, err
	}
	if err != nil {
		return record.SendRecord{}, fmt.Errorf("postgres: record feedback: %w", err)
	}

	return rec, nil
}

func (s *Store) History(ctx context.Context, tenantID int64, id uuid.UUID) ([]record.Event, error) {
	query, args, err := s.sb.Select(eventColumns...).From(eventsTable).
		Where(sq.Eq{"send_id": id, "tenant_id": tenantID}).
		OrderBy("id ASC").
		ToSql()
	if err != nil {
		return nil, errors.Join(ErrBuildQuery, err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: send history: %w", err)
	}
	defer rows.Close()

	var events []record.Event
	for rows.Next() {
		var (
			ev             record.Event
			from, to, fdbk string
		)
		if err := rows.Scan(&ev.SendID, &ev.TenantID, &from, &to, &ev.Attempt, &ev.Reason, &fdbk, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		ev.From = record.State(from)
		ev.To = record.State(to)
		ev.Feedback = record.FeedbackKind(fdbk)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: send history: %w", err)
	}

	// Every record gets a creation event, so no rows means no record.
	if len(events) == 0 {
		return nil, record.ErrNotFound
	}

	return events, nil
}

func (s *Store) insertEvent(ctx context.Context, tx *sql.Tx, ev record.Event) error {
	query, args, err := s.sb.Insert(eventsTable).
		Columns(eventColumns...).
		Values(ev.SendID, ev.TenantID, string(ev.From), string(ev.To), ev.Attempt, ev.Reason, string(ev.Feedback), ev.CreatedAt).
		ToSql()
	if err != nil {
		return errors.Join(ErrBuildQuery, err)
	}

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return errors.Join(ErrInsertEvent, err)
	}
	return nil
}

var _ record.Store = (*Store)(nil)
