package consent

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/icycon/emailengine/pkg/mailer"
)

const contactsTable = "email_contacts"

// Postgres reads and writes consent in the email_contacts table.
type Postgres struct {
	db  *sql.DB
	sb  sq.StatementBuilderType
	now func() time.Time
}

func NewPostgres(conn *sql.DB) *Postgres {
	return &Postgres{
		db:  conn,
		sb:  sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
		now: time.Now,
	}
}

func (p *Postgres) Subscribed(ctx context.Context, tenantID int64, email string) (bool, error) {
	query, args, err := p.sb.Select("subscribed").
		From(contactsTable).
		Where(sq.Eq{"tenant_id": tenantID, "email": mailer.NormalizeAddress(email)}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("consent: build query: %w", err)
	}

	var subscribed bool
	err = p.db.QueryRowContext(ctx, query, args...).Scan(&subscribed)
	if errors.Is(err, sql.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("consent: read contact: %w", err)
	}
	return subscribed, nil
}

func (p *Postgres) Unsubscribe(ctx context.Context, tenantID int64, email string) error {
	return p.upsert(ctx, tenantID, email, false)
}

func (p *Postgres) Resubscribe(ctx context.Context, tenantID int64, email string) error {
	return p.upsert(ctx, tenantID, email, true)
}

func (p *Postgres) upsert(ctx context.Context, tenantID int64, email string, subscribed bool) error {
	email = mailer.NormalizeAddress(email)
	if !mailer.ValidAddress(email) {
		return ErrInvalidEmail
	}

	column := "unsubscribed_at"
	if subscribed {
		column = "subscribed_at"
	}

	query, args, err := p.sb.Insert(contactsTable).
		Columns("tenant_id", "email", "subscribed", column).
		Values(tenantID, email, subscribed, p.now().UTC()).
		Suffix(fmt.Sprintf(
			"ON CONFLICT (tenant_id, email) DO UPDATE SET subscribed = EXCLUDED.subscribed, %[1]s = EXCLUDED.%[1]s",
			column,
		)).
		ToSql()
	if err != nil {
		return fmt.Errorf("consent: build query: %w", err)
	}

	if _, err := p.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("consent: write contact: %w", err)
	}
	return nil
}

var _ Manager = (*Postgres)(nil)
