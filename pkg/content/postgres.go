package content

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

// Postgres resolves references from the email_templates table.
type Postgres struct {
	db *sql.DB
	sb sq.StatementBuilderType
}

func NewPostgres(conn *sql.DB) *Postgres {
	return &Postgres{db: conn, sb: sq.StatementBuilder.PlaceholderFormat(sq.Dollar)}
}

func (p *Postgres) Resolve(ctx context.Context, tenantID int64, ref string) (Content, error) {
	query, args, err := p.sb.Select("subject", "body_text", "body_html").
		From("email_templates").
		Where(sq.Eq{"tenant_id": tenantID, "ref": ref}).
		ToSql()
	if err != nil {
		return Content{}, fmt.Errorf("content: build query: %w", err)
	}

	var (
		c    Content
		html sql.NullString
	)
	err = p.db.QueryRowContext(ctx, query, args...).Scan(&c.Subject, &c.Text, &html)
	if errors.Is(err, sql.ErrNoRows) {
		return Content{}, ErrNotFound
	}
	if err != nil {
		return Content{}, fmt.Errorf("content: read template: %w", err)
	}
	c.HTML = html.String

	return c, nil
}
