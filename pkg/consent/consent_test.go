package consent_test

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/icycon/emailengine/pkg/consent"
)

func TestStatic(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := consent.NewStatic()

	ok, err := s.Subscribed(ctx, 1, "a@example.com")
	require.NoError(t, err)
	assert.True(t, ok, "unknown recipient is subscribed")

	require.NoError(t, s.Unsubscribe(ctx, 1, "a@EXAMPLE.com"))

	ok, _ = s.Subscribed(ctx, 1, "a@example.com")
	assert.False(t, ok)

	ok, _ = s.Subscribed(ctx, 2, "a@example.com")
	assert.True(t, ok, "consent is scoped per tenant")

	require.NoError(t, s.Resubscribe(ctx, 1, "a@example.com"))
	ok, _ = s.Subscribed(ctx, 1, "a@example.com")
	assert.True(t, ok)

	require.ErrorIs(t, s.Unsubscribe(ctx, 1, "nope"), consent.ErrInvalidEmail)
}

func TestAllowAll(t *testing.T) {
	t.Parallel()

	ok, err := consent.AllowAll.Subscribed(context.Background(), 7, "x@example.com")
	require.NoError(t, err)
	assert.True(t, ok)
}

func newPostgres(t *testing.T) (*consent.Postgres, sqlmock.Sqlmock) {
	t.Helper()

	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return consent.NewPostgres(conn), mock
}

func TestPostgres_Subscribed(t *testing.T) {
	t.Parallel()

	query := regexp.QuoteMeta("SELECT subscribed FROM email_contacts WHERE email = $1 AND tenant_id = $2")

	t.Run("missing row means subscribed", func(t *testing.T) {
		t.Parallel()

		p, mock := newPostgres(t)
		mock.ExpectQuery(query).
			WithArgs("a@example.com", int64(1)).
			WillReturnRows(sqlmock.NewRows([]string{"subscribed"}))

		ok, err := p.Subscribed(context.Background(), 1, "a@Example.COM")
		require.NoError(t, err)
		assert.True(t, ok)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unsubscribed row", func(t *testing.T) {
		t.Parallel()

		p, mock := newPostgres(t)
		mock.ExpectQuery(query).
			WillReturnRows(sqlmock.NewRows([]string{"subscribed"}).AddRow(false))

		ok, err := p.Subscribed(context.Background(), 1, "a@example.com")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("read error is returned", func(t *testing.T) {
		t.Parallel()

		p, mock := newPostgres(t)
		mock.ExpectQuery(query).WillReturnError(errors.New("connection reset"))

		_, err := p.Subscribed(context.Background(), 1, "a@example.com")
		require.Error(t, err)
	})
}

func TestPostgres_Unsubscribe(t *testing.T) {
	t.Parallel()

	p, mock := newPostgres(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO email_contacts (tenant_id,email,subscribed,unsubscribed_at)")).
		WithArgs(int64(3), "b@example.com", false, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DO UPDATE SET subscribed = EXCLUDED.subscribed, subscribed_at = EXCLUDED.subscribed_at")).
		WithArgs(int64(3), "b@example.com", true, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, p.Unsubscribe(context.Background(), 3, "b@example.com"))
	require.NoError(t, p.Resubscribe(context.Background(), 3, "b@example.com"))
	require.ErrorIs(t, p.Unsubscribe(context.Background(), 3, "broken"), consent.ErrInvalidEmail)
	require.NoError(t, mock.ExpectationsWereMet())
}
