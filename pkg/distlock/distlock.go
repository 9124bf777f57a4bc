// Package distlock provides best-effort mutual exclusion across processes.
//
// Two backends are available: Redis (SET NX with a TTL and an ownership
// token) and PostgreSQL session advisory locks. A Lock value represents one
// lock key owned by one holder; it must not be acquired concurrently from
// several goroutines.
package distlock

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrNotHeld = errors.New("distlock: lock not held")

// Lock is a non-blocking distributed lock.
type Lock interface {
	// Acquire tries to take the lock and reports whether it succeeded.
	Acquire(ctx context.Context) (bool, error)
	// Release gives the lock up if this holder still owns it.
	Release(ctx context.Context) error
}

// New picks Redis when client is non-nil and falls back to a PostgreSQL
// advisory lock otherwise. It returns nil when neither backend is available.
func New(client redis.UniversalClient, db *sql.DB, key string, ttl time.Duration) Lock {
	switch {
	case client != nil:
		return NewRedisLock(client, key, ttl)
	case db != nil:
		return NewPGAdvisoryLock(db, key)
	default:
		return nil
	}
}
