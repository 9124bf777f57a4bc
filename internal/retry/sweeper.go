package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/icycon/emailengine/pkg/distlock"
	"github.com/icycon/emailengine/pkg/logger"
	"github.com/icycon/emailengine/pkg/record"
)

// ErrSkipped is returned by a sweep callback that left its record alone.
// Skipped records are not counted as processed.
var ErrSkipped = errors.New("retry: record skipped")

// Finder loads up to limit records that a sweep should process.
type Finder func(ctx context.Context, before time.Time, limit int) ([]record.SendRecord, error)

// Sweeper runs fn over the records returned by a Finder with bounded
// concurrency. One failing record never aborts the batch.
type Sweeper struct {
	find        Finder
	lock        distlock.Lock
	log         *slog.Logger
	name        string
	batch       int
	concurrency int
	running     sync.Mutex
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// WithBatch caps the number of records loaded per sweep. Default: 100.
func WithBatch(n int) SweeperOption {
	return func(s *Sweeper) {
		if n > 0 {
			s.batch = n
		}
	}
}

// WithConcurrency caps the number of records processed at once. Default: 8.
func WithConcurrency(n int) SweeperOption {
	return func(s *Sweeper) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithLock makes the sweep exclusive across processes.
func WithLock(l distlock.Lock) SweeperOption {
	return func(s *Sweeper) {
		s.lock = l
	}
}

func WithSweeperLogger(log *slog.Logger) SweeperOption {
	return func(s *Sweeper) {
		if log != nil {
			s.log = log
		}
	}
}

// NewSweeper creates a sweeper. name appears in logs.
func NewSweeper(name string, find Finder, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		name:        name,
		find:        find,
		batch:       100,
		concurrency: 8,
		log:         logger.NewNope(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sweep loads the records selected by before and applies fn to each.
// It returns the number of records fn handled without error. A sweep that
// is already running in this process, or whose lock is held elsewhere,
// processes nothing.
func (s *Sweeper) Sweep(ctx context.Context, before time.Time, fn func(context.Context, record.SendRecord) error) (int, error) {
	if !s.running.TryLock() {
		return 0, nil
	}
	defer s.running.Unlock()

	if s.lock != nil {
		ok, err := s.lock.Acquire(ctx)
		if err != nil {
			return 0, fmt.Errorf("retry: %s: acquire lock: %w", s.name, err)
		}
		if !ok {
			s.log.DebugContext(ctx, "sweep skipped, lock held elsewhere", slog.String("sweep", s.name))
			return 0, nil
		}
		defer func() {
			if err := s.lock.Release(context.WithoutCancel(ctx)); err != nil {
				s.log.WarnContext(ctx, "failed to release sweep lock",
					slog.String("sweep", s.name),
					slog.String("error", err.Error()),
				)
			}
		}()
	}

	recs, err := s.find(ctx, before, s.batch)
	if err != nil {
		return 0, fmt.Errorf("retry: %s: find records: %w", s.name, err)
	}
	if len(recs) == 0 {
		return 0, nil
	}

	var processed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for _, rec := range recs {
		g.Go(func() error {
			rctx := logger.WithTenantID(logger.WithSendID(gctx, rec.ID.String()), rec.TenantID)
			if err := fn(rctx, rec); err != nil {
				level := slog.LevelError
				if errors.Is(err, record.ErrStaleState) || errors.Is(err, ErrSkipped) {
					level = slog.LevelDebug
				}
				s.log.Log(rctx, level, "sweep record failed",
					slog.String("sweep", s.name),
					slog.String("error", err.Error()),
				)
				return nil
			}
			processed.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	n := int(processed.Load())
	s.log.InfoContext(ctx, "sweep finished",
		slog.String("sweep", s.name),
		slog.Int("found", len(recs)),
		slog.Int("processed", n),
	)
	return n, ctx.Err()
}
