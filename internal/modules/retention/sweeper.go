package retention

import (
	"context"
	"fmt"
	"time"

	"tokenkeeper/internal/metrics"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultGrace keeps expired tokens around for a day for post-expiry
	// audit queries.
	DefaultGrace     = 24 * time.Hour
	DefaultBatchSize = 500
)

// ExpiredDeleter is the part of the refresh token store the sweeper needs.
type ExpiredDeleter interface {
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}

type SweeperOption func(*Sweeper)

func WithGrace(grace time.Duration) SweeperOption {
	return func(s *Sweeper) { s.grace = grace }
}

// WithBatchSize bounds the rows deleted per statement. Zero or less deletes
// everything in one statement.
func WithBatchSize(n int) SweeperOption {
	return func(s *Sweeper) { s.batchSize = n }
}

func WithClock(now func() time.Time) SweeperOption {
	return func(s *Sweeper) { s.now = now }
}

func WithMetrics(m metrics.API) SweeperOption {
	return func(s *Sweeper) { s.metrics = m }
}

// Sweeper purges refresh tokens whose expiry is older than now - grace.
type Sweeper struct {
	store     ExpiredDeleter
	log       logrus.FieldLogger
	metrics   metrics.API
	now       func() time.Time
	grace     time.Duration
	batchSize int
}

func NewSweeper(store ExpiredDeleter, log logrus.FieldLogger, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		store:     store,
		log:       log,
		metrics:   metrics.Noop{},
		now:       time.Now,
		grace:     DefaultGrace,
		batchSize: DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sweep deletes in batches until a short batch comes back. Cancelling ctx
// stops the sweep between batches; a batch already sent to the database is
// allowed to finish. The number of deleted rows is returned even on error.
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	start := s.now()
	cutoff := start.UTC().Add(-s.grace)
	batchCtx := context.WithoutCancel(ctx)

	var total int64
	for {
		if err := ctx.Err(); err != nil {
			s.finish(total, cutoff, start)
			return total, err
		}
		n, err := s.store.DeleteExpiredBefore(batchCtx, cutoff, s.batchSize)
		total += n
		if err != nil {
			s.finish(total, cutoff, start)
			return total, fmt.Errorf("sweep expired refresh tokens: %w", err)
		}
		if s.batchSize <= 0 || n < int64(s.batchSize) {
			break
		}
	}
	s.finish(total, cutoff, start)
	return total, nil
}

func (s *Sweeper) finish(total int64, cutoff, start time.Time) {
	s.metrics.TokensSwept(total)
	if total == 0 {
		s.log.WithField("cutoff", cutoff.Format(time.RFC3339)).Debug("No expired refresh tokens to clean up")
		return
	}
	s.log.WithFields(logrus.Fields{
		"deleted":  total,
		"cutoff":   cutoff.Format(time.RFC3339),
		"duration": s.now().Sub(start).String(),
	}).Info("Cleaned up expired refresh tokens")
}
