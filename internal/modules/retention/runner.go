package retention

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// DefaultSchedule runs the sweep once a day at 02:00.
const DefaultSchedule = "0 2 * * *"

// Runner invokes the sweeper on a cron schedule in a background goroutine.
//
// Sample usage:
//
//	runner, err := retention.NewRunner(log, sweeper, retention.NoopLocker{}, "0 2 * * *")
//	runner.Start()
//	defer runner.Stop()
type Runner struct {
	log      logrus.FieldLogger
	sweeper  *Sweeper
	locker   Locker
	schedule cron.Schedule
	now      func() time.Time

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// NewRunner parses expr as a standard five-field cron expression (descriptors
// such as "@daily" are accepted too).
func NewRunner(log logrus.FieldLogger, sweeper *Sweeper, locker Locker, expr string) (*Runner, error) {
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", expr, err)
	}
	if locker == nil {
		locker = NoopLocker{}
	}
	return &Runner{
		log:      log.WithField("component", "retention_runner"),
		sweeper:  sweeper,
		locker:   locker,
		schedule: schedule,
		now:      time.Now,
		done:     make(chan struct{}),
	}, nil
}

// Start the background loop.
func (r *Runner) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.log.Info("Started refresh token retention runner")
	go r.loop(ctx)
}

// Stop the loop and wait for it to exit. A sweep in progress stops after
// its current batch.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() {
		r.log.Info("Stopping refresh token retention runner")
		if r.cancel != nil {
			r.cancel()
			<-r.done
		}
		r.log.Info("Stopped refresh token retention runner")
	})
}

// RunOnce takes the lock and sweeps. It returns the deleted count, or
// skipped=true when another replica holds the lock.
func (r *Runner) RunOnce(ctx context.Context) (deleted int64, skipped bool, err error) {
	unlock, acquired, err := r.locker.TryLock(ctx)
	if err != nil {
		return 0, false, fmt.Errorf("acquire sweep lock: %w", err)
	}
	if !acquired {
		r.log.Debug("Sweep lock held elsewhere, skipping this run")
		return 0, true, nil
	}
	defer unlock()

	deleted, err = r.sweeper.Sweep(ctx)
	return deleted, false, err
}

func (r *Runner) loop(ctx context.Context) {
	defer close(r.done)

	timer := time.NewTimer(r.untilNext())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			if _, _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
				r.log.WithError(err).Error("Refresh token retention sweep failed")
			}
			timer.Reset(r.untilNext())
		}
	}
}

func (r *Runner) untilNext() time.Duration {
	now := r.now()
	d := r.schedule.Next(now).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}
