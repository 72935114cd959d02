package webhooks

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"meetinghooks/internal/logging"
	"meetinghooks/internal/store"
)

// Janitor enforces delivery log retention.
type Janitor struct {
	Store     store.Store
	Retention time.Duration
	Interval  time.Duration
	Clock     Clock

	log    zerolog.Logger
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewJanitor(st store.Store, retention, interval time.Duration) *Janitor {
	return &Janitor{Store: st, Retention: retention, Interval: interval, Clock: SystemClock{}, log: logging.NewLogger("janitor")}
}

// Start runs a purge immediately and then on every interval.
func (j *Janitor) Start(ctx context.Context) {
	if j.Retention <= 0 || j.Interval <= 0 {
		j.log.Info().Msg("log retention disabled")
		return
	}
	ctx, j.cancel = context.WithCancel(ctx)
	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		ticker := time.NewTicker(j.Interval)
		defer ticker.Stop()
		for {
			if _, _, err := j.RunOnce(ctx); err != nil && ctx.Err() == nil {
				j.log.Error().Err(err).Msg("purge failed")
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

func (j *Janitor) Stop() {
	if j.cancel != nil {
		j.cancel()
	}
	j.wg.Wait()
}

// RunOnce deletes attempts and finished jobs older than the retention window.
func (j *Janitor) RunOnce(ctx context.Context) (attempts, jobs int64, err error) {
	cutoff := j.Clock.Now().Add(-j.Retention)
	if attempts, err = j.Store.PurgeAttempts(ctx, cutoff); err != nil {
		return 0, 0, err
	}
	if jobs, err = j.Store.PurgeJobs(ctx, cutoff); err != nil {
		return attempts, 0, err
	}
	if attempts > 0 || jobs > 0 {
		j.log.Info().Int64("attempts", attempts).Int64("jobs", jobs).Time("cutoff", cutoff).Msg("purged delivery history")
	}
	return attempts, jobs, nil
}
