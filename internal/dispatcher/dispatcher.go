// Package dispatcher fans a session's frontier out to a pool of workers.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/sessioncrawler/internal/worker"
)

// DefaultPollInterval is how long an idle worker waits before popping again
// while other workers are still busy.
const DefaultPollInterval = 50 * time.Millisecond

// Processor handles one frontier entry. It reports false when the frontier was empty.
type Processor interface {
	ProcessNext(ctx context.Context, sessionID string, budget *worker.Budget) (bool, error)
}

// Config controls the pool.
type Config struct {
	PollInterval time.Duration
	// IdleTimeout ends the run when no entry was processed for this long. Zero disables it.
	IdleTimeout time.Duration
}

// Dispatcher runs workers until the session frontier is exhausted.
type Dispatcher struct {
	workers []Processor
	cfg     Config
	logger  *zap.Logger
}

// Stats summarizes one run.
type Stats struct {
	Processed int64
}

// New creates a Dispatcher.
func New(workers []Processor, cfg Config, logger *zap.Logger) *Dispatcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{workers: workers, cfg: cfg, logger: logger}
}

// run tracks pool-wide state shared by the worker goroutines.
type run struct {
	sessionID    string
	budget       *worker.Budget
	active       atomic.Int64
	processed    atomic.Int64
	lastProgress atomic.Int64
}

// Run blocks until every worker observed an empty frontier while no other
// worker was mid-entry, the budget ran out, or a worker failed. The first
// failure cancels the remaining workers and is returned.
func (d *Dispatcher) Run(ctx context.Context, sessionID string, budget *worker.Budget) (Stats, error) {
	if len(d.workers) == 0 {
		return Stats{}, errors.New("dispatcher has no workers")
	}
	r := &run{sessionID: sessionID, budget: budget}
	r.lastProgress.Store(time.Now().UnixNano())

	g, gctx := errgroup.WithContext(ctx)
	for i, w := range d.workers {
		logger := d.logger.With(zap.Int("worker", i), zap.String("session_id", sessionID))
		g.Go(func() error {
			return d.loop(gctx, w, r, logger)
		})
	}
	err := g.Wait()
	stats := Stats{Processed: r.processed.Load()}
	if err != nil {
		return stats, fmt.Errorf("run session %s: %w", sessionID, err)
	}
	return stats, nil
}

func (d *Dispatcher) loop(ctx context.Context, w Processor, r *run, logger *zap.Logger) error {
	for {
		// Mark busy before popping so peers never see an idle pool while an
		// entry is in flight.
		r.active.Add(1)
		processed, err := w.ProcessNext(ctx, r.sessionID, r.budget)
		remaining := r.active.Add(-1)
		if processed {
			r.processed.Add(1)
			r.lastProgress.Store(time.Now().UnixNano())
		}
		switch {
		case errors.Is(err, worker.ErrBudgetExhausted):
			logger.Info("max access count reached")
			return nil
		case err != nil:
			return err
		case processed:
			continue
		case remaining == 0:
			logger.Debug("frontier exhausted")
			return nil
		}

		if d.cfg.IdleTimeout > 0 && time.Since(time.Unix(0, r.lastProgress.Load())) > d.cfg.IdleTimeout {
			logger.Warn("idle timeout reached", zap.Duration("idle_timeout", d.cfg.IdleTimeout))
			return nil
		}
		timer := time.NewTimer(d.cfg.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("dispatcher wait: %w", ctx.Err())
		case <-timer.C:
		}
	}
}
