// Package session runs one crawl session from seeds to an exhausted frontier.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sessioncrawler/internal/crawler"
	"github.com/JakeFAU/sessioncrawler/internal/dispatcher"
	"github.com/JakeFAU/sessioncrawler/internal/filter"
	"github.com/JakeFAU/sessioncrawler/internal/metrics"
	"github.com/JakeFAU/sessioncrawler/internal/policy/hostguard"
	"github.com/JakeFAU/sessioncrawler/internal/worker"
)

// Outcome values reported in Summary and metrics.
const (
	OutcomeCompleted = "completed"
	OutcomeCanceled  = "canceled"
	OutcomeFailed    = "failed"
)

// Options tune a single run.
type Options struct {
	// SessionID reuses an existing session; empty generates a new one.
	SessionID      string
	Concurrency    int
	MaxDepth       int
	MaxAccessCount int64
	PollInterval   time.Duration
	IdleTimeout    time.Duration
	// ClearOnFinish drops the session's frontier and filter patterns after the run.
	ClearOnFinish bool
	Includes      []string
	Excludes      []string
	// Topic receives one notification per stored result.
	Topic string
	// MaxForbiddenResponses blocks a host for the rest of the run after this
	// many 403 or 429 responses. Zero disables blocking.
	MaxForbiddenResponses int
}

// Summary describes a finished run.
type Summary struct {
	SessionID string
	Outcome   string
	Processed int64
	Results   int64
	Duration  time.Duration
}

// Deps groups the collaborators shared by every session.
type Deps struct {
	IDs         crawler.IDGenerator
	Queue       crawler.URLQueueStore
	Results     crawler.AccessResultStore
	Filters     crawler.URLFilterStore
	FilterCfg   filter.Config
	Client      crawler.Client
	Transformer crawler.Transformer
	Archiver    worker.Archiver
	Publisher   crawler.Publisher
	Clock       crawler.Clock
}

// Crawler starts sessions and tears them down.
type Crawler struct {
	deps   Deps
	logger *zap.Logger
}

// New validates deps and returns a Crawler.
func New(deps Deps, logger *zap.Logger) (*Crawler, error) {
	switch {
	case deps.IDs == nil:
		return nil, fmt.Errorf("%w: id generator is required", crawler.ErrConfiguration)
	case deps.Queue == nil:
		return nil, fmt.Errorf("%w: url queue store is required", crawler.ErrConfiguration)
	case deps.Results == nil:
		return nil, fmt.Errorf("%w: access result store is required", crawler.ErrConfiguration)
	case deps.Filters == nil:
		return nil, fmt.Errorf("%w: url filter store is required", crawler.ErrConfiguration)
	case deps.Client == nil:
		return nil, fmt.Errorf("%w: protocol client is required", crawler.ErrConfiguration)
	case deps.Clock == nil:
		return nil, fmt.Errorf("%w: clock is required", crawler.ErrConfiguration)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &Crawler{deps: deps, logger: logger}, nil
}

// Run crawls from seeds until the frontier is exhausted, the access budget is
// spent, ctx ends, or a store becomes unavailable.
func (c *Crawler) Run(ctx context.Context, seeds []string, opts Options) (Summary, error) {
	start := time.Now()
	sessionID, err := c.sessionID(opts)
	if err != nil {
		return Summary{}, err
	}
	logger := c.logger.With(zap.String("session_id", sessionID))
	summary := Summary{SessionID: sessionID, Outcome: OutcomeFailed}

	urlFilter, err := c.prepareFilter(ctx, sessionID, seeds, opts)
	if err != nil {
		return summary, err
	}
	if err := c.pushSeeds(ctx, sessionID, seeds, logger); err != nil {
		return summary, err
	}

	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	workerCfg := worker.Config{MaxDepth: opts.MaxDepth, Topic: opts.Topic}
	if guard := hostguard.New(opts.MaxForbiddenResponses); guard != nil {
		workerCfg.Guard = guard
	}
	workers := make([]dispatcher.Processor, concurrency)
	for i := range workers {
		workers[i] = worker.New(
			c.deps.Queue,
			c.deps.Results,
			urlFilter,
			c.deps.Client,
			c.deps.Transformer,
			c.deps.Archiver,
			c.deps.Publisher,
			c.deps.Clock,
			workerCfg,
			logger.Named("worker"),
		)
	}
	pool := dispatcher.New(workers, dispatcher.Config{
		PollInterval: opts.PollInterval,
		IdleTimeout:  opts.IdleTimeout,
	}, logger.Named("dispatcher"))

	logger.Info("crawl session started", zap.Int("seeds", len(seeds)), zap.Int("concurrency", concurrency))
	stats, runErr := pool.Run(ctx, sessionID, worker.NewBudget(opts.MaxAccessCount))
	summary.Processed = stats.Processed
	switch {
	case runErr == nil:
		summary.Outcome = OutcomeCompleted
	case errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded):
		summary.Outcome = OutcomeCanceled
	}
	metrics.ObserveSession(summary.Outcome)

	// Teardown must run even when the caller's context is already done.
	teardownCtx := context.WithoutCancel(ctx)
	if count, err := c.deps.Results.Count(teardownCtx, sessionID); err == nil {
		summary.Results = count
	} else {
		logger.Warn("count access results failed", zap.Error(err))
	}
	if opts.ClearOnFinish {
		if err := c.clearFrontier(teardownCtx, sessionID, urlFilter); err != nil {
			runErr = errors.Join(runErr, err)
		}
	}
	summary.Duration = time.Since(start)

	logger.Info("crawl session finished",
		zap.String("outcome", summary.Outcome),
		zap.Int64("processed", summary.Processed),
		zap.Int64("results", summary.Results),
		zap.Duration("duration", summary.Duration),
	)
	if runErr != nil {
		return summary, fmt.Errorf("crawl session %s: %w", sessionID, runErr)
	}
	return summary, nil
}

// Cleanup removes every record of sessionID: frontier, filter patterns and results.
func (c *Crawler) Cleanup(ctx context.Context, sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return fmt.Errorf("%w: session id is empty", crawler.ErrConfiguration)
	}
	return errors.Join(
		wrap("delete queue", c.deps.Queue.DeleteBySession(ctx, sessionID)),
		wrap("delete filter", c.deps.Filters.DeleteBySession(ctx, sessionID)),
		wrap("delete results", c.deps.Results.DeleteBySession(ctx, sessionID)),
	)
}

// CleanupAll removes the frontier, filter patterns and results of every session.
func (c *Crawler) CleanupAll(ctx context.Context) error {
	return errors.Join(
		wrap("delete all queues", c.deps.Queue.DeleteAll(ctx)),
		wrap("delete all filters", c.deps.Filters.DeleteAll(ctx)),
		wrap("delete all results", c.deps.Results.DeleteAll(ctx)),
	)
}

// Pending reports the frontier size of sessionID.
func (c *Crawler) Pending(ctx context.Context, sessionID string) (int64, error) {
	n, err := c.deps.Queue.Count(ctx, sessionID)
	if err != nil {
		return 0, fmt.Errorf("count queue: %w", err)
	}
	return n, nil
}

// Results reports the stored result count of sessionID.
func (c *Crawler) Results(ctx context.Context, sessionID string) (int64, error) {
	n, err := c.deps.Results.Count(ctx, sessionID)
	if err != nil {
		return 0, fmt.Errorf("count results: %w", err)
	}
	return n, nil
}

func (c *Crawler) sessionID(opts Options) (string, error) {
	if id := strings.TrimSpace(opts.SessionID); id != "" {
		return id, nil
	}
	id, err := c.deps.IDs.NewID()
	if err != nil {
		return "", fmt.Errorf("new session id: %w", err)
	}
	return id, nil
}

func (c *Crawler) prepareFilter(ctx context.Context, sessionID string, seeds []string, opts Options) (*filter.URLFilter, error) {
	urlFilter, err := filter.New(c.deps.Filters, c.deps.FilterCfg, c.logger.Named("filter"))
	if err != nil {
		return nil, err
	}
	for _, p := range opts.Includes {
		if err := urlFilter.AddInclude(ctx, p); err != nil {
			return nil, err
		}
	}
	for _, p := range opts.Excludes {
		if err := urlFilter.AddExclude(ctx, p); err != nil {
			return nil, err
		}
	}
	for _, seed := range seeds {
		if err := urlFilter.ProcessURL(ctx, strings.TrimSpace(seed)); err != nil {
			return nil, err
		}
	}
	if err := urlFilter.Init(ctx, sessionID); err != nil {
		return nil, fmt.Errorf("init url filter: %w", err)
	}
	return urlFilter, nil
}

func (c *Crawler) pushSeeds(ctx context.Context, sessionID string, seeds []string, logger *zap.Logger) error {
	queued := 0
	for _, seed := range seeds {
		seed = strings.TrimSpace(seed)
		if seed == "" {
			continue
		}
		ok, err := c.deps.Queue.Push(ctx, sessionID, crawler.NewGetRequest(seed), nil)
		if err != nil {
			return fmt.Errorf("push seed %s: %w", seed, err)
		}
		metrics.ObservePush(ok)
		if ok {
			queued++
		}
	}
	if queued == 0 {
		logger.Warn("no seeds queued")
	}
	return nil
}

func (c *Crawler) clearFrontier(ctx context.Context, sessionID string, urlFilter *filter.URLFilter) error {
	return errors.Join(
		wrap("delete queue", c.deps.Queue.DeleteBySession(ctx, sessionID)),
		wrap("clear filter", urlFilter.Clear(ctx)),
	)
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}
