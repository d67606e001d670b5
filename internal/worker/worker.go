// Package worker implements the per-entry crawl pipeline.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/JakeFAU/sessioncrawler/internal/crawler"
	"github.com/JakeFAU/sessioncrawler/internal/metrics"
	"github.com/JakeFAU/sessioncrawler/internal/telemetry"
)

// Config controls Worker behavior.
type Config struct {
	// MaxDepth stops link expansion below this depth. Negative means unlimited.
	MaxDepth int
	// Topic receives a notification per stored result when a publisher is set.
	Topic string
	// Guard skips hosts that keep refusing requests. Nil allows every host.
	Guard HostGuard
}

// HostGuard tracks refusals per host.
type HostGuard interface {
	Allow(url string) bool
	Observe(url string, statusCode int) bool
}

// Archiver copies stored payloads to a blob store.
type Archiver interface {
	Archive(ctx context.Context, result *crawler.AccessResult) (string, error)
}

// Worker pops one entry at a time and carries it through filter, fetch,
// transform and persistence.
type Worker struct {
	queue       crawler.URLQueueStore
	results     crawler.AccessResultStore
	filter      crawler.URLFilter
	client      crawler.Client
	transformer crawler.Transformer
	archiver    Archiver
	publisher   crawler.Publisher
	clock       crawler.Clock
	cfg         Config
	logger      *zap.Logger
}

// New constructs a Worker. archiver and publisher are optional.
func New(
	queue crawler.URLQueueStore,
	results crawler.AccessResultStore,
	filter crawler.URLFilter,
	client crawler.Client,
	transformer crawler.Transformer,
	archiver Archiver,
	publisher crawler.Publisher,
	clock crawler.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	metrics.Init()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:       queue,
		results:     results,
		filter:      filter,
		client:      client,
		transformer: transformer,
		archiver:    archiver,
		publisher:   publisher,
		clock:       clock,
		cfg:         cfg,
		logger:      logger,
	}
}

// ProcessNext pops one entry for the session and processes it. It reports
// false when the frontier was empty. Errors are fatal for the session:
// store unavailability, an exhausted budget or context cancellation.
// Per-URL failures are logged and the entry is dropped.
func (w *Worker) ProcessNext(ctx context.Context, sessionID string, budget *Budget) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("process next: %w", err)
	}
	if !budget.Take() {
		return false, ErrBudgetExhausted
	}
	entry, ok, err := w.queue.Pop(ctx, sessionID)
	if err != nil {
		budget.Release()
		return false, fmt.Errorf("pop entry: %w", err)
	}
	if !ok {
		budget.Release()
		return false, nil
	}

	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()
	ctx, span := telemetry.Tracer().Start(ctx, "crawl.process")
	span.SetAttributes(
		attribute.String("crawl.session_id", entry.SessionID),
		attribute.String("crawl.url", entry.URL),
		attribute.Int("crawl.depth", entry.Depth),
	)
	defer span.End()
	if err := w.process(ctx, entry); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return true, err
	}
	return true, nil
}

func (w *Worker) process(ctx context.Context, entry crawler.QueueEntry) error {
	logger := w.logger.With(
		zap.String("session_id", entry.SessionID),
		zap.String("url", entry.URL),
		zap.Int("depth", entry.Depth),
	)

	if w.filter != nil {
		matched, err := w.filter.Match(ctx, entry.URL)
		if err != nil {
			return fmt.Errorf("match %s: %w", entry.URL, err)
		}
		if !matched {
			metrics.ObserveFilterRejection()
			logger.Debug("url rejected by filter")
			return nil
		}
	}

	if w.cfg.Guard != nil && !w.cfg.Guard.Allow(entry.URL) {
		metrics.ObserveFetchError("host_blocked")
		logger.Debug("host blocked, entry dropped")
		return nil
	}

	resp, err := w.fetch(ctx, entry)
	if err != nil {
		return w.handleFetchError(ctx, entry, logger, err)
	}
	if resp == nil {
		logger.Debug("nothing to record")
		return nil
	}
	if w.cfg.Guard != nil && w.cfg.Guard.Observe(entry.URL, resp.HTTPStatusCode) {
		logger.Warn("host refused repeatedly, further entries dropped", zap.Int("status_code", resp.HTTPStatusCode))
	}
	resp.SessionID = entry.SessionID
	resp.ParentURL = entry.ParentURL
	resp.Depth = entry.Depth
	if resp.Method == "" {
		resp.Method = entry.Method
	}
	if w.transformer != nil {
		resp.RuleID = w.transformer.Name()
	}

	// Bodiless responses (HEAD, missing files) are recorded without data.
	var result *crawler.ResultData
	if w.transformer != nil && resp.HasBody() {
		result, err = w.transformer.Transform(ctx, resp)
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("transform %s: %w", entry.URL, ctx.Err())
			}
			metrics.ObserveFetchError("transform")
			logger.Warn("transform failed, entry dropped", zap.Error(err))
			return nil
		}
	}

	if result != nil {
		if err := w.pushChildren(ctx, entry, result.ChildURLs); err != nil {
			return err
		}
	}

	record := crawler.NewAccessResult(resp, result, w.clock.Now())
	if err := w.results.Insert(ctx, record); err != nil {
		return fmt.Errorf("insert result for %s: %w", entry.URL, err)
	}
	metrics.ObservePage(entry.URL, string(record.Status), len(record.Data.Data))
	logger.Debug("access result stored",
		zap.Int64("result_id", record.ID),
		zap.Int("status_code", record.HTTPStatusCode),
		zap.Duration("execution_time", record.ExecutionTime),
	)

	uri := w.archive(ctx, record, logger)
	w.publishResult(ctx, record, uri, logger)
	return nil
}

func (w *Worker) fetch(ctx context.Context, entry crawler.QueueEntry) (*crawler.ResponseData, error) {
	start := time.Now()
	var (
		resp *crawler.ResponseData
		err  error
	)
	if entry.Method == crawler.MethodHead {
		resp, err = w.client.FetchHead(ctx, entry.URL)
	} else {
		resp, err = w.client.Fetch(ctx, entry.URL, true)
	}
	if err != nil {
		return nil, err
	}
	if resp != nil && resp.ExecutionTime == 0 {
		resp.ExecutionTime = time.Since(start)
	}
	return resp, nil
}

func (w *Worker) handleFetchError(ctx context.Context, entry crawler.QueueEntry, logger *zap.Logger, err error) error {
	var (
		children *crawler.ChildURLsError
		tooLarge *crawler.MaxLengthExceededError
	)
	switch {
	case errors.As(err, &children):
		logger.Debug("container expanded", zap.Int("children", len(children.ChildURLs)))
		return w.pushChildren(ctx, entry, children.ChildURLs)
	case ctx.Err() != nil:
		return fmt.Errorf("fetch %s: %w", entry.URL, ctx.Err())
	case errors.Is(err, crawler.ErrStoreUnavailable):
		return fmt.Errorf("fetch %s: %w", entry.URL, err)
	case errors.As(err, &tooLarge):
		metrics.ObserveFetchError("too_large")
		logger.Info("content too large, entry dropped",
			zap.Int64("length", tooLarge.Length),
			zap.Int64("max", tooLarge.Max),
		)
	case errors.Is(err, crawler.ErrCrawlAccess):
		metrics.ObserveFetchError("access")
		logger.Warn("access failed, entry dropped", zap.Error(err))
	case errors.Is(err, crawler.ErrConfiguration):
		metrics.ObserveFetchError("configuration")
		logger.Warn("invalid address, entry dropped", zap.Error(err))
	default:
		metrics.ObserveFetchError("unknown")
		logger.Error("fetch failed, entry dropped", zap.Error(err))
	}
	return nil
}

func (w *Worker) pushChildren(ctx context.Context, parent crawler.QueueEntry, children []crawler.RequestData) error {
	if len(children) == 0 {
		return nil
	}
	if w.cfg.MaxDepth >= 0 && parent.Depth+1 > w.cfg.MaxDepth {
		w.logger.Debug("max depth reached, children skipped",
			zap.String("session_id", parent.SessionID),
			zap.String("url", parent.URL),
			zap.Int("children", len(children)),
		)
		return nil
	}
	for _, child := range children {
		queued, err := w.queue.Push(ctx, parent.SessionID, child, &parent)
		if err != nil {
			if errors.Is(err, crawler.ErrConfiguration) {
				w.logger.Warn("child url rejected", zap.String("url", child.URL), zap.Error(err))
				continue
			}
			return fmt.Errorf("push child %s: %w", child.URL, err)
		}
		metrics.ObservePush(queued)
	}
	return nil
}

func (w *Worker) archive(ctx context.Context, record *crawler.AccessResult, logger *zap.Logger) string {
	if w.archiver == nil {
		return ""
	}
	uri, err := w.archiver.Archive(ctx, record)
	if err != nil {
		logger.Warn("archive failed", zap.Error(err))
		return ""
	}
	return uri
}

func (w *Worker) publishResult(ctx context.Context, record *crawler.AccessResult, uri string, logger *zap.Logger) {
	if w.cfg.Topic == "" || w.publisher == nil {
		return
	}
	payload := map[string]any{
		"session_id":  record.SessionID,
		"result_id":   record.ID,
		"url":         record.URL,
		"parent_url":  record.ParentURL,
		"status":      record.Status,
		"status_code": record.HTTPStatusCode,
		"mime_type":   record.MimeType,
		"archive_uri": uri,
		"timestamp":   record.CreateTime.Format(time.RFC3339),
	}
	id, err := w.publisher.Publish(ctx, w.cfg.Topic, payload)
	if err != nil {
		logger.Warn("publish result failed", zap.Error(err))
		return
	}
	logger.Debug("result published", zap.String("message_id", id))
}
