// Package server builds the application's dependencies from configuration
// and runs the crawl and admin entry points.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/sessioncrawler/internal/api"
	"github.com/JakeFAU/sessioncrawler/internal/clock/system"
	"github.com/JakeFAU/sessioncrawler/internal/config"
	"github.com/JakeFAU/sessioncrawler/internal/crawler"
	"github.com/JakeFAU/sessioncrawler/internal/fetcher"
	collyfetcher "github.com/JakeFAU/sessioncrawler/internal/fetcher/colly"
	fsfetcher "github.com/JakeFAU/sessioncrawler/internal/fetcher/fs"
	"github.com/JakeFAU/sessioncrawler/internal/filter"
	"github.com/JakeFAU/sessioncrawler/internal/id/uuid"
	"github.com/JakeFAU/sessioncrawler/internal/logging"
	"github.com/JakeFAU/sessioncrawler/internal/policy/ratelimit"
	gcppublisher "github.com/JakeFAU/sessioncrawler/internal/publisher/pubsub"
	queuememory "github.com/JakeFAU/sessioncrawler/internal/queue/memory"
	redisqueue "github.com/JakeFAU/sessioncrawler/internal/queue/redis"
	"github.com/JakeFAU/sessioncrawler/internal/session"
	"github.com/JakeFAU/sessioncrawler/internal/storage/archive"
	gcsstorage "github.com/JakeFAU/sessioncrawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/sessioncrawler/internal/storage/local"
	storagememory "github.com/JakeFAU/sessioncrawler/internal/storage/memory"
	pgstore "github.com/JakeFAU/sessioncrawler/internal/storage/postgres"
	"github.com/JakeFAU/sessioncrawler/internal/storage/search"
	sqlitestore "github.com/JakeFAU/sessioncrawler/internal/storage/sqlite"
	"github.com/JakeFAU/sessioncrawler/internal/telemetry"
	"github.com/JakeFAU/sessioncrawler/internal/transformer"
)

// App contains the application's dependencies.
type App struct {
	cfg     config.Config
	logger  *zap.Logger
	crawler *session.Crawler
	ids     crawler.IDGenerator

	pg              *pgstore.DB
	sqlite          *sqlitestore.DB
	redis           *redis.Client
	blobs           io.Closer
	pubsubClient    *pubsub.Client
	pubsubPublisher *gcppublisher.Publisher
	tracerShutdown  func(context.Context) error
	ready           []api.ReadyFunc
}

// stores groups the session-scoped stores picked by configuration.
type stores struct {
	queue   crawler.URLQueueStore
	results crawler.AccessResultStore
	filters crawler.URLFilterStore
}

// Build creates the application's dependencies. On error every resource
// opened so far is released.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)

	app := &App{cfg: cfg, logger: logger, ids: uuid.New()}
	fail := func(err error) (*App, error) {
		_ = app.Close(context.Background())
		return nil, err
	}

	app.tracerShutdown, err = telemetry.Init(ctx, cfg.Tracing)
	if err != nil {
		return fail(fmt.Errorf("tracer init failed: %w", err))
	}

	logger.Info("building application dependencies",
		zap.String("queue_store", cfg.Store.Queue),
		zap.String("result_store", cfg.Store.Result),
		zap.String("archive", cfg.Archive.Backend),
	)
	clock := system.New()

	st, err := setupStores(ctx, app, clock)
	if err != nil {
		return fail(err)
	}

	html, err := transformer.NewHTML(transformer.Config{
		DefaultEncoding:      cfg.Transformer.DefaultEncoding,
		PreloadSize:          cfg.Transformer.PreloadSize,
		CharsetAliases:       cfg.Transformer.CharsetAliases,
		ChildURLRules:        cfg.Transformer.ChildURLRules,
		URLConvertRules:      cfg.Transformer.URLConvertRules,
		KeepDuplicateVariant: !cfg.Transformer.SuppressDuplicateVariant,
		TempDir:              cfg.Transformer.TempDir,
	}, logger.Named("transformer"))
	if err != nil {
		return fail(fmt.Errorf("transformer init failed: %w", err))
	}

	archiver, err := setupArchive(ctx, app, html)
	if err != nil {
		return fail(err)
	}
	publisher, err := setupPublisher(ctx, app)
	if err != nil {
		return fail(err)
	}

	deps := session.Deps{
		IDs:     app.ids,
		Queue:   st.queue,
		Results: st.results,
		Filters: st.filters,
		FilterCfg: filter.Config{
			URLPattern:      cfg.Filter.URLPattern,
			IncludeTemplate: cfg.Filter.IncludeTemplate,
			ExcludeTemplate: cfg.Filter.ExcludeTemplate,
		},
		Client:      setupClients(app),
		Transformer: html,
		Clock:       clock,
	}
	if archiver != nil {
		deps.Archiver = archiver
	}
	if publisher != nil {
		deps.Publisher = publisher
	}
	app.crawler, err = session.New(deps, logger.Named("session"))
	if err != nil {
		return fail(fmt.Errorf("session init failed: %w", err))
	}
	return app, nil
}

// Options returns the session options derived from configuration.
func (a *App) Options() session.Options {
	c := a.cfg.Crawler
	return session.Options{
		Concurrency:    c.Concurrency,
		MaxDepth:       c.MaxDepth,
		MaxAccessCount: c.MaxAccessCount,
		PollInterval:   c.PollInterval,
		IdleTimeout:    c.IdleTimeout,
		ClearOnFinish:  c.ClearOnFinish,
		Includes:       a.cfg.Filter.Include,
		Excludes:       a.cfg.Filter.Exclude,
		Topic:          a.cfg.PubSub.TopicName,

		MaxForbiddenResponses: c.MaxForbiddenResponses,
	}
}

// Crawl runs one session over seeds, falling back to the configured seeds.
func (a *App) Crawl(ctx context.Context, seeds []string, sessionID string) (session.Summary, error) {
	if len(seeds) == 0 {
		seeds = a.cfg.Crawler.Seeds
	}
	if len(seeds) == 0 {
		return session.Summary{}, fmt.Errorf("%w: no seed urls given", crawler.ErrConfiguration)
	}
	opts := a.Options()
	opts.SessionID = sessionID
	summary, err := a.crawler.Run(ctx, seeds, opts)
	if err != nil {
		return summary, fmt.Errorf("run session: %w", err)
	}
	return summary, nil
}

// Reset deletes one session's records, or every session when sessionID is empty.
func (a *App) Reset(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		if err := a.crawler.CleanupAll(ctx); err != nil {
			return fmt.Errorf("reset all sessions: %w", err)
		}
		return nil
	}
	if err := a.crawler.Cleanup(ctx, sessionID); err != nil {
		return fmt.Errorf("reset session %s: %w", sessionID, err)
	}
	return nil
}

// Serve runs the admin HTTP server until ctx is canceled or a signal arrives.
func (a *App) Serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	apiServer := api.NewServer(a.crawler, a.ids, api.Config{
		APIKey:          a.cfg.Server.APIKey,
		Defaults:        a.Options(),
		MaxFinishedRuns: a.cfg.Server.MaxFinishedRuns,
	}, a.logger.Named("api"), a.ready...)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("sessions did not stop in time", zap.Error(err))
	}

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}

// Close releases every backend the App opened.
func (a *App) Close(ctx context.Context) error {
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.blobs != nil {
		if err := a.blobs.Close(); err != nil {
			a.logger.Warn("archive blob store close failed", zap.Error(err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("redis client close failed", zap.Error(err))
		}
	}
	if a.sqlite != nil {
		if err := a.sqlite.Close(); err != nil {
			a.logger.Warn("sqlite close failed", zap.Error(err))
		}
	}
	if a.pg != nil {
		a.pg.Close()
	}
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
	return nil
}

func setupStores(ctx context.Context, app *App, clock crawler.Clock) (stores, error) {
	cfg := app.cfg
	var st stores

	if cfg.Store.Queue == config.BackendPostgres || cfg.Store.Result == config.BackendPostgres {
		db, err := pgstore.Open(ctx, pgstore.Config{
			DSN:             cfg.Postgres.DSN,
			TablePrefix:     cfg.Postgres.TablePrefix,
			MaxConns:        cfg.Postgres.MaxConns,
			MinConns:        cfg.Postgres.MinConns,
			MaxConnLifetime: cfg.Postgres.MaxConnLifetime,
		})
		if err != nil {
			return st, fmt.Errorf("postgres init failed: %w", err)
		}
		app.pg = db
		if err := db.EnsureSchema(ctx); err != nil {
			return st, fmt.Errorf("postgres schema failed: %w", err)
		}
		app.ready = append(app.ready, db.Ping)
		app.logger.Info("postgres store ready", zap.String("table_prefix", cfg.Postgres.TablePrefix))
	}
	if cfg.Store.Queue == config.BackendSQLite || cfg.Store.Result == config.BackendSQLite {
		db, err := sqlitestore.Open(ctx, sqlitestore.Config{Dir: cfg.SQLite.Dir, WAL: cfg.SQLite.WAL})
		if err != nil {
			return st, fmt.Errorf("sqlite init failed: %w", err)
		}
		app.sqlite = db
		app.ready = append(app.ready, db.Ping)
		app.logger.Info("sqlite store ready", zap.String("path", db.Path()))
	}

	switch cfg.Store.Queue {
	case config.BackendPostgres:
		st.queue = pgstore.NewQueueStore(app.pg, clock)
	case config.BackendSQLite:
		st.queue = sqlitestore.NewQueueStore(app.sqlite, clock)
	case config.BackendRedis:
		app.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		frontier := redisqueue.New(app.redis, clock, cfg.Redis.KeyPrefix)
		if err := frontier.Ping(ctx); err != nil {
			return st, fmt.Errorf("redis init failed: %w", err)
		}
		app.ready = append(app.ready, frontier.Ping)
		st.queue = frontier
	default:
		st.queue = queuememory.NewQueue(clock)
	}

	switch cfg.Store.Result {
	case config.BackendPostgres:
		st.results = pgstore.NewResultStore(app.pg)
		st.filters = pgstore.NewFilterStore(app.pg)
	case config.BackendSQLite:
		st.results = sqlitestore.NewResultStore(app.sqlite)
		st.filters = sqlitestore.NewFilterStore(app.sqlite)
	case config.BackendElastic:
		index, err := search.NewElastic(search.ElasticConfig{
			Addresses: cfg.Elastic.Addresses,
			Username:  cfg.Elastic.Username,
			Password:  cfg.Elastic.Password,
			Index:     cfg.Elastic.Index,
			Refresh:   cfg.Elastic.Refresh,
		})
		if err != nil {
			return st, fmt.Errorf("elasticsearch init failed: %w", err)
		}
		if err := index.EnsureIndex(ctx); err != nil {
			return st, fmt.Errorf("elasticsearch index failed: %w", err)
		}
		app.ready = append(app.ready, index.Ping)
		app.logger.Info("elasticsearch result store ready", zap.String("index", cfg.Elastic.Index))
		st.results = search.NewResultStore(index, clock)
		// Patterns need ordered reads, which the narrow index surface does not offer.
		st.filters = storagememory.NewFilterStore()
	default:
		st.results = storagememory.NewResultStore()
		st.filters = storagememory.NewFilterStore()
	}
	return st, nil
}

func setupClients(app *App) *fetcher.Router {
	cfg := app.cfg.Client
	limits := crawler.ContentLengthLimits{Default: cfg.MaxContentLength, ByMIME: cfg.MaxContentLengthByMIME}

	router := fetcher.NewRouter()
	router.Register(fsfetcher.New(fsfetcher.Config{
		Charset:              cfg.FileCharset,
		MaxCachedContentSize: cfg.MaxCachedContentSize,
		Limits:               limits,
	}, app.logger.Named("fs")), "file", "")

	limiter := ratelimit.New(ratelimit.Config{RPS: cfg.RateLimitRPS, Burst: cfg.RateLimitBurst})
	router.Register(collyfetcher.New(collyfetcher.Config{
		UserAgent:     app.cfg.Crawler.UserAgent,
		RespectRobots: app.cfg.Crawler.RespectRobots,
		Timeout:       cfg.HTTPTimeout,
		Limits:        limits,
	}, limiter, app.logger.Named("colly")), "http", "https")
	app.logger.Info("protocol clients ready",
		zap.String("user_agent", app.cfg.Crawler.UserAgent),
		zap.Bool("respect_robots", app.cfg.Crawler.RespectRobots),
		zap.Float64("rate_limit_rps", cfg.RateLimitRPS),
	)
	return router
}

func setupArchive(ctx context.Context, app *App, html *transformer.HTML) (*archive.Archiver, error) {
	cfg := app.cfg.Archive
	var blobs crawler.BlobStore
	switch cfg.Backend {
	case config.BackendGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		gcs, err := gcsstorage.New(client, gcsstorage.Config{Bucket: cfg.Bucket, CacheControl: cfg.CacheControl})
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.blobs, blobs = gcs, gcs
		app.logger.Info("using GCS archive", zap.String("bucket", cfg.Bucket))
	case config.BackendLocal:
		local, err := localstorage.New(localstorage.Config{BaseDir: cfg.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		app.blobs, blobs = local, local
		app.logger.Info("using local archive", zap.String("path", cfg.BaseDir))
	default:
		app.logger.Debug("archive disabled")
		return nil, nil
	}
	arch, err := archive.New(blobs, cfg.Prefix)
	if err != nil {
		return nil, fmt.Errorf("archive init failed: %w", err)
	}
	if cfg.Render {
		arch.WithRenderer(transformer.NewRegistry(html))
	}
	return arch, nil
}

func setupPublisher(ctx context.Context, app *App) (*gcppublisher.Publisher, error) {
	cfg := app.cfg.PubSub
	if cfg.TopicName == "" {
		app.logger.Debug("no Pub/Sub topic configured, result notifications disabled")
		return nil, nil
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.pubsubClient = client
	app.pubsubPublisher = gcppublisher.New(client, app.logger)
	app.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", cfg.ProjectID),
		zap.String("topic", cfg.TopicName),
	)
	return app.pubsubPublisher, nil
}
