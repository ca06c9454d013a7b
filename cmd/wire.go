package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"flipr_ingest/api"
	"flipr_ingest/config"
	"flipr_ingest/crawler"
	"flipr_ingest/dedup"
	"flipr_ingest/enrich"
	"flipr_ingest/httputil"
	"flipr_ingest/logging"
	"flipr_ingest/metrics"
	"flipr_ingest/normalize"
	"flipr_ingest/ratelimit"
	"flipr_ingest/scoring"
	"flipr_ingest/services"
	"flipr_ingest/sources"
	"flipr_ingest/storage"
	"flipr_ingest/workers"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// app holds everything built from config for one command invocation.
type app struct {
	cfg     *config.Config
	logger  logging.Logger
	clients *httputil.Clients
	metrics *metrics.Metrics
	limiter *ratelimit.Limiter

	sqlite   *storage.SQLiteStore
	postgres *storage.PostgresStore
	ws       *enrich.WalkScore

	closers []func()
}

func newApp(ctx context.Context, cfg *config.Config, logger logging.Logger) (*app, error) {
	a := &app{
		cfg:     cfg,
		logger:  logger,
		clients: httputil.NewClients(cfg.HTTP.ProxyURL),
		metrics: metrics.New(prometheus.NewRegistry()),
	}
	a.limiter = ratelimit.New(ratelimit.WithWaitHook(a.metrics.Waited))

	sqlite, err := storage.NewSQLiteStore(cfg.Storage.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", cfg.Storage.DBPath, err)
	}
	a.sqlite = sqlite
	a.onClose(func() { _ = sqlite.Close() })
	logger.Info("SQLite database opened", zap.String("path", cfg.Storage.DBPath))

	if cfg.Storage.DatabaseURL != "" {
		pg, err := storage.NewPostgresStore(ctx, cfg.Storage.DatabaseURL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			pg.Close()
			a.Close()
			return nil, fmt.Errorf("ensure postgres schema: %w", err)
		}
		a.postgres = pg
		a.onClose(pg.Close)
		logger.Info("Connected to Postgres", zap.String("url", maskConnectionString(cfg.Storage.DatabaseURL)))
	}
	return a, nil
}

func (a *app) onClose(f func()) {
	a.closers = append(a.closers, f)
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// store is the database that backs reads, /update and the walk score backfill.
func (a *app) store() api.PropertyStore {
	if a.postgres != nil {
		return a.postgres
	}
	return a.sqlite
}

func (a *app) backfillStore() storage.WalkScoreBackfill {
	if a.postgres != nil {
		return a.postgres
	}
	return a.sqlite
}

func (a *app) databaseName() string {
	if a.postgres != nil {
		return "PostgreSQL"
	}
	return "SQLite"
}

func (a *app) sink() (services.Sink, error) {
	switch a.cfg.Storage.Sink {
	case "postgres":
		if a.postgres == nil {
			return nil, fmt.Errorf("postgres sink: %w", config.ErrMissingKey)
		}
		return a.postgres, nil
	case "sqlite":
		return a.sqlite, nil
	case "http":
		return storage.NewHTTPSink(a.cfg.Storage.SinkURL, a.clients.Sink, a.logger), nil
	}
	return nil, fmt.Errorf("unknown sink %q", a.cfg.Storage.Sink)
}

func (a *app) tracker(ctx context.Context) (dedup.Tracker, error) {
	if a.cfg.Redis.Addr == "" {
		return dedup.NewMemory(), nil
	}
	client, err := dedup.NewRedisClient(ctx, a.cfg.Redis.Addr, a.cfg.Redis.Password, a.cfg.Redis.DB)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	a.onClose(func() { _ = client.Close() })
	a.logger.Info("Using Redis dedup tracker", zap.String("addr", a.cfg.Redis.Addr))
	return dedup.NewRedis(client, dedup.DefaultTTL, a.logger), nil
}

// walkScore returns the shared enricher, or nil when no key is configured.
func (a *app) walkScore() *enrich.WalkScore {
	if a.cfg.Keys.WalkScore == "" {
		return nil
	}
	if a.ws == nil {
		ws := a.cfg.WalkScore
		a.limiter.Register(enrich.Channel, ws.RateLimit.Capacity, ws.RateLimit.Window)
		a.ws = enrich.NewWalkScore(ws.Endpoint, a.cfg.Keys.WalkScore, a.clients.API, a.limiter, a.logger)
	}
	return a.ws
}

func (a *app) progressStore() crawler.ProgressStore {
	if a.cfg.Crawler.ProgressBackend == "sqlite" {
		return a.sqlite.Progress()
	}
	return crawler.NewFileProgressStore(a.cfg.Crawler.ProgressFile)
}

func (a *app) archive(ctx context.Context) (crawler.PageArchiver, error) {
	if !a.cfg.S3.Enabled() {
		return nil, nil
	}
	arch, err := storage.NewS3Archive(ctx, a.cfg.S3)
	if err != nil {
		return nil, fmt.Errorf("s3 archive: %w", err)
	}
	a.logger.Info("Archiving raw pages", zap.String("bucket", a.cfg.S3.Bucket))
	return arch, nil
}

// driver wires the full ingest pipeline. pub may be nil.
func (a *app) driver(ctx context.Context, pub services.Publisher) (*crawler.Driver, error) {
	for _, key := range a.cfg.MissingKeys() {
		a.logger.Warn("Credential not set, provider calls will fail", zap.String("key", key))
	}

	sink, err := a.sink()
	if err != nil {
		return nil, err
	}
	tracker, err := a.tracker(ctx)
	if err != nil {
		return nil, err
	}
	archive, err := a.archive(ctx)
	if err != nil {
		return nil, err
	}
	adapters, err := sources.NewAdapters(a.cfg.Sources, sources.Deps{
		Client:  a.clients.API,
		Limiter: a.limiter,
		Keys:    a.cfg.Keys,
		Logger:  a.logger,
	})
	if err != nil {
		return nil, err
	}

	deps := services.PipelineDeps{
		Normalizer: normalize.New(),
		Tracker:    tracker,
		Scorer:     scoring.New(),
		Sink:       sink,
		Publisher:  pub,
		Metrics:    a.metrics,
		Logger:     a.logger,
	}
	if ws := a.walkScore(); ws != nil {
		deps.Enricher = ws
	}

	return crawler.New(crawler.Options{
		Cities:         a.cfg.Crawler.Cities,
		PagesPerSource: a.cfg.Crawler.PagesPerSource,
		RecordDelay:    a.cfg.Crawler.RecordDelay,
		CityDelay:      a.cfg.Crawler.CityDelay,
		ErrorDelay:     a.cfg.Crawler.ErrorDelay,
	}, crawler.Deps{
		Adapters:  adapters,
		Processor: services.NewPipeline(deps),
		Progress:  a.progressStore(),
		Runs:      a.sqlite,
		Archive:   archive,
		Metrics:   a.metrics,
		Logger:    a.logger,
	}), nil
}

// backfillWorker returns nil when no Walk Score key is configured.
func (a *app) backfillWorker() *workers.EnrichmentWorker {
	ws := a.walkScore()
	if ws == nil {
		return nil
	}
	return workers.NewEnrichmentWorker(a.backfillStore(), ws, a.cfg.Scheduler.BackfillBatch, a.logger)
}

// maskConnectionString hides the password in a database URL for logging.
func maskConnectionString(connStr string) string {
	u, err := url.Parse(connStr)
	if err != nil || u.User == nil {
		return connStr
	}
	return u.Redacted()
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
