// Package crawler drives the crawl: cities in order, sources in rotation, a few pages
// per source per visit, with cursors persisted so a restart resumes where it stopped.
package crawler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"flipr_ingest/logging"
	"flipr_ingest/metrics"
	"flipr_ingest/models"
	"flipr_ingest/ratelimit"
	"flipr_ingest/services"
	"flipr_ingest/sources"
	"go.uber.org/zap"
)

const pausePoll = time.Second

// Processor handles one raw record.
type Processor interface {
	Process(ctx context.Context, raw models.RawListing, src models.Source) (*services.ProcessResult, error)
}

// RunRecorder stores per-source run history.
type RunRecorder interface {
	CreateRun(ctx context.Context, run *models.SourceRun) (int64, error)
	FinishRun(ctx context.Context, run *models.SourceRun) error
}

// PageArchiver keeps raw response bodies.
type PageArchiver interface {
	ArchivePage(ctx context.Context, src models.Source, city string, cursor int, body []byte) (string, error)
}

type Options struct {
	Cities         []string
	PagesPerSource int
	RecordDelay    time.Duration
	CityDelay      time.Duration
	ErrorDelay     time.Duration
}

// Deps wires a Driver. Runs, Archive and Metrics may be nil.
type Deps struct {
	Adapters  map[models.Source]sources.Adapter
	Processor Processor
	Progress  ProgressStore
	Runs      RunRecorder
	Archive   PageArchiver
	Metrics   *metrics.Metrics
	Logger    logging.Logger
	Sleep     ratelimit.Sleeper
}

type Driver struct {
	opts      Options
	adapters  map[models.Source]sources.Adapter
	processor Processor
	progress  ProgressStore
	runs      RunRecorder
	archive   PageArchiver
	metrics   *metrics.Metrics
	logger    logging.Logger
	sleep     ratelimit.Sleeper

	mu     sync.Mutex
	state  models.Progress
	loaded bool

	paused atomic.Bool
}

func New(opts Options, deps Deps) *Driver {
	if opts.PagesPerSource <= 0 {
		opts.PagesPerSource = 3
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewNop()
	}
	if deps.Sleep == nil {
		deps.Sleep = ratelimit.SleepContext
	}

	return &Driver{
		opts:      opts,
		adapters:  deps.Adapters,
		processor: deps.Processor,
		progress:  deps.Progress,
		runs:      deps.Runs,
		archive:   deps.Archive,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		sleep:     deps.Sleep,
		state:     models.Progress{},
	}
}

// Run crawls every city over and over until ctx is cancelled. It returns after the
// in-flight record finishes and progress is saved.
func (d *Driver) Run(ctx context.Context) error {
	if len(d.opts.Cities) == 0 {
		return fmt.Errorf("no cities configured")
	}
	d.logger.Info("Crawl driver starting", zap.Int("cities", len(d.opts.Cities)))
	for {
		if err := d.RunPass(ctx); err != nil {
			return err
		}
	}
}

// RunPass visits every city once. Only cancellation ends it early.
func (d *Driver) RunPass(ctx context.Context) error {
	d.ensureLoaded(ctx)

	for _, city := range d.opts.Cities {
		if err := d.waitWhilePaused(ctx); err != nil {
			return d.shutdown(err)
		}

		if err := d.RunCity(ctx, city); err != nil {
			if ctx.Err() != nil {
				return d.shutdown(ctx.Err())
			}
			d.logger.Error("City crawl failed",
				zap.String("city", city),
				zap.Error(err),
				zap.Duration("sleep", d.opts.ErrorDelay),
			)
			d.save(ctx)
			if err := d.sleep(ctx, d.opts.ErrorDelay); err != nil {
				return d.shutdown(err)
			}
			continue
		}

		if err := d.sleep(ctx, d.opts.CityDelay); err != nil {
			return d.shutdown(err)
		}
	}
	return nil
}

// RunCity gives each source one turn for the city, starting after the last source
// that finished one. A turn cut short by cancellation does not count as finished.
func (d *Driver) RunCity(ctx context.Context, city string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("crawl %s: panic: %v", city, r)
		}
	}()
	d.ensureLoaded(ctx)

	d.logger.Info("Processing city", zap.String("city", city))
	for _, src := range d.rotation(city) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		adapter, ok := d.adapters[src]
		if !ok {
			continue
		}

		if !d.runSource(ctx, city, adapter) {
			d.save(ctx)
			return ctx.Err()
		}

		d.mu.Lock()
		d.cityLocked(city).LastAPI = string(src)
		d.mu.Unlock()
		d.save(ctx)
	}
	return ctx.Err()
}

// runSource reports whether the turn ran to its end rather than being cancelled.
func (d *Driver) runSource(ctx context.Context, city string, adapter sources.Adapter) bool {
	src := adapter.Source()
	log := d.logger.With(zap.String("city", city), zap.String("source", string(src)))

	cursor := d.cursor(city, src)
	run := &models.SourceRun{
		City:        city,
		Source:      src,
		StartedAt:   time.Now(),
		Status:      models.RunStatusRunning,
		StartCursor: cursor,
	}
	d.startRun(ctx, run)
	stats := &services.ProcessStats{}
	processed := 0

	run.Status = models.RunStatusCompleted
pages:
	for page := 0; page < d.opts.PagesPerSource; page++ {
		if ctx.Err() != nil {
			break
		}

		log.Info("Fetching page", zap.Int("cursor", cursor))
		result, err := adapter.Fetch(ctx, city, cursor)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			log.Error("Fetch failed, moving to next source", zap.Int("cursor", cursor), zap.Error(err))
			d.metrics.FetchFailed(string(src))
			run.Status = models.RunStatusFailed
			stats.Errors++
			break
		}
		d.archivePage(ctx, src, city, cursor, result.Body)

		if result.Done {
			d.metrics.PageExhausted(string(src))
			run.Status = models.RunStatusExhausted
			if initial := adapter.InitialCursor(); cursor > initial {
				log.Info("Source exhausted, resetting cursor", zap.Int("cursor", cursor))
				d.advance(city, src, cursor, initial)
				cursor = initial
				d.save(ctx)
			}
			break
		}

		d.metrics.PageFetched(string(src))
		run.Pages++
		log.Info("Page fetched", zap.Int("cursor", cursor), zap.Int("records", len(result.Records)))

		for _, raw := range result.Records {
			// Stopping mid-page leaves the cursor on this page; dedup absorbs the replay.
			if processed > 0 {
				if err := d.sleep(ctx, d.opts.RecordDelay); err != nil {
					break pages
				}
			}
			if ctx.Err() != nil {
				break pages
			}
			processed++
			res, err := d.processor.Process(ctx, raw, src)
			if res != nil {
				stats.Aggregate(res)
			}
			if err != nil {
				log.Warn("Record failed", zap.Error(err))
			}
		}

		next := adapter.NextCursor(cursor)
		if !d.advance(city, src, cursor, next) {
			log.Info("Cursor changed underneath the driver, ending turn")
			break
		}
		cursor = next
		d.save(ctx)
	}

	finished := ctx.Err() == nil
	if !finished {
		run.Status = models.RunStatusCancelled
	}
	run.EndCursor = cursor
	stats.ApplyTo(run)
	d.finishRun(ctx, run)
	return finished
}

// advance moves the cursor from one value to another, unless someone else (a
// reset_city command) moved it first.
func (d *Driver) advance(city string, src models.Source, from, to int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := d.cityLocked(city)
	if cp.Cursor(src) != from {
		return false
	}
	cp.SetCursor(src, to)
	return true
}

func (d *Driver) cursor(city string, src models.Source) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cityLocked(city).Cursor(src)
}

func (d *Driver) rotation(city string) []models.Source {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cityLocked(city).Rotation()
}

func (d *Driver) cityLocked(city string) *models.CityProgress {
	cp, ok := d.state[city]
	if !ok || cp == nil {
		cp = models.NewCityProgress()
		d.state[city] = cp
	}
	return cp
}

// ResetCity puts every cursor for the city back to its initial value.
func (d *Driver) ResetCity(ctx context.Context, city string) {
	d.ensureLoaded(ctx)
	d.mu.Lock()
	d.cityLocked(city).Reset()
	d.mu.Unlock()
	d.logger.Info("City progress reset", zap.String("city", city))
	d.save(ctx)
}

// Progress returns a copy of the current cursors.
func (d *Driver) Progress(ctx context.Context) models.Progress {
	d.ensureLoaded(ctx)
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state.Clone()
}

func (d *Driver) SetPaused(paused bool) {
	if d.paused.Swap(paused) != paused {
		d.logger.Info("Crawl driver pause state changed", zap.Bool("paused", paused))
	}
}

func (d *Driver) IsPaused() bool {
	return d.paused.Load()
}

func (d *Driver) waitWhilePaused(ctx context.Context) error {
	for d.paused.Load() {
		if err := d.sleep(ctx, pausePoll); err != nil {
			return err
		}
	}
	return ctx.Err()
}

// ensureLoaded reads saved progress once. A store that cannot be read yields fresh state.
func (d *Driver) ensureLoaded(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.loaded {
		return
	}
	d.loaded = true

	if d.progress != nil {
		loaded, err := d.progress.Load(ctx)
		if err != nil {
			d.logger.Warn("Could not load progress, starting fresh", zap.Error(err))
		} else if loaded != nil {
			d.state = loaded
		}
	}
	d.state.Ensure(d.opts.Cities)
}

// save persists a snapshot. It runs even after cancellation so shutdown keeps the
// latest cursors.
func (d *Driver) save(ctx context.Context) {
	if d.progress == nil {
		return
	}
	d.mu.Lock()
	snapshot := d.state.Clone()
	d.mu.Unlock()

	if err := d.progress.Save(context.WithoutCancel(ctx), snapshot); err != nil {
		d.logger.Error("Failed to save progress", zap.Error(err))
	}
}

func (d *Driver) shutdown(err error) error {
	d.save(context.Background())
	d.logger.Info("Crawl driver stopped, progress saved", zap.Error(err))
	return err
}

func (d *Driver) archivePage(ctx context.Context, src models.Source, city string, cursor int, body []byte) {
	if d.archive == nil || len(body) == 0 {
		return
	}
	if _, err := d.archive.ArchivePage(ctx, src, city, cursor, body); err != nil {
		d.logger.Warn("Failed to archive page", zap.String("source", string(src)), zap.Error(err))
	}
}

func (d *Driver) startRun(ctx context.Context, run *models.SourceRun) {
	if d.runs == nil {
		return
	}
	id, err := d.runs.CreateRun(ctx, run)
	if err != nil {
		d.logger.Warn("Failed to record run start", zap.Error(err))
		return
	}
	run.ID = id
}

func (d *Driver) finishRun(ctx context.Context, run *models.SourceRun) {
	if d.runs == nil || run.ID == 0 {
		return
	}
	now := time.Now()
	run.FinishedAt = &now
	if err := d.runs.FinishRun(context.WithoutCancel(ctx), run); err != nil {
		d.logger.Warn("Failed to record run finish", zap.Error(err))
	}
}
