// Package workers runs background jobs over properties already in the sink.
package workers

import (
	"context"
	"time"

	"flipr_ingest/logging"
	"flipr_ingest/models"
	"flipr_ingest/ratelimit"
	"flipr_ingest/storage"
	"go.uber.org/zap"
)

// WalkScoreFetcher looks up a walk score for one location.
type WalkScoreFetcher interface {
	Fetch(ctx context.Context, address string, lat, lng float64) (*models.WalkScore, error)
}

// BatchResult counts the outcome of one backfill batch.
type BatchResult struct {
	Checked  int
	Enriched int
	Failed   int
}

// EnrichmentWorker backfills walk scores for stored properties that were sunk
// without one. It only touches the walk_score column; intensity is never recomputed.
type EnrichmentWorker struct {
	store     storage.WalkScoreBackfill
	fetcher   WalkScoreFetcher
	batchSize int
	delay     time.Duration
	triggerCh chan struct{}
	sleep     ratelimit.Sleeper
	logger    logging.Logger
}

func NewEnrichmentWorker(store storage.WalkScoreBackfill, fetcher WalkScoreFetcher, batchSize int, logger logging.Logger) *EnrichmentWorker {
	if batchSize <= 0 {
		batchSize = 20
	}
	return &EnrichmentWorker{
		store:     store,
		fetcher:   fetcher,
		batchSize: batchSize,
		delay:     500 * time.Millisecond,
		triggerCh: make(chan struct{}, 1),
		sleep:     ratelimit.SleepContext,
		logger:    logger.With(zap.String("worker", "walkscore_backfill")),
	}
}

// Trigger causes the worker to run a batch immediately.
func (w *EnrichmentWorker) Trigger() {
	select {
	case w.triggerCh <- struct{}{}:
	default:
	}
}

// Run processes a batch every interval, or when triggered, until ctx is cancelled.
func (w *EnrichmentWorker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Backfill worker stopping")
			return
		case <-ticker.C:
		case <-w.triggerCh:
			w.logger.Info("Backfill triggered")
		}
		if _, err := w.ProcessBatch(ctx); err != nil && ctx.Err() == nil {
			w.logger.Error("Backfill batch failed", zap.Error(err))
		}
	}
}

// ProcessBatch enriches up to batchSize properties. Every attempt is stamped so
// properties that keep failing rotate to the back of the queue.
func (w *EnrichmentWorker) ProcessBatch(ctx context.Context) (BatchResult, error) {
	var res BatchResult

	props, err := w.store.ListMissingWalkScore(ctx, w.batchSize)
	if err != nil {
		return res, err
	}
	if len(props) == 0 {
		return res, nil
	}
	w.logger.Info("Backfilling walk scores", zap.Int("count", len(props)))

	for i := range props {
		p := &props[i]
		if i > 0 {
			if err := w.sleep(ctx, w.delay); err != nil {
				return res, err
			}
		}
		if !p.Enrichable() {
			continue
		}
		res.Checked++

		ws, err := w.fetcher.Fetch(ctx, p.Address, *p.Lat, *p.Lng)
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			res.Failed++
			w.logger.Warn("Walk score lookup failed", zap.String("identifier", p.Identifier), zap.Error(err))
			ws = nil
		} else {
			res.Enriched++
		}

		if err := w.store.UpdateWalkScore(ctx, p.Identifier, ws); err != nil {
			return res, err
		}
	}

	w.logger.Info("Backfill batch done",
		zap.Int("checked", res.Checked),
		zap.Int("enriched", res.Enriched),
		zap.Int("failed", res.Failed),
	)
	return res, nil
}
