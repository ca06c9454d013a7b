package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"flipr_ingest/dedup"
	"flipr_ingest/identity"
	"flipr_ingest/logging"
	"flipr_ingest/metrics"
	"flipr_ingest/models"
	"flipr_ingest/normalize"
	"flipr_ingest/scoring"
	"go.uber.org/zap"
)

// Sink accepts one finished property. Implementations upsert by identifier.
type Sink interface {
	UpsertProperty(ctx context.Context, p *models.Property) error
}

// Publisher fans a sunk property out to live subscribers.
type Publisher interface {
	Publish(p *models.Property)
}

type Enricher interface {
	Enrich(ctx context.Context, p *models.Property) *models.Property
}

type Scorer interface {
	Score(p *models.Property) scoring.Result
}

// Pipeline takes one raw record through normalize, the coordinate gate, the dedup
// gate, enrichment, scoring and the sink, in that order.
type Pipeline struct {
	normalizer *normalize.Normalizer
	tracker    dedup.Tracker
	enricher   Enricher
	scorer     Scorer
	sink       Sink
	publisher  Publisher
	metrics    *metrics.Metrics
	logger     logging.Logger
}

// PipelineDeps wires a Pipeline. Enricher, Publisher and Metrics may be nil.
type PipelineDeps struct {
	Normalizer *normalize.Normalizer
	Tracker    dedup.Tracker
	Enricher   Enricher
	Scorer     Scorer
	Sink       Sink
	Publisher  Publisher
	Metrics    *metrics.Metrics
	Logger     logging.Logger
}

func NewPipeline(d PipelineDeps) *Pipeline {
	if d.Normalizer == nil {
		d.Normalizer = normalize.New()
	}
	if d.Logger == nil {
		d.Logger = logging.NewNop()
	}
	return &Pipeline{
		normalizer: d.Normalizer,
		tracker:    d.Tracker,
		enricher:   d.Enricher,
		scorer:     d.Scorer,
		sink:       d.Sink,
		publisher:  d.Publisher,
		metrics:    d.Metrics,
		logger:     d.Logger,
	}
}

// ProcessResult is the outcome of one record. Outcome is one of the metrics.Outcome* values.
type ProcessResult struct {
	Property    *models.Property
	Fingerprint string
	Outcome     string
}

// Process never lets a record's failure escape as a panic. Drops (no coordinates,
// duplicate) are results, not errors; a returned error means the record was lost.
func (p *Pipeline) Process(ctx context.Context, raw models.RawListing, src models.Source) (res *ProcessResult, err error) {
	res = &ProcessResult{Outcome: metrics.OutcomeError}
	defer func() {
		if r := recover(); r != nil {
			res.Outcome = metrics.OutcomeError
			err = fmt.Errorf("process %s record: panic: %v", src, r)
		}
		p.metrics.Record(string(src), res.Outcome)
	}()

	prop := p.normalizer.Normalize(raw, src)
	res.Property = prop
	if !prop.HasCoordinates() {
		res.Outcome = metrics.OutcomeNoCoordinates
		p.logger.Debug("Dropping record without coordinates",
			zap.String("source", string(src)),
			zap.String("identifier", prop.Identifier),
		)
		return res, nil
	}

	res.Fingerprint = identity.Fingerprint(prop)
	fresh, err := p.tracker.Claim(ctx, res.Fingerprint)
	if err != nil {
		// The sink upserts by identifier, so letting a record through twice is safe.
		p.logger.Warn("Dedup check failed, processing anyway",
			zap.String("fingerprint", res.Fingerprint),
			zap.Error(err),
		)
		fresh = true
	}
	if !fresh {
		res.Outcome = metrics.OutcomeDuplicate
		return res, nil
	}

	if p.enricher != nil {
		prop = p.enricher.Enrich(ctx, prop)
		res.Property = prop
	}

	result := p.scorer.Score(prop)
	if err := prop.SetScore(result.Intensity, result.Label, result.Reasoning); err != nil {
		return res, fmt.Errorf("score %s: %w", prop.Identifier, err)
	}

	start := time.Now()
	err = p.sink.UpsertProperty(ctx, prop)
	p.metrics.ObserveSink(time.Since(start))
	if err != nil {
		res.Outcome = metrics.OutcomeSinkFailed
		return res, fmt.Errorf("sink %s: %w", prop.Identifier, err)
	}
	res.Outcome = metrics.OutcomeSunk

	if p.publisher != nil {
		p.publisher.Publish(prop)
	}
	return res, nil
}

// ProcessStats tracks aggregate statistics for one source run.
type ProcessStats struct {
	RecordsFound  int
	Sunk          int
	Duplicates    int
	NoCoordinates int
	SinkFailures  int
	Errors        int
}

// Aggregate adds a ProcessResult to the stats
func (s *ProcessStats) Aggregate(r *ProcessResult) {
	s.RecordsFound++
	switch r.Outcome {
	case metrics.OutcomeSunk:
		s.Sunk++
	case metrics.OutcomeDuplicate:
		s.Duplicates++
	case metrics.OutcomeNoCoordinates:
		s.NoCoordinates++
	case metrics.OutcomeSinkFailed:
		s.SinkFailures++
	default:
		s.Errors++
	}
}

// ApplyTo copies the counters onto a run record.
func (s *ProcessStats) ApplyTo(run *models.SourceRun) {
	run.RecordsFound = s.RecordsFound
	run.RecordsSunk = s.Sunk
	run.Duplicates = s.Duplicates
	run.NoCoordinates = s.NoCoordinates
	run.ErrorsCount = s.Errors + s.SinkFailures
}

// ToJSON returns JSON-serializable metadata
func (s *ProcessStats) ToJSON() json.RawMessage {
	data, _ := json.Marshal(map[string]int{
		"records_found":  s.RecordsFound,
		"sunk":           s.Sunk,
		"duplicates":     s.Duplicates,
		"no_coordinates": s.NoCoordinates,
		"sink_failures":  s.SinkFailures,
		"errors":         s.Errors,
	})
	return data
}
