package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"flipr_ingest/models"
)

// PropertyQuery is the read side of a property store.
type PropertyQuery interface {
	ListProperties(ctx context.Context, f models.PropertyFilter) ([]models.Property, int, error)
	RatingCounts(ctx context.Context) (*models.RatingCounts, error)
}

// WalkScoreBackfill lists stored properties that still lack a walk score and records
// the outcome of each attempt.
type WalkScoreBackfill interface {
	ListMissingWalkScore(ctx context.Context, limit int) ([]models.Property, error)
	UpdateWalkScore(ctx context.Context, id string, ws *models.WalkScore) error
}

const (
	DefaultPerPage = 100
	MaxPerPage     = 500
)

const propertyColumns = `id, address, lat, lng, price, bedrooms, bathrooms, square_feet, year_built,
	vintage, walk_score, intensity, deal_rating, ai_evaluation_reasoning, timestamp, source, property_data`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProperty(row rowScanner) (*models.Property, error) {
	var (
		p         models.Property
		source    string
		walkScore []byte
		raw       []byte
	)
	err := row.Scan(&p.Identifier, &p.Address, &p.Lat, &p.Lng, &p.Price, &p.Bedrooms, &p.Bathrooms,
		&p.SquareFeet, &p.YearBuilt, &p.Vintage, &walkScore, &p.Intensity, &p.DealRating, &p.Reasoning,
		&p.Timestamp, &source, &raw)
	if err != nil {
		return nil, err
	}
	p.Source = models.Source(source)
	if len(walkScore) > 0 {
		var ws models.WalkScore
		if err := json.Unmarshal(walkScore, &ws); err != nil {
			return nil, fmt.Errorf("decode walk_score for %s: %w", p.Identifier, err)
		}
		p.WalkScore = &ws
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p.Raw); err != nil {
			return nil, fmt.Errorf("decode property_data for %s: %w", p.Identifier, err)
		}
	}
	return &p, nil
}

// propertyArgs returns the insert arguments in propertyColumns order.
func propertyArgs(p *models.Property) ([]any, error) {
	walkScore, err := jsonOrNil(p.WalkScore, p.WalkScore == nil)
	if err != nil {
		return nil, fmt.Errorf("encode walk_score: %w", err)
	}
	raw, err := jsonOrNil(p.Raw, p.Raw == nil)
	if err != nil {
		return nil, fmt.Errorf("encode property_data: %w", err)
	}
	return []any{
		p.Identifier, p.Address, p.Lat, p.Lng, p.Price, p.Bedrooms, p.Bathrooms, p.SquareFeet, p.YearBuilt,
		p.Vintage, walkScore, p.Intensity, p.DealRating, p.Reasoning, p.Timestamp, string(p.Source), raw,
	}, nil
}

func jsonOrNil(v any, isNil bool) ([]byte, error) {
	if isNil {
		return nil, nil
	}
	return json.Marshal(v)
}

// filterClause renders the WHERE clause for f. ph renders the n-th (1-based) placeholder.
func filterClause(f models.PropertyFilter, ph func(n int) string) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, ph(len(args))))
	}
	if f.MinPrice != nil {
		add("price >= %s", *f.MinPrice)
	}
	if f.MaxPrice != nil {
		add("price <= %s", *f.MaxPrice)
	}
	if f.MinBedrooms != nil {
		add("bedrooms >= %s", *f.MinBedrooms)
	}
	if f.MinIntensity != nil {
		add("intensity >= %s", *f.MinIntensity)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// NormalizeFilter applies paging defaults.
func NormalizeFilter(f models.PropertyFilter) models.PropertyFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PerPage < 1 {
		f.PerPage = DefaultPerPage
	}
	if f.PerPage > MaxPerPage {
		f.PerPage = MaxPerPage
	}
	return f
}

// ratingCountsQuery buckets by intensity: hot > 0.8, good 0.6-0.8, average 0.4-0.6, weak <= 0.4.
const ratingCountsQuery = `
	SELECT
		COUNT(*),
		COALESCE(SUM(CASE WHEN intensity > 0.8 THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN intensity > 0.6 AND intensity <= 0.8 THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN intensity > 0.4 AND intensity <= 0.6 THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN intensity <= 0.4 THEN 1 ELSE 0 END), 0)
	FROM properties`

const ratingGroupsQuery = `SELECT deal_rating, COUNT(*) FROM properties GROUP BY deal_rating`

const missingWalkScoreWhere = `
	WHERE walk_score IS NULL AND address != ''
		AND lat IS NOT NULL AND lng IS NOT NULL AND lat != 0 AND lng != 0`
