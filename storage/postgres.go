package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"flipr_ingest/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is the production sink and the read side of the API.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// EnsureSchema creates the properties table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS properties (
			id TEXT PRIMARY KEY,
			address TEXT NOT NULL DEFAULT '',
			lat DOUBLE PRECISION,
			lng DOUBLE PRECISION,
			price DOUBLE PRECISION,
			bedrooms INTEGER,
			bathrooms DOUBLE PRECISION,
			square_feet DOUBLE PRECISION,
			year_built INTEGER,
			vintage TEXT NOT NULL DEFAULT 'unknown',
			walk_score JSONB,
			walk_score_checked_at TIMESTAMPTZ,
			intensity DOUBLE PRECISION NOT NULL DEFAULT 0,
			deal_rating TEXT NOT NULL DEFAULT '',
			ai_evaluation_reasoning TEXT NOT NULL DEFAULT '',
			timestamp BIGINT NOT NULL,
			source TEXT NOT NULL DEFAULT '',
			property_data JSONB
		);
		CREATE INDEX IF NOT EXISTS idx_properties_timestamp ON properties(timestamp);
		CREATE INDEX IF NOT EXISTS idx_properties_intensity ON properties(intensity);`)
	return err
}

// =============================================================================
// Properties
// =============================================================================

func (s *PostgresStore) UpsertProperty(ctx context.Context, p *models.Property) error {
	args, err := propertyArgs(p)
	if err != nil {
		return err
	}
	for _, i := range []int{10, 16} {
		if b, _ := args[i].([]byte); b == nil {
			args[i] = nil
		}
	}

	query := `
		INSERT INTO properties (` + propertyColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (id) DO UPDATE SET
			address = EXCLUDED.address,
			lat = EXCLUDED.lat,
			lng = EXCLUDED.lng,
			price = EXCLUDED.price,
			bedrooms = EXCLUDED.bedrooms,
			bathrooms = EXCLUDED.bathrooms,
			square_feet = EXCLUDED.square_feet,
			year_built = EXCLUDED.year_built,
			vintage = EXCLUDED.vintage,
			walk_score = COALESCE(EXCLUDED.walk_score, properties.walk_score),
			intensity = EXCLUDED.intensity,
			deal_rating = EXCLUDED.deal_rating,
			ai_evaluation_reasoning = EXCLUDED.ai_evaluation_reasoning,
			timestamp = EXCLUDED.timestamp,
			source = EXCLUDED.source,
			property_data = EXCLUDED.property_data`

	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert property %s: %w", p.Identifier, err)
	}
	return nil
}

func (s *PostgresStore) GetProperty(ctx context.Context, id string) (*models.Property, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+propertyColumns+` FROM properties WHERE id = $1`, id)
	p, err := scanProperty(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return p, err
}

func (s *PostgresStore) ListProperties(ctx context.Context, f models.PropertyFilter) ([]models.Property, int, error) {
	f = NormalizeFilter(f)
	where, args := filterClause(f, dollar)

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM properties`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	n := len(args)
	query := fmt.Sprintf(`SELECT %s FROM properties%s ORDER BY timestamp DESC, id LIMIT %s OFFSET %s`,
		propertyColumns, where, dollar(n+1), dollar(n+2))
	rows, err := s.pool.Query(ctx, query, append(args, f.PerPage, f.Offset())...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	props := []models.Property{}
	for rows.Next() {
		p, err := scanProperty(rows)
		if err != nil {
			return nil, 0, err
		}
		props = append(props, *p)
	}
	return props, total, rows.Err()
}

func (s *PostgresStore) RatingCounts(ctx context.Context) (*models.RatingCounts, error) {
	c := &models.RatingCounts{ByRating: map[string]int{}}
	err := s.pool.QueryRow(ctx, ratingCountsQuery).Scan(&c.Total, &c.HotDeals, &c.GoodDeals, &c.AverageDeals, &c.WeakDeals)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, ratingGroupsQuery)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			rating string
			n      int
		)
		if err := rows.Scan(&rating, &n); err != nil {
			return nil, err
		}
		c.ByRating[rating] = n
	}
	return c, rows.Err()
}

// =============================================================================
// Walk score backfill
// =============================================================================

func (s *PostgresStore) ListMissingWalkScore(ctx context.Context, limit int) ([]models.Property, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+propertyColumns+` FROM properties`+missingWalkScoreWhere+`
		ORDER BY walk_score_checked_at NULLS FIRST, timestamp DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var props []models.Property
	for rows.Next() {
		p, err := scanProperty(rows)
		if err != nil {
			return nil, err
		}
		props = append(props, *p)
	}
	return props, rows.Err()
}

func (s *PostgresStore) UpdateWalkScore(ctx context.Context, id string, ws *models.WalkScore) error {
	if ws == nil {
		_, err := s.pool.Exec(ctx, `UPDATE properties SET walk_score_checked_at = NOW() WHERE id = $1`, id)
		return err
	}
	data, err := json.Marshal(ws)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE properties SET walk_score = $1, walk_score_checked_at = NOW() WHERE id = $2`, data, id)
	return err
}

func dollar(n int) string {
	return fmt.Sprintf("$%d", n)
}
