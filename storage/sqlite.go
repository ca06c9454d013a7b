package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"flipr_ingest/models"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore is the local store: properties (as a sink and for the read API), crawl
// progress, operator commands and per-source run history.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate %s: %w", dbPath, err)
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS properties (
		id TEXT PRIMARY KEY,
		address TEXT NOT NULL DEFAULT '',
		lat REAL,
		lng REAL,
		price REAL,
		bedrooms INTEGER,
		bathrooms REAL,
		square_feet REAL,
		year_built INTEGER,
		vintage TEXT NOT NULL DEFAULT 'unknown',
		walk_score JSON,
		walk_score_checked_at INTEGER,
		intensity REAL NOT NULL DEFAULT 0,
		deal_rating TEXT NOT NULL DEFAULT '',
		ai_evaluation_reasoning TEXT NOT NULL DEFAULT '',
		timestamp INTEGER NOT NULL,
		source TEXT NOT NULL DEFAULT '',
		property_data JSON
	);

	CREATE TABLE IF NOT EXISTS crawl_progress (
		city TEXT PRIMARY KEY,
		attom_page INTEGER NOT NULL,
		rentcast_offset INTEGER NOT NULL,
		redfin_page INTEGER NOT NULL,
		datafiniti_page INTEGER NOT NULL,
		last_api TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS source_runs (
		id INTEGER PRIMARY KEY,
		city TEXT,
		source TEXT,
		started_at DATETIME,
		finished_at DATETIME,
		status TEXT,
		start_cursor INTEGER,
		end_cursor INTEGER,
		pages INTEGER DEFAULT 0,
		records_found INTEGER DEFAULT 0,
		records_sunk INTEGER DEFAULT 0,
		duplicates INTEGER DEFAULT 0,
		no_coordinates INTEGER DEFAULT 0,
		errors_count INTEGER DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS commands (
		id INTEGER PRIMARY KEY,
		command TEXT,
		params JSON,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		processed_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_properties_timestamp ON properties(timestamp);
	CREATE INDEX IF NOT EXISTS idx_properties_intensity ON properties(intensity);
	CREATE INDEX IF NOT EXISTS idx_commands_pending ON commands(processed_at) WHERE processed_at IS NULL;
	CREATE INDEX IF NOT EXISTS idx_runs_source ON source_runs(source, started_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// Properties
// =============================================================================

// UpsertProperty inserts or replaces a property by identifier. A stored walk score
// survives an update that carries none.
func (s *SQLiteStore) UpsertProperty(ctx context.Context, p *models.Property) error {
	args, err := propertyArgs(p)
	if err != nil {
		return err
	}
	// go-sqlite3 stores []byte as BLOB; keep JSON columns readable as TEXT.
	for _, i := range []int{10, 16} {
		if b, _ := args[i].([]byte); b != nil {
			args[i] = string(b)
		} else {
			args[i] = nil
		}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO properties (`+propertyColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			address = excluded.address,
			lat = excluded.lat,
			lng = excluded.lng,
			price = excluded.price,
			bedrooms = excluded.bedrooms,
			bathrooms = excluded.bathrooms,
			square_feet = excluded.square_feet,
			year_built = excluded.year_built,
			vintage = excluded.vintage,
			walk_score = COALESCE(excluded.walk_score, walk_score),
			intensity = excluded.intensity,
			deal_rating = excluded.deal_rating,
			ai_evaluation_reasoning = excluded.ai_evaluation_reasoning,
			timestamp = excluded.timestamp,
			source = excluded.source,
			property_data = excluded.property_data`,
		args...)
	if err != nil {
		return fmt.Errorf("upsert property %s: %w", p.Identifier, err)
	}
	return nil
}

func (s *SQLiteStore) GetProperty(ctx context.Context, id string) (*models.Property, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+propertyColumns+` FROM properties WHERE id = ?`, id)
	p, err := scanProperty(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

// ListProperties returns one page of properties, newest first, and the total match count.
func (s *SQLiteStore) ListProperties(ctx context.Context, f models.PropertyFilter) ([]models.Property, int, error) {
	f = NormalizeFilter(f)
	where, args := filterClause(f, func(int) string { return "?" })

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM properties`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+propertyColumns+` FROM properties`+where+` ORDER BY timestamp DESC, id LIMIT ? OFFSET ?`,
		append(args, f.PerPage, f.Offset())...)
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

func (s *SQLiteStore) RatingCounts(ctx context.Context) (*models.RatingCounts, error) {
	c := &models.RatingCounts{ByRating: map[string]int{}}
	err := s.db.QueryRowContext(ctx, ratingCountsQuery).Scan(&c.Total, &c.HotDeals, &c.GoodDeals, &c.AverageDeals, &c.WeakDeals)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, ratingGroupsQuery)
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

func (s *SQLiteStore) ListMissingWalkScore(ctx context.Context, limit int) ([]models.Property, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+propertyColumns+` FROM properties`+missingWalkScoreWhere+`
		ORDER BY COALESCE(walk_score_checked_at, 0), timestamp DESC
		LIMIT ?`, limit)
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

// UpdateWalkScore stores ws and stamps the attempt. A nil ws only stamps the attempt.
func (s *SQLiteStore) UpdateWalkScore(ctx context.Context, id string, ws *models.WalkScore) error {
	now := time.Now().Unix()
	if ws == nil {
		_, err := s.db.ExecContext(ctx, `UPDATE properties SET walk_score_checked_at = ? WHERE id = ?`, now, id)
		return err
	}
	data, err := json.Marshal(ws)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE properties SET walk_score = ?, walk_score_checked_at = ? WHERE id = ?`,
		string(data), now, id)
	return err
}

// =============================================================================
// Crawl progress
// =============================================================================

// ProgressTable persists crawl cursors in the crawl_progress table.
type ProgressTable struct {
	db *sql.DB
}

func (s *SQLiteStore) Progress() *ProgressTable {
	return &ProgressTable{db: s.db}
}

func (t *ProgressTable) Load(ctx context.Context) (models.Progress, error) {
	rows, err := t.db.QueryContext(ctx, `
		SELECT city, attom_page, rentcast_offset, redfin_page, datafiniti_page, last_api
		FROM crawl_progress`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	progress := models.Progress{}
	for rows.Next() {
		var (
			city string
			cp   models.CityProgress
		)
		if err := rows.Scan(&city, &cp.AttomPage, &cp.RentcastOffset, &cp.RedfinPage, &cp.DatafinitiPage, &cp.LastAPI); err != nil {
			return nil, err
		}
		progress[city] = &cp
	}
	return progress, rows.Err()
}

// Save rewrites the whole table in one transaction.
func (t *ProgressTable) Save(ctx context.Context, progress models.Progress) error {
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM crawl_progress`); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO crawl_progress (city, attom_page, rentcast_offset, redfin_page, datafiniti_page, last_api)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for city, cp := range progress {
		if cp == nil {
			continue
		}
		if _, err := stmt.ExecContext(ctx, city, cp.AttomPage, cp.RentcastOffset, cp.RedfinPage, cp.DatafinitiPage, cp.LastAPI); err != nil {
			return fmt.Errorf("save progress for %s: %w", city, err)
		}
	}
	return tx.Commit()
}

// =============================================================================
// Source runs
// =============================================================================

func (s *SQLiteStore) CreateRun(ctx context.Context, run *models.SourceRun) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO source_runs (city, source, started_at, status, start_cursor, end_cursor)
		VALUES (?, ?, ?, ?, ?, ?)`,
		run.City, string(run.Source), run.StartedAt, string(run.Status), run.StartCursor, run.StartCursor)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

func (s *SQLiteStore) FinishRun(ctx context.Context, run *models.SourceRun) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE source_runs SET finished_at = ?, status = ?, end_cursor = ?, pages = ?,
			records_found = ?, records_sunk = ?, duplicates = ?, no_coordinates = ?, errors_count = ?
		WHERE id = ?`,
		run.FinishedAt, string(run.Status), run.EndCursor, run.Pages,
		run.RecordsFound, run.RecordsSunk, run.Duplicates, run.NoCoordinates, run.ErrorsCount, run.ID)
	return err
}

// RecentRuns returns the latest runs, newest first.
func (s *SQLiteStore) RecentRuns(ctx context.Context, limit int) ([]models.SourceRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, city, source, started_at, finished_at, status, start_cursor, end_cursor, pages,
			records_found, records_sunk, duplicates, no_coordinates, errors_count
		FROM source_runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []models.SourceRun
	for rows.Next() {
		var (
			run            models.SourceRun
			source, status string
		)
		if err := rows.Scan(&run.ID, &run.City, &source, &run.StartedAt, &run.FinishedAt, &status,
			&run.StartCursor, &run.EndCursor, &run.Pages, &run.RecordsFound, &run.RecordsSunk,
			&run.Duplicates, &run.NoCoordinates, &run.ErrorsCount); err != nil {
			return nil, err
		}
		run.Source = models.Source(source)
		run.Status = models.RunStatus(status)
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// =============================================================================
// Commands
// =============================================================================

func (s *SQLiteStore) EnqueueCommand(ctx context.Context, cmd models.CommandType, params *models.CommandParams) error {
	var raw any
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return err
		}
		raw = string(data)
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO commands (command, params) VALUES (?, ?)`, string(cmd), raw)
	return err
}

func (s *SQLiteStore) GetPendingCommands(ctx context.Context) ([]models.Command, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, command, params, created_at, processed_at
		FROM commands WHERE processed_at IS NULL ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cmds []models.Command
	for rows.Next() {
		var (
			cmd     models.Command
			command string
			params  sql.NullString
		)
		if err := rows.Scan(&cmd.ID, &command, &params, &cmd.CreatedAt, &cmd.ProcessedAt); err != nil {
			return nil, err
		}
		cmd.Command = models.CommandType(command)
		if params.Valid {
			cmd.Params = json.RawMessage(params.String)
		}
		cmds = append(cmds, cmd)
	}
	return cmds, rows.Err()
}

func (s *SQLiteStore) MarkCommandProcessed(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE commands SET processed_at = ? WHERE id = ?`, time.Now(), id)
	return err
}

func (s *SQLiteStore) ParseCommandParams(cmd *models.Command) (*models.CommandParams, error) {
	if cmd.Params == nil || string(cmd.Params) == "null" {
		return &models.CommandParams{}, nil
	}
	var params models.CommandParams
	if err := json.Unmarshal(cmd.Params, &params); err != nil {
		return nil, err
	}
	return &params, nil
}

// ResetAllData clears every table.
func (s *SQLiteStore) ResetAllData(ctx context.Context) error {
	tables := []string{
		"properties",
		"crawl_progress",
		"source_runs",
		"commands",
	}

	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", table)); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
