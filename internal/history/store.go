package history

import (
	"database/sql"
	"fmt"
	"time"
)

// Record is one persisted suggestion event.
type Record struct {
	ID         int64     `json:"id"`
	RequestID  string    `json:"request_id"`
	Query      string    `json:"query"`
	Tool       string    `json:"tool,omitempty"`
	Score      float64   `json:"score"`
	Status     string    `json:"status"`
	CacheHit   bool      `json:"cache_hit"`
	DurationMs float64   `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// DailyStats aggregates one day of suggestion activity.
type DailyStats struct {
	Date          string  `json:"date"` // YYYY-MM-DD
	TotalRequests int64   `json:"total_requests"`
	CacheHits     int64   `json:"cache_hits"`
	Errors        int64   `json:"errors"`
	AvgDurationMs float64 `json:"avg_duration_ms"`
}

// Store persists suggestion records and daily rollups.
type Store struct {
	db *sql.DB
}

// NewStore creates a store over an open database and initializes its schema.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize history schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS suggestion_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		request_id TEXT NOT NULL,
		query TEXT NOT NULL,
		tool TEXT,
		score REAL DEFAULT 0,
		status TEXT NOT NULL,
		cache_hit BOOLEAN DEFAULT 0,
		duration_ms REAL DEFAULT 0,
		error_msg TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_history_created_at ON suggestion_history(created_at);
	CREATE INDEX IF NOT EXISTS idx_history_tool ON suggestion_history(tool);

	CREATE TABLE IF NOT EXISTS suggestion_daily (
		date TEXT PRIMARY KEY,
		total_requests INTEGER DEFAULT 0,
		cache_hits INTEGER DEFAULT 0,
		errors INTEGER DEFAULT 0,
		total_duration_ms REAL DEFAULT 0
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Insert writes one record and updates the daily rollup in a transaction.
func (s *Store) Insert(rec Record) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin history insert: %w", err)
	}
	defer tx.Rollback()

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	_, err = tx.Exec(`
		INSERT INTO suggestion_history
			(request_id, query, tool, score, status, cache_hit, duration_ms, error_msg, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RequestID, rec.Query, rec.Tool, rec.Score, rec.Status,
		rec.CacheHit, rec.DurationMs, rec.Error, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert history record: %w", err)
	}

	isError := 0
	if rec.Error != "" {
		isError = 1
	}
	hit := 0
	if rec.CacheHit {
		hit = 1
	}
	_, err = tx.Exec(`
		INSERT INTO suggestion_daily (date, total_requests, cache_hits, errors, total_duration_ms)
		VALUES (?, 1, ?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
			total_requests = total_requests + 1,
			cache_hits = cache_hits + excluded.cache_hits,
			errors = errors + excluded.errors,
			total_duration_ms = total_duration_ms + excluded.total_duration_ms`,
		rec.CreatedAt.Format("2006-01-02"), hit, isError, rec.DurationMs,
	)
	if err != nil {
		return fmt.Errorf("update daily rollup: %w", err)
	}

	return tx.Commit()
}

// Recent returns the newest records, most recent first.
func (s *Store) Recent(limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, request_id, query, COALESCE(tool, ''), score, status,
		       cache_hit, duration_ms, COALESCE(error_msg, ''), created_at
		FROM suggestion_history
		ORDER BY id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.RequestID, &rec.Query, &rec.Tool,
			&rec.Score, &rec.Status, &rec.CacheHit, &rec.DurationMs,
			&rec.Error, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan history record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Daily returns rollups for the last n days, newest first.
func (s *Store) Daily(days int) ([]DailyStats, error) {
	if days <= 0 {
		days = 7
	}
	rows, err := s.db.Query(`
		SELECT date, total_requests, cache_hits, errors, total_duration_ms
		FROM suggestion_daily
		ORDER BY date DESC
		LIMIT ?`, days)
	if err != nil {
		return nil, fmt.Errorf("query daily stats: %w", err)
	}
	defer rows.Close()

	var out []DailyStats
	for rows.Next() {
		var d DailyStats
		var totalDuration float64
		if err := rows.Scan(&d.Date, &d.TotalRequests, &d.CacheHits, &d.Errors, &totalDuration); err != nil {
			return nil, fmt.Errorf("scan daily stats: %w", err)
		}
		if d.TotalRequests > 0 {
			d.AvgDurationMs = totalDuration / float64(d.TotalRequests)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Prune deletes history rows older than the retention window.
func (s *Store) Prune(olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	res, err := s.db.Exec(`DELETE FROM suggestion_history WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune history: %w", err)
	}
	return res.RowsAffected()
}
