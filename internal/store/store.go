package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// Store wraps the optional Postgres request-audit database. A nil
// Store disables auditing entirely.
type Store struct {
	DB *sql.DB
}

// New creates a Store over a shared *sql.DB with pooling.
func New(db *sql.DB) *Store {
	return &Store{DB: db}
}

// RequestRecord is one audited links request.
type RequestRecord struct {
	ID         uuid.UUID `json:"id"`
	TargetURL  string    `json:"targetUrl"`
	RootURL    string    `json:"rootUrl"`
	Mode       string    `json:"mode"`
	Cached     bool      `json:"cached"`
	Status     string    `json:"status"`
	ErrorCode  string    `json:"errorCode,omitempty"`
	DurationMs int64     `json:"durationMs"`
	CreatedAt  time.Time `json:"createdAt"`
}

// RecordRequest inserts one audit row.
func (s *Store) RecordRequest(ctx context.Context, rec RequestRecord) error {
	if s == nil || s.DB == nil {
		return nil
	}

	var errCode sql.NullString
	if rec.ErrorCode != "" {
		errCode = sql.NullString{String: rec.ErrorCode, Valid: true}
	}

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO request_log (id, target_url, root_url, mode, cached, status, error_code, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ID, rec.TargetURL, rec.RootURL, rec.Mode, rec.Cached, rec.Status, errCode, rec.DurationMs,
	)
	return err
}

// RecentRequests lists the newest audit rows, newest first.
func (s *Store) RecentRequests(ctx context.Context, limit int) ([]RequestRecord, error) {
	if s == nil || s.DB == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, target_url, root_url, mode, cached, status, error_code, duration_ms, created_at
		FROM request_log
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RequestRecord
	for rows.Next() {
		var rec RequestRecord
		var errCode sql.NullString
		if err := rows.Scan(&rec.ID, &rec.TargetURL, &rec.RootURL, &rec.Mode, &rec.Cached,
			&rec.Status, &errCode, &rec.DurationMs, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.ErrorCode = errCode.String
		out = append(out, rec)
	}
	return out, rows.Err()
}
