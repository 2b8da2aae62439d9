package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresStore keeps history entries in the history_entries table
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Record inserts a history entry
func (s *PostgresStore) Record(ctx context.Context, e Entry) error {
	recordedAt := time.Now()
	if e.Timestamp != "" {
		recordedAt = parseTimestamp(e.Timestamp)
	}

	query := `
		INSERT INTO history_entries (type, filename, duration_seconds, people_count, recorded_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	var duration sql.NullFloat64
	if e.DurationSec != nil {
		duration = sql.NullFloat64{Float64: *e.DurationSec, Valid: true}
	}
	if _, err := s.db.ExecContext(ctx, query, e.Type, e.Filename, duration, e.PeopleCount, recordedAt); err != nil {
		return fmt.Errorf("failed to record history entry: %w", err)
	}
	return nil
}

// List returns the most recent entries, oldest first
func (s *PostgresStore) List(ctx context.Context, limit int) ([]Entry, error) {
	query := `
		SELECT type, filename, duration_seconds, people_count, recorded_at
		FROM history_entries
		ORDER BY id DESC
	`
	args := []any{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var (
			e          Entry
			duration   sql.NullFloat64
			recordedAt time.Time
		)
		if err := rows.Scan(&e.Type, &e.Filename, &duration, &e.PeopleCount, &recordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		if duration.Valid {
			d := duration.Float64
			e.DurationSec = &d
		}
		e.Timestamp = recordedAt.Local().Format(TimeFormat)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate history: %w", err)
	}

	reverse(entries)
	return entries, nil
}

// PostgresStreamLog keeps stream entries in the stream_log table
type PostgresStreamLog struct {
	db *sql.DB
}

func NewPostgresStreamLog(db *sql.DB) *PostgresStreamLog {
	return &PostgresStreamLog{db: db}
}

// Append inserts a stream log entry
func (s *PostgresStreamLog) Append(ctx context.Context, e StreamEntry) error {
	recordedAt := time.Now()
	if e.Timestamp != "" {
		recordedAt = parseTimestamp(e.Timestamp)
	}

	query := `
		INSERT INTO stream_log (job_id, url, resolved_url, status, max_count, frames, error, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.db.ExecContext(ctx, query,
		e.JobID,
		e.URL,
		nullString(e.ResolvedURL),
		e.Status,
		e.MaxCount,
		e.Frames,
		nullString(e.Error),
		recordedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append stream log: %w", err)
	}
	return nil
}

// List returns the most recent stream entries, oldest first
func (s *PostgresStreamLog) List(ctx context.Context, limit int) ([]StreamEntry, error) {
	query := `
		SELECT job_id, url, resolved_url, status, max_count, frames, error, recorded_at
		FROM stream_log
		ORDER BY id DESC
	`
	args := []any{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list stream log: %w", err)
	}
	defer rows.Close()

	entries := []StreamEntry{}
	for rows.Next() {
		var (
			e          StreamEntry
			resolved   sql.NullString
			errMsg     sql.NullString
			recordedAt time.Time
		)
		if err := rows.Scan(&e.JobID, &e.URL, &resolved, &e.Status, &e.MaxCount, &e.Frames, &errMsg, &recordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan stream log entry: %w", err)
		}
		e.ResolvedURL = resolved.String
		e.Error = errMsg.String
		e.Timestamp = recordedAt.Local().Format(TimeFormat)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate stream log: %w", err)
	}

	reverse(entries)
	return entries, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func reverse[T any](items []T) {
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
}
