// Package db opens the PostgreSQL connection and applies the schema.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"regexp"

	_ "github.com/lib/pq"
)

// Config holds PostgreSQL connection settings
type Config struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	Schema   string `yaml:"schema"`
	SSLMode  string `yaml:"sslmode"`
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// DSN renders the lib/pq key/value connection string.
func (c Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host,
		c.Port,
		c.User,
		c.Password,
		c.Database,
		c.SSLMode,
	)
}

// ConnectPostgres opens the database, selects the schema and runs migrations.
func ConnectPostgres(ctx context.Context, cfg Config) (*sql.DB, error) {
	if cfg.Schema == "" {
		cfg.Schema = "public"
	}
	if !identRe.MatchString(cfg.Schema) {
		return nil, fmt.Errorf("invalid schema name %q", cfg.Schema)
	}

	db, err := sql.Open("postgres", cfg.DSN()+" search_path="+cfg.Schema+",public")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", cfg.Schema)); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)

	slog.Info("db: postgres connection established", "database", cfg.Database, "schema", cfg.Schema)
	return db, nil
}

// Migrations are applied in order on every start; each is idempotent.
var Migrations = []string{
	`CREATE TABLE IF NOT EXISTS history_entries (
		id BIGSERIAL PRIMARY KEY,
		type TEXT NOT NULL,
		filename TEXT NOT NULL,
		duration_seconds DOUBLE PRECISION,
		people_count INTEGER NOT NULL,
		recorded_at TIMESTAMP WITH TIME ZONE NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_history_entries_recorded_at ON history_entries(recorded_at DESC)`,

	`CREATE TABLE IF NOT EXISTS stream_log (
		id BIGSERIAL PRIMARY KEY,
		job_id TEXT NOT NULL,
		url TEXT NOT NULL,
		resolved_url TEXT,
		status TEXT NOT NULL,
		max_count INTEGER NOT NULL,
		frames INTEGER NOT NULL,
		error TEXT,
		recorded_at TIMESTAMP WITH TIME ZONE NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_stream_log_recorded_at ON stream_log(recorded_at DESC)`,
}

func runMigrations(ctx context.Context, db *sql.DB) error {
	for i, migration := range Migrations {
		if _, err := db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	slog.Debug("db: migrations applied", "count", len(Migrations))
	return nil
}
