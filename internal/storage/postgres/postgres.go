package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/goodtune/adherence/internal/config"
	"github.com/goodtune/adherence/internal/storage"
	_ "github.com/lib/pq"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS usage_sessions (
		id TEXT PRIMARY KEY,
		patient_id TEXT NOT NULL,
		device_id TEXT NOT NULL,
		start_time TIMESTAMPTZ NOT NULL,
		end_time TIMESTAMPTZ NOT NULL,
		duration_minutes INTEGER NOT NULL,
		time_of_day TEXT NOT NULL,
		compliance_score DOUBLE PRECISION NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS usage_sessions_patient_created_idx
		ON usage_sessions (patient_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS devices (
		id TEXT NOT NULL,
		patient_id TEXT NOT NULL,
		device_id TEXT NOT NULL,
		device_name TEXT NOT NULL DEFAULT '',
		is_connected BOOLEAN NOT NULL DEFAULT FALSE,
		last_connected TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (device_id, patient_id)
	)`,
	`CREATE TABLE IF NOT EXISTS identities (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		role TEXT NOT NULL,
		role_identifier TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		UNIQUE (name, role_identifier, role)
	)`,
}

// Store implements the storage.Store interface using PostgreSQL.
type Store struct {
	db *sql.DB
}

// Open connects to PostgreSQL and applies the schema.
func Open(cfg config.PostgresConfig) (*Store, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if lifetime := config.ParseDuration(cfg.ConnMaxLifetime, 0); lifetime > 0 {
		db.SetConnMaxLifetime(lifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := New(db)
	if err := store.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// New wraps an existing connection pool.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Migrate creates tables and indexes that do not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Sessions returns the session store.
func (s *Store) Sessions() storage.SessionStore { return &sessionStore{db: s.db} }

// Devices returns the device store.
func (s *Store) Devices() storage.DeviceStore { return &deviceStore{db: s.db} }

// Identities returns the identity store.
func (s *Store) Identities() storage.IdentityStore { return &identityStore{db: s.db} }
