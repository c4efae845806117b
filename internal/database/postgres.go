package database

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/newrelic/go-agent/v3/integrations/nrpq"
	"github.com/pkg/errors"
)

// schema is applied on startup; every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS mechanics (
		id                TEXT PRIMARY KEY,
		name              TEXT NOT NULL,
		phone             TEXT NOT NULL,
		email             TEXT,
		rating            DOUBLE PRECISION NOT NULL DEFAULT 0,
		total_reviews     INTEGER NOT NULL DEFAULT 0,
		specialties       TEXT[] NOT NULL DEFAULT '{}',
		status            TEXT NOT NULL DEFAULT 'offline',
		current_lat       DOUBLE PRECISION NOT NULL DEFAULT 0,
		current_lng       DOUBLE PRECISION NOT NULL DEFAULT 0,
		service_radius_km DOUBLE PRECISION NOT NULL DEFAULT 0,
		created_at        TIMESTAMPTZ NOT NULL,
		updated_at        TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS emergency_requests (
		id                     TEXT PRIMARY KEY,
		location               TEXT NOT NULL,
		lng                    DOUBLE PRECISION,
		lat                    DOUBLE PRECISION,
		phone                  TEXT NOT NULL,
		description            TEXT,
		status                 TEXT NOT NULL,
		service_type           TEXT,
		mechanic_id            TEXT REFERENCES mechanics(id),
		user_id                TEXT,
		estimated_arrival_time TIMESTAMPTZ,
		actual_arrival_time    TIMESTAMPTZ,
		completion_time        TIMESTAMPTZ,
		rating                 INTEGER CHECK (rating BETWEEN 1 AND 5),
		review                 TEXT,
		created_at             TIMESTAMPTZ NOT NULL,
		updated_at             TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_emergency_requests_status ON emergency_requests (status)`,
	`CREATE INDEX IF NOT EXISTS idx_mechanics_status ON mechanics (status)`,
}

type PostgresDB struct {
	*sqlx.DB
}

func NewPostgres(databaseURL string, maxConns, maxIdleConns int) (*PostgresDB, error) {
	// nrpq registers "nrpostgres", which wraps lib/pq with New Relic segments
	db, err := sqlx.Connect("nrpostgres", databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "connect postgres")
	}

	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "ping postgres")
	}

	return &PostgresDB{DB: db}, nil
}

// EnsureSchema creates the tables the request and mechanic stores use.
func (p *PostgresDB) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := p.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "apply schema")
		}
	}
	return nil
}

func (p *PostgresDB) Close() error {
	return p.DB.Close()
}

func (p *PostgresDB) Health(ctx context.Context) error {
	return p.PingContext(ctx)
}
