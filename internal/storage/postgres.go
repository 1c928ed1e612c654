package storage

import (
	"context"
	"database/sql"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"

	"logsentinel/internal/model"
)

var postgresQueries = queries{
	insertBundle:  `INSERT INTO bundles (created_at, data) VALUES ($1, $2)`,
	latestBundle:  `SELECT data FROM bundles ORDER BY id DESC LIMIT 1`,
	insertSummary: `INSERT INTO summaries (ts, record_id, risk_level, action_required, category, dominant_signal, confidence, summary_json) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
	recentSummary: `SELECT summary_json::text FROM summaries ORDER BY id DESC LIMIT $1`,
	insertHealth:  `INSERT INTO health_snapshots (ts, overall, snapshot_json) VALUES ($1, $2, $3)`,
	latestHealth:  `SELECT snapshot_json::text FROM health_snapshots ORDER BY id DESC LIMIT 1`,
}

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/logsentinel?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{db: db}}, nil
}

func (s *postgresStore) Init(ctx context.Context) error {
	return s.initSchema(ctx, []string{
		`CREATE TABLE IF NOT EXISTS bundles (
			id BIGSERIAL PRIMARY KEY,
			created_at TIMESTAMPTZ NOT NULL,
			data TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS summaries (
			id BIGSERIAL PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			record_id TEXT NOT NULL,
			risk_level TEXT NOT NULL,
			action_required BOOLEAN NOT NULL,
			category TEXT NOT NULL,
			dominant_signal TEXT NOT NULL,
			confidence DOUBLE PRECISION NOT NULL,
			summary_json JSONB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_summaries_ts ON summaries(ts)`,
		`CREATE TABLE IF NOT EXISTS health_snapshots (
			id BIGSERIAL PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			overall TEXT NOT NULL,
			snapshot_json JSONB NOT NULL
		)`,
	})
}

func (s *postgresStore) WriteBundle(ctx context.Context, data []byte) error {
	return s.writeBundle(ctx, postgresQueries, data)
}

func (s *postgresStore) ReadBundle(ctx context.Context) ([]byte, error) {
	return s.readBundle(ctx, postgresQueries)
}

func (s *postgresStore) SaveSummary(ctx context.Context, summary model.AnalysisSummary) error {
	return s.saveSummary(ctx, postgresQueries, summary)
}

func (s *postgresStore) RecentSummaries(ctx context.Context, limit int) ([]model.AnalysisSummary, error) {
	return s.recentSummaries(ctx, postgresQueries, limit)
}

func (s *postgresStore) SaveHealth(ctx context.Context, snap model.HealthSnapshot) error {
	return s.saveHealth(ctx, postgresQueries, snap)
}

func (s *postgresStore) LatestHealth(ctx context.Context) (model.HealthSnapshot, error) {
	return s.latestHealth(ctx, postgresQueries)
}
