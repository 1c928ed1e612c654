package storage

import (
	"context"
	"database/sql"
	"strings"

	_ "modernc.org/sqlite"

	"logsentinel/internal/model"
)

var sqliteQueries = queries{
	insertBundle:  `INSERT INTO bundles (created_at, data) VALUES (?, ?)`,
	latestBundle:  `SELECT data FROM bundles ORDER BY id DESC LIMIT 1`,
	insertSummary: `INSERT INTO summaries (ts, record_id, risk_level, action_required, category, dominant_signal, confidence, summary_json) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
	recentSummary: `SELECT summary_json FROM summaries ORDER BY id DESC LIMIT ?`,
	insertHealth:  `INSERT INTO health_snapshots (ts, overall, snapshot_json) VALUES (?, ?, ?)`,
	latestHealth:  `SELECT snapshot_json FROM health_snapshots ORDER BY id DESC LIMIT 1`,
}

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:logsentinel.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return &sqliteStore{baseStore{db: db}}, nil
}

func (s *sqliteStore) Init(ctx context.Context) error {
	return s.initSchema(ctx, []string{
		`CREATE TABLE IF NOT EXISTS bundles (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			created_at TEXT NOT NULL,
			data TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS summaries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TEXT NOT NULL,
			record_id TEXT NOT NULL,
			risk_level TEXT NOT NULL,
			action_required INTEGER NOT NULL,
			category TEXT NOT NULL,
			dominant_signal TEXT NOT NULL,
			confidence REAL NOT NULL,
			summary_json TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_summaries_ts ON summaries(ts)`,
		`CREATE TABLE IF NOT EXISTS health_snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TEXT NOT NULL,
			overall TEXT NOT NULL,
			snapshot_json TEXT NOT NULL
		)`,
	})
}

func (s *sqliteStore) WriteBundle(ctx context.Context, data []byte) error {
	return s.writeBundle(ctx, sqliteQueries, data)
}

func (s *sqliteStore) ReadBundle(ctx context.Context) ([]byte, error) {
	return s.readBundle(ctx, sqliteQueries)
}

func (s *sqliteStore) SaveSummary(ctx context.Context, summary model.AnalysisSummary) error {
	return s.saveSummary(ctx, sqliteQueries, summary)
}

func (s *sqliteStore) RecentSummaries(ctx context.Context, limit int) ([]model.AnalysisSummary, error) {
	return s.recentSummaries(ctx, sqliteQueries, limit)
}

func (s *sqliteStore) SaveHealth(ctx context.Context, snap model.HealthSnapshot) error {
	return s.saveHealth(ctx, sqliteQueries, snap)
}

func (s *sqliteStore) LatestHealth(ctx context.Context) (model.HealthSnapshot, error) {
	return s.latestHealth(ctx, sqliteQueries)
}
