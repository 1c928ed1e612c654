package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"logsentinel/internal/config"
	"logsentinel/internal/model"
)

var ErrNoBundle = errors.New("storage: no bundle stored")

// BundleStore holds the latest analysis bundle as opaque bytes.
type BundleStore interface {
	WriteBundle(ctx context.Context, data []byte) error
	ReadBundle(ctx context.Context) ([]byte, error)
}

// Store is a SQL backend for bundles, archived high-priority summaries and
// health snapshots.
type Store interface {
	BundleStore
	Init(ctx context.Context) error
	Close() error
	SaveSummary(ctx context.Context, summary model.AnalysisSummary) error
	RecentSummaries(ctx context.Context, limit int) ([]model.AnalysisSummary, error)
	SaveHealth(ctx context.Context, snap model.HealthSnapshot) error
	LatestHealth(ctx context.Context) (model.HealthSnapshot, error)
}

// NewStore opens the SQL backend named by cfg.Driver. It returns nil when
// storage is disabled or the driver keeps bundles only (file, redis).
func NewStore(cfg config.StorageConfig) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	case "", "file", "redis":
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}

// NewBundleStore picks where bundles live. SQL drivers reuse store, which may
// be nil for the file and redis drivers.
func NewBundleStore(cfg config.StorageConfig, bundlePath string, store Store) (BundleStore, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "file":
		if strings.TrimSpace(bundlePath) == "" {
			return nil, errors.New("analysis.bundle_path is required for the file driver")
		}
		return NewFileBundleStore(bundlePath), nil
	case "redis":
		return NewRedisBundleStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisKey), nil
	case "sqlite", "postgres", "postgresql":
		if store == nil {
			return nil, fmt.Errorf("storage driver %q requires storage.enabled", cfg.Driver)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}

type baseStore struct {
	db *sql.DB
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func (b *baseStore) initSchema(ctx context.Context, stmts []string) error {
	if b.db == nil {
		return nil
	}
	for _, stmt := range stmts {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// queries differ between drivers only in placeholders and DDL.
type queries struct {
	insertBundle  string
	latestBundle  string
	insertSummary string
	recentSummary string
	insertHealth  string
	latestHealth  string
}

func (b *baseStore) writeBundle(ctx context.Context, q queries, data []byte) error {
	if b.db == nil {
		return nil
	}
	_, err := b.db.ExecContext(ctx, q.insertBundle, nowUTC(), string(data))
	return err
}

func (b *baseStore) readBundle(ctx context.Context, q queries) ([]byte, error) {
	var data string
	err := b.db.QueryRowContext(ctx, q.latestBundle).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoBundle
	}
	if err != nil {
		return nil, err
	}
	return []byte(data), nil
}

func (b *baseStore) saveSummary(ctx context.Context, q queries, s model.AnalysisSummary) error {
	if b.db == nil {
		return nil
	}
	category := ""
	if s.Classification != nil {
		category = string(s.Classification.Category)
	}
	signal := model.SignalNone
	confidence := 0.0
	if s.Anomaly != nil {
		signal = s.Anomaly.DominantSignal
		confidence = s.Anomaly.Confidence
	}
	_, err := b.db.ExecContext(ctx, q.insertSummary,
		s.Timestamp.UTC(),
		s.RecordID,
		string(s.RiskLevel),
		s.ActionRequired,
		category,
		signal,
		confidence,
		encodeJSON(s),
	)
	return err
}

func (b *baseStore) recentSummaries(ctx context.Context, q queries, limit int) ([]model.AnalysisSummary, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := b.db.QueryContext(ctx, q.recentSummary, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.AnalysisSummary, 0)
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var s model.AnalysisSummary
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			return nil, fmt.Errorf("decode archived summary: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (b *baseStore) saveHealth(ctx context.Context, q queries, snap model.HealthSnapshot) error {
	if b.db == nil {
		return nil
	}
	_, err := b.db.ExecContext(ctx, q.insertHealth, snap.Timestamp.UTC(), string(snap.Overall), encodeJSON(snap))
	return err
}

func (b *baseStore) latestHealth(ctx context.Context, q queries) (model.HealthSnapshot, error) {
	var raw string
	if err := b.db.QueryRowContext(ctx, q.latestHealth).Scan(&raw); err != nil {
		return model.HealthSnapshot{}, err
	}
	var snap model.HealthSnapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return model.HealthSnapshot{}, fmt.Errorf("decode health snapshot: %w", err)
	}
	return snap, nil
}

func encodeJSON(value any) string {
	data, _ := json.Marshal(value)
	return string(data)
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
