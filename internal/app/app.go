// Package app assembles the analysis core, stream processor, monitoring and
// storage into one runnable service.
package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"logsentinel/internal/alerts"
	"logsentinel/internal/analysis"
	"logsentinel/internal/api"
	"logsentinel/internal/apperr"
	"logsentinel/internal/classify"
	"logsentinel/internal/config"
	"logsentinel/internal/ingest"
	"logsentinel/internal/logging"
	"logsentinel/internal/metrics"
	"logsentinel/internal/model"
	"logsentinel/internal/monitor"
	"logsentinel/internal/storage"
	"logsentinel/internal/stream"
)

const (
	configPollInterval = 3 * time.Second
	storeTimeout       = 5 * time.Second
)

type Options struct {
	Logger *slog.Logger
	// Level, when set, is adjusted on config reloads.
	Level *slog.LevelVar
	// LevelOverride pins the log level (a command-line flag); reloads keep it.
	LevelOverride string
	Version       string
}

type App struct {
	cfg     *config.Manager
	logger  *slog.Logger
	level   *slog.LevelVar
	pinned  string
	version string

	coord    *analysis.Coordinator
	mon      *monitor.PerformanceMonitor
	alerts   *alerts.Store
	proc     *stream.Processor
	parser   *ingest.Parser
	registry *prometheus.Registry

	store   storage.Store
	bundles storage.BundleStore
	closers []io.Closer
}

// New builds every component from the current config. Storage is opened and
// its schema created; nothing is started.
func New(ctx context.Context, mgr *config.Manager, opts Options) (*App, error) {
	if mgr == nil {
		return nil, apperr.Configuration("app.new", "config manager is required")
	}
	cfg := mgr.Get()
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	rules, err := classify.LoadRules(cfg.Analysis.RulesPath)
	if err != nil {
		return nil, err
	}
	coord, err := analysis.NewCoordinator(analysis.Options{
		Threshold: cfg.Analysis.AnomalyThreshold,
		Rules:     rules,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}
	mon, err := monitor.New(cfg.Monitor.MaxHistory, monitor.Thresholds{
		MaxLatencyMS: cfg.Monitor.MaxLatencyMS,
		MinAccuracy:  cfg.Monitor.MinAccuracy,
		MaxErrorRate: cfg.Monitor.MaxErrorRate,
	})
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	if err := metrics.Register(reg); err != nil {
		return nil, err
	}
	if err := reg.Register(collectors.NewGoCollector()); err != nil {
		return nil, err
	}

	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		return nil, apperr.Configuration("app.new", err.Error())
	}
	if store != nil {
		if err := store.Init(ctx); err != nil {
			store.Close()
			return nil, apperr.Persistence("app.new", "init storage", err)
		}
	}
	bundles, err := storage.NewBundleStore(cfg.Storage, cfg.Analysis.BundlePath, store)
	if err != nil {
		if store != nil {
			store.Close()
		}
		return nil, apperr.Configuration("app.new", err.Error())
	}

	popts := stream.OptionsFromConfig(cfg.Stream)
	popts.Monitor = mon
	popts.Logger = logger
	proc, err := stream.NewProcessor(coord, popts)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:      mgr,
		logger:   logger,
		level:    opts.Level,
		pinned:   opts.LevelOverride,
		version:  opts.Version,
		coord:    coord,
		mon:      mon,
		alerts:   alerts.NewStore(cfg.Alerts.StoreLimit),
		proc:     proc,
		parser:   ingest.NewParser(cfg.Ingest.Parser),
		registry: reg,
		store:    store,
		bundles:  bundles,
	}
	proc.AddCallback(a.alerts.Handle)
	if store != nil && cfg.Storage.ArchiveSummaries {
		proc.AddCallback(a.archive)
	}
	proc.AddCallback(a.logHighPriority)
	return a, nil
}

func (a *App) Coordinator() *analysis.Coordinator   { return a.coord }
func (a *App) Monitor() *monitor.PerformanceMonitor { return a.mon }
func (a *App) Alerts() *alerts.Store                { return a.alerts }
func (a *App) Processor() *stream.Processor         { return a.proc }
func (a *App) Parser() *ingest.Parser               { return a.parser }
func (a *App) Registry() *prometheus.Registry       { return a.registry }
func (a *App) Store() storage.Store                 { return a.store }

// LoadBundle restores the last saved bundle. A missing bundle is not an
// error; the coordinator stays untrained.
func (a *App) LoadBundle(ctx context.Context) error {
	err := a.coord.LoadFrom(ctx, a.bundles)
	if errors.Is(err, storage.ErrNoBundle) {
		a.logger.Info("no saved bundle; waiting for training")
		return nil
	}
	metrics.ObserveBundleLoad(err)
	if err != nil {
		return err
	}
	cls, sc := a.coord.Ready()
	a.logger.Info("bundle loaded", "classifier_ready", cls, "scorer_ready", sc)
	return nil
}

// Train fits both components on records and persists the resulting bundle.
func (a *App) Train(ctx context.Context, records []model.LogRecord) error {
	if err := a.coord.Train(records); err != nil {
		return err
	}
	if err := a.coord.SaveTo(ctx, a.bundles); err != nil {
		return err
	}
	a.logger.Info("bundle saved", "records", len(records))
	return nil
}

// Source opens the configured live input: Kafka when enabled, otherwise the
// file tailer.
func (a *App) Source(ctx context.Context) (stream.Source, error) {
	cfg := a.cfg.Get()
	switch {
	case cfg.Ingest.Kafka.Enabled:
		src, err := ingest.NewKafkaSource(cfg.Ingest.Kafka, a.parser, a.logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, src)
		return src, nil
	case cfg.Ingest.FileTail.Enabled:
		return ingest.NewFileTailSource(ctx, cfg.Ingest.FileTail, cfg.Stream.ChannelBuffer, a.parser, a.logger), nil
	default:
		return nil, apperr.Configuration("app.source", "no input enabled; set ingest.kafka.enabled or ingest.file_tail.enabled")
	}
}

// Run serves the API, starts the background loops and processes src until it
// is exhausted, ctx is cancelled or the processor stops on its own.
func (a *App) Run(ctx context.Context, src stream.Source) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cfg := a.cfg.Get()
	api.Start(ctx, api.Deps{
		Config:   a.cfg,
		Health:   a.mon,
		Analysis: a.coord,
		Stream:   a.proc,
		Alerts:   a.alerts,
		Gatherer: a.registry,
		Logger:   a.logger,
		Version:  a.version,
	})

	var wg sync.WaitGroup
	if fb, ok := a.bundles.(*storage.FileBundleStore); ok && cfg.Analysis.WatchBundle {
		w := analysis.NewBundleWatcher(a.coord, fb.Path(), a.logger)
		w.OnReload(metrics.ObserveBundleLoad)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.Run(ctx); err != nil {
				a.logger.Warn("bundle watcher stopped", "err", err)
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.snapshotLoop(ctx, cfg.Monitor.SnapshotInterval)
	}()
	if a.cfg.Path() != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.cfg.Watch(configPollInterval, a.applyConfig, func(err error) {
				a.logger.Warn("config reload failed", "path", a.cfg.Path(), "err", err)
			}, ctx.Done())
		}()
	}
	if err := a.proc.Start(ctx, src); err != nil {
		cancel()
		wg.Wait()
		return err
	}
	go func() {
		<-ctx.Done()
		a.proc.Stop()
	}()

	err := a.proc.Wait()
	cancel()
	wg.Wait()
	a.recordHealth(context.Background())
	return err
}

func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	} else if c, ok := a.bundles.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

func (a *App) snapshotLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.recordHealth(ctx)
		}
	}
}

func (a *App) recordHealth(ctx context.Context) {
	snap := a.mon.Snapshot()
	metrics.ObserveHealth(snap)
	if snap.Overall != model.HealthHealthy {
		a.logger.Warn("model health degraded", "status", snap.Overall)
	}
	if a.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	if err := a.store.SaveHealth(ctx, snap); err != nil {
		a.logger.Warn("save health snapshot failed", "err", err)
	}
}

// applyConfig takes the settings that can change at runtime. Analysis,
// stream and storage settings are read once at startup.
func (a *App) applyConfig(cfg *config.Config) {
	level := cfg.LogLevel
	if a.pinned != "" {
		level = a.pinned
	}
	logging.SetLevel(a.level, level)
	a.logger.Info("config reloaded", "path", a.cfg.Path(), "log_level", level)
	if cfg.Analysis.AnomalyThreshold != a.coord.Threshold() {
		a.logger.Warn("anomaly_threshold change takes effect after restart",
			"active", a.coord.Threshold(), "configured", cfg.Analysis.AnomalyThreshold)
	}
}

func (a *App) archive(s model.AnalysisSummary) error {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	return a.store.SaveSummary(ctx, s)
}

func (a *App) logHighPriority(s model.AnalysisSummary) error {
	attrs := []any{"record_id", s.RecordID, "risk_level", s.RiskLevel}
	if s.Classification != nil {
		attrs = append(attrs, "category", s.Classification.Category)
	}
	if s.Anomaly != nil {
		attrs = append(attrs, "explanation", s.Anomaly.Explanation)
	}
	a.logger.Warn("high priority record", attrs...)
	return nil
}
