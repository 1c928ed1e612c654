// Package stream runs the sequential pull-analyze-notify loop over a record
// source.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"logsentinel/internal/analysis"
	"logsentinel/internal/apperr"
	"logsentinel/internal/config"
	"logsentinel/internal/metrics"
	"logsentinel/internal/model"
)

type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

var (
	ErrNotIdle        = errors.New("stream: processor is not idle")
	ErrBreakerTripped = errors.New("stream: consecutive error limit reached")
)

// Analyzer is satisfied by *analysis.Coordinator.
type Analyzer interface {
	Analyze(r model.LogRecord) (model.AnalysisSummary, error)
}

// Recorder is satisfied by *monitor.PerformanceMonitor.
type Recorder interface {
	RecordPrediction(name string, prediction, groundTruth any, latency time.Duration)
	RecordError(name, message string)
}

// Callback receives high-priority summaries. Callbacks run synchronously in
// registration order.
type Callback func(model.AnalysisSummary) error

type Options struct {
	LatencyWindow        int
	MaxConsecutiveErrors int
	StatsLogInterval     time.Duration
	Monitor              Recorder
	Logger               *slog.Logger
}

func OptionsFromConfig(cfg config.StreamConfig) Options {
	return Options{
		LatencyWindow:        cfg.LatencyWindow,
		MaxConsecutiveErrors: cfg.MaxConsecutiveErrors,
		StatsLogInterval:     cfg.StatsLogInterval,
	}
}

type Stats struct {
	State             string        `json:"state"`
	Processed         int64         `json:"processed"`
	Errors            int64         `json:"errors"`
	HighPriority      int64         `json:"high_priority"`
	CallbackFailures  int64         `json:"callback_failures"`
	ConsecutiveErrors int           `json:"consecutive_errors"`
	AvgLatency        time.Duration `json:"avg_latency"`
	P95Latency        time.Duration `json:"p95_latency"`
	Throughput        float64       `json:"throughput_per_sec"`
	StartedAt         time.Time     `json:"started_at,omitempty"`
	StoppedAt         time.Time     `json:"stopped_at,omitempty"`
}

type Processor struct {
	analyzer  Analyzer
	opts      Options
	logger    *slog.Logger
	latencies *latencyWindow

	state atomic.Int32
	done  chan struct{}
	// stopc is closed by Stop to interrupt a pull that is waiting on a
	// quiet source.
	stopc chan struct{}
	err   error

	cbMu      sync.RWMutex
	callbacks []Callback

	mu                sync.Mutex
	processed         int64
	errors            int64
	highPriority      int64
	callbackFailures  int64
	consecutiveErrors int
	throughput        float64
	startedAt         time.Time
	stoppedAt         time.Time
	lastStatsLog      time.Time
}

func NewProcessor(an Analyzer, opts Options) (*Processor, error) {
	if an == nil {
		return nil, apperr.Configuration("stream.new", "analyzer is required")
	}
	if opts.LatencyWindow < 1 {
		return nil, apperr.Configuration("stream.new", fmt.Sprintf("stream.latency_window must be >= 1, got %d", opts.LatencyWindow))
	}
	if opts.MaxConsecutiveErrors < 0 {
		return nil, apperr.Configuration("stream.new", fmt.Sprintf("stream.max_consecutive_errors must be >= 0, got %d", opts.MaxConsecutiveErrors))
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		analyzer:  an,
		opts:      opts,
		logger:    logger,
		latencies: newLatencyWindow(opts.LatencyWindow),
		done:      make(chan struct{}),
		stopc:     make(chan struct{}),
	}, nil
}

func (p *Processor) AddCallback(cb Callback) {
	if cb == nil {
		return
	}
	p.cbMu.Lock()
	defer p.cbMu.Unlock()
	p.callbacks = append(p.callbacks, cb)
}

func (p *Processor) State() State {
	return State(p.state.Load())
}

// Start launches the loop on its own goroutine. It fails unless the
// processor is idle.
func (p *Processor) Start(ctx context.Context, src Source) error {
	if !p.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return ErrNotIdle
	}
	p.begin()
	go p.loop(ctx, src)
	return nil
}

// Run is Start followed by Wait.
func (p *Processor) Run(ctx context.Context, src Source) error {
	if !p.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return ErrNotIdle
	}
	p.begin()
	p.loop(ctx, src)
	return p.err
}

// Stop asks the loop to exit after the record in flight. A pull blocked on
// an idle source is cancelled. It does not wait.
func (p *Processor) Stop() {
	if p.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		close(p.stopc)
		return
	}
	if p.state.CompareAndSwap(int32(StateIdle), int32(StateStopped)) {
		close(p.done)
	}
}

// Done is closed once the processor reaches StateStopped.
func (p *Processor) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the loop exits and returns the reason it stopped, if any.
func (p *Processor) Wait() error {
	<-p.done
	return p.err
}

func (p *Processor) begin() {
	now := time.Now()
	p.mu.Lock()
	p.startedAt = now
	p.lastStatsLog = now
	p.mu.Unlock()
	p.logger.Info("stream processor started", "latency_window", p.opts.LatencyWindow, "max_consecutive_errors", p.opts.MaxConsecutiveErrors)
}

func (p *Processor) stopRequested() bool {
	return p.State() != StateRunning
}

func (p *Processor) loop(ctx context.Context, src Source) {
	var runErr error
	defer func() {
		p.mu.Lock()
		p.stoppedAt = time.Now()
		p.mu.Unlock()
		p.err = runErr
		p.state.Store(int32(StateStopped))
		st := p.Stats()
		p.logger.Info("stream processor stopped",
			"processed", st.Processed,
			"errors", st.Errors,
			"avg_latency", st.AvgLatency,
			"err", runErr,
		)
		close(p.done)
	}()
	pullCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-p.stopc:
			cancel()
		case <-pullCtx.Done():
		}
	}()
	for {
		if p.stopRequested() {
			return
		}
		rec, err := src.Next(pullCtx)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			runErr = fmt.Errorf("stream source: %w", err)
			return
		}
		if p.stopRequested() {
			p.logger.Debug("record pulled after stop was requested; not processed", "record_id", rec.ID)
			return
		}
		if err := p.process(rec); err != nil {
			runErr = err
			return
		}
	}
}

func (p *Processor) analyze(rec model.LogRecord) (summary model.AnalysisSummary, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = apperr.Processing("stream.analyze", fmt.Sprintf("record %s", rec.ID), fmt.Errorf("panic: %v", r))
		}
	}()
	return p.analyzer.Analyze(rec)
}

// process handles one record. It only returns an error when the
// consecutive-error breaker trips.
func (p *Processor) process(rec model.LogRecord) error {
	start := time.Now()
	summary, err := p.analyze(rec)
	elapsed := time.Since(start)
	if err != nil {
		return p.fail(rec, err)
	}

	p.latencies.Observe(elapsed)
	p.mu.Lock()
	p.processed++
	p.consecutiveErrors = 0
	if since := time.Since(p.startedAt).Seconds(); since > 0 {
		p.throughput = float64(p.processed) / since
	}
	throughput := p.throughput
	p.mu.Unlock()

	metrics.ObserveRecord(elapsed, metrics.OutcomeSuccess)
	metrics.ObserveSummary(summary)
	metrics.SetThroughput(throughput)
	p.recordPredictions(rec, summary, elapsed)

	if summary.HighPriority() {
		p.mu.Lock()
		p.highPriority++
		p.mu.Unlock()
		p.notify(summary)
	}
	p.maybeLogStats()
	return nil
}

func (p *Processor) fail(rec model.LogRecord, err error) error {
	p.mu.Lock()
	p.errors++
	p.consecutiveErrors++
	consecutive := p.consecutiveErrors
	p.mu.Unlock()

	metrics.ObserveRecord(0, metrics.OutcomeError)
	name := analysis.ResponsibleModel(err)
	p.logger.Warn("record processing failed", "record_id", rec.ID, "model", name, "err", err)
	if p.opts.Monitor != nil && name != "" {
		p.opts.Monitor.RecordError(name, err.Error())
	}
	if p.opts.MaxConsecutiveErrors > 0 && consecutive >= p.opts.MaxConsecutiveErrors {
		p.logger.Error("consecutive error limit reached; stopping", "limit", p.opts.MaxConsecutiveErrors)
		return ErrBreakerTripped
	}
	return nil
}

// recordPredictions reports each produced component result. Labels found in
// the record's fields are used as ground truth.
func (p *Processor) recordPredictions(rec model.LogRecord, s model.AnalysisSummary, latency time.Duration) {
	mon := p.opts.Monitor
	if mon == nil {
		return
	}
	if s.Classification != nil {
		var truth any
		if v, ok := rec.Fields["category"].(string); ok && v != "" {
			truth = model.Category(v)
		}
		mon.RecordPrediction(model.ModelClassifier, s.Classification.Category, truth, latency)
	}
	if s.Anomaly != nil {
		var truth any
		if v, ok := rec.Fields["is_anomaly"].(bool); ok {
			truth = v
		}
		mon.RecordPrediction(model.ModelAnomalyDetector, s.Anomaly.IsAnomaly, truth, latency)
	}
}

func (p *Processor) notify(s model.AnalysisSummary) {
	p.cbMu.RLock()
	cbs := append([]Callback(nil), p.callbacks...)
	p.cbMu.RUnlock()
	for i, cb := range cbs {
		if err := invoke(cb, s); err != nil {
			p.mu.Lock()
			p.callbackFailures++
			p.mu.Unlock()
			metrics.ObserveCallbackFailure()
			p.logger.Warn("alert callback failed", "record_id", s.RecordID, "callback", i, "risk_level", s.RiskLevel, "err", err)
		}
	}
}

func invoke(cb Callback, s model.AnalysisSummary) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("callback panic: %v", r)
		}
	}()
	return cb(s)
}

func (p *Processor) maybeLogStats() {
	if p.opts.StatsLogInterval <= 0 {
		return
	}
	p.mu.Lock()
	due := time.Since(p.lastStatsLog) >= p.opts.StatsLogInterval
	if due {
		p.lastStatsLog = time.Now()
	}
	p.mu.Unlock()
	if !due {
		return
	}
	st := p.Stats()
	p.logger.Info("stream stats",
		"processed", humanize.Comma(st.Processed),
		"errors", humanize.Comma(st.Errors),
		"high_priority", humanize.Comma(st.HighPriority),
		"avg_latency", st.AvgLatency,
		"throughput", fmt.Sprintf("%s/s", humanize.FormatFloat("#,###.##", st.Throughput)),
	)
}

func (p *Processor) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		State:             p.State().String(),
		Processed:         p.processed,
		Errors:            p.errors,
		HighPriority:      p.highPriority,
		CallbackFailures:  p.callbackFailures,
		ConsecutiveErrors: p.consecutiveErrors,
		AvgLatency:        p.latencies.Average(),
		P95Latency:        p.latencies.Percentile(95),
		Throughput:        p.throughput,
		StartedAt:         p.startedAt,
		StoppedAt:         p.stoppedAt,
	}
}
