// Package monitor keeps bounded per-model prediction history and derives a
// health status from it.
package monitor

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"sync"
	"time"

	"logsentinel/internal/apperr"
	"logsentinel/internal/model"
)

type Thresholds struct {
	MaxLatencyMS float64
	MinAccuracy  float64
	MaxErrorRate float64
}

type modelState struct {
	predictions *ring[model.PredictionRecord]
	latencies   *ring[float64]
	accuracy    *ring[float64]
	total       int64
	errors      int64
	lastError   string
}

type PerformanceMonitor struct {
	mu         sync.Mutex
	maxHistory int
	thresholds Thresholds
	models     map[string]*modelState
	now        func() time.Time
}

func New(maxHistory int, th Thresholds) (*PerformanceMonitor, error) {
	if maxHistory < 1 {
		return nil, apperr.Configuration("monitor.new", fmt.Sprintf("monitor.max_history must be >= 1, got %d", maxHistory))
	}
	for name, v := range map[string]float64{"monitor.min_accuracy": th.MinAccuracy, "monitor.max_error_rate": th.MaxErrorRate} {
		if err := apperr.UnitRange("monitor.new", name, v); err != nil {
			return nil, err
		}
	}
	if th.MaxLatencyMS <= 0 {
		return nil, apperr.Configuration("monitor.new", fmt.Sprintf("monitor.max_latency_ms must be > 0, got %v", th.MaxLatencyMS))
	}
	return &PerformanceMonitor{
		maxHistory: maxHistory,
		thresholds: th,
		models:     make(map[string]*modelState),
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}


func (m *PerformanceMonitor) state(name string) *modelState {
	st, ok := m.models[name]
	if !ok {
		st = &modelState{
			predictions: newRing[model.PredictionRecord](m.maxHistory),
			latencies:   newRing[float64](m.maxHistory),
			accuracy:    newRing[float64](m.maxHistory),
		}
		m.models[name] = st
	}
	return st
}

// RecordPrediction stores one prediction. A nil groundTruth means the label
// is unknown and no accuracy sample is taken.
func (m *PerformanceMonitor) RecordPrediction(name string, prediction, groundTruth any, latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.state(name)
	st.total++
	rec := model.PredictionRecord{
		Model:       name,
		Timestamp:   m.now(),
		Prediction:  prediction,
		GroundTruth: groundTruth,
		Latency:     latency,
	}
	st.predictions.Push(rec)
	st.latencies.Push(float64(latency) / float64(time.Millisecond))
	if rec.HasGroundTruth() {
		acc := 0.0
		if reflect.DeepEqual(prediction, groundTruth) {
			acc = 1
		}
		st.accuracy.Push(acc)
	}
}

// RecordError counts a failure against a model without touching its history.
func (m *PerformanceMonitor) RecordError(name, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.state(name)
	st.errors++
	st.lastError = message
}

func (m *PerformanceMonitor) GetPerformance(name string) model.ModelHealthReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.models[name]
	if !ok {
		return model.ModelHealthReport{Model: name, Status: model.HealthHealthy}
	}
	return m.report(name, st)
}

func (m *PerformanceMonitor) report(name string, st *modelState) model.ModelHealthReport {
	r := model.ModelHealthReport{
		Model:            name,
		TotalPredictions: st.total,
		ErrorCount:       st.errors,
		WindowSize:       st.predictions.Len(),
		LastError:        st.lastError,
	}
	if st.total > 0 {
		r.ErrorRate = float64(st.errors) / float64(st.total)
	}
	if lat := st.latencies.Values(); len(lat) > 0 {
		sum, lo, hi := 0.0, math.Inf(1), math.Inf(-1)
		for _, v := range lat {
			sum += v
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
		r.AvgLatencyMS = sum / float64(len(lat))
		r.MinLatencyMS = lo
		r.MaxLatencyMS = hi
	}
	if acc := st.accuracy.Values(); len(acc) > 0 {
		sum := 0.0
		for _, v := range acc {
			sum += v
		}
		r.AvgAccuracy = sum / float64(len(acc))
		r.AccuracySamples = len(acc)
	}
	r.Violations = m.violations(r)
	r.Status = statusFor(len(r.Violations))
	return r
}

// violations compares a report against the thresholds. Accuracy is only
// judged once at least one labelled sample exists.
func (m *PerformanceMonitor) violations(r model.ModelHealthReport) []string {
	var out []string
	if r.WindowSize > 0 && r.AvgLatencyMS > m.thresholds.MaxLatencyMS {
		out = append(out, fmt.Sprintf("avg latency %.1fms exceeds %.1fms", r.AvgLatencyMS, m.thresholds.MaxLatencyMS))
	}
	if r.AccuracySamples > 0 && r.AvgAccuracy < m.thresholds.MinAccuracy {
		out = append(out, fmt.Sprintf("accuracy %.3f below %.3f", r.AvgAccuracy, m.thresholds.MinAccuracy))
	}
	if r.ErrorRate > m.thresholds.MaxErrorRate {
		out = append(out, fmt.Sprintf("error rate %.3f exceeds %.3f", r.ErrorRate, m.thresholds.MaxErrorRate))
	}
	return out
}

func statusFor(violations int) model.HealthStatus {
	switch {
	case violations == 0:
		return model.HealthHealthy
	case violations == 1:
		return model.HealthWarning
	default:
		return model.HealthCritical
	}
}

func worst(a, b model.HealthStatus) model.HealthStatus {
	rank := map[model.HealthStatus]int{model.HealthHealthy: 0, model.HealthWarning: 1, model.HealthCritical: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

func (m *PerformanceMonitor) GetOverallStatus() model.HealthStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	overall := model.HealthHealthy
	for name, st := range m.models {
		overall = worst(overall, m.report(name, st).Status)
	}
	return overall
}

// Snapshot returns a point-in-time report for every known model.
func (m *PerformanceMonitor) Snapshot() model.HealthSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := model.HealthSnapshot{
		Timestamp: m.now(),
		Overall:   model.HealthHealthy,
		Models:    make(map[string]model.ModelHealthReport, len(m.models)),
	}
	for name, st := range m.models {
		r := m.report(name, st)
		snap.Models[name] = r
		snap.Overall = worst(snap.Overall, r.Status)
	}
	return snap
}

func (m *PerformanceMonitor) Models() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.models))
	for name := range m.models {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Predictions returns the retained prediction history for a model, oldest
// first.
func (m *PerformanceMonitor) Predictions(name string) []model.PredictionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.models[name]
	if !ok {
		return nil
	}
	return st.predictions.Values()
}

// Reset drops all history and counters for every model.
func (m *PerformanceMonitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.models = make(map[string]*modelState)
}

func (m *PerformanceMonitor) ResetModel(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.models, name)
}
