package analysis

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"logsentinel/internal/apperr"
	"logsentinel/internal/model"
	"logsentinel/internal/profile"
	"logsentinel/internal/scoring"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func newCoordinator(t *testing.T) *Coordinator {
	t.Helper()
	c, err := NewCoordinator(Options{Threshold: 0.7, Logger: quietLogger()})
	if err != nil {
		t.Fatalf("coordinator: %v", err)
	}
	return c
}

func trainingSet() []model.LogRecord {
	out := make([]model.LogRecord, 0, 200)
	for i := 0; i < 200; i++ {
		rt := 100.0 + float64(i%5)
		out = append(out, model.LogRecord{
			ID:           "train",
			Timestamp:    time.Date(2026, 1, 5, 9+i%8, 0, 0, 0, time.UTC),
			Level:        "INFO",
			Message:      "request served",
			SourceType:   "app",
			ResponseTime: &rt,
			IPAddress:    "10.0.0.1",
			UserAgent:    "curl/8.0",
		})
	}
	return out
}

func suspiciousRecord() model.LogRecord {
	rt := 180.0
	return model.LogRecord{
		ID:           "suspicious",
		Timestamp:    time.Date(2026, 1, 6, 3, 0, 0, 0, time.UTC),
		Message:      "unexpected attack on login",
		SourceType:   "kernel",
		ResponseTime: &rt,
		IPAddress:    "203.0.113.9",
		UserAgent:    "scanner/1.0",
	}
}

func TestAnalyzeBeforeTrainingFails(t *testing.T) {
	c := newCoordinator(t)
	_, err := c.Analyze(suspiciousRecord())
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestInvalidThresholdRejected(t *testing.T) {
	_, err := NewCoordinator(Options{Threshold: 1.5, Logger: quietLogger()})
	if !errors.Is(err, apperr.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestPartialResults(t *testing.T) {
	c := newCoordinator(t)
	if err := c.TrainClassifier(trainingSet()); err != nil {
		t.Fatalf("train classifier: %v", err)
	}
	s, err := c.Analyze(model.LogRecord{ID: "a", Message: "order shipped"})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if s.Classification == nil || s.Anomaly != nil {
		t.Fatalf("expected classification only: %+v", s)
	}
	if s.RiskLevel != model.RiskLow || s.ActionRequired {
		t.Fatalf("risk: %s action=%v", s.RiskLevel, s.ActionRequired)
	}

	c = newCoordinator(t)
	if err := c.TrainScorer(trainingSet()); err != nil {
		t.Fatalf("train scorer: %v", err)
	}
	s, err = c.Analyze(suspiciousRecord())
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if s.Classification != nil || s.Anomaly == nil {
		t.Fatalf("expected anomaly only: %+v", s)
	}
}

func TestAnalyzeHighRisk(t *testing.T) {
	c := newCoordinator(t)
	if err := c.Train(trainingSet()); err != nil {
		t.Fatalf("train: %v", err)
	}
	s, err := c.Analyze(suspiciousRecord())
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if s.RecordID != "suspicious" {
		t.Fatalf("record id: %q", s.RecordID)
	}
	if s.Classification.Category != model.CategorySecurity {
		t.Fatalf("category: %s", s.Classification.Category)
	}
	if !s.Anomaly.IsAnomaly || s.RiskLevel != model.RiskHigh || !s.ActionRequired {
		t.Fatalf("expected high risk anomaly: %+v", s)
	}
}

func TestAssessRisk(t *testing.T) {
	sec := &model.ClassificationResult{Category: model.CategorySecurity, Confidence: 0.85}
	app := &model.ClassificationResult{Category: model.CategoryApplication, Confidence: 0.85}
	cases := []struct {
		name string
		cls  *model.ClassificationResult
		an   *model.AnomalyResult
		want model.RiskLevel
	}{
		{"security category", sec, nil, model.RiskHigh},
		{"error category", &model.ClassificationResult{Category: model.CategoryError, Confidence: 0.85}, nil, model.RiskHigh},
		{"security at cutoff", &model.ClassificationResult{Category: model.CategorySecurity, Confidence: 0.8}, nil, model.RiskLow},
		{"strong anomaly", app, &model.AnomalyResult{IsAnomaly: true, Confidence: 0.95}, model.RiskHigh},
		{"anomaly at cutoff", app, &model.AnomalyResult{IsAnomaly: true, Confidence: 0.8}, model.RiskMedium},
		{"no anomaly", app, &model.AnomalyResult{IsAnomaly: false, Confidence: 0.9}, model.RiskLow},
		{"nothing", nil, nil, model.RiskLow},
	}
	for _, tc := range cases {
		if got := assessRisk(tc.cls, tc.an); got != tc.want {
			t.Fatalf("%s: expected %s, got %s", tc.name, tc.want, got)
		}
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	c := newCoordinator(t)
	if err := c.Train(trainingSet()); err != nil {
		t.Fatalf("train: %v", err)
	}
	var buf bytes.Buffer
	if err := c.Save(&buf); err != nil {
		t.Fatalf("save: %v", err)
	}
	if !strings.Contains(buf.String(), `"schema_version": 1`) {
		t.Fatalf("bundle missing schema version: %s", buf.String())
	}
	restored := newCoordinator(t)
	if err := restored.Load(bytes.NewReader(buf.Bytes())); err != nil {
		t.Fatalf("load: %v", err)
	}
	clsReady, scoreReady := restored.Ready()
	if !clsReady || !scoreReady {
		t.Fatalf("readiness not restored")
	}
	records := append(trainingSet()[:3], suspiciousRecord())
	for _, r := range records {
		want := c.scorer.Score(c.Profile(), r)
		got := restored.scorer.Score(restored.Profile(), r)
		if len(want) != len(got) {
			t.Fatalf("score set size differs")
		}
		for name, v := range want {
			if got[name] != v {
				t.Fatalf("%s: %v != %v", name, got[name], v)
			}
		}
	}
}

func TestFailedLoadKeepsState(t *testing.T) {
	c := newCoordinator(t)
	if err := c.Train(trainingSet()); err != nil {
		t.Fatalf("train: %v", err)
	}
	before := c.Profile()
	inputs := []string{
		"not json",
		`{"schema_version": 99, "profile": {"total_records": 1}}`,
		`{"schema_version": 1}`,
		`{"schema_version": 1, "profile": {"total_records": -4}}`,
	}
	for _, in := range inputs {
		err := c.Load(strings.NewReader(in))
		if !errors.Is(err, apperr.ErrPersistence) {
			t.Fatalf("%q: expected persistence error, got %v", in, err)
		}
		if c.Profile() != before {
			t.Fatalf("%q: profile replaced after failed load", in)
		}
		if cls, sc := c.Ready(); !cls || !sc {
			t.Fatalf("%q: readiness changed", in)
		}
	}
}

func TestLoadRejectsTrailingData(t *testing.T) {
	trained := newCoordinator(t)
	if err := trained.Train(trainingSet()); err != nil {
		t.Fatalf("train: %v", err)
	}
	var buf bytes.Buffer
	if err := trained.Save(&buf); err != nil {
		t.Fatalf("save: %v", err)
	}
	valid := buf.String()

	for _, tail := range []string{`{"schema_version": 1}`, "garbage", "}"} {
		c := newCoordinator(t)
		err := c.Load(strings.NewReader(valid + tail))
		if !errors.Is(err, apperr.ErrPersistence) {
			t.Fatalf("tail %q: expected persistence error, got %v", tail, err)
		}
		if cls, sc := c.Ready(); cls || sc {
			t.Fatalf("tail %q: coordinator became ready after failed load", tail)
		}
	}

	c := newCoordinator(t)
	if err := c.Load(strings.NewReader(valid + "\n\n")); err != nil {
		t.Fatalf("trailing whitespace should load: %v", err)
	}
}

func TestSaveUntrainedRejected(t *testing.T) {
	var buf bytes.Buffer
	if err := newCoordinator(t).Save(&buf); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

type memoryStore struct {
	data []byte
	err  error
}

func (m *memoryStore) WriteBundle(_ context.Context, data []byte) error {
	if m.err != nil {
		return m.err
	}
	m.data = append([]byte(nil), data...)
	return nil
}

func (m *memoryStore) ReadBundle(context.Context) ([]byte, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.data, nil
}

func TestSaveToLoadFromStore(t *testing.T) {
	c := newCoordinator(t)
	if err := c.TrainScorer(trainingSet()); err != nil {
		t.Fatalf("train: %v", err)
	}
	store := &memoryStore{}
	if err := c.SaveTo(context.Background(), store); err != nil {
		t.Fatalf("save: %v", err)
	}
	restored := newCoordinator(t)
	if err := restored.LoadFrom(context.Background(), store); err != nil {
		t.Fatalf("load: %v", err)
	}
	if cls, sc := restored.Ready(); cls || !sc {
		t.Fatalf("expected only scorer ready, got classifier=%v scorer=%v", cls, sc)
	}
	broken := &memoryStore{err: errors.New("unreachable")}
	if err := restored.LoadFrom(context.Background(), broken); !errors.Is(err, apperr.ErrPersistence) {
		t.Fatalf("expected persistence error, got %v", err)
	}
}

func TestBundleWatcherReloads(t *testing.T) {
	src := newCoordinator(t)
	if err := src.Train(trainingSet()); err != nil {
		t.Fatalf("train: %v", err)
	}
	var buf bytes.Buffer
	if err := src.Save(&buf); err != nil {
		t.Fatalf("save: %v", err)
	}
	path := filepath.Join(t.TempDir(), "bundle.json")

	dst := newCoordinator(t)
	w := NewBundleWatcher(dst, path, quietLogger())
	w.SetDebounce(20 * time.Millisecond)
	reloaded := make(chan error, 4)
	w.OnReload(func(err error) { reloaded <- err })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	time.Sleep(100 * time.Millisecond)

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatalf("rename: %v", err)
	}
	select {
	case err := <-reloaded:
		if err != nil {
			t.Fatalf("reload: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("bundle was not reloaded")
	}
	if cls, sc := dst.Ready(); !cls || !sc {
		t.Fatalf("watcher did not load bundle")
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestPanickingSignalBecomesProcessingError(t *testing.T) {
	boom := scoring.Signal{Name: "boom", Score: func(*profile.PatternProfile, model.LogRecord) float64 { panic("bad signal") }}
	c, err := NewCoordinator(Options{Threshold: 0.7, Scorer: scoring.NewScorer(boom), Logger: quietLogger()})
	if err != nil {
		t.Fatalf("coordinator: %v", err)
	}
	if err := c.TrainScorer(trainingSet()); err != nil {
		t.Fatalf("train: %v", err)
	}
	_, err = c.Analyze(suspiciousRecord())
	if !errors.Is(err, apperr.ErrProcessing) {
		t.Fatalf("expected processing error, got %v", err)
	}
	if got := ResponsibleModel(err); got != model.ModelAnomalyDetector {
		t.Fatalf("responsible model: %q", got)
	}
	if ResponsibleModel(errors.New("other")) != "" {
		t.Fatalf("unattributed error should map to no model")
	}
}

func nightSet() []model.LogRecord {
	out := make([]model.LogRecord, 0, 100)
	for i := 0; i < 100; i++ {
		out = append(out, model.LogRecord{
			ID:         "night",
			Timestamp:  time.Date(2026, 1, 5, 2+i%2, 0, 0, 0, time.UTC),
			Level:      "INFO",
			Message:    "batch job finished",
			SourceType: "cron",
			IPAddress:  "10.0.0.2",
		})
	}
	return out
}

// TestAnalyzeDuringRetrainAndLoad checks that concurrent readers always see
// one whole snapshot while Train and Load swap it underneath them.
func TestAnalyzeDuringRetrainAndLoad(t *testing.T) {
	rec := model.LogRecord{
		ID:         "daytime",
		Timestamp:  time.Date(2026, 1, 6, 9, 30, 0, 0, time.UTC),
		Level:      "INFO",
		Message:    "request served",
		SourceType: "app",
		IPAddress:  "10.0.0.1",
	}

	night := newCoordinator(t)
	if err := night.Train(nightSet()); err != nil {
		t.Fatalf("train night: %v", err)
	}
	var bundle bytes.Buffer
	if err := night.Save(&bundle); err != nil {
		t.Fatalf("save night: %v", err)
	}
	nightWant, err := night.Analyze(rec)
	if err != nil {
		t.Fatalf("analyze night: %v", err)
	}

	c := newCoordinator(t)
	if err := c.Train(trainingSet()); err != nil {
		t.Fatalf("train day: %v", err)
	}
	dayWant, err := c.Analyze(rec)
	if err != nil {
		t.Fatalf("analyze day: %v", err)
	}
	if dayWant.Anomaly.Explanation == nightWant.Anomaly.Explanation {
		t.Fatalf("day and night profiles should score the record differently")
	}

	matches := func(got, want model.AnalysisSummary) bool {
		if got.RiskLevel != want.RiskLevel || got.ActionRequired != want.ActionRequired {
			return false
		}
		if got.Anomaly.Explanation != want.Anomaly.Explanation || got.Anomaly.IsAnomaly != want.Anomaly.IsAnomaly {
			return false
		}
		if len(got.Anomaly.Scores) != len(want.Anomaly.Scores) {
			return false
		}
		for name, v := range want.Anomaly.Scores {
			if got.Anomaly.Scores[name] != v {
				return false
			}
		}
		return true
	}

	stop := make(chan struct{})
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		data := bundle.Bytes()
		for i := 0; i < 50; i++ {
			if err := c.Load(bytes.NewReader(data)); err != nil {
				t.Errorf("load: %v", err)
				return
			}
			if err := c.Train(trainingSet()); err != nil {
				t.Errorf("train: %v", err)
				return
			}
		}
	}()

	const readers = 4
	readerDone := make(chan struct{}, readers)
	for r := 0; r < readers; r++ {
		go func() {
			defer func() { readerDone <- struct{}{} }()
			for {
				select {
				case <-stop:
					return
				default:
				}
				s, err := c.Analyze(rec)
				if err != nil {
					t.Errorf("analyze: %v", err)
					return
				}
				if s.Classification == nil || s.Anomaly == nil {
					t.Errorf("partial summary while both components trained: %+v", s)
					return
				}
				if s.ActionRequired != (s.RiskLevel == model.RiskHigh) {
					t.Errorf("action_required %v disagrees with risk %s", s.ActionRequired, s.RiskLevel)
					return
				}
				if s.Anomaly.Confidence != s.Anomaly.Scores.Max() {
					t.Errorf("confidence %v is not the max score %v", s.Anomaly.Confidence, s.Anomaly.Scores.Max())
					return
				}
				if !matches(s, dayWant) && !matches(s, nightWant) {
					t.Errorf("summary mixes snapshots: %+v", s.Anomaly)
					return
				}
			}
		}()
	}

	<-writerDone
	close(stop)
	for r := 0; r < readers; r++ {
		<-readerDone
	}
}
