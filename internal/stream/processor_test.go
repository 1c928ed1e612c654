package stream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"logsentinel/internal/apperr"
	"logsentinel/internal/model"
)

type fakeAnalyzer struct {
	mu     sync.Mutex
	calls  []string
	onCall func(n int, r model.LogRecord) (model.AnalysisSummary, error)
}

func (f *fakeAnalyzer) Analyze(r model.LogRecord) (model.AnalysisSummary, error) {
	f.mu.Lock()
	f.calls = append(f.calls, r.ID)
	n := len(f.calls)
	f.mu.Unlock()
	if f.onCall != nil {
		return f.onCall(n, r)
	}
	return model.AnalysisSummary{RecordID: r.ID, RiskLevel: model.RiskLow}, nil
}

func (f *fakeAnalyzer) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeRecorder struct {
	mu          sync.Mutex
	predictions map[string]int
	errors      map[string]int
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{predictions: map[string]int{}, errors: map[string]int{}}
}

func (f *fakeRecorder) RecordPrediction(name string, _, _ any, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.predictions[name]++
}

func (f *fakeRecorder) RecordError(name, _ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors[name]++
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func records(n int) []model.LogRecord {
	out := make([]model.LogRecord, n)
	for i := range out {
		out[i] = model.LogRecord{ID: fmt.Sprintf("r%d", i+1), Message: "m"}
	}
	return out
}

func newProcessor(t *testing.T, an Analyzer, opts Options) *Processor {
	t.Helper()
	if opts.LatencyWindow == 0 {
		opts.LatencyWindow = 100
	}
	opts.Logger = quietLogger()
	p, err := NewProcessor(an, opts)
	if err != nil {
		t.Fatalf("processor: %v", err)
	}
	return p
}

func TestStopMidStream(t *testing.T) {
	ch := make(chan model.LogRecord, 10)
	for _, r := range records(10) {
		ch <- r
	}
	an := &fakeAnalyzer{}
	p := newProcessor(t, an, Options{})
	an.onCall = func(n int, r model.LogRecord) (model.AnalysisSummary, error) {
		if n == 3 {
			p.Stop()
			if p.State() != StateStopping {
				t.Errorf("expected stopping, got %s", p.State())
			}
		}
		return model.AnalysisSummary{RecordID: r.ID, RiskLevel: model.RiskLow}, nil
	}
	if err := p.Start(context.Background(), NewChannelSource(ch)); err != nil {
		t.Fatalf("start: %v", err)
	}
	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("processor did not stop")
	}
	if err := p.Wait(); err != nil {
		t.Fatalf("wait: %v", err)
	}
	calls := an.Calls()
	if len(calls) != 3 || calls[2] != "r3" {
		t.Fatalf("expected exactly r1..r3, got %v", calls)
	}
	st := p.Stats()
	if st.Processed != 3 || st.State != "stopped" {
		t.Fatalf("stats: %+v", st)
	}
	if p.State() != StateStopped {
		t.Fatalf("state: %s", p.State())
	}
}

func TestStopWhileSourceIsIdle(t *testing.T) {
	ch := make(chan model.LogRecord)
	p := newProcessor(t, &fakeAnalyzer{}, Options{})
	if err := p.Start(context.Background(), NewChannelSource(ch)); err != nil {
		t.Fatalf("start: %v", err)
	}
	ch <- model.LogRecord{ID: "only"}
	deadline := time.Now().Add(5 * time.Second)
	for p.Stats().Processed < 1 {
		if time.Now().After(deadline) {
			t.Fatalf("record was not processed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	p.Stop()
	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("stop did not interrupt the blocked pull")
	}
	if err := p.Wait(); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if p.State() != StateStopped || p.Stats().Processed != 1 {
		t.Fatalf("state %s processed %d", p.State(), p.Stats().Processed)
	}
}

func TestStartRejectedUnlessIdle(t *testing.T) {
	p := newProcessor(t, &fakeAnalyzer{}, Options{})
	if err := p.Run(context.Background(), NewSliceSource(records(2))); err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := p.Start(context.Background(), NewSliceSource(records(1))); !errors.Is(err, ErrNotIdle) {
		t.Fatalf("expected ErrNotIdle, got %v", err)
	}
	if p.Stats().Processed != 2 {
		t.Fatalf("processed: %d", p.Stats().Processed)
	}
}

func TestStopBeforeStart(t *testing.T) {
	p := newProcessor(t, &fakeAnalyzer{}, Options{})
	p.Stop()
	if p.State() != StateStopped {
		t.Fatalf("state: %s", p.State())
	}
	if err := p.Wait(); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if err := p.Run(context.Background(), NewSliceSource(records(1))); !errors.Is(err, ErrNotIdle) {
		t.Fatalf("expected ErrNotIdle, got %v", err)
	}
}

func TestFailingCallbackDoesNotBlockOthers(t *testing.T) {
	an := &fakeAnalyzer{onCall: func(_ int, r model.LogRecord) (model.AnalysisSummary, error) {
		return model.AnalysisSummary{RecordID: r.ID, RiskLevel: model.RiskHigh, ActionRequired: true}, nil
	}}
	p := newProcessor(t, an, Options{})
	var order []string
	p.AddCallback(func(model.AnalysisSummary) error {
		order = append(order, "panic")
		panic("callback exploded")
	})
	p.AddCallback(func(model.AnalysisSummary) error {
		order = append(order, "error")
		return errors.New("delivery failed")
	})
	var delivered []string
	p.AddCallback(func(s model.AnalysisSummary) error {
		order = append(order, "ok")
		delivered = append(delivered, s.RecordID)
		return nil
	})
	if err := p.Run(context.Background(), NewSliceSource(records(2))); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(delivered) != 2 {
		t.Fatalf("delivered: %v", delivered)
	}
	if len(order) != 6 || order[0] != "panic" || order[1] != "error" || order[2] != "ok" {
		t.Fatalf("callback order: %v", order)
	}
	st := p.Stats()
	if st.CallbackFailures != 4 || st.HighPriority != 2 || st.Processed != 2 {
		t.Fatalf("stats: %+v", st)
	}
}

func TestLowRiskSkipsCallbacks(t *testing.T) {
	p := newProcessor(t, &fakeAnalyzer{}, Options{})
	called := false
	p.AddCallback(func(model.AnalysisSummary) error { called = true; return nil })
	if err := p.Run(context.Background(), NewSliceSource(records(3))); err != nil {
		t.Fatalf("run: %v", err)
	}
	if called {
		t.Fatalf("callback invoked for low risk summary")
	}
}

func TestRecordFailuresAreCountedAndSkipped(t *testing.T) {
	rec := newFakeRecorder()
	an := &fakeAnalyzer{onCall: func(n int, r model.LogRecord) (model.AnalysisSummary, error) {
		switch n {
		case 2:
			return model.AnalysisSummary{}, &apperr.Error{Kind: apperr.KindProcessing, Op: "analysis.score", Msg: "bad"}
		case 3:
			panic("analyzer blew up")
		}
		cls := model.ClassificationResult{Category: model.CategorySystem, Confidence: 0.85}
		return model.AnalysisSummary{RecordID: r.ID, Classification: &cls, RiskLevel: model.RiskLow}, nil
	}}
	p := newProcessor(t, an, Options{Monitor: rec})
	if err := p.Run(context.Background(), NewSliceSource(records(5))); err != nil {
		t.Fatalf("run: %v", err)
	}
	st := p.Stats()
	if st.Processed != 3 || st.Errors != 2 {
		t.Fatalf("stats: %+v", st)
	}
	if rec.errors[model.ModelAnomalyDetector] != 1 {
		t.Fatalf("errors by model: %v", rec.errors)
	}
	if rec.predictions[model.ModelClassifier] != 3 || rec.predictions[model.ModelAnomalyDetector] != 0 {
		t.Fatalf("predictions by model: %v", rec.predictions)
	}
}

func TestBreakerTripsWhenConfigured(t *testing.T) {
	failing := func(int, model.LogRecord) (model.AnalysisSummary, error) {
		return model.AnalysisSummary{}, apperr.Validation("analysis.analyze", "untrained")
	}
	p := newProcessor(t, &fakeAnalyzer{onCall: failing}, Options{MaxConsecutiveErrors: 3})
	err := p.Run(context.Background(), NewSliceSource(records(10)))
	if !errors.Is(err, ErrBreakerTripped) {
		t.Fatalf("expected breaker, got %v", err)
	}
	if p.Stats().Errors != 3 {
		t.Fatalf("errors: %d", p.Stats().Errors)
	}

	p = newProcessor(t, &fakeAnalyzer{onCall: failing}, Options{})
	if err := p.Run(context.Background(), NewSliceSource(records(10))); err != nil {
		t.Fatalf("breaker disabled by default, got %v", err)
	}
	if p.Stats().Errors != 10 {
		t.Fatalf("errors: %d", p.Stats().Errors)
	}
}

func TestContextCancelEndsLoop(t *testing.T) {
	ch := make(chan model.LogRecord)
	p := newProcessor(t, &fakeAnalyzer{}, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	if err := p.Start(ctx, NewChannelSource(ch)); err != nil {
		t.Fatalf("start: %v", err)
	}
	ch <- model.LogRecord{ID: "one"}
	cancel()
	if err := p.Wait(); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if p.Stats().Processed != 1 {
		t.Fatalf("processed: %d", p.Stats().Processed)
	}
}

type brokenSource struct{}

func (brokenSource) Next(context.Context) (model.LogRecord, error) {
	return model.LogRecord{}, errors.New("broker unreachable")
}

func TestSourceErrorIsReturned(t *testing.T) {
	p := newProcessor(t, &fakeAnalyzer{}, Options{})
	if err := p.Run(context.Background(), brokenSource{}); err == nil {
		t.Fatalf("expected source error")
	}
	if p.State() != StateStopped {
		t.Fatalf("state: %s", p.State())
	}
}

func TestInvalidLatencyWindow(t *testing.T) {
	_, err := NewProcessor(&fakeAnalyzer{}, Options{LatencyWindow: 0})
	if !errors.Is(err, apperr.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestLatencyWindowBounded(t *testing.T) {
	w := newLatencyWindow(3)
	for _, ms := range []int{100, 1, 2, 3} {
		w.Observe(time.Duration(ms) * time.Millisecond)
	}
	if w.Count() != 3 {
		t.Fatalf("count: %d", w.Count())
	}
	if w.Average() != 2*time.Millisecond {
		t.Fatalf("average: %v", w.Average())
	}
	if w.Percentile(100) != 3*time.Millisecond {
		t.Fatalf("max: %v", w.Percentile(100))
	}
}
