// Package scoring computes per-signal anomaly scores for a log record and
// folds them into a single verdict.
package scoring

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"logsentinel/internal/apperr"
	"logsentinel/internal/model"
	"logsentinel/internal/profile"
)

// NormalExplanation is reported when no signal crosses the threshold.
const NormalExplanation = "record appears normal relative to learned patterns"

const DefaultThreshold = 0.7

type Scorer struct {
	signals []Signal
}

// NewScorer uses DefaultSignals when none are given. Signal order doubles as
// the tie-break priority for the dominant signal.
func NewScorer(signals ...Signal) *Scorer {
	if len(signals) == 0 {
		signals = DefaultSignals()
	}
	return &Scorer{signals: append([]Signal(nil), signals...)}
}

// Names lists registered signals in priority order.
func (s *Scorer) Names() []string {
	out := make([]string, 0, len(s.signals))
	for _, sig := range s.signals {
		out = append(out, sig.Name)
	}
	return out
}

// Score evaluates every registered signal. Results are clamped to [0,1] and
// NaN is treated as 0.
func (s *Scorer) Score(p *profile.PatternProfile, r model.LogRecord) model.ScoreSet {
	if p == nil {
		p = profile.Empty()
	}
	out := make(model.ScoreSet, len(s.signals))
	for _, sig := range s.signals {
		out[sig.Name] = clamp01(sig.Score(p, r))
	}
	return out
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Aggregator turns a score set into an anomaly verdict.
type Aggregator interface {
	Aggregate(scores model.ScoreSet, priority []string) model.AnomalyResult
	Threshold() float64
}

// MaxAggregator flags a record when its highest score exceeds the threshold.
type MaxAggregator struct {
	threshold float64
	now       func() time.Time
}

// NewMaxAggregator rejects thresholds outside [0,1].
func NewMaxAggregator(threshold float64) (*MaxAggregator, error) {
	if err := apperr.UnitRange("scoring.aggregator", "anomaly_threshold", threshold); err != nil {
		return nil, err
	}
	return &MaxAggregator{threshold: threshold, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (a *MaxAggregator) Threshold() float64 { return a.threshold }

func (a *MaxAggregator) Aggregate(scores model.ScoreSet, priority []string) model.AnomalyResult {
	order := orderedNames(scores, priority)
	dominant := model.SignalNone
	best := 0.0
	for _, name := range order {
		if v := scores[name]; v > best {
			best = v
			dominant = name
		}
	}
	isAnomaly := best > a.threshold
	explanation := NormalExplanation
	if isAnomaly {
		parts := make([]string, 0, len(order))
		for _, name := range order {
			if v := scores[name]; v > a.threshold {
				parts = append(parts, fmt.Sprintf("%s=%.2f", name, v))
			}
		}
		explanation = strings.Join(parts, "; ")
	}
	return model.AnomalyResult{
		IsAnomaly:      isAnomaly,
		DominantSignal: dominant,
		Confidence:     best,
		Scores:         scores,
		Explanation:    explanation,
		Timestamp:      a.now(),
	}
}

// orderedNames returns priority names present in scores, followed by any
// remaining names in lexical order so the result is deterministic.
func orderedNames(scores model.ScoreSet, priority []string) []string {
	out := make([]string, 0, len(scores))
	seen := make(map[string]struct{}, len(scores))
	for _, name := range priority {
		if _, ok := scores[name]; !ok {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	rest := make([]string, 0)
	for name := range scores {
		if _, ok := seen[name]; !ok {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	return append(out, rest...)
}
