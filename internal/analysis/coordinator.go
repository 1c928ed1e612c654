// Package analysis owns the trained profile and classifier and turns a log
// record into a risk summary.
package analysis

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"logsentinel/internal/apperr"
	"logsentinel/internal/classify"
	"logsentinel/internal/model"
	"logsentinel/internal/profile"
	"logsentinel/internal/scoring"
)

// riskCutoff separates high from medium risk; comparisons are strict.
const riskCutoff = 0.8

// Options configures a Coordinator. Threshold is only used when Aggregator is
// nil.
type Options struct {
	Threshold  float64
	Rules      []classify.Rule
	Aggregator scoring.Aggregator
	Scorer     *scoring.Scorer
	Logger     *slog.Logger
}

// snapshot is replaced wholesale on every Train or Load. Readers keep the
// pointer they loaded for the duration of one Analyze call.
type snapshot struct {
	profile         *profile.PatternProfile
	classifier      *classify.RuleClassifier
	classifierReady bool
	scorerReady     bool
}

type Coordinator struct {
	state  atomic.Pointer[snapshot]
	writeM sync.Mutex
	rules  *classify.RuleClassifier
	scorer *scoring.Scorer
	agg    scoring.Aggregator
	logger *slog.Logger
	now    func() time.Time
}

func NewCoordinator(opts Options) (*Coordinator, error) {
	agg := opts.Aggregator
	if agg == nil {
		m, err := scoring.NewMaxAggregator(opts.Threshold)
		if err != nil {
			return nil, err
		}
		agg = m
	}
	rules := opts.Rules
	if rules == nil {
		rules = classify.DefaultRules()
	}
	base, err := classify.NewRuleClassifier(rules)
	if err != nil {
		return nil, apperr.Configuration("analysis.new", err.Error())
	}
	scorer := opts.Scorer
	if scorer == nil {
		scorer = scoring.NewScorer()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Coordinator{
		rules:  base,
		scorer: scorer,
		agg:    agg,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
	c.state.Store(&snapshot{profile: profile.Empty()})
	return c, nil
}

func (c *Coordinator) current() *snapshot {
	return c.state.Load()
}

// Ready reports the two readiness flags.
func (c *Coordinator) Ready() (classifierReady, scorerReady bool) {
	s := c.current()
	return s.classifierReady, s.scorerReady
}

func (c *Coordinator) Threshold() float64 { return c.agg.Threshold() }

func (c *Coordinator) Profile() *profile.PatternProfile { return c.current().profile }

// Classifier returns the active classifier, or nil before TrainClassifier.
func (c *Coordinator) Classifier() *classify.RuleClassifier { return c.current().classifier }

func (c *Coordinator) SignalNames() []string { return c.scorer.Names() }

// Train builds a new profile and classifier from records and swaps both in.
func (c *Coordinator) Train(records []model.LogRecord) error {
	p := profile.Train(records)
	cls, err := c.rules.Train(records)
	if err != nil {
		return err
	}
	c.writeM.Lock()
	defer c.writeM.Unlock()
	c.state.Store(&snapshot{profile: p, classifier: cls, classifierReady: true, scorerReady: true})
	c.logger.Info("analysis trained", "records", len(records), "components", "classifier,anomaly_detector")
	return nil
}

// TrainScorer replaces only the profile.
func (c *Coordinator) TrainScorer(records []model.LogRecord) error {
	p := profile.Train(records)
	c.writeM.Lock()
	defer c.writeM.Unlock()
	prev := c.current()
	next := *prev
	next.profile = p
	next.scorerReady = true
	c.state.Store(&next)
	c.logger.Info("analysis trained", "records", len(records), "components", "anomaly_detector")
	return nil
}

// TrainClassifier replaces only the classifier.
func (c *Coordinator) TrainClassifier(records []model.LogRecord) error {
	cls, err := c.rules.Train(records)
	if err != nil {
		return err
	}
	c.writeM.Lock()
	defer c.writeM.Unlock()
	prev := c.current()
	next := *prev
	next.classifier = cls
	next.classifierReady = true
	c.state.Store(&next)
	c.logger.Info("analysis trained", "records", len(records), "components", "classifier")
	return nil
}

const (
	opClassify = "analysis.classify"
	opScore    = "analysis.score"
)

// Analyze runs whichever components are ready. Components that have not
// been trained are left out of the summary. A panic inside a component is
// returned as a processing error.
func (c *Coordinator) Analyze(r model.LogRecord) (model.AnalysisSummary, error) {
	s := c.current()
	if !s.classifierReady && !s.scorerReady {
		return model.AnalysisSummary{}, apperr.Validation("analysis.analyze", "no component has been trained")
	}
	summary := model.AnalysisSummary{RecordID: r.ID, Timestamp: c.now()}
	if s.classifierReady {
		cls, err := c.classify(s, r)
		if err != nil {
			return model.AnalysisSummary{}, err
		}
		summary.Classification = &cls
	}
	if s.scorerReady {
		res, err := c.score(s, r)
		if err != nil {
			return model.AnalysisSummary{}, err
		}
		summary.Anomaly = &res
	}
	summary.RiskLevel = assessRisk(summary.Classification, summary.Anomaly)
	summary.ActionRequired = summary.RiskLevel == model.RiskHigh
	return summary, nil
}

func (c *Coordinator) classify(s *snapshot, r model.LogRecord) (res model.ClassificationResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = apperr.Processing(opClassify, fmt.Sprintf("record %s", r.ID), fmt.Errorf("panic: %v", rec))
		}
	}()
	return s.classifier.Classify(r), nil
}

func (c *Coordinator) score(s *snapshot, r model.LogRecord) (res model.AnomalyResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = apperr.Processing(opScore, fmt.Sprintf("record %s", r.ID), fmt.Errorf("panic: %v", rec))
		}
	}()
	return c.agg.Aggregate(c.scorer.Score(s.profile, r), c.scorer.Names()), nil
}

// ResponsibleModel names the monitored model an Analyze error belongs to, or
// "" when the error is not attributable to one component.
func ResponsibleModel(err error) string {
	var e *apperr.Error
	if !errors.As(err, &e) {
		return ""
	}
	switch e.Op {
	case opClassify:
		return model.ModelClassifier
	case opScore:
		return model.ModelAnomalyDetector
	default:
		return ""
	}
}

func assessRisk(cls *model.ClassificationResult, an *model.AnomalyResult) model.RiskLevel {
	if cls != nil && (cls.Category == model.CategorySecurity || cls.Category == model.CategoryError) && cls.Confidence > riskCutoff {
		return model.RiskHigh
	}
	if an != nil && an.IsAnomaly {
		if an.Confidence > riskCutoff {
			return model.RiskHigh
		}
		return model.RiskMedium
	}
	return model.RiskLow
}
