// Package classify assigns a category to a log message with an ordered
// keyword rule engine.
package classify

import (
	"fmt"
	"strings"
	"time"

	"logsentinel/internal/apperr"
	"logsentinel/internal/model"
)

// FixedConfidence is reported for every prediction made by the rule engine.
const FixedConfidence = 0.85

const ruleEngineKind = "keyword_rules"

// Classifier maps a record to a category. Implementations must be safe for
// concurrent use.
type Classifier interface {
	Classify(r model.LogRecord) model.ClassificationResult
	Metadata() Metadata
}

// Rule is one ordered entry of the rule engine.
type Rule struct {
	Category model.Category `json:"category" yaml:"category"`
	Keywords []string       `json:"keywords" yaml:"keywords"`
}

// Metadata describes a classifier well enough to rebuild it from a bundle.
type Metadata struct {
	Kind           string                 `json:"kind"`
	Confidence     float64                `json:"confidence"`
	Rules          []Rule                 `json:"rules"`
	TrainedRecords int                    `json:"trained_records"`
	TrainedAt      time.Time              `json:"trained_at"`
	Distribution   map[model.Category]int `json:"category_distribution,omitempty"`
}

// RuleClassifier evaluates rules in order; the first rule with a keyword
// contained in the lowercased message wins. It is never mutated after
// construction.
type RuleClassifier struct {
	rules          []Rule
	trainedRecords int
	trainedAt      time.Time
	distribution   map[model.Category]int
	now            func() time.Time
}

func NewRuleClassifier(rules []Rule) (*RuleClassifier, error) {
	ordered, err := normalizeRules(rules)
	if err != nil {
		return nil, err
	}
	return &RuleClassifier{rules: ordered, now: utcNow}, nil
}

// Default returns a classifier over the built-in keyword lists.
func Default() *RuleClassifier {
	c, err := NewRuleClassifier(DefaultRules())
	if err != nil {
		panic(err)
	}
	return c
}

func utcNow() time.Time { return time.Now().UTC() }

func (c *RuleClassifier) Classify(r model.LogRecord) model.ClassificationResult {
	return model.ClassificationResult{
		Category:   c.match(r.Message),
		Confidence: FixedConfidence,
		Timestamp:  c.now(),
	}
}

func (c *RuleClassifier) match(message string) model.Category {
	msg := strings.ToLower(message)
	for _, rule := range c.rules {
		for _, kw := range rule.Keywords {
			if strings.Contains(msg, kw) {
				return rule.Category
			}
		}
	}
	return model.CategoryApplication
}

// Train validates the rule set against a corpus and returns a new classifier
// carrying the training size and the category distribution observed. The
// receiver is left untouched.
func (c *RuleClassifier) Train(records []model.LogRecord) (*RuleClassifier, error) {
	if len(c.rules) == 0 {
		return nil, apperr.Validation("classify.train", "rule set is empty")
	}
	dist := make(map[model.Category]int)
	for _, r := range records {
		dist[c.match(r.Message)]++
	}
	return &RuleClassifier{
		rules:          c.rules,
		trainedRecords: len(records),
		trainedAt:      c.now(),
		distribution:   dist,
		now:            c.now,
	}, nil
}

func (c *RuleClassifier) Rules() []Rule {
	return cloneRules(c.rules)
}

func (c *RuleClassifier) Metadata() Metadata {
	var dist map[model.Category]int
	if len(c.distribution) > 0 {
		dist = make(map[model.Category]int, len(c.distribution))
		for k, v := range c.distribution {
			dist[k] = v
		}
	}
	return Metadata{
		Kind:           ruleEngineKind,
		Confidence:     FixedConfidence,
		Rules:          cloneRules(c.rules),
		TrainedRecords: c.trainedRecords,
		TrainedAt:      c.trainedAt,
		Distribution:   dist,
	}
}

// FromMetadata rebuilds a classifier saved with Metadata.
func FromMetadata(meta Metadata) (*RuleClassifier, error) {
	if meta.Kind != ruleEngineKind {
		return nil, fmt.Errorf("unsupported classifier kind %q", meta.Kind)
	}
	if meta.Confidence != FixedConfidence {
		return nil, fmt.Errorf("classifier confidence %v does not match rule engine constant %v", meta.Confidence, FixedConfidence)
	}
	if meta.TrainedRecords < 0 {
		return nil, fmt.Errorf("negative trained_records %d", meta.TrainedRecords)
	}
	c, err := NewRuleClassifier(meta.Rules)
	if err != nil {
		return nil, err
	}
	c.trainedRecords = meta.TrainedRecords
	c.trainedAt = meta.TrainedAt
	if len(meta.Distribution) > 0 {
		c.distribution = make(map[model.Category]int, len(meta.Distribution))
		for k, v := range meta.Distribution {
			c.distribution[k] = v
		}
	}
	return c, nil
}

func cloneRules(rules []Rule) []Rule {
	out := make([]Rule, len(rules))
	for i, r := range rules {
		out[i] = Rule{Category: r.Category, Keywords: append([]string(nil), r.Keywords...)}
	}
	return out
}
