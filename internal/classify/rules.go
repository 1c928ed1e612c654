package classify

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"logsentinel/internal/model"
)

// evaluationOrder is fixed; rule packs can change keywords but not order.
var evaluationOrder = []model.Category{
	model.CategorySecurity,
	model.CategoryPerformance,
	model.CategoryDatabase,
	model.CategoryNetwork,
	model.CategoryAuthentication,
	model.CategoryError,
	model.CategorySystem,
}

func DefaultRules() []Rule {
	return []Rule{
		{Category: model.CategorySecurity, Keywords: []string{"security", "unauthorized", "breach", "attack", "intrusion", "malware", "virus", "hack", "forbidden", "suspicious"}},
		{Category: model.CategoryPerformance, Keywords: []string{"slow", "timeout", "timed out", "latency", "performance", "high cpu", "memory usage", "degraded"}},
		{Category: model.CategoryDatabase, Keywords: []string{"database", "sql", "query", "deadlock", "transaction", "connection pool"}},
		{Category: model.CategoryNetwork, Keywords: []string{"network", "connection refused", "dns", "socket", "unreachable", "packet", "tcp"}},
		{Category: model.CategoryAuthentication, Keywords: []string{"login", "logout", "password", "authentication", "credential", "token", "session"}},
		{Category: model.CategoryError, Keywords: []string{"error", "exception", "failed", "failure", "fatal", "panic", "crash"}},
		{Category: model.CategorySystem, Keywords: []string{"system", "disk", "cpu", "kernel", "startup", "shutdown", "restart", "process"}},
	}
}

// RulePack is the YAML root of a rule override file.
type RulePack struct {
	Rules []Rule `yaml:"rules"`
}

// LoadRules returns the built-in rules overlaid with the categories named in
// the YAML file at path. An empty path or a missing file yields the built-in
// rules.
func LoadRules(path string) ([]Rule, error) {
	if path == "" {
		return DefaultRules(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultRules(), nil
		}
		return nil, err
	}
	var pack RulePack
	if err := yaml.Unmarshal(data, &pack); err != nil {
		return nil, fmt.Errorf("parse rule pack %s: %w", path, err)
	}
	return overlay(DefaultRules(), pack.Rules)
}

func overlay(base, override []Rule) ([]Rule, error) {
	byCategory := make(map[model.Category]Rule, len(base))
	for _, r := range base {
		byCategory[r.Category] = r
	}
	for _, r := range override {
		cat := model.Category(strings.ToLower(string(r.Category)))
		if !orderedCategory(cat) {
			return nil, fmt.Errorf("rule pack: unknown category %q", r.Category)
		}
		byCategory[cat] = Rule{Category: cat, Keywords: r.Keywords}
	}
	out := make([]Rule, 0, len(byCategory))
	for _, cat := range evaluationOrder {
		if r, ok := byCategory[cat]; ok {
			out = append(out, r)
		}
	}
	return normalizeRules(out)
}

func orderedCategory(cat model.Category) bool {
	for _, c := range evaluationOrder {
		if c == cat {
			return true
		}
	}
	return false
}

// normalizeRules lowercases keywords, drops blanks and duplicates, and sorts
// rules into evaluation order. Application is the fallback and takes no
// keywords.
func normalizeRules(rules []Rule) ([]Rule, error) {
	byCategory := make(map[model.Category][]string, len(rules))
	for _, r := range rules {
		if !orderedCategory(r.Category) {
			return nil, fmt.Errorf("rule category %q cannot carry keywords", r.Category)
		}
		if _, dup := byCategory[r.Category]; dup {
			return nil, fmt.Errorf("duplicate rule for category %q", r.Category)
		}
		seen := make(map[string]struct{}, len(r.Keywords))
		kws := make([]string, 0, len(r.Keywords))
		for _, kw := range r.Keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw == "" {
				continue
			}
			if _, ok := seen[kw]; ok {
				continue
			}
			seen[kw] = struct{}{}
			kws = append(kws, kw)
		}
		byCategory[r.Category] = kws
	}
	out := make([]Rule, 0, len(byCategory))
	for _, cat := range evaluationOrder {
		if kws, ok := byCategory[cat]; ok && len(kws) > 0 {
			out = append(out, Rule{Category: cat, Keywords: kws})
		}
	}
	return out, nil
}
