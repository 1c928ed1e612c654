package scoring

import (
	"math"
	"strings"

	"logsentinel/internal/model"
	"logsentinel/internal/profile"
)

// SignalUserAgent flags user agents never seen during training.
const SignalUserAgent = "unusual_user_agent"

const (
	timingRarity  = 0.1
	sourceRarity  = 0.05
	contentRarity = 0.01

	unknownIPFloor    = 0.8
	unknownAgentScore = 0.5
	zScoreCeiling     = 3.0
)

var securityKeywords = []string{"breach", "attack", "unauthorized", "hack", "malware", "virus"}

// SignalFunc scores one aspect of a record against a profile. Implementations
// must be pure.
type SignalFunc func(p *profile.PatternProfile, r model.LogRecord) float64

type Signal struct {
	Name  string
	Score SignalFunc
}

// DefaultSignals returns the built-in registry in tie-break priority order.
func DefaultSignals() []Signal {
	return []Signal{
		{Name: model.SignalTiming, Score: UnusualTiming},
		{Name: model.SignalSource, Score: UnusualSource},
		{Name: model.SignalContent, Score: UnusualContent},
		{Name: model.SignalPerformance, Score: PerformanceAnomaly},
		{Name: model.SignalSecurity, Score: SecurityAnomaly},
		{Name: SignalUserAgent, Score: UnusualUserAgent},
	}
}

func rarity(rate, cutoff float64) float64 {
	if rate < cutoff {
		return 1 - rate
	}
	return 0
}

func UnusualTiming(p *profile.PatternProfile, r model.LogRecord) float64 {
	return rarity(p.Rate(p.HourCount(r.Hour())), timingRarity)
}

func UnusualSource(p *profile.PatternProfile, r model.LogRecord) float64 {
	score := rarity(p.Rate(p.SourceCount(r.SourceType)), sourceRarity)
	if r.IPAddress != "" && !p.KnownIP(r.IPAddress) {
		score = math.Max(score, unknownIPFloor)
	}
	return score
}

// UnusualContent matches the exact message text only.
func UnusualContent(p *profile.PatternProfile, r model.LogRecord) float64 {
	return rarity(p.Rate(p.MessageCount(r.Message)), contentRarity)
}

func PerformanceAnomaly(p *profile.PatternProfile, r model.LogRecord) float64 {
	if r.ResponseTime == nil || p.ResponseStdDev() <= 0 {
		return 0
	}
	z := math.Abs(*r.ResponseTime-p.ResponseMean()) / p.ResponseStdDev()
	return math.Min(z/zScoreCeiling, 1)
}

func SecurityAnomaly(_ *profile.PatternProfile, r model.LogRecord) float64 {
	msg := strings.ToLower(r.Message)
	hits := 0
	for _, kw := range securityKeywords {
		if strings.Contains(msg, kw) {
			hits++
		}
	}
	return float64(hits) / float64(len(securityKeywords))
}

// UnusualUserAgent only fires once the profile has learned at least one agent.
func UnusualUserAgent(p *profile.PatternProfile, r model.LogRecord) float64 {
	if r.UserAgent == "" || !p.HasUserAgents() || p.KnownUserAgent(r.UserAgent) {
		return 0
	}
	return unknownAgentScore
}
