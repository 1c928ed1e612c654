// Package profile holds the learned picture of normal log traffic.
//
// A PatternProfile is immutable once built. Retraining produces a new
// profile; readers holding the old pointer keep a consistent view.
package profile

import (
	"fmt"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"logsentinel/internal/model"
)

type PatternProfile struct {
	hours       map[int]int
	sources     map[string]int
	messages    map[string]int
	respMean    float64
	respStdDev  float64
	knownIPs    map[string]struct{}
	knownAgents map[string]struct{}
	total       int
	trainedAt   time.Time
}

// Data is the exported, serialisable form of a PatternProfile.
type Data struct {
	HourFrequency    map[int]int    `json:"hour_frequency"`
	SourceFrequency  map[string]int `json:"source_frequency"`
	MessageFrequency map[string]int `json:"message_frequency"`
	ResponseMean     float64        `json:"response_time_mean"`
	ResponseStdDev   float64        `json:"response_time_std"`
	KnownIPs         []string       `json:"known_ips"`
	KnownUserAgents  []string       `json:"known_user_agents"`
	TotalRecords     int            `json:"total_records"`
	TrainedAt        time.Time      `json:"trained_at"`
}

// Empty returns an untrained profile: every map empty, every statistic zero.
func Empty() *PatternProfile {
	return &PatternProfile{
		hours:       map[int]int{},
		sources:     map[string]int{},
		messages:    map[string]int{},
		knownIPs:    map[string]struct{}{},
		knownAgents: map[string]struct{}{},
	}
}

// Train builds a profile from records in a single pass over the input.
func Train(records []model.LogRecord) *PatternProfile {
	p := Empty()
	p.trainedAt = time.Now().UTC()
	responseTimes := make([]float64, 0, len(records))
	for _, r := range records {
		p.total++
		p.hours[r.Hour()]++
		p.sources[r.SourceType]++
		p.messages[r.Message]++
		if r.ResponseTime != nil && !math.IsNaN(*r.ResponseTime) {
			responseTimes = append(responseTimes, *r.ResponseTime)
		}
		if r.IPAddress != "" {
			p.knownIPs[r.IPAddress] = struct{}{}
		}
		if r.UserAgent != "" {
			p.knownAgents[r.UserAgent] = struct{}{}
		}
	}
	if len(responseTimes) > 0 {
		mean, variance := stat.PopMeanVariance(responseTimes, nil)
		p.respMean = mean
		p.respStdDev = math.Sqrt(variance)
	}
	return p
}

func (p *PatternProfile) Total() int { return p.total }

func (p *PatternProfile) Trained() bool { return p.total > 0 }

func (p *PatternProfile) TrainedAt() time.Time { return p.trainedAt }

func (p *PatternProfile) HourCount(hour int) int { return p.hours[hour] }

func (p *PatternProfile) SourceCount(source string) int { return p.sources[source] }

func (p *PatternProfile) MessageCount(message string) int { return p.messages[message] }

func (p *PatternProfile) ResponseMean() float64 { return p.respMean }

func (p *PatternProfile) ResponseStdDev() float64 { return p.respStdDev }

func (p *PatternProfile) KnownIP(ip string) bool {
	_, ok := p.knownIPs[ip]
	return ok
}

func (p *PatternProfile) HasUserAgents() bool { return len(p.knownAgents) > 0 }

func (p *PatternProfile) KnownUserAgent(ua string) bool {
	_, ok := p.knownAgents[ua]
	return ok
}

// Rate returns count/total, or 0 when nothing was trained.
func (p *PatternProfile) Rate(count int) float64 {
	if p.total == 0 {
		return 0
	}
	return float64(count) / float64(p.total)
}

// Data returns a deep copy suitable for encoding.
func (p *PatternProfile) Data() Data {
	d := Data{
		HourFrequency:    make(map[int]int, len(p.hours)),
		SourceFrequency:  make(map[string]int, len(p.sources)),
		MessageFrequency: make(map[string]int, len(p.messages)),
		ResponseMean:     p.respMean,
		ResponseStdDev:   p.respStdDev,
		KnownIPs:         sortedKeys(p.knownIPs),
		KnownUserAgents:  sortedKeys(p.knownAgents),
		TotalRecords:     p.total,
		TrainedAt:        p.trainedAt,
	}
	for k, v := range p.hours {
		d.HourFrequency[k] = v
	}
	for k, v := range p.sources {
		d.SourceFrequency[k] = v
	}
	for k, v := range p.messages {
		d.MessageFrequency[k] = v
	}
	return d
}

// FromData validates d and builds a profile that owns copies of its maps.
func FromData(d Data) (*PatternProfile, error) {
	if d.TotalRecords < 0 {
		return nil, fmt.Errorf("total_records must be >= 0, got %d", d.TotalRecords)
	}
	if d.ResponseStdDev < 0 || math.IsNaN(d.ResponseStdDev) || math.IsNaN(d.ResponseMean) {
		return nil, fmt.Errorf("invalid response time statistics: mean=%v std=%v", d.ResponseMean, d.ResponseStdDev)
	}
	p := Empty()
	p.total = d.TotalRecords
	p.respMean = d.ResponseMean
	p.respStdDev = d.ResponseStdDev
	p.trainedAt = d.TrainedAt
	for h, c := range d.HourFrequency {
		if h < 0 || h > 23 {
			return nil, fmt.Errorf("hour_frequency key out of range: %d", h)
		}
		if c < 0 {
			return nil, fmt.Errorf("hour_frequency[%d] is negative", h)
		}
		p.hours[h] = c
	}
	for s, c := range d.SourceFrequency {
		if c < 0 {
			return nil, fmt.Errorf("source_frequency[%q] is negative", s)
		}
		p.sources[s] = c
	}
	for m, c := range d.MessageFrequency {
		if c < 0 {
			return nil, fmt.Errorf("message_frequency entry is negative")
		}
		p.messages[m] = c
	}
	for _, ip := range d.KnownIPs {
		p.knownIPs[ip] = struct{}{}
	}
	for _, ua := range d.KnownUserAgents {
		p.knownAgents[ua] = struct{}{}
	}
	return p, nil
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
