package model

import "time"

type LogRecord struct {
	ID           string         `json:"id"`
	Timestamp    time.Time      `json:"timestamp"`
	Level        string         `json:"level"`
	Message      string         `json:"message"`
	SourceType   string         `json:"source_type"`
	Host         string         `json:"host,omitempty"`
	Service      string         `json:"service,omitempty"`
	ResponseTime *float64       `json:"response_time,omitempty"`
	IPAddress    string         `json:"ip_address,omitempty"`
	UserAgent    string         `json:"user_agent,omitempty"`
	Fields       map[string]any `json:"fields,omitempty"`
}

// Hour is the UTC hour bucket used for timing statistics.
func (r LogRecord) Hour() int {
	return r.Timestamp.UTC().Hour()
}

type Category string

const (
	CategorySecurity       Category = "security"
	CategoryPerformance    Category = "performance"
	CategoryDatabase       Category = "database"
	CategoryNetwork        Category = "network"
	CategoryAuthentication Category = "authentication"
	CategoryError          Category = "error"
	CategorySystem         Category = "system"
	CategoryApplication    Category = "application"
)

const (
	SignalTiming      = "unusual_timing"
	SignalSource      = "unusual_source"
	SignalContent     = "unusual_content"
	SignalPerformance = "performance_anomaly"
	SignalSecurity    = "security_anomaly"

	SignalNone = "none"
)

// ScoreSet maps a signal name to a score in [0,1].
type ScoreSet map[string]float64

// Max returns the highest score, or 0 for an empty set.
func (s ScoreSet) Max() float64 {
	max := 0.0
	for _, v := range s {
		if v > max {
			max = v
		}
	}
	return max
}

type AnomalyResult struct {
	IsAnomaly      bool      `json:"is_anomaly"`
	DominantSignal string    `json:"dominant_signal"`
	Confidence     float64   `json:"confidence"`
	Scores         ScoreSet  `json:"scores"`
	Explanation    string    `json:"explanation"`
	Timestamp      time.Time `json:"timestamp"`
}

type ClassificationResult struct {
	Category   Category  `json:"category"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
}

type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// AnalysisSummary is the combined verdict for one record. A component that
// was not trained leaves its result nil.
type AnalysisSummary struct {
	RecordID       string                `json:"record_id"`
	Classification *ClassificationResult `json:"classification,omitempty"`
	Anomaly        *AnomalyResult        `json:"anomaly,omitempty"`
	RiskLevel      RiskLevel             `json:"risk_level"`
	ActionRequired bool                  `json:"action_required"`
	Timestamp      time.Time             `json:"timestamp"`
}

func (s AnalysisSummary) HighPriority() bool {
	return s.RiskLevel == RiskHigh || s.ActionRequired
}

// Model names used when reporting predictions to the performance monitor.
const (
	ModelClassifier      = "classifier"
	ModelAnomalyDetector = "anomaly_detector"
)

type PredictionRecord struct {
	Model       string        `json:"model"`
	Timestamp   time.Time     `json:"timestamp"`
	Prediction  any           `json:"prediction"`
	GroundTruth any           `json:"ground_truth,omitempty"`
	Latency     time.Duration `json:"latency"`
}

func (p PredictionRecord) HasGroundTruth() bool {
	return p.GroundTruth != nil
}

type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthWarning  HealthStatus = "warning"
	HealthCritical HealthStatus = "critical"
)

type ModelHealthReport struct {
	Model            string       `json:"model"`
	TotalPredictions int64        `json:"total_predictions"`
	ErrorCount       int64        `json:"error_count"`
	ErrorRate        float64      `json:"error_rate"`
	AvgLatencyMS     float64      `json:"avg_latency_ms"`
	MinLatencyMS     float64      `json:"min_latency_ms"`
	MaxLatencyMS     float64      `json:"max_latency_ms"`
	AvgAccuracy      float64      `json:"avg_accuracy"`
	AccuracySamples  int          `json:"accuracy_samples"`
	WindowSize       int          `json:"window_size"`
	Status           HealthStatus `json:"status"`
	Violations       []string     `json:"violations,omitempty"`
	LastError        string       `json:"last_error,omitempty"`
}

type HealthSnapshot struct {
	Timestamp time.Time                    `json:"timestamp"`
	Overall   HealthStatus                 `json:"overall"`
	Models    map[string]ModelHealthReport `json:"models"`
}
