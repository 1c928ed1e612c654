package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"logsentinel/internal/alerts"
	"logsentinel/internal/config"
	"logsentinel/internal/model"
	"logsentinel/internal/stream"
)

type HealthSource interface {
	Snapshot() model.HealthSnapshot
	GetPerformance(name string) model.ModelHealthReport
	Models() []string
	Reset()
}

type AnalysisState interface {
	Ready() (classifierReady, scorerReady bool)
	Threshold() float64
	SignalNames() []string
}

type StreamState interface {
	Stats() stream.Stats
}

type Deps struct {
	Config   *config.Manager
	Health   HealthSource
	Analysis AnalysisState
	Stream   StreamState
	Alerts   *alerts.Store
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
	Version  string
}

type Server struct {
	deps Deps
}

type statusResponse struct {
	Status     string         `json:"status"`
	Time       string         `json:"time"`
	Version    string         `json:"version"`
	ConfigPath string         `json:"config_path"`
	Analysis   analysisStatus `json:"analysis"`
	Ingest     ingestStatus   `json:"ingest"`
	Stream     *stream.Stats  `json:"stream,omitempty"`
	API        apiStatus      `json:"api"`
}

type analysisStatus struct {
	ClassifierReady  bool     `json:"classifier_ready"`
	ScorerReady      bool     `json:"scorer_ready"`
	AnomalyThreshold float64  `json:"anomaly_threshold"`
	Signals          []string `json:"signals"`
}

type ingestStatus struct {
	FileTail bool `json:"file_tail"`
	Kafka    bool `json:"kafka"`
}

type apiStatus struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

func NewServer(deps Deps) *Server {
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	return &Server{deps: deps}
}

func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/health/{model}", s.handleModelHealth).Methods(http.MethodGet)
	r.HandleFunc("/alerts", s.handleAlerts).Methods(http.MethodGet)
	r.HandleFunc("/admin/clear", s.handleClear).Methods(http.MethodPost)
	r.Handle("/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusMethodNotAllowed)
	})
	return r
}

// Start serves the API until ctx is done. It returns nil when the API is
// disabled.
func Start(ctx context.Context, deps Deps) *http.Server {
	if deps.Config == nil {
		return nil
	}
	logger := deps.Logger
	current := deps.Config.Get().API
	if !current.Enabled {
		if logger != nil {
			logger.Info("api disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("api enabled", "addr", current.Addr)
	}
	httpServer := &http.Server{
		Addr:              current.Addr,
		Handler:           NewServer(deps).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{
		Status:  "ok",
		Time:    time.Now().UTC().Format(time.RFC3339Nano),
		Version: s.deps.Version,
	}
	if s.deps.Config != nil {
		cfg := s.deps.Config.Get()
		resp.ConfigPath = s.deps.Config.Path()
		resp.Ingest = ingestStatus{FileTail: cfg.Ingest.FileTail.Enabled, Kafka: cfg.Ingest.Kafka.Enabled}
		resp.API = apiStatus{Enabled: cfg.API.Enabled, Addr: cfg.API.Addr}
	}
	if s.deps.Analysis != nil {
		cls, sc := s.deps.Analysis.Ready()
		resp.Analysis = analysisStatus{
			ClassifierReady:  cls,
			ScorerReady:      sc,
			AnomalyThreshold: s.deps.Analysis.Threshold(),
			Signals:          s.deps.Analysis.SignalNames(),
		}
	}
	if s.deps.Stream != nil {
		st := s.deps.Stream.Stats()
		resp.Stream = &st
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleHealth answers 503 while any model is critical so load balancers can
// act on it.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Health == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	snap := s.deps.Health.Snapshot()
	status := http.StatusOK
	if snap.Overall == model.HealthCritical {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, snap)
}

func (s *Server) handleModelHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	name := mux.Vars(r)["model"]
	for _, m := range s.deps.Health.Models() {
		if m == name {
			writeJSON(w, http.StatusOK, s.deps.Health.GetPerformance(name))
			return
		}
	}
	w.WriteHeader(http.StatusNotFound)
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if s.deps.Alerts == nil {
		writeJSON(w, http.StatusOK, map[string]any{"alerts": []alerts.Alert{}, "count": 0})
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	var list []alerts.Alert
	if sinceStr := r.URL.Query().Get("since"); sinceStr != "" {
		ts, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		list = s.deps.Alerts.Since(ts)
	} else {
		list = s.deps.Alerts.List(limit)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": list,
		"count":  len(list),
	})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	var req struct {
		Target string `json:"target"`
	}
	_ = json.Unmarshal(body, &req)
	target := strings.ToLower(strings.TrimSpace(req.Target))
	if target == "" {
		target = "all"
	}
	clearAlerts := func() {
		if s.deps.Alerts != nil {
			s.deps.Alerts.Clear()
		}
	}
	resetHealth := func() {
		if s.deps.Health != nil {
			s.deps.Health.Reset()
		}
	}
	switch target {
	case "all":
		clearAlerts()
		resetHealth()
	case "alerts":
		clearAlerts()
	case "health":
		resetHealth()
	default:
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if s.deps.Logger != nil {
		s.deps.Logger.Info("state cleared via api", "target", target)
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
