package alerts

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"logsentinel/internal/model"
)

// Alert is a high-priority summary as retained for the /alerts endpoint.
type Alert struct {
	ID         string                `json:"id"`
	ReceivedAt time.Time             `json:"received_at"`
	Summary    model.AnalysisSummary `json:"summary"`
}

type Store struct {
	mu    sync.RWMutex
	buf   []Alert
	limit int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 1000
	}
	return &Store{limit: limit}
}

func (s *Store) Add(summary model.AnalysisSummary) Alert {
	alert := Alert{ID: uuid.NewString(), ReceivedAt: time.Now().UTC(), Summary: summary}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buf) < s.limit {
		s.buf = append(s.buf, alert)
		return alert
	}
	copy(s.buf, s.buf[1:])
	s.buf[len(s.buf)-1] = alert
	return alert
}

// Handle stores summary; it matches the stream callback signature.
func (s *Store) Handle(summary model.AnalysisSummary) error {
	s.Add(summary)
	return nil
}

func (s *Store) List(limit int) []Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.buf) {
		limit = len(s.buf)
	}
	out := make([]Alert, 0, limit)
	for i := len(s.buf) - limit; i < len(s.buf); i++ {
		out = append(out, s.buf[i])
	}
	return out
}

func (s *Store) Since(ts time.Time) []Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Alert, 0)
	for _, a := range s.buf {
		if !a.ReceivedAt.Before(ts) {
			out = append(out, a)
		}
	}
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.buf)
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = nil
}
