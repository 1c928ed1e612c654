package profile

import (
	"math"
	"testing"
	"time"

	"logsentinel/internal/model"
)

func rt(v float64) *float64 { return &v }

func TestTrainEmpty(t *testing.T) {
	p := Train(nil)
	if p.Total() != 0 || p.Trained() {
		t.Fatalf("expected untrained profile")
	}
	if p.ResponseMean() != 0 || p.ResponseStdDev() != 0 {
		t.Fatalf("expected zero response stats, got %v/%v", p.ResponseMean(), p.ResponseStdDev())
	}
	if r := p.Rate(p.HourCount(3)); r != 0 {
		t.Fatalf("expected zero rate, got %v", r)
	}
	d := p.Data()
	if len(d.HourFrequency) != 0 || len(d.SourceFrequency) != 0 || len(d.MessageFrequency) != 0 {
		t.Fatalf("expected empty maps: %+v", d)
	}
}

func TestTrainAccumulates(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	records := []model.LogRecord{
		{Timestamp: base, SourceType: "app", Message: "ok", ResponseTime: rt(100), IPAddress: "10.0.0.1", UserAgent: "curl"},
		{Timestamp: base.Add(time.Minute), SourceType: "app", Message: "ok", ResponseTime: rt(200)},
		{Timestamp: base.Add(2 * time.Hour), SourceType: "db", Message: "slow", ResponseTime: rt(300), IPAddress: "10.0.0.2"},
		{Timestamp: base.Add(3 * time.Hour), SourceType: "db", Message: "no timing"},
	}
	p := Train(records)
	if p.Total() != 4 {
		t.Fatalf("total: %d", p.Total())
	}
	if p.HourCount(9) != 2 || p.HourCount(11) != 1 || p.HourCount(12) != 1 {
		t.Fatalf("hour counts wrong: %+v", p.Data().HourFrequency)
	}
	if p.SourceCount("app") != 2 || p.SourceCount("db") != 2 {
		t.Fatalf("source counts wrong")
	}
	if p.MessageCount("ok") != 2 {
		t.Fatalf("message count wrong")
	}
	if math.Abs(p.ResponseMean()-200) > 1e-9 {
		t.Fatalf("mean: %v", p.ResponseMean())
	}
	wantStd := math.Sqrt((100.0*100 + 0 + 100*100) / 3)
	if math.Abs(p.ResponseStdDev()-wantStd) > 1e-9 {
		t.Fatalf("std: got %v want %v", p.ResponseStdDev(), wantStd)
	}
	if !p.KnownIP("10.0.0.2") || p.KnownIP("10.0.0.9") {
		t.Fatalf("known ip set wrong")
	}
	if !p.KnownUserAgent("curl") {
		t.Fatalf("known user agent missing")
	}
}

func TestDataRoundTrip(t *testing.T) {
	p := Train([]model.LogRecord{
		{Timestamp: time.Now(), SourceType: "app", Message: "hello", ResponseTime: rt(5), IPAddress: "1.1.1.1"},
	})
	q, err := FromData(p.Data())
	if err != nil {
		t.Fatalf("from data: %v", err)
	}
	if q.Total() != p.Total() || q.ResponseMean() != p.ResponseMean() || !q.KnownIP("1.1.1.1") {
		t.Fatalf("round trip mismatch")
	}
}

func TestFromDataRejectsNegativeCounts(t *testing.T) {
	if _, err := FromData(Data{TotalRecords: -1}); err == nil {
		t.Fatalf("expected error for negative total")
	}
	if _, err := FromData(Data{HourFrequency: map[int]int{25: 1}}); err == nil {
		t.Fatalf("expected error for hour out of range")
	}
}

func TestDataIsCopy(t *testing.T) {
	p := Train([]model.LogRecord{{Timestamp: time.Now(), SourceType: "app", Message: "m"}})
	d := p.Data()
	d.SourceFrequency["app"] = 999
	if p.SourceCount("app") != 1 {
		t.Fatalf("profile mutated through Data copy")
	}
}
