package ingest

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"logsentinel/internal/config"
)

func newTestParser() *Parser {
	return NewParser(config.ParserConfig{Timezone: "UTC", DefaultSourceType: "application"})
}

func TestParsePlainText(t *testing.T) {
	p := newTestParser()
	line := "2026-02-23 12:34:56 ERROR payment failed ip=10.0.0.5 response_time=250ms service=billing"
	rec, err := p.ParseLine(line)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if rec.Level != "ERROR" {
		t.Fatalf("level: %s", rec.Level)
	}
	if !strings.HasPrefix(rec.Message, "payment failed") {
		t.Fatalf("message: %q", rec.Message)
	}
	if rec.IPAddress != "10.0.0.5" || rec.Service != "billing" {
		t.Fatalf("kv fields: ip=%q service=%q", rec.IPAddress, rec.Service)
	}
	if rec.ResponseTime == nil || *rec.ResponseTime != 250 {
		t.Fatalf("response time: %v", rec.ResponseTime)
	}
	if rec.Timestamp.Hour() != 12 || rec.SourceType != "application" {
		t.Fatalf("timestamp/source: %v %s", rec.Timestamp, rec.SourceType)
	}
	if rec.ID == "" {
		t.Fatalf("expected generated id")
	}
}

func TestParseJSON(t *testing.T) {
	p := newTestParser()
	line := `{"id":"abc","timestamp":"2026-02-23T03:00:00Z","level":"warning","msg":"Unauthorized access","source":"auth","ip":"10.0.0.9","duration_ms":42,"tenant":"acme","attempts":3}`
	rec, err := p.ParseLine(line)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if rec.ID != "abc" || rec.Level != "WARN" || rec.Message != "Unauthorized access" || rec.SourceType != "auth" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.Hour() != 3 {
		t.Fatalf("hour: %d", rec.Hour())
	}
	if rec.ResponseTime == nil || *rec.ResponseTime != 42 {
		t.Fatalf("response time: %v", rec.ResponseTime)
	}
	if rec.Fields["tenant"] != "acme" || rec.Fields["attempts"] != 3.0 {
		t.Fatalf("extras: %+v", rec.Fields)
	}
	if _, ok := rec.Fields["msg"]; ok {
		t.Fatalf("mapped keys should not be repeated in fields")
	}
}

func TestParseBlankAndBadLines(t *testing.T) {
	p := newTestParser()
	if rec, err := p.ParseLine("   "); rec != nil || err != nil {
		t.Fatalf("blank line: %v %v", rec, err)
	}
	if _, err := p.ParseLine(`{"timestamp":"yesterday"}`); err == nil {
		t.Fatalf("expected timestamp error")
	}
	if _, err := p.ParseLine(`{"message":`); err == nil {
		t.Fatalf("expected json error")
	}
}

func TestParseTimestampFormats(t *testing.T) {
	cases := map[string]time.Time{
		"2026-02-23T12:34:56Z":       time.Date(2026, 2, 23, 12, 34, 56, 0, time.UTC),
		"2026-02-23 12:34:56":        time.Date(2026, 2, 23, 12, 34, 56, 0, time.UTC),
		"1771850096":                 time.Unix(1771850096, 0).UTC(),
		"1771850096000":              time.Unix(1771850096, 0).UTC(),
		"23/Feb/2026:12:34:56 +0000": time.Date(2026, 2, 23, 12, 34, 56, 0, time.UTC),
	}
	for in, want := range cases {
		got, err := ParseTimestamp(in, time.UTC)
		if err != nil {
			t.Fatalf("%q: %v", in, err)
		}
		if !got.Equal(want) {
			t.Fatalf("%q: got %v want %v", in, got, want)
		}
	}
}

func TestLineSourceSkipsBadLines(t *testing.T) {
	input := strings.Join([]string{
		`{"message":"one"}`,
		``,
		`{"message":`,
		`2026-02-23 09:00:00 INFO two`,
	}, "\n")
	src := NewLineSource(strings.NewReader(input), newTestParser(), nil)
	recs, err := ReadAll(context.Background(), src)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(recs) != 2 || recs[0].Message != "one" || recs[1].Message != "two" {
		t.Fatalf("unexpected records: %+v", recs)
	}
	if src.Skipped() != 1 {
		t.Fatalf("skipped: %d", src.Skipped())
	}
	if _, err := src.Next(context.Background()); err != io.EOF {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestFileTailSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	if err := os.WriteFile(path, []byte("2026-02-23 09:00:00 INFO first\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	src := NewFileTailSource(ctx, config.FileTailConfig{Enabled: true, Files: []string{path}}, 4, newTestParser(), nil)

	next := func() string {
		t.Helper()
		c, stop := context.WithTimeout(ctx, 5*time.Second)
		defer stop()
		rec, err := src.Next(c)
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		return rec.Message
	}
	if got := next(); got != "first" {
		t.Fatalf("first: %q", got)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := f.WriteString("2026-02-23 09:00:01 WARN second\n"); err != nil {
		t.Fatalf("append: %v", err)
	}
	f.Close()
	if got := next(); got != "second" {
		t.Fatalf("second: %q", got)
	}
	cancel()
	if _, err := src.Next(context.Background()); err != io.EOF {
		t.Fatalf("expected EOF after cancel, got %v", err)
	}
}
