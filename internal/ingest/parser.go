package ingest

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"logsentinel/internal/config"
	"logsentinel/internal/model"
)

var (
	reTimestamp = regexp.MustCompile(`^\s*([0-9]{4}-[0-9]{2}-[0-9]{2}[ T][0-9:.]+(?:Z|[+-][0-9:]+)?)`)
	reSyslogTS  = regexp.MustCompile(`^\s*([A-Za-z]{3}\s+\d{1,2}\s+\d{2}:\d{2}:\d{2})`)
	reKV        = regexp.MustCompile(`(?i)\b([a-z_]+)=("[^"]*"|[^\s]+)`)
)

var knownLevels = map[string]string{
	"TRACE": "TRACE", "DEBUG": "DEBUG", "INFO": "INFO", "NOTICE": "INFO",
	"WARN": "WARN", "WARNING": "WARN", "ERROR": "ERROR", "ERR": "ERROR",
	"CRITICAL": "CRITICAL", "CRIT": "CRITICAL", "FATAL": "FATAL",
}

// Parser turns raw log lines (JSON objects or plain text) into LogRecords.
type Parser struct {
	loc           *time.Location
	defaultSource string
	now           func() time.Time
	newID         func() string
}

func NewParser(cfg config.ParserConfig) *Parser {
	loc := time.UTC
	if cfg.Timezone != "" {
		if l, err := time.LoadLocation(cfg.Timezone); err == nil {
			loc = l
		}
	}
	source := cfg.DefaultSourceType
	if source == "" {
		source = "application"
	}
	return &Parser{
		loc:           loc,
		defaultSource: source,
		now:           func() time.Time { return time.Now().UTC() },
		newID:         uuid.NewString,
	}
}

// ParseLine returns nil for blank lines.
func (p *Parser) ParseLine(line string) (*model.LogRecord, error) {
	trim := strings.TrimSpace(line)
	if trim == "" {
		return nil, nil
	}
	var (
		fields *rawFields
		err    error
	)
	if strings.HasPrefix(trim, "{") {
		fields, err = parseJSONBytes([]byte(trim))
		if err != nil {
			return nil, fmt.Errorf("parse json line: %w", err)
		}
	} else {
		fields, err = parsePlain(trim)
		if err != nil {
			return nil, err
		}
	}
	return p.build(fields)
}

// ParseMap converts an already-decoded JSON object.
func (p *Parser) ParseMap(obj map[string]any) (*model.LogRecord, error) {
	fields, err := parseJSONMap(obj)
	if err != nil {
		return nil, err
	}
	return p.build(fields)
}

func (p *Parser) build(f *rawFields) (*model.LogRecord, error) {
	ts := p.now()
	if f.Timestamp != "" {
		parsed, err := ParseTimestamp(f.Timestamp, p.loc)
		if err != nil {
			return nil, fmt.Errorf("parse timestamp: %w", err)
		}
		ts = parsed.UTC()
	}
	rec := &model.LogRecord{
		ID:           f.ID,
		Timestamp:    ts,
		Level:        normalizeLevel(f.Level),
		Message:      f.Message,
		SourceType:   f.SourceType,
		Host:         f.Host,
		Service:      f.Service,
		ResponseTime: f.ResponseTime,
		IPAddress:    f.IPAddress,
		UserAgent:    f.UserAgent,
	}
	if rec.ID == "" {
		rec.ID = p.newID()
	}
	if rec.SourceType == "" {
		rec.SourceType = p.defaultSource
	}
	if len(f.Extras) > 0 {
		rec.Fields = f.Extras
	}
	return rec, nil
}

func normalizeLevel(level string) string {
	if level == "" {
		return "INFO"
	}
	if v, ok := knownLevels[strings.ToUpper(level)]; ok {
		return v
	}
	return strings.ToUpper(level)
}

// parsePlain reads "<timestamp> [LEVEL] message key=value ...". Recognised
// keys fill record fields; the message keeps the full text after the level.
func parsePlain(line string) (*rawFields, error) {
	fields := &rawFields{Extras: map[string]any{}}
	ts, rest := extractTimestamp(line)
	fields.Timestamp = ts

	tokens := strings.Fields(rest)
	if len(tokens) > 0 {
		candidate := strings.Trim(tokens[0], "[]:")
		if _, ok := knownLevels[strings.ToUpper(candidate)]; ok {
			fields.Level = candidate
			rest = strings.TrimSpace(strings.TrimPrefix(rest, tokens[0]))
		}
	}
	fields.Message = rest

	kv := map[string]string{}
	for _, match := range reKV.FindAllStringSubmatch(rest, -1) {
		kv[strings.ToLower(match[1])] = strings.Trim(match[2], `"`)
	}
	fields.ID = firstNonEmpty(kv, idKeys...)
	fields.SourceType = firstNonEmpty(kv, sourceKeys...)
	fields.Host = firstNonEmpty(kv, hostKeys...)
	fields.Service = firstNonEmpty(kv, serviceKeys...)
	fields.IPAddress = firstNonEmpty(kv, ipKeys...)
	fields.UserAgent = firstNonEmpty(kv, agentKeys...)
	if rt := firstNonEmpty(kv, responseKeys...); rt != "" {
		v, err := strconv.ParseFloat(strings.TrimSuffix(rt, "ms"), 64)
		if err != nil {
			return nil, fmt.Errorf("response time %q: %w", rt, err)
		}
		fields.ResponseTime = &v
	}
	return fields, nil
}

func extractTimestamp(line string) (string, string) {
	for _, re := range []*regexp.Regexp{reTimestamp, reSyslogTS} {
		m := re.FindStringSubmatchIndex(line)
		if len(m) >= 4 {
			return strings.TrimSpace(line[m[2]:m[3]]), strings.TrimSpace(line[m[3]:])
		}
	}
	return "", line
}

func firstNonEmpty(m map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(m[k]); v != "" {
			return v
		}
	}
	return ""
}
