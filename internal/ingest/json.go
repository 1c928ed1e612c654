package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

var (
	idKeys       = []string{"id", "record_id", "log_id"}
	tsKeys       = []string{"timestamp", "@timestamp", "time", "ts"}
	levelKeys    = []string{"level", "severity", "log_level"}
	messageKeys  = []string{"message", "msg"}
	sourceKeys   = []string{"source_type", "source", "logger"}
	hostKeys     = []string{"host", "hostname"}
	serviceKeys  = []string{"service", "app"}
	responseKeys = []string{"response_time", "response_time_ms", "duration_ms", "latency_ms"}
	ipKeys       = []string{"ip_address", "ip", "client_ip", "remote_addr"}
	agentKeys    = []string{"user_agent", "ua"}
)

// rawFields is the loosely typed form of one log line before it becomes a
// LogRecord.
type rawFields struct {
	ID           string
	Timestamp    string
	Level        string
	Message      string
	SourceType   string
	Host         string
	Service      string
	ResponseTime *float64
	IPAddress    string
	UserAgent    string
	Extras       map[string]any
}

func parseJSONBytes(data []byte) (*rawFields, error) {
	var obj map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&obj); err != nil {
		return nil, err
	}
	return parseJSONMap(obj)
}

func parseJSONMap(obj map[string]any) (*rawFields, error) {
	lower := make(map[string]any, len(obj))
	for key, val := range obj {
		lower[strings.ToLower(key)] = val
	}
	fields := &rawFields{Extras: map[string]any{}}
	used := map[string]struct{}{}
	take := func(keys []string) string {
		for _, k := range keys {
			v, ok := lower[k]
			if !ok || v == nil {
				continue
			}
			used[k] = struct{}{}
			if s := strings.TrimSpace(fmt.Sprint(v)); s != "" {
				return s
			}
		}
		return ""
	}
	fields.ID = take(idKeys)
	fields.Timestamp = take(tsKeys)
	fields.Level = take(levelKeys)
	fields.Message = take(messageKeys)
	fields.SourceType = take(sourceKeys)
	fields.Host = take(hostKeys)
	fields.Service = take(serviceKeys)
	fields.IPAddress = take(ipKeys)
	fields.UserAgent = take(agentKeys)
	if rt := take(responseKeys); rt != "" {
		v, err := strconv.ParseFloat(rt, 64)
		if err != nil {
			return nil, fmt.Errorf("response time %q: %w", rt, err)
		}
		fields.ResponseTime = &v
	}
	for k, v := range lower {
		if _, ok := used[k]; ok {
			continue
		}
		fields.Extras[k] = plainValue(v)
	}
	return fields, nil
}

// plainValue turns json.Number into float64 so extras compare naturally.
func plainValue(v any) any {
	if n, ok := v.(json.Number); ok {
		if f, err := n.Float64(); err == nil {
			return f
		}
		return n.String()
	}
	return v
}
