package ingest

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"logsentinel/internal/model"
)

const maxLineBytes = 1 << 20

// LineSource reads one record per line from r. Lines that fail to parse are
// logged and skipped.
type LineSource struct {
	scanner *bufio.Scanner
	parser  *Parser
	logger  *slog.Logger
	line    int
	skipped int
}

func NewLineSource(r io.Reader, parser *Parser, logger *slog.Logger) *LineSource {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	return &LineSource{scanner: sc, parser: parser, logger: logger}
}

func (s *LineSource) Next(ctx context.Context) (model.LogRecord, error) {
	for {
		if err := ctx.Err(); err != nil {
			return model.LogRecord{}, err
		}
		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				return model.LogRecord{}, err
			}
			return model.LogRecord{}, io.EOF
		}
		s.line++
		rec, err := s.parser.ParseLine(s.scanner.Text())
		if err != nil {
			s.skipped++
			if s.logger != nil {
				s.logger.Warn("skipping unparsable line", "line", s.line, "err", err)
			}
			continue
		}
		if rec == nil {
			continue
		}
		return *rec, nil
	}
}

// Skipped counts lines that failed to parse so far.
func (s *LineSource) Skipped() int { return s.skipped }

// ReadAll drains a LineSource into memory.
func ReadAll(ctx context.Context, src *LineSource) ([]model.LogRecord, error) {
	out := make([]model.LogRecord, 0)
	for {
		rec, err := src.Next(ctx)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
}

// ReadFile parses every record in a line-delimited file.
func ReadFile(ctx context.Context, path string, parser *Parser, logger *slog.Logger) ([]model.LogRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return ReadAll(ctx, NewLineSource(f, parser, logger))
}
