package ingest

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"logsentinel/internal/config"
	"logsentinel/internal/model"
)

// FileTailSource follows one or more files and yields every appended line
// as a record. Truncated files are reopened from the start.
type FileTailSource struct {
	out    chan model.LogRecord
	parser *Parser
	logger *slog.Logger
	poll   time.Duration
	wg     sync.WaitGroup
}

func NewFileTailSource(ctx context.Context, cfg config.FileTailConfig, buffer int, parser *Parser, logger *slog.Logger) *FileTailSource {
	if buffer <= 0 {
		buffer = 256
	}
	s := &FileTailSource{
		out:    make(chan model.LogRecord, buffer),
		parser: parser,
		logger: logger,
		poll:   200 * time.Millisecond,
	}
	for _, path := range cfg.Files {
		if logger != nil {
			logger.Info("file tail ingest enabled", "path", path, "start_at_end", cfg.StartAtEnd)
		}
		s.wg.Add(1)
		go func(path string) {
			defer s.wg.Done()
			s.tailFile(ctx, path, cfg.StartAtEnd)
		}(path)
	}
	go func() {
		s.wg.Wait()
		close(s.out)
	}()
	return s
}

func (s *FileTailSource) Next(ctx context.Context) (model.LogRecord, error) {
	select {
	case <-ctx.Done():
		return model.LogRecord{}, ctx.Err()
	case rec, ok := <-s.out:
		if !ok {
			return model.LogRecord{}, io.EOF
		}
		return rec, nil
	}
}

func (s *FileTailSource) tailFile(ctx context.Context, path string, startAtEnd bool) {
	var file *os.File
	var offset int64
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if file == nil {
			f, err := os.Open(path)
			if err != nil {
				if s.logger != nil {
					s.logger.Warn("tail open failed", "path", path, "err", err)
				}
				if !BackoffSleep(ctx, 500*time.Millisecond) {
					return
				}
				continue
			}
			file = f
			offset = 0
			if startAtEnd {
				if pos, err := file.Seek(0, io.SeekEnd); err == nil {
					offset = pos
				}
				startAtEnd = false
			}
		}

		reader := bufio.NewReader(file)
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				if err == io.EOF {
					if line != "" {
						// partial line; rewind and wait for the rest
						if _, serr := file.Seek(offset, io.SeekStart); serr == nil {
							reader.Reset(file)
						}
					}
					if !BackoffSleep(ctx, s.poll) {
						_ = file.Close()
						return
					}
					info, statErr := os.Stat(path)
					if statErr == nil && info.Size() < offset {
						_ = file.Close()
						file = nil
						break
					}
					continue
				}
				if s.logger != nil {
					s.logger.Warn("tail read error", "path", path, "err", err)
				}
				_ = file.Close()
				file = nil
				break
			}
			offset += int64(len(line))
			rec, err := s.parser.ParseLine(line)
			if err != nil || rec == nil {
				if err != nil && s.logger != nil {
					s.logger.Warn("tail parse error", "path", path, "err", err)
				}
				continue
			}
			if !send(ctx, s.out, *rec) {
				_ = file.Close()
				return
			}
		}
	}
}
