package stream

import (
	"context"
	"io"

	"logsentinel/internal/model"
)

// Source supplies records one at a time. Next blocks until a record is
// available and returns io.EOF once the source is exhausted.
type Source interface {
	Next(ctx context.Context) (model.LogRecord, error)
}

// ChannelSource adapts a channel into a Source. Closing the channel ends the
// stream.
type ChannelSource struct {
	ch <-chan model.LogRecord
}

func NewChannelSource(ch <-chan model.LogRecord) *ChannelSource {
	return &ChannelSource{ch: ch}
}

func (s *ChannelSource) Next(ctx context.Context) (model.LogRecord, error) {
	if err := ctx.Err(); err != nil {
		return model.LogRecord{}, err
	}
	select {
	case <-ctx.Done():
		return model.LogRecord{}, ctx.Err()
	case r, ok := <-s.ch:
		if !ok {
			return model.LogRecord{}, io.EOF
		}
		return r, nil
	}
}

// SliceSource replays a fixed set of records.
type SliceSource struct {
	records []model.LogRecord
	pos     int
}

func NewSliceSource(records []model.LogRecord) *SliceSource {
	return &SliceSource{records: records}
}

func (s *SliceSource) Next(ctx context.Context) (model.LogRecord, error) {
	if err := ctx.Err(); err != nil {
		return model.LogRecord{}, err
	}
	if s.pos >= len(s.records) {
		return model.LogRecord{}, io.EOF
	}
	r := s.records[s.pos]
	s.pos++
	return r, nil
}
