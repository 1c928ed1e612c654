// Package ingest provides record sources for the stream processor: Kafka,
// tailed files and line-delimited readers.
package ingest

import (
	"context"
	"time"

	"logsentinel/internal/model"
)

// send blocks until the record is accepted or ctx is done.
func send(ctx context.Context, out chan<- model.LogRecord, rec model.LogRecord) bool {
	select {
	case out <- rec:
		return true
	case <-ctx.Done():
		return false
	}
}

func BackoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
