package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"logsentinel/internal/config"
	"logsentinel/internal/model"
)

// KafkaSource pulls one record per message from a consumer group.
type KafkaSource struct {
	reader *kafka.Reader
	parser *Parser
	logger *slog.Logger
}

func NewKafkaSource(cfg config.KafkaConfig, parser *Parser, logger *slog.Logger) (*KafkaSource, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, errors.New("kafka source requires brokers and topic")
	}
	if logger != nil {
		logger.Info("kafka ingest enabled", "brokers", cfg.Brokers, "topic", cfg.Topic, "group_id", cfg.GroupID)
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1e3,
		MaxBytes: 10e6,
	})
	return &KafkaSource{reader: reader, parser: parser, logger: logger}, nil
}

// Next blocks until a parsable message arrives. Transient read errors are
// retried after a short backoff; a closed reader ends the stream.
func (k *KafkaSource) Next(ctx context.Context) (model.LogRecord, error) {
	for {
		m, err := k.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return model.LogRecord{}, ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return model.LogRecord{}, io.EOF
			}
			if k.logger != nil {
				k.logger.Warn("kafka read error", "err", err)
			}
			if !BackoffSleep(ctx, 0) {
				return model.LogRecord{}, ctx.Err()
			}
			continue
		}
		rec, err := k.parser.ParseLine(string(m.Value))
		if err != nil || rec == nil {
			if err != nil && k.logger != nil {
				k.logger.Warn("kafka message skipped", "partition", m.Partition, "offset", m.Offset, "err", err)
			}
			continue
		}
		return *rec, nil
	}
}

func (k *KafkaSource) Close() error {
	return k.reader.Close()
}
