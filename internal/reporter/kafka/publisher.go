// Package kafka exports analyzer incidents to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress"

	"firestige.xyz/callx/internal/log"
	"firestige.xyz/callx/internal/metrics"
	"firestige.xyz/callx/internal/sba"
)

const (
	defaultTopic        = "callx-incidents"
	defaultBatchSize    = 100
	defaultBatchTimeout = 100 * time.Millisecond
	defaultCompression  = "snappy"
	defaultMaxAttempts  = 3

	reporterName = "kafka"
)

// MessageWriter is the subset of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Config represents Kafka publisher configuration.
type Config struct {
	Brokers      []string
	Topic        string        // default callx-incidents
	BatchSize    int           // default 100
	BatchTimeout time.Duration // default 100ms
	Compression  string        // none|gzip|snappy|lz4|zstd, default snappy
	MaxAttempts  int           // default 3
}

func (c *Config) applyDefaults() {
	if c.Topic == "" {
		c.Topic = defaultTopic
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = defaultBatchTimeout
	}
	if c.Compression == "" {
		c.Compression = defaultCompression
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
}

// Publisher sends incidents to Kafka, one message per incident keyed by caller.
type Publisher struct {
	writer MessageWriter
	topic  string
	logger log.Logger

	published atomic.Uint64
	failed    atomic.Uint64
}

// CompressionCodec maps a compression name to its kafka-go codec. "none" yields nil.
func CompressionCodec(name string) (compress.Codec, error) {
	switch name {
	case "none", "":
		return nil, nil
	case "gzip":
		return compress.Gzip.Codec(), nil
	case "snappy":
		return compress.Snappy.Codec(), nil
	case "lz4":
		return compress.Lz4.Codec(), nil
	case "zstd":
		return compress.Zstd.Codec(), nil
	default:
		return nil, fmt.Errorf("invalid compression type: %s", name)
	}
}

// NewPublisher creates a publisher backed by a synchronous kafka.Writer.
func NewPublisher(cfg Config, logger log.Logger) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka publisher: brokers is required")
	}
	cfg.applyDefaults()

	codec, err := CompressionCodec(cfg.Compression)
	if err != nil {
		return nil, err
	}

	w := kafka.NewWriter(kafka.WriterConfig{
		Brokers:          cfg.Brokers,
		Topic:            cfg.Topic,
		Balancer:         &kafka.Hash{}, // same caller, same partition
		BatchSize:        cfg.BatchSize,
		BatchTimeout:     cfg.BatchTimeout,
		MaxAttempts:      cfg.MaxAttempts,
		CompressionCodec: codec,
	})

	logger.WithFields(map[string]interface{}{
		"brokers":     cfg.Brokers,
		"topic":       cfg.Topic,
		"compression": cfg.Compression,
	}).Info("kafka incident publisher created")

	return NewPublisherWithWriter(w, cfg.Topic, logger), nil
}

// NewPublisherWithWriter wraps an existing writer.
func NewPublisherWithWriter(w MessageWriter, topic string, logger log.Logger) *Publisher {
	return &Publisher{writer: w, topic: topic, logger: logger}
}

// Publish writes one message per incident. A serialization failure skips
// that incident; a write failure fails the whole batch.
func (p *Publisher) Publish(ctx context.Context, incidents []sba.Incident) error {
	if len(incidents) == 0 {
		return nil
	}

	msgs := make([]kafka.Message, 0, len(incidents))
	for _, inc := range incidents {
		value, err := json.Marshal(inc)
		if err != nil {
			p.failed.Add(1)
			metrics.ReporterErrorsTotal.WithLabelValues(reporterName, "serialize").Inc()
			p.logger.WithError(err).WithField("caller", inc.Caller).Warn("serialize incident failed")
			continue
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(inc.Caller),
			Value: value,
			Time:  inc.Timestamp,
			Headers: []kafka.Header{
				{Key: "incident_type", Value: []byte(inc.Type.String())},
			},
		})
	}
	if len(msgs) == 0 {
		return nil
	}

	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		p.failed.Add(uint64(len(msgs)))
		metrics.ReporterErrorsTotal.WithLabelValues(reporterName, "write").Inc()
		return fmt.Errorf("kafka write failed: %w", err)
	}

	p.published.Add(uint64(len(msgs)))
	p.logger.Debugf("published %d incidents to %s", len(msgs), p.topic)
	return nil
}

// Published returns the number of incidents written.
func (p *Publisher) Published() uint64 { return p.published.Load() }

// Failed returns the number of incidents that could not be written.
func (p *Publisher) Failed() uint64 { return p.failed.Load() }

// Close flushes pending messages and closes the writer.
func (p *Publisher) Close() error {
	if p.writer == nil {
		return nil
	}
	err := p.writer.Close()
	p.logger.WithFields(map[string]interface{}{
		"total_published": p.published.Load(),
		"total_failed":    p.failed.Load(),
	}).Info("kafka incident publisher stopped")
	return err
}
