package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/segmentio/kafka-go"

	"firestige.xyz/callx/internal/log"
)

// KafkaCommand is the wire format for commands received via Kafka.
//
//	{
//	  "version":    "v1",
//	  "target":     "probe-01",
//	  "command":    "calls",
//	  "timestamp":  "2026-01-15T10:30:00Z",
//	  "request_id": "req-abc-123",
//	  "payload":    {"limit": 10}
//	}
type KafkaCommand struct {
	Version   string          `json:"version"`
	Target    string          `json:"target"` // hostname or "*"
	Command   string          `json:"command"`
	Timestamp time.Time       `json:"timestamp"`
	RequestID string          `json:"request_id"`
	Payload   json.RawMessage `json:"payload"`
}

// KafkaResponse is published to the response topic when one is configured.
type KafkaResponse struct {
	Host      string     `json:"host"`
	RequestID string     `json:"request_id"`
	Command   string     `json:"command"`
	Timestamp time.Time  `json:"timestamp"`
	Result    any        `json:"result,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
}

// KafkaCommandConfig configures the consumer.
type KafkaCommandConfig struct {
	Brokers       []string
	Topic         string
	GroupID       string
	ResponseTopic string
	TTL           time.Duration
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaCommandConsumer reads console commands from a topic. Commands from
// Kafka are never privileged.
type KafkaCommandConsumer struct {
	hostname string
	reader   messageReader
	writer   messageWriter
	handler  *Handler
	ttl      time.Duration
	backoff  time.Duration
	logger   log.Logger
	now      func() time.Time
}

// NewKafkaCommandConsumer creates a consumer group reader for cfg.
func NewKafkaCommandConsumer(cfg KafkaCommandConfig, handler *Handler, logger log.Logger) (*KafkaCommandConsumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("brokers is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	if cfg.GroupID == "" {
		return nil, fmt.Errorf("group_id is required")
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		StartOffset:    kafka.LastOffset,
		MinBytes:       1,
		MaxBytes:       10 << 20,
		CommitInterval: time.Second,
		MaxWait:        time.Second,
	})

	var writer messageWriter
	if cfg.ResponseTopic != "" {
		writer = &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.ResponseTopic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 10 * time.Millisecond,
		}
	}

	hostname, _ := os.Hostname()
	c := newKafkaCommandConsumer(reader, writer, hostname, handler, logger)
	if cfg.TTL > 0 {
		c.ttl = cfg.TTL
	}
	c.logger = logger.WithFields(map[string]interface{}{
		"brokers":  cfg.Brokers,
		"topic":    cfg.Topic,
		"group_id": cfg.GroupID,
	})
	return c, nil
}

func newKafkaCommandConsumer(r messageReader, w messageWriter, hostname string, handler *Handler, logger log.Logger) *KafkaCommandConsumer {
	return &KafkaCommandConsumer{
		hostname: hostname,
		reader:   r,
		writer:   w,
		handler:  handler,
		ttl:      5 * time.Minute,
		backoff:  5 * time.Second,
		logger:   logger,
		now:      time.Now,
	}
}

// Start consumes until ctx is cancelled.
func (c *KafkaCommandConsumer) Start(ctx context.Context) error {
	c.logger.WithField("hostname", c.hostname).Info("kafka command consumer started")

	for {
		select {
		case <-ctx.Done():
			c.logger.WithField("reason", ctx.Err()).Info("kafka command consumer stopped")
			return ctx.Err()
		default:
		}

		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			c.logger.WithError(err).Error("failed to fetch kafka message")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.backoff):
				continue
			}
		}

		if err := c.processMessage(ctx, msg); err != nil {
			c.logger.WithError(err).WithFields(map[string]interface{}{
				"partition": msg.Partition,
				"offset":    msg.Offset,
			}).Warn("failed to process command")
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.WithError(err).Error("failed to commit message")
		}
	}
}

func (c *KafkaCommandConsumer) processMessage(ctx context.Context, msg kafka.Message) error {
	var kCmd KafkaCommand
	if err := json.Unmarshal(msg.Value, &kCmd); err != nil {
		return fmt.Errorf("failed to parse kafka command: %w", err)
	}

	if kCmd.Target != "*" && kCmd.Target != "" && kCmd.Target != c.hostname {
		c.logger.WithFields(map[string]interface{}{
			"target":     kCmd.Target,
			"request_id": kCmd.RequestID,
		}).Debug("skipping command not targeting this node")
		return nil
	}

	if !kCmd.Timestamp.IsZero() {
		if age := c.now().Sub(kCmd.Timestamp); age > c.ttl {
			c.logger.WithFields(map[string]interface{}{
				"command":    kCmd.Command,
				"request_id": kCmd.RequestID,
				"age":        age,
			}).Warn("skipping stale command")
			return nil
		}
	}

	resp := c.handler.Handle(ctx, Command{
		Method: kCmd.Command,
		Params: kCmd.Payload,
		ID:     kCmd.RequestID,
	})

	if err := c.respond(ctx, kCmd, resp); err != nil {
		return err
	}
	if resp.Error != nil {
		return fmt.Errorf("command %s failed: %s", kCmd.Command, resp.Error.Message)
	}
	c.logger.WithFields(map[string]interface{}{
		"command":    kCmd.Command,
		"request_id": kCmd.RequestID,
	}).Info("kafka command executed")
	return nil
}

func (c *KafkaCommandConsumer) respond(ctx context.Context, kCmd KafkaCommand, resp Response) error {
	if c.writer == nil {
		return nil
	}
	value, err := json.Marshal(KafkaResponse{
		Host:      c.hostname,
		RequestID: kCmd.RequestID,
		Command:   kCmd.Command,
		Timestamp: c.now(),
		Result:    resp.Result,
		Error:     resp.Error,
	})
	if err != nil {
		return fmt.Errorf("failed to encode response: %w", err)
	}
	if err := c.writer.WriteMessages(ctx, kafka.Message{Key: []byte(kCmd.RequestID), Value: value}); err != nil {
		return fmt.Errorf("failed to publish response: %w", err)
	}
	return nil
}

// Stop closes the reader and the response writer. It is safe to call twice.
func (c *KafkaCommandConsumer) Stop() error {
	var errs []error
	if c.reader != nil {
		reader := c.reader
		c.reader = nil
		if err := reader.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close kafka reader: %w", err))
		}
	}
	if c.writer != nil {
		writer := c.writer
		c.writer = nil
		if err := writer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close kafka writer: %w", err))
		}
	}
	return errors.Join(errs...)
}
