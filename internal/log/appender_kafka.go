package log

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
)

type KafkaAppenderOpt struct {
	Brokers []string
	Topic   string
}

type kafkaAppender struct {
	writer *kafka.Writer
}

// Write publishes one formatted log line. Delivery is asynchronous and
// failures never block logging.
func (k *kafkaAppender) Write(p []byte) (int, error) {
	line := make([]byte, len(p))
	copy(line, p)
	err := k.writer.WriteMessages(context.Background(), kafka.Message{Value: line})
	return len(p), err
}

func (m *MultiWriter) AddKafkaAppender(options KafkaAppenderOpt) *MultiWriter {
	topic := options.Topic
	if topic == "" {
		topic = "callx-logs"
	}
	m.writers = append(m.writers, &kafkaAppender{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(options.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: 100 * time.Millisecond,
			Async:        true,
		},
	})
	return m
}
