package alerts

import (
	"context"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"

	"portaria/internal/config"
	"portaria/internal/model"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes each notice as a JSON message keyed by event type.
type KafkaSink struct {
	w       messageWriter
	timeout time.Duration
}

func NewKafkaSink(cfg config.KafkaConfig) *KafkaSink {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
	}
	return &KafkaSink{w: w, timeout: cfg.Timeout}
}

func (k *KafkaSink) Publish(ctx context.Context, notices []model.Notice) error {
	msgs := make([]kafka.Message, 0, len(notices))
	for _, n := range notices {
		data, err := json.Marshal(n)
		if err != nil {
			return fmt.Errorf("encode notice: %w", err)
		}
		msgs = append(msgs, kafka.Message{Key: []byte(n.EventType), Value: data, Time: n.Timestamp})
	}
	if k.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, k.timeout)
		defer cancel()
	}
	if err := k.w.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("kafka publish: %w", err)
	}
	return nil
}

func (k *KafkaSink) Close() error {
	return k.w.Close()
}
