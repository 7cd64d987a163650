package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// KafkaPublisher writes audit entries to a topic, keyed by resource id.
type KafkaPublisher struct {
	writer *kafka.Writer
	topic  string
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	w := kafka.NewWriter(kafka.WriterConfig{
		Brokers:      brokers,
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 50 * time.Millisecond,
	})
	return &KafkaPublisher{writer: w, topic: topic}
}

func (p *KafkaPublisher) Publish(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:   []byte(key),
		Value: b,
		Time:  time.Now(),
	}
	return p.writer.WriteMessages(ctx, msg)
}

func (p *KafkaPublisher) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

type BreakerConfig struct {
	MaxFailures uint32
	Interval    time.Duration
	Timeout     time.Duration
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{MaxFailures: 5, Interval: time.Minute, Timeout: 30 * time.Second}
}

// BreakerPublisher stops calling next while the broker keeps failing so a
// broker outage does not pile up blocked writers.
type BreakerPublisher struct {
	next Publisher
	cb   *gobreaker.CircuitBreaker
}

func NewBreakerPublisher(next Publisher, cfg BreakerConfig, logger *zap.Logger) *BreakerPublisher {
	st := gobreaker.Settings{
		Name:        "audit-kafka",
		MaxRequests: 1,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Info("circuit breaker state", zap.String("name", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	}
	return &BreakerPublisher{next: next, cb: gobreaker.NewCircuitBreaker(st)}
}

func (b *BreakerPublisher) Publish(ctx context.Context, key string, v any) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.next.Publish(ctx, key, v)
	})
	return err
}

func (b *BreakerPublisher) State() gobreaker.State {
	return b.cb.State()
}
