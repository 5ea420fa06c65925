// Package kafka publishes audit events to a Kafka topic with franz-go.
//
// Records are keyed by will ID so every event of a will lands on the same
// partition and consumers see them in emission order.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	audit "willvault/pkg/platform/audit"
	"willvault/pkg/platform/circuit"
)

// ErrCircuitOpen is returned while the broker is considered unreachable.
var ErrCircuitOpen = errors.New("audit kafka sink circuit open")

const (
	HeaderEventID  = "event_id"
	HeaderCategory = "category"
)

// Producer is the subset of *kgo.Client the sink uses.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

type Sink struct {
	producer Producer
	topic    string
	timeout  time.Duration
	breaker  *circuit.Breaker
	logger   *slog.Logger
}

type Option func(*Sink)

// WithTimeout bounds each produce call.
func WithTimeout(d time.Duration) Option {
	return func(s *Sink) {
		s.timeout = d
	}
}

// WithCircuitBreaker replaces the default breaker (5 failures, 30s cooldown,
// closed again by one successful produce).
func WithCircuitBreaker(b *circuit.Breaker) Option {
	return func(s *Sink) {
		if b != nil {
			s.breaker = b
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Sink) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewSink(producer Producer, topic string, opts ...Option) *Sink {
	s := &Sink{
		producer: producer,
		topic:    topic,
		timeout:  5 * time.Second,
		breaker: circuit.New("audit-kafka",
			circuit.WithFailureThreshold(5),
			circuit.WithSuccessThreshold(1),
			circuit.WithCooldown(30*time.Second),
		),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Publish produces the event synchronously.
func (s *Sink) Publish(ctx context.Context, event audit.Event) error {
	if !s.breaker.Allow() {
		return ErrCircuitOpen
	}

	record, err := s.encode(event)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.producer.ProduceSync(ctx, record).FirstErr(); err != nil {
		if _, change := s.breaker.RecordFailure(); change.Opened {
			s.logger.WarnContext(ctx, "audit kafka sink circuit opened",
				"breaker", s.breaker.Name(),
				"topic", s.topic,
				"error", err,
			)
		}
		return fmt.Errorf("produce audit event: %w", err)
	}
	if _, change := s.breaker.RecordSuccess(); change.Closed {
		s.logger.InfoContext(ctx, "audit kafka sink circuit closed",
			"breaker", s.breaker.Name(),
			"topic", s.topic,
		)
	}
	return nil
}

func (s *Sink) encode(event audit.Event) (*kgo.Record, error) {
	value, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal audit event: %w", err)
	}
	return &kgo.Record{
		Topic: s.topic,
		Key:   []byte(event.WillID.String()),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: HeaderEventID, Value: []byte(event.ID.String())},
			{Key: HeaderCategory, Value: []byte(event.Category)},
		},
		Timestamp: event.Timestamp,
	}, nil
}
