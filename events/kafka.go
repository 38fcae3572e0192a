package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/warp/insurance-engine/generic"
)

// MessageWriter is the part of *kafkago.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// KafkaPublisher sends each event as one JSON message keyed by employee
// (aggregate id when the event has no employee), so one employee's events
// stay ordered on a partition.
type KafkaPublisher struct {
	writer MessageWriter
}

// NewKafkaPublisher dials nothing up front; kafka-go connects on first write.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{writer: &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
	}}
}

func NewKafkaPublisherWithWriter(w MessageWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: w}
}

func (p *KafkaPublisher) Publish(ctx context.Context, events ...generic.Event) error {
	if len(events) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, 0, len(events))
	for _, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("marshal event %s: %w", ev.ID, err)
		}
		key := string(ev.EmployeeID)
		if key == "" {
			key = ev.AggregateID
		}
		msgs = append(msgs, kafkago.Message{
			Key:   []byte(key),
			Value: payload,
			Time:  ev.OccurredAt,
			Headers: []kafkago.Header{
				{Key: "event_type", Value: []byte(ev.Type)},
				{Key: "aggregate_type", Value: []byte(ev.AggregateType)},
			},
		})
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("write %d events to kafka: %w", len(msgs), err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
