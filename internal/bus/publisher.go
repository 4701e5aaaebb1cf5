package bus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/voxsocial/notifygw/internal/model"
)

// Publisher writes domain events to the bus. Publish returns only after the
// brokers acknowledge the write, so a successful return means the event is
// durably recorded and a consumer crash cannot lose it.
type Publisher struct {
	w *kafka.Writer
}

func NewPublisher(brokers []string, topic string) *Publisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
	return &Publisher{w: w}
}

// Publish emits one event, keyed by actor so a single publisher's events for
// the same actor keep their emission order within a partition.
func (p *Publisher) Publish(ctx context.Context, ev model.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return p.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.ActorID),
		Value: payload,
	})
}

func (p *Publisher) Close() error { return p.w.Close() }
