package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"medistream/config"
	"medistream/dto"
)

const defaultExchange = "stream_events"

// Publisher emits stream change events on a topic exchange. Routing keys
// are stream.<id>.session and stream.<id>.chunks so a subscriber can bind
// to exactly one stream's notifications.
type Publisher struct {
	mu       sync.Mutex
	ch       *amqp.Channel
	exchange string
	kind     string
}

func NewPublisher(conn *amqp.Connection, cfg *config.RabbitMQ) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}

	exchange := cfg.ExchangeName
	if exchange == "" {
		exchange = defaultExchange
	}
	kind := cfg.Kind
	if kind == "" {
		kind = "topic"
	}

	err = ch.ExchangeDeclare(exchange, kind, true, false, false, false, nil)
	if err != nil {
		return nil, err
	}

	return &Publisher{
		ch:       ch,
		exchange: exchange,
		kind:     kind,
	}, nil
}

func (p *Publisher) Publish(ctx context.Context, streamId uuid.UUID, eventKind string) error {
	event := dto.StreamEvent{
		StreamId: streamId,
		Kind:     eventKind,
	}
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	routingKey := RoutingKey(streamId, eventKind)

	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("routing_key", routingKey).Msg("failed to publish stream event")
		return err
	}
	return nil
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.Close()
}

func RoutingKey(streamId uuid.UUID, eventKind string) string {
	return fmt.Sprintf("stream.%s.%s", streamId, eventKind)
}
