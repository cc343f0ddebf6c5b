package rabbitmq

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"medistream/config"
	"medistream/dto"
)

// Subscriber binds a throwaway exclusive queue per subscription and feeds
// decoded events into a channel. Closing the amqp channel tears the queue
// down and ends the delivery loop.
type Subscriber struct {
	conn     *amqp.Connection
	exchange string
	kind     string
}

func NewSubscriber(conn *amqp.Connection, cfg *config.RabbitMQ) *Subscriber {
	exchange := cfg.ExchangeName
	if exchange == "" {
		exchange = defaultExchange
	}
	kind := cfg.Kind
	if kind == "" {
		kind = "topic"
	}
	return &Subscriber{
		conn:     conn,
		exchange: exchange,
		kind:     kind,
	}
}

type EventStream struct {
	Events <-chan dto.StreamEvent
	ch     *amqp.Channel
}

func (e *EventStream) Close() error {
	return e.ch.Close()
}

func (s *Subscriber) Subscribe(ctx context.Context, streamId uuid.UUID, eventKind string) (*EventStream, error) {
	ch, err := s.conn.Channel()
	if err != nil {
		return nil, err
	}

	err = ch.ExchangeDeclare(s.exchange, s.kind, true, false, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, err
	}

	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		ch.Close()
		return nil, err
	}

	routingKey := RoutingKey(streamId, eventKind)
	err = ch.QueueBind(q.Name, routingKey, s.exchange, false, nil)
	if err != nil {
		ch.Close()
		return nil, err
	}

	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, err
	}

	events := make(chan dto.StreamEvent)
	go func() {
		defer close(events)
		for {
			select {
			case delivery, ok := <-deliveries:
				if !ok {
					return
				}
				var event dto.StreamEvent
				if err := json.Unmarshal(delivery.Body, &event); err != nil {
					zerolog.Ctx(ctx).Error().Err(err).Msg("failed to decode stream event")
					continue
				}
				select {
				case events <- event:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return &EventStream{
		Events: events,
		ch:     ch,
	}, nil
}
