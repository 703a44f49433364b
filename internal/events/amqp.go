package events

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/goccy/go-json"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const QueueName = "appointment_events"

// confirmation is the broker's answer for one publishing.
type confirmation interface {
	WaitContext(ctx context.Context) (bool, error)
}

type publishFunc func(ctx context.Context, msg amqp.Publishing) (confirmation, error)

// AMQPPublisher writes events to a durable RabbitMQ queue and waits for the
// broker confirm of that exact publishing. A wait abandoned on ctx leaves no
// confirm behind for the next Publish to pick up.
type AMQPPublisher struct {
	conn    *amqp.Connection
	ch      *amqp.Channel
	publish publishFunc
	log     *zap.Logger
	mu      sync.Mutex
}

func NewAMQPPublisher(url string, log *zap.Logger) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	_, err = ch.QueueDeclare(
		QueueName, // name
		true,      // durable
		false,     // autoDelete
		false,     // exclusive
		false,     // noWait
		nil,       // args
	)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}

	if err := ch.Confirm(false); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("enable confirms: %w", err)
	}

	return &AMQPPublisher{
		conn: conn,
		ch:   ch,
		publish: func(ctx context.Context, msg amqp.Publishing) (confirmation, error) {
			dc, err := ch.PublishWithDeferredConfirmWithContext(ctx, "", QueueName, false, false, msg)
			if err != nil {
				return nil, err
			}
			if dc == nil {
				return nil, errors.New("channel is not in confirm mode")
			}
			return dc, nil
		},
		log: log,
	}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	p.mu.Lock()
	confirm, err := p.publish(ctx, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.AppointmentID.String(),
		Type:         ev.Type,
		Timestamp:    ev.OccurredAt,
		Body:         body,
	})
	p.mu.Unlock()
	if err != nil {
		return fmt.Errorf("publish event: %w", err)
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("await confirm for %s: %w", ev.Type, err)
	}
	if !acked {
		return fmt.Errorf("event %s for %s was nacked", ev.Type, ev.AppointmentID)
	}

	p.log.Debug("events.AMQPPublisher published",
		zap.String("type", ev.Type),
		zap.String("appointment_id", ev.AppointmentID.String()),
	)
	return nil
}

func (p *AMQPPublisher) Close() error {
	if err := p.ch.Close(); err != nil {
		p.log.Warn("events.AMQPPublisher channel close", zap.Error(err))
	}
	return p.conn.Close()
}
