package redisclient

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Bus fans realtime events out to every API instance holding an open stream.
type Bus struct {
	client *redis.Client
}

func NewBus(client *redis.Client) *Bus {
	return &Bus{client: client}
}

func ChatChannel(chatID uuid.UUID) string {
	return "chat:" + chatID.String()
}

func AppointmentChannel(appointmentID uuid.UUID) string {
	return "appointment:" + appointmentID.String()
}

func (b *Bus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe returns a channel of raw payloads. It is closed once ctx is done
// or the returned close function is called.
func (b *Bus) Subscribe(ctx context.Context, channels ...string) (<-chan []byte, func() error, error) {
	ps := b.client.Subscribe(ctx, channels...)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, fmt.Errorf("subscribe %v: %w", channels, err)
	}

	out := make(chan []byte, 16)
	go func() {
		defer close(out)
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, ps.Close, nil
}
