package events

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"

	redisclient "github.com/dheovanwa/serenity/internal/redis"
)

// BusPublisher mirrors lifecycle events onto the per-appointment Redis channel
// so open chat streams re-evaluate what the user may do.
type BusPublisher struct {
	bus *redisclient.Bus
}

func NewBusPublisher(bus *redisclient.Bus) *BusPublisher {
	return &BusPublisher{bus: bus}
}

func (p *BusPublisher) Publish(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return p.bus.Publish(ctx, redisclient.AppointmentChannel(ev.AppointmentID), body)
}
