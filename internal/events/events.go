// Package events publishes appointment lifecycle events to downstream consumers.
package events

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

const (
	AppointmentCreated         = "APPOINTMENT_CREATED"
	AppointmentPaid            = "APPOINTMENT_PAID"
	AppointmentPaymentFailed   = "APPOINTMENT_PAYMENT_FAILED"
	AppointmentStarted         = "APPOINTMENT_STARTED"
	AppointmentFinished        = "APPOINTMENT_FINISHED"
	AppointmentCancelled       = "APPOINTMENT_CANCELLED"
	AppointmentPaymentCallback = "APPOINTMENT_PAYMENT_CALLBACK"
	ChatSessionRated           = "CHAT_SESSION_RATED"
)

type Event struct {
	Type          string         `json:"type"`
	AppointmentID uuid.UUID      `json:"appointment_id"`
	Status        string         `json:"status,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
	OccurredAt    time.Time      `json:"occurred_at"`
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

type nopPublisher struct{}

// Nop discards events. Used when no broker is configured and in tests.
func Nop() Publisher { return nopPublisher{} }

func (nopPublisher) Publish(context.Context, Event) error { return nil }

type fanout []Publisher

// Fanout delivers every event to each publisher and joins their errors.
func Fanout(publishers ...Publisher) Publisher {
	return fanout(publishers)
}

func (f fanout) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
