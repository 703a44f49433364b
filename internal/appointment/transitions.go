package appointment

import (
	"errors"
	"fmt"
)

var ErrInvalidStatusTransition = errors.New("invalid status transition")

// Event is something that happened to an appointment. Status only ever
// changes by feeding an Event through Transition.
type Event string

const (
	EventPaymentSettled Event = "payment_settled"
	EventPaymentExpired Event = "payment_expired"
	EventPaymentDenied  Event = "payment_denied"
	EventWindowOpened   Event = "window_opened"
	EventWindowClosed   Event = "window_closed"
	EventCancelled      Event = "cancelled"
	EventEnded          Event = "ended"
)

type transition struct {
	from []AppointmentStatus
	to   AppointmentStatus
}

var transitionMap = map[Event]transition{
	EventPaymentSettled: {from: []AppointmentStatus{StatusAwaitingPayment}, to: StatusScheduled},
	EventPaymentExpired: {from: []AppointmentStatus{StatusAwaitingPayment}, to: StatusPaymentFailed},
	EventPaymentDenied:  {from: []AppointmentStatus{StatusAwaitingPayment}, to: StatusPaymentFailed},
	EventWindowOpened:   {from: []AppointmentStatus{StatusScheduled}, to: StatusInProgress},
	EventWindowClosed:   {from: []AppointmentStatus{StatusScheduled, StatusInProgress}, to: StatusFinished},
	EventCancelled:      {from: []AppointmentStatus{StatusScheduled}, to: StatusCancelled},
	EventEnded:          {from: []AppointmentStatus{StatusInProgress}, to: StatusFinished},
}

func Transition(from AppointmentStatus, ev Event) (AppointmentStatus, error) {
	t, ok := transitionMap[ev]
	if !ok {
		return "", fmt.Errorf("%w: unknown event %q", ErrInvalidStatusTransition, ev)
	}
	for _, status := range t.from {
		if status == from {
			return t.to, nil
		}
	}
	return "", fmt.Errorf("%w: %s from %q", ErrInvalidStatusTransition, ev, from)
}

// releasesCapacity reports whether reaching the event's target gives the
// booked slot back to the psychiatrist.
func releasesCapacity(ev Event) bool {
	return ev == EventCancelled || ev == EventPaymentExpired || ev == EventPaymentDenied
}
