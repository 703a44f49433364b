package appointment

import (
	"time"
)

// Decide works out which time-driven event, if any, applies to a right now.
// It looks only at absolute fields (status, date, time range, creation time)
// so a reconciler that was offline for a while converges on the next pass.
func Decide(a Appointment, now time.Time, loc *time.Location, paymentWindow time.Duration) (Event, bool, error) {
	now = now.In(loc)
	today := now.Format(DateLayout)

	switch a.Status {
	case StatusAwaitingPayment:
		if PaymentExpired(a.CreatedAt, now, paymentWindow) {
			return EventPaymentExpired, true, nil
		}
		return "", false, nil

	case StatusScheduled:
		if a.Date < today {
			return EventWindowClosed, true, nil
		}
		if a.Date > today {
			return "", false, nil
		}
		if a.Method == MethodChat {
			return EventWindowOpened, true, nil
		}
		r, err := ParseTimeRange(a.Time)
		if err != nil {
			return "", false, err
		}
		minute := minuteOfDay(now)
		switch {
		case r.Contains(minute):
			return EventWindowOpened, true, nil
		case minute > r.End:
			return EventWindowClosed, true, nil
		}
		return "", false, nil

	case StatusInProgress:
		if a.Date < today {
			return EventWindowClosed, true, nil
		}
		if a.Method == MethodChat || a.Date > today {
			return "", false, nil
		}
		r, err := ParseTimeRange(a.Time)
		if err != nil {
			return "", false, err
		}
		if minuteOfDay(now) > r.End {
			return EventWindowClosed, true, nil
		}
		return "", false, nil
	}

	return "", false, nil
}
