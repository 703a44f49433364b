package appointment

import (
	"time"

	"github.com/dheovanwa/serenity/internal/auth"
)

type Action string

const (
	ActionPay         Action = "pay"
	ActionCancel      Action = "cancel"
	ActionSendMessage Action = "send_message"
	ActionJoinCall    Action = "join_call"
	ActionRate        Action = "rate"
)

type GateInput struct {
	Status    AppointmentStatus
	CreatedAt *time.Time
	Ended     bool // psychiatrist closed the session early
	Rated     bool
	Role      auth.Role
}

type Permissions struct {
	Pay         bool
	Cancel      bool
	SendMessage bool
	JoinCall    bool
	Rate        bool

	// Set while the appointment waits for payment and has a creation time.
	PaymentDeadline  *time.Time
	PaymentRemaining time.Duration
}

// Evaluate is the session gate: a pure function of status and the derived flags.
func Evaluate(in GateInput, now time.Time, paymentWindow time.Duration) Permissions {
	var p Permissions

	if in.Status == StatusAwaitingPayment {
		p.Pay = !PaymentExpired(in.CreatedAt, now, paymentWindow)
		if in.CreatedAt != nil {
			deadline := in.CreatedAt.Add(paymentWindow)
			p.PaymentDeadline = &deadline
			if p.Pay {
				p.PaymentRemaining = deadline.Sub(now)
			}
		}
	}

	p.Cancel = in.Status == StatusScheduled

	live := in.Status == StatusInProgress && !in.Ended
	p.SendMessage = live
	p.JoinCall = live

	p.Rate = in.Role == auth.RolePatient &&
		(in.Status == StatusFinished || in.Ended) &&
		!in.Rated

	return p
}

func (p Permissions) Allows(a Action) bool {
	switch a {
	case ActionPay:
		return p.Pay
	case ActionCancel:
		return p.Cancel
	case ActionSendMessage:
		return p.SendMessage
	case ActionJoinCall:
		return p.JoinCall
	case ActionRate:
		return p.Rate
	}
	return false
}
