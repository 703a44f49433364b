package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/dheovanwa/serenity/internal/auth"
	"github.com/dheovanwa/serenity/internal/config"
	"github.com/dheovanwa/serenity/internal/events"
	redisclient "github.com/dheovanwa/serenity/internal/redis"
)

var (
	ErrNotParticipant           = errors.New("caller is not a party of this appointment")
	ErrPatientOnly              = errors.New("only patients can do this")
	ErrPsychiatristOnly         = errors.New("only the psychiatrist can do this")
	ErrActionNotPermitted       = errors.New("action not permitted in the current appointment state")
	ErrPaymentExpired           = errors.New("payment window has expired")
	ErrBookingInProgress        = errors.New("another booking for this psychiatrist and date is in progress, please retry")
	ErrInvalidMethod            = errors.New("method must be Chat or Video")
	ErrInvalidDate              = errors.New("date must be YYYY-MM-DD")
	ErrDateInPast               = errors.New("date is in the past")
	ErrInvalidPrice             = errors.New("price must not be negative")
	ErrInvalidOrderID           = errors.New("order id is not an appointment id")
	ErrUnknownTransactionStatus = errors.New("unknown transaction status")
	ErrUnknownPaymentResult     = errors.New("unknown payment result")
)

// Payment widget callback results.
const (
	PaymentResultSuccess = "success"
	PaymentResultPending = "pending"
	PaymentResultError   = "error"
	PaymentResultClose   = "close"
)

type BookInput struct {
	PsychiatristID uuid.UUID
	Method         Method
	Date           string
	Time           string
	Price          decimal.Decimal
}

type ReconcileReport struct {
	Scanned      int
	Transitioned int
	Skipped      int
	Failed       int
}

type Service struct {
	repo      Repository
	locker    redisclient.Locker
	publisher events.Publisher
	log       *zap.Logger
	loc       *time.Location
	window    time.Duration
	now       func() time.Time
}

func NewService(repo Repository, locker redisclient.Locker, publisher events.Publisher, log *zap.Logger, cfg config.Config) *Service {
	if publisher == nil {
		publisher = events.Nop()
	}
	loc := cfg.Timezone
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		repo:      repo,
		locker:    locker,
		publisher: publisher,
		log:       log,
		loc:       loc,
		window:    cfg.PaymentWindow,
		now:       time.Now,
	}
}

// Book creates an unpaid appointment and reserves the psychiatrist's capacity for it.
// Concurrent bookings for the same psychiatrist and date are serialized through a Redis lock.
func (s *Service) Book(ctx context.Context, p auth.Principal, in BookInput) (*Appointment, error) {
	if !p.IsPatient() {
		return nil, ErrPatientOnly
	}

	now := s.now().In(s.loc)

	if in.Method != MethodChat && in.Method != MethodVideo {
		return nil, ErrInvalidMethod
	}
	day, err := time.ParseInLocation(DateLayout, in.Date, s.loc)
	if err != nil {
		return nil, ErrInvalidDate
	}
	if day.Format(DateLayout) < now.Format(DateLayout) {
		return nil, ErrDateInPast
	}
	if in.Price.IsNegative() {
		return nil, ErrInvalidPrice
	}

	var r *TimeRange
	timeLabel := ""
	if in.Method == MethodVideo {
		parsed, err := ParseTimeRange(in.Time)
		if err != nil {
			return nil, err
		}
		r = &parsed
		timeLabel = parsed.String()
	}

	patient, err := s.repo.GetPatientByID(ctx, p.UserID)
	if err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load patient: %w", err)
	}

	psychiatrist, err := s.repo.GetPsychiatristByID(ctx, in.PsychiatristID)
	if err != nil {
		if errors.Is(err, ErrPsychiatristNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load psychiatrist: %w", err)
	}

	var created *Appointment

	err = s.locker.WithLock(ctx, redisclient.BookingLockKey(psychiatrist.ID, in.Date), func(lockCtx context.Context) error {
		appt, err := s.repo.CreatePendingAppointment(lockCtx, NewAppointment{
			ID:           uuid.New(),
			Patient:      *patient,
			Psychiatrist: *psychiatrist,
			Method:       in.Method,
			Date:         in.Date,
			Time:         timeLabel,
			Range:        r,
			Price:        in.Price,
			PaymentToken: uuid.NewString(),
			CreatedAt:    now,
		})
		if err != nil {
			return err
		}

		created = appt
		return nil
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrBookingInProgress
		}
		if errors.Is(err, ErrFullyBooked) || errors.Is(err, ErrSlotTaken) || errors.Is(err, ErrInvalidTimeRange) {
			return nil, err
		}
		return nil, fmt.Errorf("create pending appointment: %w", err)
	}

	s.logEvent(ctx, created, events.AppointmentCreated, map[string]any{
		"method":     string(created.Method),
		"date":       created.Date,
		"time":       created.Time,
		"price":      created.Price.StringFixed(2),
		"patient_id": created.PatientID.String(),
	})

	return created, nil
}

// Get returns an appointment the principal is a party of.
func (s *Service) Get(ctx context.Context, p auth.Principal, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if !appt.Involves(p.UserID) {
		return nil, ErrNotParticipant
	}
	return appt, nil
}

// ListForUser retrieves appointments where the principal is patient or psychiatrist
func (s *Service) ListForUser(ctx context.Context, p auth.Principal, limit, offset int) ([]Appointment, error) {
	if limit <= 0 {
		limit = 20 // default
	}
	if limit > 100 {
		limit = 100 // max
	}
	if offset < 0 {
		offset = 0
	}

	appointments, err := s.repo.ListAppointmentsByUser(ctx, p.UserID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list appointments by user: %w", err)
	}
	return appointments, nil
}

// Permissions evaluates the session gate for the principal.
func (s *Service) Permissions(ctx context.Context, p auth.Principal, id uuid.UUID) (*Appointment, Permissions, error) {
	appt, rec, err := s.load(ctx, p, id)
	if err != nil {
		return nil, Permissions{}, err
	}
	return appt, s.evaluate(appt, rec, p), nil
}

// Authorize loads the appointment and fails with ErrActionNotPermitted unless the
// gate currently allows action for p.
func (s *Service) Authorize(ctx context.Context, p auth.Principal, id uuid.UUID, action Action) (*Appointment, error) {
	appt, rec, err := s.load(ctx, p, id)
	if err != nil {
		return nil, err
	}
	if !s.evaluate(appt, rec, p).Allows(action) {
		return nil, fmt.Errorf("%w: %s while %q", ErrActionNotPermitted, action, appt.Status)
	}
	return appt, nil
}

func (s *Service) load(ctx context.Context, p auth.Principal, id uuid.UUID) (*Appointment, *SessionRecord, error) {
	appt, err := s.Get(ctx, p, id)
	if err != nil {
		return nil, nil, err
	}

	rec, err := s.repo.GetSessionRecord(ctx, id)
	if err != nil && !errors.Is(err, ErrSessionRecordNotFound) {
		return nil, nil, fmt.Errorf("load session record: %w", err)
	}

	return appt, rec, nil
}

func (s *Service) evaluate(appt *Appointment, rec *SessionRecord, p auth.Principal) Permissions {
	return Evaluate(GateInput{
		Status:    appt.Status,
		CreatedAt: appt.CreatedAt,
		Ended:     rec != nil && rec.Ended,
		Rated:     rec.Rated(),
		Role:      p.Role,
	}, s.now(), s.window)
}

// Cancel moves a scheduled appointment to cancelled and gives its capacity back.
func (s *Service) Cancel(ctx context.Context, p auth.Principal, id uuid.UUID) (*Appointment, error) {
	appt, err := s.Get(ctx, p, id)
	if err != nil {
		return nil, err
	}

	updated, err := s.apply(ctx, appt, EventCancelled, map[string]any{"by": p.UserID.String()})
	if err != nil {
		return nil, fmt.Errorf("cancel appointment: %w", err)
	}
	return updated, nil
}

// EndSession lets the psychiatrist close an in-progress session before its window ends.
func (s *Service) EndSession(ctx context.Context, p auth.Principal, id uuid.UUID) (*Appointment, error) {
	if !p.IsPsychiatrist() {
		return nil, ErrPsychiatristOnly
	}

	appt, err := s.Get(ctx, p, id)
	if err != nil {
		return nil, err
	}
	if _, err := Transition(appt.Status, EventEnded); err != nil {
		return nil, err
	}

	updated, err := s.repo.EndSession(ctx, appt.ID)
	if err != nil {
		return nil, fmt.Errorf("end session: %w", err)
	}

	s.logEvent(ctx, updated, events.AppointmentFinished, map[string]any{
		"from":  string(appt.Status),
		"event": string(EventEnded),
		"by":    p.UserID.String(),
	})
	return updated, nil
}

// ConfirmPayment settles an unpaid appointment. Settling after the countdown ran out
// fails the appointment instead and returns ErrPaymentExpired.
func (s *Service) ConfirmPayment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load appointment: %w", err)
	}

	// Payment gateways redeliver notifications.
	if appt.Status == StatusScheduled {
		return appt, nil
	}

	if appt.Status == StatusAwaitingPayment && PaymentExpired(appt.CreatedAt, s.now(), s.window) {
		_, updErr := s.apply(ctx, appt, EventPaymentExpired, map[string]any{"reason": "confirm_after_expiry"})
		if updErr != nil && !errors.Is(updErr, ErrStatusChanged) {
			s.log.Error("appointment.ConfirmPayment mark expired failed",
				zap.String("appointment_id", appt.ID.String()), zap.Error(updErr))
		}
		return nil, ErrPaymentExpired
	}

	updated, err := s.apply(ctx, appt, EventPaymentSettled, nil)
	if err != nil {
		return nil, fmt.Errorf("confirm payment: %w", err)
	}
	return updated, nil
}

// HandlePaymentNotification applies a gateway notification where orderID is the appointment id.
func (s *Service) HandlePaymentNotification(ctx context.Context, orderID, transactionStatus string) (*Appointment, error) {
	id, err := uuid.Parse(orderID)
	if err != nil {
		return nil, ErrInvalidOrderID
	}

	s.log.Info("appointment.HandlePaymentNotification",
		zap.String("order_id", orderID), zap.String("transaction_status", transactionStatus))

	var ev Event
	switch transactionStatus {
	case "settlement", "capture":
		return s.ConfirmPayment(ctx, id)
	case "pending":
		appt, err := s.repo.GetAppointmentByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load appointment: %w", err)
		}
		return appt, nil
	case "expire":
		ev = EventPaymentExpired
	case "deny", "cancel", "failure":
		ev = EventPaymentDenied
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTransactionStatus, transactionStatus)
	}

	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if appt.Status == StatusPaymentFailed {
		return appt, nil
	}

	updated, err := s.apply(ctx, appt, ev, map[string]any{"transaction_status": transactionStatus})
	if err != nil {
		return nil, fmt.Errorf("fail payment: %w", err)
	}
	return updated, nil
}

// PaymentCallback handles the payment widget result reported by the patient's client.
// Only success changes state; the other results are recorded.
func (s *Service) PaymentCallback(ctx context.Context, p auth.Principal, id uuid.UUID, result string) (*Appointment, error) {
	appt, err := s.Get(ctx, p, id)
	if err != nil {
		return nil, err
	}

	switch result {
	case PaymentResultSuccess:
		return s.ConfirmPayment(ctx, appt.ID)
	case PaymentResultPending, PaymentResultError, PaymentResultClose:
		s.log.Info("appointment.PaymentCallback",
			zap.String("appointment_id", appt.ID.String()), zap.String("result", result))
		s.logEvent(ctx, appt, events.AppointmentPaymentCallback, map[string]any{"result": result})
		return appt, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownPaymentResult, result)
}

// Reconcile is intended to be called by the reconciler periodically. It moves every
// open appointment to the status its schedule implies. Failures on one appointment
// are logged and do not stop the scan.
func (s *Service) Reconcile(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport
	now := s.now()

	open, err := s.repo.ListOpenAppointments(ctx)
	if err != nil {
		return report, fmt.Errorf("list open appointments: %w", err)
	}

	for i := range open {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		appt := &open[i]
		report.Scanned++

		ev, ok, err := Decide(*appt, now, s.loc, s.window)
		if err != nil {
			report.Failed++
			s.log.Warn("appointment.Reconcile undecidable appointment",
				zap.String("appointment_id", appt.ID.String()), zap.String("time", appt.Time), zap.Error(err))
			continue
		}
		if !ok {
			continue
		}

		if _, err := s.apply(ctx, appt, ev, map[string]any{"source": "reconciler"}); err != nil {
			if errors.Is(err, ErrStatusChanged) {
				report.Skipped++
				continue
			}
			report.Failed++
			s.log.Error("appointment.Reconcile transition failed",
				zap.String("appointment_id", appt.ID.String()),
				zap.String("event", string(ev)),
				zap.Error(err))
			continue
		}
		report.Transitioned++
	}

	s.log.Info("appointment.Reconcile done",
		zap.Int("scanned", report.Scanned),
		zap.Int("transitioned", report.Transitioned),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed))

	return report, nil
}

// apply feeds ev through the state machine and persists the result with a
// conditional update, releasing capacity in the same transaction when the
// target state gives the slot back.
func (s *Service) apply(ctx context.Context, appt *Appointment, ev Event, payload map[string]any) (*Appointment, error) {
	to, err := Transition(appt.Status, ev)
	if err != nil {
		return nil, err
	}

	var updated *Appointment
	switch {
	case ev == EventPaymentSettled:
		updated, err = s.repo.SettlePayment(ctx, appt.ID)
	case releasesCapacity(ev):
		updated, err = s.repo.TransitionAndRelease(ctx, appt.ID, appt.Status, to)
	default:
		updated, err = s.repo.UpdateAppointmentStatus(ctx, appt.ID, appt.Status, to)
	}
	if err != nil {
		return nil, err
	}

	// The chat record exists from the moment the session goes live.
	if ev == EventWindowOpened {
		if _, err := s.repo.EnsureSessionRecord(ctx, updated.ID); err != nil {
			s.log.Warn("appointment.apply ensure session record failed",
				zap.String("appointment_id", updated.ID.String()), zap.Error(err))
		}
	}

	if payload == nil {
		payload = map[string]any{}
	}
	payload["from"] = string(appt.Status)
	payload["event"] = string(ev)
	s.logEvent(ctx, updated, eventTypeFor(ev), payload)

	return updated, nil
}

func eventTypeFor(ev Event) string {
	switch ev {
	case EventPaymentSettled:
		return events.AppointmentPaid
	case EventPaymentExpired, EventPaymentDenied:
		return events.AppointmentPaymentFailed
	case EventWindowOpened:
		return events.AppointmentStarted
	case EventCancelled:
		return events.AppointmentCancelled
	default:
		return events.AppointmentFinished
	}
}

// logEvent records the event in event_logs and publishes it. Neither failure is
// returned: the status change has already been committed.
func (s *Service) logEvent(ctx context.Context, appt *Appointment, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Warn("appointment.logEvent marshal payload failed", zap.String("type", eventType), zap.Error(err))
		data = nil
	}

	apptID := appt.ID
	occurredAt := s.now()

	if err := s.repo.InsertEvent(ctx, EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     occurredAt,
	}); err != nil {
		s.log.Error("appointment.logEvent insert failed",
			zap.String("type", eventType), zap.String("appointment_id", appt.ID.String()), zap.Error(err))
	}

	if err := s.publisher.Publish(ctx, events.Event{
		Type:          eventType,
		AppointmentID: appt.ID,
		Status:        string(appt.Status),
		Payload:       payload,
		OccurredAt:    occurredAt,
	}); err != nil {
		s.log.Error("appointment.logEvent publish failed",
			zap.String("type", eventType), zap.String("appointment_id", appt.ID.String()), zap.Error(err))
	}
}
