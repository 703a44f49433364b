package appointment

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrPatientNotFound       = errors.New("patient not found")
	ErrPsychiatristNotFound  = errors.New("psychiatrist not found")
	ErrAppointmentNotFound   = errors.New("appointment not found")
	ErrSessionRecordNotFound = errors.New("chat session record not found")
	ErrStatusChanged         = errors.New("appointment status changed concurrently")
	ErrFullyBooked           = errors.New("psychiatrist has no chat capacity left on that date")
	ErrSlotTaken             = errors.New("requested video time overlaps another booking")
)

// Repository contains all DB interactions needed by the service.
type Repository interface {
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetPsychiatristByID(ctx context.Context, id uuid.UUID) (*Psychiatrist, error)

	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListAppointmentsByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]Appointment, error)

	// Reconciler scan
	ListOpenAppointments(ctx context.Context) ([]Appointment, error)

	// Creation reserves capacity in the same transaction as the insert.
	CreatePendingAppointment(ctx context.Context, in NewAppointment) (*Appointment, error)

	// Conditional updates: ErrStatusChanged when the row is no longer in from.
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error)
	SettlePayment(ctx context.Context, id uuid.UUID) (*Appointment, error)
	TransitionAndRelease(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error)

	// Chat session record
	GetSessionRecord(ctx context.Context, appointmentID uuid.UUID) (*SessionRecord, error)
	EnsureSessionRecord(ctx context.Context, appointmentID uuid.UUID) (*SessionRecord, error)
	EndSession(ctx context.Context, appointmentID uuid.UUID) (*Appointment, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}
