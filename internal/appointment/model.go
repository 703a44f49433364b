package appointment

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type AppointmentStatus string

const (
	StatusAwaitingPayment AppointmentStatus = "Menunggu pembayaran"
	StatusScheduled       AppointmentStatus = "Terjadwal"
	StatusInProgress      AppointmentStatus = "Sedang berlangsung"
	StatusFinished        AppointmentStatus = "Selesai"
	StatusCancelled       AppointmentStatus = "Dibatalkan"
	StatusPaymentFailed   AppointmentStatus = "Pembayaran tidak berhasil"
)

func (s AppointmentStatus) Valid() bool {
	switch s {
	case StatusAwaitingPayment, StatusScheduled, StatusInProgress,
		StatusFinished, StatusCancelled, StatusPaymentFailed:
		return true
	}
	return false
}

// HoldsCapacity reports whether an appointment in this state still occupies
// the psychiatrist's chat quota or video time range.
func (s AppointmentStatus) HoldsCapacity() bool {
	return s.Valid() && s != StatusCancelled && s != StatusPaymentFailed
}

// PaymentExpired reports whether an unpaid appointment created at createdAt has
// run out of time. The deadline itself already counts as expired. A missing
// creation time never expires.
func PaymentExpired(createdAt *time.Time, now time.Time, window time.Duration) bool {
	return createdAt != nil && !now.Before(createdAt.Add(window))
}

// OpenStatuses are the states the reconciler still has to look at.
var OpenStatuses = []AppointmentStatus{StatusAwaitingPayment, StatusScheduled, StatusInProgress}

type Method string

const (
	MethodChat  Method = "Chat"
	MethodVideo Method = "Video"
)

const DateLayout = "2006-01-02"

type Patient struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Psychiatrist struct {
	ID             uuid.UUID
	Name           string
	Specialty      *string
	DailyChatQuota int
	Ratings        []int32
	Rating         float64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type Appointment struct {
	ID               uuid.UUID
	PatientID        uuid.UUID
	PsychiatristID   uuid.UUID
	PatientName      string
	PsychiatristName string
	Method           Method
	Date             string // YYYY-MM-DD in the service timezone
	Time             string // "HH.MM - HH.MM" for video, empty for chat
	Price            decimal.Decimal
	Status           AppointmentStatus
	PaymentToken     *string
	CreatedAt        *time.Time
	UpdatedAt        time.Time
}

// Involves reports whether userID is one of the two parties of the appointment.
func (a Appointment) Involves(userID uuid.UUID) bool {
	return a.PatientID == userID || a.PsychiatristID == userID
}

// Counterpart returns the other party's id.
func (a Appointment) Counterpart(userID uuid.UUID) uuid.UUID {
	if a.PatientID == userID {
		return a.PsychiatristID
	}
	return a.PatientID
}

// SessionRecord is the chat-session document kept 1:1 with an appointment.
type SessionRecord struct {
	AppointmentID uuid.UUID
	Ended         bool
	Rating        *int
	RatedBy       *uuid.UUID
	RatedAt       *time.Time
	CreatedAt     time.Time
}

func (r *SessionRecord) Rated() bool {
	return r != nil && r.Rating != nil
}

type NewAppointment struct {
	ID           uuid.UUID
	Patient      Patient
	Psychiatrist Psychiatrist
	Method       Method
	Date         string
	Time         string
	Range        *TimeRange
	Price        decimal.Decimal
	PaymentToken string
	CreatedAt    time.Time
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}
