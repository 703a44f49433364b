package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/dheovanwa/serenity/internal/appointment"
)

type BookAppointmentRequest struct {
	PsychiatristID string `json:"psychiatrist_id" validate:"required,uuid"`
	Method         string `json:"method" validate:"required,oneof=Chat Video"`
	Date           string `json:"date" validate:"required,datetime=2006-01-02"`
	Time           string `json:"time" validate:"required_if=Method Video"`
	Price          string `json:"price" validate:"omitempty,numeric"`
}

type SendMessageRequest struct {
	Text string `json:"text" validate:"required,max=2000"`
}

type RatingRequest struct {
	Stars int `json:"stars" validate:"required,min=1,max=5"`
}

type PaymentNotification struct {
	TransactionStatus string `json:"transaction_status" validate:"required"`
	OrderID           string `json:"order_id" validate:"required"`
	SignatureKey      string `json:"signature_key"`
}

type AppointmentResponse struct {
	ID               uuid.UUID  `json:"id"`
	PatientID        uuid.UUID  `json:"patient_id"`
	PsychiatristID   uuid.UUID  `json:"psychiatrist_id"`
	PatientName      string     `json:"patient_name"`
	PsychiatristName string     `json:"psychiatrist_name"`
	Method           string     `json:"method"`
	Date             string     `json:"date"`
	Time             string     `json:"time,omitempty"`
	Price            string     `json:"price"`
	Status           string     `json:"status"`
	PaymentToken     *string    `json:"payment_token,omitempty"`
	CreatedAt        *time.Time `json:"created_at,omitempty"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:               a.ID,
		PatientID:        a.PatientID,
		PsychiatristID:   a.PsychiatristID,
		PatientName:      a.PatientName,
		PsychiatristName: a.PsychiatristName,
		Method:           string(a.Method),
		Date:             a.Date,
		Time:             a.Time,
		Price:            a.Price.StringFixed(2),
		Status:           string(a.Status),
		PaymentToken:     a.PaymentToken,
		CreatedAt:        a.CreatedAt,
		UpdatedAt:        a.UpdatedAt,
	}
}

type PermissionsResponse struct {
	AppointmentID           uuid.UUID  `json:"appointment_id"`
	Status                  string     `json:"status"`
	Pay                     bool       `json:"pay"`
	Cancel                  bool       `json:"cancel"`
	SendMessage             bool       `json:"send_message"`
	JoinCall                bool       `json:"join_call"`
	Rate                    bool       `json:"rate"`
	PaymentDeadline         *time.Time `json:"payment_deadline,omitempty"`
	PaymentRemainingSeconds int64      `json:"payment_remaining_seconds,omitempty"`
}

type UnreadResponse struct {
	ChatID uuid.UUID `json:"chat_id"`
	Unread int       `json:"unread"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
