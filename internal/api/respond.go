package api

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/dheovanwa/serenity/internal/appointment"
	"github.com/dheovanwa/serenity/internal/auth"
	"github.com/dheovanwa/serenity/internal/chat"
	"github.com/dheovanwa/serenity/internal/rating"
)

var validate = validator.New()

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// decodeBody parses the JSON body into dst and runs its validate tags.
func decodeBody(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errInvalidBody
	}
	return validate.Struct(dst)
}

var errInvalidBody = errors.New("could not parse JSON")

type errorMapping struct {
	target error
	status int
	code   string
}

var errorMappings = []errorMapping{
	{auth.ErrInvalidToken, http.StatusUnauthorized, "unauthorized"},
	{auth.ErrInvalidSignature, http.StatusUnauthorized, "invalid_signature"},

	{appointment.ErrAppointmentNotFound, http.StatusNotFound, "appointment_not_found"},
	{appointment.ErrPatientNotFound, http.StatusNotFound, "patient_not_found"},
	{appointment.ErrPsychiatristNotFound, http.StatusNotFound, "psychiatrist_not_found"},

	{appointment.ErrNotParticipant, http.StatusForbidden, "not_participant"},
	{appointment.ErrPatientOnly, http.StatusForbidden, "patient_only"},
	{appointment.ErrPsychiatristOnly, http.StatusForbidden, "psychiatrist_only"},

	{rating.ErrRatingExists, http.StatusConflict, "rating_exists"},
	{appointment.ErrActionNotPermitted, http.StatusConflict, "action_not_permitted"},
	{appointment.ErrInvalidStatusTransition, http.StatusConflict, "invalid_status_transition"},
	{appointment.ErrStatusChanged, http.StatusConflict, "status_changed"},
	{appointment.ErrFullyBooked, http.StatusConflict, "fully_booked"},
	{appointment.ErrSlotTaken, http.StatusConflict, "slot_taken"},
	{appointment.ErrBookingInProgress, http.StatusConflict, "booking_in_progress"},
	{appointment.ErrPaymentExpired, http.StatusConflict, "payment_expired"},
	{chat.ErrSessionNotLive, http.StatusConflict, "session_not_live"},

	{errInvalidBody, http.StatusBadRequest, "invalid_request_body"},
	{appointment.ErrInvalidMethod, http.StatusBadRequest, "invalid_method"},
	{appointment.ErrInvalidDate, http.StatusBadRequest, "invalid_date"},
	{appointment.ErrDateInPast, http.StatusBadRequest, "date_in_past"},
	{appointment.ErrInvalidPrice, http.StatusBadRequest, "invalid_price"},
	{appointment.ErrInvalidTimeRange, http.StatusBadRequest, "invalid_time_range"},
	{appointment.ErrInvalidOrderID, http.StatusBadRequest, "invalid_order_id"},
	{appointment.ErrUnknownTransactionStatus, http.StatusBadRequest, "unknown_transaction_status"},
	{appointment.ErrUnknownPaymentResult, http.StatusBadRequest, "unknown_payment_result"},
	{chat.ErrEmptyMessage, http.StatusBadRequest, "empty_message"},
	{chat.ErrMessageTooLong, http.StatusBadRequest, "message_too_long"},
	{rating.ErrInvalidStars, http.StatusBadRequest, "invalid_stars"},
}

// respondError maps domain errors to HTTP responses. Anything unrecognised is
// logged and reported as a 500 without details.
func respondError(w http.ResponseWriter, r *http.Request, log *zap.Logger, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		writeError(w, http.StatusBadRequest, "validation_failed", verrs.Error())
		return
	}

	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			writeError(w, m.status, m.code, err.Error())
			return
		}
	}

	log.Error("unhandled error",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("request_id", GetRequestID(r.Context())),
		zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
}
