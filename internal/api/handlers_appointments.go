package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/dheovanwa/serenity/internal/appointment"
	"github.com/dheovanwa/serenity/internal/auth"
)

func principalOrReject(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	p, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing principal")
	}
	return p, ok
}

func idParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func bookAppointmentHandler(svc AppointmentService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := principalOrReject(w, r)
		if !ok {
			return
		}

		var req BookAppointmentRequest
		if err := decodeBody(r, &req); err != nil {
			respondError(w, r, log, err)
			return
		}

		price := decimal.Zero
		if req.Price != "" {
			parsed, err := decimal.NewFromString(req.Price)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_price", "price must be a decimal number")
				return
			}
			price = parsed
		}

		appt, err := svc.Book(r.Context(), p, appointment.BookInput{
			PsychiatristID: uuid.MustParse(req.PsychiatristID),
			Method:         appointment.Method(req.Method),
			Date:           req.Date,
			Time:           req.Time,
			Price:          price,
		})
		if err != nil {
			respondError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func listAppointmentsHandler(svc AppointmentService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := principalOrReject(w, r)
		if !ok {
			return
		}

		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

		appts, err := svc.ListForUser(r.Context(), p, limit, offset)
		if err != nil {
			respondError(w, r, log, err)
			return
		}

		resp := make([]AppointmentResponse, 0, len(appts))
		for i := range appts {
			resp = append(resp, toAppointmentResponse(&appts[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func getAppointmentHandler(svc AppointmentService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := principalOrReject(w, r)
		if !ok {
			return
		}
		id, ok := idParam(w, r)
		if !ok {
			return
		}

		appt, err := svc.Get(r.Context(), p, id)
		if err != nil {
			respondError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func permissionsHandler(svc AppointmentService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := principalOrReject(w, r)
		if !ok {
			return
		}
		id, ok := idParam(w, r)
		if !ok {
			return
		}

		appt, perms, err := svc.Permissions(r.Context(), p, id)
		if err != nil {
			respondError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusOK, PermissionsResponse{
			AppointmentID:           appt.ID,
			Status:                  string(appt.Status),
			Pay:                     perms.Pay,
			Cancel:                  perms.Cancel,
			SendMessage:             perms.SendMessage,
			JoinCall:                perms.JoinCall,
			Rate:                    perms.Rate,
			PaymentDeadline:         perms.PaymentDeadline,
			PaymentRemainingSeconds: int64(perms.PaymentRemaining.Seconds()),
		})
	}
}

func cancelAppointmentHandler(svc AppointmentService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := principalOrReject(w, r)
		if !ok {
			return
		}
		id, ok := idParam(w, r)
		if !ok {
			return
		}

		appt, err := svc.Cancel(r.Context(), p, id)
		if err != nil {
			respondError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func endSessionHandler(svc AppointmentService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := principalOrReject(w, r)
		if !ok {
			return
		}
		id, ok := idParam(w, r)
		if !ok {
			return
		}

		appt, err := svc.EndSession(r.Context(), p, id)
		if err != nil {
			respondError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func paymentCallbackHandler(svc AppointmentService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := principalOrReject(w, r)
		if !ok {
			return
		}
		id, ok := idParam(w, r)
		if !ok {
			return
		}

		appt, err := svc.PaymentCallback(r.Context(), p, id, chi.URLParam(r, "result"))
		if err != nil {
			respondError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

// paymentNotificationHandler accepts the gateway redirect
// (?transaction_status=settlement&order_id=<appointment id>&signature_key=...)
// and the JSON notification body carrying the same fields. Unsigned or
// mis-signed notifications are rejected before any state changes.
func paymentNotificationHandler(svc AppointmentService, signer *auth.NotificationSigner, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		n := PaymentNotification{
			TransactionStatus: q.Get("transaction_status"),
			OrderID:           q.Get("order_id"),
			SignatureKey:      q.Get("signature_key"),
		}
		if n.TransactionStatus == "" && r.Method == http.MethodPost {
			if err := decodeBody(r, &n); err != nil {
				respondError(w, r, log, err)
				return
			}
		}
		if err := validate.Struct(n); err != nil {
			respondError(w, r, log, err)
			return
		}
		if err := signer.Verify(n.OrderID, n.TransactionStatus, n.SignatureKey); err != nil {
			log.Warn("api.paymentNotification rejected",
				zap.String("order_id", n.OrderID),
				zap.String("request_id", GetRequestID(r.Context())))
			respondError(w, r, log, err)
			return
		}

		appt, err := svc.HandlePaymentNotification(r.Context(), n.OrderID, n.TransactionStatus)
		if err != nil {
			respondError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"id":     appt.ID,
			"status": string(appt.Status),
		})
	}
}
