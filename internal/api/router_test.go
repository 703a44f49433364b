package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dheovanwa/serenity/internal/appointment"
	"github.com/dheovanwa/serenity/internal/auth"
	"github.com/dheovanwa/serenity/internal/chat"
	"github.com/dheovanwa/serenity/internal/rating"
)

type fakeAppointments struct {
	bookFn         func(ctx context.Context, p auth.Principal, in appointment.BookInput) (*appointment.Appointment, error)
	getFn          func(ctx context.Context, p auth.Principal, id uuid.UUID) (*appointment.Appointment, error)
	permissionsFn  func(ctx context.Context, p auth.Principal, id uuid.UUID) (*appointment.Appointment, appointment.Permissions, error)
	cancelFn       func(ctx context.Context, p auth.Principal, id uuid.UUID) (*appointment.Appointment, error)
	notificationFn func(ctx context.Context, orderID, status string) (*appointment.Appointment, error)
}

func (f *fakeAppointments) Book(ctx context.Context, p auth.Principal, in appointment.BookInput) (*appointment.Appointment, error) {
	return f.bookFn(ctx, p, in)
}

func (f *fakeAppointments) Get(ctx context.Context, p auth.Principal, id uuid.UUID) (*appointment.Appointment, error) {
	return f.getFn(ctx, p, id)
}

func (f *fakeAppointments) ListForUser(context.Context, auth.Principal, int, int) ([]appointment.Appointment, error) {
	return nil, nil
}

func (f *fakeAppointments) Permissions(ctx context.Context, p auth.Principal, id uuid.UUID) (*appointment.Appointment, appointment.Permissions, error) {
	return f.permissionsFn(ctx, p, id)
}

func (f *fakeAppointments) Cancel(ctx context.Context, p auth.Principal, id uuid.UUID) (*appointment.Appointment, error) {
	return f.cancelFn(ctx, p, id)
}

func (f *fakeAppointments) EndSession(context.Context, auth.Principal, uuid.UUID) (*appointment.Appointment, error) {
	return nil, appointment.ErrPsychiatristOnly
}

func (f *fakeAppointments) PaymentCallback(context.Context, auth.Principal, uuid.UUID, string) (*appointment.Appointment, error) {
	return nil, appointment.ErrUnknownPaymentResult
}

func (f *fakeAppointments) HandlePaymentNotification(ctx context.Context, orderID, status string) (*appointment.Appointment, error) {
	return f.notificationFn(ctx, orderID, status)
}

type fakeChats struct {
	sendFn func(ctx context.Context, p auth.Principal, chatID uuid.UUID, text string) (*chat.Message, error)
}

func (f *fakeChats) Send(ctx context.Context, p auth.Principal, chatID uuid.UUID, text string) (*chat.Message, error) {
	return f.sendFn(ctx, p, chatID, text)
}

func (f *fakeChats) History(context.Context, auth.Principal, uuid.UUID) ([]chat.Message, error) {
	return nil, nil
}

func (f *fakeChats) Open(context.Context, auth.Principal, uuid.UUID) ([]chat.Message, error) {
	return nil, nil
}

func (f *fakeChats) UnreadCount(context.Context, auth.Principal, uuid.UUID) (int, error) {
	return 3, nil
}

func (f *fakeChats) UnreadCounts(context.Context, auth.Principal) (map[uuid.UUID]int, error) {
	return map[uuid.UUID]int{}, nil
}

func (f *fakeChats) Subscribe(context.Context, auth.Principal, uuid.UUID) (*chat.Stream, error) {
	return nil, chat.ErrSessionNotLive
}

type fakeRatings struct {
	submitFn func(ctx context.Context, p auth.Principal, chatID uuid.UUID, stars int) (*rating.Result, error)
}

func (f *fakeRatings) Submit(ctx context.Context, p auth.Principal, chatID uuid.UUID, stars int) (*rating.Result, error) {
	return f.submitFn(ctx, p, chatID, stars)
}

const (
	testSecret     = "test-secret"
	testGatewayKey = "gateway-key"
)

type harness struct {
	handler http.Handler
	appts   *fakeAppointments
	chats   *fakeChats
	ratings *fakeRatings
	patient auth.Principal
	token   string
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	verifier := auth.NewVerifier(testSecret)
	patient := auth.Principal{UserID: uuid.New(), Role: auth.RolePatient, Name: "Rina"}
	token, err := verifier.Issue(patient, time.Hour)
	require.NoError(t, err)

	h := &harness{
		appts:   &fakeAppointments{},
		chats:   &fakeChats{},
		ratings: &fakeRatings{},
		patient: patient,
		token:   token,
	}
	h.handler = NewRouter(RouterConfig{
		Appointments: h.appts,
		Chats:        h.chats,
		Ratings:      h.ratings,
		Verifier:     verifier,
		Payments:     auth.NewNotificationSigner(testGatewayKey),
		Health: NewHealthHandler("test", "v0",
			Check{Name: "postgres", Critical: true, Ping: func(context.Context) error { return nil }},
			Check{Name: "redis", Ping: func(context.Context) error { return errors.New("connection refused") }},
		),
		CORSOrigins: []string{"http://localhost:5173"},
	})
	return h
}

func (h *harness) do(method, path, body string, authed bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestRequiresBearerToken(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodGet, "/appointments/"+uuid.NewString(), "", false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/appointments/"+uuid.NewString(), nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec = httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestBookAppointment(t *testing.T) {
	h := newHarness(t)
	psychiatristID := uuid.New()

	var got appointment.BookInput
	h.appts.bookFn = func(_ context.Context, p auth.Principal, in appointment.BookInput) (*appointment.Appointment, error) {
		assert.Equal(t, h.patient.UserID, p.UserID)
		got = in
		created := time.Date(2026, 3, 2, 2, 0, 0, 0, time.UTC)
		return &appointment.Appointment{
			ID:             uuid.New(),
			PatientID:      p.UserID,
			PsychiatristID: in.PsychiatristID,
			Method:         in.Method,
			Date:           in.Date,
			Time:           in.Time,
			Price:          in.Price,
			Status:         appointment.StatusAwaitingPayment,
			CreatedAt:      &created,
		}, nil
	}

	body := fmt.Sprintf(`{"psychiatrist_id":%q,"method":"Video","date":"2026-03-05","time":"10.00 - 11.00","price":"250000"}`, psychiatristID)
	rec := h.do(http.MethodPost, "/appointments", body, true)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp AppointmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Menunggu pembayaran", resp.Status)
	assert.Equal(t, "250000.00", resp.Price)
	assert.Equal(t, psychiatristID, got.PsychiatristID)
	assert.True(t, decimal.NewFromInt(250000).Equal(got.Price))
}

func TestBookAppointmentValidation(t *testing.T) {
	h := newHarness(t)
	h.appts.bookFn = func(context.Context, auth.Principal, appointment.BookInput) (*appointment.Appointment, error) {
		t.Fatal("service must not be called for invalid input")
		return nil, nil
	}

	cases := map[string]string{
		"unknown method":     `{"psychiatrist_id":"` + uuid.NewString() + `","method":"Phone","date":"2026-03-05"}`,
		"video without time": `{"psychiatrist_id":"` + uuid.NewString() + `","method":"Video","date":"2026-03-05"}`,
		"bad date":           `{"psychiatrist_id":"` + uuid.NewString() + `","method":"Chat","date":"05-03-2026"}`,
		"not a uuid":         `{"psychiatrist_id":"dr-bima","method":"Chat","date":"2026-03-05"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := h.do(http.MethodPost, "/appointments", body, true)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "validation_failed", decodeError(t, rec).Error)
		})
	}

	rec := h.do(http.MethodPost, "/appointments", `{not json`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request_body", decodeError(t, rec).Error)
}

func TestDomainErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{appointment.ErrAppointmentNotFound, http.StatusNotFound, "appointment_not_found"},
		{appointment.ErrNotParticipant, http.StatusForbidden, "not_participant"},
		{fmt.Errorf("cancel appointment: %w", appointment.ErrInvalidStatusTransition), http.StatusConflict, "invalid_status_transition"},
		{appointment.ErrStatusChanged, http.StatusConflict, "status_changed"},
		{errors.New("connection reset"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			h := newHarness(t)
			h.appts.cancelFn = func(context.Context, auth.Principal, uuid.UUID) (*appointment.Appointment, error) {
				return nil, tc.err
			}

			rec := h.do(http.MethodPost, "/appointments/"+uuid.NewString()+"/cancel", "", true)
			assert.Equal(t, tc.status, rec.Code)
			resp := decodeError(t, rec)
			assert.Equal(t, tc.code, resp.Error)
			if tc.status == http.StatusInternalServerError {
				assert.NotContains(t, resp.Details, "connection reset")
			}
		})
	}
}

func TestPermissionsResponse(t *testing.T) {
	h := newHarness(t)
	id := uuid.New()
	deadline := time.Date(2026, 3, 2, 2, 30, 0, 0, time.UTC)

	h.appts.permissionsFn = func(context.Context, auth.Principal, uuid.UUID) (*appointment.Appointment, appointment.Permissions, error) {
		return &appointment.Appointment{ID: id, Status: appointment.StatusAwaitingPayment},
			appointment.Permissions{Pay: true, PaymentDeadline: &deadline, PaymentRemaining: 90 * time.Second}, nil
	}

	rec := h.do(http.MethodGet, "/appointments/"+id.String()+"/permissions", "", true)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp PermissionsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Pay)
	assert.False(t, resp.Cancel)
	assert.False(t, resp.Rate)
	assert.Equal(t, int64(90), resp.PaymentRemainingSeconds)
	require.NotNil(t, resp.PaymentDeadline)
	assert.True(t, deadline.Equal(*resp.PaymentDeadline))
}

func signNotification(t *testing.T, orderID, status string) string {
	t.Helper()
	sig, err := auth.NewNotificationSigner(testGatewayKey).Sign(orderID, status)
	require.NoError(t, err)
	return sig
}

func TestPaymentNotificationRedirect(t *testing.T) {
	h := newHarness(t)
	id := uuid.New()

	h.appts.notificationFn = func(_ context.Context, orderID, status string) (*appointment.Appointment, error) {
		if status != "settlement" {
			return nil, appointment.ErrUnknownTransactionStatus
		}
		assert.Equal(t, id.String(), orderID)
		return &appointment.Appointment{ID: id, Status: appointment.StatusScheduled}, nil
	}

	sig := signNotification(t, id.String(), "settlement")
	rec := h.do(http.MethodGet, "/payments/notification?transaction_status=settlement&order_id="+id.String()+"&signature_key="+sig, "", false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Terjadwal")

	refund := signNotification(t, id.String(), "refund")
	rec = h.do(http.MethodPost, "/payments/notification",
		`{"transaction_status":"refund","order_id":"`+id.String()+`","signature_key":"`+refund+`"}`, false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "unknown_transaction_status", decodeError(t, rec).Error)

	rec = h.do(http.MethodGet, "/payments/notification", "", false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPaymentNotificationRejectsUnsigned(t *testing.T) {
	h := newHarness(t)
	id := uuid.New()

	called := false
	h.appts.notificationFn = func(context.Context, string, string) (*appointment.Appointment, error) {
		called = true
		return &appointment.Appointment{ID: id, Status: appointment.StatusScheduled}, nil
	}

	rec := h.do(http.MethodGet, "/payments/notification?transaction_status=settlement&order_id="+id.String(), "", false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid_signature", decodeError(t, rec).Error)

	// A signature for another status cannot be replayed to settle.
	expire := signNotification(t, id.String(), "expire")
	rec = h.do(http.MethodGet, "/payments/notification?transaction_status=settlement&order_id="+id.String()+"&signature_key="+expire, "", false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(http.MethodPost, "/payments/notification",
		`{"transaction_status":"settlement","order_id":"`+id.String()+`","signature_key":"forged"}`, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	assert.False(t, called)
}

func TestSendMessageAndRating(t *testing.T) {
	h := newHarness(t)
	chatID := uuid.New()

	h.chats.sendFn = func(_ context.Context, p auth.Principal, id uuid.UUID, text string) (*chat.Message, error) {
		return &chat.Message{ID: uuid.New(), ChatID: id, SenderID: p.UserID, Text: text, TimeLabel: "10.05", SenderRead: true}, nil
	}
	h.ratings.submitFn = func(context.Context, auth.Principal, uuid.UUID, int) (*rating.Result, error) {
		return nil, rating.ErrRatingExists
	}

	rec := h.do(http.MethodPost, "/chats/"+chatID.String()+"/messages", `{"text":"halo dok"}`, true)
	require.Equal(t, http.StatusCreated, rec.Code)
	var msg chat.Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msg))
	assert.Equal(t, "halo dok", msg.Text)
	assert.False(t, msg.ReceiverRead)

	rec = h.do(http.MethodPost, "/chats/"+chatID.String()+"/messages", `{"text":""}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(http.MethodPost, "/chats/"+chatID.String()+"/rating", `{"stars":4}`, true)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "rating_exists", decodeError(t, rec).Error)

	rec = h.do(http.MethodPost, "/chats/"+chatID.String()+"/rating", `{"stars":9}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(http.MethodGet, "/chats/"+chatID.String()+"/unread", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, fmt.Sprintf(`{"chat_id":%q,"unread":3}`, chatID), rec.Body.String())
}

func TestStreamRefusedWhenSessionNotLive(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodGet, "/chats/"+uuid.NewString()+"/stream", "", true)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "session_not_live", decodeError(t, rec).Error)
}

func TestReadinessDegradesOnRedis(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodGet, "/health/ready", "", false)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ReadinessResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "down", resp.Dependencies["redis"])
	assert.Equal(t, "ok", resp.Dependencies["postgres"])

	rec = h.do(http.MethodGet, "/health/live", "", false)
	assert.Equal(t, http.StatusOK, rec.Code)
}
