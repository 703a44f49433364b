package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dheovanwa/serenity/internal/appointment"
	"github.com/dheovanwa/serenity/internal/auth"
	"github.com/dheovanwa/serenity/internal/chat"
	"github.com/dheovanwa/serenity/internal/rating"
)

type AppointmentService interface {
	Book(ctx context.Context, p auth.Principal, in appointment.BookInput) (*appointment.Appointment, error)
	Get(ctx context.Context, p auth.Principal, id uuid.UUID) (*appointment.Appointment, error)
	ListForUser(ctx context.Context, p auth.Principal, limit, offset int) ([]appointment.Appointment, error)
	Permissions(ctx context.Context, p auth.Principal, id uuid.UUID) (*appointment.Appointment, appointment.Permissions, error)
	Cancel(ctx context.Context, p auth.Principal, id uuid.UUID) (*appointment.Appointment, error)
	EndSession(ctx context.Context, p auth.Principal, id uuid.UUID) (*appointment.Appointment, error)
	PaymentCallback(ctx context.Context, p auth.Principal, id uuid.UUID, result string) (*appointment.Appointment, error)
	HandlePaymentNotification(ctx context.Context, orderID, transactionStatus string) (*appointment.Appointment, error)
}

type ChatService interface {
	Send(ctx context.Context, p auth.Principal, chatID uuid.UUID, text string) (*chat.Message, error)
	History(ctx context.Context, p auth.Principal, chatID uuid.UUID) ([]chat.Message, error)
	Open(ctx context.Context, p auth.Principal, chatID uuid.UUID) ([]chat.Message, error)
	UnreadCount(ctx context.Context, p auth.Principal, chatID uuid.UUID) (int, error)
	UnreadCounts(ctx context.Context, p auth.Principal) (map[uuid.UUID]int, error)
	Subscribe(ctx context.Context, p auth.Principal, chatID uuid.UUID) (*chat.Stream, error)
}

type RatingService interface {
	Submit(ctx context.Context, p auth.Principal, chatID uuid.UUID, stars int) (*rating.Result, error)
}

type RouterConfig struct {
	Appointments    AppointmentService
	Chats           ChatService
	Ratings         RatingService
	Verifier        *auth.Verifier
	Payments        *auth.NotificationSigner
	Health          *HealthHandler
	Log             *zap.Logger
	CORSOrigins     []string
	RateLimitPerSec int
}

func NewRouter(cfg RouterConfig) http.Handler {
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}

	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	limit := func(next http.Handler) http.Handler { return next }
	if cfg.RateLimitPerSec > 0 {
		limit = httprate.LimitByIP(cfg.RateLimitPerSec, time.Second)
	}

	// Health endpoints
	if cfg.Health != nil {
		r.Get("/health/live", cfg.Health.Liveness)
		r.Get("/health/ready", cfg.Health.Readiness)
	}

	// Payment gateway redirect and notification, signed with the server key instead of a bearer token.
	if cfg.Payments != nil {
		r.With(limit).Get("/payments/notification", paymentNotificationHandler(cfg.Appointments, cfg.Payments, log))
		r.With(limit).Post("/payments/notification", paymentNotificationHandler(cfg.Appointments, cfg.Payments, log))
	}

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Verifier))

		// Appointment endpoints
		r.Get("/appointments", listAppointmentsHandler(cfg.Appointments, log))
		r.Get("/appointments/{id}", getAppointmentHandler(cfg.Appointments, log))
		r.Get("/appointments/{id}/permissions", permissionsHandler(cfg.Appointments, log))

		// Chat endpoints
		r.Get("/chats/unread", unreadCountsHandler(cfg.Chats, log))
		r.Get("/chats/{id}/messages", listMessagesHandler(cfg.Chats, log))
		r.Get("/chats/{id}/unread", unreadCountHandler(cfg.Chats, log))
		r.Get("/chats/{id}/stream", streamChatHandler(cfg.Chats, cfg.CORSOrigins, log))

		r.Group(func(r chi.Router) {
			r.Use(limit)

			r.Post("/appointments", bookAppointmentHandler(cfg.Appointments, log))
			r.Post("/appointments/{id}/cancel", cancelAppointmentHandler(cfg.Appointments, log))
			r.Post("/appointments/{id}/end", endSessionHandler(cfg.Appointments, log))
			r.Post("/appointments/{id}/payment/{result}", paymentCallbackHandler(cfg.Appointments, log))

			r.Post("/chats/{id}/messages", sendMessageHandler(cfg.Chats, log))
			r.Post("/chats/{id}/open", openChatHandler(cfg.Chats, log))
			r.Post("/chats/{id}/rating", submitRatingHandler(cfg.Ratings, log))
		})
	})

	return r
}
