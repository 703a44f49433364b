package rating

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dheovanwa/serenity/internal/appointment"
	"github.com/dheovanwa/serenity/internal/auth"
	"github.com/dheovanwa/serenity/internal/events"
)

var (
	ErrRatingExists = errors.New("rating already exists for this session")
	ErrInvalidStars = errors.New("stars must be between 1 and 5")
)

const (
	MinStars = 1
	MaxStars = 5
)

type Gate interface {
	Authorize(ctx context.Context, p auth.Principal, id uuid.UUID, action appointment.Action) (*appointment.Appointment, error)
}

type Service struct {
	repo      Repository
	gate      Gate
	publisher events.Publisher
	log       *zap.Logger
	now       func() time.Time
}

func NewService(repo Repository, gate Gate, publisher events.Publisher, log *zap.Logger) *Service {
	if publisher == nil {
		publisher = events.Nop()
	}
	return &Service{
		repo:      repo,
		gate:      gate,
		publisher: publisher,
		log:       log,
		now:       time.Now,
	}
}

// Submit records the patient's single rating for a finished session and folds
// it into the psychiatrist's aggregate.
func (s *Service) Submit(ctx context.Context, p auth.Principal, chatID uuid.UUID, stars int) (*Result, error) {
	if stars < MinStars || stars > MaxStars {
		return nil, ErrInvalidStars
	}

	rec, err := s.repo.GetSessionRecord(ctx, chatID)
	if err != nil && !errors.Is(err, appointment.ErrSessionRecordNotFound) {
		return nil, fmt.Errorf("load session record: %w", err)
	}
	if rec.Rated() {
		return nil, ErrRatingExists
	}

	appt, err := s.gate.Authorize(ctx, p, chatID, appointment.ActionRate)
	if err != nil {
		return nil, err
	}

	res, err := s.repo.SubmitRating(ctx, Submission{
		ChatID:         chatID,
		PsychiatristID: appt.PsychiatristID,
		RatedBy:        p.UserID,
		Stars:          stars,
		RatedAt:        s.now(),
	})
	if err != nil {
		if errors.Is(err, ErrRatingExists) {
			return nil, err
		}
		return nil, fmt.Errorf("submit rating: %w", err)
	}

	s.log.Info("rating.Submit",
		zap.String("chat_id", chatID.String()),
		zap.String("psychiatrist_id", appt.PsychiatristID.String()),
		zap.Int("stars", stars),
		zap.Float64("average", res.Average))

	if err := s.publisher.Publish(ctx, events.Event{
		Type:          events.ChatSessionRated,
		AppointmentID: chatID,
		Status:        string(appt.Status),
		Payload: map[string]any{
			"stars":   stars,
			"average": res.Average,
		},
		OccurredAt: res.RatedAt,
	}); err != nil {
		s.log.Warn("rating.Submit publish failed", zap.String("chat_id", chatID.String()), zap.Error(err))
	}

	return res, nil
}
