package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dheovanwa/serenity/internal/appointment"
	"github.com/dheovanwa/serenity/internal/auth"
	redisclient "github.com/dheovanwa/serenity/internal/redis"
)

var (
	ErrEmptyMessage   = errors.New("message text is empty")
	ErrMessageTooLong = errors.New("message text is too long")
	ErrSessionNotLive = errors.New("chat session is not in progress")
)

// Gate is the part of the appointment service chat needs.
type Gate interface {
	Get(ctx context.Context, p auth.Principal, id uuid.UUID) (*appointment.Appointment, error)
	Authorize(ctx context.Context, p auth.Principal, id uuid.UUID, action appointment.Action) (*appointment.Appointment, error)
}

// Bus is satisfied by *redisclient.Bus.
type Bus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channels ...string) (<-chan []byte, func() error, error)
}

type Service struct {
	repo Repository
	gate Gate
	bus  Bus
	log  *zap.Logger
	loc  *time.Location
	now  func() time.Time
}

func NewService(repo Repository, gate Gate, bus Bus, log *zap.Logger, loc *time.Location) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		repo: repo,
		gate: gate,
		bus:  bus,
		log:  log,
		loc:  loc,
		now:  time.Now,
	}
}

// Send stores a message from p. The counterpart sees it as unread until they open the chat.
func (s *Service) Send(ctx context.Context, p auth.Principal, chatID uuid.UUID, text string) (*Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	if utf8.RuneCountInString(text) > MaxMessageLength {
		return nil, ErrMessageTooLong
	}

	appt, err := s.gate.Authorize(ctx, p, chatID, appointment.ActionSendMessage)
	if err != nil {
		return nil, err
	}

	name := p.Name
	if name == "" {
		name = appt.PatientName
		if p.UserID == appt.PsychiatristID {
			name = appt.PsychiatristName
		}
	}

	stored, err := s.repo.InsertMessage(ctx, Message{
		ID:           uuid.New(),
		ChatID:       chatID,
		SenderID:     p.UserID,
		SenderName:   name,
		Text:         text,
		TimeLabel:    s.now().In(s.loc).Format(TimeLabelLayout),
		SenderRead:   true,
		ReceiverRead: false,
	})
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}

	s.publish(ctx, chatID, StreamEvent{Type: StreamMessage, Message: stored})
	return stored, nil
}

// Open marks every counterpart message read and returns the session history in
// send order. The read flags are committed before anyone is told about them.
func (s *Service) Open(ctx context.Context, p auth.Principal, chatID uuid.UUID) ([]Message, error) {
	if _, err := s.gate.Get(ctx, p, chatID); err != nil {
		return nil, err
	}

	if err := s.markRead(ctx, p, chatID); err != nil {
		return nil, err
	}

	msgs, err := s.repo.ListMessages(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}

// History returns the session's messages without touching read flags.
func (s *Service) History(ctx context.Context, p auth.Principal, chatID uuid.UUID) ([]Message, error) {
	if _, err := s.gate.Get(ctx, p, chatID); err != nil {
		return nil, err
	}

	msgs, err := s.repo.ListMessages(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}

func (s *Service) UnreadCount(ctx context.Context, p auth.Principal, chatID uuid.UUID) (int, error) {
	if _, err := s.gate.Get(ctx, p, chatID); err != nil {
		return 0, err
	}

	n, err := s.repo.UnreadCount(ctx, chatID, p.UserID)
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Service) UnreadCounts(ctx context.Context, p auth.Principal) (map[uuid.UUID]int, error) {
	counts, err := s.repo.UnreadCounts(ctx, p.UserID)
	if err != nil {
		return nil, fmt.Errorf("unread counts: %w", err)
	}
	return counts, nil
}

func (s *Service) markRead(ctx context.Context, p auth.Principal, chatID uuid.UUID) error {
	n, err := s.repo.MarkRead(ctx, chatID, p.UserID)
	if err != nil {
		return err
	}
	if n > 0 {
		reader := p.UserID
		s.publish(ctx, chatID, StreamEvent{Type: StreamRead, ReaderID: &reader})
	}
	return nil
}

func (s *Service) publish(ctx context.Context, chatID uuid.UUID, ev StreamEvent) {
	body, err := json.Marshal(ev)
	if err != nil {
		s.log.Warn("chat.publish marshal failed", zap.Error(err))
		return
	}
	if err := s.bus.Publish(ctx, redisclient.ChatChannel(chatID), body); err != nil {
		s.log.Warn("chat.publish failed",
			zap.String("chat_id", chatID.String()), zap.String("type", string(ev.Type)), zap.Error(err))
	}
}

// Stream is one participant's live view of a chat session.
type Stream struct {
	svc       *Service
	principal auth.Principal
	chatID    uuid.UUID
	events    <-chan []byte
	close     func() error
}

// Subscribe opens a live view on an in-progress session. The caller must Close it.
func (s *Service) Subscribe(ctx context.Context, p auth.Principal, chatID uuid.UUID) (*Stream, error) {
	appt, err := s.gate.Get(ctx, p, chatID)
	if err != nil {
		return nil, err
	}
	if appt.Status != appointment.StatusInProgress {
		return nil, ErrSessionNotLive
	}

	events, closeFn, err := s.bus.Subscribe(ctx,
		redisclient.ChatChannel(chatID),
		redisclient.AppointmentChannel(chatID),
	)
	if err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	// A status event published before the subscription landed is lost, so read
	// the status again now that nothing more can be missed.
	appt, err = s.gate.Get(ctx, p, chatID)
	if err != nil {
		_ = closeFn()
		return nil, err
	}
	if appt.Status != appointment.StatusInProgress {
		_ = closeFn()
		return nil, ErrSessionNotLive
	}

	return &Stream{svc: s, principal: p, chatID: chatID, events: events, close: closeFn}, nil
}

func (st *Stream) Close() error {
	return st.close()
}

// Run forwards events to send until ctx is done, the bus goes away, or the
// appointment leaves the in-progress state. Counterpart messages are marked
// read before they are forwarded.
func (st *Stream) Run(ctx context.Context, send func(StreamEvent) error) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case raw, ok := <-st.events:
			if !ok {
				return nil
			}

			ev, err := decodeStreamEvent(raw)
			if err != nil {
				st.svc.log.Warn("chat.Stream undecodable event", zap.Error(err))
				continue
			}

			if ev.Type == StreamMessage && ev.Message != nil && ev.Message.SenderID != st.principal.UserID {
				if err := st.svc.markRead(ctx, st.principal, st.chatID); err != nil {
					st.svc.log.Warn("chat.Stream mark read failed",
						zap.String("chat_id", st.chatID.String()), zap.Error(err))
				} else {
					ev.Message.ReceiverRead = true
				}
			}

			if err := send(ev); err != nil {
				return err
			}

			if ev.Type == StreamStatus && ev.Status != "" && ev.Status != string(appointment.StatusInProgress) {
				return nil
			}
		}
	}
}

func decodeStreamEvent(raw []byte) (StreamEvent, error) {
	var ev StreamEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return StreamEvent{}, err
	}
	switch ev.Type {
	case StreamMessage, StreamRead:
		return ev, nil
	}
	// Appointment lifecycle events carry the new status.
	return StreamEvent{Type: StreamStatus, Status: ev.Status}, nil
}
