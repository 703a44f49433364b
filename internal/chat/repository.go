package chat

import (
	"context"

	"github.com/google/uuid"
)

// Repository stores messages. Read flags live on the message rows, so the
// open view and the unread counters always agree.
type Repository interface {
	// InsertMessage creates the chat row on first use and stamps CreatedAt server side.
	InsertMessage(ctx context.Context, m Message) (*Message, error)
	ListMessages(ctx context.Context, chatID uuid.UUID) ([]Message, error)

	// MarkRead flips receiver_read on every message in chatID not sent by readerID.
	MarkRead(ctx context.Context, chatID, readerID uuid.UUID) (int64, error)
	UnreadCount(ctx context.Context, chatID, readerID uuid.UUID) (int, error)
	// UnreadCounts covers every in-progress session userID takes part in.
	UnreadCounts(ctx context.Context, userID uuid.UUID) (map[uuid.UUID]int, error)
}
