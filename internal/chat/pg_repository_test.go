package chat

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dheovanwa/serenity/internal/appointment"
	"github.com/dheovanwa/serenity/internal/db/dbtest"
)

func sendAs(t *testing.T, repo *PgRepository, chatID, senderID uuid.UUID, text string) {
	t.Helper()

	_, err := repo.InsertMessage(context.Background(), Message{
		ID:         uuid.New(),
		ChatID:     chatID,
		SenderID:   senderID,
		SenderName: "Rina",
		Text:       text,
		TimeLabel:  "09.15",
		SenderRead: true,
	})
	require.NoError(t, err)
}

func TestUnreadCountsOnlyLiveSessions(t *testing.T) {
	pool := dbtest.Pool(t)
	repo := NewPgRepository(pool)
	ctx := context.Background()
	people := dbtest.SeedPeople(t, pool, 10)

	live := dbtest.InsertAppointment(t, pool, people, "Chat", "2026-03-02", string(appointment.StatusInProgress))
	quiet := dbtest.InsertAppointment(t, pool, people, "Chat", "2026-03-02", string(appointment.StatusInProgress))
	finished := dbtest.InsertAppointment(t, pool, people, "Chat", "2026-03-01", string(appointment.StatusFinished))
	dbtest.InsertAppointment(t, pool, people, "Chat", "2026-03-03", string(appointment.StatusScheduled))

	sendAs(t, repo, live, people.PatientID, "halo dok")
	sendAs(t, repo, live, people.PatientID, "saya sudah siap")
	sendAs(t, repo, live, people.PsychiatristID, "baik, kita mulai")
	sendAs(t, repo, finished, people.PatientID, "terima kasih")

	counts, err := repo.UnreadCounts(ctx, people.PsychiatristID)
	require.NoError(t, err)
	assert.Equal(t, map[uuid.UUID]int{live: 2, quiet: 0}, counts)

	counts, err = repo.UnreadCounts(ctx, people.PatientID)
	require.NoError(t, err)
	assert.Equal(t, map[uuid.UUID]int{live: 1, quiet: 0}, counts)
}

func TestMarkReadClearsOnlyIncoming(t *testing.T) {
	pool := dbtest.Pool(t)
	repo := NewPgRepository(pool)
	ctx := context.Background()
	people := dbtest.SeedPeople(t, pool, 10)
	live := dbtest.InsertAppointment(t, pool, people, "Chat", "2026-03-02", string(appointment.StatusInProgress))

	sendAs(t, repo, live, people.PatientID, "halo dok")
	sendAs(t, repo, live, people.PsychiatristID, "halo juga")

	n, err := repo.MarkRead(ctx, live, people.PsychiatristID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	unread, err := repo.UnreadCount(ctx, live, people.PsychiatristID)
	require.NoError(t, err)
	assert.Zero(t, unread)

	unread, err = repo.UnreadCount(ctx, live, people.PatientID)
	require.NoError(t, err)
	assert.Equal(t, 1, unread)

	msgs, err := repo.ListMessages(ctx, live)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "halo dok", msgs[0].Text)
}
