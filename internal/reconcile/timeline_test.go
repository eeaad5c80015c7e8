package reconcile

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orgmessenger/internal/events"
)

func serverMessage(sender uuid.UUID, at time.Time) events.MessageDTO {
	return events.MessageDTO{
		ID:            uuid.New(),
		SenderID:      sender,
		Content:       "hello",
		Type:          "text",
		SentAt:        at,
		DeliveryState: "sent",
	}
}

func TestTimelineOptimisticSend(t *testing.T) {
	self := uuid.New()
	now := time.Now()

	t.Run("confirm swaps identity in place", func(t *testing.T) {
		tl := NewTimeline(self, 0)
		tl.AppendLocal("tmp-1", "hello", "text", now)
		require.Equal(t, 1, tl.Len())
		assert.Equal(t, StatusPending, tl.Entries()[0].Status)

		confirmed := serverMessage(self, now)
		tl.ApplyConfirmed("tmp-1", confirmed)

		entries := tl.Entries()
		require.Equal(t, 1, tl.Len())
		assert.Equal(t, StatusSent, entries[0].Status)
		assert.Equal(t, confirmed.ID, entries[0].Message.ID)
	})

	t.Run("unmatched confirm degrades to apply", func(t *testing.T) {
		tl := NewTimeline(self, 0)
		msg := serverMessage(self, now)
		tl.ApplyConfirmed("unknown-tmp", msg)

		require.Equal(t, 1, tl.Len())
		assert.Equal(t, msg.ID, tl.Entries()[0].Message.ID)
	})

	t.Run("expiry marks failed and retry re-arms", func(t *testing.T) {
		tl := NewTimeline(self, 5*time.Second)
		tl.AppendLocal("tmp-2", "slow", "text", now)

		expired := tl.ExpirePending(now.Add(6 * time.Second))
		require.Equal(t, []string{"tmp-2"}, expired)
		assert.Equal(t, StatusFailed, tl.Entries()[0].Status)

		require.True(t, tl.RetrySend("tmp-2", now.Add(7*time.Second)))
		assert.Equal(t, StatusPending, tl.Entries()[0].Status)

		// Not failed yet, nothing to retry.
		assert.False(t, tl.RetrySend("tmp-2", now.Add(8*time.Second)))
	})

	t.Run("retry keeps the confirm path open", func(t *testing.T) {
		tl := NewTimeline(self, time.Second)
		tl.AppendLocal("tmp-3", "late", "text", now)
		tl.ExpirePending(now.Add(2 * time.Second))
		tl.RetrySend("tmp-3", now.Add(3*time.Second))

		tl.ApplyConfirmed("tmp-3", serverMessage(self, now))
		assert.Equal(t, StatusSent, tl.Entries()[0].Status)
	})
}

func TestTimelineDedup(t *testing.T) {
	self := uuid.New()
	peer := uuid.New()
	now := time.Now()

	tl := NewTimeline(self, 0)
	msg := serverMessage(peer, now)

	tl.Apply(msg)
	tl.Apply(msg) // live push raced the history replay
	tl.PrependHistory([]events.MessageDTO{msg}, 100, 100)

	assert.Equal(t, 1, tl.Len())
}

func TestTimelineOrdering(t *testing.T) {
	self := uuid.New()
	peer := uuid.New()
	now := time.Now()

	tl := NewTimeline(self, 0)
	later := serverMessage(peer, now.Add(2*time.Second))
	earlier := serverMessage(peer, now)

	tl.Apply(later)
	tl.Apply(earlier)

	entries := tl.Entries()
	require.Equal(t, 2, tl.Len())
	assert.Equal(t, earlier.ID, entries[0].Message.ID)
	assert.Equal(t, later.ID, entries[1].Message.ID)
}

func TestTimelineFocusAndUnread(t *testing.T) {
	self := uuid.New()
	peer := uuid.New()
	now := time.Now()

	t.Run("focused messages queue read acks", func(t *testing.T) {
		tl := NewTimeline(self, 0)
		a := serverMessage(peer, now)
		b := serverMessage(peer, now.Add(time.Second))
		tl.Apply(a)
		tl.Apply(b)

		acks := tl.PendingAcks()
		assert.ElementsMatch(t, []uuid.UUID{a.ID, b.ID}, acks)
		assert.Empty(t, tl.PendingAcks())
	})

	t.Run("own messages never ack", func(t *testing.T) {
		tl := NewTimeline(self, 0)
		tl.Apply(serverMessage(self, now))
		assert.Empty(t, tl.PendingAcks())
	})

	t.Run("unfocused messages build the separator", func(t *testing.T) {
		tl := NewTimeline(self, 0)
		tl.SetFocus(false)

		first := serverMessage(peer, now)
		tl.Apply(first)
		tl.Apply(serverMessage(peer, now.Add(time.Second)))

		sepID, count, ok := tl.Separator()
		require.True(t, ok)
		assert.Equal(t, first.ID, sepID)
		assert.Equal(t, 2, count)
		assert.Empty(t, tl.pendingAcks)
	})

	t.Run("regaining focus drains deferred acks", func(t *testing.T) {
		tl := NewTimeline(self, 0)
		tl.SetFocus(false)
		a := serverMessage(peer, now)
		b := serverMessage(peer, now.Add(time.Second))
		tl.Apply(a)
		tl.Apply(b)

		tl.SetFocus(true)
		acks := tl.PendingAcks()
		assert.ElementsMatch(t, []uuid.UUID{a.ID, b.ID}, acks)

		_, _, ok := tl.Separator()
		assert.False(t, ok)
	})
}

func TestTimelinePrependHistory(t *testing.T) {
	self := uuid.New()
	peer := uuid.New()
	now := time.Now()

	tl := NewTimeline(self, 0)
	recent := serverMessage(peer, now)
	tl.Apply(recent)
	tl.PendingAcks()

	older := []events.MessageDTO{
		serverMessage(peer, now.Add(-2*time.Hour)),
		serverMessage(peer, now.Add(-1*time.Hour)),
	}
	delta := tl.PrependHistory(older, 400, 1000)

	assert.Equal(t, 600, delta)
	entries := tl.Entries()
	require.Equal(t, 3, tl.Len())
	assert.Equal(t, older[0].ID, entries[0].Message.ID)
	assert.Equal(t, older[1].ID, entries[1].Message.ID)
	assert.Equal(t, recent.ID, entries[2].Message.ID)

	// History never triggers read acks.
	assert.Empty(t, tl.PendingAcks())
}

func TestTimelineMutations(t *testing.T) {
	self := uuid.New()
	peer := uuid.New()
	now := time.Now()

	t.Run("edit rewrites content", func(t *testing.T) {
		tl := NewTimeline(self, 0)
		msg := serverMessage(peer, now)
		tl.Apply(msg)

		editedAt := now.Add(time.Minute)
		tl.ApplyEdited(msg.ID, "changed", editedAt)

		entry := tl.Entries()[0]
		assert.Equal(t, "changed", entry.Message.Content)
		assert.True(t, entry.Message.IsEdited)
	})

	t.Run("notice delete leaves a tombstone", func(t *testing.T) {
		tl := NewTimeline(self, 0)
		msg := serverMessage(peer, now)
		tl.Apply(msg)

		tl.ApplyDeleted(msg.ID, "notice")

		require.Equal(t, 1, tl.Len())
		entry := tl.Entries()[0]
		assert.True(t, entry.Message.IsDeleted)
		assert.Empty(t, entry.Message.Content)
	})

	t.Run("hard delete removes the entry", func(t *testing.T) {
		tl := NewTimeline(self, 0)
		msg := serverMessage(peer, now)
		tl.Apply(msg)

		tl.ApplyDeleted(msg.ID, "hard")
		assert.Equal(t, 0, tl.Len())
	})

	t.Run("reactions replace wholesale", func(t *testing.T) {
		tl := NewTimeline(self, 0)
		msg := serverMessage(peer, now)
		tl.Apply(msg)

		reactions := []events.ReactionDTO{{UserID: self, Emoji: "👍"}}
		tl.ApplyReactions(msg.ID, reactions)
		assert.Equal(t, reactions, tl.Entries()[0].Message.Reactions)
	})

	t.Run("delivery state only advances", func(t *testing.T) {
		tl := NewTimeline(self, 0)
		msg := serverMessage(self, now)
		tl.Apply(msg)

		tl.ApplyDelivered(msg.ID)
		assert.Equal(t, "delivered", tl.Entries()[0].Message.DeliveryState)

		tl.ApplyRead(msg.ID)
		assert.Equal(t, "read", tl.Entries()[0].Message.DeliveryState)

		// Late delivered event after read is ignored.
		tl.ApplyDelivered(msg.ID)
		assert.Equal(t, "read", tl.Entries()[0].Message.DeliveryState)
	})

	t.Run("mutations on unknown ids are no-ops", func(t *testing.T) {
		tl := NewTimeline(self, 0)
		tl.ApplyEdited(uuid.New(), "x", now)
		tl.ApplyDeleted(uuid.New(), "hard")
		tl.ApplyDelivered(uuid.New())
		assert.Equal(t, 0, tl.Len())
	})
}

func TestTimelinePresence(t *testing.T) {
	self := uuid.New()
	peer := uuid.New()
	now := time.Now()

	tl := NewTimeline(self, 0)
	_, ok := tl.Presence(peer)
	assert.False(t, ok)

	tl.ApplyPresence(peer, true, time.Time{})
	p, ok := tl.Presence(peer)
	require.True(t, ok)
	assert.True(t, p.Online)

	tl.ApplyPresence(peer, false, now)
	p, _ = tl.Presence(peer)
	assert.False(t, p.Online)
	assert.Equal(t, now, p.LastSeenAt)
}
