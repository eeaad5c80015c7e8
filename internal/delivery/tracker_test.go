package delivery

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orgmessenger/internal/domain/message"
	"orgmessenger/internal/repository"
	messenger_errors "orgmessenger/pkg/errors"
)

// fakeMessageRepo is an in-memory MessageRepository covering the paths the
// tracker exercises.
type fakeMessageRepo struct {
	messages map[uuid.UUID]*message.Message
	markers  map[uuid.UUID]map[uuid.UUID]message.ReadMarker
}

func newFakeMessageRepo() *fakeMessageRepo {
	return &fakeMessageRepo{
		messages: make(map[uuid.UUID]*message.Message),
		markers:  make(map[uuid.UUID]map[uuid.UUID]message.ReadMarker),
	}
}

func (f *fakeMessageRepo) add(m message.Message) *message.Message {
	stored := m
	f.messages[m.ID] = &stored
	return &stored
}

func (f *fakeMessageRepo) Create(ctx context.Context, m *message.Message) error {
	f.add(*m)
	return nil
}

func (f *fakeMessageRepo) GetByID(ctx context.Context, id uuid.UUID) (message.Message, error) {
	m, ok := f.messages[id]
	if !ok {
		return message.Message{}, messenger_errors.ErrNotFound
	}
	return *m, nil
}

func (f *fakeMessageRepo) GetByClientMessageID(ctx context.Context, clientMsgID string) (message.Message, error) {
	return message.Message{}, messenger_errors.ErrNotFound
}

func (f *fakeMessageRepo) GetConversation(ctx context.Context, viewerID uuid.UUID, target repository.ConversationTarget, beforeID uuid.NullUUID, limit int) ([]message.Message, error) {
	return nil, nil
}

func (f *fakeMessageRepo) GetPendingForRecipient(ctx context.Context, recipientID uuid.UUID) ([]message.Message, error) {
	var pending []message.Message
	for _, m := range f.messages {
		if m.ReceiverID.Valid && m.ReceiverID.UUID == recipientID && !m.IsDelivered && !m.IsDeleted {
			pending = append(pending, *m)
		}
	}
	return pending, nil
}

func (f *fakeMessageRepo) MarkDelivered(ctx context.Context, ids []uuid.UUID, recipientID uuid.UUID, at time.Time) ([]uuid.UUID, error) {
	var transitioned []uuid.UUID
	for _, id := range ids {
		m, ok := f.messages[id]
		if !ok || m.IsDelivered || m.IsDeleted {
			continue
		}
		if !m.ReceiverID.Valid || m.ReceiverID.UUID != recipientID {
			continue
		}
		m.IsDelivered = true
		m.DeliveredAt = sql.NullTime{Time: at, Valid: true}
		transitioned = append(transitioned, id)
	}
	return transitioned, nil
}

func (f *fakeMessageRepo) MarkReadPrivate(ctx context.Context, ids []uuid.UUID, readerID uuid.UUID, at time.Time) ([]uuid.UUID, error) {
	var transitioned []uuid.UUID
	for _, id := range ids {
		m, ok := f.messages[id]
		if !ok || m.IsRead || m.IsDeleted {
			continue
		}
		if !m.ReceiverID.Valid || m.ReceiverID.UUID != readerID {
			continue
		}
		m.IsRead = true
		m.ReadAt = sql.NullTime{Time: at, Valid: true}
		if !m.IsDelivered {
			m.IsDelivered = true
			m.DeliveredAt = sql.NullTime{Time: at, Valid: true}
		}
		transitioned = append(transitioned, id)
	}
	return transitioned, nil
}

func (f *fakeMessageRepo) InsertReadMarkers(ctx context.Context, markers []message.ReadMarker) ([]message.ReadMarker, error) {
	var inserted []message.ReadMarker
	for _, marker := range markers {
		byUser, ok := f.markers[marker.MessageID]
		if !ok {
			byUser = make(map[uuid.UUID]message.ReadMarker)
			f.markers[marker.MessageID] = byUser
		}
		if _, exists := byUser[marker.UserID]; exists {
			continue
		}
		byUser[marker.UserID] = marker
		inserted = append(inserted, marker)
	}
	return inserted, nil
}

func (f *fakeMessageRepo) MarkEdited(ctx context.Context, id uuid.UUID, content string, at time.Time) error {
	return nil
}

func (f *fakeMessageRepo) SoftDelete(ctx context.Context, id uuid.UUID, visibility string, at time.Time) error {
	return nil
}

func (f *fakeMessageRepo) GetUserReaction(ctx context.Context, messageID, userID uuid.UUID) (message.Reaction, error) {
	return message.Reaction{}, messenger_errors.ErrNotFound
}

func (f *fakeMessageRepo) UpsertReaction(ctx context.Context, r *message.Reaction) error { return nil }

func (f *fakeMessageRepo) DeleteReaction(ctx context.Context, messageID, userID uuid.UUID) error {
	return nil
}

func (f *fakeMessageRepo) GetMessageReactions(ctx context.Context, messageID uuid.UUID) ([]message.Reaction, error) {
	return nil, nil
}

func (f *fakeMessageRepo) LastPrivateMessage(ctx context.Context, userID, peerID uuid.UUID) (message.Message, error) {
	return message.Message{}, messenger_errors.ErrNotFound
}

func (f *fakeMessageRepo) LastGroupMessage(ctx context.Context, groupID uuid.UUID) (message.Message, error) {
	return message.Message{}, messenger_errors.ErrNotFound
}

func (f *fakeMessageRepo) LastChannelMessage(ctx context.Context, channelID uuid.UUID) (message.Message, error) {
	return message.Message{}, messenger_errors.ErrNotFound
}

func (f *fakeMessageRepo) UnreadPrivateCount(ctx context.Context, userID, peerID uuid.UUID) (int64, error) {
	return 0, nil
}

func privateMessage(sender, receiver uuid.UUID) message.Message {
	return message.Message{
		ID:         uuid.New(),
		SenderID:   sender,
		ReceiverID: uuid.NullUUID{UUID: receiver, Valid: true},
		Content:    "hello",
		Type:       message.TypeText,
		CreatedAt:  time.Now(),
		SentAt:     time.Now(),
	}
}

func TestTrackerMarkDelivered(t *testing.T) {
	ctx := context.Background()
	sender := uuid.New()
	receiver := uuid.New()

	t.Run("advances sent to delivered", func(t *testing.T) {
		repo := newFakeMessageRepo()
		tracker := NewTracker(repo)
		m := repo.add(privateMessage(sender, receiver))

		transitioned, err := tracker.MarkDelivered(ctx, []uuid.UUID{m.ID}, receiver)
		require.NoError(t, err)
		require.Len(t, transitioned, 1)
		assert.True(t, repo.messages[m.ID].IsDelivered)
	})

	t.Run("re-ack is a no-op", func(t *testing.T) {
		repo := newFakeMessageRepo()
		tracker := NewTracker(repo)
		m := repo.add(privateMessage(sender, receiver))

		_, err := tracker.MarkDelivered(ctx, []uuid.UUID{m.ID}, receiver)
		require.NoError(t, err)
		transitioned, err := tracker.MarkDelivered(ctx, []uuid.UUID{m.ID}, receiver)
		require.NoError(t, err)
		assert.Empty(t, transitioned)
	})

	t.Run("only the recipient can acknowledge", func(t *testing.T) {
		repo := newFakeMessageRepo()
		tracker := NewTracker(repo)
		m := repo.add(privateMessage(sender, receiver))

		transitioned, err := tracker.MarkDelivered(ctx, []uuid.UUID{m.ID}, uuid.New())
		require.NoError(t, err)
		assert.Empty(t, transitioned)
		assert.False(t, repo.messages[m.ID].IsDelivered)
	})
}

func TestTrackerDeliverPending(t *testing.T) {
	ctx := context.Background()
	sender := uuid.New()
	receiver := uuid.New()

	t.Run("replays the offline backlog in one batch", func(t *testing.T) {
		repo := newFakeMessageRepo()
		tracker := NewTracker(repo)
		a := repo.add(privateMessage(sender, receiver))
		b := repo.add(privateMessage(sender, receiver))
		repo.add(privateMessage(sender, uuid.New())) // someone else's

		delivered, err := tracker.DeliverPending(ctx, receiver)
		require.NoError(t, err)
		require.Len(t, delivered, 2)
		assert.True(t, repo.messages[a.ID].IsDelivered)
		assert.True(t, repo.messages[b.ID].IsDelivered)
	})

	t.Run("empty backlog yields nothing", func(t *testing.T) {
		repo := newFakeMessageRepo()
		tracker := NewTracker(repo)

		delivered, err := tracker.DeliverPending(ctx, receiver)
		require.NoError(t, err)
		assert.Empty(t, delivered)
	})
}

func TestTrackerConfirmDelivered(t *testing.T) {
	ctx := context.Background()
	sender := uuid.New()
	receiver := uuid.New()

	repo := newFakeMessageRepo()
	tracker := NewTracker(repo)
	m := repo.add(privateMessage(sender, receiver))
	own := repo.add(privateMessage(receiver, sender))

	receipts, err := tracker.ConfirmDelivered(ctx, []uuid.UUID{m.ID, own.ID, uuid.New()}, receiver)
	require.NoError(t, err)
	require.Len(t, receipts, 1)
	assert.Equal(t, m.ID, receipts[0].MessageID)
	assert.Equal(t, sender, receipts[0].SenderID)
}

func TestTrackerMarkRead(t *testing.T) {
	ctx := context.Background()
	sender := uuid.New()
	receiver := uuid.New()

	t.Run("read forces delivered for lagging acks", func(t *testing.T) {
		repo := newFakeMessageRepo()
		tracker := NewTracker(repo)
		m := repo.add(privateMessage(sender, receiver))
		require.False(t, m.IsDelivered)

		receipts, err := tracker.MarkRead(ctx, []uuid.UUID{m.ID}, receiver, time.Now())
		require.NoError(t, err)
		require.Len(t, receipts, 1)
		assert.Equal(t, sender, receipts[0].SenderID)

		stored := repo.messages[m.ID]
		assert.True(t, stored.IsRead)
		assert.True(t, stored.IsDelivered)
	})

	t.Run("own and deleted messages are skipped", func(t *testing.T) {
		repo := newFakeMessageRepo()
		tracker := NewTracker(repo)
		own := repo.add(privateMessage(receiver, sender))
		deleted := privateMessage(sender, receiver)
		deleted.IsDeleted = true
		gone := repo.add(deleted)

		receipts, err := tracker.MarkRead(ctx, []uuid.UUID{own.ID, gone.ID}, receiver, time.Now())
		require.NoError(t, err)
		assert.Empty(t, receipts)
	})

	t.Run("group read inserts one marker per reader", func(t *testing.T) {
		repo := newFakeMessageRepo()
		tracker := NewTracker(repo)
		groupMsg := message.Message{
			ID:       uuid.New(),
			SenderID: sender,
			GroupID:  uuid.NullUUID{UUID: uuid.New(), Valid: true},
			Content:  "hi all",
			Type:     message.TypeText,
			SentAt:   time.Now(),
		}
		repo.add(groupMsg)

		receipts, err := tracker.MarkRead(ctx, []uuid.UUID{groupMsg.ID}, receiver, time.Now())
		require.NoError(t, err)
		require.Len(t, receipts, 1)

		// Second ack from the same reader is ignored.
		receipts, err = tracker.MarkRead(ctx, []uuid.UUID{groupMsg.ID}, receiver, time.Now())
		require.NoError(t, err)
		assert.Empty(t, receipts)
	})

	t.Run("unknown ids are ignored", func(t *testing.T) {
		repo := newFakeMessageRepo()
		tracker := NewTracker(repo)

		receipts, err := tracker.MarkRead(ctx, []uuid.UUID{uuid.New()}, receiver, time.Now())
		require.NoError(t, err)
		assert.Empty(t, receipts)
	})
}
