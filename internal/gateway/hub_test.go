package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"orgmessenger/internal/config"
	"orgmessenger/internal/delivery"
	"orgmessenger/internal/domain/chat"
	"orgmessenger/internal/domain/message"
	"orgmessenger/internal/domain/user"
	"orgmessenger/internal/events"
	"orgmessenger/internal/fanout"
	"orgmessenger/internal/presence"
	"orgmessenger/internal/repository"
	"orgmessenger/internal/services"
	"orgmessenger/pkg/logger"
)

type hubHarness struct {
	db       *gorm.DB
	hub      *Hub
	registry *presence.Registry
	messages repository.MessageRepository
}

func newHubHarness(t *testing.T) *hubHarness {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New().String())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&user.User{},
		&chat.Group{},
		&chat.GroupMember{},
		&chat.Channel{},
		&chat.ChannelMember{},
		&message.Message{},
		&message.Attachment{},
		&message.ReadMarker{},
		&message.Reaction{},
	))

	userRepo := repository.NewUserRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	membershipRepo := repository.NewMembershipRepository(db)

	registry := presence.NewRegistry(userRepo, nil, logger.NewNop())
	tracker := delivery.NewTracker(messageRepo)
	router := fanout.NewRouter(registry, membershipRepo, logger.NewNop())
	chatService := services.NewChatService(messageRepo, userRepo, membershipRepo, tracker, config.MessageConfig{
		AllowEdit:       true,
		AllowDelete:     true,
		EditTimeLimit:   time.Hour,
		DeleteTimeLimit: time.Hour,
		PageSize:        50,
	}, logger.NewNop())

	return &hubHarness{
		db:       db,
		hub:      NewHub(registry, tracker, router, chatService, Settings{}, logger.NewNop()),
		registry: registry,
		messages: messageRepo,
	}
}

func (h *hubHarness) seedUser(t *testing.T) user.User {
	t.Helper()
	u := user.User{
		ID:        uuid.New(),
		Username:  "user-" + uuid.New().String()[:8],
		FirstName: "Hub",
		LastName:  "Tester",
		IsActive:  true,
		CreatedAt: time.Now(),
	}
	require.NoError(t, h.db.Create(&u).Error)
	return u
}

// join registers a socketless client whose outbound frames accumulate in its
// send buffer.
func (h *hubHarness) join(t *testing.T, userID uuid.UUID) *Client {
	t.Helper()
	client := NewClient(h.hub, nil, userID)
	h.hub.handleRegister(client)
	return client
}

// drain decodes every buffered outbound frame.
func drain(t *testing.T, c *Client) []events.Envelope {
	t.Helper()
	var out []events.Envelope
	for {
		select {
		case payload := <-c.send:
			var env events.Envelope
			require.NoError(t, json.Unmarshal(payload, &env))
			out = append(out, env)
		default:
			return out
		}
	}
}

func eventTypes(envs []events.Envelope) []string {
	types := make([]string, len(envs))
	for i, env := range envs {
		types[i] = env.Type
	}
	return types
}

func TestHubRegister(t *testing.T) {
	t.Run("first connection broadcasts online to others", func(t *testing.T) {
		h := newHubHarness(t)
		alice := h.seedUser(t)
		bob := h.seedUser(t)

		aliceConn := h.join(t, alice.ID)
		_ = h.join(t, bob.ID)

		envs := drain(t, aliceConn)
		require.Len(t, envs, 1)
		assert.Equal(t, events.TypeUserOnline, envs[0].Type)

		var payload events.UserOnline
		require.NoError(t, json.Unmarshal(envs[0].Payload, &payload))
		assert.Equal(t, bob.ID, payload.UserID)
	})

	t.Run("second tab does not rebroadcast", func(t *testing.T) {
		h := newHubHarness(t)
		alice := h.seedUser(t)
		bob := h.seedUser(t)

		aliceConn := h.join(t, alice.ID)
		_ = h.join(t, bob.ID)
		drain(t, aliceConn)

		_ = h.join(t, bob.ID)
		assert.Empty(t, drain(t, aliceConn))
	})

	t.Run("reconnect replays pending as delivered", func(t *testing.T) {
		h := newHubHarness(t)
		sender := h.seedUser(t)
		receiver := h.seedUser(t)

		senderConn := h.join(t, sender.ID)

		// Message queued while the receiver was offline.
		pending := message.Message{
			ID:         uuid.New(),
			SenderID:   sender.ID,
			ReceiverID: uuid.NullUUID{UUID: receiver.ID, Valid: true},
			Content:    "catch up",
			Type:       message.TypeText,
			CreatedAt:  time.Now(),
			SentAt:     time.Now(),
		}
		require.NoError(t, h.messages.Create(context.Background(), &pending))

		_ = h.join(t, receiver.ID)

		envs := drain(t, senderConn)
		types := eventTypes(envs)
		assert.Contains(t, types, events.TypeUserOnline)
		assert.Contains(t, types, events.TypeMessageDelivered)

		stored, err := h.messages.GetByID(context.Background(), pending.ID)
		require.NoError(t, err)
		assert.True(t, stored.IsDelivered)
	})
}

func TestHubUnregister(t *testing.T) {
	h := newHubHarness(t)
	alice := h.seedUser(t)
	bob := h.seedUser(t)

	aliceConn := h.join(t, alice.ID)
	bobConn := h.join(t, bob.ID)
	drain(t, aliceConn)

	h.hub.handleUnregister(bobConn)

	envs := drain(t, aliceConn)
	require.Len(t, envs, 1)
	assert.Equal(t, events.TypeUserOffline, envs[0].Type)

	var payload events.UserOffline
	require.NoError(t, json.Unmarshal(envs[0].Payload, &payload))
	assert.Equal(t, bob.ID, payload.UserID)
	assert.False(t, payload.LastSeenAt.IsZero())
}

func TestHubSendMessage(t *testing.T) {
	t.Run("online private flow confirms, fans out and delivers", func(t *testing.T) {
		h := newHubHarness(t)
		sender := h.seedUser(t)
		receiver := h.seedUser(t)

		senderConn := h.join(t, sender.ID)
		receiverConn := h.join(t, receiver.ID)
		drain(t, senderConn)

		h.hub.handleSendMessage(senderConn, ClientAction{
			Type:       ActionSendMessage,
			TempID:     "tmp-1",
			ReceiverID: uuid.NullUUID{UUID: receiver.ID, Valid: true},
			Content:    "hello there",
		})

		senderEnvs := drain(t, senderConn)
		types := eventTypes(senderEnvs)
		assert.Contains(t, types, events.TypeMessageConfirmed)
		assert.Contains(t, types, events.TypeMessageDelivered)

		var confirmed events.MessageConfirmed
		for _, env := range senderEnvs {
			if env.Type == events.TypeMessageConfirmed {
				require.NoError(t, json.Unmarshal(env.Payload, &confirmed))
			}
		}
		assert.Equal(t, "tmp-1", confirmed.TempID)
		assert.Equal(t, "hello there", confirmed.Message.Content)

		receiverEnvs := drain(t, receiverConn)
		require.Len(t, receiverEnvs, 1)
		assert.Equal(t, events.TypeMessageReceived, receiverEnvs[0].Type)
	})

	t.Run("offline recipient leaves the message sent", func(t *testing.T) {
		h := newHubHarness(t)
		sender := h.seedUser(t)
		receiver := h.seedUser(t)

		senderConn := h.join(t, sender.ID)

		h.hub.handleSendMessage(senderConn, ClientAction{
			Type:       ActionSendMessage,
			TempID:     "tmp-2",
			ReceiverID: uuid.NullUUID{UUID: receiver.ID, Valid: true},
			Content:    "are you there",
		})

		types := eventTypes(drain(t, senderConn))
		assert.Contains(t, types, events.TypeMessageConfirmed)
		assert.NotContains(t, types, events.TypeMessageDelivered)
	})

	t.Run("invalid target sends caller-only error", func(t *testing.T) {
		h := newHubHarness(t)
		sender := h.seedUser(t)

		senderConn := h.join(t, sender.ID)

		h.hub.handleSendMessage(senderConn, ClientAction{
			Type:    ActionSendMessage,
			TempID:  "tmp-3",
			Content: "nowhere",
		})

		envs := drain(t, senderConn)
		require.Len(t, envs, 1)
		assert.Equal(t, events.TypeError, envs[0].Type)

		var errEv events.ErrorEvent
		require.NoError(t, json.Unmarshal(envs[0].Payload, &errEv))
		assert.Equal(t, events.CodeInvalidInput, errEv.Code)
	})
}

func TestHubMarkRead(t *testing.T) {
	h := newHubHarness(t)
	sender := h.seedUser(t)
	receiver := h.seedUser(t)

	senderConn := h.join(t, sender.ID)
	receiverConn := h.join(t, receiver.ID)
	drain(t, senderConn)

	h.hub.handleSendMessage(senderConn, ClientAction{
		Type:       ActionSendMessage,
		TempID:     "tmp-r",
		ReceiverID: uuid.NullUUID{UUID: receiver.ID, Valid: true},
		Content:    "read me",
	})
	drain(t, senderConn)

	receiverEnvs := drain(t, receiverConn)
	require.Len(t, receiverEnvs, 1)
	var received events.MessageReceived
	require.NoError(t, json.Unmarshal(receiverEnvs[0].Payload, &received))

	h.hub.handleMarkRead(receiverConn, ClientAction{
		Type:       ActionMarkRead,
		MessageIDs: []uuid.UUID{received.Message.ID},
	})

	envs := drain(t, senderConn)
	require.Len(t, envs, 1)
	assert.Equal(t, events.TypeMessageRead, envs[0].Type)

	var read events.MessageRead
	require.NoError(t, json.Unmarshal(envs[0].Payload, &read))
	assert.Equal(t, received.Message.ID, read.MessageID)
	assert.Equal(t, receiver.ID, read.ReaderID)
}

func TestHubTyping(t *testing.T) {
	h := newHubHarness(t)
	alice := h.seedUser(t)
	bob := h.seedUser(t)

	aliceConn := h.join(t, alice.ID)
	bobConn := h.join(t, bob.ID)
	drain(t, aliceConn)

	h.hub.handleTyping(aliceConn, ClientAction{
		Type:       ActionTypingStart,
		ReceiverID: uuid.NullUUID{UUID: bob.ID, Valid: true},
	}, true)

	// Indicator reaches the peer, never echoes to the typist.
	bobEnvs := drain(t, bobConn)
	require.Len(t, bobEnvs, 1)
	assert.Equal(t, events.TypeTypingStarted, bobEnvs[0].Type)
	assert.Empty(t, drain(t, aliceConn))

	var typing events.Typing
	require.NoError(t, json.Unmarshal(bobEnvs[0].Payload, &typing))
	assert.Equal(t, alice.ID, typing.UserID)
}
