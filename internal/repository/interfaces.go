package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"orgmessenger/internal/domain/chat"
	"orgmessenger/internal/domain/message"
	"orgmessenger/internal/domain/user"
)

type UserRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (user.User, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]user.User, error)
	GetContacts(ctx context.Context, userID uuid.UUID) ([]user.User, error)

	// UpdatePresence persists the online flag and last-seen timestamp in one
	// write. Presence transitions call this before any broadcast goes out.
	UpdatePresence(ctx context.Context, userID uuid.UUID, isOnline bool, lastSeen time.Time) error
}

// ConversationTarget identifies the destination side of a message query.
// Exactly one field is set.
type ConversationTarget struct {
	PeerID    uuid.NullUUID
	GroupID   uuid.NullUUID
	ChannelID uuid.NullUUID
}

type MessageRepository interface {
	Create(ctx context.Context, m *message.Message) error
	GetByID(ctx context.Context, id uuid.UUID) (message.Message, error)
	GetByClientMessageID(ctx context.Context, clientMsgID string) (message.Message, error)

	// GetConversation returns up to limit messages for the target, newest
	// first, older than the cursor message when beforeID is set.
	GetConversation(ctx context.Context, viewerID uuid.UUID, target ConversationTarget, beforeID uuid.NullUUID, limit int) ([]message.Message, error)

	GetPendingForRecipient(ctx context.Context, recipientID uuid.UUID) ([]message.Message, error)
	MarkDelivered(ctx context.Context, ids []uuid.UUID, recipientID uuid.UUID, at time.Time) ([]uuid.UUID, error)
	MarkReadPrivate(ctx context.Context, ids []uuid.UUID, readerID uuid.UUID, at time.Time) ([]uuid.UUID, error)
	InsertReadMarkers(ctx context.Context, markers []message.ReadMarker) ([]message.ReadMarker, error)

	MarkEdited(ctx context.Context, id uuid.UUID, content string, at time.Time) error
	SoftDelete(ctx context.Context, id uuid.UUID, visibility string, at time.Time) error

	GetUserReaction(ctx context.Context, messageID, userID uuid.UUID) (message.Reaction, error)
	UpsertReaction(ctx context.Context, r *message.Reaction) error
	DeleteReaction(ctx context.Context, messageID, userID uuid.UUID) error
	GetMessageReactions(ctx context.Context, messageID uuid.UUID) ([]message.Reaction, error)

	LastPrivateMessage(ctx context.Context, userID, peerID uuid.UUID) (message.Message, error)
	LastGroupMessage(ctx context.Context, groupID uuid.UUID) (message.Message, error)
	LastChannelMessage(ctx context.Context, channelID uuid.UUID) (message.Message, error)
	UnreadPrivateCount(ctx context.Context, userID, peerID uuid.UUID) (int64, error)
}

type MembershipRepository interface {
	IsGroupMember(ctx context.Context, groupID, userID uuid.UUID) (bool, error)
	IsChannelMember(ctx context.Context, channelID, userID uuid.UUID) (bool, error)
	ActiveGroupMemberIDs(ctx context.Context, groupID uuid.UUID) ([]uuid.UUID, error)
	ActiveChannelMemberIDs(ctx context.Context, channelID uuid.UUID) ([]uuid.UUID, error)

	UserGroups(ctx context.Context, userID uuid.UUID) ([]chat.Group, error)
	UserChannels(ctx context.Context, userID uuid.UUID) ([]chat.Channel, error)
	GroupMemberCount(ctx context.Context, groupID uuid.UUID) (int64, error)
	ChannelMemberCount(ctx context.Context, channelID uuid.UUID) (int64, error)
}
