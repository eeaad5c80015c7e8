package message

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	messenger_errors "orgmessenger/pkg/errors"
)

// Message types
const (
	TypeText     = "TEXT"
	TypeImage    = "IMAGE"
	TypeVideo    = "VIDEO"
	TypeAudio    = "AUDIO"
	TypeDocument = "DOCUMENT"
)

// Deletion visibility modes. "notice" leaves a tombstone for both parties,
// "hard" removes the message from peers' timelines entirely.
const (
	DeleteVisibilityNotice = "notice"
	DeleteVisibilityHard   = "hard"
)

// Message represents the messages table. Exactly one of ReceiverID, GroupID
// and ChannelID is set; rows are never physically removed on delete.
type Message struct {
	ID         uuid.UUID     `gorm:"type:uuid;primaryKey"`
	SenderID   uuid.UUID     `gorm:"type:uuid;index"`
	ReceiverID uuid.NullUUID `gorm:"type:uuid;index"`
	GroupID    uuid.NullUUID `gorm:"type:uuid;index"`
	ChannelID  uuid.NullUUID `gorm:"type:uuid;index"`

	Content         string
	Type            string         `gorm:"default:TEXT"`
	ClientMessageID sql.NullString `gorm:"uniqueIndex"`
	ReplyToID       uuid.NullUUID  `gorm:"type:uuid"`

	CreatedAt time.Time
	SentAt    time.Time

	IsDelivered bool `gorm:"default:false"`
	DeliveredAt sql.NullTime

	// Private-chat read state. Group/channel reads live in read_markers.
	IsRead bool `gorm:"default:false"`
	ReadAt sql.NullTime

	IsEdited bool `gorm:"default:false"`
	EditedAt sql.NullTime

	IsDeleted        bool `gorm:"default:false"`
	DeletedAt        sql.NullTime
	DeleteVisibility string

	Attachments []Attachment `gorm:"foreignKey:MessageID"`
}

// Attachment stores file metadata only; the binary lives in external storage.
type Attachment struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	MessageID uuid.UUID `gorm:"type:uuid;index"`
	FileName  string
	FileURL   string
	FileSize  int64
	FileType  string
	CreatedAt time.Time
}

// ReadMarker tracks per-reader reads for group and channel messages.
type ReadMarker struct {
	MessageID uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID    uuid.UUID `gorm:"type:uuid;primaryKey"`
	ReadAt    time.Time
}

// Reaction holds at most one row per (message, user); a new emoji replaces
// the previous one.
type Reaction struct {
	MessageID uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID    uuid.UUID `gorm:"type:uuid;primaryKey"`
	Emoji     string
	CreatedAt time.Time
}

func (Message) TableName() string {
	return "messages"
}

func (Attachment) TableName() string {
	return "attachments"
}

func (ReadMarker) TableName() string {
	return "read_markers"
}

func (Reaction) TableName() string {
	return "message_reactions"
}

// Validate enforces the single-target invariant and non-empty content.
// Attachment-only messages carry the generated caption as content.
func (m Message) Validate() error {
	targets := 0
	if m.ReceiverID.Valid {
		targets++
	}
	if m.GroupID.Valid {
		targets++
	}
	if m.ChannelID.Valid {
		targets++
	}
	if targets != 1 {
		return messenger_errors.ErrInvalidTarget
	}
	if m.Content == "" && len(m.Attachments) == 0 {
		return messenger_errors.ErrInvalidInput
	}
	if m.SenderID == uuid.Nil {
		return messenger_errors.ErrInvalidInput
	}
	if m.ReceiverID.Valid && m.ReceiverID.UUID == m.SenderID {
		return messenger_errors.ErrInvalidInput
	}
	return nil
}

// IsPrivate reports whether the message targets a single recipient.
func (m Message) IsPrivate() bool {
	return m.ReceiverID.Valid
}

// DeliveryState derives the wire-visible state from the persisted flags.
func (m Message) DeliveryState() string {
	switch {
	case m.IsRead:
		return "read"
	case m.IsDelivered:
		return "delivered"
	default:
		return "sent"
	}
}
