package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event is the closed set of server-to-client pushes. Every variant is a
// concrete struct; nothing dynamic crosses the wire.
type Event interface {
	EventType() string
}

// Envelope is the wire frame around every outbound event.
type Envelope struct {
	Type       string          `json:"type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// Marshal wraps an event in its envelope.
func Marshal(ev Event) ([]byte, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{
		Type:       ev.EventType(),
		OccurredAt: time.Now(),
		Payload:    payload,
	})
}

// AttachmentDTO is file metadata as shown to clients.
type AttachmentDTO struct {
	ID       uuid.UUID `json:"id"`
	FileName string    `json:"file_name"`
	FileURL  string    `json:"file_url"`
	FileSize int64     `json:"file_size"`
	FileType string    `json:"file_type"`
}

// ReactionDTO is one reaction row as shown to clients.
type ReactionDTO struct {
	UserID uuid.UUID `json:"user_id"`
	Emoji  string    `json:"emoji"`
}

// MessageDTO is the client-facing projection of a message.
type MessageDTO struct {
	ID               uuid.UUID       `json:"id"`
	SenderID         uuid.UUID       `json:"sender_id"`
	SenderName       string          `json:"sender_name,omitempty"`
	SenderAvatar     string          `json:"sender_avatar,omitempty"`
	ReceiverID       *uuid.UUID      `json:"receiver_id,omitempty"`
	GroupID          *uuid.UUID      `json:"group_id,omitempty"`
	ChannelID        *uuid.UUID      `json:"channel_id,omitempty"`
	Content          string          `json:"content"`
	Type             string          `json:"message_type"`
	ReplyToID        *uuid.UUID      `json:"reply_to_id,omitempty"`
	SentAt           time.Time       `json:"sent_at"`
	DeliveryState    string          `json:"delivery_state"`
	IsEdited         bool            `json:"is_edited"`
	EditedAt         *time.Time      `json:"edited_at,omitempty"`
	IsDeleted        bool            `json:"is_deleted"`
	DeleteVisibility string          `json:"delete_visibility,omitempty"`
	Attachments      []AttachmentDTO `json:"attachments"`
	Reactions        []ReactionDTO   `json:"reactions,omitempty"`
}

type MessageReceived struct {
	Message MessageDTO `json:"message"`
}

// MessageConfirmed resolves a client temp id to the persisted identity.
type MessageConfirmed struct {
	TempID  string     `json:"temp_id"`
	Message MessageDTO `json:"message"`
}

type MessageDelivered struct {
	MessageID   uuid.UUID `json:"message_id"`
	DeliveredAt time.Time `json:"delivered_at"`
}

type MessageRead struct {
	MessageID uuid.UUID `json:"message_id"`
	ReaderID  uuid.UUID `json:"reader_id"`
	ReadAt    time.Time `json:"read_at"`
}

type MessageEdited struct {
	MessageID  uuid.UUID `json:"message_id"`
	NewContent string    `json:"new_content"`
	EditedAt   time.Time `json:"edited_at"`
}

type MessageDeleted struct {
	MessageID  uuid.UUID `json:"message_id"`
	Visibility string    `json:"visibility"`
}

type ReactionChanged struct {
	MessageID uuid.UUID     `json:"message_id"`
	Reactions []ReactionDTO `json:"reactions"`
}

type UserOnline struct {
	UserID uuid.UUID `json:"user_id"`
}

type UserOffline struct {
	UserID     uuid.UUID `json:"user_id"`
	LastSeenAt time.Time `json:"last_seen_at"`
}

// Typing carries the conversation the typing happens in, so clients can
// scope the indicator.
type Typing struct {
	UserID     uuid.UUID  `json:"user_id"`
	ReceiverID *uuid.UUID `json:"receiver_id,omitempty"`
	GroupID    *uuid.UUID `json:"group_id,omitempty"`
	ChannelID  *uuid.UUID `json:"channel_id,omitempty"`
	Started    bool       `json:"-"`
}

type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type Pong struct{}

func (MessageReceived) EventType() string  { return TypeMessageReceived }
func (MessageConfirmed) EventType() string { return TypeMessageConfirmed }
func (MessageDelivered) EventType() string { return TypeMessageDelivered }
func (MessageRead) EventType() string      { return TypeMessageRead }
func (MessageEdited) EventType() string    { return TypeMessageEdited }
func (MessageDeleted) EventType() string   { return TypeMessageDeleted }
func (ReactionChanged) EventType() string  { return TypeReactionChanged }
func (UserOnline) EventType() string       { return TypeUserOnline }
func (UserOffline) EventType() string      { return TypeUserOffline }
func (ErrorEvent) EventType() string       { return TypeError }
func (Pong) EventType() string             { return TypePong }

func (t Typing) EventType() string {
	if t.Started {
		return TypeTypingStarted
	}
	return TypeTypingStopped
}
