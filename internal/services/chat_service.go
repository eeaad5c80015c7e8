package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"orgmessenger/internal/config"
	"orgmessenger/internal/delivery"
	"orgmessenger/internal/domain/message"
	"orgmessenger/internal/domain/user"
	"orgmessenger/internal/events"
	"orgmessenger/internal/repository"
	messenger_errors "orgmessenger/pkg/errors"
	"orgmessenger/pkg/logger"
)

type ChatService struct {
	messageRepo    repository.MessageRepository
	userRepo       repository.UserRepository
	membershipRepo repository.MembershipRepository
	tracker        *delivery.Tracker
	policy         config.MessageConfig
	logger         *logger.Logger
}

func NewChatService(
	messageRepo repository.MessageRepository,
	userRepo repository.UserRepository,
	membershipRepo repository.MembershipRepository,
	tracker *delivery.Tracker,
	policy config.MessageConfig,
	log *logger.Logger,
) *ChatService {
	return &ChatService{
		messageRepo:    messageRepo,
		userRepo:       userRepo,
		membershipRepo: membershipRepo,
		tracker:        tracker,
		policy:         policy,
		logger:         log,
	}
}

type AttachmentInput struct {
	FileName string
	FileURL  string
	FileSize int64
	FileType string
}

type SendMessageInput struct {
	SenderID        uuid.UUID
	ReceiverID      uuid.NullUUID
	GroupID         uuid.NullUUID
	ChannelID       uuid.NullUUID
	Content         string
	Type            string
	ReplyToID       uuid.NullUUID
	ClientMessageID string
	Attachments     []AttachmentInput
}

// MessageSettings mirrors the edit/delete policy for clients.
type MessageSettings struct {
	AllowEdit       bool  `json:"allow_edit"`
	AllowDelete     bool  `json:"allow_delete"`
	EditTimeLimit   int64 `json:"edit_time_limit"`
	DeleteTimeLimit int64 `json:"delete_time_limit"`
}

// SendMessage validates and persists a message in Sent state. A resend with
// a client message id already on record returns the original row, so client
// retries after a dropped connection cannot duplicate.
func (s *ChatService) SendMessage(ctx context.Context, input SendMessageInput) (message.Message, error) {
	sender, err := s.userRepo.GetByID(ctx, input.SenderID)
	if err != nil {
		return message.Message{}, err
	}
	if !sender.CanSend() {
		return message.Message{}, messenger_errors.ErrUnauthorized
	}

	if input.ClientMessageID != "" {
		existing, err := s.messageRepo.GetByClientMessageID(ctx, input.ClientMessageID)
		if err == nil && existing.SenderID == input.SenderID {
			return existing, nil
		}
		if err != nil && !errors.Is(err, messenger_errors.ErrNotFound) {
			return message.Message{}, storageErr(err)
		}
	}

	if err := s.CanAccess(ctx, input.SenderID, input.ReceiverID, input.GroupID, input.ChannelID); err != nil {
		return message.Message{}, err
	}

	now := time.Now()
	msg := message.Message{
		ID:         uuid.New(),
		SenderID:   input.SenderID,
		ReceiverID: input.ReceiverID,
		GroupID:    input.GroupID,
		ChannelID:  input.ChannelID,
		Content:    input.Content,
		Type:       normalizeType(input.Type),
		ReplyToID:  input.ReplyToID,
		CreatedAt:  now,
		SentAt:     now,
	}
	if input.ClientMessageID != "" {
		msg.ClientMessageID = nullString(input.ClientMessageID)
	}
	for _, a := range input.Attachments {
		msg.Attachments = append(msg.Attachments, message.Attachment{
			ID:        uuid.New(),
			MessageID: msg.ID,
			FileName:  a.FileName,
			FileURL:   a.FileURL,
			FileSize:  a.FileSize,
			FileType:  a.FileType,
			CreatedAt: now,
		})
	}

	if err := msg.Validate(); err != nil {
		return message.Message{}, err
	}

	if msg.ReplyToID.Valid {
		if _, err := s.messageRepo.GetByID(ctx, msg.ReplyToID.UUID); err != nil {
			if errors.Is(err, messenger_errors.ErrNotFound) {
				return message.Message{}, messenger_errors.ErrNotFound
			}
			return message.Message{}, storageErr(err)
		}
	}

	if err := s.messageRepo.Create(ctx, &msg); err != nil {
		if errors.Is(err, messenger_errors.ErrAlreadyExists) && input.ClientMessageID != "" {
			// Lost the race against our own retry.
			return s.messageRepo.GetByClientMessageID(ctx, input.ClientMessageID)
		}
		return message.Message{}, storageErr(err)
	}
	return msg, nil
}

// EditMessage rewrites content within the policy window. Only the author may
// edit, and a soft-deleted message never re-enters editing.
func (s *ChatService) EditMessage(ctx context.Context, editorID, messageID uuid.UUID, newContent string) (message.Message, error) {
	if newContent == "" {
		return message.Message{}, messenger_errors.ErrInvalidInput
	}
	msg, err := s.messageRepo.GetByID(ctx, messageID)
	if err != nil {
		return message.Message{}, err
	}
	if msg.SenderID != editorID {
		return message.Message{}, messenger_errors.ErrForbidden
	}
	if msg.IsDeleted {
		return message.Message{}, messenger_errors.ErrMessageDeleted
	}
	if !s.policy.AllowEdit || time.Since(msg.SentAt) > s.policy.EditTimeLimit {
		return message.Message{}, messenger_errors.ErrPolicyExpired
	}

	now := time.Now()
	if err := s.messageRepo.MarkEdited(ctx, messageID, newContent, now); err != nil {
		return message.Message{}, storageErr(err)
	}

	msg.Content = newContent
	msg.IsEdited = true
	msg.EditedAt = nullTime(now)
	return msg, nil
}

// DeleteMessage soft-deletes within the policy window. The visibility mode
// decides whether peers see a tombstone or the message vanishes.
func (s *ChatService) DeleteMessage(ctx context.Context, actorID, messageID uuid.UUID, visibility string) (message.Message, error) {
	if visibility == "" {
		visibility = message.DeleteVisibilityNotice
	}
	if visibility != message.DeleteVisibilityNotice && visibility != message.DeleteVisibilityHard {
		return message.Message{}, messenger_errors.ErrInvalidInput
	}

	msg, err := s.messageRepo.GetByID(ctx, messageID)
	if err != nil {
		return message.Message{}, err
	}
	if msg.SenderID != actorID {
		return message.Message{}, messenger_errors.ErrForbidden
	}
	if msg.IsDeleted {
		return msg, nil
	}
	if !s.policy.AllowDelete || time.Since(msg.SentAt) > s.policy.DeleteTimeLimit {
		return message.Message{}, messenger_errors.ErrPolicyExpired
	}

	now := time.Now()
	if err := s.messageRepo.SoftDelete(ctx, messageID, visibility, now); err != nil {
		return message.Message{}, storageErr(err)
	}

	msg.IsDeleted = true
	msg.DeletedAt = nullTime(now)
	msg.DeleteVisibility = visibility
	return msg, nil
}

// React toggles or replaces the caller's reaction and returns the message's
// full reaction set afterwards. Re-applying the same emoji removes it.
func (s *ChatService) React(ctx context.Context, userID, messageID uuid.UUID, emoji string) (message.Message, []events.ReactionDTO, error) {
	if emoji == "" {
		return message.Message{}, nil, messenger_errors.ErrInvalidInput
	}
	msg, err := s.messageRepo.GetByID(ctx, messageID)
	if err != nil {
		return message.Message{}, nil, err
	}
	if msg.IsDeleted {
		return message.Message{}, nil, messenger_errors.ErrMessageDeleted
	}
	if err := s.canView(ctx, userID, msg); err != nil {
		return message.Message{}, nil, err
	}

	existing, err := s.messageRepo.GetUserReaction(ctx, messageID, userID)
	switch {
	case err == nil && existing.Emoji == emoji:
		if err := s.messageRepo.DeleteReaction(ctx, messageID, userID); err != nil {
			return message.Message{}, nil, storageErr(err)
		}
	case err == nil || errors.Is(err, messenger_errors.ErrNotFound):
		reaction := message.Reaction{
			MessageID: messageID,
			UserID:    userID,
			Emoji:     emoji,
			CreatedAt: time.Now(),
		}
		if err := s.messageRepo.UpsertReaction(ctx, &reaction); err != nil {
			return message.Message{}, nil, storageErr(err)
		}
	default:
		return message.Message{}, nil, storageErr(err)
	}

	reactions, err := s.messageRepo.GetMessageReactions(ctx, messageID)
	if err != nil {
		return message.Message{}, nil, storageErr(err)
	}
	dtos := make([]events.ReactionDTO, 0, len(reactions))
	for _, r := range reactions {
		dtos = append(dtos, events.ReactionDTO{UserID: r.UserID, Emoji: r.Emoji})
	}
	return msg, dtos, nil
}

// MarkRead forwards a batched read ack to the delivery tracker.
func (s *ChatService) MarkRead(ctx context.Context, readerID uuid.UUID, messageIDs []uuid.UUID, at time.Time) ([]delivery.ReadReceipt, error) {
	return s.tracker.MarkRead(ctx, messageIDs, readerID, at)
}

// MessagesPage is one backward-paginated slice of a conversation, oldest
// first within the page.
type MessagesPage struct {
	Messages []events.MessageDTO `json:"messages"`
	HasMore  bool                `json:"has_more"`
}

func (s *ChatService) GetMessages(ctx context.Context, viewerID uuid.UUID, target repository.ConversationTarget, beforeID uuid.NullUUID, pageSize int) (MessagesPage, error) {
	if err := s.CanAccess(ctx, viewerID, target.PeerID, target.GroupID, target.ChannelID); err != nil {
		return MessagesPage{}, err
	}
	if pageSize <= 0 || pageSize > 200 {
		pageSize = s.policy.PageSize
	}

	// One extra row decides has_more.
	msgs, err := s.messageRepo.GetConversation(ctx, viewerID, target, beforeID, pageSize+1)
	if err != nil {
		return MessagesPage{}, storageErr(err)
	}

	hasMore := len(msgs) > pageSize
	if hasMore {
		msgs = msgs[:pageSize]
	}

	// Repo returns newest first; clients render oldest first.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}

	dtos, err := s.DecorateMessages(ctx, msgs)
	if err != nil {
		return MessagesPage{}, err
	}
	return MessagesPage{Messages: dtos, HasMore: hasMore}, nil
}

func (s *ChatService) Settings() MessageSettings {
	return MessageSettings{
		AllowEdit:       s.policy.AllowEdit,
		AllowDelete:     s.policy.AllowDelete,
		EditTimeLimit:   int64(s.policy.EditTimeLimit.Seconds()),
		DeleteTimeLimit: int64(s.policy.DeleteTimeLimit.Seconds()),
	}
}

// CanAccess enforces the authorization rule shared by send, history and
// typing: group and channel targets require active membership. Exactly one
// target must be set.
func (s *ChatService) CanAccess(ctx context.Context, userID uuid.UUID, receiverID, groupID, channelID uuid.NullUUID) error {
	targets := 0
	if receiverID.Valid {
		targets++
	}
	if groupID.Valid {
		targets++
	}
	if channelID.Valid {
		targets++
	}
	if targets != 1 {
		return messenger_errors.ErrInvalidTarget
	}

	switch {
	case groupID.Valid:
		ok, err := s.membershipRepo.IsGroupMember(ctx, groupID.UUID, userID)
		if err != nil {
			return storageErr(err)
		}
		if !ok {
			return messenger_errors.ErrForbidden
		}
	case channelID.Valid:
		ok, err := s.membershipRepo.IsChannelMember(ctx, channelID.UUID, userID)
		if err != nil {
			return storageErr(err)
		}
		if !ok {
			return messenger_errors.ErrForbidden
		}
	}
	return nil
}

func (s *ChatService) canView(ctx context.Context, userID uuid.UUID, msg message.Message) error {
	if msg.IsPrivate() {
		if msg.SenderID != userID && msg.ReceiverID.UUID != userID {
			return messenger_errors.ErrForbidden
		}
		return nil
	}
	return s.CanAccess(ctx, userID, uuid.NullUUID{}, msg.GroupID, msg.ChannelID)
}

// ToDTO projects a message for the wire. Tombstoned content is redacted
// here so deleted text never leaves the server.
func ToDTO(m message.Message, sender user.User) events.MessageDTO {
	dto := events.MessageDTO{
		ID:            m.ID,
		SenderID:      m.SenderID,
		SenderName:    sender.FullName(),
		SenderAvatar:  sender.AvatarURL,
		Content:       m.Content,
		Type:          m.Type,
		SentAt:        m.SentAt,
		DeliveryState: m.DeliveryState(),
		IsEdited:      m.IsEdited,
		IsDeleted:     m.IsDeleted,
		Attachments:   make([]events.AttachmentDTO, 0, len(m.Attachments)),
	}
	if m.ReceiverID.Valid {
		id := m.ReceiverID.UUID
		dto.ReceiverID = &id
	}
	if m.GroupID.Valid {
		id := m.GroupID.UUID
		dto.GroupID = &id
	}
	if m.ChannelID.Valid {
		id := m.ChannelID.UUID
		dto.ChannelID = &id
	}
	if m.ReplyToID.Valid {
		id := m.ReplyToID.UUID
		dto.ReplyToID = &id
	}
	if m.EditedAt.Valid {
		at := m.EditedAt.Time
		dto.EditedAt = &at
	}
	if m.IsDeleted {
		dto.Content = ""
		dto.DeleteVisibility = m.DeleteVisibility
		dto.Attachments = nil
		return dto
	}
	for _, a := range m.Attachments {
		dto.Attachments = append(dto.Attachments, events.AttachmentDTO{
			ID:       a.ID,
			FileName: a.FileName,
			FileURL:  a.FileURL,
			FileSize: a.FileSize,
			FileType: a.FileType,
		})
	}
	return dto
}

// DecorateMessages resolves sender identities for a batch of messages.
func (s *ChatService) DecorateMessages(ctx context.Context, msgs []message.Message) ([]events.MessageDTO, error) {
	senderIDs := make([]uuid.UUID, 0, len(msgs))
	seen := make(map[uuid.UUID]bool, len(msgs))
	for _, m := range msgs {
		if !seen[m.SenderID] {
			seen[m.SenderID] = true
			senderIDs = append(senderIDs, m.SenderID)
		}
	}

	senders, err := s.userRepo.GetByIDs(ctx, senderIDs)
	if err != nil {
		return nil, storageErr(err)
	}
	byID := make(map[uuid.UUID]user.User, len(senders))
	for _, u := range senders {
		byID[u.ID] = u
	}

	dtos := make([]events.MessageDTO, 0, len(msgs))
	for _, m := range msgs {
		dtos = append(dtos, ToDTO(m, byID[m.SenderID]))
	}
	return dtos, nil
}

// Decorate resolves the sender identity for a single message.
func (s *ChatService) Decorate(ctx context.Context, m message.Message) (events.MessageDTO, error) {
	sender, err := s.userRepo.GetByID(ctx, m.SenderID)
	if err != nil && !errors.Is(err, messenger_errors.ErrNotFound) {
		return events.MessageDTO{}, storageErr(err)
	}
	return ToDTO(m, sender), nil
}

func normalizeType(t string) string {
	switch t {
	case message.TypeImage, message.TypeVideo, message.TypeAudio, message.TypeDocument:
		return t
	default:
		return message.TypeText
	}
}

func nullString(value string) sql.NullString {
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}

func nullTime(value time.Time) sql.NullTime {
	return sql.NullTime{Time: value, Valid: true}
}

func storageErr(err error) error {
	if err == nil ||
		errors.Is(err, messenger_errors.ErrNotFound) ||
		errors.Is(err, messenger_errors.ErrAlreadyExists) {
		return err
	}
	return fmt.Errorf("%w: %v", messenger_errors.ErrStorageUnavailable, err)
}
