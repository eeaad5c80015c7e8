package services

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"

	"orgmessenger/internal/repository"
	messenger_errors "orgmessenger/pkg/errors"
	"orgmessenger/pkg/logger"
)

// Conversation list tabs
const (
	TabAll     = "all"
	TabPrivate = "private"
	TabGroup   = "group"
	TabChannel = "channel"
)

// ConversationSummary is one row of the chat list.
type ConversationSummary struct {
	Type            string    `json:"type"`
	ID              uuid.UUID `json:"id"`
	Name            string    `json:"name"`
	AvatarURL       string    `json:"avatar,omitempty"`
	IsOnline        bool      `json:"is_online,omitempty"`
	LastMessage     string    `json:"last_message"`
	LastMessageTime time.Time `json:"last_message_time"`
	UnreadCount     int64     `json:"unread_count,omitempty"`
	MemberCount     int64     `json:"member_count,omitempty"`
	Direction       string    `json:"message_direction,omitempty"`
}

type ConversationService struct {
	messageRepo    repository.MessageRepository
	userRepo       repository.UserRepository
	membershipRepo repository.MembershipRepository
	logger         *logger.Logger
}

func NewConversationService(
	messageRepo repository.MessageRepository,
	userRepo repository.UserRepository,
	membershipRepo repository.MembershipRepository,
	log *logger.Logger,
) *ConversationService {
	return &ConversationService{
		messageRepo:    messageRepo,
		userRepo:       userRepo,
		membershipRepo: membershipRepo,
		logger:         log,
	}
}

const previewLength = 30

// GetConversationList assembles the chat list for one tab, most recent
// activity first.
func (s *ConversationService) GetConversationList(ctx context.Context, userID uuid.UUID, tab string) ([]ConversationSummary, error) {
	if tab == "" {
		tab = TabAll
	}

	var chats []ConversationSummary

	if tab == TabAll || tab == TabPrivate {
		private, err := s.privateChats(ctx, userID)
		if err != nil {
			return nil, err
		}
		chats = append(chats, private...)
	}

	if tab == TabAll || tab == TabGroup {
		groups, err := s.groupChats(ctx, userID)
		if err != nil {
			return nil, err
		}
		chats = append(chats, groups...)
	}

	if tab == TabAll || tab == TabChannel {
		channels, err := s.channelChats(ctx, userID)
		if err != nil {
			return nil, err
		}
		chats = append(chats, channels...)
	}

	sort.SliceStable(chats, func(i, j int) bool {
		return chats[i].LastMessageTime.After(chats[j].LastMessageTime)
	})
	return chats, nil
}

func (s *ConversationService) privateChats(ctx context.Context, userID uuid.UUID) ([]ConversationSummary, error) {
	contacts, err := s.userRepo.GetContacts(ctx, userID)
	if err != nil {
		return nil, storageErr(err)
	}

	summaries := make([]ConversationSummary, 0, len(contacts))
	for _, contact := range contacts {
		summary := ConversationSummary{
			Type:            TabPrivate,
			ID:              contact.ID,
			Name:            contact.FullName(),
			AvatarURL:       contact.AvatarURL,
			IsOnline:        contact.IsOnline,
			LastMessageTime: contact.CreatedAt,
		}

		last, err := s.messageRepo.LastPrivateMessage(ctx, userID, contact.ID)
		switch {
		case err == nil:
			summary.LastMessage = preview(last.Content, last.IsDeleted)
			summary.LastMessageTime = last.CreatedAt
			if last.SenderID == userID {
				summary.Direction = "sent"
			} else {
				summary.Direction = "received"
			}
		case errors.Is(err, messenger_errors.ErrNotFound):
			// Contact with no history yet.
		default:
			return nil, storageErr(err)
		}

		unread, err := s.messageRepo.UnreadPrivateCount(ctx, userID, contact.ID)
		if err != nil {
			return nil, storageErr(err)
		}
		summary.UnreadCount = unread

		summaries = append(summaries, summary)
	}
	return summaries, nil
}

func (s *ConversationService) groupChats(ctx context.Context, userID uuid.UUID) ([]ConversationSummary, error) {
	groups, err := s.membershipRepo.UserGroups(ctx, userID)
	if err != nil {
		return nil, storageErr(err)
	}

	summaries := make([]ConversationSummary, 0, len(groups))
	for _, g := range groups {
		summary := ConversationSummary{
			Type:            TabGroup,
			ID:              g.ID,
			Name:            g.Name,
			AvatarURL:       g.AvatarURL,
			LastMessageTime: g.CreatedAt,
		}

		last, err := s.messageRepo.LastGroupMessage(ctx, g.ID)
		switch {
		case err == nil:
			summary.LastMessage = preview(last.Content, last.IsDeleted)
			summary.LastMessageTime = last.CreatedAt
		case errors.Is(err, messenger_errors.ErrNotFound):
		default:
			return nil, storageErr(err)
		}

		count, err := s.membershipRepo.GroupMemberCount(ctx, g.ID)
		if err != nil {
			return nil, storageErr(err)
		}
		summary.MemberCount = count

		summaries = append(summaries, summary)
	}
	return summaries, nil
}

func (s *ConversationService) channelChats(ctx context.Context, userID uuid.UUID) ([]ConversationSummary, error) {
	channels, err := s.membershipRepo.UserChannels(ctx, userID)
	if err != nil {
		return nil, storageErr(err)
	}

	summaries := make([]ConversationSummary, 0, len(channels))
	for _, ch := range channels {
		summary := ConversationSummary{
			Type:            TabChannel,
			ID:              ch.ID,
			Name:            ch.Name,
			AvatarURL:       ch.AvatarURL,
			LastMessageTime: ch.CreatedAt,
		}

		last, err := s.messageRepo.LastChannelMessage(ctx, ch.ID)
		switch {
		case err == nil:
			summary.LastMessage = preview(last.Content, last.IsDeleted)
			summary.LastMessageTime = last.CreatedAt
		case errors.Is(err, messenger_errors.ErrNotFound):
		default:
			return nil, storageErr(err)
		}

		count, err := s.membershipRepo.ChannelMemberCount(ctx, ch.ID)
		if err != nil {
			return nil, storageErr(err)
		}
		summary.MemberCount = count

		summaries = append(summaries, summary)
	}
	return summaries, nil
}

func preview(content string, deleted bool) string {
	if deleted {
		return ""
	}
	runes := []rune(content)
	if len(runes) <= previewLength {
		return content
	}
	return string(runes[:previewLength]) + "..."
}
