package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"orgmessenger/internal/repository"
	"orgmessenger/internal/services"
	"orgmessenger/internal/transport/httpdto"
	messenger_errors "orgmessenger/pkg/errors"
)

type ChatHandler struct {
	chats         *services.ChatService
	conversations *services.ConversationService
}

func NewChatHandler(chats *services.ChatService, conversations *services.ConversationService) *ChatHandler {
	return &ChatHandler{chats: chats, conversations: conversations}
}

// GetChats returns the conversation list for one tab: all, private, group or
// channel.
func (h *ChatHandler) GetChats(c *gin.Context) {
	userID, ok := services.UserIDFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", "UNAUTHORIZED"))
		return
	}

	tab := c.DefaultQuery("tab", services.TabAll)
	chats, err := h.conversations.GetConversationList(c.Request.Context(), userID, tab)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(chats))
}

// GetMessages pages a conversation backwards from before_id.
func (h *ChatHandler) GetMessages(c *gin.Context) {
	userID, ok := services.UserIDFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", "UNAUTHORIZED"))
		return
	}

	target, err := parseTarget(c.Query("receiver_id"), c.Query("group_id"), c.Query("channel_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid conversation target", "INVALID_REQUEST"))
		return
	}

	var beforeID uuid.NullUUID
	if raw := c.Query("before_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid before_id", "INVALID_REQUEST"))
			return
		}
		beforeID = uuid.NullUUID{UUID: id, Valid: true}
	}

	limit, _ := strconv.Atoi(c.Query("limit"))

	page, err := h.chats.GetMessages(c.Request.Context(), userID, target, beforeID, limit)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(page))
}

// Send is the HTTP fallback for clients without a live socket. Delivery
// fan-out still happens over websockets when recipients are connected.
func (h *ChatHandler) Send(c *gin.Context) {
	userID, ok := services.UserIDFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", "UNAUTHORIZED"))
		return
	}

	var req httpdto.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid request", "INVALID_REQUEST"))
		return
	}

	input := services.SendMessageInput{
		SenderID:        userID,
		Content:         req.Content,
		Type:            req.MessageType,
		ClientMessageID: req.ClientMsgID,
	}
	var err error
	if input.ReceiverID, err = parseNullUUID(req.ReceiverID); err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid receiver_id", "INVALID_REQUEST"))
		return
	}
	if input.GroupID, err = parseNullUUID(req.GroupID); err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid group_id", "INVALID_REQUEST"))
		return
	}
	if input.ChannelID, err = parseNullUUID(req.ChannelID); err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid channel_id", "INVALID_REQUEST"))
		return
	}
	if input.ReplyToID, err = parseNullUUID(req.ReplyToID); err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid reply_to_id", "INVALID_REQUEST"))
		return
	}
	for _, a := range req.Attachments {
		input.Attachments = append(input.Attachments, services.AttachmentInput{
			FileName: a.FileName,
			FileURL:  a.FileURL,
			FileSize: a.FileSize,
			FileType: a.FileType,
		})
	}

	msg, err := h.chats.SendMessage(c.Request.Context(), input)
	if err != nil {
		respondError(c, err)
		return
	}

	dto, err := h.chats.Decorate(c.Request.Context(), msg)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(dto))
}

// MarkRead acknowledges a batch of message ids as read.
func (h *ChatHandler) MarkRead(c *gin.Context) {
	userID, ok := services.UserIDFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", "UNAUTHORIZED"))
		return
	}

	var req httpdto.MarkReadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid request", "INVALID_REQUEST"))
		return
	}

	ids := make([]uuid.UUID, 0, len(req.MessageIDs))
	for _, raw := range req.MessageIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid message id", "INVALID_REQUEST"))
			return
		}
		ids = append(ids, id)
	}

	receipts, err := h.chats.MarkRead(c.Request.Context(), userID, ids, time.Now())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"read": len(receipts)}))
}

// Settings exposes the edit/delete policy so clients can gate their UI.
func (h *ChatHandler) Settings(c *gin.Context) {
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(h.chats.Settings()))
}

func parseTarget(receiver, group, channel string) (repository.ConversationTarget, error) {
	var target repository.ConversationTarget
	var err error
	if target.PeerID, err = parseNullUUID(receiver); err != nil {
		return target, err
	}
	if target.GroupID, err = parseNullUUID(group); err != nil {
		return target, err
	}
	if target.ChannelID, err = parseNullUUID(channel); err != nil {
		return target, err
	}
	return target, nil
}

func parseNullUUID(value string) (uuid.NullUUID, error) {
	if value == "" {
		return uuid.NullUUID{}, nil
	}
	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.NullUUID{}, err
	}
	return uuid.NullUUID{UUID: id, Valid: true}, nil
}

// respondError maps domain sentinels onto HTTP statuses.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, messenger_errors.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse(err.Error(), "UNAUTHORIZED"))
	case errors.Is(err, messenger_errors.ErrForbidden):
		c.JSON(http.StatusForbidden, httpdto.NewErrorResponse(err.Error(), "FORBIDDEN"))
	case errors.Is(err, messenger_errors.ErrNotFound), errors.Is(err, messenger_errors.ErrMessageDeleted):
		c.JSON(http.StatusNotFound, httpdto.NewErrorResponse(err.Error(), "NOT_FOUND"))
	case errors.Is(err, messenger_errors.ErrPolicyExpired):
		c.JSON(http.StatusUnprocessableEntity, httpdto.NewErrorResponse(err.Error(), "POLICY_EXPIRED"))
	case errors.Is(err, messenger_errors.ErrStorageUnavailable):
		c.JSON(http.StatusServiceUnavailable, httpdto.NewErrorResponse(err.Error(), "STORAGE_UNAVAILABLE"))
	default:
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse(err.Error(), "INVALID_REQUEST"))
	}
}
