package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"orgmessenger/internal/delivery"
	"orgmessenger/internal/events"
	"orgmessenger/internal/fanout"
	"orgmessenger/internal/presence"
	"orgmessenger/internal/services"
	messenger_errors "orgmessenger/pkg/errors"
	"orgmessenger/pkg/logger"
)

const actionTimeout = 10 * time.Second

// Hub owns connection lifecycle and turns inbound client actions into
// service calls plus outbound event fan-out. Registration and removal are
// serialized through the run loop; action handlers execute on each
// connection's read goroutine.
type Hub struct {
	registry *presence.Registry
	tracker  *delivery.Tracker
	router   *fanout.Router
	chats    *services.ChatService
	logger   *logger.Logger
	settings Settings

	register   chan *Client
	unregister chan *Client
}

func NewHub(
	registry *presence.Registry,
	tracker *delivery.Tracker,
	router *fanout.Router,
	chats *services.ChatService,
	settings Settings,
	log *logger.Logger,
) *Hub {
	return &Hub{
		registry:   registry,
		tracker:    tracker,
		router:     router,
		chats:      chats,
		logger:     log,
		settings:   settings.withDefaults(),
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
	}
}

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case client := <-h.register:
			h.handleRegister(client)
		case client := <-h.unregister:
			h.handleUnregister(client)
		case <-ctx.Done():
			h.logger.Infof("hub shutting down")
			return
		}
	}
}

// handleRegister adds the connection, announces the online transition when it
// is the user's first, then replays pending private messages as a delivery
// batch. The persisted presence write happens inside Connect, before any
// broadcast goes out.
func (h *Hub) handleRegister(client *Client) {
	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()

	first, err := h.registry.Connect(ctx, client)
	if err != nil {
		h.logger.Errorf("presence connect user=%s: %v", client.userID, err)
		client.SendEvent(events.ErrorEvent{Code: events.CodeStorage, Message: "connection could not be registered"})
		client.Close()
		return
	}
	h.logger.Infof("client connected user=%s conn=%s first=%t", client.userID, client.clientID, first)

	if first {
		h.router.Dispatch(h.registry.AllConnections(client.userID), events.UserOnline{UserID: client.userID})
	}

	h.replayPending(ctx, client.userID)
}

// replayPending flips every Sent private message addressed to the user to
// Delivered and tells each sender.
func (h *Hub) replayPending(ctx context.Context, userID uuid.UUID) {
	delivered, err := h.tracker.DeliverPending(ctx, userID)
	if err != nil {
		h.logger.Errorf("pending replay user=%s: %v", userID, err)
		return
	}
	for _, m := range delivered {
		at := time.Now()
		if m.DeliveredAt.Valid {
			at = m.DeliveredAt.Time
		}
		h.router.Dispatch(h.registry.ConnectionsFor(m.SenderID), events.MessageDelivered{
			MessageID:   m.ID,
			DeliveredAt: at,
		})
	}
}

func (h *Hub) handleUnregister(client *Client) {
	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()

	last, lastSeen, err := h.registry.Disconnect(ctx, client)
	client.Close()
	if err != nil {
		h.logger.Errorf("presence disconnect user=%s: %v", client.userID, err)
	}
	h.logger.Infof("client disconnected user=%s conn=%s last=%t", client.userID, client.clientID, last)

	if last {
		h.router.Dispatch(h.registry.AllConnections(client.userID), events.UserOffline{
			UserID:     client.userID,
			LastSeenAt: lastSeen,
		})
	}
}

// handleSendMessage persists, confirms to the caller, fans out to recipients,
// and for private messages flips Delivered immediately when the recipient was
// reached live.
func (h *Hub) handleSendMessage(client *Client, action ClientAction) {
	ctx, cancel := h.actionContext(client)
	defer cancel()

	input := services.SendMessageInput{
		SenderID:        client.userID,
		ReceiverID:      action.ReceiverID,
		GroupID:         action.GroupID,
		ChannelID:       action.ChannelID,
		Content:         action.Content,
		Type:            action.MessageType,
		ReplyToID:       action.ReplyToID,
		ClientMessageID: action.TempID,
	}
	for _, a := range action.Attachments {
		input.Attachments = append(input.Attachments, services.AttachmentInput{
			FileName: a.FileName,
			FileURL:  a.FileURL,
			FileSize: a.FileSize,
			FileType: a.FileType,
		})
	}

	msg, err := h.chats.SendMessage(ctx, input)
	if err != nil {
		h.sendError(client, err)
		return
	}

	dto, err := h.chats.Decorate(ctx, msg)
	if err != nil {
		h.sendError(client, err)
		return
	}

	client.SendEvent(events.MessageConfirmed{TempID: action.TempID, Message: dto})

	// Sender's other devices get the message as a regular receive.
	for _, conn := range h.registry.ConnectionsFor(client.userID) {
		if conn.ID() == client.clientID {
			continue
		}
		payload, merr := events.Marshal(events.MessageReceived{Message: dto})
		if merr != nil {
			break
		}
		conn.Send(payload)
	}

	conns, err := h.router.Route(ctx, msg)
	if err != nil {
		h.logger.Errorf("route message %s: %v", msg.ID, err)
		return
	}
	reached := h.router.Dispatch(conns, events.MessageReceived{Message: dto})

	if msg.ReceiverID.Valid && reached[msg.ReceiverID.UUID] {
		transitioned, derr := h.tracker.MarkDelivered(ctx, []uuid.UUID{msg.ID}, msg.ReceiverID.UUID)
		if derr != nil {
			h.logger.Errorf("mark delivered %s: %v", msg.ID, derr)
			return
		}
		if len(transitioned) > 0 {
			h.router.Dispatch(h.registry.ConnectionsFor(msg.SenderID), events.MessageDelivered{
				MessageID:   msg.ID,
				DeliveredAt: time.Now(),
			})
		}
	}
}

func (h *Hub) handleEditMessage(client *Client, action ClientAction) {
	ctx, cancel := h.actionContext(client)
	defer cancel()

	msg, err := h.chats.EditMessage(ctx, client.userID, action.MessageID, action.Content)
	if err != nil {
		h.sendError(client, err)
		return
	}

	ev := events.MessageEdited{
		MessageID:  msg.ID,
		NewContent: msg.Content,
		EditedAt:   msg.EditedAt.Time,
	}
	h.dispatchToConversation(ctx, client, msg.ReceiverID, msg.GroupID, msg.ChannelID, ev)
}

func (h *Hub) handleDeleteMessage(client *Client, action ClientAction) {
	ctx, cancel := h.actionContext(client)
	defer cancel()

	msg, err := h.chats.DeleteMessage(ctx, client.userID, action.MessageID, action.Visibility)
	if err != nil {
		h.sendError(client, err)
		return
	}

	ev := events.MessageDeleted{MessageID: msg.ID, Visibility: msg.DeleteVisibility}
	h.dispatchToConversation(ctx, client, msg.ReceiverID, msg.GroupID, msg.ChannelID, ev)
}

func (h *Hub) handleReact(client *Client, action ClientAction) {
	ctx, cancel := h.actionContext(client)
	defer cancel()

	msg, reactions, err := h.chats.React(ctx, client.userID, action.MessageID, action.Emoji)
	if err != nil {
		h.sendError(client, err)
		return
	}

	ev := events.ReactionChanged{MessageID: msg.ID, Reactions: reactions}
	h.dispatchToConversation(ctx, client, msg.ReceiverID, msg.GroupID, msg.ChannelID, ev)
}

// handleTyping relays a typing indicator to everyone else in the
// conversation. Nothing is persisted.
func (h *Hub) handleTyping(client *Client, action ClientAction, started bool) {
	ctx, cancel := h.actionContext(client)
	defer cancel()

	if err := h.chats.CanAccess(ctx, client.userID, action.ReceiverID, action.GroupID, action.ChannelID); err != nil {
		h.sendError(client, err)
		return
	}

	ev := events.Typing{UserID: client.userID, Started: started}
	if action.ReceiverID.Valid {
		id := action.ReceiverID.UUID
		ev.ReceiverID = &id
	}
	if action.GroupID.Valid {
		id := action.GroupID.UUID
		ev.GroupID = &id
	}
	if action.ChannelID.Valid {
		id := action.ChannelID.UUID
		ev.ChannelID = &id
	}

	conns, err := h.router.RouteEvent(ctx, client.userID, action.ReceiverID, action.GroupID, action.ChannelID)
	if err != nil {
		h.sendError(client, err)
		return
	}
	h.router.Dispatch(conns, ev)
}

// handleJoinChat re-runs the pending replay when the client opens a
// conversation, catching messages that raced the initial register.
func (h *Hub) handleJoinChat(client *Client, action ClientAction) {
	ctx, cancel := h.actionContext(client)
	defer cancel()

	if err := h.chats.CanAccess(ctx, client.userID, action.ReceiverID, action.GroupID, action.ChannelID); err != nil {
		h.sendError(client, err)
		return
	}
	h.replayPending(ctx, client.userID)
}

func (h *Hub) handleMarkRead(client *Client, action ClientAction) {
	ctx, cancel := h.actionContext(client)
	defer cancel()

	receipts, err := h.chats.MarkRead(ctx, client.userID, action.MessageIDs, time.Now())
	if err != nil {
		h.sendError(client, err)
		return
	}
	for _, r := range receipts {
		h.router.Dispatch(h.registry.ConnectionsFor(r.SenderID), events.MessageRead{
			MessageID: r.MessageID,
			ReaderID:  r.ReaderID,
			ReadAt:    r.ReadAt,
		})
	}
}

func (h *Hub) handleConfirmDelivery(client *Client, action ClientAction) {
	ctx, cancel := h.actionContext(client)
	defer cancel()

	receipts, err := h.tracker.ConfirmDelivered(ctx, action.MessageIDs, client.userID)
	if err != nil {
		h.sendError(client, err)
		return
	}
	for _, r := range receipts {
		h.router.Dispatch(h.registry.ConnectionsFor(r.SenderID), events.MessageDelivered{
			MessageID:   r.MessageID,
			DeliveredAt: r.DeliveredAt,
		})
	}
}

// dispatchToConversation fans an event out to the conversation roster plus
// all of the actor's own connections, so every device converges.
func (h *Hub) dispatchToConversation(ctx context.Context, client *Client, receiverID, groupID, channelID uuid.NullUUID, ev events.Event) {
	conns, err := h.router.RouteEvent(ctx, client.userID, receiverID, groupID, channelID)
	if err != nil {
		h.logger.Errorf("route event %s: %v", ev.EventType(), err)
		return
	}
	conns = append(conns, h.registry.ConnectionsFor(client.userID)...)
	h.router.Dispatch(conns, ev)
}

func (h *Hub) actionContext(client *Client) (context.Context, context.CancelFunc) {
	ctx := services.WithUserContext(context.Background(), client.userID)
	return context.WithTimeout(ctx, actionTimeout)
}

func (h *Hub) sendError(client *Client, err error) {
	client.SendEvent(events.ErrorEvent{Code: errorCode(err), Message: err.Error()})
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, messenger_errors.ErrUnauthorized):
		return events.CodeUnauthorized
	case errors.Is(err, messenger_errors.ErrForbidden):
		return events.CodeForbidden
	case errors.Is(err, messenger_errors.ErrNotFound), errors.Is(err, messenger_errors.ErrMessageDeleted):
		return events.CodeNotFound
	case errors.Is(err, messenger_errors.ErrPolicyExpired):
		return events.CodePolicyExpired
	case errors.Is(err, messenger_errors.ErrStorageUnavailable):
		return events.CodeStorage
	case errors.Is(err, messenger_errors.ErrRateLimited):
		return events.CodeRateLimited
	default:
		return events.CodeInvalidInput
	}
}
