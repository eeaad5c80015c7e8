package fanout

import (
	"context"

	"github.com/google/uuid"

	"orgmessenger/internal/domain/message"
	"orgmessenger/internal/events"
	"orgmessenger/internal/presence"
	"orgmessenger/internal/repository"
	messenger_errors "orgmessenger/pkg/errors"
	"orgmessenger/pkg/logger"
)

// Router resolves which live connections must receive a message or event.
// Delivery across recipients is unordered; all of one recipient's
// connections get the same payload and clients dedup by message id.
type Router struct {
	registry    *presence.Registry
	memberships repository.MembershipRepository
	logger      *logger.Logger
}

func NewRouter(registry *presence.Registry, memberships repository.MembershipRepository, log *logger.Logger) *Router {
	return &Router{
		registry:    registry,
		memberships: memberships,
		logger:      log,
	}
}

// Route returns the connections a persisted message must reach. Private
// messages go to the recipient only; an empty result means the recipient is
// offline and the message stays Sent. Group and channel messages go to every
// active member except the sender, who already has a local echo.
func (r *Router) Route(ctx context.Context, m message.Message) ([]presence.Conn, error) {
	switch {
	case m.ReceiverID.Valid:
		return r.registry.ConnectionsFor(m.ReceiverID.UUID), nil
	case m.GroupID.Valid, m.ChannelID.Valid:
		userIDs, err := r.rosterFor(ctx, m.GroupID, m.ChannelID)
		if err != nil {
			return nil, err
		}
		return r.connectionsFor(userIDs, m.SenderID), nil
	default:
		return nil, messenger_errors.ErrInvalidTarget
	}
}

// RosterUserIDs resolves recipients for event-only notifications (typing,
// edit, delete, reaction) along the same membership path, without touching
// the message store.
func (r *Router) RosterUserIDs(ctx context.Context, receiverID, groupID, channelID uuid.NullUUID) ([]uuid.UUID, error) {
	if receiverID.Valid {
		return []uuid.UUID{receiverID.UUID}, nil
	}
	return r.rosterFor(ctx, groupID, channelID)
}

// RouteEvent is Route for non-message events: resolve, exclude the actor,
// collect live connections.
func (r *Router) RouteEvent(ctx context.Context, actorID uuid.UUID, receiverID, groupID, channelID uuid.NullUUID) ([]presence.Conn, error) {
	userIDs, err := r.RosterUserIDs(ctx, receiverID, groupID, channelID)
	if err != nil {
		return nil, err
	}
	return r.connectionsFor(userIDs, actorID), nil
}

func (r *Router) rosterFor(ctx context.Context, groupID, channelID uuid.NullUUID) ([]uuid.UUID, error) {
	switch {
	case groupID.Valid:
		return r.memberships.ActiveGroupMemberIDs(ctx, groupID.UUID)
	case channelID.Valid:
		return r.memberships.ActiveChannelMemberIDs(ctx, channelID.UUID)
	default:
		return nil, messenger_errors.ErrInvalidTarget
	}
}

func (r *Router) connectionsFor(userIDs []uuid.UUID, exclude uuid.UUID) []presence.Conn {
	var conns []presence.Conn
	for _, userID := range userIDs {
		if userID == exclude {
			continue
		}
		conns = append(conns, r.registry.ConnectionsFor(userID)...)
	}
	return conns
}

// Dispatch marshals the event once and pushes it to every connection.
// It returns the set of user ids that received at least one copy.
func (r *Router) Dispatch(conns []presence.Conn, ev events.Event) map[uuid.UUID]bool {
	reached := make(map[uuid.UUID]bool)
	if len(conns) == 0 {
		return reached
	}

	payload, err := events.Marshal(ev)
	if err != nil {
		if r.logger != nil {
			r.logger.Errorf("fanout marshal %s: %v", ev.EventType(), err)
		}
		return reached
	}

	for _, conn := range conns {
		if conn.Send(payload) {
			reached[conn.UserID()] = true
		} else if r.logger != nil {
			r.logger.Warnf("fanout drop: connection %s buffer full", conn.ID())
		}
	}
	return reached
}
