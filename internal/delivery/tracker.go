package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"orgmessenger/internal/domain/message"
	"orgmessenger/internal/repository"
	messenger_errors "orgmessenger/pkg/errors"
)

// ReadReceipt reports one read transition back to the message's sender.
type ReadReceipt struct {
	MessageID uuid.UUID
	SenderID  uuid.UUID
	ReaderID  uuid.UUID
	ReadAt    time.Time
}

// DeliveryReceipt reports one delivered transition back to the sender.
type DeliveryReceipt struct {
	MessageID   uuid.UUID
	SenderID    uuid.UUID
	DeliveredAt time.Time
}

// Tracker drives the Sent -> Delivered -> Read lifecycle. Transitions only
// advance; re-applying one is a no-op, and soft-deleted messages never
// transition again.
type Tracker struct {
	messages repository.MessageRepository
}

func NewTracker(messages repository.MessageRepository) *Tracker {
	return &Tracker{messages: messages}
}

// MarkDelivered advances Sent messages addressed to the recipient and
// returns the ids actually transitioned.
func (t *Tracker) MarkDelivered(ctx context.Context, ids []uuid.UUID, recipientID uuid.UUID) ([]uuid.UUID, error) {
	transitioned, err := t.messages.MarkDelivered(ctx, ids, recipientID, time.Now())
	if err != nil {
		return nil, storageErr(err)
	}
	return transitioned, nil
}

// ConfirmDelivered applies an explicit client delivery ack and resolves the
// sender of each transitioned message so the gateway can notify them.
func (t *Tracker) ConfirmDelivered(ctx context.Context, ids []uuid.UUID, recipientID uuid.UUID) ([]DeliveryReceipt, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	senders := make(map[uuid.UUID]uuid.UUID, len(ids))
	eligible := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		m, err := t.messages.GetByID(ctx, id)
		if err != nil {
			if errors.Is(err, messenger_errors.ErrNotFound) {
				continue
			}
			return nil, storageErr(err)
		}
		if m.SenderID == recipientID || m.IsDeleted {
			continue
		}
		senders[m.ID] = m.SenderID
		eligible = append(eligible, m.ID)
	}
	if len(eligible) == 0 {
		return nil, nil
	}

	now := time.Now()
	transitioned, err := t.messages.MarkDelivered(ctx, eligible, recipientID, now)
	if err != nil {
		return nil, storageErr(err)
	}

	receipts := make([]DeliveryReceipt, 0, len(transitioned))
	for _, id := range transitioned {
		receipts = append(receipts, DeliveryReceipt{
			MessageID:   id,
			SenderID:    senders[id],
			DeliveredAt: now,
		})
	}
	return receipts, nil
}

// DeliverPending is the reconnect replay: every Sent private message
// addressed to the recipient becomes Delivered in one batch. The returned
// messages let the gateway notify each sender.
func (t *Tracker) DeliverPending(ctx context.Context, recipientID uuid.UUID) ([]message.Message, error) {
	pending, err := t.messages.GetPendingForRecipient(ctx, recipientID)
	if err != nil {
		return nil, storageErr(err)
	}
	if len(pending) == 0 {
		return nil, nil
	}

	ids := make([]uuid.UUID, 0, len(pending))
	for _, m := range pending {
		ids = append(ids, m.ID)
	}
	transitioned, err := t.messages.MarkDelivered(ctx, ids, recipientID, time.Now())
	if err != nil {
		return nil, storageErr(err)
	}

	byID := make(map[uuid.UUID]struct{}, len(transitioned))
	for _, id := range transitioned {
		byID[id] = struct{}{}
	}
	delivered := pending[:0]
	for _, m := range pending {
		if _, ok := byID[m.ID]; ok {
			delivered = append(delivered, m)
		}
	}
	return delivered, nil
}

// MarkRead applies a batched, idempotent read acknowledgement. Private
// messages flip the per-message flag (forcing Delivered first for lagging
// acks); group and channel messages get per-reader markers. Messages the
// reader authored are skipped.
func (t *Tracker) MarkRead(ctx context.Context, ids []uuid.UUID, readerID uuid.UUID, at time.Time) ([]ReadReceipt, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if at.IsZero() {
		at = time.Now()
	}

	var privateIDs []uuid.UUID
	var markers []message.ReadMarker
	senders := make(map[uuid.UUID]uuid.UUID, len(ids))

	for _, id := range ids {
		m, err := t.messages.GetByID(ctx, id)
		if err != nil {
			if errors.Is(err, messenger_errors.ErrNotFound) {
				continue
			}
			return nil, storageErr(err)
		}
		if m.SenderID == readerID || m.IsDeleted {
			continue
		}
		senders[m.ID] = m.SenderID

		if m.IsPrivate() {
			if m.ReceiverID.UUID == readerID && !m.IsRead {
				privateIDs = append(privateIDs, m.ID)
			}
		} else {
			markers = append(markers, message.ReadMarker{
				MessageID: m.ID,
				UserID:    readerID,
				ReadAt:    at,
			})
		}
	}

	var receipts []ReadReceipt

	if len(privateIDs) > 0 {
		transitioned, err := t.messages.MarkReadPrivate(ctx, privateIDs, readerID, at)
		if err != nil {
			return nil, storageErr(err)
		}
		for _, id := range transitioned {
			receipts = append(receipts, ReadReceipt{
				MessageID: id,
				SenderID:  senders[id],
				ReaderID:  readerID,
				ReadAt:    at,
			})
		}
	}

	if len(markers) > 0 {
		inserted, err := t.messages.InsertReadMarkers(ctx, markers)
		if err != nil {
			return nil, storageErr(err)
		}
		for _, marker := range inserted {
			receipts = append(receipts, ReadReceipt{
				MessageID: marker.MessageID,
				SenderID:  senders[marker.MessageID],
				ReaderID:  readerID,
				ReadAt:    marker.ReadAt,
			})
		}
	}

	return receipts, nil
}

func storageErr(err error) error {
	if err == nil || errors.Is(err, messenger_errors.ErrNotFound) {
		return err
	}
	return fmt.Errorf("%w: %v", messenger_errors.ErrStorageUnavailable, err)
}
