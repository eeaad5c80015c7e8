package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"orgmessenger/internal/domain/message"
	messenger_errors "orgmessenger/pkg/errors"
)

type PostgresMessageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &PostgresMessageRepository{db: db}
}

func (r *PostgresMessageRepository) Create(ctx context.Context, m *message.Message) error {
	res := r.db.WithContext(ctx).Create(m)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return messenger_errors.ErrAlreadyExists
		}
		return res.Error
	}
	return nil
}

func (r *PostgresMessageRepository) GetByID(ctx context.Context, id uuid.UUID) (message.Message, error) {
	var m message.Message
	err := r.db.WithContext(ctx).Preload("Attachments").Where("id = ?", id).First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return message.Message{}, messenger_errors.ErrNotFound
		}
		return message.Message{}, err
	}
	return m, nil
}

func (r *PostgresMessageRepository) GetByClientMessageID(ctx context.Context, clientMsgID string) (message.Message, error) {
	var m message.Message
	err := r.db.WithContext(ctx).
		Preload("Attachments").
		Where("client_message_id = ?", clientMsgID).
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return message.Message{}, messenger_errors.ErrNotFound
		}
		return message.Message{}, err
	}
	return m, nil
}

// targetScope narrows a query to one conversation. Hard-deleted messages are
// invisible everywhere; notice-deleted ones stay as tombstones.
func (r *PostgresMessageRepository) targetScope(viewerID uuid.UUID, target ConversationTarget) func(*gorm.DB) *gorm.DB {
	return func(q *gorm.DB) *gorm.DB {
		q = q.Where("NOT (is_deleted = ? AND delete_visibility = ?)", true, message.DeleteVisibilityHard)
		switch {
		case target.PeerID.Valid:
			peer := target.PeerID.UUID
			return q.Where("(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)",
				viewerID, peer, peer, viewerID)
		case target.GroupID.Valid:
			return q.Where("group_id = ?", target.GroupID.UUID)
		case target.ChannelID.Valid:
			return q.Where("channel_id = ?", target.ChannelID.UUID)
		default:
			// Unset target matches nothing; callers validate first.
			return q.Where("1 = 0")
		}
	}
}

func (r *PostgresMessageRepository) GetConversation(ctx context.Context, viewerID uuid.UUID, target ConversationTarget, beforeID uuid.NullUUID, limit int) ([]message.Message, error) {
	q := r.db.WithContext(ctx).
		Preload("Attachments").
		Scopes(r.targetScope(viewerID, target))

	if beforeID.Valid {
		var cursor message.Message
		err := r.db.WithContext(ctx).
			Select("id", "created_at").
			Where("id = ?", beforeID.UUID).
			First(&cursor).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, messenger_errors.ErrNotFound
			}
			return nil, err
		}
		q = q.Where("created_at < ? OR (created_at = ? AND id < ?)",
			cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}

	var messages []message.Message
	if err := q.Order("created_at DESC, id DESC").Limit(limit).Find(&messages).Error; err != nil {
		return nil, err
	}
	return messages, nil
}

func (r *PostgresMessageRepository) GetPendingForRecipient(ctx context.Context, recipientID uuid.UUID) ([]message.Message, error) {
	var messages []message.Message
	err := r.db.WithContext(ctx).
		Where("receiver_id = ? AND is_delivered = ? AND is_deleted = ?", recipientID, false, false).
		Order("created_at ASC").
		Find(&messages).Error
	if err != nil {
		return nil, err
	}
	return messages, nil
}

func (r *PostgresMessageRepository) MarkDelivered(ctx context.Context, ids []uuid.UUID, recipientID uuid.UUID, at time.Time) ([]uuid.UUID, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var transitioned []uuid.UUID
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var pending []message.Message
		if err := tx.Select("id").
			Where("id IN ? AND receiver_id = ? AND is_delivered = ? AND is_deleted = ?",
				ids, recipientID, false, false).
			Find(&pending).Error; err != nil {
			return err
		}
		if len(pending) == 0 {
			return nil
		}

		transitioned = make([]uuid.UUID, 0, len(pending))
		for _, m := range pending {
			transitioned = append(transitioned, m.ID)
		}

		return tx.Model(&message.Message{}).
			Where("id IN ?", transitioned).
			Updates(map[string]interface{}{
				"is_delivered": true,
				"delivered_at": sql.NullTime{Time: at, Valid: true},
			}).Error
	})
	if err != nil {
		return nil, err
	}
	return transitioned, nil
}

func (r *PostgresMessageRepository) MarkReadPrivate(ctx context.Context, ids []uuid.UUID, readerID uuid.UUID, at time.Time) ([]uuid.UUID, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var transitioned []uuid.UUID
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var unread []message.Message
		if err := tx.Select("id").
			Where("id IN ? AND receiver_id = ? AND is_read = ? AND is_deleted = ?",
				ids, readerID, false, false).
			Find(&unread).Error; err != nil {
			return err
		}
		if len(unread) == 0 {
			return nil
		}

		transitioned = make([]uuid.UUID, 0, len(unread))
		for _, m := range unread {
			transitioned = append(transitioned, m.ID)
		}

		// Read implies delivered: a lagging ack must not leave the row in a
		// read-but-undelivered state. Rows already delivered keep their
		// original delivery time.
		if err := tx.Model(&message.Message{}).
			Where("id IN ? AND is_delivered = ?", transitioned, false).
			Updates(map[string]interface{}{
				"is_delivered": true,
				"delivered_at": sql.NullTime{Time: at, Valid: true},
			}).Error; err != nil {
			return err
		}

		return tx.Model(&message.Message{}).
			Where("id IN ?", transitioned).
			Updates(map[string]interface{}{
				"is_read": true,
				"read_at": sql.NullTime{Time: at, Valid: true},
			}).Error
	})
	if err != nil {
		return nil, err
	}
	return transitioned, nil
}

func (r *PostgresMessageRepository) InsertReadMarkers(ctx context.Context, markers []message.ReadMarker) ([]message.ReadMarker, error) {
	inserted := make([]message.ReadMarker, 0, len(markers))
	for _, marker := range markers {
		res := r.db.WithContext(ctx).
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(&marker)
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected > 0 {
			inserted = append(inserted, marker)
		}
	}
	return inserted, nil
}

func (r *PostgresMessageRepository) MarkEdited(ctx context.Context, id uuid.UUID, content string, at time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&message.Message{}).
		Where("id = ? AND is_deleted = ?", id, false).
		Updates(map[string]interface{}{
			"content":   content,
			"is_edited": true,
			"edited_at": sql.NullTime{Time: at, Valid: true},
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return messenger_errors.ErrNotFound
	}
	return nil
}

func (r *PostgresMessageRepository) SoftDelete(ctx context.Context, id uuid.UUID, visibility string, at time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&message.Message{}).
		Where("id = ? AND is_deleted = ?", id, false).
		Updates(map[string]interface{}{
			"is_deleted":        true,
			"deleted_at":        sql.NullTime{Time: at, Valid: true},
			"delete_visibility": visibility,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return messenger_errors.ErrNotFound
	}
	return nil
}

func (r *PostgresMessageRepository) GetUserReaction(ctx context.Context, messageID, userID uuid.UUID) (message.Reaction, error) {
	var reaction message.Reaction
	err := r.db.WithContext(ctx).
		Where("message_id = ? AND user_id = ?", messageID, userID).
		First(&reaction).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return message.Reaction{}, messenger_errors.ErrNotFound
		}
		return message.Reaction{}, err
	}
	return reaction, nil
}

func (r *PostgresMessageRepository) UpsertReaction(ctx context.Context, reaction *message.Reaction) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "message_id"}, {Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"emoji", "created_at"}),
		}).
		Create(reaction).Error
}

func (r *PostgresMessageRepository) DeleteReaction(ctx context.Context, messageID, userID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Where("message_id = ? AND user_id = ?", messageID, userID).
		Delete(&message.Reaction{}).Error
}

func (r *PostgresMessageRepository) GetMessageReactions(ctx context.Context, messageID uuid.UUID) ([]message.Reaction, error) {
	var reactions []message.Reaction
	err := r.db.WithContext(ctx).
		Where("message_id = ?", messageID).
		Order("created_at ASC").
		Find(&reactions).Error
	if err != nil {
		return nil, err
	}
	return reactions, nil
}

func (r *PostgresMessageRepository) LastPrivateMessage(ctx context.Context, userID, peerID uuid.UUID) (message.Message, error) {
	return r.lastMessage(ctx, userID, ConversationTarget{PeerID: uuid.NullUUID{UUID: peerID, Valid: true}})
}

func (r *PostgresMessageRepository) LastGroupMessage(ctx context.Context, groupID uuid.UUID) (message.Message, error) {
	return r.lastMessage(ctx, uuid.Nil, ConversationTarget{GroupID: uuid.NullUUID{UUID: groupID, Valid: true}})
}

func (r *PostgresMessageRepository) LastChannelMessage(ctx context.Context, channelID uuid.UUID) (message.Message, error) {
	return r.lastMessage(ctx, uuid.Nil, ConversationTarget{ChannelID: uuid.NullUUID{UUID: channelID, Valid: true}})
}

func (r *PostgresMessageRepository) lastMessage(ctx context.Context, viewerID uuid.UUID, target ConversationTarget) (message.Message, error) {
	var m message.Message
	err := r.db.WithContext(ctx).
		Scopes(r.targetScope(viewerID, target)).
		Order("created_at DESC, id DESC").
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return message.Message{}, messenger_errors.ErrNotFound
		}
		return message.Message{}, err
	}
	return m, nil
}

func (r *PostgresMessageRepository) UnreadPrivateCount(ctx context.Context, userID, peerID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&message.Message{}).
		Where("sender_id = ? AND receiver_id = ? AND is_read = ? AND is_deleted = ?",
			peerID, userID, false, false).
		Count(&count).Error
	return count, err
}
