package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"orgmessenger/internal/domain/chat"
)

type PostgresMembershipRepository struct {
	db *gorm.DB
}

func NewMembershipRepository(db *gorm.DB) MembershipRepository {
	return &PostgresMembershipRepository{db: db}
}

func (r *PostgresMembershipRepository) IsGroupMember(ctx context.Context, groupID, userID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&chat.GroupMember{}).
		Where("group_id = ? AND user_id = ? AND is_active = ?", groupID, userID, true).
		Count(&count).Error
	return count > 0, err
}

func (r *PostgresMembershipRepository) IsChannelMember(ctx context.Context, channelID, userID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&chat.ChannelMember{}).
		Where("channel_id = ? AND user_id = ? AND is_active = ?", channelID, userID, true).
		Count(&count).Error
	return count > 0, err
}

func (r *PostgresMembershipRepository) ActiveGroupMemberIDs(ctx context.Context, groupID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&chat.GroupMember{}).
		Where("group_id = ? AND is_active = ?", groupID, true).
		Pluck("user_id", &ids).Error
	return ids, err
}

func (r *PostgresMembershipRepository) ActiveChannelMemberIDs(ctx context.Context, channelID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&chat.ChannelMember{}).
		Where("channel_id = ? AND is_active = ?", channelID, true).
		Pluck("user_id", &ids).Error
	return ids, err
}

func (r *PostgresMembershipRepository) UserGroups(ctx context.Context, userID uuid.UUID) ([]chat.Group, error) {
	var groups []chat.Group
	err := r.db.WithContext(ctx).
		Joins("JOIN user_groups ON user_groups.group_id = groups.id").
		Where("user_groups.user_id = ? AND user_groups.is_active = ?", userID, true).
		Find(&groups).Error
	return groups, err
}

func (r *PostgresMembershipRepository) UserChannels(ctx context.Context, userID uuid.UUID) ([]chat.Channel, error) {
	var channels []chat.Channel
	err := r.db.WithContext(ctx).
		Joins("JOIN user_channels ON user_channels.channel_id = channels.id").
		Where("user_channels.user_id = ? AND user_channels.is_active = ?", userID, true).
		Find(&channels).Error
	return channels, err
}

func (r *PostgresMembershipRepository) GroupMemberCount(ctx context.Context, groupID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&chat.GroupMember{}).
		Where("group_id = ? AND is_active = ?", groupID, true).
		Count(&count).Error
	return count, err
}

func (r *PostgresMembershipRepository) ChannelMemberCount(ctx context.Context, channelID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&chat.ChannelMember{}).
		Where("channel_id = ? AND is_active = ?", channelID, true).
		Count(&count).Error
	return count, err
}
