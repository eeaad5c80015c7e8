package chat

import (
	"time"

	"github.com/google/uuid"
)

// Group represents the groups table. Membership CRUD is owned by an external
// collaborator; this service only reads rosters.
type Group struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name      string
	AvatarURL string
	CreatedAt time.Time
}

// Channel represents the channels table.
type Channel struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name      string
	AvatarURL string
	CreatedAt time.Time
}

// GroupMember represents user_groups
type GroupMember struct {
	GroupID  uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID   uuid.UUID `gorm:"type:uuid;primaryKey"`
	Role     string    `gorm:"default:MEMBER"`
	IsActive bool      `gorm:"default:true"`
	JoinedAt time.Time
}

// ChannelMember represents user_channels
type ChannelMember struct {
	ChannelID uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID    uuid.UUID `gorm:"type:uuid;primaryKey"`
	Role      string    `gorm:"default:MEMBER"`
	IsActive  bool      `gorm:"default:true"`
	JoinedAt  time.Time
}

func (Group) TableName() string {
	return "groups"
}

func (Channel) TableName() string {
	return "channels"
}

func (GroupMember) TableName() string {
	return "user_groups"
}

func (ChannelMember) TableName() string {
	return "user_channels"
}
