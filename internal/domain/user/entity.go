package user

import (
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
)

// User represents the users table. Account provisioning is owned by an
// external collaborator; this service only mutates presence fields.
type User struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Username   string    `gorm:"uniqueIndex"`
	FirstName  string
	LastName   string
	AvatarURL  string
	IsOnline   bool `gorm:"default:false"`
	LastSeenAt sql.NullTime
	IsActive   bool `gorm:"default:true"`
	IsDeleted  bool `gorm:"default:false"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (User) TableName() string {
	return "users"
}

func (u User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// CanSend reports whether the account may author messages.
func (u User) CanSend() bool {
	return u.IsActive && !u.IsDeleted
}
