package httpdto

import (
	"time"

	"orgmessenger/internal/domain/user"
)

// UserDTO represents a user in API responses
type UserDTO struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	AvatarURL  string `json:"avatar_url,omitempty"`
	IsOnline   bool   `json:"is_online"`
	LastSeenAt string `json:"last_seen_at,omitempty"`
	CreatedAt  string `json:"created_at"`
}

// FromUser converts a domain user to UserDTO
func FromUser(u user.User) UserDTO {
	dto := UserDTO{
		ID:        u.ID.String(),
		Username:  u.Username,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		AvatarURL: u.AvatarURL,
		IsOnline:  u.IsOnline,
		CreatedAt: u.CreatedAt.Format(time.RFC3339),
	}
	if u.LastSeenAt.Valid {
		dto.LastSeenAt = u.LastSeenAt.Time.Format(time.RFC3339)
	}
	return dto
}

// FromUserSlice converts a slice of domain users to UserDTO slice
func FromUserSlice(users []user.User) []UserDTO {
	dtos := make([]UserDTO, len(users))
	for i, u := range users {
		dtos[i] = FromUser(u)
	}
	return dtos
}
