package services

import (
	"context"

	"github.com/google/uuid"

	"orgmessenger/internal/domain/user"
	"orgmessenger/internal/repository"
)

type UserService struct {
	repo repository.UserRepository
}

func NewUserService(repo repository.UserRepository) *UserService {
	return &UserService{repo: repo}
}

func (s *UserService) GetProfile(ctx context.Context, userID uuid.UUID) (user.User, error) {
	return s.repo.GetByID(ctx, userID)
}

// Contacts lists the users the caller can start a private chat with.
func (s *UserService) Contacts(ctx context.Context, userID uuid.UUID) ([]user.User, error) {
	contacts, err := s.repo.GetContacts(ctx, userID)
	if err != nil {
		return nil, storageErr(err)
	}
	return contacts, nil
}
