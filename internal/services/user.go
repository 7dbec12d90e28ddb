package services

import (
	"context"

	"github.com/realtimebid/auctionserver/types"
)

// UserRepository defines persistence operations for users. The core
// never mutates a user record after creation, so there is no
// Update/Delete here.
type UserRepository interface {
	GetByID(ctx context.Context, id int) (types.User, error)
	GetByUsername(ctx context.Context, username string) (types.User, error)
	Create(ctx context.Context, user types.User) (types.User, error)
}

// UserService encapsulates user use-cases.
type UserService struct {
	repo UserRepository
}

func NewUserService(repo UserRepository) *UserService {
	return &UserService{repo: repo}
}

func (s *UserService) GetByID(ctx context.Context, id int) (types.User, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *UserService) GetByUsername(ctx context.Context, username string) (types.User, error) {
	return s.repo.GetByUsername(ctx, username)
}

func (s *UserService) Create(ctx context.Context, user types.User) (types.User, error) {
	return s.repo.Create(ctx, user)
}

// Username resolves a display name for an authenticated user id, used
// by the Gateway's handshake to populate the `connected` acknowledgement
// (spec.md §6) without exposing the full user record to the socket layer.
func (s *UserService) Username(ctx context.Context, userID int) (string, error) {
	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return "", err
	}
	return user.Username, nil
}
