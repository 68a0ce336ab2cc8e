package services

import (
	"context"
	"fmt"
	"strings"

	"potluck-chat/internal/domain/user"
	"potluck-chat/internal/repository"
	potluck_errors "potluck-chat/pkg/errors"
)

// UserService exposes the read-only user projection used when picking members.
type UserService struct {
	repo repository.UserRepository
}

func NewUserService(repo repository.UserRepository) *UserService {
	return &UserService{repo: repo}
}

func (s *UserService) GetByID(ctx context.Context, userID int64) (user.User, error) {
	return s.repo.GetUserByID(ctx, userID)
}

// Search matches username and names, leaving the caller out of the results.
func (s *UserService) Search(ctx context.Context, actorID int64, query string, limit int) ([]user.User, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("search query required: %w", potluck_errors.ErrInvalidInput)
	}
	users, err := s.repo.SearchUsers(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	out := users[:0]
	for _, u := range users {
		if u.ID != actorID {
			out = append(out, u)
		}
	}
	return out, nil
}
