package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"skillswap-backend/internal/auth"
	"skillswap-backend/internal/models"
	"skillswap-backend/internal/repository"
)

// UserService reads the user directory. Profiles are owned by the identity
// service; this side never writes them.
type UserService struct {
	store        repository.UserStore
	tokenService *auth.TokenService
}

// NewUserService creates the directory service. tokenService may be nil when
// authentication is disabled.
func NewUserService(store repository.UserStore, tokenService *auth.TokenService) *UserService {
	return &UserService{
		store:        store,
		tokenService: tokenService,
	}
}

// UserFilter narrows a directory search
type UserFilter = repository.UserFilter

// SearchUsers lists directory users, optionally filtered
func (s *UserService) SearchUsers(ctx context.Context, filter UserFilter) ([]*models.User, error) {
	filter.Skill = strings.TrimSpace(filter.Skill)
	filter.Location = strings.TrimSpace(filter.Location)
	filter.TimeAvailability = strings.TrimSpace(filter.TimeAvailability)

	users, err := s.store.SearchUsers(ctx, filter)
	if err != nil {
		log.Printf("Failed to search users: %v", err)
		return nil, fmt.Errorf("search users: %w", err)
	}
	return users, nil
}

// GetUserByID looks up one user
func (s *UserService) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	user, err := s.store.GetUserByID(ctx, id)
	if errors.Is(err, repository.ErrNoRows) {
		return nil, fmt.Errorf("%w: user '%s' does not exist", ErrInvalidParty, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	return user, nil
}

// IssueToken mints a bearer token for an existing user. Production tokens
// come from the identity provider; this serves local runs and tests.
func (s *UserService) IssueToken(ctx context.Context, id string) (string, error) {
	if s.tokenService == nil {
		return "", errors.New("token service not configured")
	}
	user, err := s.GetUserByID(ctx, id)
	if err != nil {
		return "", err
	}

	token, err := s.tokenService.NewToken(user.ID)
	if err != nil {
		log.Printf("Failed to sign token for %s: %v", user.ID, err)
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}
