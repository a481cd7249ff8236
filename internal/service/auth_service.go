package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"odaiboard/internal/config"
	"odaiboard/internal/ids"
	"odaiboard/internal/models"
	"odaiboard/internal/security"
	"odaiboard/internal/store"
)

type AuthService struct {
	users store.UserStore
	cfg   *config.AppConfig
	log   zerolog.Logger
}

func NewAuthService(users store.UserStore, cfg *config.AppConfig, log zerolog.Logger) *AuthService {
	return &AuthService{
		users: users,
		cfg:   cfg,
		log:   log,
	}
}

type RegisterInput struct {
	Email    string
	Password string
	Username string
}

type AuthResult struct {
	AccessToken string
	ExpiresAt   time.Time
	User        models.User
}

func (s *AuthService) Register(ctx context.Context, input RegisterInput) (AuthResult, error) {
	input.Email = strings.TrimSpace(strings.ToLower(input.Email))
	input.Username = strings.TrimSpace(input.Username)
	if input.Email == "" || input.Password == "" {
		return AuthResult{}, fmt.Errorf("%w: email and password required", ErrInvalidInput)
	}
	if input.Username == "" {
		input.Username, _, _ = strings.Cut(input.Email, "@")
	}

	if _, err := s.users.FindUserByEmail(ctx, input.Email); err == nil {
		return AuthResult{}, ErrEmailTaken
	} else if !errors.Is(err, store.ErrNotFound) {
		return AuthResult{}, err
	}

	passwordHash, err := security.HashPassword(input.Password)
	if err != nil {
		return AuthResult{}, err
	}

	now := time.Now().UTC()
	user := models.User{
		ID:           ids.New(),
		Email:        input.Email,
		PasswordHash: passwordHash,
		Username:     input.Username,
		Role:         models.UserRoleUser,
		Status:       models.UserStatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return AuthResult{}, ErrEmailTaken
		}
		return AuthResult{}, err
	}

	s.log.Info().Str("user_id", user.ID).Msg("user registered")
	return s.issue(user)
}

type LoginInput struct {
	Email    string
	Password string
}

func (s *AuthService) Login(ctx context.Context, input LoginInput) (AuthResult, error) {
	input.Email = strings.TrimSpace(strings.ToLower(input.Email))
	user, err := s.users.FindUserByEmail(ctx, input.Email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return AuthResult{}, ErrInvalidCredentials
		}
		return AuthResult{}, err
	}

	if user.Status != models.UserStatusActive {
		return AuthResult{}, ErrUserSuspended
	}

	ok, err := security.VerifyPassword(input.Password, user.PasswordHash)
	if err != nil || !ok {
		return AuthResult{}, ErrInvalidCredentials
	}

	return s.issue(user)
}

func (s *AuthService) issue(user models.User) (AuthResult, error) {
	token, expiresAt, err := security.GenerateAccessToken(
		s.cfg.Security.JWTAccessSecret,
		user.ID,
		string(user.Role),
		s.cfg.Security.JWTAccessTTL,
	)
	if err != nil {
		return AuthResult{}, err
	}
	return AuthResult{AccessToken: token, ExpiresAt: expiresAt, User: user}, nil
}

// SetStatus suspends or reactivates a user.
func (s *AuthService) SetStatus(ctx context.Context, userID string, status models.UserStatus) error {
	switch status {
	case models.UserStatusActive, models.UserStatusSuspended:
	default:
		return fmt.Errorf("%w: status %q", ErrInvalidInput, status)
	}
	return s.users.UpdateUserStatus(ctx, userID, status)
}
