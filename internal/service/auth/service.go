// Package auth handles signup, login and bearer-token authorization.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/loickadjiwanou/hostedhost/internal/domain"
	"github.com/loickadjiwanou/hostedhost/internal/repository"
	"github.com/loickadjiwanou/hostedhost/pkg/config"
	"github.com/loickadjiwanou/hostedhost/pkg/crypto"
	jwtpkg "github.com/loickadjiwanou/hostedhost/pkg/jwt"
)

var (
	ErrCredentialsRequired = errors.New("auth: email and password are required")
	ErrInvalidCredentials  = errors.New("auth: invalid credentials")
)

// Service handles authentication workflows.
type Service struct {
	users  repository.UserRepository
	logger *slog.Logger
	cfg    config.PanelConfig
}

// New constructs a Service.
func New(users repository.UserRepository, logger *slog.Logger, cfg config.PanelConfig) Service {
	return Service{users: users, logger: logger, cfg: cfg}
}

// Signup registers a new user and returns an access token.
func (s Service) Signup(ctx context.Context, email, password string) (*domain.User, string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return nil, "", ErrCredentialsRequired
	}
	hash, err := crypto.HashPassword(password)
	if err != nil {
		return nil, "", err
	}
	user := &domain.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, "", err
	}
	token, err := jwtpkg.GenerateToken(user.ID, s.cfg.JWTSecret, s.cfg.AccessTokenTTL)
	if err != nil {
		return nil, "", err
	}
	s.logger.Info("user registered", "user_id", user.ID)
	return user, token, nil
}

// Login authenticates a user and returns an access token.
func (s Service) Login(ctx context.Context, email, password string) (*domain.User, string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, "", ErrInvalidCredentials
		}
		return nil, "", err
	}
	if err := crypto.ComparePassword(user.PasswordHash, password); err != nil {
		return nil, "", ErrInvalidCredentials
	}
	token, err := jwtpkg.GenerateToken(user.ID, s.cfg.JWTSecret, s.cfg.AccessTokenTTL)
	if err != nil {
		return nil, "", err
	}
	s.logger.Info("user logged in", "user_id", user.ID)
	return user, token, nil
}

// Authorize validates a bearer token and returns the associated user.
func (s Service) Authorize(ctx context.Context, token string) (*domain.User, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return nil, errors.New("auth: token required")
	}
	claims, err := jwtpkg.Parse(trimmed, s.cfg.JWTSecret)
	if err != nil {
		return nil, err
	}
	user, err := s.users.GetUserByID(ctx, claims.UserID)
	if err != nil {
		return nil, err
	}
	return user, nil
}
