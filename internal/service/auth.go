package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"pharmapos/internal/domain"
	"pharmapos/internal/store"
)

var errInvalidCredentials = fmt.Errorf("%w: invalid credentials", store.ErrUnauthenticated)

// Authenticate verifies a username and password. Accounts carried over from
// older databases may still hold a plain-text password; a correct login
// upgrades it to a bcrypt hash in place.
func (s *Service) Authenticate(ctx context.Context, username string, password string) (*domain.User, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || password == "" {
		return nil, errInvalidCredentials
	}

	user, err := s.repo.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, errInvalidCredentials
		}
		return nil, err
	}
	if !user.Active {
		return nil, fmt.Errorf("%w: account is inactive", store.ErrUnauthenticated)
	}

	if !isPasswordHash(user.PasswordHash) {
		if user.PasswordHash != password {
			return nil, errInvalidCredentials
		}
		hashed, err := hashPassword(password)
		if err == nil {
			if err := s.repo.UpdateUserPassword(ctx, username, hashed); err != nil {
				s.logger.Warn("failed to upgrade legacy password", zap.String("username", username), zap.Error(err))
			} else {
				user.PasswordHash = hashed
			}
		}
		return user, nil
	}

	if !verifyPassword(user.PasswordHash, password) {
		return nil, errInvalidCredentials
	}
	return user, nil
}

// Login authenticates and opens a fresh session with an empty cart.
func (s *Service) Login(ctx context.Context, username string, password string) (*Session, error) {
	user, err := s.Authenticate(ctx, username, password)
	if err != nil {
		s.logger.Info("login rejected", zap.String("username", username), zap.String("reason", store.Kind(err)))
		return nil, err
	}
	sess := NewSession(user)
	s.logger.Info("login", zap.String("username", user.Username), zap.String("role", user.Role))
	return sess, nil
}

func (s *Service) CreateUser(ctx context.Context, req domain.UserCreateRequest) (domain.User, error) {
	username := strings.ToLower(strings.TrimSpace(req.Username))
	if len(username) < 4 {
		return domain.User{}, fmt.Errorf("%w: username must be at least 4 characters", store.ErrValidation)
	}
	if strings.ContainsAny(username, " \t\r\n") {
		return domain.User{}, fmt.Errorf("%w: username must not contain spaces", store.ErrValidation)
	}
	if strings.TrimSpace(req.Password) == "" || len(req.Password) < 6 {
		return domain.User{}, fmt.Errorf("%w: password must be at least 6 characters", store.ErrValidation)
	}
	if !domain.ValidRole(req.Role) {
		return domain.User{}, fmt.Errorf("%w: role must be Admin, Pharmacist or Cashier", store.ErrValidation)
	}

	passwordHash, err := hashPassword(req.Password)
	if err != nil {
		return domain.User{}, fmt.Errorf("failed to hash password: %w", err)
	}

	created, err := s.repo.CreateUser(ctx, domain.User{
		Username:     username,
		PasswordHash: passwordHash,
		Role:         req.Role,
		Active:       true,
		CreatedAt:    s.now().UTC(),
	})
	if err != nil {
		return domain.User{}, err
	}

	s.logAudit(ctx, "user_create", "user", strconv.FormatInt(created.ID, 10), fmt.Sprintf("username=%s,role=%s", created.Username, created.Role))
	return *created, nil
}

func (s *Service) ListUsers(ctx context.Context) ([]domain.User, error) {
	return s.repo.ListUsers(ctx)
}

func verifyPassword(stored string, input string) bool {
	if stored == "" || strings.TrimSpace(input) == "" || !isPasswordHash(stored) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(input)) == nil
}

func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func isPasswordHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}
