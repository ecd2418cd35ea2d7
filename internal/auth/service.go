package auth

import (
	"context"

	"golang.org/x/crypto/bcrypt"

	"github.com/opencatalog/catalog/internal/users"
)

// Repository looks up accounts by email.
type Repository interface {
	FindByEmail(ctx context.Context, email string) (users.User, error)
}

// Service wraps authentication business rules.
type Service struct {
	repo Repository
}

// NewService constructs a new Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Authenticate validates email/password credentials.
func (s *Service) Authenticate(ctx context.Context, email, password string) (users.User, error) {
	user, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		return users.User{}, ErrInvalidCredentials
	}
	if !user.IsActive {
		return users.User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return users.User{}, ErrInvalidCredentials
	}
	return user, nil
}

// HashPassword returns the bcrypt hash stored in users.password_hash.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
