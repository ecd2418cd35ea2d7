package users

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/opencatalog/catalog/internal/authz"
	"github.com/opencatalog/catalog/internal/shared"
)

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	FindByID(ctx context.Context, id uuid.UUID) (User, error)
	ListUsers(ctx context.Context, page shared.PageRequest) ([]User, int, error)
	SetAdmin(ctx context.Context, id uuid.UUID, admin bool, entry shared.AuditLog) (User, error)
}

// Service handles user business logic.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// IsAdmin implements authz.IdentitySource. Deactivated accounts are reported
// as not found so their sessions fall back to anonymous.
func (s *Service) IsAdmin(ctx context.Context, principal uuid.UUID) (bool, error) {
	u, err := s.repo.FindByID(ctx, principal)
	if err != nil {
		return false, err
	}
	if !u.IsActive {
		return false, fmt.Errorf("users: %s deactivated: %w", principal, shared.ErrNotFound)
	}
	return u.IsAdmin, nil
}

// ListUsers returns users for principals allowed to manage them.
func (s *Service) ListUsers(ctx context.Context, rc authz.RoleContext, page shared.PageRequest) ([]User, shared.Pagination, error) {
	if !authz.Evaluate(authz.PermManageUsers, rc) {
		return nil, shared.Pagination{}, fmt.Errorf("users: list: %w", shared.ErrForbidden)
	}
	items, total, err := s.repo.ListUsers(ctx, page)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return items, shared.NewPagination(page, total), nil
}

// SetAdmin grants or revokes the admin flag. Admins cannot revoke their own
// flag.
func (s *Service) SetAdmin(ctx context.Context, rc authz.RoleContext, id uuid.UUID, admin bool) (User, error) {
	if !authz.Evaluate(authz.PermManageUsers, rc) {
		return User{}, fmt.Errorf("users: set admin: %w", shared.ErrForbidden)
	}
	if id == rc.Principal() && !admin {
		return User{}, fmt.Errorf("%w: cannot revoke own admin flag", shared.ErrValidation)
	}
	return s.repo.SetAdmin(ctx, id, admin, shared.AuditLog{
		ActorID:  rc.Principal(),
		Action:   "user.set_admin",
		Entity:   "user",
		EntityID: id.String(),
		Meta:     map[string]any{"admin": admin},
	})
}
