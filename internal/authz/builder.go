package authz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/opencatalog/catalog/internal/shared"
)

// IdentitySource supplies identity-layer claims for a verified principal.
type IdentitySource interface {
	IsAdmin(ctx context.Context, principal uuid.UUID) (bool, error)
}

// GrantSource lists the controlled datasets a principal currently holds a
// valid grant for. Implementations must not serve results older than their
// documented staleness bound.
type GrantSource interface {
	GrantedDatasetIDs(ctx context.Context, principal uuid.UUID) ([]uuid.UUID, error)
}

// Builder constructs RoleContexts.
type Builder struct {
	identity IdentitySource
	grants   GrantSource
	logger   *slog.Logger
}

// NewBuilder constructs a Builder.
func NewBuilder(identity IdentitySource, grants GrantSource, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{identity: identity, grants: grants, logger: logger}
}

// Build resolves the RoleContext for principal. uuid.Nil yields the anonymous
// context without touching either source. Grants are looked up on every call.
func (b *Builder) Build(ctx context.Context, principal uuid.UUID) (RoleContext, error) {
	if principal == uuid.Nil {
		return Anonymous(), nil
	}
	if b == nil || b.identity == nil || b.grants == nil {
		return RoleContext{}, errors.New("authz: builder not configured")
	}

	var (
		isAdmin bool
		granted []uuid.UUID
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		v, err := b.identity.IsAdmin(gctx, principal)
		if err != nil {
			return fmt.Errorf("authz: identity lookup: %w", err)
		}
		isAdmin = v
		return nil
	})
	g.Go(func() error {
		ids, err := b.grants.GrantedDatasetIDs(gctx, principal)
		if err != nil {
			return fmt.Errorf("authz: grant lookup: %w", err)
		}
		granted = ids
		return nil
	})
	if err := g.Wait(); err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			b.logger.Warn("session principal has no identity record", slog.String("principal", principal.String()))
			return Anonymous(), nil
		}
		return RoleContext{}, err
	}
	return NewRoleContext(principal, isAdmin, granted), nil
}
