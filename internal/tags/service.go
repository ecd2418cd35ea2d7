package tags

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/opencatalog/catalog/internal/authz"
	"github.com/opencatalog/catalog/internal/moderation"
	"github.com/opencatalog/catalog/internal/shared"
)

// RepositoryPort is the storage port of the tag service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id uuid.UUID) (Tag, error)
	// List returns tags ordered by name; unapproved tags only when
	// includeUnapproved is set.
	List(ctx context.Context, includeUnapproved bool, page shared.PageRequest) ([]Tag, int, error)
}

// TxRepository holds the writes of a create. Insert reports a duplicate name
// as shared.ErrConflict.
type TxRepository interface {
	Insert(ctx context.Context, tag Tag) (Tag, error)
	LogApproval(ctx context.Context, entry shared.ApprovalLog) error
}

// Moderator runs moderation transitions; *moderation.Machine satisfies it.
type Moderator interface {
	Now() time.Time
	InitialStatus(rc authz.RoleContext) moderation.Status
	Update(ctx context.Context, rc authz.RoleContext, kind moderation.Kind, id uuid.UUID, expectedVersion int64, edits moderation.Edits) (moderation.Record, error)
	Delete(ctx context.Context, rc authz.RoleContext, kind moderation.Kind, id uuid.UUID) error
}

// Service implements tag use-cases.
type Service struct {
	repo    RepositoryPort
	machine Moderator
	logger  *slog.Logger
}

// NewService constructs a Service.
func NewService(repo RepositoryPort, machine Moderator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, machine: machine, logger: logger}
}

// Create adds a tag in its initial moderation state.
func (s *Service) Create(ctx context.Context, rc authz.RoleContext, input Input) (View, error) {
	if !rc.Authenticated() {
		return View{}, fmt.Errorf("tags: create: %w", shared.ErrUnauthenticated)
	}
	if !authz.CanCreate(rc) {
		return View{}, fmt.Errorf("tags: create: %w", shared.ErrForbidden)
	}
	input.Name = normalizeName(input.Name)
	if err := shared.ValidateStruct(input); err != nil {
		return View{}, err
	}
	now := s.machine.Now()
	status := s.machine.InitialStatus(rc)
	var created Tag
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		created, err = tx.Insert(ctx, Tag{
			ID:        uuid.New(),
			OwnerID:   rc.Principal(),
			Name:      input.Name,
			Status:    status,
			CreatedAt: now,
			UpdatedAt: now,
		})
		if err != nil {
			return err
		}
		return tx.LogApproval(ctx, shared.ApprovalLog{
			Module:  string(moderation.KindTag),
			RefID:   created.ID,
			ActorID: rc.Principal(),
			Action:  moderation.InitialAction(status),
			At:      now,
		})
	})
	if err != nil {
		return View{}, err
	}
	s.logger.Info("tag created", slog.String("id", created.ID.String()), slog.String("name", created.Name))
	return toView(created), nil
}

// Get returns a tag the caller may see.
func (s *Service) Get(ctx context.Context, rc authz.RoleContext, id uuid.UUID) (View, error) {
	t, err := s.repo.Get(ctx, id)
	if err != nil {
		return View{}, err
	}
	if !authz.CanViewTag(t.Subject(), rc) {
		return View{}, fmt.Errorf("tags: %s: %w", id, shared.ErrNotFound)
	}
	return toView(t), nil
}

// List returns the tags visible to the caller.
func (s *Service) List(ctx context.Context, rc authz.RoleContext, page shared.PageRequest) ([]View, shared.Pagination, error) {
	all := authz.Evaluate(authz.PermViewAllUnapprovedContent, rc)
	items, total, err := s.repo.List(ctx, all, page)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	views := make([]View, 0, len(items))
	for _, t := range items {
		if authz.CanViewTag(t.Subject(), rc) {
			views = append(views, toView(t))
		}
	}
	return views, shared.NewPagination(page, total), nil
}

// Rename changes the tag name and re-evaluates its moderation state.
func (s *Service) Rename(ctx context.Context, rc authz.RoleContext, id uuid.UUID, expectedVersion int64, input Input) (View, error) {
	input.Name = normalizeName(input.Name)
	if err := shared.ValidateStruct(input); err != nil {
		return View{}, err
	}
	if _, err := s.machine.Update(ctx, rc, moderation.KindTag, id, expectedVersion, moderation.Edits{"name": input.Name}); err != nil {
		return View{}, err
	}
	t, err := s.repo.Get(ctx, id)
	if err != nil {
		return View{}, err
	}
	return toView(t), nil
}

// Delete removes the tag and its dataset links.
func (s *Service) Delete(ctx context.Context, rc authz.RoleContext, id uuid.UUID) error {
	return s.machine.Delete(ctx, rc, moderation.KindTag, id)
}

// normalizeName folds case and compatibility forms so visually equal names
// collide on the unique index.
func normalizeName(name string) string {
	folded := cases.Fold().String(norm.NFKC.String(name))
	return strings.Join(strings.Fields(folded), " ")
}
