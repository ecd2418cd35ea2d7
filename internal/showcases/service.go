package showcases

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/opencatalog/catalog/internal/authz"
	"github.com/opencatalog/catalog/internal/moderation"
	"github.com/opencatalog/catalog/internal/shared"
)

// RepositoryPort is the storage port of the showcase service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	// Get returns an undeleted showcase or shared.ErrNotFound.
	Get(ctx context.Context, id uuid.UUID) (Showcase, error)
	// ListForDataset returns undeleted showcases of a dataset that are
	// approved or owned by viewer; all of them when all is set.
	ListForDataset(ctx context.Context, datasetID uuid.UUID, viewer uuid.UUID, all bool, page shared.PageRequest) ([]Showcase, int, error)
	// DatasetSubject returns the authorization view of an undeleted dataset
	// or shared.ErrNotFound.
	DatasetSubject(ctx context.Context, id uuid.UUID) (authz.Subject, error)
}

// TxRepository holds the writes of a create.
type TxRepository interface {
	DatasetExists(ctx context.Context, id uuid.UUID) (bool, error)
	Insert(ctx context.Context, s Showcase) (Showcase, error)
	LogApproval(ctx context.Context, entry shared.ApprovalLog) error
}

// Moderator runs moderation transitions; *moderation.Machine satisfies it.
type Moderator interface {
	Now() time.Time
	InitialStatus(rc authz.RoleContext) moderation.Status
	Update(ctx context.Context, rc authz.RoleContext, kind moderation.Kind, id uuid.UUID, expectedVersion int64, edits moderation.Edits) (moderation.Record, error)
	Delete(ctx context.Context, rc authz.RoleContext, kind moderation.Kind, id uuid.UUID) error
}

// Service implements showcase use-cases.
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

// Create stores a showcase for an existing dataset.
func (s *Service) Create(ctx context.Context, rc authz.RoleContext, input CreateInput) (View, error) {
	if !rc.Authenticated() {
		return View{}, fmt.Errorf("showcases: create: %w", shared.ErrUnauthenticated)
	}
	if !authz.CanCreate(rc) {
		return View{}, fmt.Errorf("showcases: create: %w", shared.ErrForbidden)
	}
	input.Title = strings.TrimSpace(input.Title)
	if err := shared.ValidateStruct(input); err != nil {
		return View{}, err
	}
	now := s.machine.Now()
	status := s.machine.InitialStatus(rc)
	var created Showcase
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		exists, err := tx.DatasetExists(ctx, input.DatasetID)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("showcases: dataset %s: %w", input.DatasetID, shared.ErrNotFound)
		}
		created, err = tx.Insert(ctx, Showcase{
			ID:        uuid.New(),
			OwnerID:   rc.Principal(),
			DatasetID: input.DatasetID,
			Title:     input.Title,
			Summary:   input.Summary,
			URL:       input.URL,
			Status:    status,
			CreatedAt: now,
			UpdatedAt: now,
		})
		if err != nil {
			return err
		}
		return tx.LogApproval(ctx, shared.ApprovalLog{
			Module:  string(moderation.KindShowcase),
			RefID:   created.ID,
			ActorID: rc.Principal(),
			Action:  moderation.InitialAction(status),
			At:      now,
		})
	})
	if err != nil {
		return View{}, err
	}
	s.logger.Info("showcase created", slog.String("id", created.ID.String()), slog.String("dataset", created.DatasetID.String()))
	return toView(created), nil
}

// Get returns a showcase the caller may see.
func (s *Service) Get(ctx context.Context, rc authz.RoleContext, id uuid.UUID) (View, error) {
	sc, err := s.repo.Get(ctx, id)
	if err != nil {
		return View{}, err
	}
	if !authz.CanView(sc.Subject(), rc) {
		return View{}, fmt.Errorf("showcases: %s: %w", id, shared.ErrNotFound)
	}
	return toView(sc), nil
}

// ListForDataset returns the showcases of a dataset visible to the caller.
// A dataset the caller may not see is reported as not found.
func (s *Service) ListForDataset(ctx context.Context, rc authz.RoleContext, datasetID uuid.UUID, page shared.PageRequest) ([]View, shared.Pagination, error) {
	parent, err := s.repo.DatasetSubject(ctx, datasetID)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	if !authz.CanView(parent, rc) {
		return nil, shared.Pagination{}, fmt.Errorf("showcases: dataset %s: %w", datasetID, shared.ErrNotFound)
	}
	all := authz.Evaluate(authz.PermViewAllUnapprovedContent, rc)
	items, total, err := s.repo.ListForDataset(ctx, datasetID, rc.Principal(), all, page)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	views := make([]View, 0, len(items))
	for _, sc := range items {
		if authz.CanView(sc.Subject(), rc) {
			views = append(views, toView(sc))
		}
	}
	return views, shared.NewPagination(page, total), nil
}

// Update applies the edits and re-evaluates the moderation state.
func (s *Service) Update(ctx context.Context, rc authz.RoleContext, id uuid.UUID, expectedVersion int64, input UpdateInput) (View, error) {
	if err := shared.ValidateStruct(input); err != nil {
		return View{}, err
	}
	if input.Title != nil && strings.TrimSpace(*input.Title) == "" {
		return View{}, &shared.ValidationError{Fields: map[string]string{"title": "required"}}
	}
	if input.URL != nil && *input.URL != "" {
		if err := shared.ValidateVar(*input.URL, "url"); err != nil {
			return View{}, err
		}
	}
	if _, err := s.machine.Update(ctx, rc, moderation.KindShowcase, id, expectedVersion, input.edits()); err != nil {
		return View{}, err
	}
	sc, err := s.repo.Get(ctx, id)
	if err != nil {
		return View{}, err
	}
	return toView(sc), nil
}

// Delete soft deletes the showcase.
func (s *Service) Delete(ctx context.Context, rc authz.RoleContext, id uuid.UUID) error {
	return s.machine.Delete(ctx, rc, moderation.KindShowcase, id)
}
