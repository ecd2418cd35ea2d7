package datasets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/opencatalog/catalog/internal/authz"
	"github.com/opencatalog/catalog/internal/moderation"
	"github.com/opencatalog/catalog/internal/shared"
)

// RepositoryPort is the storage port of the dataset service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	// Get returns an undeleted dataset or shared.ErrNotFound.
	Get(ctx context.Context, id uuid.UUID) (Dataset, error)
	List(ctx context.Context, filter ListFilter, vis Visibility) ([]Dataset, int, error)
	// SetFeedVerified stores a probe result guarded by version and returns
	// the new version.
	SetFeedVerified(ctx context.Context, id uuid.UUID, version int64, verified bool) (int64, error)
}

// TxRepository holds the writes of a create.
type TxRepository interface {
	// Insert stores the dataset with its tag links. Unknown tag ids yield
	// shared.ErrNotFound.
	Insert(ctx context.Context, d Dataset) (Dataset, error)
	// ApprovePendingTags approves the pending tags linked to the dataset and
	// returns their ids.
	ApprovePendingTags(ctx context.Context, datasetID uuid.UUID, at time.Time) ([]uuid.UUID, error)
	LogApproval(ctx context.Context, entry shared.ApprovalLog) error
}

// Moderator runs moderation transitions; *moderation.Machine satisfies it.
type Moderator interface {
	Now() time.Time
	InitialStatus(rc authz.RoleContext) moderation.Status
	Update(ctx context.Context, rc authz.RoleContext, kind moderation.Kind, id uuid.UUID, expectedVersion int64, edits moderation.Edits) (moderation.Record, error)
	Delete(ctx context.Context, rc authz.RoleContext, kind moderation.Kind, id uuid.UUID) error
}

// FeedChecker probes a dataset endpoint; *probe.Pool satisfies it.
type FeedChecker interface {
	Check(ctx context.Context, target string) (bool, error)
}

// ErrNoEndpoint indicates a feed check on a dataset without an endpoint.
var ErrNoEndpoint = fmt.Errorf("%w: dataset has no endpoint", shared.ErrValidation)

// Service implements dataset use-cases.
type Service struct {
	repo    RepositoryPort
	machine Moderator
	feeds   FeedChecker
	logger  *slog.Logger
}

// NewService constructs a Service.
func NewService(repo RepositoryPort, machine Moderator, feeds FeedChecker, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, machine: machine, feeds: feeds, logger: logger}
}

// Create stores a new dataset owned by the caller in its initial moderation
// state.
func (s *Service) Create(ctx context.Context, rc authz.RoleContext, input CreateInput) (View, error) {
	if !rc.Authenticated() {
		return View{}, fmt.Errorf("datasets: create: %w", shared.ErrUnauthenticated)
	}
	if !authz.CanCreate(rc) {
		return View{}, fmt.Errorf("datasets: create: %w", shared.ErrForbidden)
	}
	if err := shared.ValidateStruct(input); err != nil {
		return View{}, err
	}
	now := s.machine.Now()
	status := s.machine.InitialStatus(rc)
	var created Dataset
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		created, err = tx.Insert(ctx, Dataset{
			ID:            uuid.New(),
			OwnerID:       rc.Principal(),
			Kind:          input.Kind,
			Title:         strings.TrimSpace(input.Title),
			Description:   input.Description,
			EndpointURL:   input.EndpointURL,
			Credentials:   input.Credentials,
			SamplePayload: input.SamplePayload,
			ExternalLinks: input.ExternalLinks,
			TagIDs:        input.TagIDs,
			Status:        status,
			CreatedAt:     now,
			UpdatedAt:     now,
		})
		if err != nil {
			return err
		}
		err = tx.LogApproval(ctx, shared.ApprovalLog{
			Module:  string(moderation.KindDataset),
			RefID:   created.ID,
			ActorID: rc.Principal(),
			Action:  moderation.InitialAction(status),
			At:      now,
		})
		if err != nil || !status.IsApproved() {
			return err
		}
		tagIDs, err := tx.ApprovePendingTags(ctx, created.ID, now)
		if err != nil {
			return fmt.Errorf("datasets: cascade tag approval: %w", err)
		}
		for _, tagID := range tagIDs {
			if err := tx.LogApproval(ctx, moderation.CascadeLog(created.ID, tagID, rc.Principal(), now)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return View{}, err
	}
	s.logger.Info("dataset created",
		slog.String("id", created.ID.String()),
		slog.String("kind", string(created.Kind)),
		slog.String("state", string(created.Status.State())))
	return Project(created, rc), nil
}

// Get returns the caller's view of a dataset. Datasets the caller may not
// see are reported as not found.
func (s *Service) Get(ctx context.Context, rc authz.RoleContext, id uuid.UUID) (View, error) {
	d, err := s.visible(ctx, rc, id)
	if err != nil {
		return View{}, err
	}
	return Project(d, rc), nil
}

// List returns the datasets visible to the caller.
func (s *Service) List(ctx context.Context, rc authz.RoleContext, filter ListFilter) ([]View, shared.Pagination, error) {
	items, total, err := s.repo.List(ctx, filter, VisibilityFor(rc))
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	views := make([]View, 0, len(items))
	for _, d := range items {
		if !authz.CanView(d.Subject(), rc) {
			continue
		}
		views = append(views, Project(d, rc))
	}
	return views, shared.NewPagination(filter.Page, total), nil
}

// Update applies the edits and re-evaluates the moderation state.
func (s *Service) Update(ctx context.Context, rc authz.RoleContext, id uuid.UUID, expectedVersion int64, input UpdateInput) (View, error) {
	if err := shared.ValidateStruct(input); err != nil {
		return View{}, err
	}
	if input.Title != nil && strings.TrimSpace(*input.Title) == "" {
		return View{}, &shared.ValidationError{Fields: map[string]string{"title": "required"}}
	}
	if input.EndpointURL != nil && *input.EndpointURL != "" {
		if err := shared.ValidateVar(*input.EndpointURL, "url"); err != nil {
			return View{}, err
		}
	}
	if _, err := s.machine.Update(ctx, rc, moderation.KindDataset, id, expectedVersion, input.Edits()); err != nil {
		return View{}, err
	}
	d, err := s.repo.Get(ctx, id)
	if err != nil {
		return View{}, err
	}
	return Project(d, rc), nil
}

// Delete soft deletes the dataset.
func (s *Service) Delete(ctx context.Context, rc authz.RoleContext, id uuid.UUID) error {
	return s.machine.Delete(ctx, rc, moderation.KindDataset, id)
}

// VerifyFeed probes the dataset endpoint and records whether it answered.
// The result does not touch the moderation state.
func (s *Service) VerifyFeed(ctx context.Context, rc authz.RoleContext, id uuid.UUID) (View, error) {
	if !rc.Authenticated() {
		return View{}, fmt.Errorf("datasets: verify feed: %w", shared.ErrUnauthenticated)
	}
	d, err := s.visible(ctx, rc, id)
	if err != nil {
		return View{}, err
	}
	if !authz.CanEdit(d.Subject(), rc) {
		return View{}, fmt.Errorf("datasets: verify feed: %w", shared.ErrForbidden)
	}
	if d.EndpointURL == "" {
		return View{}, ErrNoEndpoint
	}
	if s.feeds == nil {
		return View{}, errors.New("datasets: feed checker not configured")
	}
	ok, err := s.feeds.Check(ctx, d.EndpointURL)
	if err != nil {
		return View{}, fmt.Errorf("datasets: verify feed: %w", err)
	}
	version, err := s.repo.SetFeedVerified(ctx, d.ID, d.Version, ok)
	if err != nil {
		return View{}, err
	}
	d.FeedVerified = ok
	d.Version = version
	s.logger.Info("dataset feed checked", slog.String("id", d.ID.String()), slog.Bool("reachable", ok))
	return Project(d, rc), nil
}

func (s *Service) visible(ctx context.Context, rc authz.RoleContext, id uuid.UUID) (Dataset, error) {
	d, err := s.repo.Get(ctx, id)
	if err != nil {
		return Dataset{}, err
	}
	if !authz.CanView(d.Subject(), rc) {
		return Dataset{}, fmt.Errorf("datasets: %s: %w", id, shared.ErrNotFound)
	}
	return d, nil
}
