package access

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/opencatalog/catalog/internal/authz"
	"github.com/opencatalog/catalog/internal/shared"
)

type memoryRepo struct {
	mu        sync.Mutex
	requests  map[uuid.UUID]AccessRequest
	datasets  map[uuid.UUID]bool
	approvals []shared.ApprovalLog
	audits    []shared.AuditLog
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		requests: make(map[uuid.UUID]AccessRequest),
		datasets: make(map[uuid.UUID]bool),
	}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	requests := make(map[uuid.UUID]AccessRequest, len(r.requests))
	for k, v := range r.requests {
		requests[k] = v
	}
	approvals := append([]shared.ApprovalLog(nil), r.approvals...)
	audits := append([]shared.AuditLog(nil), r.audits...)
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.requests, r.approvals, r.audits = requests, approvals, audits
		return err
	}
	return nil
}

func (r *memoryRepo) Get(ctx context.Context, id uuid.UUID) (AccessRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[id]
	if !ok {
		return AccessRequest{}, shared.ErrNotFound
	}
	return req, nil
}

func (r *memoryRepo) filter(keep func(AccessRequest) bool) []AccessRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []AccessRequest
	for _, req := range r.requests {
		if keep(req) {
			out = append(out, req)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (r *memoryRepo) ListPending(ctx context.Context, page shared.PageRequest) ([]AccessRequest, int, error) {
	items := r.filter(func(req AccessRequest) bool { return req.IsPending() })
	return items, len(items), nil
}

func (r *memoryRepo) ListForRequester(ctx context.Context, requester uuid.UUID, page shared.PageRequest) ([]AccessRequest, int, error) {
	items := r.filter(func(req AccessRequest) bool { return req.RequesterID == requester })
	return items, len(items), nil
}

func (r *memoryRepo) ListApproved(ctx context.Context, requester uuid.UUID, dataset *uuid.UUID) ([]AccessRequest, error) {
	return r.filter(func(req AccessRequest) bool {
		if dataset != nil && req.DatasetID != *dataset {
			return false
		}
		return req.RequesterID == requester && req.IsApproved() && !req.IsDenied()
	}), nil
}

func (r *memoryRepo) ListExpiring(ctx context.Context, from, to time.Time) ([]AccessRequest, error) {
	return r.filter(func(req AccessRequest) bool {
		if !req.IsApproved() || req.IsDenied() || req.EndTime == nil {
			return false
		}
		return !req.EndTime.Before(from) && req.EndTime.Before(to)
	}), nil
}

type memoryTx struct {
	repo *memoryRepo
}

func (t *memoryTx) DatasetExists(ctx context.Context, id uuid.UUID) (bool, error) {
	return t.repo.datasets[id], nil
}

func (t *memoryTx) Insert(ctx context.Context, req AccessRequest) (AccessRequest, error) {
	req.Version = 1
	t.repo.requests[req.ID] = req
	return req, nil
}

func (t *memoryTx) Lock(ctx context.Context, id uuid.UUID) (AccessRequest, error) {
	req, ok := t.repo.requests[id]
	if !ok {
		return AccessRequest{}, shared.ErrNotFound
	}
	return req, nil
}

func (t *memoryTx) Save(ctx context.Context, req AccessRequest) (AccessRequest, error) {
	current, ok := t.repo.requests[req.ID]
	if !ok || current.Version != req.Version {
		return AccessRequest{}, shared.ErrConflict
	}
	req.Version++
	t.repo.requests[req.ID] = req
	return req, nil
}

func (t *memoryTx) Delete(ctx context.Context, req AccessRequest) error {
	delete(t.repo.requests, req.ID)
	return nil
}

func (t *memoryTx) LogApproval(ctx context.Context, entry shared.ApprovalLog) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	t.repo.approvals = append(t.repo.approvals, entry)
	return nil
}

func (t *memoryTx) Audit(ctx context.Context, entry shared.AuditLog) error {
	t.repo.audits = append(t.repo.audits, entry)
	return nil
}

type recordingInvalidator struct {
	mu    sync.Mutex
	calls []uuid.UUID
}

func (r *recordingInvalidator) Invalidate(ctx context.Context, principal uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, principal)
	return nil
}

type clock struct {
	t time.Time
}

func (c *clock) Now() time.Time { return c.t }

func (c *clock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func validInput() CreateInput {
	return CreateInput{
		JobTitle:           "Analyst",
		Company:            "Acme",
		ContactEmail:       "analyst@example.com",
		ProjectDescription: "Air quality study",
		UsageDetails:       "Aggregated reporting",
	}
}

func newTestService(t *testing.T) (*Service, *memoryRepo, *clock) {
	t.Helper()
	repo := newMemoryRepo()
	clk := &clock{t: time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)}
	svc := NewService(repo, nil)
	svc.WithNow(clk.Now)
	return svc, repo, clk
}

func adminContext() authz.RoleContext {
	return authz.NewRoleContext(uuid.New(), true, nil)
}

func TestCreateRequiresPrincipal(t *testing.T) {
	svc, repo, _ := newTestService(t)
	dataset := uuid.New()
	repo.datasets[dataset] = true

	_, err := svc.Create(context.Background(), uuid.Nil, dataset, validInput())
	require.ErrorIs(t, err, shared.ErrUnauthenticated)
	require.Empty(t, repo.requests)
}

func TestCreateValidatesInput(t *testing.T) {
	svc, repo, _ := newTestService(t)
	dataset := uuid.New()
	repo.datasets[dataset] = true

	input := validInput()
	input.ContactEmail = "not-an-email"
	input.Company = ""
	_, err := svc.Create(context.Background(), uuid.New(), dataset, input)
	require.ErrorIs(t, err, shared.ErrValidation)
	var verr *shared.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Contains(t, verr.Fields, "contactEmail")
	require.Contains(t, verr.Fields, "company")
}

func TestCreateUnknownDataset(t *testing.T) {
	svc, repo, _ := newTestService(t)
	_, err := svc.Create(context.Background(), uuid.New(), uuid.New(), validInput())
	require.ErrorIs(t, err, shared.ErrNotFound)
	require.Empty(t, repo.requests)
	require.Empty(t, repo.approvals)
}

func TestPendingRequestGrantsNothing(t *testing.T) {
	svc, repo, _ := newTestService(t)
	user, dataset := uuid.New(), uuid.New()
	repo.datasets[dataset] = true

	req, err := svc.Create(context.Background(), user, dataset, validInput())
	require.NoError(t, err)
	require.True(t, req.IsPending())
	require.Nil(t, req.EndTime)

	ok, err := svc.HasValidAccess(context.Background(), dataset, user)
	require.NoError(t, err)
	require.False(t, ok)
	require.Len(t, repo.approvals, 1)
	require.Equal(t, shared.ApprovalSubmit, repo.approvals[0].Action)
	require.Equal(t, "access_request.create", repo.audits[0].Action)
}

func TestApproveWithPastEndTimeHasNoAccess(t *testing.T) {
	svc, repo, clk := newTestService(t)
	user, dataset := uuid.New(), uuid.New()
	repo.datasets[dataset] = true
	req, err := svc.Create(context.Background(), user, dataset, validInput())
	require.NoError(t, err)

	yesterday := clk.Now().Add(-24 * time.Hour)
	approved, err := svc.Approve(context.Background(), adminContext(), req.ID, &yesterday)
	require.NoError(t, err)
	require.NotNil(t, approved.ApprovedAt)
	require.Nil(t, approved.DeniedAt)
	require.False(t, approved.HasValidAccess(clk.Now()))

	ok, err := svc.HasValidAccess(context.Background(), dataset, user)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestApproveWithoutEndTimeGrantsIndefinitely(t *testing.T) {
	svc, repo, clk := newTestService(t)
	user, dataset := uuid.New(), uuid.New()
	repo.datasets[dataset] = true
	req, err := svc.Create(context.Background(), user, dataset, validInput())
	require.NoError(t, err)

	_, err = svc.Approve(context.Background(), adminContext(), req.ID, nil)
	require.NoError(t, err)

	clk.Advance(10 * 365 * 24 * time.Hour)
	ok, err := svc.HasValidAccess(context.Background(), dataset, user)
	require.NoError(t, err)
	require.True(t, ok)

	ids, err := svc.GrantedDatasetIDs(context.Background(), user)
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{dataset}, ids)

	rc := authz.NewRoleContext(user, false, ids)
	require.True(t, authz.CanViewDetails(authz.Subject{ID: dataset, OwnerID: uuid.New(), Approved: true, Controlled: true}, rc))
}

func TestExpiryBoundary(t *testing.T) {
	svc, repo, clk := newTestService(t)
	user, dataset := uuid.New(), uuid.New()
	repo.datasets[dataset] = true
	req, err := svc.Create(context.Background(), user, dataset, validInput())
	require.NoError(t, err)

	end := clk.Now().Add(time.Hour)
	_, err = svc.Approve(context.Background(), adminContext(), req.ID, &end)
	require.NoError(t, err)
	before := repo.requests[req.ID]

	clk.t = end
	ok, err := svc.HasValidAccess(context.Background(), dataset, user)
	require.NoError(t, err)
	require.True(t, ok, "valid at exactly the end time")

	clk.Advance(time.Nanosecond)
	ok, err = svc.HasValidAccess(context.Background(), dataset, user)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, before, repo.requests[req.ID])

	ids, err := svc.GrantedDatasetIDs(context.Background(), user)
	require.NoError(t, err)
	require.Empty(t, ids)
}

func TestDenyClearsApprovalAndEndTime(t *testing.T) {
	svc, repo, clk := newTestService(t)
	inv := &recordingInvalidator{}
	svc.SetInvalidator(inv)
	user, dataset := uuid.New(), uuid.New()
	repo.datasets[dataset] = true
	req, err := svc.Create(context.Background(), user, dataset, validInput())
	require.NoError(t, err)

	end := clk.Now().Add(time.Hour)
	_, err = svc.Approve(context.Background(), adminContext(), req.ID, &end)
	require.NoError(t, err)

	denied, err := svc.Deny(context.Background(), adminContext(), req.ID)
	require.NoError(t, err)
	require.Nil(t, denied.ApprovedAt)
	require.Nil(t, denied.EndTime)
	require.True(t, denied.IsDenied())
	require.Equal(t, []uuid.UUID{user, user}, inv.calls)

	ok, err := svc.HasValidAccess(context.Background(), dataset, user)
	require.NoError(t, err)
	require.False(t, ok)

	// Re-approval after a denial replaces it.
	again, err := svc.Approve(context.Background(), adminContext(), req.ID, nil)
	require.NoError(t, err)
	require.Nil(t, again.DeniedAt)
	require.True(t, again.HasValidAccess(clk.Now()))
}

func TestModerationRequiresApprovePermission(t *testing.T) {
	svc, repo, _ := newTestService(t)
	user, dataset := uuid.New(), uuid.New()
	repo.datasets[dataset] = true
	req, err := svc.Create(context.Background(), user, dataset, validInput())
	require.NoError(t, err)

	requester := authz.NewRoleContext(user, false, nil)
	_, err = svc.Approve(context.Background(), requester, req.ID, nil)
	require.ErrorIs(t, err, shared.ErrForbidden)
	_, err = svc.Deny(context.Background(), authz.Anonymous(), req.ID)
	require.ErrorIs(t, err, shared.ErrForbidden)
	require.ErrorIs(t, svc.Delete(context.Background(), requester, req.ID), shared.ErrForbidden)
	require.True(t, repo.requests[req.ID].IsPending())
}

func TestApproveUnknownRequest(t *testing.T) {
	svc, repo, _ := newTestService(t)
	_, err := svc.Approve(context.Background(), adminContext(), uuid.New(), nil)
	require.ErrorIs(t, err, shared.ErrNotFound)
	require.Empty(t, repo.approvals)
}

func TestDeleteRemovesRequest(t *testing.T) {
	svc, repo, _ := newTestService(t)
	user, dataset := uuid.New(), uuid.New()
	repo.datasets[dataset] = true
	req, err := svc.Create(context.Background(), user, dataset, validInput())
	require.NoError(t, err)
	_, err = svc.Approve(context.Background(), adminContext(), req.ID, nil)
	require.NoError(t, err)

	require.NoError(t, svc.Delete(context.Background(), adminContext(), req.ID))
	_, err = svc.Get(context.Background(), adminContext(), req.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)

	ids, err := svc.GrantedDatasetIDs(context.Background(), user)
	require.NoError(t, err)
	require.Empty(t, ids)
	require.Equal(t, shared.ApprovalDelete, repo.approvals[len(repo.approvals)-1].Action)
}

func TestGetHidesOtherUsersRequests(t *testing.T) {
	svc, repo, _ := newTestService(t)
	user, dataset := uuid.New(), uuid.New()
	repo.datasets[dataset] = true
	req, err := svc.Create(context.Background(), user, dataset, validInput())
	require.NoError(t, err)

	_, err = svc.Get(context.Background(), authz.NewRoleContext(user, false, nil), req.ID)
	require.NoError(t, err)
	_, err = svc.Get(context.Background(), authz.NewRoleContext(uuid.New(), false, nil), req.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)
	_, err = svc.Get(context.Background(), authz.Anonymous(), req.ID)
	require.ErrorIs(t, err, shared.ErrUnauthenticated)
}

func TestListings(t *testing.T) {
	svc, repo, clk := newTestService(t)
	u1, u2, dataset := uuid.New(), uuid.New(), uuid.New()
	repo.datasets[dataset] = true
	r1, err := svc.Create(context.Background(), u1, dataset, validInput())
	require.NoError(t, err)
	clk.Advance(time.Minute)
	_, err = svc.Create(context.Background(), u2, dataset, validInput())
	require.NoError(t, err)
	_, err = svc.Approve(context.Background(), adminContext(), r1.ID, nil)
	require.NoError(t, err)

	_, _, err = svc.ListPending(context.Background(), authz.NewRoleContext(u1, false, nil), shared.PageRequest{})
	require.ErrorIs(t, err, shared.ErrForbidden)

	pending, page, err := svc.ListPending(context.Background(), adminContext(), shared.PageRequest{})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, u2, pending[0].RequesterID)
	require.Equal(t, 1, page.Total)

	own, _, err := svc.ListForRequester(context.Background(), authz.NewRoleContext(u1, false, nil), shared.PageRequest{})
	require.NoError(t, err)
	require.Len(t, own, 1)
	require.Equal(t, r1.ID, own[0].ID)
}

func TestActiveGrantsMergesRequestsPerDataset(t *testing.T) {
	svc, repo, clk := newTestService(t)
	user, d1, d2 := uuid.New(), uuid.New(), uuid.New()
	repo.datasets[d1] = true
	repo.datasets[d2] = true
	short := clk.Now().Add(time.Hour)
	long := clk.Now().Add(48 * time.Hour)

	for _, tc := range []struct {
		dataset uuid.UUID
		end     *time.Time
	}{{d1, &short}, {d1, &long}, {d2, &short}, {d2, nil}} {
		req, err := svc.Create(context.Background(), user, tc.dataset, validInput())
		require.NoError(t, err)
		_, err = svc.Approve(context.Background(), adminContext(), req.ID, tc.end)
		require.NoError(t, err)
	}

	grants, err := svc.ActiveGrants(context.Background(), user)
	require.NoError(t, err)
	require.Len(t, grants, 2)
	byDataset := map[uuid.UUID]Grant{}
	for _, g := range grants {
		byDataset[g.DatasetID] = g
	}
	require.Equal(t, long, *byDataset[d1].EndTime)
	require.Nil(t, byDataset[d2].EndTime)
}

func TestSweepExpired(t *testing.T) {
	svc, repo, clk := newTestService(t)
	inv := &recordingInvalidator{}
	user, dataset := uuid.New(), uuid.New()
	repo.datasets[dataset] = true
	req, err := svc.Create(context.Background(), user, dataset, validInput())
	require.NoError(t, err)
	end := clk.Now().Add(time.Hour)
	_, err = svc.Approve(context.Background(), adminContext(), req.ID, &end)
	require.NoError(t, err)
	svc.SetInvalidator(inv)

	since := clk.Now()
	n, next, err := svc.SweepExpired(context.Background(), since)
	require.NoError(t, err)
	require.Zero(t, n)
	require.Equal(t, since, next)

	clk.t = end
	n, next, err = svc.SweepExpired(context.Background(), next)
	require.NoError(t, err)
	require.Zero(t, n, "not expired at exactly the end time")

	clk.Advance(time.Second)
	n, next, err = svc.SweepExpired(context.Background(), next)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, clk.Now(), next)
	require.Equal(t, []uuid.UUID{user}, inv.calls)
	require.Equal(t, "access_request.expired", repo.audits[len(repo.audits)-1].Action)
	require.Equal(t, uuid.Nil, repo.audits[len(repo.audits)-1].ActorID)

	n, _, err = svc.SweepExpired(context.Background(), next)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestConcurrentDecisionsKeepInvariant(t *testing.T) {
	svc, repo, _ := newTestService(t)
	user, dataset := uuid.New(), uuid.New()
	repo.datasets[dataset] = true
	req, err := svc.Create(context.Background(), user, dataset, validInput())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_, _ = svc.Approve(context.Background(), adminContext(), req.ID, nil)
			} else {
				_, _ = svc.Deny(context.Background(), adminContext(), req.ID)
			}
		}(i)
	}
	wg.Wait()

	got, err := svc.Get(context.Background(), adminContext(), req.ID)
	require.NoError(t, err)
	require.False(t, got.IsApproved() && got.IsDenied())
	require.Equal(t, int64(21), got.Version)
}
