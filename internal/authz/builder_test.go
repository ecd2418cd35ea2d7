package authz

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/opencatalog/catalog/internal/shared"
)

type stubIdentity struct {
	admins map[uuid.UUID]bool
	err    error
	calls  atomic.Int32
}

func (s *stubIdentity) IsAdmin(ctx context.Context, principal uuid.UUID) (bool, error) {
	s.calls.Add(1)
	if s.err != nil {
		return false, s.err
	}
	return s.admins[principal], nil
}

type stubGrants struct {
	ids   map[uuid.UUID][]uuid.UUID
	err   error
	calls atomic.Int32
}

func (s *stubGrants) GrantedDatasetIDs(ctx context.Context, principal uuid.UUID) ([]uuid.UUID, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return s.ids[principal], nil
}

func TestBuildAnonymousSkipsSources(t *testing.T) {
	identity := &stubIdentity{}
	grants := &stubGrants{}
	rc, err := NewBuilder(identity, grants, nil).Build(context.Background(), uuid.Nil)
	require.NoError(t, err)
	require.False(t, rc.Authenticated())
	require.Zero(t, identity.calls.Load())
	require.Zero(t, grants.calls.Load())
}

func TestBuildAuthenticatedContext(t *testing.T) {
	admin, user, dataset := uuid.New(), uuid.New(), uuid.New()
	identity := &stubIdentity{admins: map[uuid.UUID]bool{admin: true}}
	grants := &stubGrants{ids: map[uuid.UUID][]uuid.UUID{user: {dataset}}}
	builder := NewBuilder(identity, grants, nil)

	rc, err := builder.Build(context.Background(), user)
	require.NoError(t, err)
	require.Equal(t, []Role{RoleGeneralUser}, rc.Roles())
	require.True(t, rc.HasGrant(dataset))

	rc, err = builder.Build(context.Background(), admin)
	require.NoError(t, err)
	require.Equal(t, []Role{RoleGeneralUser, RoleAdmin}, rc.Roles())
	require.Empty(t, rc.GrantedDatasetIDs())
}

func TestBuildLooksUpGrantsEveryTime(t *testing.T) {
	user, dataset := uuid.New(), uuid.New()
	grants := &stubGrants{ids: map[uuid.UUID][]uuid.UUID{user: {dataset}}}
	builder := NewBuilder(&stubIdentity{}, grants, nil)

	rc, err := builder.Build(context.Background(), user)
	require.NoError(t, err)
	require.True(t, rc.HasGrant(dataset))

	grants.ids[user] = nil
	rc, err = builder.Build(context.Background(), user)
	require.NoError(t, err)
	require.False(t, rc.HasGrant(dataset))
	require.EqualValues(t, 2, grants.calls.Load())
}

func TestBuildUnknownPrincipalIsAnonymous(t *testing.T) {
	identity := &stubIdentity{err: shared.ErrNotFound}
	rc, err := NewBuilder(identity, &stubGrants{}, nil).Build(context.Background(), uuid.New())
	require.NoError(t, err)
	require.False(t, rc.Authenticated())
}

func TestBuildPropagatesSourceErrors(t *testing.T) {
	boom := errors.New("db down")
	_, err := NewBuilder(&stubIdentity{}, &stubGrants{err: boom}, nil).Build(context.Background(), uuid.New())
	require.ErrorIs(t, err, boom)

	_, err = NewBuilder(&stubIdentity{err: boom}, &stubGrants{}, nil).Build(context.Background(), uuid.New())
	require.ErrorIs(t, err, boom)
}
