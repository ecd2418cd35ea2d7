package authz

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestEvaluateMatrix(t *testing.T) {
	anon := Anonymous()
	user := NewRoleContext(uuid.New(), false, nil)
	admin := NewRoleContext(uuid.New(), true, nil)

	cases := []struct {
		perm  Permission
		anon  bool
		user  bool
		admin bool
	}{
		{PermViewPublicContent, true, true, true},
		{PermViewOwnUnapprovedContent, false, true, true},
		{PermCreateUnapprovedContent, false, true, true},
		{PermEditOwnContent, false, true, true},
		{PermViewControlledDatasetDetails, false, false, true},
		{PermViewAllUnapprovedContent, false, false, true},
		{PermCreateApprovedContent, false, false, true},
		{PermApproveContent, false, false, true},
		{PermEditAllContent, false, false, true},
		{PermEditHomepageSettings, false, false, true},
		{PermManageUsers, false, false, true},
	}
	require.Len(t, cases, len(AllPermissions()))

	for _, tc := range cases {
		t.Run(tc.perm.String(), func(t *testing.T) {
			require.Equal(t, tc.anon, Evaluate(tc.perm, anon), "anonymous")
			require.Equal(t, tc.user, Evaluate(tc.perm, user), "general user")
			require.Equal(t, tc.admin, Evaluate(tc.perm, admin), "admin")
		})
	}
}

func TestEvaluateFailsClosed(t *testing.T) {
	admin := NewRoleContext(uuid.New(), true, nil)
	require.False(t, Evaluate(Permission(0), admin))
	require.False(t, Evaluate(Permission(999), admin))
	require.Equal(t, "UNKNOWN", Permission(999).String())
}

func TestEvaluateContextualRoles(t *testing.T) {
	owner := uuid.New()
	dataset := Subject{ID: uuid.New(), OwnerID: owner, Approved: true, Controlled: true}

	rc := NewRoleContext(owner, false, nil)
	require.False(t, Evaluate(PermViewControlledDatasetDetails, rc))
	require.True(t, Evaluate(PermViewControlledDatasetDetails, rc.RolesFor(dataset)))

	grantee := NewRoleContext(uuid.New(), false, []uuid.UUID{dataset.ID})
	scoped := grantee.RolesFor(dataset)
	require.True(t, scoped.HasRole(RoleControlledDatasetGrantedUser))
	require.False(t, scoped.HasRole(RoleContentOwner))
	require.True(t, Evaluate(PermViewControlledDatasetDetails, scoped))

	other := Subject{ID: uuid.New(), OwnerID: owner, Controlled: true}
	require.False(t, Evaluate(PermViewControlledDatasetDetails, grantee.RolesFor(other)))
}

func TestParsePermission(t *testing.T) {
	for _, p := range AllPermissions() {
		parsed, ok := ParsePermission(p.String())
		require.True(t, ok)
		require.Equal(t, p, parsed)
	}
	_, ok := ParsePermission("DROP_TABLES")
	require.False(t, ok)
}

func TestEffectivePermissions(t *testing.T) {
	require.Equal(t, []Permission{PermViewPublicContent}, EffectivePermissions(Anonymous()))
	require.Len(t, EffectivePermissions(NewRoleContext(uuid.New(), true, nil)), len(AllPermissions()))
}
