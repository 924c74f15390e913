package auth

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/candorhq/candor/internal/models"
)

func TestNormalizeRole(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"Admin", models.RoleAdmin, true},
		{"ADMIN", models.RoleAdmin, true},
		{" admin ", models.RoleAdmin, true},
		{"leadership", models.RoleLeadership, true},
		{"sTaFf", models.RoleStaff, true},
		{"root", "", false},
		{"", "", false},
	}

	for _, tc := range cases {
		got, ok := NormalizeRole(tc.in)
		require.Equal(t, tc.ok, ok, tc.in)
		require.Equal(t, tc.want, got, tc.in)
	}
}

func TestRoleID(t *testing.T) {
	id, ok := RoleID("LEADERSHIP")
	require.True(t, ok)
	require.Equal(t, models.RoleIDLeadership, id)

	_, ok = RoleID("owner")
	require.False(t, ok)
}

func TestHasRole(t *testing.T) {
	require.True(t, HasRole("Admin", models.RoleAdmin))
	require.True(t, HasRole("ADMIN", "admin"))
	require.True(t, HasRole("leadership", models.RoleLeadership, models.RoleAdmin))
	require.False(t, HasRole("Staff", models.RoleLeadership, models.RoleAdmin))
	require.False(t, HasRole("", models.RoleAdmin))
	require.False(t, HasRole("Admin"))
}
