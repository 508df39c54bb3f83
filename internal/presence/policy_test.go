package presence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRolePolicy_Classify(t *testing.T) {
	policy := DefaultRolePolicy()

	tests := []struct {
		role     string
		excluded bool
		category ExclusionCategory
	}{
		{"", false, 0},
		{"   ", false, 0},
		{"ROLE_MEMBER", false, 0},
		{"ROLE_ADMIN", true, ExcludeAdministrator},
		{"ROLE_ADMIN_SUPER", true, ExcludeAdministrator},
		{"ROLE_SELLER", true, ExcludeSeller},
		{"ROLE_SELLER_PENDING", true, ExcludeSeller},
		{"role_admin", false, 0},
		{"USER_ROLE_ADMIN", false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.role, func(t *testing.T) {
			category, excluded := policy.Classify(tt.role)
			assert.Equal(t, tt.excluded, excluded)
			assert.Equal(t, tt.category, category)
			assert.Equal(t, !tt.excluded, policy.Counts(tt.role))
		})
	}
}

func TestRolePolicy_ZeroValueCountsEveryone(t *testing.T) {
	var policy RolePolicy
	assert.True(t, policy.Counts("ROLE_ADMIN"))
	assert.True(t, policy.Counts("ROLE_SELLER"))
	assert.Empty(t, policy.Excluded())
}

func TestNewRolePolicy_DropsDuplicatesAndUnknown(t *testing.T) {
	policy := NewRolePolicy(ExcludeSeller, ExcludeSeller, ExclusionCategory(99))
	assert.Equal(t, []ExclusionCategory{ExcludeSeller}, policy.Excluded())
	assert.True(t, policy.Counts("ROLE_ADMIN"))
	assert.False(t, policy.Counts("ROLE_SELLER"))
}

func TestPolicyFromNames(t *testing.T) {
	policy, err := PolicyFromNames([]string{" Administrator ", "seller"})
	require.NoError(t, err)
	assert.Equal(t, []ExclusionCategory{ExcludeAdministrator, ExcludeSeller}, policy.Excluded())

	_, err = PolicyFromNames([]string{"moderator"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "moderator")
}

func TestExclusionCategory_String(t *testing.T) {
	assert.Equal(t, "administrator", ExcludeAdministrator.String())
	assert.Equal(t, "seller", ExcludeSeller.String())
	assert.Equal(t, "ExclusionCategory(7)", ExclusionCategory(7).String())
}
