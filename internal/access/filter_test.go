package access

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildEquipmentFilter_LocalAdmin(t *testing.T) {
	scope := ResolveAccessScope(Profile{Role: RoleLocalAdmin, RegionCode: "DAE", DistrictCode: "중구"})

	f, err := BuildEquipmentFilter(scope, MatchByAddress)
	require.NoError(t, err)
	require.NotNil(t, f.Sido)
	require.NotNil(t, f.Gugun)
	assert.Equal(t, "DAE", *f.Sido)
	assert.Equal(t, "중구", *f.Gugun)
	assert.Nil(t, f.EquipmentSerialIn)
	assert.False(t, f.ConstrainsSerials())
	assert.Equal(t, MatchByAddress, f.Criterion)
}

func TestBuildEquipmentFilter_Jurisdiction(t *testing.T) {
	scope := ResolveAccessScope(Profile{Role: RoleRegionalAdmin, RegionCode: "GYG"})

	f, err := BuildEquipmentFilter(scope, MatchByJurisdiction)
	require.NoError(t, err)
	assert.Equal(t, MatchByJurisdiction, f.Criterion)
	require.NotNil(t, f.Sido)
	assert.Equal(t, "GYG", *f.Sido)
	assert.Nil(t, f.Gugun)
}

func TestBuildEquipmentFilter_TemporaryInspector(t *testing.T) {
	t.Run("empty allowlist matches nothing", func(t *testing.T) {
		scope := ResolveAccessScope(Profile{Role: RoleTemporaryInspector, RegionCode: "SEO"})
		for i := 0; i < 3; i++ {
			f, err := BuildEquipmentFilter(scope, MatchByAddress)
			require.NoError(t, err)
			assert.True(t, f.MatchesNone())
			assert.False(t, f.IsUnfiltered())
			assert.NotNil(t, f.EquipmentSerialIn)
			assert.Nil(t, f.Sido)
		}
	})

	t.Run("assigned devices only", func(t *testing.T) {
		scope := ResolveAccessScope(Profile{
			Role:              RoleTemporaryInspector,
			RegionCode:        "SEO",
			DistrictCode:      "강남구",
			AssignedDeviceIDs: []string{"11-0010656", "13-0000485"},
		})
		f, err := BuildEquipmentFilter(scope, MatchByAddress)
		require.NoError(t, err)
		assert.Equal(t, []string{"11-0010656", "13-0000485"}, f.EquipmentSerialIn)
		assert.Nil(t, f.Sido)
		assert.Nil(t, f.Gugun)

		f.EquipmentSerialIn[0] = "mutated"
		assert.Equal(t, "11-0010656", scope.DeviceAllowlist[0])
	})
}

func TestBuildEquipmentFilter_Unrestricted(t *testing.T) {
	f, err := BuildEquipmentFilter(ResolveAccessScope(Profile{Role: RoleMaster}), MatchByAddress)
	require.NoError(t, err)
	assert.True(t, f.IsUnfiltered())
	assert.False(t, f.MatchesNone())
}

func TestBuildEquipmentFilter_NoDefaultCriterion(t *testing.T) {
	_, err := BuildEquipmentFilter(ResolveAccessScope(Profile{Role: RoleMaster}), "")
	assert.True(t, errors.Is(err, ErrUnknownCriterion))

	_, err = ParseMatchCriterion("both")
	assert.True(t, errors.Is(err, ErrUnknownCriterion))

	c, err := ParseMatchCriterion("jurisdiction")
	require.NoError(t, err)
	assert.Equal(t, MatchByJurisdiction, c)
}
