package infrastructure

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aed-compliance/platform/internal/access"
	"github.com/aed-compliance/platform/internal/equipment/domain"
	"github.com/aed-compliance/platform/internal/region"
)

func table(t *testing.T) *region.Table {
	t.Helper()
	tbl, err := region.Default()
	require.NoError(t, err)
	return tbl
}

func filterFor(t *testing.T, p access.Profile, c access.MatchCriterion) access.EquipmentFilter {
	t.Helper()
	f, err := access.BuildEquipmentFilter(access.ResolveAccessScope(p), c)
	require.NoError(t, err)
	return f
}

func TestScopeClause(t *testing.T) {
	labels := table(t)

	tests := []struct {
		name     string
		filter   access.EquipmentFilter
		wantSQL  string
		wantArgs []any
	}{
		{
			name:    "unrestricted",
			filter:  filterFor(t, access.Profile{Role: access.RoleMaster}, access.MatchByAddress),
			wantSQL: "",
		},
		{
			name:     "local admin by address",
			filter:   filterFor(t, access.Profile{Role: access.RoleLocalAdmin, RegionCode: "DAE", DistrictCode: "중구"}, access.MatchByAddress),
			wantSQL:  "WHERE sido = $1 AND gugun = $2",
			wantArgs: []any{"대구광역시", "중구"},
		},
		{
			name:     "local admin by jurisdiction",
			filter:   filterFor(t, access.Profile{Role: access.RoleLocalAdmin, RegionCode: "DAE", DistrictCode: "중구"}, access.MatchByJurisdiction),
			wantSQL:  "WHERE jurisdiction_sido = $1 AND jurisdiction_gugun = $2",
			wantArgs: []any{"대구광역시", "중구"},
		},
		{
			name:     "regional admin",
			filter:   filterFor(t, access.Profile{Role: access.RoleRegionalAdmin, RegionCode: "SEO"}, access.MatchByAddress),
			wantSQL:  "WHERE sido = $1",
			wantArgs: []any{"서울특별시"},
		},
		{
			name:    "temporary inspector without devices",
			filter:  filterFor(t, access.Profile{Role: access.RoleTemporaryInspector, RegionCode: "SEO"}, access.MatchByAddress),
			wantSQL: "WHERE FALSE",
		},
		{
			name:     "temporary inspector with devices",
			filter:   filterFor(t, access.Profile{Role: access.RoleTemporaryInspector, AssignedDeviceIDs: []string{"11-0010656"}}, access.MatchByAddress),
			wantSQL:  "WHERE equipment_serial = ANY($1)",
			wantArgs: []any{[]string{"11-0010656"}},
		},
		{
			name:    "unknown region code fails closed",
			filter:  filterFor(t, access.Profile{Role: access.RoleRegionalAdmin, RegionCode: "XXX"}, access.MatchByAddress),
			wantSQL: "WHERE FALSE",
		},
		{
			name:    "pending approval",
			filter:  filterFor(t, access.Profile{Role: access.RolePendingApproval, RegionCode: "SEO"}, access.MatchByAddress),
			wantSQL: "WHERE FALSE",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args := ScopeClause(tt.filter, labels)
			assert.Equal(t, tt.wantSQL, sql)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestListWhere_Numbering(t *testing.T) {
	r := NewPostgresRepository(nil, table(t))
	f := filterFor(t, access.Profile{Role: access.RoleLocalAdmin, RegionCode: "SEO", DistrictCode: "강남구"}, access.MatchByAddress)

	w := r.listWhere(f, domain.ListQuery{Search: "병원", Category1: "구비의무기관"})
	assert.Equal(t,
		"WHERE sido = $1 AND gugun = $2 AND (institution_name ILIKE $3 OR install_address ILIKE $4 OR equipment_serial ILIKE $5 OR management_number ILIKE $6) AND category_1 = $7",
		w.String())
	assert.Len(t, w.args, 7)
	assert.Equal(t, "%병원%", w.args[2])
	assert.Equal(t, 8, w.next())
}
