package infrastructure

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aed-compliance/platform/internal/access"
	"github.com/aed-compliance/platform/internal/inspection/domain"
	"github.com/aed-compliance/platform/internal/region"
	"github.com/aed-compliance/platform/internal/shared/errors"
	"github.com/aed-compliance/platform/internal/shared/types"
)

func TestListWhere(t *testing.T) {
	regions, err := region.Default()
	if err != nil {
		t.Fatal(err)
	}
	local := access.ResolveAccessScope(access.Profile{Role: access.RoleLocalAdmin, RegionCode: "DAE", DistrictCode: "중구"})
	localFilter, _ := access.BuildEquipmentFilter(local, access.MatchByAddress)
	master, _ := access.BuildEquipmentFilter(access.ResolveAccessScope(access.Profile{Role: access.RoleMaster}), access.MatchByAddress)

	submitted := domain.StatusSubmitted
	inspector := types.ID("00000000-0000-0000-0000-000000000009")

	tests := []struct {
		name   string
		scope  access.EquipmentFilter
		filter domain.ListFilter
		where  string
		args   []any
	}{
		{
			name:  "unrestricted no filters",
			scope: master,
			where: "",
		},
		{
			name:   "unrestricted with status",
			scope:  master,
			filter: domain.ListFilter{Status: &submitted},
			where:  "WHERE i.status = $1",
			args:   []any{"submitted"},
		},
		{
			name:   "district scope numbers filters after scope",
			scope:  localFilter,
			filter: domain.ListFilter{Status: &submitted, InspectorID: &inspector, EquipmentSerial: "11-0010656"},
			where: "WHERE i.equipment_serial IN (SELECT equipment_serial FROM equipment WHERE sido = $1 AND gugun = $2)" +
				" AND i.status = $3 AND i.inspector_id = $4 AND i.equipment_serial = $5",
			args: []any{"대구광역시", "중구", "submitted", inspector, "11-0010656"},
		},
		{
			name:  "device allowlist",
			scope: access.EquipmentFilter{Criterion: access.MatchByAddress, EquipmentSerialIn: []string{"a"}},
			where: "WHERE i.equipment_serial IN (SELECT equipment_serial FROM equipment WHERE equipment_serial = ANY($1))",
			args:  []any{[]string{"a"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			where, args := listWhere(tt.scope, tt.filter, regions)
			assert.Equal(t, tt.where, where)
			if tt.args == nil {
				assert.Empty(t, args)
			} else {
				assert.Equal(t, tt.args, args)
			}
		})
	}
}

// execTx answers every Exec with a fixed number of affected rows.
type execTx struct {
	pgx.Tx
	affected string
	sql      string
	args     []any
}

func (tx *execTx) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	tx.sql, tx.args = sql, args
	return pgconn.NewCommandTag("UPDATE " + tx.affected), nil
}

func loadedInspection(t *testing.T) *domain.Inspection {
	t.Helper()
	read := time.Date(2026, 3, 2, 9, 0, 0, 123456000, time.UTC)
	i, err := domain.NewInspection("11-0010656", types.NewID(), read, "중구", domain.Results{OverallResult: domain.ResultPass})
	require.NoError(t, err)
	require.NoError(t, i.Submit(read))
	i.Stored = domain.Revision{Status: domain.StatusSubmitted, UpdatedAt: read}
	return i
}

func TestUpdateStatement_GuardsOnStoredRevision(t *testing.T) {
	i := loadedInspection(t)
	read := i.Stored.UpdatedAt
	require.NoError(t, i.Approve(types.NewID(), access.RoleLocalAdmin, read.Add(time.Minute+789*time.Nanosecond)))

	sql, args := updateStatement(i)
	assert.Contains(t, sql, "WHERE id = $1 AND status = $13 AND updated_at = $14")
	require.Len(t, args, 14)
	assert.Equal(t, "approved", args[1])
	assert.Equal(t, read.Add(time.Minute), args[11], "written timestamp is microsecond precision")
	assert.Equal(t, "submitted", args[12])
	assert.Equal(t, read, args[13])
}

func TestUpdate_StaleCopyConflicts(t *testing.T) {
	i := loadedInspection(t)
	require.NoError(t, i.Reject(types.NewID(), access.RoleLocalAdmin, "사진 불량", i.Stored.UpdatedAt.Add(time.Minute)))

	err := update(context.Background(), &execTx{affected: "0"}, i)
	require.Error(t, err)
	assert.Equal(t, http.StatusConflict, errors.As(err).HTTPStatus)
	assert.Equal(t, domain.StatusSubmitted, i.Stored.Status)
}

func TestUpdate_RecordsNewRevision(t *testing.T) {
	i := loadedInspection(t)
	now := i.Stored.UpdatedAt.Add(time.Minute + 500*time.Nanosecond)
	require.NoError(t, i.Approve(types.NewID(), access.RoleMaster, now))

	tx := &execTx{affected: "1"}
	require.NoError(t, update(context.Background(), tx, i))
	assert.Equal(t, domain.Revision{Status: domain.StatusApproved, UpdatedAt: now.Truncate(time.Microsecond)}, i.Stored)

	// A second save from the same copy is based on the revision just written.
	_, args := updateStatement(i)
	assert.Equal(t, "approved", args[12])
	assert.Equal(t, i.UpdatedAt, args[13])
}
