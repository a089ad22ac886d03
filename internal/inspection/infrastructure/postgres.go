package infrastructure

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/aed-compliance/platform/internal/access"
	"github.com/aed-compliance/platform/internal/audit"
	equipment "github.com/aed-compliance/platform/internal/equipment/infrastructure"
	"github.com/aed-compliance/platform/internal/inspection/domain"
	"github.com/aed-compliance/platform/internal/shared/database"
	"github.com/aed-compliance/platform/internal/shared/errors"
	"github.com/aed-compliance/platform/internal/shared/metrics"
	"github.com/aed-compliance/platform/internal/shared/types"
)

// Pool is the subset of *pgxpool.Pool the repository needs.
type Pool interface {
	database.Querier
	database.TxBeginner
}

// TxAppender writes an audit entry inside a transaction.
type TxAppender interface {
	AppendTx(ctx context.Context, tx pgx.Tx, entry *audit.AuditEntry) error
}

const inspectionColumns = `i.id, i.equipment_serial, i.inspector_id, i.inspection_date,
	COALESCE(i.region_code, ''), i.status,
	COALESCE(i.battery_status, ''), COALESCE(i.pad_status, ''), COALESCE(i.device_status, ''),
	COALESCE(i.overall_result, ''), i.notes, i.photo_keys,
	i.approved_by_id, i.approved_at, COALESCE(i.rejection_reason, ''),
	i.created_at, i.updated_at`

// PostgresRepository implements domain.Repository using PostgreSQL
type PostgresRepository struct {
	pool   Pool
	audit  TxAppender
	labels equipment.SidoLabels
}

var _ domain.Repository = (*PostgresRepository)(nil)

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(pool Pool, auditLog TxAppender, labels equipment.SidoLabels) *PostgresRepository {
	return &PostgresRepository{pool: pool, audit: auditLog, labels: labels}
}

// Create inserts a new inspection
func (r *PostgresRepository) Create(ctx context.Context, i *domain.Inspection, entry *audit.AuditEntry) error {
	i.CreatedAt = i.CreatedAt.Truncate(time.Microsecond)
	markStored(i)
	return database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO inspections (
				id, equipment_serial, inspector_id, inspection_date, region_code, status,
				battery_status, pad_status, device_status, overall_result, notes, photo_keys,
				created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
			i.ID, i.EquipmentSerial, i.InspectorID, i.InspectionDate, nullable(i.RegionCode), string(i.Status),
			nullable(string(i.BatteryStatus)), nullable(string(i.PadStatus)), nullable(string(i.DeviceStatus)),
			nullable(string(i.OverallResult)), i.Notes, i.PhotoKeys,
			i.CreatedAt, i.UpdatedAt,
		)
		if err != nil {
			return errors.Wrap(err, "failed to create inspection")
		}
		return r.audit.AppendTx(ctx, tx, entry)
	})
}

// FindByID finds an inspection by ID
func (r *PostgresRepository) FindByID(ctx context.Context, id types.ID) (*domain.Inspection, error) {
	defer observe("inspection_get", time.Now())

	i, err := scanInspection(r.pool.QueryRow(ctx,
		`SELECT `+inspectionColumns+` FROM inspections i WHERE i.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound("inspection", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find inspection")
	}
	return i, nil
}

// Save writes the mutable fields of an inspection
func (r *PostgresRepository) Save(ctx context.Context, i *domain.Inspection, entry *audit.AuditEntry) error {
	return database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := update(ctx, tx, i); err != nil {
			return err
		}
		return r.audit.AppendTx(ctx, tx, entry)
	})
}

// Approve saves the approval and updates the equipment in one transaction.
func (r *PostgresRepository) Approve(ctx context.Context, i *domain.Inspection, entry *audit.AuditEntry) error {
	return database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := update(ctx, tx, i); err != nil {
			return err
		}
		if err := equipment.NewPostgresRepository(tx, r.labels).TouchInspection(ctx, i.EquipmentSerial, i.InspectionDate); err != nil {
			return err
		}
		return r.audit.AppendTx(ctx, tx, entry)
	})
}

// Delete removes an inspection together with writing its audit entry.
func (r *PostgresRepository) Delete(ctx context.Context, id types.ID, entry *audit.AuditEntry) error {
	return database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM inspections WHERE id = $1`, id)
		if err != nil {
			return errors.Wrap(err, "failed to delete inspection")
		}
		if tag.RowsAffected() == 0 {
			return errors.NotFound("inspection", id.String())
		}
		return r.audit.AppendTx(ctx, tx, entry)
	})
}

// List lists inspections of the equipment inside scope.
func (r *PostgresRepository) List(ctx context.Context, scope access.EquipmentFilter, filter domain.ListFilter) ([]domain.Inspection, int, error) {
	if scope.MatchesNone() {
		return []domain.Inspection{}, 0, nil
	}
	defer observe("inspection_list", time.Now())

	where, args := listWhere(scope, filter, r.labels)

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM inspections i `+where, args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "failed to count inspections")
	}

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	args = append(args, limit, max(filter.Offset, 0))
	query := fmt.Sprintf(`SELECT %s FROM inspections i %s ORDER BY i.inspection_date DESC, i.created_at DESC LIMIT $%d OFFSET $%d`,
		inspectionColumns, where, len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to list inspections")
	}
	defer rows.Close()

	items := make([]domain.Inspection, 0)
	for rows.Next() {
		i, err := scanInspection(rows)
		if err != nil {
			return nil, 0, errors.Wrap(err, "failed to scan inspection")
		}
		items = append(items, *i)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.Wrap(err, "failed to read inspections")
	}
	return items, total, nil
}

// listWhere restricts inspections to equipment matching the scope filter.
// The scope clause comes first so its placeholders start at $1.
func listWhere(scope access.EquipmentFilter, filter domain.ListFilter, labels equipment.SidoLabels) (string, []any) {
	var conds []string
	clause, args := equipment.ScopeClause(scope, labels)
	if clause != "" {
		conds = append(conds, `i.equipment_serial IN (SELECT equipment_serial FROM equipment `+clause+`)`)
	}
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.Status != nil {
		add("i.status = $%d", string(*filter.Status))
	}
	if filter.InspectorID != nil {
		add("i.inspector_id = $%d", *filter.InspectorID)
	}
	if filter.EquipmentSerial != "" {
		add("i.equipment_serial = $%d", filter.EquipmentSerial)
	}
	if len(conds) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}

func update(ctx context.Context, tx pgx.Tx, i *domain.Inspection) error {
	sql, args := updateStatement(i)
	tag, err := tx.Exec(ctx, sql, args...)
	if err != nil {
		return errors.Wrap(err, "failed to update inspection")
	}
	if tag.RowsAffected() == 0 {
		return errors.Conflict("inspection was changed by another request, reload and retry")
	}
	markStored(i)
	return nil
}

// updateStatement writes i only if the row still has the status and
// updated_at it was read with.
func updateStatement(i *domain.Inspection) (string, []any) {
	return `
		UPDATE inspections SET
			status = $2, battery_status = $3, pad_status = $4, device_status = $5,
			overall_result = $6, notes = $7, photo_keys = $8,
			approved_by_id = $9, approved_at = $10, rejection_reason = $11,
			updated_at = $12
		WHERE id = $1 AND status = $13 AND updated_at = $14`,
		[]any{
			i.ID, string(i.Status),
			nullable(string(i.BatteryStatus)), nullable(string(i.PadStatus)), nullable(string(i.DeviceStatus)),
			nullable(string(i.OverallResult)), i.Notes, i.PhotoKeys,
			i.ApprovedByID, i.ApprovedAt, nullable(i.RejectionReason),
			i.UpdatedAt.Truncate(time.Microsecond),
			string(i.Stored.Status), i.Stored.UpdatedAt,
		}
}

// markStored records the state just written. Timestamps are kept at the
// microsecond precision PostgreSQL stores.
func markStored(i *domain.Inspection) {
	i.UpdatedAt = i.UpdatedAt.Truncate(time.Microsecond)
	i.Stored = domain.Revision{Status: i.Status, UpdatedAt: i.UpdatedAt}
}

func scanInspection(row pgx.Row) (*domain.Inspection, error) {
	i := &domain.Inspection{}
	var status, battery, pad, device, overall string
	err := row.Scan(
		&i.ID, &i.EquipmentSerial, &i.InspectorID, &i.InspectionDate,
		&i.RegionCode, &status,
		&battery, &pad, &device,
		&overall, &i.Notes, &i.PhotoKeys,
		&i.ApprovedByID, &i.ApprovedAt, &i.RejectionReason,
		&i.CreatedAt, &i.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	i.Status = domain.Status(status)
	i.BatteryStatus = domain.ComponentStatus(battery)
	i.PadStatus = domain.ComponentStatus(pad)
	i.DeviceStatus = domain.ComponentStatus(device)
	i.OverallResult = domain.Result(overall)
	if i.PhotoKeys == nil {
		i.PhotoKeys = []string{}
	}
	i.Stored = domain.Revision{Status: i.Status, UpdatedAt: i.UpdatedAt}
	return i, nil
}

func observe(op string, start time.Time) {
	metrics.RecordDBQuery(op, time.Since(start))
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
