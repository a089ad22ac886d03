package infrastructure

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/aed-compliance/platform/internal/access"
	"github.com/aed-compliance/platform/internal/equipment/domain"
	"github.com/aed-compliance/platform/internal/geo"
	"github.com/aed-compliance/platform/internal/shared/database"
	"github.com/aed-compliance/platform/internal/shared/errors"
	"github.com/aed-compliance/platform/internal/shared/metrics"
	"github.com/aed-compliance/platform/internal/shared/types"
)

const equipmentColumns = `equipment_serial, COALESCE(management_number, ''),
	sido, gugun, COALESCE(install_address, ''), COALESCE(install_detail, ''),
	COALESCE(jurisdiction_sido, ''), COALESCE(jurisdiction_gugun, ''),
	institution_name, COALESCE(institution_phone, ''),
	COALESCE(manager_name, ''), COALESCE(manager_phone, ''), COALESCE(manager_email, ''),
	COALESCE(category_1, ''), COALESCE(category_2, ''), COALESCE(category_3, ''),
	COALESCE(model_name, ''), COALESCE(manufacturer, ''),
	battery_expiry_date, patch_expiry_date, manufactured_date, last_inspection_date,
	COALESCE(latitude, 0), COALESCE(longitude, 0), updated_at`

// PostgresRepository implements domain.Repository using PostgreSQL
type PostgresRepository struct {
	db     database.Querier
	labels SidoLabels
}

var _ domain.Repository = (*PostgresRepository)(nil)

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(db database.Querier, labels SidoLabels) *PostgresRepository {
	return &PostgresRepository{db: db, labels: labels}
}

func (r *PostgresRepository) listWhere(f access.EquipmentFilter, q domain.ListQuery) *where {
	w := &where{}
	applyFilter(w, f, r.labels)
	if q.Search != "" {
		pattern := "%" + q.Search + "%"
		w.add(`(institution_name ILIKE ? OR install_address ILIKE ? OR equipment_serial ILIKE ? OR management_number ILIKE ?)`,
			pattern, pattern, pattern, pattern)
	}
	if q.Category1 != "" {
		w.add("category_1 = ?", q.Category1)
	}
	return w
}

// List returns one page of equipment and the total count.
func (r *PostgresRepository) List(ctx context.Context, f access.EquipmentFilter, q domain.ListQuery) ([]domain.Equipment, int, error) {
	if f.MatchesNone() {
		return []domain.Equipment{}, 0, nil
	}
	defer observe("equipment_list", time.Now())

	w := r.listWhere(f, q)

	var total int
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM equipment "+w.String(), w.args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "failed to count equipment")
	}

	limit := q.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	query := fmt.Sprintf(`SELECT %s FROM equipment %s ORDER BY equipment_serial LIMIT $%d OFFSET $%d`,
		equipmentColumns, w.String(), w.next(), w.next()+1)
	args := append(w.args, limit, max(q.Offset, 0))

	items, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// Get returns one device if it is visible through f.
func (r *PostgresRepository) Get(ctx context.Context, serial string, f access.EquipmentFilter) (*domain.Equipment, error) {
	if f.MatchesNone() {
		return nil, errors.NotFound("equipment", serial)
	}
	defer observe("equipment_get", time.Now())

	w := &where{}
	w.add("equipment_serial = ?", serial)
	applyFilter(w, f, r.labels)

	items, err := r.query(ctx, `SELECT `+equipmentColumns+` FROM equipment `+w.String(), w.args...)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, errors.NotFound("equipment", serial)
	}
	return &items[0], nil
}

// Stream calls fn for every matching row without paging. It stops at the
// first error returned by fn.
func (r *PostgresRepository) Stream(ctx context.Context, f access.EquipmentFilter, q domain.ListQuery, fn func(*domain.Equipment) error) error {
	if f.MatchesNone() {
		return nil
	}
	defer observe("equipment_stream", time.Now())

	w := r.listWhere(f, q)
	rows, err := r.db.Query(ctx, `SELECT `+equipmentColumns+` FROM equipment `+w.String()+` ORDER BY equipment_serial`, w.args...)
	if err != nil {
		return errors.Wrap(err, "failed to query equipment")
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanEquipment(rows)
		if err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return errors.Wrap(err, "failed to read equipment")
	}
	return nil
}

// Within returns devices with coordinates inside box.
func (r *PostgresRepository) Within(ctx context.Context, f access.EquipmentFilter, box geo.BoundingBox, limit int) ([]domain.Equipment, error) {
	if f.MatchesNone() {
		return []domain.Equipment{}, nil
	}
	defer observe("equipment_within", time.Now())

	w := &where{}
	applyFilter(w, f, r.labels)
	w.add("latitude BETWEEN ? AND ?", box.MinLat, box.MaxLat)
	w.add("longitude BETWEEN ? AND ?", box.MinLng, box.MaxLng)

	if limit <= 0 || limit > 2000 {
		limit = 500
	}
	query := fmt.Sprintf(`SELECT %s FROM equipment %s LIMIT $%d`, equipmentColumns, w.String(), w.next())
	return r.query(ctx, query, append(w.args, limit)...)
}

// ExpiringBefore returns devices whose battery or patch expires before the
// given date, expired ones included.
func (r *PostgresRepository) ExpiringBefore(ctx context.Context, f access.EquipmentFilter, before time.Time) ([]domain.Equipment, error) {
	if f.MatchesNone() {
		return []domain.Equipment{}, nil
	}
	defer observe("equipment_expiring", time.Now())

	w := &where{}
	applyFilter(w, f, r.labels)
	w.add("(battery_expiry_date <= ? OR patch_expiry_date <= ?)", before, before)

	return r.query(ctx, `SELECT `+equipmentColumns+` FROM equipment `+w.String()+
		` ORDER BY LEAST(battery_expiry_date, patch_expiry_date) NULLS LAST, equipment_serial`, w.args...)
}

// TouchInspection records an approved inspection date. Older dates never
// overwrite newer ones.
func (r *PostgresRepository) TouchInspection(ctx context.Context, serial string, date time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE equipment
		SET last_inspection_date = GREATEST(COALESCE(last_inspection_date, $2::date), $2::date),
			updated_at = NOW()
		WHERE equipment_serial = $1`, serial, date)
	if err != nil {
		return errors.Wrap(err, "failed to update last inspection date")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("equipment", serial)
	}
	return nil
}

// SerialsExist returns the subset of serials that are registered.
func (r *PostgresRepository) SerialsExist(ctx context.Context, serials []string) ([]string, error) {
	if len(serials) == 0 {
		return []string{}, nil
	}
	rows, err := r.db.Query(ctx, `SELECT equipment_serial FROM equipment WHERE equipment_serial = ANY($1)`, serials)
	if err != nil {
		return nil, errors.Wrap(err, "failed to check serials")
	}
	found, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, errors.Wrap(err, "failed to read serials")
	}
	return found, nil
}

func (r *PostgresRepository) query(ctx context.Context, sql string, args ...any) ([]domain.Equipment, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query equipment")
	}
	defer rows.Close()

	items := make([]domain.Equipment, 0)
	for rows.Next() {
		e, err := scanEquipment(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read equipment")
	}
	return items, nil
}

func scanEquipment(row pgx.Row) (*domain.Equipment, error) {
	var e domain.Equipment
	err := row.Scan(
		&e.EquipmentSerial, &e.ManagementNumber,
		&e.Sido, &e.Gugun, &e.InstallAddress, &e.InstallDetail,
		&e.JurisdictionSido, &e.JurisdictionGugun,
		&e.InstitutionName, &e.InstitutionPhone,
		&e.ManagerName, &e.ManagerPhone, &e.ManagerEmail,
		&e.Category1, &e.Category2, &e.Category3,
		&e.ModelName, &e.Manufacturer,
		&e.BatteryExpiry, &e.PatchExpiry, &e.ManufacturedAt, &e.LastInspectionDate,
		&e.Latitude, &e.Longitude, &e.UpdatedAt,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to scan equipment")
	}
	e.InstitutionPhone = hyphenate(e.InstitutionPhone)
	e.ManagerPhone = hyphenate(e.ManagerPhone)
	return &e, nil
}

// hyphenate normalizes imported phone numbers; unparseable values are kept.
func hyphenate(phone string) string {
	if n, err := types.NormalizePhone(phone); err == nil {
		return n
	}
	return phone
}

func observe(op string, start time.Time) {
	metrics.RecordDBQuery(op, time.Since(start))
}
