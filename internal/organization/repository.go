package organization

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/aed-compliance/platform/internal/access"
	"github.com/aed-compliance/platform/internal/audit"
	"github.com/aed-compliance/platform/internal/notification"
	"github.com/aed-compliance/platform/internal/shared/auth"
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

// Repository provides database operations for organizations and profiles
type Repository struct {
	pool  Pool
	audit TxAppender
}

// NewRepository creates a new organization repository
func NewRepository(pool Pool, auditLog TxAppender) *Repository {
	return &Repository{pool: pool, audit: auditLog}
}

const organizationColumns = `id, name, type,
	COALESCE(region_code, ''), COALESCE(city_code, ''),
	COALESCE(address, ''), COALESCE(phone, ''),
	latitude, longitude, created_at, updated_at`

const profileColumns = `p.id, p.email, p.full_name, COALESCE(p.phone, ''), p.role, p.account_type,
	p.organization_id, COALESCE(p.region_code, ''), COALESCE(p.district_code, ''),
	p.assigned_device_ids, p.is_active,
	p.approved_by, p.approved_at, COALESCE(p.rejection_reason, ''),
	p.created_at, p.updated_at`

// GetOrganization retrieves an organization by ID
func (r *Repository) GetOrganization(ctx context.Context, id types.ID) (*Organization, error) {
	defer observe("organization_get", time.Now())

	o, err := scanOrganization(r.pool.QueryRow(ctx,
		`SELECT `+organizationColumns+` FROM organizations WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound("organization", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get organization")
	}
	return o, nil
}

// ListOrganizations lists organizations ordered by region, city and name.
func (r *Repository) ListOrganizations(ctx context.Context, filter OrganizationFilter) ([]Organization, error) {
	defer observe("organization_list", time.Now())

	var conditions []string
	var args []any
	add := func(cond string, arg any) {
		args = append(args, arg)
		conditions = append(conditions, fmt.Sprintf(cond, len(args)))
	}
	if filter.Type != "" {
		add("type = $%d", string(filter.Type))
	}
	if filter.RegionCode != "" {
		add("region_code = $%d", filter.RegionCode)
	}
	if filter.CityCode != "" {
		add("city_code = $%d", filter.CityCode)
	}
	if filter.Search != "" {
		add("name ILIKE $%d", "%"+filter.Search+"%")
	}

	query := `SELECT ` + organizationColumns + ` FROM organizations`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY region_code NULLS FIRST, city_code NULLS FIRST, name"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list organizations")
	}
	defer rows.Close()

	orgs := make([]Organization, 0)
	for rows.Next() {
		o, err := scanOrganization(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan organization")
		}
		orgs = append(orgs, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read organizations")
	}
	return orgs, nil
}

// GetProfile retrieves a user profile by ID
func (r *Repository) GetProfile(ctx context.Context, id types.ID) (*UserProfile, error) {
	defer observe("profile_get", time.Now())

	p, err := scanProfile(r.pool.QueryRow(ctx,
		`SELECT `+profileColumns+` FROM user_profiles p WHERE p.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound("user profile", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get user profile")
	}
	return p, nil
}

// LoadAccount satisfies auth.AccountLoader.
func (r *Repository) LoadAccount(ctx context.Context, userID string) (*auth.Account, error) {
	id, err := types.ParseID(userID)
	if err != nil {
		return nil, errors.NotFound("user profile", userID)
	}
	p, err := r.GetProfile(ctx, id)
	if err != nil {
		return nil, err
	}
	return p.Account(), nil
}

// Recipient returns the email address of a user.
func (r *Repository) Recipient(ctx context.Context, id types.ID) (notification.Recipient, error) {
	p, err := r.GetProfile(ctx, id)
	if err != nil {
		return notification.Recipient{}, err
	}
	return notification.Recipient{ID: p.ID.String(), Name: p.FullName, Email: p.Email}, nil
}

// ListPendingProfiles lists profiles awaiting approval. A profile without
// its own region or district is located through its organization.
func (r *Repository) ListPendingProfiles(ctx context.Context, filter PendingFilter) ([]UserProfile, int, error) {
	defer observe("profile_list_pending", time.Now())

	conditions := []string{`p.role IN ('pending_approval', 'email_verified')`}
	var args []any
	if filter.RegionCode != "" {
		args = append(args, filter.RegionCode)
		conditions = append(conditions, fmt.Sprintf("COALESCE(p.region_code, o.region_code) = $%d", len(args)))
	}
	if filter.DistrictCode != "" {
		args = append(args, filter.DistrictCode)
		conditions = append(conditions, fmt.Sprintf("COALESCE(p.district_code, o.city_code) = $%d", len(args)))
	}
	from := ` FROM user_profiles p LEFT JOIN organizations o ON o.id = p.organization_id WHERE ` +
		strings.Join(conditions, " AND ")

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*)`+from, args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "failed to count pending profiles")
	}

	limit := 50
	if filter.Limit > 0 && filter.Limit <= 200 {
		limit = filter.Limit
	}
	args = append(args, limit, max(filter.Offset, 0))
	query := fmt.Sprintf(`SELECT %s%s ORDER BY p.created_at LIMIT $%d OFFSET $%d`,
		profileColumns, from, len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to list pending profiles")
	}
	defer rows.Close()

	profiles := make([]UserProfile, 0)
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, 0, errors.Wrap(err, "failed to scan user profile")
		}
		profiles = append(profiles, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.Wrap(err, "failed to read pending profiles")
	}
	return profiles, total, nil
}

// ListHealthCenters returns every health center organization.
func (r *Repository) ListHealthCenters(ctx context.Context) ([]Organization, error) {
	return r.ListOrganizations(ctx, OrganizationFilter{Type: access.OrgTypeHealthCenter})
}

// ListLocalAdmins returns the active local admins of an organization.
func (r *Repository) ListLocalAdmins(ctx context.Context, orgID types.ID) ([]UserProfile, error) {
	defer observe("profile_list_admins", time.Now())

	rows, err := r.pool.Query(ctx, `SELECT `+profileColumns+` FROM user_profiles p
		WHERE p.organization_id = $1 AND p.role = 'local_admin' AND p.is_active
		ORDER BY p.email`, orgID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list local admins")
	}
	defer rows.Close()

	profiles := make([]UserProfile, 0)
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan user profile")
		}
		profiles = append(profiles, *p)
	}
	return profiles, rows.Err()
}

// Approve writes the approval and its audit entry in one transaction. The
// update only applies while the profile is still awaiting approval.
func (r *Repository) Approve(ctx context.Context, a Approval, entry *audit.AuditEntry) error {
	return database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE user_profiles SET
				role = $2, organization_id = $3, region_code = $4, district_code = $5,
				approved_by = $6, approved_at = $7, rejection_reason = NULL,
				is_active = TRUE, updated_at = NOW()
			WHERE id = $1 AND role IN ('pending_approval', 'email_verified')`,
			a.ProfileID, string(a.Role), a.OrganizationID,
			nullable(a.RegionCode), nullable(a.DistrictCode),
			a.ApprovedBy, a.ApprovedAt,
		)
		if err != nil {
			return errors.Wrap(err, "failed to approve user profile")
		}
		if tag.RowsAffected() == 0 {
			return errors.Conflict("user profile is no longer awaiting approval")
		}
		return r.audit.AppendTx(ctx, tx, entry)
	})
}

// Reject marks a pending profile as rejected.
func (r *Repository) Reject(ctx context.Context, id types.ID, reason string, entry *audit.AuditEntry) error {
	return database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE user_profiles SET role = 'rejected', rejection_reason = $2, updated_at = NOW()
			WHERE id = $1 AND role IN ('pending_approval', 'email_verified')`, id, reason)
		if err != nil {
			return errors.Wrap(err, "failed to reject user profile")
		}
		if tag.RowsAffected() == 0 {
			return errors.Conflict("user profile is no longer awaiting approval")
		}
		return r.audit.AppendTx(ctx, tx, entry)
	})
}

// AssignDevices replaces the device allowlist of a temporary inspector.
func (r *Repository) AssignDevices(ctx context.Context, id types.ID, serials []string, entry *audit.AuditEntry) error {
	return database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE user_profiles SET assigned_device_ids = $2, updated_at = NOW()
			WHERE id = $1 AND role = 'temporary_inspector'`, id, serials)
		if err != nil {
			return errors.Wrap(err, "failed to assign devices")
		}
		if tag.RowsAffected() == 0 {
			return errors.Conflict("user is not a temporary inspector")
		}
		return r.audit.AppendTx(ctx, tx, entry)
	})
}

func scanOrganization(row pgx.Row) (*Organization, error) {
	o := &Organization{}
	var orgType string
	err := row.Scan(&o.ID, &o.Name, &orgType, &o.RegionCode, &o.CityCode,
		&o.Address, &o.Phone, &o.Lat, &o.Lng, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	o.Type = access.OrganizationType(orgType)
	return o, nil
}

func scanProfile(row pgx.Row) (*UserProfile, error) {
	p := &UserProfile{}
	var accountType string
	err := row.Scan(
		&p.ID, &p.Email, &p.FullName, &p.Phone, &p.Role, &accountType,
		&p.OrganizationID, &p.RegionCode, &p.DistrictCode,
		&p.AssignedDeviceIDs, &p.IsActive,
		&p.ApprovedBy, &p.ApprovedAt, &p.RejectionReason,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.AccountType = AccountType(accountType)
	if p.AssignedDeviceIDs == nil {
		p.AssignedDeviceIDs = []string{}
	}
	return p, nil
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
