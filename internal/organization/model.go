package organization

import (
	"time"

	"github.com/aed-compliance/platform/internal/access"
	"github.com/aed-compliance/platform/internal/shared/auth"
	"github.com/aed-compliance/platform/internal/shared/types"
)

// Organization is a health center, province office or emergency center.
type Organization struct {
	ID         types.ID                `json:"id"`
	Name       string                  `json:"name"`
	Type       access.OrganizationType `json:"type"`
	RegionCode string                  `json:"region_code,omitempty"`
	CityCode   string                  `json:"city_code,omitempty"`
	Address    string                  `json:"address,omitempty"`
	Phone      string                  `json:"phone,omitempty"`
	Lat        *float64                `json:"latitude,omitempty"`
	Lng        *float64                `json:"longitude,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AccountType distinguishes regular accounts from temporary inspectors.
type AccountType string

const (
	AccountTypePublic    AccountType = "public"
	AccountTypeTemporary AccountType = "temporary"
)

// UserProfile is the stored account of a signed-up user. Role is kept as
// the raw stored string; it is parsed when the scope is resolved.
type UserProfile struct {
	ID                types.ID    `json:"id"`
	Email             string      `json:"email"`
	FullName          string      `json:"full_name"`
	Phone             string      `json:"phone,omitempty"`
	Role              string      `json:"role"`
	AccountType       AccountType `json:"account_type"`
	OrganizationID    *types.ID   `json:"organization_id,omitempty"`
	RegionCode        string      `json:"region_code,omitempty"`
	DistrictCode      string      `json:"district_code,omitempty"`
	AssignedDeviceIDs []string    `json:"assigned_device_ids"`
	IsActive          bool        `json:"is_active"`

	ApprovedBy      *types.ID  `json:"approved_by,omitempty"`
	ApprovedAt      *time.Time `json:"approved_at,omitempty"`
	RejectionReason string     `json:"rejection_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Account converts the profile into what the auth middleware resolves a
// scope from.
func (p *UserProfile) Account() *auth.Account {
	acct := &auth.Account{
		UserID:            p.ID.String(),
		Email:             p.Email,
		Role:              p.Role,
		RegionCode:        p.RegionCode,
		DistrictCode:      p.DistrictCode,
		AssignedDeviceIDs: append([]string(nil), p.AssignedDeviceIDs...),
		Active:            p.IsActive,
	}
	if p.OrganizationID != nil {
		acct.OrganizationID = p.OrganizationID.String()
	}
	return acct
}

// Awaiting reports whether the profile can still be approved or rejected.
func (p *UserProfile) Awaiting() bool {
	r, _ := access.ParseRole(p.Role)
	return r == access.RolePendingApproval || r == access.RoleEmailVerified
}

// OrganizationFilter narrows ListOrganizations.
type OrganizationFilter struct {
	Type       access.OrganizationType `json:"type,omitempty"`
	RegionCode string                  `json:"region_code,omitempty"`
	CityCode   string                  `json:"city_code,omitempty"`
	Search     string                  `json:"search,omitempty"`
}

// PendingFilter limits the pending list to a region or district. Empty
// fields do not filter.
type PendingFilter struct {
	RegionCode   string
	DistrictCode string
	Limit        int
	Offset       int
}

// Approval is the profile change written when an account is approved.
type Approval struct {
	ProfileID      types.ID
	Role           access.Role
	OrganizationID types.ID
	RegionCode     string
	DistrictCode   string
	ApprovedBy     types.ID
	ApprovedAt     time.Time
}

// ApproveRequest is the body of POST /users/{id}/approve.
type ApproveRequest struct {
	Role           string   `json:"role"`
	OrganizationID types.ID `json:"organization_id"`
}

// RejectRequest is the body of POST /users/{id}/reject.
type RejectRequest struct {
	Reason string `json:"reason"`
}

// AssignDevicesRequest is the body of PUT /users/{id}/devices.
type AssignDevicesRequest struct {
	EquipmentSerials []string `json:"equipment_serials"`
}

// Me is returned by GET /me.
type Me struct {
	Profile   *UserProfile       `json:"profile"`
	RoleLabel string             `json:"role_label"`
	Scope     access.AccessScope `json:"scope"`
}
