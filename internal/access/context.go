package access

import "context"

type contextKey struct{}

// Principal is the authenticated caller together with the scope resolved
// for the current request.
type Principal struct {
	UserID         string      `json:"user_id"`
	Email          string      `json:"email"`
	IP             string      `json:"-"`
	OrganizationID string      `json:"organization_id,omitempty"`
	Profile        Profile     `json:"profile"`
	Scope          AccessScope `json:"scope"`
}

// WithPrincipal stores the principal in the context.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

// PrincipalFrom returns the principal stored in ctx, or nil.
func PrincipalFrom(ctx context.Context) *Principal {
	p, _ := ctx.Value(contextKey{}).(*Principal)
	return p
}

// PermissionFor builds the permission input for an inspection owned by
// inspectorID in district inspectionDistrict.
func (p *Principal) PermissionFor(inspectorID, inspectionDistrict string) PermissionInput {
	return PermissionInput{
		Role:                 p.Profile.Role,
		UserID:               p.UserID,
		InspectorID:          inspectorID,
		UserRegionCode:       optional(p.Profile.DistrictCode),
		InspectionRegionCode: optional(inspectionDistrict),
	}
}
