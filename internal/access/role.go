// Package access decides which AED equipment and inspection rows a caller
// may see or modify.
package access

import (
	"fmt"
	"strings"
)

// Role represents a user role in the system.
type Role string

// Administrative roles
const (
	RoleMaster                       Role = "master"
	RoleEmergencyCenterAdmin         Role = "emergency_center_admin"
	RoleRegionalEmergencyCenterAdmin Role = "regional_emergency_center_admin"
	RoleMinistryAdmin                Role = "ministry_admin"
	RoleRegionalAdmin                Role = "regional_admin"
	RoleLocalAdmin                   Role = "local_admin"
	RoleTemporaryInspector           Role = "temporary_inspector"
)

// Onboarding roles - no data access
const (
	RolePendingApproval Role = "pending_approval"
	RoleEmailVerified   Role = "email_verified"
	RoleRejected        Role = "rejected"
)

// RoleUnknown is what ParseRole returns for strings outside the enum.
const RoleUnknown Role = ""

// AllRoles lists every known role in declaration order.
func AllRoles() []Role {
	return []Role{
		RoleMaster,
		RoleEmergencyCenterAdmin,
		RoleRegionalEmergencyCenterAdmin,
		RoleMinistryAdmin,
		RoleRegionalAdmin,
		RoleLocalAdmin,
		RoleTemporaryInspector,
		RolePendingApproval,
		RoleEmailVerified,
		RoleRejected,
	}
}

// ParseRole maps a stored role string onto the enum. The second return is
// false for unknown values, which callers should log as a data-integrity
// warning; the returned RoleUnknown resolves to the most restrictive scope.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.TrimSpace(s))
	if _, ok := lookupRole(r); ok {
		return r, true
	}
	return RoleUnknown, false
}

// String returns the string representation.
func (r Role) String() string {
	return string(r)
}

// OrganizationType defines the kind of organization a user belongs to.
type OrganizationType string

const (
	OrgTypeHealthCenter    OrganizationType = "health_center"
	OrgTypeProvince        OrganizationType = "province"
	OrgTypeEmergencyCenter OrganizationType = "emergency_center"
)

// Jurisdiction describes the breadth of data a role is bound to.
type Jurisdiction string

const (
	JurisdictionNational Jurisdiction = "national"
	JurisdictionProvince Jurisdiction = "province"
	JurisdictionDistrict Jurisdiction = "district"
	JurisdictionDevices  Jurisdiction = "devices"
	JurisdictionNone     Jurisdiction = "none"
)

// RoleDefinition is the static description of a role.
type RoleDefinition struct {
	Role         Role
	Label        string
	Jurisdiction Jurisdiction
	// AllowedOrgTypes is empty when the role may belong to any organization
	// (or to none).
	AllowedOrgTypes []OrganizationType
}

// RoleInfo returns the definition of a role. Unknown roles get a
// JurisdictionNone definition.
func RoleInfo(r Role) RoleDefinition {
	def, ok := lookupRole(r)
	if !ok {
		return RoleDefinition{Role: RoleUnknown, Label: "unknown", Jurisdiction: JurisdictionNone}
	}
	return def
}

// lookupRole is the single registration point for roles. Adding a Role
// constant without a case here makes TestEveryRoleHasDefinition fail.
func lookupRole(r Role) (RoleDefinition, bool) {
	switch r {
	case RoleMaster:
		return RoleDefinition{Role: r, Label: "중앙 관리자", Jurisdiction: JurisdictionNational}, true
	case RoleEmergencyCenterAdmin:
		return RoleDefinition{Role: r, Label: "중앙응급의료센터", Jurisdiction: JurisdictionNational,
			AllowedOrgTypes: []OrganizationType{OrgTypeEmergencyCenter}}, true
	case RoleRegionalEmergencyCenterAdmin:
		return RoleDefinition{Role: r, Label: "권역응급의료센터", Jurisdiction: JurisdictionNational,
			AllowedOrgTypes: []OrganizationType{OrgTypeEmergencyCenter}}, true
	case RoleMinistryAdmin:
		return RoleDefinition{Role: r, Label: "보건복지부", Jurisdiction: JurisdictionNational}, true
	case RoleRegionalAdmin:
		return RoleDefinition{Role: r, Label: "시도 관리자", Jurisdiction: JurisdictionProvince,
			AllowedOrgTypes: []OrganizationType{OrgTypeProvince}}, true
	case RoleLocalAdmin:
		return RoleDefinition{Role: r, Label: "보건소 관리자", Jurisdiction: JurisdictionDistrict,
			AllowedOrgTypes: []OrganizationType{OrgTypeHealthCenter}}, true
	case RoleTemporaryInspector:
		return RoleDefinition{Role: r, Label: "임시 점검원", Jurisdiction: JurisdictionDevices,
			AllowedOrgTypes: []OrganizationType{OrgTypeHealthCenter}}, true
	case RolePendingApproval:
		return RoleDefinition{Role: r, Label: "승인 대기", Jurisdiction: JurisdictionNone}, true
	case RoleEmailVerified:
		return RoleDefinition{Role: r, Label: "이메일 인증", Jurisdiction: JurisdictionNone}, true
	case RoleRejected:
		return RoleDefinition{Role: r, Label: "승인 거부", Jurisdiction: JurisdictionNone}, true
	}
	return RoleDefinition{}, false
}

// ValidateOrganization checks that a user with the given role may belong to
// an organization of the given type.
func ValidateOrganization(r Role, orgType OrganizationType) error {
	def, ok := lookupRole(r)
	if !ok {
		return fmt.Errorf("unknown role %q", r)
	}
	if def.Jurisdiction == JurisdictionNone {
		return fmt.Errorf("role %q cannot be granted", r)
	}
	if len(def.AllowedOrgTypes) == 0 {
		return nil
	}
	for _, t := range def.AllowedOrgTypes {
		if t == orgType {
			return nil
		}
	}
	return fmt.Errorf("role %q requires organization type %v, got %q", r, def.AllowedOrgTypes, orgType)
}

// Grantable reports whether an administrator can assign the role.
func (r Role) Grantable() bool {
	def, ok := lookupRole(r)
	return ok && def.Jurisdiction != JurisdictionNone
}

// GrantableBy lists the roles an approver holding grantor may assign. Roles
// missing from the switch grant nothing.
func GrantableBy(grantor Role) []Role {
	switch grantor {
	case RoleMaster:
		return []Role{
			RoleMaster,
			RoleEmergencyCenterAdmin,
			RoleRegionalEmergencyCenterAdmin,
			RoleMinistryAdmin,
			RoleRegionalAdmin,
			RoleLocalAdmin,
			RoleTemporaryInspector,
		}
	case RoleEmergencyCenterAdmin, RoleRegionalEmergencyCenterAdmin, RoleLocalAdmin:
		return []Role{RoleLocalAdmin, RoleTemporaryInspector}
	}
	return nil
}

// CanGrant reports whether grantor may assign role.
func CanGrant(grantor, role Role) bool {
	for _, r := range GrantableBy(grantor) {
		if r == role {
			return true
		}
	}
	return false
}
