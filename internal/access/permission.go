package access

// PermissionInput is what CheckInspectionPermission looks at.
type PermissionInput struct {
	Role        Role
	UserID      string
	InspectorID string
	// UserRegionCode and InspectionRegionCode are district codes; both must
	// be present for a district match.
	UserRegionCode       *string
	InspectionRegionCode *string
}

// InspectionPermission is the outcome of a permission check.
type InspectionPermission struct {
	CanView   bool   `json:"can_view"`
	CanEdit   bool   `json:"can_edit"`
	CanDelete bool   `json:"can_delete"`
	Reason    string `json:"reason,omitempty"`
}

// InspectionRule is one entry of the inspection permission table.
type InspectionRule struct {
	Name   string
	Roles  []Role
	decide func(in PermissionInput) InspectionPermission
}

// Matches reports whether the rule applies to role.
func (r InspectionRule) Matches(role Role) bool {
	if r.Roles == nil {
		return true
	}
	for _, candidate := range r.Roles {
		if candidate == role {
			return true
		}
	}
	return false
}

// Evaluation order matters: the first rule whose role list contains the
// caller's role decides. The last rule has no role list and catches
// everything else.
var inspectionRules = []InspectionRule{
	{
		Name:  "master: full control",
		Roles: []Role{RoleMaster},
		decide: func(PermissionInput) InspectionPermission {
			return InspectionPermission{CanView: true, CanEdit: true, CanDelete: true}
		},
	},
	{
		Name:  "emergency centers: edit all, never delete",
		Roles: []Role{RoleEmergencyCenterAdmin, RoleRegionalEmergencyCenterAdmin},
		decide: func(PermissionInput) InspectionPermission {
			return InspectionPermission{CanView: true, CanEdit: true, Reason: "deletion is reserved for master"}
		},
	},
	{
		Name:  "ministry and province: view only",
		Roles: []Role{RoleMinistryAdmin, RoleRegionalAdmin},
		decide: func(PermissionInput) InspectionPermission {
			return InspectionPermission{CanView: true, Reason: "view only (열람 전용)"}
		},
	},
	{
		Name:  "local admin: edit inside own district",
		Roles: []Role{RoleLocalAdmin},
		decide: func(in PermissionInput) InspectionPermission {
			if in.UserRegionCode != nil && in.InspectionRegionCode != nil &&
				*in.UserRegionCode == *in.InspectionRegionCode {
				return InspectionPermission{CanView: true, CanEdit: true}
			}
			return InspectionPermission{CanView: true, Reason: "inspection is outside your district"}
		},
	},
	{
		Name:  "temporary inspector: edit own inspections",
		Roles: []Role{RoleTemporaryInspector},
		decide: func(in PermissionInput) InspectionPermission {
			if in.UserID != "" && in.UserID == in.InspectorID {
				return InspectionPermission{CanView: true, CanEdit: true}
			}
			return InspectionPermission{CanView: true, Reason: "only the original inspector can edit"}
		},
	},
	{
		Name: "everyone else: view only",
		decide: func(PermissionInput) InspectionPermission {
			return InspectionPermission{CanView: true, Reason: "view only"}
		},
	},
}

// InspectionRules returns the permission table in evaluation order.
func InspectionRules() []InspectionRule {
	out := make([]InspectionRule, len(inspectionRules))
	copy(out, inspectionRules)
	return out
}

// CheckInspectionPermission evaluates the inspection permission table.
func CheckInspectionPermission(in PermissionInput) InspectionPermission {
	for _, rule := range inspectionRules {
		if rule.Matches(in.Role) {
			return rule.decide(in)
		}
	}
	// unreachable: the last rule matches every role
	return InspectionPermission{CanView: true}
}
