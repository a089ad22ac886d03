package access

import (
	"sort"
	"strconv"
	"strings"
)

// Profile is the part of a user profile the resolver reads.
type Profile struct {
	Role              Role     `json:"role"`
	RegionCode        string   `json:"region_code,omitempty"`
	DistrictCode      string   `json:"district_code,omitempty"`
	AssignedDeviceIDs []string `json:"assigned_device_ids,omitempty"`
}

// AccessScope describes which equipment rows and fields a caller may see
// or modify. It is derived per request and never persisted.
//
// DeviceAllowlist is nil when the caller is not restricted to a device list.
// A non-nil empty allowlist means zero visible devices.
type AccessScope struct {
	RegionRestriction    *string  `json:"region_restriction"`
	CityRestriction      *string  `json:"city_restriction"`
	DeviceAllowlist      []string `json:"device_allowlist"`
	CanViewSensitiveData bool     `json:"can_view_sensitive_data"`
	CanPerformInspection bool     `json:"can_perform_inspection"`
	CanApprove           bool     `json:"can_approve"`
}

// ResolveAccessScope maps a profile onto its access scope. It never fails:
// unknown roles and inconsistent profiles resolve to the most restrictive
// scope.
func ResolveAccessScope(p Profile) AccessScope {
	region := optional(p.RegionCode)
	city := optional(p.DistrictCode)
	// A district is meaningless without its region.
	if region == nil {
		city = nil
	}

	switch p.Role {
	case RoleMaster, RoleEmergencyCenterAdmin, RoleRegionalEmergencyCenterAdmin:
		return AccessScope{
			CanViewSensitiveData: true,
			CanPerformInspection: true,
			CanApprove:           true,
		}

	case RoleMinistryAdmin:
		return AccessScope{
			CanViewSensitiveData: true,
		}

	case RoleRegionalAdmin:
		if region == nil {
			return restrictedScope()
		}
		return AccessScope{
			RegionRestriction: region,
		}

	case RoleLocalAdmin:
		// Without a district a local admin would silently see the whole
		// province.
		if region == nil || city == nil {
			return restrictedScope()
		}
		return AccessScope{
			RegionRestriction:    region,
			CityRestriction:      city,
			CanPerformInspection: true,
			CanApprove:           true,
		}

	case RoleTemporaryInspector:
		allow := copyDevices(p.AssignedDeviceIDs)
		return AccessScope{
			DeviceAllowlist:      allow,
			CanPerformInspection: len(allow) > 0,
		}
	}

	return restrictedScope()
}

// restrictedScope sees nothing and may do nothing.
func restrictedScope() AccessScope {
	return AccessScope{DeviceAllowlist: []string{}}
}

// IsUnrestricted reports whether the scope covers every device.
func (s AccessScope) IsUnrestricted() bool {
	return s.DeviceAllowlist == nil && s.RegionRestriction == nil && s.CityRestriction == nil
}

// Key returns a deterministic representation of the scope suitable for use
// as a cache key. Scopes that filter the same rows share a key.
func (s AccessScope) Key() string {
	var b strings.Builder
	if s.DeviceAllowlist != nil {
		ids := append([]string(nil), s.DeviceAllowlist...)
		sort.Strings(ids)
		b.WriteString("devices:")
		b.WriteString(strconv.Itoa(len(ids)))
		b.WriteByte(':')
		b.WriteString(strings.Join(ids, ","))
		return b.String()
	}
	b.WriteString("region:")
	if s.RegionRestriction != nil {
		b.WriteString(*s.RegionRestriction)
	} else {
		b.WriteByte('*')
	}
	b.WriteString("|city:")
	if s.CityRestriction != nil {
		b.WriteString(*s.CityRestriction)
	} else {
		b.WriteByte('*')
	}
	return b.String()
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func copyDevices(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}
