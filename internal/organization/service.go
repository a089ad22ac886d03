package organization

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/aed-compliance/platform/internal/access"
	"github.com/aed-compliance/platform/internal/audit"
	"github.com/aed-compliance/platform/internal/equipment/domain"
	"github.com/aed-compliance/platform/internal/notification"
	"github.com/aed-compliance/platform/internal/region"
	"github.com/aed-compliance/platform/internal/shared/errors"
	"github.com/aed-compliance/platform/internal/shared/logger"
	"github.com/aed-compliance/platform/internal/shared/types"
)

// Store is the persistence the service needs. *Repository implements it.
type Store interface {
	GetOrganization(ctx context.Context, id types.ID) (*Organization, error)
	ListOrganizations(ctx context.Context, filter OrganizationFilter) ([]Organization, error)
	GetProfile(ctx context.Context, id types.ID) (*UserProfile, error)
	ListPendingProfiles(ctx context.Context, filter PendingFilter) ([]UserProfile, int, error)
	Approve(ctx context.Context, a Approval, entry *audit.AuditEntry) error
	Reject(ctx context.Context, id types.ID, reason string, entry *audit.AuditEntry) error
	AssignDevices(ctx context.Context, id types.ID, serials []string, entry *audit.AuditEntry) error
}

// Devices checks equipment serials. The equipment repository implements it.
type Devices interface {
	SerialsExist(ctx context.Context, serials []string) ([]string, error)
	Get(ctx context.Context, serial string, filter access.EquipmentFilter) (*domain.Equipment, error)
}

// Notifier sends templated email.
type Notifier interface {
	Notify(ctx context.Context, name notification.TemplateName, to notification.Recipient, data any) error
}

// Service applies the account approval rules.
type Service struct {
	store    Store
	devices  Devices
	regions  *region.Table
	notifier Notifier
	now      func() time.Time
}

// NewService creates the service. notifier may be nil.
func NewService(store Store, devices Devices, regions *region.Table, notifier Notifier) *Service {
	return &Service{store: store, devices: devices, regions: regions, notifier: notifier, now: time.Now}
}

func principal(ctx context.Context) (*access.Principal, error) {
	p := access.PrincipalFrom(ctx)
	if p == nil {
		return nil, errors.Unauthorized("authentication required")
	}
	return p, nil
}

// Me returns the caller's profile and resolved scope. The profile is nil
// for a user who has not completed signup.
func (s *Service) Me(ctx context.Context) (*Me, error) {
	p, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	me := &Me{RoleLabel: access.RoleInfo(p.Profile.Role).Label, Scope: p.Scope}

	id, err := types.ParseID(p.UserID)
	if err != nil {
		return me, nil
	}
	profile, err := s.store.GetProfile(ctx, id)
	if err != nil && !errors.Is(err, errors.ErrNotFound) {
		return nil, err
	}
	me.Profile = profile
	return me, nil
}

// ListOrganizations lists organizations. Any signed-in user may read them
// since signup needs the list.
func (s *Service) ListOrganizations(ctx context.Context, filter OrganizationFilter) ([]Organization, error) {
	if _, err := principal(ctx); err != nil {
		return nil, err
	}
	return s.store.ListOrganizations(ctx, filter)
}

// ListPending lists the accounts the caller may decide on.
func (s *Service) ListPending(ctx context.Context, limit, offset int) ([]UserProfile, int, error) {
	p, err := principal(ctx)
	if err != nil {
		return nil, 0, err
	}
	filter := PendingFilter{Limit: limit, Offset: offset}
	switch {
	case p.Scope.CanApprove && p.Scope.IsUnrestricted():
	case p.Profile.Role == access.RoleRegionalAdmin && p.Scope.RegionRestriction != nil:
		filter.RegionCode = *p.Scope.RegionRestriction
	case p.Profile.Role == access.RoleLocalAdmin && p.Scope.CanApprove:
		filter.RegionCode = *p.Scope.RegionRestriction
		filter.DistrictCode = *p.Scope.CityRestriction
	default:
		return nil, 0, errors.Forbidden("not allowed to review accounts")
	}
	return s.store.ListPendingProfiles(ctx, filter)
}

// Approve grants role to a pending account and binds it to an
// organization. The profile takes its region and district from the
// organization.
func (s *Service) Approve(ctx context.Context, id types.ID, req ApproveRequest) (*UserProfile, error) {
	p, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	if !p.Scope.CanApprove {
		return nil, errors.Forbidden("not allowed to approve accounts")
	}

	role, ok := access.ParseRole(req.Role)
	if !ok || !role.Grantable() {
		return nil, errors.Validation("invalid role", map[string]string{"role": "must be a grantable role"})
	}
	if !access.CanGrant(p.Profile.Role, role) {
		return nil, errors.Forbidden(fmt.Sprintf("%s cannot grant %s", p.Profile.Role, role))
	}
	if req.OrganizationID.IsZero() {
		return nil, errors.Validation("organization is required", map[string]string{"organization_id": "required"})
	}

	org, err := s.store.GetOrganization(ctx, req.OrganizationID)
	if err != nil {
		return nil, err
	}
	if err := access.ValidateOrganization(role, org.Type); err != nil {
		return nil, errors.Validation(err.Error(), map[string]string{"organization_id": "organization type does not fit the role"})
	}
	if err := s.checkOrganizationRegion(role, org); err != nil {
		return nil, err
	}
	if !s.inJurisdiction(p, org.RegionCode, org.CityCode) {
		return nil, errors.Forbidden("organization is outside your district")
	}

	target, err := s.store.GetProfile(ctx, id)
	if err != nil {
		return nil, err
	}
	if target.ID.String() == p.UserID {
		return nil, errors.Forbidden("cannot approve your own account")
	}
	if !target.Awaiting() {
		return nil, errors.Conflict("user profile is not awaiting approval")
	}

	approverID, _ := types.ParseID(p.UserID)
	a := Approval{
		ProfileID:      target.ID,
		Role:           role,
		OrganizationID: org.ID,
		RegionCode:     org.RegionCode,
		DistrictCode:   org.CityCode,
		ApprovedBy:     approverID,
		ApprovedAt:     s.now().UTC(),
	}
	entry := audit.EntryFor(ctx, audit.ActionUserApproved, "user_profile", target.ID.String(), map[string]any{
		"previous_role":   target.Role,
		"role":            string(role),
		"organization_id": org.ID.String(),
		"region_code":     org.RegionCode,
		"district_code":   org.CityCode,
	})
	if err := s.store.Approve(ctx, a, entry); err != nil {
		return nil, err
	}

	target.Role = string(role)
	target.OrganizationID = &org.ID
	target.RegionCode = org.RegionCode
	target.DistrictCode = org.CityCode
	target.ApprovedBy = &approverID
	target.ApprovedAt = &a.ApprovedAt
	target.IsActive = true

	s.notify(ctx, notification.TemplateAccountApproved, target, map[string]any{
		"Name":         displayName(target),
		"RoleLabel":    access.RoleInfo(role).Label,
		"Organization": org.Name,
	})
	return target, nil
}

// Reject rejects a pending account with a reason.
func (s *Service) Reject(ctx context.Context, id types.ID, reason string) error {
	p, err := principal(ctx)
	if err != nil {
		return err
	}
	if !p.Scope.CanApprove {
		return errors.Forbidden("not allowed to reject accounts")
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return errors.Validation("reason is required", map[string]string{"reason": "required"})
	}

	target, err := s.store.GetProfile(ctx, id)
	if err != nil {
		return err
	}
	if !target.Awaiting() {
		return errors.Conflict("user profile is not awaiting approval")
	}
	regionCode, district, err := s.locate(ctx, target)
	if err != nil {
		return err
	}
	if !s.inJurisdiction(p, regionCode, district) {
		return errors.Forbidden("user is outside your district")
	}

	entry := audit.EntryFor(ctx, audit.ActionUserRejected, "user_profile", target.ID.String(), map[string]any{
		"previous_role": target.Role,
	}).WithJustification(reason)
	if err := s.store.Reject(ctx, target.ID, reason, entry); err != nil {
		return err
	}

	s.notify(ctx, notification.TemplateAccountRejected, target, map[string]any{
		"Name":   displayName(target),
		"Reason": reason,
	})
	return nil
}

// AssignDevices replaces a temporary inspector's device allowlist. Local
// admins may only assign devices of their own district.
func (s *Service) AssignDevices(ctx context.Context, id types.ID, serials []string) ([]string, error) {
	p, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	if p.Profile.Role != access.RoleMaster && !(p.Profile.Role == access.RoleLocalAdmin && p.Scope.CanApprove) {
		return nil, errors.Forbidden("not allowed to assign devices")
	}

	target, err := s.store.GetProfile(ctx, id)
	if err != nil {
		return nil, err
	}
	if r, _ := access.ParseRole(target.Role); r != access.RoleTemporaryInspector {
		return nil, errors.Conflict("user is not a temporary inspector")
	}
	if !s.inJurisdiction(p, target.RegionCode, target.DistrictCode) {
		return nil, errors.Forbidden("user is outside your district")
	}

	serials = normalizeSerials(serials)
	found, err := s.devices.SerialsExist(ctx, serials)
	if err != nil {
		return nil, err
	}
	if missing := difference(serials, found); len(missing) > 0 {
		return nil, errors.Validation("unknown equipment serials", map[string]string{
			"equipment_serials": strings.Join(missing, ","),
		})
	}

	if !p.Scope.IsUnrestricted() {
		filter, err := access.BuildEquipmentFilter(p.Scope, access.MatchByAddress)
		if err != nil {
			return nil, errors.Internal(err)
		}
		var outside []string
		for _, serial := range serials {
			if _, err := s.devices.Get(ctx, serial, filter); err != nil {
				if !errors.Is(err, errors.ErrNotFound) {
					return nil, err
				}
				outside = append(outside, serial)
			}
		}
		if len(outside) > 0 {
			return nil, errors.Validation("equipment outside your district", map[string]string{
				"equipment_serials": strings.Join(outside, ","),
			})
		}
	}

	entry := audit.EntryFor(ctx, audit.ActionUserDevicesAssigned, "user_profile", target.ID.String(), map[string]any{
		"previous": toAny(target.AssignedDeviceIDs),
		"assigned": toAny(serials),
	})
	if err := s.store.AssignDevices(ctx, target.ID, serials, entry); err != nil {
		return nil, err
	}
	return serials, nil
}

// checkOrganizationRegion makes sure the codes the profile will inherit
// resolve against the region table, and that district-bound roles get a
// district.
func (s *Service) checkOrganizationRegion(role access.Role, org *Organization) error {
	if org.RegionCode != "" {
		if _, ok := s.regions.Lookup(org.RegionCode); !ok {
			return errors.Validation("organization has an unknown region", map[string]string{"region_code": org.RegionCode})
		}
		if org.CityCode != "" && !s.regions.HasCity(org.RegionCode, org.CityCode) {
			return errors.Validation("organization has an unknown city", map[string]string{"city_code": org.CityCode})
		}
	}

	switch access.RoleInfo(role).Jurisdiction {
	case access.JurisdictionProvince:
		if org.RegionCode == "" {
			return errors.Validation("organization has no region", map[string]string{"organization_id": "region required"})
		}
	case access.JurisdictionDistrict, access.JurisdictionDevices:
		if org.RegionCode == "" || org.CityCode == "" {
			return errors.Validation("organization has no district", map[string]string{"organization_id": "district required"})
		}
	}
	return nil
}

// inJurisdiction reports whether the caller's scope covers a region and
// district. Unrestricted callers cover everything.
func (s *Service) inJurisdiction(p *access.Principal, regionCode, district string) bool {
	scope := p.Scope
	if scope.IsUnrestricted() {
		return true
	}
	if scope.RegionRestriction == nil || *scope.RegionRestriction != regionCode {
		return false
	}
	return scope.CityRestriction == nil || *scope.CityRestriction == district
}

// locate returns a profile's region and district, falling back to its
// organization.
func (s *Service) locate(ctx context.Context, p *UserProfile) (string, string, error) {
	if p.RegionCode != "" || p.OrganizationID == nil {
		return p.RegionCode, p.DistrictCode, nil
	}
	org, err := s.store.GetOrganization(ctx, *p.OrganizationID)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return "", "", nil
		}
		return "", "", err
	}
	return org.RegionCode, org.CityCode, nil
}

func (s *Service) notify(ctx context.Context, name notification.TemplateName, p *UserProfile, data map[string]any) {
	if s.notifier == nil || p.Email == "" {
		return
	}
	to := notification.Recipient{ID: p.ID.String(), Name: p.FullName, Email: p.Email}
	if err := s.notifier.Notify(ctx, name, to, data); err != nil {
		logger.From(ctx).Warn("account notification failed",
			zap.String("template", string(name)),
			zap.String("user_id", p.ID.String()),
			zap.Error(err))
	}
}

func displayName(p *UserProfile) string {
	if p.FullName != "" {
		return p.FullName
	}
	return p.Email
}

func normalizeSerials(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func difference(want, have []string) []string {
	got := make(map[string]struct{}, len(have))
	for _, h := range have {
		got[h] = struct{}{}
	}
	var missing []string
	for _, w := range want {
		if _, ok := got[w]; !ok {
			missing = append(missing, w)
		}
	}
	return missing
}

func toAny(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
