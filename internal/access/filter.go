package access

import (
	"errors"
	"fmt"
)

// MatchCriterion selects which equipment fields city-level filtering is
// matched against. Physical address and designated jurisdiction can
// disagree, so callers must choose one explicitly.
type MatchCriterion string

const (
	MatchByAddress      MatchCriterion = "address"
	MatchByJurisdiction MatchCriterion = "jurisdiction"
)

// ErrUnknownCriterion is returned when no valid match criterion was given.
var ErrUnknownCriterion = errors.New("unknown match criterion")

// ParseMatchCriterion parses a criterion without applying a default.
func ParseMatchCriterion(s string) (MatchCriterion, error) {
	switch c := MatchCriterion(s); c {
	case MatchByAddress, MatchByJurisdiction:
		return c, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCriterion, s)
}

// EquipmentFilter is a declarative row filter for equipment queries. The
// data-access layer translates it into a WHERE clause.
//
// A nil EquipmentSerialIn means "no serial constraint"; a non-nil empty
// slice matches no rows.
type EquipmentFilter struct {
	Criterion         MatchCriterion `json:"criterion"`
	Sido              *string        `json:"sido,omitempty"`
	Gugun             *string        `json:"gugun,omitempty"`
	EquipmentSerialIn []string       `json:"equipment_serial_in"`
}

// BuildEquipmentFilter turns a scope into a filter. A device allowlist
// excludes every region key.
func BuildEquipmentFilter(scope AccessScope, criterion MatchCriterion) (EquipmentFilter, error) {
	if criterion != MatchByAddress && criterion != MatchByJurisdiction {
		return EquipmentFilter{}, fmt.Errorf("%w: %q", ErrUnknownCriterion, criterion)
	}

	f := EquipmentFilter{Criterion: criterion}

	if scope.DeviceAllowlist != nil {
		f.EquipmentSerialIn = append(make([]string, 0, len(scope.DeviceAllowlist)), scope.DeviceAllowlist...)
		return f, nil
	}

	if scope.RegionRestriction == nil {
		return f, nil
	}
	sido := *scope.RegionRestriction
	f.Sido = &sido

	if scope.CityRestriction != nil {
		gugun := *scope.CityRestriction
		f.Gugun = &gugun
	}

	return f, nil
}

// ConstrainsSerials reports whether the filter restricts rows to a serial list.
func (f EquipmentFilter) ConstrainsSerials() bool {
	return f.EquipmentSerialIn != nil
}

// MatchesNone reports whether the filter can never match a row.
func (f EquipmentFilter) MatchesNone() bool {
	return f.EquipmentSerialIn != nil && len(f.EquipmentSerialIn) == 0
}

// IsUnfiltered reports whether the filter places no constraint at all.
func (f EquipmentFilter) IsUnfiltered() bool {
	return f.EquipmentSerialIn == nil && f.Sido == nil && f.Gugun == nil
}
