package domain

import (
	"time"

	"github.com/aed-compliance/platform/internal/shared/types"
)

// ExpiryState classifies a consumable expiry date relative to now.
type ExpiryState string

const (
	ExpiryOK       ExpiryState = "ok"
	ExpiryExpiring ExpiryState = "expiring"
	ExpiryExpired  ExpiryState = "expired"
	ExpiryUnknown  ExpiryState = "unknown"
)

// Equipment is one registered AED. EquipmentSerial is the natural key.
type Equipment struct {
	EquipmentSerial  string `json:"equipment_serial"`
	ManagementNumber string `json:"management_number,omitempty"`

	// Physical address
	Sido           string `json:"sido"`
	Gugun          string `json:"gugun"`
	InstallAddress string `json:"install_address,omitempty"`
	InstallDetail  string `json:"install_detail,omitempty"`

	// Designated managing jurisdiction; may differ from the address
	JurisdictionSido  string `json:"jurisdiction_sido,omitempty"`
	JurisdictionGugun string `json:"jurisdiction_gugun,omitempty"`

	InstitutionName  string `json:"institution_name"`
	InstitutionPhone string `json:"institution_phone,omitempty"`
	ManagerName      string `json:"manager_name,omitempty"`
	ManagerPhone     string `json:"manager_phone,omitempty"`
	ManagerEmail     string `json:"manager_email,omitempty"`

	Category1 string `json:"category_1,omitempty"`
	Category2 string `json:"category_2,omitempty"`
	Category3 string `json:"category_3,omitempty"`

	ModelName    string `json:"model_name,omitempty"`
	Manufacturer string `json:"manufacturer,omitempty"`

	BatteryExpiry      *time.Time `json:"battery_expiry_date,omitempty"`
	PatchExpiry        *time.Time `json:"patch_expiry_date,omitempty"`
	ManufacturedAt     *time.Time `json:"manufactured_date,omitempty"`
	LastInspectionDate *time.Time `json:"last_inspection_date,omitempty"`

	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// ExpiryStatus returns the worse of the battery and patch states. A
// consumable expiring within leadDays of now is "expiring".
func (e *Equipment) ExpiryStatus(now time.Time, leadDays int) ExpiryState {
	battery := expiryState(e.BatteryExpiry, now, leadDays)
	patch := expiryState(e.PatchExpiry, now, leadDays)
	if rank(battery) >= rank(patch) {
		return battery
	}
	return patch
}

// Consumables reported by ExpiringItems.
const (
	ItemBattery = "battery"
	ItemPatch   = "patch"
)

// ExpiringItems names the consumables that are expired or expiring.
func (e *Equipment) ExpiringItems(now time.Time, leadDays int) []string {
	var items []string
	if s := expiryState(e.BatteryExpiry, now, leadDays); s == ExpiryExpired || s == ExpiryExpiring {
		items = append(items, ItemBattery)
	}
	if s := expiryState(e.PatchExpiry, now, leadDays); s == ExpiryExpired || s == ExpiryExpiring {
		items = append(items, ItemPatch)
	}
	return items
}

// Location returns the installation address with its coordinates.
func (e *Equipment) Location() types.Address {
	return types.NewAddress(e.Sido, e.Gugun, e.InstallAddress).WithCoordinates(e.Latitude, e.Longitude)
}

// HasLocation reports whether the coordinates are usable.
func (e *Equipment) HasLocation() bool {
	return e.Location().HasCoordinates()
}

func expiryState(date *time.Time, now time.Time, leadDays int) ExpiryState {
	if date == nil {
		return ExpiryUnknown
	}
	today := truncateDay(now)
	d := truncateDay(*date)
	if d.Before(today) {
		return ExpiryExpired
	}
	if !d.After(today.AddDate(0, 0, leadDays)) {
		return ExpiryExpiring
	}
	return ExpiryOK
}

func rank(s ExpiryState) int {
	switch s {
	case ExpiryExpired:
		return 3
	case ExpiryExpiring:
		return 2
	case ExpiryOK:
		return 1
	}
	return 0
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// Stats summarises the equipment visible to a scope.
type Stats struct {
	Total          int            `json:"total"`
	Expired        int            `json:"expired"`
	Expiring       int            `json:"expiring"`
	OK             int            `json:"ok"`
	Unknown        int            `json:"unknown"`
	NeverInspected int            `json:"never_inspected"`
	ByCategory     map[string]int `json:"by_category"`
}

// Add counts one equipment row.
func (s *Stats) Add(e *Equipment, now time.Time, leadDays int) {
	if s.ByCategory == nil {
		s.ByCategory = make(map[string]int)
	}
	s.Total++
	switch e.ExpiryStatus(now, leadDays) {
	case ExpiryExpired:
		s.Expired++
	case ExpiryExpiring:
		s.Expiring++
	case ExpiryOK:
		s.OK++
	default:
		s.Unknown++
	}
	if e.LastInspectionDate == nil {
		s.NeverInspected++
	}
	if e.Category1 != "" {
		s.ByCategory[e.Category1]++
	}
}
