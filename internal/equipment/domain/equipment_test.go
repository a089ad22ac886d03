package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func day(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 15, 30, 0, 0, time.UTC)
	return &t
}

func TestExpiryStatus(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		battery *time.Time
		patch   *time.Time
		want    ExpiryState
	}{
		{"both unknown", nil, nil, ExpiryUnknown},
		{"battery expired", day(2025, 3, 9), day(2026, 1, 1), ExpiryExpired},
		{"patch expired", day(2026, 1, 1), day(2024, 12, 31), ExpiryExpired},
		{"expires today", day(2025, 3, 10), nil, ExpiryExpiring},
		{"within lead", day(2025, 4, 9), day(2026, 1, 1), ExpiryExpiring},
		{"just outside lead", day(2025, 4, 10), day(2026, 1, 1), ExpiryOK},
		{"one unknown one ok", nil, day(2026, 1, 1), ExpiryOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := Equipment{BatteryExpiry: tt.battery, PatchExpiry: tt.patch}
			assert.Equal(t, tt.want, e.ExpiryStatus(now, 30))
		})
	}
}

func TestExpiringItems(t *testing.T) {
	now := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	e := Equipment{BatteryExpiry: day(2025, 3, 20), PatchExpiry: day(2027, 1, 1)}
	assert.Equal(t, []string{"battery"}, e.ExpiringItems(now, 30))

	e.PatchExpiry = day(2025, 1, 1)
	assert.Equal(t, []string{"battery", "patch"}, e.ExpiringItems(now, 30))
}

func TestStatsAdd(t *testing.T) {
	now := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	var s Stats
	s.Add(&Equipment{Category1: "구비의무기관", BatteryExpiry: day(2024, 1, 1)}, now, 30)
	s.Add(&Equipment{Category1: "구비의무기관", BatteryExpiry: day(2030, 1, 1), LastInspectionDate: day(2025, 1, 1)}, now, 30)
	s.Add(&Equipment{}, now, 30)

	assert.Equal(t, 3, s.Total)
	assert.Equal(t, 1, s.Expired)
	assert.Equal(t, 1, s.OK)
	assert.Equal(t, 1, s.Unknown)
	assert.Equal(t, 2, s.NeverInspected)
	assert.Equal(t, 2, s.ByCategory["구비의무기관"])
}
