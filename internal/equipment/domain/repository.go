package domain

import (
	"context"
	"time"

	"github.com/aed-compliance/platform/internal/access"
	"github.com/aed-compliance/platform/internal/geo"
)

// Repository defines the interface for equipment persistence. Every read
// takes the filter built from the caller's access scope.
type Repository interface {
	List(ctx context.Context, filter access.EquipmentFilter, q ListQuery) ([]Equipment, int, error)
	Get(ctx context.Context, serial string, filter access.EquipmentFilter) (*Equipment, error)
	Stream(ctx context.Context, filter access.EquipmentFilter, q ListQuery, fn func(*Equipment) error) error
	Within(ctx context.Context, filter access.EquipmentFilter, box geo.BoundingBox, limit int) ([]Equipment, error)
	ExpiringBefore(ctx context.Context, filter access.EquipmentFilter, before time.Time) ([]Equipment, error)
	TouchInspection(ctx context.Context, serial string, date time.Time) error
	SerialsExist(ctx context.Context, serials []string) ([]string, error)
}

// ListQuery holds the user-supplied list parameters.
type ListQuery struct {
	Search    string `json:"search,omitempty"`
	Category1 string `json:"category_1,omitempty"`
	Limit     int    `json:"limit,omitempty"`
	Offset    int    `json:"offset,omitempty"`
}
