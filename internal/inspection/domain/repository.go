package domain

import (
	"context"

	"github.com/aed-compliance/platform/internal/access"
	"github.com/aed-compliance/platform/internal/audit"
	"github.com/aed-compliance/platform/internal/shared/types"
)

// Repository defines the interface for inspection persistence. Every write
// stores its audit entry in the same transaction.
type Repository interface {
	Create(ctx context.Context, i *Inspection, entry *audit.AuditEntry) error
	FindByID(ctx context.Context, id types.ID) (*Inspection, error)
	Save(ctx context.Context, i *Inspection, entry *audit.AuditEntry) error
	// Approve saves an approved inspection and moves the equipment's last
	// inspection date forward.
	Approve(ctx context.Context, i *Inspection, entry *audit.AuditEntry) error
	Delete(ctx context.Context, id types.ID, entry *audit.AuditEntry) error
	List(ctx context.Context, scope access.EquipmentFilter, filter ListFilter) ([]Inspection, int, error)
}

// ListFilter defines filters for listing inspections
type ListFilter struct {
	Status          *Status   `json:"status,omitempty"`
	InspectorID     *types.ID `json:"inspector_id,omitempty"`
	EquipmentSerial string    `json:"equipment_serial,omitempty"`
	Limit           int       `json:"limit,omitempty"`
	Offset          int       `json:"offset,omitempty"`
}
