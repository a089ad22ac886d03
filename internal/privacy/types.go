package privacy

import (
	"context"
	"time"

	"github.com/aed-compliance/platform/internal/shared/types"
)

// PIIField represents types of personally identifiable information.
type PIIField string

const (
	PIIFieldRRN   PIIField = "rrn" // resident registration number
	PIIFieldPhone PIIField = "phone"
	PIIFieldEmail PIIField = "email"
)

// PIIViolation is unmasked personal data found in a response to a caller
// who may not see it.
type PIIViolation struct {
	ID            types.ID  `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	Field         PIIField  `json:"field"`
	ActorID       string    `json:"actor_id,omitempty"`
	RawValue      string    `json:"-"` // Never exposed in JSON
	MaskedValue   string    `json:"masked_value"`
	RequestPath   string    `json:"request_path,omitempty"`
	RequestMethod string    `json:"request_method,omitempty"`
}

// AuditLogger records privacy events.
type AuditLogger interface {
	Log(ctx context.Context, action, resourceType, resourceID string, details map[string]any) error
}

// Audit actions for privacy events
const (
	AuditActionPIIRedacted = "privacy.pii_redacted"
)
