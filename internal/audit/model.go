package audit

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"

	"github.com/aed-compliance/platform/internal/access"
	"github.com/aed-compliance/platform/internal/shared/types"
)

// canonicalJSON produces deterministic JSON output with sorted map keys.
// PostgreSQL JSONB reorders keys and Go maps have random iteration order,
// so hashing must not depend on either.
func canonicalJSON(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	var parsed any
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, err
	}

	return canonicalMarshal(parsed)
}

func canonicalMarshal(v any) ([]byte, error) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			keyBytes, _ := json.Marshal(k)
			buf.Write(keyBytes)
			buf.WriteByte(':')
			valBytes, err := canonicalMarshal(val[k])
			if err != nil {
				return nil, err
			}
			buf.Write(valBytes)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil

	case []any:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			itemBytes, err := canonicalMarshal(item)
			if err != nil {
				return nil, err
			}
			buf.Write(itemBytes)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil

	default:
		return json.Marshal(val)
	}
}

// ActorType defines the type of actor
type ActorType string

const (
	ActorTypeUser   ActorType = "user"
	ActorTypeSystem ActorType = "system"
)

// AuditEntry represents an immutable audit log entry
type AuditEntry struct {
	ID        types.ID  `json:"id"`
	Sequence  int64     `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
	Hash      string    `json:"hash"`
	PrevHash  string    `json:"prev_hash,omitempty"`

	ActorType ActorType `json:"actor_type"`
	ActorID   string    `json:"actor_id"`
	ActorRole string    `json:"actor_role,omitempty"`
	ActorIP   string    `json:"actor_ip,omitempty"`

	Action       string `json:"action"`
	ResourceType string `json:"resource_type"`
	ResourceID   string `json:"resource_id,omitempty"`

	Changes       map[string]any `json:"changes,omitempty"`
	Justification string         `json:"justification,omitempty"`
}

// NewAuditEntry creates a new audit entry. The hash is computed again when
// the entry is appended and its predecessor is known.
func NewAuditEntry(
	actorType ActorType,
	actorID, actorRole string,
	action, resourceType, resourceID string,
	changes map[string]any,
) *AuditEntry {
	entry := &AuditEntry{
		ID: types.NewID(),
		// PostgreSQL stores microseconds
		Timestamp:    time.Now().UTC().Truncate(time.Microsecond),
		ActorType:    actorType,
		ActorID:      actorID,
		ActorRole:    actorRole,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Changes:      changes,
	}
	entry.Hash = entry.calculateHash()
	return entry
}

// EntryFor builds an entry for the principal stored in ctx. Without a
// principal the entry is attributed to the system.
func EntryFor(ctx context.Context, action, resourceType, resourceID string, changes map[string]any) *AuditEntry {
	if p := access.PrincipalFrom(ctx); p != nil {
		return NewAuditEntry(ActorTypeUser, p.UserID, p.Profile.Role.String(), action, resourceType, resourceID, changes).
			WithRequest(p.IP)
	}
	return NewAuditEntry(ActorTypeSystem, "system", "", action, resourceType, resourceID, changes)
}

// calculateHash calculates the SHA-256 hash of the entry over canonical JSON.
// The timestamp is always formatted in UTC.
func (e *AuditEntry) calculateHash() string {
	data := map[string]any{
		"id":            e.ID,
		"timestamp":     e.Timestamp.UTC().Format(time.RFC3339Nano),
		"prev_hash":     e.PrevHash,
		"actor_type":    e.ActorType,
		"actor_id":      e.ActorID,
		"action":        e.Action,
		"resource_type": e.ResourceType,
	}

	if e.ActorRole != "" {
		data["actor_role"] = e.ActorRole
	}
	if e.ResourceID != "" {
		data["resource_id"] = e.ResourceID
	}
	if len(e.Changes) > 0 {
		data["changes"] = e.Changes
	}
	if e.Justification != "" {
		data["justification"] = e.Justification
	}

	jsonData, _ := canonicalJSON(data)
	hash := sha256.Sum256(jsonData)
	return hex.EncodeToString(hash[:])
}

// VerifyHash verifies the entry's hash
func (e *AuditEntry) VerifyHash() bool {
	return e.Hash == e.calculateHash()
}

// ComputeHash computes and returns the correct hash for this entry
func (e *AuditEntry) ComputeHash() string {
	return e.calculateHash()
}

// WithRequest adds request information to the entry. The IP is not hashed.
func (e *AuditEntry) WithRequest(ip string) *AuditEntry {
	e.ActorIP = ip
	return e
}

// WithJustification attaches a free-text reason.
func (e *AuditEntry) WithJustification(reason string) *AuditEntry {
	e.Justification = reason
	e.Hash = e.calculateHash()
	return e
}

// ListEntriesFilter defines filters for listing audit entries
type ListEntriesFilter struct {
	ActorID      string     `json:"actor_id,omitempty"`
	Action       string     `json:"action,omitempty"`
	ResourceType string     `json:"resource_type,omitempty"`
	ResourceID   string     `json:"resource_id,omitempty"`
	StartTime    *time.Time `json:"start_time,omitempty"`
	EndTime      *time.Time `json:"end_time,omitempty"`
	Limit        int        `json:"limit,omitempty"`
	Offset       int        `json:"offset,omitempty"`
}

// Audit actions
const (
	ActionUserApproved        = "user.approved"
	ActionUserRejected        = "user.rejected"
	ActionUserDevicesAssigned = "user.devices_assigned"

	ActionInspectionCreated   = "inspection.created"
	ActionInspectionUpdated   = "inspection.updated"
	ActionInspectionSubmitted = "inspection.submitted"
	ActionInspectionApproved  = "inspection.approved"
	ActionInspectionRejected  = "inspection.rejected"
	ActionInspectionDeleted   = "inspection.deleted"
	ActionPhotoUploaded       = "inspection.photo_uploaded"

	ActionEquipmentExported = "equipment.exported"
	ActionRemindersSent     = "reminder.sent"
)
