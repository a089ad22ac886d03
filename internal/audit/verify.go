package audit

import (
	"fmt"

	"github.com/aed-compliance/platform/internal/shared/types"
)

// VerifyResult contains detailed verification results
type VerifyResult struct {
	Valid          bool                `json:"valid"`
	Checked        int                 `json:"checked"`
	ContentValid   int                 `json:"content_valid"`
	ContentInvalid int                 `json:"content_invalid"`
	LinkageValid   int                 `json:"linkage_valid"`
	LinkageInvalid int                 `json:"linkage_invalid"`
	Violations     []string            `json:"violations,omitempty"`
	Entries        []VerifyEntryResult `json:"entries,omitempty"`
}

// VerifyEntryResult contains verification result for a single entry
type VerifyEntryResult struct {
	ID            types.ID `json:"id"`
	Sequence      int64    `json:"sequence"`
	Hash          string   `json:"hash"`
	ComputedHash  string   `json:"computed_hash,omitempty"`
	PrevHash      string   `json:"prev_hash"`
	Valid         bool     `json:"valid"`
	ContentValid  bool     `json:"content_valid"`
	LinkageValid  bool     `json:"linkage_valid"`
	Action        string   `json:"action"`
	ViolationType string   `json:"violation_type,omitempty"` // content, linkage or both
}

// VerifyEntries checks entries given newest first. Content verification
// recomputes each hash; linkage verification compares each hash with the
// prev_hash of the entry that follows it in time.
func VerifyEntries(entries []AuditEntry, includeDetails bool) *VerifyResult {
	result := &VerifyResult{Valid: true}

	var expected string // prev_hash of the newer neighbour
	for i, e := range entries {
		v := VerifyEntryResult{
			ID:           e.ID,
			Sequence:     e.Sequence,
			Hash:         e.Hash,
			PrevHash:     e.PrevHash,
			Action:       e.Action,
			ContentValid: true,
			LinkageValid: true,
			Valid:        true,
		}

		if includeDetails {
			v.ComputedHash = e.ComputeHash()
		}
		if !e.VerifyHash() {
			v.ContentValid = false
			v.Valid = false
			v.ViolationType = "content"
			result.ContentInvalid++
			result.Valid = false
			result.Violations = append(result.Violations,
				fmt.Sprintf("CONTENT TAMPERED: entry %s (seq %d) hash does not match its content", e.ID, e.Sequence))
		} else {
			result.ContentValid++
		}

		if i > 0 {
			if e.Hash != expected {
				v.LinkageValid = false
				v.Valid = false
				if v.ViolationType == "content" {
					v.ViolationType = "both"
				} else {
					v.ViolationType = "linkage"
				}
				result.LinkageInvalid++
				result.Valid = false
				result.Violations = append(result.Violations,
					fmt.Sprintf("CHAIN BROKEN: entry %s (seq %d) hash does not match next entry's prev_hash", e.ID, e.Sequence))
			} else {
				result.LinkageValid++
			}
		}

		if includeDetails {
			result.Entries = append(result.Entries, v)
		}
		expected = e.PrevHash
		result.Checked++
	}

	return result
}
