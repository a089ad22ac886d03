package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aed-compliance/platform/internal/access"
	"github.com/aed-compliance/platform/internal/shared/types"
)

// Status is the review state of an inspection.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSubmitted Status = "submitted"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
)

// ComponentStatus is the checked state of one part of the device.
type ComponentStatus string

const (
	ComponentGood        ComponentStatus = "good"
	ComponentNeedsAction ComponentStatus = "needs_action"
	ComponentMissing     ComponentStatus = "missing"
)

// Result is the overall outcome of an inspection.
type Result string

const (
	ResultPass        Result = "pass"
	ResultFail        Result = "fail"
	ResultNeedsRepair Result = "needs_repair"
)

// MaxPhotos caps the photos attached to one inspection.
const MaxPhotos = 10

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNotEditable       = errors.New("inspection can no longer be edited")
	ErrSelfApproval      = errors.New("inspectors cannot review their own inspection")
	ErrReasonRequired    = errors.New("rejection reason is required")
	ErrInvalidResult     = errors.New("invalid inspection result")
	ErrTooManyPhotos     = errors.New("too many photos")
)

// transitions lists the allowed status changes.
var transitions = map[Status][]Status{
	StatusPending:   {StatusSubmitted},
	StatusSubmitted: {StatusApproved, StatusRejected},
	StatusRejected:  {StatusSubmitted},
}

// CanTransition reports whether from may move to to.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Inspection is one on-site check of an AED.
type Inspection struct {
	ID              types.ID  `json:"id"`
	EquipmentSerial string    `json:"equipment_serial"`
	InspectorID     types.ID  `json:"inspector_id"`
	InspectionDate  time.Time `json:"inspection_date"`
	// RegionCode is the district of the inspected equipment.
	RegionCode string `json:"region_code,omitempty"`
	Status     Status `json:"status"`

	BatteryStatus ComponentStatus `json:"battery_status,omitempty"`
	PadStatus     ComponentStatus `json:"pad_status,omitempty"`
	DeviceStatus  ComponentStatus `json:"device_status,omitempty"`
	OverallResult Result          `json:"overall_result,omitempty"`
	Notes         string          `json:"notes"`
	PhotoKeys     []string        `json:"photo_keys"`

	ApprovedByID    *types.ID  `json:"approved_by_id,omitempty"`
	ApprovedAt      *time.Time `json:"approved_at,omitempty"`
	RejectionReason string     `json:"rejection_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Stored is the row state this copy was read at. Saves only apply
	// while the row still matches it.
	Stored Revision `json:"-"`
}

// Revision identifies one stored state of an inspection.
type Revision struct {
	Status    Status
	UpdatedAt time.Time
}

// Results are the inspector's findings.
type Results struct {
	BatteryStatus ComponentStatus `json:"battery_status"`
	PadStatus     ComponentStatus `json:"pad_status"`
	DeviceStatus  ComponentStatus `json:"device_status"`
	OverallResult Result          `json:"overall_result"`
	Notes         string          `json:"notes"`
}

// Validate checks that every value set belongs to its enum.
func (r Results) Validate() error {
	for _, c := range []ComponentStatus{r.BatteryStatus, r.PadStatus, r.DeviceStatus} {
		switch c {
		case "", ComponentGood, ComponentNeedsAction, ComponentMissing:
		default:
			return fmt.Errorf("%w: component status %q", ErrInvalidResult, c)
		}
	}
	switch r.OverallResult {
	case "", ResultPass, ResultFail, ResultNeedsRepair:
	default:
		return fmt.Errorf("%w: overall result %q", ErrInvalidResult, r.OverallResult)
	}
	return nil
}

// NewInspection starts a pending inspection of an equipment serial.
func NewInspection(serial string, inspectorID types.ID, date time.Time, district string, res Results) (*Inspection, error) {
	if strings.TrimSpace(serial) == "" {
		return nil, fmt.Errorf("equipment serial is required")
	}
	if inspectorID.IsZero() {
		return nil, fmt.Errorf("inspector is required")
	}
	if date.IsZero() {
		return nil, fmt.Errorf("inspection date is required")
	}
	if err := res.Validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	i := &Inspection{
		ID:              types.NewID(),
		EquipmentSerial: serial,
		InspectorID:     inspectorID,
		InspectionDate:  date,
		RegionCode:      district,
		Status:          StatusPending,
		PhotoKeys:       []string{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	i.apply(res)
	return i, nil
}

func (i *Inspection) apply(res Results) {
	i.BatteryStatus = res.BatteryStatus
	i.PadStatus = res.PadStatus
	i.DeviceStatus = res.DeviceStatus
	i.OverallResult = res.OverallResult
	i.Notes = res.Notes
}

// Editable reports whether findings and photos may still change.
func (i *Inspection) Editable() bool {
	return i.Status == StatusPending || i.Status == StatusRejected
}

// Update replaces the findings.
func (i *Inspection) Update(res Results, now time.Time) error {
	if !i.Editable() {
		return ErrNotEditable
	}
	if err := res.Validate(); err != nil {
		return err
	}
	i.apply(res)
	i.UpdatedAt = now
	return nil
}

// Submit hands the inspection in for review. An overall result is required.
func (i *Inspection) Submit(now time.Time) error {
	if !CanTransition(i.Status, StatusSubmitted) {
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, i.Status, StatusSubmitted)
	}
	if i.OverallResult == "" {
		return fmt.Errorf("%w: overall result is required", ErrInvalidResult)
	}
	i.Status = StatusSubmitted
	i.RejectionReason = ""
	i.UpdatedAt = now
	return nil
}

// Approve accepts a submitted inspection. Only master may approve an
// inspection it performed itself.
func (i *Inspection) Approve(reviewerID types.ID, role access.Role, now time.Time) error {
	if err := i.review(reviewerID, role, StatusApproved); err != nil {
		return err
	}
	i.Status = StatusApproved
	i.ApprovedByID = &reviewerID
	i.ApprovedAt = &now
	i.UpdatedAt = now
	return nil
}

// Reject sends a submitted inspection back to its inspector.
func (i *Inspection) Reject(reviewerID types.ID, role access.Role, reason string, now time.Time) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return ErrReasonRequired
	}
	if err := i.review(reviewerID, role, StatusRejected); err != nil {
		return err
	}
	i.Status = StatusRejected
	i.RejectionReason = reason
	i.UpdatedAt = now
	return nil
}

func (i *Inspection) review(reviewerID types.ID, role access.Role, to Status) error {
	if !CanTransition(i.Status, to) {
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, i.Status, to)
	}
	if reviewerID == i.InspectorID && role != access.RoleMaster {
		return ErrSelfApproval
	}
	return nil
}

// AddPhoto attaches an uploaded photo key.
func (i *Inspection) AddPhoto(key string, now time.Time) error {
	if !i.Editable() {
		return ErrNotEditable
	}
	if len(i.PhotoKeys) >= MaxPhotos {
		return ErrTooManyPhotos
	}
	i.PhotoKeys = append(i.PhotoKeys, key)
	i.UpdatedAt = now
	return nil
}
