package servicing

import (
	"context"
	"fmt"
	"time"
)

// RequestType identifies the kind of after-sales service requested.
type RequestType string

// Request types.
const (
	TypeRepair         RequestType = "REPAIR"
	TypeReplacement    RequestType = "REPLACEMENT"
	TypeCalibration    RequestType = "CALIBRATION"
	TypeFirmwareUpdate RequestType = "FIRMWARE_UPDATE"
	TypePreventive     RequestType = "PREVENTIVE"
	TypeReturn         RequestType = "RETURN"
	TypeRefund         RequestType = "REFUND"
)

var requestTypes = map[RequestType]bool{
	TypeRepair:         true,
	TypeReplacement:    true,
	TypeCalibration:    true,
	TypeFirmwareUpdate: true,
	TypePreventive:     true,
	TypeReturn:         true,
	TypeRefund:         true,
}

// IssueCategory classifies the reported problem.
type IssueCategory string

// Issue categories.
const (
	IssueHardware     IssueCategory = "HARDWARE"
	IssueSoftware     IssueCategory = "SOFTWARE"
	IssueConnectivity IssueCategory = "CONNECTIVITY"
	IssueBattery      IssueCategory = "BATTERY"
	IssueSensor       IssueCategory = "SENSOR"
	IssueUserError    IssueCategory = "USER_ERROR"
)

var issueCategories = map[IssueCategory]bool{
	IssueHardware:     true,
	IssueSoftware:     true,
	IssueConnectivity: true,
	IssueBattery:      true,
	IssueSensor:       true,
	IssueUserError:    true,
}

// Priority orders requests for the service desk.
type Priority string

// Priorities.
const (
	PriorityLow      Priority = "LOW"
	PriorityMedium   Priority = "MEDIUM"
	PriorityHigh     Priority = "HIGH"
	PriorityCritical Priority = "CRITICAL"
)

var priorities = map[Priority]bool{
	PriorityLow:      true,
	PriorityMedium:   true,
	PriorityHigh:     true,
	PriorityCritical: true,
}

// Status is the service request lifecycle state.
type Status string

// Statuses.
const (
	StatusPending      Status = "PENDING"
	StatusAcknowledged Status = "ACKNOWLEDGED"
	StatusDiagnosed    Status = "DIAGNOSED"
	StatusInProgress   Status = "IN_PROGRESS"
	StatusWaitingParts Status = "WAITING_PARTS"
	StatusTesting      Status = "TESTING"
	StatusCompleted    Status = "COMPLETED"
	StatusCancelled    Status = "CANCELLED"
	StatusEscalated    Status = "ESCALATED"
)

// CostApproval tracks customer sign-off on estimated cost.
type CostApproval string

// Cost approval states.
const (
	CostPending  CostApproval = "PENDING"
	CostApproved CostApproval = "APPROVED"
	CostRejected CostApproval = "REJECTED"
)

// transitions is the forward-only progression. WAITING_PARTS loops back to
// IN_PROGRESS; CANCELLED is reachable from every non-terminal state and
// ESCALATED branches off the in-flight states.
var transitions = map[Status][]Status{
	StatusPending:      {StatusAcknowledged, StatusCancelled},
	StatusAcknowledged: {StatusDiagnosed, StatusEscalated, StatusCancelled},
	StatusDiagnosed:    {StatusInProgress, StatusEscalated, StatusCancelled},
	StatusInProgress:   {StatusWaitingParts, StatusTesting, StatusCompleted, StatusEscalated, StatusCancelled},
	StatusWaitingParts: {StatusInProgress, StatusEscalated, StatusCancelled},
	StatusTesting:      {StatusCompleted, StatusEscalated, StatusCancelled},
	StatusEscalated:    {StatusInProgress, StatusCancelled},
	StatusCompleted:    {},
	StatusCancelled:    {},
}

// ValidStatus reports whether s is a known status.
func ValidStatus(s Status) bool {
	_, ok := transitions[s]
	return ok
}

// Terminal reports whether no further transitions exist from s.
func Terminal(s Status) bool {
	return s == StatusCompleted || s == StatusCancelled
}

// CanTransition reports whether from -> to is an allowed progression.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// HistoryEntry is one append-only record of a status change.
type HistoryEntry struct {
	Status    Status    `json:"status"`
	Note      string    `json:"note,omitempty"`
	ChangedBy string    `json:"changed_by,omitempty"`
	ChangedAt time.Time `json:"changed_at"`
}

// Request is an after-sales (A/S) service request for an allocated device.
type Request struct {
	ID                string
	DeviceID          string
	OrganizationID    string
	AllocationID      string
	RequestType       RequestType
	IssueCategories   []IssueCategory
	Priority          Priority
	Status            Status
	StatusHistory     []HistoryEntry
	WarrantyEligible  bool
	EstimatedCost     float64
	ActualCost        float64
	CostApproval      CostApproval
	ResolutionSummary string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Validate checks request invariants.
func (r Request) Validate() error {
	if r.ID == "" {
		return ErrEmptyID
	}
	if r.DeviceID == "" {
		return ErrEmptyDeviceID
	}
	if r.OrganizationID == "" {
		return ErrEmptyOrganizationID
	}
	if r.AllocationID == "" {
		return ErrEmptyAllocationID
	}
	if !requestTypes[r.RequestType] {
		return fmt.Errorf("%w: %s", ErrInvalidRequestType, r.RequestType)
	}
	for _, category := range r.IssueCategories {
		if !issueCategories[category] {
			return fmt.Errorf("%w: %s", ErrInvalidIssueCategory, category)
		}
	}
	if !priorities[r.Priority] {
		return fmt.Errorf("%w: %s", ErrInvalidPriority, r.Priority)
	}
	if !ValidStatus(r.Status) {
		return fmt.Errorf("%w: %s", ErrInvalidStatus, r.Status)
	}
	return nil
}

// Transition moves the request to the next status and appends a history
// entry. The history is append-only; entries are never rewritten.
func (r *Request) Transition(to Status, note, changedBy string, at time.Time) error {
	if !ValidStatus(to) {
		return fmt.Errorf("%w: %s", ErrInvalidStatus, to)
	}
	if !CanTransition(r.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, r.Status, to)
	}
	r.Status = to
	r.StatusHistory = append(r.StatusHistory, HistoryEntry{
		Status:    to,
		Note:      note,
		ChangedBy: changedBy,
		ChangedAt: at.UTC(),
	})
	return nil
}

// Open reports whether the request still occupies the service desk.
func (r Request) Open() bool {
	return !Terminal(r.Status)
}

// CostApprovable reports whether cost sign-off is accepted in the current
// status.
func (r Request) CostApprovable() bool {
	return r.Status == StatusDiagnosed || r.Status == StatusWaitingParts
}

// ListFilter narrows request listings.
type ListFilter struct {
	OrganizationID string
	DeviceID       string
	Status         Status
	OpenOnly       bool
	Limit          int
}

// Repository manages service request persistence.
type Repository interface {
	Get(ctx context.Context, id string) (*Request, error)
	List(ctx context.Context, filter ListFilter) ([]Request, error)
	CountOpenByOrganization(ctx context.Context, organizationID string) (map[string]int, error)
	Create(ctx context.Context, request *Request) error
	Update(ctx context.Context, request *Request) error
}
