package events

import "time"

// AllocationCreated is published when a device is allocated to an organization.
type AllocationCreated struct {
	EventID        string    `json:"event_id"`
	AllocationID   string    `json:"allocation_id"`
	DeviceID       string    `json:"device_id"`
	OrganizationID string    `json:"organization_id"`
	AllocationType string    `json:"allocation_type"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// UserAssigned is published when an end user is assigned to an allocation.
type UserAssigned struct {
	EventID        string    `json:"event_id"`
	AllocationID   string    `json:"allocation_id"`
	DeviceID       string    `json:"device_id"`
	OrganizationID string    `json:"organization_id"`
	UserID         string    `json:"user_id"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// AllocationTerminated is published when an allocation is ended early.
type AllocationTerminated struct {
	EventID        string    `json:"event_id"`
	AllocationID   string    `json:"allocation_id"`
	DeviceID       string    `json:"device_id"`
	OrganizationID string    `json:"organization_id"`
	Reason         string    `json:"reason"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// AllocationExpired is published when a rental passes its end date.
type AllocationExpired struct {
	EventID        string    `json:"event_id"`
	AllocationID   string    `json:"allocation_id"`
	DeviceID       string    `json:"device_id"`
	OrganizationID string    `json:"organization_id"`
	OccurredAt     time.Time `json:"occurred_at"`
}
