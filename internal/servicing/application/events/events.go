package events

import "time"

// ServiceRequestCreated is published when a new A/S request is opened.
type ServiceRequestCreated struct {
	EventID        string    `json:"event_id"`
	RequestID      string    `json:"request_id"`
	DeviceID       string    `json:"device_id"`
	OrganizationID string    `json:"organization_id"`
	RequestType    string    `json:"request_type"`
	Priority       string    `json:"priority"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// ServiceRequestStatusChanged is published on every status progression.
type ServiceRequestStatusChanged struct {
	EventID        string    `json:"event_id"`
	RequestID      string    `json:"request_id"`
	DeviceID       string    `json:"device_id"`
	OrganizationID string    `json:"organization_id"`
	FromStatus     string    `json:"from_status"`
	ToStatus       string    `json:"to_status"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// ServiceRequestCompleted is published when a request reaches COMPLETED.
type ServiceRequestCompleted struct {
	EventID             string    `json:"event_id"`
	RequestID           string    `json:"request_id"`
	DeviceID            string    `json:"device_id"`
	OrganizationID      string    `json:"organization_id"`
	ReplacementDeviceID string    `json:"replacement_device_id,omitempty"`
	OccurredAt          time.Time `json:"occurred_at"`
}
