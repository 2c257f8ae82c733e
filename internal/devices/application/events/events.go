package events

import "time"

// DeviceHealthUpdated is published when battery or calibration data changes
// for a device that is currently allocated to an organization.
type DeviceHealthUpdated struct {
	EventID        string    `json:"event_id"`
	DeviceID       string    `json:"device_id"`
	OrganizationID string    `json:"organization_id"`
	BatteryHealth  int       `json:"battery_health"`
	OccurredAt     time.Time `json:"occurred_at"`
}
