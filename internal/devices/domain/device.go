package devices

import (
	"context"
	"fmt"
	"regexp"
	"time"
)

// Status is the lifecycle state of a physical device.
type Status string

const (
	StatusInventory   Status = "INVENTORY"
	StatusAllocated   Status = "ALLOCATED"
	StatusInUse       Status = "IN_USE"
	StatusMaintenance Status = "MAINTENANCE"
	StatusRecalled    Status = "RECALLED"
	StatusRetired     Status = "RETIRED"
	StatusLost        Status = "LOST"
)

// Device types for the LINK BAND product line.
const (
	TypeLinkBand2 = "LINK_BAND_2.0"
	TypeLinkBand3 = "LINK_BAND_3.0"
)

var deviceIDPattern = regexp.MustCompile(`^LXB-\d{8}-\d{3}$`)

// transitions holds the allowed lifecycle edges. A device never returns to
// INVENTORY once allocated; RETIRED and LOST are terminal.
var transitions = map[Status][]Status{
	StatusInventory:   {StatusAllocated},
	StatusAllocated:   {StatusInUse, StatusRecalled},
	StatusInUse:       {StatusMaintenance, StatusRecalled},
	StatusMaintenance: {StatusInUse, StatusRetired, StatusLost},
	StatusRecalled:    {StatusRetired, StatusLost},
}

// Device represents one physical unit in the device master.
type Device struct {
	ID                  string
	SerialNumber        string
	DeviceType          string
	Status              Status
	CurrentAllocationID string
	BatteryHealth       int
	FirmwareVersion     string
	LastCalibration     time.Time
	NextMaintenanceDate time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Validate checks device invariants.
func (d Device) Validate() error {
	if d.ID == "" {
		return ErrEmptyID
	}
	if !deviceIDPattern.MatchString(d.ID) {
		return fmt.Errorf("%w: %s", ErrInvalidID, d.ID)
	}
	if d.SerialNumber == "" {
		return ErrEmptySerialNumber
	}
	if d.DeviceType != TypeLinkBand2 && d.DeviceType != TypeLinkBand3 {
		return fmt.Errorf("%w: %s", ErrInvalidDeviceType, d.DeviceType)
	}
	if !ValidStatus(d.Status) {
		return fmt.Errorf("%w: %s", ErrInvalidStatus, d.Status)
	}
	if d.BatteryHealth < 0 || d.BatteryHealth > 100 {
		return fmt.Errorf("%w: %d", ErrInvalidBatteryHealth, d.BatteryHealth)
	}
	return nil
}

// ValidStatus reports whether s is a known lifecycle status.
func ValidStatus(s Status) bool {
	switch s {
	case StatusInventory, StatusAllocated, StatusInUse, StatusMaintenance,
		StatusRecalled, StatusRetired, StatusLost:
		return true
	}
	return false
}

// Terminal reports whether s permits no further transitions.
func Terminal(s Status) bool {
	return s == StatusRetired || s == StatusLost
}

// CanTransition reports whether the lifecycle permits from -> to.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition moves the device to a new status, enforcing the lifecycle.
func (d *Device) Transition(to Status) error {
	if !ValidStatus(to) {
		return fmt.Errorf("%w: %s", ErrInvalidStatus, to)
	}
	if !CanTransition(d.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStateTransition, d.Status, to)
	}
	d.Status = to
	return nil
}

// Available reports whether the device can accept a new allocation.
func (d Device) Available() bool {
	return d.Status == StatusInventory
}

// HealthPatch carries field-measured health data. It never touches lifecycle
// fields, so health reports cannot clobber a concurrent allocation.
type HealthPatch struct {
	BatteryHealth   int
	FirmwareVersion string    // empty keeps the current version
	CalibratedAt    time.Time // zero keeps the last calibration
}

// Repository manages device master persistence.
//
// UpdateStatus is a conditional write: the flip only happens while the row
// still holds the expected `from` status, and ErrStatusConflict is returned
// when another writer got there first. This is what serializes the
// one-active-allocation-per-device invariant across concurrent allocators.
type Repository interface {
	Get(ctx context.Context, id string) (*Device, error)
	List(ctx context.Context, filter ListFilter) ([]Device, error)
	Save(ctx context.Context, device *Device) error
	UpdateStatus(ctx context.Context, id string, from, to Status, allocationID string) error
	UpdateHealth(ctx context.Context, id string, patch HealthPatch) error
}

// ListFilter narrows device listings.
type ListFilter struct {
	Status     Status
	DeviceType string
	Limit      int
}
