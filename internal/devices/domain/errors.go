package devices

import "errors"

var (
	// ErrNotFound is returned when a device cannot be found.
	ErrNotFound = errors.New("device: not found")
	// ErrEmptyID is returned when the device id is empty.
	ErrEmptyID = errors.New("device: empty id")
	// ErrInvalidID is returned when the id does not match LXB-YYYYMMDD-XXX.
	ErrInvalidID = errors.New("device: invalid id format")
	// ErrEmptySerialNumber is returned when the serial number is empty.
	ErrEmptySerialNumber = errors.New("device: empty serial number")
	// ErrInvalidDeviceType is returned for an unknown device type.
	ErrInvalidDeviceType = errors.New("device: invalid device type")
	// ErrInvalidStatus is returned for an unknown lifecycle status.
	ErrInvalidStatus = errors.New("device: invalid status")
	// ErrInvalidBatteryHealth is returned when battery health is out of range.
	ErrInvalidBatteryHealth = errors.New("device: battery health out of range")
	// ErrInvalidStateTransition is returned when a lifecycle edge is not allowed.
	ErrInvalidStateTransition = errors.New("device: invalid state transition")
	// ErrAlreadyRegistered is returned when registering a duplicate device id.
	ErrAlreadyRegistered = errors.New("device: already registered")
	// ErrStatusConflict is returned when a conditional status flip loses to a
	// concurrent writer.
	ErrStatusConflict = errors.New("device: status changed concurrently")
)
