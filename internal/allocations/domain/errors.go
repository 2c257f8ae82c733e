package allocations

import "errors"

var (
	// ErrNotFound is returned when an allocation cannot be found.
	ErrNotFound = errors.New("allocation: not found")
	// ErrEmptyID is returned when the allocation id is empty.
	ErrEmptyID = errors.New("allocation: empty id")
	// ErrEmptyDeviceID is returned when the device reference is empty.
	ErrEmptyDeviceID = errors.New("allocation: empty device id")
	// ErrEmptyOrganizationID is returned when the organization reference is empty.
	ErrEmptyOrganizationID = errors.New("allocation: empty organization id")
	// ErrInvalidType is returned for an unknown allocation type.
	ErrInvalidType = errors.New("allocation: invalid type")
	// ErrInvalidStatus is returned for an unknown allocation status.
	ErrInvalidStatus = errors.New("allocation: invalid status")
	// ErrTypeMismatch is returned when rental and sale field sets are mixed.
	ErrTypeMismatch = errors.New("allocation: type mismatch")
	// ErrDeviceNotAvailable is returned when the device is not in inventory.
	ErrDeviceNotAvailable = errors.New("allocation: device not available")
	// ErrDeviceAlreadyAllocated is returned when an active allocation already
	// references the device.
	ErrDeviceAlreadyAllocated = errors.New("allocation: device already allocated")
	// ErrAllocationFailed is returned when the allocate transaction cannot
	// complete; no partial writes survive.
	ErrAllocationFailed = errors.New("allocation: allocation failed")
	// ErrNotAssignable is returned when a user assignment is attempted on an
	// allocation that is not active or pending setup.
	ErrNotAssignable = errors.New("allocation: not assignable")
	// ErrAlreadyEnded is returned when terminating or expiring an allocation
	// whose active window is already over.
	ErrAlreadyEnded = errors.New("allocation: already ended")
)
