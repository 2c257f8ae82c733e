package servicing

import "errors"

// Sentinel errors surfaced by the servicing context.
var (
	ErrNotFound                = errors.New("service request: not found")
	ErrEmptyID                 = errors.New("service request: empty id")
	ErrEmptyDeviceID           = errors.New("service request: empty device id")
	ErrEmptyOrganizationID     = errors.New("service request: empty organization id")
	ErrEmptyAllocationID       = errors.New("service request: empty allocation id")
	ErrInvalidRequestType      = errors.New("service request: invalid request type")
	ErrInvalidIssueCategory    = errors.New("service request: invalid issue category")
	ErrInvalidPriority         = errors.New("service request: invalid priority")
	ErrInvalidStatus           = errors.New("service request: invalid status")
	ErrInvalidStatusTransition = errors.New("service request: invalid status transition")
	ErrNoActiveAllocation      = errors.New("service request: no serviceable allocation for device")
	ErrWarrantyExpired         = errors.New("service request: warranty expired")
	ErrCostNotApprovable       = errors.New("service request: cost approval not accepted in current status")
	ErrAlreadyClosed           = errors.New("service request: already closed")
)
