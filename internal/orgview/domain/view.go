package orgview

import (
	"context"
	"errors"
	"time"
)

// DeviceView is one denormalized row of an organization's device fleet. It is
// derived from the canonical device, allocation and service request tables and
// replaced wholesale on every sync.
type DeviceView struct {
	OrganizationID string

	DeviceID      string
	SerialNumber  string
	DeviceType    string
	DeviceStatus  string
	BatteryHealth int

	AllocationID     string
	AllocationType   string
	AllocationStatus string
	RentalStartDate  time.Time
	RentalEndDate    time.Time
	MonthlyFee       float64
	SalePrice        float64
	WarrantyEndDate  time.Time

	AssignedUserID   string
	AssignedUserName string
	Location         string

	OpenServiceRequests int

	SyncedAt time.Time
}

// SyncResult summarizes a SyncAll run.
type SyncResult struct {
	SyncedViews int
	Errors      []error
}

// Repository manages the denormalized view rows.
type Repository interface {
	ListByOrganization(ctx context.Context, organizationID string) ([]DeviceView, error)
	ReplaceForOrganization(ctx context.Context, organizationID string, views []DeviceView) error
}

// Sentinel errors.
var (
	ErrSyncFailed        = errors.New("orgview: sync failed")
	ErrDataInconsistency = errors.New("orgview: data inconsistency")
	ErrEmptyOrganization = errors.New("orgview: empty organization id")
)
