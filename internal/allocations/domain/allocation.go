package allocations

import (
	"context"
	"fmt"
	"time"
)

// Type distinguishes rental contracts from sales.
type Type string

const (
	TypeRental Type = "RENTAL"
	TypeSale   Type = "SALE"
)

// Status is the contract state of an allocation.
type Status string

const (
	StatusActive       Status = "ACTIVE"
	StatusPendingSetup Status = "PENDING_SETUP"
	StatusSuspended    Status = "SUSPENDED"
	StatusExpired      Status = "EXPIRED"
	StatusTerminated   Status = "TERMINATED"
)

// DefaultWarrantyMonths applies to sales without an explicit warranty period.
const DefaultWarrantyMonths = 12

// Allocation binds one device to one organization as a rental or sale.
type Allocation struct {
	ID             string
	DeviceID       string
	OrganizationID string
	Type           Type
	Status         Status

	// Rental fields, set iff Type == RENTAL.
	RentalStartDate    time.Time
	RentalPeriodMonths int
	MonthlyFee         float64
	RentalEndDate      time.Time

	// Sale fields, set iff Type == SALE.
	SalePrice            float64
	WarrantyPeriodMonths int
	WarrantyEndDate      time.Time

	// Sub-assignment to an end user inside the organization.
	AssignedUserID   string
	AssignedUserName string
	Location         string

	TerminationReason string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Validate checks allocation invariants, including the mutually exclusive
// rental/sale field sets.
func (a Allocation) Validate() error {
	if a.ID == "" {
		return ErrEmptyID
	}
	if a.DeviceID == "" {
		return ErrEmptyDeviceID
	}
	if a.OrganizationID == "" {
		return ErrEmptyOrganizationID
	}
	if !ValidStatus(a.Status) {
		return fmt.Errorf("%w: %s", ErrInvalidStatus, a.Status)
	}
	switch a.Type {
	case TypeRental:
		if a.RentalPeriodMonths <= 0 {
			return fmt.Errorf("%w: rental period required", ErrTypeMismatch)
		}
		if a.MonthlyFee <= 0 {
			return fmt.Errorf("%w: monthly fee required", ErrTypeMismatch)
		}
		if a.RentalEndDate.IsZero() {
			return fmt.Errorf("%w: rental end date required", ErrTypeMismatch)
		}
		if a.SalePrice != 0 || !a.WarrantyEndDate.IsZero() {
			return fmt.Errorf("%w: sale fields set on rental", ErrTypeMismatch)
		}
	case TypeSale:
		if a.SalePrice <= 0 {
			return fmt.Errorf("%w: sale price required", ErrTypeMismatch)
		}
		if a.WarrantyEndDate.IsZero() {
			return fmt.Errorf("%w: warranty end date required", ErrTypeMismatch)
		}
		if a.RentalPeriodMonths != 0 || a.MonthlyFee != 0 || !a.RentalEndDate.IsZero() {
			return fmt.Errorf("%w: rental fields set on sale", ErrTypeMismatch)
		}
	default:
		return fmt.Errorf("%w: %s", ErrInvalidType, a.Type)
	}
	return nil
}

// ValidStatus reports whether s is a known allocation status.
func ValidStatus(s Status) bool {
	switch s {
	case StatusActive, StatusPendingSetup, StatusSuspended, StatusExpired, StatusTerminated:
		return true
	}
	return false
}

// Ended reports whether the allocation's active window is over.
func Ended(s Status) bool {
	return s == StatusExpired || s == StatusTerminated
}

// Assignable reports whether an end-user assignment may be recorded.
func (a Allocation) Assignable() bool {
	return a.Status == StatusActive || a.Status == StatusPendingSetup
}

// WarrantyCutoff returns the date that bounds warranty-covered service:
// the warranty end for sales, the rental end for rentals.
func (a Allocation) WarrantyCutoff() time.Time {
	if a.Type == TypeSale {
		return a.WarrantyEndDate
	}
	return a.RentalEndDate
}

// AddMonths advances t by the given number of calendar months.
func AddMonths(t time.Time, months int) time.Time {
	return t.AddDate(0, months, 0)
}

// Repository manages allocation persistence. Historical allocations for a
// device double as the device's allocation history.
type Repository interface {
	Get(ctx context.Context, id string) (*Allocation, error)
	FindActiveByDevice(ctx context.Context, deviceID string) (*Allocation, error)
	ListByDevice(ctx context.Context, deviceID string) ([]Allocation, error)
	ListByOrganization(ctx context.Context, organizationID string, includeEnded bool) ([]Allocation, error)
	ListOverdueRentals(ctx context.Context, now time.Time) ([]Allocation, error)
	Create(ctx context.Context, allocation *Allocation) error
	Update(ctx context.Context, allocation *Allocation) error
}
