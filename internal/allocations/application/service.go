package application

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	allocationsevents "linkband-cloud/internal/allocations/application/events"
	allocations "linkband-cloud/internal/allocations/domain"
	allocationsrepo "linkband-cloud/internal/allocations/infrastructure/postgres"
	devices "linkband-cloud/internal/devices/domain"
	devicesrepo "linkband-cloud/internal/devices/infrastructure/postgres"
	"linkband-cloud/internal/eventing"
	"linkband-cloud/internal/observability/metrics"
	organizations "linkband-cloud/internal/organizations/domain"
)

// EventPublisher publishes allocation events to the outbox.
type EventPublisher interface {
	Publish(ctx context.Context, event any) error
}

// AllocationRequest describes a rental or sale to create.
type AllocationRequest struct {
	DeviceID             string    `json:"device_id"`
	OrganizationID       string    `json:"organization_id"`
	AllocationType       string    `json:"allocation_type"`
	RentalStartDate      time.Time `json:"rental_start_date"`
	RentalPeriodMonths   int       `json:"rental_period_months"`
	MonthlyFee           float64   `json:"monthly_fee"`
	SalePrice            float64   `json:"sale_price"`
	WarrantyPeriodMonths int       `json:"warranty_period_months"`
}

// Service manages device allocations. Writes that span the allocation and the
// device master run in a single database transaction.
type Service struct {
	db            *sql.DB
	devices       devices.Repository
	allocations   allocations.Repository
	organizations organizations.Repository
	publisher     EventPublisher
	clock         func() time.Time
}

// Option configures the service.
type Option func(*Service)

// WithRepositories overrides the default Postgres repositories. Intended for
// tests; with a nil db the compound operations run without a transaction.
func WithRepositories(deviceRepo devices.Repository, allocationRepo allocations.Repository) Option {
	return func(s *Service) {
		s.devices = deviceRepo
		s.allocations = allocationRepo
	}
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewService constructs an allocation service.
func NewService(db *sql.DB, orgRepo organizations.Repository, publisher EventPublisher, opts ...Option) (*Service, error) {
	if orgRepo == nil {
		return nil, errors.New("allocations: nil organization repo")
	}
	s := &Service{
		db:            db,
		organizations: orgRepo,
		publisher:     publisher,
		clock:         func() time.Time { return time.Now().UTC() },
	}
	if db != nil {
		s.devices = devicesrepo.NewDeviceRepository(db)
		s.allocations = allocationsrepo.NewAllocationRepository(db)
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.devices == nil || s.allocations == nil {
		return nil, errors.New("allocations: nil repositories")
	}
	return s, nil
}

// inTx runs fn against transaction-scoped repositories when a database is
// available, otherwise against the injected repositories directly.
func (s *Service) inTx(ctx context.Context, fn func(devices.Repository, allocations.Repository) error) error {
	if s.db == nil {
		return fn(s.devices, s.allocations)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	deviceRepo := devicesrepo.NewDeviceRepository(tx)
	allocationRepo := allocationsrepo.NewAllocationRepository(tx)
	if err := fn(deviceRepo, allocationRepo); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Allocate creates a rental or sale allocation and flips the device to
// ALLOCATED. Both writes happen in one transaction; on any failure the device
// keeps its prior status.
func (s *Service) Allocate(ctx context.Context, req AllocationRequest) (*allocations.Allocation, error) {
	allocationType := allocations.Type(req.AllocationType)
	if err := validateAllocationRequest(req, allocationType); err != nil {
		return nil, err
	}

	org, err := s.organizations.Get(ctx, req.OrganizationID)
	if err != nil {
		return nil, err
	}
	if org == nil {
		return nil, fmt.Errorf("%w: %s", organizations.ErrNotFound, req.OrganizationID)
	}

	now := s.clock()
	allocation := &allocations.Allocation{
		ID:             "alloc-" + uuid.NewString(),
		DeviceID:       req.DeviceID,
		OrganizationID: req.OrganizationID,
		Type:           allocationType,
		Status:         allocations.StatusActive,
	}
	switch allocationType {
	case allocations.TypeRental:
		start := req.RentalStartDate
		if start.IsZero() {
			start = now
		}
		allocation.RentalStartDate = start.UTC()
		allocation.RentalPeriodMonths = req.RentalPeriodMonths
		allocation.MonthlyFee = req.MonthlyFee
		allocation.RentalEndDate = allocations.AddMonths(allocation.RentalStartDate, req.RentalPeriodMonths)
	case allocations.TypeSale:
		months := req.WarrantyPeriodMonths
		if months <= 0 {
			months = allocations.DefaultWarrantyMonths
		}
		allocation.SalePrice = req.SalePrice
		allocation.WarrantyPeriodMonths = months
		allocation.WarrantyEndDate = allocations.AddMonths(now, months)
	}

	err = s.inTx(ctx, func(deviceRepo devices.Repository, allocationRepo allocations.Repository) error {
		// Re-read authoritative state inside the transaction; cached or stale
		// reads must never gate a mutation.
		device, err := deviceRepo.Get(ctx, req.DeviceID)
		if err != nil {
			return err
		}
		if device == nil {
			return fmt.Errorf("%w: %s", devices.ErrNotFound, req.DeviceID)
		}
		if !device.Available() {
			existing, err := allocationRepo.FindActiveByDevice(ctx, req.DeviceID)
			if err != nil {
				return err
			}
			if existing != nil {
				return fmt.Errorf("%w: %s held by %s", allocations.ErrDeviceAlreadyAllocated, req.DeviceID, existing.ID)
			}
			return fmt.Errorf("%w: %s is %s", allocations.ErrDeviceNotAvailable, req.DeviceID, device.Status)
		}
		// Claim the device before inserting the allocation. The flip is
		// conditional on the row still being INVENTORY, so of two racing
		// allocators exactly one wins and the other aborts here.
		if err := deviceRepo.UpdateStatus(ctx, device.ID, devices.StatusInventory, devices.StatusAllocated, allocation.ID); err != nil {
			if errors.Is(err, devices.ErrStatusConflict) {
				return fmt.Errorf("%w: %s", allocations.ErrDeviceAlreadyAllocated, req.DeviceID)
			}
			return fmt.Errorf("%w: %v", allocations.ErrAllocationFailed, err)
		}
		if err := allocationRepo.Create(ctx, allocation); err != nil {
			return fmt.Errorf("%w: %v", allocations.ErrAllocationFailed, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.IncAllocationCreated(string(allocationType))

	if err := s.publish(ctx, allocationsevents.AllocationCreated{
		AllocationID:   allocation.ID,
		DeviceID:       allocation.DeviceID,
		OrganizationID: allocation.OrganizationID,
		AllocationType: string(allocation.Type),
	}); err != nil {
		return nil, err
	}
	return allocation, nil
}

// AssignUser records an end-user assignment on the allocation. The first
// assignment moves the device from ALLOCATED to IN_USE.
func (s *Service) AssignUser(ctx context.Context, allocationID, userID, userName, location string) error {
	if allocationID == "" {
		return allocations.ErrEmptyID
	}
	if userID == "" {
		return errors.New("allocations: user id required")
	}

	var assigned *allocations.Allocation
	err := s.inTx(ctx, func(deviceRepo devices.Repository, allocationRepo allocations.Repository) error {
		allocation, err := allocationRepo.Get(ctx, allocationID)
		if err != nil {
			return err
		}
		if allocation == nil {
			return fmt.Errorf("%w: %s", allocations.ErrNotFound, allocationID)
		}
		if !allocation.Assignable() {
			return fmt.Errorf("%w: status %s", allocations.ErrNotAssignable, allocation.Status)
		}
		firstAssignment := allocation.AssignedUserID == ""
		allocation.AssignedUserID = userID
		allocation.AssignedUserName = userName
		if location != "" {
			allocation.Location = location
		}
		if err := allocationRepo.Update(ctx, allocation); err != nil {
			return err
		}
		if firstAssignment {
			device, err := deviceRepo.Get(ctx, allocation.DeviceID)
			if err != nil {
				return err
			}
			if device == nil {
				return fmt.Errorf("%w: %s", devices.ErrNotFound, allocation.DeviceID)
			}
			if device.Status == devices.StatusAllocated {
				if err := deviceRepo.UpdateStatus(ctx, device.ID, devices.StatusAllocated, devices.StatusInUse, allocation.ID); err != nil {
					return err
				}
			}
		}
		assigned = allocation
		return nil
	})
	if err != nil {
		return err
	}

	return s.publish(ctx, allocationsevents.UserAssigned{
		AllocationID:   assigned.ID,
		DeviceID:       assigned.DeviceID,
		OrganizationID: assigned.OrganizationID,
		UserID:         userID,
	})
}

// Terminate ends an allocation before term and recalls the device.
func (s *Service) Terminate(ctx context.Context, allocationID, reason string) error {
	if allocationID == "" {
		return allocations.ErrEmptyID
	}

	var terminated *allocations.Allocation
	err := s.inTx(ctx, func(deviceRepo devices.Repository, allocationRepo allocations.Repository) error {
		allocation, err := allocationRepo.Get(ctx, allocationID)
		if err != nil {
			return err
		}
		if allocation == nil {
			return fmt.Errorf("%w: %s", allocations.ErrNotFound, allocationID)
		}
		if allocations.Ended(allocation.Status) {
			return fmt.Errorf("%w: status %s", allocations.ErrAlreadyEnded, allocation.Status)
		}
		allocation.Status = allocations.StatusTerminated
		allocation.TerminationReason = reason
		if err := allocationRepo.Update(ctx, allocation); err != nil {
			return err
		}

		device, err := deviceRepo.Get(ctx, allocation.DeviceID)
		if err != nil {
			return err
		}
		if device == nil {
			return fmt.Errorf("%w: %s", devices.ErrNotFound, allocation.DeviceID)
		}
		prior := device.Status
		if err := device.Transition(devices.StatusRecalled); err != nil {
			return err
		}
		if err := deviceRepo.UpdateStatus(ctx, device.ID, prior, devices.StatusRecalled, ""); err != nil {
			return err
		}
		terminated = allocation
		return nil
	})
	if err != nil {
		return err
	}
	metrics.IncAllocationEnded("terminated")

	return s.publish(ctx, allocationsevents.AllocationTerminated{
		AllocationID:   terminated.ID,
		DeviceID:       terminated.DeviceID,
		OrganizationID: terminated.OrganizationID,
		Reason:         reason,
	})
}

// Expire marks a single overdue rental as EXPIRED. The device remains with the
// organization until a return is processed.
func (s *Service) Expire(ctx context.Context, allocationID string) error {
	allocation, err := s.allocations.Get(ctx, allocationID)
	if err != nil {
		return err
	}
	if allocation == nil {
		return fmt.Errorf("%w: %s", allocations.ErrNotFound, allocationID)
	}
	if allocation.Type != allocations.TypeRental {
		return fmt.Errorf("%w: not a rental", allocations.ErrTypeMismatch)
	}
	if allocations.Ended(allocation.Status) {
		return fmt.Errorf("%w: status %s", allocations.ErrAlreadyEnded, allocation.Status)
	}
	if !allocation.RentalEndDate.Before(s.clock()) {
		return errors.New("allocations: rental not yet due")
	}
	allocation.Status = allocations.StatusExpired
	if err := s.allocations.Update(ctx, allocation); err != nil {
		return err
	}
	metrics.IncAllocationEnded("expired")

	return s.publish(ctx, allocationsevents.AllocationExpired{
		AllocationID:   allocation.ID,
		DeviceID:       allocation.DeviceID,
		OrganizationID: allocation.OrganizationID,
	})
}

// ExpireOverdue expires every ACTIVE rental past its end date and returns the
// number of allocations flipped. Used by the background sweeper.
func (s *Service) ExpireOverdue(ctx context.Context, now time.Time) (int, error) {
	overdue, err := s.allocations.ListOverdueRentals(ctx, now)
	if err != nil {
		return 0, err
	}
	count := 0
	var firstErr error
	for i := range overdue {
		if err := s.Expire(ctx, overdue[i].ID); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		count++
	}
	return count, firstErr
}

// Replace terminates an allocation and binds a replacement device to the same
// organization under the same contract terms. Used when a service request
// completes with a replacement unit. Both steps run in one transaction; on
// failure neither survives.
func (s *Service) Replace(ctx context.Context, allocationID, replacementDeviceID string) (*allocations.Allocation, error) {
	if allocationID == "" {
		return nil, allocations.ErrEmptyID
	}
	if replacementDeviceID == "" {
		return nil, allocations.ErrEmptyDeviceID
	}

	var old, replacement *allocations.Allocation
	err := s.inTx(ctx, func(deviceRepo devices.Repository, allocationRepo allocations.Repository) error {
		allocation, err := allocationRepo.Get(ctx, allocationID)
		if err != nil {
			return err
		}
		if allocation == nil {
			return fmt.Errorf("%w: %s", allocations.ErrNotFound, allocationID)
		}
		if allocations.Ended(allocation.Status) {
			return fmt.Errorf("%w: status %s", allocations.ErrAlreadyEnded, allocation.Status)
		}

		device, err := deviceRepo.Get(ctx, replacementDeviceID)
		if err != nil {
			return err
		}
		if device == nil {
			return fmt.Errorf("%w: %s", devices.ErrNotFound, replacementDeviceID)
		}
		if !device.Available() {
			return fmt.Errorf("%w: %s is %s", allocations.ErrDeviceNotAvailable, replacementDeviceID, device.Status)
		}

		allocation.Status = allocations.StatusTerminated
		allocation.TerminationReason = "replaced by " + replacementDeviceID
		if err := allocationRepo.Update(ctx, allocation); err != nil {
			return err
		}

		next := *allocation
		next.ID = "alloc-" + uuid.NewString()
		next.DeviceID = replacementDeviceID
		next.Status = allocations.StatusActive
		next.TerminationReason = ""
		next.CreatedAt = time.Time{}
		next.UpdatedAt = time.Time{}
		if err := deviceRepo.UpdateStatus(ctx, replacementDeviceID, devices.StatusInventory, devices.StatusAllocated, next.ID); err != nil {
			if errors.Is(err, devices.ErrStatusConflict) {
				return fmt.Errorf("%w: %s", allocations.ErrDeviceAlreadyAllocated, replacementDeviceID)
			}
			return fmt.Errorf("%w: %v", allocations.ErrAllocationFailed, err)
		}
		if err := allocationRepo.Create(ctx, &next); err != nil {
			return fmt.Errorf("%w: %v", allocations.ErrAllocationFailed, err)
		}
		old = allocation
		replacement = &next
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.IncAllocationCreated(string(replacement.Type))
	metrics.IncAllocationEnded("replaced")

	if err := s.publish(ctx, allocationsevents.AllocationTerminated{
		AllocationID:   old.ID,
		DeviceID:       old.DeviceID,
		OrganizationID: old.OrganizationID,
		Reason:         old.TerminationReason,
	}); err != nil {
		return nil, err
	}
	if err := s.publish(ctx, allocationsevents.AllocationCreated{
		AllocationID:   replacement.ID,
		DeviceID:       replacement.DeviceID,
		OrganizationID: replacement.OrganizationID,
		AllocationType: string(replacement.Type),
	}); err != nil {
		return nil, err
	}
	return replacement, nil
}

// Get loads an allocation, returning ErrNotFound when missing.
func (s *Service) Get(ctx context.Context, allocationID string) (*allocations.Allocation, error) {
	allocation, err := s.allocations.Get(ctx, allocationID)
	if err != nil {
		return nil, err
	}
	if allocation == nil {
		return nil, fmt.Errorf("%w: %s", allocations.ErrNotFound, allocationID)
	}
	return allocation, nil
}

// History returns the allocation history for a device, oldest first.
func (s *Service) History(ctx context.Context, deviceID string) ([]allocations.Allocation, error) {
	if deviceID == "" {
		return nil, allocations.ErrEmptyDeviceID
	}
	return s.allocations.ListByDevice(ctx, deviceID)
}

func (s *Service) publish(ctx context.Context, event any) error {
	if s.publisher == nil {
		return nil
	}
	eventID := eventing.NewEventID()
	switch typed := event.(type) {
	case allocationsevents.AllocationCreated:
		typed.EventID = eventID
		typed.OccurredAt = s.clock()
		event = typed
	case allocationsevents.UserAssigned:
		typed.EventID = eventID
		typed.OccurredAt = s.clock()
		event = typed
	case allocationsevents.AllocationTerminated:
		typed.EventID = eventID
		typed.OccurredAt = s.clock()
		event = typed
	case allocationsevents.AllocationExpired:
		typed.EventID = eventID
		typed.OccurredAt = s.clock()
		event = typed
	}
	ctx = eventing.WithEventID(ctx, eventID)
	return s.publisher.Publish(ctx, event)
}

func validateAllocationRequest(req AllocationRequest, allocationType allocations.Type) error {
	if req.DeviceID == "" {
		return allocations.ErrEmptyDeviceID
	}
	if req.OrganizationID == "" {
		return allocations.ErrEmptyOrganizationID
	}
	switch allocationType {
	case allocations.TypeRental:
		if req.RentalPeriodMonths <= 0 {
			return fmt.Errorf("%w: rental_period_months required", allocations.ErrTypeMismatch)
		}
		if req.MonthlyFee <= 0 {
			return fmt.Errorf("%w: monthly_fee required", allocations.ErrTypeMismatch)
		}
		if req.SalePrice != 0 {
			return fmt.Errorf("%w: sale_price set on rental", allocations.ErrTypeMismatch)
		}
	case allocations.TypeSale:
		if req.SalePrice <= 0 {
			return fmt.Errorf("%w: sale_price required", allocations.ErrTypeMismatch)
		}
		if req.RentalPeriodMonths != 0 || req.MonthlyFee != 0 {
			return fmt.Errorf("%w: rental fields set on sale", allocations.ErrTypeMismatch)
		}
	default:
		return fmt.Errorf("%w: %s", allocations.ErrInvalidType, req.AllocationType)
	}
	return nil
}
