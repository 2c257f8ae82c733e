package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	allocationsevents "linkband-cloud/internal/allocations/application/events"
	allocations "linkband-cloud/internal/allocations/domain"
	allocationsmem "linkband-cloud/internal/allocations/infrastructure/memory"
	devices "linkband-cloud/internal/devices/domain"
	devicesmem "linkband-cloud/internal/devices/infrastructure/memory"
	organizations "linkband-cloud/internal/organizations/domain"
	organizationsmem "linkband-cloud/internal/organizations/infrastructure/memory"
)

type capturePublisher struct {
	events []any
}

func (p *capturePublisher) Publish(ctx context.Context, event any) error {
	_ = ctx
	p.events = append(p.events, event)
	return nil
}

type allocationFixture struct {
	service   *Service
	devices   *devicesmem.DeviceRepository
	allocs    *allocationsmem.AllocationRepository
	publisher *capturePublisher
	now       time.Time
}

func newAllocationFixture(t *testing.T) *allocationFixture {
	t.Helper()
	deviceRepo := devicesmem.NewDeviceRepository()
	allocationRepo := allocationsmem.NewAllocationRepository()
	orgRepo := organizationsmem.NewOrganizationRepository()
	publisher := &capturePublisher{}
	now := time.Date(2024, time.June, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, orgRepo.Save(context.Background(), &organizations.Organization{
		ID:     "org_A",
		Name:   "Seoul Wellness Center",
		Status: organizations.StatusActive,
	}))

	svc, err := NewService(nil, orgRepo, publisher,
		WithRepositories(deviceRepo, allocationRepo),
		WithClock(func() time.Time { return now }),
	)
	require.NoError(t, err)
	return &allocationFixture{
		service:   svc,
		devices:   deviceRepo,
		allocs:    allocationRepo,
		publisher: publisher,
		now:       now,
	}
}

func (f *allocationFixture) seedDevice(t *testing.T, id string, status devices.Status) {
	t.Helper()
	require.NoError(t, f.devices.Save(context.Background(), &devices.Device{
		ID:           id,
		SerialNumber: "SN-" + id,
		DeviceType:   devices.TypeLinkBand2,
		Status:       status,
	}))
}

func TestAllocateRental(t *testing.T) {
	f := newAllocationFixture(t)
	f.seedDevice(t, "LXB-20240101-001", devices.StatusInventory)

	allocation, err := f.service.Allocate(context.Background(), AllocationRequest{
		DeviceID:           "LXB-20240101-001",
		OrganizationID:     "org_A",
		AllocationType:     "RENTAL",
		RentalPeriodMonths: 3,
		MonthlyFee:         50000,
	})
	require.NoError(t, err)
	assert.Equal(t, allocations.StatusActive, allocation.Status)
	assert.Equal(t, f.now, allocation.RentalStartDate)
	assert.Equal(t, allocations.AddMonths(f.now, 3), allocation.RentalEndDate)

	device, err := f.devices.Get(context.Background(), "LXB-20240101-001")
	require.NoError(t, err)
	assert.Equal(t, devices.StatusAllocated, device.Status)
	assert.Equal(t, allocation.ID, device.CurrentAllocationID)

	require.Len(t, f.publisher.events, 1)
	created, ok := f.publisher.events[0].(allocationsevents.AllocationCreated)
	require.True(t, ok)
	assert.Equal(t, allocation.ID, created.AllocationID)
	assert.Equal(t, "org_A", created.OrganizationID)
	assert.NotEmpty(t, created.EventID)
}

func TestAllocateSaleDefaultsWarranty(t *testing.T) {
	f := newAllocationFixture(t)
	f.seedDevice(t, "LXB-20240101-002", devices.StatusInventory)

	allocation, err := f.service.Allocate(context.Background(), AllocationRequest{
		DeviceID:       "LXB-20240101-002",
		OrganizationID: "org_A",
		AllocationType: "SALE",
		SalePrice:      1200000,
	})
	require.NoError(t, err)
	assert.Equal(t, allocations.DefaultWarrantyMonths, allocation.WarrantyPeriodMonths)
	assert.Equal(t, allocations.AddMonths(f.now, 12), allocation.WarrantyEndDate)
}

func TestAllocateRejectsUnavailableDevice(t *testing.T) {
	f := newAllocationFixture(t)
	f.seedDevice(t, "LXB-20240101-003", devices.StatusMaintenance)

	_, err := f.service.Allocate(context.Background(), AllocationRequest{
		DeviceID:           "LXB-20240101-003",
		OrganizationID:     "org_A",
		AllocationType:     "RENTAL",
		RentalPeriodMonths: 1,
		MonthlyFee:         1000,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, allocations.ErrDeviceNotAvailable))
}

func TestAllocateRejectsAlreadyAllocatedDevice(t *testing.T) {
	f := newAllocationFixture(t)
	f.seedDevice(t, "LXB-20240101-004", devices.StatusInventory)

	first, err := f.service.Allocate(context.Background(), AllocationRequest{
		DeviceID:           "LXB-20240101-004",
		OrganizationID:     "org_A",
		AllocationType:     "RENTAL",
		RentalPeriodMonths: 1,
		MonthlyFee:         1000,
	})
	require.NoError(t, err)
	require.NotNil(t, first)

	_, err = f.service.Allocate(context.Background(), AllocationRequest{
		DeviceID:           "LXB-20240101-004",
		OrganizationID:     "org_A",
		AllocationType:     "SALE",
		SalePrice:          500,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, allocations.ErrDeviceAlreadyAllocated))
}

// staleDeviceReads serves every Get of the tracked device from a fixed
// snapshot, modeling a transaction whose read happened before a concurrent
// allocator committed.
type staleDeviceReads struct {
	*devicesmem.DeviceRepository
	snapshot devices.Device
}

func (r *staleDeviceReads) Get(ctx context.Context, id string) (*devices.Device, error) {
	if id == r.snapshot.ID {
		clone := r.snapshot
		return &clone, nil
	}
	return r.DeviceRepository.Get(ctx, id)
}

func TestAllocateConcurrentClaimSingleWinner(t *testing.T) {
	ctx := context.Background()
	deviceRepo := devicesmem.NewDeviceRepository()
	allocationRepo := allocationsmem.NewAllocationRepository()
	orgRepo := organizationsmem.NewOrganizationRepository()
	require.NoError(t, orgRepo.Save(ctx, &organizations.Organization{
		ID:     "org_A",
		Name:   "Org A",
		Status: organizations.StatusActive,
	}))

	seed := devices.Device{
		ID:           "LXB-20240101-020",
		SerialNumber: "SN-020",
		DeviceType:   devices.TypeLinkBand2,
		Status:       devices.StatusInventory,
	}
	require.NoError(t, deviceRepo.Save(ctx, &seed))

	stale := &staleDeviceReads{DeviceRepository: deviceRepo, snapshot: seed}
	svc, err := NewService(nil, orgRepo, nil, WithRepositories(stale, allocationRepo))
	require.NoError(t, err)

	req := AllocationRequest{
		DeviceID:           "LXB-20240101-020",
		OrganizationID:     "org_A",
		AllocationType:     "RENTAL",
		RentalPeriodMonths: 3,
		MonthlyFee:         1000,
	}
	first, err := svc.Allocate(ctx, req)
	require.NoError(t, err)

	// The second caller still sees INVENTORY; its conditional claim on the
	// device row must lose and no second allocation may be created.
	_, err = svc.Allocate(ctx, req)
	require.Error(t, err)
	assert.True(t, errors.Is(err, allocations.ErrDeviceAlreadyAllocated))

	active, err := allocationRepo.FindActiveByDevice(ctx, "LXB-20240101-020")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, first.ID, active.ID)

	history, err := allocationRepo.ListByDevice(ctx, "LXB-20240101-020")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestAllocateUnknownOrganization(t *testing.T) {
	f := newAllocationFixture(t)
	f.seedDevice(t, "LXB-20240101-005", devices.StatusInventory)

	_, err := f.service.Allocate(context.Background(), AllocationRequest{
		DeviceID:           "LXB-20240101-005",
		OrganizationID:     "org_missing",
		AllocationType:     "RENTAL",
		RentalPeriodMonths: 1,
		MonthlyFee:         1000,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, organizations.ErrNotFound))
}

func TestAllocateRejectsMixedFields(t *testing.T) {
	f := newAllocationFixture(t)

	_, err := f.service.Allocate(context.Background(), AllocationRequest{
		DeviceID:           "LXB-20240101-006",
		OrganizationID:     "org_A",
		AllocationType:     "RENTAL",
		RentalPeriodMonths: 1,
		MonthlyFee:         1000,
		SalePrice:          500,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, allocations.ErrTypeMismatch))
}

func TestAssignUserFlipsDeviceInUse(t *testing.T) {
	f := newAllocationFixture(t)
	f.seedDevice(t, "LXB-20240101-007", devices.StatusInventory)

	allocation, err := f.service.Allocate(context.Background(), AllocationRequest{
		DeviceID:           "LXB-20240101-007",
		OrganizationID:     "org_A",
		AllocationType:     "RENTAL",
		RentalPeriodMonths: 3,
		MonthlyFee:         1000,
	})
	require.NoError(t, err)

	require.NoError(t, f.service.AssignUser(context.Background(), allocation.ID, "user-1", "Kim", "Floor 2"))

	device, err := f.devices.Get(context.Background(), "LXB-20240101-007")
	require.NoError(t, err)
	assert.Equal(t, devices.StatusInUse, device.Status)

	stored, err := f.allocs.Get(context.Background(), allocation.ID)
	require.NoError(t, err)
	assert.Equal(t, "user-1", stored.AssignedUserID)
	assert.Equal(t, "Floor 2", stored.Location)

	// Reassignment keeps the device IN_USE.
	require.NoError(t, f.service.AssignUser(context.Background(), allocation.ID, "user-2", "Lee", ""))
	device, err = f.devices.Get(context.Background(), "LXB-20240101-007")
	require.NoError(t, err)
	assert.Equal(t, devices.StatusInUse, device.Status)
}

func TestAssignUserNotAssignable(t *testing.T) {
	f := newAllocationFixture(t)
	f.seedDevice(t, "LXB-20240101-008", devices.StatusInventory)

	allocation, err := f.service.Allocate(context.Background(), AllocationRequest{
		DeviceID:           "LXB-20240101-008",
		OrganizationID:     "org_A",
		AllocationType:     "RENTAL",
		RentalPeriodMonths: 3,
		MonthlyFee:         1000,
	})
	require.NoError(t, err)
	require.NoError(t, f.service.Terminate(context.Background(), allocation.ID, "contract cancelled"))

	err = f.service.AssignUser(context.Background(), allocation.ID, "user-1", "Kim", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, allocations.ErrNotAssignable))
}

func TestTerminateRecallsDevice(t *testing.T) {
	f := newAllocationFixture(t)
	f.seedDevice(t, "LXB-20240101-009", devices.StatusInventory)

	allocation, err := f.service.Allocate(context.Background(), AllocationRequest{
		DeviceID:           "LXB-20240101-009",
		OrganizationID:     "org_A",
		AllocationType:     "SALE",
		SalePrice:          900000,
	})
	require.NoError(t, err)

	require.NoError(t, f.service.Terminate(context.Background(), allocation.ID, "damaged"))

	stored, err := f.allocs.Get(context.Background(), allocation.ID)
	require.NoError(t, err)
	assert.Equal(t, allocations.StatusTerminated, stored.Status)
	assert.Equal(t, "damaged", stored.TerminationReason)

	device, err := f.devices.Get(context.Background(), "LXB-20240101-009")
	require.NoError(t, err)
	assert.Equal(t, devices.StatusRecalled, device.Status)
	assert.Empty(t, device.CurrentAllocationID)

	err = f.service.Terminate(context.Background(), allocation.ID, "again")
	require.Error(t, err)
	assert.True(t, errors.Is(err, allocations.ErrAlreadyEnded))
}

func TestExpireOverdueRentals(t *testing.T) {
	f := newAllocationFixture(t)
	f.seedDevice(t, "LXB-20240101-010", devices.StatusInventory)
	f.seedDevice(t, "LXB-20240101-011", devices.StatusInventory)

	overdue, err := f.service.Allocate(context.Background(), AllocationRequest{
		DeviceID:           "LXB-20240101-010",
		OrganizationID:     "org_A",
		AllocationType:     "RENTAL",
		RentalStartDate:    f.now.AddDate(0, -6, 0),
		RentalPeriodMonths: 3,
		MonthlyFee:         1000,
	})
	require.NoError(t, err)

	current, err := f.service.Allocate(context.Background(), AllocationRequest{
		DeviceID:           "LXB-20240101-011",
		OrganizationID:     "org_A",
		AllocationType:     "RENTAL",
		RentalPeriodMonths: 3,
		MonthlyFee:         1000,
	})
	require.NoError(t, err)

	count, err := f.service.ExpireOverdue(context.Background(), f.now)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	stored, err := f.allocs.Get(context.Background(), overdue.ID)
	require.NoError(t, err)
	assert.Equal(t, allocations.StatusExpired, stored.Status)

	stored, err = f.allocs.Get(context.Background(), current.ID)
	require.NoError(t, err)
	assert.Equal(t, allocations.StatusActive, stored.Status)
}

func TestReplaceDevice(t *testing.T) {
	f := newAllocationFixture(t)
	f.seedDevice(t, "LXB-20240101-012", devices.StatusInventory)
	f.seedDevice(t, "LXB-20240101-013", devices.StatusInventory)

	original, err := f.service.Allocate(context.Background(), AllocationRequest{
		DeviceID:           "LXB-20240101-012",
		OrganizationID:     "org_A",
		AllocationType:     "RENTAL",
		RentalPeriodMonths: 6,
		MonthlyFee:         2000,
	})
	require.NoError(t, err)

	replacement, err := f.service.Replace(context.Background(), original.ID, "LXB-20240101-013")
	require.NoError(t, err)
	assert.Equal(t, "LXB-20240101-013", replacement.DeviceID)
	assert.Equal(t, allocations.StatusActive, replacement.Status)
	assert.Equal(t, original.RentalEndDate, replacement.RentalEndDate)
	assert.Equal(t, original.MonthlyFee, replacement.MonthlyFee)

	stored, err := f.allocs.Get(context.Background(), original.ID)
	require.NoError(t, err)
	assert.Equal(t, allocations.StatusTerminated, stored.Status)
	assert.Contains(t, stored.TerminationReason, "LXB-20240101-013")

	device, err := f.devices.Get(context.Background(), "LXB-20240101-013")
	require.NoError(t, err)
	assert.Equal(t, devices.StatusAllocated, device.Status)
	assert.Equal(t, replacement.ID, device.CurrentAllocationID)
}

func TestHistoryOrderedOldestFirst(t *testing.T) {
	f := newAllocationFixture(t)
	f.seedDevice(t, "LXB-20240101-014", devices.StatusInventory)

	first, err := f.service.Allocate(context.Background(), AllocationRequest{
		DeviceID:           "LXB-20240101-014",
		OrganizationID:     "org_A",
		AllocationType:     "RENTAL",
		RentalPeriodMonths: 1,
		MonthlyFee:         1000,
	})
	require.NoError(t, err)
	require.NoError(t, f.service.Terminate(context.Background(), first.ID, "early return"))

	// Device comes back from the field before it can be allocated again.
	require.NoError(t, f.devices.UpdateStatus(context.Background(), "LXB-20240101-014", devices.StatusRecalled, devices.StatusInventory, ""))

	second, err := f.service.Allocate(context.Background(), AllocationRequest{
		DeviceID:       "LXB-20240101-014",
		OrganizationID: "org_A",
		AllocationType: "SALE",
		SalePrice:      700000,
	})
	require.NoError(t, err)

	history, err := f.service.History(context.Background(), "LXB-20240101-014")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, first.ID, history[0].ID)
	assert.Equal(t, second.ID, history[1].ID)
}
