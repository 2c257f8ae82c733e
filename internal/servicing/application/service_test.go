package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	allocations "linkband-cloud/internal/allocations/domain"
	allocationsmem "linkband-cloud/internal/allocations/infrastructure/memory"
	devices "linkband-cloud/internal/devices/domain"
	devicesmem "linkband-cloud/internal/devices/infrastructure/memory"
	servicingevents "linkband-cloud/internal/servicing/application/events"
	servicing "linkband-cloud/internal/servicing/domain"
	servicingmem "linkband-cloud/internal/servicing/infrastructure/memory"
)

type capturePublisher struct {
	events []any
}

func (p *capturePublisher) Publish(ctx context.Context, event any) error {
	_ = ctx
	p.events = append(p.events, event)
	return nil
}

type stubReplacer struct {
	calls []string
	err   error
}

func (r *stubReplacer) Replace(ctx context.Context, allocationID, replacementDeviceID string) (*allocations.Allocation, error) {
	_ = ctx
	r.calls = append(r.calls, allocationID+"->"+replacementDeviceID)
	if r.err != nil {
		return nil, r.err
	}
	return &allocations.Allocation{ID: "alloc-replacement", DeviceID: replacementDeviceID}, nil
}

type servicingFixture struct {
	service   *Service
	requests  *servicingmem.RequestRepository
	devices   *devicesmem.DeviceRepository
	allocs    *allocationsmem.AllocationRepository
	replacer  *stubReplacer
	publisher *capturePublisher
	now       time.Time
}

func newServicingFixture(t *testing.T) *servicingFixture {
	t.Helper()
	requestRepo := servicingmem.NewRequestRepository()
	deviceRepo := devicesmem.NewDeviceRepository()
	allocationRepo := allocationsmem.NewAllocationRepository()
	replacer := &stubReplacer{}
	publisher := &capturePublisher{}
	now := time.Date(2024, time.June, 1, 12, 0, 0, 0, time.UTC)

	svc, err := NewService(nil, allocationRepo, replacer, publisher,
		WithRepositories(requestRepo, deviceRepo),
		WithClock(func() time.Time { return now }),
	)
	require.NoError(t, err)
	return &servicingFixture{
		service:   svc,
		requests:  requestRepo,
		devices:   deviceRepo,
		allocs:    allocationRepo,
		replacer:  replacer,
		publisher: publisher,
		now:       now,
	}
}

func (f *servicingFixture) seedAllocatedDevice(t *testing.T, deviceID string, warrantyEnd time.Time) *allocations.Allocation {
	t.Helper()
	ctx := context.Background()
	allocation := &allocations.Allocation{
		ID:                   "alloc-" + deviceID,
		DeviceID:             deviceID,
		OrganizationID:       "org_A",
		Type:                 allocations.TypeSale,
		Status:               allocations.StatusActive,
		SalePrice:            1000000,
		WarrantyPeriodMonths: 12,
		WarrantyEndDate:      warrantyEnd,
	}
	require.NoError(t, f.allocs.Create(ctx, allocation))
	require.NoError(t, f.devices.Save(ctx, &devices.Device{
		ID:                  deviceID,
		SerialNumber:        "SN-" + deviceID,
		DeviceType:          devices.TypeLinkBand2,
		Status:              devices.StatusInUse,
		CurrentAllocationID: allocation.ID,
	}))
	return allocation
}

func TestCreateComputesWarrantyEligibility(t *testing.T) {
	f := newServicingFixture(t)
	f.seedAllocatedDevice(t, "LXB-20240101-001", f.now.AddDate(0, 6, 0))

	request, err := f.service.Create(context.Background(), CreateRequest{
		DeviceID:        "LXB-20240101-001",
		OrganizationID:  "org_A",
		RequestType:     "REPAIR",
		IssueCategories: []string{"HARDWARE"},
		Priority:        "HIGH",
		Note:            "device will not power on",
	})
	require.NoError(t, err)
	assert.Equal(t, servicing.StatusPending, request.Status)
	assert.True(t, request.WarrantyEligible)
	require.Len(t, request.StatusHistory, 1)
	assert.Equal(t, servicing.StatusPending, request.StatusHistory[0].Status)

	require.Len(t, f.publisher.events, 1)
	created, ok := f.publisher.events[0].(servicingevents.ServiceRequestCreated)
	require.True(t, ok)
	assert.Equal(t, request.ID, created.RequestID)
}

func TestCreateOutOfWarranty(t *testing.T) {
	f := newServicingFixture(t)
	f.seedAllocatedDevice(t, "LXB-20240101-002", f.now.AddDate(0, -1, 0))

	request, err := f.service.Create(context.Background(), CreateRequest{
		DeviceID:       "LXB-20240101-002",
		OrganizationID: "org_A",
		RequestType:    "REPAIR",
		Priority:       "MEDIUM",
	})
	require.NoError(t, err)
	assert.False(t, request.WarrantyEligible)
}

func TestCreateRequiresServiceableAllocation(t *testing.T) {
	f := newServicingFixture(t)

	_, err := f.service.Create(context.Background(), CreateRequest{
		DeviceID:       "LXB-20240101-003",
		OrganizationID: "org_A",
		RequestType:    "REPAIR",
		Priority:       "LOW",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, servicing.ErrNoActiveAllocation))
}

func TestCreateRejectsForeignOrganization(t *testing.T) {
	f := newServicingFixture(t)
	f.seedAllocatedDevice(t, "LXB-20240101-004", f.now.AddDate(0, 6, 0))

	_, err := f.service.Create(context.Background(), CreateRequest{
		DeviceID:       "LXB-20240101-004",
		OrganizationID: "org_B",
		RequestType:    "REPAIR",
		Priority:       "LOW",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, servicing.ErrNoActiveAllocation))
}

func TestCreateAcceptsRecentlyTerminatedAllocation(t *testing.T) {
	f := newServicingFixture(t)
	allocation := f.seedAllocatedDevice(t, "LXB-20240101-005", f.now.AddDate(0, 6, 0))
	allocation.Status = allocations.StatusTerminated
	allocation.TerminationReason = "returned"
	require.NoError(t, f.allocs.Update(context.Background(), allocation))

	request, err := f.service.Create(context.Background(), CreateRequest{
		DeviceID:       "LXB-20240101-005",
		OrganizationID: "org_A",
		RequestType:    "REFUND",
		Priority:       "MEDIUM",
	})
	require.NoError(t, err)
	assert.Equal(t, allocation.ID, request.AllocationID)
}

func progressTo(t *testing.T, f *servicingFixture, requestID string, path ...servicing.Status) {
	t.Helper()
	for _, status := range path {
		_, err := f.service.UpdateStatus(context.Background(), requestID, StatusUpdate{Status: string(status), Actor: "tech-1"})
		require.NoError(t, err, "to %s", status)
	}
}

func TestRepairInProgressFlipsDeviceToMaintenance(t *testing.T) {
	f := newServicingFixture(t)
	f.seedAllocatedDevice(t, "LXB-20240101-006", f.now.AddDate(0, 6, 0))

	request, err := f.service.Create(context.Background(), CreateRequest{
		DeviceID:       "LXB-20240101-006",
		OrganizationID: "org_A",
		RequestType:    "REPAIR",
		Priority:       "HIGH",
	})
	require.NoError(t, err)

	progressTo(t, f, request.ID, servicing.StatusAcknowledged, servicing.StatusDiagnosed, servicing.StatusInProgress)

	device, err := f.devices.Get(context.Background(), "LXB-20240101-006")
	require.NoError(t, err)
	assert.Equal(t, devices.StatusMaintenance, device.Status)
}

func TestFirmwareUpdateDoesNotFlipDevice(t *testing.T) {
	f := newServicingFixture(t)
	f.seedAllocatedDevice(t, "LXB-20240101-007", f.now.AddDate(0, 6, 0))

	request, err := f.service.Create(context.Background(), CreateRequest{
		DeviceID:       "LXB-20240101-007",
		OrganizationID: "org_A",
		RequestType:    "FIRMWARE_UPDATE",
		Priority:       "LOW",
	})
	require.NoError(t, err)

	progressTo(t, f, request.ID, servicing.StatusAcknowledged, servicing.StatusDiagnosed, servicing.StatusInProgress)

	device, err := f.devices.Get(context.Background(), "LXB-20240101-007")
	require.NoError(t, err)
	assert.Equal(t, devices.StatusInUse, device.Status)
}

func TestUpdateStatusRejectsInvalidProgression(t *testing.T) {
	f := newServicingFixture(t)
	f.seedAllocatedDevice(t, "LXB-20240101-008", f.now.AddDate(0, 6, 0))

	request, err := f.service.Create(context.Background(), CreateRequest{
		DeviceID:       "LXB-20240101-008",
		OrganizationID: "org_A",
		RequestType:    "REPAIR",
		Priority:       "LOW",
	})
	require.NoError(t, err)

	_, err = f.service.UpdateStatus(context.Background(), request.ID, StatusUpdate{Status: "TESTING"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, servicing.ErrInvalidStatusTransition))

	_, err = f.service.UpdateStatus(context.Background(), request.ID, StatusUpdate{Status: "COMPLETED"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, servicing.ErrInvalidStatusTransition))

	stored, err := f.requests.Get(context.Background(), request.ID)
	require.NoError(t, err)
	assert.Equal(t, servicing.StatusPending, stored.Status)
	require.Len(t, stored.StatusHistory, 1)
}

func TestApproveCostOnlyWhileDiagnosed(t *testing.T) {
	f := newServicingFixture(t)
	f.seedAllocatedDevice(t, "LXB-20240101-009", f.now.AddDate(0, 6, 0))

	request, err := f.service.Create(context.Background(), CreateRequest{
		DeviceID:       "LXB-20240101-009",
		OrganizationID: "org_A",
		RequestType:    "REPAIR",
		Priority:       "MEDIUM",
	})
	require.NoError(t, err)

	_, err = f.service.ApproveCost(context.Background(), request.ID, true)
	require.Error(t, err)
	assert.True(t, errors.Is(err, servicing.ErrCostNotApprovable))

	progressTo(t, f, request.ID, servicing.StatusAcknowledged)
	_, err = f.service.UpdateStatus(context.Background(), request.ID, StatusUpdate{Status: "DIAGNOSED", EstimatedCost: 85000})
	require.NoError(t, err)

	approved, err := f.service.ApproveCost(context.Background(), request.ID, true)
	require.NoError(t, err)
	assert.Equal(t, servicing.CostApproved, approved.CostApproval)
	assert.Equal(t, 85000.0, approved.EstimatedCost)
}

func TestCompleteReturnsDeviceToUse(t *testing.T) {
	f := newServicingFixture(t)
	f.seedAllocatedDevice(t, "LXB-20240101-010", f.now.AddDate(0, 6, 0))

	request, err := f.service.Create(context.Background(), CreateRequest{
		DeviceID:       "LXB-20240101-010",
		OrganizationID: "org_A",
		RequestType:    "REPAIR",
		Priority:       "HIGH",
	})
	require.NoError(t, err)
	progressTo(t, f, request.ID,
		servicing.StatusAcknowledged, servicing.StatusDiagnosed,
		servicing.StatusInProgress, servicing.StatusTesting)

	completed, err := f.service.Complete(context.Background(), request.ID, "sensor module replaced", "", 42000)
	require.NoError(t, err)
	assert.Equal(t, servicing.StatusCompleted, completed.Status)
	assert.Equal(t, "sensor module replaced", completed.ResolutionSummary)
	assert.Equal(t, 42000.0, completed.ActualCost)

	device, err := f.devices.Get(context.Background(), "LXB-20240101-010")
	require.NoError(t, err)
	assert.Equal(t, devices.StatusInUse, device.Status)
	assert.Empty(t, f.replacer.calls)
}

func TestCompleteWithReplacement(t *testing.T) {
	f := newServicingFixture(t)
	allocation := f.seedAllocatedDevice(t, "LXB-20240101-011", f.now.AddDate(0, 6, 0))

	request, err := f.service.Create(context.Background(), CreateRequest{
		DeviceID:       "LXB-20240101-011",
		OrganizationID: "org_A",
		RequestType:    "REPLACEMENT",
		Priority:       "HIGH",
	})
	require.NoError(t, err)
	progressTo(t, f, request.ID, servicing.StatusAcknowledged, servicing.StatusDiagnosed, servicing.StatusInProgress)

	completed, err := f.service.Complete(context.Background(), request.ID, "unit swapped", "LXB-20240101-012", 0)
	require.NoError(t, err)
	assert.Equal(t, servicing.StatusCompleted, completed.Status)
	require.Len(t, f.replacer.calls, 1)
	assert.Equal(t, allocation.ID+"->LXB-20240101-012", f.replacer.calls[0])

	last := f.publisher.events[len(f.publisher.events)-1]
	done, ok := last.(servicingevents.ServiceRequestCompleted)
	require.True(t, ok)
	assert.Equal(t, "LXB-20240101-012", done.ReplacementDeviceID)
}

func TestCompleteReplacementFailureKeepsRequestOpen(t *testing.T) {
	f := newServicingFixture(t)
	f.seedAllocatedDevice(t, "LXB-20240101-013", f.now.AddDate(0, 6, 0))
	f.replacer.err = allocations.ErrDeviceNotAvailable

	request, err := f.service.Create(context.Background(), CreateRequest{
		DeviceID:       "LXB-20240101-013",
		OrganizationID: "org_A",
		RequestType:    "REPLACEMENT",
		Priority:       "HIGH",
	})
	require.NoError(t, err)
	progressTo(t, f, request.ID, servicing.StatusAcknowledged, servicing.StatusDiagnosed, servicing.StatusInProgress)

	_, err = f.service.Complete(context.Background(), request.ID, "swap", "LXB-20240101-014", 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, allocations.ErrDeviceNotAvailable))

	stored, err := f.requests.Get(context.Background(), request.ID)
	require.NoError(t, err)
	assert.Equal(t, servicing.StatusInProgress, stored.Status)
}
