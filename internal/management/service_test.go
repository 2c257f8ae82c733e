package management

import (
	"context"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	allocationsapp "linkband-cloud/internal/allocations/application"
	allocationsmem "linkband-cloud/internal/allocations/infrastructure/memory"
	devicesapp "linkband-cloud/internal/devices/application"
	devices "linkband-cloud/internal/devices/domain"
	devicesmem "linkband-cloud/internal/devices/infrastructure/memory"
	orgviewapp "linkband-cloud/internal/orgview/application"
	orgviewmem "linkband-cloud/internal/orgview/infrastructure/memory"
	organizations "linkband-cloud/internal/organizations/domain"
	organizationsmem "linkband-cloud/internal/organizations/infrastructure/memory"
	servicingapp "linkband-cloud/internal/servicing/application"
	servicingmem "linkband-cloud/internal/servicing/infrastructure/memory"
)

func newFacade(t *testing.T) *Service {
	t.Helper()
	ctx := context.Background()
	deviceRepo := devicesmem.NewDeviceRepository()
	allocationRepo := allocationsmem.NewAllocationRepository()
	requestRepo := servicingmem.NewRequestRepository()
	orgRepo := organizationsmem.NewOrganizationRepository()
	viewRepo := orgviewmem.NewViewRepository()

	require.NoError(t, orgRepo.Save(ctx, &organizations.Organization{
		ID:     "org_A",
		Name:   "Org A",
		Status: organizations.StatusActive,
	}))

	deviceSvc, err := devicesapp.NewService(deviceRepo, nil)
	require.NoError(t, err)
	allocationSvc, err := allocationsapp.NewService(nil, orgRepo, nil,
		allocationsapp.WithRepositories(deviceRepo, allocationRepo))
	require.NoError(t, err)
	servicingSvc, err := servicingapp.NewService(nil, allocationRepo, allocationSvc, nil,
		servicingapp.WithRepositories(requestRepo, deviceRepo))
	require.NoError(t, err)
	syncSvc, err := orgviewapp.NewSyncService(nil, orgRepo, deviceRepo, allocationRepo, requestRepo, log.Default(),
		orgviewapp.WithViewRepository(viewRepo))
	require.NoError(t, err)
	dashboardSvc, err := orgviewapp.NewDashboardService(viewRepo)
	require.NoError(t, err)

	facade, err := NewService(deviceSvc, allocationSvc, servicingSvc, syncSvc, dashboardSvc)
	require.NoError(t, err)
	return facade
}

func TestNewServiceNilGuards(t *testing.T) {
	_, err := NewService(nil, nil, nil, nil, nil)
	require.Error(t, err)
}

func TestFacadeEndToEnd(t *testing.T) {
	facade := newFacade(t)
	ctx := context.Background()

	device, err := facade.RegisterDevice(ctx, devicesapp.RegisterRequest{
		SerialNumber: "SN-0001",
		DeviceType:   devices.TypeLinkBand2,
	})
	require.NoError(t, err)
	assert.Equal(t, devices.StatusInventory, device.Status)

	allocation, err := facade.AllocateDevice(ctx, allocationsapp.AllocationRequest{
		DeviceID:           device.ID,
		OrganizationID:     "org_A",
		AllocationType:     "RENTAL",
		RentalPeriodMonths: 6,
		MonthlyFee:         30000,
	})
	require.NoError(t, err)

	require.NoError(t, facade.AssignUser(ctx, allocation.ID, "user-1", "Park", "Room 101"))

	request, err := facade.CreateServiceRequest(ctx, servicingapp.CreateRequest{
		DeviceID:        device.ID,
		OrganizationID:  "org_A",
		RequestType:     "REPAIR",
		IssueCategories: []string{"SENSOR"},
		Priority:        "HIGH",
	})
	require.NoError(t, err)

	require.NoError(t, facade.SyncOrganizationView(ctx, "org_A"))
	dashboard, err := facade.GetDashboard(ctx, "org_A")
	require.NoError(t, err)
	assert.Equal(t, 1, dashboard.TotalDevices)
	assert.Equal(t, 1, dashboard.InUseDevices)
	assert.Equal(t, 1, dashboard.OpenServiceRequests)

	_, err = facade.UpdateServiceRequestStatus(ctx, request.ID, servicingapp.StatusUpdate{Status: "ACKNOWLEDGED"})
	require.NoError(t, err)

	history, err := facade.AllocationHistory(ctx, device.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)

	require.NoError(t, facade.TerminateAllocation(ctx, allocation.ID, "contract ended"))
	updated, err := facade.GetDevice(ctx, device.ID)
	require.NoError(t, err)
	assert.Equal(t, devices.StatusRecalled, updated.Status)

	count, err := facade.ExpireOverdueRentals(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}
