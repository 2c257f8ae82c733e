package management

import (
	"context"
	"errors"
	"time"

	allocationsapp "linkband-cloud/internal/allocations/application"
	allocations "linkband-cloud/internal/allocations/domain"
	devicesapp "linkband-cloud/internal/devices/application"
	devices "linkband-cloud/internal/devices/domain"
	orgviewapp "linkband-cloud/internal/orgview/application"
	orgview "linkband-cloud/internal/orgview/domain"
	servicingapp "linkband-cloud/internal/servicing/application"
	servicing "linkband-cloud/internal/servicing/domain"
)

// Service is the unified device management facade. It composes the device,
// allocation, servicing, sync and dashboard services behind one entry point
// and adds no logic of its own.
type Service struct {
	devices     *devicesapp.Service
	allocations *allocationsapp.Service
	servicing   *servicingapp.Service
	sync        *orgviewapp.SyncService
	dashboards  *orgviewapp.DashboardService
}

// NewService constructs the facade.
func NewService(
	deviceSvc *devicesapp.Service,
	allocationSvc *allocationsapp.Service,
	servicingSvc *servicingapp.Service,
	syncSvc *orgviewapp.SyncService,
	dashboardSvc *orgviewapp.DashboardService,
) (*Service, error) {
	if deviceSvc == nil {
		return nil, errors.New("management: nil device service")
	}
	if allocationSvc == nil {
		return nil, errors.New("management: nil allocation service")
	}
	if servicingSvc == nil {
		return nil, errors.New("management: nil servicing service")
	}
	if syncSvc == nil {
		return nil, errors.New("management: nil sync service")
	}
	if dashboardSvc == nil {
		return nil, errors.New("management: nil dashboard service")
	}
	return &Service{
		devices:     deviceSvc,
		allocations: allocationSvc,
		servicing:   servicingSvc,
		sync:        syncSvc,
		dashboards:  dashboardSvc,
	}, nil
}

// RegisterDevice adds a device to inventory.
func (s *Service) RegisterDevice(ctx context.Context, req devicesapp.RegisterRequest) (*devices.Device, error) {
	return s.devices.Register(ctx, req)
}

// GetDevice loads a device master record.
func (s *Service) GetDevice(ctx context.Context, deviceID string) (*devices.Device, error) {
	return s.devices.Get(ctx, deviceID)
}

// AllocateDevice creates a rental or sale allocation.
func (s *Service) AllocateDevice(ctx context.Context, req allocationsapp.AllocationRequest) (*allocations.Allocation, error) {
	return s.allocations.Allocate(ctx, req)
}

// AssignUser records an end-user assignment.
func (s *Service) AssignUser(ctx context.Context, allocationID, userID, userName, location string) error {
	return s.allocations.AssignUser(ctx, allocationID, userID, userName, location)
}

// TerminateAllocation ends an allocation and recalls the device.
func (s *Service) TerminateAllocation(ctx context.Context, allocationID, reason string) error {
	return s.allocations.Terminate(ctx, allocationID, reason)
}

// AllocationHistory returns a device's allocation history.
func (s *Service) AllocationHistory(ctx context.Context, deviceID string) ([]allocations.Allocation, error) {
	return s.allocations.History(ctx, deviceID)
}

// CreateServiceRequest opens an A/S request.
func (s *Service) CreateServiceRequest(ctx context.Context, req servicingapp.CreateRequest) (*servicing.Request, error) {
	return s.servicing.Create(ctx, req)
}

// UpdateServiceRequestStatus advances an A/S request.
func (s *Service) UpdateServiceRequestStatus(ctx context.Context, requestID string, update servicingapp.StatusUpdate) (*servicing.Request, error) {
	return s.servicing.UpdateStatus(ctx, requestID, update)
}

// CompleteServiceRequest closes an A/S request, optionally swapping the device.
func (s *Service) CompleteServiceRequest(ctx context.Context, requestID, resolutionSummary, replacementDeviceID string, actualCost float64) (*servicing.Request, error) {
	return s.servicing.Complete(ctx, requestID, resolutionSummary, replacementDeviceID, actualCost)
}

// SyncOrganizationView recomputes one organization's device view.
func (s *Service) SyncOrganizationView(ctx context.Context, organizationID string) error {
	return s.sync.SyncOrganizationView(ctx, organizationID)
}

// SyncAll recomputes every organization's device view.
func (s *Service) SyncAll(ctx context.Context) (orgview.SyncResult, error) {
	return s.sync.SyncAll(ctx)
}

// GetDashboard returns an organization's fleet summary.
func (s *Service) GetDashboard(ctx context.Context, organizationID string) (*orgviewapp.Dashboard, error) {
	return s.dashboards.GetDashboard(ctx, organizationID)
}

// ExpireOverdueRentals expires ACTIVE rentals past their end date.
func (s *Service) ExpireOverdueRentals(ctx context.Context, now time.Time) (int, error) {
	return s.allocations.ExpireOverdue(ctx, now)
}
