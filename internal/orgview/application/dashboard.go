package application

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"linkband-cloud/internal/cache"
	devices "linkband-cloud/internal/devices/domain"
	"linkband-cloud/internal/observability/metrics"
	orgview "linkband-cloud/internal/orgview/domain"
)

// lowBatteryThreshold marks devices due for a battery check.
const lowBatteryThreshold = 30

// Dashboard is the per-organization fleet summary. It is computed from the
// denormalized view table only; the canonical device master is never read on
// this path.
type Dashboard struct {
	OrganizationID string `json:"organization_id"`

	TotalDevices       int `json:"total_devices"`
	InUseDevices       int `json:"in_use_devices"`
	AvailableDevices   int `json:"available_devices"`
	MaintenanceDevices int `json:"maintenance_devices"`
	LowBatteryDevices  int `json:"low_battery_devices"`

	RentalDevices int `json:"rental_devices"`
	SaleDevices   int `json:"sale_devices"`

	AssignedDevices   int `json:"assigned_devices"`
	UnassignedDevices int `json:"unassigned_devices"`

	OpenServiceRequests int `json:"open_service_requests"`

	SyncedAt time.Time `json:"synced_at"`
}

// DashboardService serves fleet summaries and view listings, with an optional
// cache in front of reads. Mutations never go through the cache.
type DashboardService struct {
	views    orgview.Repository
	cache    cache.Cache
	cacheTTL time.Duration
	clock    func() time.Time
}

// DashboardOption configures the service.
type DashboardOption func(*DashboardService)

// WithCache layers a cache in front of dashboard reads.
func WithCache(c cache.Cache, ttl time.Duration) DashboardOption {
	return func(s *DashboardService) {
		s.cache = c
		if ttl > 0 {
			s.cacheTTL = ttl
		}
	}
}

// WithDashboardClock overrides the time source.
func WithDashboardClock(clock func() time.Time) DashboardOption {
	return func(s *DashboardService) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewDashboardService constructs a dashboard service.
func NewDashboardService(views orgview.Repository, opts ...DashboardOption) (*DashboardService, error) {
	if views == nil {
		return nil, errors.New("orgview: nil view repository")
	}
	s := &DashboardService{
		views:    views,
		cacheTTL: 30 * time.Second,
		clock:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func dashboardCacheKey(organizationID string) string {
	return "dashboard:" + organizationID
}

// GetDashboard returns the fleet summary for an organization.
func (s *DashboardService) GetDashboard(ctx context.Context, organizationID string) (*Dashboard, error) {
	if organizationID == "" {
		return nil, orgview.ErrEmptyOrganization
	}
	started := s.clock()

	if s.cache != nil {
		if raw, err := s.cache.Get(ctx, dashboardCacheKey(organizationID)); err == nil {
			var cached Dashboard
			if err := json.Unmarshal(raw, &cached); err == nil {
				metrics.IncCacheLookup(metrics.CacheHit)
				metrics.ObserveDashboardQuery(metrics.ResultSuccess, s.clock().Sub(started))
				return &cached, nil
			}
		}
		metrics.IncCacheLookup(metrics.CacheMiss)
	}

	views, err := s.views.ListByOrganization(ctx, organizationID)
	if err != nil {
		metrics.ObserveDashboardQuery(metrics.ResultError, s.clock().Sub(started))
		return nil, err
	}
	dashboard := buildDashboard(organizationID, views)

	if s.cache != nil {
		if raw, err := json.Marshal(dashboard); err == nil {
			_ = s.cache.Set(ctx, dashboardCacheKey(organizationID), raw, s.cacheTTL)
		}
	}
	metrics.ObserveDashboardQuery(metrics.ResultSuccess, s.clock().Sub(started))
	return dashboard, nil
}

// ListDevices returns the organization's view rows.
func (s *DashboardService) ListDevices(ctx context.Context, organizationID string) ([]orgview.DeviceView, error) {
	if organizationID == "" {
		return nil, orgview.ErrEmptyOrganization
	}
	return s.views.ListByOrganization(ctx, organizationID)
}

// Invalidate drops the cached dashboard after a view sync.
func (s *DashboardService) Invalidate(ctx context.Context, organizationID string) {
	if s.cache == nil || organizationID == "" {
		return
	}
	_ = s.cache.Delete(ctx, dashboardCacheKey(organizationID))
}

func buildDashboard(organizationID string, views []orgview.DeviceView) *Dashboard {
	dashboard := &Dashboard{OrganizationID: organizationID}
	for _, view := range views {
		dashboard.TotalDevices++
		switch view.DeviceStatus {
		case string(devices.StatusInUse):
			dashboard.InUseDevices++
		case string(devices.StatusAllocated):
			dashboard.AvailableDevices++
		case string(devices.StatusMaintenance):
			dashboard.MaintenanceDevices++
		}
		if view.BatteryHealth > 0 && view.BatteryHealth < lowBatteryThreshold {
			dashboard.LowBatteryDevices++
		}
		switch view.AllocationType {
		case "RENTAL":
			dashboard.RentalDevices++
		case "SALE":
			dashboard.SaleDevices++
		}
		if view.AssignedUserID != "" {
			dashboard.AssignedDevices++
		} else {
			dashboard.UnassignedDevices++
		}
		dashboard.OpenServiceRequests += view.OpenServiceRequests
		if view.SyncedAt.After(dashboard.SyncedAt) {
			dashboard.SyncedAt = view.SyncedAt
		}
	}
	return dashboard
}
