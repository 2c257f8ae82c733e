package application

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	allocations "linkband-cloud/internal/allocations/domain"
	devices "linkband-cloud/internal/devices/domain"
	"linkband-cloud/internal/notify"
	"linkband-cloud/internal/observability/metrics"
	orgview "linkband-cloud/internal/orgview/domain"
	orgviewrepo "linkband-cloud/internal/orgview/infrastructure/postgres"
	organizations "linkband-cloud/internal/organizations/domain"
	servicing "linkband-cloud/internal/servicing/domain"
)

// SyncService recomputes per-organization device views from the canonical
// tables. A sync is a full replace of the organization's rows, so repeated
// deliveries of the same event converge to the same result.
type SyncService struct {
	db            *sql.DB
	views         orgview.Repository
	organizations organizations.Repository
	devices       devices.Repository
	allocations   allocations.Repository
	requests      servicing.Repository
	notifier      notify.Notifier
	logger        *log.Logger
	clock         func() time.Time
}

// SyncOption configures the sync service.
type SyncOption func(*SyncService)

// WithViewRepository overrides the default Postgres view repository.
func WithViewRepository(views orgview.Repository) SyncOption {
	return func(s *SyncService) {
		s.views = views
	}
}

// WithNotifier attaches an operator notifier for sync failures.
func WithNotifier(notifier notify.Notifier) SyncOption {
	return func(s *SyncService) {
		s.notifier = notifier
	}
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) SyncOption {
	return func(s *SyncService) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewSyncService constructs a sync service.
func NewSyncService(
	db *sql.DB,
	orgRepo organizations.Repository,
	deviceRepo devices.Repository,
	allocationRepo allocations.Repository,
	requestRepo servicing.Repository,
	logger *log.Logger,
	opts ...SyncOption,
) (*SyncService, error) {
	if orgRepo == nil || deviceRepo == nil || allocationRepo == nil || requestRepo == nil {
		return nil, errors.New("orgview: nil repositories")
	}
	if logger == nil {
		logger = log.Default()
	}
	s := &SyncService{
		db:            db,
		organizations: orgRepo,
		devices:       deviceRepo,
		allocations:   allocationRepo,
		requests:      requestRepo,
		logger:        logger,
		clock:         func() time.Time { return time.Now().UTC() },
	}
	if db != nil {
		s.views = orgviewrepo.NewViewRepository(db)
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.views == nil {
		return nil, errors.New("orgview: nil view repository")
	}
	return s, nil
}

// SyncOrganizationView recomputes the view rows for one organization. Rows
// whose allocation references a missing device are skipped and reported as
// ErrDataInconsistency; the consistent rows are still written so the view
// never goes stale because of one bad reference.
func (s *SyncService) SyncOrganizationView(ctx context.Context, organizationID string) error {
	if organizationID == "" {
		return orgview.ErrEmptyOrganization
	}
	started := s.clock()

	err := s.syncOrganization(ctx, organizationID, started)
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	}
	metrics.ObserveViewSync(result, s.clock().Sub(started))
	return err
}

func (s *SyncService) syncOrganization(ctx context.Context, organizationID string, now time.Time) error {
	active, err := s.allocations.ListByOrganization(ctx, organizationID, false)
	if err != nil {
		return fmt.Errorf("%w: %v", orgview.ErrSyncFailed, err)
	}
	counts, err := s.requests.CountOpenByOrganization(ctx, organizationID)
	if err != nil {
		return fmt.Errorf("%w: %v", orgview.ErrSyncFailed, err)
	}

	views := make([]orgview.DeviceView, 0, len(active))
	var inconsistency error
	for i := range active {
		allocation := active[i]
		device, err := s.devices.Get(ctx, allocation.DeviceID)
		if err != nil {
			return fmt.Errorf("%w: %v", orgview.ErrSyncFailed, err)
		}
		if device == nil {
			inconsistency = fmt.Errorf("%w: allocation %s references missing device %s",
				orgview.ErrDataInconsistency, allocation.ID, allocation.DeviceID)
			s.logger.Printf("orgview: org=%s %v", organizationID, inconsistency)
			if s.notifier != nil {
				s.notifier.Notify(ctx, notify.DeviceNotification{
					Type:           notify.TypeSyncFailure,
					Priority:       notify.PriorityHigh,
					OrganizationID: organizationID,
					DeviceID:       allocation.DeviceID,
					Title:          "View sync found dangling allocation",
					Message:        inconsistency.Error(),
					OccurredAt:     now,
				})
			}
			continue
		}
		views = append(views, buildView(organizationID, device, allocation, counts[device.ID], now))
	}

	if err := s.replaceViews(ctx, organizationID, views); err != nil {
		return fmt.Errorf("%w: %v", orgview.ErrSyncFailed, err)
	}
	return inconsistency
}

func (s *SyncService) replaceViews(ctx context.Context, organizationID string, views []orgview.DeviceView) error {
	if s.db == nil {
		return s.views.ReplaceForOrganization(ctx, organizationID, views)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	repo := orgviewrepo.NewViewRepository(tx)
	if err := repo.ReplaceForOrganization(ctx, organizationID, views); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func buildView(organizationID string, device *devices.Device, allocation allocations.Allocation, openRequests int, now time.Time) orgview.DeviceView {
	return orgview.DeviceView{
		OrganizationID: organizationID,

		DeviceID:      device.ID,
		SerialNumber:  device.SerialNumber,
		DeviceType:    device.DeviceType,
		DeviceStatus:  string(device.Status),
		BatteryHealth: device.BatteryHealth,

		AllocationID:     allocation.ID,
		AllocationType:   string(allocation.Type),
		AllocationStatus: string(allocation.Status),
		RentalStartDate:  allocation.RentalStartDate,
		RentalEndDate:    allocation.RentalEndDate,
		MonthlyFee:       allocation.MonthlyFee,
		SalePrice:        allocation.SalePrice,
		WarrantyEndDate:  allocation.WarrantyEndDate,

		AssignedUserID:   allocation.AssignedUserID,
		AssignedUserName: allocation.AssignedUserName,
		Location:         allocation.Location,

		OpenServiceRequests: openRequests,

		SyncedAt: now,
	}
}

// SyncAll recomputes views for every organization with per-organization error
// isolation: one failing organization never blocks the rest.
func (s *SyncService) SyncAll(ctx context.Context) (orgview.SyncResult, error) {
	orgs, err := s.organizations.List(ctx)
	if err != nil {
		return orgview.SyncResult{}, fmt.Errorf("%w: %v", orgview.ErrSyncFailed, err)
	}

	var result orgview.SyncResult
	for _, org := range orgs {
		if err := s.SyncOrganizationView(ctx, org.ID); err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("org %s: %w", org.ID, err))
			continue
		}
		result.SyncedViews++
	}
	return result, nil
}
