package application

import (
	"context"
	"errors"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	allocationsevents "linkband-cloud/internal/allocations/application/events"
	allocations "linkband-cloud/internal/allocations/domain"
	allocationsmem "linkband-cloud/internal/allocations/infrastructure/memory"
	devices "linkband-cloud/internal/devices/domain"
	devicesmem "linkband-cloud/internal/devices/infrastructure/memory"
	"linkband-cloud/internal/eventing"
	"linkband-cloud/internal/eventing/eventbus"
	orgview "linkband-cloud/internal/orgview/domain"
	orgviewmem "linkband-cloud/internal/orgview/infrastructure/memory"
	organizations "linkband-cloud/internal/organizations/domain"
	organizationsmem "linkband-cloud/internal/organizations/infrastructure/memory"
	servicing "linkband-cloud/internal/servicing/domain"
	servicingmem "linkband-cloud/internal/servicing/infrastructure/memory"
)

type syncFixture struct {
	sync     *SyncService
	views    *orgviewmem.ViewRepository
	orgs     *organizationsmem.OrganizationRepository
	devices  *devicesmem.DeviceRepository
	allocs   *allocationsmem.AllocationRepository
	requests *servicingmem.RequestRepository
	now      time.Time
}

func newSyncFixture(t *testing.T) *syncFixture {
	t.Helper()
	viewRepo := orgviewmem.NewViewRepository()
	orgRepo := organizationsmem.NewOrganizationRepository()
	deviceRepo := devicesmem.NewDeviceRepository()
	allocationRepo := allocationsmem.NewAllocationRepository()
	requestRepo := servicingmem.NewRequestRepository()
	now := time.Date(2024, time.June, 1, 12, 0, 0, 0, time.UTC)

	svc, err := NewSyncService(nil, orgRepo, deviceRepo, allocationRepo, requestRepo, log.Default(),
		WithViewRepository(viewRepo),
		WithClock(func() time.Time { return now }),
	)
	require.NoError(t, err)
	return &syncFixture{
		sync:     svc,
		views:    viewRepo,
		orgs:     orgRepo,
		devices:  deviceRepo,
		allocs:   allocationRepo,
		requests: requestRepo,
		now:      now,
	}
}

func (f *syncFixture) seedOrg(t *testing.T, id string) {
	t.Helper()
	require.NoError(t, f.orgs.Save(context.Background(), &organizations.Organization{
		ID:     id,
		Name:   "Org " + id,
		Status: organizations.StatusActive,
	}))
}

func (f *syncFixture) seedAllocatedDevice(t *testing.T, orgID, deviceID, userID string) {
	t.Helper()
	ctx := context.Background()
	allocationID := "alloc-" + deviceID
	require.NoError(t, f.devices.Save(ctx, &devices.Device{
		ID:                  deviceID,
		SerialNumber:        "SN-" + deviceID,
		DeviceType:          devices.TypeLinkBand2,
		Status:              devices.StatusInUse,
		BatteryHealth:       80,
		CurrentAllocationID: allocationID,
	}))
	require.NoError(t, f.allocs.Create(ctx, &allocations.Allocation{
		ID:                 allocationID,
		DeviceID:           deviceID,
		OrganizationID:     orgID,
		Type:               allocations.TypeRental,
		Status:             allocations.StatusActive,
		RentalStartDate:    f.now.AddDate(0, -1, 0),
		RentalPeriodMonths: 12,
		MonthlyFee:         50000,
		RentalEndDate:      f.now.AddDate(0, 11, 0),
		AssignedUserID:     userID,
	}))
}

func (f *syncFixture) seedOpenRequest(t *testing.T, orgID, deviceID string) {
	t.Helper()
	require.NoError(t, f.requests.Create(context.Background(), &servicing.Request{
		ID:             "sr-" + deviceID,
		DeviceID:       deviceID,
		OrganizationID: orgID,
		AllocationID:   "alloc-" + deviceID,
		RequestType:    servicing.TypeRepair,
		Priority:       servicing.PriorityMedium,
		Status:         servicing.StatusPending,
	}))
}

func TestSyncOrganizationViewRecompute(t *testing.T) {
	f := newSyncFixture(t)
	f.seedOrg(t, "org_A")
	f.seedAllocatedDevice(t, "org_A", "LXB-20240101-001", "user-1")
	f.seedAllocatedDevice(t, "org_A", "LXB-20240101-002", "")
	f.seedOpenRequest(t, "org_A", "LXB-20240101-001")

	require.NoError(t, f.sync.SyncOrganizationView(context.Background(), "org_A"))

	views, err := f.views.ListByOrganization(context.Background(), "org_A")
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, "LXB-20240101-001", views[0].DeviceID)
	assert.Equal(t, "SN-LXB-20240101-001", views[0].SerialNumber)
	assert.Equal(t, "IN_USE", views[0].DeviceStatus)
	assert.Equal(t, "RENTAL", views[0].AllocationType)
	assert.Equal(t, "user-1", views[0].AssignedUserID)
	assert.Equal(t, 1, views[0].OpenServiceRequests)
	assert.Equal(t, 0, views[1].OpenServiceRequests)
	assert.Equal(t, f.now, views[0].SyncedAt)

	// Recompute is idempotent: a second run yields the same rows.
	require.NoError(t, f.sync.SyncOrganizationView(context.Background(), "org_A"))
	again, err := f.views.ListByOrganization(context.Background(), "org_A")
	require.NoError(t, err)
	assert.Equal(t, views, again)
}

func TestSyncReportsDanglingAllocation(t *testing.T) {
	f := newSyncFixture(t)
	f.seedOrg(t, "org_A")
	f.seedAllocatedDevice(t, "org_A", "LXB-20240101-003", "")
	require.NoError(t, f.allocs.Create(context.Background(), &allocations.Allocation{
		ID:                 "alloc-dangling",
		DeviceID:           "LXB-99999999-999",
		OrganizationID:     "org_A",
		Type:               allocations.TypeRental,
		Status:             allocations.StatusActive,
		RentalStartDate:    f.now,
		RentalPeriodMonths: 1,
		MonthlyFee:         1000,
		RentalEndDate:      f.now.AddDate(0, 1, 0),
	}))

	err := f.sync.SyncOrganizationView(context.Background(), "org_A")
	require.Error(t, err)
	assert.True(t, errors.Is(err, orgview.ErrDataInconsistency))

	// Consistent rows are still written.
	views, listErr := f.views.ListByOrganization(context.Background(), "org_A")
	require.NoError(t, listErr)
	require.Len(t, views, 1)
	assert.Equal(t, "LXB-20240101-003", views[0].DeviceID)
}

func TestSyncAllErrorIsolation(t *testing.T) {
	f := newSyncFixture(t)
	f.seedOrg(t, "org_A")
	f.seedOrg(t, "org_B")
	f.seedAllocatedDevice(t, "org_A", "LXB-20240101-004", "")
	require.NoError(t, f.allocs.Create(context.Background(), &allocations.Allocation{
		ID:                 "alloc-bad",
		DeviceID:           "LXB-88888888-888",
		OrganizationID:     "org_B",
		Type:               allocations.TypeRental,
		Status:             allocations.StatusActive,
		RentalStartDate:    f.now,
		RentalPeriodMonths: 1,
		MonthlyFee:         1000,
		RentalEndDate:      f.now.AddDate(0, 1, 0),
	}))

	result, err := f.sync.SyncAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.SyncedViews)
	require.Len(t, result.Errors, 1)
	assert.True(t, errors.Is(result.Errors[0], orgview.ErrDataInconsistency))
}

type memProcessedStore struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newMemProcessedStore() *memProcessedStore {
	return &memProcessedStore{seen: make(map[string]bool)}
}

func (s *memProcessedStore) HasProcessed(_ context.Context, eventID, consumerName string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seen[eventID+"|"+consumerName], nil
}

func (s *memProcessedStore) MarkProcessed(_ context.Context, eventID, consumerName string) error {
	s.mu.Lock()
	s.seen[eventID+"|"+consumerName] = true
	s.mu.Unlock()
	return nil
}

func TestConsumerSyncsAndDedupes(t *testing.T) {
	f := newSyncFixture(t)
	f.seedOrg(t, "org_A")
	f.seedAllocatedDevice(t, "org_A", "LXB-20240101-005", "")

	bus := eventbus.NewInMemoryBus()
	processed := newMemProcessedStore()
	RegisterSyncConsumers(bus, processed, f.sync, nil, log.Default())

	event := allocationsevents.AllocationCreated{
		EventID:        "evt-1",
		AllocationID:   "alloc-LXB-20240101-005",
		DeviceID:       "LXB-20240101-005",
		OrganizationID: "org_A",
		AllocationType: "RENTAL",
		OccurredAt:     f.now,
	}
	env, err := eventing.BuildEnvelope(event, eventing.Meta{EventID: "evt-1"})
	require.NoError(t, err)
	ctx := eventing.WithEnvelope(context.Background(), env)

	require.NoError(t, bus.Publish(ctx, event))
	views, err := f.views.ListByOrganization(ctx, "org_A")
	require.NoError(t, err)
	require.Len(t, views, 1)

	// Redelivery of the same event id is a no-op for the consumer.
	require.NoError(t, f.views.ReplaceForOrganization(ctx, "org_A", nil))
	require.NoError(t, bus.Publish(ctx, event))
	views, err = f.views.ListByOrganization(ctx, "org_A")
	require.NoError(t, err)
	assert.Empty(t, views)
}
