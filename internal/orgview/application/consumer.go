package application

import (
	"context"
	"log"

	allocationsevents "linkband-cloud/internal/allocations/application/events"
	devicesevents "linkband-cloud/internal/devices/application/events"
	"linkband-cloud/internal/eventing"
	"linkband-cloud/internal/eventing/eventbus"
	servicingevents "linkband-cloud/internal/servicing/application/events"
)

// ConsumerName identifies the view sync consumer in the processed-event store.
const ConsumerName = "orgview-sync"

// RegisterSyncConsumers subscribes the view recompute to every mutation event
// on the bus. Delivery is at-least-once; the processed store dedupes per
// consumer and the full-replace recompute keeps redelivery harmless anyway.
func RegisterSyncConsumers(
	bus eventbus.EventBus,
	processed eventing.ProcessedStore,
	sync *SyncService,
	dashboards *DashboardService,
	logger *log.Logger,
) {
	if bus == nil || sync == nil {
		return
	}
	if logger == nil {
		logger = log.Default()
	}

	handler := func(ctx context.Context, event any) error {
		organizationID := organizationIDFor(ctx, event)
		if organizationID == "" {
			logger.Printf("orgview: event %T without organization id, skipping", event)
			return nil
		}
		if err := sync.SyncOrganizationView(ctx, organizationID); err != nil {
			logger.Printf("orgview: sync org=%s failed: %v", organizationID, err)
			return err
		}
		if dashboards != nil {
			dashboards.Invalidate(ctx, organizationID)
		}
		return nil
	}

	eventTypes := []string{
		eventbus.EventTypeOf[allocationsevents.AllocationCreated](),
		eventbus.EventTypeOf[allocationsevents.UserAssigned](),
		eventbus.EventTypeOf[allocationsevents.AllocationTerminated](),
		eventbus.EventTypeOf[allocationsevents.AllocationExpired](),
		eventbus.EventTypeOf[devicesevents.DeviceHealthUpdated](),
		eventbus.EventTypeOf[servicingevents.ServiceRequestCreated](),
		eventbus.EventTypeOf[servicingevents.ServiceRequestStatusChanged](),
		eventbus.EventTypeOf[servicingevents.ServiceRequestCompleted](),
	}
	for _, eventType := range eventTypes {
		eventing.Subscribe(bus, eventType, ConsumerName, handler, processed)
	}
}

func organizationIDFor(ctx context.Context, event any) string {
	if env, ok := eventing.EnvelopeFromContext(ctx); ok && env.OrganizationID != "" {
		return env.OrganizationID
	}
	switch typed := event.(type) {
	case allocationsevents.AllocationCreated:
		return typed.OrganizationID
	case allocationsevents.UserAssigned:
		return typed.OrganizationID
	case allocationsevents.AllocationTerminated:
		return typed.OrganizationID
	case allocationsevents.AllocationExpired:
		return typed.OrganizationID
	case devicesevents.DeviceHealthUpdated:
		return typed.OrganizationID
	case servicingevents.ServiceRequestCreated:
		return typed.OrganizationID
	case servicingevents.ServiceRequestStatusChanged:
		return typed.OrganizationID
	case servicingevents.ServiceRequestCompleted:
		return typed.OrganizationID
	}
	return ""
}
