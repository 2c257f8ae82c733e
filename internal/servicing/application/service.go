package application

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	allocations "linkband-cloud/internal/allocations/domain"
	devices "linkband-cloud/internal/devices/domain"
	devicesrepo "linkband-cloud/internal/devices/infrastructure/postgres"
	"linkband-cloud/internal/eventing"
	"linkband-cloud/internal/notify"
	"linkband-cloud/internal/observability/metrics"
	servicingevents "linkband-cloud/internal/servicing/application/events"
	servicing "linkband-cloud/internal/servicing/domain"
	servicingrepo "linkband-cloud/internal/servicing/infrastructure/postgres"
)

// EventPublisher publishes service request events to the outbox.
type EventPublisher interface {
	Publish(ctx context.Context, event any) error
}

// AllocationReplacer swaps the device behind an allocation. Implemented by the
// allocation service.
type AllocationReplacer interface {
	Replace(ctx context.Context, allocationID, replacementDeviceID string) (*allocations.Allocation, error)
}

// terminatedGrace is how long after termination an allocation still accepts
// service requests (returns, refunds).
const terminatedGrace = 30 * 24 * time.Hour

// CreateRequest describes a new A/S request.
type CreateRequest struct {
	DeviceID        string   `json:"device_id"`
	OrganizationID  string   `json:"organization_id"`
	RequestType     string   `json:"request_type"`
	IssueCategories []string `json:"issue_categories"`
	Priority        string   `json:"priority"`
	Note            string   `json:"note"`
	RequestedBy     string   `json:"requested_by"`
}

// StatusUpdate describes a status progression.
type StatusUpdate struct {
	Status        string  `json:"status"`
	Note          string  `json:"note"`
	Actor         string  `json:"actor"`
	EstimatedCost float64 `json:"estimated_cost"`
}

// Service manages the A/S request lifecycle.
type Service struct {
	db          *sql.DB
	requests    servicing.Repository
	devices     devices.Repository
	allocations allocations.Repository
	replacer    AllocationReplacer
	publisher   EventPublisher
	notifier    notify.Notifier
	clock       func() time.Time
}

// Option configures the service.
type Option func(*Service)

// WithRepositories overrides the default Postgres repositories. Intended for
// tests; with a nil db the compound operations run without a transaction.
func WithRepositories(requestRepo servicing.Repository, deviceRepo devices.Repository) Option {
	return func(s *Service) {
		s.requests = requestRepo
		s.devices = deviceRepo
	}
}

// WithNotifier attaches an operator notifier.
func WithNotifier(notifier notify.Notifier) Option {
	return func(s *Service) {
		s.notifier = notifier
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

// NewService constructs a service request service.
func NewService(db *sql.DB, allocationRepo allocations.Repository, replacer AllocationReplacer, publisher EventPublisher, opts ...Option) (*Service, error) {
	if allocationRepo == nil {
		return nil, errors.New("servicing: nil allocation repo")
	}
	s := &Service{
		db:          db,
		allocations: allocationRepo,
		replacer:    replacer,
		publisher:   publisher,
		clock:       func() time.Time { return time.Now().UTC() },
	}
	if db != nil {
		s.requests = servicingrepo.NewRequestRepository(db)
		s.devices = devicesrepo.NewDeviceRepository(db)
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.requests == nil || s.devices == nil {
		return nil, errors.New("servicing: nil repositories")
	}
	return s, nil
}

func (s *Service) inTx(ctx context.Context, fn func(servicing.Repository, devices.Repository) error) error {
	if s.db == nil {
		return fn(s.requests, s.devices)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	requestRepo := servicingrepo.NewRequestRepository(tx)
	deviceRepo := devicesrepo.NewDeviceRepository(tx)
	if err := fn(requestRepo, deviceRepo); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Create opens an A/S request for a device. The device must carry an ACTIVE
// allocation for the organization, or one terminated within the grace window.
// Warranty eligibility is computed from the allocation's warranty or rental
// end date.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*servicing.Request, error) {
	if req.DeviceID == "" {
		return nil, servicing.ErrEmptyDeviceID
	}
	if req.OrganizationID == "" {
		return nil, servicing.ErrEmptyOrganizationID
	}

	now := s.clock()
	allocation, err := s.serviceableAllocation(ctx, req.DeviceID, req.OrganizationID, now)
	if err != nil {
		return nil, err
	}

	categories := make([]servicing.IssueCategory, 0, len(req.IssueCategories))
	for _, category := range req.IssueCategories {
		categories = append(categories, servicing.IssueCategory(category))
	}
	priority := servicing.Priority(req.Priority)
	if priority == "" {
		priority = servicing.PriorityMedium
	}

	request := &servicing.Request{
		ID:               "sr-" + uuid.NewString(),
		DeviceID:         req.DeviceID,
		OrganizationID:   req.OrganizationID,
		AllocationID:     allocation.ID,
		RequestType:      servicing.RequestType(req.RequestType),
		IssueCategories:  categories,
		Priority:         priority,
		Status:           servicing.StatusPending,
		WarrantyEligible: !now.After(allocation.WarrantyCutoff()),
		CostApproval:     servicing.CostPending,
		StatusHistory: []servicing.HistoryEntry{{
			Status:    servicing.StatusPending,
			Note:      req.Note,
			ChangedBy: req.RequestedBy,
			ChangedAt: now,
		}},
	}
	if err := s.requests.Create(ctx, request); err != nil {
		return nil, err
	}
	metrics.IncServiceRequest(string(request.RequestType))

	if err := s.publish(ctx, servicingevents.ServiceRequestCreated{
		RequestID:      request.ID,
		DeviceID:       request.DeviceID,
		OrganizationID: request.OrganizationID,
		RequestType:    string(request.RequestType),
		Priority:       string(request.Priority),
	}); err != nil {
		return nil, err
	}
	return request, nil
}

func (s *Service) serviceableAllocation(ctx context.Context, deviceID, organizationID string, now time.Time) (*allocations.Allocation, error) {
	allocation, err := s.allocations.FindActiveByDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if allocation == nil {
		history, err := s.allocations.ListByDevice(ctx, deviceID)
		if err != nil {
			return nil, err
		}
		for i := len(history) - 1; i >= 0; i-- {
			candidate := history[i]
			if candidate.Status != allocations.StatusTerminated {
				continue
			}
			if now.Sub(candidate.UpdatedAt) <= terminatedGrace {
				allocation = &candidate
			}
			break
		}
	}
	if allocation == nil {
		return nil, fmt.Errorf("%w: %s", servicing.ErrNoActiveAllocation, deviceID)
	}
	if allocation.OrganizationID != organizationID {
		return nil, fmt.Errorf("%w: %s", servicing.ErrNoActiveAllocation, deviceID)
	}
	return allocation, nil
}

// UpdateStatus advances a request along the progression. COMPLETED is only
// reachable through Complete. REPAIR and CALIBRATION requests entering
// IN_PROGRESS flip the device to MAINTENANCE in the same transaction.
func (s *Service) UpdateStatus(ctx context.Context, requestID string, update StatusUpdate) (*servicing.Request, error) {
	if requestID == "" {
		return nil, servicing.ErrEmptyID
	}
	to := servicing.Status(update.Status)
	if to == servicing.StatusCompleted {
		return nil, fmt.Errorf("%w: COMPLETED requires a resolution", servicing.ErrInvalidStatusTransition)
	}

	now := s.clock()
	var updated *servicing.Request
	var from servicing.Status
	err := s.inTx(ctx, func(requestRepo servicing.Repository, deviceRepo devices.Repository) error {
		request, err := requestRepo.Get(ctx, requestID)
		if err != nil {
			return err
		}
		if request == nil {
			return fmt.Errorf("%w: %s", servicing.ErrNotFound, requestID)
		}
		if servicing.Terminal(request.Status) {
			return fmt.Errorf("%w: %s", servicing.ErrAlreadyClosed, request.Status)
		}
		from = request.Status
		if err := request.Transition(to, update.Note, update.Actor, now); err != nil {
			return err
		}
		if update.EstimatedCost > 0 {
			request.EstimatedCost = update.EstimatedCost
		}
		if err := requestRepo.Update(ctx, request); err != nil {
			return err
		}

		if to == servicing.StatusInProgress && maintenanceRequest(request.RequestType) {
			device, err := deviceRepo.Get(ctx, request.DeviceID)
			if err != nil {
				return err
			}
			if device != nil && device.Status == devices.StatusInUse {
				if err := deviceRepo.UpdateStatus(ctx, device.ID, devices.StatusInUse, devices.StatusMaintenance, device.CurrentAllocationID); err != nil {
					return err
				}
			}
		}
		updated = request
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.IncServiceRequestTransition(string(to))

	if err := s.publish(ctx, servicingevents.ServiceRequestStatusChanged{
		RequestID:      updated.ID,
		DeviceID:       updated.DeviceID,
		OrganizationID: updated.OrganizationID,
		FromStatus:     string(from),
		ToStatus:       string(to),
	}); err != nil {
		return nil, err
	}
	if to == servicing.StatusEscalated && s.notifier != nil {
		s.notifier.Notify(ctx, notify.DeviceNotification{
			Type:           notify.TypeServiceUpdate,
			Priority:       notify.PriorityHigh,
			OrganizationID: updated.OrganizationID,
			DeviceID:       updated.DeviceID,
			Title:          "Service request escalated",
			Message:        fmt.Sprintf("Request %s escalated from %s.", updated.ID, from),
			OccurredAt:     now,
		})
	}
	return updated, nil
}

// ApproveCost records the customer's decision on the estimated cost. Accepted
// only while the request is DIAGNOSED or WAITING_PARTS.
func (s *Service) ApproveCost(ctx context.Context, requestID string, approved bool) (*servicing.Request, error) {
	if requestID == "" {
		return nil, servicing.ErrEmptyID
	}
	request, err := s.requests.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if request == nil {
		return nil, fmt.Errorf("%w: %s", servicing.ErrNotFound, requestID)
	}
	if !request.CostApprovable() {
		return nil, fmt.Errorf("%w: status %s", servicing.ErrCostNotApprovable, request.Status)
	}
	if approved {
		request.CostApproval = servicing.CostApproved
	} else {
		request.CostApproval = servicing.CostRejected
	}
	if err := s.requests.Update(ctx, request); err != nil {
		return nil, err
	}
	return request, nil
}

// Complete closes a request. With a replacement device the old allocation is
// terminated and the replacement allocated first; if that compound step fails
// the request keeps its current status and the error is surfaced. Without a
// replacement a device parked in MAINTENANCE returns to IN_USE.
func (s *Service) Complete(ctx context.Context, requestID, resolutionSummary, replacementDeviceID string, actualCost float64) (*servicing.Request, error) {
	if requestID == "" {
		return nil, servicing.ErrEmptyID
	}
	if resolutionSummary == "" {
		return nil, errors.New("servicing: resolution summary required")
	}

	now := s.clock()
	current, err := s.requests.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, fmt.Errorf("%w: %s", servicing.ErrNotFound, requestID)
	}
	if servicing.Terminal(current.Status) {
		return nil, fmt.Errorf("%w: %s", servicing.ErrAlreadyClosed, current.Status)
	}
	if !servicing.CanTransition(current.Status, servicing.StatusCompleted) {
		return nil, fmt.Errorf("%w: %s -> COMPLETED", servicing.ErrInvalidStatusTransition, current.Status)
	}

	if replacementDeviceID != "" {
		if s.replacer == nil {
			return nil, errors.New("servicing: no allocation replacer configured")
		}
		if _, err := s.replacer.Replace(ctx, current.AllocationID, replacementDeviceID); err != nil {
			return nil, err
		}
	}

	var completed *servicing.Request
	err = s.inTx(ctx, func(requestRepo servicing.Repository, deviceRepo devices.Repository) error {
		request, err := requestRepo.Get(ctx, requestID)
		if err != nil {
			return err
		}
		if request == nil {
			return fmt.Errorf("%w: %s", servicing.ErrNotFound, requestID)
		}
		if err := request.Transition(servicing.StatusCompleted, resolutionSummary, "", now); err != nil {
			return err
		}
		request.ResolutionSummary = resolutionSummary
		if actualCost > 0 {
			request.ActualCost = actualCost
		}
		if err := requestRepo.Update(ctx, request); err != nil {
			return err
		}

		if replacementDeviceID == "" {
			device, err := deviceRepo.Get(ctx, request.DeviceID)
			if err != nil {
				return err
			}
			if device != nil && device.Status == devices.StatusMaintenance {
				if err := deviceRepo.UpdateStatus(ctx, device.ID, devices.StatusMaintenance, devices.StatusInUse, device.CurrentAllocationID); err != nil {
					return err
				}
			}
		}
		completed = request
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.IncServiceRequestTransition(string(servicing.StatusCompleted))

	if err := s.publish(ctx, servicingevents.ServiceRequestCompleted{
		RequestID:           completed.ID,
		DeviceID:            completed.DeviceID,
		OrganizationID:      completed.OrganizationID,
		ReplacementDeviceID: replacementDeviceID,
	}); err != nil {
		return nil, err
	}
	if s.notifier != nil {
		s.notifier.Notify(ctx, notify.DeviceNotification{
			Type:           notify.TypeServiceUpdate,
			Priority:       notify.PriorityLow,
			OrganizationID: completed.OrganizationID,
			DeviceID:       completed.DeviceID,
			Title:          "Service request completed",
			Message:        resolutionSummary,
			OccurredAt:     now,
		})
	}
	return completed, nil
}

// Get loads a request, returning ErrNotFound when missing.
func (s *Service) Get(ctx context.Context, requestID string) (*servicing.Request, error) {
	request, err := s.requests.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if request == nil {
		return nil, fmt.Errorf("%w: %s", servicing.ErrNotFound, requestID)
	}
	return request, nil
}

// List returns requests matching the filter.
func (s *Service) List(ctx context.Context, filter servicing.ListFilter) ([]servicing.Request, error) {
	return s.requests.List(ctx, filter)
}

func maintenanceRequest(requestType servicing.RequestType) bool {
	return requestType == servicing.TypeRepair || requestType == servicing.TypeCalibration
}

func (s *Service) publish(ctx context.Context, event any) error {
	if s.publisher == nil {
		return nil
	}
	eventID := eventing.NewEventID()
	switch typed := event.(type) {
	case servicingevents.ServiceRequestCreated:
		typed.EventID = eventID
		typed.OccurredAt = s.clock()
		event = typed
	case servicingevents.ServiceRequestStatusChanged:
		typed.EventID = eventID
		typed.OccurredAt = s.clock()
		event = typed
	case servicingevents.ServiceRequestCompleted:
		typed.EventID = eventID
		typed.OccurredAt = s.clock()
		event = typed
	}
	ctx = eventing.WithEventID(ctx, eventID)
	return s.publisher.Publish(ctx, event)
}
