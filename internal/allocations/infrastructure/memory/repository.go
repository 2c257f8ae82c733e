package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	allocations "linkband-cloud/internal/allocations/domain"
)

// AllocationRepository is an in-memory allocation store for tests.
type AllocationRepository struct {
	mu   sync.RWMutex
	data map[string]*allocations.Allocation
}

// NewAllocationRepository constructs a repository.
func NewAllocationRepository() *AllocationRepository {
	return &AllocationRepository{data: make(map[string]*allocations.Allocation)}
}

// Get loads an allocation by id.
func (r *AllocationRepository) Get(ctx context.Context, id string) (*allocations.Allocation, error) {
	_ = ctx
	r.mu.RLock()
	allocation := r.data[id]
	r.mu.RUnlock()
	if allocation == nil {
		return nil, nil
	}
	clone := *allocation
	return &clone, nil
}

// FindActiveByDevice returns the allocation currently holding the device.
func (r *AllocationRepository) FindActiveByDevice(ctx context.Context, deviceID string) (*allocations.Allocation, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, allocation := range r.data {
		if allocation.DeviceID == deviceID && !allocations.Ended(allocation.Status) {
			clone := *allocation
			return &clone, nil
		}
	}
	return nil, nil
}

// ListByDevice returns the allocation history for a device, oldest first.
func (r *AllocationRepository) ListByDevice(ctx context.Context, deviceID string) ([]allocations.Allocation, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []allocations.Allocation
	for _, allocation := range r.data {
		if allocation.DeviceID == deviceID {
			result = append(result, *allocation)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

// ListByOrganization returns allocations for an organization.
func (r *AllocationRepository) ListByOrganization(ctx context.Context, organizationID string, includeEnded bool) ([]allocations.Allocation, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []allocations.Allocation
	for _, allocation := range r.data {
		if allocation.OrganizationID != organizationID {
			continue
		}
		if !includeEnded && allocations.Ended(allocation.Status) {
			continue
		}
		result = append(result, *allocation)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

// ListOverdueRentals returns ACTIVE rentals whose end date has passed.
func (r *AllocationRepository) ListOverdueRentals(ctx context.Context, now time.Time) ([]allocations.Allocation, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []allocations.Allocation
	for _, allocation := range r.data {
		if allocation.Type != allocations.TypeRental {
			continue
		}
		if allocation.Status != allocations.StatusActive {
			continue
		}
		if allocation.RentalEndDate.Before(now) {
			result = append(result, *allocation)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].RentalEndDate.Before(result[j].RentalEndDate) })
	return result, nil
}

// Create inserts a new allocation.
func (r *AllocationRepository) Create(ctx context.Context, allocation *allocations.Allocation) error {
	_ = ctx
	if err := allocation.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	allocation.CreatedAt = now
	allocation.UpdatedAt = now

	clone := *allocation
	r.mu.Lock()
	r.data[allocation.ID] = &clone
	r.mu.Unlock()
	return nil
}

// Update rewrites an existing allocation.
func (r *AllocationRepository) Update(ctx context.Context, allocation *allocations.Allocation) error {
	_ = ctx
	if err := allocation.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.data[allocation.ID] == nil {
		return allocations.ErrNotFound
	}
	allocation.UpdatedAt = time.Now().UTC()
	clone := *allocation
	r.data[allocation.ID] = &clone
	return nil
}
