package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	servicing "linkband-cloud/internal/servicing/domain"
)

// RequestRepository is an in-memory service request store for tests.
type RequestRepository struct {
	mu   sync.RWMutex
	data map[string]*servicing.Request
}

// NewRequestRepository constructs a repository.
func NewRequestRepository() *RequestRepository {
	return &RequestRepository{data: make(map[string]*servicing.Request)}
}

func cloneRequest(request *servicing.Request) *servicing.Request {
	clone := *request
	clone.IssueCategories = append([]servicing.IssueCategory(nil), request.IssueCategories...)
	clone.StatusHistory = append([]servicing.HistoryEntry(nil), request.StatusHistory...)
	return &clone
}

// Get loads a request by id.
func (r *RequestRepository) Get(ctx context.Context, id string) (*servicing.Request, error) {
	_ = ctx
	r.mu.RLock()
	request := r.data[id]
	r.mu.RUnlock()
	if request == nil {
		return nil, nil
	}
	return cloneRequest(request), nil
}

// List returns requests matching the filter, newest first.
func (r *RequestRepository) List(ctx context.Context, filter servicing.ListFilter) ([]servicing.Request, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []servicing.Request
	for _, request := range r.data {
		if filter.OrganizationID != "" && request.OrganizationID != filter.OrganizationID {
			continue
		}
		if filter.DeviceID != "" && request.DeviceID != filter.DeviceID {
			continue
		}
		if filter.Status != "" && request.Status != filter.Status {
			continue
		}
		if filter.OpenOnly && !request.Open() {
			continue
		}
		result = append(result, *cloneRequest(request))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

// CountOpenByOrganization returns open request counts per device.
func (r *RequestRepository) CountOpenByOrganization(ctx context.Context, organizationID string) (map[string]int, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[string]int)
	for _, request := range r.data {
		if request.OrganizationID != organizationID {
			continue
		}
		if request.Open() {
			counts[request.DeviceID]++
		}
	}
	return counts, nil
}

// Create inserts a new request.
func (r *RequestRepository) Create(ctx context.Context, request *servicing.Request) error {
	_ = ctx
	if err := request.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	request.CreatedAt = now
	request.UpdatedAt = now

	clone := cloneRequest(request)
	r.mu.Lock()
	r.data[request.ID] = clone
	r.mu.Unlock()
	return nil
}

// Update rewrites an existing request.
func (r *RequestRepository) Update(ctx context.Context, request *servicing.Request) error {
	_ = ctx
	if err := request.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.data[request.ID] == nil {
		return servicing.ErrNotFound
	}
	request.UpdatedAt = time.Now().UTC()
	r.data[request.ID] = cloneRequest(request)
	return nil
}
