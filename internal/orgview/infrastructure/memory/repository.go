package memory

import (
	"context"
	"sort"
	"sync"

	orgview "linkband-cloud/internal/orgview/domain"
)

// ViewRepository is an in-memory view store for tests.
type ViewRepository struct {
	mu   sync.RWMutex
	data map[string][]orgview.DeviceView
}

// NewViewRepository constructs a repository.
func NewViewRepository() *ViewRepository {
	return &ViewRepository{data: make(map[string][]orgview.DeviceView)}
}

// ListByOrganization returns the view rows for an organization.
func (r *ViewRepository) ListByOrganization(ctx context.Context, organizationID string) ([]orgview.DeviceView, error) {
	_ = ctx
	if organizationID == "" {
		return nil, orgview.ErrEmptyOrganization
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := append([]orgview.DeviceView(nil), r.data[organizationID]...)
	sort.Slice(result, func(i, j int) bool { return result[i].DeviceID < result[j].DeviceID })
	return result, nil
}

// ReplaceForOrganization swaps the organization's rows for the new set.
func (r *ViewRepository) ReplaceForOrganization(ctx context.Context, organizationID string, views []orgview.DeviceView) error {
	_ = ctx
	if organizationID == "" {
		return orgview.ErrEmptyOrganization
	}
	r.mu.Lock()
	r.data[organizationID] = append([]orgview.DeviceView(nil), views...)
	r.mu.Unlock()
	return nil
}
