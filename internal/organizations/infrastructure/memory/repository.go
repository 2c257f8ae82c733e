package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	organizations "linkband-cloud/internal/organizations/domain"
)

// OrganizationRepository is an in-memory directory for tests.
type OrganizationRepository struct {
	mu   sync.RWMutex
	data map[string]*organizations.Organization
}

// NewOrganizationRepository constructs a repository.
func NewOrganizationRepository() *OrganizationRepository {
	return &OrganizationRepository{data: make(map[string]*organizations.Organization)}
}

// Get loads an organization by id.
func (r *OrganizationRepository) Get(ctx context.Context, id string) (*organizations.Organization, error) {
	_ = ctx
	r.mu.RLock()
	org := r.data[id]
	r.mu.RUnlock()
	if org == nil {
		return nil, nil
	}
	clone := *org
	return &clone, nil
}

// List returns all organizations ordered by id.
func (r *OrganizationRepository) List(ctx context.Context) ([]organizations.Organization, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]organizations.Organization, 0, len(r.data))
	for _, org := range r.data {
		result = append(result, *org)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// Save upserts an organization.
func (r *OrganizationRepository) Save(ctx context.Context, org *organizations.Organization) error {
	_ = ctx
	if err := org.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	if org.CreatedAt.IsZero() {
		org.CreatedAt = now
	}
	org.UpdatedAt = now

	clone := *org
	r.mu.Lock()
	r.data[org.ID] = &clone
	r.mu.Unlock()
	return nil
}
