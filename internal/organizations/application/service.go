package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	organizations "linkband-cloud/internal/organizations/domain"
)

// CreateRequest carries organization onboarding input.
type CreateRequest struct {
	Name         string `json:"name"`
	ContactEmail string `json:"contact_email"`
	ContactPhone string `json:"contact_phone"`
	Address      string `json:"address"`
}

// UpdateRequest carries mutable organization fields. Empty fields are kept.
type UpdateRequest struct {
	Name         string `json:"name"`
	ContactEmail string `json:"contact_email"`
	ContactPhone string `json:"contact_phone"`
	Address      string `json:"address"`
}

// Service manages the organization directory.
type Service struct {
	repo  organizations.Repository
	clock func() time.Time
}

// Option configures the service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewService constructs an organization service.
func NewService(repo organizations.Repository, opts ...Option) (*Service, error) {
	if repo == nil {
		return nil, errors.New("organizations service: nil repository")
	}
	svc := &Service{repo: repo, clock: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Create onboards a new organization in ACTIVE status.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*organizations.Organization, error) {
	org := &organizations.Organization{
		ID:           "org-" + uuid.NewString(),
		Name:         req.Name,
		ContactEmail: req.ContactEmail,
		ContactPhone: req.ContactPhone,
		Address:      req.Address,
		Status:       organizations.StatusActive,
		CreatedAt:    s.clock(),
		UpdatedAt:    s.clock(),
	}
	if err := org.Validate(); err != nil {
		return nil, err
	}
	if err := s.repo.Save(ctx, org); err != nil {
		return nil, fmt.Errorf("save organization: %w", err)
	}
	return org, nil
}

// Get loads one organization.
func (s *Service) Get(ctx context.Context, id string) (*organizations.Organization, error) {
	if id == "" {
		return nil, errors.New("organizations service: empty id")
	}
	org, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if org == nil {
		return nil, organizations.ErrNotFound
	}
	return org, nil
}

// List returns the full directory.
func (s *Service) List(ctx context.Context) ([]organizations.Organization, error) {
	return s.repo.List(ctx)
}

// Update changes contact details. Empty request fields keep current values.
func (s *Service) Update(ctx context.Context, id string, req UpdateRequest) (*organizations.Organization, error) {
	org, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Name != "" {
		org.Name = req.Name
	}
	if req.ContactEmail != "" {
		org.ContactEmail = req.ContactEmail
	}
	if req.ContactPhone != "" {
		org.ContactPhone = req.ContactPhone
	}
	if req.Address != "" {
		org.Address = req.Address
	}
	org.UpdatedAt = s.clock()
	if err := s.repo.Save(ctx, org); err != nil {
		return nil, fmt.Errorf("save organization: %w", err)
	}
	return org, nil
}

// Suspend blocks an organization from new allocations.
func (s *Service) Suspend(ctx context.Context, id string) (*organizations.Organization, error) {
	return s.setStatus(ctx, id, organizations.StatusSuspended)
}

// Activate restores a suspended organization.
func (s *Service) Activate(ctx context.Context, id string) (*organizations.Organization, error) {
	return s.setStatus(ctx, id, organizations.StatusActive)
}

func (s *Service) setStatus(ctx context.Context, id, status string) (*organizations.Organization, error) {
	org, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	org.Status = status
	org.UpdatedAt = s.clock()
	if err := s.repo.Save(ctx, org); err != nil {
		return nil, fmt.Errorf("save organization: %w", err)
	}
	return org, nil
}
