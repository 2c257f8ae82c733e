package organizations

import (
	"context"
	"errors"
	"time"
)

// Organization statuses.
const (
	StatusActive    = "ACTIVE"
	StatusSuspended = "SUSPENDED"
)

// Organization represents an enterprise customer in the directory.
type Organization struct {
	ID           string
	Name         string
	ContactEmail string
	ContactPhone string
	Address      string
	Status       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ErrNotFound is returned when an organization cannot be found.
var ErrNotFound = errors.New("organization: not found")

// Validate checks organization invariants.
func (o Organization) Validate() error {
	if o.ID == "" {
		return errors.New("organization: empty id")
	}
	if o.Name == "" {
		return errors.New("organization: empty name")
	}
	if o.Status != StatusActive && o.Status != StatusSuspended {
		return errors.New("organization: invalid status")
	}
	return nil
}

// Repository manages organization persistence.
type Repository interface {
	Get(ctx context.Context, id string) (*Organization, error)
	List(ctx context.Context) ([]Organization, error)
	Save(ctx context.Context, organization *Organization) error
}
