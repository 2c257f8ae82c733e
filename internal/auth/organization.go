package auth

import (
	"context"
	"database/sql"
	"errors"

	organizationsrepo "linkband-cloud/internal/organizations/infrastructure/postgres"
)

var (
	// ErrOrganizationMismatch indicates the resource belongs to a different organization.
	ErrOrganizationMismatch = errors.New("organization mismatch")
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("resource not found")
)

// OrganizationAccessChecker validates organization-scoped access.
type OrganizationAccessChecker interface {
	EnsureOrganizationAccess(ctx context.Context, organizationID string) error
}

// OrganizationChecker checks organization scope against the caller identity
// and verifies the organization exists.
type OrganizationChecker struct {
	repo *organizationsrepo.OrganizationRepository
}

// NewOrganizationChecker constructs an OrganizationChecker.
func NewOrganizationChecker(db *sql.DB) *OrganizationChecker {
	if db == nil {
		return nil
	}
	return &OrganizationChecker{repo: organizationsrepo.NewOrganizationRepository(db)}
}

// EnsureOrganizationAccess verifies the caller may act on organizationID.
// Callers with an empty claim organization id act platform-wide.
func (c *OrganizationChecker) EnsureOrganizationAccess(ctx context.Context, organizationID string) error {
	if c == nil || c.repo == nil {
		return nil
	}
	if organizationID == "" {
		return nil
	}
	if claimOrg := OrganizationIDFromContext(ctx); claimOrg != "" && claimOrg != organizationID {
		return ErrOrganizationMismatch
	}
	org, err := c.repo.Get(ctx, organizationID)
	if err != nil {
		return err
	}
	if org == nil {
		return ErrNotFound
	}
	return nil
}
