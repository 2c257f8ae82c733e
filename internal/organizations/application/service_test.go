package application

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	organizations "linkband-cloud/internal/organizations/domain"
	organizationsmem "linkband-cloud/internal/organizations/infrastructure/memory"
)

func newOrgService(t *testing.T) *Service {
	t.Helper()
	fixed := time.Date(2024, time.June, 1, 9, 0, 0, 0, time.UTC)
	svc, err := NewService(organizationsmem.NewOrganizationRepository(),
		WithClock(func() time.Time { return fixed }))
	require.NoError(t, err)
	return svc
}

func TestCreateOrganization(t *testing.T) {
	svc := newOrgService(t)

	org, err := svc.Create(context.Background(), CreateRequest{
		Name:         "Seoul Wellness Center",
		ContactEmail: "ops@wellness.example",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, org.ID)
	assert.Equal(t, organizations.StatusActive, org.Status)

	loaded, err := svc.Get(context.Background(), org.ID)
	require.NoError(t, err)
	assert.Equal(t, "Seoul Wellness Center", loaded.Name)
}

func TestCreateOrganizationRequiresName(t *testing.T) {
	svc := newOrgService(t)
	_, err := svc.Create(context.Background(), CreateRequest{})
	require.Error(t, err)
}

func TestGetUnknownOrganization(t *testing.T) {
	svc := newOrgService(t)
	_, err := svc.Get(context.Background(), "org_missing")
	assert.ErrorIs(t, err, organizations.ErrNotFound)
}

func TestUpdateKeepsUnsetFields(t *testing.T) {
	svc := newOrgService(t)
	org, err := svc.Create(context.Background(), CreateRequest{
		Name:         "Org A",
		ContactEmail: "a@example.com",
		Address:      "Seoul",
	})
	require.NoError(t, err)

	updated, err := svc.Update(context.Background(), org.ID, UpdateRequest{ContactEmail: "b@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "Org A", updated.Name)
	assert.Equal(t, "b@example.com", updated.ContactEmail)
	assert.Equal(t, "Seoul", updated.Address)
}

func TestSuspendAndActivate(t *testing.T) {
	svc := newOrgService(t)
	org, err := svc.Create(context.Background(), CreateRequest{Name: "Org A"})
	require.NoError(t, err)

	suspended, err := svc.Suspend(context.Background(), org.ID)
	require.NoError(t, err)
	assert.Equal(t, organizations.StatusSuspended, suspended.Status)

	active, err := svc.Activate(context.Background(), org.ID)
	require.NoError(t, err)
	assert.Equal(t, organizations.StatusActive, active.Status)
}
