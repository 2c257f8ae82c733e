package allocations

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rentalFixture() Allocation {
	start := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	return Allocation{
		ID:                 "alloc-1",
		DeviceID:           "LXB-20240101-001",
		OrganizationID:     "org_A",
		Type:               TypeRental,
		Status:             StatusActive,
		RentalStartDate:    start,
		RentalPeriodMonths: 3,
		MonthlyFee:         50000,
		RentalEndDate:      AddMonths(start, 3),
	}
}

func saleFixture() Allocation {
	start := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	return Allocation{
		ID:                   "alloc-2",
		DeviceID:             "LXB-20240101-002",
		OrganizationID:       "org_A",
		Type:                 TypeSale,
		Status:               StatusActive,
		SalePrice:            1200000,
		WarrantyPeriodMonths: 12,
		WarrantyEndDate:      AddMonths(start, 12),
	}
}

func TestValidateRentalSaleExclusivity(t *testing.T) {
	require.NoError(t, rentalFixture().Validate())
	require.NoError(t, saleFixture().Validate())

	mixed := rentalFixture()
	mixed.SalePrice = 100
	err := mixed.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTypeMismatch))

	mixed = saleFixture()
	mixed.MonthlyFee = 100
	err = mixed.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTypeMismatch))

	incomplete := rentalFixture()
	incomplete.MonthlyFee = 0
	assert.True(t, errors.Is(incomplete.Validate(), ErrTypeMismatch))

	incomplete = saleFixture()
	incomplete.SalePrice = 0
	assert.True(t, errors.Is(incomplete.Validate(), ErrTypeMismatch))
}

func TestAddMonthsCalendarArithmetic(t *testing.T) {
	cases := []struct {
		start  time.Time
		months int
		want   time.Time
	}{
		{time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC), 3, time.Date(2024, time.April, 1, 0, 0, 0, 0, time.UTC)},
		{time.Date(2024, time.November, 15, 0, 0, 0, 0, time.UTC), 3, time.Date(2025, time.February, 15, 0, 0, 0, 0, time.UTC)},
		{time.Date(2024, time.February, 29, 0, 0, 0, 0, time.UTC), 12, time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, AddMonths(tc.start, tc.months))
	}
}

func TestAssignable(t *testing.T) {
	allocation := rentalFixture()
	for status, want := range map[Status]bool{
		StatusActive:       true,
		StatusPendingSetup: true,
		StatusSuspended:    false,
		StatusExpired:      false,
		StatusTerminated:   false,
	} {
		allocation.Status = status
		assert.Equal(t, want, allocation.Assignable(), "status %s", status)
	}
}

func TestWarrantyCutoff(t *testing.T) {
	rental := rentalFixture()
	assert.Equal(t, rental.RentalEndDate, rental.WarrantyCutoff())

	sale := saleFixture()
	assert.Equal(t, sale.WarrantyEndDate, sale.WarrantyCutoff())
}

func TestEnded(t *testing.T) {
	assert.True(t, Ended(StatusExpired))
	assert.True(t, Ended(StatusTerminated))
	assert.False(t, Ended(StatusActive))
	assert.False(t, Ended(StatusSuspended))
}
