package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	allocations "linkband-cloud/internal/allocations/domain"
)

const defaultAllocationsTable = "device_allocations"

const allocationColumns = `id, device_id, organization_id, allocation_type, status,
	rental_start_date, rental_period_months, monthly_fee, rental_end_date,
	sale_price, warranty_period_months, warranty_end_date,
	assigned_user_id, assigned_user_name, location,
	termination_reason, created_at, updated_at`

// DBTX abstracts *sql.DB and *sql.Tx so repositories run inside transactions.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// AllocationRepository is a Postgres implementation for allocations.
type AllocationRepository struct {
	db    DBTX
	table string
}

// NewAllocationRepository constructs a repository.
func NewAllocationRepository(db DBTX, opts ...AllocationOption) *AllocationRepository {
	repo := &AllocationRepository{db: db, table: defaultAllocationsTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// AllocationOption configures the repository.
type AllocationOption func(*AllocationRepository)

// WithAllocationTable overrides the default table name.
func WithAllocationTable(table string) AllocationOption {
	return func(repo *AllocationRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// Get loads an allocation by id.
func (r *AllocationRepository) Get(ctx context.Context, id string) (*allocations.Allocation, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("allocation repo: nil db")
	}
	if id == "" {
		return nil, allocations.ErrEmptyID
	}

	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE id = $1
LIMIT 1`, allocationColumns, r.table)

	row := r.db.QueryRowContext(ctx, query, id)
	allocation, err := scanAllocation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return allocation, nil
}

// FindActiveByDevice returns the allocation holding the device, if any.
// ACTIVE, PENDING_SETUP and SUSPENDED all count as holding the device.
func (r *AllocationRepository) FindActiveByDevice(ctx context.Context, deviceID string) (*allocations.Allocation, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("allocation repo: nil db")
	}
	if deviceID == "" {
		return nil, allocations.ErrEmptyDeviceID
	}

	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE device_id = $1
  AND status IN ('ACTIVE', 'PENDING_SETUP', 'SUSPENDED')
ORDER BY created_at DESC
LIMIT 1`, allocationColumns, r.table)

	row := r.db.QueryRowContext(ctx, query, deviceID)
	allocation, err := scanAllocation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return allocation, nil
}

// ListByDevice returns the full allocation history for a device, oldest first.
func (r *AllocationRepository) ListByDevice(ctx context.Context, deviceID string) ([]allocations.Allocation, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("allocation repo: nil db")
	}
	if deviceID == "" {
		return nil, allocations.ErrEmptyDeviceID
	}

	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE device_id = $1
ORDER BY created_at ASC`, allocationColumns, r.table)

	return r.queryAllocations(ctx, query, deviceID)
}

// ListByOrganization returns allocations for an organization.
func (r *AllocationRepository) ListByOrganization(ctx context.Context, organizationID string, includeEnded bool) ([]allocations.Allocation, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("allocation repo: nil db")
	}
	if organizationID == "" {
		return nil, allocations.ErrEmptyOrganizationID
	}

	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE organization_id = $1
  AND ($2 OR status NOT IN ('EXPIRED', 'TERMINATED'))
ORDER BY created_at ASC`, allocationColumns, r.table)

	return r.queryAllocations(ctx, query, organizationID, includeEnded)
}

// ListOverdueRentals returns ACTIVE rentals whose end date has passed.
func (r *AllocationRepository) ListOverdueRentals(ctx context.Context, now time.Time) ([]allocations.Allocation, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("allocation repo: nil db")
	}

	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE allocation_type = 'RENTAL'
  AND status = 'ACTIVE'
  AND rental_end_date < $1
ORDER BY rental_end_date ASC`, allocationColumns, r.table)

	return r.queryAllocations(ctx, query, now.UTC())
}

// Create inserts a new allocation. A partial unique index on
// (device_id) WHERE status IN ('ACTIVE','PENDING_SETUP','SUSPENDED') backs the
// one-active-allocation-per-device invariant at the storage layer.
func (r *AllocationRepository) Create(ctx context.Context, allocation *allocations.Allocation) error {
	if r == nil || r.db == nil {
		return errors.New("allocation repo: nil db")
	}
	if allocation == nil {
		return errors.New("allocation repo: nil allocation")
	}
	if err := allocation.Validate(); err != nil {
		return err
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	device_id,
	organization_id,
	allocation_type,
	status,
	rental_start_date,
	rental_period_months,
	monthly_fee,
	rental_end_date,
	sale_price,
	warranty_period_months,
	warranty_end_date,
	assigned_user_id,
	assigned_user_name,
	location,
	termination_reason
) VALUES (
	$1, $2, $3, $4, $5,
	NULLIF($6, '0001-01-01T00:00:00Z'::timestamptz), NULLIF($7, 0), NULLIF($8, 0), NULLIF($9, '0001-01-01T00:00:00Z'::timestamptz),
	NULLIF($10, 0), NULLIF($11, 0), NULLIF($12, '0001-01-01T00:00:00Z'::timestamptz),
	NULLIF($13, ''), NULLIF($14, ''), NULLIF($15, ''),
	NULLIF($16, '')
)`, r.table)

	_, err := r.db.ExecContext(
		ctx,
		query,
		allocation.ID,
		allocation.DeviceID,
		allocation.OrganizationID,
		string(allocation.Type),
		string(allocation.Status),
		allocation.RentalStartDate,
		allocation.RentalPeriodMonths,
		allocation.MonthlyFee,
		allocation.RentalEndDate,
		allocation.SalePrice,
		allocation.WarrantyPeriodMonths,
		allocation.WarrantyEndDate,
		allocation.AssignedUserID,
		allocation.AssignedUserName,
		allocation.Location,
		allocation.TerminationReason,
	)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	allocation.CreatedAt = now
	allocation.UpdatedAt = now
	return nil
}

// Update rewrites the mutable columns of an allocation.
func (r *AllocationRepository) Update(ctx context.Context, allocation *allocations.Allocation) error {
	if r == nil || r.db == nil {
		return errors.New("allocation repo: nil db")
	}
	if allocation == nil {
		return errors.New("allocation repo: nil allocation")
	}
	if err := allocation.Validate(); err != nil {
		return err
	}

	query := fmt.Sprintf(`
UPDATE %s
SET status = $2,
	assigned_user_id = NULLIF($3, ''),
	assigned_user_name = NULLIF($4, ''),
	location = NULLIF($5, ''),
	termination_reason = NULLIF($6, ''),
	updated_at = NOW()
WHERE id = $1`, r.table)

	result, err := r.db.ExecContext(
		ctx,
		query,
		allocation.ID,
		string(allocation.Status),
		allocation.AssignedUserID,
		allocation.AssignedUserName,
		allocation.Location,
		allocation.TerminationReason,
	)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return allocations.ErrNotFound
	}
	allocation.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *AllocationRepository) queryAllocations(ctx context.Context, query string, args ...any) ([]allocations.Allocation, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []allocations.Allocation
	for rows.Next() {
		allocation, err := scanAllocation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *allocation)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAllocation(row rowScanner) (*allocations.Allocation, error) {
	var allocation allocations.Allocation
	var rentalStart, rentalEnd, warrantyEnd sql.NullTime
	var rentalMonths, warrantyMonths sql.NullInt64
	var monthlyFee, salePrice sql.NullFloat64
	var userID, userName, location, reason sql.NullString

	if err := row.Scan(
		&allocation.ID,
		&allocation.DeviceID,
		&allocation.OrganizationID,
		&allocation.Type,
		&allocation.Status,
		&rentalStart,
		&rentalMonths,
		&monthlyFee,
		&rentalEnd,
		&salePrice,
		&warrantyMonths,
		&warrantyEnd,
		&userID,
		&userName,
		&location,
		&reason,
		&allocation.CreatedAt,
		&allocation.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if rentalStart.Valid {
		allocation.RentalStartDate = rentalStart.Time.UTC()
	}
	allocation.RentalPeriodMonths = int(rentalMonths.Int64)
	allocation.MonthlyFee = monthlyFee.Float64
	if rentalEnd.Valid {
		allocation.RentalEndDate = rentalEnd.Time.UTC()
	}
	allocation.SalePrice = salePrice.Float64
	allocation.WarrantyPeriodMonths = int(warrantyMonths.Int64)
	if warrantyEnd.Valid {
		allocation.WarrantyEndDate = warrantyEnd.Time.UTC()
	}
	allocation.AssignedUserID = userID.String
	allocation.AssignedUserName = userName.String
	allocation.Location = location.String
	allocation.TerminationReason = reason.String
	allocation.CreatedAt = allocation.CreatedAt.UTC()
	allocation.UpdatedAt = allocation.UpdatedAt.UTC()
	return &allocation, nil
}
