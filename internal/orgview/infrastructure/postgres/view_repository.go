package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	orgview "linkband-cloud/internal/orgview/domain"
)

const defaultViewsTable = "organization_device_views"

const viewColumns = `organization_id, device_id, serial_number, device_type, device_status,
	battery_health, allocation_id, allocation_type, allocation_status,
	rental_start_date, rental_end_date, monthly_fee, sale_price, warranty_end_date,
	assigned_user_id, assigned_user_name, location, open_service_requests, synced_at`

// DBTX abstracts *sql.DB and *sql.Tx so repositories run inside transactions.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ViewRepository is a Postgres implementation for organization device views.
type ViewRepository struct {
	db    DBTX
	table string
}

// ViewOption configures the repository.
type ViewOption func(*ViewRepository)

// WithViewTable overrides the default table name.
func WithViewTable(table string) ViewOption {
	return func(repo *ViewRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// NewViewRepository constructs a repository.
func NewViewRepository(db DBTX, opts ...ViewOption) *ViewRepository {
	repo := &ViewRepository{db: db, table: defaultViewsTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// ListByOrganization returns the view rows for an organization.
func (r *ViewRepository) ListByOrganization(ctx context.Context, organizationID string) ([]orgview.DeviceView, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("view repo: nil db")
	}
	if organizationID == "" {
		return nil, orgview.ErrEmptyOrganization
	}

	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE organization_id = $1
ORDER BY device_id ASC`, viewColumns, r.table)

	rows, err := r.db.QueryContext(ctx, query, organizationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []orgview.DeviceView
	for rows.Next() {
		view, err := scanView(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *view)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// ReplaceForOrganization deletes the organization's rows and inserts the new
// set. Callers wanting atomicity run it over a transaction DBTX.
func (r *ViewRepository) ReplaceForOrganization(ctx context.Context, organizationID string, views []orgview.DeviceView) error {
	if r == nil || r.db == nil {
		return errors.New("view repo: nil db")
	}
	if organizationID == "" {
		return orgview.ErrEmptyOrganization
	}

	deleteQuery := fmt.Sprintf(`DELETE FROM %s WHERE organization_id = $1`, r.table)
	if _, err := r.db.ExecContext(ctx, deleteQuery, organizationID); err != nil {
		return err
	}

	insertQuery := fmt.Sprintf(`
INSERT INTO %s (%s)
VALUES (
	$1, $2, $3, $4, $5,
	$6, NULLIF($7, ''), NULLIF($8, ''), NULLIF($9, ''),
	NULLIF($10, '0001-01-01T00:00:00Z'::timestamptz), NULLIF($11, '0001-01-01T00:00:00Z'::timestamptz),
	NULLIF($12, 0), NULLIF($13, 0), NULLIF($14, '0001-01-01T00:00:00Z'::timestamptz),
	NULLIF($15, ''), NULLIF($16, ''), NULLIF($17, ''), $18, $19
)`, r.table, viewColumns)

	for i := range views {
		view := views[i]
		_, err := r.db.ExecContext(
			ctx,
			insertQuery,
			organizationID,
			view.DeviceID,
			view.SerialNumber,
			view.DeviceType,
			view.DeviceStatus,
			view.BatteryHealth,
			view.AllocationID,
			view.AllocationType,
			view.AllocationStatus,
			view.RentalStartDate,
			view.RentalEndDate,
			view.MonthlyFee,
			view.SalePrice,
			view.WarrantyEndDate,
			view.AssignedUserID,
			view.AssignedUserName,
			view.Location,
			view.OpenServiceRequests,
			view.SyncedAt,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func scanView(rows *sql.Rows) (*orgview.DeviceView, error) {
	var view orgview.DeviceView
	var allocationID, allocationType, allocationStatus sql.NullString
	var rentalStart, rentalEnd, warrantyEnd sql.NullTime
	var monthlyFee, salePrice sql.NullFloat64
	var userID, userName, location sql.NullString

	if err := rows.Scan(
		&view.OrganizationID,
		&view.DeviceID,
		&view.SerialNumber,
		&view.DeviceType,
		&view.DeviceStatus,
		&view.BatteryHealth,
		&allocationID,
		&allocationType,
		&allocationStatus,
		&rentalStart,
		&rentalEnd,
		&monthlyFee,
		&salePrice,
		&warrantyEnd,
		&userID,
		&userName,
		&location,
		&view.OpenServiceRequests,
		&view.SyncedAt,
	); err != nil {
		return nil, err
	}
	view.AllocationID = allocationID.String
	view.AllocationType = allocationType.String
	view.AllocationStatus = allocationStatus.String
	if rentalStart.Valid {
		view.RentalStartDate = rentalStart.Time.UTC()
	}
	if rentalEnd.Valid {
		view.RentalEndDate = rentalEnd.Time.UTC()
	}
	view.MonthlyFee = monthlyFee.Float64
	view.SalePrice = salePrice.Float64
	if warrantyEnd.Valid {
		view.WarrantyEndDate = warrantyEnd.Time.UTC()
	}
	view.AssignedUserID = userID.String
	view.AssignedUserName = userName.String
	view.Location = location.String
	view.SyncedAt = view.SyncedAt.UTC()
	return &view, nil
}
