package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	devices "linkband-cloud/internal/devices/domain"
)

const defaultDevicesTable = "device_master"

// DeviceRepository is a Postgres implementation for the device master.
type DeviceRepository struct {
	db    DBTX
	table string
}

// NewDeviceRepository constructs a repository.
func NewDeviceRepository(db DBTX, opts ...DeviceOption) *DeviceRepository {
	repo := &DeviceRepository{db: db, table: defaultDevicesTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// DeviceOption configures the repository.
type DeviceOption func(*DeviceRepository)

// WithDeviceTable overrides the default table name.
func WithDeviceTable(table string) DeviceOption {
	return func(repo *DeviceRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// Get loads a device by id.
func (r *DeviceRepository) Get(ctx context.Context, id string) (*devices.Device, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("device repo: nil db")
	}
	if id == "" {
		return nil, devices.ErrEmptyID
	}

	query := fmt.Sprintf(`
SELECT id, serial_number, device_type, status, current_allocation_id,
	battery_health, firmware_version, last_calibration, next_maintenance_date,
	created_at, updated_at
FROM %s
WHERE id = $1
LIMIT 1`, r.table)

	var device devices.Device
	var allocationID sql.NullString
	var lastCalibration, nextMaintenance sql.NullTime
	if err := r.db.QueryRowContext(ctx, query, id).Scan(
		&device.ID,
		&device.SerialNumber,
		&device.DeviceType,
		&device.Status,
		&allocationID,
		&device.BatteryHealth,
		&device.FirmwareVersion,
		&lastCalibration,
		&nextMaintenance,
		&device.CreatedAt,
		&device.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	device.CurrentAllocationID = allocationID.String
	if lastCalibration.Valid {
		device.LastCalibration = lastCalibration.Time.UTC()
	}
	if nextMaintenance.Valid {
		device.NextMaintenanceDate = nextMaintenance.Time.UTC()
	}
	device.CreatedAt = device.CreatedAt.UTC()
	device.UpdatedAt = device.UpdatedAt.UTC()
	return &device, nil
}

// List loads devices matching the filter, newest first.
func (r *DeviceRepository) List(ctx context.Context, filter devices.ListFilter) ([]devices.Device, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("device repo: nil db")
	}

	query := fmt.Sprintf(`
SELECT id, serial_number, device_type, status, current_allocation_id,
	battery_health, firmware_version, last_calibration, next_maintenance_date,
	created_at, updated_at
FROM %s
WHERE ($1 = '' OR status = $1)
  AND ($2 = '' OR device_type = $2)
ORDER BY created_at DESC, id ASC
LIMIT $3`, r.table)

	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.db.QueryContext(ctx, query, string(filter.Status), filter.DeviceType, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []devices.Device
	for rows.Next() {
		var device devices.Device
		var allocationID sql.NullString
		var lastCalibration, nextMaintenance sql.NullTime
		if err := rows.Scan(
			&device.ID,
			&device.SerialNumber,
			&device.DeviceType,
			&device.Status,
			&allocationID,
			&device.BatteryHealth,
			&device.FirmwareVersion,
			&lastCalibration,
			&nextMaintenance,
			&device.CreatedAt,
			&device.UpdatedAt,
		); err != nil {
			return nil, err
		}
		device.CurrentAllocationID = allocationID.String
		if lastCalibration.Valid {
			device.LastCalibration = lastCalibration.Time.UTC()
		}
		if nextMaintenance.Valid {
			device.NextMaintenanceDate = nextMaintenance.Time.UTC()
		}
		device.CreatedAt = device.CreatedAt.UTC()
		device.UpdatedAt = device.UpdatedAt.UTC()
		result = append(result, device)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Save upserts a device record.
func (r *DeviceRepository) Save(ctx context.Context, device *devices.Device) error {
	if r == nil || r.db == nil {
		return errors.New("device repo: nil db")
	}
	if device == nil {
		return errors.New("device repo: nil device")
	}
	if err := device.Validate(); err != nil {
		return err
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	serial_number,
	device_type,
	status,
	current_allocation_id,
	battery_health,
	firmware_version,
	last_calibration,
	next_maintenance_date
) VALUES (
	$1, $2, $3, $4, NULLIF($5, ''), $6, $7, NULLIF($8, '0001-01-01T00:00:00Z'::timestamptz), NULLIF($9, '0001-01-01T00:00:00Z'::timestamptz)
)
ON CONFLICT (id)
DO UPDATE SET
	serial_number = EXCLUDED.serial_number,
	device_type = EXCLUDED.device_type,
	status = EXCLUDED.status,
	current_allocation_id = EXCLUDED.current_allocation_id,
	battery_health = EXCLUDED.battery_health,
	firmware_version = EXCLUDED.firmware_version,
	last_calibration = EXCLUDED.last_calibration,
	next_maintenance_date = EXCLUDED.next_maintenance_date,
	updated_at = NOW()`, r.table)

	_, err := r.db.ExecContext(
		ctx,
		query,
		device.ID,
		device.SerialNumber,
		device.DeviceType,
		string(device.Status),
		device.CurrentAllocationID,
		device.BatteryHealth,
		device.FirmwareVersion,
		device.LastCalibration,
		device.NextMaintenanceDate,
	)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if device.CreatedAt.IsZero() {
		device.CreatedAt = now
	}
	device.UpdatedAt = now
	return nil
}

// UpdateStatus flips the lifecycle status and current allocation reference,
// but only while the row still holds the expected prior status. A lost race
// surfaces as ErrStatusConflict so the caller's transaction can abort instead
// of double-allocating the device.
func (r *DeviceRepository) UpdateStatus(ctx context.Context, id string, from, to devices.Status, allocationID string) error {
	if r == nil || r.db == nil {
		return errors.New("device repo: nil db")
	}
	if id == "" {
		return devices.ErrEmptyID
	}
	if !devices.ValidStatus(from) {
		return fmt.Errorf("%w: %s", devices.ErrInvalidStatus, from)
	}
	if !devices.ValidStatus(to) {
		return fmt.Errorf("%w: %s", devices.ErrInvalidStatus, to)
	}

	query := fmt.Sprintf(`
UPDATE %s
SET status = $3,
	current_allocation_id = NULLIF($4, ''),
	updated_at = NOW()
WHERE id = $1
  AND status = $2`, r.table)

	result, err := r.db.ExecContext(ctx, query, id, string(from), string(to), allocationID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		exists, err := r.exists(ctx, id)
		if err != nil {
			return err
		}
		if !exists {
			return devices.ErrNotFound
		}
		return fmt.Errorf("%w: %s no longer %s", devices.ErrStatusConflict, id, from)
	}
	return nil
}

// UpdateHealth writes battery, firmware and calibration columns only, leaving
// status and allocation reference to the lifecycle writers.
func (r *DeviceRepository) UpdateHealth(ctx context.Context, id string, patch devices.HealthPatch) error {
	if r == nil || r.db == nil {
		return errors.New("device repo: nil db")
	}
	if id == "" {
		return devices.ErrEmptyID
	}
	if patch.BatteryHealth < 0 || patch.BatteryHealth > 100 {
		return fmt.Errorf("%w: %d", devices.ErrInvalidBatteryHealth, patch.BatteryHealth)
	}

	query := fmt.Sprintf(`
UPDATE %s
SET battery_health = $2,
	firmware_version = CASE WHEN $3 = '' THEN firmware_version ELSE $3 END,
	last_calibration = COALESCE(NULLIF($4, '0001-01-01T00:00:00Z'::timestamptz), last_calibration),
	updated_at = NOW()
WHERE id = $1`, r.table)

	result, err := r.db.ExecContext(ctx, query, id, patch.BatteryHealth, patch.FirmwareVersion, patch.CalibratedAt)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return devices.ErrNotFound
	}
	return nil
}

func (r *DeviceRepository) exists(ctx context.Context, id string) (bool, error) {
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE id = $1)`, r.table)
	var exists bool
	if err := r.db.QueryRowContext(ctx, query, id).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}
