package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	devices "linkband-cloud/internal/devices/domain"
)

// DeviceRepository is an in-memory device master for tests.
type DeviceRepository struct {
	mu   sync.RWMutex
	data map[string]*devices.Device
}

// NewDeviceRepository constructs a repository.
func NewDeviceRepository() *DeviceRepository {
	return &DeviceRepository{data: make(map[string]*devices.Device)}
}

// Get loads a device by id.
func (r *DeviceRepository) Get(ctx context.Context, id string) (*devices.Device, error) {
	_ = ctx
	r.mu.RLock()
	device := r.data[id]
	r.mu.RUnlock()
	if device == nil {
		return nil, nil
	}
	clone := *device
	return &clone, nil
}

// List returns devices matching the filter.
func (r *DeviceRepository) List(ctx context.Context, filter devices.ListFilter) ([]devices.Device, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []devices.Device
	for _, device := range r.data {
		if filter.Status != "" && device.Status != filter.Status {
			continue
		}
		if filter.DeviceType != "" && device.DeviceType != filter.DeviceType {
			continue
		}
		result = append(result, *device)
		if filter.Limit > 0 && len(result) >= filter.Limit {
			break
		}
	}
	return result, nil
}

// Save upserts a device record.
func (r *DeviceRepository) Save(ctx context.Context, device *devices.Device) error {
	_ = ctx
	if device == nil {
		return devices.ErrEmptyID
	}
	if err := device.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	if device.CreatedAt.IsZero() {
		device.CreatedAt = now
	}
	device.UpdatedAt = now

	clone := *device
	r.mu.Lock()
	r.data[device.ID] = &clone
	r.mu.Unlock()
	return nil
}

// UpdateStatus flips status and allocation reference while the device still
// holds the expected prior status, mirroring the conditional SQL update.
func (r *DeviceRepository) UpdateStatus(ctx context.Context, id string, from, to devices.Status, allocationID string) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	device := r.data[id]
	if device == nil {
		return devices.ErrNotFound
	}
	if device.Status != from {
		return fmt.Errorf("%w: %s is %s, expected %s", devices.ErrStatusConflict, id, device.Status, from)
	}
	device.Status = to
	device.CurrentAllocationID = allocationID
	device.UpdatedAt = time.Now().UTC()
	return nil
}

// UpdateHealth patches battery, firmware and calibration fields only.
func (r *DeviceRepository) UpdateHealth(ctx context.Context, id string, patch devices.HealthPatch) error {
	_ = ctx
	if patch.BatteryHealth < 0 || patch.BatteryHealth > 100 {
		return fmt.Errorf("%w: %d", devices.ErrInvalidBatteryHealth, patch.BatteryHealth)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	device := r.data[id]
	if device == nil {
		return devices.ErrNotFound
	}
	device.BatteryHealth = patch.BatteryHealth
	if patch.FirmwareVersion != "" {
		device.FirmwareVersion = patch.FirmwareVersion
	}
	if !patch.CalibratedAt.IsZero() {
		device.LastCalibration = patch.CalibratedAt.UTC()
	}
	device.UpdatedAt = time.Now().UTC()
	return nil
}
