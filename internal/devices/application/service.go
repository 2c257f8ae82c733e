package application

import (
	"context"
	"crypto/sha1"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	devicesevents "linkband-cloud/internal/devices/application/events"
	devices "linkband-cloud/internal/devices/domain"
	"linkband-cloud/internal/eventing"
	"linkband-cloud/internal/observability/metrics"
)

// EventPublisher publishes device events to the outbox.
type EventPublisher interface {
	Publish(ctx context.Context, event any) error
}

// RegisterRequest describes a physical device registration. BatteryHealth is
// a pointer so an explicit 0 reading is distinguishable from the field being
// omitted.
type RegisterRequest struct {
	ID              string `json:"id"`
	SerialNumber    string `json:"serial_number"`
	DeviceType      string `json:"device_type"`
	BatteryHealth   *int   `json:"battery_health,omitempty"`
	FirmwareVersion string `json:"firmware_version"`
}

// HealthUpdate carries device health fields measured in the field.
type HealthUpdate struct {
	BatteryHealth   int       `json:"battery_health"`
	FirmwareVersion string    `json:"firmware_version"`
	CalibratedAt    time.Time `json:"calibrated_at"`
}

// Service manages the device master.
type Service struct {
	repo      devices.Repository
	publisher EventPublisher
	clock     func() time.Time
}

// NewService constructs a device service.
func NewService(repo devices.Repository, publisher EventPublisher) (*Service, error) {
	if repo == nil {
		return nil, errors.New("devices: nil repo")
	}
	return &Service{repo: repo, publisher: publisher, clock: func() time.Time { return time.Now().UTC() }}, nil
}

// WithClock overrides the time source.
func (s *Service) WithClock(clock func() time.Time) *Service {
	if clock != nil {
		s.clock = clock
	}
	return s
}

// Register creates a device in INVENTORY.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*devices.Device, error) {
	if req.SerialNumber == "" {
		return nil, devices.ErrEmptySerialNumber
	}
	now := s.clock()
	id := req.ID
	if id == "" {
		var err error
		id, err = s.freeDeviceID(ctx, now, req.SerialNumber)
		if err != nil {
			return nil, err
		}
	} else {
		existing, err := s.repo.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return nil, fmt.Errorf("%w: %s", devices.ErrAlreadyRegistered, id)
		}
	}

	battery := 100
	if req.BatteryHealth != nil {
		battery = *req.BatteryHealth
	}
	device := &devices.Device{
		ID:              id,
		SerialNumber:    req.SerialNumber,
		DeviceType:      req.DeviceType,
		Status:          devices.StatusInventory,
		BatteryHealth:   battery,
		FirmwareVersion: req.FirmwareVersion,
	}
	if err := s.repo.Save(ctx, device); err != nil {
		return nil, err
	}
	metrics.IncDeviceRegistered(device.DeviceType)
	return device, nil
}

// Get loads a device, returning ErrNotFound when missing.
func (s *Service) Get(ctx context.Context, id string) (*devices.Device, error) {
	device, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if device == nil {
		return nil, fmt.Errorf("%w: %s", devices.ErrNotFound, id)
	}
	return device, nil
}

// List returns devices for the filter.
func (s *Service) List(ctx context.Context, filter devices.ListFilter) ([]devices.Device, error) {
	if filter.Status != "" && !devices.ValidStatus(filter.Status) {
		return nil, fmt.Errorf("%w: %s", devices.ErrInvalidStatus, filter.Status)
	}
	return s.repo.List(ctx, filter)
}

// UpdateHealth records battery/calibration data and notifies the org view
// when the device is currently allocated. The write touches health columns
// only, so a racing allocation's status flip is never overwritten.
func (s *Service) UpdateHealth(ctx context.Context, id string, organizationID string, update HealthUpdate) error {
	if update.BatteryHealth < 0 || update.BatteryHealth > 100 {
		return fmt.Errorf("%w: %d", devices.ErrInvalidBatteryHealth, update.BatteryHealth)
	}
	device, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.UpdateHealth(ctx, id, devices.HealthPatch{
		BatteryHealth:   update.BatteryHealth,
		FirmwareVersion: update.FirmwareVersion,
		CalibratedAt:    update.CalibratedAt,
	}); err != nil {
		return err
	}

	if s.publisher != nil && organizationID != "" && device.CurrentAllocationID != "" {
		eventID := eventing.NewEventID()
		event := devicesevents.DeviceHealthUpdated{
			EventID:        eventID,
			DeviceID:       device.ID,
			OrganizationID: organizationID,
			BatteryHealth:  update.BatteryHealth,
			OccurredAt:     s.clock(),
		}
		ctx = eventing.WithEventID(ctx, eventID)
		if err := s.publisher.Publish(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

// freeDeviceID probes hash-derived suffixes until an unused id is found.
// Re-registering an already known serial lands on its existing id and is
// rejected; a suffix taken by a different serial moves on to the next slot.
func (s *Service) freeDeviceID(ctx context.Context, now time.Time, serialNumber string) (string, error) {
	for attempt := 0; attempt < maxIDSuffixes; attempt++ {
		id := NewDeviceID(now, serialNumber, attempt)
		existing, err := s.repo.Get(ctx, id)
		if err != nil {
			return "", err
		}
		if existing == nil {
			return id, nil
		}
		if existing.SerialNumber == serialNumber {
			return "", fmt.Errorf("%w: %s", devices.ErrAlreadyRegistered, id)
		}
	}
	return "", errors.New("devices: id suffixes exhausted for today")
}

const maxIDSuffixes = 1000

// NewDeviceID builds an LXB-YYYYMMDD-XXX identifier. The 3-digit suffix
// starts at a serial-derived hash and advances linearly per attempt, so
// registering the same serial twice in a day lands on the same id while
// distinct serials that hash together spread to the next free slot.
func NewDeviceID(now time.Time, serialNumber string, attempt int) string {
	sum := sha1.Sum([]byte(serialNumber))
	suffix := (int(binary.BigEndian.Uint16(sum[:2])) + attempt) % maxIDSuffixes
	return fmt.Sprintf("LXB-%s-%03d", now.UTC().Format("20060102"), suffix)
}
