package devices

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeviceValidate(t *testing.T) {
	valid := Device{
		ID:            "LXB-20240101-001",
		SerialNumber:  "SN-0001",
		DeviceType:    TypeLinkBand2,
		Status:        StatusInventory,
		BatteryHealth: 100,
	}
	require.NoError(t, valid.Validate())

	cases := []struct {
		name   string
		mutate func(*Device)
		want   error
	}{
		{"empty id", func(d *Device) { d.ID = "" }, ErrEmptyID},
		{"bad id format", func(d *Device) { d.ID = "LXB-2024-1" }, ErrInvalidID},
		{"empty serial", func(d *Device) { d.SerialNumber = "" }, ErrEmptySerialNumber},
		{"unknown type", func(d *Device) { d.DeviceType = "LINK_BAND_9.9" }, ErrInvalidDeviceType},
		{"unknown status", func(d *Device) { d.Status = "SLEEPING" }, ErrInvalidStatus},
		{"battery below range", func(d *Device) { d.BatteryHealth = -1 }, ErrInvalidBatteryHealth},
		{"battery above range", func(d *Device) { d.BatteryHealth = 101 }, ErrInvalidBatteryHealth},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			device := valid
			tc.mutate(&device)
			err := device.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.want), "got %v, want %v", err, tc.want)
		})
	}
}

func TestLifecycleTransitions(t *testing.T) {
	allowed := []struct{ from, to Status }{
		{StatusInventory, StatusAllocated},
		{StatusAllocated, StatusInUse},
		{StatusAllocated, StatusRecalled},
		{StatusInUse, StatusMaintenance},
		{StatusInUse, StatusRecalled},
		{StatusMaintenance, StatusInUse},
		{StatusMaintenance, StatusRetired},
		{StatusMaintenance, StatusLost},
		{StatusRecalled, StatusRetired},
		{StatusRecalled, StatusLost},
	}
	for _, tc := range allowed {
		assert.True(t, CanTransition(tc.from, tc.to), "%s -> %s should be allowed", tc.from, tc.to)
	}

	denied := []struct{ from, to Status }{
		{StatusInventory, StatusInUse},
		{StatusInventory, StatusRetired},
		{StatusInventory, StatusMaintenance},
		{StatusAllocated, StatusInventory},
		{StatusRecalled, StatusInventory},
		{StatusRetired, StatusInventory},
		{StatusRetired, StatusAllocated},
		{StatusLost, StatusInventory},
		{StatusInUse, StatusRetired},
	}
	for _, tc := range denied {
		assert.False(t, CanTransition(tc.from, tc.to), "%s -> %s should be denied", tc.from, tc.to)
	}
}

func TestTransitionRejectsInvalidEdge(t *testing.T) {
	device := Device{Status: StatusInventory}
	err := device.Transition(StatusInUse)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidStateTransition))
	assert.Equal(t, StatusInventory, device.Status, "status must not change on rejection")

	require.NoError(t, device.Transition(StatusAllocated))
	assert.Equal(t, StatusAllocated, device.Status)
}

func TestTerminalStatuses(t *testing.T) {
	assert.True(t, Terminal(StatusRetired))
	assert.True(t, Terminal(StatusLost))
	assert.False(t, Terminal(StatusRecalled))
	assert.False(t, Terminal(StatusInventory))
}
