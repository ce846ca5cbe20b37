package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeviceKind_Writes(t *testing.T) {
	testCases := []struct {
		kind   DeviceKind
		column string
		want   bool
	}{
		{KindVendingMachine, ColumnStock, true},
		{KindVendingMachine, ColumnTotalAmount, true},
		{KindVendingMachine, ColumnBalance, false},
		{KindVendingMachine, ColumnRunState, false},
		{KindWaterPump, ColumnBalance, true},
		{KindWaterPump, ColumnRunState, true},
		{KindWaterPump, ColumnStock, false},
		{KindRelayDevice, ColumnBalance, false},
		{KindRelayDevice, ColumnRunState, false},
		{KindRelayDevice, ColumnState, true},
		{DeviceKind("toaster"), ColumnState, false},
	}

	for _, tc := range testCases {
		t.Run(string(tc.kind)+"/"+tc.column, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.kind.Writes(tc.column))
		})
	}
}

func TestDeviceKind_ValidAndChannels(t *testing.T) {
	assert.True(t, KindWaterPump.Valid())
	assert.False(t, DeviceKind("").Valid())
	assert.True(t, KindRelayDevice.HasChannels())
	assert.False(t, KindVendingMachine.HasChannels())
}
