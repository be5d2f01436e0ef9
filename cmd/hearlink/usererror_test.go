package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/srg/hearlink/internal/device"
)

func TestFormatUserError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{
			name:     "adapter powered off",
			err:      &device.AdapterNotReadyError{State: device.AdapterPoweredOff},
			expected: "Bluetooth is turned off - enable it and try again",
		},
		{
			name:     "adapter unauthorized",
			err:      &device.AdapterNotReadyError{State: device.AdapterUnauthorized},
			expected: "Bluetooth access is not authorized for this process",
		},
		{
			name:     "adapter unsupported",
			err:      &device.AdapterNotReadyError{State: device.AdapterUnsupported},
			expected: "this machine has no supported Bluetooth adapter",
		},
		{
			name:     "adapter resetting keeps the state visible",
			err:      &device.AdapterNotReadyError{State: device.AdapterResetting},
			expected: "Bluetooth adapter is not ready (state: resetting)",
		},
		{
			name:     "unknown device",
			err:      &device.NotFoundError{ID: "aa:bb"},
			expected: "unknown device aa:bb - run a scan first",
		},
		{
			name:     "wrapped bluetooth off sentinel",
			err:      fmt.Errorf("scan: %w", device.ErrBluetoothOff),
			expected: "Bluetooth is turned off - enable it and try again",
		},
		{
			name:     "anything else passes through",
			err:      errors.New("connection timed out"),
			expected: "connection timed out",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, FormatUserError(tt.err))
		})
	}
}
