package device_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/srg/hearlink/internal/device"
)

func TestNormalizeUUID(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"180A", "180a"},
		{"0x180a", "180a"},
		{"0000180A-0000-1000-8000-00805F9B34FB", "180a"},
		// Full UUID outside the SIG base range keeps its long form.
		{"1234180a-0000-1000-8000-00805f9b34fb", "1234180a00001000800000805f9b34fb"},
		{"6E400001-B5A3-F393-E0A9-E50E24DCCA9E", "6e400001b5a3f393e0a9e50e24dcca9e"},
		{"FD6F", "fd6f"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, device.NormalizeUUID(tt.input), "input %q", tt.input)
	}
}

func TestNormalizeUUIDs(t *testing.T) {
	got := device.NormalizeUUIDs([]string{"0x180A", "0000FD6F-0000-1000-8000-00805F9B34FB"})
	assert.Equal(t, []string{"180a", "fd6f"}, got)

	assert.Empty(t, device.NormalizeUUIDs(nil))
}
