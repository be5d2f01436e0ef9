package main

import (
	"errors"

	"github.com/srg/hearlink/internal/device"
)

// FormatUserError turns internal errors into messages that make sense
// without reading the source.
func FormatUserError(err error) string {
	var notReady *device.AdapterNotReadyError
	if errors.As(err, &notReady) {
		switch notReady.State {
		case device.AdapterPoweredOff:
			return "Bluetooth is turned off - enable it and try again"
		case device.AdapterUnauthorized:
			return "Bluetooth access is not authorized for this process"
		case device.AdapterUnsupported:
			return "this machine has no supported Bluetooth adapter"
		default:
			return "Bluetooth adapter is not ready (state: " + string(notReady.State) + ")"
		}
	}

	var notFound *device.NotFoundError
	if errors.As(err, &notFound) {
		return "unknown device " + notFound.ID + " - run a scan first"
	}

	if errors.Is(err, device.ErrBluetoothOff) {
		return "Bluetooth is turned off - enable it and try again"
	}

	return err.Error()
}
