package device

import (
	"errors"
	"fmt"
	"strings"
)

// AdapterNotReadyError is returned when a scan is requested while the
// adapter is not powered on. It carries the adapter state observed at the
// time of the request for diagnostics.
type AdapterNotReadyError struct {
	State AdapterState
}

func (e *AdapterNotReadyError) Error() string {
	return fmt.Sprintf("adapter not ready: state is %s", e.State)
}

// Is allows errors.Is to match any AdapterNotReadyError regardless of the
// captured state.
func (e *AdapterNotReadyError) Is(target error) bool {
	if e == nil {
		return false
	}
	_, ok := target.(*AdapterNotReadyError)
	return ok
}

// NotFoundError is returned when a command references a device id absent
// from the driver's handle table.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("device %q not found", e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	if e == nil {
		return false
	}
	_, ok := target.(*NotFoundError)
	return ok
}

// OperationError wraps a driver failure during connect, disconnect or
// service discovery. The driver message is passed through verbatim.
type OperationError struct {
	Op  string // "connect", "disconnect", "discover services"
	ID  string
	Err error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.ID, e.Err)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

// Driver-level sentinel errors
var (
	// ErrBluetoothOff indicates the radio is powered off or unavailable.
	ErrBluetoothOff = errors.New("bluetooth is turned off")

	// ErrNotConnected indicates an operation on a device that has no
	// active connection.
	ErrNotConnected = errors.New("device not connected")
)

// NormalizeError maps known go-ble error strings to sentinel errors.
// It ensures consistent handling even if the upstream library changes
// messages slightly. Returns wrapped errors to preserve original context.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	switch {
	case containsIgnoreCase(msg, "is Bluetooth turned on?"),
		containsIgnoreCase(msg, "bluetooth is turned off"):
		return fmt.Errorf("%w: %v", ErrBluetoothOff, err)
	case containsIgnoreCase(msg, "device not connected"):
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	default:
		return err
	}
}

// containsIgnoreCase checks substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
