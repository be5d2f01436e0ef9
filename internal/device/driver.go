package device

import "context"

// Advertisement is a single discovery report from the radio.
type Advertisement interface {
	// Addr is the platform-assigned peripheral identifier. It doubles as
	// the device id; on some platforms it is an opaque UUID rather than a
	// hardware address.
	Addr() string
	LocalName() string
	RSSI() int
	Services() []string
	Connectable() bool
}

// Driver is the black-box radio contract the session is built on.
//
// Callbacks (state changes, discovery reports) arrive serialized: the
// driver never invokes two callbacks concurrently. Connect, Disconnect
// and DiscoverServices each block until the underlying operation settles
// or ctx is canceled.
type Driver interface {
	// State returns the current adapter state.
	State() AdapterState

	// SetStateHandler registers the adapter state callback. Passing nil
	// unregisters it. The handler is invoked for every transition with
	// the new state.
	SetStateHandler(func(AdapterState))

	// Scan blocks, delivering discovery reports to handler until ctx is
	// canceled. With allowDuplicates, repeat reports for the same
	// peripheral keep arriving so RSSI stays fresh.
	Scan(ctx context.Context, allowDuplicates bool, handler func(Advertisement)) error

	// Knows reports whether id is present in the driver's peripheral
	// handle table.
	Knows(id string) bool

	Connect(ctx context.Context, id string) error
	DiscoverServices(ctx context.Context, id string) ([]string, error)
	Disconnect(ctx context.Context, id string) error
}
