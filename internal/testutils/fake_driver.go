package testutils

import (
	"context"
	"sync"

	"github.com/srg/hearlink/internal/device"
)

// FakeDriver is a scriptable in-memory device.Driver.
//
// Tests flip the adapter state, feed advertisements into an active scan
// and script per-device connect/discovery/disconnect outcomes. Callbacks
// fire synchronously on the caller's goroutine, matching the serialized
// callback contract of the real driver.
type FakeDriver struct {
	mu           sync.Mutex
	state        device.AdapterState
	stateHandler func(device.AdapterState)

	scanHandler func(device.Advertisement)
	scanCount   int

	known         map[string]struct{}
	services      map[string][]string
	connectErr    map[string]error
	discoverErr   map[string]error
	disconnectErr map[string]error
	connectGate   map[string]chan struct{}
	connected     map[string]bool
}

// NewFakeDriver creates a fake driver in the poweredOn state with an
// empty handle table.
func NewFakeDriver() *FakeDriver {
	return &FakeDriver{
		state:         device.AdapterPoweredOn,
		known:         make(map[string]struct{}),
		services:      make(map[string][]string),
		connectErr:    make(map[string]error),
		discoverErr:   make(map[string]error),
		disconnectErr: make(map[string]error),
		connectGate:   make(map[string]chan struct{}),
		connected:     make(map[string]bool),
	}
}

// State implements device.Driver.
func (f *FakeDriver) State() device.AdapterState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// SetStateHandler implements device.Driver.
func (f *FakeDriver) SetStateHandler(fn func(device.AdapterState)) {
	f.mu.Lock()
	f.stateHandler = fn
	f.mu.Unlock()
}

// SetAdapterState transitions the adapter and fires the state callback.
func (f *FakeDriver) SetAdapterState(st device.AdapterState) {
	f.mu.Lock()
	f.state = st
	fn := f.stateHandler
	f.mu.Unlock()

	if fn != nil {
		fn(st)
	}
}

// Scan implements device.Driver: it parks until ctx is canceled while
// Advertise feeds reports to the handler.
func (f *FakeDriver) Scan(ctx context.Context, _ bool, handler func(device.Advertisement)) error {
	f.mu.Lock()
	f.scanHandler = handler
	f.scanCount++
	f.mu.Unlock()

	<-ctx.Done()

	f.mu.Lock()
	f.scanHandler = nil
	f.mu.Unlock()
	return ctx.Err()
}

// Scanning reports whether a scan loop is currently parked in Scan.
func (f *FakeDriver) Scanning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scanHandler != nil
}

// ScanCount returns how many times Scan has been entered.
func (f *FakeDriver) ScanCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scanCount
}

// Advertise delivers one discovery report to an active scan. The
// peripheral is recorded in the handle table either way. Reports whether
// a scan was active to receive it.
func (f *FakeDriver) Advertise(adv device.Advertisement) bool {
	f.mu.Lock()
	f.known[adv.Addr()] = struct{}{}
	handler := f.scanHandler
	f.mu.Unlock()

	if handler == nil {
		return false
	}
	handler(adv)
	return true
}

// AddPeripheral seeds the handle table without a scan.
func (f *FakeDriver) AddPeripheral(id string, services ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.known[id] = struct{}{}
	f.services[id] = services
}

// Knows implements device.Driver.
func (f *FakeDriver) Knows(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.known[id]
	return ok
}

// FailConnect scripts the next Connect for id to fail with err.
func (f *FakeDriver) FailConnect(id string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectErr[id] = err
}

// FailDiscovery scripts service discovery for id to fail with err.
func (f *FakeDriver) FailDiscovery(id string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.discoverErr[id] = err
}

// FailDisconnect scripts Disconnect for id to fail with err.
func (f *FakeDriver) FailDisconnect(id string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnectErr[id] = err
}

// BlockConnect makes Connect for id park until the returned release func
// is called. Used to probe per-device serialization.
func (f *FakeDriver) BlockConnect(id string) (release func()) {
	gate := make(chan struct{})
	f.mu.Lock()
	f.connectGate[id] = gate
	f.mu.Unlock()

	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

// Connect implements device.Driver.
func (f *FakeDriver) Connect(ctx context.Context, id string) error {
	f.mu.Lock()
	gate := f.connectGate[id]
	err := f.connectErr[id]
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err != nil {
		return err
	}

	f.mu.Lock()
	f.connected[id] = true
	f.mu.Unlock()
	return nil
}

// DiscoverServices implements device.Driver.
func (f *FakeDriver) DiscoverServices(_ context.Context, id string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.discoverErr[id]; err != nil {
		// Discovery failures drop the link, mirroring the real driver.
		f.connected[id] = false
		return nil, err
	}
	return append([]string(nil), f.services[id]...), nil
}

// Disconnect implements device.Driver.
func (f *FakeDriver) Disconnect(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.connected[id] = false
	if err := f.disconnectErr[id]; err != nil {
		return err
	}
	return nil
}

// Connected reports the fake link state for id.
func (f *FakeDriver) Connected(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected[id]
}
