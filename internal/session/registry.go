package session

import (
	"sync"
	"sync/atomic"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"

	"github.com/srg/hearlink/internal/device"
)

// Registry is the host-side canonical device map.
//
// Records live in a lock-free hashmap keyed by device id; each record
// carries its own mutex so merge-on-discovery and state transitions are
// atomic per device. Every mutation bumps the registry-wide sequence and
// stamps it on the record, so consumers can order two versions of the
// same device. Clear swaps in a fresh map rather than deleting entries,
// so a clear racing a discovery callback can never corrupt the table.
type Registry struct {
	devices atomic.Pointer[hashmap.Map[string, *record]]
	seq     atomic.Uint64
	logger  *logrus.Logger
}

type record struct {
	mu sync.Mutex
	d  device.Device
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *logrus.Logger) *Registry {
	if logger == nil {
		logger = logrus.New()
	}
	r := &Registry{logger: logger}
	r.devices.Store(hashmap.New[string, *record]())
	return r
}

// Apply merges a discovery report into the registry. A freshly seen
// device starts disconnected with the placeholder name when no local name
// was advertised; an existing record gets its RSSI, name and advertised
// services refreshed but its connection state is never touched here;
// state is owned by the connection state machine.
func (r *Registry) Apply(adv device.Advertisement) (device.Device, bool) {
	rec, _ := r.devices.Load().GetOrInsert(adv.Addr(), &record{})
	rec.mu.Lock()
	defer rec.mu.Unlock()

	created := rec.d.ID == ""
	if created {
		rec.d = device.Device{
			ID:       adv.Addr(),
			Name:     device.PlaceholderName,
			Address:  adv.Addr(),
			State:    device.StateDisconnected,
			Services: []string{},
		}
	}

	if name := adv.LocalName(); name != "" {
		rec.d.Name = name
	}
	rec.d.RSSI = adv.RSSI()

	// Advertised service UUIDs are only a default; once a connection has
	// populated discovered services they win.
	if rec.d.State == device.StateDisconnected && len(adv.Services()) > 0 {
		rec.d.Services = append([]string(nil), adv.Services()...)
	}

	rec.d.Seq = r.seq.Add(1)
	return snapshotOf(rec.d), created
}

// SetState transitions a device's connection state, creating a minimal
// record when the device is known to the driver but not yet in the
// registry (a new scan clears the registry without forgetting driver
// handles).
func (r *Registry) SetState(id string, state device.ConnState) device.Device {
	rec, _ := r.devices.Load().GetOrInsert(id, &record{})
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.d.ID == "" {
		rec.d = device.Device{
			ID:       id,
			Name:     device.PlaceholderName,
			Address:  id,
			Services: []string{},
		}
	}
	rec.d.State = state
	rec.d.Seq = r.seq.Add(1)
	return snapshotOf(rec.d)
}

// SetConnected marks a device connected and stores the services found by
// discovery, as a single version bump.
func (r *Registry) SetConnected(id string, services []string) device.Device {
	rec, _ := r.devices.Load().GetOrInsert(id, &record{})
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.d.ID == "" {
		rec.d = device.Device{ID: id, Name: device.PlaceholderName, Address: id}
	}
	rec.d.State = device.StateConnected
	rec.d.Services = append([]string(nil), services...)
	rec.d.Seq = r.seq.Add(1)
	return snapshotOf(rec.d)
}

// Get returns a snapshot of one record.
func (r *Registry) Get(id string) (device.Device, bool) {
	rec, ok := r.devices.Load().Get(id)
	if !ok {
		return device.Device{}, false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.d.ID == "" {
		return device.Device{}, false
	}
	return snapshotOf(rec.d), true
}

// Snapshot returns copies of all records, order-independent.
func (r *Registry) Snapshot() []device.Device {
	m := r.devices.Load()
	devs := make([]device.Device, 0, m.Len())
	m.Range(func(_ string, rec *record) bool {
		rec.mu.Lock()
		if rec.d.ID != "" {
			devs = append(devs, snapshotOf(rec.d))
		}
		rec.mu.Unlock()
		return true
	})
	return devs
}

// Len returns the number of known devices.
func (r *Registry) Len() int {
	return r.devices.Load().Len()
}

// Clear discards every record by swapping in a fresh map. Called at the
// start of each scan: the fresh-view contract deliberately forgets
// previous connection state. Deleting entries while iterating the
// hashmap is not safe, so the whole table is replaced instead.
func (r *Registry) Clear() {
	r.devices.Store(hashmap.New[string, *record]())
	r.logger.Debug("Cleared device registry")
}

// snapshotOf returns a copy with Services never nil, so JSON encoding
// yields [] rather than null for a device without services.
func snapshotOf(d device.Device) device.Device {
	services := make([]string, 0, len(d.Services))
	d.Services = append(services, d.Services...)
	return d
}
