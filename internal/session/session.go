// Package session implements the host-side BLE device session: adapter
// state tracking, the scan lifecycle, the canonical device registry and
// the per-device connection state machine. It is the single writer of
// device state; everything the presentation process sees is derived from
// events and snapshots published here.
package session

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/srg/hearlink/internal/device"
	"github.com/srg/hearlink/internal/events"
	"github.com/srg/hearlink/internal/groutine"
)

// Session owns the radio driver for the life of the host process.
type Session struct {
	drv    device.Driver
	reg    *Registry
	bus    *events.Bus
	logger *logrus.Logger

	// Scan lifecycle. scanWanted survives adapter flaps: a scan stopped
	// by poweredOff resumes on the next poweredOn.
	scanMu     sync.Mutex
	scanning   bool
	scanWanted bool
	scanGen    uint64
	scanCancel context.CancelFunc
	allowDups  bool

	// Per-device single-flight locks for connect/disconnect.
	flightMu sync.Mutex
	flights  map[string]*flight
}

type flight struct {
	mu   sync.Mutex
	refs int
}

// New creates a session over drv and registers for its adapter state
// callbacks.
func New(drv device.Driver, logger *logrus.Logger) *Session {
	if logger == nil {
		logger = logrus.New()
	}

	s := &Session{
		drv:       drv,
		reg:       NewRegistry(logger),
		bus:       events.NewBus(),
		logger:    logger,
		allowDups: true,
		flights:   make(map[string]*flight),
	}
	drv.SetStateHandler(s.handleAdapterState)
	return s
}

// SetAllowDuplicates controls whether repeat advertisement reports are
// requested from the driver. On by default so RSSI stays current; takes
// effect on the next scan start.
func (s *Session) SetAllowDuplicates(allow bool) {
	s.scanMu.Lock()
	s.allowDups = allow
	s.scanMu.Unlock()
}

// Bus exposes the event stream: adapter state changes, discoveries and
// device updates.
func (s *Session) Bus() *events.Bus {
	return s.bus
}

// Registry exposes the canonical device map.
func (s *Session) Registry() *Registry {
	return s.reg
}

// AdapterState returns the current adapter state.
func (s *Session) AdapterState() device.AdapterState {
	return s.drv.State()
}

// Devices returns an order-independent snapshot of all known devices.
func (s *Session) Devices() []device.Device {
	return s.reg.Snapshot()
}

// StartScan begins discovery. The registry is cleared first: every scan
// presents a fresh view, including devices that were connected before.
// Fails with AdapterNotReadyError while the adapter is not powered on.
func (s *Session) StartScan() error {
	if st := s.drv.State(); st != device.AdapterPoweredOn {
		return &device.AdapterNotReadyError{State: st}
	}

	s.scanMu.Lock()
	defer s.scanMu.Unlock()

	s.reg.Clear()
	s.scanWanted = true
	s.startScanLocked()
	return nil
}

// StopScan ends discovery. Idempotent: stopping an inactive scan is a
// no-op and still succeeds.
func (s *Session) StopScan() {
	s.scanMu.Lock()
	defer s.scanMu.Unlock()

	s.scanWanted = false
	s.stopScanLocked()
}

// Scanning reports whether discovery is active.
func (s *Session) Scanning() bool {
	s.scanMu.Lock()
	defer s.scanMu.Unlock()
	return s.scanning
}

// startScanLocked launches the driver scan loop. Caller holds scanMu.
func (s *Session) startScanLocked() {
	if s.scanning {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.scanCancel = cancel
	s.scanning = true
	s.scanGen++
	gen := s.scanGen
	allowDups := s.allowDups

	s.logger.Info("Starting BLE scan...")

	groutine.Go(ctx, "ble-scan", func(ctx context.Context) {
		err := s.drv.Scan(ctx, allowDups, s.handleAdvertisement)
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			s.logger.WithError(device.NormalizeError(err)).Error("BLE scan failed")
		}

		s.scanMu.Lock()
		// The loop ended on its own (driver error); reflect that in the
		// flag unless a newer scan has taken over in the meantime.
		if s.scanGen == gen && s.scanning {
			s.scanning = false
			s.scanCancel = nil
		}
		s.scanMu.Unlock()
	})
}

// stopScanLocked cancels an active scan loop. Caller holds scanMu.
func (s *Session) stopScanLocked() {
	if !s.scanning {
		return
	}
	if s.scanCancel != nil {
		s.scanCancel()
		s.scanCancel = nil
	}
	s.scanning = false
	s.logger.Info("BLE scan stopped")
}

// handleAdvertisement merges one discovery report and publishes the
// matching event. Runs on the driver callback goroutine.
func (s *Session) handleAdvertisement(adv device.Advertisement) {
	if !s.Scanning() {
		// Late callback after stop; the fresh-view contract says nothing
		// may surface between stopScan and the next startScan.
		return
	}

	dev, created := s.reg.Apply(adv)
	if created {
		s.logger.WithFields(logrus.Fields{
			"device":  dev.DisplayName(),
			"address": dev.Address,
			"rssi":    dev.RSSI,
		}).Info("Discovered new device")
		s.bus.Publish(events.Event{Kind: events.KindDeviceDiscovered, Device: dev})
	} else {
		s.bus.Publish(events.Event{Kind: events.KindDeviceUpdated, Device: dev})
	}
}

// handleAdapterState reacts to radio state transitions. Runs on the
// driver callback goroutine; driver callbacks are serialized.
func (s *Session) handleAdapterState(st device.AdapterState) {
	s.logger.WithField("state", st).Info("Adapter state changed")
	s.bus.Publish(events.Event{Kind: events.KindAdapterState, AdapterState: st})

	s.scanMu.Lock()
	defer s.scanMu.Unlock()

	if st == device.AdapterPoweredOn {
		if s.scanWanted {
			s.startScanLocked()
		}
		return
	}
	// Anything but poweredOn halts discovery; scanWanted is preserved so
	// the scan resumes when power returns.
	s.stopScanLocked()
}

// lockDevice serializes connect/disconnect per device id. The returned
// func releases the lock. Lock entries are refcounted so the map does not
// grow with every id ever touched.
func (s *Session) lockDevice(id string) func() {
	s.flightMu.Lock()
	f := s.flights[id]
	if f == nil {
		f = &flight{}
		s.flights[id] = f
	}
	f.refs++
	s.flightMu.Unlock()

	f.mu.Lock()
	return func() {
		f.mu.Unlock()
		s.flightMu.Lock()
		f.refs--
		if f.refs == 0 {
			delete(s.flights, id)
		}
		s.flightMu.Unlock()
	}
}
