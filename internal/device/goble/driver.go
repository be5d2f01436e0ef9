// Package goble implements device.Driver on top of go-ble.
package goble

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/srg/hearlink/internal/device"
)

// DefaultConnectTimeout bounds a single dial attempt when the caller's
// context carries no deadline of its own.
const DefaultConnectTimeout = 30 * time.Second

// Driver is the go-ble backed radio driver.
//
// go-ble has no adapter state callback API, so state is inferred: a
// successfully initialized device means poweredOn, and operations failing
// with the platform's "Bluetooth off" error flip the state to poweredOff.
// The handle table holds every peripheral address seen by a scan since
// process start.
type Driver struct {
	logger *logrus.Logger

	mu           sync.RWMutex
	dev          ble.Device
	state        device.AdapterState
	stateHandler func(device.AdapterState)
	handles      map[string]struct{}
	clients      map[string]ble.Client
}

// New creates an uninitialized driver. The underlying ble.Device is
// created lazily on first use via DeviceFactory.
func New(logger *logrus.Logger) *Driver {
	if logger == nil {
		logger = logrus.New()
	}
	return &Driver{
		logger:  logger,
		state:   device.AdapterUnknown,
		handles: make(map[string]struct{}),
		clients: make(map[string]ble.Client),
	}
}

// State implements device.Driver.
func (d *Driver) State() device.AdapterState {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

// SetStateHandler implements device.Driver.
func (d *Driver) SetStateHandler(fn func(device.AdapterState)) {
	d.mu.Lock()
	d.stateHandler = fn
	d.mu.Unlock()
}

// Init creates the underlying ble.Device eagerly so the adapter state is
// known before the first scan request.
func (d *Driver) Init() error {
	_, err := d.ensureDevice()
	return err
}

func (d *Driver) ensureDevice() (ble.Device, error) {
	d.mu.Lock()
	if d.dev != nil {
		dev := d.dev
		d.mu.Unlock()
		return dev, nil
	}
	d.mu.Unlock()

	dev, err := DeviceFactory()
	if err != nil {
		err = device.NormalizeError(err)
		if errors.Is(err, device.ErrBluetoothOff) {
			d.setState(device.AdapterPoweredOff)
		} else {
			d.setState(device.AdapterUnknown)
		}
		return nil, fmt.Errorf("failed to create BLE device: %w", err)
	}

	d.mu.Lock()
	d.dev = dev
	d.mu.Unlock()
	ble.SetDefaultDevice(dev)

	d.setState(device.AdapterPoweredOn)
	return dev, nil
}

// setState records a transition and fires the handler outside the lock.
func (d *Driver) setState(st device.AdapterState) {
	d.mu.Lock()
	if d.state == st {
		d.mu.Unlock()
		return
	}
	d.state = st
	fn := d.stateHandler
	d.mu.Unlock()

	d.logger.WithField("state", st).Debug("Adapter state inferred")
	if fn != nil {
		fn(st)
	}
}

// Scan implements device.Driver. Every report's address is recorded in
// the handle table before the handler runs.
func (d *Driver) Scan(ctx context.Context, allowDuplicates bool, handler func(device.Advertisement)) error {
	dev, err := d.ensureDevice()
	if err != nil {
		return err
	}

	bleHandler := func(adv ble.Advertisement) {
		id := adv.Addr().String()
		d.mu.Lock()
		d.handles[id] = struct{}{}
		d.mu.Unlock()
		handler(NewBLEAdvertisement(adv))
	}

	err = dev.Scan(ctx, allowDuplicates, bleHandler)
	if err != nil {
		err = device.NormalizeError(err)
		if errors.Is(err, device.ErrBluetoothOff) {
			d.setState(device.AdapterPoweredOff)
		}
		return err
	}
	return nil
}

// Knows implements device.Driver.
func (d *Driver) Knows(id string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.handles[id]
	return ok
}

// Connect implements device.Driver.
func (d *Driver) Connect(ctx context.Context, id string) error {
	if _, err := d.ensureDevice(); err != nil {
		return err
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultConnectTimeout)
		defer cancel()
	}

	client, err := ble.Dial(ctx, ble.NewAddr(id))
	if err != nil {
		return device.NormalizeError(err)
	}

	d.mu.Lock()
	d.clients[id] = client
	d.mu.Unlock()
	return nil
}

// DiscoverServices implements device.Driver. Returns normalized service
// UUIDs sorted for stable comparison.
func (d *Driver) DiscoverServices(_ context.Context, id string) ([]string, error) {
	d.mu.RLock()
	client := d.clients[id]
	d.mu.RUnlock()
	if client == nil {
		return nil, device.ErrNotConnected
	}

	profile, err := client.DiscoverProfile(true)
	if err != nil {
		// A failed discovery leaves the link in an undefined state; drop it.
		_ = client.CancelConnection()
		d.mu.Lock()
		delete(d.clients, id)
		d.mu.Unlock()
		return nil, device.NormalizeError(err)
	}

	services := make([]string, 0, len(profile.Services))
	for _, svc := range profile.Services {
		services = append(services, device.NormalizeUUID(svc.UUID.String()))
	}
	sort.Strings(services)
	return services, nil
}

// Disconnect implements device.Driver.
func (d *Driver) Disconnect(_ context.Context, id string) error {
	d.mu.Lock()
	client := d.clients[id]
	delete(d.clients, id)
	d.mu.Unlock()

	if client == nil {
		return device.ErrNotConnected
	}
	if err := client.CancelConnection(); err != nil {
		return device.NormalizeError(err)
	}
	return nil
}
