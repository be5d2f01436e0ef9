package mirror

import (
	"context"
	"sync"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/hearlink/internal/bridge"
	"github.com/srg/hearlink/internal/device"
	"github.com/srg/hearlink/internal/events"
)

// Options configures replica behavior.
type Options struct {
	// PollInterval is the reconciliation poll period. The poll is the
	// correctness net under the lossy push channel.
	PollInterval time.Duration `default:"1s"`

	// FailedClearAfter is how long a device keeps its failed display
	// status after a connect/disconnect command came back unsuccessful.
	FailedClearAfter time.Duration `default:"3s"`
}

// DefaultOptions returns the standard 1s poll / 3s failed-clear options.
func DefaultOptions() *Options {
	opts := &Options{}
	defaults.SetDefaults(opts)
	return opts
}

// Mirror is the presentation-side device replica.
//
// It is never authoritative: push events and poll responses both
// originate from the host, and records merge last-writer-wins by the
// host-assigned per-device sequence. Devices keep their insertion order
// so a rendered list does not jump around between updates.
type Mirror struct {
	client CommandClient
	logger *logrus.Logger
	bus    *events.Bus
	opts   Options

	mu      sync.RWMutex
	adapter device.AdapterState
	devices *orderedmap.OrderedMap[string, device.Device]
	failed  map[string]time.Time
}

// New creates a mirror over client. Run must be called to start
// replication.
func New(client CommandClient, opts *Options, logger *logrus.Logger) *Mirror {
	if logger == nil {
		logger = logrus.New()
	}
	if opts == nil {
		opts = DefaultOptions()
	}

	return &Mirror{
		client:  client,
		logger:  logger,
		bus:     events.NewBus(),
		opts:    *opts,
		adapter: device.AdapterUnknown,
		devices: orderedmap.New[string, device.Device](),
		failed:  make(map[string]time.Time),
	}
}

// Subscribe registers a presentation handler for replicated events.
func (m *Mirror) Subscribe(kind events.Kind, fn events.Handler) *events.Subscription {
	return m.bus.Subscribe(kind, fn)
}

// AdapterState returns the replicated adapter state.
func (m *Mirror) AdapterState() device.AdapterState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.adapter
}

// Devices returns the replica snapshot in insertion order.
func (m *Mirror) Devices() []device.Device {
	m.mu.RLock()
	defer m.mu.RUnlock()

	devs := make([]device.Device, 0, m.devices.Len())
	for pair := m.devices.Oldest(); pair != nil; pair = pair.Next() {
		devs = append(devs, pair.Value)
	}
	return devs
}

// Get returns one replicated record.
func (m *Mirror) Get(id string) (device.Device, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.devices.Get(id)
	return d, ok
}

// DisplayState returns what the presentation layer should render for a
// device: "failed" during the post-failure window, the replicated
// connection state otherwise.
func (m *Mirror) DisplayState(id string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if until, ok := m.failed[id]; ok && time.Now().Before(until) {
		return "failed"
	}
	if d, ok := m.devices.Get(id); ok {
		return string(d.State)
	}
	return string(device.StateDisconnected)
}

// Run drives replication until ctx is canceled: it consumes push events
// and polls getDevices every PollInterval as the reconciliation net.
func (m *Mirror) Run(ctx context.Context) {
	ticker := time.NewTicker(m.opts.PollInterval)
	defer ticker.Stop()

	pushes := m.client.Events()

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-pushes:
			if !ok {
				m.logger.Warn("Push channel closed, mirror stopping")
				return
			}
			m.applyPush(msg)

		case <-ticker.C:
			m.poll(ctx)
		}
	}
}

// StartScan forwards the command and, on success, clears the replica to
// match the host's fresh-view contract. Pending failed display windows
// go too: they belong to the pre-scan session.
func (m *Mirror) StartScan(ctx context.Context) error {
	if err := m.client.StartScan(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	m.devices = orderedmap.New[string, device.Device]()
	m.failed = make(map[string]time.Time)
	m.mu.Unlock()
	return nil
}

// StopScan forwards the command.
func (m *Mirror) StopScan(ctx context.Context) error {
	return m.client.StopScan(ctx)
}

// Connect forwards the command; an unsuccessful result marks the device
// failed for the configured window.
func (m *Mirror) Connect(ctx context.Context, id string) error {
	err := m.client.Connect(ctx, id)
	if err != nil {
		m.markFailed(id)
	}
	return err
}

// Disconnect forwards the command with the same failure handling.
func (m *Mirror) Disconnect(ctx context.Context, id string) error {
	err := m.client.Disconnect(ctx, id)
	if err != nil {
		m.markFailed(id)
	}
	return err
}

// applyPush applies one push envelope directly: discovered inserts or
// overwrites, updated overwrites by id.
func (m *Mirror) applyPush(msg bridge.Message) {
	switch msg.Channel {
	case bridge.EvtStateChange:
		m.mu.Lock()
		m.adapter = msg.AdapterState
		m.mu.Unlock()
		m.bus.Publish(events.Event{Kind: events.KindAdapterState, AdapterState: msg.AdapterState})

	case bridge.EvtDeviceDiscovered, bridge.EvtDeviceUpdated:
		if msg.Device == nil {
			m.logger.WithField("channel", msg.Channel).Warn("Push event without device payload")
			return
		}
		m.mu.Lock()
		m.devices.Set(msg.Device.ID, *msg.Device)
		m.mu.Unlock()

		kind := events.KindDeviceUpdated
		if msg.Channel == bridge.EvtDeviceDiscovered {
			kind = events.KindDeviceDiscovered
		}
		m.bus.Publish(events.Event{Kind: kind, Device: *msg.Device})
	}
}

// poll reconciles the replica against a getDevices snapshot. A polled
// record wins only when its sequence is newer than the local copy; a
// stale snapshot (taken before a push that already arrived) can therefore
// not roll the replica back.
func (m *Mirror) poll(ctx context.Context) {
	devs, err := m.client.GetDevices(ctx)
	if err != nil {
		m.logger.WithError(err).Debug("Reconciliation poll failed")
		return
	}

	type change struct {
		dev device.Device
		new bool
	}
	var changes []change

	m.mu.Lock()
	for _, d := range devs {
		local, ok := m.devices.Get(d.ID)
		if ok && local.Seq >= d.Seq {
			continue
		}
		m.devices.Set(d.ID, d)
		changes = append(changes, change{dev: d, new: !ok})
	}
	m.mu.Unlock()

	for _, ch := range changes {
		kind := events.KindDeviceUpdated
		if ch.new {
			kind = events.KindDeviceDiscovered
		}
		m.bus.Publish(events.Event{Kind: kind, Device: ch.dev})
	}
}

// markFailed records the failure window and schedules its auto-clear,
// independent of any host-side event.
func (m *Mirror) markFailed(id string) {
	until := time.Now().Add(m.opts.FailedClearAfter)

	m.mu.Lock()
	m.failed[id] = until
	m.mu.Unlock()

	time.AfterFunc(m.opts.FailedClearAfter, func() {
		m.mu.Lock()
		cleared := false
		if u, ok := m.failed[id]; ok && !u.After(until) {
			delete(m.failed, id)
			cleared = true
		}
		dev, known := m.devices.Get(id)
		m.mu.Unlock()

		// Reverting to the true state is presentation-visible, so tell
		// subscribers to re-render.
		if cleared && known {
			m.bus.Publish(events.Event{Kind: events.KindDeviceUpdated, Device: dev})
		}
	})
}
