package mirror_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/hearlink/internal/bridge"
	"github.com/srg/hearlink/internal/device"
	"github.com/srg/hearlink/internal/events"
	"github.com/srg/hearlink/internal/mirror"
)

const eventuallyTick = 5 * time.Millisecond

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

// fakeCommandClient scripts command outcomes and feeds push envelopes.
type fakeCommandClient struct {
	mu            sync.Mutex
	pollDevices   []device.Device
	startScanErr  error
	connectErr    error
	disconnectErr error
	calls         []string

	pushes chan bridge.Message
}

func newFakeCommandClient() *fakeCommandClient {
	return &fakeCommandClient{pushes: make(chan bridge.Message, 64)}
}

func (f *fakeCommandClient) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeCommandClient) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeCommandClient) SetPollDevices(devs ...device.Device) {
	f.mu.Lock()
	f.pollDevices = devs
	f.mu.Unlock()
}

func (f *fakeCommandClient) Push(msg bridge.Message) {
	f.pushes <- msg
}

func (f *fakeCommandClient) StartScan(context.Context) error {
	f.record("startScan")
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.startScanErr
}

func (f *fakeCommandClient) StopScan(context.Context) error {
	f.record("stopScan")
	return nil
}

func (f *fakeCommandClient) GetDevices(context.Context) ([]device.Device, error) {
	f.record("getDevices")
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]device.Device(nil), f.pollDevices...), nil
}

func (f *fakeCommandClient) Connect(_ context.Context, id string) error {
	f.record("connect " + id)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connectErr
}

func (f *fakeCommandClient) Disconnect(_ context.Context, id string) error {
	f.record("disconnect " + id)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnectErr
}

func (f *fakeCommandClient) Events() <-chan bridge.Message {
	return f.pushes
}

// fastOptions keeps test timing tight: 20ms poll, 60ms failed window.
func fastOptions() *mirror.Options {
	return &mirror.Options{
		PollInterval:     20 * time.Millisecond,
		FailedClearAfter: 60 * time.Millisecond,
	}
}

func runMirror(t *testing.T, m *mirror.Mirror) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go m.Run(ctx)
}

func deviceMsg(channel string, d device.Device) bridge.Message {
	return bridge.Message{Type: bridge.TypeEvent, Channel: channel, Device: &d}
}

func TestMirrorApplyPush(t *testing.T) {
	t.Run("discovered device replicates field for field", func(t *testing.T) {
		client := newFakeCommandClient()
		m := mirror.New(client, fastOptions(), newTestLogger())
		runMirror(t, m)

		want := device.Device{
			ID: "d1", Name: "Aid L", Address: "d1", RSSI: -60,
			State: device.StateDisconnected, Services: []string{"fd6f"}, Seq: 4,
		}
		client.Push(deviceMsg(bridge.EvtDeviceDiscovered, want))

		require.Eventually(t, func() bool {
			_, ok := m.Get("d1")
			return ok
		}, time.Second, eventuallyTick)

		got, _ := m.Get("d1")
		assert.Equal(t, want, got)
	})

	t.Run("updated overwrites by id", func(t *testing.T) {
		client := newFakeCommandClient()
		m := mirror.New(client, fastOptions(), newTestLogger())
		runMirror(t, m)

		client.Push(deviceMsg(bridge.EvtDeviceDiscovered, device.Device{ID: "d1", RSSI: -60, Seq: 1}))
		client.Push(deviceMsg(bridge.EvtDeviceUpdated, device.Device{ID: "d1", RSSI: -72, Seq: 2}))

		require.Eventually(t, func() bool {
			d, ok := m.Get("d1")
			return ok && d.RSSI == -72
		}, time.Second, eventuallyTick)
		assert.Len(t, m.Devices(), 1)
	})

	t.Run("adapter state change replicates and republishes", func(t *testing.T) {
		client := newFakeCommandClient()
		m := mirror.New(client, fastOptions(), newTestLogger())

		var got []device.AdapterState
		var mu sync.Mutex
		m.Subscribe(events.KindAdapterState, func(ev events.Event) {
			mu.Lock()
			got = append(got, ev.AdapterState)
			mu.Unlock()
		})

		runMirror(t, m)
		client.Push(bridge.Message{
			Type: bridge.TypeEvent, Channel: bridge.EvtStateChange,
			AdapterState: device.AdapterPoweredOff,
		})

		require.Eventually(t, func() bool {
			return m.AdapterState() == device.AdapterPoweredOff
		}, time.Second, eventuallyTick)

		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, []device.AdapterState{device.AdapterPoweredOff}, got)
	})
}

func TestMirrorPoll(t *testing.T) {
	t.Run("recovers records the push channel never delivered", func(t *testing.T) {
		client := newFakeCommandClient()
		client.SetPollDevices(device.Device{ID: "d1", Name: "Aid L", Seq: 3})
		m := mirror.New(client, fastOptions(), newTestLogger())
		runMirror(t, m)

		require.Eventually(t, func() bool {
			_, ok := m.Get("d1")
			return ok
		}, time.Second, eventuallyTick)
	})

	t.Run("stale snapshot cannot roll the replica back", func(t *testing.T) {
		client := newFakeCommandClient()
		m := mirror.New(client, fastOptions(), newTestLogger())
		runMirror(t, m)

		// Push delivered the newer version first.
		client.Push(deviceMsg(bridge.EvtDeviceDiscovered, device.Device{
			ID: "d1", State: device.StateConnected, Seq: 9,
		}))
		require.Eventually(t, func() bool {
			d, ok := m.Get("d1")
			return ok && d.State == device.StateConnected
		}, time.Second, eventuallyTick)

		// The poll answer predates that push.
		client.SetPollDevices(device.Device{ID: "d1", State: device.StateConnecting, Seq: 7})

		time.Sleep(100 * time.Millisecond) // several poll cycles
		d, _ := m.Get("d1")
		assert.Equal(t, device.StateConnected, d.State)
		assert.Equal(t, uint64(9), d.Seq)
	})

	t.Run("newer poll record wins", func(t *testing.T) {
		client := newFakeCommandClient()
		m := mirror.New(client, fastOptions(), newTestLogger())
		runMirror(t, m)

		client.Push(deviceMsg(bridge.EvtDeviceDiscovered, device.Device{ID: "d1", RSSI: -60, Seq: 2}))
		client.SetPollDevices(device.Device{ID: "d1", RSSI: -48, Seq: 5})

		require.Eventually(t, func() bool {
			d, ok := m.Get("d1")
			return ok && d.RSSI == -48
		}, time.Second, eventuallyTick)
	})
}

func TestMirrorStartScanClearsReplica(t *testing.T) {
	client := newFakeCommandClient()
	m := mirror.New(client, fastOptions(), newTestLogger())
	runMirror(t, m)

	client.Push(deviceMsg(bridge.EvtDeviceDiscovered, device.Device{ID: "d1", Seq: 1}))
	require.Eventually(t, func() bool {
		_, ok := m.Get("d1")
		return ok
	}, time.Second, eventuallyTick)

	require.NoError(t, m.StartScan(context.Background()))
	assert.Empty(t, m.Devices())
}

func TestMirrorStartScanClearsFailedWindows(t *testing.T) {
	// A failed status from before the scan must not survive into the
	// fresh view when the device is rediscovered.
	client := newFakeCommandClient()
	client.connectErr = errors.New("connect d1: link timeout")
	opts := fastOptions()
	opts.FailedClearAfter = time.Hour // would outlive the test without the clear
	m := mirror.New(client, opts, newTestLogger())
	runMirror(t, m)

	client.Push(deviceMsg(bridge.EvtDeviceDiscovered, device.Device{
		ID: "d1", State: device.StateDisconnected, Seq: 1,
	}))
	require.Eventually(t, func() bool {
		_, ok := m.Get("d1")
		return ok
	}, time.Second, eventuallyTick)

	require.Error(t, m.Connect(context.Background(), "d1"))
	require.Equal(t, "failed", m.DisplayState("d1"))

	require.NoError(t, m.StartScan(context.Background()))
	client.Push(deviceMsg(bridge.EvtDeviceDiscovered, device.Device{
		ID: "d1", State: device.StateDisconnected, Seq: 2,
	}))
	require.Eventually(t, func() bool {
		_, ok := m.Get("d1")
		return ok
	}, time.Second, eventuallyTick)

	assert.Equal(t, string(device.StateDisconnected), m.DisplayState("d1"))
}

func TestMirrorStartScanFailureKeepsReplica(t *testing.T) {
	client := newFakeCommandClient()
	client.startScanErr = errors.New("adapter not ready: state is poweredOff")
	m := mirror.New(client, fastOptions(), newTestLogger())
	runMirror(t, m)

	client.Push(deviceMsg(bridge.EvtDeviceDiscovered, device.Device{ID: "d1", Seq: 1}))
	require.Eventually(t, func() bool {
		_, ok := m.Get("d1")
		return ok
	}, time.Second, eventuallyTick)

	require.Error(t, m.StartScan(context.Background()))
	assert.Len(t, m.Devices(), 1, "a rejected scan must not wipe the replica")
}

func TestMirrorFailedWindow(t *testing.T) {
	client := newFakeCommandClient()
	client.connectErr = errors.New("connect d1: link timeout")
	m := mirror.New(client, fastOptions(), newTestLogger())
	runMirror(t, m)

	client.Push(deviceMsg(bridge.EvtDeviceDiscovered, device.Device{
		ID: "d1", State: device.StateDisconnected, Seq: 1,
	}))
	require.Eventually(t, func() bool {
		_, ok := m.Get("d1")
		return ok
	}, time.Second, eventuallyTick)

	require.Error(t, m.Connect(context.Background(), "d1"))
	assert.Equal(t, "failed", m.DisplayState("d1"))

	// The failed status clears on its own and subscribers get a repaint.
	repaint := make(chan struct{}, 4)
	m.Subscribe(events.KindDeviceUpdated, func(events.Event) {
		select {
		case repaint <- struct{}{}:
		default:
		}
	})

	require.Eventually(t, func() bool {
		return m.DisplayState("d1") == string(device.StateDisconnected)
	}, time.Second, eventuallyTick)

	select {
	case <-repaint:
	case <-time.After(time.Second):
		t.Fatal("expected a deviceUpdated repaint after the failed window cleared")
	}
}

func TestMirrorDevicesInsertionOrder(t *testing.T) {
	client := newFakeCommandClient()
	m := mirror.New(client, fastOptions(), newTestLogger())
	runMirror(t, m)

	client.Push(deviceMsg(bridge.EvtDeviceDiscovered, device.Device{ID: "b", Seq: 1}))
	client.Push(deviceMsg(bridge.EvtDeviceDiscovered, device.Device{ID: "a", Seq: 2}))
	client.Push(deviceMsg(bridge.EvtDeviceUpdated, device.Device{ID: "b", RSSI: -40, Seq: 3}))

	require.Eventually(t, func() bool {
		d, ok := m.Get("b")
		return ok && d.RSSI == -40
	}, time.Second, eventuallyTick)

	devs := m.Devices()
	require.Len(t, devs, 2)
	// An update must not move a device in the rendered list.
	assert.Equal(t, "b", devs[0].ID)
	assert.Equal(t, "a", devs[1].ID)
}
