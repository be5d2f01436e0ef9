package session_test

import (
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/hearlink/internal/device"
	"github.com/srg/hearlink/internal/events"
	"github.com/srg/hearlink/internal/session"
	"github.com/srg/hearlink/internal/testutils"
)

const eventuallyTick = 5 * time.Millisecond

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

// eventRecorder captures bus events for assertions.
type eventRecorder struct {
	mu  sync.Mutex
	evs []events.Event
}

func recordEvents(bus *events.Bus) *eventRecorder {
	rec := &eventRecorder{}
	bus.SubscribeAll(func(ev events.Event) {
		rec.mu.Lock()
		rec.evs = append(rec.evs, ev)
		rec.mu.Unlock()
	})
	return rec
}

func (r *eventRecorder) snapshot() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Event(nil), r.evs...)
}

func (r *eventRecorder) countKind(kind events.Kind) int {
	n := 0
	for _, ev := range r.snapshot() {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func startScanning(t *testing.T, sess *session.Session, drv *testutils.FakeDriver) {
	t.Helper()
	require.NoError(t, sess.StartScan())
	require.Eventually(t, drv.Scanning, time.Second, eventuallyTick,
		"driver scan loop must become active")
}

func TestStartScan(t *testing.T) {
	t.Run("fails with AdapterNotReady when powered off", func(t *testing.T) {
		drv := testutils.NewFakeDriver()
		drv.SetAdapterState(device.AdapterPoweredOff)
		sess := session.New(drv, newTestLogger())

		err := sess.StartScan()

		require.Error(t, err)
		var notReady *device.AdapterNotReadyError
		require.ErrorAs(t, err, &notReady)
		assert.Equal(t, device.AdapterPoweredOff, notReady.State)
		assert.False(t, sess.Scanning())
	})

	t.Run("clears previously discovered devices", func(t *testing.T) {
		drv := testutils.NewFakeDriver()
		sess := session.New(drv, newTestLogger())

		startScanning(t, sess, drv)
		drv.Advertise(testutils.NewAdvertisement("d1").WithName("Aid L").WithRSSI(-60).Build())
		require.Len(t, sess.Devices(), 1)

		sess.StopScan()
		startScanning(t, sess, drv)

		// The fresh-view contract: d1 is gone until rediscovered.
		assert.Empty(t, sess.Devices())

		drv.Advertise(testutils.NewAdvertisement("d1").WithName("Aid L").WithRSSI(-58).Build())
		assert.Len(t, sess.Devices(), 1)
	})
}

func TestStopScan(t *testing.T) {
	t.Run("is idempotent", func(t *testing.T) {
		drv := testutils.NewFakeDriver()
		sess := session.New(drv, newTestLogger())

		startScanning(t, sess, drv)

		sess.StopScan()
		assert.False(t, sess.Scanning())

		// Second stop without an active scan is still fine.
		sess.StopScan()
		assert.False(t, sess.Scanning())
	})
}

func TestDiscovery(t *testing.T) {
	t.Run("duplicate advertisement updates RSSI in place", func(t *testing.T) {
		drv := testutils.NewFakeDriver()
		sess := session.New(drv, newTestLogger())
		rec := recordEvents(sess.Bus())

		startScanning(t, sess, drv)

		drv.Advertise(testutils.NewAdvertisement("d1").WithName("Aid L").WithRSSI(-60).Build())
		drv.Advertise(testutils.NewAdvertisement("d1").WithName("Aid L").WithRSSI(-72).Build())

		devs := sess.Devices()
		require.Len(t, devs, 1)
		assert.Equal(t, "d1", devs[0].ID)
		assert.Equal(t, "d1", devs[0].Address)
		assert.Equal(t, -72, devs[0].RSSI)

		assert.Equal(t, 1, rec.countKind(events.KindDeviceDiscovered))
		assert.Equal(t, 1, rec.countKind(events.KindDeviceUpdated))
	})

	t.Run("missing name falls back to placeholder", func(t *testing.T) {
		drv := testutils.NewFakeDriver()
		sess := session.New(drv, newTestLogger())

		startScanning(t, sess, drv)
		drv.Advertise(testutils.NewAdvertisement("d2").WithRSSI(-50).Build())

		dev, ok := sess.Registry().Get("d2")
		require.True(t, ok)
		assert.Equal(t, device.PlaceholderName, dev.Name)
		assert.Equal(t, device.StateDisconnected, dev.State)
	})

	t.Run("sequence numbers increase per mutation", func(t *testing.T) {
		drv := testutils.NewFakeDriver()
		sess := session.New(drv, newTestLogger())

		startScanning(t, sess, drv)
		drv.Advertise(testutils.NewAdvertisement("d1").WithRSSI(-60).Build())
		first, _ := sess.Registry().Get("d1")
		drv.Advertise(testutils.NewAdvertisement("d1").WithRSSI(-61).Build())
		second, _ := sess.Registry().Get("d1")

		assert.Greater(t, second.Seq, first.Seq)
	})
}

func TestAdapterStateMonitor(t *testing.T) {
	t.Run("poweredOff halts scanning, poweredOn resumes", func(t *testing.T) {
		drv := testutils.NewFakeDriver()
		sess := session.New(drv, newTestLogger())
		rec := recordEvents(sess.Bus())

		startScanning(t, sess, drv)
		drv.Advertise(testutils.NewAdvertisement("d1").WithRSSI(-60).Build())

		drv.SetAdapterState(device.AdapterPoweredOff)
		assert.False(t, sess.Scanning())
		require.Eventually(t, func() bool { return !drv.Scanning() }, time.Second, eventuallyTick)

		// No discovery events while the radio is down.
		discoveredBefore := rec.countKind(events.KindDeviceDiscovered)
		delivered := drv.Advertise(testutils.NewAdvertisement("d9").WithRSSI(-40).Build())
		assert.False(t, delivered, "no scan must be active to receive reports")
		assert.Equal(t, discoveredBefore, rec.countKind(events.KindDeviceDiscovered))

		// Power restored: the preserved scan-wanted flag resumes discovery.
		drv.SetAdapterState(device.AdapterPoweredOn)
		assert.True(t, sess.Scanning())
		require.Eventually(t, drv.Scanning, time.Second, eventuallyTick)
		assert.Equal(t, 2, drv.ScanCount())
	})

	t.Run("publishes stateChange on every transition", func(t *testing.T) {
		drv := testutils.NewFakeDriver()
		sess := session.New(drv, newTestLogger())
		rec := recordEvents(sess.Bus())

		drv.SetAdapterState(device.AdapterResetting)
		drv.SetAdapterState(device.AdapterPoweredOn)

		var states []device.AdapterState
		for _, ev := range rec.snapshot() {
			if ev.Kind == events.KindAdapterState {
				states = append(states, ev.AdapterState)
			}
		}
		assert.Equal(t, []device.AdapterState{device.AdapterResetting, device.AdapterPoweredOn}, states)
	})

	t.Run("stopScan clears the resume flag", func(t *testing.T) {
		drv := testutils.NewFakeDriver()
		sess := session.New(drv, newTestLogger())

		startScanning(t, sess, drv)
		drv.SetAdapterState(device.AdapterPoweredOff)
		sess.StopScan()

		drv.SetAdapterState(device.AdapterPoweredOn)
		assert.False(t, sess.Scanning(), "an explicitly stopped scan must not resume")
	})
}
