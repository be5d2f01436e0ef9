package session

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/srg/hearlink/internal/device"
	"github.com/srg/hearlink/internal/events"
)

// Connect drives a device through disconnected -> connecting -> connected.
//
// The id must be present in the driver's handle table; otherwise
// NotFoundError is returned and no event is emitted. Connect and
// Disconnect for the same id are serialized: a second operation queues
// behind the in-flight one instead of interleaving state writes.
//
// Any driver failure, whether during connect or during service
// discovery, resets the device to disconnected, emits the update event and surfaces
// the driver's message verbatim. The caller never observes a device stuck
// in connecting.
func (s *Session) Connect(ctx context.Context, id string) error {
	if !s.drv.Knows(id) {
		return &device.NotFoundError{ID: id}
	}

	unlock := s.lockDevice(id)
	defer unlock()

	s.logger.WithField("device", id).Info("Connecting to device...")
	s.publishState(id, device.StateConnecting)

	if err := s.drv.Connect(ctx, id); err != nil {
		s.publishState(id, device.StateDisconnected)
		return &device.OperationError{Op: "connect", ID: id, Err: device.NormalizeError(err)}
	}

	services, err := s.drv.DiscoverServices(ctx, id)
	if err != nil {
		s.publishState(id, device.StateDisconnected)
		return &device.OperationError{Op: "discover services", ID: id, Err: device.NormalizeError(err)}
	}

	dev := s.reg.SetConnected(id, services)
	s.bus.Publish(events.Event{Kind: events.KindDeviceUpdated, Device: dev})

	s.logger.WithFields(logrus.Fields{
		"device":   id,
		"services": len(services),
	}).Info("Device connected")
	return nil
}

// Disconnect drives a device through disconnecting -> disconnected.
//
// Both the success and the failure path end on disconnected; a driver
// failure is still returned to the caller after the state has been reset.
func (s *Session) Disconnect(ctx context.Context, id string) error {
	if !s.drv.Knows(id) {
		return &device.NotFoundError{ID: id}
	}

	unlock := s.lockDevice(id)
	defer unlock()

	s.logger.WithField("device", id).Info("Disconnecting from device...")
	s.publishState(id, device.StateDisconnecting)

	err := s.drv.Disconnect(ctx, id)
	s.publishState(id, device.StateDisconnected)

	if err != nil {
		return &device.OperationError{Op: "disconnect", ID: id, Err: device.NormalizeError(err)}
	}

	s.logger.WithField("device", id).Info("Device disconnected")
	return nil
}

func (s *Session) publishState(id string, state device.ConnState) {
	dev := s.reg.SetState(id, state)
	s.bus.Publish(events.Event{Kind: events.KindDeviceUpdated, Device: dev})
}
