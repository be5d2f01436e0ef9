// Package bridge exposes the host session across the process boundary:
// a WebSocket endpoint carrying command/response envelopes plus
// fire-and-forget push events. The wire contract is result-object based:
// host-side errors travel as {success:false, error} payloads, never as
// anything that could tear down the channel.
package bridge

import (
	"github.com/srg/hearlink/internal/device"
	"github.com/srg/hearlink/internal/events"
)

// Envelope types.
const (
	TypeCommand = "command"
	TypeResult  = "result"
	TypeEvent   = "event"
)

// Command channels.
const (
	CmdStartScan  = "startScan"
	CmdStopScan   = "stopScan"
	CmdGetDevices = "getDevices"
	CmdConnect    = "connect"
	CmdDisconnect = "disconnect"
)

// Event channels. They deliberately match the events.Kind values so the
// bus kind doubles as the wire channel name.
const (
	EvtStateChange      = string(events.KindAdapterState)
	EvtDeviceDiscovered = string(events.KindDeviceDiscovered)
	EvtDeviceUpdated    = string(events.KindDeviceUpdated)
)

// Message is the single JSON envelope for commands, results and events.
// Which fields are populated depends on Type and Channel.
type Message struct {
	Type    string `json:"type"`
	ID      uint64 `json:"id,omitempty"`
	Channel string `json:"channel"`

	// Command input.
	DeviceID string `json:"deviceId,omitempty"`

	// Result payload.
	Result  *Result         `json:"result,omitempty"`
	Devices []device.Device `json:"devices,omitempty"`

	// Event payload.
	AdapterState device.AdapterState `json:"adapterState,omitempty"`
	Device       *device.Device      `json:"device,omitempty"`
}

// Result is the typed outcome of an action command.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// EventMessage converts a bus event into its wire envelope.
func EventMessage(ev events.Event) Message {
	msg := Message{Type: TypeEvent, Channel: string(ev.Kind)}
	switch ev.Kind {
	case events.KindAdapterState:
		msg.AdapterState = ev.AdapterState
	case events.KindDeviceDiscovered, events.KindDeviceUpdated:
		dev := ev.Device
		msg.Device = &dev
	}
	return msg
}
