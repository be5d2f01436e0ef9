package device

// PlaceholderName is used for devices that do not advertise a local name.
const PlaceholderName = "(unknown)"

// ConnState represents the connection lifecycle of a single device.
//
// Transitions are owned exclusively by the session's connection state
// machine: disconnected -> connecting -> connected -> disconnecting ->
// disconnected. Any failure along the way lands back on disconnected.
type ConnState string

const (
	StateDisconnected  ConnState = "disconnected"
	StateConnecting    ConnState = "connecting"
	StateConnected     ConnState = "connected"
	StateDisconnecting ConnState = "disconnecting"
)

// AdapterState represents the power/permission state of the local radio.
type AdapterState string

const (
	AdapterUnknown      AdapterState = "unknown"
	AdapterPoweredOn    AdapterState = "poweredOn"
	AdapterPoweredOff   AdapterState = "poweredOff"
	AdapterUnauthorized AdapterState = "unauthorized"
	AdapterUnsupported  AdapterState = "unsupported"
	AdapterResetting    AdapterState = "resetting"
)

// Device is the canonical record for one discovered peripheral.
//
// Seq is a per-device version assigned by the host registry on every
// mutation. The mirror's merge rule is last-writer-wins by Seq, which is
// what makes the push+poll replica provably convergent.
type Device struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Address  string    `json:"address"`
	RSSI     int       `json:"rssi"`
	State    ConnState `json:"state"`
	Services []string  `json:"services"`
	Seq      uint64    `json:"seq"`
}

// DisplayName returns the name, falling back to the address when the
// record only carries the placeholder.
func (d Device) DisplayName() string {
	if d.Name == "" || d.Name == PlaceholderName {
		if d.Address != "" {
			return d.Address
		}
		return PlaceholderName
	}
	return d.Name
}
