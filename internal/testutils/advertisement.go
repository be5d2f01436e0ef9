// Package testutils provides the fake radio driver and advertisement
// builders the session, bridge and mirror tests are written against.
package testutils

import "github.com/srg/hearlink/internal/device"

// Advertisement is a plain-value implementation of device.Advertisement.
type Advertisement struct {
	Address      string
	Name         string
	Signal       int
	ServiceUUIDs []string
	CanConnect   bool
}

func (a Advertisement) Addr() string       { return a.Address }
func (a Advertisement) LocalName() string  { return a.Name }
func (a Advertisement) RSSI() int          { return a.Signal }
func (a Advertisement) Services() []string { return a.ServiceUUIDs }
func (a Advertisement) Connectable() bool  { return a.CanConnect }

// AdvertisementBuilder builds test advertisements with a fluent API.
type AdvertisementBuilder struct {
	adv Advertisement
}

// NewAdvertisement starts a builder for the given peripheral address.
func NewAdvertisement(address string) *AdvertisementBuilder {
	return &AdvertisementBuilder{adv: Advertisement{Address: address, CanConnect: true}}
}

// WithName sets the advertised local name.
func (b *AdvertisementBuilder) WithName(name string) *AdvertisementBuilder {
	b.adv.Name = name
	return b
}

// WithRSSI sets the signal strength.
func (b *AdvertisementBuilder) WithRSSI(rssi int) *AdvertisementBuilder {
	b.adv.Signal = rssi
	return b
}

// WithServices sets the advertised service UUIDs.
func (b *AdvertisementBuilder) WithServices(uuids ...string) *AdvertisementBuilder {
	b.adv.ServiceUUIDs = uuids
	return b
}

// Build returns the advertisement.
func (b *AdvertisementBuilder) Build() device.Advertisement {
	return b.adv
}
