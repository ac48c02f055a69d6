package netmgr

import "net/netip"

// LinkStatus is the live link state read back from the radio driver.
// CheckConnection re-reads this rather than trusting cached application
// state, so silent drops surface promptly.
type LinkStatus uint8

const (
	LinkDown LinkStatus = iota
	LinkJoining
	LinkUp
	LinkNoNet   // SSID not found
	LinkBadAuth // credentials rejected
	LinkFailed  // any other driver-reported failure
)

// Radio is the wireless driver boundary. The rp2 platform adapts the
// TinyGo netlink driver; tests and the host build use fakes.
type Radio interface {
	// StartConnect issues a non-blocking association request.
	StartConnect(ssid, secret string) error
	// LinkStatus reads the current link state from the driver.
	LinkStatus() LinkStatus
	// RSSI is the current signal strength in dBm (0 when unknown).
	RSSI() int32
	// HardwareAddr is the station MAC address.
	HardwareAddr() [6]byte
	// DeviceAddr is the assigned interface address and prefix.
	DeviceAddr() (netip.Prefix, error)
	// Disconnect leaves the current network.
	Disconnect()
	// StartAP brings the radio up as an open access point with the
	// given static address (provisioning only).
	StartAP(ssid string, addr netip.Prefix) error
}
