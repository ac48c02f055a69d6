// Package udpio defines the UDP socket boundary shared by the network
// manager and the provisioning DHCP responder. The rp2 platform backs it
// with the TinyGo netdev stack; the host platform uses stdlib sockets.
package udpio

import "net/netip"

// Conn is one bound UDP socket, used for both sending and receiving on
// the same local port.
type Conn interface {
	SendTo(b []byte, to netip.AddrPort) (int, error)
	// RecvFrom waits up to a short implementation-chosen deadline.
	// It returns n == 0 with a nil error on deadline expiry so callers
	// can poll a stop condition, and a non-nil error once the socket
	// is closed.
	RecvFrom(b []byte) (int, netip.AddrPort, error)
	Close() error
}

// Sockets opens bound UDP sockets on the device's interface.
type Sockets interface {
	ListenUDP(port uint16) (Conn, error)
}

// LimitedBroadcast is the all-ones broadcast address. Some receivers
// filter the subnet-directed form but not this one, or vice versa, so
// telemetry goes to both.
var LimitedBroadcast = netip.AddrFrom4([4]byte{255, 255, 255, 255})

// SubnetBroadcast computes the directed broadcast address of prefix.
func SubnetBroadcast(prefix netip.Prefix) netip.Addr {
	if !prefix.Addr().Is4() {
		return LimitedBroadcast
	}
	a := prefix.Addr().As4()
	bits := prefix.Bits()
	if bits < 0 || bits > 32 {
		return LimitedBroadcast
	}
	host := uint32(a[0])<<24 | uint32(a[1])<<16 | uint32(a[2])<<8 | uint32(a[3])
	mask := uint32(0)
	if bits > 0 {
		mask = ^uint32(0) << (32 - bits)
	}
	bcast := host | ^mask
	return netip.AddrFrom4([4]byte{
		byte(bcast >> 24), byte(bcast >> 16), byte(bcast >> 8), byte(bcast),
	})
}
