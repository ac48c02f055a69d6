package platform

import (
	"net"
	"net/netip"
	"time"

	"stagebridge/x/udpio"
)

// recvPoll bounds a single blocking read so receive loops can observe
// their stop channel.
const recvPoll = 50 * time.Millisecond

// netSockets backs udpio with the net package. On rp2 builds the probe
// routes net through the radio's netdev; on hosts it is the OS stack, so
// the same implementation serves both targets.
type netSockets struct{}

func (netSockets) ListenUDP(port uint16) (udpio.Conn, error) {
	c, err := net.ListenUDP("udp4", &net.UDPAddr{Port: int(port)})
	if err != nil {
		return nil, err
	}
	return &netConn{c: c}, nil
}

type netConn struct {
	c *net.UDPConn
}

func (c *netConn) SendTo(b []byte, to netip.AddrPort) (int, error) {
	return c.c.WriteToUDP(b, &net.UDPAddr{IP: to.Addr().AsSlice(), Port: int(to.Port())})
}

func (c *netConn) RecvFrom(b []byte) (int, netip.AddrPort, error) {
	c.c.SetReadDeadline(time.Now().Add(recvPoll))
	n, from, err := c.c.ReadFromUDP(b)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return 0, netip.AddrPort{}, nil
		}
		return 0, netip.AddrPort{}, err
	}
	addr, ok := netip.AddrFromSlice(from.IP)
	if !ok {
		return 0, netip.AddrPort{}, nil
	}
	return n, netip.AddrPortFrom(addr.Unmap(), uint16(from.Port)), nil
}

func (c *netConn) Close() error { return c.c.Close() }
