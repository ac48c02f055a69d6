// Package dhcpd is a minimal DHCP responder for the provisioning access
// point. It hands out a handful of fixed leases so a phone or laptop can
// join the setup network; it is not a general-purpose DHCP server.
// Renewals fall out naturally: a REQUEST from a known MAC is ACKed with
// the same address.
package dhcpd

import (
	"net/netip"

	"stagebridge/x/udpio"
)

const (
	ServerPort = 67
	ClientPort = 68

	// LeaseSecs is long enough that nothing expires during a
	// provisioning session.
	LeaseSecs = 24 * 60 * 60

	// PoolSize leases, .100 through .104 on the AP subnet.
	PoolSize = 5
	poolBase = 100
)

// Fixed-size BOOTP region through the magic cookie.
const fixedLen = 240

var cookie = [4]byte{0x63, 0x82, 0x53, 0x63}

// DHCP message types (option 53).
const (
	typeDiscover = 1
	typeOffer    = 2
	typeRequest  = 3
	typeACK      = 5
)

// request is the subset of an inbound packet the responder acts on.
type request struct {
	xid   [4]byte
	flags [2]byte
	mac   [6]byte
	mtype byte
}

// parseRequest validates the BOOTP fixed region and extracts the message
// type. Anything malformed or non-Ethernet is dropped without reply.
func parseRequest(b []byte) (r request, ok bool) {
	if len(b) < fixedLen+3 { // at least option 53 must follow
		return r, false
	}
	if b[0] != 1 || b[1] != 1 || b[2] != 6 { // op, htype, hlen
		return r, false
	}
	if [4]byte(b[236:240]) != cookie {
		return r, false
	}
	copy(r.xid[:], b[4:8])
	copy(r.flags[:], b[10:12])
	copy(r.mac[:], b[28:34])

	// Scan options for the message type. Pad bytes have no length octet.
	opts := b[fixedLen:]
	for len(opts) >= 1 {
		code := opts[0]
		if code == 0 {
			opts = opts[1:]
			continue
		}
		if code == 0xFF || len(opts) < 2 {
			break
		}
		n := int(opts[1])
		if len(opts) < 2+n {
			return r, false
		}
		if code == 53 && n == 1 {
			r.mtype = opts[2]
			return r, true
		}
		opts = opts[2+n:]
	}
	return r, false
}

// Server answers DISCOVER with OFFER and REQUEST with ACK on a single
// socket. Run Serve in its own goroutine; Close stops it.
type Server struct {
	conn   udpio.Conn
	server netip.Addr // our address, also router and DNS
	mask   [4]byte

	macs [PoolSize][6]byte
	used [PoolSize]bool

	buf []byte
}

// New builds a responder for the AP subnet. prefix is the server's own
// address with its subnet length, e.g. 192.168.4.1/24.
func New(conn udpio.Conn, prefix netip.Prefix) *Server {
	s := &Server{conn: conn, server: prefix.Addr()}
	bits := prefix.Bits()
	for i := 0; i < 4; i++ {
		n := bits - i*8
		switch {
		case n >= 8:
			s.mask[i] = 0xFF
		case n > 0:
			s.mask[i] = byte(0xFF << (8 - n))
		}
	}
	return s
}

// allocate returns the lease slot for mac, reusing an existing lease
// before taking a free one.
func (s *Server) allocate(mac [6]byte) (int, bool) {
	for i := range s.macs {
		if s.used[i] && s.macs[i] == mac {
			return i, true
		}
	}
	for i := range s.macs {
		if !s.used[i] {
			s.macs[i] = mac
			s.used[i] = true
			return i, true
		}
	}
	return 0, false
}

// leaseAddr is the pool address for slot i on the server's subnet.
func (s *Server) leaseAddr(i int) [4]byte {
	a := s.server.As4()
	a[3] = poolBase + byte(i)
	return a
}

// Serve blocks reading requests until the socket is closed.
func (s *Server) Serve() {
	var buf [576]byte
	for {
		n, _, err := s.conn.RecvFrom(buf[:])
		if err != nil {
			return
		}
		if n == 0 {
			continue
		}
		req, ok := parseRequest(buf[:n])
		if !ok {
			continue
		}
		var reply byte
		switch req.mtype {
		case typeDiscover:
			reply = typeOffer
		case typeRequest:
			reply = typeACK
		default:
			continue
		}
		slot, ok := s.allocate(req.mac)
		if !ok {
			println("[dhcp] pool exhausted")
			continue
		}
		s.buf = appendReply(s.buf[:0], req, reply, s.leaseAddr(slot), s.server.As4(), s.mask)
		// The client has no address yet, so replies go to broadcast.
		dst := netip.AddrPortFrom(udpio.LimitedBroadcast, ClientPort)
		if _, err := s.conn.SendTo(s.buf, dst); err != nil {
			println("[dhcp] send failed")
		}
	}
}

// Close releases the socket, unblocking Serve.
func (s *Server) Close() { s.conn.Close() }

// appendReply builds an OFFER or ACK for req into dst.
func appendReply(dst []byte, req request, mtype byte, yiaddr, server [4]byte, mask [4]byte) []byte {
	start := len(dst)
	dst = append(dst, make([]byte, fixedLen)...)
	b := dst[start:]
	b[0] = 2 // op: reply
	b[1] = 1 // htype: ethernet
	b[2] = 6 // hlen
	copy(b[4:8], req.xid[:])
	copy(b[10:12], req.flags[:])
	copy(b[16:20], yiaddr[:]) // your address
	copy(b[20:24], server[:]) // next server
	copy(b[28:34], req.mac[:])
	copy(b[236:240], cookie[:])

	dst = append(dst, 53, 1, mtype)
	dst = append(dst, 54, 4)
	dst = append(dst, server[:]...)
	lease := uint32(LeaseSecs)
	dst = append(dst, 51, 4,
		byte(lease>>24), byte(lease>>16), byte(lease>>8), byte(lease))
	dst = append(dst, 1, 4)
	dst = append(dst, mask[:]...)
	dst = append(dst, 3, 4)
	dst = append(dst, server[:]...)
	dst = append(dst, 6, 4)
	dst = append(dst, server[:]...)
	dst = append(dst, 0xFF)
	return dst
}
