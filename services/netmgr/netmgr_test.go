package netmgr

import (
	"errors"
	"net/netip"
	"sync"
	"testing"
	"time"

	"stagebridge/errcode"
	"stagebridge/rb3e"
	"stagebridge/x/mailbox"
	"stagebridge/x/udpio"
)

// ---- fakes ------------------------------------------------------------

type fakeRadio struct {
	mu       sync.Mutex
	statuses []LinkStatus // consumed one per LinkStatus call; last repeats
	rssi     int32
	prefix   netip.Prefix
	started  bool
	ssid     string
	startErr error
}

func (r *fakeRadio) StartConnect(ssid, secret string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = true
	r.ssid = ssid
	return r.startErr
}

func (r *fakeRadio) LinkStatus() LinkStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.statuses) == 0 {
		return LinkDown
	}
	s := r.statuses[0]
	if len(r.statuses) > 1 {
		r.statuses = r.statuses[1:]
	}
	return s
}

func (r *fakeRadio) RSSI() int32           { return r.rssi }
func (r *fakeRadio) HardwareAddr() [6]byte { return [6]byte{0x28, 0xcd, 0xc1, 0x0a, 0xab, 0x12} }
func (r *fakeRadio) Disconnect()           {}
func (r *fakeRadio) DeviceAddr() (netip.Prefix, error) {
	if !r.prefix.IsValid() {
		return netip.Prefix{}, errors.New("no address")
	}
	return r.prefix, nil
}
func (r *fakeRadio) StartAP(string, netip.Prefix) error { return nil }

type inPacket struct {
	data []byte
	from netip.AddrPort
}

type sentPacket struct {
	data []byte
	to   netip.AddrPort
}

type fakeConn struct {
	in     chan inPacket
	mu     sync.Mutex
	sent   []sentPacket
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan inPacket, 8), closed: make(chan struct{})}
}

func (c *fakeConn) SendTo(b []byte, to netip.AddrPort) (int, error) {
	c.mu.Lock()
	c.sent = append(c.sent, sentPacket{append([]byte(nil), b...), to})
	c.mu.Unlock()
	return len(b), nil
}

func (c *fakeConn) RecvFrom(b []byte) (int, netip.AddrPort, error) {
	select {
	case <-c.closed:
		return 0, netip.AddrPort{}, errors.New("closed")
	case p := <-c.in:
		return copy(b, p.data), p.from, nil
	case <-time.After(5 * time.Millisecond):
		return 0, netip.AddrPort{}, nil
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) sentPackets() []sentPacket {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sentPacket(nil), c.sent...)
}

type fakeSockets struct {
	conns map[uint16]*fakeConn
}

func newFakeSockets() *fakeSockets {
	return &fakeSockets{conns: map[uint16]*fakeConn{}}
}

func (s *fakeSockets) ListenUDP(port uint16) (udpio.Conn, error) {
	c := newFakeConn()
	s.conns[port] = c
	return c, nil
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

// ---- tests ------------------------------------------------------------

func TestIdentityFromMAC(t *testing.T) {
	m := New(&fakeRadio{}, newFakeSockets())
	if m.ID() != "28:cd:c1:0a:ab:12" {
		t.Fatalf("id = %q", m.ID())
	}
	if m.Name() != "Pico ab:12" {
		t.Fatalf("name = %q", m.Name())
	}
}

func TestConnectSuccessServicesEveryTick(t *testing.T) {
	r := &fakeRadio{statuses: []LinkStatus{LinkJoining, LinkJoining, LinkUp}}
	m := New(r, newFakeSockets())

	serviced := 0
	if err := m.Connect("mynet", "pw", func() { serviced++ }); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if m.State() != Connected {
		t.Fatalf("state = %v", m.State())
	}
	// Three status polls happen, so service ran three times.
	if serviced != 3 {
		t.Fatalf("service ran %d times, want 3", serviced)
	}
	if !r.started || r.ssid != "mynet" {
		t.Fatalf("radio not asked to associate: %+v", r)
	}
}

func TestConnectFailureReasons(t *testing.T) {
	type C struct {
		status LinkStatus
		code   errcode.Code
		reason FailReason
	}
	for _, c := range []C{
		{LinkNoNet, errcode.WifiNoNet, FailNoNet},
		{LinkBadAuth, errcode.WifiBadAuth, FailBadAuth},
		{LinkFailed, errcode.WifiGeneral, FailGeneral},
	} {
		r := &fakeRadio{statuses: []LinkStatus{LinkJoining, c.status}}
		m := New(r, newFakeSockets())
		err := m.Connect("mynet", "pw", nil)
		if errcode.Of(err) != c.code {
			t.Fatalf("status %v: err = %v, want %v", c.status, err, c.code)
		}
		if m.State() != Failed || m.Reason() != c.reason {
			t.Fatalf("status %v: state = %v reason = %v", c.status, m.State(), m.Reason())
		}
	}
}

func TestConnectTimeout(t *testing.T) {
	r := &fakeRadio{statuses: []LinkStatus{LinkJoining}}
	m := New(r, newFakeSockets())

	// Fake clock: each observation advances 6s so the 15s deadline
	// expires after a few poll ticks.
	base := time.Now()
	calls := 0
	m.nowFn = func() time.Time {
		calls++
		return base.Add(time.Duration(calls) * 6 * time.Second)
	}

	err := m.Connect("mynet", "pw", nil)
	if errcode.Of(err) != errcode.WifiTimeout {
		t.Fatalf("err = %v, want wifi_timeout", err)
	}
	if m.Reason() != FailTimeout {
		t.Fatalf("reason = %v", m.Reason())
	}
}

func startListening(t *testing.T, r *fakeRadio, s *fakeSockets) (*Manager, *mailbox.Slot) {
	t.Helper()
	if r.statuses == nil {
		r.statuses = []LinkStatus{LinkUp}
	}
	m := New(r, s)
	if err := m.Connect("mynet", "pw", nil); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	var slot mailbox.Slot
	if err := m.StartListener(&slot, nil); err != nil {
		t.Fatalf("StartListener: %v", err)
	}
	t.Cleanup(m.StopListener)
	return m, &slot
}

func TestListenerRequiresConnected(t *testing.T) {
	m := New(&fakeRadio{}, newFakeSockets())
	var slot mailbox.Slot
	if err := m.StartListener(&slot, nil); errcode.Of(err) != errcode.NotConnected {
		t.Fatalf("err = %v, want not_connected", err)
	}
}

func TestListenerAcceptsLightingEvents(t *testing.T) {
	s := newFakeSockets()
	m, slot := startListening(t, &fakeRadio{}, s)

	from := netip.MustParseAddrPort("192.168.1.50:40000")
	s.conns[rb3e.ListenPort].in <- inPacket{rb3e.AppendStageKit(nil, 0x80, 0x01), from}

	eventually(t, slot.Fresh, "command never reached the mailbox")
	l, rgt, ok := slot.Take()
	if !ok || l != 0x80 || rgt != 0x01 {
		t.Fatalf("slot = (%#x, %#x, %v)", l, rgt, ok)
	}
	eventually(t, func() bool { return m.StatsSnapshot().Accepted == 1 }, "accepted counter")
}

func TestListenerRejectsSilently(t *testing.T) {
	s := newFakeSockets()
	m, slot := startListening(t, &fakeRadio{}, s)

	from := netip.MustParseAddrPort("192.168.1.50:40000")
	// Wrong event type and a runt packet: count, never dispatch.
	bad := rb3e.AppendHeader(nil, rb3e.Header{Version: 1, Type: rb3e.EventScore, Size: 2})
	bad = append(bad, 0x80, 0x01)
	s.conns[rb3e.ListenPort].in <- inPacket{bad, from}
	s.conns[rb3e.ListenPort].in <- inPacket{[]byte{0x52, 0x42}, from}

	eventually(t, func() bool { return m.StatsSnapshot().Rejected == 2 }, "rejected counter")
	if slot.Fresh() {
		t.Fatal("rejected packet reached the mailbox")
	}
	if m.StatsSnapshot().Received != 2 {
		t.Fatalf("received = %d", m.StatsSnapshot().Received)
	}
}

func TestListenerCoalescesToNewest(t *testing.T) {
	s := newFakeSockets()
	m, slot := startListening(t, &fakeRadio{}, s)

	from := netip.MustParseAddrPort("192.168.1.50:40000")
	s.conns[rb3e.ListenPort].in <- inPacket{rb3e.AppendStageKit(nil, 0x01, 0x20), from}
	s.conns[rb3e.ListenPort].in <- inPacket{rb3e.AppendStageKit(nil, 0x02, 0x40), from}

	eventually(t, func() bool { return m.StatsSnapshot().Accepted == 2 }, "both packets accepted")
	l, rgt, ok := slot.Take()
	if !ok || l != 0x02 || rgt != 0x40 {
		t.Fatalf("slot = (%#x, %#x, %v), want newest command", l, rgt, ok)
	}
	if _, _, ok := slot.Take(); ok {
		t.Fatal("coalesced command dispatched twice")
	}
}

func TestDiscoveryPeerRecordedAndExpires(t *testing.T) {
	s := newFakeSockets()
	m := New(&fakeRadio{statuses: []LinkStatus{LinkUp}}, s)

	// Install the fake clock before the receive goroutines exist.
	base := time.Now()
	var offset time.Duration
	var mu sync.Mutex
	m.nowFn = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return base.Add(offset)
	}
	setOffset := func(d time.Duration) {
		mu.Lock()
		offset = d
		mu.Unlock()
	}

	if err := m.Connect("mynet", "pw", nil); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	var slot mailbox.Slot
	if err := m.StartListener(&slot, nil); err != nil {
		t.Fatalf("StartListener: %v", err)
	}
	t.Cleanup(m.StopListener)

	probe := []byte(`{"type": "discovery"}`)
	from := netip.MustParseAddrPort("192.168.1.20:21071")
	s.conns[rb3e.TelemetryPort].in <- inPacket{probe, from}

	eventually(t, func() bool { _, ok := m.DiscoveryPeer(); return ok }, "peer never recorded")
	peer, _ := m.DiscoveryPeer()
	if peer.Addr() != from.Addr() || peer.Port() != rb3e.TelemetryPort {
		t.Fatalf("peer = %v", peer)
	}

	// Inside the window the peer is used; past it, expired.
	setOffset(PeerTTL - time.Second)
	if _, ok := m.DiscoveryPeer(); !ok {
		t.Fatal("peer expired inside the silence window")
	}
	setOffset(PeerTTL + time.Second)
	if _, ok := m.DiscoveryPeer(); ok {
		t.Fatal("peer survived past the silence window")
	}
}

func TestTelemetryUnicastToFreshPeer(t *testing.T) {
	s := newFakeSockets()
	m, _ := startListening(t, &fakeRadio{rssi: -48}, s)

	probe := []byte(`{"type": "discovery"}`)
	from := netip.MustParseAddrPort("192.168.1.20:33333")
	s.conns[rb3e.TelemetryPort].in <- inPacket{probe, from}
	eventually(t, func() bool { _, ok := m.DiscoveryPeer(); return ok }, "peer never recorded")

	m.SendTelemetry(true)
	sent := s.conns[rb3e.TelemetryPort].sentPackets()
	if len(sent) != 1 {
		t.Fatalf("sent %d packets, want 1 unicast", len(sent))
	}
	if sent[0].to.Addr() != from.Addr() || sent[0].to.Port() != rb3e.TelemetryPort {
		t.Fatalf("telemetry went to %v", sent[0].to)
	}
	if m.StatsSnapshot().TelemetrySent != 1 {
		t.Fatalf("telemetry counter = %d", m.StatsSnapshot().TelemetrySent)
	}
}

func TestTelemetryBroadcastsBothForms(t *testing.T) {
	r := &fakeRadio{prefix: netip.MustParsePrefix("192.168.1.37/24")}
	s := newFakeSockets()
	m, _ := startListening(t, r, s)

	m.SendTelemetry(false)
	sent := s.conns[rb3e.TelemetryPort].sentPackets()
	if len(sent) != 2 {
		t.Fatalf("sent %d packets, want subnet + limited broadcast", len(sent))
	}
	if sent[0].to.Addr().String() != "192.168.1.255" {
		t.Fatalf("subnet broadcast went to %v", sent[0].to)
	}
	if sent[1].to.Addr() != udpio.LimitedBroadcast {
		t.Fatalf("limited broadcast went to %v", sent[1].to)
	}
}

func TestCheckConnectionDegradesOnLinkLoss(t *testing.T) {
	r := &fakeRadio{statuses: []LinkStatus{LinkUp, LinkUp, LinkDown}}
	s := newFakeSockets()
	m, _ := startListening(t, r, s)

	if !m.CheckConnection() {
		t.Fatal("link reported down while up")
	}
	if m.CheckConnection() {
		t.Fatal("link loss not detected")
	}
	if m.State() != Disconnected {
		t.Fatalf("state = %v, want disconnected", m.State())
	}
}

func TestStopListenerRevertsToConnected(t *testing.T) {
	s := newFakeSockets()
	m, _ := startListening(t, &fakeRadio{}, s)

	m.StopListener()
	if m.State() != Connected {
		t.Fatalf("state = %v, want connected", m.State())
	}
	m.SendTelemetry(false) // must be a no-op with the socket closed
	if n := len(s.conns[rb3e.TelemetryPort].sentPackets()); n != 0 {
		t.Fatalf("telemetry sent after stop: %d", n)
	}
}
