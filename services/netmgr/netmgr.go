// Package netmgr owns the Wi-Fi association lifecycle and the two UDP
// sockets: the inbound game-event listener and the shared telemetry/
// discovery socket. Accepted lighting commands are republished into the
// single-slot mailbox; everything else the receive path does is bump
// atomic counters.
package netmgr

import (
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"stagebridge/bus"
	"stagebridge/errcode"
	"stagebridge/rb3e"
	"stagebridge/x/conv"
	"stagebridge/x/mailbox"
	"stagebridge/x/timex"
	"stagebridge/x/udpio"
)

// Association and retry timing. The connect timeout must stay well under
// twice the hardware watchdog bound.
const (
	ConnectTimeout  = 15 * time.Second
	connectPollTick = 100 * time.Millisecond

	// RetryDelay separates reconnection attempts after a failure.
	RetryDelay = 3 * time.Second
	// MaxBootRetries bounds boot-time attempts; after that the
	// orchestrator keeps retrying in the background indefinitely.
	MaxBootRetries = 3

	// PeerTTL is the discovery peer silence window. A dashboard that
	// stops probing for this long falls back to broadcast telemetry.
	PeerTTL = 60 * time.Second

	recvBufSize = 300 // max RB3E packet: 8-byte header + 255 payload
)

// State is the connection state machine, owned exclusively by the
// manager and read by the orchestrator.
type State uint8

const (
	Disconnected State = iota
	Connecting
	Connected
	Listening
	Failed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Listening:
		return "listening"
	case Failed:
		return "error"
	default:
		return "disconnected"
	}
}

// FailReason qualifies the Failed state. BadAuth is not retried at boot
// without operator intervention; the others are.
type FailReason uint8

const (
	FailNone FailReason = iota
	FailTimeout
	FailNoNet
	FailBadAuth
	FailGeneral
)

// Stats are monotonic counters shared with the receive goroutines, hence
// atomic.
type Stats struct {
	Received      atomic.Uint32
	Accepted      atomic.Uint32
	Rejected      atomic.Uint32
	TelemetrySent atomic.Uint32
	Probes        atomic.Uint32
}

// Snapshot is a point-in-time copy for telemetry serialization.
type Snapshot struct {
	Received, Accepted, Rejected uint32
	TelemetrySent, Probes        uint32
	RSSI                         int32
}

// Manager drives the state machine. Connect/Check/Send/Disconnect run in
// the orchestrator context; the receive goroutines touch only the
// mailbox, the peer record, and the atomic counters.
type Manager struct {
	radio Radio
	socks udpio.Sockets
	conn  *bus.Connection // optional; retained net/state documents

	state  State
	reason FailReason
	stats  Stats

	eventConn udpio.Conn
	teleConn  udpio.Conn
	stop      chan struct{}

	peerMu   sync.Mutex
	peer     netip.AddrPort
	peerSeen time.Time
	peerOK   bool

	id   string // MAC string, stable device identifier
	name string // "Pico xx:yy" from the MAC tail
	boot time.Time

	teleBuf []byte
	nowFn   func() time.Time
}

func New(radio Radio, socks udpio.Sockets) *Manager {
	m := &Manager{
		radio: radio,
		socks: socks,
		boot:  time.Now(),
		nowFn: time.Now,
	}
	mac := radio.HardwareAddr()
	m.id = string(conv.MAC(nil, mac))
	m.name = "Pico " + m.id[len(m.id)-5:]
	return m
}

// AttachBus enables retained net/state publications.
func (m *Manager) AttachBus(conn *bus.Connection) { m.conn = conn }

func (m *Manager) State() State       { return m.state }
func (m *Manager) Reason() FailReason { return m.reason }
func (m *Manager) ID() string         { return m.id }
func (m *Manager) Name() string       { return m.name }

// StatsSnapshot copies the counters and the live signal strength.
func (m *Manager) StatsSnapshot() Snapshot {
	return Snapshot{
		Received:      m.stats.Received.Load(),
		Accepted:      m.stats.Accepted.Load(),
		Rejected:      m.stats.Rejected.Load(),
		TelemetrySent: m.stats.TelemetrySent.Load(),
		Probes:        m.stats.Probes.Load(),
		RSSI:          m.radio.RSSI(),
	}
}

func (m *Manager) setState(s State, r FailReason) {
	m.state = s
	m.reason = r
	if m.conn != nil {
		m.conn.Publish(m.conn.NewMessage(bus.T("net", "state"), s.String(), true))
	}
}

// Connect associates with the configured network. It issues a
// non-blocking request and then polls link status on a fixed tick up to
// ConnectTimeout, calling service() on every tick — association can take
// seconds and USB enumeration must keep running throughout.
func (m *Manager) Connect(ssid, secret string, service func()) error {
	if m.state == Connected || m.state == Listening {
		return nil
	}
	println("[net] connecting to:", ssid)
	m.setState(Connecting, FailNone)

	if err := m.radio.StartConnect(ssid, secret); err != nil {
		m.setState(Failed, FailGeneral)
		return &errcode.E{C: errcode.WifiGeneral, Op: "connect", Err: err}
	}

	deadline := m.nowFn().Add(ConnectTimeout)
	for m.nowFn().Before(deadline) {
		if service != nil {
			service()
		}
		switch m.radio.LinkStatus() {
		case LinkUp:
			println("[net] connected, rssi:", int(m.radio.RSSI()))
			m.setState(Connected, FailNone)
			return nil
		case LinkNoNet:
			m.setState(Failed, FailNoNet)
			return errcode.WifiNoNet
		case LinkBadAuth:
			m.setState(Failed, FailBadAuth)
			return errcode.WifiBadAuth
		case LinkFailed:
			m.setState(Failed, FailGeneral)
			return errcode.WifiGeneral
		}
		time.Sleep(connectPollTick)
	}

	println("[net] connect timeout")
	m.setState(Failed, FailTimeout)
	return errcode.WifiTimeout
}

// StartListener binds the event socket and the shared telemetry socket
// and starts the receive goroutines (the asynchronous context). Accepted
// commands land in slot; onCommand, when set, is invoked after each
// accepted command.
func (m *Manager) StartListener(slot *mailbox.Slot, onCommand func(left, right byte)) error {
	if m.state != Connected {
		return errcode.NotConnected
	}

	ev, err := m.socks.ListenUDP(rb3e.ListenPort)
	if err != nil {
		return &errcode.E{C: errcode.ListenerFailed, Op: "listen_event", Err: err}
	}
	// One socket both sends telemetry and receives probes: replies must
	// originate from the bound port or some equipment drops them.
	tele, err := m.socks.ListenUDP(rb3e.TelemetryPort)
	if err != nil {
		ev.Close()
		return &errcode.E{C: errcode.ListenerFailed, Op: "listen_telemetry", Err: err}
	}

	m.eventConn = ev
	m.teleConn = tele
	m.stop = make(chan struct{})

	go m.eventLoop(ev, slot, onCommand)
	go m.discoveryLoop(tele)

	m.setState(Listening, FailNone)
	println("[net] listening on:", rb3e.ListenPort)
	return nil
}

// eventLoop runs in the receive context; it must stay cheap and silent.
func (m *Manager) eventLoop(c udpio.Conn, slot *mailbox.Slot, onCommand func(left, right byte)) {
	var buf [recvBufSize]byte
	for {
		select {
		case <-m.stop:
			return
		default:
		}
		n, _, err := c.RecvFrom(buf[:])
		if err != nil {
			return
		}
		if n == 0 {
			continue
		}
		m.stats.Received.Add(1)
		left, right, ok := rb3e.ParseStageKit(buf[:n])
		if !ok {
			m.stats.Rejected.Add(1)
			continue
		}
		m.stats.Accepted.Add(1)
		slot.Put(left, right)
		if onCommand != nil {
			onCommand(left, right)
		}
	}
}

func (m *Manager) discoveryLoop(c udpio.Conn) {
	var buf [recvBufSize]byte
	for {
		select {
		case <-m.stop:
			return
		default:
		}
		n, from, err := c.RecvFrom(buf[:])
		if err != nil {
			return
		}
		if n == 0 || !rb3e.IsDiscoveryProbe(buf[:n]) {
			continue
		}
		m.stats.Probes.Add(1)
		m.recordPeer(from)
	}
}

func (m *Manager) recordPeer(from netip.AddrPort) {
	m.peerMu.Lock()
	m.peer = netip.AddrPortFrom(from.Addr(), rb3e.TelemetryPort)
	m.peerSeen = m.nowFn()
	m.peerOK = true
	m.peerMu.Unlock()
}

// DiscoveryPeer returns the current unexpired peer, if any.
func (m *Manager) DiscoveryPeer() (netip.AddrPort, bool) {
	m.peerMu.Lock()
	defer m.peerMu.Unlock()
	if !m.peerOK || m.nowFn().Sub(m.peerSeen) >= PeerTTL {
		return netip.AddrPort{}, false
	}
	return m.peer, true
}

// SendTelemetry unicasts the status record to a fresh discovery peer, or
// broadcasts to both the subnet-directed and the limited broadcast
// addresses. A send failure is counted against nothing: telemetry is
// best-effort and the next interval retries naturally.
func (m *Manager) SendTelemetry(usbConnected bool) {
	if m.state != Listening || m.teleConn == nil {
		return
	}
	m.teleBuf = rb3e.AppendTelemetry(m.teleBuf[:0], rb3e.Telemetry{
		ID:           m.id,
		Name:         m.name,
		USBConnected: usbConnected,
		RSSI:         m.radio.RSSI(),
		UptimeSecs:   timex.UptimeSecs(m.boot),
	})

	if peer, ok := m.DiscoveryPeer(); ok {
		if _, err := m.teleConn.SendTo(m.teleBuf, peer); err == nil {
			m.stats.TelemetrySent.Add(1)
		}
		return
	}

	sent := false
	if prefix, err := m.radio.DeviceAddr(); err == nil {
		dst := netip.AddrPortFrom(udpio.SubnetBroadcast(prefix), rb3e.TelemetryPort)
		if _, err := m.teleConn.SendTo(m.teleBuf, dst); err == nil {
			sent = true
		}
	}
	dst := netip.AddrPortFrom(udpio.LimitedBroadcast, rb3e.TelemetryPort)
	if _, err := m.teleConn.SendTo(m.teleBuf, dst); err == nil {
		sent = true
	}
	if sent {
		m.stats.TelemetrySent.Add(1)
	}
}

// CheckConnection re-reads the live link status and degrades Connected/
// Listening to Disconnected when the link has silently dropped. Datagram
// send failures alone would not reveal this promptly.
func (m *Manager) CheckConnection() bool {
	up := m.radio.LinkStatus() == LinkUp
	if !up && (m.state == Connected || m.state == Listening) {
		println("[net] link lost")
		m.setState(Disconnected, FailNone)
	}
	return up
}

// StopListener halts the receive goroutines and closes both sockets.
func (m *Manager) StopListener() {
	if m.stop != nil {
		close(m.stop)
		m.stop = nil
	}
	if m.eventConn != nil {
		m.eventConn.Close()
		m.eventConn = nil
	}
	if m.teleConn != nil {
		m.teleConn.Close()
		m.teleConn = nil
	}
	if m.state == Listening {
		m.setState(Connected, FailNone)
	}
}

// Disconnect stops the listener and leaves the network.
func (m *Manager) Disconnect() {
	m.StopListener()
	m.radio.Disconnect()
	m.setState(Disconnected, FailNone)
}
