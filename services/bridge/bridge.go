// bridge/bridge.go
package bridge

import (
	"context"
	"time"

	"stagebridge/bus"
	"stagebridge/services/configstore"
	"stagebridge/services/netmgr"
	"stagebridge/services/safety"
	"stagebridge/services/usbhost"
	"stagebridge/x/mailbox"
)

// -----------------------------------------------------------------------------
// Timing
// -----------------------------------------------------------------------------

const (
	// Heartbeat LED toggle intervals. Fast while the network is down so
	// the failure is visible at a glance.
	HeartbeatConnected    = 2 * time.Second
	HeartbeatDisconnected = 500 * time.Millisecond

	// TelemetryInterval paces status records to the dashboard.
	TelemetryInterval = 5 * time.Second

	// ConnCheckInterval paces the live link re-verification. Datagram
	// traffic is inbound-only, so a dead link otherwise goes unnoticed.
	ConnCheckInterval = 10 * time.Second

	// Loop pacing: stay hot briefly after a command so bursts drain with
	// low latency, back off when idle.
	ActiveDelay = 100 * time.Microsecond
	IdleDelay   = time.Millisecond
)

// -----------------------------------------------------------------------------
// Service
// -----------------------------------------------------------------------------

// Service is the orchestrator: the single goroutine that owns the USB
// manager, drains the command mailbox, and supervises the network. All
// device dispatch happens here.
type Service struct {
	usb   *usbhost.Manager
	net   *netmgr.Manager
	sup   *safety.Supervisor
	wdt   safety.Watchdog // nil on hosts without one
	slot  *mailbox.Slot
	creds configstore.Credentials

	conn *bus.Connection // optional; retained bridge/state documents
	led  func(on bool)

	ledOn     bool
	lastBlink time.Time
	lastTele  time.Time
	lastCheck time.Time
	lastRetry time.Time

	nowFn func() time.Time
}

// New wires the orchestrator. creds are the boot credentials, reused for
// every reconnect attempt.
func New(usb *usbhost.Manager, net *netmgr.Manager, sup *safety.Supervisor,
	wdt safety.Watchdog, slot *mailbox.Slot, creds configstore.Credentials) *Service {
	return &Service{
		usb:   usb,
		net:   net,
		sup:   sup,
		wdt:   wdt,
		slot:  slot,
		creds: creds,
		nowFn: time.Now,
	}
}

// SetLED installs the heartbeat indicator.
func (s *Service) SetLED(fn func(on bool)) { s.led = fn }

// Idle services USB and feeds the watchdog. It is the tick callback for
// any operation that blocks the loop, boot connect included.
func (s *Service) Idle() {
	s.usb.Service()
	if s.wdt != nil {
		s.wdt.Update()
	}
}

// AttachBus enables retained bridge/state publications.
func (s *Service) AttachBus(conn *bus.Connection) { s.conn = conn }

func (s *Service) publishState(state string) {
	if s.conn != nil {
		s.conn.Publish(s.conn.NewMessage(bus.T("bridge", "state"), state, true))
	}
}

// Run drives the cooperative loop until ctx is cancelled. It never
// returns early on its own: network loss is handled by reconnecting
// in-loop, not by failing out.
func (s *Service) Run(ctx context.Context) error {
	s.publishState("run")
	println("[bridge] running")
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		busy := s.tick(s.nowFn())
		if busy {
			time.Sleep(ActiveDelay)
		} else {
			time.Sleep(IdleDelay)
		}
	}
}

// tick is one pass of the loop. It reports whether a command was
// dispatched so Run can stay hot through a burst.
func (s *Service) tick(now time.Time) (busy bool) {
	s.usb.Service()

	// Newest pending command, if any. The mailbox coalesces, so this is
	// at most one dispatch per pass.
	if left, right, ok := s.slot.Take(); ok {
		busy = true
		// Traffic resets the silence clock even when dispatch fails;
		// the blackout is for an absent game, not a flaky transfer.
		s.sup.CommandAccepted(now)
		if s.usb.Connected() {
			if err := s.usb.SendCommand(left, right); err == nil {
				s.sup.MarkActive()
			}
		}
	}

	// Lights on with no traffic inside the window means the game is
	// gone; blackout rather than strand the strobe.
	if s.sup.Expired(now) {
		println("[bridge] command silence, lights off")
		s.usb.AllOff()
	}

	s.heartbeat(now)
	s.supervise(now)

	if s.net.State() == netmgr.Listening && now.Sub(s.lastTele) >= TelemetryInterval {
		s.lastTele = now
		s.net.SendTelemetry(s.usb.Connected())
	}

	if s.wdt != nil {
		s.wdt.Update()
	}
	return busy
}

// heartbeat toggles the LED at a rate that encodes network health.
func (s *Service) heartbeat(now time.Time) {
	interval := HeartbeatDisconnected
	if st := s.net.State(); st == netmgr.Connected || st == netmgr.Listening {
		interval = HeartbeatConnected
	}
	if now.Sub(s.lastBlink) < interval {
		return
	}
	s.lastBlink = now
	s.ledOn = !s.ledOn
	if s.led != nil {
		s.led(s.ledOn)
	}
}

// supervise re-verifies the link on a slow cadence and drives reconnects
// after a loss. Retries continue indefinitely; the bridge is headless and
// the network may come back hours later.
func (s *Service) supervise(now time.Time) {
	switch s.net.State() {
	case netmgr.Listening, netmgr.Connected:
		if now.Sub(s.lastCheck) < ConnCheckInterval {
			return
		}
		s.lastCheck = now
		if !s.net.CheckConnection() {
			s.publishState("reconnecting")
			s.net.StopListener()
			s.lastRetry = now
		}
	case netmgr.Disconnected, netmgr.Failed:
		if now.Sub(s.lastRetry) < netmgr.RetryDelay {
			return
		}
		s.lastRetry = now
		// Association can outlast the watchdog timeout, so the connect
		// ticks must keep feeding it alongside USB servicing.
		if err := s.net.Connect(s.creds.SSID, s.creds.Secret, s.Idle); err != nil {
			return
		}
		if err := s.net.StartListener(s.slot, nil); err != nil {
			println("[bridge] listener restart failed")
			return
		}
		s.publishState("run")
	}
}
