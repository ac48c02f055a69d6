// Package safety guarantees the lighting hardware never stays stuck in an
// active state: a lost final "off" packet (game crash, network drop) must
// not leave fog or strobe running indefinitely. A separate hardware
// watchdog converts any logic freeze into a clean reboot.
package safety

import "time"

// DefaultWindow is the bound on silence after the last accepted command
// before active outputs are forced off.
const DefaultWindow = 5 * time.Second

// WatchdogTimeout is the hardware watchdog bound. Wi-Fi association
// polling must feed the watchdog well inside this.
const WatchdogTimeout = 8 * time.Second

// Watchdog is the hardware watchdog boundary. Start arms it; failing to
// Update within the configured timeout resets the device unconditionally.
type Watchdog interface {
	Start() error
	Update()
}

// Supervisor is a pure timing policy over the orchestrator: it tracks the
// time of the last accepted command and fires exactly one forced-off per
// active period.
type Supervisor struct {
	window time.Duration
	last   time.Time
	active bool
}

func New(window time.Duration) *Supervisor {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Supervisor{window: window}
}

// CommandAccepted resets the silence clock. Called when a command is
// drained from the mailbox, whether or not USB dispatch succeeds.
func (s *Supervisor) CommandAccepted(now time.Time) {
	s.last = now
}

// MarkActive records that lighting outputs are on. Called after a
// successful dispatch.
func (s *Supervisor) MarkActive() {
	s.active = true
}

// Active reports whether outputs are believed on.
func (s *Supervisor) Active() bool { return s.active }

// Expired reports, exactly once per active period, that the safety window
// elapsed with no accepted command. The caller must dispatch all-off. The
// active flag clears with the report so no further forced-off occurs until
// lighting is marked active again.
func (s *Supervisor) Expired(now time.Time) bool {
	if !s.active || now.Sub(s.last) < s.window {
		return false
	}
	s.active = false
	return true
}
