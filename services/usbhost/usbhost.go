// Package usbhost owns the USB host state machine for the Santroller
// Stage Kit: attach/detach tracking, identity verification, and HID
// output report dispatch. The host controller itself is vendor code
// behind the Port interface; platform wiring injects it.
package usbhost

import (
	"time"

	"stagebridge/bus"
	"stagebridge/errcode"
)

// Santroller Stage Kit identity. All three fields must match; the
// revision field distinguishes the Stage Kit build of the Santroller
// firmware from its other device personalities.
const (
	VendorID  = 0x1209
	ProductID = 0x2882
	Revision  = 0x0900
)

// Right-channel command bytes understood by the Stage Kit.
const (
	CmdFogOn     = 0x01
	CmdFogOff    = 0x02
	CmdStrobe1   = 0x03
	CmdStrobe2   = 0x04
	CmdStrobe3   = 0x05
	CmdStrobe4   = 0x06
	CmdStrobeOff = 0x07
	CmdLEDBlue   = 0x20
	CmdLEDGreen  = 0x40
	CmdLEDYellow = 0x60
	CmdLEDRed    = 0x80
	CmdAllOff    = 0xFF
)

// HID output report layout and the class request that carries it.
const (
	reportID         = 0x01
	commandMarker    = 0x5A
	reqSetReport     = 0x09
	reportTypeOutput = 0x02

	// bmRequestType: host-to-device, class, interface.
	setupOutClassIface = 0x21
)

// DefaultTransferTimeout bounds a single SET_REPORT control transfer.
// A failed or timed-out transfer is reported, never retried silently.
const DefaultTransferTimeout = 100 * time.Millisecond

// State is the device session state.
type State uint8

const (
	Disconnected State = iota
	Mounted
	Configured
	Error
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Mounted:
		return "mounted"
	case Configured:
		return "configured"
	default:
		return "error"
	}
}

// Descriptor holds the identity fields from a USB device descriptor.
type Descriptor struct {
	VendorID  uint16
	ProductID uint16
	Revision  uint16 // bcdDevice
}

// EventKind discriminates port notifications.
type EventKind uint8

const (
	Attach EventKind = iota
	Detach
)

// Event is an attach/detach notification from the host controller.
type Event struct {
	Kind EventKind
	Addr uint8
}

// Setup is a USB control-transfer setup packet.
type Setup struct {
	RequestType byte
	Request     byte
	Value       uint16
	Index       uint16
	Length      uint16
}

// Port is the vendor host-controller boundary: pump its tasks, drain its
// notifications, and issue transfers. Implementations are opaque vendor
// glue; the manager never blocks past the transfer timeout.
type Port interface {
	// Service pumps host controller housekeeping. Called every loop
	// iteration; must not block.
	Service()
	// PollEvent drains one pending attach/detach notification.
	PollEvent() (Event, bool)
	// DeviceDescriptor fetches the device descriptor for addr.
	DeviceDescriptor(addr uint8) (Descriptor, error)
	// ControlOut issues a host-to-device control transfer.
	ControlOut(addr uint8, setup Setup, data []byte, timeout time.Duration) error
}

// DeviceRecord describes the currently-tracked device. At most one record
// is verified at a time (single supported device).
type DeviceRecord struct {
	Addr      uint8
	VendorID  uint16
	ProductID uint16
	Revision  uint16
	Verified  bool
	Connected bool
}

// Manager drives the session state machine. All methods are called from
// the orchestrator context only.
type Manager struct {
	port    Port
	conn    *bus.Connection // optional; retained usb/state documents
	state   State
	dev     DeviceRecord
	lastErr errcode.Code
	timeout time.Duration
	report  [4]byte
}

func NewManager(port Port) *Manager {
	return &Manager{port: port, timeout: DefaultTransferTimeout, lastErr: errcode.OK}
}

// AttachBus enables retained usb/state publications.
func (m *Manager) AttachBus(conn *bus.Connection) { m.conn = conn }

// Service pumps the port and applies any pending attach/detach events.
func (m *Manager) Service() {
	m.port.Service()
	for {
		ev, ok := m.port.PollEvent()
		if !ok {
			return
		}
		switch ev.Kind {
		case Attach:
			m.handleAttach(ev.Addr)
		case Detach:
			m.handleDetach(ev.Addr)
		}
	}
}

func (m *Manager) handleAttach(addr uint8) {
	if m.dev.Verified {
		// Single supported device; ignore extra attachments.
		return
	}
	m.setState(Mounted, errcode.OK)

	desc, err := m.port.DeviceDescriptor(addr)
	if err != nil {
		println("[usb] descriptor fetch failed, addr:", addr)
		m.setState(Error, errcode.TransferFail)
		return
	}
	m.dev = DeviceRecord{
		Addr:      addr,
		VendorID:  desc.VendorID,
		ProductID: desc.ProductID,
		Revision:  desc.Revision,
	}

	if desc.VendorID != VendorID || desc.ProductID != ProductID {
		// Some other USB device; not ours, not an error condition.
		println("[usb] ignoring unknown device, addr:", addr)
		m.dev = DeviceRecord{}
		m.setState(Disconnected, errcode.WrongDevice)
		return
	}
	if desc.Revision != Revision {
		// Right vendor, unsupported firmware revision. Surfaced
		// distinctly so the operator hears "wrong hardware revision"
		// rather than "no device".
		println("[usb] santroller device but not a stage kit")
		m.setState(Error, errcode.WrongRevision)
		return
	}

	m.dev.Verified = true
	m.dev.Connected = true
	println("[usb] stage kit configured, addr:", addr)
	m.setState(Configured, errcode.OK)
}

func (m *Manager) handleDetach(addr uint8) {
	if m.dev.Addr != addr {
		return
	}
	println("[usb] device detached, addr:", addr)
	m.dev = DeviceRecord{}
	m.setState(Disconnected, errcode.OK)
}

func (m *Manager) setState(s State, reason errcode.Code) {
	m.state = s
	m.lastErr = reason
	if m.conn != nil {
		m.conn.Publish(m.conn.NewMessage(bus.T("usb", "state"), s.String(), true))
	}
}

// Connected reports whether a verified Stage Kit is ready for commands.
func (m *Manager) Connected() bool {
	return m.state == Configured && m.dev.Verified
}

func (m *Manager) State() State            { return m.state }
func (m *Manager) LastError() errcode.Code { return m.lastErr }
func (m *Manager) Device() DeviceRecord    { return m.dev }

// SendCommand sends one lighting command as a class SET_REPORT transfer
// to interface 0. Synchronous up to the transfer timeout; a failure is
// reported to the caller and never retried here — the next inbound
// command or the safety supervisor covers it.
func (m *Manager) SendCommand(left, right byte) error {
	if !m.Connected() {
		return errcode.NoDevice
	}
	m.report[0] = reportID
	m.report[1] = commandMarker
	m.report[2] = left
	m.report[3] = right

	setup := Setup{
		RequestType: setupOutClassIface,
		Request:     reqSetReport,
		Value:       reportTypeOutput << 8, // report type in the high byte
		Index:       0,
		Length:      uint16(len(m.report)),
	}
	if err := m.port.ControlOut(m.dev.Addr, setup, m.report[:], m.timeout); err != nil {
		return &errcode.E{C: errcode.TransferFail, Op: "set_report", Err: err}
	}
	return nil
}

// AllOff forces every output (LEDs, strobe, fog) off.
func (m *Manager) AllOff() error {
	return m.SendCommand(0x00, CmdAllOff)
}
