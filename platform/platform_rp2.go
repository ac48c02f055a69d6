//go:build rp2040 || rp2350

package platform

import (
	"errors"
	"machine"
	"net/netip"
	"sync"

	uartx "github.com/jangala-dev/tinygo-uartx/uartx"
	"tinygo.org/x/drivers/netlink"
	"tinygo.org/x/drivers/netlink/probe"
	"tinygo.org/x/tinyfs/littlefs"

	"stagebridge/services/configstore"
	"stagebridge/services/netmgr"
	"stagebridge/services/safety"
)

func GetResources() *Resources {
	link, dev := probe.Probe()

	led := machine.LED
	led.Configure(machine.PinConfig{Mode: machine.PinOutput})

	console := uartx.UART0
	_ = console.Configure(uartx.UARTConfig{
		BaudRate: 115200,
		TX:       machine.UART0_TX_PIN,
		RX:       machine.UART0_RX_PIN,
	})

	return &Resources{
		Radio:    &rp2Radio{link: link, dev: dev},
		Sockets:  netSockets{},
		FS:       newFlashFS(),
		Watchdog: rp2Watchdog{},
		LED:      led.Set,
		Console:  console,
		USB:      usbPort(),
	}
}

// -----------------------------------------------------------------------------
// Radio
// -----------------------------------------------------------------------------

// rp2Radio adapts the netlink driver to the non-blocking Radio contract:
// NetConnect blocks through association and DHCP, so it runs in its own
// goroutine and the outcome lands in status.
type rp2Radio struct {
	link netlink.Netlinker
	dev  netdevAddr

	mu     sync.Mutex
	status netmgr.LinkStatus
}

// netdevAddr is the slice of the netdev the radio needs.
type netdevAddr interface {
	Addr() (netip.Addr, error)
}

func (r *rp2Radio) setStatus(s netmgr.LinkStatus) {
	r.mu.Lock()
	r.status = s
	r.mu.Unlock()
}

func (r *rp2Radio) LinkStatus() netmgr.LinkStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *rp2Radio) StartConnect(ssid, secret string) error {
	r.setStatus(netmgr.LinkJoining)
	go func() {
		err := r.link.NetConnect(&netlink.ConnectParams{
			Ssid:           ssid,
			Passphrase:     secret,
			ConnectTimeout: netmgr.ConnectTimeout,
		})
		switch {
		case err == nil:
			r.setStatus(netmgr.LinkUp)
		case errors.Is(err, netlink.ErrAuthFailure):
			r.setStatus(netmgr.LinkBadAuth)
		case errors.Is(err, netlink.ErrConnectTimeout):
			// The driver cannot tell a missing SSID from a slow join,
			// so leave the link down and let the manager's deadline
			// report the timeout.
			r.setStatus(netmgr.LinkDown)
		default:
			r.setStatus(netmgr.LinkFailed)
		}
	}()
	return nil
}

func (r *rp2Radio) RSSI() int32 {
	// The netlink contract has no signal query; some drivers add one.
	if s, ok := r.link.(interface{ RSSI() (int32, error) }); ok {
		if v, err := s.RSSI(); err == nil {
			return v
		}
	}
	return 0
}

func (r *rp2Radio) HardwareAddr() [6]byte {
	var mac [6]byte
	if hw, err := r.link.GetHardwareAddr(); err == nil {
		copy(mac[:], hw)
	}
	return mac
}

func (r *rp2Radio) DeviceAddr() (netip.Prefix, error) {
	addr, err := r.dev.Addr()
	if err != nil {
		return netip.Prefix{}, err
	}
	// The netdev does not expose the mask; home /24s are what this
	// bridge lives on.
	return netip.PrefixFrom(addr, 24), nil
}

func (r *rp2Radio) Disconnect() {
	r.link.NetDisconnect()
	r.setStatus(netmgr.LinkDown)
}

func (r *rp2Radio) StartAP(ssid string, addr netip.Prefix) error {
	err := r.link.NetConnect(&netlink.ConnectParams{
		Ssid:        ssid,
		ConnectMode: netlink.ConnectModeAP,
	})
	if err != nil {
		return err
	}
	r.setStatus(netmgr.LinkUp)
	return nil
}

// -----------------------------------------------------------------------------
// Flash filesystem
// -----------------------------------------------------------------------------

type flashFS struct {
	lfs *littlefs.LFS
}

func newFlashFS() *flashFS {
	lfs := littlefs.New(machine.Flash)
	lfs.Configure(&littlefs.Config{
		CacheSize:     512,
		LookaheadSize: 512,
		BlockCycles:   100,
	})
	return &flashFS{lfs: lfs}
}

func (f *flashFS) Mount() error { return f.lfs.Mount() }

func (f *flashFS) Format() error { return f.lfs.Format() }

func (f *flashFS) OpenFile(name string, flags int) (configstore.File, error) {
	file, err := f.lfs.OpenFile(name, flags)
	if err != nil {
		return nil, err
	}
	return file, nil
}

// -----------------------------------------------------------------------------
// Watchdog
// -----------------------------------------------------------------------------

type rp2Watchdog struct{}

func (rp2Watchdog) Start() error {
	machine.Watchdog.Configure(machine.WatchdogConfig{
		TimeoutMillis: uint32(safety.WatchdogTimeout.Milliseconds()),
	})
	return machine.Watchdog.Start()
}

func (rp2Watchdog) Update() { machine.Watchdog.Update() }
