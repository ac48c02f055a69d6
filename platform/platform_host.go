//go:build !rp2040 && !rp2350

package platform

import (
	"context"
	"net/netip"
	"os"
	"path/filepath"
	"sync"
	"time"

	"stagebridge/services/configstore"
	"stagebridge/services/netmgr"
)

func GetResources() *Resources {
	dir := os.Getenv("STAGEBRIDGE_DATA")
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "stagebridge")
	}
	return &Resources{
		Radio:    &simRadio{},
		Sockets:  netSockets{},
		FS:       &dirFS{root: dir},
		Watchdog: noopWatchdog{},
		LED:      func(bool) {},
		Console:  newStdioPort(),
		USB:      usbPort(),
	}
}

// -----------------------------------------------------------------------------
// Simulated radio
// -----------------------------------------------------------------------------

// simRadio pretends to associate after a short delay, then reports the
// loopback network. Lets the whole firmware loop run on a laptop against
// the real UDP tools.
type simRadio struct {
	mu     sync.Mutex
	status netmgr.LinkStatus
}

const simJoinDelay = 200 * time.Millisecond

func (r *simRadio) setStatus(s netmgr.LinkStatus) {
	r.mu.Lock()
	r.status = s
	r.mu.Unlock()
}

func (r *simRadio) StartConnect(ssid, secret string) error {
	r.setStatus(netmgr.LinkJoining)
	time.AfterFunc(simJoinDelay, func() { r.setStatus(netmgr.LinkUp) })
	return nil
}

func (r *simRadio) LinkStatus() netmgr.LinkStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *simRadio) RSSI() int32 { return -42 }

func (r *simRadio) HardwareAddr() [6]byte {
	return [6]byte{0x02, 0x00, 0x00, 0x51, 0x4B, 0x01} // locally administered
}

func (r *simRadio) DeviceAddr() (netip.Prefix, error) {
	return netip.MustParsePrefix("127.0.0.1/8"), nil
}

func (r *simRadio) Disconnect() { r.setStatus(netmgr.LinkDown) }

func (r *simRadio) StartAP(ssid string, addr netip.Prefix) error {
	println("[platform] simulated access point:", ssid)
	r.setStatus(netmgr.LinkUp)
	return nil
}

// -----------------------------------------------------------------------------
// Directory-backed settings filesystem
// -----------------------------------------------------------------------------

type dirFS struct {
	root string
}

func (f *dirFS) Mount() error { return os.MkdirAll(f.root, 0o755) }

func (f *dirFS) Format() error {
	if err := os.RemoveAll(f.root); err != nil {
		return err
	}
	return os.MkdirAll(f.root, 0o755)
}

func (f *dirFS) OpenFile(name string, flags int) (configstore.File, error) {
	file, err := os.OpenFile(filepath.Join(f.root, filepath.Base(name)), flags, 0o644)
	if err != nil {
		return nil, err
	}
	return file, nil
}

// -----------------------------------------------------------------------------
// Watchdog and console
// -----------------------------------------------------------------------------

type noopWatchdog struct{}

func (noopWatchdog) Start() error { return nil }
func (noopWatchdog) Update()      {}

// stdioPort exposes stdin/stdout as the provisioning console. Reads are
// pumped through a channel so RecvSomeContext can honor its context.
type stdioPort struct {
	in chan []byte
}

func newStdioPort() *stdioPort {
	p := &stdioPort{in: make(chan []byte, 4)}
	go func() {
		for {
			buf := make([]byte, 64)
			n, err := os.Stdin.Read(buf)
			if err != nil {
				return
			}
			p.in <- buf[:n]
		}
	}()
	return p
}

func (p *stdioPort) Write(b []byte) (int, error) { return os.Stdout.Write(b) }

func (p *stdioPort) RecvSomeContext(ctx context.Context, buf []byte) (int, error) {
	select {
	case b := <-p.in:
		return copy(buf, b), nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}
