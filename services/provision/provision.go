// Package provision runs the first-boot setup flow used when no valid
// wireless credentials exist: a local access point with DHCP so a phone
// can join, a fast LED blink signalling the error state, and a serial
// console that accepts credentials and writes them to settings.toml.
package provision

import (
	"context"
	"net/netip"
	"strings"
	"time"

	"github.com/google/shlex"

	"stagebridge/errcode"
	"stagebridge/services/configstore"
	"stagebridge/services/dhcpd"
	"stagebridge/services/netmgr"
	"stagebridge/x/udpio"
)

const (
	APName = "StageKit-Setup"

	// blinkPeriod is the error pattern: a fast toggle, visibly distinct
	// from the heartbeat rates used in normal operation.
	blinkPeriod = 250 * time.Millisecond

	lineMax = 128
)

var APPrefix = netip.MustParsePrefix("192.168.4.1/24")

// SerialPort is the console boundary. The rp2 platform backs it with a
// uartx UART; tests drive it with an in-memory pipe.
type SerialPort interface {
	Write(b []byte) (int, error)
	RecvSomeContext(ctx context.Context, buf []byte) (int, error)
}

// Service owns the provisioning session: the AP, its DHCP responder, and
// the console state.
type Service struct {
	radio netmgr.Radio
	socks udpio.Sockets
	fs    configstore.Filesystem
	port  SerialPort

	dhcp  *dhcpd.Server
	creds configstore.Credentials
	line  []byte
}

func New(radio netmgr.Radio, socks udpio.Sockets, fs configstore.Filesystem, port SerialPort) *Service {
	return &Service{radio: radio, socks: socks, fs: fs, port: port}
}

// Start brings up the access point and its DHCP responder.
func (s *Service) Start() error {
	if err := s.radio.StartAP(APName, APPrefix); err != nil {
		return &errcode.E{C: errcode.WifiGeneral, Op: "start_ap", Err: err}
	}
	conn, err := s.socks.ListenUDP(dhcpd.ServerPort)
	if err != nil {
		s.radio.Disconnect()
		return &errcode.E{C: errcode.ListenerFailed, Op: "listen_dhcp", Err: err}
	}
	s.dhcp = dhcpd.New(conn, APPrefix)
	go s.dhcp.Serve()

	println("[provision] access point up:", APName)
	s.banner()
	return nil
}

// Stop tears down the responder and the access point.
func (s *Service) Stop() {
	if s.dhcp != nil {
		s.dhcp.Close()
		s.dhcp = nil
	}
	s.radio.Disconnect()
}

// Run services the console until credentials are saved or ctx ends. It
// returns the saved credentials; the caller reboots by starving the
// watchdog. led drives the error blink.
func (s *Service) Run(ctx context.Context, led func(on bool)) (configstore.Credentials, error) {
	var chunk [32]byte
	on := false
	for {
		if err := ctx.Err(); err != nil {
			return configstore.Credentials{}, err
		}
		on = !on
		if led != nil {
			led(on)
		}

		rctx, cancel := context.WithTimeout(ctx, blinkPeriod)
		n, err := s.port.RecvSomeContext(rctx, chunk[:])
		cancel()
		if err != nil || n == 0 {
			continue
		}
		s.port.Write(chunk[:n]) // echo
		if done := s.feed(chunk[:n]); done {
			if led != nil {
				led(false)
			}
			return s.creds, nil
		}
	}
}

// feed accumulates console bytes and handles each completed line.
func (s *Service) feed(b []byte) (done bool) {
	for _, c := range b {
		switch c {
		case '\r':
		case '\n':
			line := string(s.line)
			s.line = s.line[:0]
			if s.handleLine(line) {
				return true
			}
		default:
			if len(s.line) < lineMax {
				s.line = append(s.line, c)
			}
		}
	}
	return false
}

// handleLine executes one console command. Returns true once credentials
// are saved.
func (s *Service) handleLine(line string) bool {
	fields, err := shlex.Split(line)
	if err != nil {
		s.print("parse error: " + err.Error())
		return false
	}
	if len(fields) == 0 {
		return false
	}
	switch fields[0] {
	case "help":
		s.banner()
	case "show":
		s.print("ssid:   " + s.creds.SSID)
		s.print("secret: " + mask(s.creds.Secret))
	case "ssid":
		if len(fields) < 2 {
			s.print("usage: ssid <network name>")
			return false
		}
		s.creds.SSID = strings.Join(fields[1:], " ")
		s.print("ok")
	case "secret":
		if len(fields) < 2 {
			s.print("usage: secret <password>")
			return false
		}
		s.creds.Secret = strings.Join(fields[1:], " ")
		s.print("ok")
	case "save":
		if s.creds.SSID == "" {
			s.print("error: " + errcode.EmptySSID.Error())
			return false
		}
		if err := configstore.Save(s.fs, configstore.Render(s.creds)); err != nil {
			s.print("error: " + err.Error())
			return false
		}
		s.creds.Valid = true
		s.print("saved, rebooting")
		println("[provision] credentials saved")
		return true
	default:
		s.print("unknown command: " + fields[0])
	}
	return false
}

func (s *Service) banner() {
	s.print("")
	s.print("StageKit bridge setup")
	s.print("  ssid <network name>   quote names with spaces")
	s.print("  secret <password>")
	s.print("  show")
	s.print("  save")
}

func (s *Service) print(msg string) {
	s.port.Write([]byte(msg))
	s.port.Write([]byte("\r\n"))
}

func mask(secret string) string {
	if secret == "" {
		return "(not set)"
	}
	return "********"
}
