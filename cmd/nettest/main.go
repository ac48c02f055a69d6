// nettest exercises a running bridge from a development machine: it
// discovers bridges by broadcast, watches their telemetry, and injects
// test lighting commands without needing the game running.
//
//	nettest                          discover bridges on the LAN
//	nettest -listen                  print telemetry as it arrives
//	nettest -send red -leds aa       light alternate red LEDs
//	nettest -send off -target 192.168.1.30
package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/andreyvit/tinyjson"

	"stagebridge/rb3e"
	"stagebridge/services/usbhost"
)

func main() {
	var (
		listen = flag.Bool("listen", false, "print telemetry records as they arrive")
		send   = flag.String("send", "", "command: red|green|blue|yellow|strobe|fog|fogoff|off or LL,RR hex")
		leds   = flag.String("leds", "ff", "LED bitmask (hex) for color commands")
		target = flag.String("target", "", "bridge address; discovered by broadcast when empty")
		wait   = flag.Duration("wait", 8*time.Second, "discovery reply window")
	)
	flag.Parse()

	switch {
	case *listen:
		listenTelemetry()
	case *send != "":
		addr := *target
		if addr == "" {
			addrs := discover(*wait)
			if len(addrs) == 0 {
				fail("no bridge found; is it on this network?")
			}
			addr = addrs[0]
		}
		sendCommand(addr, *send, *leds)
	default:
		if addrs := discover(*wait); len(addrs) == 0 {
			fail("no bridge found; is it on this network?")
		}
	}
}

func fail(msg string) {
	fmt.Fprintln(os.Stderr, "nettest:", msg)
	os.Exit(1)
}

// discover broadcasts a probe and prints every bridge that answers.
// Bridges address replies to the telemetry port, not the sender's port,
// and only on the telemetry cadence, so the socket must bind 21071 and
// the window must outlast one cadence interval.
func discover(wait time.Duration) []string {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: rb3e.TelemetryPort})
	if err != nil {
		fail(err.Error())
	}
	defer conn.Close()

	probe := []byte(`{"type": "discovery"}`)
	dst := &net.UDPAddr{IP: net.IPv4bcast, Port: rb3e.TelemetryPort}
	if _, err := conn.WriteToUDP(probe, dst); err != nil {
		fail(err.Error())
	}

	var found []string
	buf := make([]byte, 512)
	deadline := time.Now().Add(wait)
	for {
		conn.SetReadDeadline(deadline)
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			break
		}
		if rec, ok := decodeTelemetry(buf[:n]); ok {
			fmt.Printf("%s  %s\n", from.IP, rec)
			found = append(found, from.IP.String())
		}
	}
	if len(found) == 0 {
		fmt.Println("no replies")
	}
	return found
}

// listenTelemetry binds the telemetry port and prints records forever.
func listenTelemetry() {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: rb3e.TelemetryPort})
	if err != nil {
		fail(err.Error())
	}
	defer conn.Close()
	fmt.Println("listening on", rb3e.TelemetryPort)

	buf := make([]byte, 512)
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			fail(err.Error())
		}
		if rec, ok := decodeTelemetry(buf[:n]); ok {
			fmt.Printf("%s  %s\n", from.IP, rec)
		}
	}
}

// decodeTelemetry parses one telemetry JSON record into a display line.
func decodeTelemetry(data []byte) (line string, ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	r := tinyjson.Raw(data)
	val := r.Value()
	r.EnsureEOF()
	m, isMap := val.(map[string]any)
	if !isMap {
		return "", false
	}
	// The shared port echoes our own probe back; only records carrying
	// a device id are telemetry.
	if _, has := m["id"]; !has {
		return "", false
	}
	return fmt.Sprintf("id=%v name=%q usb=%v rssi=%v uptime=%vs",
		m["id"], m["name"], m["usb_status"], m["wifi_signal"], m["uptime"]), true
}

// sendCommand builds a game event for the named command and fires it at
// the bridge's event port.
func sendCommand(addr, name, ledMask string) {
	left, right, err := resolveCommand(name, ledMask)
	if err != nil {
		fail(err.Error())
	}
	conn, err := net.Dial("udp4", net.JoinHostPort(addr, strconv.Itoa(rb3e.ListenPort)))
	if err != nil {
		fail(err.Error())
	}
	defer conn.Close()

	pkt := rb3e.AppendStageKit(nil, left, right)
	if _, err := conn.Write(pkt); err != nil {
		fail(err.Error())
	}
	fmt.Printf("sent %s (left=%#02x right=%#02x) to %s\n", name, left, right, addr)
}

func resolveCommand(name, ledMask string) (left, right byte, err error) {
	mask, err := strconv.ParseUint(ledMask, 16, 8)
	if err != nil {
		return 0, 0, fmt.Errorf("bad led mask %q", ledMask)
	}
	switch strings.ToLower(name) {
	case "red":
		return byte(mask), usbhost.CmdLEDRed, nil
	case "green":
		return byte(mask), usbhost.CmdLEDGreen, nil
	case "blue":
		return byte(mask), usbhost.CmdLEDBlue, nil
	case "yellow":
		return byte(mask), usbhost.CmdLEDYellow, nil
	case "strobe":
		return 0, usbhost.CmdStrobe1, nil
	case "fog":
		return 0, usbhost.CmdFogOn, nil
	case "fogoff":
		return 0, usbhost.CmdFogOff, nil
	case "off":
		return 0, usbhost.CmdAllOff, nil
	}
	// Raw form: two hex bytes, "LL,RR".
	parts := strings.Split(name, ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("unknown command %q", name)
	}
	l, lerr := strconv.ParseUint(strings.TrimSpace(parts[0]), 16, 8)
	r, rerr := strconv.ParseUint(strings.TrimSpace(parts[1]), 16, 8)
	if lerr != nil || rerr != nil {
		return 0, 0, fmt.Errorf("bad raw command %q", name)
	}
	return byte(l), byte(r), nil
}
