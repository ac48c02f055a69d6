// bus/cmd/selftest/main.go
//
// On-device bus self-test: flash to a Pico and watch the serial log. The
// LED ends solid on success, blinking on failure.

//go:build rp2040 || rp2350

package main

import (
	"sort"
	"time"

	"stagebridge/bus"

	"machine"
)

// --- tiny logger (avoid fmt on MCU) ------------------------------------------

func logln(s string) { println(s) }

func logf(format string, a ...interface{}) {
	out := make([]byte, 0, len(format)+16)
	argi := 0
	for i := 0; i < len(format); i++ {
		if format[i] == '%' && i+1 < len(format) {
			switch format[i+1] {
			case 's':
				if argi < len(a) {
					if s, ok := a[argi].(string); ok {
						out = append(out, s...)
					}
					argi++
				}
				i++
				continue
			case 'd':
				if argi < len(a) {
					if n, ok := a[argi].(int); ok {
						out = append(out, itoa(n)...)
					}
					argi++
				}
				i++
				continue
			}
		}
		out = append(out, format[i])
	}
	println(string(out))
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	sign := ""
	if i < 0 {
		sign = "-"
		i = -i
	}
	var buf [32]byte
	b := len(buf)
	for i > 0 {
		b--
		buf[b] = byte('0' + (i % 10))
		i /= 10
	}
	if sign != "" {
		b--
		buf[b] = '-'
	}
	return string(buf[b:])
}

// --- helpers ------------------------------------------------------------------

func expectPayload(sub *bus.Subscription, want string, timeout time.Duration) (ok bool, why string) {
	select {
	case got := <-sub.Channel():
		s, ok := got.Payload.(string)
		if !ok || s != want {
			return false, "unexpected payload"
		}
		return true, ""
	case <-time.After(timeout):
		return false, "timeout"
	}
}

func expectNoMessage(sub *bus.Subscription, timeout time.Duration) (ok bool, why string) {
	select {
	case <-sub.Channel():
		return false, "unexpected message"
	case <-time.After(timeout):
		return true, ""
	}
}

func drainPayloads(sub *bus.Subscription, n int, deadline time.Time) ([]string, bool) {
	var out []string
	for len(out) < n && time.Now().Before(deadline) {
		select {
		case m := <-sub.Channel():
			if s, ok := m.Payload.(string); ok {
				out = append(out, s)
			} else {
				return nil, false
			}
		case <-time.After(10 * time.Millisecond):
		}
	}
	return out, len(out) == n
}

func unorderedEqual(got, want []string) bool {
	sort.Strings(got)
	sort.Strings(want)
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

// --- individual tests (return bool pass/fail) --------------------------------

func TestBasicPubSub() bool {
	b := bus.NewBus(4)
	conn := b.NewConnection("test")
	sub := conn.Subscribe(bus.T("usb", "state"))

	conn.Publish(conn.NewMessage(bus.T("usb", "state"), "configured", false))

	ok, why := expectPayload(sub, "configured", 100*time.Millisecond)
	if !ok {
		logf("TestBasicPubSub: %s", why)
	}
	return ok
}

func TestRetainedReplay() bool {
	b := bus.NewBus(2)
	conn := b.NewConnection("test")

	conn.Publish(b.NewMessage(bus.T("net", "state"), "listening", true))
	sub := conn.Subscribe(bus.T("net", "state"))

	ok, why := expectPayload(sub, "listening", 100*time.Millisecond)
	if !ok {
		logf("TestRetainedReplay: %s", why)
	}
	return ok
}

func TestRetainedOverwrite() bool {
	b := bus.NewBus(2)
	conn := b.NewConnection("test")

	conn.Publish(b.NewMessage(bus.T("net", "state"), "connecting", true))
	conn.Publish(b.NewMessage(bus.T("net", "state"), "connected", true))
	sub := conn.Subscribe(bus.T("net", "state"))

	ok, why := expectPayload(sub, "connected", 100*time.Millisecond)
	if !ok {
		logf("TestRetainedOverwrite: %s", why)
		return false
	}
	if ok, _ := expectNoMessage(sub, 60*time.Millisecond); !ok {
		logln("TestRetainedOverwrite: stale document replayed")
		return false
	}
	return true
}

func TestRetainedClear() bool {
	b := bus.NewBus(4)
	conn := b.NewConnection("test")

	conn.Publish(b.NewMessage(bus.T("usb", "state"), "configured", true))
	conn.Publish(b.NewMessage(bus.T("usb", "state"), nil, true))
	sub := conn.Subscribe(bus.T("usb", "state"))

	ok, _ := expectNoMessage(sub, 60*time.Millisecond)
	if !ok {
		logln("TestRetainedClear: cleared document replayed")
	}
	return ok
}

func TestTailWildcard() bool {
	b := bus.NewBus(8)
	conn := b.NewConnection("test")

	all := conn.Subscribe(bus.T(bus.Tail))
	netOnly := conn.Subscribe(bus.T("net", bus.Tail))

	conn.Publish(b.NewMessage(bus.T("net", "state"), "connected", false))
	if ok, _ := expectPayload(all, "connected", 200*time.Millisecond); !ok {
		logln("TestTailWildcard: root # missed net/state")
		return false
	}
	if ok, _ := expectPayload(netOnly, "connected", 200*time.Millisecond); !ok {
		logln("TestTailWildcard: net/# missed net/state")
		return false
	}

	conn.Publish(b.NewMessage(bus.T("bridge", "state"), "run", false))
	if ok, _ := expectPayload(all, "run", 200*time.Millisecond); !ok {
		logln("TestTailWildcard: root # missed bridge/state")
		return false
	}
	if ok, _ := expectNoMessage(netOnly, 60*time.Millisecond); !ok {
		logln("TestTailWildcard: net/# got bridge/state")
		return false
	}
	return true
}

func TestTailRetainedSubtreeReplay() bool {
	b := bus.NewBus(8)
	conn := b.NewConnection("test")

	conn.Publish(b.NewMessage(bus.T("net", "state"), "listening", true))
	conn.Publish(b.NewMessage(bus.T("usb", "state"), "configured", true))
	conn.Publish(b.NewMessage(bus.T("bridge", "state"), "run", true))

	mon := conn.Subscribe(bus.T(bus.Tail))
	got, ok := drainPayloads(mon, 3, time.Now().Add(300*time.Millisecond))
	if !ok || !unorderedEqual(got, []string{"listening", "configured", "run"}) {
		logln("TestTailRetainedSubtreeReplay: replay mismatch")
		return false
	}

	sub := conn.Subscribe(bus.T("net", bus.Tail))
	got, ok = drainPayloads(sub, 1, time.Now().Add(300*time.Millisecond))
	if !ok || got[0] != "listening" {
		logln("TestTailRetainedSubtreeReplay: subtree replay mismatch")
		return false
	}
	if ok, _ := expectNoMessage(sub, 60*time.Millisecond); !ok {
		logln("TestTailRetainedSubtreeReplay: foreign subtree replayed")
		return false
	}
	return true
}

func TestQueueDropsOldest() bool {
	b := bus.NewBus(2)
	conn := b.NewConnection("test")
	sub := conn.Subscribe(bus.T("net", "state"))

	conn.Publish(b.NewMessage(bus.T("net", "state"), "one", false))
	conn.Publish(b.NewMessage(bus.T("net", "state"), "two", false))
	conn.Publish(b.NewMessage(bus.T("net", "state"), "three", false))

	got, ok := drainPayloads(sub, 2, time.Now().Add(200*time.Millisecond))
	if !ok || !unorderedEqual(got, []string{"two", "three"}) {
		logln("TestQueueDropsOldest: expected the two newest")
		return false
	}
	return true
}

func TestUnsubscribeStopsDelivery() bool {
	b := bus.NewBus(4)
	conn := b.NewConnection("test")
	sub := conn.Subscribe(bus.T("net", "state"))
	sub.Unsubscribe()

	conn.Publish(b.NewMessage(bus.T("net", "state"), "late", false))
	if _, open := <-sub.Channel(); open {
		logln("TestUnsubscribeStopsDelivery: channel still open")
		return false
	}
	return true
}

func TestDisconnectClosesAll() bool {
	b := bus.NewBus(4)
	conn := b.NewConnection("test")
	s1 := conn.Subscribe(bus.T("net", "state"))
	s2 := conn.Subscribe(bus.T("usb", bus.Tail))
	conn.Disconnect()

	if _, open := <-s1.Channel(); open {
		logln("TestDisconnectClosesAll: s1 open")
		return false
	}
	if _, open := <-s2.Channel(); open {
		logln("TestDisconnectClosesAll: s2 open")
		return false
	}
	return true
}

// --- main: run all tests, report, and blink LED on failure --------------------

type testFn struct {
	name string
	fn   func() bool
}

func main() {
	// Give the USB CDC time to enumerate so logs show up reliably.
	time.Sleep(250 * time.Millisecond)

	led := machine.LED
	led.Configure(machine.PinConfig{Mode: machine.PinOutput})
	led.High() // signal "running"

	tests := []testFn{
		{"TestBasicPubSub", TestBasicPubSub},
		{"TestRetainedReplay", TestRetainedReplay},
		{"TestRetainedOverwrite", TestRetainedOverwrite},
		{"TestRetainedClear", TestRetainedClear},
		{"TestTailWildcard", TestTailWildcard},
		{"TestTailRetainedSubtreeReplay", TestTailRetainedSubtreeReplay},
		{"TestQueueDropsOldest", TestQueueDropsOldest},
		{"TestUnsubscribeStopsDelivery", TestUnsubscribeStopsDelivery},
		{"TestDisconnectClosesAll", TestDisconnectClosesAll},
	}

	passed, failed := 0, 0
	logln("== bus self-test starting ==")
	for _, tc := range tests {
		if tc.fn() {
			logf("[PASS] %s", tc.name)
			passed++
		} else {
			logf("[FAIL] %s", tc.name)
			failed++
		}
		// tiny pause between tests to keep timings sane on MCU
		time.Sleep(10 * time.Millisecond)
	}
	logf("== done: %d passed, %d failed ==", passed, failed)

	// LED: solid ON if all passed, otherwise slow blink forever.
	if failed == 0 {
		for {
			led.High()
			time.Sleep(2 * time.Second)
		}
	} else {
		for {
			led.High()
			time.Sleep(250 * time.Millisecond)
			led.Low()
			time.Sleep(250 * time.Millisecond)
		}
	}
}
