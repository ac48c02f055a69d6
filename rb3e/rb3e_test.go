package rb3e

import "testing"

func TestParseStageKitScenario(t *testing.T) {
	// Known-good packet: lighting event, left=0x80 (red LEDs), right=0x01.
	pkt := []byte{0x52, 0x42, 0x33, 0x45, 0x01, 0x06, 0x02, 0x00, 0x80, 0x01}
	left, right, ok := ParseStageKit(pkt)
	if !ok {
		t.Fatal("valid stagekit packet rejected")
	}
	if left != 0x80 || right != 0x01 {
		t.Fatalf("command = (%#x, %#x), want (0x80, 0x01)", left, right)
	}
}

func TestParseStageKitIgnoredEventType(t *testing.T) {
	// Same header shape but event type 0x02 (song name) must be ignored.
	pkt := []byte{0x52, 0x42, 0x33, 0x45, 0x01, 0x02, 0x02, 0x00, 0x80, 0x01}
	if _, _, ok := ParseStageKit(pkt); ok {
		t.Fatal("non-lighting event type accepted")
	}
}

func TestParseStageKitShortPackets(t *testing.T) {
	full := AppendStageKit(nil, 0x40, 0x07)
	for n := 0; n < StageKitPacketLen; n++ {
		if _, _, ok := ParseStageKit(full[:n]); ok {
			t.Fatalf("packet of %d bytes accepted", n)
		}
	}
}

func TestParseStageKitBadMagic(t *testing.T) {
	pkt := AppendStageKit(nil, 0x01, 0x20)
	for i := 0; i < 4; i++ {
		bad := append([]byte(nil), pkt...)
		bad[i] ^= 0xFF
		if _, _, ok := ParseStageKit(bad); ok {
			t.Fatalf("corrupt magic byte %d accepted", i)
		}
	}
}

func TestStageKitRoundTrip(t *testing.T) {
	type C struct{ left, right byte }
	for _, c := range []C{
		{0x00, 0xFF}, // all off
		{0x80, 0x01},
		{0xFF, 0x60},
		{0x01, 0x03}, // strobe speed 1
	} {
		pkt := AppendStageKit(nil, c.left, c.right)
		if len(pkt) != StageKitPacketLen {
			t.Fatalf("packet length %d, want %d", len(pkt), StageKitPacketLen)
		}
		l, r, ok := ParseStageKit(pkt)
		if !ok || l != c.left || r != c.right {
			t.Fatalf("round trip (%#x,%#x) -> (%#x,%#x,%v)", c.left, c.right, l, r, ok)
		}
	}
}

func TestParseHeader(t *testing.T) {
	b := AppendHeader(nil, Header{Version: 1, Type: EventScore, Size: 4, Platform: 2})
	h, ok := ParseHeader(b)
	if !ok {
		t.Fatal("valid header rejected")
	}
	if h.Version != 1 || h.Type != EventScore || h.Size != 4 || h.Platform != 2 {
		t.Fatalf("header = %+v", h)
	}
	if _, ok := ParseHeader(b[:HeaderLen-1]); ok {
		t.Fatal("short header accepted")
	}
}
