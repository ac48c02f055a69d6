// Package rb3e implements the RB3Enhanced network protocol: the inbound
// game-event packet format and the outbound telemetry/discovery payloads
// exchanged with the dashboard. All functions are pure and allocation-free
// on the parse path.
package rb3e

// Every packet starts with the 4-byte magic "RB3E".
const (
	MagicByte0 = 0x52 // 'R'
	MagicByte1 = 0x42 // 'B'
	MagicByte2 = 0x33 // '3'
	MagicByte3 = 0x45 // 'E'
)

// Event types.
const (
	EventAlive      = 0
	EventState      = 1
	EventSongName   = 2
	EventSongArtist = 3
	EventSongShort  = 4
	EventScore      = 5
	EventStageKit   = 6
	EventBandInfo   = 7
)

// UDP ports.
const (
	ListenPort    = 21070 // inbound game events
	TelemetryPort = 21071 // telemetry out, discovery probes in
)

// HeaderLen is the fixed header size; a stagekit packet carries a further
// two payload bytes.
const (
	HeaderLen         = 8
	StageKitPacketLen = HeaderLen + 2
)

// Header is the 8-byte packet preamble.
type Header struct {
	Version  byte
	Type     byte
	Size     byte
	Platform byte
}

// CheckMagic reports whether b starts with the RB3E magic.
func CheckMagic(b []byte) bool {
	return len(b) >= 4 &&
		b[0] == MagicByte0 && b[1] == MagicByte1 &&
		b[2] == MagicByte2 && b[3] == MagicByte3
}

// ParseHeader extracts the header fields. ok is false when b is too short
// or the magic does not match.
func ParseHeader(b []byte) (h Header, ok bool) {
	if len(b) < HeaderLen || !CheckMagic(b) {
		return Header{}, false
	}
	return Header{
		Version:  b[4],
		Type:     b[5],
		Size:     b[6],
		Platform: b[7],
	}, true
}

// AppendHeader appends the 8-byte wire form of h to dst.
func AppendHeader(dst []byte, h Header) []byte {
	return append(dst,
		MagicByte0, MagicByte1, MagicByte2, MagicByte3,
		h.Version, h.Type, h.Size, h.Platform)
}

// ParseStageKit validates a datagram and extracts the two lighting command
// bytes. It rejects short packets, bad magic, and every event type other
// than EventStageKit. O(1), no side effects.
func ParseStageKit(b []byte) (left, right byte, ok bool) {
	if len(b) < StageKitPacketLen {
		return 0, 0, false
	}
	if !CheckMagic(b) {
		return 0, 0, false
	}
	if b[5] != EventStageKit {
		return 0, 0, false
	}
	return b[8], b[9], true
}

// AppendStageKit appends a complete stagekit packet carrying the given
// command pair. Used by tests and the host-side net tool; the device never
// sends game events.
func AppendStageKit(dst []byte, left, right byte) []byte {
	dst = AppendHeader(dst, Header{Version: 1, Type: EventStageKit, Size: 2})
	return append(dst, left, right)
}
