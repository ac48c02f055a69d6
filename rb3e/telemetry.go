package rb3e

import (
	"bytes"

	"stagebridge/x/conv"
	"stagebridge/x/mathx"
)

// Telemetry field values for the USB status string.
const (
	usbConnected    = "Connected"
	usbDisconnected = "Disconnected"
)

// discoveryMarker identifies a dashboard discovery probe. Probes are tiny
// JSON documents; a substring match keeps the receive path cheap and
// tolerant of field ordering.
const discoveryMarker = `"discovery"`

// Telemetry is the status record broadcast to the dashboard.
type Telemetry struct {
	ID           string // stable identifier (MAC string)
	Name         string // human-readable, derived from the MAC tail
	USBConnected bool
	RSSI         int32
	UptimeSecs   uint32
}

// AppendTelemetry appends the compact JSON wire form of t to dst without
// using fmt or encoding/json (the device builds this in the main loop).
func AppendTelemetry(dst []byte, t Telemetry) []byte {
	dst = append(dst, `{"id":"`...)
	dst = append(dst, t.ID...)
	dst = append(dst, `","name":"`...)
	dst = append(dst, t.Name...)
	dst = append(dst, `","usb_status":"`...)
	if t.USBConnected {
		dst = append(dst, usbConnected...)
	} else {
		dst = append(dst, usbDisconnected...)
	}
	dst = append(dst, `","wifi_signal":`...)
	// Radios occasionally report junk during association; the dashboard
	// expects dBm.
	dst = conv.Itoa(dst, int64(mathx.Clamp(t.RSSI, -120, 0)))
	dst = append(dst, `,"uptime":`...)
	dst = conv.Utoa(dst, uint64(t.UptimeSecs))
	return append(dst, '}')
}

// IsDiscoveryProbe recognizes a dashboard discovery probe.
func IsDiscoveryProbe(b []byte) bool {
	return bytes.Contains(b, []byte(discoveryMarker))
}
