// Package platform binds the firmware to a build target. The rp2 file
// holds every vendor API contact (radio, flash filesystem, watchdog,
// LED, UART); the host file substitutes fakes and stdlib networking so
// the firmware runs on a development machine.
package platform

import (
	"time"

	"stagebridge/errcode"
	"stagebridge/services/configstore"
	"stagebridge/services/netmgr"
	"stagebridge/services/provision"
	"stagebridge/services/safety"
	"stagebridge/services/usbhost"
	"stagebridge/x/udpio"
)

// Resources is everything main needs from the target.
type Resources struct {
	Radio    netmgr.Radio
	Sockets  udpio.Sockets
	FS       configstore.Filesystem
	Watchdog safety.Watchdog
	LED      func(on bool)
	Console  provision.SerialPort
	USB      usbhost.Port
}

// NewUSBPort is the host-controller hook. The USB host stack is vendor
// glue outside this module; board support packages assign this at init.
// When unset the firmware runs with no device, which is still useful for
// network bring-up.
var NewUSBPort func() usbhost.Port

func usbPort() usbhost.Port {
	if NewUSBPort != nil {
		return NewUSBPort()
	}
	println("[platform] no usb host stack, running deviceless")
	return nullUSBPort{}
}

type nullUSBPort struct{}

func (nullUSBPort) Service() {}

func (nullUSBPort) PollEvent() (usbhost.Event, bool) { return usbhost.Event{}, false }

func (nullUSBPort) DeviceDescriptor(uint8) (usbhost.Descriptor, error) {
	return usbhost.Descriptor{}, errcode.NoDevice
}
func (nullUSBPort) ControlOut(uint8, usbhost.Setup, []byte, time.Duration) error {
	return errcode.NoDevice
}
