package main

import (
	"context"
	"time"

	"stagebridge/bus"
	"stagebridge/errcode"
	"stagebridge/platform"
	"stagebridge/services/bridge"
	"stagebridge/services/configstore"
	"stagebridge/services/netmgr"
	"stagebridge/services/provision"
	"stagebridge/services/safety"
	"stagebridge/services/usbhost"
	"stagebridge/x/mailbox"
)

func main() {
	// Give a USB serial monitor time to attach before the banner.
	time.Sleep(3 * time.Second)
	println("==========================================")
	println(" StageKit Bridge")
	println("==========================================")

	res := platform.GetResources()

	if err := res.Watchdog.Start(); err != nil {
		println("[main] watchdog start failed:", err.Error())
	}

	b := bus.NewBus(4)
	startMonitor(b)

	usb := usbhost.NewManager(res.USB)
	usb.AttachBus(b.NewConnection("usb"))

	if err := configstore.Mount(res.FS); err != nil {
		println("[main] settings filesystem unusable:", err.Error())
		runProvisioning(res)
		return
	}
	creds, err := configstore.Load(res.FS)
	if err != nil {
		println("[main] no usable credentials:", err.Error())
		if errcode.Of(err) == errcode.NoSettings {
			if perr := configstore.CreatePlaceholder(res.FS); perr != nil {
				println("[main] placeholder write failed:", perr.Error())
			}
		}
		runProvisioning(res)
		return
	}

	net := netmgr.New(res.Radio, res.Sockets)
	net.AttachBus(b.NewConnection("net"))
	println("[main] device:", net.Name())

	sup := safety.New(safety.DefaultWindow)
	var slot mailbox.Slot
	br := bridge.New(usb, net, sup, res.Watchdog, &slot, creds)
	br.SetLED(res.LED)
	br.AttachBus(b.NewConnection("bridge"))

	// Boot-time association: a few tries for transient failures, but a
	// rejected passphrase will never start working on its own.
	var cerr error
	for attempt := 1; attempt <= netmgr.MaxBootRetries; attempt++ {
		if cerr = net.Connect(creds.SSID, creds.Secret, br.Idle); cerr == nil {
			break
		}
		if errcode.Of(cerr) == errcode.WifiBadAuth {
			break
		}
		println("[main] connect attempt failed:", cerr.Error())
		feedSleep(res, netmgr.RetryDelay)
	}
	if cerr != nil && errcode.Of(cerr) == errcode.WifiBadAuth {
		println("[main] credentials rejected, entering setup")
		runProvisioning(res)
		return
	}
	if cerr == nil {
		if err := net.StartListener(&slot, nil); err != nil {
			println("[main] listener failed:", err.Error())
		}
	}

	// Still offline here means the bridge loop keeps retrying forever.
	br.Run(context.Background())
}

// startMonitor mirrors every retained state document to the serial log.
func startMonitor(b *bus.Bus) {
	mon := b.NewConnection("monitor").Subscribe(bus.T(bus.Tail))
	go func() {
		for m := range mon.Channel() {
			if s, ok := m.Payload.(string); ok {
				println("[monitor]", m.Topic.String(), "=", s)
			}
		}
	}()
}

// feedSleep waits d without starving the watchdog.
func feedSleep(res *platform.Resources, d time.Duration) {
	end := time.Now().Add(d)
	for time.Now().Before(end) {
		res.Watchdog.Update()
		time.Sleep(100 * time.Millisecond)
	}
}

// runProvisioning hands the device to the setup flow and then reboots by
// letting the watchdog lapse.
func runProvisioning(res *platform.Resources) {
	svc := provision.New(res.Radio, res.Sockets, res.FS, res.Console)
	if err := svc.Start(); err != nil {
		println("[main] setup start failed:", err.Error())
	}
	_, err := svc.Run(context.Background(), func(on bool) {
		res.LED(on)
		res.Watchdog.Update()
	})
	svc.Stop()
	if err != nil {
		println("[main] setup aborted:", err.Error())
	}
	println("[main] rebooting")
	for {
		// Watchdog starvation resets hardware targets; hosts just idle.
		time.Sleep(time.Hour)
	}
}
