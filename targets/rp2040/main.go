//go:build rp2040 || rp2350

// Firmware exposing the SD card socket to a host over USB. The host runs
// the card engine; this program moves bytes between the USB link and the
// SPI bus.
package main

import (
	"machine"
	"time"

	"sdspi/core"
)

// Version is set with -ldflags at build time.
var Version = "dev"

const (
	// debugUART carries debug output; USB carries the bridge.
	debugEnabled = false
	debugBaud    = 115200
)

var (
	// Debug counters
	messagesReceived uint32
	msgerrors        uint32
)

func main() {
	// Disable the watchdog left over from a previous reset
	if err := machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: 0}); err != nil {
		return
	}

	InitUSB()
	initDebug()
	logger := core.NewDebugLogger()

	link := &usbLink{}
	bus, busName, err := newCardBus(logger)
	if err != nil {
		logger.Error("bus setup failed", "err", err)
		for {
			time.Sleep(time.Second)
		}
	}

	bridge := core.NewBridge(bus, link, &core.BridgeConfig{
		Version:       Version,
		BuildVersions: "tinygo",
		Constants: map[string]any{
			"MCU":        "rp2040",
			"CLOCK_FREQ": uint32(1000000),
			"SD_BUS":     busName,
			"SD_CS_PIN":  uint32(sdCS),
		},
		Logger: logger,
	})
	logger.Info("bridge ready", "bus", busName, "commands", bridge.Registry().Count())

	buf := make([]byte, 64)
	for {
		// Recover from panics so a bad frame never halts the firmware
		func() {
			defer func() {
				if r := recover(); r != nil {
					msgerrors++
					bus.Release()
				}
			}()
			n := USBRead(buf)
			if n == 0 {
				return
			}
			if link.received() {
				logger.Info("host reconnected", "errors", link.errors)
			}
			bridge.Feed(buf[:n])
			messagesReceived++
		}()

		// Yield to other goroutines
		time.Sleep(10 * time.Microsecond)
	}
}

func initDebug() {
	if !debugEnabled {
		return
	}
	machine.UART0.Configure(machine.UARTConfig{BaudRate: debugBaud})
	core.SetDebugWriter(func(s string) {
		machine.UART0.Write([]byte(s))
		machine.UART0.Write([]byte("\r\n"))
	})
	core.SetDebugEnabled(true)
}
