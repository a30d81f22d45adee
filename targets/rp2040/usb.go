//go:build rp2040 || rp2350

package main

import (
	"io"
	"machine"
)

// InitUSB configures the USB CDC port. machine.Serial is USB CDC on
// RP2040 and RP2350; TinyGo provides the descriptors.
func InitUSB() {
	machine.Serial.Configure(machine.UARTConfig{})
}

// USBRead moves buffered USB bytes into p and returns how many it moved.
func USBRead(p []byte) int {
	n := 0
	for n < len(p) && machine.Serial.Buffered() > 0 {
		b, err := machine.Serial.ReadByte()
		if err != nil {
			break
		}
		p[n] = b
		n++
	}
	return n
}

// usbLink writes bridge frames to the USB port. After a run of failed
// writes the host is taken as gone and frames are dropped until it speaks
// again.
type usbLink struct {
	failures     uint32
	disconnected bool
	errors       uint32
}

const maxWriteFailures = 10

func (u *usbLink) Write(p []byte) (int, error) {
	if u.disconnected {
		return len(p), nil
	}
	written := 0
	for written < len(p) {
		n, err := machine.Serial.Write(p[written:])
		if err == nil && n == 0 {
			err = io.ErrShortWrite
		}
		if err != nil {
			u.failures++
			u.errors++
			if u.failures > maxWriteFailures {
				u.disconnected = true
				u.failures = 0
			}
			return written, err
		}
		written += n
	}
	u.failures = 0
	return written, nil
}

// received marks the host as present again.
func (u *usbLink) received() (reconnected bool) {
	reconnected = u.disconnected
	u.disconnected = false
	return reconnected
}
