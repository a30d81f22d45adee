// Package serial opens the link to the bridge firmware.
package serial

import (
	"io"
	"time"
)

// Port is a serial link. Read returns (0, nil) when the read timeout
// expires without data and an error once the port is closed.
type Port interface {
	io.ReadWriteCloser

	// Flush flushes any buffered data
	Flush() error
}

// Config holds serial port configuration
type Config struct {
	// Device path (e.g., "/dev/ttyACM0", "COM3")
	Device string

	// Baud rate; USB CDC ignores it
	Baud int

	// ReadTimeout bounds each read (0 = blocking)
	ReadTimeout time.Duration
}

// DefaultConfig returns the configuration used by the bridge firmware.
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        115200,
		ReadTimeout: 100 * time.Millisecond,
	}
}
