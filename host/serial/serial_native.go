//go:build !wasm

package serial

import (
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/tarm/serial"
)

// ErrClosed is returned by reads and writes on a closed port.
var ErrClosed = errors.New("serial: port closed")

// NativePort wraps the tarm/serial implementation
type NativePort struct {
	port   io.ReadWriteCloser
	cfg    Config
	closed atomic.Bool
}

// Open opens a native serial port
func Open(cfg *Config) (*NativePort, error) {
	if cfg == nil {
		return nil, errors.New("serial: config cannot be nil")
	}

	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Device,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.ReadTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("serial: open %s: %w", cfg.Device, err)
	}
	return newPort(port, cfg), nil
}

func newPort(port io.ReadWriteCloser, cfg *Config) *NativePort {
	return &NativePort{port: port, cfg: *cfg}
}

// Read reads data from the serial port. tarm reports an expired read
// timeout as io.EOF; that is mapped to an empty read while the port is
// open.
func (p *NativePort) Read(b []byte) (int, error) {
	if p.closed.Load() {
		return 0, ErrClosed
	}
	n, err := p.port.Read(b)
	if err == io.EOF {
		if p.closed.Load() {
			return n, ErrClosed
		}
		if p.cfg.ReadTimeout > 0 {
			err = nil
		}
	}
	return n, err
}

// Write writes data to the serial port
func (p *NativePort) Write(b []byte) (int, error) {
	if p.closed.Load() {
		return 0, ErrClosed
	}
	return p.port.Write(b)
}

// Close closes the serial port
func (p *NativePort) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	return p.port.Close()
}

// Flush is a no-op; tarm/serial writes synchronously.
func (p *NativePort) Flush() error {
	return nil
}

// Device returns the device path.
func (p *NativePort) Device() string {
	return p.cfg.Device
}

var _ Port = (*NativePort)(nil)
