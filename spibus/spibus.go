// Package spibus drives an SD card over a byte oriented SPI controller and
// a GPIO chip select line. The resulting Bus is an sdcard.Transport.
package spibus

import (
	"fmt"
	"time"

	"github.com/fclairamb/go-log"
	"github.com/fclairamb/go-log/noop"
	"tinygo.org/x/drivers"

	"sdspi/sdcard"
)

// ChipSelect is an active low select line. machine.Pin satisfies it.
type ChipSelect interface {
	High()
	Low()
}

// Config controls a Bus. Zero fields take defaults.
type Config struct {
	// Configure applies a bus clock. nil leaves the controller as is.
	Configure func(hz uint32) error
	// ReadyTimeout bounds the select probe, 500ms by default.
	ReadyTimeout time.Duration
	Clock        sdcard.Clock
	Logger       log.Logger
}

func (c *Config) applyDefaults() {
	if c.ReadyTimeout == 0 {
		c.ReadyTimeout = 500 * time.Millisecond
	}
	if c.Clock == nil {
		c.Clock = sdcard.SystemClock()
	}
	if c.Logger == nil {
		c.Logger = noop.NewNoOpLogger()
	}
}

// Bus is an sdcard.Transport over a drivers.SPI.
type Bus struct {
	spi drivers.SPI
	cs  ChipSelect
	cfg Config

	hz uint32
	ff [32]byte
}

var _ sdcard.Transport = (*Bus)(nil)

// New returns a Bus on spi with chip select cs. The line is released.
func New(spi drivers.SPI, cs ChipSelect, cfg *Config) *Bus {
	b := &Bus{spi: spi, cs: cs}
	if cfg != nil {
		b.cfg = *cfg
	}
	b.cfg.applyDefaults()
	for i := range b.ff {
		b.ff[i] = 0xFF
	}
	cs.High()
	return b
}

// ClockHz returns the clock of the last Initialize.
func (b *Bus) ClockHz() uint32 {
	return b.hz
}

// Initialize sets the bus clock.
func (b *Bus) Initialize(clockHz uint32) error {
	if b.cfg.Configure != nil {
		if err := b.cfg.Configure(clockHz); err != nil {
			return fmt.Errorf("spibus: clock %d Hz: %w", clockHz, err)
		}
	}
	b.hz = clockHz
	b.cfg.Logger.Debug("bus clock set", "hz", clockHz)
	return nil
}

// Select asserts chip select and clocks 0xFF until the card releases the
// data line.
func (b *Bus) Select() error {
	b.cs.Low()
	end := b.cfg.Clock.Now().Add(b.cfg.ReadyTimeout)
	for {
		r, err := b.spi.Transfer(0xFF)
		if err != nil {
			return err
		}
		if r == 0xFF {
			return nil
		}
		if !b.cfg.Clock.Now().Before(end) {
			return fmt.Errorf("%w: data line held at 0x%02x", sdcard.ErrBusNotReady, r)
		}
	}
}

// Release deasserts chip select and clocks one byte so the card lets go
// of the data line.
func (b *Bus) Release() {
	b.cs.High()
	_, _ = b.spi.Transfer(0xFF)
}

func (b *Bus) Send(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	return b.spi.Tx(p, nil)
}

// Recv clocks 0xFF while reading len(p) bytes.
func (b *Bus) Recv(p []byte) error {
	for len(p) > 0 {
		n := min(len(p), len(b.ff))
		if err := b.spi.Tx(b.ff[:n], p[:n]); err != nil {
			return err
		}
		p = p[n:]
	}
	return nil
}

// Flush is a no-op, every transfer completes before returning.
func (b *Bus) Flush() error {
	return nil
}
