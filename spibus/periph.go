package spibus

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
)

// MaxClockHz is the connection speed requested from a periph port. Each
// Initialize lowers the effective speed through LimitSpeed.
const MaxClockHz = 25_000_000

// NewPeriph returns a Bus on a periph SPI port with cs as a GPIO chip
// select. The port keeps its own chip select unused.
func NewPeriph(port spi.PortCloser, cs gpio.PinOut, cfg *Config) (*Bus, error) {
	conn, err := port.Connect(MaxClockHz*physic.Hertz, spi.Mode0|spi.NoCS, 8)
	if err != nil {
		return nil, fmt.Errorf("spibus: connect %s: %w", port, err)
	}

	var c Config
	if cfg != nil {
		c = *cfg
	}
	if c.Configure == nil {
		c.Configure = func(hz uint32) error {
			return port.LimitSpeed(physic.Frequency(hz) * physic.Hertz)
		}
	}
	return New(&periphSPI{conn: conn}, periphPin{cs}, &c), nil
}

// periphSPI adapts a periph connection to drivers.SPI.
type periphSPI struct {
	conn spi.Conn
	buf  [1]byte
}

func (p *periphSPI) Tx(w, r []byte) error {
	if len(w) == 0 && len(r) > 0 {
		w = make([]byte, len(r))
	}
	return p.conn.Tx(w, r)
}

func (p *periphSPI) Transfer(b byte) (byte, error) {
	if err := p.conn.Tx([]byte{b}, p.buf[:]); err != nil {
		return 0, err
	}
	return p.buf[0], nil
}

type periphPin struct {
	gpio.PinOut
}

func (p periphPin) High() { _ = p.Out(gpio.High) }
func (p periphPin) Low()  { _ = p.Out(gpio.Low) }
