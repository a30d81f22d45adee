package sdsim

import "sdspi/sdcard"

// Transport drives a Card directly as an sdcard.Transport.
type Transport struct {
	card *Card

	// ReadyBytes bounds the select probe.
	ReadyBytes int
	// Calls counts every method call.
	Calls int
}

var _ sdcard.Transport = (*Transport)(nil)

// Transport returns a transport view of the card.
func (c *Card) Transport() *Transport {
	return &Transport{card: c, ReadyBytes: 4096}
}

func (t *Transport) Initialize(clockHz uint32) error {
	t.Calls++
	t.card.SetClock(clockHz)
	return nil
}

func (t *Transport) Select() error {
	t.Calls++
	t.card.SetSelected(true)
	for i := 0; i < t.ReadyBytes; i++ {
		if t.card.Exchange(0xFF) == 0xFF {
			return nil
		}
	}
	return sdcard.ErrBusNotReady
}

func (t *Transport) Release() {
	t.Calls++
	t.card.SetSelected(false)
}

func (t *Transport) Send(p []byte) error {
	t.Calls++
	for _, b := range p {
		t.card.Exchange(b)
	}
	return nil
}

func (t *Transport) Recv(p []byte) error {
	t.Calls++
	for i := range p {
		p[i] = t.card.Exchange(0xFF)
	}
	return nil
}

func (t *Transport) Flush() error {
	t.Calls++
	return nil
}

// SPI is a tinygo drivers.SPI view of a card. Chip select is driven
// through Pin.
type SPI struct {
	card *Card
}

// SPI returns the bus view of the card.
func (c *Card) SPI() *SPI {
	return &SPI{card: c}
}

// Tx clocks max(len(w), len(r)) bytes. Missing output bytes are sent as 0.
func (s *SPI) Tx(w, r []byte) error {
	n := max(len(w), len(r))
	for i := 0; i < n; i++ {
		var out byte
		if i < len(w) {
			out = w[i]
		}
		in := s.card.Exchange(out)
		if i < len(r) {
			r[i] = in
		}
	}
	return nil
}

func (s *SPI) Transfer(b byte) (byte, error) {
	return s.card.Exchange(b), nil
}

// Pin is the active low chip select line of a card.
type Pin struct {
	card *Card
}

// ChipSelect returns the chip select line of the card.
func (c *Card) ChipSelect() Pin {
	return Pin{card: c}
}

func (p Pin) High() { p.card.SetSelected(false) }
func (p Pin) Low()  { p.card.SetSelected(true) }
