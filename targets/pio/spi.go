//go:build rp2040 || rp2350

// Package pio implements an SPI master on an RP2040 PIO state machine, for
// boards where the SD socket is not wired to a hardware SPI controller.
package pio

import (
	"errors"
	"machine"
	"time"

	rp2pio "github.com/tinygo-org/pio/rp2-pio"
	"tinygo.org/x/drivers"
)

// ErrTimeout is returned when the state machine stops moving bytes.
var ErrTimeout = errors.New("pio: spi transfer timeout")

// mode 0, MSB first. Data changes on the falling edge and is sampled on
// the rising edge.
func buildSPIProgram() []uint16 {
	asm := rp2pio.AssemblerV0{SidesetBits: 1}
	return []uint16{
		asm.Out(rp2pio.OutDestPins, 1).Side(0).Delay(1).Encode(), // 0: out pins, 1  side 0 [1]
		asm.In(rp2pio.InSrcPins, 1).Side(1).Delay(1).Encode(),    // 1: in pins, 1   side 1 [1]
	}
}

const spiOrigin = -1 // any free program memory

// SPIConfig selects the pins of a PIO SPI bus.
type SPIConfig struct {
	SCK, SDO, SDI machine.Pin
	Frequency     uint32
}

// SPI is a drivers.SPI clocked by a PIO state machine.
type SPI struct {
	pio    *rp2pio.PIO
	sm     rp2pio.StateMachine
	offset uint8
	cfg    SPIConfig
}

var _ drivers.SPI = (*SPI)(nil)

// NewSPI claims a state machine, loads the program and starts the bus.
func NewSPI(cfg SPIConfig) (*SPI, error) {
	if cfg.Frequency == 0 {
		cfg.Frequency = 400_000
	}
	p, sm, err := claim()
	if err != nil {
		return nil, err
	}
	program := buildSPIProgram()
	offset, err := p.AddProgram(program, spiOrigin)
	if err != nil {
		return nil, err
	}
	s := &SPI{pio: p, sm: sm, offset: offset, cfg: cfg}

	cfg.SCK.Configure(machine.PinConfig{Mode: p.PinMode()})
	cfg.SDO.Configure(machine.PinConfig{Mode: p.PinMode()})
	cfg.SDI.Configure(machine.PinConfig{Mode: p.PinMode()})

	s.start(cfg.Frequency)
	return s, nil
}

// start (re)initializes the state machine at hz.
func (s *SPI) start(hz uint32) {
	s.sm.SetEnabled(false)

	cfg := rp2pio.DefaultStateMachineConfig()
	cfg.SetWrap(s.offset+1, s.offset)
	cfg.SetSidesetParams(1, false, false)
	cfg.SetSidesetPins(s.cfg.SCK)
	cfg.SetOutPins(s.cfg.SDO, 1)
	cfg.SetInPins(s.cfg.SDI)
	// shift left with autopull and autopush every 8 bits
	cfg.SetOutShift(false, true, 8)
	cfg.SetInShift(false, true, 8)
	whole, frac := clockDivider(machine.CPUFrequency(), hz)
	cfg.SetClkDivIntFrac(whole, frac)

	s.sm.Init(s.offset, cfg)

	// pin directions must follow Init
	s.sm.SetPindirsConsecutive(s.cfg.SCK, 1, true)
	s.sm.SetPindirsConsecutive(s.cfg.SDO, 1, true)
	s.sm.SetPindirsConsecutive(s.cfg.SDI, 1, false)
	s.sm.SetPinsConsecutive(s.cfg.SCK, 1, false)
	s.sm.SetPinsConsecutive(s.cfg.SDO, 1, true)

	s.sm.SetEnabled(true)
	s.cfg.Frequency = hz
}

// SetFrequency changes the bus clock. It must not be called mid transfer.
func (s *SPI) SetFrequency(hz uint32) error {
	if hz == 0 {
		return errors.New("pio: zero spi frequency")
	}
	s.start(hz)
	return nil
}

// Frequency returns the configured bus clock.
func (s *SPI) Frequency() uint32 {
	return s.cfg.Frequency
}

// Transfer clocks one byte out and returns the byte clocked in.
func (s *SPI) Transfer(b byte) (byte, error) {
	var in [1]byte
	err := s.Tx([]byte{b}, in[:])
	return in[0], err
}

// Tx clocks max(len(w), len(r)) bytes. Missing output bytes are sent as
// 0xFF so the data line idles high.
func (s *SPI) Tx(w, r []byte) error {
	n := max(len(w), len(r))
	// one byte takes 8 bit times; allow a generous margin per byte
	limit := time.Duration(n+1) * 8 * time.Second / time.Duration(s.cfg.Frequency) * 4
	deadline := time.Now().Add(limit + time.Millisecond)

	sent, received := 0, 0
	for received < n {
		if sent < n && !s.sm.IsTxFIFOFull() && sent-received < 4 {
			out := byte(0xFF)
			if sent < len(w) {
				out = w[sent]
			}
			s.sm.TxPut(uint32(out) << 24)
			sent++
			continue
		}
		if !s.sm.IsRxFIFOEmpty() {
			in := byte(s.sm.RxGet())
			if received < len(r) {
				r[received] = in
			}
			received++
			continue
		}
		if time.Now().After(deadline) {
			s.sm.ClearFIFOs()
			s.sm.Restart()
			return ErrTimeout
		}
	}
	return nil
}
