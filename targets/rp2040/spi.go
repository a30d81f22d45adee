//go:build rp2040 || rp2350

package main

import (
	"errors"
	"machine"

	"github.com/fclairamb/go-log"
	"tinygo.org/x/drivers"

	"sdspi/spibus"
	"sdspi/targets/pio"
)

// RP2040/RP2350 SPI bus configurations, matching the Klipper bus names.
type spiBusConfig struct {
	spi  *machine.SPI // nil selects the PIO SPI master on the same pins
	sck  machine.Pin
	sdo  machine.Pin
	sdi  machine.Pin
	name string
}

var spiBuses = [...]spiBusConfig{
	// SPI0 configurations
	{spi: machine.SPI0, sck: machine.GPIO2, sdo: machine.GPIO3, sdi: machine.GPIO0, name: "spi0a"},
	{spi: machine.SPI0, sck: machine.GPIO6, sdo: machine.GPIO7, sdi: machine.GPIO4, name: "spi0b"},
	{spi: machine.SPI0, sck: machine.GPIO18, sdo: machine.GPIO19, sdi: machine.GPIO16, name: "spi0c"},
	{spi: machine.SPI0, sck: machine.GPIO22, sdo: machine.GPIO23, sdi: machine.GPIO20, name: "spi0d"},
	{spi: machine.SPI0, sck: machine.GPIO2, sdo: machine.GPIO3, sdi: machine.GPIO4, name: "spi0e"},

	// SPI1 configurations
	{spi: machine.SPI1, sck: machine.GPIO10, sdo: machine.GPIO11, sdi: machine.GPIO8, name: "spi1a"},
	{spi: machine.SPI1, sck: machine.GPIO14, sdo: machine.GPIO15, sdi: machine.GPIO12, name: "spi1b"},
	{spi: machine.SPI1, sck: machine.GPIO26, sdo: machine.GPIO27, sdi: machine.GPIO24, name: "spi1c"},
	{spi: machine.SPI1, sck: machine.GPIO10, sdo: machine.GPIO11, sdi: machine.GPIO12, name: "spi1d"},

	// PIO master, for sockets wired to pins no controller reaches
	{sck: machine.GPIO28, sdo: machine.GPIO27, sdi: machine.GPIO26, name: "pio"},
}

// Board wiring of the card socket.
const (
	sdBus    = 1 // spi0b
	sdCS     = machine.GPIO5
	sdInitHz = 400_000
)

var errNoBus = errors.New("invalid SPI bus")

// newCardBus configures the socket bus and returns it as a transport.
func newCardBus(logger log.Logger) (*spibus.Bus, string, error) {
	if sdBus >= len(spiBuses) {
		return nil, "", errNoBus
	}
	bus := spiBuses[sdBus]

	var spi drivers.SPI
	var configure func(hz uint32) error
	if bus.spi != nil {
		spi = bus.spi
		configure = func(hz uint32) error {
			return bus.spi.Configure(machine.SPIConfig{
				Frequency: hz,
				SCK:       bus.sck,
				SDO:       bus.sdo,
				SDI:       bus.sdi,
				Mode:      0,
			})
		}
	} else {
		p, err := pio.NewSPI(pio.SPIConfig{SCK: bus.sck, SDO: bus.sdo, SDI: bus.sdi, Frequency: sdInitHz})
		if err != nil {
			return nil, "", err
		}
		spi = p
		configure = p.SetFrequency
	}
	if err := configure(sdInitHz); err != nil {
		return nil, "", err
	}

	sdCS.Configure(machine.PinConfig{Mode: machine.PinOutput})
	return spibus.New(spi, sdCS, &spibus.Config{
		Configure: configure,
		Clock:     hardwareClock{},
		Logger:    logger,
	}), bus.name, nil
}
