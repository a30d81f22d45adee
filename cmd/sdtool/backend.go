package main

import (
	"context"
	"errors"
	"fmt"
	"net"

	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"sdspi/config"
	"sdspi/core"
	"sdspi/diskio"
	"sdspi/host/mcu"
	"sdspi/host/serial"
	"sdspi/sdcard"
	"sdspi/sdcard/sdsim"
	"sdspi/spibus"
)

// session is an opened card.
type session struct {
	card    *sdcard.Card
	disk    *diskio.Disk
	closers []func() error
}

func (s *session) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	return errors.Join(errs...)
}

// open connects the configured backend and initializes the card.
func (a *app) open() (*session, error) {
	s := &session{}
	bus, err := a.transport(s)
	if err != nil {
		s.Close()
		return nil, err
	}

	cardCfg := a.cfg.EngineConfig()
	cardCfg.Logger = a.log
	s.card = sdcard.New(bus, cardCfg)
	s.disk = diskio.New(s.card, a.log)
	if err := s.disk.Initialize(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (a *app) transport(s *session) (sdcard.Transport, error) {
	switch a.cfg.Backend {
	case config.BackendSim:
		return a.simTransport(s)
	case config.BackendBridge:
		m, err := mcu.Connect(&serial.Config{
			Device:      a.cfg.Serial.Device,
			Baud:        a.cfg.Serial.Baud,
			ReadTimeout: a.cfg.SerialReadTimeout(),
		}, &mcu.Config{Logger: a.log})
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, m.Close)
		return m.Transport()
	case config.BackendPeriph:
		return a.periphTransport(s)
	}
	return nil, fmt.Errorf("unknown backend %q", a.cfg.Backend)
}

func (a *app) simTransport(s *session) (sdcard.Transport, error) {
	profile, err := sdsim.ParseProfile(a.cfg.Sim.Profile)
	if err != nil {
		return nil, err
	}
	sim, err := sdsim.New(sdsim.Options{
		Profile: profile,
		Sectors: a.cfg.Sim.Sectors,
		Fs:      a.fs,
		Path:    a.cfg.Sim.Image,
	})
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, sim.Close)
	a.log.Debug("simulated card", "profile", profile, "sectors", sim.Sectors(), "image", a.cfg.Sim.Image)

	bus := spibus.New(sim.SPI(), sim.ChipSelect(), &spibus.Config{
		Configure: func(hz uint32) error {
			sim.SetClock(hz)
			return nil
		},
		Logger: a.log,
	})
	if !a.loopback {
		return bus, nil
	}

	// run the bridge firmware logic in process
	hostConn, devConn := net.Pipe()
	bridge := core.NewBridge(bus, devConn, &core.BridgeConfig{
		Constants: map[string]any{"MCU": "sdsim"},
		Logger:    a.log,
	})
	ctx, cancel := context.WithCancel(context.Background())
	go bridge.Serve(ctx, devConn)

	m := mcu.New(hostConn, &mcu.Config{Logger: a.log})
	s.closers = append(s.closers, func() error {
		cancel()
		m.Close()
		return devConn.Close()
	})
	if err := m.RetrieveDictionary(); err != nil {
		return nil, err
	}
	return m.Transport()
}

func (a *app) periphTransport(s *session) (sdcard.Transport, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph: %w", err)
	}
	port, err := spireg.Open(a.cfg.Periph.SPI)
	if err != nil {
		return nil, fmt.Errorf("periph: open %s: %w", a.cfg.Periph.SPI, err)
	}
	s.closers = append(s.closers, port.Close)

	cs := gpioreg.ByName(a.cfg.Periph.CS)
	if cs == nil {
		return nil, fmt.Errorf("periph: no GPIO named %q", a.cfg.Periph.CS)
	}
	maxHz := a.cfg.Periph.MaxHz
	return spibus.NewPeriph(port, cs, &spibus.Config{
		Configure: func(hz uint32) error {
			return port.LimitSpeed(physic.Frequency(min(hz, maxHz)) * physic.Hertz)
		},
		Logger: a.log,
	})
}
