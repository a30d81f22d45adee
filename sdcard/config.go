package sdcard

import (
	"time"

	"github.com/fclairamb/go-log"
	"github.com/fclairamb/go-log/noop"
)

// Config holds the bus clocks and protocol timeouts of a Card.
// Zero fields take the DefaultConfig value.
type Config struct {
	// InitClockHz is used during negotiation, ClockHz afterwards.
	InitClockHz uint32
	ClockHz     uint32

	// PowerUpDelay is held with chip select released before PowerUpClocks
	// idle bytes are clocked to boot the card controller.
	PowerUpDelay  time.Duration
	PowerUpClocks int

	// CommandTimeout bounds the R1 response poll of one command.
	CommandTimeout time.Duration
	// InitTimeout bounds the ACMD41/CMD1 negotiation loop, polled every
	// RetryInterval.
	InitTimeout   time.Duration
	RetryInterval time.Duration
	// DataTokenTimeout bounds the wait for a read data token.
	DataTokenTimeout time.Duration
	// BusyTimeout bounds the wait for the card to finish programming.
	BusyTimeout time.Duration

	Logger log.Logger
	Clock  Clock
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() *Config {
	return &Config{
		InitClockHz:      200_000,
		ClockHz:          10_000_000,
		PowerUpDelay:     10 * time.Millisecond,
		PowerUpClocks:    10,
		CommandTimeout:   100 * time.Millisecond,
		InitTimeout:      time.Second,
		RetryInterval:    time.Millisecond,
		DataTokenTimeout: 200 * time.Millisecond,
		BusyTimeout:      500 * time.Millisecond,
		Logger:           noop.NewNoOpLogger(),
		Clock:            SystemClock(),
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.InitClockHz == 0 {
		c.InitClockHz = def.InitClockHz
	}
	if c.ClockHz == 0 {
		c.ClockHz = def.ClockHz
	}
	if c.PowerUpDelay == 0 {
		c.PowerUpDelay = def.PowerUpDelay
	}
	if c.PowerUpClocks == 0 {
		c.PowerUpClocks = def.PowerUpClocks
	}
	if c.CommandTimeout == 0 {
		c.CommandTimeout = def.CommandTimeout
	}
	if c.InitTimeout == 0 {
		c.InitTimeout = def.InitTimeout
	}
	if c.RetryInterval == 0 {
		c.RetryInterval = def.RetryInterval
	}
	if c.DataTokenTimeout == 0 {
		c.DataTokenTimeout = def.DataTokenTimeout
	}
	if c.BusyTimeout == 0 {
		c.BusyTimeout = def.BusyTimeout
	}
	if c.Logger == nil {
		c.Logger = def.Logger
	}
	if c.Clock == nil {
		c.Clock = def.Clock
	}
}
