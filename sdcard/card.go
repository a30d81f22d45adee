package sdcard

import (
	"errors"

	"github.com/fclairamb/go-log"
)

// Card is one SD or MMC card behind a Transport.
type Card struct {
	bus   Transport
	cfg   Config
	log   log.Logger
	clock Clock

	typ     CardType
	healthy bool
	sectors uint32
	csd     [16]byte

	// nil while no write session is open
	session *writeSession

	scratch [32]byte
}

// New returns a Card driving bus. A nil cfg selects DefaultConfig.
// The card is not touched until Initialize.
func New(bus Transport, cfg *Config) *Card {
	c := &Card{bus: bus}
	if cfg != nil {
		c.cfg = *cfg
	}
	c.cfg.applyDefaults()
	c.log = c.cfg.Logger
	c.clock = c.cfg.Clock
	return c
}

// Type returns the detected card type, None before a successful Initialize.
func (c *Card) Type() CardType {
	return c.typ
}

// IsInitialized reports whether negotiation found a usable card.
func (c *Card) IsInitialized() bool {
	return c.typ != None
}

// State reports whether the last operation succeeded.
func (c *Card) State() bool {
	return c.healthy
}

// SectorCount returns the capacity in sectors, 0 if the CSD was unreadable.
func (c *Card) SectorCount() uint32 {
	return c.sectors
}

// Capacity returns the capacity in bytes.
func (c *Card) Capacity() uint64 {
	return uint64(c.sectors) * SectorSize
}

// CSD returns the raw CSD register read during Initialize.
func (c *Card) CSD() [16]byte {
	return c.csd
}

// InSession reports whether a write session is open.
func (c *Card) InSession() bool {
	return c.session != nil
}

func (c *Card) ready() bool {
	return c.typ != None && c.healthy
}

// address converts a sector number to a command argument. last is the
// number of further sectors the caller will address after sector.
func (c *Card) address(sector, last uint32) (uint32, error) {
	end := uint64(sector) + uint64(last)
	if c.typ.IsBlockAddressed() {
		if end > 0xFFFFFFFF {
			return 0, ErrInvalidArgument
		}
		return sector, nil
	}
	if end*SectorSize > 0xFFFFFFFF {
		return 0, ErrInvalidArgument
	}
	return sector * SectorSize, nil
}

// selectBus asserts chip select. A ready timeout is not fatal here, the
// response poll that follows decides.
func (c *Card) selectBus() error {
	if err := c.bus.Select(); err != nil && !errors.Is(err, ErrBusNotReady) {
		return err
	}
	return nil
}

// finish releases the bus and records the outcome of an operation.
func (c *Card) finish(err error) error {
	c.bus.Release()
	c.healthy = err == nil
	return err
}
