package sdcard

import "fmt"

// Initialize negotiates with the card and reads its capacity. It returns
// immediately when the card is already initialized and healthy. Any open
// write session is dropped.
func (c *Card) Initialize() error {
	if c.ready() {
		return nil
	}
	c.session = nil
	c.typ = None
	c.sectors = 0
	c.csd = [16]byte{}

	if err := c.bus.Initialize(c.cfg.InitClockHz); err != nil {
		return fmt.Errorf("sdcard: init clock: %w", err)
	}

	typ, err := c.negotiate()

	// negotiation runs at the reduced clock whatever its outcome
	if cerr := c.bus.Initialize(c.cfg.ClockHz); cerr != nil && err == nil {
		err = fmt.Errorf("sdcard: access clock: %w", cerr)
	}
	if err != nil {
		c.bus.Release()
		c.healthy = false
		c.log.Warn("negotiation failed", "err", err)
		return err
	}

	c.typ = typ
	if err := c.readCapacity(); err != nil {
		c.log.Warn("csd unreadable", "err", err)
	}
	c.bus.Release()
	c.healthy = true
	c.log.Info("card initialized", "type", typ.String(), "sectors", c.sectors)
	return nil
}

func noCard(err error) error {
	return fmt.Errorf("%w: %w", ErrNoCard, err)
}

func (c *Card) negotiate() (CardType, error) {
	if err := c.powerUp(); err != nil {
		return None, err
	}

	r, err := c.sendCommand(cmdGoIdleState, 0)
	if err != nil {
		return None, err
	}
	if r != r1Idle {
		return None, noCard(rejected(cmdGoIdleState, 0, r))
	}

	r, err = c.sendCommand(cmdSendIfCond, ifCondPattern)
	if err != nil {
		return None, err
	}
	if r == r1Idle {
		return c.negotiateV2()
	}
	return c.negotiateV1()
}

// powerUp holds chip select released and clocks idle bytes so the card
// controller can boot.
func (c *Card) powerUp() error {
	c.bus.Release()
	c.clock.Sleep(c.cfg.PowerUpDelay)

	idle := make([]byte, c.cfg.PowerUpClocks)
	for i := range idle {
		idle[i] = 0xFF
	}
	return c.bus.Send(idle)
}

func (c *Card) negotiateV2() (CardType, error) {
	var r7 [4]byte
	if err := c.bus.Recv(r7[:]); err != nil {
		return None, err
	}
	echo := uint32(r7[2]&0x0F)<<8 | uint32(r7[3])
	if echo != ifCondPattern {
		return None, fmt.Errorf("%w: interface condition echo 0x%03x", ErrNoCard, echo)
	}

	r, err := c.sendCommandRetry(acmdSendOpCond, argHCS)
	if err != nil {
		return None, err
	}
	if r != r1Ready {
		return None, noCard(rejected(acmdSendOpCond, argHCS, r))
	}

	if err := c.expect(cmdReadOCR, 0, r1Ready); err != nil {
		return None, noCard(err)
	}
	var ocr [4]byte
	if err := c.bus.Recv(ocr[:]); err != nil {
		return None, err
	}

	typ := SDV2
	if ocr[0]&ocrCCS != 0 {
		typ |= BlockAddressed
	}
	return typ, nil
}

func (c *Card) negotiateV1() (CardType, error) {
	typ, op := SDV1, acmdSendOpCond
	r, err := c.sendCommand(acmdSendOpCond, 0)
	if err != nil {
		return None, err
	}
	if r > r1Idle {
		typ, op = MMC, cmdSendOpCond
	}

	r, err = c.sendCommandRetry(op, 0)
	if err != nil {
		return None, err
	}
	if r != r1Ready {
		return None, noCard(rejected(op, 0, r))
	}

	if err := c.expect(cmdSetBlockLen, SectorSize, r1Ready); err != nil {
		return None, noCard(err)
	}
	return typ, nil
}

func (c *Card) readCapacity() error {
	if err := c.expect(cmdSendCSD, 0, r1Ready); err != nil {
		return err
	}
	if err := c.waitDataToken(); err != nil {
		return err
	}
	var reg [18]byte
	if err := c.bus.Recv(reg[:]); err != nil {
		return err
	}
	copy(c.csd[:], reg[:16])

	sectors, err := ParseCSD(reg[:16], c.typ)
	if err != nil {
		return err
	}
	c.sectors = sectors
	return nil
}
