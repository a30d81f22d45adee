package sdcard

// writeSession is the state of an open multiple block write.
//
// Bytes of a sector that is not yet complete are held in pending and go
// out together with the start token once the sector fills up. A select
// probe clocks 0xFF, which a card in the middle of a block would take as
// payload, so a block is never split across bus selections.
type writeSession struct {
	addr    uint32
	blocks  uint32
	pending [SectorSize]byte
	fill    int
}

// remainCur returns the bytes still missing from the current sector.
func (s *writeSession) remainCur() int {
	return SectorSize - s.fill
}

// WriteInitiate opens a write session starting at sector.
func (c *Card) WriteInitiate(sector uint32) error {
	if c.session != nil {
		return ErrSessionMisuse
	}
	if !c.ready() {
		return ErrNotReady
	}
	addr, err := c.address(sector, 0)
	if err != nil {
		return err
	}

	err = c.expect(cmdWriteMultipleBlock, addr, r1Ready)
	if err == nil {
		err = c.ignoreRead(1)
	}
	if err == nil {
		c.session = &writeSession{addr: addr}
	}
	return c.finish(err)
}

// Write appends data to the open session. Complete sectors are written
// to the card before Write returns.
func (c *Card) Write(data []byte) error {
	s := c.session
	if s == nil {
		return ErrSessionMisuse
	}
	if data == nil {
		return ErrInvalidArgument
	}
	if len(data) == 0 {
		return nil
	}
	if !c.ready() {
		return ErrNotReady
	}

	selected := false
	var err error
	for err == nil && len(data) > 0 {
		var block []byte
		if s.fill == 0 && len(data) >= SectorSize {
			block, data = data[:SectorSize], data[SectorSize:]
		} else {
			n := copy(s.pending[s.fill:], data)
			s.fill += n
			data = data[n:]
			if s.fill < SectorSize {
				break
			}
			block = s.pending[:]
			s.fill = 0
		}

		if !selected {
			selected = true
			if err = c.selectBus(); err != nil {
				break
			}
		}
		err = c.writeBlock(s, block)
	}

	if !selected {
		// everything went to the pending sector
		return nil
	}
	return c.finish(err)
}

// WriteFinalize pads the current sector with zeros, stops the transfer
// and closes the session. The session is closed even when it fails.
func (c *Card) WriteFinalize() error {
	s := c.session
	if s == nil {
		return ErrSessionMisuse
	}
	c.session = nil

	if !c.ready() {
		// leave the card in a known state for the next Initialize
		if c.selectBus() == nil {
			_ = c.bus.Send([]byte{tokenStopTran})
		}
		c.bus.Release()
		return ErrNotReady
	}

	err := c.selectBus()
	if err == nil && s.fill > 0 {
		copy(s.pending[s.fill:], filler[:s.remainCur()])
		s.fill = 0
		err = c.writeBlock(s, s.pending[:])
	}
	if err == nil {
		err = c.bus.Send([]byte{tokenStopTran})
	}
	if err == nil {
		err = c.ignoreRead(1)
	}
	if err == nil {
		err = c.busyWait()
	}
	if err == nil {
		c.log.Debug("write session closed", "blocks", s.blocks)
	}
	return c.finish(err)
}

// writeBlock sends one data block and waits for the card to program it.
func (c *Card) writeBlock(s *writeSession, block []byte) error {
	if err := c.bus.Send([]byte{tokenStartMulti}); err != nil {
		return err
	}
	if err := c.bus.Send(block); err != nil {
		return err
	}
	if err := c.bus.Send(dummyCRC[:]); err != nil {
		return err
	}

	resp, err := c.recvByte()
	if err != nil {
		return err
	}
	if resp&dataResponseMask != dataAccepted {
		c.log.Warn("block rejected", "addr", s.addr, "token", resp)
		return &TokenError{Token: resp, Err: ErrWriteRejected}
	}
	if err := c.busyWait(); err != nil {
		return err
	}

	s.blocks++
	s.addr += c.typ.unit()
	return nil
}
