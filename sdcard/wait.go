package sdcard

// filler is clocked out to pad a partial sector.
var filler [SectorSize]byte

var dummyCRC = [2]byte{0xFF, 0xFF}

func (c *Card) recvByte() (byte, error) {
	b := c.scratch[:1]
	if err := c.bus.Recv(b); err != nil {
		return 0xFF, err
	}
	return b[0], nil
}

// ignoreRead receives and drops n bytes.
func (c *Card) ignoreRead(n int) error {
	for n > 0 {
		chunk := min(n, len(c.scratch))
		if err := c.bus.Recv(c.scratch[:chunk]); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}

// busyWait polls until the card releases the data line.
func (c *Card) busyWait() error {
	dl := newDeadline(c.clock, c.cfg.BusyTimeout)
	for {
		b, err := c.recvByte()
		if err != nil {
			return err
		}
		if b == 0xFF {
			return nil
		}
		if dl.expired() {
			return ErrBusyTimeout
		}
	}
}

// waitDataToken polls past 0xFF filler for the start block token.
func (c *Card) waitDataToken() error {
	dl := newDeadline(c.clock, c.cfg.DataTokenTimeout)
	for {
		b, err := c.recvByte()
		if err != nil {
			return err
		}
		switch {
		case b == tokenStartBlock:
			return nil
		case b != 0xFF:
			return &TokenError{Token: b, Err: ErrDataError}
		case dl.expired():
			return ErrDataTokenTimeout
		}
	}
}
