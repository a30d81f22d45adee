package sdcard

// readProgress is the cursor of one Read call.
type readProgress struct {
	addr         uint32
	remainOffset uint32 // bytes to drop at the front of the current sector
	remainSector uint32 // sectors left after the current one
	remainCur    uint32 // bytes left in the current sector
	remainLen    uint32 // payload bytes still owed to the caller
}

// Read fills dst with the bytes starting offset bytes into sector. The
// range may span any number of sectors. Each sector is fetched with its
// own single block read.
func (c *Card) Read(dst []byte, sector, offset uint32) error {
	if len(dst) == 0 {
		return nil
	}
	if offset >= SectorSize || uint64(offset)+uint64(len(dst)) > 0xFFFFFFFF {
		return ErrInvalidArgument
	}
	if !c.ready() {
		return ErrNotReady
	}

	n := uint32(len(dst))
	p := readProgress{
		remainOffset: offset,
		remainSector: (n + offset - 1) / SectorSize,
		remainCur:    SectorSize,
		remainLen:    n,
	}
	addr, err := c.address(sector, p.remainSector)
	if err != nil {
		return err
	}
	p.addr = addr

	return c.finish(c.readStream(dst, &p))
}

func (c *Card) readStream(dst []byte, p *readProgress) error {
	if err := c.startBlockRead(p.addr); err != nil {
		return err
	}

	for p.remainLen > 0 || p.remainCur > 0 {
		switch {
		case p.remainOffset > 0:
			if err := c.ignoreRead(int(p.remainOffset)); err != nil {
				return err
			}
			p.remainCur -= p.remainOffset
			p.remainOffset = 0
		case p.remainLen > 0:
			n := min(p.remainLen, p.remainCur)
			if err := c.bus.Recv(dst[:n]); err != nil {
				return err
			}
			dst = dst[n:]
			p.remainLen -= n
			p.remainCur -= n
		default:
			if err := c.ignoreRead(int(p.remainCur)); err != nil {
				return err
			}
			p.remainCur = 0
		}

		if p.remainCur > 0 {
			continue
		}
		if err := c.ignoreRead(len(dummyCRC)); err != nil {
			return err
		}
		if p.remainSector > 0 {
			p.remainSector--
			p.remainCur = SectorSize
			p.addr += c.typ.unit()
			if err := c.startBlockRead(p.addr); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Card) startBlockRead(addr uint32) error {
	if err := c.expect(cmdReadSingleBlock, addr, r1Ready); err != nil {
		return err
	}
	return c.waitDataToken()
}
