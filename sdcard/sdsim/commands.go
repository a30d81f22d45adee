package sdsim

// R1 status bits.
const (
	r1Idle       byte = 0x01
	r1IllegalCmd byte = 0x04
	r1CRCError   byte = 0x08
	r1AddrError  byte = 0x20
	r1ParamError byte = 0x40
)

func (c *Card) r1() byte {
	if c.idle {
		return r1Idle
	}
	return 0
}

// respond queues a response after the command response delay.
func (c *Card) respond(b ...byte) {
	for i := 0; i < c.opts.ResponseDelay; i++ {
		c.out = append(c.out, 0xFF)
	}
	c.out = append(c.out, b...)
}

// sendBlock queues a data token, the block and its CRC.
func (c *Card) sendBlock(data []byte) {
	for i := 0; i < c.opts.AccessDelay; i++ {
		c.out = append(c.out, 0xFF)
	}
	if c.Faults.DataErrorToken {
		c.out = append(c.out, 0x08)
		return
	}
	crc := crc16(data)
	c.out = append(c.out, 0xFE)
	c.out = append(c.out, data...)
	c.out = append(c.out, byte(crc>>8), byte(crc))
}

func (c *Card) command(idx uint8, arg uint32, crc byte) {
	app := c.appNext
	c.appNext = false
	c.stats.Commands = append(c.stats.Commands, Command{Index: idx, App: app, Arg: arg})

	if c.opts.Profile == Empty {
		return
	}
	if r, ok := c.Faults.Reject[idx]; ok {
		c.respond(r)
		return
	}
	if !c.spiMode && idx != 0 {
		return
	}

	switch {
	case idx == 0:
		if crc != 0x95 {
			c.respond(r1CRCError | c.r1())
			return
		}
		c.spiMode = true
		c.idle = true
		c.polls = c.opts.InitPolls
		c.mode = modeCommand
		c.respond(r1Idle)

	case idx == 8:
		if !c.opts.Profile.isSD() || c.opts.Profile == SDv1 {
			c.respond(r1IllegalCmd | c.r1())
			return
		}
		if crc != 0x87 {
			c.respond(r1CRCError | c.r1())
			return
		}
		echo := arg & 0xFFF
		if c.Faults.BadIfCondEcho {
			echo ^= 0x0FF
		}
		c.respond(c.r1(), 0x00, 0x00, byte(echo>>8)&0x0F, byte(echo))

	case idx == 55:
		if !c.opts.Profile.isSD() {
			c.respond(r1IllegalCmd | c.r1())
			return
		}
		c.appNext = true
		c.respond(c.r1())

	case idx == 41 && app:
		c.opCond()

	case idx == 1:
		if c.opts.Profile != MMC {
			c.respond(r1IllegalCmd | c.r1())
			return
		}
		c.opCond()

	case idx == 58:
		ocr := byte(0x00)
		if !c.idle {
			ocr = 0x80
			if c.opts.Profile.highCapacity() {
				ocr |= 0x40
			}
		}
		c.respond(c.r1(), ocr, 0xFF, 0x80, 0x00)

	case c.idle:
		c.respond(r1IllegalCmd | r1Idle)

	case idx == 9:
		c.respond(0x00)
		if !c.Faults.NoDataToken {
			c.sendBlock(c.csd[:])
		}

	case idx == 16:
		if arg != sdSectorSize && !c.opts.Profile.highCapacity() {
			c.respond(r1ParamError)
			return
		}
		c.respond(0x00)

	case idx == 17:
		sector, r := c.sectorOf(arg)
		if r != 0 {
			c.respond(r)
			return
		}
		c.respond(0x00)
		if c.Faults.NoDataToken {
			return
		}
		buf := make([]byte, sdSectorSize)
		if err := c.readSector(sector, buf); err != nil {
			c.out = append(c.out, 0xFF, 0x01)
			return
		}
		c.stats.BlocksRead++
		c.sendBlock(buf)

	case idx == 25:
		sector, r := c.sectorOf(arg)
		if r != 0 {
			c.respond(r)
			return
		}
		c.writeNext = sector
		c.mode = modeWriteToken
		c.respond(0x00)

	default:
		c.respond(r1IllegalCmd)
	}
}

// opCond answers one negotiation poll.
func (c *Card) opCond() {
	if c.Faults.NeverReady || c.polls > 0 {
		if c.polls > 0 {
			c.polls--
		}
		c.respond(r1Idle)
		return
	}
	c.idle = false
	c.respond(0x00)
}

// sectorOf converts a command argument to a sector number.
func (c *Card) sectorOf(arg uint32) (uint32, byte) {
	sector := arg
	if !c.opts.Profile.highCapacity() {
		if arg%sdSectorSize != 0 {
			return 0, r1AddrError
		}
		sector = arg / sdSectorSize
	}
	if sector >= c.sectors {
		return 0, r1ParamError
	}
	return sector, 0
}
