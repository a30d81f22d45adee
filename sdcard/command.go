package sdcard

// command is a command index, optionally carrying appCmd.
type command uint8

// appCmd marks commands that must be prefixed by CMD55.
const appCmd command = 0x80

const (
	cmdGoIdleState        command = 0
	cmdSendOpCond         command = 1
	cmdSendIfCond         command = 8
	cmdSendCSD            command = 9
	cmdSetBlockLen        command = 16
	cmdReadSingleBlock    command = 17
	cmdWriteMultipleBlock command = 25
	cmdAppCmd             command = 55
	cmdReadOCR            command = 58
	acmdSendOpCond        command = appCmd | 41
)

const (
	r1Ready byte = 0x00
	r1Idle  byte = 0x01

	tokenStartBlock byte = 0xFE
	tokenStartMulti byte = 0xFC
	tokenStopTran   byte = 0xFD

	dataResponseMask byte = 0x1F
	dataAccepted     byte = 0x05

	ifCondPattern uint32 = 0x1AA
	argHCS        uint32 = 1 << 30
	ocrCCS        byte   = 0x40
)

func (cmd command) crc() byte {
	switch cmd {
	case cmdGoIdleState:
		return 0x95
	case cmdSendIfCond:
		return 0x87
	}
	return 0x01
}

// sendCommand sends one command frame and polls for its R1 response.
// A response with the top bit set means the poll timed out.
func (c *Card) sendCommand(cmd command, arg uint32) (byte, error) {
	if cmd&appCmd != 0 {
		r, err := c.sendCommand(cmdAppCmd, 0)
		if err != nil || r > r1Idle {
			return r, err
		}
		cmd &^= appCmd
	}

	c.bus.Release()
	if err := c.selectBus(); err != nil {
		return 0xFF, err
	}

	frame := [6]byte{
		0x40 | byte(cmd),
		byte(arg >> 24),
		byte(arg >> 16),
		byte(arg >> 8),
		byte(arg),
		cmd.crc(),
	}
	if err := c.bus.Send(frame[:]); err != nil {
		return 0xFF, err
	}

	dl := newDeadline(c.clock, c.cfg.CommandTimeout)
	for {
		r, err := c.recvByte()
		if err != nil {
			return 0xFF, err
		}
		if r&0x80 == 0 || dl.expired() {
			return r, nil
		}
	}
}

// sendCommandRetry repeats cmd until the card answers ready or the
// negotiation window closes.
func (c *Card) sendCommandRetry(cmd command, arg uint32) (byte, error) {
	dl := newDeadline(c.clock, c.cfg.InitTimeout)
	for {
		r, err := c.sendCommand(cmd, arg)
		if err != nil || r == r1Ready || dl.expired() {
			return r, err
		}
		c.clock.Sleep(c.cfg.RetryInterval)
	}
}

// expect sends cmd and fails with a CommandError unless the card answers want.
func (c *Card) expect(cmd command, arg uint32, want byte) error {
	r, err := c.sendCommand(cmd, arg)
	if err != nil {
		return err
	}
	if r != want {
		return rejected(cmd, arg, r)
	}
	return nil
}

func rejected(cmd command, arg uint32, r1 byte) error {
	return &CommandError{
		Cmd: uint8(cmd &^ appCmd),
		App: cmd&appCmd != 0,
		Arg: arg,
		R1:  r1,
	}
}
