// Package sdsim simulates an SD or MMC card answering in SPI mode.
//
// The card is driven one full duplex byte at a time through Exchange and
// stores its sectors in an afero file. Transport and SPI expose it as an
// sdcard.Transport and as a tinygo drivers.SPI with a chip select pin.
package sdsim

import (
	"encoding/binary"
	"errors"
	"io"
	"os"

	"github.com/spf13/afero"
)

// DefaultSectors is the capacity used when neither Options.Sectors nor an
// existing image give one.
const DefaultSectors = 2048

// Options configures a simulated card. Zero fields take defaults.
type Options struct {
	Profile Profile
	// Sectors is rounded down to a capacity the CSD can encode.
	Sectors uint32

	// Fs and Path locate the backing image. The image is created when
	// missing; bytes past its end read as zero.
	Fs   afero.Fs
	Path string

	// InitPolls is how many negotiation polls answer idle before ready.
	InitPolls int
	// ResponseDelay is the number of 0xFF bytes before an R1 response.
	ResponseDelay int
	// AccessDelay is the number of 0xFF bytes before a read data token.
	AccessDelay int
	// BusyBytes is the number of busy bytes after a block is programmed.
	BusyBytes int
}

func (o *Options) applyDefaults() {
	if o.Fs == nil {
		o.Fs = afero.NewMemMapFs()
	}
	if o.Path == "" {
		o.Path = "/card.img"
	}
	if o.InitPolls == 0 {
		o.InitPolls = 3
	}
	if o.ResponseDelay == 0 {
		o.ResponseDelay = 1
	}
	if o.AccessDelay == 0 {
		o.AccessDelay = 2
	}
	if o.BusyBytes == 0 {
		o.BusyBytes = 4
	}
}

// Faults injects failures.
type Faults struct {
	// Reject answers the listed command indexes with the given R1.
	Reject map[uint8]byte
	// BadIfCondEcho corrupts the CMD8 check pattern echo.
	BadIfCondEcho bool
	// NeverReady keeps the card idle through negotiation.
	NeverReady bool
	// NoDataToken accepts CMD17 and CMD9 but never sends the data block.
	NoDataToken bool
	// DataErrorToken answers reads with an out of range data error token.
	DataErrorToken bool
	// RejectWrites answers every data block with a CRC error response.
	RejectWrites bool
	// StuckBusy holds the data line busy forever after a block.
	StuckBusy bool
}

// Command is one command frame received by the card.
type Command struct {
	Index uint8
	App   bool
	Arg   uint32
}

// Stats counts what the card has seen.
type Stats struct {
	Commands      []Command
	BlocksRead    int
	BlocksWritten int
	// BusyPeriods counts programming cycles: one per written block and
	// one per stop token.
	BusyPeriods int
	StopTokens  int
	Selects     int
	ClockHz     uint32
}

type mode uint8

const (
	modeCommand mode = iota
	modeWriteToken
	modeWriteData
)

// Card is a simulated card.
type Card struct {
	Faults Faults

	opts    Options
	file    afero.File
	sectors uint32
	csd     [16]byte

	selected bool
	spiMode  bool
	idle     bool
	appNext  bool
	polls    int

	mode      mode
	frame     [6]byte
	framePos  int
	block     [sdSectorSize + 2]byte
	blockPos  int
	writeNext uint32

	out   []byte
	busy  int
	stuck bool

	stats Stats
}

const sdSectorSize = 512

// ErrClosed is returned by operations on a closed card.
var ErrClosed = errors.New("sdsim: card closed")

// New creates a simulated card.
func New(opts Options) (*Card, error) {
	opts.applyDefaults()

	f, err := opts.Fs.OpenFile(opts.Path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}

	sectors := opts.Sectors
	if sectors == 0 {
		if fi, err := f.Stat(); err == nil && fi.Size() >= sdSectorSize {
			sectors = uint32(fi.Size() / sdSectorSize)
		} else {
			sectors = DefaultSectors
		}
	}

	c := &Card{opts: opts, file: f}
	if opts.Profile != Empty {
		c.csd, c.sectors, err = buildCSD(opts.Profile, sectors)
		if err != nil {
			f.Close()
			return nil, err
		}
	}
	return c, nil
}

// Close closes the backing image.
func (c *Card) Close() error {
	if c.file == nil {
		return ErrClosed
	}
	err := c.file.Close()
	c.file = nil
	return err
}

// Profile returns the simulated card generation.
func (c *Card) Profile() Profile {
	return c.opts.Profile
}

// Sectors returns the capacity encoded in the CSD.
func (c *Card) Sectors() uint32 {
	return c.sectors
}

// CSD returns the register the card reports.
func (c *Card) CSD() [16]byte {
	return c.csd
}

// Stats returns a snapshot of the counters.
func (c *Card) Stats() Stats {
	s := c.stats
	s.Commands = append([]Command(nil), c.stats.Commands...)
	return s
}

// ResetStats clears the counters.
func (c *Card) ResetStats() {
	c.stats = Stats{ClockHz: c.stats.ClockHz}
}

// SetSelected drives chip select. Asserting it drops any response the
// host did not clock out; a programming cycle in progress continues.
func (c *Card) SetSelected(sel bool) {
	if sel && !c.selected {
		c.stats.Selects++
		c.out = c.out[:0]
		c.framePos = 0
	}
	c.selected = sel
}

// SetClock records the bus clock the host configured.
func (c *Card) SetClock(hz uint32) {
	c.stats.ClockHz = hz
}

// Exchange clocks one byte in each direction.
func (c *Card) Exchange(mosi byte) byte {
	if !c.selected {
		return 0xFF
	}
	miso := c.next()
	c.consume(mosi)
	return miso
}

func (c *Card) next() byte {
	if len(c.out) > 0 {
		b := c.out[0]
		c.out = c.out[1:]
		return b
	}
	if c.stuck {
		return 0x00
	}
	if c.busy > 0 {
		c.busy--
		return 0x00
	}
	return 0xFF
}

func (c *Card) consume(b byte) {
	switch c.mode {
	case modeWriteToken:
		switch {
		case b == 0xFC:
			c.mode = modeWriteData
			c.blockPos = 0
		case b == 0xFD:
			c.stats.StopTokens++
			c.mode = modeCommand
			c.out = append(c.out, 0xFF)
			c.startBusy()
		case b&0xC0 == 0x40:
			// a new command aborts the transfer
			c.mode = modeCommand
			c.consumeCommand(b)
		}
	case modeWriteData:
		c.block[c.blockPos] = b
		c.blockPos++
		if c.blockPos == len(c.block) {
			c.program()
		}
	default:
		c.consumeCommand(b)
	}
}

func (c *Card) consumeCommand(b byte) {
	if c.framePos == 0 && b&0xC0 != 0x40 {
		return
	}
	c.frame[c.framePos] = b
	c.framePos++
	if c.framePos == len(c.frame) {
		c.framePos = 0
		c.command(c.frame[0]&0x3F, binary.BigEndian.Uint32(c.frame[1:5]), c.frame[5])
	}
}

func (c *Card) startBusy() {
	c.stats.BusyPeriods++
	if c.Faults.StuckBusy {
		c.stuck = true
		return
	}
	c.busy = c.opts.BusyBytes
}

// program stores a received data block and queues its data response.
func (c *Card) program() {
	c.mode = modeWriteToken
	if c.Faults.RejectWrites {
		c.out = append(c.out, 0x0B)
		return
	}
	if c.writeNext >= c.sectors {
		c.out = append(c.out, 0x0D)
		return
	}
	if err := c.writeSector(c.writeNext, c.block[:sdSectorSize]); err != nil {
		c.out = append(c.out, 0x0D)
		return
	}
	c.stats.BlocksWritten++
	c.writeNext++
	// upper bits of the data response are undefined
	c.out = append(c.out, 0xE5)
	c.startBusy()
}

func (c *Card) readSector(sector uint32, dst []byte) error {
	if c.file == nil {
		return ErrClosed
	}
	n, err := c.file.ReadAt(dst, int64(sector)*sdSectorSize)
	// afero memory files report a short read as io.ErrUnexpectedEOF
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return err
	}
	clear(dst[n:])
	return nil
}

func (c *Card) writeSector(sector uint32, src []byte) error {
	if c.file == nil {
		return ErrClosed
	}
	_, err := c.file.WriteAt(src, int64(sector)*sdSectorSize)
	return err
}

// ReadSector returns the stored content of a sector.
func (c *Card) ReadSector(sector uint32) ([]byte, error) {
	buf := make([]byte, sdSectorSize)
	return buf, c.readSector(sector, buf)
}

// WriteSector stores data, zero padded to a sector, without any protocol.
func (c *Card) WriteSector(sector uint32, data []byte) error {
	buf := make([]byte, sdSectorSize)
	copy(buf, data)
	return c.writeSector(sector, buf)
}
