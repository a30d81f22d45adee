// Package diskio puts a block device face on a card: the FatFs disk
// callbacks, a sector oriented BlockDevice and byte addressed
// io.ReaderAt/io.WriterAt. Every call holds the disk mutex, so a Disk may
// be shared between goroutines.
package diskio

import (
	"errors"
	"fmt"
	"sync"

	"github.com/fclairamb/go-log"
	"github.com/fclairamb/go-log/noop"

	"sdspi/sdcard"
)

// Card is the engine surface a Disk drives. *sdcard.Card satisfies it.
type Card interface {
	Initialize() error
	IsInitialized() bool
	State() bool
	SectorCount() uint32
	Read(dst []byte, sector, offset uint32) error
	WriteInitiate(sector uint32) error
	Write(data []byte) error
	WriteFinalize() error
}

var _ Card = (*sdcard.Card)(nil)

// BlockDevice is a sector addressed storage device.
type BlockDevice interface {
	ReadSectors(sector uint64, count uint32, buff []byte) error
	WriteSectors(sector uint64, count uint32, buff []byte) error
	GetSectorSize() uint64
	GetSectorCount() uint64
	Initialize() error
	Status() error
}

var (
	// ErrNotInitialized is returned by Status before a successful Initialize.
	ErrNotInitialized = errors.New("diskio: disk not initialized")
	// ErrOutOfRange is returned for accesses past the end of the card.
	ErrOutOfRange = errors.New("diskio: access out of range")
)

const sectorSize = sdcard.SectorSize

// Disk serializes access to one card.
type Disk struct {
	mu   sync.Mutex
	card Card
	log  log.Logger
}

var _ BlockDevice = (*Disk)(nil)

// New returns a Disk over card. A nil logger discards events.
func New(card Card, logger log.Logger) *Disk {
	if logger == nil {
		logger = noop.NewNoOpLogger()
	}
	return &Disk{card: card, log: logger}
}

// Initialize initializes the card.
func (d *Disk) Initialize() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.card.Initialize()
}

// Status returns ErrNotInitialized until the card has been initialized.
func (d *Disk) Status() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.card.IsInitialized() {
		return ErrNotInitialized
	}
	return nil
}

func (d *Disk) GetSectorSize() uint64 {
	return sectorSize
}

func (d *Disk) GetSectorCount() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return uint64(d.card.SectorCount())
}

// ReadSectors reads count consecutive sectors starting at sector into buff.
func (d *Disk) ReadSectors(sector uint64, count uint32, buff []byte) error {
	if err := checkSpan(sector, count, len(buff)); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.readSectors(uint32(sector), count, buff)
}

// WriteSectors writes count sectors from buff through one write session.
func (d *Disk) WriteSectors(sector uint64, count uint32, buff []byte) error {
	if err := checkSpan(sector, count, len(buff)); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writeSectors(uint32(sector), buff[:int(count)*sectorSize])
}

func checkSpan(sector uint64, count uint32, n int) error {
	if sector+uint64(count) > 1<<32 {
		return fmt.Errorf("%w: sector %d count %d", ErrOutOfRange, sector, count)
	}
	if need := uint64(count) * sectorSize; uint64(n) < need {
		return fmt.Errorf("diskio: buffer too small: need %d bytes, got %d", need, n)
	}
	return nil
}

func (d *Disk) readSectors(sector, count uint32, buff []byte) error {
	for i := uint32(0); i < count; i++ {
		dst := buff[i*sectorSize : (i+1)*sectorSize]
		if err := d.card.Read(dst, sector+i, 0); err != nil {
			d.log.Error("sector read failed", "sector", sector+i, "err", err)
			return err
		}
	}
	return nil
}

// writeSectors writes whole sectors from data. The session is finalized
// even when a write fails.
func (d *Disk) writeSectors(sector uint32, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if err := d.card.WriteInitiate(sector); err != nil {
		d.log.Error("write initiate failed", "sector", sector, "err", err)
		return err
	}
	for len(data) > 0 {
		if err := d.card.Write(data[:sectorSize]); err != nil {
			_ = d.card.WriteFinalize()
			d.log.Error("sector write failed", "sector", sector, "err", err)
			return err
		}
		data = data[sectorSize:]
		sector++
	}
	if err := d.card.WriteFinalize(); err != nil {
		d.log.Error("write finalize failed", "err", err)
		return err
	}
	return nil
}
