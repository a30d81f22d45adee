package diskio

import (
	"fmt"
	"io"
)

// Size returns the card capacity in bytes.
func (d *Disk) Size() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.size()
}

func (d *Disk) size() int64 {
	return int64(d.card.SectorCount()) * sectorSize
}

// ReadAt reads len(p) bytes at byte offset off. Reads past the end of the
// card are short and return io.EOF.
func (d *Disk) ReadAt(p []byte, off int64) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if off < 0 {
		return 0, fmt.Errorf("%w: negative offset %d", ErrOutOfRange, off)
	}
	size := d.size()
	if off >= size {
		return 0, io.EOF
	}
	n := len(p)
	if rest := size - off; int64(n) > rest {
		n = int(rest)
	}
	if err := d.card.Read(p[:n], uint32(off/sectorSize), uint32(off%sectorSize)); err != nil {
		return 0, err
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt writes p at byte offset off. Partially covered sectors at either
// end are read first so their other bytes survive.
func (d *Disk) WriteAt(p []byte, off int64) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(p) == 0 {
		return 0, nil
	}
	end := off + int64(len(p))
	if off < 0 || end > d.size() {
		return 0, fmt.Errorf("%w: %d bytes at %d", ErrOutOfRange, len(p), off)
	}

	first := uint32(off / sectorSize)
	last := uint32((end - 1) / sectorSize)
	head := int(off % sectorSize)
	buf := make([]byte, int(last-first+1)*sectorSize)

	if head != 0 {
		if err := d.card.Read(buf[:sectorSize], first, 0); err != nil {
			return 0, err
		}
	}
	if end%sectorSize != 0 && (last != first || head == 0) {
		if err := d.card.Read(buf[len(buf)-sectorSize:], last, 0); err != nil {
			return 0, err
		}
	}
	copy(buf[head:], p)

	if err := d.writeSectors(first, buf); err != nil {
		return 0, err
	}
	return len(p), nil
}
