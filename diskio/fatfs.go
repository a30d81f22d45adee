package diskio

// Status is the FatFs DSTATUS bit set.
type Status uint8

const (
	StatusNoInit  Status = 0x01
	StatusNoDisk  Status = 0x02
	StatusProtect Status = 0x04
)

// Result is the FatFs DRESULT code.
type Result uint8

const (
	ResultOK Result = iota
	ResultError
	ResultWriteProtected
	ResultNotReady
	ResultParameterError
)

func (r Result) String() string {
	switch r {
	case ResultOK:
		return "ok"
	case ResultError:
		return "error"
	case ResultWriteProtected:
		return "write protected"
	case ResultNotReady:
		return "not ready"
	case ResultParameterError:
		return "parameter error"
	}
	return "unknown"
}

// IoctlCmd is a FatFs disk_ioctl command.
type IoctlCmd uint8

const (
	CtrlSync       IoctlCmd = 0
	GetSectorCount IoctlCmd = 1
	GetSectorSize  IoctlCmd = 2
	GetBlockSize   IoctlCmd = 3
	CtrlTrim       IoctlCmd = 4
)

// DiskInitialize initializes the card. A card that cannot be brought up
// reports no disk as well as not initialized.
func (d *Disk) DiskInitialize() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.card.Initialize(); err != nil {
		d.log.Error("disk initialize failed", "err", err)
		return StatusNoInit | StatusNoDisk
	}
	return 0
}

// DiskStatus reports StatusNoInit until the card has been initialized.
func (d *Disk) DiskStatus() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.card.IsInitialized() {
		return StatusNoInit
	}
	return 0
}

// DiskRead reads count sectors into buff.
func (d *Disk) DiskRead(buff []byte, sector, count uint32) Result {
	if buff == nil {
		return ResultParameterError
	}
	if count == 0 {
		return ResultOK
	}
	if checkSpan(uint64(sector), count, len(buff)) != nil {
		return ResultParameterError
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.readSectors(sector, count, buff) != nil {
		return ResultError
	}
	return ResultOK
}

// DiskWrite writes count sectors from buff.
func (d *Disk) DiskWrite(buff []byte, sector, count uint32) Result {
	if buff == nil || count == 0 {
		return ResultOK
	}
	if checkSpan(uint64(sector), count, len(buff)) != nil {
		return ResultParameterError
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.writeSectors(sector, buff[:int(count)*sectorSize]) != nil {
		return ResultError
	}
	return ResultOK
}

// DiskIoctl runs a control command and returns its value. Nothing is
// cached, so CtrlSync always succeeds on a ready card. A block size of 1
// means unknown. CtrlTrim is accepted and ignored.
func (d *Disk) DiskIoctl(cmd IoctlCmd) (uint32, Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.card.IsInitialized() {
		return 0, ResultNotReady
	}
	if !d.card.State() {
		return 0, ResultError
	}

	switch cmd {
	case GetSectorCount:
		return d.card.SectorCount(), ResultOK
	case GetSectorSize:
		return sectorSize, ResultOK
	case GetBlockSize:
		return 1, ResultOK
	case CtrlSync, CtrlTrim:
		return 0, ResultOK
	}
	return 0, ResultParameterError
}
