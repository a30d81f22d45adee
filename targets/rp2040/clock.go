//go:build rp2040 || rp2350

package main

import (
	"runtime/volatile"
	"time"
	"unsafe"
)

// RP2040/RP2350 Timer peripheral memory map
const (
	timerBase     = 0x40054000
	timerTIMERAWH = timerBase + 0x08 // Raw timer high word
	timerTIMERAWL = timerBase + 0x0C // Raw timer low word
)

var (
	timerRAWH = (*volatile.Register32)(unsafe.Pointer(uintptr(timerTIMERAWH)))
	timerRAWL = (*volatile.Register32)(unsafe.Pointer(uintptr(timerTIMERAWL)))
)

// GetHardwareUptime reads the free running 1 MHz timer.
func GetHardwareUptime() uint64 {
	for {
		high1 := timerRAWH.Get()
		low := timerRAWL.Get()
		high2 := timerRAWH.Get()
		// retry when the low word rolled over during the read
		if high1 == high2 {
			return uint64(high1)<<32 | uint64(low)
		}
	}
}

// hardwareClock is an sdcard.Clock on the microsecond timer. It keeps
// counting when the scheduler is busy, unlike the runtime ticks.
type hardwareClock struct{}

func (hardwareClock) Now() time.Time {
	return time.UnixMicro(int64(GetHardwareUptime()))
}

func (hardwareClock) Sleep(d time.Duration) {
	end := GetHardwareUptime() + uint64(d/time.Microsecond)
	for GetHardwareUptime() < end {
		if d >= time.Millisecond {
			time.Sleep(100 * time.Microsecond)
		}
	}
}
