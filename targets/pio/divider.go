package pio

// cyclesPerBit is the length of one bit in the SPI program: two
// instructions with one delay cycle each.
const cyclesPerBit = 4

// clockDivider returns the state machine divider running the SPI program
// at hz or the nearest lower rate. The divider is clamped to the range the
// hardware accepts.
func clockDivider(cpuHz, hz uint32) (whole uint16, frac uint8) {
	if hz == 0 {
		return 0xFFFF, 0
	}
	bitClock := uint64(hz) * cyclesPerBit
	// 8.8 fixed point, rounded up so the bus never runs faster than asked
	div := (uint64(cpuHz)*256 + bitClock - 1) / bitClock
	if div < 256 {
		div = 256
	}
	if div > 0xFFFF<<8 {
		div = 0xFFFF << 8
	}
	return uint16(div >> 8), uint8(div)
}

// Frequency returns the bit rate a divider produces.
func Frequency(cpuHz uint32, whole uint16, frac uint8) uint32 {
	div := uint64(whole)<<8 | uint64(frac)
	if div == 0 {
		return 0
	}
	return uint32(uint64(cpuHz) * 256 / (div * cyclesPerBit))
}
