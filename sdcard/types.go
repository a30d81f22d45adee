package sdcard

import "strings"

// SectorSize is the transfer unit of every card this package drives.
const SectorSize = 512

// CardType is a bit set describing the detected card.
type CardType uint8

const (
	SDV1 CardType = 1 << iota
	SDV2
	MMC
	// BlockAddressed cards take sector numbers as command arguments,
	// all others take byte offsets.
	BlockAddressed

	// None means no usable card was found.
	None CardType = 0
)

// IsBlockAddressed reports whether commands address sectors rather than bytes.
func (t CardType) IsBlockAddressed() bool {
	return t&BlockAddressed != 0
}

func (t CardType) String() string {
	if t == None {
		return "none"
	}
	var parts []string
	if t&SDV1 != 0 {
		parts = append(parts, "SDv1")
	}
	if t&SDV2 != 0 {
		parts = append(parts, "SDv2")
	}
	if t&MMC != 0 {
		parts = append(parts, "MMC")
	}
	if t&BlockAddressed != 0 {
		parts = append(parts, "block")
	}
	return strings.Join(parts, "|")
}

// unit returns the address increment of one sector.
func (t CardType) unit() uint32 {
	if t.IsBlockAddressed() {
		return 1
	}
	return SectorSize
}
