package sdsim

import (
	"fmt"

	"sdspi/sdcard"
)

// Profile selects the card generation the simulator answers as.
type Profile uint8

const (
	// SDHC is an SDv2 high capacity card, block addressed.
	SDHC Profile = iota
	// SDv2 is an SDv2 standard capacity card, byte addressed.
	SDv2
	SDv1
	MMC
	// Empty is a slot without a card, nothing ever answers.
	Empty
)

var profileNames = [...]string{
	SDHC:  "sdhc",
	SDv2:  "sdv2",
	SDv1:  "sdv1",
	MMC:   "mmc",
	Empty: "empty",
}

func (p Profile) String() string {
	if int(p) < len(profileNames) {
		return profileNames[p]
	}
	return fmt.Sprintf("profile(%d)", p)
}

// ParseProfile returns the profile with the given name.
func ParseProfile(name string) (Profile, error) {
	for i, n := range profileNames {
		if n == name {
			return Profile(i), nil
		}
	}
	return 0, fmt.Errorf("sdsim: unknown profile %q", name)
}

// Type returns the card type a correct negotiation reports for p.
func (p Profile) Type() sdcard.CardType {
	switch p {
	case SDHC:
		return sdcard.SDV2 | sdcard.BlockAddressed
	case SDv2:
		return sdcard.SDV2
	case SDv1:
		return sdcard.SDV1
	case MMC:
		return sdcard.MMC
	}
	return sdcard.None
}

func (p Profile) highCapacity() bool {
	return p == SDHC
}

func (p Profile) isSD() bool {
	return p == SDHC || p == SDv2 || p == SDv1
}

// buildCSD encodes sectors into a CSD register for p and returns the
// register with the sector count it actually encodes.
func buildCSD(p Profile, sectors uint32) ([16]byte, uint32, error) {
	var csd [16]byte
	csd[1] = 0x0E // TAAC
	csd[3] = 0x32 // TRAN_SPEED 25 MHz
	csd[4] = 0x5B // CCC high

	if p.highCapacity() {
		units := sectors / 1024
		if units == 0 || units > 1<<22 {
			return csd, 0, fmt.Errorf("sdsim: %d sectors not encodable for %v", sectors, p)
		}
		size := units - 1
		csd[0] = 0x40
		csd[5] = 0x59
		csd[7] = byte(size>>16) & 0x3F
		csd[8] = byte(size >> 8)
		csd[9] = byte(size)
		csd[10] = 0x7F
		csd[11] = 0x80
		csd[12] = 0x0A
		csd[13] = 0x40
		csd[15] = crc7(csd[:15])<<1 | 1
		return csd, units * 1024, nil
	}

	size, mult, blockLen, ok := standardGeometry(sectors)
	if !ok {
		return csd, 0, fmt.Errorf("sdsim: %d sectors not encodable for %v", sectors, p)
	}
	if p == MMC {
		csd[0] = 0x90
	}
	csd[5] = 0x50 | byte(blockLen)
	csd[6] = 0x80 | byte(size>>10)&0x03
	csd[7] = byte(size >> 2)
	// VDD_R_CURR fields share byte 8 with the low C_SIZE bits
	csd[8] = byte(size&0x03)<<6 | 0x2D
	// VDD_W_CURR fields share byte 9 with the high C_SIZE_MULT bits
	csd[9] = 0x64 | byte(mult>>1)&0x03
	csd[10] = byte(mult&0x01)<<7 | 0x7F
	csd[11] = 0x80
	csd[12] = 0x0A
	csd[13] = 0x40
	csd[15] = crc7(csd[:15])<<1 | 1

	encoded := (size + 1) << (mult + 2) << (blockLen - 9)
	return csd, encoded, nil
}

// standardGeometry finds C_SIZE, C_SIZE_MULT and READ_BL_LEN for a
// standard capacity card of the given size, rounding down to the nearest
// encodable capacity.
func standardGeometry(sectors uint32) (size, mult, blockLen uint32, ok bool) {
	for blockLen = 9; blockLen <= 11; blockLen++ {
		for mult = 0; mult <= 7; mult++ {
			unit := uint32(1) << (mult + 2) << (blockLen - 9)
			blocks := sectors / unit
			if blocks >= 1 && blocks <= 4096 {
				return blocks - 1, mult, blockLen, true
			}
		}
	}
	return 0, 0, 0, false
}

func crc7(data []byte) byte {
	var crc byte
	for _, b := range data {
		for i := 0; i < 8; i++ {
			crc <<= 1
			if (b^crc)&0x80 != 0 {
				crc ^= 0x09
			}
			b <<= 1
		}
	}
	return crc & 0x7F
}

// crc16 is the CCITT checksum carried by data blocks.
func crc16(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
