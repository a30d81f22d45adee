package sdcard

// ParseCSD computes the sector count encoded in a 16 byte CSD register.
//
// SDv2 cards reporting CSD structure 1 carry a 22 bit C_SIZE in bytes 7..9
// counting 512 KiB units. Every other card uses the version 1 layout where
// C_SIZE, C_SIZE_MULT and READ_BL_LEN combine to
// (C_SIZE+1) * 2^(C_SIZE_MULT+2) * 2^READ_BL_LEN bytes.
func ParseCSD(csd []byte, t CardType) (uint32, error) {
	if len(csd) < 16 || t&(SDV1|SDV2|MMC) == 0 {
		return 0, ErrInvalidArgument
	}

	var bytes uint64
	if t&SDV2 != 0 && csd[0]>>6 == 1 {
		size := uint64(csd[9]) | uint64(csd[8])<<8 | uint64(csd[7]&0x3F)<<16
		bytes = (size + 1) << 19
	} else {
		size := uint64(csd[8]>>6) | uint64(csd[7])<<2 | uint64(csd[6]&0x03)<<10
		mult := uint(csd[10]>>7) | uint(csd[9]&0x03)<<1
		blockLen := uint(csd[5] & 0x0F)
		if blockLen < 1 {
			blockLen = 1
		}
		bytes = (size + 1) << (mult + 2) << blockLen
	}

	sectors := bytes / SectorSize
	if sectors > 0xFFFFFFFF {
		sectors = 0xFFFFFFFF
	}
	return uint32(sectors), nil
}
