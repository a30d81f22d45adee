package protocol

// AppendFrame appends a complete frame carrying payload with sequence seq.
func AppendFrame(dst []byte, seq byte, payload []byte) ([]byte, error) {
	n := len(payload) + FrameMin
	if n > FrameMax {
		return dst, ErrFrameTooLong
	}
	start := len(dst)
	dst = append(dst, byte(n), seq)
	dst = append(dst, payload...)
	crc := CRC16(dst[start:])
	return append(dst, byte(crc>>8), byte(crc), SyncByte), nil
}

// Scanner splits a byte stream into frames. After a framing error it
// drops bytes up to the next sync byte.
type Scanner struct {
	lost bool

	// Resync is called when the stream is found again after an error.
	Resync func()
}

// Synced reports whether the scanner is aligned on frame boundaries.
func (s *Scanner) Synced() bool {
	return !s.lost
}

// Desync drops the alignment, discarding input up to the next sync byte.
func (s *Scanner) Desync() {
	s.lost = true
}

// Scan calls fn for every complete frame at the front of data and
// returns the number of bytes consumed. A trailing partial frame is left
// for the next call. payload aliases data.
func (s *Scanner) Scan(data []byte, fn func(seq byte, payload []byte)) int {
	total := len(data)
	for len(data) > 0 {
		if s.lost {
			i := 0
			for i < len(data) && data[i] != SyncByte {
				i++
			}
			if i == len(data) {
				data = nil
				break
			}
			data = data[i+1:]
			s.lost = false
			if s.Resync != nil {
				s.Resync()
			}
			continue
		}

		if data[0] == SyncByte {
			data = data[1:]
			continue
		}
		if len(data) < FrameMin {
			break
		}
		n := int(data[posLen])
		if n < FrameMin || n > FrameMax || data[posSeq]&^SeqMask != SeqDest {
			s.lost = true
			continue
		}
		if len(data) < n {
			break
		}
		if data[n-1] != SyncByte {
			s.lost = true
			continue
		}
		crc := uint16(data[n-3])<<8 | uint16(data[n-2])
		if crc != CRC16(data[:n-TrailerSize]) {
			s.lost = true
			continue
		}

		fn(data[posSeq], data[HeaderSize:n-TrailerSize])
		data = data[n:]
	}
	return total - len(data)
}
