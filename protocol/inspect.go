package protocol

// FrameInfo describes one frame found in captured link traffic.
type FrameInfo struct {
	Seq byte
	// Ack is set for frames without a payload.
	Ack bool
	ID  uint32
	// Args holds the payload after the id decoded as VLQ integers, up to
	// the first byte that does not decode. Byte string arguments show up
	// as their length followed by their content read as integers.
	Args    []int32
	Payload []byte
}

// Inspect decodes every valid frame in data. It returns the frames and
// the number of times the stream had to be resynchronized.
func Inspect(data []byte) ([]FrameInfo, int) {
	var frames []FrameInfo
	resyncs := 0
	s := &Scanner{Resync: func() { resyncs++ }}
	s.Scan(data, func(seq byte, payload []byte) {
		info := FrameInfo{Seq: seq, Payload: append([]byte(nil), payload...)}
		if len(payload) == 0 {
			info.Ack = true
			frames = append(frames, info)
			return
		}
		id, n, err := DecodeVLQ(payload)
		if err != nil {
			frames = append(frames, info)
			return
		}
		info.ID = uint32(id)
		for rest := payload[n:]; len(rest) > 0; {
			v, n, err := DecodeVLQ(rest)
			if err != nil {
				break
			}
			info.Args = append(info.Args, v)
			rest = rest[n:]
		}
		frames = append(frames, info)
	})
	return frames, resyncs
}
