package protocol

import (
	"bytes"
	"errors"
	"testing"
)

type seen struct {
	seq     byte
	payload []byte
}

func collect(s *Scanner, data []byte) ([]seen, int) {
	var out []seen
	n := s.Scan(data, func(seq byte, payload []byte) {
		out = append(out, seen{seq, append([]byte(nil), payload...)})
	})
	return out, n
}

func TestAppendFrame(t *testing.T) {
	frame, err := AppendFrame(nil, 0x13, []byte{1, 2, 3})
	if err != nil {
		t.Fatal(err)
	}
	if len(frame) != 8 || frame[0] != 8 || frame[1] != 0x13 || frame[7] != SyncByte {
		t.Errorf("Unexpected frame layout %x", frame)
	}
	crc := CRC16(frame[:5])
	if frame[5] != byte(crc>>8) || frame[6] != byte(crc) {
		t.Errorf("Expected CRC %04x, got %02x%02x", crc, frame[5], frame[6])
	}

	if _, err := AppendFrame(nil, SeqDest, make([]byte, PayloadMax)); err != nil {
		t.Errorf("Expected a full payload to fit, got %v", err)
	}
	if _, err := AppendFrame(nil, SeqDest, make([]byte, PayloadMax+1)); !errors.Is(err, ErrFrameTooLong) {
		t.Errorf("Expected ErrFrameTooLong, got %v", err)
	}
}

func TestScanFrames(t *testing.T) {
	a, _ := AppendFrame(nil, 0x10, []byte{9})
	b, _ := AppendFrame(nil, 0x11, nil)
	stream := append(append([]byte{SyncByte}, a...), b...)

	var s Scanner
	got, n := collect(&s, stream)
	if n != len(stream) {
		t.Errorf("Expected %d bytes consumed, got %d", len(stream), n)
	}
	if len(got) != 2 || got[0].seq != 0x10 || !bytes.Equal(got[0].payload, []byte{9}) || got[1].seq != 0x11 {
		t.Errorf("Unexpected frames %+v", got)
	}
}

func TestScanPartialFrame(t *testing.T) {
	frame, _ := AppendFrame(nil, 0x12, []byte{1, 2, 3, 4})

	var s Scanner
	got, n := collect(&s, frame[:6])
	if len(got) != 0 || n != 0 {
		t.Errorf("Expected nothing from a partial frame, got %d frames and %d bytes", len(got), n)
	}
	got, n = collect(&s, frame)
	if len(got) != 1 || n != len(frame) {
		t.Errorf("Expected the completed frame, got %d frames and %d bytes", len(got), n)
	}
}

func TestScanResync(t *testing.T) {
	good, _ := AppendFrame(nil, 0x14, []byte{7})
	bad := append([]byte(nil), good...)
	bad[3] ^= 0xFF // corrupt the CRC

	resyncs := 0
	s := Scanner{Resync: func() { resyncs++ }}
	stream := append(append([]byte{0x33, 0x44}, bad...), good...)
	got, n := collect(&s, stream)

	if n != len(stream) {
		t.Errorf("Expected everything consumed, got %d of %d", n, len(stream))
	}
	if len(got) != 1 || got[0].seq != 0x14 {
		t.Errorf("Expected only the good frame, got %+v", got)
	}
	if resyncs == 0 || !s.Synced() {
		t.Errorf("Expected a resync, got %d (synced=%v)", resyncs, s.Synced())
	}
}

func TestScanRejectsForeignSequence(t *testing.T) {
	frame, _ := AppendFrame(nil, 0x25, []byte{1})
	var s Scanner
	got, _ := collect(&s, frame)
	if len(got) != 0 {
		t.Errorf("Expected the frame to be rejected, got %+v", got)
	}
}

func TestFifo(t *testing.T) {
	f := NewFifo(8)
	if n := f.Write([]byte{1, 2, 3, 4, 5}); n != 5 {
		t.Fatalf("Expected 5 bytes written, got %d", n)
	}
	f.Pop(4)
	if n := f.Write([]byte{6, 7, 8, 9, 10, 11, 12}); n != 6 {
		t.Errorf("Expected 6 bytes written, got %d", n)
	}
	if f.Free() != 0 {
		t.Errorf("Expected a full queue, got %d free", f.Free())
	}
	if got := f.Data(); !bytes.Equal(got, []byte{5, 6, 7, 8, 9, 10, 11}) {
		t.Errorf("Expected wrapped data in order, got %v", got)
	}
	f.Pop(100)
	if f.Available() != 0 {
		t.Errorf("Expected an empty queue, got %d", f.Available())
	}
}
