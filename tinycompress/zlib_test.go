package tinycompress

import (
	"bytes"
	"compress/zlib"
	"io"
	"testing"
)

func inflate(t *testing.T, data []byte) []byte {
	t.Helper()
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("zlib.NewReader: %v", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("inflate: %v", err)
	}
	return out
}

func TestWriterRoundTrip(t *testing.T) {
	sizes := []int{0, 1, 100, MaxBlock, MaxBlock + 1, 3*MaxBlock + 17}
	for _, size := range sizes {
		data := make([]byte, size)
		for i := range data {
			data[i] = byte(i * 7)
		}

		var buf bytes.Buffer
		w := NewWriter(&buf, 64)
		// split the input to exercise buffering
		half := size / 2
		w.Write(data[:half])
		w.Write(data[half:])
		if err := w.Close(); err != nil {
			t.Fatalf("size %d: %v", size, err)
		}
		if got := inflate(t, buf.Bytes()); !bytes.Equal(got, data) {
			t.Errorf("size %d: Expected the input back, got %d bytes", size, len(got))
		}
	}
}

func TestCompress(t *testing.T) {
	data := []byte(`{"version":"sdspi-bridge-1"}`)
	out := Compress(data)
	if len(out) != len(data)+11 {
		t.Errorf("Expected %d bytes, got %d", len(data)+11, len(out))
	}
	if got := inflate(t, out); !bytes.Equal(got, data) {
		t.Errorf("Expected %q, got %q", data, got)
	}
}

func TestWriteAfterClose(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, 0)
	w.Close()
	if _, err := w.Write([]byte{1}); err != ErrClosed {
		t.Errorf("Expected ErrClosed, got %v", err)
	}

	w.Reset(&buf)
	buf.Reset()
	w.Write([]byte("again"))
	w.Close()
	if got := inflate(t, buf.Bytes()); string(got) != "again" {
		t.Errorf("Expected %q after Reset, got %q", "again", got)
	}
}
