package serial

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"
)

// timeoutPort mimics tarm/serial: an expired read returns io.EOF.
type timeoutPort struct {
	data   bytes.Buffer
	closed bool
}

func (p *timeoutPort) Read(b []byte) (int, error) {
	if p.data.Len() == 0 {
		return 0, io.EOF
	}
	return p.data.Read(b)
}

func (p *timeoutPort) Write(b []byte) (int, error) { return p.data.Write(b) }

func (p *timeoutPort) Close() error {
	p.closed = true
	return nil
}

func TestReadTimeoutIsNotAnError(t *testing.T) {
	raw := &timeoutPort{}
	p := newPort(raw, DefaultConfig("/dev/null"))

	buf := make([]byte, 8)
	if n, err := p.Read(buf); n != 0 || err != nil {
		t.Errorf("Expected an empty read, got %d, %v", n, err)
	}

	p.Write([]byte("abc"))
	if n, err := p.Read(buf); n != 3 || err != nil || string(buf[:n]) != "abc" {
		t.Errorf("Expected abc, got %q, %v", buf[:n], err)
	}
}

func TestBlockingPortKeepsEOF(t *testing.T) {
	p := newPort(&timeoutPort{}, &Config{Device: "x"})
	if _, err := p.Read(make([]byte, 1)); err != io.EOF {
		t.Errorf("Expected io.EOF without a read timeout, got %v", err)
	}
}

func TestClose(t *testing.T) {
	raw := &timeoutPort{}
	p := newPort(raw, &Config{Device: "x", ReadTimeout: time.Millisecond})

	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("Expected a second Close to succeed, got %v", err)
	}
	if !raw.closed {
		t.Error("Expected the port to be closed")
	}
	if _, err := p.Read(make([]byte, 1)); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
	if _, err := p.Write([]byte{1}); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}

func TestOpenRequiresConfig(t *testing.T) {
	if _, err := Open(nil); err == nil {
		t.Error("Expected an error for a nil config")
	}
}
