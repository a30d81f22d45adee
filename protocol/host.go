package protocol

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fclairamb/go-log"
	"github.com/fclairamb/go-log/noop"
)

// HostConfig controls a Host. Zero fields take defaults.
type HostConfig struct {
	// AckTimeout bounds the wait for each acknowledgement, 2s by default.
	AckTimeout time.Duration
	// Retries is how often a frame is resent after a negative
	// acknowledgement, 3 by default.
	Retries int
	Logger  log.Logger
}

// Message is a response frame received from the device.
type Message struct {
	Seq     byte
	ID      uint32
	Payload []byte // arguments after the command id
}

// Args returns a Reader over the message arguments.
func (m *Message) Args() *Reader {
	return NewReader(m.Payload)
}

// Host is the host side of the link. Send and Call may be used from
// several goroutines; exchanges are serialized.
type Host struct {
	port io.ReadWriteCloser
	cfg  HostConfig

	mu  sync.Mutex // one exchange at a time
	seq byte

	acks      chan byte
	responses chan *Message
	done      chan struct{}
	closeOnce sync.Once
	readErr   error
}

// NewHost starts reading port and returns the Host.
func NewHost(port io.ReadWriteCloser, cfg *HostConfig) *Host {
	h := &Host{
		port:      port,
		seq:       SeqDest,
		acks:      make(chan byte, 4),
		responses: make(chan *Message, 16),
		done:      make(chan struct{}),
	}
	if cfg != nil {
		h.cfg = *cfg
	}
	if h.cfg.AckTimeout == 0 {
		h.cfg.AckTimeout = 2 * time.Second
	}
	if h.cfg.Retries == 0 {
		h.cfg.Retries = 3
	}
	if h.cfg.Logger == nil {
		h.cfg.Logger = noop.NewNoOpLogger()
	}
	go h.readLoop()
	return h
}

// Send transmits the command built by w and waits for its acknowledgement.
func (h *Host) Send(w *Writer) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.drain(false)
	return h.send(w.Payload())
}

// Call transmits the command built by w and waits up to timeout for a
// response carrying respID. Other responses are dropped.
func (h *Host) Call(w *Writer, respID uint32, timeout time.Duration) (*Message, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.drain(true)
	if err := h.send(w.Payload()); err != nil {
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case m := <-h.responses:
			if m.ID == respID {
				return m, nil
			}
			h.cfg.Logger.Debug("dropped response", "id", m.ID, "want", respID)
		case <-timer.C:
			return nil, fmt.Errorf("%w: response %d after %v", ErrTimeout, respID, timeout)
		case <-h.done:
			return nil, h.closedErr()
		}
	}
}

// drain drops acknowledgements, and responses if asked, left over from
// earlier exchanges.
func (h *Host) drain(responses bool) {
	for {
		select {
		case <-h.acks:
			continue
		default:
		}
		if !responses {
			return
		}
		select {
		case <-h.responses:
		default:
			return
		}
	}
}

func (h *Host) send(payload []byte) error {
	for attempt := 0; ; attempt++ {
		frame, err := AppendFrame(nil, h.seq, payload)
		if err != nil {
			return err
		}
		if _, err := h.port.Write(frame); err != nil {
			return fmt.Errorf("protocol: write: %w", err)
		}

		got, err := h.waitAck()
		if err != nil {
			return err
		}
		want := NextSeq(h.seq)
		if got == want {
			h.seq = want
			return nil
		}
		// the device expects another sequence, resend with it
		h.cfg.Logger.Debug("sequence mismatch", "sent", h.seq, "expected", got)
		h.seq = got
		if attempt >= h.cfg.Retries {
			return fmt.Errorf("protocol: no acknowledgement after %d attempts", attempt+1)
		}
	}
}

func (h *Host) waitAck() (byte, error) {
	timer := time.NewTimer(h.cfg.AckTimeout)
	defer timer.Stop()
	select {
	case seq := <-h.acks:
		return seq, nil
	case <-timer.C:
		return 0, fmt.Errorf("%w: acknowledgement after %v", ErrTimeout, h.cfg.AckTimeout)
	case <-h.done:
		return 0, h.closedErr()
	}
}

func (h *Host) closedErr() error {
	if h.readErr != nil && h.readErr != io.EOF {
		return fmt.Errorf("%w: %w", ErrClosed, h.readErr)
	}
	return ErrClosed
}

func (h *Host) readLoop() {
	var (
		scan Scanner
		in   []byte
		buf  = make([]byte, 256)
	)
	defer close(h.done)

	for {
		n, err := h.port.Read(buf)
		if n > 0 {
			in = append(in, buf[:n]...)
			used := scan.Scan(in, h.dispatch)
			in = append(in[:0], in[used:]...)
		}
		if err != nil {
			h.readErr = err
			return
		}
	}
}

func (h *Host) dispatch(seq byte, payload []byte) {
	if len(payload) == 0 {
		select {
		case h.acks <- seq:
		default:
			h.cfg.Logger.Warn("acknowledgement dropped", "seq", seq)
		}
		return
	}

	id, n, err := DecodeVLQ(payload)
	if err != nil {
		h.cfg.Logger.Warn("malformed response", "err", err)
		return
	}
	m := &Message{Seq: seq, ID: uint32(id), Payload: append([]byte(nil), payload[n:]...)}
	select {
	case h.responses <- m:
	default:
		h.cfg.Logger.Warn("response dropped", "id", m.ID)
	}
}

// Close closes the port and waits for the reader to stop.
func (h *Host) Close() error {
	var err error
	h.closeOnce.Do(func() {
		err = h.port.Close()
		<-h.done
	})
	return err
}

// Done is closed once the port stops delivering data.
func (h *Host) Done() <-chan struct{} {
	return h.done
}
