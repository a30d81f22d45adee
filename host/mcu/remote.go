package mcu

import (
	"errors"
	"fmt"
	"strconv"

	"sdspi/protocol"
	"sdspi/sdcard"
)

// Bridge status codes.
const (
	statusOK       = 0
	statusNotReady = 1
)

// defaultChunk is used when the firmware does not publish SD_CHUNK_MAX.
const defaultChunk = 48

var (
	ErrBusError      = errors.New("mcu: bridge bus error")
	ErrShortResponse = errors.New("mcu: short bridge response")
)

// Remote is an sdcard.Transport whose bus lives on the bridge firmware.
type Remote struct {
	m     *MCU
	chunk int
}

var _ sdcard.Transport = (*Remote)(nil)

// Transport returns the remote bus. The dictionary must be loaded and
// list the sd_* commands.
func (m *MCU) Transport() (*Remote, error) {
	if m.dict == nil {
		return nil, ErrNoDictionary
	}
	for _, name := range []string{"sd_config", "sd_select", "sd_release", "sd_send", "sd_recv", "sd_flush", "sd_status", "sd_recv_response"} {
		if _, err := m.dict.ID(name); err != nil {
			return nil, err
		}
	}
	r := &Remote{m: m, chunk: defaultChunk}
	if v, ok := m.dict.Config["SD_CHUNK_MAX"]; ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			r.chunk = n
		}
	}
	return r, nil
}

func (r *Remote) status(name string, build func(w *protocol.Writer)) error {
	resp, err := r.m.Call(name, "sd_status", build)
	if err != nil {
		return err
	}
	switch code := resp.Args().Uint(); code {
	case statusOK:
		return nil
	case statusNotReady:
		return fmt.Errorf("%s: %w", name, sdcard.ErrBusNotReady)
	default:
		return fmt.Errorf("%s: %w (code %d)", name, ErrBusError, code)
	}
}

func (r *Remote) Initialize(clockHz uint32) error {
	return r.status("sd_config", func(w *protocol.Writer) { w.Uint(clockHz) })
}

func (r *Remote) Select() error {
	return r.status("sd_select", nil)
}

func (r *Remote) Release() {
	if err := r.m.Send("sd_release", nil); err != nil {
		r.m.log.Warn("release failed", "err", err)
	}
}

func (r *Remote) Send(p []byte) error {
	for len(p) > 0 {
		n := min(len(p), r.chunk)
		chunk := p[:n]
		if err := r.m.Send("sd_send", func(w *protocol.Writer) { w.Bytes(chunk) }); err != nil {
			return err
		}
		p = p[n:]
	}
	return nil
}

func (r *Remote) Recv(p []byte) error {
	for len(p) > 0 {
		n := min(len(p), r.chunk)
		resp, err := r.m.Call("sd_recv", "sd_recv_response", func(w *protocol.Writer) { w.Uint(uint32(n)) })
		if err != nil {
			return err
		}
		args := resp.Args()
		data := args.Bytes()
		if err := args.Err(); err != nil {
			return err
		}
		// the bridge answers with no data after a bus fault
		if len(data) == 0 {
			return fmt.Errorf("sd_recv: %w", ErrBusError)
		}
		if len(data) != n {
			return fmt.Errorf("%w: %d of %d bytes", ErrShortResponse, len(data), n)
		}
		copy(p, data)
		p = p[n:]
	}
	return nil
}

func (r *Remote) Flush() error {
	return r.m.Send("sd_flush", nil)
}
