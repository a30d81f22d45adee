package core

import (
	"context"
	"errors"
	"io"

	"github.com/fclairamb/go-log"
	"github.com/fclairamb/go-log/noop"

	"sdspi/protocol"
	"sdspi/sdcard"
)

// Status codes carried by sd_status.
const (
	StatusOK       = 0
	StatusNotReady = 1
	StatusBusError = 2
)

// ChunkMax is the largest data argument of sd_send and sd_recv.
const ChunkMax = 48

// BridgeConfig configures a Bridge. Zero fields take defaults.
type BridgeConfig struct {
	Version       string
	BuildVersions string
	// Constants are published in the dictionary, e.g. the MCU name.
	Constants map[string]any
	Logger    log.Logger
}

// Bridge exposes an sdcard.Transport to a host over the framed protocol.
// The host runs the card engine and the bridge only moves bytes.
type Bridge struct {
	bus  sdcard.Transport
	out  io.Writer
	reg  *Registry
	dict *Dictionary
	dev  *protocol.Device
	log  log.Logger

	// first bus error not yet reported to the host
	fault error

	idIdentifyResponse uint32
	idStatus           uint32
	idRecvResponse     uint32

	recv [ChunkMax]byte
}

// NewBridge returns a bridge driving bus and writing frames to out.
func NewBridge(bus sdcard.Transport, out io.Writer, cfg *BridgeConfig) *Bridge {
	if cfg == nil {
		cfg = &BridgeConfig{}
	}
	b := &Bridge{bus: bus, out: out, reg: NewRegistry(), log: cfg.Logger}
	if b.log == nil {
		b.log = noop.NewNoOpLogger()
	}

	b.idIdentifyResponse, _ = b.reg.Lookup("identify_response")
	b.reg.Register("identify", "offset=%u count=%c", b.handleIdentify)
	b.reg.Register("sd_config", "clock=%u", b.handleConfig)
	b.reg.Register("sd_select", "", b.handleSelect)
	b.reg.Register("sd_release", "", b.handleRelease)
	b.reg.Register("sd_send", "data=%*s", b.handleSend)
	b.reg.Register("sd_recv", "count=%c", b.handleRecv)
	b.reg.Register("sd_flush", "", b.handleFlush)
	b.idStatus = b.reg.Response("sd_status", "code=%c")
	b.idRecvResponse = b.reg.Response("sd_recv_response", "data=%*s")

	b.dict = NewDictionary(b.reg)
	if cfg.Version != "" {
		b.dict.SetVersion(cfg.Version)
	}
	if cfg.BuildVersions != "" {
		b.dict.SetBuildVersions(cfg.BuildVersions)
	}
	b.dict.AddConstant("SD_CHUNK_MAX", uint32(ChunkMax))
	for name, value := range cfg.Constants {
		b.dict.AddConstant(name, value)
	}
	b.dict.Build()

	b.dev = protocol.NewDevice(b.output, b.reg.Dispatch)
	b.dev.OnReset = b.reset
	b.dev.OnError = func(id uint32, err error) {
		b.log.Warn("command failed", "id", id, "err", err)
	}
	return b
}

// Registry returns the message registry.
func (b *Bridge) Registry() *Registry { return b.reg }

// Dictionary returns the dictionary served through identify.
func (b *Bridge) Dictionary() *Dictionary { return b.dict }

// Feed processes bytes received from the host.
func (b *Bridge) Feed(p []byte) {
	b.dev.Feed(p)
}

// Serve feeds everything read from r until ctx is done or r fails. A
// clean end of input returns nil.
func (b *Bridge) Serve(ctx context.Context, r io.Reader) error {
	buf := make([]byte, 2*protocol.FrameMax)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := r.Read(buf)
		if n > 0 {
			b.Feed(buf[:n])
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (b *Bridge) output(frame []byte) {
	if _, err := b.out.Write(frame); err != nil {
		b.log.Error("write failed", "err", err)
	}
}

// reset runs when the host restarts its session.
func (b *Bridge) reset() {
	b.bus.Release()
	b.fault = nil
}

func (b *Bridge) latch(op string, err error) {
	if err == nil {
		return
	}
	b.log.Warn("bus error", "op", op, "err", err)
	if b.fault == nil {
		b.fault = err
	}
}

func (b *Bridge) sendStatus(err error) error {
	if err == nil {
		err = b.fault
	}
	b.fault = nil

	code := uint32(StatusOK)
	switch {
	case err == nil:
	case errors.Is(err, sdcard.ErrBusNotReady):
		code = StatusNotReady
	default:
		code = StatusBusError
	}
	w := protocol.NewWriter(b.idStatus)
	w.Uint(code)
	return b.dev.Send(w)
}

func (b *Bridge) handleIdentify(args *protocol.Reader) error {
	offset := args.Uint()
	count := args.Uint()
	if err := args.Err(); err != nil {
		return err
	}
	w := protocol.NewWriter(b.idIdentifyResponse)
	w.Uint(offset)
	w.Bytes(b.dict.Chunk(offset, min(count, ChunkMax)))
	return b.dev.Send(w)
}

func (b *Bridge) handleConfig(args *protocol.Reader) error {
	clock := args.Uint()
	if err := args.Err(); err != nil {
		return err
	}
	err := b.bus.Initialize(clock)
	if err != nil {
		b.log.Warn("bus configuration failed", "hz", clock, "err", err)
	}
	return b.sendStatus(err)
}

func (b *Bridge) handleSelect(*protocol.Reader) error {
	return b.sendStatus(b.bus.Select())
}

func (b *Bridge) handleRelease(*protocol.Reader) error {
	b.bus.Release()
	return nil
}

func (b *Bridge) handleSend(args *protocol.Reader) error {
	data := args.Bytes()
	if err := args.Err(); err != nil {
		return err
	}
	b.latch("send", b.bus.Send(data))
	return nil
}

func (b *Bridge) handleRecv(args *protocol.Reader) error {
	count := args.Uint()
	if err := args.Err(); err != nil {
		return err
	}
	data := b.recv[:min(count, ChunkMax)]
	b.latch("recv", b.bus.Recv(data))

	w := protocol.NewWriter(b.idRecvResponse)
	if b.fault != nil {
		// an empty answer tells the host the data is not valid
		b.fault = nil
		data = nil
	}
	w.Bytes(data)
	return b.dev.Send(w)
}

func (b *Bridge) handleFlush(*protocol.Reader) error {
	b.latch("flush", b.bus.Flush())
	return nil
}
