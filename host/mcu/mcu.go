// Package mcu is the host side of the SD bridge: it fetches the firmware
// dictionary and forwards card bus operations to the bridge.
package mcu

import (
	"bytes"
	"compress/zlib"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/fclairamb/go-log"
	"github.com/fclairamb/go-log/noop"

	"sdspi/host/serial"
	"sdspi/protocol"
)

var (
	ErrNoDictionary   = errors.New("mcu: dictionary not loaded")
	ErrUnknownMessage = errors.New("mcu: unknown message")
)

// Config configures an MCU. Zero fields take defaults.
type Config struct {
	// Timeout bounds each command response, 1s by default.
	Timeout time.Duration
	// ChunkSize is the dictionary transfer size, 40 by default.
	ChunkSize uint32
	Protocol  protocol.HostConfig
	Logger    log.Logger
}

// MCU is a connection to the bridge firmware.
type MCU struct {
	host *protocol.Host
	cfg  Config
	log  log.Logger

	dict *Dictionary
	raw  []byte
}

// Dictionary is the parsed firmware dictionary.
type Dictionary struct {
	Version       string            `json:"version"`
	BuildVersions string            `json:"build_versions"`
	Config        map[string]string `json:"config"`
	Commands      map[string]uint32 `json:"commands"`
	Responses     map[string]uint32 `json:"responses"`

	ids map[string]uint32
}

// New starts a connection over port.
func New(port io.ReadWriteCloser, cfg *Config) *MCU {
	m := &MCU{}
	if cfg != nil {
		m.cfg = *cfg
	}
	if m.cfg.Timeout == 0 {
		m.cfg.Timeout = time.Second
	}
	if m.cfg.ChunkSize == 0 {
		m.cfg.ChunkSize = 40
	}
	if m.cfg.Logger == nil {
		m.cfg.Logger = noop.NewNoOpLogger()
	}
	if m.cfg.Protocol.Logger == nil {
		m.cfg.Protocol.Logger = m.cfg.Logger
	}
	m.log = m.cfg.Logger
	m.host = protocol.NewHost(port, &m.cfg.Protocol)
	return m
}

// Connect opens a serial port and fetches the dictionary.
func Connect(port *serial.Config, cfg *Config) (*MCU, error) {
	p, err := serial.Open(port)
	if err != nil {
		return nil, err
	}
	m := New(p, cfg)
	if err := m.RetrieveDictionary(); err != nil {
		m.Close()
		return nil, err
	}
	return m, nil
}

// Close closes the connection.
func (m *MCU) Close() error {
	return m.host.Close()
}

// RetrieveDictionary fetches the dictionary with identify, decompresses
// it and indexes the message ids.
func (m *MCU) RetrieveDictionary() error {
	var buf bytes.Buffer
	for {
		chunk, err := m.identify(uint32(buf.Len()))
		if err != nil {
			return fmt.Errorf("mcu: dictionary at offset %d: %w", buf.Len(), err)
		}
		if len(chunk) == 0 {
			break
		}
		buf.Write(chunk)
	}
	m.raw = buf.Bytes()

	data := m.raw
	if len(data) > 1 && data[0] == 0x78 {
		zr, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("mcu: dictionary: %w", err)
		}
		data, err = io.ReadAll(zr)
		if err != nil {
			return fmt.Errorf("mcu: dictionary: %w", err)
		}
	}

	dict := &Dictionary{}
	if err := json.Unmarshal(data, dict); err != nil {
		return fmt.Errorf("mcu: dictionary: %w", err)
	}
	dict.index()
	m.dict = dict
	m.log.Info("dictionary loaded", "version", dict.Version, "bytes", len(m.raw), "messages", len(dict.ids))
	return nil
}

// identify_response and identify have fixed ids.
const (
	idIdentifyResponse = 0
	idIdentify         = 1
)

func (m *MCU) identify(offset uint32) ([]byte, error) {
	w := protocol.NewWriter(idIdentify)
	w.Uint(offset)
	w.Uint(m.cfg.ChunkSize)
	resp, err := m.host.Call(w, idIdentifyResponse, m.cfg.Timeout)
	if err != nil {
		return nil, err
	}
	args := resp.Args()
	got := args.Uint()
	data := args.Bytes()
	if err := args.Err(); err != nil {
		return nil, err
	}
	if got != offset {
		return nil, fmt.Errorf("offset mismatch: expected %d, got %d", offset, got)
	}
	return data, nil
}

// Dictionary returns the loaded dictionary or nil.
func (m *MCU) Dictionary() *Dictionary {
	return m.dict
}

// Raw returns the dictionary as received.
func (m *MCU) Raw() []byte {
	return m.raw
}

// ID returns the id of the named command or response.
func (m *MCU) ID(name string) (uint32, error) {
	if m.dict == nil {
		return 0, ErrNoDictionary
	}
	return m.dict.ID(name)
}

// Send runs a command that has no response.
func (m *MCU) Send(name string, build func(w *protocol.Writer)) error {
	w, err := m.writer(name, build)
	if err != nil {
		return err
	}
	return m.host.Send(w)
}

// Call runs a command and returns the response named resp.
func (m *MCU) Call(name, resp string, build func(w *protocol.Writer)) (*protocol.Message, error) {
	w, err := m.writer(name, build)
	if err != nil {
		return nil, err
	}
	respID, err := m.ID(resp)
	if err != nil {
		return nil, err
	}
	return m.host.Call(w, respID, m.cfg.Timeout)
}

func (m *MCU) writer(name string, build func(w *protocol.Writer)) (*protocol.Writer, error) {
	id, err := m.ID(name)
	if err != nil {
		return nil, err
	}
	w := protocol.NewWriter(id)
	if build != nil {
		build(w)
	}
	return w, nil
}

func (d *Dictionary) index() {
	d.ids = make(map[string]uint32, len(d.Commands)+len(d.Responses))
	for _, set := range []map[string]uint32{d.Commands, d.Responses} {
		for spec, id := range set {
			name, _, _ := strings.Cut(spec, " ")
			d.ids[name] = id
		}
	}
}

// ID returns the id of a message by name, without its format.
func (d *Dictionary) ID(name string) (uint32, error) {
	if d.ids == nil {
		d.index()
	}
	id, ok := d.ids[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownMessage, name)
	}
	return id, nil
}

// Summary writes a readable listing of the dictionary.
func (d *Dictionary) Summary(w io.Writer) {
	fmt.Fprintf(w, "Version: %s\n", d.Version)
	fmt.Fprintf(w, "Build: %s\n", d.BuildVersions)

	keys := make([]string, 0, len(d.Config))
	for k := range d.Config {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Fprintln(w, "Config:")
	for _, k := range keys {
		fmt.Fprintf(w, "  %s = %s\n", k, d.Config[k])
	}

	for _, section := range []struct {
		title string
		set   map[string]uint32
	}{{"Commands", d.Commands}, {"Responses", d.Responses}} {
		specs := make([]string, 0, len(section.set))
		for spec := range section.set {
			specs = append(specs, spec)
		}
		sort.Slice(specs, func(i, j int) bool { return section.set[specs[i]] < section.set[specs[j]] })
		fmt.Fprintf(w, "%s (%d):\n", section.title, len(specs))
		for _, spec := range specs {
			fmt.Fprintf(w, "  [%d] %s\n", section.set[spec], spec)
		}
	}
}
