package core

import (
	"sort"
	"sync"

	"sdspi/protocol"
	"sdspi/tinycompress"
)

// Dictionary describes the firmware to the host: version, constants and
// the message ids of the registry. It is served compressed through the
// identify command.
type Dictionary struct {
	mu            sync.Mutex
	reg           *Registry
	version       string
	buildVersions string
	constants     map[string]string
	cached        []byte
}

// NewDictionary returns a dictionary over reg.
func NewDictionary(reg *Registry) *Dictionary {
	return &Dictionary{
		reg:           reg,
		version:       protocol.Version,
		buildVersions: "go",
		constants:     make(map[string]string),
	}
}

// SetVersion sets the firmware version string.
func (d *Dictionary) SetVersion(version string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.version = version
	d.cached = nil
}

// SetBuildVersions sets the toolchain description.
func (d *Dictionary) SetBuildVersions(versions string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.buildVersions = versions
	d.cached = nil
}

// AddConstant publishes a firmware constant. Values are rendered as
// strings.
func (d *Dictionary) AddConstant(name string, value any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.constants[name] = valueToString(value)
	d.cached = nil
}

// Build compresses the dictionary and caches it. Call it once all
// messages are registered; later changes to the dictionary drop the
// cache.
func (d *Dictionary) Build() []byte {
	// registry lock first, never while holding d.mu
	commands, responses := d.reg.Split()

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cached == nil {
		d.cached = tinycompress.Compress(d.json(commands, responses))
	}
	return d.cached
}

// JSON returns the uncompressed dictionary.
func (d *Dictionary) JSON() []byte {
	commands, responses := d.reg.Split()
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.json(commands, responses)
}

func (d *Dictionary) json(commands, responses map[string]uint32) []byte {
	out := make([]byte, 0, 1024)
	out = append(out, `{"version":`...)
	out = appendString(out, d.version)
	out = append(out, `,"build_versions":`...)
	out = appendString(out, d.buildVersions)

	out = append(out, `,"config":{`...)
	names := make([]string, 0, len(d.constants))
	for name := range d.constants {
		names = append(names, name)
	}
	sort.Strings(names)
	for i, name := range names {
		if i > 0 {
			out = append(out, ',')
		}
		out = appendString(out, name)
		out = append(out, ':')
		out = appendString(out, d.constants[name])
	}

	out = append(out, `},"commands":`...)
	out = appendIDs(out, commands)
	out = append(out, `,"responses":`...)
	out = appendIDs(out, responses)
	return append(out, '}')
}

// appendIDs writes an object sorted by id.
func appendIDs(out []byte, ids map[string]uint32) []byte {
	specs := make([]string, 0, len(ids))
	for spec := range ids {
		specs = append(specs, spec)
	}
	sort.Slice(specs, func(i, j int) bool { return ids[specs[i]] < ids[specs[j]] })

	out = append(out, '{')
	for i, spec := range specs {
		if i > 0 {
			out = append(out, ',')
		}
		out = appendString(out, spec)
		out = append(out, ':')
		out = append(out, utoa(ids[spec])...)
	}
	return append(out, '}')
}

// Chunk returns up to count bytes of the compressed dictionary starting
// at offset. The result is empty past the end.
func (d *Dictionary) Chunk(offset uint32, count uint32) []byte {
	data := d.Build()
	if offset >= uint32(len(data)) {
		return nil
	}
	end := min(uint64(offset)+uint64(count), uint64(len(data)))
	return data[offset:end]
}
