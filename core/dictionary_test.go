package core

import (
	"bytes"
	"compress/zlib"
	"encoding/json"
	"io"
	"testing"

	"sdspi/protocol"
)

type dictDoc struct {
	Version       string            `json:"version"`
	BuildVersions string            `json:"build_versions"`
	Config        map[string]string `json:"config"`
	Commands      map[string]uint32 `json:"commands"`
	Responses     map[string]uint32 `json:"responses"`
}

func inflate(t *testing.T, data []byte) []byte {
	t.Helper()
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("zlib.NewReader: %v", err)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("inflate: %v", err)
	}
	return out
}

func TestDictionary(t *testing.T) {
	reg := NewRegistry()
	reg.Register("test_cmd", "arg=%u", func(*protocol.Reader) error { return nil })
	dict := NewDictionary(reg)
	dict.AddConstant("TEST_CONST", uint32(42))
	dict.AddConstant("TEST_STR", `he said "hi"`)
	dict.SetBuildVersions("go-test")

	var doc dictDoc
	if err := json.Unmarshal(inflate(t, dict.Build()), &doc); err != nil {
		t.Fatalf("Dictionary is not valid JSON: %v", err)
	}
	if doc.Version != protocol.Version || doc.BuildVersions != "go-test" {
		t.Errorf("Unexpected versions %q %q", doc.Version, doc.BuildVersions)
	}
	if doc.Config["TEST_CONST"] != "42" || doc.Config["TEST_STR"] != `he said "hi"` {
		t.Errorf("Unexpected constants %v", doc.Config)
	}
	if doc.Commands["test_cmd arg=%u"] != 2 {
		t.Errorf("Expected test_cmd at 2, got %v", doc.Commands)
	}
	if id, ok := doc.Responses["identify_response offset=%u data=%*s"]; !ok || id != 0 {
		t.Errorf("Expected identify_response at 0, got %v", doc.Responses)
	}
	if !bytes.Equal(inflate(t, dict.Build()), dict.JSON()) {
		t.Error("Expected the compressed dictionary to match JSON()")
	}
}

func TestDictionaryCacheInvalidation(t *testing.T) {
	dict := NewDictionary(NewRegistry())
	first := dict.Build()
	dict.SetVersion("v2")

	var doc dictDoc
	if err := json.Unmarshal(inflate(t, dict.Build()), &doc); err != nil {
		t.Fatal(err)
	}
	if doc.Version != "v2" {
		t.Errorf("Expected the rebuilt dictionary to carry v2, got %q", doc.Version)
	}
	if bytes.Equal(first, dict.Build()) {
		t.Error("Expected the cache to be rebuilt")
	}
}

func TestDictionaryChunks(t *testing.T) {
	dict := NewDictionary(NewRegistry())
	dict.AddConstant("TEST", uint32(123))
	full := dict.Build()

	var got []byte
	for offset := uint32(0); ; offset += 40 {
		chunk := dict.Chunk(offset, 40)
		if len(chunk) == 0 {
			break
		}
		if len(chunk) > 40 {
			t.Fatalf("Chunk too long: %d", len(chunk))
		}
		got = append(got, chunk...)
	}
	if !bytes.Equal(got, full) {
		t.Errorf("Expected chunks to rebuild the dictionary, got %d of %d bytes", len(got), len(full))
	}
	if chunk := dict.Chunk(uint32(len(full))+10, 40); len(chunk) != 0 {
		t.Errorf("Expected nothing past the end, got %d bytes", len(chunk))
	}
	if chunk := dict.Chunk(0, 0xFFFFFFFF); len(chunk) != len(full) {
		t.Errorf("Expected a huge count to clamp, got %d bytes", len(chunk))
	}
}

func TestDebugLogger(t *testing.T) {
	var lines []string
	SetDebugWriter(func(s string) { lines = append(lines, s) })
	defer SetDebugWriter(nil)

	logger := NewDebugLogger().With("bus", 1)
	logger.Info("ignored while disabled")
	if len(lines) != 0 {
		t.Fatalf("Expected no output while disabled, got %v", lines)
	}

	SetDebugEnabled(true)
	defer SetDebugEnabled(false)
	logger.Warn("select failed", "err", protocol.ErrTimeout, "odd")

	want := "[WARN] select failed bus=1 err=protocol: timeout odd="
	if len(lines) != 1 || lines[0] != want {
		t.Errorf("Expected %q, got %v", want, lines)
	}
}
