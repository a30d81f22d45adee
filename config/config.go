// Package config loads the sdtool configuration file.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/spf13/afero"

	"sdspi/sdcard"
	"sdspi/sdcard/sdsim"
)

// Backends.
const (
	BackendSim    = "sim"
	BackendBridge = "bridge"
	BackendPeriph = "periph"
)

// Config is the JSON configuration document.
type Config struct {
	Backend string       `json:"backend"`
	Serial  SerialConfig `json:"serial"`
	Periph  PeriphConfig `json:"periph"`
	Sim     SimConfig    `json:"sim"`
	Card    CardConfig   `json:"card"`
	Serve   ServeConfig  `json:"serve"`
}

// SerialConfig locates the bridge firmware.
type SerialConfig struct {
	Device        string `json:"device"`
	Baud          int    `json:"baud"`
	ReadTimeoutMs int    `json:"read_timeout_ms"`
}

// PeriphConfig names a Linux SPI port and chip select GPIO.
type PeriphConfig struct {
	SPI   string `json:"spi"`
	CS    string `json:"cs"`
	MaxHz uint32 `json:"max_hz"`
}

// SimConfig describes the simulated card.
type SimConfig struct {
	Profile string `json:"profile"`
	Image   string `json:"image"`
	Sectors uint32 `json:"sectors"`
}

// CardConfig overrides the engine timing. Zero values keep the engine
// defaults.
type CardConfig struct {
	InitHz             uint32 `json:"init_hz"`
	ClockHz            uint32 `json:"clock_hz"`
	CommandTimeoutMs   int    `json:"command_timeout_ms"`
	InitTimeoutMs      int    `json:"init_timeout_ms"`
	DataTokenTimeoutMs int    `json:"data_token_timeout_ms"`
	BusyTimeoutMs      int    `json:"busy_timeout_ms"`
}

// ServeConfig configures the FTP and WebDAV servers.
type ServeConfig struct {
	FTPAddr      string `json:"ftp_addr"`
	WebDAVAddr   string `json:"webdav_addr"`
	WebDAVPrefix string `json:"webdav_prefix"`
	User         string `json:"user"`
	Password     string `json:"password"`
}

var ErrInvalid = errors.New("config: invalid configuration")

// Default returns the configuration used without a file.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Load reads path from fsys. A missing file yields the defaults.
func Load(fsys afero.Fs, path string) (*Config, error) {
	data, err := afero.ReadFile(fsys, path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return Parse(data)
}

// Parse decodes a JSON document, fills defaults and validates it.
func Parse(data []byte) (*Config, error) {
	c := &Config{}
	if err := json.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) applyDefaults() {
	if c.Backend == "" {
		c.Backend = BackendSim
	}
	if c.Serial.Device == "" {
		c.Serial.Device = "/dev/ttyACM0"
	}
	if c.Serial.Baud == 0 {
		c.Serial.Baud = 115200
	}
	if c.Serial.ReadTimeoutMs == 0 {
		c.Serial.ReadTimeoutMs = 100
	}
	if c.Periph.SPI == "" {
		c.Periph.SPI = "/dev/spidev0.0"
	}
	if c.Periph.CS == "" {
		c.Periph.CS = "GPIO8"
	}
	if c.Periph.MaxHz == 0 {
		c.Periph.MaxHz = 10_000_000
	}
	if c.Sim.Profile == "" {
		c.Sim.Profile = sdsim.SDHC.String()
	}
	if c.Sim.Image == "" {
		c.Sim.Image = "card.img"
	}
	if c.Serve.WebDAVPrefix == "" {
		c.Serve.WebDAVPrefix = "/"
	}
}

// Validate checks values that defaults cannot repair.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendSim, BackendBridge, BackendPeriph:
	default:
		return fmt.Errorf("%w: unknown backend %q", ErrInvalid, c.Backend)
	}
	if _, err := sdsim.ParseProfile(c.Sim.Profile); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if c.Card.InitHz != 0 && c.Card.ClockHz != 0 && c.Card.InitHz > c.Card.ClockHz {
		return fmt.Errorf("%w: init_hz %d above clock_hz %d", ErrInvalid, c.Card.InitHz, c.Card.ClockHz)
	}
	return nil
}

// SerialReadTimeout returns the serial read timeout.
func (c *Config) SerialReadTimeout() time.Duration {
	return time.Duration(c.Serial.ReadTimeoutMs) * time.Millisecond
}

// EngineConfig returns the engine configuration. Unset fields keep the engine
// defaults.
func (c *Config) EngineConfig() *sdcard.Config {
	ms := func(v int) time.Duration { return time.Duration(v) * time.Millisecond }
	return &sdcard.Config{
		InitClockHz:      c.Card.InitHz,
		ClockHz:          c.Card.ClockHz,
		CommandTimeout:   ms(c.Card.CommandTimeoutMs),
		InitTimeout:      ms(c.Card.InitTimeoutMs),
		DataTokenTimeout: ms(c.Card.DataTokenTimeoutMs),
		BusyTimeout:      ms(c.Card.BusyTimeoutMs),
	}
}
