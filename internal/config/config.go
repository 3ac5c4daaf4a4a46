// Package config loads the tracectl TOML file and overlays it onto defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/tracectl/internal/dictionary"
	"github.com/danmuck/tracectl/internal/filter"
	"github.com/danmuck/tracectl/internal/link"
	"github.com/danmuck/tracectl/internal/protocol"
	"github.com/danmuck/tracectl/internal/target"
)

var ErrInvalid = errors.New("config: invalid")

// Config is the resolved runtime configuration of a traced process.
type Config struct {
	Target  target.Config
	TXBytes int
	RXBytes int

	Link        link.Config
	MetricsAddr string

	GlobalFilter []string
	LocalFilter  []string
	Dictionary   []DictEntry

	// Demo application knobs used by `tracectl serve`.
	Heartbeat  time.Duration
	MemoryBase uint64
	MemorySize int
}

// DictEntry is a name binding declared in the file.
type DictEntry struct {
	Kind  string `toml:"kind"`
	Key   uint64 `toml:"key"`
	Scope uint64 `toml:"scope"`
	Name  string `toml:"name"`
}

func Default() Config {
	return Config{
		Target:       target.DefaultConfig(),
		TXBytes:      4096,
		RXBytes:      256,
		Link:         link.DefaultConfig(),
		MetricsAddr:  "",
		GlobalFilter: []string{"ALL"},
		LocalFilter:  []string{"ALL"},
		Heartbeat:    time.Second,
		MemoryBase:   0x2000_0000,
		MemorySize:   4096,
	}
}

type fileConfig struct {
	TXBytes     int         `toml:"tx_bytes"`
	RXBytes     int         `toml:"rx_bytes"`
	MetricsAddr string      `toml:"metrics_addr"`
	Target      fileTarget  `toml:"target"`
	Link        fileLink    `toml:"link"`
	Filter      fileFilter  `toml:"filter"`
	App         fileApp     `toml:"app"`
	Dictionary  []DictEntry `toml:"dictionary"`
}

type fileTarget struct {
	Version            uint16 `toml:"version"`
	SignalSize         uint8  `toml:"signal_size"`
	ObjPtrSize         uint8  `toml:"obj_ptr_size"`
	FunPtrSize         uint8  `toml:"fun_ptr_size"`
	TimeSize           uint8  `toml:"time_size"`
	FrameLen           int    `toml:"frame_len"`
	MaxStringLen       int    `toml:"max_string_len"`
	MaxNameLen         int    `toml:"max_name_len"`
	DictionaryCapacity int    `toml:"dictionary_capacity"`
	MemoryIsolation    bool   `toml:"memory_isolation"`
}

type fileLink struct {
	Address      string `toml:"address"`
	ByteRate     int    `toml:"byte_rate"`
	Burst        int    `toml:"burst"`
	PollInterval string `toml:"poll_interval"`
	WriteTimeout string `toml:"write_timeout"`
	MaxAttempts  int    `toml:"max_attempts"`
}

type fileFilter struct {
	Global []string `toml:"global"`
	Local  []string `toml:"local"`
}

type fileApp struct {
	Heartbeat  string `toml:"heartbeat"`
	MemoryBase uint64 `toml:"memory_base"`
	MemorySize int    `toml:"memory_size"`
}

// Load reads path and overlays every defined key onto Default.
func Load(path string) (Config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	cfg, err := resolve(raw, meta)
	if err != nil {
		return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return cfg, nil
}

// Decode parses TOML text the same way Load parses a file.
func Decode(text string) (Config, error) {
	var raw fileConfig
	meta, err := toml.Decode(text, &raw)
	if err != nil {
		return Config{}, err
	}
	return resolve(raw, meta)
}

func resolve(raw fileConfig, meta toml.MetaData) (Config, error) {
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("%w: unknown key %q", ErrInvalid, undecoded[0].String())
	}
	cfg, err := overlay(Default(), raw, meta)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func overlay(cfg Config, raw fileConfig, meta toml.MetaData) (Config, error) {
	if meta.IsDefined("tx_bytes") {
		cfg.TXBytes = raw.TXBytes
	}
	if meta.IsDefined("rx_bytes") {
		cfg.RXBytes = raw.RXBytes
	}
	if meta.IsDefined("metrics_addr") {
		cfg.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}

	t := &cfg.Target
	if meta.IsDefined("target", "version") {
		t.Version = raw.Target.Version
	}
	if meta.IsDefined("target", "signal_size") {
		t.Sizes.Signal = raw.Target.SignalSize
	}
	if meta.IsDefined("target", "obj_ptr_size") {
		t.Sizes.ObjPtr = raw.Target.ObjPtrSize
	}
	if meta.IsDefined("target", "fun_ptr_size") {
		t.Sizes.FunPtr = raw.Target.FunPtrSize
	}
	if meta.IsDefined("target", "time_size") {
		t.Sizes.Time = raw.Target.TimeSize
	}
	if meta.IsDefined("target", "frame_len") {
		t.FrameLen = raw.Target.FrameLen
	}
	if meta.IsDefined("target", "max_string_len") {
		t.MaxStringLen = raw.Target.MaxStringLen
	}
	if meta.IsDefined("target", "max_name_len") {
		t.MaxNameLen = raw.Target.MaxNameLen
	}
	if meta.IsDefined("target", "dictionary_capacity") {
		t.DictionaryCapacity = raw.Target.DictionaryCapacity
	}
	if meta.IsDefined("target", "memory_isolation") {
		t.MemoryIsolation = raw.Target.MemoryIsolation
	}

	l := &cfg.Link
	if meta.IsDefined("link", "address") {
		l.Address = strings.TrimSpace(raw.Link.Address)
	}
	if meta.IsDefined("link", "byte_rate") {
		l.ByteRate = raw.Link.ByteRate
	}
	if meta.IsDefined("link", "burst") {
		l.Burst = raw.Link.Burst
	}
	if meta.IsDefined("link", "poll_interval") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Link.PollInterval))
		if err != nil {
			return Config{}, fmt.Errorf("parse link.poll_interval: %w", err)
		}
		l.PollInterval = d
	}
	if meta.IsDefined("link", "write_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Link.WriteTimeout))
		if err != nil {
			return Config{}, fmt.Errorf("parse link.write_timeout: %w", err)
		}
		l.WriteTimeout = d
	}
	if meta.IsDefined("link", "max_attempts") {
		l.MaxAttempts = raw.Link.MaxAttempts
	}

	if meta.IsDefined("filter", "global") {
		cfg.GlobalFilter = normalize(raw.Filter.Global)
	}
	if meta.IsDefined("filter", "local") {
		cfg.LocalFilter = normalize(raw.Filter.Local)
	}

	if meta.IsDefined("app", "heartbeat") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.App.Heartbeat))
		if err != nil {
			return Config{}, fmt.Errorf("parse app.heartbeat: %w", err)
		}
		cfg.Heartbeat = d
	}
	if meta.IsDefined("app", "memory_base") {
		cfg.MemoryBase = raw.App.MemoryBase
	}
	if meta.IsDefined("app", "memory_size") {
		cfg.MemorySize = raw.App.MemorySize
	}

	if meta.IsDefined("dictionary") {
		cfg.Dictionary = raw.Dictionary
	}
	return cfg, nil
}

func normalize(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}

func (c Config) Validate() error {
	if err := c.Target.Validate(); err != nil {
		return err
	}
	if err := c.Link.Validate(); err != nil {
		return err
	}
	if c.TXBytes <= 0 || c.RXBytes <= 0 {
		return fmt.Errorf("%w: tx_bytes and rx_bytes must be positive", ErrInvalid)
	}
	if c.MemorySize < 0 {
		return fmt.Errorf("%w: negative app.memory_size", ErrInvalid)
	}
	for _, raw := range c.GlobalFilter {
		if _, err := filter.ParseGlobal(raw); err != nil {
			return fmt.Errorf("filter.global: %w", err)
		}
	}
	for _, raw := range c.LocalFilter {
		if _, err := filter.ParseLocal(raw); err != nil {
			return fmt.Errorf("filter.local: %w", err)
		}
	}
	if _, err := c.Entries(); err != nil {
		return err
	}
	return nil
}

// ApplyFilters runs the configured filter operations in order.
func (c Config) ApplyFilters(fs *filter.Set) error {
	for _, raw := range c.GlobalFilter {
		v, err := filter.ParseGlobal(raw)
		if err != nil {
			return err
		}
		if err := fs.SetGlobal(v); err != nil {
			return err
		}
	}
	for _, raw := range c.LocalFilter {
		v, err := filter.ParseLocal(raw)
		if err != nil {
			return err
		}
		if err := fs.SetLocal(v); err != nil {
			return err
		}
	}
	return nil
}

var keyKinds = map[string]dictionary.KeyKind{
	"signal":   dictionary.KeySignal,
	"object":   dictionary.KeyObject,
	"function": dictionary.KeyFunction,
	"user":     dictionary.KeyUser,
	"enum":     dictionary.KeyEnum,
}

// Entries converts the declared dictionary into registry entries.
func (c Config) Entries() ([]dictionary.Entry, error) {
	out := make([]dictionary.Entry, 0, len(c.Dictionary))
	for i, e := range c.Dictionary {
		kind, ok := keyKinds[strings.ToLower(strings.TrimSpace(e.Kind))]
		if !ok {
			return nil, fmt.Errorf("%w: dictionary[%d] kind %q", ErrInvalid, i, e.Kind)
		}
		if strings.TrimSpace(e.Name) == "" {
			return nil, fmt.Errorf("%w: dictionary[%d] missing name", ErrInvalid, i)
		}
		if kind == dictionary.KeyUser && (e.Key > 0xFF || !protocol.Kind(e.Key).IsUser()) {
			return nil, fmt.Errorf("%w: dictionary[%d] user kind %d out of range", ErrInvalid, i, e.Key)
		}
		out = append(out, dictionary.Entry{Kind: kind, Key: e.Key, Scope: e.Scope, Name: e.Name})
	}
	return out, nil
}
