// Package dictionary maps runtime ids to names and publishes the mapping as
// trace records so a host can label what it decodes.
package dictionary

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/danmuck/tracectl/internal/protocol"
	"github.com/danmuck/tracectl/internal/trace"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultMaxNameLen bounds a registered name.
	DefaultMaxNameLen = 64
	// DefaultCapacity bounds the number of entries.
	DefaultCapacity = 512
)

var (
	ErrFull        = errors.New("dictionary: registry full")
	ErrUnknownKind = errors.New("dictionary: unknown key kind")
	ErrEmptyName   = errors.New("dictionary: empty name")
)

// KeyKind says what a dictionary key identifies.
type KeyKind uint8

const (
	KeySignal KeyKind = iota
	KeyObject
	KeyFunction
	KeyUser
	KeyEnum
)

func (k KeyKind) String() string {
	switch k {
	case KeySignal:
		return "signal"
	case KeyObject:
		return "object"
	case KeyFunction:
		return "function"
	case KeyUser:
		return "user"
	case KeyEnum:
		return "enum"
	default:
		return fmt.Sprintf("key_%d", uint8(k))
	}
}

// RecordKind returns the trace record kind that carries entries of k.
func (k KeyKind) RecordKind() (protocol.Kind, bool) {
	switch k {
	case KeySignal:
		return protocol.KindSigDict, true
	case KeyObject:
		return protocol.KindObjDict, true
	case KeyFunction:
		return protocol.KindFunDict, true
	case KeyUser:
		return protocol.KindUsrDict, true
	case KeyEnum:
		return protocol.KindEnumDict, true
	default:
		return 0, false
	}
}

// Entry is one name binding. Scope qualifies the key: the object address of a
// signal entry, or the group of an enum entry.
type Entry struct {
	Kind  KeyKind
	Key   uint64
	Scope uint64
	Name  string
}

type entryKey struct {
	kind  KeyKind
	key   uint64
	scope uint64
}

type Config struct {
	MaxNameLen int
	// Capacity limits the number of entries. Zero means DefaultCapacity.
	// The table is sized once in New.
	Capacity int
}

func DefaultConfig() Config {
	return Config{MaxNameLen: DefaultMaxNameLen, Capacity: DefaultCapacity}
}

// Registry holds the current bindings. Registration runs in task context.
type Registry struct {
	mu      sync.RWMutex
	entries map[entryKey]Entry
	tx      *trace.Channel
	cfg     Config
}

func New(tx *trace.Channel, cfg Config) *Registry {
	if cfg.MaxNameLen <= 0 {
		cfg.MaxNameLen = DefaultMaxNameLen
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	return &Registry{
		entries: make(map[entryKey]Entry, cfg.Capacity),
		tx:      tx,
		cfg:     cfg,
	}
}

// Register stores or overwrites a binding and emits it.
func (r *Registry) Register(e Entry) error {
	if _, ok := e.Kind.RecordKind(); !ok {
		return fmt.Errorf("%w: %d", ErrUnknownKind, e.Kind)
	}
	e.Name = protocol.ClampString(e.Name, r.cfg.MaxNameLen)
	if e.Name == "" {
		return ErrEmptyName
	}
	k := entryKey{kind: e.Kind, key: e.Key, scope: e.Scope}

	r.mu.Lock()
	prev, exists := r.entries[k]
	if !exists && len(r.entries) >= r.cfg.Capacity {
		r.mu.Unlock()
		return fmt.Errorf("%w: capacity=%d", ErrFull, r.cfg.Capacity)
	}
	r.entries[k] = e
	r.mu.Unlock()

	if exists && prev.Name != e.Name {
		log.Debug().Msgf("dictionary.Register overwrite kind=%s key=0x%X old=%q new=%q", e.Kind, e.Key, prev.Name, e.Name)
	}
	r.emit(e)
	return nil
}

func (r *Registry) RegisterSignal(sig uint32, obj uint64, name string) error {
	return r.Register(Entry{Kind: KeySignal, Key: uint64(sig), Scope: obj, Name: name})
}

func (r *Registry) RegisterObject(addr uint64, name string) error {
	return r.Register(Entry{Kind: KeyObject, Key: addr, Name: name})
}

// RegisterObjectArray names element idx of an object array as name[idx].
func (r *Registry) RegisterObjectArray(addr uint64, idx int, name string) error {
	return r.RegisterObject(addr, fmt.Sprintf("%s[%d]", name, idx))
}

func (r *Registry) RegisterFunction(addr uint64, name string) error {
	return r.Register(Entry{Kind: KeyFunction, Key: addr, Name: name})
}

func (r *Registry) RegisterUser(kind protocol.Kind, name string) error {
	return r.Register(Entry{Kind: KeyUser, Key: uint64(kind), Name: name})
}

func (r *Registry) RegisterEnum(group, value uint8, name string) error {
	return r.Register(Entry{Kind: KeyEnum, Key: uint64(value), Scope: uint64(group), Name: name})
}

// Lookup returns the name bound to (kind, key, scope).
func (r *Registry) Lookup(kind KeyKind, key, scope uint64) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[entryKey{kind: kind, key: key, scope: scope}]
	return e.Name, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Entries returns every binding ordered by kind, key and scope.
func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		if a.Key != b.Key {
			return a.Key < b.Key
		}
		return a.Scope < b.Scope
	})
	return out
}

// DumpAll re-emits every binding and returns how many were emitted.
func (r *Registry) DumpAll() int {
	entries := r.Entries()
	for _, e := range entries {
		r.emit(e)
	}
	log.Debug().Msgf("dictionary.DumpAll entries=%d", len(entries))
	return len(entries)
}

// emit publishes e with originator 0, so the local filter can mask
// dictionary traffic while the kind itself is never masked globally.
func (r *Registry) emit(e Entry) {
	if r.tx == nil {
		return
	}
	kind, _ := e.Kind.RecordKind()
	rec := r.tx.Begin(kind, 0)
	if !rec.Recording() {
		return
	}
	switch e.Kind {
	case KeySignal:
		rec.RawSignal(uint32(e.Key)).RawObj(e.Scope)
	case KeyObject:
		rec.RawObj(e.Key)
	case KeyFunction:
		rec.RawFun(e.Key)
	case KeyUser:
		rec.RawU8(uint8(e.Key))
	case KeyEnum:
		rec.RawU8(uint8(e.Key)).RawU8(uint8(e.Scope))
	}
	rec.RawStr(e.Name).End()
}
