package target

import (
	"errors"
	"fmt"
	"sync"
)

var ErrOutOfRange = errors.New("target: memory access out of range")

// Memory is the platform's view of addressable target memory used by peek,
// poke and fill.
type Memory interface {
	ReadAt(p []byte, addr uint64) error
	WriteAt(p []byte, addr uint64) error
}

// FlatMemory is a contiguous region starting at Base.
type FlatMemory struct {
	mu   sync.RWMutex
	Base uint64
	Data []byte
}

func NewFlatMemory(base uint64, size int) *FlatMemory {
	return &FlatMemory{Base: base, Data: make([]byte, size)}
}

func (m *FlatMemory) span(addr uint64, n int) (int, error) {
	if addr < m.Base || addr-m.Base+uint64(n) > uint64(len(m.Data)) {
		return 0, fmt.Errorf("%w: addr=0x%X len=%d", ErrOutOfRange, addr, n)
	}
	return int(addr - m.Base), nil
}

func (m *FlatMemory) ReadAt(p []byte, addr uint64) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	off, err := m.span(addr, len(p))
	if err != nil {
		return err
	}
	copy(p, m.Data[off:])
	return nil
}

func (m *FlatMemory) WriteAt(p []byte, addr uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	off, err := m.span(addr, len(p))
	if err != nil {
		return err
	}
	copy(m.Data[off:], p)
	return nil
}
