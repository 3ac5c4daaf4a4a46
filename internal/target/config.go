package target

import (
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/tracectl/internal/command"
	"github.com/danmuck/tracectl/internal/dictionary"
	"github.com/danmuck/tracectl/internal/protocol"
)

var (
	ErrUnsupportedCapability = errors.New("target: unsupported capability")
	ErrInvalidConfig         = errors.New("target: invalid config")
)

// Config describes the target as announced in TARGET_INFO and bounds the
// engine's fixed storage.
type Config struct {
	Sizes   protocol.Sizes
	Version uint16

	EvtSize      uint8
	QueueCtrSize uint8
	TevtCtrSize  uint8
	PoolBlkSize  uint8
	PoolCtrSize  uint8
	MaxActive    uint8
	MaxTickRate  uint8
	BuildTime    time.Time

	MaxStringLen       int
	MaxNameLen         int
	// DictionaryCapacity bounds the name table. Zero means
	// dictionary.DefaultCapacity.
	DictionaryCapacity int
	FrameLen           int

	// MemoryIsolation requests separate system and application trace memory.
	// The engine does not provide it and refuses to start when it is set.
	MemoryIsolation bool
}

func DefaultConfig() Config {
	return Config{
		Sizes:        protocol.DefaultSizes(),
		Version:      800,
		EvtSize:      2,
		QueueCtrSize: 1,
		TevtCtrSize:  2,
		PoolBlkSize:  2,
		PoolCtrSize:  2,
		MaxActive:    32,
		MaxTickRate:  2,
		BuildTime:    time.Now().UTC(),
		MaxStringLen: 255,
		MaxNameLen:   dictionary.DefaultMaxNameLen,
		FrameLen:     command.DefaultFrameLen,

		DictionaryCapacity: dictionary.DefaultCapacity,
	}
}

func (c Config) Validate() error {
	if c.MemoryIsolation {
		return fmt.Errorf("%w: memory isolation", ErrUnsupportedCapability)
	}
	if err := c.Sizes.Validate(); err != nil {
		return err
	}
	if c.FrameLen < 3 {
		return fmt.Errorf("%w: frame_len=%d", ErrInvalidConfig, c.FrameLen)
	}
	if c.MaxStringLen < 0 || c.MaxNameLen < 0 || c.DictionaryCapacity < 0 {
		return fmt.Errorf("%w: negative limit", ErrInvalidConfig)
	}
	return nil
}
