package link

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrInvalidConfig = errors.New("link: invalid config")

// BackoffConfig defines retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines how trace bytes move between a target and a host.
type Config struct {
	Address string
	// ByteRate caps outbound trace bytes per second. Zero is unlimited.
	ByteRate int
	Burst    int

	PollInterval time.Duration
	ReadBuffer   int
	WriteChunk   int
	WriteTimeout time.Duration
	DialTimeout  time.Duration
	MaxAttempts  int
	Backoff      BackoffConfig
}

func DefaultConfig() Config {
	return Config{
		Address:      "127.0.0.1:6601",
		Burst:        1024,
		PollInterval: 5 * time.Millisecond,
		ReadBuffer:   256,
		WriteChunk:   512,
		WriteTimeout: 5 * time.Second,
		DialTimeout:  5 * time.Second,
		MaxAttempts:  0,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Address) == "" {
		return fmt.Errorf("%w: address is required", ErrInvalidConfig)
	}
	if c.ByteRate < 0 || c.Burst < 0 {
		return fmt.Errorf("%w: negative rate", ErrInvalidConfig)
	}
	if c.ByteRate > 0 && c.Burst == 0 {
		return fmt.Errorf("%w: burst required with byte_rate", ErrInvalidConfig)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("%w: poll_interval must be positive", ErrInvalidConfig)
	}
	if c.ReadBuffer <= 0 || c.WriteChunk <= 0 {
		return fmt.Errorf("%w: buffer sizes must be positive", ErrInvalidConfig)
	}
	return nil
}
