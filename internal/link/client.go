package link

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"time"

	"github.com/danmuck/tracectl/internal/command"
	"github.com/danmuck/tracectl/internal/host"
	"github.com/danmuck/tracectl/internal/protocol"
	"github.com/danmuck/tracectl/internal/protocol/frame"
	"github.com/rs/zerolog/log"
)

// Dial connects to a target, retrying with backoff until ctx is done or
// MaxAttempts is reached. Zero MaxAttempts retries forever.
func Dial(ctx context.Context, cfg Config) (net.Conn, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	d := net.Dialer{Timeout: cfg.DialTimeout}
	for attempt := 1; ; attempt++ {
		conn, err := d.DialContext(ctx, "tcp", cfg.Address)
		if err == nil {
			log.Debug().Msgf("link.Dial connected addr=%q attempt=%d", cfg.Address, attempt)
			return conn, nil
		}
		if cfg.MaxAttempts > 0 && attempt >= cfg.MaxAttempts {
			return nil, fmt.Errorf("dial %s after %d attempts: %w", cfg.Address, attempt, err)
		}
		delay := NextBackoffDelay(cfg.Backoff, attempt, rng)
		log.Warn().Msgf("link.Dial retry addr=%q attempt=%d delay=%s err=%v", cfg.Address, attempt, delay, err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
}

// Host is the host side of a link: it numbers outgoing commands and sends the
// leading delimiter once.
type Host struct {
	conn   net.Conn
	seq    uint8
	synced bool
}

func NewHost(conn net.Conn) *Host {
	return &Host{conn: conn}
}

// Send writes one command frame.
func (h *Host) Send(cmd protocol.CommandID, payload []byte) error {
	var out []byte
	if !h.synced {
		out = append(out, frame.Sync...)
	}
	h.seq++
	out = append(out, frame.EncodeCommand(h.seq, cmd, payload)...)
	if _, err := h.conn.Write(out); err != nil {
		return err
	}
	h.synced = true
	return nil
}

// SendCommand encodes and writes cmd.
func (h *Host) SendCommand(cmd command.Command, sz protocol.Sizes) error {
	payload, err := command.AppendPayload(nil, cmd, sz)
	if err != nil {
		return err
	}
	return h.Send(cmd.ID(), payload)
}

// Records returns a decoder over the target's trace stream.
func (h *Host) Records(sz protocol.Sizes, limits frame.Limits) *host.Decoder {
	return host.NewDecoder(h.conn, sz, limits)
}

func (h *Host) Close() error { return h.conn.Close() }
