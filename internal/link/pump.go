// Package link moves trace and command bytes between a target and one host
// over a byte stream.
package link

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/danmuck/tracectl/internal/command"
	"github.com/danmuck/tracectl/internal/observability"
	"github.com/danmuck/tracectl/internal/target"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// Pump feeds host bytes into the command channel and drains the trace channel
// to the host until ctx is done or rw fails. It closes rw before returning. A
// clean disconnect or cancellation returns nil.
func Pump(ctx context.Context, t *target.Target, rw io.ReadWriteCloser, cfg Config) error {
	g, gctx := errgroup.WithContext(ctx)
	stop := context.AfterFunc(gctx, func() { _ = rw.Close() })
	defer stop()

	wake := make(chan struct{}, 1)
	g.Go(func() error { return ingest(gctx, t.RX(), rw, cfg, wake) })
	g.Go(func() error { return drain(gctx, t, rw, cfg, wake) })

	err := g.Wait()
	_ = rw.Close()
	switch {
	case ctx.Err() != nil:
		return nil
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed), errors.Is(err, io.ErrClosedPipe):
		return nil
	}
	return err
}

func ingest(ctx context.Context, rx *command.Channel, r io.Reader, cfg Config, wake chan<- struct{}) error {
	buf := make([]byte, cfg.ReadBuffer)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			observability.RecordLinkBytes("rx", n)
			if perr := put(ctx, rx, buf[:n], cfg.PollInterval); perr != nil {
				return perr
			}
			select {
			case wake <- struct{}{}:
			default:
			}
		}
		if err != nil {
			return err
		}
	}
}

// put waits for ring space instead of dropping host bytes.
func put(ctx context.Context, rx *command.Channel, p []byte, poll time.Duration) error {
	for len(p) > 0 {
		free := rx.FreeBytes()
		if free == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(poll):
			}
			continue
		}
		p = p[rx.PutBlock(p[:min(free, len(p))]):]
	}
	return nil
}

func drain(ctx context.Context, t *target.Target, w io.Writer, cfg Config, wake <-chan struct{}) error {
	chunk := cfg.WriteChunk
	var limiter *rate.Limiter
	if cfg.ByteRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.ByteRate), cfg.Burst)
		chunk = min(chunk, cfg.Burst)
	}
	buf := make([]byte, chunk)
	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	for {
		t.Step()
		if n := t.TX().GetBlock(buf); n > 0 {
			if limiter != nil {
				if err := limiter.WaitN(ctx, n); err != nil {
					return err
				}
			}
			if d, ok := w.(writeDeadliner); ok && cfg.WriteTimeout > 0 {
				_ = d.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			}
			if _, err := w.Write(buf[:n]); err != nil {
				return err
			}
			observability.RecordLinkBytes("tx", n)
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wake:
		case <-ticker.C:
		}
	}
}
