package link

import (
	"context"
	"io"
	"math/rand"
	"net"
	"testing"
	"time"

	"github.com/danmuck/tracectl/internal/command"
	"github.com/danmuck/tracectl/internal/protocol"
	"github.com/danmuck/tracectl/internal/protocol/frame"
	"github.com/danmuck/tracectl/internal/target"
	"github.com/danmuck/tracectl/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTarget(t *testing.T) *target.Target {
	t.Helper()
	tg, err := target.New(target.DefaultConfig(), make([]byte, 4096), make([]byte, 256), target.Hooks{})
	require.NoError(t, err)
	return tg
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Address = "127.0.0.1:0"
	cfg.PollInterval = time.Millisecond
	cfg.Backoff.InitialDelay = time.Millisecond
	cfg.Backoff.Jitter = false
	return cfg
}

// waitFor reads records until one of kind arrives.
func waitFor(t *testing.T, h *Host, kind string) protocol.Description {
	t.Helper()
	dec := h.Records(protocol.DefaultSizes(), frame.DefaultLimits())
	for {
		d, err := dec.Next()
		require.NoError(t, err)
		if d.Kind == kind {
			return d
		}
	}
}

func TestNextBackoffDelay(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{InitialDelay: 100 * time.Millisecond, Multiplier: 2, MaxDelay: time.Second}

	assert.Equal(t, 100*time.Millisecond, NextBackoffDelay(cfg, 1, nil))
	assert.Equal(t, 400*time.Millisecond, NextBackoffDelay(cfg, 3, nil))
	assert.Equal(t, time.Second, NextBackoffDelay(cfg, 10, nil))

	cfg.Jitter = true
	assert.Equal(t, 200*time.Millisecond, NextBackoffDelay(cfg, 3, nil))
	d := NextBackoffDelay(cfg, 3, rand.New(rand.NewSource(1)))
	assert.GreaterOrEqual(t, d, 200*time.Millisecond)
	assert.LessOrEqual(t, d, 600*time.Millisecond)

	assert.Zero(t, NextBackoffDelay(BackoffConfig{}, 4, nil))
	assert.Equal(t, 50*time.Millisecond, NextBackoffDelay(BackoffConfig{InitialDelay: 50 * time.Millisecond, Multiplier: 0.5}, 3, nil))
}

func TestConfigValidate(t *testing.T) {
	testlog.Start(t)
	require.NoError(t, DefaultConfig().Validate())
	for name, mutate := range map[string]func(*Config){
		"address":   func(c *Config) { c.Address = " " },
		"rate":      func(c *Config) { c.ByteRate = -1 },
		"burst":     func(c *Config) { c.ByteRate = 100; c.Burst = 0 },
		"poll":      func(c *Config) { c.PollInterval = 0 },
		"buffers":   func(c *Config) { c.WriteChunk = 0 },
		"read size": func(c *Config) { c.ReadBuffer = -4 },
	} {
		cfg := DefaultConfig()
		mutate(&cfg)
		assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig, name)
	}
}

func TestPumpServesCommands(t *testing.T) {
	testlog.Start(t)
	tg := newTarget(t)
	targetSide, hostSide := net.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := testConfig()
	cfg.ByteRate = 1 << 20
	done := make(chan error, 1)
	go func() { done <- Pump(ctx, tg, targetSide, cfg) }()

	h := NewHost(hostSide)
	require.NoError(t, h.SendCommand(command.Info{}, protocol.DefaultSizes()))
	status := waitFor(t, h, "RX_STATUS")
	assert.Equal(t, "ack:INFO", status.Attrs[0].Value)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatalf("pump did not stop")
	}
}

func TestPumpStopsWhenHostLeaves(t *testing.T) {
	testlog.Start(t)
	tg := newTarget(t)
	targetSide, hostSide := net.Pipe()

	done := make(chan error, 1)
	go func() { done <- Pump(context.Background(), tg, targetSide, testConfig()) }()
	require.NoError(t, hostSide.Close())

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatalf("pump did not stop")
	}
}

func TestPutWaitsForRingSpace(t *testing.T) {
	testlog.Start(t)
	rx, err := command.New(make([]byte, 8), command.DefaultConfig())
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- put(context.Background(), rx, make([]byte, 20), time.Millisecond) }()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case err := <-errCh:
			require.NoError(t, err)
			assert.Zero(t, rx.Stats().IngressDrops)
			return
		case <-deadline:
			t.Fatalf("put never finished")
		default:
			rx.Parse(nopHandler{})
			time.Sleep(time.Millisecond)
		}
	}
}

func TestPauseWhilePumping(t *testing.T) {
	testlog.Start(t)
	tg, err := target.New(target.DefaultConfig(), make([]byte, 1<<16), make([]byte, 256), target.Hooks{})
	require.NoError(t, err)
	targetSide, hostSide := net.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pumped := make(chan error, 1)
	go func() { pumped <- Pump(ctx, tg, targetSide, testConfig()) }()
	paused := make(chan error, 1)
	go func() { paused <- tg.TestPause(ctx) }()
	require.Eventually(t, tg.Paused, 2*time.Second, time.Millisecond)

	h := NewHost(hostSide)
	acks := make(chan int, 1)
	go func() {
		dec := h.Records(protocol.DefaultSizes(), frame.DefaultLimits())
		n := 0
		for {
			d, err := dec.Next()
			if err != nil {
				acks <- n
				return
			}
			if d.Kind != "RX_STATUS" {
				continue
			}
			if d.Attrs[0].Value == "ack:TEST_CONTINUE" {
				acks <- n
				return
			}
			n++
		}
	}()

	const infos = 200
	for i := 0; i < infos; i++ {
		require.NoError(t, h.SendCommand(command.Info{}, protocol.DefaultSizes()))
	}
	require.NoError(t, h.SendCommand(command.TestContinue{}, protocol.DefaultSizes()))

	select {
	case err := <-paused:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatalf("target stayed paused")
	}
	select {
	case n := <-acks:
		assert.Equal(t, infos, n)
	case <-time.After(5 * time.Second):
		t.Fatalf("no TEST_CONTINUE status")
	}
	rx := tg.Stats().RX
	assert.Equal(t, uint64(infos+1), rx.Frames)
	assert.Zero(t, rx.ChecksumErrs)
	assert.Zero(t, rx.BadPayloads)
	assert.Zero(t, rx.Overruns)

	cancel()
	select {
	case <-pumped:
	case <-time.After(2 * time.Second):
		t.Fatalf("pump did not stop")
	}
}

type nopHandler struct{}

func (nopHandler) Handle(command.Command)                        {}
func (nopHandler) Reject(protocol.CommandID, protocol.ErrorCode) {}

func TestServerRefusesSecondHost(t *testing.T) {
	testlog.Start(t)
	tg := newTarget(t)
	srv := NewServer(tg, testConfig())
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ctx, ln) }()

	cfg := testConfig()
	cfg.Address = ln.Addr().String()
	cfg.MaxAttempts = 3
	first, err := Dial(ctx, cfg)
	require.NoError(t, err)
	defer first.Close()
	require.Eventually(t, srv.Attached, 2*time.Second, 5*time.Millisecond)

	second, err := Dial(ctx, cfg)
	require.NoError(t, err)
	defer second.Close()
	require.NoError(t, second.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = second.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)

	h := NewHost(first)
	require.NoError(t, h.SendCommand(command.Info{}, protocol.DefaultSizes()))
	waitFor(t, h, "TARGET_INFO")

	cancel()
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatalf("server did not stop")
	}
	assert.False(t, srv.Attached())
}

func TestDialGivesUp(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	cfg := testConfig()
	cfg.Address = addr
	cfg.MaxAttempts = 2
	_, err = Dial(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 attempts")

	cfg.MaxAttempts = 0
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = Dial(ctx, cfg)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	cfg.Address = ""
	_, err = Dial(context.Background(), cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
