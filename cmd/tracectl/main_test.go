package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/danmuck/tracectl/internal/protocol"
	"github.com/danmuck/tracectl/internal/target"
	"github.com/danmuck/tracectl/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCLI(t *testing.T, stdin []byte, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(bytes.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func capture(t *testing.T, emit func(tg *target.Target)) []byte {
	t.Helper()
	tg, err := target.New(target.DefaultConfig(), make([]byte, 1024), make([]byte, 64), target.Hooks{})
	require.NoError(t, err)
	require.NoError(t, tg.Filter().SetGlobal(int16(protocol.GroupAll)))
	emit(tg)
	buf := make([]byte, 1024)
	return append([]byte{protocol.FrameByte}, buf[:tg.TX().GetBlock(buf)]...)
}

func TestDecodeCommandResolvesNames(t *testing.T) {
	testlog.Start(t)
	stream := capture(t, func(tg *target.Target) {
		require.NoError(t, tg.Dictionary().RegisterUser(protocol.UserKind(0, 0), "HEARTBEAT"))
		require.NoError(t, tg.Dictionary().RegisterFunction(heartbeatFun, "demo_heartbeat"))
		tg.TX().Begin(protocol.UserKind(0, 0), 0).U32(7).Fun(heartbeatFun).End()
	})

	out, err := runCLI(t, stream, "decode")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "USR_DICT")
	assert.Contains(t, lines[2], "HEARTBEAT")
	assert.Contains(t, lines[2], "7 demo_heartbeat")
}

func TestDecodeCommandYAML(t *testing.T) {
	testlog.Start(t)
	stream := capture(t, func(tg *target.Target) {
		tg.AnnounceInfo(false)
	})
	path := filepath.Join(t.TempDir(), "trace.bin")
	require.NoError(t, os.WriteFile(path, stream, 0o600))

	out, err := runCLI(t, nil, "decode", "--format", "yaml", path)
	require.NoError(t, err)
	assert.Contains(t, out, "kind: TARGET_INFO")
	assert.Contains(t, out, "key: version")
}

func TestConfigInitAndValidate(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "tracectl.toml")
	out, err := runCLI(t, nil, "config", "init", "-o", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)

	out, err = runCLI(t, nil, "--config", path, "config", "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "validated")

	_, err = runCLI(t, nil, "config", "validate")
	assert.Error(t, err)
}

func TestDemoAppHooks(t *testing.T) {
	testlog.Start(t)
	app := newDemoApp(target.NewFlatMemory(appObject, 16))
	tg, err := target.New(target.DefaultConfig(), make([]byte, 1024), make([]byte, 64), app.hooks())
	require.NoError(t, err)
	app.t = tg
	require.NoError(t, tg.Filter().SetGlobal(int16(protocol.GroupUA)))
	require.NoError(t, app.register())

	require.NoError(t, tg.Probes().Inject(heartbeatFun, 42))
	before := tg.TX().Stats().Records
	app.beat()
	// heartbeat plus the probe report
	assert.Equal(t, before+2, tg.TX().Stats().Records)
	assert.Equal(t, 0, tg.Probes().Pending())
	assert.Equal(t, uint32(1), app.beats.Load())
}
