package host

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/tracectl/internal/dictionary"
	"github.com/danmuck/tracectl/internal/filter"
	"github.com/danmuck/tracectl/internal/protocol"
	"github.com/danmuck/tracectl/internal/protocol/frame"
	"github.com/danmuck/tracectl/internal/testutil/testlog"
	"github.com/danmuck/tracectl/internal/trace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readAll(t *testing.T, d *Decoder) []protocol.Description {
	t.Helper()
	var out []protocol.Description
	for {
		desc, err := d.Next()
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		out = append(out, desc)
	}
}

func TestDecoderResolvesNames(t *testing.T) {
	testlog.Start(t)
	const obj, fun uint64 = 0x2000_0010, 0x0800_0400
	kind := protocol.UserKind(0, 0)

	tx, err := trace.New(make([]byte, 2048), filter.New(nil), trace.DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, tx.Filter().SetGlobal(int16(protocol.GroupAll)))
	dict := dictionary.New(tx, dictionary.DefaultConfig())
	require.NoError(t, dict.RegisterSignal(4, obj, "TIMEOUT_SIG"))
	require.NoError(t, dict.RegisterSignal(5, 0, "ANY_SIG"))
	require.NoError(t, dict.RegisterObject(obj, "l_blinky"))
	require.NoError(t, dict.RegisterFunction(fun, "Blinky_on"))
	require.NoError(t, dict.RegisterUser(kind, "BLINK"))
	require.NoError(t, dict.RegisterEnum(1, 2, "MODE_SLOW"))
	tx.Begin(kind, 3).Obj(obj).Fun(fun).Sig(4, obj).Sig(5, obj).Enum(1, 2).U8(9).End()

	buf := make([]byte, 2048)
	d := NewDecoder(bytes.NewReader(buf[:tx.GetBlock(buf)]), tx.Sizes(), frame.DefaultLimits())
	got := readAll(t, d)
	require.Len(t, got, 7)

	last := got[6]
	assert.Equal(t, "BLINK", last.Kind)
	assert.Equal(t, uint8(3), last.Originator)
	assert.Equal(t, []any{"l_blinky", "Blinky_on", "TIMEOUT_SIG", "ANY_SIG", "MODE_SLOW", uint64(9)}, last.Fields)

	name, ok := d.Name(protocol.KindFunDict, fun, 0)
	assert.True(t, ok)
	assert.Equal(t, "Blinky_on", name)
	assert.Equal(t, 7, d.Records)
	assert.Zero(t, d.Gaps)
}

func TestDecoderAdoptsTargetSizes(t *testing.T) {
	testlog.Start(t)
	wide := protocol.Sizes{Signal: 2, ObjPtr: 8, FunPtr: 4, Time: 4}
	info := protocol.AppendTargetInfo(nil, protocol.TargetInfo{
		Version: 800,
		Sizes:   wide,
		Build:   time.Date(2026, time.January, 2, 3, 4, 5, 0, time.UTC),
	})

	var stream []byte
	stream = frame.Encode(stream, protocol.EncodeRecord(protocol.Record{Seq: 1, Kind: protocol.KindTargetInfo, Payload: info}, wide))
	stream = frame.Encode(stream, protocol.EncodeRecord(protocol.Record{
		Seq:     2,
		Kind:    protocol.KindUser,
		Payload: protocol.AppendFields(nil, wide, 0, protocol.Obj(0x1122_3344_5566_7788)),
	}, wide))

	d := NewDecoder(bytes.NewReader(stream), protocol.DefaultSizes(), frame.DefaultLimits())
	got := readAll(t, d)
	require.Len(t, got, 2)
	assert.Equal(t, wide, d.Sizes())
	assert.Equal(t, []any{"0x1122334455667788"}, got[1].Fields)
}

func TestDecoderCountsGapsAndSkips(t *testing.T) {
	testlog.Start(t)
	sz := protocol.DefaultSizes()
	good := func(seq uint8) []byte {
		return protocol.EncodeRecord(protocol.Record{Seq: seq, Kind: protocol.KindRxStatus, Payload: []byte{0}}, sz)
	}
	corrupt := good(3)
	corrupt[1] ^= 0x10
	undecodable := protocol.EncodeRecord(protocol.Record{Seq: 6, Kind: protocol.KindUser, Payload: []byte{0x0F}}, sz)

	var stream []byte
	for _, f := range [][]byte{good(1), good(2), corrupt, good(5), undecodable, good(7)} {
		stream = frame.Encode(stream, f)
	}

	d := NewDecoder(bytes.NewReader(stream), sz, frame.DefaultLimits())
	got := readAll(t, d)
	seqs := make([]uint8, 0, len(got))
	for _, g := range got {
		seqs = append(seqs, g.Seq)
	}
	assert.Equal(t, []uint8{1, 2, 5, 7}, seqs)
	assert.Equal(t, 5, d.Records)
	assert.Equal(t, 2, d.Skipped)
	assert.Equal(t, 1, d.Gaps)
}

func TestParseFormat(t *testing.T) {
	testlog.Start(t)
	for raw, want := range map[string]Format{"": FormatText, "TEXT": FormatText, " yaml": FormatYAML, "json": FormatJSON} {
		got, err := ParseFormat(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got)
	}
	_, err := ParseFormat("xml")
	assert.Error(t, err)
}

func TestWriterFormats(t *testing.T) {
	testlog.Start(t)
	d := protocol.Description{
		Seq:   1,
		Kind:  "RX_STATUS",
		Time:  5,
		Attrs: []protocol.Attr{{Key: "status", Value: "ack:INFO"}},
	}

	var text bytes.Buffer
	w := NewWriter(&text, FormatText)
	require.NoError(t, w.Write(d))
	require.NoError(t, w.Write(protocol.Description{Seq: 2, Kind: "USER_100", Originator: 4, Fields: []any{uint64(7), "ok", []byte{1, 2}}}))
	require.NoError(t, w.Close())
	lines := strings.Split(strings.TrimSpace(text.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "001 0000000005 RX_STATUS"+strings.Repeat(" ", 10)+"status=ack:INFO", lines[0])
	assert.Equal(t, "002 0000000000 USER_100"+strings.Repeat(" ", 11)+"id=4 7 ok [01 02]", lines[1])

	var js bytes.Buffer
	w = NewWriter(&js, FormatJSON)
	require.NoError(t, w.Write(d))
	require.NoError(t, w.Close())
	assert.JSONEq(t, `{"seq":1,"kind":"RX_STATUS","originator":0,"time":5,"attrs":[{"key":"status","value":"ack:INFO"}]}`, js.String())

	var ym bytes.Buffer
	w = NewWriter(&ym, FormatYAML)
	require.NoError(t, w.Write(d))
	require.NoError(t, w.Close())
	assert.Contains(t, ym.String(), "kind: RX_STATUS")
	assert.Contains(t, ym.String(), "key: status")
}
