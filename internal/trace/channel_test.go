package trace

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/danmuck/tracectl/internal/crit"
	"github.com/danmuck/tracectl/internal/filter"
	"github.com/danmuck/tracectl/internal/protocol"
	"github.com/danmuck/tracectl/internal/protocol/frame"
	"github.com/danmuck/tracectl/internal/testutil/testlog"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newChannel(t *testing.T, capacity int, clock func() uint32) *Channel {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Clock = clock
	ch, err := New(make([]byte, capacity), filter.New(nil), cfg)
	require.NoError(t, err)
	return ch
}

func zeroClock() uint32 { return 0 }

func drain(ch *Channel) []byte {
	buf := make([]byte, ch.Stats().Capacity)
	return append([]byte(nil), buf[:ch.GetBlock(buf)]...)
}

func decodeAll(t *testing.T, wire []byte, sz protocol.Sizes) []protocol.Record {
	t.Helper()
	r := frame.NewReader(bytes.NewReader(wire), frame.DefaultLimits())
	var out []protocol.Record
	for {
		rec, skipped, err := r.ReadRecord(sz)
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		require.Zero(t, skipped, "corrupt frame in channel output")
		rec.Payload = append([]byte(nil), rec.Payload...)
		out = append(out, rec)
	}
}

func TestNewRejectsSmallStorage(t *testing.T) {
	testlog.Start(t)
	_, err := New(make([]byte, MinCapacity-1), nil, DefaultConfig())
	assert.ErrorIs(t, err, ErrCapacity)

	cfg := DefaultConfig()
	cfg.Sizes.Time = 3
	_, err = New(make([]byte, 64), nil, cfg)
	assert.ErrorIs(t, err, protocol.ErrInvalidSizes)
}

func TestRecordRoundTrip(t *testing.T) {
	testlog.Start(t)
	ch := newChannel(t, 256, zeroClock)

	r := ch.Begin(protocol.Kind(7), 3)
	require.True(t, r.Recording())
	r.U8(5).Str("ok").End()

	recs := decodeAll(t, drain(ch), ch.Sizes())
	require.Len(t, recs, 1)
	assert.Equal(t, protocol.Kind(7), recs[0].Kind)
	assert.Equal(t, uint8(3), recs[0].Originator)
	assert.Equal(t, uint8(1), recs[0].Seq)

	vals, err := protocol.DecodeFields(recs[0].Payload, ch.Sizes())
	require.NoError(t, err)
	require.Len(t, vals, 2)
	assert.Equal(t, uint64(5), vals[0].Uint)
	assert.Equal(t, "ok", vals[1].Str)
}

func TestFilteredRecordWritesNothing(t *testing.T) {
	testlog.Start(t)
	ch := newChannel(t, 64, zeroClock)
	require.NoError(t, ch.Filter().SetGlobal(-7))

	r := ch.Begin(protocol.Kind(7), 3)
	assert.False(t, r.Recording())
	r.U8(5).Str("ok").End()

	st := ch.Stats()
	assert.Zero(t, st.Used)
	assert.Zero(t, st.Head)
	assert.Zero(t, st.Records)
	assert.Zero(t, st.Dropped)
	assert.Zero(t, st.Seq)
}

func TestLocalFilterGatesBegin(t *testing.T) {
	testlog.Start(t)
	ch := newChannel(t, 64, zeroClock)
	require.NoError(t, ch.Filter().SetLocal(-3))

	assert.False(t, ch.Begin(protocol.Kind(7), 3).Recording())
	r := ch.BeginSession(protocol.Kind(7))
	assert.True(t, r.Recording())
	r.End()
	assert.Equal(t, uint64(1), ch.Stats().Records)
}

func TestOverflowKeepsCommittedPrefix(t *testing.T) {
	testlog.Start(t)
	ch := newChannel(t, MinCapacity, zeroClock)

	ch.Begin(protocol.Kind(1), 0).End()
	first := ch.Stats()
	require.Equal(t, 9, first.Used)

	ch.Begin(protocol.Kind(2), 0).Str(strings.Repeat("x", 20)).End()
	after := ch.Stats()
	assert.Equal(t, first.Used, after.Used)
	assert.Equal(t, first.Head, after.Head)
	assert.Equal(t, first.Seq, after.Seq)
	assert.Equal(t, uint64(1), after.Dropped)
	assert.Zero(t, after.Nest)

	// the rolled back record left the sequence untouched
	wire := drain(ch)
	ch.Begin(protocol.Kind(3), 0).End()
	wire = append(wire, drain(ch)...)

	recs := decodeAll(t, wire, ch.Sizes())
	require.Len(t, recs, 2)
	assert.Equal(t, uint8(1), recs[0].Seq)
	assert.Equal(t, protocol.Kind(1), recs[0].Kind)
	assert.Equal(t, uint8(2), recs[1].Seq)
	assert.Equal(t, protocol.Kind(3), recs[1].Kind)
}

func TestGetBlockWrapsAround(t *testing.T) {
	testlog.Start(t)
	ch := newChannel(t, MinCapacity, zeroClock)
	sz := ch.Sizes()

	ch.Begin(protocol.Kind(1), 0).End()
	drain(ch)
	ch.Begin(protocol.Kind(1), 0).End()
	require.Equal(t, 9, ch.Stats().Head+MinCapacity-ch.Stats().Tail)

	want := frame.Encode(nil, protocol.EncodeRecord(protocol.Record{Seq: 2, Kind: 1}, sz))
	b, ok := ch.GetByte()
	require.True(t, ok)
	rest := make([]byte, 4)
	n := ch.GetBlock(rest)
	require.Equal(t, 4, n)
	tail := drain(ch)

	got := append(append([]byte{b}, rest...), tail...)
	assert.Equal(t, want, got)

	_, ok = ch.GetByte()
	assert.False(t, ok)
	assert.Zero(t, ch.GetBlock(make([]byte, 8)))
	assert.Equal(t, uint64(18), ch.Stats().Drained)
}

func TestSequenceWrapsAt256(t *testing.T) {
	testlog.Start(t)
	ch := newChannel(t, 64, zeroClock)
	var last uint8
	for i := 0; i < 300; i++ {
		ch.Begin(protocol.Kind(1), 0).End()
		recs := decodeAll(t, drain(ch), ch.Sizes())
		require.Len(t, recs, 1)
		if i > 0 {
			require.Equal(t, last+1, recs[0].Seq)
		}
		last = recs[0].Seq
	}
}

func TestConcurrentProducersNeverInterleave(t *testing.T) {
	testlog.Start(t)
	ch := newChannel(t, 1<<16, nil)
	require.NoError(t, ch.Filter().SetGlobal(int16(protocol.GroupUA)))

	const workers, each = 4, 100
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < each; i++ {
				ch.Begin(protocol.UserKind(0, uint8(w)), uint8(w)).U32(uint32(w<<16 | i)).End()
			}
		}(w)
	}
	wg.Wait()

	recs := decodeAll(t, drain(ch), ch.Sizes())
	require.Len(t, recs, workers*each)
	next := make([]int, workers)
	for i, rec := range recs {
		assert.Equal(t, uint8(i+1), rec.Seq)
		vals, err := protocol.DecodeFields(rec.Payload, ch.Sizes())
		require.NoError(t, err)
		v := int(vals[0].Uint)
		w := v >> 16
		assert.Equal(t, int(rec.Originator), w)
		assert.Equal(t, next[w], v&0xFFFF, "worker %d out of order", w)
		next[w]++
	}
}

func TestBeginInSectionLeavesSectionHeld(t *testing.T) {
	testlog.Start(t)
	sec := crit.NewSpin()
	cfg := DefaultConfig()
	cfg.Section = sec
	cfg.Clock = zeroClock
	ch, err := New(make([]byte, 128), filter.New(sec), cfg)
	require.NoError(t, err)

	sec.Enter()
	r := ch.BeginInSection(protocol.Kind(2), 0)
	require.True(t, r.Recording())
	// a second record cannot open while one is in progress
	assert.False(t, ch.BeginInSection(protocol.Kind(3), 0).Recording())
	r.U16(9).End()
	assert.True(t, sec.Held())
	sec.Exit()

	st := ch.Stats()
	assert.Equal(t, uint64(1), st.Records)
	assert.Equal(t, uint64(1), st.Dropped)
	assert.Zero(t, st.Nest)
}

func TestZeroRecordIsNoop(t *testing.T) {
	testlog.Start(t)
	var r Record
	assert.False(t, r.Recording())
	r.U8(1).Str("x").RawU32(7).RawBytes([]byte{1}).End()
}

func TestStaleRecordCannotTouchNextRecord(t *testing.T) {
	testlog.Start(t)
	ch := newChannel(t, 128, zeroClock)

	first := ch.Begin(protocol.Kind(7), 3)
	first.U8(1).End()
	second := ch.Begin(protocol.Kind(7), 4)
	first.U8(0xAA).End()
	assert.Equal(t, 1, ch.Stats().Nest)
	second.U8(2).End()

	recs := decodeAll(t, drain(ch), ch.Sizes())
	require.Len(t, recs, 2)
	assert.Equal(t, uint8(4), recs[1].Originator)
	vals, err := protocol.DecodeFields(recs[1].Payload, ch.Sizes())
	require.NoError(t, err)
	require.Len(t, vals, 1)
	assert.Equal(t, uint64(2), vals[0].Uint)
}

func TestChecksumCoversLogicalBytes(t *testing.T) {
	testlog.Start(t)
	ch := newChannel(t, 64, zeroClock)
	ch.Begin(protocol.Kind(7), 3).U8(protocol.FrameByte).End()

	logical := []byte{1, 7, 3, 0, 0, 0, 0, protocol.U8(0).Format(), protocol.FrameByte}
	want := frame.Encode(nil, append(logical, protocol.Checksum(logical)))
	assert.Equal(t, want, drain(ch))
}

func TestRecordWireGolden(t *testing.T) {
	testlog.Start(t)
	ch := newChannel(t, 64, func() uint32 { return 0x7E7D0001 })
	require.NoError(t, ch.Filter().SetGlobal(int16(protocol.GroupAll)))

	ch.Begin(protocol.KindUser, 5).U8(0x7E).Str("hi").I16(-2).End()

	g := goldie.New(t, goldie.WithFixtureDir("testdata/golden"))
	g.Assert(t, "record_wire", []byte(fmt.Sprintf("% X\n", drain(ch))))
}
