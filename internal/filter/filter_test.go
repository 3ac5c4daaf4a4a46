package filter

import (
	"errors"
	"sync"
	"testing"

	"github.com/danmuck/tracectl/internal/crit"
	"github.com/danmuck/tracectl/internal/protocol"
	"github.com/danmuck/tracectl/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	testlog.Start(t)
	s := New(nil)

	assert.True(t, s.Accepts(protocol.Kind(3), 200))
	assert.True(t, s.Accepts(protocol.KindRxStatus, 0))
	assert.False(t, s.Accepts(protocol.KindTran, 0))
	assert.False(t, s.Accepts(protocol.KindUser, 0))
	assert.Equal(t, Bits, s.Local().Count())
	assert.Equal(t, 10+17, s.Global().Count())
}

func TestSetGlobalGroupAndKind(t *testing.T) {
	testlog.Start(t)
	s := New(crit.NewSpin())

	require.NoError(t, s.SetGlobal(int16(protocol.GroupSM)))
	for k := protocol.KindStateEntry; k <= protocol.KindUnhandled; k++ {
		assert.True(t, s.AcceptsKind(k), k.String())
	}
	assert.False(t, s.AcceptsKind(protocol.KindAOPost))

	require.NoError(t, s.SetGlobal(int16(protocol.KindAOPost)))
	assert.True(t, s.AcceptsKind(protocol.KindAOPost))

	require.NoError(t, s.SetGlobal(-int16(protocol.KindTran)))
	assert.False(t, s.AcceptsKind(protocol.KindTran))
	assert.True(t, s.AcceptsKind(protocol.KindDispatch))

	require.NoError(t, s.SetGlobal(int16(protocol.GroupU2)))
	assert.True(t, s.AcceptsKind(protocol.UserKind(2, 0)))
	assert.True(t, s.AcceptsKind(protocol.UserKind(2, 4)))
	assert.False(t, s.AcceptsKind(protocol.UserKind(3, 0)))

	require.NoError(t, s.SetGlobal(int16(protocol.GroupAO)))
	assert.True(t, s.AcceptsKind(protocol.KindAODeferAttempt))
	assert.False(t, s.AcceptsKind(protocol.KindSemTake))
}

func TestSetGlobalIsIdempotent(t *testing.T) {
	testlog.Start(t)
	s := New(nil)
	require.NoError(t, s.SetGlobal(int16(protocol.GroupTE)))
	once := s.Global()
	require.NoError(t, s.SetGlobal(int16(protocol.GroupTE)))
	assert.Equal(t, once, s.Global())

	require.NoError(t, s.SetGlobal(-int16(protocol.GroupTE)))
	cleared := s.Global()
	require.NoError(t, s.SetGlobal(-int16(protocol.GroupTE)))
	assert.Equal(t, cleared, s.Global())
}

func TestPinnedBands(t *testing.T) {
	testlog.Start(t)
	s := New(nil)

	require.NoError(t, s.SetGlobal(-int16(protocol.GroupAll)))
	assert.True(t, s.AcceptsKind(protocol.Kind(7)))
	assert.True(t, s.AcceptsKind(protocol.KindTargetDone))
	assert.False(t, s.AcceptsKind(protocol.KindSemTake))

	require.NoError(t, s.SetGlobal(-int16(protocol.KindRxStatus)))
	assert.True(t, s.AcceptsKind(protocol.KindRxStatus))

	s.ReplaceGlobal(Mask{})
	assert.True(t, s.AcceptsKind(protocol.Kind(0)))
	assert.True(t, s.AcceptsKind(protocol.KindRun))
	assert.Equal(t, 10+17, s.Global().Count())
}

func TestSingleSessionKindCanBeCleared(t *testing.T) {
	testlog.Start(t)
	s := New(nil)
	require.NoError(t, s.SetGlobal(-7))
	assert.False(t, s.Accepts(protocol.Kind(7), 3))
	assert.True(t, s.Accepts(protocol.Kind(6), 3))

	// any group operation brings the session band back
	require.NoError(t, s.SetGlobal(int16(protocol.GroupMP)))
	assert.True(t, s.Accepts(protocol.Kind(7), 3))
}

func TestLocalBands(t *testing.T) {
	testlog.Start(t)
	s := New(nil)

	require.NoError(t, s.SetLocal(-int16(protocol.LocalGroupAll)))
	assert.Equal(t, 0, s.Local().Count())

	require.NoError(t, s.SetLocal(int16(protocol.LocalGroupEP)))
	assert.True(t, s.Accepts(protocol.Kind(1), protocol.BandEPStart))
	assert.True(t, s.Accepts(protocol.Kind(1), protocol.BandEQStart-1))
	assert.False(t, s.Accepts(protocol.Kind(1), protocol.BandEQStart))

	require.NoError(t, s.SetLocal(5))
	assert.True(t, s.Accepts(protocol.Kind(1), 5))
	require.NoError(t, s.SetLocal(-5))
	assert.False(t, s.Accepts(protocol.Kind(1), 5))

	s.ReplaceLocal(MaskOf(1, 200))
	assert.Equal(t, 2, s.Local().Count())
	assert.True(t, s.Accepts(protocol.Kind(1), 200))
}

func TestUnknownGroupsAreRejected(t *testing.T) {
	testlog.Start(t)
	s := New(nil)
	before := s.Local()

	assert.ErrorIs(t, s.SetLocal(0x90), ErrUnknownGroup)
	assert.ErrorIs(t, s.SetGlobal(0x100), ErrUnknownGroup)
	assert.ErrorIs(t, s.SetGlobal(-0x100), ErrUnknownGroup)
	assert.Equal(t, before, s.Local())
}

func TestParseNames(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		raw    string
		global bool
		want   int16
	}{
		{"ALL", true, int16(protocol.GroupAll)},
		{"-te", true, -int16(protocol.GroupTE)},
		{" U3 ", true, int16(protocol.GroupU3)},
		{"15", true, 15},
		{"0x0A", true, 10},
		{"ep", false, int16(protocol.LocalGroupEP)},
		{"-AP", false, -int16(protocol.LocalGroupAP)},
		{"-7", false, -7},
	}
	for _, tc := range cases {
		var got int16
		var err error
		if tc.global {
			got, err = ParseGlobal(tc.raw)
		} else {
			got, err = ParseLocal(tc.raw)
		}
		require.NoError(t, err, tc.raw)
		assert.Equal(t, tc.want, got, tc.raw)
	}

	for _, raw := range []string{"", "NOPE", "240", "300"} {
		_, err := ParseGlobal(raw)
		assert.True(t, errors.Is(err, ErrUnknownGroup), raw)
	}
	_, err := ParseLocal("128")
	assert.ErrorIs(t, err, ErrUnknownGroup)

	for _, raw := range []string{"-0", " -0x00"} {
		_, err = ParseLocal(raw)
		assert.ErrorIs(t, err, ErrClearZero, raw)
		_, err = ParseGlobal(raw)
		assert.ErrorIs(t, err, ErrClearZero, raw)
	}
}

func TestOriginatorZeroNeedsBandClear(t *testing.T) {
	testlog.Start(t)
	s := New(nil)

	require.NoError(t, s.SetLocal(-0))
	assert.True(t, s.Accepts(protocol.KindObjDict, 0))

	require.NoError(t, s.SetLocal(-int16(protocol.LocalGroupAO)))
	assert.False(t, s.Accepts(protocol.KindObjDict, 0))
	require.NoError(t, s.SetLocal(0))
	assert.True(t, s.Accepts(protocol.KindObjDict, 0))
	assert.False(t, s.Accepts(protocol.KindObjDict, 1))
}

func TestConcurrentUpdatesAndReads(t *testing.T) {
	testlog.Start(t)
	s := New(crit.NewSpin())
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				_ = s.SetGlobal(int16(protocol.GroupSM))
				_ = s.SetLocal(int16(w))
				_ = s.Accepts(protocol.KindTran, uint8(w))
			}
		}(w)
	}
	wg.Wait()
	assert.True(t, s.Accepts(protocol.KindTran, 3))
}
