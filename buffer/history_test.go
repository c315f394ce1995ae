package buffer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2013, 4, 19, 12, 0, 0, 0, time.UTC)

func at(slot int) time.Time {
	return t0.Add(time.Duration(slot)*time.Millisecond + 100*time.Microsecond)
}

func newHistory(t *testing.T, cfg Config) *History {
	t.Helper()
	if cfg.Cells == 0 {
		cfg.Cells = 4
	}
	if cfg.RasterWidth == 0 {
		cfg.RasterWidth = 3
	}
	if cfg.Slots == 0 {
		cfg.Slots = 10
	}
	if cfg.SlotDuration == 0 {
		cfg.SlotDuration = time.Millisecond
	}
	h, err := New(cfg, t0)
	require.NoError(t, err)
	return h
}

func allUndefined(s []Sample) bool {
	for _, v := range s {
		if v != Undefined {
			return false
		}
	}
	return true
}

func TestRing(t *testing.T) {
	r, err := NewRing(3, 2, Undefined)
	require.NoError(t, err)
	r.Row(4)[1] = 7
	assert.Equal(t, Sample(7), r.At(1, 1))
	assert.Equal(t, Sample(7), r.At(-2, 1))
	r.Fill(1, 0)
	assert.Equal(t, []Sample{0, 0}, r.Row(1))
	assert.Equal(t, []Sample{Undefined, Undefined}, r.Row(2))

	// rows must not alias each other through append
	row := append(r.Row(0), 99)
	assert.Len(t, row, 3)
	assert.Equal(t, Sample(0), r.At(1, 0))

	_, err = NewRing(0, 2, 0)
	assert.Error(t, err)
}

func TestSampleValid(t *testing.T) {
	assert.False(t, Undefined.Valid())
	assert.False(t, (Undefined + 0.5).Valid())
	assert.True(t, Sample(0).Valid())
	assert.True(t, Sample(-100).Valid())
}

func TestCommitSequenceClearsSkippedSlots(t *testing.T) {
	h := newHistory(t, Config{})
	commits := []struct {
		slot  int
		value Sample
	}{{0, 1}, {1, 2}, {4, 3}, {5, 4}, {9, 5}}

	prev := 0
	for _, c := range commits {
		require.NoError(t, h.Set(2, c.value))
		slot, err := h.Commit(at(c.slot))
		require.NoError(t, err)
		require.Equal(t, c.slot, slot)
		for s := prev + 1; s < c.slot; s++ {
			assert.True(t, allUndefined(h.Row(s)), "slot %d should be cleared", s)
		}
		assert.Equal(t, h.Immediate(), h.Row(c.slot))
		assert.Equal(t, c.value, h.Row(c.slot)[2])
		prev = c.slot
	}
	assert.Equal(t, 9, h.LastSlot())
}

func TestCommitWraps(t *testing.T) {
	h := newHistory(t, Config{GuardSlots: 1})
	require.NoError(t, h.Set(0, 1))
	for s := 0; s <= 8; s++ {
		_, err := h.Commit(at(s))
		require.NoError(t, err)
	}
	require.NoError(t, h.Set(0, 2))
	slot, err := h.Commit(at(12))
	require.NoError(t, err)
	assert.Equal(t, 2, slot)
	for _, s := range []int{9, 0, 1} {
		assert.True(t, allUndefined(h.Row(s)), "slot %d should be cleared", s)
	}
	assert.Equal(t, Sample(2), h.Row(2)[0])
	// rows not passed over are untouched
	for _, s := range []int{3, 8} {
		assert.Equal(t, Sample(1), h.Row(s)[0], "slot %d", s)
	}
}

func TestCommitWrapsWithDefaultGuard(t *testing.T) {
	h := newHistory(t, Config{})
	assert.Equal(t, 9, h.Guard())
	require.NoError(t, h.Set(0, 1))
	for s := 0; s <= 8; s++ {
		_, err := h.Commit(at(s))
		require.NoError(t, err)
	}
	require.NoError(t, h.Set(0, 2))
	slot, err := h.Commit(at(12))
	require.NoError(t, err)
	assert.Equal(t, 2, slot)
	for _, s := range []int{9, 0, 1} {
		assert.True(t, allUndefined(h.Row(s)), "slot %d should be cleared", s)
	}
	assert.Equal(t, Sample(2), h.Row(2)[0])
	assert.Equal(t, Sample(1), h.Row(3)[0])
}

func TestCommitAfterManyLaps(t *testing.T) {
	h := newHistory(t, Config{})
	require.NoError(t, h.Set(0, 1))
	for s := 0; s < 10; s++ {
		_, err := h.Commit(at(s))
		require.NoError(t, err)
	}
	// exactly three laps later: same row, everything else cleared
	require.NoError(t, h.Set(0, 4))
	slot, err := h.Commit(at(39))
	require.NoError(t, err)
	assert.Equal(t, 9, slot)
	for s := 0; s < 9; s++ {
		assert.True(t, allUndefined(h.Row(s)), "slot %d", s)
	}
	assert.Equal(t, Sample(4), h.Row(9)[0])
}

func TestGapOfAlmostWholeRing(t *testing.T) {
	h := newHistory(t, Config{GuardSlots: 1})
	require.NoError(t, h.Set(0, 1))
	for s := 0; s < 10; s++ {
		_, err := h.Commit(at(s))
		require.NoError(t, err)
	}
	require.NoError(t, h.Set(0, 5))
	slot, err := h.Commit(at(9 + 9))
	require.NoError(t, err)
	assert.Equal(t, 8, slot)
	for s := 0; s < 8; s++ {
		assert.True(t, allUndefined(h.Row(s)), "slot %d", s)
	}
	assert.Equal(t, Sample(5), h.Row(8)[0])
	// still inside the window
	assert.Equal(t, Sample(1), h.Row(9)[0])
}

func TestGuardBandAbsorbsSmallDrops(t *testing.T) {
	h := newHistory(t, Config{GuardSlots: 5})
	require.NoError(t, h.Set(0, 1))
	for s := 0; s <= 8; s++ {
		_, err := h.Commit(at(s))
		require.NoError(t, err)
	}
	// widening the window moves the same instant to an earlier slot
	require.NoError(t, h.SetWindow(20*time.Millisecond, 10))
	slot, err := h.Commit(at(8))
	require.NoError(t, err)
	assert.Equal(t, 4, slot)
	for s := 0; s <= 8; s++ {
		assert.Equal(t, Sample(1), h.Row(s)[0], "slot %d", s)
	}
}

func TestLargeDropClearsRing(t *testing.T) {
	h := newHistory(t, Config{GuardSlots: 2})
	require.NoError(t, h.Set(0, 1))
	for s := 0; s <= 8; s++ {
		_, err := h.Commit(at(s))
		require.NoError(t, err)
	}
	require.NoError(t, h.SetWindow(20*time.Millisecond, 10))
	slot, err := h.Commit(at(8))
	require.NoError(t, err)
	assert.Equal(t, 4, slot)
	for s := 0; s < 10; s++ {
		if s != 4 {
			assert.True(t, allUndefined(h.Row(s)), "slot %d", s)
		}
	}
	assert.Equal(t, Sample(1), h.Row(4)[0])
}

func TestWindowShowsQuietSlotsAsCleared(t *testing.T) {
	h := newHistory(t, Config{Slots: 20})
	require.NoError(t, h.Set(0, 1))
	for s := 0; s < 20; s++ {
		_, err := h.Commit(at(s))
		require.NoError(t, err)
	}
	w := h.Window(at(19), 10)
	require.Len(t, w, 10)
	for i, row := range w {
		assert.Equal(t, Sample(1), row[0], "row %d", i)
	}

	// nothing has arrived for 15 slots; the previous lap is not current data
	for i, row := range h.Window(at(34), 10) {
		assert.True(t, allUndefined(row), "row %d", i)
	}
	// part of the window still holds the last writes
	w = h.Window(at(22), 10)
	for i := 0; i < 7; i++ {
		assert.Equal(t, Sample(1), w[i][0], "row %d", i)
	}
	for i := 7; i < 10; i++ {
		assert.True(t, allUndefined(w[i]), "row %d", i)
	}
	// the raw ring is untouched until the next commit
	assert.Equal(t, Sample(1), h.Row(14)[0])
	assert.Len(t, h.RasterWindow(at(34), 10), 10)
	assert.True(t, allUndefined(h.RasterWindow(at(34), 10)[9]))
}

func TestWindowBeforeFirstLap(t *testing.T) {
	h := newHistory(t, Config{})
	require.NoError(t, h.Set(0, 3))
	_, err := h.Commit(at(1))
	require.NoError(t, err)
	w := h.Window(at(1), 4)
	require.Len(t, w, 4)
	assert.True(t, allUndefined(w[0]), "before the clock started")
	assert.True(t, allUndefined(w[1]))
	assert.True(t, allUndefined(w[2]), "slot 0 was cleared, never written")
	assert.Equal(t, Sample(3), w[3][0])
	assert.Len(t, h.Window(at(1), 50), 10)
}

func TestInitZero(t *testing.T) {
	h := newHistory(t, Config{InitZero: true})
	assert.Equal(t, Sample(0), h.Default())
	assert.Equal(t, []Sample{0, 0, 0, 0}, h.Immediate())
	require.NoError(t, h.Add(1, 2))
	_, err := h.Commit(at(3))
	require.NoError(t, err)
	assert.Equal(t, []Sample{0, 0, 0, 0}, h.Row(2))
}

func TestAddTreatsUndefinedAsZero(t *testing.T) {
	h := newHistory(t, Config{})
	require.NoError(t, h.Add(3, 1))
	require.NoError(t, h.Add(3, 1))
	v, err := h.Value(3)
	require.NoError(t, err)
	assert.Equal(t, Sample(2), v)
}

func TestIntegrate(t *testing.T) {
	h := newHistory(t, Config{})
	require.NoError(t, h.Integrate(0, 1, 0.5))
	v, _ := h.Value(0)
	assert.Equal(t, Sample(1), v)

	_, err := h.Commit(at(0))
	require.NoError(t, err)
	_, err = h.Advance(at(1))
	require.NoError(t, err)
	require.NoError(t, h.Integrate(0, 1, 0.5))
	v, _ = h.Value(0)
	assert.Equal(t, Sample(1.5), v)
}

func TestOutOfRange(t *testing.T) {
	h := newHistory(t, Config{})
	before := h.Immediate()
	assert.ErrorIs(t, h.Set(4, 1), ErrOutOfRange)
	assert.ErrorIs(t, h.Add(-1, 1), ErrOutOfRange)
	assert.ErrorIs(t, h.Spike(3), ErrOutOfRange)
	assert.ErrorIs(t, h.Store(10), ErrOutOfRange)
	_, err := h.Value(9)
	assert.ErrorIs(t, err, ErrOutOfRange)
	assert.Equal(t, before, h.Immediate())
}

func TestRasterTallyPerSlot(t *testing.T) {
	h := newHistory(t, Config{})
	_, err := h.Advance(at(0))
	require.NoError(t, err)
	require.NoError(t, h.Spike(1))
	require.NoError(t, h.Spike(1))
	require.NoError(t, h.Store(0))
	assert.Equal(t, []Sample{0, 2, 0}, h.RasterRow(0))

	// same slot keeps counting
	_, err = h.Advance(at(0))
	require.NoError(t, err)
	require.NoError(t, h.Spike(1))
	_, err = h.Commit(at(0))
	require.NoError(t, err)
	assert.Equal(t, []Sample{0, 3, 0}, h.RasterRow(0))

	// new slot starts over
	_, err = h.Advance(at(2))
	require.NoError(t, err)
	require.NoError(t, h.Spike(0))
	require.NoError(t, h.Store(2))
	assert.Equal(t, []Sample{1, 0, 0}, h.RasterRow(2))
	assert.True(t, allUndefined(h.RasterRow(1)))
}

func TestFreezeThaw(t *testing.T) {
	h := newHistory(t, Config{})
	_, err := h.Commit(at(2))
	require.NoError(t, err)

	h.Freeze(at(3))
	h.Freeze(at(5)) // already frozen
	assert.True(t, h.Frozen())
	assert.Equal(t, at(3), h.Clock(at(7)))
	assert.Equal(t, 3, h.Slot(at(7)))
	assert.ErrorIs(t, h.Set(0, 1), ErrFrozen)
	assert.ErrorIs(t, h.Spike(0), ErrFrozen)
	slot, err := h.Commit(at(7))
	assert.ErrorIs(t, err, ErrFrozen)
	assert.Equal(t, 2, slot)
	assert.True(t, allUndefined(h.Immediate()))

	// four slots frozen: time at(9) is slot 5 on the thawed clock
	h.Thaw(at(7))
	assert.False(t, h.Frozen())
	assert.Equal(t, at(9), h.Clock(at(9)))
	slot, err = h.Commit(at(9))
	require.NoError(t, err)
	assert.Equal(t, 5, slot)
	assert.Equal(t, 5*time.Millisecond+100*time.Microsecond, h.Elapsed(at(9)))
}

func TestReset(t *testing.T) {
	h := newHistory(t, Config{})
	require.NoError(t, h.Set(0, 1))
	_, err := h.Commit(at(4))
	require.NoError(t, err)
	h.Reset(at(6))
	assert.Equal(t, 0, h.LastSlot())
	assert.True(t, allUndefined(h.Row(4)))
	assert.True(t, allUndefined(h.Immediate()))
	assert.Equal(t, 0, h.Slot(at(6)))
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New(Config{Cells: 4, Slots: 10}, t0)
	assert.Error(t, err)
	_, err = New(Config{Cells: 0, Slots: 10, SlotDuration: time.Millisecond}, t0)
	assert.Error(t, err)
	h := newHistory(t, Config{})
	assert.Error(t, h.SetWindow(time.Microsecond, 10))
	assert.Equal(t, time.Millisecond, h.SlotDuration())
	assert.Equal(t, 4, h.Cells())
	assert.Equal(t, 3, h.RasterWidth())
	assert.Equal(t, 10, h.Slots())
	assert.Equal(t, []Sample{0, 0, 0}, h.Tally())
}
