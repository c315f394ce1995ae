package buffer

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrOutOfRange means a cell or neuron index is off the frame.
	ErrOutOfRange = errors.New("index out of range")
	// ErrFrozen means the history is frozen and accepts no writes.
	ErrFrozen = errors.New("history frozen")
)

// DefaultGuardSlots is the default width of the guard band used when
// the slot clock runs backwards (see History.Advance).
const DefaultGuardSlots = 500

// Config sets the shape and timing of a History.
type Config struct {
	Cells        int           // samples per frame
	RasterWidth  int           // neurons per raster row
	Slots        int           // rows in the history ring
	SlotDuration time.Duration // wall-clock time covered by one row
	InitZero     bool          // clear to 0 instead of Undefined
	GuardSlots   int           // guard band; 0 means DefaultGuardSlots, capped at Slots-1
}

// History holds the immediate frame, the raster tally and the two
// history rings.
//
// Exactly one goroutine should write (Set, Add, Integrate, Spike,
// Commit); any number may read through the copying accessors.  The
// frozen flag can be toggled from anywhere.
//
// The slot clock: the row for time now is
//
//	(now - start) / SlotDuration  mod  Slots
//
// where start is the time the History was created, moved forward by
// the length of every freeze so that time spent frozen does not
// advance the ring.
type History struct {
	mu       sync.RWMutex
	frame    []Sample      // immediate values
	tally    []Sample      // raster counts for the current slot
	rows     *Ring         // history of frame
	raster   *Ring         // history of tally
	start    time.Time     // slot clock origin
	slot     time.Duration // current slot duration
	last     int           // most recently written row
	lastN    int64         // slots elapsed at the last write, before the modulo
	def      Sample        // value of a cleared sample
	guard    int           // guard band, in slots
	frozen   atomic.Bool   // no advancement or writes while set
	freezeAt time.Time     // when frozen was set
}

// New allocates a History whose slot clock starts at start.
func New(cfg Config, start time.Time) (*History, error) {
	if cfg.Cells <= 0 || cfg.Slots <= 0 || cfg.SlotDuration < time.Microsecond {
		return nil, fmt.Errorf("buffer: bad history config %+v", cfg)
	}
	if cfg.RasterWidth <= 0 {
		cfg.RasterWidth = 1
	}
	if cfg.GuardSlots <= 0 {
		cfg.GuardSlots = DefaultGuardSlots
	}
	cfg.GuardSlots = min(cfg.GuardSlots, cfg.Slots-1)
	h := &History{
		frame: make([]Sample, cfg.Cells),
		tally: make([]Sample, cfg.RasterWidth),
		start: start,
		slot:  cfg.SlotDuration,
		def:   Undefined,
		guard: cfg.GuardSlots,
	}
	if cfg.InitZero {
		h.def = 0
	}
	var err error
	if h.rows, err = NewRing(cfg.Slots, cfg.Cells, h.def); err != nil {
		return nil, err
	}
	if h.raster, err = NewRing(cfg.Slots, cfg.RasterWidth, h.def); err != nil {
		return nil, err
	}
	fill(h.frame, h.def)
	return h, nil
}

// slotsAt returns the number of whole slots elapsed at now.  Caller
// holds mu.
func (h *History) slotsAt(now time.Time) int64 {
	n := now.Sub(h.start).Microseconds() / h.slot.Microseconds()
	return max(n, 0)
}

// slotAt returns the row for time now.  Caller holds mu.
func (h *History) slotAt(now time.Time) int {
	return int(h.slotsAt(now) % int64(h.rows.Rows()))
}

// Slot returns the row that a commit at time now would write.
func (h *History) Slot(now time.Time) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.slotAt(h.clock(now))
}

// Advance moves the ring to the slot for time now, clearing every row
// passed over since the last write and starting a new raster tally if
// the slot changed.  It returns the new slot.
//
// Slots are counted from the start of the clock, so a wrap of the ring
// is never mistaken for a step back.  The count can only drop when the
// slot duration grows (a wider display window puts the same instant in
// an earlier slot).  A drop of less than the guard band clears
// nothing; a larger one clears the whole ring.
func (h *History) Advance(now time.Time) (int, error) {
	if h.frozen.Load() {
		return h.LastSlot(), ErrFrozen
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.advance(now), nil
}

func (h *History) advance(now time.Time) int {
	n := h.slotsAt(now)
	slot := int(n % int64(h.rows.Rows()))
	switch diff := n - h.lastN; {
	case diff > 0:
		for i := int64(0); i < diff && i < int64(h.rows.Rows()); i++ {
			r := h.last + 1 + int(i)
			h.rows.Fill(r, h.def)
			h.raster.Fill(r, h.def)
		}
	case diff < 0 && -diff >= int64(h.guard):
		h.rows.FillAll(h.def)
		h.raster.FillAll(h.def)
	}
	if slot != h.last {
		fill(h.tally, 0)
	}
	h.last = slot
	h.lastN = n
	return slot
}

// Store copies the immediate frame and raster tally into row slot.
func (h *History) Store(slot int) error {
	if h.frozen.Load() {
		return ErrFrozen
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if slot < 0 || slot >= h.rows.Rows() {
		return fmt.Errorf("slot %d: %w", slot, ErrOutOfRange)
	}
	h.store(slot)
	return nil
}

func (h *History) store(slot int) {
	copy(h.rows.Row(slot), h.frame)
	copy(h.raster.Row(slot), h.tally)
}

// Commit advances to the slot for time now and stores the frame in
// it.
func (h *History) Commit(now time.Time) (int, error) {
	if h.frozen.Load() {
		return h.LastSlot(), ErrFrozen
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	slot := h.advance(now)
	h.store(slot)
	return slot, nil
}

// write applies f to cell i of the frame.
func (h *History) write(i int, f func(*Sample)) error {
	if h.frozen.Load() {
		return ErrFrozen
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if i < 0 || i >= len(h.frame) {
		return fmt.Errorf("cell %d of %d: %w", i, len(h.frame), ErrOutOfRange)
	}
	f(&h.frame[i])
	return nil
}

// Set replaces the value of cell i.
func (h *History) Set(i int, v Sample) error {
	return h.write(i, func(s *Sample) { *s = v })
}

// Add adds v to cell i; a cell with no data counts as zero.
func (h *History) Add(i int, v Sample) error {
	return h.write(i, func(s *Sample) {
		if !s.Valid() {
			*s = 0
		}
		*s += v
	})
}

// Integrate sets cell i to in plus decay times the cell's value in
// the previous slot, if that slot holds data.
func (h *History) Integrate(i int, in, decay Sample) error {
	return h.write(i, func(s *Sample) {
		past := h.rows.At(h.last-1, i)
		if !past.Valid() {
			past = 0
		}
		*s = in + past*decay
	})
}

// Spike counts one spike of neuron id in the raster tally.
func (h *History) Spike(id int) error {
	if h.frozen.Load() {
		return ErrFrozen
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if id < 0 || id >= len(h.tally) {
		return fmt.Errorf("neuron %d of %d: %w", id, len(h.tally), ErrOutOfRange)
	}
	h.tally[id]++
	return nil
}

// Freeze stops the slot clock at now and refuses writes until Thaw.
// Freezing a frozen History does nothing.
func (h *History) Freeze(now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.frozen.Load() {
		return
	}
	h.freezeAt = now
	h.frozen.Store(true)
}

// Thaw restarts the slot clock, excluding the frozen period from it.
func (h *History) Thaw(now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.frozen.Load() {
		return
	}
	h.start = h.start.Add(now.Sub(h.freezeAt))
	h.frozen.Store(false)
}

// Frozen reports whether the History is frozen.
func (h *History) Frozen() bool {
	return h.frozen.Load()
}

// Clock returns the time to display for now: the freeze time while
// frozen, otherwise now.
func (h *History) Clock(now time.Time) time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.clock(now)
}

func (h *History) clock(now time.Time) time.Time {
	if h.frozen.Load() {
		return h.freezeAt
	}
	return now
}

// Elapsed returns slot clock time at now.
func (h *History) Elapsed(now time.Time) time.Duration {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.clock(now).Sub(h.start)
}

// SetWindow changes the slot duration so that slots rows span window.
// Used when the display is resized.
func (h *History) SetWindow(window time.Duration, slots int) error {
	if slots <= 0 || window/time.Duration(slots) < time.Microsecond {
		return fmt.Errorf("buffer: window %v over %d slots is too short", window, slots)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.slot = window / time.Duration(slots)
	return nil
}

// SlotDuration returns the time covered by one row.
func (h *History) SlotDuration() time.Duration {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.slot
}

// Reset clears the frame, tally and both rings and restarts the slot
// clock at now.
func (h *History) Reset(now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fill(h.frame, h.def)
	fill(h.tally, 0)
	h.rows.FillAll(h.def)
	h.raster.FillAll(h.def)
	h.start = now
	h.last = 0
	h.lastN = 0
	if h.frozen.Load() {
		h.freezeAt = now
	}
}

// Default returns the value of a cleared sample.
func (h *History) Default() Sample { return h.def }

// Cells returns the frame width.
func (h *History) Cells() int { return len(h.frame) }

// RasterWidth returns the raster row width.
func (h *History) RasterWidth() int { return len(h.tally) }

// Slots returns the number of rows in the ring.
func (h *History) Slots() int { return h.rows.Rows() }

// LastSlot returns the most recently written row.
func (h *History) LastSlot() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.last
}

// Immediate returns a copy of the immediate frame.
func (h *History) Immediate() []Sample {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]Sample(nil), h.frame...)
}

// Value returns the immediate value of cell i.
func (h *History) Value(i int) (Sample, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if i < 0 || i >= len(h.frame) {
		return 0, fmt.Errorf("cell %d of %d: %w", i, len(h.frame), ErrOutOfRange)
	}
	return h.frame[i], nil
}

// Tally returns a copy of the raster tally for the current slot.
func (h *History) Tally() []Sample {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]Sample(nil), h.tally...)
}

// Guard returns the guard band, in slots.
func (h *History) Guard() int { return h.guard }

// Window returns copies of the n rows ending at the slot for time now,
// oldest first.  Rows that the clock has reached but no packet has
// written since (a quiet period) read as the default, as do rows from
// before the clock started.
func (h *History) Window(now time.Time, n int) [][]Sample {
	return h.window(now, n, h.rows)
}

// RasterWindow is Window for the raster ring.
func (h *History) RasterWindow(now time.Time, n int) [][]Sample {
	return h.window(now, n, h.raster)
}

func (h *History) window(now time.Time, n int, ring *Ring) [][]Sample {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n = min(max(n, 0), ring.Rows())
	cur := max(h.slotsAt(h.clock(now)), h.lastN)
	out := make([][]Sample, n)
	for i := range out {
		a := cur - int64(n-1-i)
		if a < 0 || a > h.lastN || a <= h.lastN-int64(ring.Rows()) {
			row := make([]Sample, ring.Width())
			fill(row, h.def)
			out[i] = row
			continue
		}
		out[i] = append([]Sample(nil), ring.Row(int(a%int64(ring.Rows())))...)
	}
	return out
}

// Row returns a copy of history row i (modulo the ring size).
func (h *History) Row(i int) []Sample {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]Sample(nil), h.rows.Row(i)...)
}

// RasterRow returns a copy of raster row i (modulo the ring size).
func (h *History) RasterRow(i int) []Sample {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]Sample(nil), h.raster.Row(i)...)
}
