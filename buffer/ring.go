// Buffer telemetry samples.
//
// Decoded packets update an immediate frame holding the most recent
// value of every cell.  Each time a packet arrives, the frame is
// copied into the row of a history ring that corresponds to the
// current time slot, so that a renderer can draw the recent past of
// every cell as well as its present value.  A separate, narrower
// ring counts raster spikes per neuron per slot.
//
// Slots that pass without any packet arriving are cleared to the
// default value (Undefined, or zero when configured), so a quiet
// period shows up as a gap rather than as stale data.
package buffer

import "fmt"

// A Sample is the value of one cell: a rate, a temperature, a spike
// count, depending on the visualisation mode.  Samples at or near
// Undefined mean "no data yet".
type Sample float32

// Undefined marks a cell with no data.
const Undefined Sample = -66666

// Valid reports whether s holds data.
func (s Sample) Valid() bool {
	return s > Undefined+1
}

// A Ring holds a fixed number of equal-width rows in one contiguous
// allocation.  Rows are addressed by index modulo the row count, so
// callers can step past the end and wrap around to the start.
type Ring struct {
	buf   []Sample // all rows, back to back
	width int      // samples per row
	rows  int      // number of rows
}

// NewRing allocates a ring of rows rows of width samples, all set to
// fill.
func NewRing(rows, width int, fill Sample) (*Ring, error) {
	if rows <= 0 || width <= 0 {
		return nil, fmt.Errorf("buffer: bad ring shape %d x %d", rows, width)
	}
	r := &Ring{buf: make([]Sample, rows*width), width: width, rows: rows}
	r.FillAll(fill)
	return r, nil
}

// Rows returns the number of rows.
func (r *Ring) Rows() int { return r.rows }

// Width returns the number of samples per row.
func (r *Ring) Width() int { return r.width }

// Row returns row i (modulo the row count) as a slice of the arena.
// Writes through the slice change the ring.
func (r *Ring) Row(i int) []Sample {
	i %= r.rows
	if i < 0 {
		i += r.rows
	}
	return r.buf[i*r.width : (i+1)*r.width : (i+1)*r.width]
}

// At returns sample j of row i.
func (r *Ring) At(i, j int) Sample {
	return r.Row(i)[j]
}

// Fill sets every sample of row i to v.
func (r *Ring) Fill(i int, v Sample) {
	fill(r.Row(i), v)
}

// FillAll sets every sample of every row to v.
func (r *Ring) FillAll(v Sample) {
	fill(r.buf, v)
}

func fill(s []Sample, v Sample) {
	for i := range s {
		s[i] = v
	}
}
