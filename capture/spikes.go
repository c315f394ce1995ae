package capture

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// fieldWidth is the space reserved for each patched header value.
const fieldWidth = 9

// header lines of a spike file, in order.  A line with a field has
// fieldWidth blanks after its prefix, then its suffix.
var header = []struct {
	prefix, suffix string
	field          bool
}{
	{"# first_id = ", "", true},
	{"# n = ", "", true},
	{"# dt = 1.0", "", false},
	{"# dimensions = [ ", "]", true},
	{"# last_id = ", "", true},
}

// headerText returns the blank header and the byte offsets of its
// fields.
func headerText() (string, []int64) {
	var b strings.Builder
	var offs []int64
	for _, h := range header {
		b.WriteString(h.prefix)
		if h.field {
			offs = append(offs, int64(b.Len()))
			b.WriteString(strings.Repeat(" ", fieldWidth))
		}
		b.WriteString(h.suffix)
		b.WriteByte('\n')
	}
	return b.String(), offs
}

// SpikeWriter writes spike events as NeuroTools text.
type SpikeWriter struct {
	ws       io.WriteSeeker
	w        *bufio.Writer
	offs     []int64
	min, max int
	n        int64
}

// NewSpikeWriter writes the blank header to ws.
func NewSpikeWriter(ws io.WriteSeeker) (*SpikeWriter, error) {
	text, offs := headerText()
	sw := &SpikeWriter{ws: ws, w: bufio.NewWriter(ws), offs: offs}
	if _, err := sw.w.WriteString(text); err != nil {
		return nil, err
	}
	return sw, nil
}

// Write records that neuron id spiked at offset.
func (sw *SpikeWriter) Write(offset time.Duration, id int) error {
	if sw.n == 0 || id < sw.min {
		sw.min = id
	}
	if sw.n == 0 || id > sw.max {
		sw.max = id
	}
	sw.n++
	_, err := fmt.Fprintf(sw.w, "%d.0\t%d.0\n", offset.Milliseconds(), id)
	return err
}

// Flush writes buffered events.
func (sw *SpikeWriter) Flush() error {
	return sw.w.Flush()
}

// Range returns the smallest and largest ids written, and the number
// of events.
func (sw *SpikeWriter) Range() (min, max int, n int64) {
	return sw.min, sw.max, sw.n
}

// Close flushes the events and fills in the header.  With no events
// the header is left blank.  It does not close the underlying file.
func (sw *SpikeWriter) Close() error {
	if err := sw.w.Flush(); err != nil {
		return err
	}
	if sw.n == 0 {
		return nil
	}
	vals := []int{sw.min, sw.max - sw.min, sw.max - sw.min, sw.max}
	for i, v := range vals {
		s := strconv.Itoa(v)
		if len(s) > fieldWidth {
			return fmt.Errorf("capture: header value %s does not fit", s)
		}
		if _, err := sw.ws.Seek(sw.offs[i], io.SeekStart); err != nil {
			return err
		}
		if _, err := io.WriteString(sw.ws, s); err != nil {
			return err
		}
	}
	_, err := sw.ws.Seek(0, io.SeekEnd)
	return err
}
