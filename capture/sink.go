package capture

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ErrClosed is returned by writes to a closed Sink.
var ErrClosed = errors.New("capture closed")

// A Format selects what a Sink records.
type Format int

const (
	FormatNone   Format = iota
	FormatRaw           // every packet, as received
	FormatSpikes        // spike events only, as text
)

// String returns the format name.
func (f Format) String() string {
	switch f {
	case FormatRaw:
		return "raw"
	case FormatSpikes:
		return "spikes"
	}
	return "none"
}

// Ext returns the file extension used for the format.
func (f Format) Ext() string {
	switch f {
	case FormatRaw:
		return ".spinn"
	case FormatSpikes:
		return ".neuro"
	}
	return ""
}

// ParseFormat accepts a format name, its extension, or its number.
func ParseFormat(s string) (Format, error) {
	s = strings.ToLower(strings.TrimPrefix(s, "."))
	switch s {
	case "", "none", "0":
		return FormatNone, nil
	case "raw", "spinn", "1":
		return FormatRaw, nil
	case "spikes", "neuro", "2":
		return FormatSpikes, nil
	}
	return FormatNone, fmt.Errorf("unknown capture format %q", s)
}

// DefaultName returns the file name used for a capture started at t.
func DefaultName(f Format, t time.Time) string {
	return t.Format("packets-2006Jan02_1504") + f.Ext()
}

// Stats describes a Sink.
type Stats struct {
	Path    string
	Format  Format
	Packets int64 // raw records written
	Events  int64 // spike lines written
	MinID   int   // spike id range; meaningful when Events > 0
	MaxID   int
	Paused  bool
}

// A Sink records to one capture file.  It is safe for concurrent use.
type Sink struct {
	mu      sync.Mutex
	f       *os.File
	path    string
	format  Format
	spikes  *SpikeWriter
	packets int64
	paused  bool
	closed  bool
}

// Create creates path and starts a capture in format f.
func Create(path string, f Format) (*Sink, error) {
	if f != FormatRaw && f != FormatSpikes {
		return nil, fmt.Errorf("capture: cannot record format %v", f)
	}
	fp, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	s := &Sink{f: fp, path: path, format: f}
	if f == FormatSpikes {
		if s.spikes, err = NewSpikeWriter(fp); err != nil {
			fp.Close()
			return nil, err
		}
	}
	return s, nil
}

// Path returns the capture file name.
func (s *Sink) Path() string { return s.path }

// Format returns the capture format.
func (s *Sink) Format() Format { return s.format }

// WritePacket records a raw packet received offset after the first
// one.  It does nothing for a spike capture or while paused.
func (s *Sink) WritePacket(offset time.Duration, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.paused || s.format != FormatRaw {
		return nil
	}
	if err := WriteRecord(s.f, Record{Offset: offset, Payload: payload}); err != nil {
		return err
	}
	s.packets++
	return nil
}

// WriteSpike records a spike of neuron id.  It does nothing for a raw
// capture or while paused.
func (s *Sink) WriteSpike(offset time.Duration, id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.paused || s.format != FormatSpikes {
		return nil
	}
	return s.spikes.Write(offset, id)
}

// Pause stops recording until Resume.
func (s *Sink) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
}

// Resume restarts recording after Pause.
func (s *Sink) Resume() {
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()
}

// Stats returns counts so far.
func (s *Sink) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats()
}

func (s *Sink) stats() Stats {
	st := Stats{Path: s.path, Format: s.format, Packets: s.packets, Paused: s.paused}
	if s.spikes != nil {
		st.MinID, st.MaxID, st.Events = s.spikes.Range()
	}
	return st
}

// Close finishes the capture and returns its final counts.  Closing
// twice returns ErrClosed.
func (s *Sink) Close() (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return s.stats(), ErrClosed
	}
	s.closed = true
	var errs []error
	if s.spikes != nil {
		errs = append(errs, s.spikes.Close())
	}
	errs = append(errs, s.f.Close())
	return s.stats(), errors.Join(errs...)
}

// String describes the sink for logs.
func (st Stats) String() string {
	var b strings.Builder
	b.WriteString(st.Path)
	b.WriteString(" (")
	b.WriteString(st.Format.String())
	b.WriteString(", ")
	if st.Format == FormatSpikes {
		b.WriteString(strconv.FormatInt(st.Events, 10))
		b.WriteString(" spikes")
	} else {
		b.WriteString(strconv.FormatInt(st.Packets, 10))
		b.WriteString(" packets")
	}
	b.WriteString(")")
	return b.String()
}
