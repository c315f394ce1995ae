// Capture files.
//
// A raw capture (".spinn") is a stream of records, one per received
// packet, with no file header:
//
//	int16  payload length, little-endian
//	int64  microseconds since the first captured packet, little-endian
//	[]byte payload, exactly as received
//
// A spike capture (".neuro") is NeuroTools text: a fixed-width header
// patched when the file is closed, then one line per spike event.
package capture

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"time"
)

// recordHeaderLen is the size of the length and offset fields.
const recordHeaderLen = 2 + 8

// ErrBadRecord means a record has a negative length.
var ErrBadRecord = errors.New("bad capture record")

// A Record is one captured packet.
type Record struct {
	Offset  time.Duration // since the first captured packet, to the microsecond
	Payload []byte
}

// AppendRecord appends the encoding of rec to b.
func AppendRecord(b []byte, rec Record) ([]byte, error) {
	if len(rec.Payload) > math.MaxInt16 {
		return b, fmt.Errorf("capture: payload of %d bytes: %w", len(rec.Payload), ErrBadRecord)
	}
	b = binary.LittleEndian.AppendUint16(b, uint16(len(rec.Payload)))
	b = binary.LittleEndian.AppendUint64(b, uint64(rec.Offset.Microseconds()))
	return append(b, rec.Payload...), nil
}

// WriteRecord writes rec to w in a single Write call.
func WriteRecord(w io.Writer, rec Record) error {
	b, err := AppendRecord(make([]byte, 0, recordHeaderLen+len(rec.Payload)), rec)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// A Reader reads records from a raw capture.
type Reader struct {
	r   *bufio.Reader
	hdr [recordHeaderLen]byte
	n   int // records read
}

// NewReader returns a Reader for r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReaderSize(r, 64*1024)}
}

// Next returns the next record.  At the end of a well formed capture
// it returns io.EOF; a record cut short returns io.ErrUnexpectedEOF.
func (r *Reader) Next() (Record, error) {
	if _, err := io.ReadFull(r.r, r.hdr[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return Record{}, fmt.Errorf("record %d: %w", r.n, err)
		}
		return Record{}, err
	}
	n := int16(binary.LittleEndian.Uint16(r.hdr[0:]))
	if n < 0 {
		return Record{}, fmt.Errorf("record %d: length %d: %w", r.n, n, ErrBadRecord)
	}
	rec := Record{
		Offset:  time.Duration(int64(binary.LittleEndian.Uint64(r.hdr[2:]))) * time.Microsecond,
		Payload: make([]byte, n),
	}
	if _, err := io.ReadFull(r.r, rec.Payload); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return Record{}, fmt.Errorf("record %d: %w", r.n, err)
	}
	r.n++
	return rec, nil
}

// Count returns the number of records read so far.
func (r *Reader) Count() int { return r.n }

// Summary describes a raw capture.
type Summary struct {
	Records int
	First   time.Duration // smallest offset
	Last    time.Duration // largest offset
	Bytes   int64         // payload bytes
}

// Span returns the time covered by the capture.
func (s Summary) Span() time.Duration { return s.Last - s.First }

// Scan reads a whole capture and summarises it.  On error the summary
// covers the records read before it.
func Scan(r io.Reader) (Summary, error) {
	var s Summary
	rd := NewReader(r)
	for {
		rec, err := rd.Next()
		if err == io.EOF {
			return s, nil
		}
		if err != nil {
			return s, err
		}
		if s.Records == 0 || rec.Offset < s.First {
			s.First = rec.Offset
		}
		if s.Records == 0 || rec.Offset > s.Last {
			s.Last = rec.Offset
		}
		s.Records++
		s.Bytes += int64(len(rec.Payload))
	}
}

// ScanFile summarises the capture at path.
func ScanFile(path string) (Summary, error) {
	f, err := os.Open(path)
	if err != nil {
		return Summary{}, err
	}
	defer f.Close()
	return Scan(f)
}
