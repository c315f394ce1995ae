// Replay raw captures.
//
// A capture is played back by re-sending each recorded payload to the
// visualiser's own UDP port at the time it was originally received,
// scaled by a speed factor, so that replayed packets travel the same
// path as live ones.
package replay

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jbrzusto/visrt/capture"
)

const (
	DefaultChunkSize = 100000
	DefaultMinSpeed  = 0.01
	DefaultMaxSpeed  = 100

	// lagWarning is how far behind schedule playback may fall before
	// it is reported.
	lagWarning = time.Second
)

// A Sender delivers one replayed payload.
type Sender interface {
	Send(payload []byte) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func([]byte) error

func (f SenderFunc) Send(b []byte) error { return f(b) }

// Clamp limits speed to [lo, hi]; a zero speed means real time.
func Clamp(speed, lo, hi float64) float64 {
	switch {
	case speed == 0:
		return 1
	case speed < lo:
		return lo
	case speed > hi:
		return hi
	}
	return speed
}

// Stats describes a finished or interrupted replay.
type Stats struct {
	Summary capture.Summary // from the scan pass
	Sent    int
	Late    int           // records sent behind schedule
	MaxLag  time.Duration // worst lateness
	Elapsed time.Duration
}

// Engine plays a capture through a Sender.  The zero values of the
// optional fields select the defaults.
type Engine struct {
	Sender    Sender
	Speed     float64
	MinSpeed  float64
	MaxSpeed  float64
	ChunkSize int

	Now    func() time.Time
	Sleep  func(ctx context.Context, d time.Duration) error
	OnDone func(at time.Time) // called when every record has been sent
	Logger *slog.Logger
}

func (e *Engine) defaults() {
	if e.MinSpeed <= 0 {
		e.MinSpeed = DefaultMinSpeed
	}
	if e.MaxSpeed <= 0 {
		e.MaxSpeed = DefaultMaxSpeed
	}
	if e.ChunkSize <= 0 {
		e.ChunkSize = DefaultChunkSize
	}
	if e.Now == nil {
		e.Now = time.Now
	}
	if e.Sleep == nil {
		e.Sleep = sleep
	}
	if e.Logger == nil {
		e.Logger = slog.Default()
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run scans the capture at path, then plays it.
func (e *Engine) Run(ctx context.Context, path string) (Stats, error) {
	e.defaults()
	sum, err := capture.ScanFile(path)
	if err != nil {
		return Stats{Summary: sum}, fmt.Errorf("scanning %s: %w", path, err)
	}
	e.Logger.Info("replaying capture",
		"file", path,
		"records", humanize.Comma(int64(sum.Records)),
		"payload", humanize.Bytes(uint64(sum.Bytes)),
		"span", sum.Span(),
		"speed", Clamp(e.Speed, e.MinSpeed, e.MaxSpeed))
	f, err := os.Open(path)
	if err != nil {
		return Stats{Summary: sum}, err
	}
	defer f.Close()
	return e.Play(ctx, f, sum)
}

// Play sends the records read from r.  sum is reported in the
// returned Stats and may be zero.
func (e *Engine) Play(ctx context.Context, r io.Reader, sum capture.Summary) (Stats, error) {
	e.defaults()
	st := Stats{Summary: sum}
	speed := Clamp(e.Speed, e.MinSpeed, e.MaxSpeed)
	rd := capture.NewReader(r)
	chunk := make([]capture.Record, 0, min(e.ChunkSize, max(sum.Records, 1)))

	var start time.Time // wall time of the first record
	var first time.Duration
	warned := false
	began := e.Now()
	for done := false; !done; {
		chunk = chunk[:0]
		for len(chunk) < e.ChunkSize {
			rec, err := rd.Next()
			if err == io.EOF {
				done = true
				break
			}
			if err != nil {
				return st, err
			}
			chunk = append(chunk, rec)
		}
		for _, rec := range chunk {
			if err := ctx.Err(); err != nil {
				return st, err
			}
			now := e.Now()
			if st.Sent == 0 {
				start, first = now, rec.Offset
			}
			target := start.Add(time.Duration(float64(rec.Offset-first) / speed))
			wait := target.Sub(now)
			if wait > 0 {
				if err := e.Sleep(ctx, wait); err != nil {
					return st, err
				}
			} else if wait < 0 {
				st.Late++
				st.MaxLag = max(st.MaxLag, -wait)
				if -wait > lagWarning && !warned {
					warned = true
					e.Logger.Warn("replay cannot keep up; try a lower speed",
						"behind", -wait, "record", st.Sent, "speed", speed)
				}
			}
			if err := e.Sender.Send(rec.Payload); err != nil {
				return st, fmt.Errorf("replay record %d: %w", st.Sent, err)
			}
			st.Sent++
		}
	}
	end := e.Now()
	st.Elapsed = end.Sub(began)
	e.Logger.Info("replay finished",
		"sent", humanize.Comma(int64(st.Sent)),
		"late", st.Late,
		"elapsed", st.Elapsed)
	if e.OnDone != nil {
		e.OnDone(end)
	}
	return st, nil
}
