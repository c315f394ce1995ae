package visrt

import (
	"context"
	"time"

	"github.com/jbrzusto/visrt/buffer"
	"github.com/jbrzusto/visrt/coord"
	"github.com/jbrzusto/visrt/decode"
)

// View is the read-only face of an Engine that a renderer draws from.
// Every accessor returns a copy.
type View struct {
	e *Engine
}

// View returns a View of e.
func (e *Engine) View() View { return View{e} }

func (v View) Title() string              { return v.e.cfg.Title }
func (v View) Mode() decode.Mode          { return v.e.mode }
func (v View) Grid() coord.Grid           { return v.e.grid }
func (v View) Remap() *coord.Remap        { return v.e.remap }
func (v View) Transform() coord.Transform { return v.e.Transform() }

// Plot returns the position cell index is drawn at.
func (v View) Plot(index int) int {
	return v.e.grid.Apply(v.e.Transform(), index)
}

// Frozen reports whether the display is frozen.
func (v View) Frozen() bool { return v.e.hist.Frozen() }

// Clock returns the time the display stands at.
func (v View) Clock() time.Time { return v.e.hist.Clock(v.e.now()) }

// Slot returns the history row for the display time: the right hand
// edge of a time plot.
func (v View) Slot() int { return v.e.hist.Slot(v.e.now()) }

// Slots returns the number of history rows.
func (v View) Slots() int { return v.e.hist.Slots() }

// PlotWidth returns the number of rows that span the time window.
func (v View) PlotWidth() int {
	v.e.xmu.RLock()
	defer v.e.xmu.RUnlock()
	return v.e.plotWidth
}

// Immediate returns the latest value of every cell.
func (v View) Immediate() []buffer.Sample { return v.e.hist.Immediate() }

// Row returns history row i.
func (v View) Row(i int) []buffer.Sample { return v.e.hist.Row(i) }

// RasterRow returns raster row i.
func (v View) RasterRow(i int) []buffer.Sample { return v.e.hist.RasterRow(i) }

// Window returns the PlotWidth history rows ending at the display
// time, oldest first.  Slots that passed without a packet read as the
// default value.
func (v View) Window() [][]buffer.Sample {
	return v.e.hist.Window(v.e.now(), v.PlotWidth())
}

// RasterWindow is Window for the raster tallies.
func (v View) RasterWindow() [][]buffer.Sample {
	return v.e.hist.RasterWindow(v.e.now(), v.PlotWidth())
}

// Bias returns the last bias current reported for cell index.
func (v View) Bias(index int) (float32, bool) {
	v.e.bmu.RLock()
	defer v.e.bmu.RUnlock()
	if index < 0 || index >= len(v.e.bias) {
		return 0, false
	}
	b := v.e.bias[index]
	return b, buffer.Sample(b).Valid()
}

// Watch calls fn with a View at most fps times a second, capped at the
// configured max_frame_rate, until ctx is done or the engine shuts
// down.
func (e *Engine) Watch(ctx context.Context, fps int, fn func(View)) error {
	if limit := e.cfg.MaxFrameRate; limit > 0 && (fps <= 0 || fps > limit) {
		fps = limit
	}
	if fps <= 0 {
		fps = 25
	}
	t := time.NewTicker(time.Second / time.Duration(fps))
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.done:
			return nil
		case <-t.C:
			fn(e.View())
		}
	}
}
