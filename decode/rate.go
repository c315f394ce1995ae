package decode

import (
	"github.com/jbrzusto/visrt/sdp"
)

// rate packet commands
const (
	cmdRate        = 64
	cmdBias        = 65
	cmdPotential   = 66
	cmdMar12       = 80
	cmdRaster      = 256
	cmdLegacyRate  = 257
	cmdSevilleScan = 0x4943
)

type ratePlot struct {
	named
	p   Params
	cmd uint16 // rate command understood; 0 for cmdRate, cmdBias and cmdPotential
}

func newRatePlot(p Params) (Decoder, error) {
	return &ratePlot{named: named{RatePlot}, p: p}, nil
}

func newMar12(p Params) (Decoder, error) {
	return &ratePlot{named: named{Mar12Raster}, p: p, cmd: cmdMar12}, nil
}

func (d *ratePlot) index(k key) int {
	x, y := k.chip()
	return d.p.Grid.CellsPerTile()*(x*d.p.ChipsY+y) + k.pop(d.p.PopIDBits)
}

// Decode handles data words as (routing key, value) pairs.
func (d *ratePlot) Decode(b []byte) (r Result, err error) {
	pkt, err := sdp.Parse(b)
	if err != nil {
		return r, err
	}
	if d.cmd != 0 {
		if pkt.Cmd == d.cmd {
			for i := 0; i+1 < len(pkt.Data); i += 2 {
				r.set(d.index(key(pkt.Data[i])), float32(pkt.Data[i+1]))
			}
		}
		return r, nil
	}
	switch pkt.Cmd {
	case cmdRate, cmdBias, cmdPotential:
		for i := 0; i+1 < len(pkt.Data); i += 2 {
			idx, v := d.index(key(pkt.Data[i])), pkt.Data[i+1]
			switch pkt.Cmd {
			case cmdRate:
				r.set(idx, float32(v))
			case cmdBias:
				r.Bias = append(r.Bias, Update{Index: idx, Value: float32(v) / 256, Op: Set})
			case cmdPotential:
				// a single membrane potential, 8.8 signed
				r.set(0, float32(int16(v))/256)
			}
		}
	case cmdRaster:
		raster(&r, pkt.Data, d.p.MaxRaster)
	}
	return r, nil
}

// raster adds the neuron id in the low byte of each word to the
// raster tally and the spike stream.
func raster(r *Result, data []uint32, limit int) {
	for _, w := range data {
		id := int(w & 0xFF)
		if id < limit {
			r.Raster = append(r.Raster, id)
			r.Spikes = append(r.Spikes, id)
		}
	}
}

type ratePlotLegacy struct {
	named
	p Params
}

func newRatePlotLegacy(p Params) (Decoder, error) {
	return &ratePlotLegacy{named{RatePlotLegacy}, p}, nil
}

// Decode handles the older rate format, where the population is the
// virtual core of the source port and the chips are laid out in rows.
func (d *ratePlotLegacy) Decode(b []byte) (r Result, err error) {
	pkt, err := sdp.Parse(b)
	if err != nil {
		return r, err
	}
	switch pkt.Cmd {
	case cmdLegacyRate:
		pop := int(pkt.SrcePort&0x1F) - 1
		if pop < 0 {
			return r, nil
		}
		x, y := pkt.SrcChip()
		g := d.p.Grid
		idx := g.CellsPerTile()*(y*g.TilesX()+x) + pop
		r.Bias = append(r.Bias, Update{Index: idx, Value: float32(pkt.Arg1) / 256, Op: Set})
		if pkt.Arg3 == 0 {
			return r, nil
		}
		// spikes per interval -> spikes per neuron per second
		per := float32(pkt.Arg2+1) * float32(pkt.Arg3)
		for _, w := range pkt.Data {
			r.set(idx, float32(w)*1000/per)
		}
	case cmdRaster:
		raster(&r, pkt.Data, d.p.MaxRaster)
	}
	return r, nil
}
