package decode

import (
	"math"

	"github.com/jbrzusto/visrt/sdp"
)

// Modes in this file place SDP data by the chip that sent it: the
// source address picks a tile and each data word fills one cell of it.

type heatmap struct {
	named
	p     Params
	scale float32
}

func newHeatmap(p Params) (Decoder, error) {
	return &heatmap{named{Heatmap}, p, float32(math.Pow(2, float64(p.FixedPoint)))}, nil
}

func newCPUUtil(p Params) (Decoder, error) {
	return &heatmap{named{CPUUtil}, p, 1}, nil
}

func (d *heatmap) Decode(b []byte) (r Result, err error) {
	pkt, err := sdp.Parse(b)
	if err != nil {
		return r, err
	}
	base := d.p.Grid.ChipBase(pkt.SrcChip())
	for i, w := range pkt.Data {
		r.set(base+i, float32(w)/d.scale)
	}
	return r, nil
}

type chipTemp struct {
	named
	p Params
}

func newChipTemp(p Params) (Decoder, error) {
	return &chipTemp{named{ChipTemp}, p}, nil
}

// Decode combines the three on-chip sensor readings into a rough
// 0..100 temperature scale.
func (d *chipTemp) Decode(b []byte) (r Result, err error) {
	pkt, err := sdp.Parse(b)
	if err != nil {
		return r, err
	}
	t := ((float64(pkt.Arg1)-6300)/15 + (float64(pkt.Arg2)-9300)/18 + (55000-float64(pkt.Arg3))/450 - 80) / 1.5
	r.set(d.p.Grid.ChipBase(pkt.SrcChip()), float32(t))
	return r, nil
}

type integrator struct {
	named
	p Params
}

func newIntegrator(p Params) (Decoder, error) {
	return &integrator{named{Integrator}, p}, nil
}

// Decode feeds the first data word, in 8.8 fixed point, into a leaky
// integrator with a 30 ms time constant sampled every millisecond.
func (d *integrator) Decode(b []byte) (r Result, err error) {
	pkt, err := sdp.Parse(b)
	if err != nil || len(pkt.Data) == 0 {
		return r, err
	}
	in := (1 + float32(int32(pkt.Data[0]))/256) * (0.001 / 0.03)
	r.Updates = append(r.Updates, Update{
		Index: d.p.Grid.ChipBase(pkt.SrcChip()),
		Value: in,
		Op:    Integrate,
		Decay: integratorDecay,
	})
	return r, nil
}

type linkCheck struct {
	named
	p Params
}

func newLinkCheck(p Params) (Decoder, error) {
	return &linkCheck{named{LinkCheck}, p}, nil
}

// linkCell maps a link number (bit of arg1) to the cell of the tile
// that shows it.
var linkCell = [6]int{
	0: 1,  // west
	1: 0,  // south west
	2: 4,  // south
	3: 9,  // east
	4: 10, // north east
	5: 6,  // north
}

// Decode draws a chip as a small hexagon, lighting the cells of links
// set in arg1.
func (d *linkCheck) Decode(b []byte) (r Result, err error) {
	pkt, err := sdp.Parse(b)
	if err != nil {
		return r, err
	}
	x, y := pkt.SrcChip()
	if x > 7 || y > 7 {
		d.p.Logger.Warn("link check from chip off the board", "x", x, "y", y, "addr", pkt.SrceAddr)
	}
	base := d.p.Grid.ChipBase(x, y)
	for i := 0; i < d.p.Grid.CellsPerTile(); i++ {
		var v float32 = 100
		switch {
		case i == 5:
			v = 20
		case i == 2 || i == 3 || i == 7 || i == 8 || i > 10:
			v = 0
		}
		r.set(base+i, v)
	}
	for i, off := range linkCell {
		if pkt.Arg1&(1<<i) != 0 {
			r.set(base+off, 60)
		}
	}
	return r, nil
}
