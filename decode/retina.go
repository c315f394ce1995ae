package decode

import (
	"errors"

	"github.com/jbrzusto/visrt/sdp"
)

// Modes in this file count spike events per pixel or neuron.

type retina struct {
	named
	p Params
}

func newRetina(p Params) (Decoder, error) {
	return &retina{named{Retina}, p}, nil
}

// Decode counts stimulus spikes carried in a raw spinn packet.
func (d *retina) Decode(b []byte) (r Result, err error) {
	pkt, err := sdp.ParseSpinn(b)
	if err != nil || pkt.Cmd != sdp.StimIn {
		return r, err
	}
	for _, w := range pkt.Data {
		id := int(w & 0xFF)
		r.add(id, 1)
		r.Spikes = append(r.Spikes, id)
	}
	return r, nil
}

type seville struct {
	named
	p Params
}

func newSeville(p Params) (Decoder, error) {
	return &seville{named{SevilleRetina}, p}, nil
}

// Decode stores one column of signed 16-bit pixels, two per word.
// arg1 is the column, arg2 the number of rows.
func (d *seville) Decode(b []byte) (r Result, err error) {
	pkt, err := sdp.Parse(b)
	if err != nil || pkt.Cmd != cmdSevilleScan {
		return r, err
	}
	base := int(pkt.Arg1) * int(pkt.Arg2)
	for i, w := range pkt.Data {
		r.set(base+2*i, float32(int16(w)))
		r.set(base+2*i+1, float32(int16(w>>16)))
	}
	return r, nil
}

type retina2 struct {
	named
	p Params
}

func newRetina2(p Params) (Decoder, error) {
	if p.Topology == nil {
		return nil, errors.New("decode: retina2 needs a board topology")
	}
	return &retina2{named{Retina2}, p}, nil
}

// Decode counts spikes of one recorded population, translating each
// routing key to a neuron id through the board topology.
func (d *retina2) Decode(b []byte) (r Result, err error) {
	pkt, err := sdp.Parse(b)
	if err != nil {
		return r, err
	}
	for _, w := range pkt.Data {
		x, y := key(w).chip()
		core := int(w>>11) & 0x1F
		neuron := int(w & 0x7FF)
		id, err := d.p.Topology.NeuronID(x, y, core, neuron)
		if err != nil {
			d.p.Logger.Debug("retina2 spike not placed", "err", err)
			continue
		}
		r.add(id, 1)
	}
	return r, nil
}

type cochlea struct {
	named
	p Params
}

func newCochlea(p Params) (Decoder, error) {
	return &cochlea{named{Cochlea}, p}, nil
}

// silicon cochlea layout
const (
	cochleaCells    = 4  // cells per channel
	cochleaChannels = 64 // channels
)

// Decode counts a spike from the first data word.  Each core handles
// a band of channels; core 0 is the monitor and never spikes.
func (d *cochlea) Decode(b []byte) (r Result, err error) {
	pkt, err := sdp.Parse(b)
	if err != nil || len(pkt.Data) == 0 {
		return r, err
	}
	w := pkt.Data[0]
	neuron := int(w % 0x800)
	core := int(w>>11) % 0x20
	if core == 0 {
		return r, nil
	}
	xc := (core-1)*cochleaCells + neuron%cochleaCells
	yc := neuron / cochleaCells
	r.add(xc*cochleaChannels+yc, 1)
	return r, nil
}

type spikerVC struct {
	named
	p Params
}

func newSpikerVC(p Params) (Decoder, error) {
	return &spikerVC{named{SpikerVC}, p}, nil
}

// Decode marks each spiking neuron.  Only the neuron bits of the key
// matter here; chip and core are ignored.
func (d *spikerVC) Decode(b []byte) (r Result, err error) {
	pkt, err := sdp.Parse(b)
	if err != nil {
		return r, err
	}
	for _, w := range pkt.Data {
		r.set(int(w&0x8FF), 1)
	}
	return r, nil
}
