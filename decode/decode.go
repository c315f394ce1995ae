// Decode telemetry packets into grid updates.
//
// Each visualisation mode understands one kind of application traffic.
// A Decoder for the configured mode turns a datagram into a Result: a
// list of cell updates plus any bias currents, raster tallies and spike
// events it carries.  Decoders are pure; they hold no state between
// packets and never touch the frame or history themselves.  Placing
// updates (and bounds checking them) is up to the caller.
package decode

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/jbrzusto/visrt/board"
	"github.com/jbrzusto/visrt/coord"
)

// Op says how an update combines with the value already in a cell.
type Op int

const (
	Set       Op = iota // replace the value
	Add                 // add to the value (spike tallies)
	Integrate           // leaky integration against the previous slot
)

func (o Op) String() string {
	switch o {
	case Set:
		return "set"
	case Add:
		return "add"
	case Integrate:
		return "integrate"
	}
	return "op(" + strconv.Itoa(int(o)) + ")"
}

// Update is one change to one cell of the immediate frame.
type Update struct {
	Index int
	Value float32
	Op    Op
	Decay float32 // weight of the previous value, for Integrate
}

// Result is everything a single packet says.
type Result struct {
	Updates []Update // cell updates, in packet order
	Bias    []Update // per population bias currents
	Raster  []int    // neuron ids to add to the raster tally
	Spikes  []int    // ids to write to a spike recording
}

// Empty reports whether r carries nothing.
func (r *Result) Empty() bool {
	return len(r.Updates) == 0 && len(r.Bias) == 0 && len(r.Raster) == 0 && len(r.Spikes) == 0
}

func (r *Result) set(i int, v float32) {
	r.Updates = append(r.Updates, Update{Index: i, Value: v, Op: Set})
}

func (r *Result) add(i int, v float32) {
	r.Updates = append(r.Updates, Update{Index: i, Value: v, Op: Add})
}

// Decoder turns a datagram into updates.
type Decoder interface {
	Name() string
	Decode(pkt []byte) (Result, error)
}

// Params is what decoders need to know about the surface.
type Params struct {
	Grid       coord.Grid
	ChipsY     int             // chips up the board; defaults to Grid.TilesY()
	FixedPoint int             // fractional bits of heatmap values
	PopIDBits  int             // sub-core population id bits in routing keys
	MaxRaster  int             // neuron ids at or above this are not rastered
	Topology   *board.Topology // required by retina2
	Logger     *slog.Logger
}

func (p *Params) fill() {
	if p.ChipsY == 0 {
		p.ChipsY = p.Grid.TilesY()
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
}

// Mode identifies a visualisation mode.  The numeric values are the
// codes used by older parameter files.
type Mode int

const (
	Heatmap Mode = iota + 1
	RatePlot
	Retina
	Integrator
	RatePlotLegacy
	Mar12Raster
	SevilleRetina
	LinkCheck
	SpikerVC
	ChipTemp
	CPUUtil
	Retina2
	Cochlea
)

var modeNames = map[Mode]string{
	Heatmap:        "heatmap",
	RatePlot:       "rateplot",
	Retina:         "retina",
	Integrator:     "integrator",
	RatePlotLegacy: "rateplot-legacy",
	Mar12Raster:    "mar12-raster",
	SevilleRetina:  "seville-retina",
	LinkCheck:      "link-check",
	SpikerVC:       "spiker-vc",
	ChipTemp:       "chip-temp",
	CPUUtil:        "cpu-util",
	Retina2:        "retina2",
	Cochlea:        "cochlea",
}

func (m Mode) String() string {
	if s, ok := modeNames[m]; ok {
		return s
	}
	return "mode(" + strconv.Itoa(int(m)) + ")"
}

// ParseMode accepts a mode name or its legacy number.
func ParseMode(s string) (Mode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if n, err := strconv.Atoi(s); err == nil {
		if _, ok := modeNames[Mode(n)]; ok {
			return Mode(n), nil
		}
		return 0, fmt.Errorf("unknown mode %d", n)
	}
	for m, name := range modeNames {
		if name == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown mode %q", s)
}

// Modes lists all modes in numeric order.
func Modes() []Mode {
	ms := make([]Mode, 0, len(modeNames))
	for m := range modeNames {
		ms = append(ms, m)
	}
	sort.Slice(ms, func(i, j int) bool { return ms[i] < ms[j] })
	return ms
}

var registry = map[Mode]func(Params) (Decoder, error){
	Heatmap:        newHeatmap,
	RatePlot:       newRatePlot,
	Retina:         newRetina,
	Integrator:     newIntegrator,
	RatePlotLegacy: newRatePlotLegacy,
	Mar12Raster:    newMar12,
	SevilleRetina:  newSeville,
	LinkCheck:      newLinkCheck,
	SpikerVC:       newSpikerVC,
	ChipTemp:       newChipTemp,
	CPUUtil:        newCPUUtil,
	Retina2:        newRetina2,
	Cochlea:        newCochlea,
}

// New returns the decoder for mode m.
func New(m Mode, p Params) (Decoder, error) {
	mk, ok := registry[m]
	if !ok {
		return nil, fmt.Errorf("decode: unknown mode %d", int(m))
	}
	p.fill()
	return mk(p)
}

// named supplies Name for every decoder.
type named struct {
	mode Mode
}

func (n named) Name() string { return n.mode.String() }

// key is a multicast routing key: chip x in bits 31:24, chip y in
// bits 23:16, core in bits 15:11.
type key uint32

func (k key) chip() (x, y int) { return int(k >> 24), int(k>>16) & 0xFF }

// pop returns the population of a rate key: the 4-bit core number,
// widened by bits of sub-core population id when bits > 0.
func (k key) pop(bits int) int {
	pop := int(k>>11) & 0xF
	if bits > 0 {
		pop = pop<<bits + int(k>>4)&(1<<bits-1)
	}
	return pop
}

var integratorDecay = float32(math.Exp(-0.001 / 0.03))
