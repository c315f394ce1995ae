// Board topology for 48-chip (SpiNN-5) boards.
//
// Some decoders cannot place an event on the grid from the routing
// key alone: the key carries a physical chip x,y and a core number,
// and the neuron id shown on screen depends on which chips and cores
// the network mapper assigned to the recorded population.  A Topology
// holds the three tables needed to undo that mapping:
//
//   - Chips: physical (x,y) -> linear chip number on the board
//     (-1 where no chip exists; the board is hexagonal, not square)
//
//   - PopulationChip: linear chip number -> index into CoreOffset,
//     or -1 if the chip carries no part of the recorded population
//
//   - CoreOffset: for each used chip, the first neuron id handled by
//     each of its 16 application cores (core 1 is the first entry)
//
// Topology files are plain whitespace separated integers, in that
// order: 64 chip entries (row x, column y), 48 population chip
// entries, then 16 core offsets for every population chip entry
// that is not negative.
package board

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
)

// dimensions of a SpiNN-5 board
const (
	ChipsPerSide = 8
	BoardChips   = 48
	CoresPerChip = 16
)

var (
	// ErrNoChip means the routing key names a position with no chip.
	ErrNoChip = errors.New("no chip at position")
	// ErrNotRecorded means the chip or core carries no part of the recorded population.
	ErrNotRecorded = errors.New("chip not in recorded population")
)

// SpiNN5 is the physical chip layout of a SpiNN-5 board.
var SpiNN5 = [ChipsPerSide][ChipsPerSide]int{
	{0, 3, 8, 15, -1, -1, -1, -1},
	{1, 2, 7, 14, 23, -1, -1, -1},
	{4, 5, 6, 13, 22, 31, -1, -1},
	{9, 10, 11, 12, 21, 30, 39, -1},
	{16, 17, 18, 19, 20, 29, 38, 47},
	{-1, 24, 25, 26, 27, 28, 37, 46},
	{-1, -1, 32, 33, 34, 35, 36, 45},
	{-1, -1, -1, 40, 41, 42, 43, 44},
}

// Topology is read-only once loaded.
type Topology struct {
	Chips          [ChipsPerSide][ChipsPerSide]int
	PopulationChip [BoardChips]int
	CoreOffset     [][CoresPerChip]int
}

// Load reads a topology file.
func Load(path string) (*Topology, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("topology: %w", err)
	}
	defer f.Close()
	t, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("topology %s: %w", path, err)
	}
	return t, nil
}

// Read parses a topology from r.
func Read(r io.Reader) (*Topology, error) {
	sc := bufio.NewScanner(r)
	sc.Split(bufio.ScanWords)
	n := 0
	next := func() (int, error) {
		if !sc.Scan() {
			if err := sc.Err(); err != nil {
				return 0, err
			}
			return 0, fmt.Errorf("value %d: %w", n, io.ErrUnexpectedEOF)
		}
		n++
		return strconv.Atoi(sc.Text())
	}

	t := &Topology{}
	var err error
	for x := range t.Chips {
		for y := range t.Chips[x] {
			if t.Chips[x][y], err = next(); err != nil {
				return nil, err
			}
		}
	}
	used := 0
	for i := range t.PopulationChip {
		if t.PopulationChip[i], err = next(); err != nil {
			return nil, err
		}
		if t.PopulationChip[i] >= 0 {
			used++
		}
	}
	t.CoreOffset = make([][CoresPerChip]int, used)
	for i := range t.CoreOffset {
		for j := range t.CoreOffset[i] {
			if t.CoreOffset[i][j], err = next(); err != nil {
				return nil, err
			}
		}
	}
	return t, nil
}

// NeuronID returns the population-wide id of neuron on core of chip
// (x, y).  Cores are numbered from 1; core 0 is the monitor.
func (t *Topology) NeuronID(x, y, core, neuron int) (int, error) {
	if x < 0 || x >= ChipsPerSide || y < 0 || y >= ChipsPerSide {
		return 0, fmt.Errorf("chip (%d,%d): %w", x, y, ErrNoChip)
	}
	chip := t.Chips[x][y]
	if chip < 0 || chip >= BoardChips {
		return 0, fmt.Errorf("chip (%d,%d): %w", x, y, ErrNoChip)
	}
	v := t.PopulationChip[chip]
	if v < 0 || v >= len(t.CoreOffset) || core < 1 || core > CoresPerChip {
		return 0, fmt.Errorf("chip %d core %d: %w", chip, core, ErrNotRecorded)
	}
	off := t.CoreOffset[v][core-1]
	if off < 0 {
		return 0, fmt.Errorf("chip %d core %d: %w", chip, core, ErrNotRecorded)
	}
	return off + neuron, nil
}
