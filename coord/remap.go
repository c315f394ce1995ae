package coord

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Pair is one row of a remap table.
type Pair [2]int

// Remap translates between split (local) population numbering and the
// aggregated (global) numbering produced by the network mapper.  Each
// table holds at most as many rows as there are grid cells.
type Remap struct {
	LocalToGlobal []Pair
	GlobalToLocal []Pair
}

// Global looks up the global pair for a local row.
func (r *Remap) Global(local int) (Pair, bool) {
	if r == nil || local < 0 || local >= len(r.LocalToGlobal) {
		return Pair{}, false
	}
	return r.LocalToGlobal[local], true
}

// Local looks up the local pair for a global row.
func (r *Remap) Local(global int) (Pair, bool) {
	if r == nil || global < 0 || global >= len(r.GlobalToLocal) {
		return Pair{}, false
	}
	return r.GlobalToLocal[global], true
}

// LoadRemap reads both remap files.  Each is read independently; a
// file that is missing or stops parsing part way leaves its table
// holding the rows read so far.  The returned Remap is always usable;
// the error, if any, describes what could not be read and is not
// meant to be fatal.
func LoadRemap(localToGlobal, globalToLocal string, limit int) (*Remap, error) {
	r := &Remap{}
	var errs []error
	var err error
	if r.LocalToGlobal, err = readPairsFile(localToGlobal, limit); err != nil {
		errs = append(errs, err)
	}
	if r.GlobalToLocal, err = readPairsFile(globalToLocal, limit); err != nil {
		errs = append(errs, err)
	}
	return r, errors.Join(errs...)
}

func readPairsFile(path string, limit int) ([]Pair, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	pairs, err := ReadPairs(f, limit)
	if err != nil {
		return pairs, fmt.Errorf("%s: %w", path, err)
	}
	return pairs, nil
}

// ReadPairs parses up to limit lines of whitespace separated integer
// pairs.  A line holding a single integer leaves the second column
// zero.  Parsing stops at the first malformed line; the rows before
// it are returned along with the error.
func ReadPairs(r io.Reader, limit int) ([]Pair, error) {
	var pairs []Pair
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() && len(pairs) < limit {
		line++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		var p Pair
		for j := 0; j < len(p) && j < len(fields); j++ {
			v, err := strconv.Atoi(fields[j])
			if err != nil {
				return pairs, fmt.Errorf("line %d: %w", line, err)
			}
			p[j] = v
		}
		pairs = append(pairs, p)
	}
	return pairs, sc.Err()
}
