// Coordinate mapping for the monitored surface.
//
// The surface is a Width x Height grid of cells, subdivided into equal
// tiles of TileWidth x TileHeight cells.  A tile normally corresponds to
// one chip of the platform, and a cell within a tile to one core or
// population on that chip.  Cells are numbered tile by tile: all cells
// of tile (0,0) come first, then tile (0,1), and so on up the column
// of tiles before moving one tile to the right.  Within a tile, cells
// are numbered column-major as well, so that element (ex, ey) has id
// ex*TileHeight + ey.
//
// This numbering is the "grid index" used everywhere else: by the wire
// decoders when they place a value, by the history ring, and by
// renderers when they plot.
package coord

import "fmt"

// Grid describes the monitored surface.
type Grid struct {
	Width      int // number of cells in x
	Height     int // number of cells in y
	TileWidth  int // cells per tile in x (EACHCHIPX)
	TileHeight int // cells per tile in y (EACHCHIPY)
}

// Check reports a grid that cannot be tiled evenly.
func (g Grid) Check() error {
	if g.Width <= 0 || g.Height <= 0 || g.TileWidth <= 0 || g.TileHeight <= 0 {
		return fmt.Errorf("grid %dx%d with %dx%d tiles: sizes must be positive", g.Width, g.Height, g.TileWidth, g.TileHeight)
	}
	if g.Width%g.TileWidth != 0 || g.Height%g.TileHeight != 0 {
		return fmt.Errorf("grid %dx%d is not a whole number of %dx%d tiles", g.Width, g.Height, g.TileWidth, g.TileHeight)
	}
	return nil
}

// Cells is the total number of cells in the grid.
func (g Grid) Cells() int {
	return g.Width * g.Height
}

// TilesX is the number of tiles across the grid.
func (g Grid) TilesX() int {
	return g.Width / g.TileWidth
}

// TilesY is the number of tiles up the grid.
func (g Grid) TilesY() int {
	return g.Height / g.TileHeight
}

// CellsPerTile is the number of cells in one tile.
func (g Grid) CellsPerTile() int {
	return g.TileWidth * g.TileHeight
}

// Valid reports whether index lies on the grid.
func (g Grid) Valid(index int) bool {
	return index >= 0 && index < g.Cells()
}

// Index converts cell coordinates to a grid index.
func (g Grid) Index(x, y int) int {
	ex := x % g.TileWidth
	ey := y % g.TileHeight
	tx := x / g.TileWidth
	ty := y / g.TileHeight
	return g.CellsPerTile()*(tx*g.TilesY()+ty) + ex*g.TileHeight + ey
}

// Coord converts a grid index to cell coordinates.
func (g Grid) Coord(index int) (x, y int) {
	eid := index % g.CellsPerTile()
	ex := eid / g.TileHeight
	ey := eid % g.TileHeight
	tid := index / g.CellsPerTile()
	tx := tid / g.TilesY()
	ty := tid % g.TilesY()
	return tx*g.TileWidth + ex, ty*g.TileHeight + ey
}

// ChipBase returns the grid index of the first cell of the tile
// belonging to chip (cx, cy).
func (g Grid) ChipBase(cx, cy int) int {
	return g.CellsPerTile() * (cx*g.TilesY() + cy)
}

// Transform holds the orientation toggles a renderer can flip at run
// time.
type Transform struct {
	YFlip      bool // mirror top to bottom
	XFlip      bool // mirror left to right
	VectorFlip bool // reverse the whole index order
	Rotate     bool // rotate by 90 degrees
}

// Identity reports whether no toggle is set.
func (t Transform) Identity() bool {
	return !(t.YFlip || t.XFlip || t.VectorFlip || t.Rotate)
}

// Apply returns the index that cell index is plotted at under t.
//
// The operations are applied in a fixed order: y flip, x flip (each at
// both tile and element level), vector reversal, then rotation.
// Rotation maps (x, y) to (y, Width-1-x) and only makes sense on a
// square grid; on any other grid it is skipped.
func (g Grid) Apply(t Transform, index int) int {
	if t.Identity() {
		return index
	}
	eid := index % g.CellsPerTile()
	ex := eid / g.TileHeight
	ey := eid % g.TileHeight
	tid := index / g.CellsPerTile()
	tx := tid / g.TilesY()
	ty := tid % g.TilesY()
	if t.YFlip {
		ey = g.TileHeight - 1 - ey
		ty = g.TilesY() - 1 - ty
	}
	if t.XFlip {
		ex = g.TileWidth - 1 - ex
		tx = g.TilesX() - 1 - tx
	}
	i := g.CellsPerTile()*(tx*g.TilesY()+ty) + ex*g.TileHeight + ey
	if t.VectorFlip {
		i = g.Cells() - 1 - i
	}
	if t.Rotate && g.Width == g.Height {
		x, y := g.Coord(i)
		i = g.Index(y, g.Width-1-x)
	}
	return i
}
