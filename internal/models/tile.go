// Package models defines the typed records shared by the stitching pipeline
// stages: the tile table, pairwise registration measurements and overlap
// regions. The tile table replaces the untyped tabular state of earlier
// designs with an explicit per-tile record that each stage mutates in place.
package models

import (
	"fmt"
	"sort"
)

// DType identifies the pixel data type of a stack.
type DType string

const (
	Uint8   DType = "uint8"
	Uint16  DType = "uint16"
	Float32 DType = "float32"
)

// ItemSize returns the size in bytes of one sample of this type.
func (d DType) ItemSize() int {
	switch d {
	case Uint8:
		return 1
	case Uint16:
		return 2
	case Float32:
		return 4
	}
	return 0
}

// Integer reports whether the type requires rounding when casting from the
// float32 working precision.
func (d DType) Integer() bool {
	return d == Uint8 || d == Uint16
}

// ParseDType converts a manifest string into a DType.
func ParseDType(s string) (DType, error) {
	switch DType(s) {
	case Uint8, Uint16, Float32:
		return DType(s), nil
	}
	return "", fmt.Errorf("unknown pixel type %q", s)
}

// StackMeta describes the geometry of one raw image stack.
type StackMeta struct {
	NFrames  int
	XSize    int
	YSize    int
	Channels int
	DType    DType
}

// Axis identifies the mosaic axis along which two tiles are adjacent.
type Axis int

const (
	AxisX Axis = iota // neighbors share a row, adjacency runs along X
	AxisY             // neighbors share a column, adjacency runs along Y
)

func (a Axis) String() string {
	if a == AxisX {
		return "X"
	}
	return "Y"
}

// Key names a grid coordinate column of the tile table.
type Key string

const (
	KeyX Key = "X"
	KeyY Key = "Y"
	KeyZ Key = "Z"
)

// Tile is one raw acquired image stack positioned at a grid coordinate in
// the mosaic. Grid indices X, Y, Z come from the stage coordinates encoded
// in the tile's filename; Z is a starting frame offset, not a grid row.
// The absolute position columns Xs, Ys, Zs are filled in by the position
// estimator and overwritten by the global optimizer; once fusion starts the
// record is read-only.
type Tile struct {
	// Name is the stable filename key identifying this tile.
	Name string

	// Grid indices, normalized so the minimum along each axis is zero.
	X, Y, Z int

	// Size of the stack in pixels and frames.
	XSize, YSize, NFrames int

	// ZEnd is Z + NFrames, the exclusive end of the frame interval.
	ZEnd int

	// Absolute pixel position of the tile origin in the fused volume.
	Xs, Ys, Zs int

	// Exclusive end positions (origin + size).
	XsEnd, YsEnd, ZsEnd int
}

// Grid returns the grid coordinate named by key.
func (t *Tile) Grid(key Key) int {
	switch key {
	case KeyX:
		return t.X
	case KeyY:
		return t.Y
	default:
		return t.Z
	}
}

// UpdateEnds recomputes the derived end-position columns.
func (t *Tile) UpdateEnds() {
	t.ZEnd = t.Z + t.NFrames
	t.XsEnd = t.Xs + t.XSize
	t.YsEnd = t.Ys + t.YSize
	t.ZsEnd = t.Zs + t.NFrames
}

// TileSet is the ordered tile table. Order is significant: it fixes the
// spanning-tree root (first row) and the fusion iteration order.
type TileSet struct {
	Tiles  []*Tile
	byName map[string]*Tile
	index  map[string]int
}

// NewTileSet builds a table from tile records, rejecting duplicate names.
func NewTileSet(tiles []*Tile) (*TileSet, error) {
	ts := &TileSet{
		Tiles:  tiles,
		byName: make(map[string]*Tile, len(tiles)),
		index:  make(map[string]int, len(tiles)),
	}
	for i, t := range tiles {
		if _, dup := ts.byName[t.Name]; dup {
			return nil, fmt.Errorf("duplicate tile %q", t.Name)
		}
		ts.byName[t.Name] = t
		ts.index[t.Name] = i
	}
	return ts, nil
}

func (ts *TileSet) Len() int { return len(ts.Tiles) }

// Get returns the tile named name, or nil.
func (ts *TileSet) Get(name string) *Tile { return ts.byName[name] }

// ID returns the stable integer id of a tile, suitable as a graph node id.
func (ts *TileSet) ID(name string) (int, bool) {
	i, ok := ts.index[name]
	return i, ok
}

// Reindex rebuilds the name index after the table order changed.
func (ts *TileSet) Reindex() {
	for i, t := range ts.Tiles {
		ts.index[t.Name] = i
	}
}

// Sort orders the table in place by the given grid keys, most significant
// first, with the tile name as the final tie-break.
func (ts *TileSet) Sort(keys ...Key) {
	sort.SliceStable(ts.Tiles, func(i, j int) bool {
		a, b := ts.Tiles[i], ts.Tiles[j]
		for _, k := range keys {
			if av, bv := a.Grid(k), b.Grid(k); av != bv {
				return av < bv
			}
		}
		return a.Name < b.Name
	})
	ts.Reindex()
}

// SortedBy returns a new ordering of the tiles without disturbing the table.
func SortedBy(tiles []*Tile, keys ...Key) []*Tile {
	out := make([]*Tile, len(tiles))
	copy(out, tiles)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		for _, k := range keys {
			if av, bv := a.Grid(k), b.Grid(k); av != bv {
				return av < bv
			}
		}
		return a.Name < b.Name
	})
	return out
}

// Distinct returns the number of distinct values of a grid key.
func (ts *TileSet) Distinct(key Key) int {
	seen := make(map[int]struct{})
	for _, t := range ts.Tiles {
		seen[t.Grid(key)] = struct{}{}
	}
	return len(seen)
}

// Pair is one externally measured registration between two physically
// adjacent tiles. Dz, Dy, Dx are the raw pixel shifts reported by the
// registration collaborator in the overlap frame; Score is its confidence
// in [0,1]. Pz, Py, Px are filled in by the position estimator: the
// expected absolute-position displacement from A to B implied by the
// measurement and the tile ordering conventions.
type Pair struct {
	A, B  string
	Axis  Axis
	Dz    float64
	Dy    float64
	Dx    float64
	Score float64

	Pz, Py, Px float64
	Resolved   bool
}

// OverlapRegion is the part of a tile's pixels shared with one neighbor,
// expressed in the owning tile's local coordinates. The blending ramp runs
// along Axis: across columns for along-X adjacency, across rows for
// along-Y adjacency.
type OverlapRegion struct {
	Partner string
	Axis    Axis

	ZFrom, ZTo int // frames, exclusive end
	YFrom, YTo int // rows
	XFrom, XTo int // columns

	// Reverse flips the ramp: normally the weight of the already-placed
	// partner starts at 1 on the low-index edge of the region; when the
	// partner lies on the high-index side the ramp runs the other way.
	Reverse bool
}

// Frames returns the number of frames spanned by the region.
func (o OverlapRegion) Frames() int { return o.ZTo - o.ZFrom }
