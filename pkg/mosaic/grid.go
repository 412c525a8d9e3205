// Package mosaic models the tile grid: the rectangular layout invariant,
// the grouping of tiles into slices by Z-interval containment, and the
// directional iteration that pairs every tile with its left or top
// neighbor. The grid is the input table of every later pipeline stage.
package mosaic

import (
	"errors"
	"fmt"
	"sort"

	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"stitchvol/internal/models"
	"stitchvol/pkg/config"
)

// ErrInvalidMosaic reports a tile table that does not form a complete
// rectangular X by Y grid.
var ErrInvalidMosaic = errors.New("invalid mosaic")

// Grid is a validated, normalized tile table.
type Grid struct {
	ts   *models.TileSet
	conv config.Conventions
}

// New validates the rectangular-grid invariant, normalizes grid indices so
// each axis starts at zero, and orders the table by (Z, Y, X). The table
// order fixes the spanning-tree root and the fusion iteration order.
func New(ts *models.TileSet, conv config.Conventions) (*Grid, error) {
	nx := ts.Distinct(models.KeyX)
	ny := ts.Distinct(models.KeyY)
	if nx*ny != ts.Len() {
		return nil, fmt.Errorf("%w: mosaic is %dx%d tiles, but there are %d files",
			ErrInvalidMosaic, nx, ny, ts.Len())
	}

	minX, minY, minZ := ts.Tiles[0].X, ts.Tiles[0].Y, ts.Tiles[0].Z
	for _, t := range ts.Tiles {
		minX = min(minX, t.X)
		minY = min(minY, t.Y)
		minZ = min(minZ, t.Z)
	}
	for _, t := range ts.Tiles {
		t.X -= minX
		t.Y -= minY
		t.Z -= minZ
		t.UpdateEnds()
	}

	ts.Sort(models.KeyZ, models.KeyY, models.KeyX)

	return &Grid{ts: ts, conv: conv}, nil
}

// TileSet exposes the underlying table.
func (g *Grid) TileSet() *models.TileSet { return g.ts }

// Conventions exposes the acquisition conventions the grid was built with.
func (g *Grid) Conventions() config.Conventions { return g.conv }

// NX returns the number of tile columns.
func (g *Grid) NX() int { return g.ts.Distinct(models.KeyX) }

// NY returns the number of tile rows.
func (g *Grid) NY() int { return g.ts.Distinct(models.KeyY) }

// Slices groups tiles into maximal sets whose frame intervals mutually
// overlap: two tiles are linked whenever one tile's [Z, ZEnd) interval
// contains the other's, and slices are the connected components of that
// relation. A tile with no containment partner forms a singleton slice.
func (g *Grid) Slices() [][]*models.Tile {
	ug := simple.NewUndirectedGraph()
	for i := range g.ts.Tiles {
		ug.AddNode(simple.Node(i))
	}

	for _, t := range g.ts.Tiles {
		var view []int
		for j, u := range g.ts.Tiles {
			if u.Z <= t.Z && u.ZEnd >= t.ZEnd {
				view = append(view, j)
			}
		}
		for k := 0; k+1 < len(view); k++ {
			link(ug, view[k], view[k+1])
		}
		if len(view) > 1 {
			link(ug, view[0], view[len(view)-1])
		}
	}

	comps := topo.ConnectedComponents(ug)
	out := make([][]*models.Tile, 0, len(comps))
	for _, comp := range comps {
		ids := make([]int, 0, len(comp))
		for _, n := range comp {
			ids = append(ids, int(n.ID()))
		}
		sort.Ints(ids)
		tiles := make([]*models.Tile, 0, len(ids))
		for _, id := range ids {
			tiles = append(tiles, g.ts.Tiles[id])
		}
		out = append(out, tiles)
	}
	// Deterministic slice order: by first tile in table order.
	sort.Slice(out, func(i, j int) bool {
		a, _ := g.ts.ID(out[i][0].Name)
		b, _ := g.ts.ID(out[j][0].Name)
		return a < b
	})
	return out
}

func link(ug *simple.UndirectedGraph, a, b int) {
	if a == b {
		return
	}
	ug.SetEdge(simple.Edge{F: simple.Node(a), T: simple.Node(b)})
}

// TilesAlong returns, slice by slice, the subgroups of tiles sharing the
// same groupKey coordinate, each subgroup ordered by sortKeys. Consecutive
// tiles within a subgroup are the adjacent pairs along the iteration axis.
func (g *Grid) TilesAlong(sortKeys []models.Key, groupKey models.Key) [][]*models.Tile {
	var out [][]*models.Tile
	for _, slice := range g.Slices() {
		sorted := models.SortedBy(slice, sortKeys...)

		groups := make(map[int][]*models.Tile)
		var keys []int
		for _, t := range sorted {
			k := t.Grid(groupKey)
			if _, seen := groups[k]; !seen {
				keys = append(keys, k)
			}
			groups[k] = append(groups[k], t)
		}
		sort.Ints(keys)
		for _, k := range keys {
			out = append(out, groups[k])
		}
	}
	return out
}

// TilesAlongX returns the groups of tiles to be paired along X: tiles
// sharing a Y coordinate, ordered by (Z, X, Y).
func (g *Grid) TilesAlongX() [][]*models.Tile {
	return g.TilesAlong([]models.Key{models.KeyZ, models.KeyX, models.KeyY}, models.KeyY)
}

// TilesAlongY returns the groups of tiles to be paired along Y: tiles
// sharing an X coordinate, ordered by (Z, Y, X).
func (g *Grid) TilesAlongY() [][]*models.Tile {
	return g.TilesAlong([]models.Key{models.KeyZ, models.KeyY, models.KeyX}, models.KeyX)
}

// FullWidth is the fused output width, valid once absolute positions are set.
func (g *Grid) FullWidth() int {
	w := 0
	for _, t := range g.ts.Tiles {
		w = max(w, t.XsEnd)
	}
	return w
}

// FullHeight is the fused output height.
func (g *Grid) FullHeight() int {
	h := 0
	for _, t := range g.ts.Tiles {
		h = max(h, t.YsEnd)
	}
	return h
}

// FullThickness is the fused output frame count.
func (g *Grid) FullThickness() int {
	d := 0
	for _, t := range g.ts.Tiles {
		d = max(d, t.ZsEnd)
	}
	return d
}
