// Package position estimates an absolute pixel position for every tile
// from the pairwise registration measurements. A minimum spanning tree
// over the overlap graph, weighted by one minus the registration
// confidence, keeps only the most trustworthy measurement chain; a
// depth-first walk from the first tile of the table then propagates
// positions edge by edge. The result is the initial guess refined by the
// global optimizer, and the final answer when refinement is degenerate.
package position

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"stitchvol/internal/models"
	"stitchvol/pkg/mosaic"
)

// ErrDisconnected reports an overlap graph that does not reach every tile:
// no position can be inferred for the unreached tiles.
var ErrDisconnected = errors.New("overlap graph is disconnected")

type edgeKey struct{ lo, hi int64 }

func keyOf(u, v int64) edgeKey {
	if u > v {
		u, v = v, u
	}
	return edgeKey{u, v}
}

// Estimate fills in the absolute position columns of every tile in the
// grid and resolves each pair's expected absolute displacement vector
// (Pz, Py, Px) for the optimizer. Pairs are mutated in place.
func Estimate(g *mosaic.Grid, pairs []models.Pair) error {
	ts := g.TileSet()
	n := ts.Len()

	if n == 1 {
		t := ts.Tiles[0]
		t.Xs, t.Ys, t.Zs = 0, 0, 0
		t.UpdateEnds()
		return nil
	}

	wg := simple.NewWeightedUndirectedGraph(0, math.Inf(1))
	for i := 0; i < n; i++ {
		wg.AddNode(simple.Node(i))
	}

	byEdge := make(map[edgeKey]int)
	for i := range pairs {
		p := &pairs[i]
		ai, ok := ts.ID(p.A)
		if !ok {
			return fmt.Errorf("pair references unknown tile %q", p.A)
		}
		bi, ok := ts.ID(p.B)
		if !ok {
			return fmt.Errorf("pair references unknown tile %q", p.B)
		}
		if ai == bi {
			return fmt.Errorf("pair %s/%s links a tile to itself", p.A, p.B)
		}

		k := keyOf(int64(ai), int64(bi))
		w := 1 - p.Score
		if prev, dup := byEdge[k]; dup && pairs[prev].Score >= p.Score {
			continue
		}
		byEdge[k] = i
		wg.SetWeightedEdge(simple.WeightedEdge{
			F: simple.Node(ai), T: simple.Node(bi), W: w,
		})
	}

	if comps := topo.ConnectedComponents(wg); len(comps) > 1 {
		return fmt.Errorf("%w: %d tiles split into %d components",
			ErrDisconnected, n, len(comps))
	}

	mst := simple.NewWeightedUndirectedGraph(0, math.Inf(1))
	path.Kruskal(mst, wg)

	// Resolve expected displacements for every measurement, not only the
	// tree edges: the optimizer consumes them all.
	for i := range pairs {
		resolvePair(g, &pairs[i])
	}

	xs := make([]float64, n)
	ys := make([]float64, n)
	zs := make([]float64, n)

	// Depth-first walk of the tree from the first tile in table order.
	visited := make([]bool, n)
	stack := []int64{0}
	visited[0] = true
	for len(stack) > 0 {
		u := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		it := mst.From(u)
		for it.Next() {
			v := it.Node().ID()
			if visited[v] {
				continue
			}
			visited[v] = true

			p := &pairs[byEdge[keyOf(u, v)]]
			dz, dy, dx := propagated(g, p, ts.Tiles[u].Name)
			zs[v] = zs[u] + dz
			ys[v] = ys[u] + dy
			xs[v] = xs[u] + dx

			stack = append(stack, v)
		}
	}

	minX, minY, minZ := xs[0], ys[0], zs[0]
	for i := 1; i < n; i++ {
		minX = math.Min(minX, xs[i])
		minY = math.Min(minY, ys[i])
		minZ = math.Min(minZ, zs[i])
	}
	for i, t := range ts.Tiles {
		t.Xs = int(math.Round(xs[i] - minX))
		t.Ys = int(math.Round(ys[i] - minY))
		t.Zs = int(math.Round(zs[i] - minZ))
		t.UpdateEnds()
	}
	return nil
}

// resolvePair computes the absolute displacement from pair.A to pair.B
// implied by the measurement. The along-axis component combines the
// moving tile's stride with the measured overlap shift; its sign comes
// from the grid-coordinate order of the two tiles and the declared tile
// ordering convention. The lateral component is the raw measured shift
// and the frame component follows the Z grid order.
func resolvePair(g *mosaic.Grid, p *models.Pair) {
	ts := g.TileSet()
	a, b := ts.Get(p.A), ts.Get(p.B)
	conv := g.Conventions()

	var axisKey models.Key
	var stride float64
	if p.Axis == models.AxisX {
		axisKey = models.KeyX
		stride = float64(b.XSize)
	} else {
		axisKey = models.KeyY
		stride = float64(b.YSize)
	}

	sign := 1.0
	if b.Grid(axisKey) < a.Grid(axisKey) {
		sign = -1
	}
	if !conv.Ascending(p.Axis) {
		sign = -sign
	}
	signZ := 1.0
	if b.Z < a.Z {
		signZ = -1
	}

	p.Pz = signZ * p.Dz
	if p.Axis == models.AxisX {
		p.Px = sign * (stride - p.Dx)
		p.Py = p.Dy
	} else {
		p.Py = sign * (stride - p.Dy)
		p.Px = p.Dx
	}
	p.Resolved = true
}

// propagated returns the displacement (dz, dy, dx) to apply when walking
// the tree edge from the tile named parent across pair p.
func propagated(g *mosaic.Grid, p *models.Pair, parent string) (dz, dy, dx float64) {
	if !p.Resolved {
		resolvePair(g, p)
	}
	if p.A == parent {
		return p.Pz, p.Py, p.Px
	}
	return -p.Pz, -p.Py, -p.Px
}
