package optimize

import (
	"fmt"
	"log/slog"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"stitchvol/internal/models"
	"stitchvol/pkg/config"
	"stitchvol/pkg/mosaic"
)

// assembly is the optimization problem together with the starting decision
// vector derived from the spanning-tree estimate and the mapping from grid
// cells back to tiles.
type assembly struct {
	p      *Problem
	start  DecisionVector
	tileAt []*models.Tile
	scores []float64
}

// Refine replaces the spanning-tree position estimate with the champion of
// the annealing ensemble. With fewer than two measurements along an axis
// that axis is skipped; with both axes degenerate the stage is a no-op and
// the spanning-tree estimate stands.
func Refine(g *mosaic.Grid, pairs []models.Pair, cfg *config.Config) error {
	ts := g.TileSet()
	if ts.Len() < 2 {
		return nil
	}

	a, err := assemble(g, pairs, cfg)
	if err != nil {
		return err
	}
	if a == nil {
		return nil
	}

	f0 := a.p.Fitness(a.start.V)
	sched := Schedule{
		TStart: cfg.Optimizer.TStart,
		TFinal: cfg.Optimizer.TFinal,
		TSteps: cfg.Optimizer.TSteps,
		Sweeps: cfg.Optimizer.Sweeps,
	}
	slog.Info("global optimization",
		"tiles", ts.Len(),
		"islands", cfg.Optimizer.Islands,
		"meanScore", stat.Mean(a.scores, nil),
		"initialFitness", f0)

	res := Ensemble(a.p, a.start.V, sched, cfg.Optimizer.Islands, cfg.Optimizer.Seed)
	if res.Fitness > f0 {
		// Every island starts at the estimate, so this cannot happen; keep
		// the estimate if it somehow does.
		slog.Warn("optimizer champion worse than estimate, keeping estimate",
			"champion", res.Fitness, "initial", f0)
		return nil
	}
	slog.Info("global optimization done", "championFitness", res.Fitness)

	coords := DecisionVector{NY: a.p.NY, NX: a.p.NX, V: res.X}.TileCoords()
	minC := [comps]float64{math.Inf(1), math.Inf(1), math.Inf(1)}
	for cell := range a.tileAt {
		for c := 0; c < comps; c++ {
			minC[c] = math.Min(minC[c], coords[cell*comps+c])
		}
	}
	for cell, t := range a.tileAt {
		t.Zs = int(math.Round(coords[cell*comps+0] - minC[0]))
		t.Ys = int(math.Round(coords[cell*comps+1] - minC[1]))
		t.Xs = int(math.Round(coords[cell*comps+2] - minC[2]))
		t.UpdateEnds()
	}
	return nil
}

// assemble builds the objective, its bounds and the starting decision
// vector. It returns nil when both measurement axes are degenerate and
// there is nothing to optimize.
func assemble(g *mosaic.Grid, pairs []models.Pair, cfg *config.Config) (*assembly, error) {
	ts := g.TileSet()
	conv := g.Conventions()

	// Ranks follow the declared tile ordering convention, so cell (i, j+1)
	// is always the physical right neighbor of cell (i, j) and the resolved
	// stride displacements land in the positive search window.
	rankY := ranks(ts, models.KeyY, conv.Ascending(models.AxisY))
	rankX := ranks(ts, models.KeyX, conv.Ascending(models.AxisX))
	ny, nx := len(rankY), len(rankX)

	tileAt := make([]*models.Tile, ny*nx)
	for _, t := range ts.Tiles {
		tileAt[rankY[t.Y]*nx+rankX[t.X]] = t
	}
	for cell, t := range tileAt {
		if t == nil {
			return nil, fmt.Errorf("grid cell %d/%d has no tile", cell/nx, cell%nx)
		}
	}

	p := &Problem{
		NY: ny, NX: nx,
		PY: make([]float64, comps*ny*nx),
		PX: make([]float64, comps*ny*nx),
		SY: make([]float64, ny*nx),
		SX: make([]float64, ny*nx),
	}

	var nAlongX, nAlongY int
	var scores []float64
	for i := range pairs {
		pr := &pairs[i]
		if !pr.Resolved {
			continue
		}
		a, b := ts.Get(pr.A), ts.Get(pr.B)
		if a == nil || b == nil {
			return nil, fmt.Errorf("pair references unknown tile %s/%s", pr.A, pr.B)
		}

		// Index the measurement at the source cell: the tile the
		// displacement vector points away from, which in rank space is
		// always the lower rank.
		src, pz, py, px := a, pr.Pz, pr.Py, pr.Px
		if (pr.Axis == models.AxisX && rankX[b.X] < rankX[a.X]) ||
			(pr.Axis == models.AxisY && rankY[b.Y] < rankY[a.Y]) {
			src, pz, py, px = b, -pr.Pz, -pr.Py, -pr.Px
		}
		cell := rankY[src.Y]*nx + rankX[src.X]
		base := cell * comps

		// Duplicate measurements of one adjacency keep the best score, so
		// the cell holds the same measurement the spanning tree used.
		if pr.Axis == models.AxisX {
			if pr.Score <= p.SX[cell] {
				continue
			}
			if p.SX[cell] == 0 {
				nAlongX++
			}
			p.PX[base], p.PX[base+1], p.PX[base+2] = pz, py, px
			p.SX[cell] = pr.Score
		} else {
			if pr.Score <= p.SY[cell] {
				continue
			}
			if p.SY[cell] == 0 {
				nAlongY++
			}
			p.PY[base], p.PY[base+1], p.PY[base+2] = pz, py, px
			p.SY[cell] = pr.Score
		}
		scores = append(scores, pr.Score)
	}

	if nAlongX < 2 {
		for i := range p.SX {
			p.SX[i] = 0
		}
	}
	if nAlongY < 2 {
		for i := range p.SY {
			p.SY[i] = 0
		}
	}
	if nAlongX < 2 && nAlongY < 2 {
		slog.Info("global optimization skipped: degenerate measurement set",
			"alongX", nAlongX, "alongY", nAlongY)
		return nil, nil
	}

	xsize := make([]int, ny*nx)
	ysize := make([]int, ny*nx)
	for cell, t := range tileAt {
		xsize[cell] = t.XSize
		ysize[cell] = t.YSize
	}
	p.SetBounds(Bounds{
		MaxShift:     cfg.Optimizer.MaxShift,
		ShiftLateral: cfg.Optimizer.ShiftLateral,
		ShiftZ:       cfg.Optimizer.ShiftZ,
	}, xsize, ysize)

	// Initial decision vector: the discrete difference of the spanning-tree
	// estimate, so every island starts from the current best answer.
	t0 := make([]float64, comps*ny*nx)
	for cell, t := range tileAt {
		t0[cell*comps+0] = float64(t.Zs)
		t0[cell*comps+1] = float64(t.Ys)
		t0[cell*comps+2] = float64(t.Xs)
	}
	dv, err := FromCoords(t0, ny, nx)
	if err != nil {
		return nil, err
	}

	// A degenerate axis contributes no residual terms, so its displacement
	// cells sit in the objective's null space and equal-fitness proposals
	// would walk them away from the estimate. Pin them to the start: row 0
	// belongs to the along-X measurements, every other row to the along-Y
	// measurements.
	if nAlongX < 2 || nAlongY < 2 {
		for i := 0; i < ny; i++ {
			pin := (i == 0 && nAlongX < 2) || (i > 0 && nAlongY < 2)
			if !pin {
				continue
			}
			for j := 0; j < nx; j++ {
				for c := 0; c < comps; c++ {
					d := (i*nx+j)*comps + c
					p.Lo[d], p.Hi[d] = dv.V[d], dv.V[d]
				}
			}
		}
	}

	return &assembly{p: p, start: dv, tileAt: tileAt, scores: scores}, nil
}

// ranks maps each distinct grid coordinate value to its physical rank:
// ascending conventions rank the lowest value first, descending conventions
// the highest.
func ranks(ts *models.TileSet, key models.Key, ascending bool) map[int]int {
	seen := make(map[int]struct{})
	for _, t := range ts.Tiles {
		seen[t.Grid(key)] = struct{}{}
	}
	vals := make([]int, 0, len(seen))
	for v := range seen {
		vals = append(vals, v)
	}
	sort.Ints(vals)
	out := make(map[int]int, len(vals))
	for r, v := range vals {
		if ascending {
			out[v] = r
		} else {
			out[v] = len(vals) - 1 - r
		}
	}
	return out
}
