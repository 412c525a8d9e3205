// Package optimize refines the spanning-tree position estimate by
// minimizing, over the whole grid at once, the confidence-weighted squared
// deviation between each tile's reconstructed displacement from its
// row/column neighbor and the independently measured registration
// displacement for that pair. The search variable is the decision vector:
// one (z, y, x) displacement per tile, row 0 relative to the left
// neighbor, every other row relative to the top neighbor.
package optimize

import (
	"fmt"
)

// comps is the number of displacement components per tile (z, y, x).
const comps = 3

// DecisionVector is the flattened per-tile relative-displacement field.
// Index layout: (row*NX + col)*3 + component, components ordered z, y, x.
type DecisionVector struct {
	NY, NX int
	V      []float64
}

// NewDecisionVector allocates a zero vector for an NY by NX grid.
func NewDecisionVector(ny, nx int) DecisionVector {
	return DecisionVector{NY: ny, NX: nx, V: make([]float64, comps*ny*nx)}
}

func (d DecisionVector) at(i, j, c int) int { return (i*d.NX+j)*comps + c }

// TileCoords reconstructs absolute tile coordinates from the displacement
// field: a cumulative sum along row 0, then a cumulative sum down every
// column. The result uses the same flattened layout.
func (d DecisionVector) TileCoords() []float64 {
	t := make([]float64, len(d.V))
	copy(t, d.V)

	for j := 1; j < d.NX; j++ {
		for c := 0; c < comps; c++ {
			t[d.at(0, j, c)] += t[d.at(0, j-1, c)]
		}
	}
	for i := 1; i < d.NY; i++ {
		for j := 0; j < d.NX; j++ {
			for c := 0; c < comps; c++ {
				t[d.at(i, j, c)] += t[d.at(i-1, j, c)]
			}
		}
	}
	return t
}

// FromCoords rebuilds the displacement field from absolute coordinates by
// discrete difference along the same axes. It is the exact inverse of
// TileCoords.
func FromCoords(t []float64, ny, nx int) (DecisionVector, error) {
	if len(t) != comps*ny*nx {
		return DecisionVector{}, fmt.Errorf("coordinate field has %d values, want %d",
			len(t), comps*ny*nx)
	}
	d := NewDecisionVector(ny, nx)
	copy(d.V, t)

	for i := ny - 1; i >= 1; i-- {
		for j := 0; j < nx; j++ {
			for c := 0; c < comps; c++ {
				d.V[d.at(i, j, c)] -= t[d.at(i-1, j, c)]
			}
		}
	}
	for j := nx - 1; j >= 1; j-- {
		for c := 0; c < comps; c++ {
			d.V[d.at(0, j, c)] -= t[d.at(0, j-1, c)]
		}
	}
	return d, nil
}

// Problem is the confidence-weighted least-squares objective plus the
// per-coordinate search bounds. PY holds the measured displacement toward
// the bottom neighbor and PX toward the right neighbor, each indexed at
// the source tile's grid position; SY and SX are the matching confidence
// scores, zero where no measurement exists.
type Problem struct {
	NY, NX int

	PY, PX []float64 // comps*NY*NX
	SY, SX []float64 // NY*NX

	Lo, Hi []float64 // comps*NY*NX
}

func (p *Problem) at(i, j, c int) int { return (i*p.NX+j)*comps + c }

// Fitness reconstructs tile coordinates from x and accumulates the squared
// residual against both measured displacement fields.
func (p *Problem) Fitness(x []float64) float64 {
	d := DecisionVector{NY: p.NY, NX: p.NX, V: x}
	t := d.TileCoords()

	sum := 0.0
	for i := 0; i < p.NY; i++ {
		for j := 0; j < p.NX; j++ {
			if j+1 < p.NX {
				if w := p.SX[i*p.NX+j]; w > 0 {
					var n2 float64
					for c := 0; c < comps; c++ {
						r := t[p.at(i, j+1, c)] - t[p.at(i, j, c)] - p.PX[p.at(i, j, c)]
						n2 += r * r
					}
					sum += w * n2
				}
			}
			if i+1 < p.NY {
				if w := p.SY[i*p.NX+j]; w > 0 {
					var n2 float64
					for c := 0; c < comps; c++ {
						r := t[p.at(i+1, j, c)] - t[p.at(i, j, c)] - p.PY[p.at(i, j, c)]
						n2 += r * r
					}
					sum += w * n2
				}
			}
		}
	}
	return sum
}

// Bounds describes the physically plausible window around each tile's
// nominal stride.
type Bounds struct {
	MaxShift     float64 // stride component within [size-MaxShift, size]
	ShiftLateral float64 // lateral component within +/- ShiftLateral
	ShiftZ       float64 // frame component within +/- ShiftZ
}

// SetBounds fills in the search bounds. xsize and ysize hold each tile's
// pixel size, flattened NY*NX. The root tile's displacement is pinned to
// zero.
func (p *Problem) SetBounds(b Bounds, xsize, ysize []int) {
	n := comps * p.NY * p.NX
	p.Lo = make([]float64, n)
	p.Hi = make([]float64, n)

	for i := 0; i < p.NY; i++ {
		for j := 0; j < p.NX; j++ {
			z, y, x := p.at(i, j, 0), p.at(i, j, 1), p.at(i, j, 2)
			p.Lo[z], p.Hi[z] = -b.ShiftZ, b.ShiftZ
			if i == 0 {
				// Displacement from the left neighbor.
				p.Lo[y], p.Hi[y] = -b.ShiftLateral, b.ShiftLateral
				p.Lo[x] = float64(xsize[i*p.NX+j]) - b.MaxShift
				p.Hi[x] = float64(xsize[i*p.NX+j])
			} else {
				// Displacement from the top neighbor.
				p.Lo[x], p.Hi[x] = -b.ShiftLateral, b.ShiftLateral
				p.Lo[y] = float64(ysize[i*p.NX+j]) - b.MaxShift
				p.Hi[y] = float64(ysize[i*p.NX+j])
			}
		}
	}
	for c := 0; c < comps; c++ {
		p.Lo[c], p.Hi[c] = 0, 0
	}
}
