package mosaic

import (
	"stitchvol/internal/models"
)

// Overlaps indexes the geometric overlap regions of a positioned grid by
// the name of the tile that owns them. A region is owned by whichever tile
// of an adjacent pair comes later in table order, so that during fusion the
// partner's pixels are already in the output buffer when the owner arrives.
type Overlaps map[string][]models.OverlapRegion

// Overlaps returns the regions owned by a tile.
func (o Overlaps) Overlaps(name string) []models.OverlapRegion { return o[name] }

// ComputeOverlaps intersects the absolute bounding boxes of every adjacent
// tile pair. Valid only after absolute positions have been estimated.
func (g *Grid) ComputeOverlaps() Overlaps {
	out := make(Overlaps)

	add := func(a, b *models.Tile, axis models.Axis) {
		x0 := max(a.Xs, b.Xs)
		x1 := min(a.XsEnd, b.XsEnd)
		y0 := max(a.Ys, b.Ys)
		y1 := min(a.YsEnd, b.YsEnd)
		z0 := max(a.Zs, b.Zs)
		z1 := min(a.ZsEnd, b.ZsEnd)
		if x1 <= x0 || y1 <= y0 || z1 <= z0 {
			return
		}

		// Owner is the later tile in table order.
		ia, _ := g.ts.ID(a.Name)
		ib, _ := g.ts.ID(b.Name)
		owner, partner := b, a
		if ia > ib {
			owner, partner = a, b
		}

		// The ramp starts at weight 1 on the region edge adjacent to the
		// partner's interior. When the partner extends past the region on
		// the high-coordinate side, the ramp runs in reverse.
		var reverse bool
		if axis == models.AxisX {
			reverse = partner.Xs > owner.Xs
		} else {
			reverse = partner.Ys > owner.Ys
		}

		out[owner.Name] = append(out[owner.Name], models.OverlapRegion{
			Partner: partner.Name,
			Axis:    axis,
			ZFrom:   z0 - owner.Zs,
			ZTo:     z1 - owner.Zs,
			YFrom:   y0 - owner.Ys,
			YTo:     y1 - owner.Ys,
			XFrom:   x0 - owner.Xs,
			XTo:     x1 - owner.Xs,
			Reverse: reverse,
		})
	}

	for _, group := range g.TilesAlongX() {
		for i := 0; i+1 < len(group); i++ {
			add(group[i], group[i+1], models.AxisX)
		}
	}
	for _, group := range g.TilesAlongY() {
		for i := 0; i+1 < len(group); i++ {
			add(group[i], group[i+1], models.AxisY)
		}
	}
	return out
}
