package fuse

import (
	"fmt"
	"math"

	"stitchvol/internal/models"
)

// buffer is one chunk's working image at float32 precision, laid out
// frame, channel, row, column. It is owned exclusively by the consumer
// goroutine for the chunk's lifetime.
type buffer struct {
	frames, channels, height, width int
	data                            []float32
}

func newBuffer(frames, channels, height, width int) *buffer {
	return &buffer{
		frames:   frames,
		channels: channels,
		height:   height,
		width:    width,
		data:     make([]float32, frames*channels*height*width),
	}
}

func (b *buffer) idx(f, c, y, x int) int {
	return ((f*b.channels+c)*b.height+y)*b.width + x
}

// tileSlice is one unit of fusion work: a tile's frames intersecting the
// current chunk, the tile's write origin in chunk coordinates, and the
// overlap regions rebased to the slice's local frame range.
type tileSlice struct {
	name     string
	data     []float32 // frames*channels*height*width
	frames   int
	height   int
	width    int
	origin   [3]int // z, y, x
	overlaps []models.OverlapRegion
}

// rampWeight is the raised-cosine blending weight at position i of an
// overlap extent n: 1 at one edge, 0 at the other, 0.5 at the midpoint,
// with no discontinuity at either end.
func rampWeight(i, n int, reverse bool) float32 {
	if n <= 1 {
		return 0.5
	}
	pos := float64(i)
	if reverse {
		pos = float64(n-1) - pos
	}
	return float32((math.Cos(math.Pi*pos/float64(n-1)) + 1) / 2)
}

// place writes one tile slice into the chunk buffer. Pixels inside a
// registered overlap are blended against what the partner tile already
// wrote; everything else is placed directly.
func (b *buffer) place(m tileSlice) error {
	oz, oy, ox := m.origin[0], m.origin[1], m.origin[2]
	if oz < 0 || oy < 0 || ox < 0 ||
		oz+m.frames > b.frames || oy+m.height > b.height || ox+m.width > b.width {
		return fmt.Errorf("%w: tile %s slab %dx%dx%d at (%d,%d,%d) outside %dx%dx%d buffer",
			ErrShapeMismatch, m.name, m.frames, m.height, m.width,
			oz, oy, ox, b.frames, b.height, b.width)
	}
	if want := m.frames * b.channels * m.height * m.width; len(m.data) != want {
		return fmt.Errorf("%w: tile %s slice has %d samples, want %d",
			ErrShapeMismatch, m.name, len(m.data), want)
	}

	// Blend each overlap region into the incoming pixels first, so the
	// plain copy below carries the blended seam with it.
	for _, ov := range m.overlaps {
		if err := b.blend(&m, ov); err != nil {
			return err
		}
	}

	lidx := func(f, c, y, x int) int {
		return ((f*b.channels+c)*m.height+y)*m.width + x
	}
	for f := 0; f < m.frames; f++ {
		for c := 0; c < b.channels; c++ {
			for y := 0; y < m.height; y++ {
				src := lidx(f, c, y, 0)
				dst := b.idx(oz+f, c, oy+y, ox)
				copy(b.data[dst:dst+m.width], m.data[src:src+m.width])
			}
		}
	}
	return nil
}

// blend mixes the buffer's current pixels into the incoming region with
// the raised-cosine ramp running along the overlap's adjacency axis.
func (b *buffer) blend(m *tileSlice, ov models.OverlapRegion) error {
	zFrom, zTo := max(ov.ZFrom, 0), min(ov.ZTo, m.frames)
	if zFrom >= zTo {
		return nil
	}
	if ov.YFrom < 0 || ov.YTo > m.height || ov.XFrom < 0 || ov.XTo > m.width ||
		ov.YFrom >= ov.YTo || ov.XFrom >= ov.XTo {
		return fmt.Errorf("%w: tile %s overlap with %s rows [%d:%d) cols [%d:%d) outside %dx%d tile",
			ErrShapeMismatch, m.name, ov.Partner,
			ov.YFrom, ov.YTo, ov.XFrom, ov.XTo, m.height, m.width)
	}

	oz, oy, ox := m.origin[0], m.origin[1], m.origin[2]
	rampN := ov.XTo - ov.XFrom
	if ov.Axis == models.AxisY {
		rampN = ov.YTo - ov.YFrom
	}

	for f := zFrom; f < zTo; f++ {
		for c := 0; c < b.channels; c++ {
			for y := ov.YFrom; y < ov.YTo; y++ {
				for x := ov.XFrom; x < ov.XTo; x++ {
					var alpha float32
					if ov.Axis == models.AxisY {
						alpha = rampWeight(y-ov.YFrom, rampN, ov.Reverse)
					} else {
						alpha = rampWeight(x-ov.XFrom, rampN, ov.Reverse)
					}
					li := ((f*b.channels+c)*m.height+y)*m.width + x
					have := b.data[b.idx(oz+f, c, oy+y, ox+x)]
					m.data[li] = have*alpha + m.data[li]*(1-alpha)
				}
			}
		}
	}
	return nil
}
