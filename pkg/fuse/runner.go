// Package fuse streams the positioned tiles into the final output volume.
// The output is far too large for memory, so it is produced in consecutive
// Z chunks sized to a memory budget: per chunk, one producer reads tile
// frame ranges and one consumer owns the working buffer, blends overlap
// seams with a raised-cosine ramp, and appends the finished frames to the
// output container.
package fuse

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"stitchvol/internal/models"
	"stitchvol/pkg/input"
	"stitchvol/pkg/mosaic"
	"stitchvol/pkg/tiff"
)

var (
	// ErrShapeMismatch reports a geometry disagreement between a tile
	// slice, its overlap regions and the chunk buffer. It indicates a
	// registration or positioning bug, not a recoverable input problem.
	ErrShapeMismatch = errors.New("blend shape mismatch")

	// ErrNoMemory reports a budget too small to fit even one output frame.
	ErrNoMemory = errors.New("memory budget below one output frame")
)

// OverlapSource yields the registered overlap regions owned by a tile.
type OverlapSource interface {
	Overlaps(name string) []models.OverlapRegion
}

// Params configures a fusion run.
type Params struct {
	Grid     *mosaic.Grid
	Overlaps OverlapSource
	Open     input.StackOpener

	OutputPath string

	// MemoryBytes caps working memory; 0 detects available memory.
	// MemoryFraction is the safety margin applied to it.
	MemoryBytes    int64
	MemoryFraction float64

	// QueueDepth bounds producer read-ahead.
	QueueDepth int

	// ZMin and ZMax window the output thickness; ZMax 0 means full.
	ZMin, ZMax int
}

// Runner fuses one mosaic.
type Runner struct {
	p Params

	meta models.StackMeta // geometry conventions of the first tile
}

// New creates a fusion runner.
func New(p Params) *Runner {
	if p.MemoryFraction <= 0 {
		p.MemoryFraction = 2.0 / 3.0
	}
	if p.QueueDepth <= 0 {
		p.QueueDepth = 20
	}
	return &Runner{p: p}
}

// Run fuses every chunk in order and writes the output file.
func (r *Runner) Run() error {
	ts := r.p.Grid.TileSet()

	// Pixel type and channel count come from the first tile, as does the
	// convention for every other stack.
	first, err := r.p.Open(ts.Tiles[0].Name)
	if err != nil {
		return fmt.Errorf("probing first tile: %w", err)
	}
	r.meta = first.Meta()
	first.Close()

	width := r.p.Grid.FullWidth()
	height := r.p.Grid.FullHeight()
	zMin := r.p.ZMin
	zMax := r.p.ZMax
	if zMax == 0 || zMax > r.p.Grid.FullThickness() {
		zMax = r.p.Grid.FullThickness()
	}
	thickness := zMax - zMin
	if thickness <= 0 {
		return fmt.Errorf("empty output window [%d:%d)", zMin, zMax)
	}

	itemSize := r.meta.DType.ItemSize()
	channels := r.meta.Channels
	totalBytes := int64(thickness) * int64(channels) * int64(height) * int64(width) * int64(itemSize)
	big := tiff.NeedBig(totalBytes)

	budget := r.p.MemoryBytes
	if budget == 0 {
		budget = availableMemory()
	}
	planeBytes := int64(channels) * int64(height) * int64(width) * 4
	framesPerChunk := int(float64(budget) * r.p.MemoryFraction / float64(planeBytes))
	if framesPerChunk < 1 {
		return fmt.Errorf("%w: budget %s, frame needs %s",
			ErrNoMemory, humanize.IBytes(uint64(budget)), humanize.IBytes(uint64(planeBytes)))
	}
	if framesPerChunk > thickness {
		framesPerChunk = thickness
	}

	chunks := chunkSizes(thickness, framesPerChunk)

	slog.Info("fusing",
		"output", r.p.OutputPath,
		"shape", fmt.Sprintf("%dx%dx%d", width, height, thickness),
		"channels", channels,
		"dtype", r.meta.DType,
		"totalSize", humanize.IBytes(uint64(totalBytes)),
		"bigtiff", big,
		"framesPerChunk", framesPerChunk,
		"chunks", len(chunks))

	var out *tiff.Writer
	chunkStart := zMin
	for ci, ck := range chunks {
		buf := newBuffer(ck, channels, height, width)
		if err := r.fuseChunk(buf, chunkStart, chunkStart+ck); err != nil {
			if out != nil {
				out.Close()
			}
			return fmt.Errorf("chunk %d: %w", ci, err)
		}

		if out == nil {
			out, err = tiff.Create(r.p.OutputPath, big)
			if err != nil {
				return err
			}
		}
		if err := r.emit(out, buf); err != nil {
			out.Close()
			return fmt.Errorf("chunk %d: %w", ci, err)
		}
		slog.Info("chunk written", "chunk", ci, "frames", ck)
		chunkStart += ck
	}

	return out.Close()
}

// chunkSizes partitions the output thickness into full chunks of
// framesPerChunk frames plus one remainder chunk.
func chunkSizes(thickness, framesPerChunk int) []int {
	chunks := make([]int, 0, thickness/framesPerChunk+1)
	for n := 0; n < thickness/framesPerChunk; n++ {
		chunks = append(chunks, framesPerChunk)
	}
	if rem := thickness % framesPerChunk; rem > 0 {
		chunks = append(chunks, rem)
	}
	return chunks
}

// fuseChunk runs the producer/consumer pair for one chunk. The queue is
// bounded so the producer cannot read ahead of blending throughput, and
// closing it is the end-of-chunk sentinel.
func (r *Runner) fuseChunk(buf *buffer, zFrom, zTo int) error {
	q := make(chan tileSlice, r.p.QueueDepth)

	var g errgroup.Group
	g.Go(func() error {
		var firstErr error
		for m := range q {
			if firstErr != nil {
				continue // keep draining so the producer never blocks
			}
			firstErr = buf.place(m)
		}
		return firstErr
	})

	produceErr := r.produce(q, zFrom, zTo)
	close(q)
	if err := g.Wait(); err != nil {
		return err
	}
	return produceErr
}

// produce reads every tile's frames intersecting [zFrom, zTo) and queues
// them. Tiles entirely outside the window are expected control flow, not
// errors.
func (r *Runner) produce(q chan<- tileSlice, zFrom, zTo int) error {
	for _, t := range r.p.Grid.TileSet().Tiles {
		from := zFrom - t.Zs
		to := zTo - t.Zs
		if to > t.NFrames {
			to = t.NFrames
		}
		if from < 0 {
			from = 0
		}
		if from >= to {
			continue
		}

		stack, err := r.p.Open(t.Name)
		if err != nil {
			return fmt.Errorf("opening tile %s: %w", t.Name, err)
		}
		m := stack.Meta()
		if m.XSize != t.XSize || m.YSize != t.YSize || m.Channels != r.meta.Channels {
			stack.Close()
			return fmt.Errorf("%w: tile %s stack is %dx%dx%d ch%d, manifest says %dx%d ch%d",
				ErrShapeMismatch, t.Name, m.XSize, m.YSize, m.NFrames, m.Channels,
				t.XSize, t.YSize, r.meta.Channels)
		}
		slog.Debug("reading tile", "tile", t.Name, "frames", fmt.Sprintf("[%d:%d)", from, to))
		data, err := stack.ReadFrames(from, to)
		stack.Close()
		if err != nil {
			return fmt.Errorf("reading tile %s: %w", t.Name, err)
		}

		var regions []models.OverlapRegion
		for _, ov := range r.p.Overlaps.Overlaps(t.Name) {
			if ov.ZFrom >= to || ov.ZTo <= from {
				continue
			}
			ov.ZFrom -= from
			ov.ZTo -= from
			if ov.ZFrom < 0 {
				ov.ZFrom = 0
			}
			regions = append(regions, ov)
		}

		q <- tileSlice{
			name:     t.Name,
			data:     data,
			frames:   to - from,
			height:   t.YSize,
			width:    t.XSize,
			origin:   [3]int{t.Zs + from - zFrom, t.Ys, t.Xs},
			overlaps: regions,
		}
	}
	return nil
}

// emit casts the finished chunk to the output pixel type, moves the
// channel axis innermost for multichannel sources, and appends one page
// per frame.
func (r *Runner) emit(out *tiff.Writer, buf *buffer) error {
	dt := r.meta.DType
	itemSize := dt.ItemSize()
	page := make([]byte, buf.height*buf.width*buf.channels*itemSize)

	for f := 0; f < buf.frames; f++ {
		p := 0
		for y := 0; y < buf.height; y++ {
			for x := 0; x < buf.width; x++ {
				for c := 0; c < buf.channels; c++ {
					v := buf.data[buf.idx(f, c, y, x)]
					switch dt {
					case models.Uint8:
						page[p] = uint8(clampRound(v, 0, 255))
					case models.Uint16:
						binary.LittleEndian.PutUint16(page[p:], uint16(clampRound(v, 0, 65535)))
					case models.Float32:
						binary.LittleEndian.PutUint32(page[p:], math.Float32bits(v))
					}
					p += itemSize
				}
			}
		}
		if err := out.AppendPage(page, buf.width, buf.height, buf.channels, dt); err != nil {
			return err
		}
	}
	return nil
}

func clampRound(v float32, lo, hi float64) float64 {
	r := math.Round(float64(v))
	if r < lo {
		return lo
	}
	if r > hi {
		return hi
	}
	return r
}
