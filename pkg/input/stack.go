// Package input defines the raw-data collaborator contract: a tile's pixel
// stack with scoped lifetime and frame-range reads. The fusion engine only
// ever asks for a contiguous range of frames cast to working precision, so
// that is the whole surface; concrete decoders for proprietary microscope
// formats live behind the Stack interface.
package input

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"stitchvol/internal/models"
)

// Stack is one tile's raw image stack. Implementations are opened per
// read and released with Close; handles are never held across chunk
// boundaries.
type Stack interface {
	// Meta reports the stack geometry and pixel type.
	Meta() models.StackMeta

	// ReadFrames returns frames [start, end) cast to the float32 working
	// precision, laid out frame, channel, row, column.
	ReadFrames(start, end int) ([]float32, error)

	Close() error
}

// StackOpener opens the stack behind a tile name.
type StackOpener func(name string) (Stack, error)

// RAMStack is an in-memory Stack, used by tests and synthetic pipelines.
type RAMStack struct {
	M    models.StackMeta
	Data []float32
}

// NewRAMStack builds an in-memory stack and verifies the payload size.
func NewRAMStack(m models.StackMeta, data []float32) (*RAMStack, error) {
	want := m.NFrames * m.Channels * m.YSize * m.XSize
	if len(data) != want {
		return nil, fmt.Errorf("stack payload has %d samples, want %d", len(data), want)
	}
	return &RAMStack{M: m, Data: data}, nil
}

func (s *RAMStack) Meta() models.StackMeta { return s.M }

func (s *RAMStack) ReadFrames(start, end int) ([]float32, error) {
	if err := checkRange(start, end, s.M.NFrames); err != nil {
		return nil, err
	}
	frame := s.M.Channels * s.M.YSize * s.M.XSize
	out := make([]float32, (end-start)*frame)
	copy(out, s.Data[start*frame:end*frame])
	return out, nil
}

func (s *RAMStack) Close() error { return nil }

// RawStack reads flat little-endian binary stacks from disk: frames stored
// back to back, each frame channel-major.
type RawStack struct {
	m models.StackMeta
	f *os.File
}

// OpenRaw opens a flat binary stack of known geometry.
func OpenRaw(path string, m models.StackMeta) (*RawStack, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening stack: %w", err)
	}
	return &RawStack{m: m, f: f}, nil
}

func (s *RawStack) Meta() models.StackMeta { return s.m }

func (s *RawStack) ReadFrames(start, end int) ([]float32, error) {
	if err := checkRange(start, end, s.m.NFrames); err != nil {
		return nil, err
	}
	samples := s.m.Channels * s.m.YSize * s.m.XSize
	itm := s.m.DType.ItemSize()
	raw := make([]byte, (end-start)*samples*itm)
	if _, err := s.f.ReadAt(raw, int64(start)*int64(samples*itm)); err != nil {
		return nil, fmt.Errorf("reading frames [%d:%d) of %s: %w", start, end, s.f.Name(), err)
	}

	out := make([]float32, (end-start)*samples)
	switch s.m.DType {
	case models.Uint8:
		for i, b := range raw {
			out[i] = float32(b)
		}
	case models.Uint16:
		for i := range out {
			out[i] = float32(binary.LittleEndian.Uint16(raw[2*i:]))
		}
	case models.Float32:
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
		}
	default:
		return nil, fmt.Errorf("unsupported pixel type %q", s.m.DType)
	}
	return out, nil
}

func (s *RawStack) Close() error { return s.f.Close() }

// RawOpener builds a StackOpener resolving tile names inside dir, with the
// per-tile geometry supplied by the manifest.
func RawOpener(dir string, metaFor func(name string) (models.StackMeta, bool)) StackOpener {
	return func(name string) (Stack, error) {
		m, ok := metaFor(name)
		if !ok {
			return nil, fmt.Errorf("no stack geometry for tile %q", name)
		}
		return OpenRaw(filepath.Join(dir, name), m)
	}
}

// MetaFromTileSet derives per-tile stack geometry from manifest rows,
// with the pixel type and channel count shared across the mosaic.
func MetaFromTileSet(ts *models.TileSet, dt models.DType, channels int) func(name string) (models.StackMeta, bool) {
	return func(name string) (models.StackMeta, bool) {
		t := ts.Get(name)
		if t == nil {
			return models.StackMeta{}, false
		}
		return models.StackMeta{
			NFrames:  t.NFrames,
			XSize:    t.XSize,
			YSize:    t.YSize,
			Channels: channels,
			DType:    dt,
		}, true
	}
}

func checkRange(start, end, n int) error {
	if start < 0 || end > n || start >= end {
		return fmt.Errorf("frame range [%d:%d) outside stack of %d frames", start, end, n)
	}
	return nil
}
