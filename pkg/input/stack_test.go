package input

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"stitchvol/internal/models"
)

// TestRAMStackReadFrames verifies frame-range reads against the in-memory
// layout.
func TestRAMStackReadFrames(t *testing.T) {
	meta := models.StackMeta{NFrames: 3, XSize: 2, YSize: 2, Channels: 1, DType: models.Uint8}
	data := make([]float32, 12)
	for i := range data {
		data[i] = float32(i)
	}
	s, err := NewRAMStack(meta, data)
	if err != nil {
		t.Fatalf("NewRAMStack failed: %v", err)
	}

	got, err := s.ReadFrames(1, 3)
	if err != nil {
		t.Fatalf("ReadFrames failed: %v", err)
	}
	if len(got) != 8 {
		t.Fatalf("Expected 8 samples for 2 frames, got %d", len(got))
	}
	for i, v := range got {
		if v != float32(4+i) {
			t.Errorf("Expected sample %d = %d, got %v", i, 4+i, v)
		}
	}
}

// TestRAMStackRejectsBadPayload verifies the size check on construction.
func TestRAMStackRejectsBadPayload(t *testing.T) {
	meta := models.StackMeta{NFrames: 2, XSize: 2, YSize: 2, Channels: 1, DType: models.Uint8}
	if _, err := NewRAMStack(meta, make([]float32, 7)); err == nil {
		t.Errorf("Expected error for a 7-sample payload on a 8-sample stack")
	}
}

// TestRAMStackRejectsBadRange verifies frame-range validation.
func TestRAMStackRejectsBadRange(t *testing.T) {
	meta := models.StackMeta{NFrames: 2, XSize: 1, YSize: 1, Channels: 1, DType: models.Uint8}
	s, err := NewRAMStack(meta, make([]float32, 2))
	if err != nil {
		t.Fatalf("NewRAMStack failed: %v", err)
	}
	for _, r := range [][2]int{{-1, 1}, {0, 3}, {1, 1}, {2, 1}} {
		if _, err := s.ReadFrames(r[0], r[1]); err == nil {
			t.Errorf("Expected error for range [%d:%d)", r[0], r[1])
		}
	}
}

// TestRawStackUint16 verifies little-endian decoding of a flat uint16
// stack from disk.
func TestRawStackUint16(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tile.raw")
	raw := make([]byte, 3*2*2*2) // 3 frames of 2x2 uint16
	for i := 0; i < 12; i++ {
		binary.LittleEndian.PutUint16(raw[2*i:], uint16(100+i))
	}
	if err := os.WriteFile(path, raw, 0644); err != nil {
		t.Fatalf("Failed to write stack: %v", err)
	}

	meta := models.StackMeta{NFrames: 3, XSize: 2, YSize: 2, Channels: 1, DType: models.Uint16}
	s, err := OpenRaw(path, meta)
	if err != nil {
		t.Fatalf("OpenRaw failed: %v", err)
	}
	defer s.Close()

	got, err := s.ReadFrames(1, 2)
	if err != nil {
		t.Fatalf("ReadFrames failed: %v", err)
	}
	want := []float32{104, 105, 106, 107}
	for i, v := range got {
		if v != want[i] {
			t.Errorf("Expected sample %d = %v, got %v", i, want[i], v)
		}
	}
}

// TestRawStackFloat32 verifies float stacks decode bit-exact.
func TestRawStackFloat32(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tile.raw")
	vals := []float32{0.5, -1.25, 3e7, 42}
	raw := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(raw[4*i:], math.Float32bits(v))
	}
	if err := os.WriteFile(path, raw, 0644); err != nil {
		t.Fatalf("Failed to write stack: %v", err)
	}

	meta := models.StackMeta{NFrames: 1, XSize: 2, YSize: 2, Channels: 1, DType: models.Float32}
	s, err := OpenRaw(path, meta)
	if err != nil {
		t.Fatalf("OpenRaw failed: %v", err)
	}
	defer s.Close()

	got, err := s.ReadFrames(0, 1)
	if err != nil {
		t.Fatalf("ReadFrames failed: %v", err)
	}
	for i, v := range got {
		if v != vals[i] {
			t.Errorf("Expected sample %d = %v, got %v", i, vals[i], v)
		}
	}
}

// TestRawOpener verifies name resolution and the unknown-tile error.
func TestRawOpener(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.raw"), make([]byte, 4), 0644); err != nil {
		t.Fatalf("Failed to write stack: %v", err)
	}
	meta := models.StackMeta{NFrames: 1, XSize: 2, YSize: 2, Channels: 1, DType: models.Uint8}
	open := RawOpener(dir, func(name string) (models.StackMeta, bool) {
		return meta, name == "a.raw"
	})

	s, err := open("a.raw")
	if err != nil {
		t.Fatalf("Opener failed: %v", err)
	}
	if s.Meta() != meta {
		t.Errorf("Expected opener to carry the supplied geometry")
	}
	s.Close()

	if _, err := open("missing.raw"); err == nil {
		t.Errorf("Expected error for a tile without geometry")
	}
}

// TestMetaFromTileSet verifies geometry derivation from the tile table.
func TestMetaFromTileSet(t *testing.T) {
	tile := &models.Tile{Name: "a", XSize: 7, YSize: 5, NFrames: 3}
	tile.UpdateEnds()
	ts, err := models.NewTileSet([]*models.Tile{tile})
	if err != nil {
		t.Fatalf("Failed to build tile set: %v", err)
	}
	metaFor := MetaFromTileSet(ts, models.Uint16, 2)

	m, ok := metaFor("a")
	if !ok {
		t.Fatalf("Expected geometry for a known tile")
	}
	want := models.StackMeta{NFrames: 3, XSize: 7, YSize: 5, Channels: 2, DType: models.Uint16}
	if m != want {
		t.Errorf("Expected %+v, got %+v", want, m)
	}
	if _, ok := metaFor("b"); ok {
		t.Errorf("Expected no geometry for an unknown tile")
	}
}
