package mosaic

import (
	"errors"
	"testing"

	"stitchvol/internal/models"
	"stitchvol/pkg/config"
)

// makeGrid builds a validated nx by ny grid of uniform tiles for tests.
// Tiles are named txy, sized 100x100 pixels by 10 frames, all starting at
// frame 0 unless zAt overrides a coordinate.
func makeGrid(t *testing.T, nx, ny int, zAt map[[2]int]int) *Grid {
	t.Helper()
	var tiles []*models.Tile
	for y := 0; y < ny; y++ {
		for x := 0; x < nx; x++ {
			z := 0
			if zAt != nil {
				z = zAt[[2]int{x, y}]
			}
			tile := &models.Tile{
				Name:    tileName(x, y),
				X:       x,
				Y:       y,
				Z:       z,
				XSize:   100,
				YSize:   100,
				NFrames: 10,
			}
			tile.UpdateEnds()
			tiles = append(tiles, tile)
		}
	}
	ts, err := models.NewTileSet(tiles)
	if err != nil {
		t.Fatalf("Failed to build tile set: %v", err)
	}
	g, err := New(ts, config.DefaultConfig().Mosaic)
	if err != nil {
		t.Fatalf("Failed to build grid: %v", err)
	}
	return g
}

func tileName(x, y int) string {
	return string(rune('a'+x)) + string(rune('a'+y))
}

// TestNewRejectsIncompleteGrid verifies the rectangular-grid invariant:
// a tile table whose size does not equal columns times rows is rejected.
func TestNewRejectsIncompleteGrid(t *testing.T) {
	var tiles []*models.Tile
	for _, c := range [][2]int{{0, 0}, {1, 0}, {0, 1}} {
		tile := &models.Tile{
			Name: tileName(c[0], c[1]), X: c[0], Y: c[1],
			XSize: 100, YSize: 100, NFrames: 10,
		}
		tile.UpdateEnds()
		tiles = append(tiles, tile)
	}
	ts, err := models.NewTileSet(tiles)
	if err != nil {
		t.Fatalf("Failed to build tile set: %v", err)
	}
	_, err = New(ts, config.DefaultConfig().Mosaic)
	if !errors.Is(err, ErrInvalidMosaic) {
		t.Errorf("Expected ErrInvalidMosaic for 3 tiles in a 2x2 layout, got %v", err)
	}
}

// TestNewNormalizesCoordinates verifies grid indices are shifted so each
// axis starts at zero.
func TestNewNormalizesCoordinates(t *testing.T) {
	tile := &models.Tile{Name: "only", X: 5, Y: 7, Z: 3, XSize: 10, YSize: 10, NFrames: 4}
	tile.UpdateEnds()
	ts, err := models.NewTileSet([]*models.Tile{tile})
	if err != nil {
		t.Fatalf("Failed to build tile set: %v", err)
	}
	if _, err := New(ts, config.DefaultConfig().Mosaic); err != nil {
		t.Fatalf("Failed to build grid: %v", err)
	}
	if tile.X != 0 || tile.Y != 0 || tile.Z != 0 {
		t.Errorf("Expected normalized coordinates (0,0,0), got (%d,%d,%d)", tile.X, tile.Y, tile.Z)
	}
	if tile.ZEnd != 4 {
		t.Errorf("Expected ZEnd=4 after normalization, got %d", tile.ZEnd)
	}
}

// TestSlicesPartition verifies the slice grouping is a partition of the
// tile set: every tile appears in exactly one slice.
func TestSlicesPartition(t *testing.T) {
	g := makeGrid(t, 3, 2, nil)
	slices := g.Slices()

	seen := make(map[string]int)
	for _, slice := range slices {
		for _, tile := range slice {
			seen[tile.Name]++
		}
	}
	if len(seen) != g.TileSet().Len() {
		t.Errorf("Expected all %d tiles covered by slices, got %d", g.TileSet().Len(), len(seen))
	}
	for name, count := range seen {
		if count != 1 {
			t.Errorf("Expected tile %s in exactly one slice, got %d", name, count)
		}
	}
}

// TestSlicesSplitByFrameRange verifies tiles with disjoint frame intervals
// land in different slices while mutually contained intervals share one.
func TestSlicesSplitByFrameRange(t *testing.T) {
	// Second row starts 100 frames later: no containment with row 0.
	zAt := map[[2]int]int{
		{0, 1}: 100, {1, 1}: 100,
	}
	g := makeGrid(t, 2, 2, zAt)
	slices := g.Slices()
	if len(slices) != 2 {
		t.Fatalf("Expected 2 slices for 2 disjoint frame ranges, got %d", len(slices))
	}
	for _, slice := range slices {
		if len(slice) != 2 {
			t.Errorf("Expected 2 tiles per slice, got %d", len(slice))
		}
		for _, tile := range slice[1:] {
			if tile.Z != slice[0].Z {
				t.Errorf("Expected slice to share a frame start, got %d and %d", slice[0].Z, tile.Z)
			}
		}
	}
}

// TestTilesAlongX verifies the along-X grouping: one group per row, each
// ordered by column, so consecutive group members are X-adjacent pairs.
func TestTilesAlongX(t *testing.T) {
	g := makeGrid(t, 3, 2, nil)
	groups := g.TilesAlongX()
	if len(groups) != 2 {
		t.Fatalf("Expected 2 along-X groups for a 3x2 grid, got %d", len(groups))
	}
	for _, group := range groups {
		if len(group) != 3 {
			t.Errorf("Expected 3 tiles per along-X group, got %d", len(group))
		}
		for i := 1; i < len(group); i++ {
			if group[i].Y != group[0].Y {
				t.Errorf("Expected group to share Y, got %d and %d", group[0].Y, group[i].Y)
			}
			if group[i].X != group[i-1].X+1 {
				t.Errorf("Expected consecutive X order, got %d after %d", group[i].X, group[i-1].X)
			}
		}
	}
}

// TestTilesAlongY verifies the along-Y grouping mirrors along-X with the
// axes swapped.
func TestTilesAlongY(t *testing.T) {
	g := makeGrid(t, 3, 2, nil)
	groups := g.TilesAlongY()
	if len(groups) != 3 {
		t.Fatalf("Expected 3 along-Y groups for a 3x2 grid, got %d", len(groups))
	}
	for _, group := range groups {
		if len(group) != 2 {
			t.Errorf("Expected 2 tiles per along-Y group, got %d", len(group))
		}
		if group[1].X != group[0].X {
			t.Errorf("Expected group to share X, got %d and %d", group[0].X, group[1].X)
		}
		if group[1].Y != group[0].Y+1 {
			t.Errorf("Expected consecutive Y order, got %d after %d", group[1].Y, group[0].Y)
		}
	}
}

// TestFullExtent verifies the output extent is the maximum positioned end
// along each axis.
func TestFullExtent(t *testing.T) {
	g := makeGrid(t, 2, 2, nil)
	for _, tile := range g.TileSet().Tiles {
		tile.Xs = tile.X * 80
		tile.Ys = tile.Y * 80
		tile.Zs = 0
		tile.UpdateEnds()
	}
	if w := g.FullWidth(); w != 180 {
		t.Errorf("Expected full width 180, got %d", w)
	}
	if h := g.FullHeight(); h != 180 {
		t.Errorf("Expected full height 180, got %d", h)
	}
	if d := g.FullThickness(); d != 10 {
		t.Errorf("Expected full thickness 10, got %d", d)
	}
}
