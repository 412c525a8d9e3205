package position

import (
	"errors"
	"fmt"
	"testing"

	"stitchvol/internal/models"
	"stitchvol/pkg/config"
	"stitchvol/pkg/mosaic"
)

// makeGrid builds an nx by ny grid of 100x100x5 tiles named txy.
func makeGrid(t *testing.T, nx, ny int) *mosaic.Grid {
	t.Helper()
	var tiles []*models.Tile
	for y := 0; y < ny; y++ {
		for x := 0; x < nx; x++ {
			tile := &models.Tile{
				Name: fmt.Sprintf("t%d%d", x, y), X: x, Y: y,
				XSize: 100, YSize: 100, NFrames: 5,
			}
			tile.UpdateEnds()
			tiles = append(tiles, tile)
		}
	}
	ts, err := models.NewTileSet(tiles)
	if err != nil {
		t.Fatalf("Failed to build tile set: %v", err)
	}
	g, err := mosaic.New(ts, config.DefaultConfig().Mosaic)
	if err != nil {
		t.Fatalf("Failed to build grid: %v", err)
	}
	return g
}

// pairX measures a 20px overlap between column neighbors: dx=20 means the
// right tile starts 80px after the left one.
func pairX(a, b string, score float64) models.Pair {
	return models.Pair{A: a, B: b, Axis: models.AxisX, Dx: 20, Score: score}
}

func pairY(a, b string, score float64) models.Pair {
	return models.Pair{A: a, B: b, Axis: models.AxisY, Dy: 20, Score: score}
}

// TestEstimate2x2Grid verifies the propagated absolute positions of the
// canonical 2x2 scenario: 100px tiles overlapping by 20px on both axes put
// the diagonal tile at (80,80,0).
func TestEstimate2x2Grid(t *testing.T) {
	g := makeGrid(t, 2, 2)
	pairs := []models.Pair{
		pairX("t00", "t10", 1.0),
		pairX("t01", "t11", 1.0),
		pairY("t00", "t01", 1.0),
		pairY("t10", "t11", 1.0),
	}
	if err := Estimate(g, pairs); err != nil {
		t.Fatalf("Estimate failed: %v", err)
	}

	want := map[string][3]int{ // Xs, Ys, Zs
		"t00": {0, 0, 0},
		"t10": {80, 0, 0},
		"t01": {0, 80, 0},
		"t11": {80, 80, 0},
	}
	for name, pos := range want {
		tile := g.TileSet().Get(name)
		if tile.Xs != pos[0] || tile.Ys != pos[1] || tile.Zs != pos[2] {
			t.Errorf("Expected %s at (%d,%d,%d), got (%d,%d,%d)",
				name, pos[0], pos[1], pos[2], tile.Xs, tile.Ys, tile.Zs)
		}
	}
	if w := g.FullWidth(); w != 180 {
		t.Errorf("Expected full width 180, got %d", w)
	}
	if h := g.FullHeight(); h != 180 {
		t.Errorf("Expected full height 180, got %d", h)
	}
	if d := g.FullThickness(); d != 5 {
		t.Errorf("Expected full thickness 5, got %d", d)
	}
}

// TestEstimateReachesEveryTile verifies the spanning tree touches every
// tile on a larger connected grid: all positions are normalized and
// every tile's end columns are refreshed.
func TestEstimateReachesEveryTile(t *testing.T) {
	g := makeGrid(t, 3, 3)
	var pairs []models.Pair
	for y := 0; y < 3; y++ {
		for x := 0; x < 3; x++ {
			if x+1 < 3 {
				pairs = append(pairs, pairX(fmt.Sprintf("t%d%d", x, y), fmt.Sprintf("t%d%d", x+1, y), 0.9))
			}
			if y+1 < 3 {
				pairs = append(pairs, pairY(fmt.Sprintf("t%d%d", x, y), fmt.Sprintf("t%d%d", x, y+1), 0.9))
			}
		}
	}
	if err := Estimate(g, pairs); err != nil {
		t.Fatalf("Estimate failed: %v", err)
	}
	for _, tile := range g.TileSet().Tiles {
		wantX, wantY := tile.X*80, tile.Y*80
		if tile.Xs != wantX || tile.Ys != wantY {
			t.Errorf("Expected %s at (%d,%d), got (%d,%d)", tile.Name, wantX, wantY, tile.Xs, tile.Ys)
		}
		if tile.XsEnd != tile.Xs+100 || tile.ZsEnd != tile.Zs+5 {
			t.Errorf("Expected refreshed end columns for %s", tile.Name)
		}
	}
	for _, p := range pairs {
		if !p.Resolved {
			t.Errorf("Expected pair %s/%s resolved for the optimizer", p.A, p.B)
		}
	}
}

// TestEstimateDisconnectedGraph verifies a measurement set that does not
// connect the whole grid fails with the disconnected-graph error.
func TestEstimateDisconnectedGraph(t *testing.T) {
	g := makeGrid(t, 2, 2)
	pairs := []models.Pair{
		pairX("t00", "t10", 1.0),
		pairX("t01", "t11", 1.0),
		// No along-Y measurement: the two rows form separate components.
	}
	err := Estimate(g, pairs)
	if !errors.Is(err, ErrDisconnected) {
		t.Errorf("Expected ErrDisconnected, got %v", err)
	}
}

// TestEstimateDuplicateMeasurementKeepsBest verifies that when a pair is
// measured twice the higher-confidence measurement wins the tree edge.
func TestEstimateDuplicateMeasurementKeepsBest(t *testing.T) {
	g := makeGrid(t, 2, 1)
	bad := models.Pair{A: "t00", B: "t10", Axis: models.AxisX, Dx: 50, Score: 0.2}
	good := pairX("t00", "t10", 0.95)
	pairs := []models.Pair{bad, good}

	if err := Estimate(g, pairs); err != nil {
		t.Fatalf("Estimate failed: %v", err)
	}
	right := g.TileSet().Get("t10")
	if right.Xs != 80 {
		t.Errorf("Expected the 0.95-score measurement to win (Xs=80), got Xs=%d", right.Xs)
	}
}

// TestEstimateDescendingConvention verifies the configurable tile ordering:
// with descending X the same measurement pushes the grid-higher tile to
// the negative side, and normalization flips which tile sits at zero.
func TestEstimateDescendingConvention(t *testing.T) {
	var tiles []*models.Tile
	for x := 0; x < 2; x++ {
		tile := &models.Tile{
			Name: fmt.Sprintf("t%d0", x), X: x, Y: 0,
			XSize: 100, YSize: 100, NFrames: 5,
		}
		tile.UpdateEnds()
		tiles = append(tiles, tile)
	}
	ts, err := models.NewTileSet(tiles)
	if err != nil {
		t.Fatalf("Failed to build tile set: %v", err)
	}
	conv := config.DefaultConfig().Mosaic
	conv.AscendingX = false
	g, err := mosaic.New(ts, conv)
	if err != nil {
		t.Fatalf("Failed to build grid: %v", err)
	}

	pairs := []models.Pair{pairX("t00", "t10", 1.0)}
	if err := Estimate(g, pairs); err != nil {
		t.Fatalf("Estimate failed: %v", err)
	}
	if got := g.TileSet().Get("t10").Xs; got != 0 {
		t.Errorf("Expected the grid-higher tile at Xs=0 under descending X, got %d", got)
	}
	if got := g.TileSet().Get("t00").Xs; got != 80 {
		t.Errorf("Expected the grid-lower tile at Xs=80 under descending X, got %d", got)
	}
}

// TestEstimateSingleTile verifies the one-tile mosaic short-circuits to the
// origin.
func TestEstimateSingleTile(t *testing.T) {
	g := makeGrid(t, 1, 1)
	if err := Estimate(g, nil); err != nil {
		t.Fatalf("Estimate failed: %v", err)
	}
	tile := g.TileSet().Tiles[0]
	if tile.Xs != 0 || tile.Ys != 0 || tile.Zs != 0 {
		t.Errorf("Expected origin position, got (%d,%d,%d)", tile.Xs, tile.Ys, tile.Zs)
	}
}
