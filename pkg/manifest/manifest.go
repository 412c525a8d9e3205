// Package manifest reads and writes the stitch manifest: the YAML document
// that records the tile grid layout and the pairwise registration results.
// It mirrors the two tables the pipeline stages exchange, a filematrix table
// keyed by filename and a stitch table of pair measurements.
package manifest

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"stitchvol/internal/models"
	"stitchvol/pkg/config"
)

// Options are the acquisition conventions persisted alongside the tables so
// a manifest is self-describing.
type Options struct {
	AscendingTilesX *bool  `yaml:"ascendingTilesX,omitempty"`
	AscendingTilesY *bool  `yaml:"ascendingTilesY,omitempty"`
	PixelType       string `yaml:"pixelType,omitempty"`
	Channels        int    `yaml:"channels,omitempty"`
}

// TileRow is one filematrix record.
type TileRow struct {
	Filename string `yaml:"filename"`
	X        int    `yaml:"X"`
	Y        int    `yaml:"Y"`
	Z        int    `yaml:"Z"`
	NFrames  int    `yaml:"nfrms"`
	XSize    int    `yaml:"xsize"`
	YSize    int    `yaml:"ysize"`

	// Absolute positions, present once a previous run has stitched.
	Xs *int `yaml:"Xs,omitempty"`
	Ys *int `yaml:"Ys,omitempty"`
	Zs *int `yaml:"Zs,omitempty"`
}

// PairRow is one stitch-table record: a pairwise registration measurement
// labeled with the collaborator's axis convention.
type PairRow struct {
	AName string  `yaml:"aname"`
	BName string  `yaml:"bname"`
	Axis  int     `yaml:"axis"`
	Dz    float64 `yaml:"dz"`
	Dy    float64 `yaml:"dy"`
	Dx    float64 `yaml:"dx"`
	Score float64 `yaml:"score"`
}

// Document is the full persisted manifest.
type Document struct {
	Options    Options   `yaml:"xcorr-options"`
	FileMatrix []TileRow `yaml:"filematrix"`
	Stitch     []PairRow `yaml:"stitch"`
}

// Load reads a manifest from disk.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing manifest %s: %w", path, err)
	}
	if len(doc.FileMatrix) == 0 {
		return nil, fmt.Errorf("manifest %s has no filematrix table", path)
	}
	return &doc, nil
}

// Save writes the manifest to disk.
func Save(path string, doc *Document) error {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshaling manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	return nil
}

// ApplyOptions folds the manifest's own conventions over a configuration,
// so a manifest written by a previous run wins over defaults.
func (d *Document) ApplyOptions(cfg *config.Config) {
	if d.Options.AscendingTilesX != nil {
		cfg.Mosaic.AscendingX = *d.Options.AscendingTilesX
	}
	if d.Options.AscendingTilesY != nil {
		cfg.Mosaic.AscendingY = *d.Options.AscendingTilesY
	}
}

// PixelMeta resolves the per-run pixel type and channel count recorded in
// the manifest, defaulting to single-channel uint16.
func (d *Document) PixelMeta() (models.DType, int, error) {
	dt := models.Uint16
	if d.Options.PixelType != "" {
		var err error
		dt, err = models.ParseDType(d.Options.PixelType)
		if err != nil {
			return "", 0, err
		}
	}
	channels := d.Options.Channels
	if channels == 0 {
		channels = 1
	}
	return dt, channels, nil
}

// TileSet converts the filematrix table into tile records, in table order.
func (d *Document) TileSet() (*models.TileSet, error) {
	tiles := make([]*models.Tile, 0, len(d.FileMatrix))
	for _, row := range d.FileMatrix {
		if row.Filename == "" {
			return nil, fmt.Errorf("filematrix row without filename")
		}
		if row.NFrames <= 0 || row.XSize <= 0 || row.YSize <= 0 {
			return nil, fmt.Errorf("tile %s has degenerate size %dx%dx%d",
				row.Filename, row.XSize, row.YSize, row.NFrames)
		}
		t := &models.Tile{
			Name:    row.Filename,
			X:       row.X,
			Y:       row.Y,
			Z:       row.Z,
			NFrames: row.NFrames,
			XSize:   row.XSize,
			YSize:   row.YSize,
		}
		if row.Xs != nil {
			t.Xs = *row.Xs
		}
		if row.Ys != nil {
			t.Ys = *row.Ys
		}
		if row.Zs != nil {
			t.Zs = *row.Zs
		}
		t.UpdateEnds()
		tiles = append(tiles, t)
	}
	return models.NewTileSet(tiles)
}

// Pairs converts the stitch table into measurement records, resolving axis
// labels through the configured mapping and validating scores.
func (d *Document) Pairs(conv config.Conventions) ([]models.Pair, error) {
	pairs := make([]models.Pair, 0, len(d.Stitch))
	for _, row := range d.Stitch {
		axis, err := conv.MapAxis(row.Axis)
		if err != nil {
			return nil, fmt.Errorf("pair %s/%s: %w", row.AName, row.BName, err)
		}
		if row.Score < 0 || row.Score > 1 {
			return nil, fmt.Errorf("pair %s/%s: score %g outside [0,1]",
				row.AName, row.BName, row.Score)
		}
		pairs = append(pairs, models.Pair{
			A:     row.AName,
			B:     row.BName,
			Axis:  axis,
			Dz:    row.Dz,
			Dy:    row.Dy,
			Dx:    row.Dx,
			Score: row.Score,
		})
	}
	return pairs, nil
}

// FromTileSet rebuilds the filematrix table from the in-memory tile table,
// preserving the stitch table and options, so a positioned run can be
// persisted for later fusion.
func (d *Document) FromTileSet(ts *models.TileSet) {
	rows := make([]TileRow, 0, ts.Len())
	for _, t := range ts.Tiles {
		xs, ys, zs := t.Xs, t.Ys, t.Zs
		rows = append(rows, TileRow{
			Filename: t.Name,
			X:        t.X,
			Y:        t.Y,
			Z:        t.Z,
			NFrames:  t.NFrames,
			XSize:    t.XSize,
			YSize:    t.YSize,
			Xs:       &xs,
			Ys:       &ys,
			Zs:       &zs,
		})
	}
	d.FileMatrix = rows
}
