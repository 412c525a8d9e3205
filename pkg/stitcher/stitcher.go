// Package stitcher wires the full pipeline together: manifest in,
// positioned mosaic, optional global refinement, fused volume out.
package stitcher

import (
	"errors"
	"fmt"
	"log/slog"

	"stitchvol/pkg/config"
	"stitchvol/pkg/fuse"
	"stitchvol/pkg/input"
	"stitchvol/pkg/manifest"
	"stitchvol/pkg/mosaic"
	"stitchvol/pkg/optimize"
	"stitchvol/pkg/position"
)

// Params configures one stitching run. Either ManifestPath or Document
// must be set; Document wins when both are.
type Params struct {
	ManifestPath string
	Document     *manifest.Document

	Config *config.Config
	Open   input.StackOpener

	// OutputPath is where the fused volume is written. Empty skips the
	// fusion stage, leaving only the refreshed tile positions.
	OutputPath string
}

// Run executes the pipeline and returns the positioned grid, so callers
// can persist the refined layout or inspect it.
func Run(p Params) (*mosaic.Grid, error) {
	doc := p.Document
	if doc == nil {
		if p.ManifestPath == "" {
			return nil, errors.New("no manifest given")
		}
		var err error
		doc, err = manifest.Load(p.ManifestPath)
		if err != nil {
			return nil, err
		}
	}

	cfg := p.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	doc.ApplyOptions(cfg)

	ts, err := doc.TileSet()
	if err != nil {
		return nil, err
	}
	pairs, err := doc.Pairs(cfg.Mosaic)
	if err != nil {
		return nil, err
	}

	grid, err := mosaic.New(ts, cfg.Mosaic)
	if err != nil {
		return nil, err
	}
	slog.Info("mosaic loaded", "tiles", ts.Len(), "grid", fmt.Sprintf("%dx%d", grid.NX(), grid.NY()), "pairs", len(pairs))

	if err := position.Estimate(grid, pairs); err != nil {
		return nil, fmt.Errorf("estimating positions: %w", err)
	}

	if cfg.Optimizer.Enabled {
		if err := optimize.Refine(grid, pairs, cfg); err != nil {
			return nil, fmt.Errorf("refining positions: %w", err)
		}
	} else {
		slog.Info("refinement disabled, keeping spanning-tree positions")
	}

	if p.OutputPath == "" {
		return grid, nil
	}
	if p.Open == nil {
		return nil, errors.New("no stack opener for fusion")
	}

	fp := fuse.Params{
		Grid:           grid,
		Overlaps:       grid.ComputeOverlaps(),
		Open:           p.Open,
		OutputPath:     p.OutputPath,
		MemoryBytes:    cfg.Fusion.MemoryBytes,
		MemoryFraction: cfg.Fusion.MemoryFraction,
		QueueDepth:     cfg.Fusion.QueueDepth,
		ZMin:           cfg.Fusion.ZMin,
		ZMax:           cfg.Fusion.ZMax,
	}
	if err := fuse.New(fp).Run(); err != nil {
		return nil, fmt.Errorf("fusing: %w", err)
	}
	return grid, nil
}
