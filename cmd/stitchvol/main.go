package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"stitchvol/pkg/config"
	"stitchvol/pkg/input"
	"stitchvol/pkg/manifest"
	"stitchvol/pkg/mosaic"
	"stitchvol/pkg/stitcher"
)

var (
	configPath string
	verbose    bool
)

func main() {
	root := &cobra.Command{
		Use:   "stitchvol",
		Short: "Stitch overlapping 3D image tiles into a single volume",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "configuration file (YAML)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(fuseCmd(), infoCmd())

	if err := root.Execute(); err != nil {
		slog.Error("failed", "error", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	if configPath == "" {
		return config.DefaultConfig(), nil
	}
	return config.LoadConfig(configPath)
}

func fuseCmd() *cobra.Command {
	var (
		output   string
		mem      string
		noRefine bool
		zMin     int
		zMax     int
	)
	cmd := &cobra.Command{
		Use:   "fuse <manifest>",
		Short: "Position the tiles and fuse them into an output volume",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if noRefine {
				cfg.Optimizer.Enabled = false
			}
			if mem != "" {
				b, err := humanize.ParseBytes(mem)
				if err != nil {
					return fmt.Errorf("parsing --mem: %w", err)
				}
				cfg.Fusion.MemoryBytes = int64(b)
			}
			if cmd.Flags().Changed("z-min") {
				cfg.Fusion.ZMin = zMin
			}
			if cmd.Flags().Changed("z-max") {
				cfg.Fusion.ZMax = zMax
			}

			manifestPath := args[0]
			doc, err := manifest.Load(manifestPath)
			if err != nil {
				return err
			}
			doc.ApplyOptions(cfg)
			dt, channels, err := doc.PixelMeta()
			if err != nil {
				return err
			}
			ts, err := doc.TileSet()
			if err != nil {
				return err
			}
			opener := input.RawOpener(filepath.Dir(manifestPath), input.MetaFromTileSet(ts, dt, channels))

			start := time.Now()
			grid, err := stitcher.Run(stitcher.Params{
				Document:   doc,
				Config:     cfg,
				Open:       opener,
				OutputPath: output,
			})
			if err != nil {
				return err
			}
			slog.Info("done", "output", output, "elapsed", time.Since(start).Round(time.Millisecond))

			// Persist refined positions next to the manifest so reruns can
			// skip straight to fusion.
			doc.FromTileSet(grid.TileSet())
			refined := manifestPath + ".refined.yml"
			if err := manifest.Save(refined, doc); err != nil {
				return err
			}
			slog.Info("positions saved", "path", refined)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "fused.tiff", "output volume path")
	cmd.Flags().StringVar(&mem, "mem", "", "working memory budget (e.g. 16GiB; default: detect)")
	cmd.Flags().BoolVar(&noRefine, "no-refine", false, "skip the annealing refinement stage")
	cmd.Flags().IntVar(&zMin, "z-min", 0, "first output frame")
	cmd.Flags().IntVar(&zMax, "z-max", 0, "one past the last output frame (0 = all)")
	return cmd
}

func infoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <manifest>",
		Short: "Describe the mosaic a manifest defines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			doc, err := manifest.Load(args[0])
			if err != nil {
				return err
			}
			doc.ApplyOptions(cfg)
			ts, err := doc.TileSet()
			if err != nil {
				return err
			}
			grid, err := mosaic.New(ts, cfg.Mosaic)
			if err != nil {
				return err
			}
			pairs, err := doc.Pairs(cfg.Mosaic)
			if err != nil {
				return err
			}

			fmt.Printf("tiles:      %d (%d x %d grid)\n", ts.Len(), grid.NX(), grid.NY())
			fmt.Printf("pairs:      %d registered\n", len(pairs))
			fmt.Printf("extent:     %d x %d x %d (X x Y x Z)\n",
				grid.FullWidth(), grid.FullHeight(), grid.FullThickness())
			for i, sl := range grid.Slices() {
				fmt.Printf("slice %d:    %d tiles\n", i, len(sl))
			}
			return nil
		},
	}
}
