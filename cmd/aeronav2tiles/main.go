// Command aeronav2tiles converts a set of aeronautical raster charts into a
// Web Mercator XYZ tile pyramid per tileset, driven by a JSON config
// document (§6). Flag parsing and the settings summary are grounded on the
// teacher's cmd/geotiff2pmtiles/main.go; the flag set and CPU-count-based
// defaults for --jobs/--tile-workers are grounded on main.c's getopt_long
// parsing and get_cpu_count-based defaulting.
package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/ryandrake08/aeronav/internal/config"
	"github.com/ryandrake08/aeronav/internal/orchestrator"
)

func main() {
	if orchestrator.IsWorker() {
		if err := runWorker(os.Args[1:]); err != nil {
			fmt.Fprintln(os.Stderr, "aeronav2tiles:", err)
			os.Exit(1)
		}
		return
	}

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type cliOptions struct {
	configPath          string
	zipDir              string
	tmpDir              string
	outDir              string
	tilesetsCSV         string
	list                bool
	cleanup             bool
	tileOnly            bool
	resume              bool
	epsg                int
	reprojectResampling string
	tileResampling      string
	quiet               bool
	jobs                int
	tileWorkers         int
	format              string
}

// bindFlags registers the §6 CLI surface on flags, writing into opts. Used
// both for the real root command and, via runWorker, to re-parse a worker
// process's re-exec'd argv the same way.
func bindFlags(flags *pflag.FlagSet, opts *cliOptions) {
	flags.StringVar(&opts.configPath, "config", "", "path to the JSON config document (required)")
	flags.StringVar(&opts.zipDir, "zippath", ".", "directory containing dataset .zip archives")
	flags.StringVar(&opts.tmpDir, "tmppath", os.TempDir(), "directory for reprojected intermediate GeoTIFFs")
	flags.StringVar(&opts.outDir, "outpath", "./tiles", "directory to write the tile pyramid into")
	flags.StringVar(&opts.tilesetsCSV, "tilesets", "", "comma-separated tileset names to build (default: all)")
	flags.BoolVar(&opts.list, "list", false, "list configured tilesets and exit")
	flags.BoolVar(&opts.cleanup, "cleanup", false, "remove the whole --tmppath directory (reprojected intermediates) when done")
	flags.BoolVar(&opts.tileOnly, "tile-only", false, "skip Phase 0 dataset processing; tile from existing intermediates")
	flags.BoolVar(&opts.resume, "resume", false, "accepted for compatibility; existing-tile skip is already unconditional")
	flags.IntVar(&opts.epsg, "epsg", 3857, "target projected CRS for reprojection and tiling")
	flags.StringVar(&opts.reprojectResampling, "reproject-resampling", "bilinear", "resampling algorithm for Warp")
	flags.StringVar(&opts.tileResampling, "tile-resampling", "average", "resampling algorithm for base-tile reads and overview downsampling")
	flags.BoolVar(&opts.quiet, "quiet", false, "suppress progress output")
	flags.IntVar(&opts.jobs, "jobs", defaultJobs(), "parallel dataset-processing workers (default: min(cpu_count, 4))")
	flags.IntVar(&opts.tileWorkers, "tile-workers", 0, "parallel tile-generation workers (default: cpu_count)")
	flags.StringVar(&opts.format, "format", "png", "output tile format: png, jpeg, webp")
}

func newRootCmd() *cobra.Command {
	opts := &cliOptions{}

	cmd := &cobra.Command{
		Use:   "aeronav2tiles",
		Short: "Convert aeronautical chart GeoTIFFs into a Web Mercator tile pyramid",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
		SilenceUsage: true,
	}

	bindFlags(cmd.Flags(), opts)
	return cmd
}

// defaultJobs mirrors main.c's opts.jobs default: min(cpu_count, 4).
func defaultJobs() int {
	n := runtime.NumCPU()
	if n > 4 {
		return 4
	}
	return n
}

func run(ctx context.Context, opts *cliOptions) error {
	if opts.configPath == "" {
		return fmt.Errorf("--config is required")
	}
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}

	if opts.list {
		for _, name := range cfg.AllTilesetNames() {
			ts := cfg.Tilesets[name]
			fmt.Printf("%-20s zoom %d-%d, %d dataset(s)\n", name, ts.ZoomMin, ts.ZoomMax, len(ts.Datasets))
		}
		return nil
	}

	tilesetNames := cfg.AllTilesetNames()
	if opts.tilesetsCSV != "" {
		tilesetNames = splitCSV(opts.tilesetsCSV)
	}
	if len(tilesetNames) == 0 {
		return fmt.Errorf("no tilesets selected")
	}

	selfExe, err := os.Executable()
	if err != nil {
		selfExe = os.Args[0]
	}

	runOpts := buildOrchestratorOptions(opts, selfExe, os.Args[1:])
	printSettings(opts, runOpts, tilesetNames)

	if err := orchestrator.Run(ctx, cfg, tilesetNames, runOpts); err != nil {
		return err
	}

	if opts.cleanup {
		if err := cleanupIntermediates(opts.tmpDir); err != nil {
			return err
		}
	}
	return nil
}

// buildOrchestratorOptions resolves CPU-count-based defaults (main.c's
// get_cpu_count-driven tile_workers/threads_per_job) and assembles the
// orchestrator.Options both the parent and a re-exec'd worker need.
func buildOrchestratorOptions(opts *cliOptions, selfExe string, selfArgs []string) orchestrator.Options {
	tileWorkers := opts.tileWorkers
	if tileWorkers <= 0 {
		tileWorkers = runtime.NumCPU()
	}
	jobs := opts.jobs
	if jobs < 1 {
		jobs = 1
	}
	threadsPerJob := runtime.NumCPU() / jobs
	if threadsPerJob < 1 {
		threadsPerJob = 1
	}

	return orchestrator.Options{
		ZipDir:              opts.zipDir,
		TmpDir:              opts.tmpDir,
		OutDir:              opts.outDir,
		EPSG:                opts.epsg,
		ReprojectResampling: opts.reprojectResampling,
		TileResampling:      opts.tileResampling,
		Format:              opts.format,
		ThreadsPerJob:       threadsPerJob,
		MaxWorkers:          jobs,
		TileWorkers:         tileWorkers,
		Quiet:               opts.quiet,
		SkipDatasetPhase:    opts.tileOnly,
		SelfExe:             selfExe,
		SelfArgs:            selfArgs,
	}
}

// cleanupIntermediates removes tmpDir recursively, matching main.c's
// rmdir_r(opts.tmppath) on a full run (SPEC_FULL.md §12): --cleanup removes
// the entire reprojected-intermediates directory, not just the individual
// files this run wrote into it.
func cleanupIntermediates(tmpDir string) error {
	if tmpDir == "" {
		return nil
	}
	if err := os.RemoveAll(tmpDir); err != nil {
		return fmt.Errorf("cleanup: remove %s: %w", tmpDir, err)
	}
	return nil
}

func printSettings(opts *cliOptions, runOpts orchestrator.Options, tilesetNames []string) {
	if opts.quiet {
		return
	}
	fmt.Printf("  %-22s %s\n", "Config:", opts.configPath)
	fmt.Printf("  %-22s %s\n", "Zip path:", opts.zipDir)
	fmt.Printf("  %-22s %s\n", "Temp path:", opts.tmpDir)
	fmt.Printf("  %-22s %s\n", "Output path:", opts.outDir)
	fmt.Printf("  %-22s %s\n", "Tilesets:", strings.Join(tilesetNames, ", "))
	fmt.Printf("  %-22s %d\n", "EPSG:", opts.epsg)
	fmt.Printf("  %-22s %s\n", "Format:", opts.format)
	fmt.Printf("  %-22s %d\n", "Dataset workers:", runOpts.MaxWorkers)
	fmt.Printf("  %-22s %d\n", "Tile workers:", runOpts.TileWorkers)
	fmt.Printf("  %-22s %d\n", "Threads per job:", runOpts.ThreadsPerJob)
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	sort.Strings(out)
	return out
}

// runWorker is invoked when this process was re-exec'd as a jobqueue
// worker. It re-parses the same flag set the parent bound via WorkerArgs
// (the worker's argv is whatever the parent's SelfArgs were, unchanged),
// then dispatches into orchestrator.WorkerMain using the job-kind/tileset
// the parent attached via environment variables.
func runWorker(args []string) error {
	opts := &cliOptions{}
	flags := pflag.NewFlagSet("aeronav2tiles-worker", pflag.ContinueOnError)
	bindFlags(flags, opts)
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	tilesetNames := cfg.AllTilesetNames()
	if opts.tilesetsCSV != "" {
		tilesetNames = splitCSV(opts.tilesetsCSV)
	}

	runOpts := buildOrchestratorOptions(opts, "", nil)
	return orchestrator.WorkerMain(cfg, tilesetNames, runOpts)
}
