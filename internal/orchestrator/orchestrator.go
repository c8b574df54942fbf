// Package orchestrator drives the whole run (§4.J): Phase 0 reprojects
// every dataset across all selected tilesets via DatasetPipeline, then for
// each tileset in turn builds its TileManifest and per-zoom ZoomMosaics,
// drives BaseTiler over the manifest's tile list (Phase 1), and finally
// runs OverviewTiler serially from zmax-1 down to zmin (Phase 2).
//
// Grounded on processing.c's process_datasets_parallel (job estimation and
// descending-work sort) and main.c's per-tileset driving loop, translated
// from that file's per-dataset-count worker partitioning onto
// internal/jobqueue's shared-counter pool. Because jobqueue workers are
// re-exec'd OS processes rather than goroutines or forked copies of live
// state, BuildDatasetJobs/BuildTileJobs are pure functions of the config
// document and CLI options so a worker process can deterministically
// reconstruct "job at index N" on its own, the same way the parent counted
// jobs to hand jobqueue.Config.NumJobs.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/ryandrake08/aeronav/internal/config"
	"github.com/ryandrake08/aeronav/internal/encode"
	"github.com/ryandrake08/aeronav/internal/jobqueue"
	"github.com/ryandrake08/aeronav/internal/manifest"
	"github.com/ryandrake08/aeronav/internal/mercator"
	"github.com/ryandrake08/aeronav/internal/model"
	"github.com/ryandrake08/aeronav/internal/mosaic"
	"github.com/ryandrake08/aeronav/internal/pipeline"
	"github.com/ryandrake08/aeronav/internal/progress"
	"github.com/ryandrake08/aeronav/internal/raster"
	"github.com/ryandrake08/aeronav/internal/tiler"
)

const (
	envJobKind  = "AERONAV_ORCHESTRATOR_JOB_KIND"
	envTileset  = "AERONAV_ORCHESTRATOR_TILESET"
	kindDataset = "dataset"
	kindTile    = "basetile"
)

// Options are the CLI-derived knobs (§6) the orchestrator needs beyond the
// config document itself.
type Options struct {
	ZipDir              string
	TmpDir              string
	OutDir              string
	EPSG                int
	ReprojectResampling string
	TileResampling      string
	Format              string
	ThreadsPerJob       int
	MaxWorkers          int // --jobs: dataset-phase worker count
	TileWorkers         int // --tile-workers: base-tile-phase worker count
	Quiet               bool
	SkipDatasetPhase    bool // --tile-only: skip Phase 0, tile from existing intermediates
	SelfExe             string
	SelfArgs            []string // os.Args[1:], re-used verbatim to re-exec a worker
}

// IsWorker reports whether this process was re-exec'd as an orchestrator
// job-queue worker.
func IsWorker() bool {
	return jobqueue.IsWorker()
}

// BuildDatasetJobs flattens the unique datasets referenced by tilesetNames
// into a job list sorted by estimated work (mask outer-bbox area, 0 if
// unmasked) descending, matching processing.c's estimate_work/
// compare_jobs_by_work "front-load stragglers" ordering. A dataset named by
// more than one tileset is processed once: §4.J's source iterates
// tileset-then-dataset without deduplication, reprocessing shared datasets
// redundantly into the same idempotent temp file; deduplicating here avoids
// that wasted work without changing any observable output.
func BuildDatasetJobs(cfg *config.Config, tilesetNames []string) []*model.Dataset {
	seen := make(map[string]bool)
	var jobs []*model.Dataset
	for _, tname := range tilesetNames {
		ts, ok := cfg.Tilesets[tname]
		if !ok {
			continue
		}
		for _, dname := range ts.Datasets {
			if seen[dname] {
				continue
			}
			ds, ok := cfg.Datasets[dname]
			if !ok {
				continue
			}
			seen[dname] = true
			jobs = append(jobs, ds)
		}
	}
	sort.SliceStable(jobs, func(i, j int) bool {
		return estimateWork(jobs[i]) > estimateWork(jobs[j])
	})
	return jobs
}

// estimateWork mirrors processing.c's estimate_work: the outer mask ring's
// bounding-box area, or 0 (sorts to the back) when there's no mask.
func estimateWork(ds *model.Dataset) float64 {
	if ds.Mask == nil || len(ds.Mask.Rings) == 0 {
		return 0
	}
	outer := ds.Mask.Outer()
	if len(outer.Vertices) == 0 {
		return 0
	}
	minX, minY := outer.Vertices[0].X, outer.Vertices[0].Y
	maxX, maxY := minX, minY
	for _, v := range outer.Vertices[1:] {
		if v.X < minX {
			minX = v.X
		}
		if v.X > maxX {
			maxX = v.X
		}
		if v.Y < minY {
			minY = v.Y
		}
		if v.Y > maxY {
			maxY = v.Y
		}
	}
	return (maxX - minX) * (maxY - minY)
}

// tileJob is one (z,x,y) entry in a tileset's flattened manifest tile list.
type tileJob struct {
	z, x, y int
}

// BuildTileJobs returns tileset's manifest tile list flattened across its
// zoom range, zoom ascending then tile-key ascending within a zoom (the
// order manifest.Manifest.Tiles already returns), so the list is
// deterministic across the parent (which only needs its length) and every
// worker process (which needs tileJobs[index]).
func BuildTileJobs(tmpDir string, ts *model.Tileset, datasets map[string]*model.Dataset) []tileJob {
	m := manifest.Build(ts, datasets, func(ds *model.Dataset) (*manifest.Bounds, bool) {
		return datasetBounds(tmpDir, ds)
	})
	var jobs []tileJob
	for z := m.MinZoom; z <= m.MaxZoom; z++ {
		for _, pt := range m.Tiles(z) {
			x, y := pt.XY()
			jobs = append(jobs, tileJob{z: z, x: x, y: y})
		}
	}
	return jobs
}

// datasetBounds reads back a dataset's reprojected GeoTIFF (written by
// Phase 0) and returns its WGS-84 extent, matching manifest.c's
// bounds_from_tif. Returns ok=false if the file isn't readable yet, which
// Build treats as "skip this dataset", matching build_tile_manifest's
// same handling of a not-yet-processed dataset.
//
// The extent's corners are read as EPSG:3857 meters and inverse-projected
// with mercator.ToWGS84 rather than a generic CRS transform: every
// downstream consumer of this manifest (ZoomMosaic, BaseTiler,
// OverviewTiler) is already fixed to Web Mercator tiling, so Phase 0's
// output CRS is assumed to be EPSG:3857 here too (the common --epsg
// default; a non-3857 --epsg would need a generic transform, which
// §4's components don't otherwise support either).
func datasetBounds(tmpDir string, ds *model.Dataset) (*manifest.Bounds, bool) {
	path := tmpDir + "/" + ds.TmpFile
	if _, err := os.Stat(path); err != nil {
		return nil, false
	}
	h, err := raster.Open(path)
	if err != nil {
		return nil, false
	}
	defer h.Close()

	gt, err := h.Dataset().GeoTransform()
	if err != nil {
		return nil, false
	}
	structure := h.Dataset().Structure()
	minX := gt[0]
	maxX := gt[0] + float64(structure.SizeX)*gt[1]
	maxY := gt[3]
	minY := gt[3] + float64(structure.SizeY)*gt[5]

	lonMin, latMin := mercator.ToWGS84(minX, minY)
	lonMax, latMax := mercator.ToWGS84(maxX, maxY)
	return &manifest.Bounds{LonMin: lonMin, LatMin: latMin, LonMax: lonMax, LatMax: latMax}, true
}

// Run drives the full §4.J flow for tilesetNames.
func Run(ctx context.Context, cfg *config.Config, tilesetNames []string, opts Options) error {
	raster.Init()
	reporter := progress.New(opts.Quiet)

	for _, name := range tilesetNames {
		ts, ok := cfg.Tilesets[name]
		if !ok {
			return fmt.Errorf("orchestrator: unknown tileset %q", name)
		}
		reporter.Linef("=== Tileset: %s ===", ts.Name)
		reporter.Linef("  Output path: %s", ts.TilePath)
		reporter.Linef("  Zoom range: %d-%d", ts.ZoomMin, ts.ZoomMax)
		reporter.Linef("  Datasets: %d", len(ts.Datasets))
	}

	// Phase 0: reproject every dataset referenced by any selected tileset.
	// --tile-only skips straight to Phase 1/2, tiling from whatever
	// reprojected intermediates already exist in TmpDir.
	datasetJobs := BuildDatasetJobs(cfg, tilesetNames)
	if len(datasetJobs) > 0 && !opts.SkipDatasetPhase {
		reporter.Linef("\nProcessing %d dataset(s) with %d parallel worker(s)...", len(datasetJobs), opts.MaxWorkers)
		result, err := jobqueue.Run(ctx, jobqueue.Config{
			NumJobs:    len(datasetJobs),
			MaxWorkers: opts.MaxWorkers,
			SelfExe:    opts.SelfExe,
			WorkerArgs: append([]string{}, opts.SelfArgs...),
			Env:        []string{envJobKind + "=" + kindDataset},
		})
		if err != nil {
			return fmt.Errorf("orchestrator: dataset phase: %w", err)
		}
		reporter.Linef("Dataset processing complete: %d succeeded, %d failed", result.Completed, result.Failed)
	}

	// Phase 1 + 2, per tileset.
	for _, name := range tilesetNames {
		ts, ok := cfg.Tilesets[name]
		if !ok {
			continue
		}
		if err := runTileset(ctx, cfg, ts, opts, reporter); err != nil {
			return err
		}
	}
	return nil
}

func runTileset(ctx context.Context, cfg *config.Config, ts *model.Tileset, opts Options, reporter *progress.Reporter) error {
	tileJobs := BuildTileJobs(opts.TmpDir, ts, cfg.Datasets)
	if len(tileJobs) == 0 {
		reporter.Linef("  %s: no tiles in manifest (datasets not yet processed or no overlap)", ts.Name)
		return nil
	}

	enc, err := encode.NewEncoder(opts.Format, 0)
	if err != nil {
		return fmt.Errorf("orchestrator: encoder: %w", err)
	}

	reporter.Linef("  %s: generating %d base tile(s) with %d worker(s) (%s)...", ts.Name, len(tileJobs), opts.TileWorkers, enc.Format())
	result, err := jobqueue.Run(ctx, jobqueue.Config{
		NumJobs:    len(tileJobs),
		MaxWorkers: opts.TileWorkers,
		SelfExe:    opts.SelfExe,
		WorkerArgs: append([]string{}, opts.SelfArgs...),
		Env:        []string{envJobKind + "=" + kindTile, envTileset + "=" + ts.Name},
	})
	if err != nil {
		return fmt.Errorf("orchestrator: base-tile phase for %s: %w", ts.Name, err)
	}
	reporter.Linef("  %s: base tiles complete: %d generated/skipped, %d failed", ts.Name, result.Completed, result.Failed)

	// Phase 2 is strictly sequential, zmax-1 down to zmin: each zoom's
	// overview synthesis depends on z+1's children already existing.
	ext := enc.FileExtension()[1:]
	for z := ts.ZoomMax - 1; z >= ts.ZoomMin; z-- {
		generated, failed, err := tiler.Overview(opts.OutDir, ts.TilePath, z, ext, enc, opts.TileResampling)
		if err != nil {
			return fmt.Errorf("orchestrator: overview zoom %d for %s: %w", z, ts.Name, err)
		}
		reporter.Linef("  %s: zoom %d overview: %d generated, %d failed", ts.Name, z, generated, failed)
	}
	return nil
}

// WorkerMain is the entry point cmd/aeronav2tiles calls when
// jobqueue.IsWorker() is true: it dispatches on the job-kind env var Run set
// when spawning this process and runs jobqueue.RunWorker against the
// matching job function. tilesetNames must be the same list Run was called
// with, so BuildDatasetJobs/BuildTileJobs reconstruct the identical,
// deterministic job list the parent counted when it set NumJobs.
func WorkerMain(cfg *config.Config, tilesetNames []string, opts Options) error {
	raster.Init()

	switch os.Getenv(envJobKind) {
	case kindDataset:
		return jobqueue.RunWorker(datasetJobFunc(cfg, tilesetNames, opts))
	case kindTile:
		tsName := os.Getenv(envTileset)
		ts, ok := cfg.Tilesets[tsName]
		if !ok {
			return fmt.Errorf("orchestrator: worker: unknown tileset %q", tsName)
		}
		return jobqueue.RunWorker(tileJobFunc(cfg, ts, opts))
	default:
		return fmt.Errorf("orchestrator: worker: missing or unknown %s", envJobKind)
	}
}

// datasetJobFunc adapts pipeline.Run (§4.D's DatasetPipeline) to
// jobqueue.JobFunc: index idx is this worker process's position in the same
// sorted job list the parent built with BuildDatasetJobs.
func datasetJobFunc(cfg *config.Config, tilesetNames []string, opts Options) jobqueue.JobFunc {
	jobs := BuildDatasetJobs(cfg, tilesetNames)
	params := pipeline.Params{
		ZipDir:              opts.ZipDir,
		TmpDir:              opts.TmpDir,
		TargetEPSG:          opts.EPSG,
		ReprojectResampling: opts.ReprojectResampling,
		TileThreads:         opts.ThreadsPerJob,
	}
	return func(idx int) error {
		if idx < 0 || idx >= len(jobs) {
			return fmt.Errorf("orchestrator: dataset job index %d out of range", idx)
		}
		return pipeline.Run(jobs[idx], params)
	}
}

// tileJobFunc adapts tiler.BaseTile to jobqueue.JobFunc, caching one
// mosaic.Build result per zoom level within this worker process: jobs for
// the same zoom arrive in contiguous runs (BuildTileJobs orders zoom
// ascending), so rebuilding the VRT per tile instead of per zoom would be
// pure overhead. mosaic.Build's underlying dataset is an in-memory VRT, not
// an open file another process could contend on, so holding one across
// several FetchAdd claims within a worker is safe.
func tileJobFunc(cfg *config.Config, ts *model.Tileset, opts Options) jobqueue.JobFunc {
	jobs := BuildTileJobs(opts.TmpDir, ts, cfg.Datasets)
	enc, encErr := encode.NewEncoder(opts.Format, 0)

	cachedZoom := -1
	var cachedMosaic *raster.Handle
	var cachedOK bool

	return func(idx int) error {
		if encErr != nil {
			return encErr
		}
		if idx < 0 || idx >= len(jobs) {
			return fmt.Errorf("orchestrator: tile job index %d out of range", idx)
		}
		job := jobs[idx]
		if job.z != cachedZoom {
			if cachedMosaic != nil {
				_ = cachedMosaic.Close()
			}
			m, ok, err := mosaic.Build(ts, cfg.Datasets, opts.TmpDir, job.z)
			if err != nil {
				return fmt.Errorf("orchestrator: mosaic zoom %d: %w", job.z, err)
			}
			cachedZoom, cachedMosaic, cachedOK = job.z, m, ok
		}
		if !cachedOK {
			return nil // no dataset qualifies at this zoom: nothing to tile
		}
		_, err := tiler.BaseTile(cachedMosaic, job.z, job.x, job.y, opts.OutDir, ts.TilePath, enc, opts.TileResampling)
		return err
	}
}
