// Package raster implements the PipelineStage ops (§4.C) over the
// RasterBackend black box (component A), here github.com/airbusgeo/godal —
// real GDAL CGo bindings, the Go analogue of the original C source's direct
// libgdal usage (gdal.h) in processing.c.
package raster

import (
	"fmt"
	"sync"

	"github.com/airbusgeo/godal"
)

var initOnce sync.Once

// Init performs the one-shot per-process backend initialisation (§9 "Global
// state"): the driver registry and CRS cache are process-global, so each
// worker process calls this exactly once after it forks/starts, matching
// processing.c's dataset_worker_init (GDALAllRegister + GTIFF_SRS_SOURCE).
func Init() {
	initOnce.Do(func() {
		godal.RegisterAll()
		_ = godal.SetConfigOption("GTIFF_SRS_SOURCE", "GEOKEYS")
		_ = godal.SetConfigOption("COMPRESS_OVERVIEW", "LZW")
		_ = godal.SetConfigOption("BIGTIFF_OVERVIEW", "IF_SAFER")
	})
}

// Offset is the cumulative pixel-space window offset threaded through
// ExpandRGB and ApplyMask (§4.D's "window-offset accumulator").
type Offset struct {
	X, Y float64
}

// Add returns o translated by (dx,dy).
func (o Offset) Add(dx, dy float64) Offset {
	return Offset{X: o.X + dx, Y: o.Y + dy}
}

// Handle owns a single godal.Dataset. Per §9's ownership note, a stage
// either returns a Result carrying a Fresh handle (the stage has already
// closed the old one) or a NoOp result (the input handle is reused, unchanged) — never
// a bare nullable pointer, so "no-op" and "fresh" can't be confused.
type Handle struct {
	ds   *godal.Dataset
	path string // "" for in-memory (MEM driver) datasets
}

// Dataset exposes the underlying godal handle to stages in this package.
func (h *Handle) Dataset() *godal.Dataset { return h.ds }

// Close releases the underlying GDAL dataset. Safe to call on a nil Handle.
func (h *Handle) Close() error {
	if h == nil || h.ds == nil {
		return nil
	}
	return h.ds.Close()
}

// Open opens path (which may be a /vsizip/... virtual path) read-only.
func Open(path string) (*Handle, error) {
	ds, err := godal.Open(path)
	if err != nil {
		return nil, fmt.Errorf("raster: open %s: %w", path, err)
	}
	return &Handle{ds: ds, path: path}, nil
}

// Wrap adopts an already-open godal.Dataset (e.g. one built by
// godal.BuildVRT) as a Handle, for callers outside this package that need
// to produce one from their own godal calls.
func Wrap(ds *godal.Dataset) *Handle {
	return &Handle{ds: ds}
}

// Result is the sum type every PipelineStage op returns: either Fresh (a new
// handle; the stage's input handle has already been released) or NoOp (the
// input handle is returned unchanged and still owned by the caller).
type Result struct {
	handle *Handle
	fresh  bool
}

// Fresh wraps a newly produced handle.
func Fresh(h *Handle) Result { return Result{handle: h, fresh: true} }

// NoOp wraps the unchanged input handle.
func NoOp(h *Handle) Result { return Result{handle: h, fresh: false} }

// IsFresh reports whether the result replaced the input handle.
func (r Result) IsFresh() bool { return r.fresh }

// Handle returns the result's handle (fresh or passed through).
func (r Result) Handle() *Handle { return r.handle }

// Kind classifies a pipeline failure per §7's taxonomy.
type Kind string

const (
	KindArchiveOpenFailed Kind = "ArchiveOpenFailed"
	KindRasterOpenFailed  Kind = "RasterOpenFailed"
	KindInvalidMask       Kind = "InvalidMask"
	KindGCPSolveFailed    Kind = "GCPSolveFailed"
	KindCRSUnavailable    Kind = "CRSUnavailable"
	KindWarpFailed        Kind = "WarpFailed"
	KindClipFailed        Kind = "ClipFailed"
	KindSaveFailed        Kind = "SaveFailed"
)

// StageError is a PipelineStage failure tagged with its §7 kind.
type StageError struct {
	Kind Kind
	Err  error
}

func (e *StageError) Error() string { return fmt.Sprintf("%s: %v", e.Kind, e.Err) }
func (e *StageError) Unwrap() error { return e.Err }

func stageErr(kind Kind, format string, args ...interface{}) error {
	return &StageError{Kind: kind, Err: fmt.Errorf(format, args...)}
}
