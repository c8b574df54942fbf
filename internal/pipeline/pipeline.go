// Package pipeline composes the PipelineStage ops (§4.C) into the single
// fixed-order DatasetPipeline (§4.D), grounded on processing.c's
// process_dataset.
package pipeline

import (
	"fmt"
	"path/filepath"

	"github.com/ryandrake08/aeronav/internal/model"
	"github.com/ryandrake08/aeronav/internal/raster"
)

// Params are the per-run knobs DatasetPipeline needs beyond the dataset
// record itself — everything derived from CLI flags (§6) rather than the
// config document.
type Params struct {
	ZipDir             string
	TmpDir             string
	TargetEPSG         int
	Resolution         float64
	ReprojectResampling string
	TileThreads        int
}

// ArchivePath builds the godal virtual-filesystem path for a dataset's
// member inside its ZIP archive, matching §4.D's "input path convention":
// <archive-root>/<zip_file>.zip opened as a virtual filesystem, yielding
// <input_file> inside.
func ArchivePath(zipDir string, ds *model.Dataset) string {
	zipPath := filepath.Join(zipDir, ds.ZipFile+".zip")
	return fmt.Sprintf("/vsizip/%s/%s", zipPath, ds.InputFile)
}

// Run executes ExpandRGB -> ApplyMask -> ApplyGCP -> Warp -> Clip -> Save
// for one dataset, writing the reprojected GeoTIFF to <tmppath>/<tmp_file>.
// Any stage failure aborts and releases whatever handle it was holding.
func Run(ds *model.Dataset, p Params) error {
	archivePath := ArchivePath(p.ZipDir, ds)
	h, err := raster.Open(archivePath)
	if err != nil {
		return &raster.StageError{Kind: raster.KindArchiveOpenFailed, Err: err}
	}

	off := raster.Offset{}

	res, newOff, err := raster.ExpandRGB(h, ds.Mask)
	if err != nil {
		_ = h.Close()
		return err
	}
	h, off = res.Handle(), newOff

	res, off, err = raster.ApplyMask(h, ds.Mask, off)
	if err != nil {
		_ = h.Close()
		return err
	}
	h = res.Handle()

	res, err = raster.ApplyGCP(h, ds.GCPs, off)
	if err != nil {
		_ = h.Close()
		return err
	}
	h = res.Handle()

	res, err = raster.Warp(h, p.Resolution, p.TargetEPSG, p.ReprojectResampling, p.TileThreads)
	if err != nil {
		_ = h.Close()
		return err
	}
	h = res.Handle()

	res, err = raster.Clip(h, ds.GeoBounds, p.TargetEPSG)
	if err != nil {
		_ = h.Close()
		return err
	}
	h = res.Handle()

	outPath := filepath.Join(p.TmpDir, ds.TmpFile)
	if err := raster.Save(h, outPath); err != nil {
		_ = h.Close()
		return err
	}
	return h.Close()
}
