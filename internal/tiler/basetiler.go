// Package tiler implements BaseTiler (§4.G) and OverviewTiler (§4.H), the
// two-phase tile pyramid builder driven per tileset by the orchestrator.
package tiler

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/airbusgeo/godal"

	"github.com/ryandrake08/aeronav/internal/encode"
	"github.com/ryandrake08/aeronav/internal/mercator"
	"github.com/ryandrake08/aeronav/internal/raster"
	"github.com/ryandrake08/aeronav/internal/rgbapool"
)

// Status is BaseTile's return code: Generated or one of the Skipped kinds.
// A failure is reported through BaseTile's error result, not as a Status.
type Status int

const (
	Generated Status = iota
	SkippedNoOverlap
	SkippedExisting
	SkippedEmpty
)

func (s Status) String() string {
	switch s {
	case Generated:
		return "generated"
	case SkippedNoOverlap:
		return "skipped(no-overlap)"
	case SkippedExisting:
		return "skipped(existing)"
	case SkippedEmpty:
		return "skipped(empty)"
	default:
		return "unknown"
	}
}

// TilePath returns <outpath>/<tilePath>/<z>/<x>/<y>.<ext>, the layout every
// stage in this package reads and writes.
func TilePath(outpath, tilePath string, z, x, y int, ext string) string {
	return filepath.Join(outpath, tilePath, itoa(z), itoa(x), fmt.Sprintf("%d.%s", y, ext))
}

func itoa(n int) string { return fmt.Sprintf("%d", n) }

// BaseTile generates one base tile from a zoom-mosaic handle, per §4.G's
// seven-step algorithm, grounded on tiling.c's generate_tile.
func BaseTile(mosaic *raster.Handle, z, x, y int, outpath, tilePathName string, enc encode.Encoder, resampling string) (Status, error) {
	tileMinX, tileMinY, tileMaxX, tileMaxY := tileBoundsMeters(z, x, y)

	outPath := TilePath(outpath, tilePathName, z, x, y, enc.FileExtension()[1:])
	if _, err := os.Stat(outPath); err == nil {
		return SkippedExisting, nil
	}

	ds := mosaic.Dataset()
	gt, err := ds.GeoTransform()
	if err != nil {
		return 0, fmt.Errorf("basetile: geotransform: %w", err)
	}
	structure := ds.Structure()
	dsMinX := gt[0]
	dsMaxX := gt[0] + float64(structure.SizeX)*gt[1]
	dsMaxY := gt[3]
	dsMinY := gt[3] + float64(structure.SizeY)*gt[5]

	if tileMaxX <= dsMinX || tileMinX >= dsMaxX || tileMaxY <= dsMinY || tileMinY >= dsMaxY {
		return SkippedNoOverlap, nil
	}

	srcX0 := (tileMinX - gt[0]) / gt[1]
	srcY0 := (tileMaxY - gt[3]) / gt[5]
	srcX1 := (tileMaxX - gt[0]) / gt[1]
	srcY1 := (tileMinY - gt[3]) / gt[5]

	if srcX0 < 0 {
		srcX0 = 0
	}
	if srcY0 < 0 {
		srcY0 = 0
	}
	if srcX1 > float64(structure.SizeX) {
		srcX1 = float64(structure.SizeX)
	}
	if srcY1 > float64(structure.SizeY) {
		srcY1 = float64(structure.SizeY)
	}

	readX, readY := int(srcX0), int(srcY0)
	readW, readH := int(srcX1-srcX0+0.5), int(srcY1-srcY0+0.5)
	if readW <= 0 || readH <= 0 {
		return SkippedNoOverlap, nil
	}

	const tileSize = mercator.TileSize
	tileX0, tileY0, tileW, tileH := 0, 0, tileSize, tileSize
	if tileMinX < dsMinX {
		tileX0 = int((dsMinX - tileMinX) / (tileMaxX - tileMinX) * tileSize)
		tileW = tileSize - tileX0
	}
	if tileMaxX > dsMaxX {
		tileW = int((dsMaxX-tileMinX)/(tileMaxX-tileMinX)*tileSize) - tileX0
	}
	if tileMaxY > dsMaxY {
		tileY0 = int((tileMaxY - dsMaxY) / (tileMaxY - tileMinY) * tileSize)
		tileH = tileSize - tileY0
	}
	if tileMinY < dsMinY {
		tileH = int((tileMaxY-dsMinY)/(tileMaxY-tileMinY)*tileSize) - tileY0
	}
	if tileW <= 0 || tileH <= 0 {
		return SkippedNoOverlap, nil
	}

	bands := ds.Bands()
	if len(bands) < 3 {
		return 0, fmt.Errorf("basetile: expected >= 3 bands, got %d", len(bands))
	}

	img := rgbapool.Get(tileSize, tileSize)
	defer rgbapool.Put(img)
	resOpt := godal.Resampling(resamplingAlg(resampling))

	bandBuf := make([]byte, tileW*tileH)
	for b := 0; b < 4; b++ {
		srcBand := -1
		switch {
		case b < 3:
			srcBand = b
		case len(bands) >= 4:
			srcBand = 3
		}

		if srcBand >= 0 {
			if err := bands[srcBand].Read(readX, readY, bandBuf, tileW, tileH, godal.Window(readW, readH), resOpt); err != nil {
				return 0, fmt.Errorf("basetile: read band %d: %w", srcBand, err)
			}
			for yo := 0; yo < tileH; yo++ {
				for xo := 0; xo < tileW; xo++ {
					idx := ((tileY0+yo)*tileSize + (tileX0 + xo)) * 4
					img.Pix[idx+b] = bandBuf[yo*tileW+xo]
				}
			}
		} else if b == 3 {
			for yo := 0; yo < tileH; yo++ {
				for xo := 0; xo < tileW; xo++ {
					idx := ((tileY0+yo)*tileSize + (tileX0 + xo)) * 4
					img.Pix[idx+3] = 255
				}
			}
		}
	}

	empty := true
	for i := 3; i < len(img.Pix); i += 4 {
		if img.Pix[i] != 0 {
			empty = false
			break
		}
	}
	if empty {
		return SkippedEmpty, nil
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return 0, fmt.Errorf("basetile: mkdir: %w", err)
	}
	data, err := enc.Encode(img)
	if err != nil {
		return 0, fmt.Errorf("basetile: encode: %w", err)
	}
	if err := os.WriteFile(outPath, data, 0o644); err != nil {
		return 0, fmt.Errorf("basetile: write: %w", err)
	}
	return Generated, nil
}

// tileBoundsMeters returns a tile's EPSG:3857 extent, grounded on
// tiling.c's tile_bounds (XYZ -> TMS y flip).
func tileBoundsMeters(z, x, y int) (minX, minY, maxX, maxY float64) {
	b := mercator.TileBounds(z, x, y)
	return b.MinX, b.MinY, b.MaxX, b.MaxY
}

func resamplingAlg(name string) godal.ResamplingAlg {
	switch name {
	case "nearest":
		return godal.Nearest
	case "bilinear":
		return godal.Bilinear
	case "cubic":
		return godal.Cubic
	case "cubicspline":
		return godal.CubicSpline
	case "lanczos":
		return godal.Lanczos
	case "average":
		return godal.Average
	case "mode":
		return godal.Mode
	default:
		return godal.Nearest
	}
}
