package raster

import (
	"fmt"
	"math"

	"github.com/airbusgeo/godal"

	"github.com/ryandrake08/aeronav/internal/model"
)

// ExpandRGB is grounded on processing.c's expand_to_rgb: if band 1 carries a
// color table, decode to three 8-bit bands; if a mask is present, restrict
// the output to the mask's outer-ring bounding box so later stages never
// materialise the full raster. Returns the pixel offset (ox,oy) of the
// window within the source raster.
func ExpandRGB(h *Handle, mask *model.Mask) (Result, Offset, error) {
	ds := h.Dataset()
	bands := ds.Bands()
	if len(bands) == 0 {
		return Result{}, Offset{}, stageErr(KindRasterOpenFailed, "no bands")
	}
	ct := bands[0].ColorTable()
	hasPalette := ct != nil && len(ct.Entries) > 0

	var win *[4]int // xoff, yoff, xsize, ysize
	if mask != nil {
		structure := ds.Structure()
		x0, y0, x1, y1, ok := outerBBox(mask, structure.SizeX, structure.SizeY)
		if !ok {
			return Result{}, Offset{}, stageErr(KindInvalidMask, "mask bounding box outside source raster")
		}
		win = &[4]int{x0, y0, x1 - x0, y1 - y0}
	}

	if !hasPalette && win == nil {
		return NoOp(h), Offset{}, nil
	}

	switches := []string{}
	if hasPalette {
		switches = append(switches, "-expand", "rgb")
	}
	if win != nil {
		switches = append(switches, "-srcwin",
			itoa(win[0]), itoa(win[1]), itoa(win[2]), itoa(win[3]))
	}

	out, err := ds.Translate("", switches, godal.Memory)
	if err != nil {
		return Result{}, Offset{}, stageErr(KindRasterOpenFailed, "expand_rgb translate: %w", err)
	}
	_ = h.Close()

	off := Offset{}
	if win != nil {
		off = Offset{X: float64(win[0]), Y: float64(win[1])}
	}
	return Fresh(&Handle{ds: out}), off, nil
}

// outerBBox computes the outer ring's bounding box in pixel coordinates,
// clamped to [0,width]x[0,height]. Returns ok=false if the clamped box is
// degenerate (matches §8's "mask bbox fully outside source -> InvalidMask").
func outerBBox(mask *model.Mask, width, height int) (x0, y0, x1, y1 int, ok bool) {
	outer := mask.Outer()
	if len(outer.Vertices) == 0 {
		return 0, 0, 0, 0, false
	}
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, v := range outer.Vertices {
		minX = math.Min(minX, v.X)
		maxX = math.Max(maxX, v.X)
		minY = math.Min(minY, v.Y)
		maxY = math.Max(maxY, v.Y)
	}

	ix0, iy0 := int(math.Floor(minX)), int(math.Floor(minY))
	ix1, iy1 := int(math.Ceil(maxX)), int(math.Ceil(maxY))
	if ix0 < 0 {
		ix0 = 0
	}
	if iy0 < 0 {
		iy0 = 0
	}
	if ix1 > width {
		ix1 = width
	}
	if iy1 > height {
		iy1 = height
	}
	if ix1 <= ix0 || iy1 <= iy0 {
		return 0, 0, 0, 0, false
	}
	return ix0, iy0, ix1, iy1, true
}

// ApplyMask is grounded on processing.c's apply_mask: crop to the outer
// ring's bbox (in the already-offset coordinate space), add an alpha band if
// absent, and rasterize the polygon (outer CCW, holes CW) into that alpha
// band with burn value 255 using a temporarily identity geotransform, which
// is restored immediately after the burn.
func ApplyMask(h *Handle, mask *model.Mask, off Offset) (Result, Offset, error) {
	if mask == nil {
		return NoOp(h), off, nil
	}
	ds := h.Dataset()
	structure := ds.Structure()

	// Mask coordinates are in source-image pixel space; translate into the
	// space of the (possibly already windowed) input raster.
	shifted := translateMask(mask, -off.X, -off.Y)
	x0, y0, x1, y1, ok := outerBBox(shifted, structure.SizeX, structure.SizeY)
	if !ok {
		return Result{}, off, stageErr(KindInvalidMask, "mask bounding box outside source raster")
	}
	w, hgt := x1-x0, y1-y0

	hasAlpha := false
	for _, b := range ds.Bands() {
		if b.ColorInterp() == godal.CIAlpha {
			hasAlpha = true
			break
		}
	}
	nBands := structure.NBands
	if !hasAlpha {
		nBands++
	}

	out, err := godal.Create(godal.Memory, "", nBands, structure.DataType, w, hgt)
	if err != nil {
		return Result{}, off, stageErr(KindInvalidMask, "create mask target: %w", err)
	}

	srcBands := ds.Bands()
	dstBands := out.Bands()
	buf := make([]byte, w*hgt)
	for i := range srcBands {
		if err := srcBands[i].Read(x0, y0, buf, w, hgt); err != nil {
			_ = out.Close()
			return Result{}, off, stageErr(KindInvalidMask, "read band %d: %w", i, err)
		}
		if err := dstBands[i].Write(0, 0, buf, w, hgt); err != nil {
			_ = out.Close()
			return Result{}, off, stageErr(KindInvalidMask, "write band %d: %w", i, err)
		}
	}
	alphaIdx := len(srcBands)
	if hasAlpha {
		alphaIdx = len(srcBands) - 1
	} else {
		zero := make([]byte, w*hgt)
		if err := dstBands[alphaIdx].Write(0, 0, zero, w, hgt); err != nil {
			_ = out.Close()
			return Result{}, off, stageErr(KindInvalidMask, "init alpha band: %w", err)
		}
	}
	for i, b := range dstBands {
		switch {
		case i < 3:
			_ = b.SetColorInterp([]godal.ColorInterp{godal.CIRed, godal.CIGreen, godal.CIBlue}[i])
		case i == alphaIdx:
			_ = b.SetColorInterp(godal.CIAlpha)
		}
	}

	savedGT, hadGT := [6]float64{}, false
	if gt, err := ds.GeoTransform(); err == nil {
		savedGT, hadGT = gt, true
	}
	adjustedGT := [6]float64{0, 1, 0, 0, 0, 1}
	if hadGT {
		adjustedGT = [6]float64{
			savedGT[0] + float64(x0)*savedGT[1] + float64(y0)*savedGT[2],
			savedGT[1], savedGT[2],
			savedGT[3] + float64(x0)*savedGT[4] + float64(y0)*savedGT[5],
			savedGT[4], savedGT[5],
		}
	}

	// Burn with an identity geotransform so the polygon's pixel-space
	// coordinates (already translated into window-local space below) map
	// 1:1 to raster cells, then restore the real spatial geotransform.
	_ = out.SetGeoTransform([6]float64{0, 1, 0, 0, 0, 1})
	geom, err := maskGeometry(shifted, float64(x0), float64(y0))
	if err != nil {
		_ = out.Close()
		return Result{}, off, stageErr(KindInvalidMask, "build mask geometry: %w", err)
	}
	defer geom.Close()

	if err := out.RasterizeGeometry(geom, godal.Bands(alphaIdx), godal.Values(255)); err != nil {
		_ = out.Close()
		return Result{}, off, stageErr(KindInvalidMask, "rasterize mask: %w", err)
	}
	_ = out.SetGeoTransform(adjustedGT)
	if proj := ds.Projection(); proj != "" {
		_ = out.SetProjection(proj)
	}

	_ = h.Close()
	return Fresh(&Handle{ds: out}), off.Add(float64(x0), float64(y0)), nil
}

func translateMask(mask *model.Mask, dx, dy float64) *model.Mask {
	out := &model.Mask{Rings: make([]model.Ring, len(mask.Rings))}
	for i, ring := range mask.Rings {
		verts := make([]model.Vertex, len(ring.Vertices))
		for j, v := range ring.Vertices {
			verts[j] = model.Vertex{X: v.X + dx, Y: v.Y + dy}
		}
		out.Rings[i] = model.Ring{Vertices: verts}
	}
	return out
}

// maskGeometry builds an OGR polygon (outer ring + holes) in a coordinate
// space local to the target window: each vertex is translated by
// -(originX,originY) so it lines up with the identity geotransform used
// during the burn.
func maskGeometry(mask *model.Mask, originX, originY float64) (*godal.Geometry, error) {
	wkt := "POLYGON ("
	for i, ring := range mask.Rings {
		if i > 0 {
			wkt += ", "
		}
		wkt += "("
		for j, v := range ring.Vertices {
			if j > 0 {
				wkt += ", "
			}
			wkt += fmt.Sprintf("%g %g", v.X-originX, v.Y-originY)
		}
		if len(ring.Vertices) > 0 {
			first := ring.Vertices[0]
			wkt += fmt.Sprintf(", %g %g", first.X-originX, first.Y-originY)
		}
		wkt += ")"
	}
	wkt += ")"
	return godal.NewGeometryFromWKT(wkt, nil)
}

// ApplyGCP is grounded on processing.c's apply_gcps: translate each GCP's
// pixel coordinate by the cumulative offset, project its lon/lat into the
// source CRS (falling back to WGS-84 when the source has none), and attach
// the best-fit affine geotransform computed by SolveAffine.
func ApplyGCP(h *Handle, gcps *model.GCPSet, off Offset) (Result, error) {
	if gcps == nil || len(gcps.Points) == 0 {
		return NoOp(h), nil
	}
	if len(gcps.Points) < 3 {
		return Result{}, stageErr(KindGCPSolveFailed, "need >= 3 GCPs, got %d", len(gcps.Points))
	}

	ds := h.Dataset()
	out, err := ds.Translate("", nil, godal.Memory)
	if err != nil {
		return Result{}, stageErr(KindGCPSolveFailed, "copy for gcp: %w", err)
	}

	srcWKT := ds.Projection()
	var srcSR *godal.SpatialRef
	if srcWKT != "" {
		if sr, err := godal.NewSpatialRefFromWKT(srcWKT); err == nil {
			srcSR = sr
			defer sr.Close()
		}
	}

	pixelX := make([]float64, len(gcps.Points))
	pixelY := make([]float64, len(gcps.Points))
	worldX := make([]float64, len(gcps.Points))
	worldY := make([]float64, len(gcps.Points))

	wgs84, err := godal.NewSpatialRefFromEPSG(4326)
	if err != nil {
		return Result{}, stageErr(KindCRSUnavailable, "wgs84 spatial ref: %w", err)
	}
	defer wgs84.Close()

	for i, p := range gcps.Points {
		pixelX[i] = p.PixelX - off.X
		pixelY[i] = p.PixelY - off.Y

		lon, lat := p.Lon, p.Lat
		if srcSR != nil {
			tr, err := godal.NewTransform(wgs84, srcSR)
			if err != nil {
				return Result{}, stageErr(KindCRSUnavailable, "wgs84->source transform: %w", err)
			}
			xs, ys := []float64{lon}, []float64{lat}
			ok := tr.TransformEx(xs, ys, nil, nil)
			tr.Close()
			if !ok {
				return Result{}, stageErr(KindCRSUnavailable, "gcp %d: transform failed", i)
			}
			worldX[i], worldY[i] = xs[0], ys[0]
		} else {
			worldX[i], worldY[i] = lon, lat
		}
	}

	gt, err := SolveAffine(pixelX, pixelY, worldX, worldY)
	if err != nil {
		_ = out.Close()
		return Result{}, stageErr(KindGCPSolveFailed, "%w", err)
	}

	_ = out.SetGeoTransform(gt)
	if srcSR != nil {
		_ = out.SetSpatialRef(srcSR)
	} else {
		_ = out.SetSpatialRef(wgs84)
	}

	_ = h.Close()
	return Fresh(&Handle{ds: out}), nil
}

// Warp is grounded on processing.c's warp_to_target: reprojects to
// EPSG:<epsg> at (resolution,resolution) meters/pixel, compensating for
// Web-Mercator's latitude stretch, and is never a no-op.
func Warp(h *Handle, resolution float64, epsg int, resampling string, threads int) (Result, error) {
	ds := h.Dataset()
	centerLat, err := centerLatitude(ds)
	if err != nil {
		return Result{}, stageErr(KindWarpFailed, "center latitude: %w", err)
	}
	adjusted := resolution / math.Cos(centerLat)

	switches := []string{
		"-t_srs", fmt.Sprintf("EPSG:%d", epsg),
		"-tr", ftoa(adjusted), ftoa(adjusted),
		"-r", resampling,
		"-dstalpha",
	}
	if threads > 1 {
		switches = append(switches, "-wo", fmt.Sprintf("NUM_THREADS=%d", threads))
	}

	out, err := ds.Warp("", switches, godal.Memory)
	if err != nil {
		return Result{}, stageErr(KindWarpFailed, "%w", err)
	}
	_ = h.Close()
	return Fresh(&Handle{ds: out}), nil
}

// centerLatitude returns the WGS-84 latitude (radians) of ds's own center
// pixel, grounded on processing.c's get_center_latitude_from_dataset.
func centerLatitude(ds *godal.Dataset) (float64, error) {
	gt, err := ds.GeoTransform()
	if err != nil {
		return 0, err
	}
	structure := ds.Structure()
	cx := gt[0] + float64(structure.SizeX)/2*gt[1] + float64(structure.SizeY)/2*gt[2]
	cy := gt[3] + float64(structure.SizeX)/2*gt[4] + float64(structure.SizeY)/2*gt[5]

	wkt := ds.Projection()
	if wkt == "" {
		return cy * math.Pi / 180, nil
	}
	srcSR, err := godal.NewSpatialRefFromWKT(wkt)
	if err != nil {
		return 0, err
	}
	defer srcSR.Close()
	wgs84, err := godal.NewSpatialRefFromEPSG(4326)
	if err != nil {
		return 0, err
	}
	defer wgs84.Close()

	tr, err := godal.NewTransform(srcSR, wgs84)
	if err != nil {
		return 0, err
	}
	defer tr.Close()
	xs, ys := []float64{cx}, []float64{cy}
	if !tr.TransformEx(xs, ys, nil, nil) {
		return 0, fmt.Errorf("center-point transform failed")
	}
	return ys[0] * math.Pi / 180, nil
}

// Clip is grounded on processing.c's clip_to_bounds: a no-op when all four
// bounds are absent; otherwise projects each specified edge into the
// target CRS using a dummy coordinate derived from the source's own
// centroid (back-projected) to sidestep projection singularities, and
// intersects with the source extent.
func Clip(h *Handle, bounds *model.GeoBounds, epsg int) (Result, error) {
	if !bounds.AnySet() {
		return NoOp(h), nil
	}
	ds := h.Dataset()
	gt, err := ds.GeoTransform()
	if err != nil {
		return Result{}, stageErr(KindClipFailed, "geotransform: %w", err)
	}
	structure := ds.Structure()
	srcMinX := gt[0]
	srcMaxX := gt[0] + float64(structure.SizeX)*gt[1]
	srcMaxY := gt[3]
	srcMinY := gt[3] + float64(structure.SizeY)*gt[5]

	targetSR, err := godal.NewSpatialRefFromEPSG(epsg)
	if err != nil {
		return Result{}, stageErr(KindCRSUnavailable, "target srs: %w", err)
	}
	defer targetSR.Close()
	wgs84, err := godal.NewSpatialRefFromEPSG(4326)
	if err != nil {
		return Result{}, stageErr(KindCRSUnavailable, "wgs84 srs: %w", err)
	}
	defer wgs84.Close()

	fwd, err := godal.NewTransform(wgs84, targetSR)
	if err != nil {
		return Result{}, stageErr(KindCRSUnavailable, "wgs84->target: %w", err)
	}
	defer fwd.Close()
	back, err := godal.NewTransform(targetSR, wgs84)
	if err != nil {
		return Result{}, stageErr(KindCRSUnavailable, "target->wgs84: %w", err)
	}
	defer back.Close()

	// Dummy coordinate: the source raster's own center, back-projected to
	// WGS-84, used to fill in whichever axis a given bound doesn't
	// constrain so the probe transform never straddles a singularity.
	cx, cy := (srcMinX+srcMaxX)/2, (srcMinY+srcMaxY)/2
	dxs, dys := []float64{cx}, []float64{cy}
	if !back.TransformEx(dxs, dys, nil, nil) {
		return Result{}, stageErr(KindClipFailed, "dummy coordinate transform failed")
	}
	dummyLon, dummyLat := dxs[0], dys[0]

	probe := func(lon, lat float64) (x, y float64, ok bool) {
		xs, ys := []float64{lon}, []float64{lat}
		if !fwd.TransformEx(xs, ys, nil, nil) {
			return 0, 0, false
		}
		return xs[0], ys[0], true
	}

	minX, maxX, minY, maxY := srcMinX, srcMaxX, srcMinY, srcMaxY
	if !isNaN(bounds.LonMin) {
		x, _, ok := probe(bounds.LonMin, dummyLat)
		if !ok {
			return Result{}, stageErr(KindClipFailed, "lon_min probe failed")
		}
		if x > minX {
			minX = x
		}
	}
	if !isNaN(bounds.LonMax) {
		x, _, ok := probe(bounds.LonMax, dummyLat)
		if !ok {
			return Result{}, stageErr(KindClipFailed, "lon_max probe failed")
		}
		if x < maxX {
			maxX = x
		}
	}
	if !isNaN(bounds.LatMin) {
		_, y, ok := probe(dummyLon, bounds.LatMin)
		if !ok {
			return Result{}, stageErr(KindClipFailed, "lat_min probe failed")
		}
		if y > minY {
			minY = y
		}
	}
	if !isNaN(bounds.LatMax) {
		_, y, ok := probe(dummyLon, bounds.LatMax)
		if !ok {
			return Result{}, stageErr(KindClipFailed, "lat_max probe failed")
		}
		if y < maxY {
			maxY = y
		}
	}

	if minX == srcMinX && maxX == srcMaxX && minY == srcMinY && maxY == srcMaxY {
		return NoOp(h), nil
	}

	out, err := ds.Translate("", []string{
		"-projwin", ftoa(minX), ftoa(maxY), ftoa(maxX), ftoa(minY),
	}, godal.Memory)
	if err != nil {
		return Result{}, stageErr(KindClipFailed, "%w", err)
	}
	_ = h.Close()
	return Fresh(&Handle{ds: out}), nil
}

func isNaN(f float64) bool { return f != f }

// Save is grounded on processing.c's save_with_overviews: a tiled,
// LZW-compressed, BIGTIFF-safe GeoTIFF with AVERAGE-resampled overview
// levels [2,4,8,16,32,64] built on the still-open handle before closing.
func Save(h *Handle, path string) error {
	ds := h.Dataset()
	out, err := ds.Translate(path, nil,
		godal.CreationOption("COMPRESS=LZW", "TILED=YES", "BIGTIFF=IF_SAFER"),
		godal.GTiff,
	)
	if err != nil {
		return stageErr(KindSaveFailed, "%w", err)
	}
	if err := out.BuildOverviews(
		godal.Resampling(godal.Average),
		godal.Levels(2, 4, 8, 16, 32, 64),
	); err != nil {
		_ = out.Close()
		return stageErr(KindSaveFailed, "build overviews: %w", err)
	}
	return out.Close()
}

func itoa(n int) string { return fmt.Sprintf("%d", n) }
func ftoa(f float64) string { return fmt.Sprintf("%.10g", f) }
