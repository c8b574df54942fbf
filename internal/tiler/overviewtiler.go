package tiler

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ryandrake08/aeronav/internal/encode"
	"github.com/ryandrake08/aeronav/internal/rgbapool"
)

// Overview walks zoom z+1's tile directory and synthesises z's overview
// tiles by 2x2 child composition, grounded on §4.H and the teacher's
// internal/tile/downsample.go compositing idiom (box-filter averaging,
// alpha-aware, adapted here to read sibling tiles off disk instead of an
// in-memory store). Base tiles already present at z (Phase 1 output) are
// never overwritten.
//
// A directory-scan failure at z+1 is treated as "no children" (zero
// generated, zero failed, nil error) per §7's propagation policy, which may
// cascade into an empty zoom further up — acceptable. A per-tile failure
// (compose/encode/write) is counted in failed and the loop continues onto
// the next parent; Overview itself only returns an error it cannot recover
// from locally.
func Overview(outpath, tilePathName string, z int, ext string, enc encode.Encoder, resampling string) (generated int, failed int, err error) {
	childDir := filepath.Join(outpath, tilePathName, itoa(z+1))
	children, err := scanChildTiles(childDir, ext)
	if err != nil {
		// A scan failure (missing dir or otherwise) means z+1 has no
		// children from this vantage point: treat z as having nothing to
		// synthesise rather than aborting the run.
		return 0, 0, nil
	}

	parents := parentSet(children)

	// Bounded fan-out across parent tiles: each one is an independent
	// read-compose-encode-write, so this is the same per-stage worker-pool
	// shape OverviewTiler's teacher ancestor hand-rolls with channels,
	// expressed with errgroup's SetLimit instead. Per-tile errors are
	// swallowed into the failed counter rather than cancelling the group,
	// since a single bad composite shouldn't abort the rest of the zoom.
	var g errgroup.Group
	g.SetLimit(runtime.NumCPU())

	var mu sync.Mutex

	for _, p := range parents {
		p := p
		g.Go(func() error {
			outPath := TilePath(outpath, tilePathName, z, p.x, p.y, ext)
			if _, statErr := os.Stat(outPath); statErr == nil {
				return nil // base tile already present at this zoom: don't overwrite
			}

			img, tileErr := composeParent(outpath, tilePathName, z, p.x, p.y, ext, resampling)
			if tileErr == nil && img != nil {
				if mkErr := os.MkdirAll(filepath.Dir(outPath), 0o755); mkErr != nil {
					tileErr = fmt.Errorf("overview: mkdir: %w", mkErr)
				}
			}
			if tileErr == nil && img != nil {
				var data []byte
				data, tileErr = enc.Encode(img)
				rgbapool.Put(img)
				if tileErr == nil {
					tileErr = os.WriteFile(outPath, data, 0o644)
				}
			}

			mu.Lock()
			defer mu.Unlock()
			switch {
			case img == nil && tileErr == nil:
				// no child decoded: nothing to generate, not a failure
			case tileErr != nil:
				failed++
			default:
				generated++
			}
			return nil
		})
	}

	_ = g.Wait() // no goroutine above returns a non-nil error
	return generated, failed, nil
}

type tileXY struct{ x, y int }

// scanChildTiles lists every numerically-named x/y.<ext> file under dir.
func scanChildTiles(dir, ext string) ([]tileXY, error) {
	xDirs, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []tileXY
	for _, xd := range xDirs {
		if !xd.IsDir() {
			continue
		}
		x, err := strconv.Atoi(xd.Name())
		if err != nil {
			continue
		}
		files, err := os.ReadDir(filepath.Join(dir, xd.Name()))
		if err != nil {
			continue
		}
		for _, f := range files {
			name := strings.TrimSuffix(f.Name(), "."+ext)
			if name == f.Name() {
				continue
			}
			y, err := strconv.Atoi(name)
			if err != nil {
				continue
			}
			out = append(out, tileXY{x, y})
		}
	}
	return out, nil
}

// parentSet returns the de-duplicated, sorted set of parent coordinates
// P = {(floor(cx/2), floor(cy/2)) : (cx,cy) in children}.
func parentSet(children []tileXY) []tileXY {
	seen := make(map[tileXY]bool)
	var out []tileXY
	for _, c := range children {
		p := tileXY{c.x >> 1, c.y >> 1}
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].x != out[j].x {
			return out[i].x < out[j].x
		}
		return out[i].y < out[j].y
	})
	return out
}

// composeParent builds the 512x512 quadrant buffer for parent (x,y) from up
// to 4 children at (z+1), then downsamples to 256x256. Returns (nil, nil)
// if no child decodes.
func composeParent(outpath, tilePathName string, z, x, y int, ext string, resampling string) (*image.RGBA, error) {
	const full, half = 512, 256

	quadrants := [4]struct {
		cx, cy   int
		offX, offY int
	}{
		{2 * x, 2 * y, 0, 0},
		{2*x + 1, 2 * y, half, 0},
		{2 * x, 2*y + 1, 0, half},
		{2*x + 1, 2*y + 1, half, half},
	}

	big := rgbapool.Get(full, full)
	defer rgbapool.Put(big)
	anyChild := false

	for _, q := range quadrants {
		childPath := TilePath(outpath, tilePathName, z+1, q.cx, q.cy, ext)
		data, err := os.ReadFile(childPath)
		if err != nil {
			continue // missing child: transparent quadrant
		}
		img, err := encode.DecodeImage(data, ext)
		if err != nil {
			return nil, fmt.Errorf("overview: decode child %s: %w", childPath, err)
		}
		anyChild = true
		drawQuadrant(big, img, q.offX, q.offY, half)
	}

	if !anyChild {
		return nil, nil
	}

	dst := rgbapool.Get(full/2, full/2)
	downsample(dst, big, full, resampling)
	return dst, nil
}

// drawQuadrant copies src (assumed half x half) into dst at (offX,offY).
func drawQuadrant(dst *image.RGBA, src image.Image, offX, offY, half int) {
	b := src.Bounds()
	for y := 0; y < half && y < b.Dy(); y++ {
		for x := 0; x < half && x < b.Dx(); x++ {
			r, g, bl, a := src.At(b.Min.X+x, b.Min.Y+y).RGBA()
			dst.SetRGBA(offX+x, offY+y, color.RGBA{
				R: uint8(r >> 8), G: uint8(g >> 8), B: uint8(bl >> 8), A: uint8(a >> 8),
			})
		}
	}
}

// downsample reduces src (full x full) into dst (full/2 x full/2). With
// resampling "nearest" each output pixel is the top-left pixel of its 2x2
// block; every other name box-filters the block, treating alpha==0 pixels
// as nodata excluded from RGB averaging — grounded on the teacher's
// downsampleQuadrantBilinear/downsampleQuadrantNearest.
func downsample(dst, src *image.RGBA, full int, resampling string) {
	half := full / 2
	nearest := resampling == "nearest"
	for dy := 0; dy < half; dy++ {
		for dx := 0; dx < half; dx++ {
			sx, sy := dx*2, dy*2
			if nearest {
				dst.SetRGBA(dx, dy, src.RGBAAt(sx, sy))
				continue
			}

			p00 := src.RGBAAt(sx, sy)
			p10 := src.RGBAAt(sx+1, sy)
			p01 := src.RGBAAt(sx, sy+1)
			p11 := src.RGBAAt(sx+1, sy+1)
			pixels := [4]color.RGBA{p00, p10, p01, p11}

			aSum := uint16(p00.A) + uint16(p10.A) + uint16(p01.A) + uint16(p11.A)
			a := (aSum + 2) / 4

			var rSum, gSum, bSum, count uint16
			for _, p := range pixels {
				if p.A == 0 {
					continue
				}
				rSum += uint16(p.R)
				gSum += uint16(p.G)
				bSum += uint16(p.B)
				count++
			}
			if count == 0 {
				continue
			}
			dst.SetRGBA(dx, dy, color.RGBA{
				R: uint8((rSum + count/2) / count),
				G: uint8((gSum + count/2) / count),
				B: uint8((bSum + count/2) / count),
				A: uint8(a),
			})
		}
	}
}
