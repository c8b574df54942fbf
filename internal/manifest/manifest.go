// Package manifest builds TileManifest (§4.E): per-zoom sorted,
// deduplicated sets of packed tile keys that Phase 1's BaseTiler consults to
// decide which base tiles actually need generating for a tileset.
//
// Grounded on manifest.c: pack_tile/compare_tiles, get_tile_at_zoom's
// asinh/tan formula, add_tiles_for_bounds' antimeridian-splitting recursion,
// build_tile_manifest's per-dataset max_lod clamp loop, and
// manifest_contains' binary search.
package manifest

import (
	"math"
	"sort"

	"github.com/ryandrake08/aeronav/internal/model"
)

// PackedTile is a 32-bit (x<<16)|y key, valid for z <= 16 per §3's
// "Packed tile key invariants".
type PackedTile uint32

func pack(x, y int) PackedTile {
	return PackedTile(uint32(x)<<16 | uint32(y))
}

// Manifest holds one sorted, deduplicated tile-key set per zoom level in
// [MinZoom, MaxZoom].
type Manifest struct {
	MinZoom, MaxZoom int
	zooms            [][]PackedTile // index 0 == MinZoom
}

// Bounds is a WGS-84 (lon_min, lat_min, lon_max, lat_max) box, as read back
// from a reprojected GeoTIFF's extent.
type Bounds struct {
	LonMin, LatMin, LonMax, LatMax float64
}

// tileAtZoom returns the XYZ tile containing (lon,lat) at zoom, clamped to
// the valid tile range — matches manifest.c's get_tile_at_zoom.
func tileAtZoom(lon, lat float64, zoom int) (x, y int) {
	n := 1 << uint(zoom)
	x = int((lon + 180.0) / 360.0 * float64(n))
	latRad := lat * math.Pi / 180.0
	y = int((1.0 - math.Asinh(math.Tan(latRad))/math.Pi) / 2.0 * float64(n))

	if x < 0 {
		x = 0
	}
	if x >= n {
		x = n - 1
	}
	if y < 0 {
		y = 0
	}
	if y >= n {
		y = n - 1
	}
	return x, y
}

// addTilesForBounds appends the packed keys of every tile intersecting
// [lonMin,lonMax]x[latMin,latMax] at zoom to *out, splitting recursively at
// the antimeridian when lonMin > lonMax.
func addTilesForBounds(out *[]PackedTile, lonMin, latMin, lonMax, latMax float64, zoom int) {
	if lonMin < -180 {
		lonMin = -180
	}
	if lonMax > 180 {
		lonMax = 180
	}
	if latMin < -85 {
		latMin = -85
	}
	if latMax > 85 {
		latMax = 85
	}

	if lonMin > lonMax {
		addTilesForBounds(out, lonMin, latMin, 180, latMax, zoom)
		addTilesForBounds(out, -180, latMin, lonMax, latMax, zoom)
		return
	}

	xMin, yMax := tileAtZoom(lonMin, latMin, zoom)
	xMax, yMin := tileAtZoom(lonMax, latMax, zoom)

	for x := xMin; x <= xMax; x++ {
		for y := yMin; y <= yMax; y++ {
			*out = append(*out, pack(x, y))
		}
	}
}

// Build constructs a Manifest for tileset over the given per-dataset
// bounds/max_lod pairs. boundsFn returns the WGS-84 extent of a dataset's
// reprojected GeoTIFF (nil, false if the file isn't readable yet, which is
// skipped rather than treated as an error, matching build_tile_manifest's
// "TIF doesn't exist yet - skip").
func Build(tileset *model.Tileset, datasets map[string]*model.Dataset, boundsFn func(ds *model.Dataset) (*Bounds, bool)) *Manifest {
	m := &Manifest{
		MinZoom: tileset.ZoomMin,
		MaxZoom: tileset.ZoomMax,
		zooms:   make([][]PackedTile, tileset.ZoomMax-tileset.ZoomMin+1),
	}

	for _, name := range tileset.Datasets {
		ds, ok := datasets[name]
		if !ok {
			continue
		}
		b, ok := boundsFn(ds)
		if !ok {
			continue
		}

		dsMaxZoom := tileset.EffectiveMaxLOD(ds)
		for z := m.MinZoom; z <= dsMaxZoom; z++ {
			addTilesForBounds(&m.zooms[z-m.MinZoom], b.LonMin, b.LatMin, b.LonMax, b.LatMax, z)
		}
	}

	for i := range m.zooms {
		m.zooms[i] = finalize(m.zooms[i])
	}
	return m
}

// finalize sorts and deduplicates a zoom level's tile keys.
func finalize(tiles []PackedTile) []PackedTile {
	if len(tiles) <= 1 {
		return tiles
	}
	sort.Slice(tiles, func(i, j int) bool { return tiles[i] < tiles[j] })
	write := 1
	for read := 1; read < len(tiles); read++ {
		if tiles[read] != tiles[write-1] {
			tiles[write] = tiles[read]
			write++
		}
	}
	return tiles[:write]
}

// Contains reports whether (z,x,y) is in the manifest. A nil manifest means
// "generate all tiles", matching manifest_contains' "no manifest" rule.
func (m *Manifest) Contains(z, x, y int) bool {
	if m == nil {
		return true
	}
	if z < m.MinZoom || z > m.MaxZoom {
		return false
	}
	tiles := m.zooms[z-m.MinZoom]
	if len(tiles) == 0 {
		return false
	}
	target := pack(x, y)
	i := sort.Search(len(tiles), func(i int) bool { return tiles[i] >= target })
	return i < len(tiles) && tiles[i] == target
}

// Tiles returns the sorted, deduplicated tile keys at zoom z (nil if out of
// range), for BaseTiler to iterate.
func (m *Manifest) Tiles(z int) []PackedTile {
	if m == nil || z < m.MinZoom || z > m.MaxZoom {
		return nil
	}
	return m.zooms[z-m.MinZoom]
}

// Count returns the total number of tiles across all zoom levels.
func (m *Manifest) Count() int {
	if m == nil {
		return 0
	}
	total := 0
	for _, z := range m.zooms {
		total += len(z)
	}
	return total
}

// XY unpacks a PackedTile back into its x,y coordinates.
func (p PackedTile) XY() (x, y int) {
	return int(p >> 16), int(p & 0xFFFF)
}
