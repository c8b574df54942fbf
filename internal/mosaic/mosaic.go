// Package mosaic builds ZoomMosaic (§4.F): one virtual raster per
// (tileset, zoom) listing every dataset whose max_lod >= zoom, ordered so
// the backend's list-order alpha compositing paints the highest-detail
// (largest max_lod) dataset underneath and the most zoom-appropriate
// (smallest max_lod) dataset on top.
//
// Grounded on vrt.c's build_vrt/build_tilesets_vrt, adapted from one VRT per
// tileset to one VRT per (tileset, zoom) per the per-dataset max_lod design
// (§4.E/§4.F), and on godal.BuildVRT as confirmed by airbusgeo/cogger's
// mcog and tiler commands.
package mosaic

import (
	"fmt"
	"sort"

	"github.com/airbusgeo/godal"

	"github.com/ryandrake08/aeronav/internal/model"
	"github.com/ryandrake08/aeronav/internal/raster"
)

// entry pairs a dataset with its temp-file path, for ordering by max_lod.
type entry struct {
	path   string
	maxLOD int
}

// orderedPaths returns the temp-file paths of tileset's datasets qualifying
// for zoom z (effective max_lod >= z), in descending-max_lod order: largest
// max_lod first (painted underneath), smallest max_lod last (painted on
// top), per §4.F. Ties keep the tileset's configured dataset order.
func orderedPaths(tileset *model.Tileset, datasets map[string]*model.Dataset, tmpDir string, z int) []string {
	var entries []entry
	for _, name := range tileset.Datasets {
		ds, ok := datasets[name]
		if !ok {
			continue
		}
		effMax := tileset.EffectiveMaxLOD(ds)
		if effMax < z {
			continue
		}
		entries = append(entries, entry{path: tmpDir + "/" + ds.TmpFile, maxLOD: effMax})
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].maxLOD > entries[j].maxLOD })

	paths := make([]string, len(entries))
	for i, e := range entries {
		paths[i] = e.path
	}
	return paths
}

// Build opens an in-memory VRT for tileset at zoom z over the datasets
// whose effective max_lod >= z, reading reprojected GeoTIFFs from tmpDir.
// Returns (nil, false) if no dataset qualifies at this zoom.
func Build(tileset *model.Tileset, datasets map[string]*model.Dataset, tmpDir string, z int) (*raster.Handle, bool, error) {
	paths := orderedPaths(tileset, datasets, tmpDir, z)
	if len(paths) == 0 {
		return nil, false, nil
	}

	ds, err := godal.BuildVRT("", paths, nil)
	if err != nil {
		return nil, false, fmt.Errorf("mosaic: build vrt for tileset %s zoom %d: %w", tileset.Name, z, err)
	}
	return raster.Wrap(ds), true, nil
}
