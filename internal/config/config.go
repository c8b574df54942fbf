// Package config loads the configuration document (§6) — a JSON object
// with "datasets" and "tilesets" collections — into internal/model records.
//
// Field semantics are grounded on the original config.c loader: input_file
// defaults to "<dataset name>.tif", geobound entries may be JSON null
// (unconstrained), and a dataset's temp output filename is always
// "_<name>.tif".
package config

import (
	"fmt"
	"math"
	"sort"

	"github.com/spf13/viper"

	"github.com/ryandrake08/aeronav/internal/model"
)

// rawDataset mirrors one "datasets" entry. GeoBound keeps the JSON array
// [lon_min, lat_min, lon_max, lat_max] as []interface{} so null entries
// decode as nil and can be told apart from 0.
type rawDataset struct {
	ZipFile   string        `mapstructure:"zip_file"`
	InputFile string        `mapstructure:"input_file"`
	Mask      [][][2]float64 `mapstructure:"mask"`
	GeoBound  []interface{} `mapstructure:"geobound"`
	GCPs      [][4]float64  `mapstructure:"gcps"`
	MaxLOD    int           `mapstructure:"max_lod"`
}

type rawTileset struct {
	TilePath   string   `mapstructure:"tile_path"`
	Zoom       [2]int   `mapstructure:"zoom"`
	MaxLODZoom int      `mapstructure:"maxlod_zoom"`
	Datasets   []string `mapstructure:"datasets"`
}

type rawConfig struct {
	Datasets map[string]rawDataset `mapstructure:"datasets"`
	Tilesets map[string]rawTileset `mapstructure:"tilesets"`
}

// Config is the fully-loaded, read-only configuration document.
type Config struct {
	Datasets map[string]*model.Dataset
	Tilesets map[string]*model.Tileset
	// TilesetOrder lists the tileset names in lexical order for --list and
	// the "process all tilesets" default, since Go map iteration is
	// unordered; the document's own key order is not kept.
	TilesetOrder []string
}

// Load reads and parses the configuration document at path.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var raw rawConfig
	if err := v.Unmarshal(&raw); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if raw.Datasets == nil {
		return nil, fmt.Errorf("config: %s missing 'datasets' object", path)
	}
	if raw.Tilesets == nil {
		return nil, fmt.Errorf("config: %s missing 'tilesets' object", path)
	}

	cfg := &Config{
		Datasets: make(map[string]*model.Dataset, len(raw.Datasets)),
		Tilesets: make(map[string]*model.Tileset, len(raw.Tilesets)),
	}

	for name, rd := range raw.Datasets {
		ds := &model.Dataset{
			Name:      name,
			ZipFile:   rd.ZipFile,
			InputFile: rd.InputFile,
			TmpFile:   "_" + name + ".tif",
			MaxLOD:    rd.MaxLOD,
		}
		if ds.InputFile == "" {
			ds.InputFile = name + ".tif"
		}
		ds.Mask = parseMask(rd.Mask)
		gb, err := parseGeoBound(rd.GeoBound)
		if err != nil {
			return nil, fmt.Errorf("config: dataset %q: %w", name, err)
		}
		ds.GeoBounds = gb
		ds.GCPs = parseGCPs(rd.GCPs)
		cfg.Datasets[name] = ds
	}

	// The JSON/mapstructure decode above loses document order for the
	// "tilesets" object keys (Go maps have none). Since order only matters
	// for a friendly default --list ordering, not program semantics, a
	// lexical sort of the decoded names (below) substitutes for document
	// order.
	for name, rt := range raw.Tilesets {
		ts := &model.Tileset{
			Name:       name,
			TilePath:   rt.TilePath,
			ZoomMin:    rt.Zoom[0],
			ZoomMax:    rt.Zoom[1],
			MaxLODZoom: rt.MaxLODZoom,
			Datasets:   rt.Datasets,
		}
		cfg.Tilesets[name] = ts
		cfg.TilesetOrder = append(cfg.TilesetOrder, name)
	}
	sort.Strings(cfg.TilesetOrder)

	return cfg, nil
}

func parseMask(rings [][][2]float64) *model.Mask {
	if len(rings) == 0 {
		return nil
	}
	m := &model.Mask{Rings: make([]model.Ring, len(rings))}
	for i, ring := range rings {
		verts := make([]model.Vertex, len(ring))
		for j, v := range ring {
			verts[j] = model.Vertex{X: v[0], Y: v[1]}
		}
		m.Rings[i] = model.Ring{Vertices: verts}
	}
	return m
}

func parseGeoBound(arr []interface{}) (*model.GeoBounds, error) {
	if len(arr) == 0 {
		return nil, nil
	}
	if len(arr) != 4 {
		return nil, fmt.Errorf("geobound must have 4 elements, got %d", len(arr))
	}
	vals := make([]float64, 4)
	for i, v := range arr {
		if v == nil {
			vals[i] = math.NaN()
			continue
		}
		f, ok := v.(float64)
		if !ok {
			return nil, fmt.Errorf("geobound[%d] is not a number", i)
		}
		vals[i] = f
	}
	return &model.GeoBounds{LonMin: vals[0], LatMin: vals[1], LonMax: vals[2], LatMax: vals[3]}, nil
}

func parseGCPs(pts [][4]float64) *model.GCPSet {
	if len(pts) == 0 {
		return nil
	}
	gcp := &model.GCPSet{Points: make([]model.ControlPoint, len(pts))}
	for i, p := range pts {
		gcp.Points[i] = model.ControlPoint{PixelX: p[0], PixelY: p[1], Lon: p[2], Lat: p[3]}
	}
	return gcp
}

// Dataset looks up a dataset by name.
func (c *Config) Dataset(name string) (*model.Dataset, bool) {
	ds, ok := c.Datasets[name]
	return ds, ok
}

// Tileset looks up a tileset by name or tile_path alias, matching
// config.c's get_tileset.
func (c *Config) Tileset(name string) (*model.Tileset, bool) {
	if ts, ok := c.Tilesets[name]; ok {
		return ts, true
	}
	for _, ts := range c.Tilesets {
		if ts.TilePath == name {
			return ts, true
		}
	}
	return nil, false
}

// AllTilesetNames returns every configured tileset name.
func (c *Config) AllTilesetNames() []string {
	out := make([]string, len(c.TilesetOrder))
	copy(out, c.TilesetOrder)
	return out
}
