package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"
)

const sampleDoc = `{
  "datasets": {
    "A": {
      "zip_file": "a",
      "max_lod": 10,
      "mask": [[[0,0],[100,0],[100,100],[0,100]]],
      "geobound": [null, 10.0, 20.0, null],
      "gcps": [[0,0,-1,1],[100,0,1,1],[100,100,1,-1]]
    },
    "B": {
      "zip_file": "b",
      "input_file": "custom.tif",
      "max_lod": 8
    }
  },
  "tilesets": {
    "t": {
      "tile_path": "tiles",
      "zoom": [2, 10],
      "maxlod_zoom": 10,
      "datasets": ["A", "B"]
    }
  }
}`

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_DatasetDefaults(t *testing.T) {
	cfg, err := Load(writeTemp(t, sampleDoc))
	if err != nil {
		t.Fatal(err)
	}

	a, ok := cfg.Dataset("A")
	if !ok {
		t.Fatal("dataset A not found")
	}
	if a.TmpFile != "_A.tif" {
		t.Errorf("TmpFile = %q, want _A.tif", a.TmpFile)
	}
	if a.InputFile != "A.tif" {
		t.Errorf("InputFile default = %q, want A.tif", a.InputFile)
	}
	if a.MaxLOD != 10 {
		t.Errorf("MaxLOD = %d, want 10", a.MaxLOD)
	}
	if len(a.Mask.Rings) != 1 || len(a.Mask.Rings[0].Vertices) != 4 {
		t.Errorf("mask not parsed: %+v", a.Mask)
	}
	if !math.IsNaN(a.GeoBounds.LonMin) {
		t.Errorf("geobound lon_min should be NaN (null), got %v", a.GeoBounds.LonMin)
	}
	if a.GeoBounds.LatMin != 10.0 {
		t.Errorf("geobound lat_min = %v, want 10", a.GeoBounds.LatMin)
	}
	if len(a.GCPs.Points) != 3 {
		t.Errorf("gcps len = %d, want 3", len(a.GCPs.Points))
	}

	b, ok := cfg.Dataset("B")
	if !ok {
		t.Fatal("dataset B not found")
	}
	if b.InputFile != "custom.tif" {
		t.Errorf("InputFile = %q, want custom.tif", b.InputFile)
	}
	if b.Mask != nil {
		t.Errorf("B should have no mask, got %+v", b.Mask)
	}
}

func TestLoad_Tileset(t *testing.T) {
	cfg, err := Load(writeTemp(t, sampleDoc))
	if err != nil {
		t.Fatal(err)
	}

	ts, ok := cfg.Tileset("t")
	if !ok {
		t.Fatal("tileset t not found")
	}
	if ts.ZoomMin != 2 || ts.ZoomMax != 10 {
		t.Errorf("zoom range = [%d,%d], want [2,10]", ts.ZoomMin, ts.ZoomMax)
	}
	if len(ts.Datasets) != 2 {
		t.Errorf("datasets = %v, want 2 entries", ts.Datasets)
	}

	// Lookup by tile_path alias, per config.c's get_tileset.
	if byPath, ok := cfg.Tileset("tiles"); !ok || byPath.Name != "t" {
		t.Errorf("lookup by tile_path alias failed: %+v %v", byPath, ok)
	}
}

func TestLoad_MissingDatasetsObject(t *testing.T) {
	_, err := Load(writeTemp(t, `{"tilesets": {}}`))
	if err == nil {
		t.Fatal("expected error for missing datasets object")
	}
}

func TestEffectiveMaxLOD_Clamps(t *testing.T) {
	cfg, err := Load(writeTemp(t, sampleDoc))
	if err != nil {
		t.Fatal(err)
	}
	ts, _ := cfg.Tileset("t")
	a, _ := cfg.Dataset("A")
	if got := ts.EffectiveMaxLOD(a); got != 10 {
		t.Errorf("EffectiveMaxLOD = %d, want 10", got)
	}

	ts.ZoomMax = 5
	if got := ts.EffectiveMaxLOD(a); got != 5 {
		t.Errorf("EffectiveMaxLOD clamp = %d, want 5", got)
	}
}
