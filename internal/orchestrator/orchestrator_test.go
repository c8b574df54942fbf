package orchestrator

import (
	"testing"

	"github.com/ryandrake08/aeronav/internal/config"
	"github.com/ryandrake08/aeronav/internal/model"
)

func maskWithOuterBBox(w, h float64) *model.Mask {
	return &model.Mask{Rings: []model.Ring{{Vertices: []model.Vertex{
		{X: 0, Y: 0}, {X: w, Y: 0}, {X: w, Y: h}, {X: 0, Y: h},
	}}}}
}

func testConfig() *config.Config {
	return &config.Config{
		Datasets: map[string]*model.Dataset{
			"small":    {Name: "small", TmpFile: "_small.tif", Mask: maskWithOuterBBox(10, 10)},
			"large":    {Name: "large", TmpFile: "_large.tif", Mask: maskWithOuterBBox(1000, 1000)},
			"unmasked": {Name: "unmasked", TmpFile: "_unmasked.tif"},
			"unused":   {Name: "unused", TmpFile: "_unused.tif", Mask: maskWithOuterBBox(5, 5)},
		},
		Tilesets: map[string]*model.Tileset{
			"a": {Name: "a", ZoomMin: 0, ZoomMax: 5, Datasets: []string{"small", "large"}},
			"b": {Name: "b", ZoomMin: 0, ZoomMax: 5, Datasets: []string{"large", "unmasked"}},
		},
	}
}

func TestBuildDatasetJobs_SortsDescendingByEstimatedWork(t *testing.T) {
	cfg := testConfig()
	jobs := BuildDatasetJobs(cfg, []string{"a", "b"})

	var names []string
	for _, ds := range jobs {
		names = append(names, ds.Name)
	}
	// large (1e6) > small (100) > unmasked (0). "unused" isn't referenced by
	// either tileset and must not appear.
	want := []string{"large", "small", "unmasked"}
	if len(names) != len(want) {
		t.Fatalf("got %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("jobs[%d] = %s, want %s", i, names[i], want[i])
		}
	}
}

func TestBuildDatasetJobs_DedupesAcrossTilesets(t *testing.T) {
	cfg := testConfig()
	jobs := BuildDatasetJobs(cfg, []string{"a", "b"})

	count := 0
	for _, ds := range jobs {
		if ds.Name == "large" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("large dataset appears %d times, want 1 (referenced by both tilesets a and b)", count)
	}
}

func TestBuildDatasetJobs_UnknownTilesetIgnored(t *testing.T) {
	cfg := testConfig()
	jobs := BuildDatasetJobs(cfg, []string{"a", "nonexistent"})
	if len(jobs) != 2 {
		t.Fatalf("got %d jobs, want 2 (from tileset a only)", len(jobs))
	}
}

func TestEstimateWork_NoMaskIsZero(t *testing.T) {
	ds := &model.Dataset{Name: "x"}
	if got := estimateWork(ds); got != 0 {
		t.Errorf("estimateWork(no mask) = %f, want 0", got)
	}
}

func TestEstimateWork_MatchesOuterRingBBoxArea(t *testing.T) {
	ds := &model.Dataset{Name: "x", Mask: maskWithOuterBBox(4, 5)}
	if got, want := estimateWork(ds), 20.0; got != want {
		t.Errorf("estimateWork = %f, want %f", got, want)
	}
}

func TestBuildTileJobs_EmptyWhenDatasetsNotYetProcessed(t *testing.T) {
	cfg := testConfig()
	ts := cfg.Tilesets["a"]
	// TmpDir points nowhere, so datasetBounds can't stat any temp file and
	// every dataset is skipped: the manifest, and therefore the tile job
	// list, is empty.
	jobs := BuildTileJobs(t.TempDir(), ts, cfg.Datasets)
	if len(jobs) != 0 {
		t.Fatalf("got %d jobs, want 0 when no dataset's temp file exists yet", len(jobs))
	}
}
