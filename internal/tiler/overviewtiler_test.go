package tiler

import (
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/ryandrake08/aeronav/internal/encode"
)

func TestParentSet_DedupesAndSorts(t *testing.T) {
	children := []tileXY{{0, 0}, {0, 1}, {1, 0}, {1, 1}, {2, 3}}
	got := parentSet(children)
	// (0,0),(0,1),(1,0),(1,1) all map to parent (0,0); (2,3) maps to (1,1).
	want := []tileXY{{0, 0}, {1, 1}}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("parentSet[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestScanChildTiles(t *testing.T) {
	dir := t.TempDir()
	mustMkdirAll(t, filepath.Join(dir, "3"))
	mustMkdirAll(t, filepath.Join(dir, "5"))
	mustWriteFile(t, filepath.Join(dir, "3", "7.png"), []byte("x"))
	mustWriteFile(t, filepath.Join(dir, "3", "8.png"), []byte("x"))
	mustWriteFile(t, filepath.Join(dir, "5", "1.png"), []byte("x"))
	mustWriteFile(t, filepath.Join(dir, "5", "notanumber.png"), []byte("x"))

	got, err := scanChildTiles(dir, "png")
	if err != nil {
		t.Fatal(err)
	}
	want := map[tileXY]bool{{3, 7}: true, {3, 8}: true, {5, 1}: true}
	if len(got) != len(want) {
		t.Fatalf("got %v, want keys %v", got, want)
	}
	for _, tx := range got {
		if !want[tx] {
			t.Errorf("unexpected tile %v", tx)
		}
	}
}

func TestScanChildTiles_MissingDir(t *testing.T) {
	_, err := scanChildTiles(filepath.Join(t.TempDir(), "nope"), "png")
	if err == nil {
		t.Fatal("expected error for missing directory")
	}
}

func TestOverview_MissingChildDirIsNotAnError(t *testing.T) {
	outpath := t.TempDir()
	enc, err := encode.NewEncoder("png", 0)
	if err != nil {
		t.Fatal(err)
	}
	generated, failed, err := Overview(outpath, "t", 3, "png", enc, "average")
	if err != nil || generated != 0 || failed != 0 {
		t.Fatalf("Overview on empty tree = (%d, %d, %v), want (0, 0, nil)", generated, failed, err)
	}
}

func TestOverview_SkipsExistingBaseTile(t *testing.T) {
	outpath := t.TempDir()
	enc, err := encode.NewEncoder("png", 0)
	if err != nil {
		t.Fatal(err)
	}

	// Child at z=4 so parent (0,0) exists at z=3.
	img := mustSolidPNG(t, enc)
	mustMkdirAll(t, filepath.Join(outpath, "t", "4", "0"))
	mustWriteFile(t, filepath.Join(outpath, "t", "4", "0", "0.png"), img)

	// Parent tile already present at z=3: must not be touched/regenerated.
	mustMkdirAll(t, filepath.Join(outpath, "t", "3", "0"))
	existingPath := filepath.Join(outpath, "t", "3", "0", "0.png")
	mustWriteFile(t, existingPath, []byte("sentinel"))

	generated, failed, err := Overview(outpath, "t", 3, "png", enc, "average")
	if err != nil || generated != 0 || failed != 0 {
		t.Fatalf("Overview = (%d, %d, %v), want (0, 0, nil)", generated, failed, err)
	}
	data, err := os.ReadFile(existingPath)
	if err != nil || string(data) != "sentinel" {
		t.Fatalf("existing base tile was overwritten: %q, %v", data, err)
	}
}

func mustSolidPNG(t *testing.T, enc encode.Encoder) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 256, 256))
	data, err := enc.Encode(img)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func mustMkdirAll(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(path, 0o755); err != nil {
		t.Fatal(err)
	}
}

func mustWriteFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}
