package pipeline

import (
	"testing"

	"github.com/ryandrake08/aeronav/internal/model"
)

func TestArchivePath(t *testing.T) {
	ds := &model.Dataset{ZipFile: "sectional_01", InputFile: "sectional_01.tif"}
	got := ArchivePath("/data/zips", ds)
	want := "/vsizip//data/zips/sectional_01.zip/sectional_01.tif"
	if got != want {
		t.Errorf("ArchivePath = %q, want %q", got, want)
	}
}
