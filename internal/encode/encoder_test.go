package encode_test

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/ryandrake08/aeronav/internal/encode"
	"github.com/ryandrake08/aeronav/internal/tiler"
)

// testImage creates a size x size RGBA image with a gradient pattern.
func testImage(size int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.SetRGBA(x, y, color.RGBA{
				R: uint8(x % 256),
				G: uint8(y % 256),
				B: uint8((x + y) % 256),
				A: 255,
			})
		}
	}
	return img
}

func TestNewEncoder_FormatAndExtension(t *testing.T) {
	tests := []struct {
		format  string
		wantExt string
		wantErr bool
	}{
		{"jpeg", ".jpg", false},
		{"jpg", ".jpg", false},
		{"png", ".png", false},
		{"webp", ".webp", false},
		{"bmp", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			enc, err := encode.NewEncoder(tt.format, 85)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if enc.FileExtension() != tt.wantExt {
				t.Errorf("FileExtension() = %q, want %q", enc.FileExtension(), tt.wantExt)
			}
		})
	}
}

// TestEncoder_TilePathRoundTrip exercises the same write/read path the
// tiler package uses in production: a tile is encoded, written at
// TilePath's <outpath>/<tilePath>/<z>/<x>/<y>.<ext> layout, then read back
// and decoded with DecodeImage using the encoder's own Format name (the
// same pairing orchestrator.runTileset wires encoder and extension through
// to OverviewTiler).
func TestEncoder_TilePathRoundTrip(t *testing.T) {
	for _, format := range []string{"png", "jpeg"} {
		t.Run(format, func(t *testing.T) {
			enc, err := encode.NewEncoder(format, 85)
			if err != nil {
				t.Fatalf("NewEncoder: %v", err)
			}

			img := testImage(64)
			data, err := enc.Encode(img)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			if len(data) == 0 {
				t.Fatal("Encode produced empty data")
			}

			outDir := t.TempDir()
			path := tiler.TilePath(outDir, "sectional", 8, 42, 101, enc.FileExtension()[1:])
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				t.Fatalf("MkdirAll: %v", err)
			}
			if err := os.WriteFile(path, data, 0o644); err != nil {
				t.Fatalf("WriteFile: %v", err)
			}

			written, err := os.ReadFile(path)
			if err != nil {
				t.Fatalf("ReadFile: %v", err)
			}
			decoded, err := encode.DecodeImage(written, enc.Format())
			if err != nil {
				t.Fatalf("DecodeImage: %v", err)
			}
			bounds := decoded.Bounds()
			if bounds.Dx() != 64 || bounds.Dy() != 64 {
				t.Errorf("decoded size = %dx%d, want 64x64", bounds.Dx(), bounds.Dy())
			}
		})
	}
}

func TestJPEGEncoder_Encode(t *testing.T) {
	enc := &encode.JPEGEncoder{Quality: 85}
	img := testImage(256)

	data, err := enc.Encode(img)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("Encode produced empty data")
	}

	decoded, err := encode.DecodeImage(data, "jpeg")
	if err != nil {
		t.Fatalf("DecodeImage: %v", err)
	}

	bounds := decoded.Bounds()
	if bounds.Dx() != 256 || bounds.Dy() != 256 {
		t.Errorf("decoded size = %dx%d, want 256x256", bounds.Dx(), bounds.Dy())
	}

	// JPEG is lossy — check that pixels are close but not necessarily identical.
	maxDiff := 0
	for y := 0; y < 256; y++ {
		for x := 0; x < 256; x++ {
			or, _, _, _ := img.At(x, y).RGBA()
			dr, _, _, _ := decoded.At(x, y).RGBA()
			diff := int(or>>8) - int(dr>>8)
			if diff < 0 {
				diff = -diff
			}
			if diff > maxDiff {
				maxDiff = diff
			}
		}
	}
	// At quality 85, max diff should be small (JPEG compression artifacts).
	if maxDiff > 30 {
		t.Errorf("JPEG max pixel diff = %d, want <= 30 for quality 85", maxDiff)
	}
}

func TestPNGEncoder_TransparentImage(t *testing.T) {
	// BaseTile/Overview composite against fully-transparent backgrounds
	// (§4.G step 4/5), so PNG must round-trip alpha exactly.
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			if x < 32 {
				img.SetRGBA(x, y, color.RGBA{255, 0, 0, 255})
			} else {
				img.SetRGBA(x, y, color.RGBA{0, 0, 0, 0}) // transparent
			}
		}
	}

	enc := &encode.PNGEncoder{}
	data, err := enc.Encode(img)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	decoded, err := encode.DecodeImage(data, "png")
	if err != nil {
		t.Fatalf("DecodeImage: %v", err)
	}

	// Check opaque pixel.
	r, g, b, a := decoded.At(10, 10).RGBA()
	if r>>8 != 255 || g>>8 != 0 || b>>8 != 0 || a>>8 != 255 {
		t.Errorf("opaque pixel = (%d,%d,%d,%d), want (255,0,0,255)", r>>8, g>>8, b>>8, a>>8)
	}

	// Check transparent pixel.
	_, _, _, a = decoded.At(50, 10).RGBA()
	if a>>8 != 0 {
		t.Errorf("transparent pixel alpha = %d, want 0", a>>8)
	}
}
