package raster

import (
	"math"
	"testing"
)

func TestSolveAffine_ExactFit(t *testing.T) {
	// Ground truth affine: world = (2*col - row + 10, col + 3*row - 5).
	want := [6]float64{10, 2, -1, -5, 1, 3}

	pixelX := []float64{0, 100, 0, 50}
	pixelY := []float64{0, 0, 100, 50}
	var worldX, worldY []float64
	for i := range pixelX {
		c, r := pixelX[i], pixelY[i]
		worldX = append(worldX, want[1]*c+want[2]*r+want[0])
		worldY = append(worldY, want[4]*c+want[5]*r+want[3])
	}

	got, err := SolveAffine(pixelX, pixelY, worldX, worldY)
	if err != nil {
		t.Fatal(err)
	}
	for i := range got {
		if math.Abs(got[i]-want[i]) > 1e-6 {
			t.Errorf("geotransform[%d] = %v, want %v (full: %v)", i, got[i], want[i], got)
		}
	}
}

func TestSolveAffine_ResidualWithinTolerance(t *testing.T) {
	// S3: 4 GCPs at the corners of a 1000x1000 source mapped to a rotated quad.
	pixelX := []float64{0, 1000, 1000, 0}
	pixelY := []float64{0, 0, 1000, 1000}
	worldX := []float64{0, 900, 1100, 200}
	worldY := []float64{0, 100, 1050, 950}

	gt, err := SolveAffine(pixelX, pixelY, worldX, worldY)
	if err != nil {
		t.Fatal(err)
	}

	for i := range pixelX {
		wx := gt[0] + gt[1]*pixelX[i] + gt[2]*pixelY[i]
		wy := gt[3] + gt[4]*pixelX[i] + gt[5]*pixelY[i]
		if math.Abs(wx-worldX[i]) > 1e-3 || math.Abs(wy-worldY[i]) > 1e-3 {
			t.Errorf("gcp %d residual too large: got (%v,%v) want (%v,%v)", i, wx, wy, worldX[i], worldY[i])
		}
	}
}

func TestSolveAffine_TooFewPoints(t *testing.T) {
	_, err := SolveAffine([]float64{0, 1}, []float64{0, 1}, []float64{0, 1}, []float64{0, 1})
	if err == nil {
		t.Fatal("expected error for < 3 GCPs")
	}
}

func TestSolveAffine_MinimumThreePoints(t *testing.T) {
	pixelX := []float64{0, 10, 0}
	pixelY := []float64{0, 0, 10}
	worldX := []float64{100, 110, 100}
	worldY := []float64{200, 200, 210}

	gt, err := SolveAffine(pixelX, pixelY, worldX, worldY)
	if err != nil {
		t.Fatalf("3 GCPs should produce a finite affine: %v", err)
	}
	for _, v := range gt {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Errorf("non-finite geotransform: %v", gt)
		}
	}
}

func TestSolveAffine_CollinearIsSingular(t *testing.T) {
	// Collinear pixel points make the system degenerate.
	_, err := SolveAffine([]float64{0, 1, 2}, []float64{0, 1, 2}, []float64{0, 1, 2}, []float64{0, 1, 2})
	if err == nil {
		t.Fatal("expected singular-system error for collinear GCPs")
	}
}
