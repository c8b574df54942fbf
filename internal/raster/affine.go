package raster

import "fmt"

// SolveAffine computes the best-fit affine geotransform [originX, pixelW, rowRot,
// originY, colRot, pixelH] mapping pixel (col,row) to world (x,y) from a set of
// (pixel, world) correspondences, by least squares.
//
// This is the same closed-form affine fit GDALGCPsToGeoTransform performs for its
// "TRUE" (exact/least-squares) solver, referenced by processing.c's apply_gcps:
// worldX = a*col + b*row + c, worldY = d*col + e*row + f are each independent
// linear combinations of (col, row, 1), so (a,b,c) and (d,e,f) are found by
// solving the two normal-equation systems A^T A v = A^T w for a shared 3x3 A^T A.
//
// Needs at least 3 points (the affine model has 6 degrees of freedom, 2 per
// point); returns an error below that count, matching the GCP-count boundary
// in §8 ("count < 3 -> GCPSolveFailed").
func SolveAffine(pixelX, pixelY, worldX, worldY []float64) (geotransform [6]float64, err error) {
	n := len(pixelX)
	if n < 3 || len(pixelY) != n || len(worldX) != n || len(worldY) != n {
		return geotransform, fmt.Errorf("need >= 3 matched GCPs, got %d", n)
	}

	// Normal-equations matrix for basis (col, row, 1), shared by both axes.
	var sXX, sXY, sX, sYY, sY, sN float64
	var sXWx, sYWx, sWx float64
	var sXWy, sYWy, sWy float64

	for i := 0; i < n; i++ {
		c, r := pixelX[i], pixelY[i]
		wx, wy := worldX[i], worldY[i]
		sXX += c * c
		sXY += c * r
		sX += c
		sYY += r * r
		sY += r
		sN++
		sXWx += c * wx
		sYWx += r * wx
		sWx += wx
		sXWy += c * wy
		sYWy += r * wy
		sWy += wy
	}

	m := [3][3]float64{
		{sXX, sXY, sX},
		{sXY, sYY, sY},
		{sX, sY, sN},
	}

	a, b, c, err := solve3(m, [3]float64{sXWx, sYWx, sWx})
	if err != nil {
		return geotransform, fmt.Errorf("affine solve (X): %w", err)
	}
	d, e, f, err := solve3(m, [3]float64{sXWy, sYWy, sWy})
	if err != nil {
		return geotransform, fmt.Errorf("affine solve (Y): %w", err)
	}

	geotransform = [6]float64{c, a, b, f, d, e}
	return geotransform, nil
}

// solve3 solves the 3x3 linear system m*x = rhs via Cramer's rule.
func solve3(m [3][3]float64, rhs [3]float64) (x0, x1, x2 float64, err error) {
	det := det3(m)
	if det == 0 || isNearZero(det) {
		return 0, 0, 0, fmt.Errorf("singular system (degenerate or collinear GCPs)")
	}

	m0 := m
	m0[0][0], m0[1][0], m0[2][0] = rhs[0], rhs[1], rhs[2]
	m1 := m
	m1[0][1], m1[1][1], m1[2][1] = rhs[0], rhs[1], rhs[2]
	m2 := m
	m2[0][2], m2[1][2], m2[2][2] = rhs[0], rhs[1], rhs[2]

	return det3(m0) / det, det3(m1) / det, det3(m2) / det, nil
}

func det3(m [3][3]float64) float64 {
	return m[0][0]*(m[1][1]*m[2][2]-m[1][2]*m[2][1]) -
		m[0][1]*(m[1][0]*m[2][2]-m[1][2]*m[2][0]) +
		m[0][2]*(m[1][0]*m[2][1]-m[1][1]*m[2][0])
}

func isNearZero(f float64) bool {
	const eps = 1e-12
	return f < eps && f > -eps
}
