package calib

import (
	"github.com/golang/geo/r3"
)

// DefaultNormalSmoothing is the side, in pixels, of the window averaged on
// each side of a point when estimating its normal.
const DefaultNormalSmoothing = 10

// normalEstimator computes normals on an organized cloud with summed-area
// tables, so every normal costs the same regardless of the window size.
// The tables are kept between frames.
type normalEstimator struct {
	stride int
	sx     []float64
	sy     []float64
	sz     []float64
	count  []float64
}

func (ne *normalEstimator) build(points []Point, width, height int) {
	ne.stride = width + 1
	n := (width + 1) * (height + 1)
	ne.sx = resizeFloats(ne.sx, n)
	ne.sy = resizeFloats(ne.sy, n)
	ne.sz = resizeFloats(ne.sz, n)
	ne.count = resizeFloats(ne.count, n)

	for v := 0; v < height; v++ {
		var rx, ry, rz, rc float64
		for u := 0; u < width; u++ {
			p := &points[v*width+u]
			if p.Valid {
				rx += p.Position.X
				ry += p.Position.Y
				rz += p.Position.Z
				rc++
			}
			above := v*ne.stride + u + 1
			here := above + ne.stride
			ne.sx[here] = ne.sx[above] + rx
			ne.sy[here] = ne.sy[above] + ry
			ne.sz[here] = ne.sz[above] + rz
			ne.count[here] = ne.count[above] + rc
		}
	}
}

func resizeFloats(s []float64, n int) []float64 {
	if cap(s) < n {
		return make([]float64, n)
	}
	s = s[:n]
	// the first row and column must stay zero
	clear(s)
	return s
}

// mean averages the points of columns [u0,u1) and rows [v0,v1). ok is false
// unless every point in the box is valid.
func (ne *normalEstimator) mean(u0, v0, u1, v1 int) (r3.Vector, bool) {
	box := func(t []float64) float64 {
		return t[v1*ne.stride+u1] - t[v0*ne.stride+u1] - t[v1*ne.stride+u0] + t[v0*ne.stride+u0]
	}
	area := float64((u1 - u0) * (v1 - v0))
	if area <= 0 || box(ne.count) != area {
		return r3.Vector{}, false
	}
	return r3.Vector{X: box(ne.sx), Y: box(ne.sy), Z: box(ne.sz)}.Mul(1 / area), true
}

// estimate fills Normal for every point. The normal is the cross product of the
// averaged horizontal and vertical gradients, turned toward the sensor. Points
// too close to the border or next to invalid cells get a NaN normal.
func (ne *normalEstimator) estimate(points []Point, width, height, smoothing int) {
	r := smoothing / 2
	if r < 1 {
		r = 1
	}
	ne.build(points, width, height)

	for v := 0; v < height; v++ {
		for u := 0; u < width; u++ {
			p := &points[v*width+u]
			p.Normal = nanVector
			if !p.Valid {
				continue
			}
			if u-r < 0 || u+r >= width || v-r < 0 || v+r >= height {
				continue
			}

			left, ok1 := ne.mean(u-r, v-r, u, v+r+1)
			right, ok2 := ne.mean(u+1, v-r, u+r+1, v+r+1)
			top, ok3 := ne.mean(u-r, v-r, u+r+1, v)
			bottom, ok4 := ne.mean(u-r, v+1, u+r+1, v+r+1)
			if !ok1 || !ok2 || !ok3 || !ok4 {
				continue
			}

			n := right.Sub(left).Cross(bottom.Sub(top))
			norm := n.Norm()
			if norm == 0 {
				continue
			}
			n = n.Mul(1 / norm)
			if n.Dot(p.Position) > 0 {
				n = n.Mul(-1)
			}
			p.Normal = n
		}
	}
}
