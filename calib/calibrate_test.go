package calib

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

func TestBackProject(t *testing.T) {
	intr := testIntrinsics()
	depth := flatDepth(640, 480, 1000)
	depth.Data[5*640+7] = 0

	points := make([]Point, 640*480)
	BackProject(depth, ColorBuffer{}, &intr, points)

	center := points[239*640+319]
	test.That(t, center.Valid, test.ShouldBeTrue)
	test.That(t, center.Position.Z, test.ShouldAlmostEqual, 1.0)
	test.That(t, center.Position.X, test.ShouldAlmostEqual, -0.5/525, 1e-9)

	corner := points[0]
	test.That(t, corner.Valid, test.ShouldBeTrue)
	test.That(t, corner.Position.X, test.ShouldAlmostEqual, -0.6086, 1e-4)
	test.That(t, corner.Position.Y, test.ShouldAlmostEqual, -0.4562, 1e-4)
	test.That(t, corner.Position.Z, test.ShouldAlmostEqual, 1.0)

	hole := points[5*640+7]
	test.That(t, hole.Valid, test.ShouldBeFalse)
	test.That(t, math.IsNaN(hole.Position.X), test.ShouldBeTrue)
	test.That(t, math.IsNaN(hole.Normal.Z), test.ShouldBeTrue)

	// organized: nothing was compacted
	test.That(t, len(points), test.ShouldEqual, 640*480)
}

func TestBackProjectOverwritesStaleCells(t *testing.T) {
	intr := smallIntrinsics(4, 3)
	points := make([]Point, 12)
	BackProject(flatDepth(4, 3, 500), ColorBuffer{}, &intr, points)
	test.That(t, points[6].Valid, test.ShouldBeTrue)

	BackProject(NewDepthGrid(4, 3), ColorBuffer{}, &intr, points)
	for _, p := range points {
		test.That(t, p.Valid, test.ShouldBeFalse)
		test.That(t, math.IsNaN(p.Position.Z), test.ShouldBeTrue)
	}
}

func TestBackProjectColor(t *testing.T) {
	intr := smallIntrinsics(2, 1)
	col := BorrowColor([]uint8{10, 20, 30, 40, 50, 60}, 2, 1, 3)
	points := make([]Point, 2)
	BackProject(flatDepth(2, 1, 800), col, &intr, points)

	test.That(t, points[1].Color.R, test.ShouldEqual, uint8(40))
	test.That(t, points[1].Color.B, test.ShouldEqual, uint8(60))
	test.That(t, points[1].Color.A, test.ShouldEqual, uint8(255))

	// color of another shape is ignored
	points = make([]Point, 2)
	BackProject(flatDepth(2, 1, 800), BorrowColor([]uint8{1, 2, 3}, 1, 1, 3), &intr, points)
	test.That(t, points[0].Color.R, test.ShouldEqual, uint8(0))
}

func TestAlignPoints(t *testing.T) {
	points := []Point{
		{Position: r3.Vector{X: 1, Y: 0, Z: 2}, Normal: r3.Vector{X: 1, Y: 0, Z: 0}, Valid: true},
		{Position: nanVector, Normal: nanVector},
	}

	AlignPoints(points, IdentityExtrinsics())
	test.That(t, points[0].Position, test.ShouldResemble, r3.Vector{X: 1, Y: 0, Z: 2})

	e, err := NewExtrinsics(rotZ90, r3.Vector{X: 0, Y: 0, Z: 0.5})
	test.That(t, err, test.ShouldBeNil)
	AlignPoints(points, e)

	test.That(t, points[0].Position.X, test.ShouldAlmostEqual, 0.0)
	test.That(t, points[0].Position.Y, test.ShouldAlmostEqual, 1.0)
	test.That(t, points[0].Position.Z, test.ShouldAlmostEqual, 2.5)
	// normals rotate but do not translate
	test.That(t, points[0].Normal.Y, test.ShouldAlmostEqual, 1.0)
	test.That(t, points[0].Normal.Z, test.ShouldAlmostEqual, 0.0)

	test.That(t, points[1].Valid, test.ShouldBeFalse)
	test.That(t, math.IsNaN(points[1].Position.X), test.ShouldBeTrue)

	inv, err := e.Inverse()
	test.That(t, err, test.ShouldBeNil)
	AlignPoints(points, inv)
	test.That(t, points[0].Position.X, test.ShouldAlmostEqual, 1.0, 1e-9)
	test.That(t, points[0].Position.Y, test.ShouldAlmostEqual, 0.0, 1e-9)
	test.That(t, points[0].Position.Z, test.ShouldAlmostEqual, 2.0, 1e-9)
}

func TestNormalsOnPlane(t *testing.T) {
	w, h := 40, 30
	intr := smallIntrinsics(w, h)
	points := make([]Point, w*h)
	BackProject(flatDepth(w, h, 1000), ColorBuffer{}, &intr, points)

	var ne normalEstimator
	ne.estimate(points, w, h, DefaultNormalSmoothing)

	n := points[15*w+20].Normal
	test.That(t, n.X, test.ShouldAlmostEqual, 0.0, 1e-9)
	test.That(t, n.Y, test.ShouldAlmostEqual, 0.0, 1e-9)
	test.That(t, n.Z, test.ShouldAlmostEqual, -1.0, 1e-9)

	// too close to the border
	test.That(t, math.IsNaN(points[0].Normal.X), test.ShouldBeTrue)
	test.That(t, math.IsNaN(points[15*w+2].Normal.X), test.ShouldBeTrue)
}

func TestNormalsNextToHoles(t *testing.T) {
	w, h := 40, 30
	intr := smallIntrinsics(w, h)
	depth := flatDepth(w, h, 1000)
	depth.Data[15*w+22] = 0

	points := make([]Point, w*h)
	BackProject(depth, ColorBuffer{}, &intr, points)

	var ne normalEstimator
	ne.estimate(points, w, h, 4)

	test.That(t, math.IsNaN(points[15*w+20].Normal.Z), test.ShouldBeTrue)
	test.That(t, points[15*w+30].Normal.Z, test.ShouldAlmostEqual, -1.0, 1e-9)

	// the tables are reused between frames
	BackProject(flatDepth(w, h, 1000), ColorBuffer{}, &intr, points)
	ne.estimate(points, w, h, 4)
	test.That(t, points[15*w+20].Normal.Z, test.ShouldAlmostEqual, -1.0, 1e-9)
}

func TestCalibrate(t *testing.T) {
	model := RegisteredCameraModel(smallIntrinsics(4, 2))
	var c calibrator
	var out CalibratedFrame

	raw := RawFrame{
		Depth:  DepthGrid{Width: 4, Height: 2, Data: []uint16{1, 0, 0, 0, 0, 0, 0, 0}},
		Color:  BorrowColor([]uint8{1, 1, 1, 2, 2, 2, 3, 3, 3, 4, 4, 4, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}, 4, 2, 3),
		Index:  42,
		Source: SourceDevice,
	}

	c.calibrate(raw, &model, calibrateOptions{calibration: true, normals: true, smoothing: 2}, &out)
	test.That(t, out.Index, test.ShouldEqual, 42)
	test.That(t, out.Source, test.ShouldEqual, SourceDevice)
	test.That(t, out.HasCloud, test.ShouldBeTrue)
	test.That(t, out.Registered, test.ShouldBeTrue)
	test.That(t, out.NormalsComputed, test.ShouldBeTrue)
	test.That(t, len(out.Points), test.ShouldEqual, 8)
	test.That(t, out.At(0, 0).Valid, test.ShouldBeTrue)
	test.That(t, out.ValidCount(), test.ShouldEqual, 1)
	test.That(t, out.Color.Owned, test.ShouldBeTrue)

	// mirrored: the valid sample moves to the end of its row
	raw.Depth.Data = []uint16{1, 0, 0, 0, 0, 0, 0, 0}
	c.calibrate(raw, &model, calibrateOptions{calibration: true, mirror: true}, &out)
	test.That(t, out.At(3, 0).Valid, test.ShouldBeTrue)
	test.That(t, out.At(0, 0).Valid, test.ShouldBeFalse)
	test.That(t, out.At(3, 0).Color.R, test.ShouldEqual, uint8(1))
	test.That(t, out.NormalsComputed, test.ShouldBeFalse)

	// the borrowed color was copied before it was mirrored
	test.That(t, raw.Color.Pix[0], test.ShouldEqual, uint8(1))

	// external frames are never mirrored
	raw.Source = SourceExternal
	raw.Depth.Data = []uint16{1, 0, 0, 0, 0, 0, 0, 0}
	c.calibrate(raw, &model, calibrateOptions{calibration: true, mirror: true}, &out)
	test.That(t, out.At(0, 0).Valid, test.ShouldBeTrue)
}

func TestCalibratePassthrough(t *testing.T) {
	model := RegisteredCameraModel(smallIntrinsics(4, 2))
	var c calibrator
	var out CalibratedFrame

	raw := RawFrame{Depth: flatDepth(4, 2, 700), Index: 3}
	c.calibrate(raw, &model, calibrateOptions{}, &out)
	test.That(t, out.HasCloud, test.ShouldBeFalse)
	test.That(t, len(out.Points), test.ShouldEqual, 0)
	test.That(t, out.Depth, test.ShouldResemble, raw.Depth.Data)
	test.That(t, out.Index, test.ShouldEqual, 3)
}

func TestCalibrateAllInvalid(t *testing.T) {
	model := RegisteredCameraModel(smallIntrinsics(8, 6))
	var c calibrator
	var out CalibratedFrame

	c.calibrate(RawFrame{Depth: NewDepthGrid(8, 6), Index: 9}, &model, calibrateOptions{calibration: true, normals: true, smoothing: 2}, &out)
	test.That(t, out.HasCloud, test.ShouldBeTrue)
	test.That(t, len(out.Points), test.ShouldEqual, 48)
	test.That(t, out.ValidCount(), test.ShouldEqual, 0)
	for _, p := range out.Points {
		test.That(t, math.IsNaN(p.Normal.X), test.ShouldBeTrue)
	}
}
