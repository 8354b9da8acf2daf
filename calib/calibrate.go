package calib

import (
	"image/color"
	"math"

	"github.com/golang/geo/r3"
	"go.viam.com/rdk/rimage/transform"

	"github.com/erh/rgbdcalib/imgutils"
)

const millimetersToMeters = 0.001

type calibrateOptions struct {
	calibration bool
	mirror      bool
	normals     bool
	smoothing   int
}

// calibrator turns raw frames into calibrated frames. It belongs to the
// calibration worker and is never shared.
type calibrator struct {
	normals normalEstimator
}

// calibrate fills out from raw, reusing out's buffers. It never fails: a frame
// without a single valid depth sample produces a frame whose cells are all invalid.
func (c *calibrator) calibrate(raw RawFrame, model *CameraModel, opts calibrateOptions, out *CalibratedFrame) {
	if opts.mirror && raw.Source == SourceDevice {
		// the device mirrors its images; undo it before any pixel becomes a ray
		imgutils.MirrorDepth(raw.Depth.Data, raw.Depth.Width)
		if !raw.Color.Empty() {
			raw.Color.own()
			imgutils.MirrorColor(raw.Color.Pix, raw.Color.Width, raw.Color.Channels)
		}
	}

	out.Index = raw.Index
	out.Source = raw.Source
	out.resize(raw.Depth.Width, raw.Depth.Height, opts.calibration)
	copy(out.Depth, raw.Depth.Data)
	out.Color.copyFrom(raw.Color)
	out.Registered = true
	out.HasCloud = opts.calibration
	out.NormalsComputed = false

	if !opts.calibration {
		return
	}

	BackProject(raw.Depth, raw.Color, &model.Depth, out.Points)
	AlignPoints(out.Points, model.Extrinsics)

	if opts.normals {
		c.normals.estimate(out.Points, out.Width, out.Height, opts.smoothing)
		out.NormalsComputed = true
	}
}

// BackProject converts every depth sample into a point with the pinhole model,
// writing into points, which must have one cell per depth sample. Cells with no
// depth are marked invalid with a NaN position; nothing from a previous frame
// survives in them. Colors are attached when the color grid has the same shape
// as the depth grid.
func BackProject(depth DepthGrid, col ColorBuffer, intrinsics *transform.PinholeCameraIntrinsics, points []Point) {
	colored := !col.Empty() && col.Width == depth.Width && col.Height == depth.Height

	for v := 0; v < depth.Height; v++ {
		for u := 0; u < depth.Width; u++ {
			i := v*depth.Width + u
			p := &points[i]
			p.Normal = nanVector
			if colored {
				p.Color = col.At(i)
			} else {
				p.Color = color.NRGBA{}
			}

			d := depth.Data[i]
			if d == 0 {
				p.Position = nanVector
				p.Valid = false
				continue
			}

			x, y, z := intrinsics.PixelToPoint(float64(u), float64(v), float64(d)*millimetersToMeters)
			p.Position = r3.Vector{X: x, Y: y, Z: z}
			p.Valid = true
		}
	}
}

// AlignPoints applies the extrinsics to every valid point in place. Normals
// already estimated are rotated along.
func AlignPoints(points []Point, e Extrinsics) {
	if e.IsIdentity() {
		return
	}
	rows := e.rows()
	t := e.Translation
	for i := range points {
		p := &points[i]
		if !p.Valid {
			continue
		}
		q := p.Position
		p.Position = r3.Vector{
			X: rows[0].Dot(q) + t.X,
			Y: rows[1].Dot(q) + t.Y,
			Z: rows[2].Dot(q) + t.Z,
		}
		if n := p.Normal; !math.IsNaN(n.X) {
			p.Normal = r3.Vector{X: rows[0].Dot(n), Y: rows[1].Dot(n), Z: rows[2].Dot(n)}
		}
	}
}
