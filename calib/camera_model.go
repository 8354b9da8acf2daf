package calib

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"go.viam.com/rdk/rimage/transform"
	"go.viam.com/rdk/spatialmath"
	"gonum.org/v1/gonum/mat"
)

const rotationTolerance = 1e-6

// Extrinsics is the rigid transform taking depth sensor coordinates to color
// sensor coordinates: p' = Rotation*p + Translation, meters.
type Extrinsics struct {
	Rotation    *spatialmath.RotationMatrix
	Translation r3.Vector
}

// IdentityExtrinsics is the transform of a registered device, where depth is
// already expressed in the color sensor frame.
func IdentityExtrinsics() Extrinsics {
	rm, err := spatialmath.NewRotationMatrix([]float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
	if err != nil {
		panic(err)
	}
	return Extrinsics{Rotation: rm}
}

// NewExtrinsics builds extrinsics from a row-major 3x3 rotation and a translation in meters.
func NewExtrinsics(rotation []float64, translation r3.Vector) (Extrinsics, error) {
	if len(rotation) != 9 {
		return Extrinsics{}, fmt.Errorf("rotation needs 9 values, got %d", len(rotation))
	}
	rm, err := spatialmath.NewRotationMatrix(rotation)
	if err != nil {
		return Extrinsics{}, err
	}
	e := Extrinsics{Rotation: rm, Translation: translation}
	return e, e.CheckValid()
}

func (e Extrinsics) rows() [3]r3.Vector {
	if e.Rotation == nil {
		return [3]r3.Vector{{X: 1}, {Y: 1}, {Z: 1}}
	}
	return [3]r3.Vector{e.Rotation.Row(0), e.Rotation.Row(1), e.Rotation.Row(2)}
}

// CheckValid makes sure the rotation is a proper rotation: orthonormal with determinant +1.
func (e Extrinsics) CheckValid() error {
	rows := e.rows()
	r := mat.NewDense(3, 3, []float64{
		rows[0].X, rows[0].Y, rows[0].Z,
		rows[1].X, rows[1].Y, rows[1].Z,
		rows[2].X, rows[2].Y, rows[2].Z,
	})

	var rrt mat.Dense
	rrt.Mul(r, r.T())
	if !mat.EqualApprox(&rrt, mat.NewDiagDense(3, []float64{1, 1, 1}), rotationTolerance) {
		return fmt.Errorf("extrinsic rotation is not orthonormal")
	}
	if det := mat.Det(r); math.Abs(det-1) > rotationTolerance {
		return fmt.Errorf("extrinsic rotation has determinant %v, need 1", det)
	}
	for _, v := range []float64{e.Translation.X, e.Translation.Y, e.Translation.Z} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("extrinsic translation is not finite: %v", e.Translation)
		}
	}
	return nil
}

// IsIdentity is true when applying the transform cannot move a point.
func (e Extrinsics) IsIdentity() bool {
	rows := e.rows()
	return rows[0] == r3.Vector{X: 1} && rows[1] == r3.Vector{Y: 1} && rows[2] == r3.Vector{Z: 1} &&
		e.Translation == r3.Vector{}
}

// Apply transforms a single point.
func (e Extrinsics) Apply(p r3.Vector) r3.Vector {
	rows := e.rows()
	return r3.Vector{
		X: rows[0].Dot(p) + e.Translation.X,
		Y: rows[1].Dot(p) + e.Translation.Y,
		Z: rows[2].Dot(p) + e.Translation.Z,
	}
}

// Inverse returns the transform from color sensor back to depth sensor coordinates.
func (e Extrinsics) Inverse() (Extrinsics, error) {
	rows := e.rows()
	rm, err := spatialmath.NewRotationMatrix([]float64{
		rows[0].X, rows[1].X, rows[2].X,
		rows[0].Y, rows[1].Y, rows[2].Y,
		rows[0].Z, rows[1].Z, rows[2].Z,
	})
	if err != nil {
		return Extrinsics{}, err
	}
	inv := Extrinsics{Rotation: rm}
	inv.Translation = inv.Apply(e.Translation).Mul(-1)
	return inv, nil
}

// CameraModel holds the intrinsics of both sensors and the extrinsics between them.
// It is supplied by the caller and never modified by the pipeline.
type CameraModel struct {
	RGB        transform.PinholeCameraIntrinsics
	Depth      transform.PinholeCameraIntrinsics
	Extrinsics Extrinsics
}

// RegisteredCameraModel is the model of a device that registers depth to color:
// one set of intrinsics for both sensors and identity extrinsics.
func RegisteredCameraModel(intrinsics transform.PinholeCameraIntrinsics) CameraModel {
	return CameraModel{
		RGB:        intrinsics,
		Depth:      intrinsics,
		Extrinsics: IdentityExtrinsics(),
	}
}

// CheckValid validates both intrinsics and the extrinsics.
func (m CameraModel) CheckValid() error {
	if err := m.RGB.CheckValid(); err != nil {
		return fmt.Errorf("rgb intrinsics: %w", err)
	}
	if err := m.Depth.CheckValid(); err != nil {
		return fmt.Errorf("depth intrinsics: %w", err)
	}
	return m.Extrinsics.CheckValid()
}
