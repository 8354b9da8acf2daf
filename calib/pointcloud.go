package calib

import (
	"fmt"
	"image"

	"go.viam.com/rdk/pointcloud"

	"github.com/erh/rgbdcalib/imgutils"
)

const metersToMillimeters = 1000.0

// ToPointCloud copies the valid cells of a frame into an rdk point cloud.
// rdk point clouds are in millimeters, so positions are scaled on the way.
func ToPointCloud(f *CalibratedFrame) (pointcloud.PointCloud, error) {
	if !f.HasCloud {
		return nil, fmt.Errorf("frame %d has no point cloud, calibration is disabled", f.Index)
	}

	pc := pointcloud.NewBasicPointCloud(f.ValidCount())
	for i := range f.Points {
		p := &f.Points[i]
		if !p.Valid {
			continue
		}
		err := pc.Set(p.Position.Mul(metersToMillimeters), pointcloud.NewColoredData(p.Color))
		if err != nil {
			return nil, err
		}
	}
	return pc, nil
}

// ColorImage returns the frame's color, or nil if the frame had none.
func ColorImage(f *CalibratedFrame) image.Image {
	if f.Color.Empty() {
		return nil
	}
	return imgutils.ColorToImage(f.Color.Pix, f.Color.Width, f.Color.Height, f.Color.Channels)
}

// DepthImage returns the frame's depth as a 16 bit image in millimeters.
func DepthImage(f *CalibratedFrame) image.Image {
	return imgutils.DepthToImage(f.Depth, f.Width, f.Height)
}
