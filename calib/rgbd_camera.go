package calib

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/golang/geo/r3"

	"go.viam.com/rdk/components/camera"
	"go.viam.com/rdk/data"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/pointcloud"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/rimage"
	"go.viam.com/rdk/rimage/transform"
	"go.viam.com/rdk/spatialmath"
	goutils "go.viam.com/utils"

	"github.com/erh/rgbdcalib"
)

var CalibratedCameraModel = rgbdcalib.NamespaceFamily.WithModel("rgbd-calibrated")

const frameTimeout = 5 * time.Second

func init() {
	resource.RegisterComponent(
		camera.API,
		CalibratedCameraModel,
		resource.Registration[camera.Camera, *CalibratedCameraConfig]{
			Constructor: newCalibratedCamera,
		})
}

type CalibratedCameraConfig struct {
	Src         string
	ColorSource string  `json:"color_source,omitempty"`
	DepthSource string  `json:"depth_source,omitempty"`
	FrameRate   float64 `json:"frame_rate,omitempty"`

	Mirror          bool `json:"mirror,omitempty"`
	DisableNormals  bool `json:"disable_normals,omitempty"`
	NormalSmoothing int  `json:"normal_smoothing,omitempty"`

	// When Intrinsics is empty the source camera's intrinsics are used.
	Intrinsics      *transform.PinholeCameraIntrinsics `json:"intrinsic_parameters,omitempty"`
	DepthIntrinsics *transform.PinholeCameraIntrinsics `json:"depth_intrinsic_parameters,omitempty"`
	Rotation        []float64                          `json:"depth_to_color_rotation,omitempty"`
	TranslationM    r3.Vector                          `json:"depth_to_color_translation_m,omitzero"`
}

func (c *CalibratedCameraConfig) Validate(path string) ([]string, []string, error) {
	if c.Src == "" {
		return nil, nil, fmt.Errorf("need a src camera")
	}
	if len(c.Rotation) != 0 && len(c.Rotation) != 9 {
		return nil, nil, fmt.Errorf("depth_to_color_rotation needs 9 values, got %d", len(c.Rotation))
	}
	if c.DepthIntrinsics != nil && c.Intrinsics == nil {
		return nil, nil, fmt.Errorf("depth_intrinsic_parameters needs intrinsic_parameters")
	}
	return []string{c.Src}, nil, nil
}

// cameraModel returns nil when the model should come from the source camera.
func (c *CalibratedCameraConfig) cameraModel() (*CameraModel, error) {
	if c.Intrinsics == nil {
		return nil, nil
	}

	model := RegisteredCameraModel(*c.Intrinsics)
	if c.DepthIntrinsics != nil {
		model.Depth = *c.DepthIntrinsics
	}
	if len(c.Rotation) > 0 || c.TranslationM != (r3.Vector{}) {
		rotation := c.Rotation
		if len(rotation) == 0 {
			rotation = []float64{1, 0, 0, 0, 1, 0, 0, 0, 1}
		}
		e, err := NewExtrinsics(rotation, c.TranslationM)
		if err != nil {
			return nil, err
		}
		model.Extrinsics = e
	}
	return &model, model.CheckValid()
}

func (c *CalibratedCameraConfig) options() ([]Option, error) {
	opts := []Option{
		WithMirror(c.Mirror),
		WithNormals(!c.DisableNormals),
	}
	if c.NormalSmoothing > 0 {
		opts = append(opts, WithNormalSmoothing(c.NormalSmoothing))
	}

	model, err := c.cameraModel()
	if err != nil {
		return nil, err
	}
	if model != nil {
		opts = append(opts, WithCameraModel(*model))
	}
	return opts, nil
}

func newCalibratedCamera(ctx context.Context, deps resource.Dependencies, config resource.Config, logger logging.Logger) (camera.Camera, error) {
	newConf, err := resource.NativeConfig[*CalibratedCameraConfig](config)
	if err != nil {
		return nil, err
	}

	src, err := camera.FromProvider(deps, newConf.Src)
	if err != nil {
		return nil, err
	}

	opts, err := newConf.options()
	if err != nil {
		return nil, err
	}

	dev := NewCameraDevice(logger, CameraDeviceConfig{
		ColorSource: newConf.ColorSource,
		DepthSource: newConf.DepthSource,
		FrameRate:   newConf.FrameRate,
	}, src)

	cc := &calibratedCamera{
		name:     config.ResourceName(),
		cfg:      newConf,
		logger:   logger,
		pipeline: NewPipeline(dev, logger, opts...),
	}

	if err := cc.pipeline.ConnectDevice(ctx, 0); err != nil {
		return nil, err
	}
	return cc, nil
}

type calibratedCamera struct {
	resource.AlwaysRebuild

	name   resource.Name
	cfg    *CalibratedCameraConfig
	logger logging.Logger

	pipeline *Pipeline

	lock      sync.Mutex
	frame     CalibratedFrame
	haveFrame bool
}

func (cc *calibratedCamera) Name() resource.Name {
	return cc.name
}

// withLatestFrame runs fn on the newest calibrated frame, waiting for the first one.
func (cc *calibratedCamera) withLatestFrame(ctx context.Context, fn func(f *CalibratedFrame) error) error {
	start := time.Now()
	for {
		cc.lock.Lock()
		if cc.pipeline.GetFrame(&cc.frame) {
			cc.haveFrame = true
		}
		if cc.haveFrame {
			err := fn(&cc.frame)
			cc.lock.Unlock()
			return err
		}
		cc.lock.Unlock()

		if time.Since(start) > frameTimeout {
			return fmt.Errorf("no calibrated frame after %v", time.Since(start))
		}
		if !goutils.SelectContextOrWait(ctx, 20*time.Millisecond) {
			return ctx.Err()
		}
	}
}

func (cc *calibratedCamera) Image(ctx context.Context, mimeType string, extra map[string]interface{}) ([]byte, camera.ImageMetadata, error) {
	var img image.Image
	err := cc.withLatestFrame(ctx, func(f *CalibratedFrame) error {
		img = ColorImage(f)
		if img == nil {
			img = DepthImage(f)
		}
		return nil
	})
	if err != nil {
		return nil, camera.ImageMetadata{}, err
	}

	b, err := rimage.EncodeImage(ctx, img, mimeType)
	if err != nil {
		return nil, camera.ImageMetadata{}, err
	}

	return b, camera.ImageMetadata{MimeType: mimeType}, nil
}

func (cc *calibratedCamera) Images(ctx context.Context, filterSourceNames []string, extra map[string]interface{}) ([]camera.NamedImage, resource.ResponseMetadata, error) {
	var colorImg, depthImg image.Image
	err := cc.withLatestFrame(ctx, func(f *CalibratedFrame) error {
		colorImg = ColorImage(f)
		depthImg = DepthImage(f)
		return nil
	})
	if err != nil {
		return nil, resource.ResponseMetadata{}, err
	}

	want := func(name string) bool {
		if len(filterSourceNames) == 0 {
			return true
		}
		for _, n := range filterSourceNames {
			if n == name {
				return true
			}
		}
		return false
	}

	out := []camera.NamedImage{}
	if colorImg != nil && want("color") {
		ni, err := camera.NamedImageFromImage(colorImg, "color", "image/png", data.Annotations{})
		if err != nil {
			return nil, resource.ResponseMetadata{}, err
		}
		out = append(out, ni)
	}
	if want("depth") {
		ni, err := camera.NamedImageFromImage(depthImg, "depth", "image/png", data.Annotations{})
		if err != nil {
			return nil, resource.ResponseMetadata{}, err
		}
		out = append(out, ni)
	}
	return out, resource.ResponseMetadata{CapturedAt: time.Now()}, nil
}

func (cc *calibratedCamera) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	if v, ok := cmd["pause"].(bool); ok {
		cc.pipeline.SetPause(v)
	}
	if v, ok := cmd["calibration"].(bool); ok {
		cc.pipeline.SetCalibration(v)
	}
	if v, ok := cmd["mirror"].(bool); ok {
		cc.pipeline.SetMirror(v)
	}
	if v, ok := cmd["normals"].(bool); ok {
		cc.pipeline.SetNormals(v)
	}

	state := cc.pipeline.State()
	stats := cc.pipeline.Stats()
	return map[string]interface{}{
		"state":            state.State.String(),
		"session":          state.Session,
		"paused":           state.Paused,
		"calibration":      state.Calibration,
		"mirror":           state.Mirror,
		"normals":          state.Normals,
		"calibrated":       stats.Calibrated,
		"taken":            stats.Taken,
		"raw_drops":        stats.RawDrops,
		"calibrated_drops": stats.CalibratedDrops,
	}, nil
}

func (cc *calibratedCamera) NextPointCloud(ctx context.Context, extra map[string]interface{}) (pointcloud.PointCloud, error) {
	var pc pointcloud.PointCloud
	err := cc.withLatestFrame(ctx, func(f *CalibratedFrame) error {
		start := time.Now()
		var err error
		pc, err = ToPointCloud(f)
		if elapsed := time.Since(start); elapsed > (time.Millisecond * 100) {
			cc.logger.Infof("ToPointCloud took %v", elapsed)
		}
		return err
	})
	return pc, err
}

func (cc *calibratedCamera) Properties(ctx context.Context) (camera.Properties, error) {
	props := camera.Properties{
		SupportsPCD: true,
	}

	// configured intrinsics are the ones the cloud is built with
	model, err := cc.cfg.cameraModel()
	if err != nil || model == nil {
		m, err := cc.pipeline.Intrinsics(ctx)
		if err != nil {
			return props, nil
		}
		model = &m
	}
	rgb := model.RGB
	props.IntrinsicParams = &rgb
	return props, nil
}

func (cc *calibratedCamera) Close(ctx context.Context) error {
	return cc.pipeline.Close(ctx)
}

func (cc *calibratedCamera) Geometries(ctx context.Context, _ map[string]interface{}) ([]spatialmath.Geometry, error) {
	return nil, nil
}
