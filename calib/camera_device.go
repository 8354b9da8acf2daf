package calib

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"go.viam.com/rdk/components/camera"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/rimage"
	"go.viam.com/rdk/rimage/transform"
	goutils "go.viam.com/utils"

	"github.com/erh/rgbdcalib/imgutils"
)

const defaultFrameRate = 30.0

var errIncompleteFrame = errors.New("camera returned no depth image or no color image")

// CameraDeviceConfig selects the images used from a camera.
type CameraDeviceConfig struct {
	// ColorSource and DepthSource are source names of the camera's images. When
	// empty, the depth image is the 16 bit one and the color image the other.
	ColorSource string
	DepthSource string
	FrameRate   float64
}

func (c CameraDeviceConfig) period() time.Duration {
	fps := c.FrameRate
	if fps <= 0 {
		fps = defaultFrameRate
	}
	return time.Duration(float64(time.Second) / fps)
}

// CameraDevice is a DeviceAdapter over rdk cameras that return color and depth
// from Images. The device index picks one of the cameras it was built with.
// Frames are polled at the configured rate on a background goroutine.
type CameraDevice struct {
	cfg     CameraDeviceConfig
	cameras []camera.Camera
	logger  logging.Logger

	mu           sync.Mutex
	cam          camera.Camera
	props        camera.Properties
	cb           FrameCallback
	synchronized bool
	nextIndex    int
	workers      *goutils.StoppableWorkers
}

// NewCameraDevice builds an adapter over cameras.
func NewCameraDevice(logger logging.Logger, cfg CameraDeviceConfig, cameras ...camera.Camera) *CameraDevice {
	return &CameraDevice{
		cfg:          cfg,
		cameras:      cameras,
		logger:       logger,
		synchronized: true,
	}
}

func (d *CameraDevice) Connect(ctx context.Context, index int) error {
	if index < 0 || index >= len(d.cameras) {
		return fmt.Errorf("no camera at index %d, have %d", index, len(d.cameras))
	}
	cam := d.cameras[index]

	props, err := cam.Properties(ctx)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cam != nil {
		return fmt.Errorf("already connected to %v", d.cam.Name())
	}
	d.cam = cam
	d.props = props
	d.nextIndex = 0
	d.workers = goutils.NewBackgroundStoppableWorkers(d.poll)
	return nil
}

func (d *CameraDevice) Disconnect(ctx context.Context) error {
	d.mu.Lock()
	workers := d.workers
	d.workers = nil
	d.mu.Unlock()

	// Stop outside the lock, the poll loop takes it.
	if workers != nil {
		workers.Stop()
	}

	d.mu.Lock()
	d.cam = nil
	d.mu.Unlock()
	return nil
}

func (d *CameraDevice) connected() (camera.Camera, camera.Properties, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cam == nil {
		return nil, camera.Properties{}, fmt.Errorf("camera device not connected")
	}
	return d.cam, d.props, nil
}

func (d *CameraDevice) Dimensions(ctx context.Context) (Dimensions, error) {
	cam, props, err := d.connected()
	if err != nil {
		return Dimensions{}, err
	}

	if in := props.IntrinsicParams; in != nil {
		return Dimensions{RGBWidth: in.Width, RGBHeight: in.Height, DepthWidth: in.Width, DepthHeight: in.Height}, nil
	}

	col, depth, err := d.capture(ctx, cam)
	if err != nil {
		return Dimensions{}, err
	}
	dims := Dimensions{}
	if col != nil {
		dims.RGBWidth, dims.RGBHeight = col.Bounds().Dx(), col.Bounds().Dy()
	}
	if depth != nil {
		dims.DepthWidth, dims.DepthHeight = depth.Bounds().Dx(), depth.Bounds().Dy()
	}
	return dims, nil
}

// Intrinsics returns a registered model built from the camera's intrinsics.
func (d *CameraDevice) Intrinsics(ctx context.Context) (CameraModel, error) {
	_, props, err := d.connected()
	if err != nil {
		return CameraModel{}, err
	}
	if props.IntrinsicParams == nil {
		return CameraModel{}, transform.NewNoIntrinsicsError("camera has no intrinsic parameters")
	}
	return RegisteredCameraModel(*props.IntrinsicParams), nil
}

// SetSynchronization decides whether frames missing color are skipped (true)
// or delivered with an empty color buffer (false).
func (d *CameraDevice) SetSynchronization(ctx context.Context, enable bool) error {
	d.mu.Lock()
	d.synchronized = enable
	d.mu.Unlock()
	return nil
}

func (d *CameraDevice) OnFrame(cb FrameCallback) {
	d.mu.Lock()
	d.cb = cb
	d.mu.Unlock()
}

func (d *CameraDevice) poll(ctx context.Context) {
	period := d.cfg.period()
	for {
		start := time.Now()
		if err := d.captureOnce(ctx); err != nil && ctx.Err() == nil {
			d.logger.Debugf("camera device capture: %v", err)
		}
		if !goutils.SelectContextOrWait(ctx, period-time.Since(start)) {
			return
		}
	}
}

func (d *CameraDevice) captureOnce(ctx context.Context) error {
	cam, _, err := d.connected()
	if err != nil {
		return err
	}

	col, depth, err := d.capture(ctx, cam)
	if err != nil {
		return err
	}

	d.mu.Lock()
	synchronized := d.synchronized
	cb := d.cb
	index := d.nextIndex
	d.nextIndex++
	d.mu.Unlock()

	if depth == nil || (synchronized && col == nil) {
		return errIncompleteFrame
	}
	if cb == nil {
		return nil
	}

	frame := DeviceFrame{Index: index}
	data, w, h := imgutils.DepthFromImage(depth)
	frame.Depth = DepthGrid{Width: w, Height: h, Data: data}
	if col != nil {
		pix, cw, ch := imgutils.ColorFromImage(col)
		frame.Color = ColorBuffer{Width: cw, Height: ch, Channels: 3, Pix: pix, Owned: true}
	}

	cb(frame)
	return nil
}

// capture reads one set of images and picks out color and depth.
func (d *CameraDevice) capture(ctx context.Context, cam camera.Camera) (image.Image, image.Image, error) {
	imgs, _, err := cam.Images(ctx, nil, nil)
	if err != nil {
		return nil, nil, err
	}

	var col, depth image.Image
	for _, ni := range imgs {
		img, err := ni.Image(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("cannot decode image %s: %w", ni.SourceName, err)
		}

		switch {
		case d.cfg.DepthSource != "" && ni.SourceName == d.cfg.DepthSource:
			depth = img
		case d.cfg.ColorSource != "" && ni.SourceName == d.cfg.ColorSource:
			col = img
		case d.cfg.DepthSource == "" && depth == nil && isDepthImage(img):
			depth = img
		case d.cfg.ColorSource == "" && col == nil && !isDepthImage(img):
			col = img
		}
	}
	return col, depth, nil
}

func isDepthImage(img image.Image) bool {
	switch img.(type) {
	case *rimage.DepthMap, *image.Gray16:
		return true
	}
	return false
}
