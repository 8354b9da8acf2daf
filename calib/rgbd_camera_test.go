package calib

import (
	"context"
	"testing"
	"time"

	"github.com/golang/geo/r3"
	"go.viam.com/rdk/components/camera"
	"go.viam.com/rdk/logging"
	"go.viam.com/test"
)

func TestCalibratedCameraConfig(t *testing.T) {
	cfg := &CalibratedCameraConfig{}
	_, _, err := cfg.Validate("")
	test.That(t, err, test.ShouldNotBeNil)

	cfg.Src = "realsense"
	deps, _, err := cfg.Validate("")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, deps, test.ShouldResemble, []string{"realsense"})

	cfg.Rotation = []float64{1, 0, 0}
	_, _, err = cfg.Validate("")
	test.That(t, err, test.ShouldNotBeNil)

	cfg.Rotation = nil
	model, err := cfg.cameraModel()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, model, test.ShouldBeNil)

	intr := testIntrinsics()
	cfg.Intrinsics = &intr
	cfg.TranslationM = r3.Vector{X: 0.015}
	model, err = cfg.cameraModel()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, model.Extrinsics.IsIdentity(), test.ShouldBeFalse)
	test.That(t, model.Depth, test.ShouldResemble, intr)

	cfg.Rotation = []float64{2, 0, 0, 0, 1, 0, 0, 0, 1}
	_, err = cfg.options()
	test.That(t, err, test.ShouldNotBeNil)
}

func TestCalibratedCamera(t *testing.T) {
	ctx := context.Background()
	logger := logging.NewTestLogger(t)

	cfg := &CalibratedCameraConfig{Src: "cam", FrameRate: 100}
	opts, err := cfg.options()
	test.That(t, err, test.ShouldBeNil)

	dev := NewCameraDevice(logger, CameraDeviceConfig{FrameRate: cfg.FrameRate}, newFakeCamera("cam", 8, 6, 1000))
	cc := &calibratedCamera{
		name:     camera.Named("calibrated"),
		cfg:      cfg,
		logger:   logger,
		pipeline: NewPipeline(dev, logger, append(opts, WithIdleWait(time.Millisecond))...),
	}
	test.That(t, cc.pipeline.ConnectDevice(ctx, 0), test.ShouldBeNil)
	defer cc.Close(ctx)

	pc, err := cc.NextPointCloud(ctx, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pc.Size(), test.ShouldEqual, 48)

	imgs, _, err := cc.Images(ctx, nil, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(imgs), test.ShouldEqual, 2)

	imgs, _, err = cc.Images(ctx, []string{"depth"}, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(imgs), test.ShouldEqual, 1)
	test.That(t, imgs[0].SourceName, test.ShouldEqual, "depth")

	props, err := cc.Properties(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, props.SupportsPCD, test.ShouldBeTrue)
	test.That(t, props.IntrinsicParams.Width, test.ShouldEqual, 8)

	res, err := cc.DoCommand(ctx, map[string]interface{}{"normals": false, "pause": true})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res["normals"], test.ShouldEqual, false)
	test.That(t, res["paused"], test.ShouldEqual, true)
}

func TestCalibratedCameraConfiguredIntrinsics(t *testing.T) {
	ctx := context.Background()
	logger := logging.NewTestLogger(t)

	intr := smallIntrinsics(8, 6)
	intr.Fx = 75
	cfg := &CalibratedCameraConfig{Src: "cam", FrameRate: 100, Intrinsics: &intr}
	opts, err := cfg.options()
	test.That(t, err, test.ShouldBeNil)

	dev := NewCameraDevice(logger, CameraDeviceConfig{FrameRate: cfg.FrameRate}, newFakeCamera("cam", 8, 6, 1000))
	cc := &calibratedCamera{
		name:     camera.Named("calibrated"),
		cfg:      cfg,
		logger:   logger,
		pipeline: NewPipeline(dev, logger, append(opts, WithIdleWait(time.Millisecond))...),
	}
	test.That(t, cc.pipeline.ConnectDevice(ctx, 0), test.ShouldBeNil)
	defer cc.Close(ctx)

	// the source camera reports fx 50, the configured model wins
	props, err := cc.Properties(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, props.IntrinsicParams.Fx, test.ShouldEqual, 75.0)
	test.That(t, props.IntrinsicParams.Width, test.ShouldEqual, 8)
}
