package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.viam.com/rdk/components/camera"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/pointcloud"
	"go.viam.com/rdk/rimage"
	"go.viam.com/rdk/rimage/transform"
	"go.viam.com/rdk/robot"
	goutils "go.viam.com/utils"

	"github.com/erh/rgbdcalib"
	"github.com/erh/rgbdcalib/calib"
	"github.com/erh/rgbdcalib/imgutils"
)

func main() {
	err := realMain()
	if err != nil {
		panic(err)
	}
}

func realMain() error {
	logger := logging.NewLogger("rgbdtools")
	ctx := context.Background()

	host := flag.String("host", "", "hostname, uses the machine environment variables when empty")
	cmd := flag.String("cmd", "", "command")
	cameraName := flag.String("camera", "", "camera to use")
	depthFile := flag.String("depth", "", "16 bit depth png in mm")
	colorFile := flag.String("color", "", "color image")
	intrinsicsFile := flag.String("intrinsics", "", "json file with pinhole intrinsics")
	out := flag.String("out", "", "output file or prefix")
	in := flag.String("in", "", "input pcd")
	frames := flag.Int("frames", 10, "number of frames to write")
	mirror := flag.Bool("mirror", false, "mirror device frames")
	noNormals := flag.Bool("no-normals", false, "skip normal estimation")
	smoothing := flag.Int("smoothing", calib.DefaultNormalSmoothing, "normal smoothing window in pixels")

	flag.Parse()

	if *cmd == "" {
		return fmt.Errorf("need a cmd")
	}

	opts := []calib.Option{
		calib.WithMirror(*mirror),
		calib.WithNormals(!*noNormals),
		calib.WithNormalSmoothing(*smoothing),
	}

	if *cmd == "calibrate" {
		if *out == "" {
			return fmt.Errorf("need an 'out'")
		}
		if *intrinsicsFile == "" {
			return fmt.Errorf("need 'intrinsics'")
		}

		intr, err := transform.NewPinholeCameraIntrinsicsFromJSONFile(*intrinsicsFile)
		if err != nil {
			return err
		}

		depth, err := readDepth(*depthFile)
		if err != nil {
			return err
		}
		valid, mean := imgutils.DepthStats(depth.Data)
		logger.Infof("depth %dx%d valid: %d mean: %0.1fmm", depth.Width, depth.Height, valid, mean)

		col := calib.ColorBuffer{}
		if *colorFile != "" {
			img, err := rimage.ReadImageFromFile(*colorFile)
			if err != nil {
				return err
			}
			pix, w, h := imgutils.ColorFromImage(img)
			col = calib.BorrowColor(pix, w, h, 3)
		}

		p := calib.NewPipeline(nil, logger, append(opts, calib.WithCameraModel(calib.RegisteredCameraModel(*intr)))...)
		if err := p.Start(ctx); err != nil {
			return err
		}
		defer p.Close(ctx)

		if err := p.SubmitFrame(depth, col, 0); err != nil {
			return err
		}

		var f calib.CalibratedFrame
		if err := waitForFrame(ctx, p, &f); err != nil {
			return err
		}
		logger.Infof("frame %d: %d valid points of %d", f.Index, f.ValidCount(), f.Width*f.Height)

		return writeFrame(*out, &f)
	}

	if *cmd == "stream" {
		if *out == "" {
			return fmt.Errorf("need an 'out' prefix")
		}

		machine, err := connect(ctx, *host, logger)
		if err != nil {
			return err
		}
		defer machine.Close(ctx)

		myCamera, err := camera.FromRobot(machine, *cameraName)
		if err != nil {
			return err
		}

		dev := calib.NewCameraDevice(logger, calib.CameraDeviceConfig{}, myCamera)
		p := calib.NewPipeline(dev, logger, opts...)
		if err := p.ConnectDevice(ctx, 0); err != nil {
			return err
		}
		defer p.Close(ctx)

		var f calib.CalibratedFrame
		for i := 0; i < *frames; i++ {
			if err := waitForFrame(ctx, p, &f); err != nil {
				return err
			}
			fn := fmt.Sprintf("%s-%d.pcd", *out, f.Index)
			if err := writeFrame(fn, &f); err != nil {
				return err
			}
			logger.Infof("wrote %s valid: %d", fn, f.ValidCount())
		}

		logger.Infof("stats: %+v", p.Stats())
		return nil
	}

	if *cmd == "intrinsics" {
		machine, err := connect(ctx, *host, logger)
		if err != nil {
			return err
		}
		defer machine.Close(ctx)

		deps, err := rgbdcalib.MachineToDependencies(machine)
		if err != nil {
			return err
		}

		cams, err := rgbdcalib.MachineCameras(deps)
		if err != nil {
			return err
		}

		dev := calib.NewCameraDevice(logger, calib.CameraDeviceConfig{}, cams...)
		for idx, name := range rgbdcalib.MachineCameraNames(deps) {
			if *cameraName != "" && name != *cameraName {
				continue
			}
			if err := dev.Connect(ctx, idx); err != nil {
				return err
			}
			dims, err := dev.Dimensions(ctx)
			if err != nil {
				logger.Warnf("%s: no dimensions: %v", name, err)
			}
			model, err := dev.Intrinsics(ctx)
			if err != nil {
				logger.Warnf("%s: no intrinsics: %v", name, err)
			} else {
				logger.Infof("%s: %+v rgb: %+v depth: %+v", name, dims, model.RGB, model.Depth)
			}
			if err := dev.Disconnect(ctx); err != nil {
				return err
			}
		}
		return nil
	}

	if *cmd == "size" {
		in, err := pointcloud.NewFromFile(*in, "")
		if err != nil {
			return err
		}
		logger.Infof("size: %d", in.Size())
		return nil
	}

	return fmt.Errorf("invalid command [%s]", *cmd)

}

// connect uses the cli token for -host, or the machine environment variables without one.
func connect(ctx context.Context, host string, logger logging.Logger) (robot.Robot, error) {
	if host == "" {
		return rgbdcalib.ConnectToMachineFromEnv(ctx, logger)
	}
	return rgbdcalib.ConnectToHostFromCLIToken(ctx, host, logger)
}

func readDepth(fn string) (calib.DepthGrid, error) {
	if fn == "" {
		return calib.DepthGrid{}, fmt.Errorf("need 'depth'")
	}
	img, err := rimage.ReadImageFromFile(fn)
	if err != nil {
		return calib.DepthGrid{}, err
	}
	data, w, h := imgutils.DepthFromImage(img)
	return calib.DepthGrid{Width: w, Height: h, Data: data}, nil
}

func waitForFrame(ctx context.Context, p *calib.Pipeline, f *calib.CalibratedFrame) error {
	start := time.Now()
	for !p.GetFrame(f) {
		if time.Since(start) > 10*time.Second {
			return fmt.Errorf("no frame after %v", time.Since(start))
		}
		if !goutils.SelectContextOrWait(ctx, 5*time.Millisecond) {
			return ctx.Err()
		}
	}
	return nil
}

func writeFrame(fn string, f *calib.CalibratedFrame) error {
	pc, err := calib.ToPointCloud(f)
	if err != nil {
		return err
	}
	return writePCToFile(fn, pc)
}

func writePCToFile(fn string, pc pointcloud.PointCloud) error {
	f, err := os.OpenFile(fn, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return pointcloud.ToPCD(pc, f, pointcloud.PCDBinary)
}
