package calib

import (
	"errors"
	"fmt"
)

var (
	// ErrDevice wraps failures reported by a DeviceAdapter. They are not retried.
	ErrDevice = errors.New("rgbd device error")
	// ErrNotConnected is returned by operations that need a running pipeline.
	ErrNotConnected = errors.New("rgbd pipeline not connected")
	// ErrCalibrationDisabled is returned by SubmitFrame while calibration is off.
	ErrCalibrationDisabled = errors.New("rgbd calibration disabled")
	// ErrInvalidFrame is returned for buffers whose sizes do not match their dimensions.
	ErrInvalidFrame = errors.New("invalid rgbd frame")
	// ErrBusy is returned when the camera model is changed while a frame is being calibrated.
	ErrBusy = errors.New("rgbd pipeline busy")
)

func deviceError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrDevice, op, err)
}
