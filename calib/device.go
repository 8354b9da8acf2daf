package calib

import (
	"context"
)

// Dimensions of the color and depth images of a device.
type Dimensions struct {
	RGBWidth    int
	RGBHeight   int
	DepthWidth  int
	DepthHeight int
}

// DeviceFrame is one capture delivered by a device. Ownership of the buffers
// passes to the pipeline; the device must not touch them afterwards.
type DeviceFrame struct {
	Depth DepthGrid
	Color ColorBuffer
	Index int
}

// FrameCallback receives live frames on the device's own goroutine.
type FrameCallback func(DeviceFrame)

// DeviceAdapter is everything the pipeline needs from a live RGB-D sensor.
type DeviceAdapter interface {
	Connect(ctx context.Context, index int) error
	Disconnect(ctx context.Context) error
	Dimensions(ctx context.Context) (Dimensions, error)
	// Intrinsics returns the camera model reported by the device.
	Intrinsics(ctx context.Context) (CameraModel, error)
	// SetSynchronization asks the device to deliver depth and color captured together.
	SetSynchronization(ctx context.Context, enable bool) error
	// OnFrame installs the callback for live frames. nil removes it.
	OnFrame(cb FrameCallback)
}
