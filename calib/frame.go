package calib

import (
	"fmt"
	"image/color"
	"math"

	"github.com/golang/geo/r3"
)

// Source tells where a raw frame came from.
type Source int

const (
	// SourceExternal frames are handed in by a caller through SubmitFrame.
	SourceExternal Source = iota
	// SourceDevice frames are delivered by a DeviceAdapter callback.
	SourceDevice
)

func (s Source) String() string {
	switch s {
	case SourceExternal:
		return "external"
	case SourceDevice:
		return "device"
	}
	return fmt.Sprintf("source(%d)", int(s))
}

// DepthGrid is a row-major grid of depth samples in millimeters. A zero sample is invalid.
type DepthGrid struct {
	Width  int
	Height int
	Data   []uint16
}

// NewDepthGrid allocates an all-invalid depth grid.
func NewDepthGrid(width, height int) DepthGrid {
	return DepthGrid{Width: width, Height: height, Data: make([]uint16, width*height)}
}

func (g DepthGrid) checkValid() error {
	if g.Width <= 0 || g.Height <= 0 {
		return fmt.Errorf("%w: depth grid is %dx%d", ErrInvalidFrame, g.Width, g.Height)
	}
	if len(g.Data) != g.Width*g.Height {
		return fmt.Errorf("%w: depth grid %dx%d has %d samples", ErrInvalidFrame, g.Width, g.Height, len(g.Data))
	}
	return nil
}

// ColorBuffer is an interleaved color grid with 3 (RGB) or 4 (RGBA) channels.
//
// Owned records who is responsible for the pixels: true when the pipeline
// allocated them, false when they are borrowed from whoever produced the frame.
// A borrowed buffer is never written to; see own.
type ColorBuffer struct {
	Width    int
	Height   int
	Channels int
	Pix      []uint8
	Owned    bool
}

// BorrowColor wraps caller memory without taking ownership of it.
func BorrowColor(pix []uint8, width, height, channels int) ColorBuffer {
	return ColorBuffer{Width: width, Height: height, Channels: channels, Pix: pix}
}

// Empty is true when the buffer carries no pixels.
func (c ColorBuffer) Empty() bool {
	return len(c.Pix) == 0
}

func (c ColorBuffer) checkValid() error {
	if c.Empty() {
		return nil
	}
	if c.Channels != 3 && c.Channels != 4 {
		return fmt.Errorf("%w: color grid has %d channels", ErrInvalidFrame, c.Channels)
	}
	if len(c.Pix) != c.Width*c.Height*c.Channels {
		return fmt.Errorf("%w: color grid %dx%dx%d has %d bytes",
			ErrInvalidFrame, c.Width, c.Height, c.Channels, len(c.Pix))
	}
	return nil
}

// own makes sure the pixels belong to the pipeline, cloning borrowed memory.
func (c *ColorBuffer) own() {
	if c.Owned || c.Empty() {
		return
	}
	c.Pix = append([]uint8(nil), c.Pix...)
	c.Owned = true
}

// copyFrom copies src into c, reusing c's storage when it is large enough.
// The result is always owned.
func (c *ColorBuffer) copyFrom(src ColorBuffer) {
	if !c.Owned {
		c.Pix = nil
	}
	c.Pix = append(c.Pix[:0], src.Pix...)
	c.Width = src.Width
	c.Height = src.Height
	c.Channels = src.Channels
	c.Owned = true
}

// Release drops the pixels. Borrowed memory is only forgotten, never touched.
// Calling Release more than once is a no-op.
func (c *ColorBuffer) Release() {
	c.Pix = nil
	c.Owned = false
}

// At returns the color of pixel i (row-major).
func (c ColorBuffer) At(i int) color.NRGBA {
	k := i * c.Channels
	if c.Channels < 3 || k+c.Channels > len(c.Pix) {
		return color.NRGBA{}
	}
	a := uint8(255)
	if c.Channels == 4 {
		a = c.Pix[k+3]
	}
	return color.NRGBA{c.Pix[k], c.Pix[k+1], c.Pix[k+2], a}
}

// RawFrame is one depth+color capture waiting to be calibrated.
type RawFrame struct {
	Depth  DepthGrid
	Color  ColorBuffer
	Index  int
	Source Source
}

func (f RawFrame) checkValid() error {
	if err := f.Depth.checkValid(); err != nil {
		return err
	}
	return f.Color.checkValid()
}

// Point is one cell of an organized point cloud. Positions are meters in the
// color sensor frame; invalid cells hold NaN position and normal.
type Point struct {
	Position r3.Vector
	Normal   r3.Vector
	Color    color.NRGBA
	Valid    bool
}

var nanVector = r3.Vector{X: math.NaN(), Y: math.NaN(), Z: math.NaN()}

// CalibratedFrame is an organized point cloud with the same shape as the depth
// grid it came from. Its buffers are reused from frame to frame.
type CalibratedFrame struct {
	Index  int
	Source Source
	Width  int
	Height int

	// Points is row-major and empty when HasCloud is false.
	Points []Point
	Depth  []uint16
	Color  ColorBuffer

	HasCloud        bool
	Registered      bool
	NormalsComputed bool
}

// At returns the point at column u, row v.
func (f *CalibratedFrame) At(u, v int) Point {
	return f.Points[v*f.Width+u]
}

// ValidCount counts the valid cells.
func (f *CalibratedFrame) ValidCount() int {
	n := 0
	for i := range f.Points {
		if f.Points[i].Valid {
			n++
		}
	}
	return n
}

// resize prepares the frame for a width x height grid, keeping storage when possible.
func (f *CalibratedFrame) resize(width, height int, withCloud bool) {
	f.Width = width
	f.Height = height
	n := width * height
	if cap(f.Depth) < n {
		f.Depth = make([]uint16, n)
	}
	f.Depth = f.Depth[:n]

	if !withCloud {
		f.Points = f.Points[:0]
		return
	}
	if cap(f.Points) < n {
		f.Points = make([]Point, n)
	}
	f.Points = f.Points[:n]
}

// CopyTo copies the frame into out, reusing out's storage.
func (f *CalibratedFrame) CopyTo(out *CalibratedFrame) {
	out.Index = f.Index
	out.Source = f.Source
	out.Width = f.Width
	out.Height = f.Height
	out.HasCloud = f.HasCloud
	out.Registered = f.Registered
	out.NormalsComputed = f.NormalsComputed
	out.Points = append(out.Points[:0], f.Points...)
	out.Depth = append(out.Depth[:0], f.Depth...)
	out.Color.copyFrom(f.Color)
}

// Release drops every buffer held by the frame.
func (f *CalibratedFrame) Release() {
	f.Points = nil
	f.Depth = nil
	f.Color.Release()
}
