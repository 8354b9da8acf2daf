package calib

import (
	"errors"
	"testing"

	"go.viam.com/test"
)

func TestColorBufferOwnership(t *testing.T) {
	src := []uint8{1, 2, 3, 4, 5, 6}
	c := BorrowColor(src, 2, 1, 3)
	test.That(t, c.Owned, test.ShouldBeFalse)

	c.own()
	test.That(t, c.Owned, test.ShouldBeTrue)
	c.Pix[0] = 99
	test.That(t, src[0], test.ShouldEqual, uint8(1))

	// copyFrom never writes into borrowed storage
	dst := BorrowColor(src, 2, 1, 3)
	dst.copyFrom(BorrowColor([]uint8{7, 7, 7, 8, 8, 8}, 2, 1, 3))
	test.That(t, dst.Owned, test.ShouldBeTrue)
	test.That(t, src[0], test.ShouldEqual, uint8(1))
	test.That(t, dst.At(1).R, test.ShouldEqual, uint8(8))

	dst.Release()
	dst.Release()
	test.That(t, dst.Empty(), test.ShouldBeTrue)
	test.That(t, dst.Owned, test.ShouldBeFalse)
}

func TestColorBufferAt(t *testing.T) {
	c := BorrowColor([]uint8{1, 2, 3, 4, 5, 6, 7, 8}, 2, 1, 4)
	test.That(t, c.At(1).A, test.ShouldEqual, uint8(8))
	test.That(t, c.At(5).R, test.ShouldEqual, uint8(0))
}

func TestRawFrameCheckValid(t *testing.T) {
	good := RawFrame{Depth: NewDepthGrid(2, 2), Color: BorrowColor(make([]uint8, 12), 2, 2, 3)}
	test.That(t, good.checkValid(), test.ShouldBeNil)

	noColor := RawFrame{Depth: NewDepthGrid(2, 2)}
	test.That(t, noColor.checkValid(), test.ShouldBeNil)

	for _, f := range []RawFrame{
		{Depth: DepthGrid{Width: 2, Height: 2, Data: make([]uint16, 3)}},
		{Depth: DepthGrid{}},
		{Depth: NewDepthGrid(2, 2), Color: BorrowColor(make([]uint8, 11), 2, 2, 3)},
		{Depth: NewDepthGrid(2, 2), Color: BorrowColor(make([]uint8, 8), 2, 2, 2)},
	} {
		err := f.checkValid()
		test.That(t, errors.Is(err, ErrInvalidFrame), test.ShouldBeTrue)
	}
}

func TestCalibratedFrameCopyTo(t *testing.T) {
	f := CalibratedFrame{
		Index:    7,
		Width:    2,
		Height:   1,
		Points:   []Point{{Valid: true}, {}},
		Depth:    []uint16{5, 0},
		Color:    BorrowColor([]uint8{1, 2, 3, 4, 5, 6}, 2, 1, 3),
		HasCloud: true,
	}

	var out CalibratedFrame
	f.CopyTo(&out)
	test.That(t, out.Index, test.ShouldEqual, 7)
	test.That(t, out.ValidCount(), test.ShouldEqual, 1)
	test.That(t, out.Depth, test.ShouldResemble, []uint16{5, 0})
	test.That(t, out.Color.Owned, test.ShouldBeTrue)

	out.Release()
	test.That(t, len(out.Points), test.ShouldEqual, 0)
	test.That(t, out.Color.Empty(), test.ShouldBeTrue)
}

func TestSourceString(t *testing.T) {
	test.That(t, SourceDevice.String(), test.ShouldEqual, "device")
	test.That(t, SourceExternal.String(), test.ShouldEqual, "external")
	test.That(t, StatePaused.String(), test.ShouldEqual, "paused")
}
