package imgutils

import (
	"image"
	"image/color"
	"testing"

	"go.viam.com/test"
)

func TestDepthFromImage(t *testing.T) {
	img := image.NewGray16(image.Rect(0, 0, 4, 3))
	img.SetGray16(1, 2, color.Gray16{1234})
	img.SetGray16(3, 0, color.Gray16{7})

	depth, w, h := DepthFromImage(img)
	test.That(t, w, test.ShouldEqual, 4)
	test.That(t, h, test.ShouldEqual, 3)
	test.That(t, len(depth), test.ShouldEqual, 12)
	test.That(t, depth[2*4+1], test.ShouldEqual, uint16(1234))
	test.That(t, depth[3], test.ShouldEqual, uint16(7))
	test.That(t, depth[0], test.ShouldEqual, uint16(0))

	back := DepthToImage(depth, w, h)
	test.That(t, back.Gray16At(1, 2).Y, test.ShouldEqual, uint16(1234))
}

func TestColorFromImage(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	img.SetNRGBA(1, 0, color.NRGBA{10, 20, 30, 255})

	pix, w, h := ColorFromImage(img)
	test.That(t, w, test.ShouldEqual, 2)
	test.That(t, h, test.ShouldEqual, 2)
	test.That(t, pix[3:6], test.ShouldResemble, []uint8{10, 20, 30})

	out := ColorToImage(pix, w, h, 3)
	test.That(t, out.NRGBAAt(1, 0), test.ShouldResemble, color.NRGBA{10, 20, 30, 255})
}

func TestDepthStats(t *testing.T) {
	valid, mean := DepthStats([]uint16{0, 1000, 0, 3000})
	test.That(t, valid, test.ShouldEqual, 2)
	test.That(t, mean, test.ShouldAlmostEqual, 2000)

	valid, mean = DepthStats([]uint16{0, 0})
	test.That(t, valid, test.ShouldEqual, 0)
	test.That(t, mean, test.ShouldEqual, 0.0)
}
