package imgutils

import (
	"image"
	"image/color"

	"go.viam.com/rdk/rimage"
)

// DepthFromImage flattens a depth image into a row-major grid of millimeters.
func DepthFromImage(img image.Image) ([]uint16, int, int) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := make([]uint16, w*h)

	switch d := img.(type) {
	case *rimage.DepthMap:
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				out[y*w+x] = uint16(d.GetDepth(b.Min.X+x, b.Min.Y+y))
			}
		}
	case *image.Gray16:
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				out[y*w+x] = d.Gray16At(b.Min.X+x, b.Min.Y+y).Y
			}
		}
	default:
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				g := color.Gray16Model.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray16)
				out[y*w+x] = g.Y
			}
		}
	}

	return out, w, h
}

// ColorFromImage flattens an image into an interleaved RGB grid (3 channels).
func ColorFromImage(img image.Image) ([]uint8, int, int) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := make([]uint8, w*h*3)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			k := (y*w + x) * 3
			out[k] = c.R
			out[k+1] = c.G
			out[k+2] = c.B
		}
	}

	return out, w, h
}

// ColorToImage builds an image from an interleaved grid with 3 or 4 channels.
func ColorToImage(pix []uint8, width, height, channels int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	if channels < 3 || len(pix) < width*height*channels {
		return img
	}

	for i := 0; i < width*height; i++ {
		k := i * channels
		a := uint8(255)
		if channels > 3 {
			a = pix[k+3]
		}
		img.Pix[i*4] = pix[k]
		img.Pix[i*4+1] = pix[k+1]
		img.Pix[i*4+2] = pix[k+2]
		img.Pix[i*4+3] = a
	}
	return img
}

// DepthToImage builds a 16-bit gray image from a row-major depth grid.
func DepthToImage(depth []uint16, width, height int) *image.Gray16 {
	img := image.NewGray16(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetGray16(x, y, color.Gray16{depth[y*width+x]})
		}
	}
	return img
}
