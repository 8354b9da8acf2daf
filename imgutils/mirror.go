package imgutils

// MirrorDepth reverses every row of a row-major depth grid in place.
func MirrorDepth(depth []uint16, width int) {
	if width <= 0 {
		return
	}
	for start := 0; start+width <= len(depth); start += width {
		row := depth[start : start+width]
		for i, j := 0, width-1; i < j; i, j = i+1, j-1 {
			row[i], row[j] = row[j], row[i]
		}
	}
}

// MirrorColor reverses every row of an interleaved color grid in place.
// The channel order inside each pixel is preserved.
func MirrorColor(pix []uint8, width, channels int) {
	stride := width * channels
	if stride <= 0 {
		return
	}
	for start := 0; start+stride <= len(pix); start += stride {
		row := pix[start : start+stride]
		for i, j := 0, width-1; i < j; i, j = i+1, j-1 {
			a, b := i*channels, j*channels
			for c := 0; c < channels; c++ {
				row[a+c], row[b+c] = row[b+c], row[a+c]
			}
		}
	}
}
