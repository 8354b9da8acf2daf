package imgutils

// DepthStats counts the non-zero samples of a depth grid and averages them.
func DepthStats(depth []uint16) (int, float64) {
	valid := 0
	total := 0.0

	for _, d := range depth {
		if d == 0 {
			continue
		}
		valid++
		total += float64(d)
	}

	if valid == 0 {
		return 0, 0
	}
	return valid, total / float64(valid)
}
