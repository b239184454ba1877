package indicator

// EMA returns the exponential moving average of values with smoothing factor
// 2/(period+1). The series is seeded with the first defined value and has no
// bias-adjustment term. Leading undefined values stay NaN; an undefined value
// after the seed repeats the previous average.
func EMA(values []float64, period int) []float64 {
	out := nanSeries(len(values))
	if period <= 0 {
		return out
	}
	alpha := 2.0 / float64(period+1)

	var current float64
	seeded := false
	for i, v := range values {
		if !Defined(v) {
			if seeded {
				out[i] = current
			}
			continue
		}
		if !seeded {
			current = v
			seeded = true
		} else {
			// EMA = (Price * alpha) + (EMA_prev * (1 - alpha))
			current = v*alpha + current*(1-alpha)
		}
		out[i] = current
	}
	return out
}
