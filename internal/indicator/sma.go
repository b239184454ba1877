package indicator

import "math"

// SMA returns the simple moving average over a trailing window of period
// values. Positions without a full window of defined values are NaN.
func SMA(values []float64, period int) []float64 {
	out := nanSeries(len(values))
	if period <= 0 {
		return out
	}
	for i := period - 1; i < len(values); i++ {
		sum := 0.0
		ok := true
		for _, v := range values[i-period+1 : i+1] {
			if !Defined(v) {
				ok = false
				break
			}
			sum += v
		}
		if ok {
			out[i] = sum / float64(period)
		}
	}
	return out
}

// StdDev returns the sample standard deviation (n-1 denominator) over a
// trailing window of period values.
func StdDev(values []float64, period int) []float64 {
	out := nanSeries(len(values))
	if period <= 1 {
		return out
	}
	mean := SMA(values, period)
	for i := period - 1; i < len(values); i++ {
		if !Defined(mean[i]) {
			continue
		}
		ss := 0.0
		for _, v := range values[i-period+1 : i+1] {
			d := v - mean[i]
			ss += d * d
		}
		out[i] = math.Sqrt(ss / float64(period-1))
	}
	return out
}

// Highest returns the rolling maximum over a trailing window of period values.
func Highest(values []float64, period int) []float64 {
	return rollingExtreme(values, period, math.Max)
}

// Lowest returns the rolling minimum over a trailing window of period values.
func Lowest(values []float64, period int) []float64 {
	return rollingExtreme(values, period, math.Min)
}

func rollingExtreme(values []float64, period int, pick func(a, b float64) float64) []float64 {
	out := nanSeries(len(values))
	if period <= 0 {
		return out
	}
	for i := period - 1; i < len(values); i++ {
		ext := values[i-period+1]
		ok := Defined(ext)
		for _, v := range values[i-period+2 : i+1] {
			if !Defined(v) {
				ok = false
				break
			}
			ext = pick(ext, v)
		}
		if ok {
			out[i] = ext
		}
	}
	return out
}
