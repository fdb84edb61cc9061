package pattern

// Peaks returns indices of strict local maxima: values[i] greater than
// every neighbor within order bars on both sides. Edge bars that lack a
// full window are never extrema.
func Peaks(values []float64, order int) []int {
	return extrema(values, order, func(center, other float64) bool {
		return center > other
	})
}

// Troughs returns indices of strict local minima under the same window rule.
func Troughs(values []float64, order int) []int {
	return extrema(values, order, func(center, other float64) bool {
		return center < other
	})
}

func extrema(values []float64, order int, beats func(center, other float64) bool) []int {
	if order < 1 || len(values) < 2*order+1 {
		return nil
	}

	var out []int
	for i := order; i < len(values)-order; i++ {
		isExtremum := true
		for j := i - order; j <= i+order; j++ {
			if j == i {
				continue
			}
			if !beats(values[i], values[j]) {
				isExtremum = false
				break
			}
		}
		if isExtremum {
			out = append(out, i)
		}
	}
	return out
}
