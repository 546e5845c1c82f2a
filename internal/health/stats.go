package health

import "math"

// accumulator keeps a numerically stable running mean and variance.
type accumulator struct {
	n    int
	mean float64
	m2   float64
	min  float64
	max  float64
}

func (a *accumulator) add(x float64) {
	a.n++
	if a.n == 1 {
		a.mean, a.min, a.max, a.m2 = x, x, x, 0
		return
	}
	d := x - a.mean
	a.mean += d / float64(a.n)
	a.m2 += d * (x - a.mean)
	a.min = math.Min(a.min, x)
	a.max = math.Max(a.max, x)
}

// stddev is the population standard deviation.
func (a *accumulator) stddev() float64 {
	if a.n == 0 {
		return 0
	}
	return math.Sqrt(a.m2 / float64(a.n))
}
