package stats

import "math"

// DefaultWindow is the trailing window used for episode score averages.
const DefaultWindow = 100

// MovingAverage is the trailing mean over the last Window values.
type MovingAverage struct {
	window int
	values []float64
	next   int
	sum    float64
}

func NewMovingAverage(window int) *MovingAverage {
	if window <= 0 {
		window = DefaultWindow
	}
	return &MovingAverage{window: window, values: make([]float64, 0, window)}
}

// Add records v and returns the updated average.
func (m *MovingAverage) Add(v float64) float64 {
	if len(m.values) < m.window {
		m.values = append(m.values, v)
		m.sum += v
	} else {
		m.sum += v - m.values[m.next]
		m.values[m.next] = v
		m.next = (m.next + 1) % m.window
	}
	return m.Value()
}

func (m *MovingAverage) Value() float64 {
	if len(m.values) == 0 {
		return 0
	}
	return m.sum / float64(len(m.values))
}

func (m *MovingAverage) Len() int {
	return len(m.values)
}

// Summary returns mean, population standard deviation, min and max of values.
func Summary(values []float64) (mean, std, lo, hi float64) {
	if len(values) == 0 {
		return 0, 0, 0, 0
	}
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, v := range values {
		mean += v
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	mean /= float64(len(values))
	for _, v := range values {
		std += (v - mean) * (v - mean)
	}
	std = math.Sqrt(std / float64(len(values)))
	return mean, std, lo, hi
}
