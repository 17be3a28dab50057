package scenario

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBoundaryPenaltyShape(t *testing.T) {
	cases := []struct {
		x    float64
		want float64
	}{
		{x: 0, want: 0},
		{x: 0.5, want: 0},
		{x: 0.9, want: 0},
		{x: 0.95, want: 0.5},
		{x: 1.0, want: 1},
		{x: 1.5, want: math.E},
		{x: 2.0, want: math.Exp(2)},
		{x: 3.0, want: 10},
		{x: 50, want: 10},
	}
	for _, tc := range cases {
		assert.InDelta(t, tc.want, BoundaryPenalty(tc.x), 1e-9, "x=%v", tc.x)
	}
}

func TestBoundaryPenaltyContinuity(t *testing.T) {
	const eps = 1e-9
	assert.InDelta(t, BoundaryPenalty(0.9), BoundaryPenalty(0.9-eps), 1e-6)
	assert.InDelta(t, 0.0, BoundaryPenalty(0.9), 1e-12)
	assert.InDelta(t, BoundaryPenalty(1.0), BoundaryPenalty(1.0-eps), 1e-6)
	assert.InDelta(t, 1.0, BoundaryPenalty(1.0), 1e-12)
}

func TestBoundaryPenaltyMonotone(t *testing.T) {
	prev := BoundaryPenalty(0)
	for x := 0.0; x < 4; x += 0.01 {
		cur := BoundaryPenalty(x)
		assert.GreaterOrEqual(t, cur, prev-1e-12, "x=%v", x)
		prev = cur
	}
}
