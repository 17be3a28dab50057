package model

import "math"

// Vec2 is a point or displacement in the 2D position space.
type Vec2 struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

func (v Vec2) Add(o Vec2) Vec2 { return Vec2{X: v.X + o.X, Y: v.Y + o.Y} }

func (v Vec2) Sub(o Vec2) Vec2 { return Vec2{X: v.X - o.X, Y: v.Y - o.Y} }

func (v Vec2) Scale(k float64) Vec2 { return Vec2{X: v.X * k, Y: v.Y * k} }

func (v Vec2) Dot(o Vec2) float64 { return v.X*o.X + v.Y*o.Y }

func (v Vec2) SquaredNorm() float64 { return v.X*v.X + v.Y*v.Y }

func (v Vec2) Norm() float64 { return math.Hypot(v.X, v.Y) }

// Axis returns the i-th coordinate (0 = x, 1 = y).
func (v Vec2) Axis(i int) float64 {
	if i == 0 {
		return v.X
	}
	return v.Y
}

// Distance computes the Euclidean distance between two points.
func Distance(a, b Vec2) float64 { return b.Sub(a).Norm() }

// SquaredDistance computes the squared Euclidean distance between two points.
func SquaredDistance(a, b Vec2) float64 { return b.Sub(a).SquaredNorm() }
