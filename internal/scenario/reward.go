package scenario

import (
	"math"

	"github.com/ehtnamuh/multiagent-particle-envs/internal/model"
)

const (
	boundaryStart   = 0.9
	boundaryWall    = 1.0
	boundaryRamp    = 10.0
	boundaryCeiling = 10.0
)

// BoundaryPenalty is a soft wall on one absolute coordinate: zero inside 0.9,
// a linear ramp reaching 1 at 1.0, then exp(2x-2) capped at 10.
func BoundaryPenalty(x float64) float64 {
	if x < boundaryStart {
		return 0
	}
	if x < boundaryWall {
		return (x - boundaryStart) * boundaryRamp
	}
	return math.Min(math.Exp(2*x-2), boundaryCeiling)
}

func boundaryPenalty(w *model.World, pos model.Vec2) float64 {
	total := 0.0
	for axis := 0; axis < w.DimP; axis++ {
		total += BoundaryPenalty(math.Abs(pos.Axis(axis)))
	}
	return total
}

// collidingAgents counts the agents overlapping a. An agent always overlaps
// itself, so a counts toward its own total unless excludeSelf is set.
func collidingAgents(w *model.World, a *model.Agent, excludeSelf bool) int {
	n := 0
	for _, other := range w.Agents {
		if excludeSelf && other == a {
			continue
		}
		if model.IsCollision(&other.Entity, &a.Entity) {
			n++
		}
	}
	return n
}

func collidingObstacles(w *model.World, a *model.Agent) int {
	n := 0
	for _, o := range w.Obstacles {
		if model.IsCollision(&o.Entity, &a.Entity) {
			n++
		}
	}
	return n
}

// nearestGoalDistance is the distance to the closest landmark whose code equals
// the agent's goal code.
func nearestGoalDistance(w *model.World, a *model.Agent) (float64, bool) {
	best := math.Inf(1)
	found := false
	for _, l := range w.MatchingLandmarks(a) {
		d := model.Distance(a.Pos, l.Pos)
		if d < best {
			best = d
			found = true
		}
	}
	return best, found
}

// decoyLandmark is the first landmark, in world order, that is not the goal.
func decoyLandmark(w *model.World, goal *model.Landmark) (*model.Landmark, bool) {
	for _, l := range w.Landmarks {
		if l.Name != goal.Name {
			return l, true
		}
	}
	return nil, false
}

const (
	adversaryNearGoal = 0.5
	goalRadius        = 0.1
	decoyRadius       = 0.1

	adversaryOnGoalReward = -0.2
	goalReward            = 5.0
	decoyReward           = 2.0
)

// goodAgentReward evaluates the adversary scenario's priority branches; the
// first branch that holds decides the reward.
func goodAgentReward(w *model.World, a *model.Agent, goal *model.Landmark) float64 {
	for _, adv := range w.Adversaries() {
		if model.Distance(adv.Pos, goal.Pos) < adversaryNearGoal {
			return adversaryOnGoalReward
		}
	}
	if model.Distance(a.Pos, goal.Pos) < goalRadius {
		return goalReward
	}
	if decoy, ok := decoyLandmark(w, goal); ok && model.Distance(a.Pos, decoy.Pos) < decoyRadius {
		return decoyReward
	}
	return 0
}
