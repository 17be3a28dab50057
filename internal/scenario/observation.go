package scenario

import "github.com/ehtnamuh/multiagent-particle-envs/internal/model"

const (
	ObservationStandard = "standard"
	ObservationPartial  = "partial"
)

func validObservationLayout(layout string) bool {
	switch layout {
	case "", ObservationStandard, ObservationPartial:
		return true
	default:
		return false
	}
}

// StandardObservationSize is the length of EncodeStandard for any agent of w.
func StandardObservationSize(w *model.World) int {
	others := len(w.Agents) - 1
	if others < 0 {
		others = 0
	}
	return 2*w.DimP + w.DimP*(len(w.Landmarks)+len(w.Obstacles)+others) + w.DimC*others
}

// EncodeStandard concatenates, in order: own velocity, own position, relative
// positions of landmarks, obstacles and other agents, then the communication
// vectors of other agents. Silent agents still contribute their (zero) vector.
func EncodeStandard(w *model.World, a *model.Agent) []float64 {
	out := make([]float64, 0, StandardObservationSize(w))
	out = appendVec(out, a.Vel)
	out = appendVec(out, a.Pos)
	for _, l := range w.Landmarks {
		out = appendVec(out, l.Pos.Sub(a.Pos))
	}
	for _, o := range w.Obstacles {
		out = appendVec(out, o.Pos.Sub(a.Pos))
	}
	for _, other := range w.Agents {
		if other == a {
			continue
		}
		out = appendVec(out, other.Pos.Sub(a.Pos))
	}
	for _, other := range w.Agents {
		if other == a {
			continue
		}
		out = appendComm(out, other.Comm, w.DimC)
	}
	return out
}

// EncodePartial hides the goal from adversaries: good agents see the goal's
// relative position first, adversaries only see landmarks and other agents.
func EncodePartial(w *model.World, a *model.Agent) []float64 {
	out := make([]float64, 0, PartialObservationSize(w, a))
	if !a.Adversary {
		goal, ok := w.GoalLandmark(a)
		if ok {
			out = appendVec(out, goal.Pos.Sub(a.Pos))
		} else {
			out = appendVec(out, model.Vec2{})
		}
	}
	for _, l := range w.Landmarks {
		out = appendVec(out, l.Pos.Sub(a.Pos))
	}
	for _, other := range w.Agents {
		if other == a {
			continue
		}
		out = appendVec(out, other.Pos.Sub(a.Pos))
	}
	return out
}

func PartialObservationSize(w *model.World, a *model.Agent) int {
	others := len(w.Agents) - 1
	if others < 0 {
		others = 0
	}
	size := w.DimP * (len(w.Landmarks) + others)
	if !a.Adversary {
		size += w.DimP
	}
	return size
}

// ObservationSizes reports the observation length of every agent of a freshly
// built world.
func ObservationSizes(s Scenario, w *model.World) []int {
	sizes := make([]int, len(w.Agents))
	for i, a := range w.Agents {
		sizes[i] = len(s.Observation(w, a))
	}
	return sizes
}

func appendVec(out []float64, v model.Vec2) []float64 {
	return append(out, v.X, v.Y)
}

// appendComm writes exactly dim values so the layout never depends on how a
// collaborator sized the slice.
func appendComm(out []float64, comm []float64, dim int) []float64 {
	for i := 0; i < dim; i++ {
		if i < len(comm) {
			out = append(out, comm[i])
			continue
		}
		out = append(out, 0)
	}
	return out
}

func observationFor(layout string, w *model.World, a *model.Agent) []float64 {
	if layout == ObservationPartial {
		return EncodePartial(w, a)
	}
	return EncodeStandard(w, a)
}

func observationLayoutError(scenario, layout string) error {
	return configErrorf(scenario, "observation_layout", "unsupported layout %q", layout)
}
