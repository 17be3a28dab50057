package scenario

import (
	"fmt"
	"math/rand"

	"github.com/ehtnamuh/multiagent-particle-envs/internal/model"
)

const AdversaryName = "adversary"

var (
	adversaryColor    = [3]float64{0.85, 0.35, 0.35}
	goodAgentPalette  = [2][3]float64{{0.35, 0.35, 0.5}, {0.35, 0.35, 1.0}}
	landmarkColor     = [3]float64{0.15, 0.15, 0.15}
	goalLandmarkColor = [3]float64{0.15, 0.65, 0.15}
)

// Adversary is the physical deception scenario: good agents know which
// landmark is the goal and try to cover it, the adversary has to infer it.
type Adversary struct {
	params Params
}

func DefaultAdversaryParams() Params {
	return Params{
		DimC:              2,
		Agents:            3,
		Adversaries:       1,
		Landmarks:         2,
		AgentSize:         0.15,
		LandmarkSize:      0.08,
		AgentSilent:       true,
		AgentLayout:       Uniform(),
		LandmarkLayout:    Uniform(),
		ObstacleLayout:    Uniform(),
		ObservationLayout: ObservationStandard,
	}
}

func NewAdversary(p Params) *Adversary {
	return &Adversary{params: p}
}

func (s *Adversary) Name() string {
	return AdversaryName
}

func (s *Adversary) Params() Params {
	return s.params
}

func (s *Adversary) validate() error {
	p := s.params
	if err := p.validateCounts(AdversaryName); err != nil {
		return err
	}
	if p.Landmarks < 1 {
		return configErrorf(AdversaryName, "landmarks", "at least one landmark is required, got %d", p.Landmarks)
	}
	if p.Adversaries < 1 {
		return configErrorf(AdversaryName, "adversaries", "at least one adversary is required, got %d", p.Adversaries)
	}
	if !validObservationLayout(p.ObservationLayout) {
		return observationLayoutError(AdversaryName, p.ObservationLayout)
	}
	return nil
}

func (s *Adversary) MakeWorld(rng *rand.Rand) (*model.World, error) {
	if err := s.validate(); err != nil {
		return nil, err
	}
	w := populate(s.params)
	for _, l := range w.Landmarks {
		l.Collide = false
		l.Movable = false
	}
	if err := s.ResetWorld(w, rng); err != nil {
		return nil, err
	}
	return w, nil
}

// ResetWorld draws, in order: the good agent palette coin, the goal landmark,
// agent positions and landmark positions.
func (s *Adversary) ResetWorld(w *model.World, rng *rand.Rand) error {
	if len(w.Landmarks) == 0 {
		return configErrorf(AdversaryName, "world", "world has no landmarks")
	}
	coin := rng.Intn(2)
	for i, a := range w.Agents {
		if a.Adversary {
			a.Color = adversaryColor
			continue
		}
		a.Color = goodAgentPalette[(i+1-coin)%2]
	}
	for _, l := range w.Landmarks {
		l.Color = landmarkColor
	}
	goal := rng.Intn(len(w.Landmarks))
	w.Landmarks[goal].Color = goalLandmarkColor
	for _, a := range w.Agents {
		a.Goal = model.LandmarkGoal(goal)
	}
	placeAll(w, s.params, rng)
	return nil
}

func (s *Adversary) Reward(w *model.World, a *model.Agent) float64 {
	goal, ok := w.GoalLandmark(a)
	if !ok {
		return 0
	}
	if a.Adversary {
		return -model.SquaredDistance(a.Pos, goal.Pos)
	}
	return goodAgentReward(w, a, goal)
}

func (s *Adversary) Observation(w *model.World, a *model.Agent) []float64 {
	return observationFor(s.params.ObservationLayout, w, a)
}

func (s *Adversary) BenchmarkData(w *model.World, a *model.Agent) Benchmark {
	goal, ok := w.GoalLandmark(a)
	if !ok {
		return Benchmark{}
	}
	if a.Adversary {
		return Benchmark{
			Labels: []string{"goal_dist_sq"},
			Values: []float64{model.SquaredDistance(a.Pos, goal.Pos)},
		}
	}
	b := Benchmark{
		Labels: make([]string, 0, len(w.Landmarks)+1),
		Values: make([]float64, 0, len(w.Landmarks)+1),
	}
	for i, l := range w.Landmarks {
		b.Labels = append(b.Labels, fmt.Sprintf("landmark_%d_dist_sq", i))
		b.Values = append(b.Values, model.SquaredDistance(a.Pos, l.Pos))
	}
	b.Labels = append(b.Labels, "goal_dist_sq")
	b.Values = append(b.Values, model.SquaredDistance(a.Pos, goal.Pos))
	return b
}
