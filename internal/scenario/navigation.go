package scenario

import (
	"math/rand"

	"github.com/ehtnamuh/multiagent-particle-envs/internal/model"
)

const NavigationName = "navigation"

// Navigation is the hidden-goal cooperative navigation scenario: every agent
// carries a goal code and is rewarded for closing in on the nearest landmark
// with that code while avoiding other agents and the arena boundary.
type Navigation struct {
	params Params
	groups []int
	goals  []int
	width  int
	colors [][3]float64
}

func DefaultNavigationParams() Params {
	return Params{
		DimC:         2,
		Agents:       2,
		Landmarks:    2,
		Obstacles:    12,
		AgentSize:    0.10,
		LandmarkSize: 0.05,
		ObstacleSize: 0.2,
		AgentCollide: true,
		AgentSilent:  true,
		AgentLayout: Fixed(
			model.Vec2{X: -0.9, Y: 0.2},
			model.Vec2{X: -0.9, Y: -0.2},
		),
		LandmarkLayout: Fixed(
			model.Vec2{X: 0.9, Y: 0.1},
			model.Vec2{X: 0.9, Y: -0.1},
		),
		ObstacleLayout: Fixed(
			model.Vec2{X: -0.8, Y: -0.8}, model.Vec2{X: -0.4, Y: -0.8}, model.Vec2{X: 0.0, Y: -0.8},
			model.Vec2{X: 0.4, Y: -0.8}, model.Vec2{X: 0.8, Y: -0.8}, model.Vec2{X: -0.8, Y: 0.8},
			model.Vec2{X: -0.4, Y: 0.8}, model.Vec2{X: 0.0, Y: 0.8}, model.Vec2{X: 0.4, Y: 0.8},
			model.Vec2{X: 0.8, Y: 0.8}, model.Vec2{X: -0.2, Y: 0.4}, model.Vec2{X: 0.2, Y: -0.4},
		),
		CollisionPenalty:  1,
		ObservationLayout: ObservationStandard,
	}
}

func NewNavigation(p Params) *Navigation {
	return &Navigation{params: p}
}

func (s *Navigation) Name() string {
	return NavigationName
}

func (s *Navigation) Params() Params {
	return s.params
}

// resolveCodes validates goal wiring: every landmark group and agent goal must
// fit the code width, and every agent goal must be carried by a landmark.
func (s *Navigation) resolveCodes() error {
	p := s.params
	if err := p.validateCounts(NavigationName); err != nil {
		return err
	}
	if p.Landmarks == 0 {
		return configErrorf(NavigationName, "landmarks", "at least one landmark is required to carry goal codes")
	}
	if p.ObservationLayout != "" && p.ObservationLayout != ObservationStandard {
		return observationLayoutError(NavigationName, p.ObservationLayout)
	}

	width := p.CodeWidth
	if width == 0 {
		width = p.Landmarks
	}
	if width < 0 || width > model.MaxCodeWidth {
		return configErrorf(NavigationName, "code_width", "must be within 1..%d, got %d", model.MaxCodeWidth, width)
	}

	groups := p.LandmarkGroups
	if len(groups) == 0 {
		groups = identity(p.Landmarks)
	}
	if len(groups) != p.Landmarks {
		return configErrorf(NavigationName, "landmark_groups", "has %d entries for %d landmarks", len(groups), p.Landmarks)
	}
	carried := make(map[int]bool, len(groups))
	for i, g := range groups {
		if g < 0 || g >= width {
			return configErrorf(NavigationName, "landmark_groups", "landmark %d uses code bit %d outside width %d", i, g, width)
		}
		carried[g] = true
	}

	goals := p.AgentGoals
	if len(goals) == 0 {
		goals = identity(p.Agents)
	}
	if len(goals) != p.Agents {
		return configErrorf(NavigationName, "agent_goals", "has %d entries for %d agents", len(goals), p.Agents)
	}
	for i, g := range goals {
		if g < 0 || g >= width {
			return configErrorf(NavigationName, "agent_goals", "agent %d has no identity code: bit %d outside width %d", i, g, width)
		}
		if !carried[g] {
			return configErrorf(NavigationName, "agent_goals", "agent %d goal bit %d matches no landmark", i, g)
		}
	}

	s.width = width
	s.groups = groups
	s.goals = goals
	return nil
}

func (s *Navigation) MakeWorld(rng *rand.Rand) (*model.World, error) {
	if err := s.resolveCodes(); err != nil {
		return nil, err
	}
	s.colors = make([][3]float64, s.width)
	for i := range s.colors {
		s.colors[i] = randomColor(rng)
	}

	w := populate(s.params)
	for i, l := range w.Landmarks {
		code, err := model.OneHot(s.groups[i], s.width)
		if err != nil {
			return nil, configErrorf(NavigationName, "landmark_groups", "%v", err)
		}
		l.Code = code
		l.HasCode = true
		l.Collide = false
		l.Movable = false
	}
	s.paint(w)
	if err := s.ResetWorld(w, rng); err != nil {
		return nil, err
	}
	return w, nil
}

func (s *Navigation) paint(w *model.World) {
	for i, l := range w.Landmarks {
		l.Color = s.colors[s.groups[i]]
	}
	for i, a := range w.Agents {
		a.Color = s.colors[s.goals[i]]
	}
}

func (s *Navigation) ResetWorld(w *model.World, rng *rand.Rand) error {
	if len(w.Agents) != len(s.goals) || len(w.Landmarks) != len(s.groups) {
		return configErrorf(NavigationName, "world", "world was not built by this scenario")
	}
	if s.params.RandomizeColors {
		for i := range s.colors {
			s.colors[i] = randomColor(rng)
		}
		s.paint(w)
	}
	placeAll(w, s.params, rng)
	for i, a := range w.Agents {
		code, err := model.OneHot(s.goals[i], s.width)
		if err != nil {
			return configErrorf(NavigationName, "agent_goals", "%v", err)
		}
		a.Goal = model.CodeGoal(code)
	}
	return nil
}

func (s *Navigation) Reward(w *model.World, a *model.Agent) float64 {
	rew := 0.0
	if d, ok := nearestGoalDistance(w, a); ok {
		rew -= d
	}
	if a.Collide {
		rew -= s.params.CollisionPenalty * float64(collidingAgents(w, a, s.params.ExcludeSelfCollision))
		rew -= s.params.ObstaclePenalty * float64(collidingObstacles(w, a))
	}
	rew -= boundaryPenalty(w, a.Pos)
	return rew
}

func (s *Navigation) Observation(w *model.World, a *model.Agent) []float64 {
	return EncodeStandard(w, a)
}

// BenchmarkData reports (score, agent collisions, distance to the nearest goal
// landmark, occupied landmarks). Unlike Reward, obstacle contacts always cost 1.
func (s *Navigation) BenchmarkData(w *model.World, a *model.Agent) Benchmark {
	score := 0.0
	collisions := 0
	minDist := 0.0
	occupied := 0
	if d, ok := nearestGoalDistance(w, a); ok {
		score -= d
		minDist = d
		if d < goalRadius {
			occupied = 1
		}
	}
	if a.Collide {
		collisions = collidingAgents(w, a, s.params.ExcludeSelfCollision)
		score -= float64(collisions)
		score -= float64(collidingObstacles(w, a))
	}
	return Benchmark{
		Labels: []string{"score", "collisions", "min_dist", "occupied_landmarks"},
		Values: []float64{score, float64(collisions), minDist, float64(occupied)},
	}
}

func identity(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
