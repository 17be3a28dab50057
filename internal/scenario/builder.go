package scenario

import (
	"fmt"
	"math/rand"

	"github.com/ehtnamuh/multiagent-particle-envs/internal/model"
)

type LayoutKind string

const (
	LayoutUniform LayoutKind = "uniform"
	LayoutFixed   LayoutKind = "fixed"
)

// Layout places entities either at literal coordinates or uniformly at random
// in [-Spread, Spread] per axis.
type Layout struct {
	Kind      LayoutKind   `json:"kind" yaml:"kind" jsonschema:"enum=uniform,enum=fixed"`
	Spread    float64      `json:"spread,omitempty" yaml:"spread,omitempty"`
	Positions []model.Vec2 `json:"positions,omitempty" yaml:"positions,omitempty"`
}

func Uniform() Layout {
	return Layout{Kind: LayoutUniform, Spread: 1}
}

func Fixed(points ...model.Vec2) Layout {
	return Layout{Kind: LayoutFixed, Positions: points}
}

func (l Layout) validate(scenario, field string, count int) error {
	switch l.Kind {
	case LayoutUniform, "":
		if l.Spread < 0 {
			return configErrorf(scenario, field, "negative spread %f", l.Spread)
		}
		return nil
	case LayoutFixed:
		if len(l.Positions) < count {
			return configErrorf(scenario, field, "fixed layout has %d positions for %d entities", len(l.Positions), count)
		}
		return nil
	default:
		return configErrorf(scenario, field, "unsupported layout kind %q", l.Kind)
	}
}

func (l Layout) place(i int, rng *rand.Rand) model.Vec2 {
	if l.Kind == LayoutFixed {
		return l.Positions[i]
	}
	spread := l.Spread
	if spread == 0 {
		spread = 1
	}
	return model.Vec2{
		X: (rng.Float64()*2 - 1) * spread,
		Y: (rng.Float64()*2 - 1) * spread,
	}
}

// Params describes a world: entity counts, sizes, layouts and goal wiring.
// Scenario defaults fill every field; YAML config decodes over them.
type Params struct {
	DimC         int     `json:"dim_c" yaml:"dim_c"`
	Agents       int     `json:"agents" yaml:"agents"`
	Adversaries  int     `json:"adversaries" yaml:"adversaries"`
	Landmarks    int     `json:"landmarks" yaml:"landmarks"`
	Obstacles    int     `json:"obstacles" yaml:"obstacles"`
	AgentSize    float64 `json:"agent_size" yaml:"agent_size"`
	LandmarkSize float64 `json:"landmark_size" yaml:"landmark_size"`
	ObstacleSize float64 `json:"obstacle_size" yaml:"obstacle_size"`
	AgentCollide bool    `json:"agent_collide" yaml:"agent_collide"`
	AgentSilent  bool    `json:"agent_silent" yaml:"agent_silent"`

	AgentLayout    Layout `json:"agent_layout" yaml:"agent_layout"`
	LandmarkLayout Layout `json:"landmark_layout" yaml:"landmark_layout"`
	ObstacleLayout Layout `json:"obstacle_layout" yaml:"obstacle_layout"`

	// CodeWidth is the bit width of hidden goal codes; 0 means one bit per landmark.
	CodeWidth int `json:"code_width,omitempty" yaml:"code_width,omitempty"`

	// LandmarkGroups maps landmark i to the code bit it carries (default i).
	LandmarkGroups []int `json:"landmark_groups,omitempty" yaml:"landmark_groups,omitempty"`

	// AgentGoals maps agent i to the code bit it seeks (default i).
	AgentGoals []int `json:"agent_goals,omitempty" yaml:"agent_goals,omitempty"`

	CollisionPenalty  float64 `json:"collision_penalty" yaml:"collision_penalty"`
	ObstaclePenalty   float64 `json:"obstacle_penalty" yaml:"obstacle_penalty"`
	RandomizeColors   bool    `json:"randomize_colors" yaml:"randomize_colors"`
	ObservationLayout string  `json:"observation_layout,omitempty" yaml:"observation_layout,omitempty" jsonschema:"enum=standard,enum=partial"`

	// ExcludeSelfCollision drops the agent itself from its own collision
	// count. By default an agent overlaps itself and pays one penalty per step.
	ExcludeSelfCollision bool `json:"exclude_self_collision,omitempty" yaml:"exclude_self_collision,omitempty"`
}

func (p Params) validateCounts(scenario string) error {
	if p.DimC < 0 {
		return configErrorf(scenario, "dim_c", "must be >= 0, got %d", p.DimC)
	}
	if p.Agents <= 0 {
		return configErrorf(scenario, "agents", "must be > 0, got %d", p.Agents)
	}
	if p.Adversaries < 0 || p.Adversaries > p.Agents {
		return configErrorf(scenario, "adversaries", "must be within 0..%d, got %d", p.Agents, p.Adversaries)
	}
	if p.Landmarks < 0 {
		return configErrorf(scenario, "landmarks", "must be >= 0, got %d", p.Landmarks)
	}
	if p.Obstacles < 0 {
		return configErrorf(scenario, "obstacles", "must be >= 0, got %d", p.Obstacles)
	}
	if p.AgentSize < 0 || p.LandmarkSize < 0 || p.ObstacleSize < 0 {
		return configErrorf(scenario, "size", "entity sizes must be >= 0")
	}
	if err := p.AgentLayout.validate(scenario, "agent_layout", p.Agents); err != nil {
		return err
	}
	if err := p.LandmarkLayout.validate(scenario, "landmark_layout", p.Landmarks); err != nil {
		return err
	}
	return p.ObstacleLayout.validate(scenario, "obstacle_layout", p.Obstacles)
}

// populate allocates every entity with its static attributes and a globally
// unique name. Positions, goals and per-episode colors are left to reset.
func populate(p Params) *model.World {
	w := model.NewWorld(p.DimC)
	w.Agents = make([]*model.Agent, p.Agents)
	for i := range w.Agents {
		w.Agents[i] = &model.Agent{
			Entity: model.Entity{
				Name:    fmt.Sprintf("agent %d", i),
				Collide: p.AgentCollide,
				Movable: true,
				Size:    p.AgentSize,
			},
			Adversary: i < p.Adversaries,
			Silent:    p.AgentSilent,
			Comm:      make([]float64, p.DimC),
		}
	}
	w.Landmarks = make([]*model.Landmark, p.Landmarks)
	for i := range w.Landmarks {
		w.Landmarks[i] = &model.Landmark{
			Entity: model.Entity{
				Name: fmt.Sprintf("landmark %d", i),
				Size: p.LandmarkSize,
			},
		}
	}
	w.Obstacles = make([]*model.Obstacle, p.Obstacles)
	for i := range w.Obstacles {
		w.Obstacles[i] = &model.Obstacle{
			Entity: model.Entity{
				Name:    fmt.Sprintf("obstacle %d", i),
				Collide: true,
				Size:    p.ObstacleSize,
				Color:   obstacleColor,
			},
		}
	}
	return w
}

// placeAll writes fresh positions and clears velocity and communication.
func placeAll(w *model.World, p Params, rng *rand.Rand) {
	for i, a := range w.Agents {
		a.Pos = p.AgentLayout.place(i, rng)
		a.Vel = model.Vec2{}
		if len(a.Comm) != w.DimC {
			a.Comm = make([]float64, w.DimC)
		}
		for c := range a.Comm {
			a.Comm[c] = 0
		}
	}
	for i, l := range w.Landmarks {
		l.Pos = p.LandmarkLayout.place(i, rng)
		l.Vel = model.Vec2{}
	}
	for i, o := range w.Obstacles {
		o.Pos = p.ObstacleLayout.place(i, rng)
		o.Vel = model.Vec2{}
		o.Size = p.ObstacleSize
	}
}

var obstacleColor = [3]float64{0.25, 0.25, 0.25}

func randomColor(rng *rand.Rand) [3]float64 {
	return [3]float64{rng.Float64()*2 - 1, rng.Float64()*2 - 1, rng.Float64()*2 - 1}
}
