package model

// Entity carries the physical and visual state shared by every world object.
type Entity struct {
	Name    string     `json:"name"`
	Collide bool       `json:"collide"`
	Movable bool       `json:"movable"`
	Size    float64    `json:"size"`
	Mass    float64    `json:"mass"`
	Color   [3]float64 `json:"color"`
	Pos     Vec2       `json:"pos"`
	Vel     Vec2       `json:"vel"`
}

// EffectiveMass defaults to 1 when Mass is unset.
func (e *Entity) EffectiveMass() float64 {
	if e.Mass <= 0 {
		return 1
	}
	return e.Mass
}

type GoalKind uint8

const (
	GoalNone GoalKind = iota
	GoalLandmark
	GoalCode
)

// Goal is either a reference to a landmark (by world index) or a hidden
// identity code matched against landmark codes.
type Goal struct {
	Kind     GoalKind `json:"kind"`
	Landmark int      `json:"landmark,omitempty"`
	Code     Code     `json:"code"`
}

func LandmarkGoal(index int) Goal { return Goal{Kind: GoalLandmark, Landmark: index} }

func CodeGoal(code Code) Goal { return Goal{Kind: GoalCode, Code: code} }

type Agent struct {
	Entity
	Adversary bool      `json:"adversary"`
	Silent    bool      `json:"silent"`
	Comm      []float64 `json:"comm"`
	Goal      Goal      `json:"goal"`
}

type Landmark struct {
	Entity
	Code     Code `json:"code"`
	HasCode  bool `json:"has_code"`
	Boundary bool `json:"boundary"`
}

type Obstacle struct {
	Entity
	Boundary bool `json:"boundary"`
}

// World holds every entity of a scenario. Entity slices are fixed after
// construction; resets only rewrite positions, velocities, colors and goals.
type World struct {
	DimP      int         `json:"dim_p"`
	DimC      int         `json:"dim_c"`
	Agents    []*Agent    `json:"agents"`
	Landmarks []*Landmark `json:"landmarks"`
	Obstacles []*Obstacle `json:"obstacles"`
}

func NewWorld(dimC int) *World {
	return &World{DimP: 2, DimC: dimC}
}

// GoalLandmark resolves a landmark-reference goal. It reports false for code
// goals and out-of-range indices.
func (w *World) GoalLandmark(a *Agent) (*Landmark, bool) {
	if a.Goal.Kind != GoalLandmark {
		return nil, false
	}
	if a.Goal.Landmark < 0 || a.Goal.Landmark >= len(w.Landmarks) {
		return nil, false
	}
	return w.Landmarks[a.Goal.Landmark], true
}

// MatchingLandmarks lists landmarks whose identity code equals the agent's goal code.
func (w *World) MatchingLandmarks(a *Agent) []*Landmark {
	if a.Goal.Kind != GoalCode {
		return nil
	}
	var out []*Landmark
	for _, l := range w.Landmarks {
		if l.HasCode && l.Code.Equal(a.Goal.Code) {
			out = append(out, l)
		}
	}
	return out
}

func (w *World) Adversaries() []*Agent {
	var out []*Agent
	for _, a := range w.Agents {
		if a.Adversary {
			out = append(out, a)
		}
	}
	return out
}

func (w *World) GoodAgents() []*Agent {
	var out []*Agent
	for _, a := range w.Agents {
		if !a.Adversary {
			out = append(out, a)
		}
	}
	return out
}

func (w *World) AgentIndex(a *Agent) int {
	for i, other := range w.Agents {
		if other == a {
			return i
		}
	}
	return -1
}

// IsCollision reports whether two entities overlap: their centers are closer
// than the sum of their radii.
func IsCollision(a, b *Entity) bool {
	return Distance(a.Pos, b.Pos) < a.Size+b.Size
}
