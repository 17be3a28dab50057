package engine

import (
	"errors"
	"fmt"
	"math"

	"github.com/ehtnamuh/multiagent-particle-envs/internal/model"
)

// MovementActions is the discrete movement block [noop, +x, -x, +y, -y] that
// precedes an agent's communication components.
const MovementActions = 5

var ErrActionShape = errors.New("action shape mismatch")

type Config struct {
	Sensitivity   float64 `json:"sensitivity" yaml:"sensitivity"`
	Damping       float64 `json:"damping" yaml:"damping"`
	Dt            float64 `json:"dt" yaml:"dt"`
	ContactForce  float64 `json:"contact_force" yaml:"contact_force"`
	ContactMargin float64 `json:"contact_margin" yaml:"contact_margin"`
}

func DefaultConfig() Config {
	return Config{
		Sensitivity:   5,
		Damping:       0.25,
		Dt:            0.1,
		ContactForce:  100,
		ContactMargin: 1e-3,
	}
}

func (c Config) Validate() error {
	if c.Dt <= 0 {
		return fmt.Errorf("engine dt must be > 0, got %f", c.Dt)
	}
	if c.Damping < 0 || c.Damping > 1 {
		return fmt.Errorf("engine damping must be within [0,1], got %f", c.Damping)
	}
	if c.ContactMargin <= 0 {
		return fmt.Errorf("engine contact margin must be > 0, got %f", c.ContactMargin)
	}
	return nil
}

// Engine advances a world by one tick: actions become forces, contacts push
// overlapping collidable entities apart, then velocities and positions are
// integrated. Immovable entities never change position.
type Engine struct {
	cfg Config
}

func New(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg}, nil
}

func (e *Engine) Config() Config {
	return e.cfg
}

// ActionSize is the joint action width of one agent.
func ActionSize(w *model.World, a *model.Agent) int {
	if a.Silent {
		return MovementActions
	}
	return MovementActions + w.DimC
}

func ActionSizes(w *model.World) []int {
	sizes := make([]int, len(w.Agents))
	for i, a := range w.Agents {
		sizes[i] = ActionSize(w, a)
	}
	return sizes
}

func (e *Engine) Step(w *model.World, actions [][]float64) error {
	if len(actions) != len(w.Agents) {
		return fmt.Errorf("%w: %d actions for %d agents", ErrActionShape, len(actions), len(w.Agents))
	}
	for i, a := range w.Agents {
		if want := ActionSize(w, a); len(actions[i]) != want {
			return fmt.Errorf("%w: agent %d action has %d components, want %d", ErrActionShape, i, len(actions[i]), want)
		}
	}

	bodies := collectBodies(w)
	forces := make([]model.Vec2, len(bodies))
	for i, a := range w.Agents {
		act := actions[i]
		if a.Movable {
			forces[i] = model.Vec2{X: act[1] - act[2], Y: act[3] - act[4]}.Scale(e.cfg.Sensitivity)
		}
		e.applyComm(w, a, act)
	}
	e.applyContacts(bodies, forces)
	e.integrate(bodies, forces)
	return nil
}

func (e *Engine) applyComm(w *model.World, a *model.Agent, act []float64) {
	if len(a.Comm) != w.DimC {
		a.Comm = make([]float64, w.DimC)
	}
	if a.Silent {
		for c := range a.Comm {
			a.Comm[c] = 0
		}
		return
	}
	copy(a.Comm, act[MovementActions:MovementActions+w.DimC])
}

// collectBodies lists agents first so that force index i is agent i.
func collectBodies(w *model.World) []*model.Entity {
	bodies := make([]*model.Entity, 0, len(w.Agents)+len(w.Landmarks)+len(w.Obstacles))
	for _, a := range w.Agents {
		bodies = append(bodies, &a.Entity)
	}
	for _, l := range w.Landmarks {
		bodies = append(bodies, &l.Entity)
	}
	for _, o := range w.Obstacles {
		bodies = append(bodies, &o.Entity)
	}
	return bodies
}

func (e *Engine) applyContacts(bodies []*model.Entity, forces []model.Vec2) {
	for i := 0; i < len(bodies); i++ {
		for j := i + 1; j < len(bodies); j++ {
			a, b := bodies[i], bodies[j]
			if !a.Collide || !b.Collide {
				continue
			}
			if !a.Movable && !b.Movable {
				continue
			}
			f, ok := e.contactForce(a, b)
			if !ok {
				continue
			}
			if a.Movable {
				forces[i] = forces[i].Add(f)
			}
			if b.Movable {
				forces[j] = forces[j].Sub(f)
			}
		}
	}
}

// contactForce is the soft penetration force on a pushing it away from b.
func (e *Engine) contactForce(a, b *model.Entity) (model.Vec2, bool) {
	delta := a.Pos.Sub(b.Pos)
	dist := delta.Norm()
	if dist == 0 {
		return model.Vec2{}, false
	}
	minDist := a.Size + b.Size
	k := e.cfg.ContactMargin
	penetration := softplus(-(dist-minDist)/k) * k
	return delta.Scale(e.cfg.ContactForce * penetration / dist), true
}

func (e *Engine) integrate(bodies []*model.Entity, forces []model.Vec2) {
	for i, body := range bodies {
		if !body.Movable {
			continue
		}
		body.Vel = body.Vel.Scale(1 - e.cfg.Damping)
		body.Vel = body.Vel.Add(forces[i].Scale(e.cfg.Dt / body.EffectiveMass()))
		body.Pos = body.Pos.Add(body.Vel.Scale(e.cfg.Dt))
	}
}

func softplus(x float64) float64 {
	if x > 30 {
		return x
	}
	return math.Log1p(math.Exp(x))
}
