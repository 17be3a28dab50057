package engine

import (
	"fmt"
	"math/rand"

	"github.com/ehtnamuh/multiagent-particle-envs/internal/model"
	"github.com/ehtnamuh/multiagent-particle-envs/internal/scenario"
)

// StepResult is the joint outcome of one tick, indexed by agent.
type StepResult struct {
	Obs     [][]float64          `json:"obs"`
	Rewards []float64            `json:"rewards"`
	Done    []bool               `json:"done"`
	Info    []scenario.Benchmark `json:"info,omitempty"`
}

// Env binds a scenario, its world and the engine. The world is built once;
// Reset reuses it.
type Env struct {
	scenario scenario.Scenario
	engine   *Engine
	world    *model.World
	rng      *rand.Rand

	obsSizes []int
	withInfo bool
}

type Option func(*Env)

// WithBenchmarkInfo attaches per-agent BenchmarkData to every step result.
func WithBenchmarkInfo() Option {
	return func(e *Env) { e.withInfo = true }
}

func NewEnv(s scenario.Scenario, eng *Engine, rng *rand.Rand, opts ...Option) (*Env, error) {
	if s == nil {
		return nil, fmt.Errorf("scenario is required")
	}
	if eng == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if rng == nil {
		return nil, fmt.Errorf("rng is required")
	}
	world, err := s.MakeWorld(rng)
	if err != nil {
		return nil, fmt.Errorf("make world %s: %w", s.Name(), err)
	}
	env := &Env{scenario: s, engine: eng, world: world, rng: rng}
	for _, opt := range opts {
		opt(env)
	}
	env.obsSizes = scenario.ObservationSizes(s, world)
	return env, nil
}

func (e *Env) World() *model.World {
	return e.world
}

func (e *Env) Scenario() scenario.Scenario {
	return e.scenario
}

func (e *Env) ObservationSizes() []int {
	return append([]int(nil), e.obsSizes...)
}

func (e *Env) ActionSizes() []int {
	return ActionSizes(e.world)
}

func (e *Env) Reset() ([][]float64, error) {
	if err := e.scenario.ResetWorld(e.world, e.rng); err != nil {
		return nil, fmt.Errorf("reset world %s: %w", e.scenario.Name(), err)
	}
	return e.Observations(), nil
}

func (e *Env) Observations() [][]float64 {
	obs := make([][]float64, len(e.world.Agents))
	for i, a := range e.world.Agents {
		obs[i] = e.scenario.Observation(e.world, a)
	}
	return obs
}

func (e *Env) Step(actions [][]float64) (StepResult, error) {
	if err := e.engine.Step(e.world, actions); err != nil {
		return StepResult{}, err
	}
	n := len(e.world.Agents)
	result := StepResult{
		Obs:     e.Observations(),
		Rewards: make([]float64, n),
		Done:    make([]bool, n),
	}
	terminator, terminates := e.scenario.(scenario.Terminator)
	for i, a := range e.world.Agents {
		result.Rewards[i] = e.scenario.Reward(e.world, a)
		if terminates {
			result.Done[i] = terminator.Done(e.world, a)
		}
	}
	for i, obs := range result.Obs {
		if len(obs) != e.obsSizes[i] {
			return StepResult{}, fmt.Errorf("agent %d observation length changed from %d to %d", i, e.obsSizes[i], len(obs))
		}
	}
	if e.withInfo {
		result.Info = make([]scenario.Benchmark, n)
		for i, a := range e.world.Agents {
			result.Info[i] = e.scenario.BenchmarkData(e.world, a)
		}
	}
	return result, nil
}
