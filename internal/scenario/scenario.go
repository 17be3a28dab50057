package scenario

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/ehtnamuh/multiagent-particle-envs/internal/model"
)

// Scenario configures, resets, rewards and observes one kind of world.
// ResetWorld is the only method allowed to write world state.
type Scenario interface {
	Name() string
	MakeWorld(rng *rand.Rand) (*model.World, error)
	ResetWorld(w *model.World, rng *rand.Rand) error
	Reward(w *model.World, a *model.Agent) float64
	Observation(w *model.World, a *model.Agent) []float64
	BenchmarkData(w *model.World, a *model.Agent) Benchmark
}

// Terminator is implemented by scenarios whose episodes can end before the
// step cap.
type Terminator interface {
	Done(w *model.World, a *model.Agent) bool
}

// Benchmark is a labelled diagnostic tuple used for external logging only.
type Benchmark struct {
	Labels []string  `json:"labels"`
	Values []float64 `json:"values"`
}

func (b Benchmark) Value(label string) (float64, bool) {
	for i, l := range b.Labels {
		if l == label && i < len(b.Values) {
			return b.Values[i], true
		}
	}
	return 0, false
}

var ErrConfiguration = errors.New("scenario configuration")

// ConfigError reports world parameters that cannot produce a consistent world.
type ConfigError struct {
	Scenario string
	Field    string
	Reason   string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: invalid %s: %s", e.Scenario, e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error {
	return ErrConfiguration
}

func configErrorf(scenario, field, format string, args ...any) error {
	return &ConfigError{Scenario: scenario, Field: field, Reason: fmt.Sprintf(format, args...)}
}
