package learner

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/ehtnamuh/multiagent-particle-envs/internal/replay"
)

// Learner picks joint actions and improves itself from replayed experience.
type Learner interface {
	ChooseAction(obs [][]float64) ([][]float64, error)
	Learn(ctx context.Context, buf *replay.Buffer) error
	LoadCheckpoint(dir string) error
	SaveCheckpoint(dir string) error
}

const (
	KindRandom  = "random"
	KindPerturb = "perturb"
)

var ErrCheckpoint = errors.New("checkpoint unavailable")

// Shape is the per-agent interface a learner is built for. Scenario takes part
// in checkpoint fingerprints so checkpoints never cross scenarios.
type Shape struct {
	Scenario string
	ObsDims  []int
	ActDims  []int
	// MoveDims is the width of the movement block that starts each action.
	MoveDims int
}

func (s Shape) Agents() int {
	return len(s.ObsDims)
}

func (s Shape) Validate() error {
	if s.Scenario == "" {
		return errors.New("learner shape needs a scenario name")
	}
	if len(s.ObsDims) == 0 || len(s.ObsDims) != len(s.ActDims) {
		return fmt.Errorf("learner shape has %d observation dims and %d action dims", len(s.ObsDims), len(s.ActDims))
	}
	for i := range s.ObsDims {
		if s.ObsDims[i] <= 0 || s.ActDims[i] <= 0 {
			return fmt.Errorf("agent %d has empty observation or action", i)
		}
		if s.MoveDims > s.ActDims[i] {
			return fmt.Errorf("agent %d action dim %d is narrower than the movement block %d", i, s.ActDims[i], s.MoveDims)
		}
	}
	return nil
}

func (s Shape) checkObs(obs [][]float64) error {
	if len(obs) != len(s.ObsDims) {
		return fmt.Errorf("got %d observations for %d agents", len(obs), len(s.ObsDims))
	}
	for i, o := range obs {
		if len(o) != s.ObsDims[i] {
			return fmt.Errorf("agent %d observation has %d values, want %d", i, len(o), s.ObsDims[i])
		}
	}
	return nil
}

// Options tunes the built-in learners. Zero values take defaults; a negative
// Exploration disables action noise.
type Options struct {
	Seed           int64   `json:"seed" yaml:"seed"`
	StepSize       float64 `json:"step_size" yaml:"step_size"`
	Exploration    float64 `json:"exploration" yaml:"exploration"`
	MinImprovement float64 `json:"min_improvement" yaml:"min_improvement"`
}

func New(kind string, shape Shape, opts Options) (Learner, error) {
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindRandom, "":
		return NewRandom(shape, opts.Seed), nil
	case KindPerturb, "hillclimb", "exoself":
		return NewPerturb(shape, opts), nil
	default:
		return nil, fmt.Errorf("unsupported learner kind: %s", kind)
	}
}

func Kinds() []string {
	return []string{KindPerturb, KindRandom}
}

// softmaxInto normalizes logits[lo:hi] in place.
func softmaxInto(v []float64, lo, hi int) {
	if hi <= lo {
		return
	}
	maxV := math.Inf(-1)
	for _, x := range v[lo:hi] {
		maxV = math.Max(maxV, x)
	}
	sum := 0.0
	for i := lo; i < hi; i++ {
		v[i] = math.Exp(v[i] - maxV)
		sum += v[i]
	}
	for i := lo; i < hi; i++ {
		v[i] /= sum
	}
}

func argmax(v []float64) int {
	best := 0
	for i := 1; i < len(v); i++ {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}
