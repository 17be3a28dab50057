package learner

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"github.com/ehtnamuh/multiagent-particle-envs/internal/model"
	"github.com/ehtnamuh/multiagent-particle-envs/internal/replay"
)

const (
	defaultStepSize    = 0.1
	defaultExploration = 0.1
)

// linearPolicy maps an observation to action logits: W (actDim x obsDim) + b.
type linearPolicy struct {
	obsDim  int
	actDim  int
	weights []float64
	bias    []float64
	score   float64
}

func newLinearPolicy(obsDim, actDim int, rng *rand.Rand) linearPolicy {
	p := linearPolicy{
		obsDim:  obsDim,
		actDim:  actDim,
		weights: make([]float64, obsDim*actDim),
		bias:    make([]float64, actDim),
	}
	for i := range p.weights {
		p.weights[i] = (rng.Float64()*2 - 1) * 0.1
	}
	return p
}

func (p linearPolicy) clone() linearPolicy {
	out := p
	out.weights = append([]float64(nil), p.weights...)
	out.bias = append([]float64(nil), p.bias...)
	return out
}

func (p linearPolicy) logits(obs []float64) []float64 {
	out := make([]float64, p.actDim)
	for a := 0; a < p.actDim; a++ {
		sum := p.bias[a]
		row := p.weights[a*p.obsDim : (a+1)*p.obsDim]
		for j, x := range obs {
			sum += row[j] * x
		}
		out[a] = sum
	}
	return out
}

// Perturb is a gradient-free learner: each agent owns a linear softmax policy
// that is improved by keep-or-revert random perturbations scored on replayed
// transitions.
type Perturb struct {
	shape Shape
	opts  Options

	mu       sync.Mutex
	rng      *rand.Rand
	policies []linearPolicy

	accepted int
	rejected int
}

func NewPerturb(shape Shape, opts Options) *Perturb {
	if opts.StepSize <= 0 {
		opts.StepSize = defaultStepSize
	}
	if opts.Exploration < 0 {
		opts.Exploration = 0
	} else if opts.Exploration == 0 {
		opts.Exploration = defaultExploration
	}
	rng := rand.New(rand.NewSource(opts.Seed))
	policies := make([]linearPolicy, shape.Agents())
	for i := range policies {
		policies[i] = newLinearPolicy(shape.ObsDims[i], shape.ActDims[i], rng)
	}
	return &Perturb{shape: shape, opts: opts, rng: rng, policies: policies}
}

// Stats reports how many perturbations were kept and reverted.
func (p *Perturb) Stats() (accepted, rejected int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.accepted, p.rejected
}

func (p *Perturb) ChooseAction(obs [][]float64) ([][]float64, error) {
	if err := p.shape.checkObs(obs); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	actions := make([][]float64, len(obs))
	for i, o := range obs {
		act := p.policies[i].logits(o)
		for j := range act {
			act[j] += p.rng.NormFloat64() * p.opts.Exploration
		}
		p.normalize(act)
		actions[i] = act
	}
	return actions, nil
}

func (p *Perturb) normalize(act []float64) {
	move := min(p.shape.MoveDims, len(act))
	softmaxInto(act, 0, move)
	softmaxInto(act, move, len(act))
}

// Learn runs one hill-climb attempt per agent. It is a no-op until the buffer
// holds a full batch.
func (p *Perturb) Learn(ctx context.Context, buf *replay.Buffer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if buf == nil || !buf.Ready() {
		return nil
	}
	if buf.Agents() != p.shape.Agents() {
		return fmt.Errorf("replay holds %d agents, learner has %d", buf.Agents(), p.shape.Agents())
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	batch, err := buf.Sample(p.rng)
	if err != nil {
		return err
	}
	for i := range p.policies {
		base := p.policies[i]
		baseScore := p.scorePolicy(i, base, batch.Transitions)
		candidate := p.perturb(base)
		candidateScore := p.scorePolicy(i, candidate, batch.Transitions)
		if candidateScore > baseScore+p.opts.MinImprovement {
			candidate.score = candidateScore
			p.policies[i] = candidate
			p.accepted++
			continue
		}
		p.policies[i].score = baseScore
		p.rejected++
	}
	return nil
}

func (p *Perturb) perturb(base linearPolicy) linearPolicy {
	out := base.clone()
	for j := range out.weights {
		out.weights[j] += p.rng.NormFloat64() * p.opts.StepSize
	}
	for j := range out.bias {
		out.bias[j] += p.rng.NormFloat64() * p.opts.StepSize
	}
	return out
}

// scorePolicy is the mean reward of the transitions whose stored movement
// choice agrees with the policy's greedy movement choice.
func (p *Perturb) scorePolicy(agent int, policy linearPolicy, transitions []model.Transition) float64 {
	move := min(p.shape.MoveDims, policy.actDim)
	if move == 0 {
		move = policy.actDim
	}
	total := 0.0
	matched := 0
	for _, tr := range transitions {
		logits := policy.logits(tr.Obs[agent])
		if argmax(logits[:move]) != argmax(tr.Actions[agent][:move]) {
			continue
		}
		total += tr.Rewards[agent]
		matched++
	}
	if matched == 0 {
		return 0
	}
	return total / float64(matched)
}

func (p *Perturb) SaveCheckpoint(dir string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, policy := range p.policies {
		cp := newCheckpoint(KindPerturb, p.shape, i)
		cp.Weights = policy.weights
		cp.Bias = policy.bias
		cp.Score = policy.score
		if err := writeCheckpoint(dir, cp); err != nil {
			return err
		}
	}
	return nil
}

// LoadCheckpoint replaces every agent's policy or, on any error, none of them.
func (p *Perturb) LoadCheckpoint(dir string) error {
	loaded := make([]linearPolicy, p.shape.Agents())
	for i := range loaded {
		cp, err := readCheckpoint(dir, KindPerturb, p.shape, i)
		if err != nil {
			return err
		}
		if len(cp.Weights) != cp.ObsDim*cp.ActDim || len(cp.Bias) != cp.ActDim {
			return fmt.Errorf("%w: agent %d parameters have the wrong size", ErrCheckpoint, i)
		}
		loaded[i] = linearPolicy{
			obsDim:  cp.ObsDim,
			actDim:  cp.ActDim,
			weights: append([]float64(nil), cp.Weights...),
			bias:    append([]float64(nil), cp.Bias...),
			score:   cp.Score,
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.policies = loaded
	return nil
}
