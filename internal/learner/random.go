package learner

import (
	"context"
	"math/rand"
	"sync"

	"github.com/ehtnamuh/multiagent-particle-envs/internal/replay"
)

// Random emits seeded uniform actions. The movement block is normalized to a
// distribution; communication components are uniform in [0,1).
type Random struct {
	shape Shape
	mu    sync.Mutex
	rng   *rand.Rand
}

func NewRandom(shape Shape, seed int64) *Random {
	return &Random{shape: shape, rng: rand.New(rand.NewSource(seed))}
}

func (r *Random) ChooseAction(obs [][]float64) ([][]float64, error) {
	if err := r.shape.checkObs(obs); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	actions := make([][]float64, len(obs))
	for i := range obs {
		act := make([]float64, r.shape.ActDims[i])
		for j := range act {
			act[j] = r.rng.Float64()
		}
		softmaxInto(act, 0, min(r.shape.MoveDims, len(act)))
		actions[i] = act
	}
	return actions, nil
}

func (r *Random) Learn(ctx context.Context, _ *replay.Buffer) error {
	return ctx.Err()
}

func (r *Random) SaveCheckpoint(dir string) error {
	for i := range r.shape.ObsDims {
		cp := newCheckpoint(KindRandom, r.shape, i)
		if err := writeCheckpoint(dir, cp); err != nil {
			return err
		}
	}
	return nil
}

// LoadCheckpoint only verifies that compatible checkpoints exist; a random
// learner has no parameters.
func (r *Random) LoadCheckpoint(dir string) error {
	for i := range r.shape.ObsDims {
		if _, err := readCheckpoint(dir, KindRandom, r.shape, i); err != nil {
			return err
		}
	}
	return nil
}
