package replay

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"

	"github.com/ehtnamuh/multiagent-particle-envs/internal/model"
)

var (
	ErrShape    = errors.New("transition shape mismatch")
	ErrNotReady = errors.New("replay buffer not ready")
)

// Batch is a deep copy of sampled transitions.
type Batch struct {
	Transitions []model.Transition
}

func (b Batch) Len() int {
	return len(b.Transitions)
}

// Buffer is a fixed-capacity ring of joint transitions. The oldest entry is
// overwritten once the ring is full.
type Buffer struct {
	mu sync.Mutex

	capacity  int
	batchSize int
	obsDims   []int
	actDims   []int

	items []model.Transition
	next  int
	total int
}

func NewBuffer(capacity, batchSize int, obsDims, actDims []int) (*Buffer, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("replay capacity must be > 0, got %d", capacity)
	}
	if batchSize <= 0 || batchSize > capacity {
		return nil, fmt.Errorf("replay batch size must be within 1..%d, got %d", capacity, batchSize)
	}
	if len(obsDims) == 0 || len(obsDims) != len(actDims) {
		return nil, fmt.Errorf("replay needs one observation and action dim per agent, got %d and %d", len(obsDims), len(actDims))
	}
	return &Buffer{
		capacity:  capacity,
		batchSize: batchSize,
		obsDims:   append([]int(nil), obsDims...),
		actDims:   append([]int(nil), actDims...),
		items:     make([]model.Transition, 0, min(capacity, 4096)),
	}, nil
}

func (b *Buffer) Capacity() int { return b.capacity }

func (b *Buffer) BatchSize() int { return b.batchSize }

func (b *Buffer) Agents() int { return len(b.obsDims) }

func (b *Buffer) ObservationDims() []int { return append([]int(nil), b.obsDims...) }

func (b *Buffer) ActionDims() []int { return append([]int(nil), b.actDims...) }

// Len is the number of stored transitions, at most Capacity.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// Total counts every transition ever stored, including evicted ones.
func (b *Buffer) Total() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total
}

func (b *Buffer) Ready() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items) >= b.batchSize
}

func (b *Buffer) StoreTransition(t model.Transition) error {
	if err := b.validate(t); err != nil {
		return err
	}
	t = cloneTransition(t)

	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.items) < b.capacity {
		b.items = append(b.items, t)
	} else {
		b.items[b.next] = t
	}
	b.next = (b.next + 1) % b.capacity
	b.total++
	return nil
}

func (b *Buffer) validate(t model.Transition) error {
	n := len(b.obsDims)
	if len(t.Obs) != n || len(t.NextObs) != n || len(t.Actions) != n || len(t.Rewards) != n || len(t.Done) != n {
		return fmt.Errorf("%w: expected %d agents", ErrShape, n)
	}
	for i := 0; i < n; i++ {
		if len(t.Obs[i]) != b.obsDims[i] || len(t.NextObs[i]) != b.obsDims[i] {
			return fmt.Errorf("%w: agent %d observation dim %d, want %d", ErrShape, i, len(t.Obs[i]), b.obsDims[i])
		}
		if len(t.Actions[i]) != b.actDims[i] {
			return fmt.Errorf("%w: agent %d action dim %d, want %d", ErrShape, i, len(t.Actions[i]), b.actDims[i])
		}
	}
	return nil
}

// Sample draws BatchSize distinct transitions from the filled region.
func (b *Buffer) Sample(rng *rand.Rand) (Batch, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.items) < b.batchSize {
		return Batch{}, fmt.Errorf("%w: %d stored, batch size %d", ErrNotReady, len(b.items), b.batchSize)
	}
	idx := sampleIndices(rng, len(b.items), b.batchSize)
	out := Batch{Transitions: make([]model.Transition, len(idx))}
	for i, j := range idx {
		out.Transitions[i] = cloneTransition(b.items[j])
	}
	return out, nil
}

// sampleIndices is a partial Fisher-Yates over [0,n) when k is a large share
// of n, otherwise rejection sampling into a set.
func sampleIndices(rng *rand.Rand, n, k int) []int {
	if k*4 >= n {
		pool := make([]int, n)
		for i := range pool {
			pool[i] = i
		}
		for i := 0; i < k; i++ {
			j := i + rng.Intn(n-i)
			pool[i], pool[j] = pool[j], pool[i]
		}
		return pool[:k]
	}
	seen := make(map[int]struct{}, k)
	out := make([]int, 0, k)
	for len(out) < k {
		j := rng.Intn(n)
		if _, ok := seen[j]; ok {
			continue
		}
		seen[j] = struct{}{}
		out = append(out, j)
	}
	return out
}

func cloneTransition(t model.Transition) model.Transition {
	return model.Transition{
		Obs:       cloneMatrix(t.Obs),
		State:     append([]float64(nil), t.State...),
		Actions:   cloneMatrix(t.Actions),
		Rewards:   append([]float64(nil), t.Rewards...),
		NextObs:   cloneMatrix(t.NextObs),
		NextState: append([]float64(nil), t.NextState...),
		Done:      append([]bool(nil), t.Done...),
	}
}

func cloneMatrix(m [][]float64) [][]float64 {
	if m == nil {
		return nil
	}
	out := make([][]float64, len(m))
	for i := range m {
		out[i] = append([]float64(nil), m[i]...)
	}
	return out
}
