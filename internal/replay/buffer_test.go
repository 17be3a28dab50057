package replay

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehtnamuh/multiagent-particle-envs/internal/model"
)

func transition(reward float64) model.Transition {
	obs := [][]float64{{reward, 0}, {0, reward}}
	next := [][]float64{{reward + 1, 0}, {0, reward + 1}}
	return model.Transition{
		Obs:       obs,
		State:     model.GlobalState(obs),
		Actions:   [][]float64{{1, 0, 0}, {0, 1, 0}},
		Rewards:   []float64{reward, reward},
		NextObs:   next,
		NextState: model.GlobalState(next),
		Done:      []bool{false, false},
	}
}

func newTestBuffer(t *testing.T, capacity, batch int) *Buffer {
	t.Helper()
	b, err := NewBuffer(capacity, batch, []int{2, 2}, []int{3, 3})
	require.NoError(t, err)
	return b
}

func TestBufferReadyAfterBatchSize(t *testing.T) {
	b := newTestBuffer(t, 10, 3)
	for i := 0; i < 2; i++ {
		require.NoError(t, b.StoreTransition(transition(float64(i))))
		assert.False(t, b.Ready())
	}
	_, err := b.Sample(rand.New(rand.NewSource(1)))
	assert.ErrorIs(t, err, ErrNotReady)

	require.NoError(t, b.StoreTransition(transition(2)))
	assert.True(t, b.Ready())
}

func TestBufferEvictsOldest(t *testing.T) {
	b := newTestBuffer(t, 3, 3)
	for i := 0; i < 5; i++ {
		require.NoError(t, b.StoreTransition(transition(float64(i))))
	}
	assert.Equal(t, 3, b.Len())
	assert.Equal(t, 5, b.Total())

	batch, err := b.Sample(rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	var rewards []float64
	for _, tr := range batch.Transitions {
		rewards = append(rewards, tr.Rewards[0])
	}
	assert.ElementsMatch(t, []float64{2, 3, 4}, rewards)
}

func TestBufferSampleWithoutReplacement(t *testing.T) {
	b := newTestBuffer(t, 100, 20)
	for i := 0; i < 100; i++ {
		require.NoError(t, b.StoreTransition(transition(float64(i))))
	}
	rng := rand.New(rand.NewSource(3))
	for round := 0; round < 10; round++ {
		batch, err := b.Sample(rng)
		require.NoError(t, err)
		require.Equal(t, 20, batch.Len())
		seen := map[float64]bool{}
		for _, tr := range batch.Transitions {
			require.False(t, seen[tr.Rewards[0]], "duplicate in round %d", round)
			seen[tr.Rewards[0]] = true
		}
	}
}

func TestBufferSampleIsDeepCopy(t *testing.T) {
	b := newTestBuffer(t, 4, 1)
	src := transition(1)
	require.NoError(t, b.StoreTransition(src))
	src.Obs[0][0] = 99

	batch, err := b.Sample(rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	assert.Equal(t, 1.0, batch.Transitions[0].Obs[0][0])

	batch.Transitions[0].Rewards[0] = -5
	again, err := b.Sample(rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	assert.Equal(t, 1.0, again.Transitions[0].Rewards[0])
}

func TestBufferValidatesShape(t *testing.T) {
	b := newTestBuffer(t, 4, 1)
	bad := transition(0)
	bad.Actions[1] = []float64{1}
	assert.ErrorIs(t, b.StoreTransition(bad), ErrShape)

	bad = transition(0)
	bad.Rewards = bad.Rewards[:1]
	assert.ErrorIs(t, b.StoreTransition(bad), ErrShape)
	assert.Equal(t, 0, b.Len())
}

func TestNewBufferValidation(t *testing.T) {
	_, err := NewBuffer(0, 1, []int{1}, []int{1})
	require.Error(t, err)
	_, err = NewBuffer(2, 3, []int{1}, []int{1})
	require.Error(t, err)
	_, err = NewBuffer(2, 1, []int{1, 2}, []int{1})
	require.Error(t, err)
}

func TestBufferConcurrentStoreAndSample(t *testing.T) {
	b := newTestBuffer(t, 64, 8)
	for i := 0; i < 8; i++ {
		require.NoError(t, b.StoreTransition(transition(float64(i))))
	}
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			_ = b.StoreTransition(transition(float64(i)))
		}
	}()
	go func() {
		defer wg.Done()
		rng := rand.New(rand.NewSource(5))
		for i := 0; i < 200; i++ {
			batch, err := b.Sample(rng)
			if err == nil {
				assert.Equal(t, 8, batch.Len())
			}
		}
	}()
	wg.Wait()
	assert.Equal(t, 508, b.Total())
}

func TestSampleIndicesAreDistinctAndInRange(t *testing.T) {
	cases := []struct {
		name string
		n, k int
	}{
		{"shuffle whole range", 10, 10},
		{"shuffle prefix", 12, 4},
		{"rejection", 1000, 8},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rng := rand.New(rand.NewSource(42))
			for round := 0; round < 20; round++ {
				idx := sampleIndices(rng, tc.n, tc.k)
				require.Len(t, idx, tc.k)
				seen := map[int]bool{}
				for _, i := range idx {
					assert.GreaterOrEqual(t, i, 0)
					assert.Less(t, i, tc.n)
					assert.False(t, seen[i], "index %d drawn twice", i)
					seen[i] = true
				}
			}
		})
	}
}

func TestSampleIndicesReachesTail(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	hit := map[int]bool{}
	for round := 0; round < 200; round++ {
		for _, i := range sampleIndices(rng, 8, 2) {
			hit[i] = true
		}
	}
	assert.Len(t, hit, 8)
}
