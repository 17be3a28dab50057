package engine

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehtnamuh/multiagent-particle-envs/internal/model"
	"github.com/ehtnamuh/multiagent-particle-envs/internal/scenario"
)

func newEnv(t *testing.T, name string, opts ...Option) *Env {
	t.Helper()
	s, err := scenario.New(name, nil)
	require.NoError(t, err)
	env, err := NewEnv(s, mustEngine(t), rand.New(rand.NewSource(1)), opts...)
	require.NoError(t, err)
	return env
}

func noopActions(env *Env) [][]float64 {
	sizes := env.ActionSizes()
	actions := make([][]float64, len(sizes))
	for i, n := range sizes {
		actions[i] = make([]float64, n)
		actions[i][0] = 1
	}
	return actions
}

func TestEnvResetAndStep(t *testing.T) {
	env := newEnv(t, "navigation")
	obs, err := env.Reset()
	require.NoError(t, err)
	require.Len(t, obs, 2)
	assert.Equal(t, []int{36, 36}, env.ObservationSizes())
	assert.Equal(t, []int{5, 5}, env.ActionSizes())

	result, err := env.Step(noopActions(env))
	require.NoError(t, err)
	assert.Len(t, result.Obs, 2)
	assert.Len(t, result.Rewards, 2)
	assert.Equal(t, []bool{false, false}, result.Done)
	assert.Nil(t, result.Info)
}

func TestEnvStepMovesAgentsOnly(t *testing.T) {
	env := newEnv(t, "navigation")
	_, err := env.Reset()
	require.NoError(t, err)
	landmark := env.World().Landmarks[0].Pos

	actions := noopActions(env)
	actions[0] = []float64{0, 1, 0, 0, 0}
	_, err = env.Step(actions)
	require.NoError(t, err)

	assert.Greater(t, env.World().Agents[0].Pos.X, -0.9)
	assert.Equal(t, landmark, env.World().Landmarks[0].Pos)
	assert.Equal(t, model.Vec2{X: -0.8, Y: -0.8}, env.World().Obstacles[0].Pos)
}

func TestEnvBenchmarkInfo(t *testing.T) {
	env := newEnv(t, "adversary", WithBenchmarkInfo())
	_, err := env.Reset()
	require.NoError(t, err)
	result, err := env.Step(noopActions(env))
	require.NoError(t, err)
	require.Len(t, result.Info, 3)
	assert.Equal(t, []string{"goal_dist_sq"}, result.Info[0].Labels)
}

func TestEnvRejectsBadActions(t *testing.T) {
	env := newEnv(t, "adversary")
	_, err := env.Step([][]float64{{1}})
	assert.ErrorIs(t, err, ErrActionShape)
}

func TestNewEnvPropagatesConfigError(t *testing.T) {
	p := scenario.DefaultAdversaryParams()
	p.Landmarks = 0
	_, err := NewEnv(scenario.NewAdversary(p), mustEngine(t), rand.New(rand.NewSource(1)))
	assert.ErrorIs(t, err, scenario.ErrConfiguration)
}

type stopAtOrigin struct {
	scenario.Scenario
}

func (stopAtOrigin) Done(_ *model.World, a *model.Agent) bool {
	return a.Pos.X > -0.9
}

func TestEnvHonorsTerminator(t *testing.T) {
	env, err := NewEnv(stopAtOrigin{Scenario: scenario.NewNavigation(scenario.DefaultNavigationParams())}, mustEngine(t), rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	_, err = env.Reset()
	require.NoError(t, err)
	actions := noopActions(env)
	actions[1] = []float64{0, 1, 0, 0, 0}
	result, err := env.Step(actions)
	require.NoError(t, err)
	assert.Equal(t, []bool{false, true}, result.Done)
}
