package scenario

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehtnamuh/multiagent-particle-envs/internal/model"
)

func newAdversaryWorld(t *testing.T, p Params, seed int64) (*Adversary, *model.World) {
	t.Helper()
	s := NewAdversary(p)
	w, err := s.MakeWorld(rand.New(rand.NewSource(seed)))
	require.NoError(t, err)
	return s, w
}

// placeGoal pins the goal landmark at the origin and the decoy far away.
func placeGoal(w *model.World) (goal, decoy *model.Landmark) {
	goal, _ = w.GoalLandmark(w.Agents[0])
	goal.Pos = model.Vec2{}
	for _, l := range w.Landmarks {
		if l != goal {
			decoy = l
			decoy.Pos = model.Vec2{X: -0.5, Y: -0.5}
		}
	}
	return goal, decoy
}

func TestAdversaryMakeWorldDefaults(t *testing.T) {
	_, w := newAdversaryWorld(t, DefaultAdversaryParams(), 1)

	require.Len(t, w.Agents, 3)
	require.Len(t, w.Landmarks, 2)
	assert.Empty(t, w.Obstacles)
	assert.True(t, w.Agents[0].Adversary)
	assert.False(t, w.Agents[1].Adversary)
	assert.False(t, w.Agents[2].Adversary)

	goalIndex := w.Agents[0].Goal.Landmark
	for _, a := range w.Agents {
		assert.Equal(t, model.GoalLandmark, a.Goal.Kind)
		assert.Equal(t, goalIndex, a.Goal.Landmark)
		assert.False(t, a.Collide)
		assert.Equal(t, 0.15, a.Size)
		assert.LessOrEqual(t, a.Pos.X, 1.0)
		assert.GreaterOrEqual(t, a.Pos.X, -1.0)
	}

	assert.Equal(t, adversaryColor, w.Agents[0].Color)
	assert.ElementsMatch(t,
		[][3]float64{goodAgentPalette[0], goodAgentPalette[1]},
		[][3]float64{w.Agents[1].Color, w.Agents[2].Color})

	for i, l := range w.Landmarks {
		assert.Equal(t, 0.08, l.Size)
		if i == goalIndex {
			assert.Equal(t, goalLandmarkColor, l.Color)
			continue
		}
		assert.Equal(t, landmarkColor, l.Color)
	}
}

func TestAdversaryResetIsDeterministicPerSeed(t *testing.T) {
	_, a := newAdversaryWorld(t, DefaultAdversaryParams(), 42)
	_, b := newAdversaryWorld(t, DefaultAdversaryParams(), 42)
	assert.Equal(t, snapshotPositions(a), snapshotPositions(b))
	assert.Equal(t, a.Agents[0].Goal, b.Agents[0].Goal)
	assert.Equal(t, a.Agents[1].Color, b.Agents[1].Color)
}

func TestAdversaryRewardSquaredDistance(t *testing.T) {
	s, w := newAdversaryWorld(t, DefaultAdversaryParams(), 1)
	placeGoal(w)
	w.Agents[0].Pos = model.Vec2{X: 0.3, Y: 0.4}
	assert.InDelta(t, -0.25, s.Reward(w, w.Agents[0]), 1e-12)
}

func TestAdversaryRewardPriority(t *testing.T) {
	s, w := newAdversaryWorld(t, DefaultAdversaryParams(), 1)
	_, decoy := placeGoal(w)
	adversary, agent := w.Agents[0], w.Agents[1]
	w.Agents[2].Pos = model.Vec2{X: 0.8, Y: 0.8}

	// Adversary near the goal wins over the agent sitting on it.
	adversary.Pos = model.Vec2{X: 0.1}
	agent.Pos = model.Vec2{X: 0.05}
	assert.InDelta(t, -0.2, s.Reward(w, agent), 1e-12)

	adversary.Pos = model.Vec2{X: 0.9, Y: 0.9}
	assert.InDelta(t, 5.0, s.Reward(w, agent), 1e-12)

	agent.Pos = decoy.Pos.Add(model.Vec2{Y: 0.05})
	assert.InDelta(t, 2.0, s.Reward(w, agent), 1e-12)

	agent.Pos = model.Vec2{X: 0.5, Y: -0.5}
	assert.InDelta(t, 0.0, s.Reward(w, agent), 1e-12)
}

func TestAdversaryRewardUsesPlainDistanceThreshold(t *testing.T) {
	s, w := newAdversaryWorld(t, DefaultAdversaryParams(), 1)
	placeGoal(w)
	w.Agents[0].Pos = model.Vec2{X: 0.9, Y: 0.9}
	w.Agents[2].Pos = model.Vec2{X: 0.8, Y: 0.8}

	// 0.2 away: squared distance 0.04 would pass a 0.1 threshold, plain distance does not.
	w.Agents[1].Pos = model.Vec2{X: 0.2}
	assert.InDelta(t, 0.0, s.Reward(w, w.Agents[1]), 1e-12)
}

func TestAdversaryWithoutDecoySkipsDecoyBranch(t *testing.T) {
	p := DefaultAdversaryParams()
	p.Landmarks = 1
	s, w := newAdversaryWorld(t, p, 1)
	placeGoal(w)
	w.Agents[0].Pos = model.Vec2{X: 0.9, Y: 0.9}
	w.Agents[1].Pos = model.Vec2{X: -0.5, Y: -0.5}
	assert.InDelta(t, 0.0, s.Reward(w, w.Agents[1]), 1e-12)
}

func TestAdversaryObservationLayouts(t *testing.T) {
	s, w := newAdversaryWorld(t, DefaultAdversaryParams(), 7)
	assert.Equal(t, []int{16, 16, 16}, ObservationSizes(s, w))

	p := DefaultAdversaryParams()
	p.ObservationLayout = ObservationPartial
	partial, pw := newAdversaryWorld(t, p, 7)
	assert.Equal(t, []int{8, 10, 10}, ObservationSizes(partial, pw))

	goal, _ := pw.GoalLandmark(pw.Agents[1])
	obs := partial.Observation(pw, pw.Agents[1])
	rel := goal.Pos.Sub(pw.Agents[1].Pos)
	assert.InDelta(t, rel.X, obs[0], 1e-12)
	assert.InDelta(t, rel.Y, obs[1], 1e-12)
}

func TestAdversaryObservationLengthStableAcrossResets(t *testing.T) {
	p := DefaultAdversaryParams()
	p.ObservationLayout = ObservationPartial
	s, w := newAdversaryWorld(t, p, 11)
	want := ObservationSizes(s, w)
	rng := rand.New(rand.NewSource(12))
	for i := 0; i < 20; i++ {
		require.NoError(t, s.ResetWorld(w, rng))
		assert.Equal(t, want, ObservationSizes(s, w))
	}
}

func TestAdversaryBenchmarkData(t *testing.T) {
	s, w := newAdversaryWorld(t, DefaultAdversaryParams(), 1)
	goal, _ := placeGoal(w)
	w.Agents[0].Pos = model.Vec2{X: 0.3, Y: 0.4}
	adv := s.BenchmarkData(w, w.Agents[0])
	assert.Equal(t, []string{"goal_dist_sq"}, adv.Labels)
	assert.InDelta(t, 0.25, adv.Values[0], 1e-12)

	w.Agents[1].Pos = model.Vec2{X: 0.1}
	good := s.BenchmarkData(w, w.Agents[1])
	require.Len(t, good.Values, len(w.Landmarks)+1)
	for i, l := range w.Landmarks {
		assert.InDelta(t, model.SquaredDistance(w.Agents[1].Pos, l.Pos), good.Values[i], 1e-12)
	}
	last, ok := good.Value("goal_dist_sq")
	require.True(t, ok)
	assert.InDelta(t, model.SquaredDistance(w.Agents[1].Pos, goal.Pos), last, 1e-12)
}

func TestAdversaryConfigErrors(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(p *Params)
		field  string
	}{
		{name: "no landmarks", mutate: func(p *Params) { p.Landmarks = 0 }, field: "landmarks"},
		{name: "no adversary", mutate: func(p *Params) { p.Adversaries = 0 }, field: "adversaries"},
		{name: "too many adversaries", mutate: func(p *Params) { p.Adversaries = 4 }, field: "adversaries"},
		{name: "bad layout kind", mutate: func(p *Params) { p.AgentLayout = Layout{Kind: "spiral"} }, field: "agent_layout"},
		{name: "bad observation layout", mutate: func(p *Params) { p.ObservationLayout = "full" }, field: "observation_layout"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := DefaultAdversaryParams()
			tc.mutate(&p)
			_, err := NewAdversary(p).MakeWorld(rand.New(rand.NewSource(1)))
			var cfgErr *ConfigError
			require.True(t, errors.As(err, &cfgErr), "err=%v", err)
			assert.Equal(t, tc.field, cfgErr.Field)
			assert.ErrorIs(t, err, ErrConfiguration)
		})
	}
}
