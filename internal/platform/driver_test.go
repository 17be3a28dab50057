package platform

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ehtnamuh/multiagent-particle-envs/internal/engine"
	"github.com/ehtnamuh/multiagent-particle-envs/internal/learner"
	"github.com/ehtnamuh/multiagent-particle-envs/internal/model"
	"github.com/ehtnamuh/multiagent-particle-envs/internal/replay"
	"github.com/ehtnamuh/multiagent-particle-envs/internal/scenario"
)

type countingLearner struct {
	actSizes  []int
	learns    int
	saves     int
	loads     int
	loadErr   error
	saveErr   error
	afterStep func()
}

func (l *countingLearner) ChooseAction(obs [][]float64) ([][]float64, error) {
	actions := make([][]float64, len(l.actSizes))
	for i, n := range l.actSizes {
		actions[i] = make([]float64, n)
		actions[i][0] = 1
	}
	if l.afterStep != nil {
		l.afterStep()
	}
	return actions, nil
}

func (l *countingLearner) Learn(context.Context, *replay.Buffer) error {
	l.learns++
	return nil
}

func (l *countingLearner) LoadCheckpoint(string) error {
	l.loads++
	return l.loadErr
}

func (l *countingLearner) SaveCheckpoint(string) error {
	l.saves++
	return l.saveErr
}

func newTestEnv(t *testing.T, name string) *engine.Env {
	t.Helper()
	s, err := scenario.New(name, nil)
	require.NoError(t, err)
	eng, err := engine.New(engine.DefaultConfig())
	require.NoError(t, err)
	env, err := engine.NewEnv(s, eng, rand.New(rand.NewSource(7)))
	require.NoError(t, err)
	return env
}

func newTestBuffer(t *testing.T, env *engine.Env) *replay.Buffer {
	t.Helper()
	buf, err := replay.NewBuffer(1000, 16, env.ObservationSizes(), env.ActionSizes())
	require.NoError(t, err)
	return buf
}

func testDriverConfig(episodes int) DriverConfig {
	cfg := DefaultDriverConfig()
	cfg.Episodes = episodes
	cfg.CheckpointDir = ""
	cfg.RenderDelay = 0
	return cfg
}

func TestDriverForcesDoneAtMaxSteps(t *testing.T) {
	env := newTestEnv(t, "navigation")
	buf := newTestBuffer(t, env)
	l := &countingLearner{actSizes: env.ActionSizes()}

	d, err := NewDriver(testDriverConfig(2), env, l, buf)
	require.NoError(t, err)
	result, err := d.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, result.Episodes, 2)
	for _, ep := range result.Episodes {
		assert.Equal(t, DefaultMaxSteps, ep.Steps)
	}
	assert.Equal(t, 2*DefaultMaxSteps, result.TotalSteps)
	assert.Equal(t, 2*DefaultMaxSteps, buf.Len())

	batch, err := buf.Sample(rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	doneCount := 0
	for _, tr := range batch.Transitions {
		assert.Len(t, tr.State, 72)
		if tr.Done[0] {
			assert.Equal(t, []bool{true, true}, tr.Done)
			doneCount++
		}
	}
	assert.LessOrEqual(t, doneCount, 2)
}

func TestDriverLearnCadence(t *testing.T) {
	env := newTestEnv(t, "navigation")
	l := &countingLearner{actSizes: env.ActionSizes()}
	d, err := NewDriver(testDriverConfig(3), env, l, newTestBuffer(t, env))
	require.NoError(t, err)

	result, err := d.Run(context.Background())
	require.NoError(t, err)
	// 150 steps: learning fires at total steps 0 and 100.
	assert.Equal(t, 2, l.learns)
	assert.Equal(t, 2, result.LearnCalls)
}

func TestDriverCheckpointCadence(t *testing.T) {
	env := newTestEnv(t, "adversary")
	l := &countingLearner{actSizes: env.ActionSizes()}
	cfg := testDriverConfig(5)
	cfg.CheckpointEvery = 2
	cfg.CheckpointDir = t.TempDir()
	d, err := NewDriver(cfg, env, l, newTestBuffer(t, env))
	require.NoError(t, err)

	result, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, l.saves)
	assert.Equal(t, 2, result.CheckpointsSaved)
	assert.Equal(t, 1, l.loads)
	assert.True(t, result.CheckpointLoaded)
}

func TestDriverCheckpointSaveFailureStopsRun(t *testing.T) {
	env := newTestEnv(t, "adversary")
	l := &countingLearner{actSizes: env.ActionSizes(), saveErr: errors.New("disk full")}
	cfg := testDriverConfig(5)
	cfg.CheckpointEvery = 1
	cfg.CheckpointDir = t.TempDir()
	d, err := NewDriver(cfg, env, l, newTestBuffer(t, env))
	require.NoError(t, err)

	result, err := d.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Len(t, result.Episodes, 2)
}

func TestDriverMissingCheckpointIsWarning(t *testing.T) {
	env := newTestEnv(t, "navigation")
	l := &countingLearner{actSizes: env.ActionSizes(), loadErr: learner.ErrCheckpoint}
	core, logs := observer.New(zapcore.DebugLevel)
	cfg := testDriverConfig(1)
	cfg.CheckpointDir = t.TempDir()

	d, err := NewDriver(cfg, env, l, newTestBuffer(t, env), WithLogger(zap.New(core)))
	require.NoError(t, err)
	result, err := d.Run(context.Background())
	require.NoError(t, err)

	assert.False(t, result.CheckpointLoaded)
	assert.Len(t, result.Episodes, 1)
	warnings := logs.FilterLevelExact(zapcore.WarnLevel).All()
	require.Len(t, warnings, 1)
	assert.Equal(t, "checkpoint not loaded, starting fresh", warnings[0].Message)
	assert.Equal(t, 1, logs.FilterMessage("episode").Len())
}

func TestDriverEvaluateRendersAndSkipsLearning(t *testing.T) {
	env := newTestEnv(t, "navigation")
	l := &countingLearner{actSizes: env.ActionSizes()}
	cfg := testDriverConfig(2)
	cfg.Evaluate = true
	cfg.CheckpointEvery = 1
	cfg.CheckpointDir = t.TempDir()
	cfg.RenderDelay = 100 * time.Millisecond

	renders := 0
	var slept time.Duration
	d, err := NewDriver(cfg, env, l, newTestBuffer(t, env),
		WithRenderer(RendererFunc(func(w *model.World) error {
			require.Len(t, w.Agents, 2)
			renders++
			return nil
		})),
		WithSleeper(func(d time.Duration) { slept += d }),
	)
	require.NoError(t, err)

	result, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, l.learns)
	assert.Equal(t, 0, l.saves)
	assert.Equal(t, 1, l.loads)
	assert.Equal(t, 2*DefaultMaxSteps, renders)
	assert.Equal(t, time.Duration(2*DefaultMaxSteps)*100*time.Millisecond, slept)
	assert.Zero(t, result.BestAverage)
}

func TestDriverRenderErrorAborts(t *testing.T) {
	env := newTestEnv(t, "navigation")
	l := &countingLearner{actSizes: env.ActionSizes()}
	cfg := testDriverConfig(1)
	cfg.Evaluate = true
	d, err := NewDriver(cfg, env, l, newTestBuffer(t, env),
		WithRenderer(RendererFunc(func(*model.World) error { return errors.New("no display") })),
		WithSleeper(func(time.Duration) {}),
	)
	require.NoError(t, err)
	_, err = d.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "render")
}

func TestDriverCancellationAtEpisodeBoundary(t *testing.T) {
	env := newTestEnv(t, "navigation")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l := &countingLearner{actSizes: env.ActionSizes()}
	steps := 0
	l.afterStep = func() {
		steps++
		if steps == 10 {
			cancel()
		}
	}

	d, err := NewDriver(testDriverConfig(10), env, l, newTestBuffer(t, env))
	require.NoError(t, err)
	result, err := d.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, result.Episodes, 1)
	assert.Equal(t, DefaultMaxSteps, result.Episodes[0].Steps)
	assert.Equal(t, DefaultMaxSteps, result.TotalSteps)
}

func TestDriverTracksAverages(t *testing.T) {
	env := newTestEnv(t, "navigation")
	l := &countingLearner{actSizes: env.ActionSizes()}
	var hooked []model.EpisodeRecord
	d, err := NewDriver(testDriverConfig(3), env, l, newTestBuffer(t, env),
		WithEpisodeHook(func(r model.EpisodeRecord) { hooked = append(hooked, r) }))
	require.NoError(t, err)

	result, err := d.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, result.Episodes, hooked)

	sum := 0.0
	best := result.Episodes[0].MovingAverage
	for i, ep := range result.Episodes {
		assert.Equal(t, i, ep.Index)
		sum += ep.Return
		assert.InDelta(t, sum/float64(i+1), ep.MovingAverage, 1e-9)
		best = max(best, ep.MovingAverage)
	}
	assert.InDelta(t, sum/3, result.FinalAverage, 1e-9)
	assert.InDelta(t, best, result.BestAverage, 1e-9)
}

func TestDriverConfigValidation(t *testing.T) {
	env := newTestEnv(t, "navigation")
	buf := newTestBuffer(t, env)
	l := &countingLearner{actSizes: env.ActionSizes()}

	cases := []func(*DriverConfig){
		func(c *DriverConfig) { c.MaxSteps = 0 },
		func(c *DriverConfig) { c.LearnEvery = 0 },
		func(c *DriverConfig) { c.CheckpointEvery = -1 },
		func(c *DriverConfig) { c.LogEvery = 0 },
		func(c *DriverConfig) { c.Episodes = -1 },
	}
	for _, mutate := range cases {
		cfg := testDriverConfig(1)
		mutate(&cfg)
		_, err := NewDriver(cfg, env, l, buf)
		assert.Error(t, err)
	}
	_, err := NewDriver(testDriverConfig(1), nil, l, buf)
	assert.Error(t, err)
	_, err = NewDriver(testDriverConfig(1), env, nil, buf)
	assert.Error(t, err)
}

func TestDriverStepHookSeesBenchmarkInfo(t *testing.T) {
	s, err := scenario.New("adversary", nil)
	require.NoError(t, err)
	eng, err := engine.New(engine.DefaultConfig())
	require.NoError(t, err)
	env, err := engine.NewEnv(s, eng, rand.New(rand.NewSource(3)), engine.WithBenchmarkInfo())
	require.NoError(t, err)

	l := &countingLearner{actSizes: env.ActionSizes()}
	var last engine.StepResult
	calls := 0
	d, err := NewDriver(testDriverConfig(1), env, l, newTestBuffer(t, env),
		WithStepHook(func(step int, out engine.StepResult) {
			calls++
			assert.Equal(t, calls, step)
			last = out
		}))
	require.NoError(t, err)
	_, err = d.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, DefaultMaxSteps, calls)
	require.Len(t, last.Info, 3)
	assert.Equal(t, []string{"goal_dist_sq"}, last.Info[0].Labels)
}

func TestDriverFinishesEpisodeWhenCancelledMidEpisode(t *testing.T) {
	env := newTestEnv(t, "navigation")
	buf := newTestBuffer(t, env)
	shape := learner.Shape{
		Scenario: "navigation",
		ObsDims:  env.ObservationSizes(),
		ActDims:  env.ActionSizes(),
		MoveDims: engine.MovementActions,
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := testDriverConfig(3)
	cfg.LearnEvery = 10
	d, err := NewDriver(cfg, env, learner.NewRandom(shape, 1), buf,
		WithStepHook(func(step int, _ engine.StepResult) {
			if step == 5 {
				cancel()
			}
		}))
	require.NoError(t, err)

	result, err := d.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, result.Episodes, 1)
	assert.Equal(t, DefaultMaxSteps, result.Episodes[0].Steps)
	assert.Equal(t, DefaultMaxSteps, result.TotalSteps)
	assert.Equal(t, DefaultMaxSteps, buf.Len())
	assert.Equal(t, 5, result.LearnCalls)
}
