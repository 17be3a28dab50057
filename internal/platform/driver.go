package platform

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/ehtnamuh/multiagent-particle-envs/internal/engine"
	"github.com/ehtnamuh/multiagent-particle-envs/internal/learner"
	"github.com/ehtnamuh/multiagent-particle-envs/internal/model"
	"github.com/ehtnamuh/multiagent-particle-envs/internal/replay"
	"github.com/ehtnamuh/multiagent-particle-envs/internal/stats"
)

const (
	DefaultEpisodes        = 50000
	DefaultMaxSteps        = 50
	DefaultLearnEvery      = 100
	DefaultCheckpointEvery = 1000
	DefaultLogEvery        = 500
	DefaultCheckpointDir   = "tmp/maddpg"
	DefaultRenderDelay     = 100 * time.Millisecond
)

// Renderer is called with the live world before every evaluation step.
type Renderer interface {
	Render(w *model.World) error
}

type RendererFunc func(w *model.World) error

func (f RendererFunc) Render(w *model.World) error {
	return f(w)
}

// Sleeper paces evaluation steps.
type Sleeper func(d time.Duration)

type DriverConfig struct {
	Episodes        int
	MaxSteps        int
	LearnEvery      int
	CheckpointEvery int
	LogEvery        int
	Evaluate        bool
	CheckpointDir   string
	RenderDelay     time.Duration
	AverageWindow   int
}

func DefaultDriverConfig() DriverConfig {
	return DriverConfig{
		Episodes:        DefaultEpisodes,
		MaxSteps:        DefaultMaxSteps,
		LearnEvery:      DefaultLearnEvery,
		CheckpointEvery: DefaultCheckpointEvery,
		LogEvery:        DefaultLogEvery,
		CheckpointDir:   DefaultCheckpointDir,
		RenderDelay:     DefaultRenderDelay,
		AverageWindow:   stats.DefaultWindow,
	}
}

func (c DriverConfig) Validate() error {
	if c.Episodes < 0 {
		return fmt.Errorf("episodes must be >= 0, got %d", c.Episodes)
	}
	if c.MaxSteps <= 0 {
		return fmt.Errorf("max steps must be > 0, got %d", c.MaxSteps)
	}
	if c.LearnEvery <= 0 {
		return fmt.Errorf("learn every must be > 0, got %d", c.LearnEvery)
	}
	if c.CheckpointEvery <= 0 {
		return fmt.Errorf("checkpoint every must be > 0, got %d", c.CheckpointEvery)
	}
	if c.LogEvery <= 0 {
		return fmt.Errorf("log every must be > 0, got %d", c.LogEvery)
	}
	if c.RenderDelay < 0 {
		return fmt.Errorf("render delay must be >= 0, got %s", c.RenderDelay)
	}
	return nil
}

type Result struct {
	Episodes         []model.EpisodeRecord
	TotalSteps       int
	BestAverage      float64
	FinalAverage     float64
	CheckpointLoaded bool
	CheckpointsSaved int
	LearnCalls       int
}

// Driver runs episodes of one environment against one learner.
type Driver struct {
	cfg       DriverConfig
	env       *engine.Env
	learner   learner.Learner
	replay    *replay.Buffer
	logger    *zap.Logger
	renderer  Renderer
	sleep     Sleeper
	onEpisode func(model.EpisodeRecord)
	onStep    func(step int, out engine.StepResult)
}

type Option func(*Driver)

func WithLogger(logger *zap.Logger) Option {
	return func(d *Driver) {
		if logger != nil {
			d.logger = logger
		}
	}
}

func WithRenderer(r Renderer) Option {
	return func(d *Driver) { d.renderer = r }
}

func WithSleeper(s Sleeper) Option {
	return func(d *Driver) {
		if s != nil {
			d.sleep = s
		}
	}
}

// WithEpisodeHook observes every finished episode.
func WithEpisodeHook(fn func(model.EpisodeRecord)) Option {
	return func(d *Driver) { d.onEpisode = fn }
}

// WithStepHook observes every environment step, including benchmark info
// when the environment was built with it.
func WithStepHook(fn func(step int, out engine.StepResult)) Option {
	return func(d *Driver) { d.onStep = fn }
}

func NewDriver(cfg DriverConfig, env *engine.Env, l learner.Learner, buf *replay.Buffer, opts ...Option) (*Driver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if env == nil {
		return nil, errors.New("environment is required")
	}
	if l == nil {
		return nil, errors.New("learner is required")
	}
	if buf == nil {
		return nil, errors.New("replay buffer is required")
	}
	d := &Driver{
		cfg:     cfg,
		env:     env,
		learner: l,
		replay:  buf,
		logger:  zap.NewNop(),
		sleep:   time.Sleep,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Run loads a checkpoint if one is available, then plays the configured
// episodes. Cancellation is observed only between episodes; the partial
// result is returned with the context error.
func (d *Driver) Run(ctx context.Context) (Result, error) {
	result := Result{Episodes: make([]model.EpisodeRecord, 0, min(d.cfg.Episodes, 4096))}
	result.CheckpointLoaded = d.loadCheckpoint()

	average := stats.NewMovingAverage(d.cfg.AverageWindow)
	best := math.Inf(-1)

	for i := 0; i < d.cfg.Episodes; i++ {
		if err := ctx.Err(); err != nil {
			d.logger.Info("run interrupted", zap.Int("episode", i), zap.Error(err))
			return d.finish(result, best, average), err
		}

		// A started episode always runs to completion.
		score, steps, err := d.runEpisode(context.WithoutCancel(ctx), &result)
		if err != nil {
			return d.finish(result, best, average), fmt.Errorf("episode %d: %w", i, err)
		}
		avg := average.Add(score)
		record := model.EpisodeRecord{Index: i, Return: score, MovingAverage: avg, Steps: steps}
		result.Episodes = append(result.Episodes, record)
		if d.onEpisode != nil {
			d.onEpisode(record)
		}

		if !d.cfg.Evaluate {
			if avg > best {
				best = avg
			}
			if i%d.cfg.CheckpointEvery == 0 && i > 0 {
				if err := d.learner.SaveCheckpoint(d.cfg.CheckpointDir); err != nil {
					return d.finish(result, best, average), fmt.Errorf("save checkpoint at episode %d: %w", i, err)
				}
				result.CheckpointsSaved++
				d.logger.Info("checkpoint saved", zap.Int("episode", i), zap.String("dir", d.cfg.CheckpointDir))
			}
		}
		if i%d.cfg.LogEvery == 0 {
			d.logger.Info("episode", zap.Int("episode", i), zap.Float64("average_score", avg))
		}
	}
	return d.finish(result, best, average), nil
}

func (d *Driver) finish(result Result, best float64, average *stats.MovingAverage) Result {
	result.FinalAverage = average.Value()
	if !math.IsInf(best, -1) {
		result.BestAverage = best
	}
	return result
}

func (d *Driver) loadCheckpoint() bool {
	if d.cfg.CheckpointDir == "" {
		return false
	}
	if err := d.learner.LoadCheckpoint(d.cfg.CheckpointDir); err != nil {
		d.logger.Warn("checkpoint not loaded, starting fresh", zap.String("dir", d.cfg.CheckpointDir), zap.Error(err))
		return false
	}
	d.logger.Info("checkpoint loaded", zap.String("dir", d.cfg.CheckpointDir))
	return true
}

// runEpisode plays until any agent is done. Every agent is forced done on the
// MaxSteps-th step.
func (d *Driver) runEpisode(ctx context.Context, result *Result) (float64, int, error) {
	obs, err := d.env.Reset()
	if err != nil {
		return 0, 0, err
	}
	score := 0.0
	step := 0
	for {
		if d.cfg.Evaluate {
			if d.renderer != nil {
				if err := d.renderer.Render(d.env.World()); err != nil {
					return score, step, fmt.Errorf("render: %w", err)
				}
			}
			d.sleep(d.cfg.RenderDelay)
		}

		actions, err := d.learner.ChooseAction(obs)
		if err != nil {
			return score, step, fmt.Errorf("choose action: %w", err)
		}
		out, err := d.env.Step(actions)
		if err != nil {
			return score, step, fmt.Errorf("step: %w", err)
		}
		step++
		if d.onStep != nil {
			d.onStep(step, out)
		}
		done := out.Done
		if step >= d.cfg.MaxSteps {
			done = allDone(len(done))
		}

		transition := model.Transition{
			Obs:       obs,
			State:     model.GlobalState(obs),
			Actions:   actions,
			Rewards:   out.Rewards,
			NextObs:   out.Obs,
			NextState: model.GlobalState(out.Obs),
			Done:      done,
		}
		if err := d.replay.StoreTransition(transition); err != nil {
			return score, step, fmt.Errorf("store transition: %w", err)
		}

		if result.TotalSteps%d.cfg.LearnEvery == 0 && !d.cfg.Evaluate {
			if err := d.learner.Learn(ctx, d.replay); err != nil {
				return score, step, fmt.Errorf("learn: %w", err)
			}
			result.LearnCalls++
		}

		obs = out.Obs
		for _, r := range out.Rewards {
			score += r
		}
		result.TotalSteps++
		if anyDone(done) {
			return score, step, nil
		}
	}
}

func allDone(n int) []bool {
	done := make([]bool, n)
	for i := range done {
		done[i] = true
	}
	return done
}

func anyDone(done []bool) bool {
	for _, d := range done {
		if d {
			return true
		}
	}
	return false
}
