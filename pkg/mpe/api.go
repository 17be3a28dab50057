package mpe

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ehtnamuh/multiagent-particle-envs/internal/engine"
	"github.com/ehtnamuh/multiagent-particle-envs/internal/learner"
	"github.com/ehtnamuh/multiagent-particle-envs/internal/model"
	"github.com/ehtnamuh/multiagent-particle-envs/internal/platform"
	"github.com/ehtnamuh/multiagent-particle-envs/internal/replay"
	"github.com/ehtnamuh/multiagent-particle-envs/internal/scenario"
	"github.com/ehtnamuh/multiagent-particle-envs/internal/stats"
	"github.com/ehtnamuh/multiagent-particle-envs/internal/storage"
)

const (
	defaultRunsDir        = "runs"
	defaultDBPath         = "mpe.db"
	defaultScenario       = scenario.NavigationName
	defaultReplayCapacity = 1_000_000
	defaultBatchSize      = 1024
	defaultRollouts       = 10
	defaultWorkers        = 4

	// Fixed-width so run index entries sort lexically.
	createdAtLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

type Options struct {
	StoreKind string
	DBPath    string
	RunsDir   string
	Logger    *zap.Logger
}

type Client struct {
	store       storage.Store
	initialized bool
	runsDir     string
	logger      *zap.Logger
}

// RunRequest configures one training or evaluation run. Zero values take the
// driver defaults, except RenderDelay where zero means no pause.
type RunRequest struct {
	RunID           string
	Scenario        string
	Params          *scenario.Params
	Learner         string
	LearnerOptions  learner.Options
	Evaluate        bool
	Episodes        int
	MaxSteps        int
	LearnEvery      int
	CheckpointEvery int
	LogEvery        int
	CheckpointDir   string
	RenderDelay     time.Duration
	ReplayCapacity  int
	BatchSize       int
	Seed            int64

	Renderer platform.Renderer
	Sleeper  platform.Sleeper
	// OnEpisode observes finished episodes while the run is in progress.
	OnEpisode func(model.EpisodeRecord)
}

type RunSummary struct {
	RunID            string
	Scenario         string
	ArtifactsDir     string
	Episodes         int
	TotalSteps       int
	BestAverage      float64
	FinalAverage     float64
	CheckpointLoaded bool
	CheckpointsSaved int
	LearnCalls       int
	Elapsed          time.Duration
}

type BenchmarkRequest struct {
	RunID          string
	Scenario       string
	Params         *scenario.Params
	Learner        string
	LearnerOptions learner.Options
	CheckpointDir  string
	Rollouts       int
	Workers        int
	MaxSteps       int
	Seed           int64
}

type BenchmarkSummary struct {
	RunID        string
	Scenario     string
	ArtifactsDir string
	Rollouts     int
	Workers      int
	MeanReturn   float64
	StdReturn    float64
	MinReturn    float64
	MaxReturn    float64
	Returns      []float64
	// Labels and Agents hold the per-agent benchmark values averaged over
	// rollouts, taken at the final step of each rollout.
	Labels [][]string
	Agents [][]float64
}

type RunsRequest struct {
	Limit int
}

type RunItem struct {
	RunID        string
	CreatedAtUTC string
	Scenario     string
	Learner      string
	Evaluate     bool
	Seed         int64
	Episodes     int
	TotalSteps   int
	BestAverage  float64
	FinalAverage float64
}

type ScoresRequest struct {
	RunID  string
	Latest bool
	Limit  int
}

type ScenarioItem struct {
	Name             string
	Agents           int
	ObservationSizes []int
	ActionSizes      []int
}

func New(opts Options) (*Client, error) {
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	runsDir := opts.RunsDir
	if runsDir == "" {
		runsDir = defaultRunsDir
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	store, err := storage.NewStore(opts.StoreKind, dbPath)
	if err != nil {
		return nil, err
	}
	return &Client{store: store, runsDir: runsDir, logger: logger}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	return c.ensureStore(ctx)
}

// Run trains (or, with Evaluate set, plays back) the requested scenario and
// persists the episode history. A cancelled context still persists the
// episodes completed so far and returns the context error with the summary.
func (c *Client) Run(ctx context.Context, req RunRequest) (RunSummary, error) {
	req = withRunDefaults(req)
	if err := c.ensureStore(ctx); err != nil {
		return RunSummary{}, err
	}

	params, err := resolveParams(req.Scenario, req.Params)
	if err != nil {
		return RunSummary{}, err
	}
	env, shape, err := buildEnv(req.Scenario, params, req.Seed, false)
	if err != nil {
		return RunSummary{}, err
	}
	opts := req.LearnerOptions
	opts.Seed = req.Seed
	agents, err := learner.New(req.Learner, shape, opts)
	if err != nil {
		return RunSummary{}, err
	}
	buf, err := replay.NewBuffer(req.ReplayCapacity, req.BatchSize, shape.ObsDims, shape.ActDims)
	if err != nil {
		return RunSummary{}, err
	}

	cfg := platform.DriverConfig{
		Episodes:        req.Episodes,
		MaxSteps:        req.MaxSteps,
		LearnEvery:      req.LearnEvery,
		CheckpointEvery: req.CheckpointEvery,
		LogEvery:        req.LogEvery,
		Evaluate:        req.Evaluate,
		CheckpointDir:   req.CheckpointDir,
		RenderDelay:     req.RenderDelay,
		AverageWindow:   stats.DefaultWindow,
	}
	logger := c.logger.With(zap.String("run_id", req.RunID), zap.String("scenario", shape.Scenario))
	driverOpts := []platform.Option{
		platform.WithLogger(logger),
		platform.WithRenderer(req.Renderer),
		platform.WithSleeper(req.Sleeper),
	}
	if req.OnEpisode != nil {
		driverOpts = append(driverOpts, platform.WithEpisodeHook(req.OnEpisode))
	}
	driver, err := platform.NewDriver(cfg, env, agents, buf, driverOpts...)
	if err != nil {
		return RunSummary{}, err
	}

	started := time.Now()
	logger.Info("run started", zap.String("learner", req.Learner), zap.Bool("evaluate", req.Evaluate), zap.Int("episodes", req.Episodes))
	result, runErr := driver.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) && !errors.Is(runErr, context.DeadlineExceeded) {
		return RunSummary{}, runErr
	}
	elapsed := time.Since(started)

	now := time.Now().UTC()
	// Persistence must survive a cancelled run context.
	persistCtx := context.WithoutCancel(ctx)
	record := model.RunRecord{
		VersionedRecord: storage.CurrentVersion(),
		ID:              req.RunID,
		Scenario:        shape.Scenario,
		Learner:         req.Learner,
		Evaluate:        req.Evaluate,
		Seed:            req.Seed,
		Episodes:        len(result.Episodes),
		TotalSteps:      result.TotalSteps,
		BestAverage:     result.BestAverage,
		FinalAverage:    result.FinalAverage,
		CreatedAtUTC:    now.Format(createdAtLayout),
	}
	if err := c.store.SaveRun(persistCtx, record); err != nil {
		return RunSummary{}, fmt.Errorf("save run %s: %w", req.RunID, err)
	}
	if err := c.store.SaveEpisodes(persistCtx, req.RunID, result.Episodes); err != nil {
		return RunSummary{}, fmt.Errorf("save episodes %s: %w", req.RunID, err)
	}

	runDir, err := stats.WriteRunArtifacts(c.runsDir, stats.RunArtifacts{
		Config: stats.RunConfig{
			RunID:           req.RunID,
			Scenario:        shape.Scenario,
			ScenarioParams:  params,
			Learner:         req.Learner,
			Evaluate:        req.Evaluate,
			Episodes:        req.Episodes,
			MaxSteps:        req.MaxSteps,
			LearnEvery:      req.LearnEvery,
			CheckpointEvery: req.CheckpointEvery,
			LogEvery:        req.LogEvery,
			CheckpointDir:   req.CheckpointDir,
			ReplayCapacity:  req.ReplayCapacity,
			BatchSize:       req.BatchSize,
			RenderDelayMS:   req.RenderDelay.Milliseconds(),
			Seed:            req.Seed,
		},
		Episodes:     result.Episodes,
		TotalSteps:   result.TotalSteps,
		BestAverage:  result.BestAverage,
		FinalAverage: result.FinalAverage,
	})
	if err != nil {
		return RunSummary{}, err
	}
	if err := stats.AppendRunIndex(c.runsDir, stats.RunIndexEntry{
		RunID:        req.RunID,
		Scenario:     shape.Scenario,
		Learner:      req.Learner,
		Evaluate:     req.Evaluate,
		Episodes:     len(result.Episodes),
		Seed:         req.Seed,
		TotalSteps:   result.TotalSteps,
		BestAverage:  result.BestAverage,
		FinalAverage: result.FinalAverage,
		CreatedAtUTC: record.CreatedAtUTC,
	}); err != nil {
		return RunSummary{}, err
	}

	logger.Info("run finished",
		zap.Int("episodes", len(result.Episodes)),
		zap.Int("total_steps", result.TotalSteps),
		zap.Float64("final_average", result.FinalAverage),
		zap.Duration("elapsed", elapsed),
	)
	return RunSummary{
		RunID:            req.RunID,
		Scenario:         shape.Scenario,
		ArtifactsDir:     filepath.Clean(runDir),
		Episodes:         len(result.Episodes),
		TotalSteps:       result.TotalSteps,
		BestAverage:      result.BestAverage,
		FinalAverage:     result.FinalAverage,
		CheckpointLoaded: result.CheckpointLoaded,
		CheckpointsSaved: result.CheckpointsSaved,
		LearnCalls:       result.LearnCalls,
		Elapsed:          elapsed,
	}, runErr
}

// Evaluate plays the learner from its checkpoint without learning or saving.
func (c *Client) Evaluate(ctx context.Context, req RunRequest) (RunSummary, error) {
	req.Evaluate = true
	return c.Run(ctx, req)
}

// Benchmark runs independent single-episode evaluation rollouts in parallel and
// aggregates their returns and final per-agent benchmark values.
func (c *Client) Benchmark(ctx context.Context, req BenchmarkRequest) (BenchmarkSummary, error) {
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}
	if req.Scenario == "" {
		req.Scenario = defaultScenario
	}
	if req.Learner == "" {
		req.Learner = learner.KindRandom
	}
	if req.Rollouts <= 0 {
		req.Rollouts = defaultRollouts
	}
	if req.Workers <= 0 {
		req.Workers = defaultWorkers
	}
	if req.MaxSteps <= 0 {
		req.MaxSteps = platform.DefaultMaxSteps
	}
	if err := c.ensureStore(ctx); err != nil {
		return BenchmarkSummary{}, err
	}
	params, err := resolveParams(req.Scenario, req.Params)
	if err != nil {
		return BenchmarkSummary{}, err
	}

	rollouts := make([]rollout, req.Rollouts)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(req.Workers)
	for i := range rollouts {
		g.Go(func() error {
			out, err := c.runRollout(gctx, req, params, req.Seed+int64(i))
			if err != nil {
				return fmt.Errorf("rollout %d: %w", i, err)
			}
			rollouts[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return BenchmarkSummary{}, err
	}

	returns := make([]float64, len(rollouts))
	for i, r := range rollouts {
		returns[i] = r.ret
	}
	labels, agents := averageBenchmarks(rollouts)
	mean, std, lo, hi := stats.Summary(returns)
	scenarioName := rollouts[0].scenario

	record := model.BenchmarkRecord{
		VersionedRecord: storage.CurrentVersion(),
		RunID:           req.RunID,
		Scenario:        scenarioName,
		Rollouts:        req.Rollouts,
		Returns:         returns,
		Labels:          labels,
		Agents:          agents,
	}
	if err := c.store.SaveBenchmark(ctx, record); err != nil {
		return BenchmarkSummary{}, fmt.Errorf("save benchmark %s: %w", req.RunID, err)
	}
	summary := stats.BenchmarkSummary{
		RunID:      req.RunID,
		Scenario:   scenarioName,
		Rollouts:   req.Rollouts,
		Workers:    req.Workers,
		Seed:       req.Seed,
		MeanReturn: mean,
		StdReturn:  std,
		MinReturn:  lo,
		MaxReturn:  hi,
	}
	runDir := filepath.Join(c.runsDir, req.RunID)
	if err := stats.WriteBenchmarkSummary(runDir, summary, record); err != nil {
		return BenchmarkSummary{}, err
	}
	c.logger.Info("benchmark finished",
		zap.String("run_id", req.RunID),
		zap.String("scenario", scenarioName),
		zap.Int("rollouts", req.Rollouts),
		zap.Float64("mean_return", mean),
	)

	return BenchmarkSummary{
		RunID:        req.RunID,
		Scenario:     scenarioName,
		ArtifactsDir: filepath.Clean(runDir),
		Rollouts:     req.Rollouts,
		Workers:      req.Workers,
		MeanReturn:   mean,
		StdReturn:    std,
		MinReturn:    lo,
		MaxReturn:    hi,
		Returns:      returns,
		Labels:       labels,
		Agents:       agents,
	}, nil
}

// BenchmarkReport returns a stored benchmark, falling back to the artifacts
// directory when the store does not have it.
func (c *Client) BenchmarkReport(ctx context.Context, runID string) (BenchmarkSummary, error) {
	if runID == "" {
		return BenchmarkSummary{}, errors.New("benchmark report requires run id")
	}
	if err := c.ensureStore(ctx); err != nil {
		return BenchmarkSummary{}, err
	}
	summary, ok, err := stats.ReadBenchmarkSummary(c.runsDir, runID)
	if err != nil {
		return BenchmarkSummary{}, err
	}
	if !ok {
		return BenchmarkSummary{}, fmt.Errorf("benchmark not found for run id: %s", runID)
	}
	out := BenchmarkSummary{
		RunID:        summary.RunID,
		Scenario:     summary.Scenario,
		ArtifactsDir: filepath.Clean(filepath.Join(c.runsDir, runID)),
		Rollouts:     summary.Rollouts,
		Workers:      summary.Workers,
		MeanReturn:   summary.MeanReturn,
		StdReturn:    summary.StdReturn,
		MinReturn:    summary.MinReturn,
		MaxReturn:    summary.MaxReturn,
	}
	record, ok, err := c.store.GetBenchmark(ctx, runID)
	if err != nil {
		return BenchmarkSummary{}, err
	}
	if ok {
		out.Returns = record.Returns
		out.Labels = record.Labels
		out.Agents = record.Agents
	}
	return out, nil
}

func (c *Client) Runs(_ context.Context, req RunsRequest) ([]RunItem, error) {
	if req.Limit <= 0 {
		req.Limit = 20
	}
	entries, err := stats.ListRunIndex(c.runsDir)
	if err != nil {
		return nil, err
	}
	if len(entries) > req.Limit {
		entries = entries[:req.Limit]
	}

	out := make([]RunItem, 0, len(entries))
	for _, e := range entries {
		out = append(out, RunItem{
			RunID:        e.RunID,
			CreatedAtUTC: e.CreatedAtUTC,
			Scenario:     e.Scenario,
			Learner:      e.Learner,
			Evaluate:     e.Evaluate,
			Seed:         e.Seed,
			Episodes:     e.Episodes,
			TotalSteps:   e.TotalSteps,
			BestAverage:  e.BestAverage,
			FinalAverage: e.FinalAverage,
		})
	}
	return out, nil
}

// Scores returns the episode history of a run, from the store when it has the
// run and from the run's scores.csv otherwise.
func (c *Client) Scores(ctx context.Context, req ScoresRequest) ([]model.EpisodeRecord, error) {
	if req.RunID != "" && req.Latest {
		return nil, errors.New("use either run id or latest")
	}
	if req.Limit < 0 {
		return nil, errors.New("limit must be >= 0")
	}

	runID := req.RunID
	if req.Latest {
		entries, err := stats.ListRunIndex(c.runsDir)
		if err != nil {
			return nil, err
		}
		if len(entries) == 0 {
			return nil, errors.New("no runs available")
		}
		runID = entries[0].RunID
	}
	if runID == "" {
		return nil, errors.New("scores requires run id or latest")
	}

	if err := c.ensureStore(ctx); err != nil {
		return nil, err
	}
	episodes, ok, err := c.store.GetEpisodes(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		episodes, ok, err = stats.ReadScores(c.runsDir, runID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("scores not found for run id: %s", runID)
		}
	}
	if req.Limit > 0 && len(episodes) > req.Limit {
		episodes = episodes[len(episodes)-req.Limit:]
	}
	out := make([]model.EpisodeRecord, len(episodes))
	copy(out, episodes)
	return out, nil
}

// Scenarios lists the registered scenarios with their default agent shapes.
func Scenarios() ([]ScenarioItem, error) {
	names := scenario.Names()
	out := make([]ScenarioItem, 0, len(names))
	for _, name := range names {
		params, err := scenario.DefaultParams(name)
		if err != nil {
			return nil, err
		}
		env, shape, err := buildEnv(name, params, 0, false)
		if err != nil {
			return nil, err
		}
		out = append(out, ScenarioItem{
			Name:             shape.Scenario,
			Agents:           len(env.World().Agents),
			ObservationSizes: shape.ObsDims,
			ActionSizes:      shape.ActDims,
		})
	}
	return out, nil
}

func (c *Client) ensureStore(ctx context.Context) error {
	if c.initialized {
		return nil
	}
	if err := c.store.Init(ctx); err != nil {
		return err
	}
	c.initialized = true
	return nil
}

type rollout struct {
	scenario string
	ret      float64
	info     []scenario.Benchmark
}

func (c *Client) runRollout(ctx context.Context, req BenchmarkRequest, params scenario.Params, seed int64) (rollout, error) {
	env, shape, err := buildEnv(req.Scenario, params, seed, true)
	if err != nil {
		return rollout{}, err
	}
	opts := req.LearnerOptions
	opts.Seed = seed
	if opts.Exploration == 0 {
		opts.Exploration = -1
	}
	agents, err := learner.New(req.Learner, shape, opts)
	if err != nil {
		return rollout{}, err
	}
	buf, err := replay.NewBuffer(req.MaxSteps, 1, shape.ObsDims, shape.ActDims)
	if err != nil {
		return rollout{}, err
	}

	cfg := platform.DefaultDriverConfig()
	cfg.Episodes = 1
	cfg.MaxSteps = req.MaxSteps
	cfg.Evaluate = true
	cfg.CheckpointDir = req.CheckpointDir
	cfg.RenderDelay = 0

	out := rollout{scenario: shape.Scenario}
	driver, err := platform.NewDriver(cfg, env, agents, buf,
		platform.WithLogger(c.logger.With(zap.String("run_id", req.RunID), zap.Int64("seed", seed))),
		platform.WithSleeper(func(time.Duration) {}),
		platform.WithStepHook(func(_ int, step engine.StepResult) { out.info = step.Info }),
	)
	if err != nil {
		return rollout{}, err
	}
	result, err := driver.Run(ctx)
	if err != nil {
		return rollout{}, err
	}
	if len(result.Episodes) == 1 {
		out.ret = result.Episodes[0].Return
	}
	return out, nil
}

func averageBenchmarks(rollouts []rollout) ([][]string, [][]float64) {
	if len(rollouts) == 0 || len(rollouts[0].info) == 0 {
		return nil, nil
	}
	first := rollouts[0].info
	labels := make([][]string, len(first))
	sums := make([][]float64, len(first))
	for i, b := range first {
		labels[i] = append([]string(nil), b.Labels...)
		sums[i] = make([]float64, len(b.Values))
	}
	for _, r := range rollouts {
		for i, b := range r.info {
			for j, v := range b.Values {
				sums[i][j] += v
			}
		}
	}
	n := float64(len(rollouts))
	for i := range sums {
		for j := range sums[i] {
			sums[i][j] /= n
		}
	}
	return labels, sums
}

func withRunDefaults(req RunRequest) RunRequest {
	defaults := platform.DefaultDriverConfig()
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}
	if req.Scenario == "" {
		req.Scenario = defaultScenario
	}
	if req.Learner == "" {
		req.Learner = learner.KindPerturb
	}
	if req.Episodes <= 0 {
		req.Episodes = defaults.Episodes
	}
	if req.MaxSteps <= 0 {
		req.MaxSteps = defaults.MaxSteps
	}
	if req.LearnEvery <= 0 {
		req.LearnEvery = defaults.LearnEvery
	}
	if req.CheckpointEvery <= 0 {
		req.CheckpointEvery = defaults.CheckpointEvery
	}
	if req.LogEvery <= 0 {
		req.LogEvery = defaults.LogEvery
	}
	if req.CheckpointDir == "" {
		req.CheckpointDir = defaults.CheckpointDir
	}
	if req.ReplayCapacity <= 0 {
		req.ReplayCapacity = defaultReplayCapacity
	}
	if req.BatchSize <= 0 {
		req.BatchSize = defaultBatchSize
	}
	return req
}

func resolveParams(name string, p *scenario.Params) (scenario.Params, error) {
	if p != nil {
		return *p, nil
	}
	return scenario.DefaultParams(name)
}

func buildEnv(name string, params scenario.Params, seed int64, withInfo bool) (*engine.Env, learner.Shape, error) {
	s, err := scenario.New(name, &params)
	if err != nil {
		return nil, learner.Shape{}, err
	}
	eng, err := engine.New(engine.DefaultConfig())
	if err != nil {
		return nil, learner.Shape{}, err
	}
	var opts []engine.Option
	if withInfo {
		opts = append(opts, engine.WithBenchmarkInfo())
	}
	env, err := engine.NewEnv(s, eng, rand.New(rand.NewSource(seed)), opts...)
	if err != nil {
		return nil, learner.Shape{}, err
	}
	return env, learner.Shape{
		Scenario: s.Name(),
		ObsDims:  env.ObservationSizes(),
		ActDims:  env.ActionSizes(),
		MoveDims: engine.MovementActions,
	}, nil
}
