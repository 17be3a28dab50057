package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ehtnamuh/multiagent-particle-envs/internal/learner"
	"github.com/ehtnamuh/multiagent-particle-envs/internal/logging"
	"github.com/ehtnamuh/multiagent-particle-envs/internal/platform"
	"github.com/ehtnamuh/multiagent-particle-envs/internal/scenario"
	"github.com/ehtnamuh/multiagent-particle-envs/pkg/mpe"
)

const envPrefix = "MPE_"

type storeConfig struct {
	Kind   string `yaml:"kind" json:"kind,omitempty" jsonschema:"enum=memory,enum=sqlite"`
	DBPath string `yaml:"db_path" json:"db_path,omitempty"`
}

type benchmarkConfig struct {
	Rollouts int `yaml:"rollouts" json:"rollouts,omitempty" jsonschema:"minimum=1"`
	Workers  int `yaml:"workers" json:"workers,omitempty" jsonschema:"minimum=1"`
}

// runConfig is the on-disk run configuration. Scenario params decode over the
// scenario's defaults, so a file only names the fields it changes.
type runConfig struct {
	RunID           string           `yaml:"run_id" json:"run_id,omitempty"`
	Scenario        string           `yaml:"scenario" json:"scenario,omitempty" jsonschema:"description=Scenario name or alias"`
	Params          *scenario.Params `yaml:"-" json:"params,omitempty"`
	Learner         string           `yaml:"learner" json:"learner,omitempty" jsonschema:"enum=random,enum=perturb"`
	LearnerOptions  learner.Options  `yaml:"learner_options" json:"learner_options,omitempty"`
	Evaluate        bool             `yaml:"evaluate" json:"evaluate,omitempty"`
	Episodes        int              `yaml:"episodes" json:"episodes,omitempty" jsonschema:"minimum=1"`
	MaxSteps        int              `yaml:"max_steps" json:"max_steps,omitempty" jsonschema:"minimum=1"`
	LearnEvery      int              `yaml:"learn_every" json:"learn_every,omitempty" jsonschema:"minimum=1"`
	CheckpointEvery int              `yaml:"checkpoint_every" json:"checkpoint_every,omitempty" jsonschema:"minimum=1"`
	LogEvery        int              `yaml:"log_every" json:"log_every,omitempty" jsonschema:"minimum=1"`
	CheckpointDir   string           `yaml:"checkpoint_dir" json:"checkpoint_dir,omitempty"`
	RenderDelayMS   int64            `yaml:"render_delay_ms" json:"render_delay_ms,omitempty" jsonschema:"minimum=0"`
	ReplayCapacity  int              `yaml:"replay_capacity" json:"replay_capacity,omitempty" jsonschema:"minimum=1"`
	BatchSize       int              `yaml:"batch_size" json:"batch_size,omitempty" jsonschema:"minimum=1"`
	Seed            int64            `yaml:"seed" json:"seed,omitempty"`
	RunsDir         string           `yaml:"runs_dir" json:"runs_dir,omitempty"`
	Store           storeConfig      `yaml:"store" json:"store,omitempty"`
	Log             logging.Config   `yaml:"log" json:"log,omitempty"`
	Benchmark       benchmarkConfig  `yaml:"benchmark" json:"benchmark,omitempty"`

	params *yaml.Node
}

type configFile struct {
	runConfig `yaml:",inline"`
	Params    yaml.Node `yaml:"params"`
}

func defaultRunConfig() runConfig {
	driver := platform.DefaultDriverConfig()
	return runConfig{
		Scenario:        scenario.NavigationName,
		Learner:         learner.KindPerturb,
		Episodes:        driver.Episodes,
		MaxSteps:        driver.MaxSteps,
		LearnEvery:      driver.LearnEvery,
		CheckpointEvery: driver.CheckpointEvery,
		LogEvery:        driver.LogEvery,
		CheckpointDir:   driver.CheckpointDir,
		RenderDelayMS:   driver.RenderDelay.Milliseconds(),
		ReplayCapacity:  1_000_000,
		BatchSize:       1024,
		RunsDir:         "runs",
		Store:           storeConfig{Kind: "sqlite", DBPath: "mpe.db"},
		Log:             logging.DefaultConfig(),
		Benchmark:       benchmarkConfig{Rollouts: 10, Workers: 4},
	}
}

// loadRunConfig reads a YAML file over the defaults. An empty path yields the
// defaults.
func loadRunConfig(path string) (runConfig, error) {
	cfg := defaultRunConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return runConfig{}, err
	}
	file := configFile{runConfig: cfg}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return runConfig{}, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg = file.runConfig
	if !file.Params.IsZero() {
		node := file.Params
		cfg.params = &node
	}
	return cfg, nil
}

// envLookup prefers the process environment and falls back to the dotenv file.
// A missing dotenv file is not an error.
func envLookup(dotenvPath string) (func(string) (string, bool), error) {
	fileVars := map[string]string{}
	if dotenvPath != "" {
		vars, err := godotenv.Read(dotenvPath)
		switch {
		case err == nil:
			fileVars = vars
		case errors.Is(err, fs.ErrNotExist):
		default:
			return nil, fmt.Errorf("read %s: %w", dotenvPath, err)
		}
	}
	return func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := fileVars[key]
		return v, ok
	}, nil
}

func applyEnv(cfg *runConfig, lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"RUN_ID":         &cfg.RunID,
		"SCENARIO":       &cfg.Scenario,
		"LEARNER":        &cfg.Learner,
		"CHECKPOINT_DIR": &cfg.CheckpointDir,
		"RUNS_DIR":       &cfg.RunsDir,
		"STORE":          &cfg.Store.Kind,
		"DB_PATH":        &cfg.Store.DBPath,
		"LOG_ENCODING":   &cfg.Log.Encoding,
	}
	for key, dst := range strs {
		if v, ok := lookup(envPrefix + key); ok {
			*dst = v
		}
	}
	if v, ok := lookup(envPrefix + "LOG_LEVEL"); ok {
		cfg.Log.Level = logging.Level(v)
	}

	ints := map[string]*int{
		"EPISODES":         &cfg.Episodes,
		"MAX_STEPS":        &cfg.MaxSteps,
		"LEARN_EVERY":      &cfg.LearnEvery,
		"CHECKPOINT_EVERY": &cfg.CheckpointEvery,
		"LOG_EVERY":        &cfg.LogEvery,
		"REPLAY_CAPACITY":  &cfg.ReplayCapacity,
		"BATCH_SIZE":       &cfg.BatchSize,
		"ROLLOUTS":         &cfg.Benchmark.Rollouts,
		"WORKERS":          &cfg.Benchmark.Workers,
	}
	for key, dst := range ints {
		v, ok := lookup(envPrefix + key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", envPrefix, key, err)
		}
		*dst = n
	}

	int64s := map[string]*int64{
		"SEED":            &cfg.Seed,
		"RENDER_DELAY_MS": &cfg.RenderDelayMS,
	}
	for key, dst := range int64s {
		v, ok := lookup(envPrefix + key)
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%s%s: %w", envPrefix, key, err)
		}
		*dst = n
	}

	if v, ok := lookup(envPrefix + "EVALUATE"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sEVALUATE: %w", envPrefix, err)
		}
		cfg.Evaluate = b
	}
	return nil
}

func (c runConfig) validate() error {
	if c.Episodes <= 0 {
		return fmt.Errorf("episodes must be > 0, got %d", c.Episodes)
	}
	if c.MaxSteps <= 0 {
		return fmt.Errorf("max_steps must be > 0, got %d", c.MaxSteps)
	}
	if c.LearnEvery <= 0 {
		return fmt.Errorf("learn_every must be > 0, got %d", c.LearnEvery)
	}
	if c.CheckpointEvery <= 0 {
		return fmt.Errorf("checkpoint_every must be > 0, got %d", c.CheckpointEvery)
	}
	if c.LogEvery <= 0 {
		return fmt.Errorf("log_every must be > 0, got %d", c.LogEvery)
	}
	if c.RenderDelayMS < 0 {
		return fmt.Errorf("render_delay_ms must be >= 0, got %d", c.RenderDelayMS)
	}
	if c.BatchSize <= 0 || c.BatchSize > c.ReplayCapacity {
		return fmt.Errorf("batch_size must be within 1..replay_capacity, got %d", c.BatchSize)
	}
	if c.Benchmark.Rollouts <= 0 || c.Benchmark.Workers <= 0 {
		return errors.New("benchmark rollouts and workers must be > 0")
	}
	if _, err := logging.ParseLevel(string(c.Log.Level)); err != nil {
		return err
	}
	return nil
}

// scenarioParams resolves the params section against the configured
// scenario's defaults.
func (c runConfig) scenarioParams() (*scenario.Params, error) {
	if c.params == nil {
		return c.Params, nil
	}
	params, err := scenario.DefaultParams(c.Scenario)
	if err != nil {
		return nil, err
	}
	if err := c.params.Decode(&params); err != nil {
		return nil, fmt.Errorf("decode params: %w", err)
	}
	return &params, nil
}

func (c runConfig) clientOptions() mpe.Options {
	return mpe.Options{
		StoreKind: c.Store.Kind,
		DBPath:    c.Store.DBPath,
		RunsDir:   c.RunsDir,
	}
}

func (c runConfig) runRequest() (mpe.RunRequest, error) {
	params, err := c.scenarioParams()
	if err != nil {
		return mpe.RunRequest{}, err
	}
	return mpe.RunRequest{
		RunID:           c.RunID,
		Scenario:        c.Scenario,
		Params:          params,
		Learner:         c.Learner,
		LearnerOptions:  c.LearnerOptions,
		Evaluate:        c.Evaluate,
		Episodes:        c.Episodes,
		MaxSteps:        c.MaxSteps,
		LearnEvery:      c.LearnEvery,
		CheckpointEvery: c.CheckpointEvery,
		LogEvery:        c.LogEvery,
		CheckpointDir:   c.CheckpointDir,
		RenderDelay:     time.Duration(c.RenderDelayMS) * time.Millisecond,
		ReplayCapacity:  c.ReplayCapacity,
		BatchSize:       c.BatchSize,
		Seed:            c.Seed,
	}, nil
}

func (c runConfig) benchmarkRequest() (mpe.BenchmarkRequest, error) {
	params, err := c.scenarioParams()
	if err != nil {
		return mpe.BenchmarkRequest{}, err
	}
	return mpe.BenchmarkRequest{
		RunID:          c.RunID,
		Scenario:       c.Scenario,
		Params:         params,
		Learner:        c.Learner,
		LearnerOptions: c.LearnerOptions,
		CheckpointDir:  c.CheckpointDir,
		Rollouts:       c.Benchmark.Rollouts,
		Workers:        c.Benchmark.Workers,
		MaxSteps:       c.MaxSteps,
		Seed:           c.Seed,
	}, nil
}

func runConfigSchema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		DoNotReference:             true,
	}
	schema := reflector.Reflect(&runConfig{})
	schema.Title = "mpectl run configuration"
	schema.Description = "Run, evaluate and benchmark settings for multi-agent particle scenarios. Written as YAML; MPE_* environment variables and flags override it."
	return schema
}
