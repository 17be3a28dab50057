package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ehtnamuh/multiagent-particle-envs/internal/logging"
	"github.com/ehtnamuh/multiagent-particle-envs/internal/model"
	"github.com/ehtnamuh/multiagent-particle-envs/internal/platform"
	"github.com/ehtnamuh/multiagent-particle-envs/pkg/mpe"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd(os.Stdout).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// cliOptions carries the flags shared by every command.
type cliOptions struct {
	configPath string
	envFile    string

	runID           string
	scenario        string
	learner         string
	episodes        int
	maxSteps        int
	learnEvery      int
	checkpointEvery int
	logEvery        int
	checkpointDir   string
	renderDelayMS   int64
	replayCapacity  int
	batchSize       int
	seed            int64
	runsDir         string
	store           string
	dbPath          string
	logLevel        string
	logEncoding     string
	rollouts        int
	workers         int
	render          bool
}

func newRootCmd(out io.Writer) *cobra.Command {
	opts := &cliOptions{}
	root := &cobra.Command{
		Use:           "mpectl",
		Short:         "Train, evaluate and benchmark multi-agent particle scenarios",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "YAML run config file")
	pf.StringVar(&opts.envFile, "env-file", ".env", "dotenv file with MPE_* overrides")
	pf.StringVar(&opts.runsDir, "runs-dir", "", "run artifacts directory")
	pf.StringVar(&opts.store, "store", "", "store backend: memory|sqlite")
	pf.StringVar(&opts.dbPath, "db-path", "", "sqlite database path")
	pf.StringVar(&opts.logLevel, "log-level", "", "log level: debug|info|warn|error")
	pf.StringVar(&opts.logEncoding, "log-encoding", "", "log encoding: console|json")

	root.AddCommand(
		newRunCmd(opts, false),
		newRunCmd(opts, true),
		newBenchmarkCmd(opts),
		newRunsCmd(opts),
		newScoresCmd(opts),
		newScenariosCmd(),
		newSchemaCmd(),
	)
	return root
}

func addRunFlags(cmd *cobra.Command, opts *cliOptions) {
	f := cmd.Flags()
	f.StringVar(&opts.runID, "run-id", "", "run id (default: random uuid)")
	f.StringVar(&opts.scenario, "scenario", "", "scenario name or alias")
	f.StringVar(&opts.learner, "learner", "", "learner kind: random|perturb")
	f.IntVar(&opts.maxSteps, "max-steps", 0, "steps per episode")
	f.StringVar(&opts.checkpointDir, "checkpoint-dir", "", "checkpoint directory")
	f.Int64Var(&opts.seed, "seed", 0, "random seed")
}

func newRunCmd(opts *cliOptions, evaluate bool) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Train a learner on a scenario",
		Args:  cobra.NoArgs,
	}
	if evaluate {
		cmd.Use = "evaluate"
		cmd.Short = "Play a learner from its checkpoint without learning"
	}
	addRunFlags(cmd, opts)
	f := cmd.Flags()
	f.IntVar(&opts.episodes, "episodes", 0, "number of episodes")
	f.IntVar(&opts.learnEvery, "learn-every", 0, "learn every N global steps")
	f.IntVar(&opts.checkpointEvery, "checkpoint-every", 0, "save a checkpoint every N episodes")
	f.IntVar(&opts.logEvery, "log-every", 0, "log the moving average every N episodes")
	f.IntVar(&opts.replayCapacity, "replay-capacity", 0, "replay buffer capacity")
	f.IntVar(&opts.batchSize, "batch-size", 0, "replay sample batch size")
	if evaluate {
		f.Int64Var(&opts.renderDelayMS, "render-delay-ms", 0, "pause between evaluation steps")
		f.BoolVar(&opts.render, "render", false, "print agent positions every step")
	}

	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		cfg, err := resolveConfig(cmd, opts)
		if err != nil {
			return err
		}
		if evaluate {
			cfg.Evaluate = true
		}
		req, err := cfg.runRequest()
		if err != nil {
			return err
		}
		client, logger, err := openClient(cfg)
		if err != nil {
			return err
		}
		defer client.Close()
		defer func() { _ = logger.Sync() }()
		if opts.render {
			req.Renderer = textRenderer(cmd.OutOrStdout())
		}

		summary, err := client.Run(cmd.Context(), req)
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		printRunSummary(cmd.OutOrStdout(), summary, cfg.Evaluate)
		return err
	}
	return cmd
}

func newBenchmarkCmd(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "benchmark",
		Short: "Run parallel evaluation rollouts and report benchmark data",
		Args:  cobra.NoArgs,
	}
	addRunFlags(cmd, opts)
	cmd.Flags().IntVar(&opts.rollouts, "rollouts", 0, "number of rollouts")
	cmd.Flags().IntVar(&opts.workers, "workers", 0, "parallel rollouts")

	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		cfg, err := resolveConfig(cmd, opts)
		if err != nil {
			return err
		}
		req, err := cfg.benchmarkRequest()
		if err != nil {
			return err
		}
		client, logger, err := openClient(cfg)
		if err != nil {
			return err
		}
		defer client.Close()
		defer func() { _ = logger.Sync() }()

		summary, err := client.Benchmark(cmd.Context(), req)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "benchmark run_id=%s scenario=%s rollouts=%d workers=%d\n",
			summary.RunID, summary.Scenario, summary.Rollouts, summary.Workers)
		fmt.Fprintf(out, "return mean=%.4f std=%.4f min=%.4f max=%.4f\n",
			summary.MeanReturn, summary.StdReturn, summary.MinReturn, summary.MaxReturn)
		for i := range summary.Agents {
			fields := make([]string, 0, len(summary.Agents[i]))
			for j, v := range summary.Agents[i] {
				fields = append(fields, fmt.Sprintf("%s=%.4f", summary.Labels[i][j], v))
			}
			fmt.Fprintf(out, "agent %d %s\n", i, strings.Join(fields, " "))
		}
		fmt.Fprintf(out, "artifacts=%s\n", summary.ArtifactsDir)
		return nil
	}
	return cmd
}

func newRunsCmd(opts *cliOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd, opts)
			if err != nil {
				return err
			}
			client, _, err := openClient(cfg)
			if err != nil {
				return err
			}
			defer client.Close()

			items, err := client.Runs(cmd.Context(), mpe.RunsRequest{Limit: limit})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(items) == 0 {
				fmt.Fprintln(out, "no runs")
				return nil
			}
			for _, item := range items {
				mode := "train"
				if item.Evaluate {
					mode = "evaluate"
				}
				fmt.Fprintf(out, "%s %s scenario=%s learner=%s mode=%s episodes=%s steps=%s best=%.4f final=%.4f\n",
					item.RunID, createdAgo(item.CreatedAtUTC), item.Scenario, item.Learner, mode,
					humanize.Comma(int64(item.Episodes)), humanize.Comma(int64(item.TotalSteps)),
					item.BestAverage, item.FinalAverage)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "max runs to list")
	return cmd
}

func newScoresCmd(opts *cliOptions) *cobra.Command {
	var (
		runID  string
		latest bool
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "scores",
		Short: "Print the per-episode scores of a run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd, opts)
			if err != nil {
				return err
			}
			client, _, err := openClient(cfg)
			if err != nil {
				return err
			}
			defer client.Close()

			episodes, err := client.Scores(cmd.Context(), mpe.ScoresRequest{RunID: runID, Latest: latest, Limit: limit})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "episode\treturn\taverage\tsteps")
			for _, ep := range episodes {
				fmt.Fprintf(out, "%d\t%.4f\t%.4f\t%d\n", ep.Index, ep.Return, ep.MovingAverage, ep.Steps)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&runID, "run-id", "", "run id")
	cmd.Flags().BoolVar(&latest, "latest", false, "use the newest run")
	cmd.Flags().IntVar(&limit, "limit", 0, "only the last N episodes (0 for all)")
	return cmd
}

func newScenariosCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scenarios",
		Short: "List registered scenarios and their agent shapes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			items, err := mpe.Scenarios()
			if err != nil {
				return err
			}
			for _, item := range items {
				fmt.Fprintf(cmd.OutOrStdout(), "%s agents=%d obs=%s actions=%s\n",
					item.Name, item.Agents, joinInts(item.ObservationSizes), joinInts(item.ActionSizes))
			}
			return nil
		},
	}
}

func newSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON schema of the run config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := json.MarshalIndent(runConfigSchema(), "", "  ")
			if err != nil {
				return fmt.Errorf("marshal schema: %w", err)
			}
			data = append(data, '\n')
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

// resolveConfig layers the config file, MPE_* variables and changed flags.
func resolveConfig(cmd *cobra.Command, opts *cliOptions) (runConfig, error) {
	cfg, err := loadRunConfig(opts.configPath)
	if err != nil {
		return runConfig{}, err
	}
	lookup, err := envLookup(opts.envFile)
	if err != nil {
		return runConfig{}, err
	}
	if err := applyEnv(&cfg, lookup); err != nil {
		return runConfig{}, err
	}
	applyFlags(cmd, opts, &cfg)
	if err := cfg.validate(); err != nil {
		return runConfig{}, err
	}
	return cfg, nil
}

func applyFlags(cmd *cobra.Command, opts *cliOptions, cfg *runConfig) {
	changed := cmd.Flags().Changed
	if changed("run-id") {
		cfg.RunID = opts.runID
	}
	if changed("scenario") {
		cfg.Scenario = opts.scenario
	}
	if changed("learner") {
		cfg.Learner = opts.learner
	}
	if changed("episodes") {
		cfg.Episodes = opts.episodes
	}
	if changed("max-steps") {
		cfg.MaxSteps = opts.maxSteps
	}
	if changed("learn-every") {
		cfg.LearnEvery = opts.learnEvery
	}
	if changed("checkpoint-every") {
		cfg.CheckpointEvery = opts.checkpointEvery
	}
	if changed("log-every") {
		cfg.LogEvery = opts.logEvery
	}
	if changed("checkpoint-dir") {
		cfg.CheckpointDir = opts.checkpointDir
	}
	if changed("render-delay-ms") {
		cfg.RenderDelayMS = opts.renderDelayMS
	}
	if changed("replay-capacity") {
		cfg.ReplayCapacity = opts.replayCapacity
	}
	if changed("batch-size") {
		cfg.BatchSize = opts.batchSize
	}
	if changed("seed") {
		cfg.Seed = opts.seed
	}
	if changed("runs-dir") {
		cfg.RunsDir = opts.runsDir
	}
	if changed("store") {
		cfg.Store.Kind = opts.store
	}
	if changed("db-path") {
		cfg.Store.DBPath = opts.dbPath
	}
	if changed("log-level") {
		cfg.Log.Level = logging.Level(opts.logLevel)
	}
	if changed("log-encoding") {
		cfg.Log.Encoding = opts.logEncoding
	}
	if changed("rollouts") {
		cfg.Benchmark.Rollouts = opts.rollouts
	}
	if changed("workers") {
		cfg.Benchmark.Workers = opts.workers
	}
}

func openClient(cfg runConfig) (*mpe.Client, *zap.Logger, error) {
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	options := cfg.clientOptions()
	options.Logger = logger
	client, err := mpe.New(options)
	if err != nil {
		return nil, nil, err
	}
	return client, logger, nil
}

func printRunSummary(out io.Writer, s mpe.RunSummary, evaluate bool) {
	mode := "run"
	if evaluate {
		mode = "evaluate"
	}
	fmt.Fprintf(out, "%s run_id=%s scenario=%s episodes=%s steps=%s elapsed=%s\n",
		mode, s.RunID, s.Scenario, humanize.Comma(int64(s.Episodes)), humanize.Comma(int64(s.TotalSteps)),
		s.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(out, "average final=%.4f best=%.4f checkpoint_loaded=%t checkpoints_saved=%d\n",
		s.FinalAverage, s.BestAverage, s.CheckpointLoaded, s.CheckpointsSaved)
	fmt.Fprintf(out, "artifacts=%s\n", s.ArtifactsDir)
}

func textRenderer(out io.Writer) platform.Renderer {
	return platform.RendererFunc(func(w *model.World) error {
		var b strings.Builder
		for i, a := range w.Agents {
			if i > 0 {
				b.WriteByte(' ')
			}
			fmt.Fprintf(&b, "%s(%.3f,%.3f)", a.Name, a.Pos.X, a.Pos.Y)
		}
		b.WriteByte('\n')
		_, err := io.WriteString(out, b.String())
		return err
	})
}

func createdAgo(createdAtUTC string) string {
	t, err := time.Parse(time.RFC3339Nano, createdAtUTC)
	if err != nil {
		return createdAtUTC
	}
	return humanize.Time(t)
}

func joinInts(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.Itoa(v)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
