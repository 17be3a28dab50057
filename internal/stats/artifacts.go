package stats

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/ehtnamuh/multiagent-particle-envs/internal/model"
	"github.com/ehtnamuh/multiagent-particle-envs/internal/scenario"
)

const (
	runIndexFile      = "run_index.json"
	configFile        = "config.json"
	episodesFile      = "episodes.json"
	scoresFile        = "scores.csv"
	benchmarkFile     = "benchmark_summary.json"
	benchmarkInfoFile = "benchmark_agents.json"
)

type RunConfig struct {
	RunID           string          `json:"run_id"`
	Scenario        string          `json:"scenario"`
	ScenarioParams  scenario.Params `json:"scenario_params"`
	Learner         string          `json:"learner"`
	Evaluate        bool            `json:"evaluate"`
	Episodes        int             `json:"episodes"`
	MaxSteps        int             `json:"max_steps"`
	LearnEvery      int             `json:"learn_every"`
	CheckpointEvery int             `json:"checkpoint_every"`
	LogEvery        int             `json:"log_every"`
	CheckpointDir   string          `json:"checkpoint_dir"`
	ReplayCapacity  int             `json:"replay_capacity"`
	BatchSize       int             `json:"batch_size"`
	RenderDelayMS   int64           `json:"render_delay_ms"`
	Seed            int64           `json:"seed"`
}

type RunArtifacts struct {
	Config       RunConfig             `json:"config"`
	Episodes     []model.EpisodeRecord `json:"episodes"`
	TotalSteps   int                   `json:"total_steps"`
	BestAverage  float64               `json:"best_average"`
	FinalAverage float64               `json:"final_average"`
}

type BenchmarkSummary struct {
	RunID      string  `json:"run_id"`
	Scenario   string  `json:"scenario"`
	Rollouts   int     `json:"rollouts"`
	Workers    int     `json:"workers"`
	Seed       int64   `json:"seed"`
	MeanReturn float64 `json:"mean_return"`
	StdReturn  float64 `json:"std_return"`
	MinReturn  float64 `json:"min_return"`
	MaxReturn  float64 `json:"max_return"`
}

type RunIndexEntry struct {
	RunID        string  `json:"run_id"`
	Scenario     string  `json:"scenario"`
	Learner      string  `json:"learner"`
	Evaluate     bool    `json:"evaluate"`
	Episodes     int     `json:"episodes"`
	Seed         int64   `json:"seed"`
	TotalSteps   int     `json:"total_steps"`
	BestAverage  float64 `json:"best_average"`
	FinalAverage float64 `json:"final_average"`
	CreatedAtUTC string  `json:"created_at_utc"`
}

func WriteRunArtifacts(baseDir string, artifacts RunArtifacts) (string, error) {
	if artifacts.Config.RunID == "" {
		return "", fmt.Errorf("run id is required")
	}

	runDir := filepath.Join(baseDir, artifacts.Config.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}

	if err := writeJSON(filepath.Join(runDir, configFile), artifacts.Config); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, episodesFile), map[string]any{
		"episodes":      artifacts.Episodes,
		"total_steps":   artifacts.TotalSteps,
		"best_average":  artifacts.BestAverage,
		"final_average": artifacts.FinalAverage,
	}); err != nil {
		return "", err
	}
	if err := WriteScores(runDir, artifacts.Episodes); err != nil {
		return "", err
	}

	return runDir, nil
}

func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := ListRunIndex(baseDir)
	if err != nil {
		return err
	}

	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}

	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

// ListRunIndex returns index entries newest first.
func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	path := filepath.Join(baseDir, runIndexFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunIndexEntry{}, nil
		}
		return nil, err
	}

	var entries []RunIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}

	type indexedEntry struct {
		entry RunIndexEntry
		idx   int
	}
	indexed := make([]indexedEntry, len(entries))
	for i := range entries {
		indexed[i] = indexedEntry{entry: entries[i], idx: i}
	}
	sort.Slice(indexed, func(i, j int) bool {
		if indexed[i].entry.CreatedAtUTC == indexed[j].entry.CreatedAtUTC {
			// Prefer later appended entries for equal timestamps.
			return indexed[i].idx > indexed[j].idx
		}
		return indexed[i].entry.CreatedAtUTC > indexed[j].entry.CreatedAtUTC
	})

	sorted := make([]RunIndexEntry, 0, len(indexed))
	for _, item := range indexed {
		sorted = append(sorted, item.entry)
	}
	return sorted, nil
}

func ExportRunArtifacts(baseDir, runID, outDir string) (string, error) {
	if runID == "" {
		return "", fmt.Errorf("run id is required")
	}

	src := filepath.Join(baseDir, runID)
	if _, err := os.Stat(src); err != nil {
		return "", err
	}

	dst := filepath.Join(outDir, runID)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", err
	}

	for _, file := range []string{configFile, episodesFile, scoresFile} {
		if err := copyFile(filepath.Join(src, file), filepath.Join(dst, file)); err != nil {
			return "", err
		}
	}
	for _, file := range []string{benchmarkFile, benchmarkInfoFile} {
		path := filepath.Join(src, file)
		if _, err := os.Stat(path); err == nil {
			if err := copyFile(path, filepath.Join(dst, file)); err != nil {
				return "", err
			}
		} else if !os.IsNotExist(err) {
			return "", err
		}
	}
	return dst, nil
}

func ReadRunConfig(baseDir, runID string) (RunConfig, bool, error) {
	path := filepath.Join(baseDir, runID, configFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return RunConfig{}, false, nil
		}
		return RunConfig{}, false, err
	}

	var cfg RunConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return RunConfig{}, false, err
	}
	return cfg, true, nil
}

func WriteRunConfig(baseDir, runID string, cfg RunConfig) error {
	if strings.TrimSpace(runID) == "" {
		return fmt.Errorf("run id is required")
	}
	if strings.TrimSpace(cfg.RunID) == "" {
		cfg.RunID = strings.TrimSpace(runID)
	}
	if cfg.RunID != strings.TrimSpace(runID) {
		return fmt.Errorf("run config run id mismatch: got=%s want=%s", cfg.RunID, strings.TrimSpace(runID))
	}
	runDir := filepath.Join(baseDir, runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return err
	}
	return writeJSON(filepath.Join(runDir, configFile), cfg)
}

func WriteBenchmarkSummary(runDir string, summary BenchmarkSummary, agents model.BenchmarkRecord) error {
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(runDir, benchmarkFile), summary); err != nil {
		return err
	}
	return writeJSON(filepath.Join(runDir, benchmarkInfoFile), agents)
}

func ReadBenchmarkSummary(baseDir, runID string) (BenchmarkSummary, bool, error) {
	path := filepath.Join(baseDir, runID, benchmarkFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return BenchmarkSummary{}, false, nil
		}
		return BenchmarkSummary{}, false, err
	}
	var summary BenchmarkSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return BenchmarkSummary{}, false, err
	}
	return summary, true, nil
}

// WriteScores writes one CSV row per episode: index, return, moving average.
func WriteScores(runDir string, episodes []model.EpisodeRecord) error {
	path := filepath.Join(runDir, scoresFile)
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"episode", "return", "moving_average", "steps"}); err != nil {
		return err
	}
	for _, ep := range episodes {
		if err := writer.Write([]string{
			strconv.Itoa(ep.Index),
			strconv.FormatFloat(ep.Return, 'f', -1, 64),
			strconv.FormatFloat(ep.MovingAverage, 'f', -1, 64),
			strconv.Itoa(ep.Steps),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func ReadScores(baseDir, runID string) ([]model.EpisodeRecord, bool, error) {
	path := filepath.Join(baseDir, runID, scoresFile)
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return []model.EpisodeRecord{}, true, nil
		}
		return nil, false, err
	}
	if len(header) < 4 {
		return nil, false, fmt.Errorf("scores header must have 4 columns")
	}

	episodes := make([]model.EpisodeRecord, 0, 128)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, false, err
		}
		ep, err := parseScoreRow(record)
		if err != nil {
			return nil, false, err
		}
		episodes = append(episodes, ep)
	}
	return episodes, true, nil
}

func parseScoreRow(record []string) (model.EpisodeRecord, error) {
	if len(record) < 4 {
		return model.EpisodeRecord{}, fmt.Errorf("scores row must have 4 columns")
	}
	index, err := strconv.Atoi(record[0])
	if err != nil {
		return model.EpisodeRecord{}, err
	}
	ret, err := strconv.ParseFloat(record[1], 64)
	if err != nil {
		return model.EpisodeRecord{}, err
	}
	avg, err := strconv.ParseFloat(record[2], 64)
	if err != nil {
		return model.EpisodeRecord{}, err
	}
	steps, err := strconv.Atoi(record[3])
	if err != nil {
		return model.EpisodeRecord{}, err
	}
	return model.EpisodeRecord{Index: index, Return: ret, MovingAverage: avg, Steps: steps}, nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
