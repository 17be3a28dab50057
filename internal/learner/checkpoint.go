package learner

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

const CheckpointVersion = 1

// checkpoint is one agent's persisted learner state.
type checkpoint struct {
	Version     int       `json:"version"`
	Kind        string    `json:"kind"`
	Scenario    string    `json:"scenario"`
	Agent       int       `json:"agent"`
	ObsDim      int       `json:"obs_dim"`
	ActDim      int       `json:"act_dim"`
	Fingerprint uint64    `json:"fingerprint"`
	Weights     []float64 `json:"weights,omitempty"`
	Bias        []float64 `json:"bias,omitempty"`
	Score       float64   `json:"score"`
}

// Fingerprint identifies the interface one agent's parameters were trained
// against.
func Fingerprint(scenario string, obsDim, actDim int) uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(scenario)
	_, _ = d.WriteString("|")
	_, _ = d.WriteString(strconv.Itoa(obsDim))
	_, _ = d.WriteString("|")
	_, _ = d.WriteString(strconv.Itoa(actDim))
	return d.Sum64()
}

func newCheckpoint(kind string, shape Shape, agent int) checkpoint {
	return checkpoint{
		Version:     CheckpointVersion,
		Kind:        kind,
		Scenario:    shape.Scenario,
		Agent:       agent,
		ObsDim:      shape.ObsDims[agent],
		ActDim:      shape.ActDims[agent],
		Fingerprint: Fingerprint(shape.Scenario, shape.ObsDims[agent], shape.ActDims[agent]),
	}
}

func CheckpointPath(dir string, agent int) string {
	return filepath.Join(dir, fmt.Sprintf("agent_%d.json", agent))
}

func writeCheckpoint(dir string, cp checkpoint) error {
	if dir == "" {
		return errors.New("checkpoint directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if err := os.WriteFile(CheckpointPath(dir, cp.Agent), data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint agent %d: %w", cp.Agent, err)
	}
	return nil
}

func readCheckpoint(dir, kind string, shape Shape, agent int) (checkpoint, error) {
	path := CheckpointPath(dir, agent)
	data, err := os.ReadFile(path)
	if err != nil {
		return checkpoint{}, fmt.Errorf("%w: %v", ErrCheckpoint, err)
	}
	var cp checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return checkpoint{}, fmt.Errorf("%w: decode %s: %v", ErrCheckpoint, path, err)
	}
	if cp.Version != CheckpointVersion {
		return checkpoint{}, fmt.Errorf("%w: %s has version %d, want %d", ErrCheckpoint, path, cp.Version, CheckpointVersion)
	}
	if cp.Kind != kind {
		return checkpoint{}, fmt.Errorf("%w: %s was written by a %s learner", ErrCheckpoint, path, cp.Kind)
	}
	want := Fingerprint(shape.Scenario, shape.ObsDims[agent], shape.ActDims[agent])
	if cp.Agent != agent || cp.Fingerprint != want {
		return checkpoint{}, fmt.Errorf("%w: %s fingerprint %x does not match %x", ErrCheckpoint, path, cp.Fingerprint, want)
	}
	return cp, nil
}
