package storage

import (
	"encoding/json"
	"errors"
	"sort"

	"github.com/ehtnamuh/multiagent-particle-envs/internal/model"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var ErrVersionMismatch = errors.New("record version mismatch")

// CurrentVersion is the version stamp new records are written with.
func CurrentVersion() model.VersionedRecord {
	return model.VersionedRecord{SchemaVersion: CurrentSchemaVersion, CodecVersion: CurrentCodecVersion}
}

func EncodeRun(r model.RunRecord) ([]byte, error) {
	return json.Marshal(r)
}

func DecodeRun(data []byte) (model.RunRecord, error) {
	var run model.RunRecord
	if err := json.Unmarshal(data, &run); err != nil {
		return model.RunRecord{}, err
	}
	if err := checkVersion(run.VersionedRecord); err != nil {
		return model.RunRecord{}, err
	}
	return run, nil
}

func EncodeEpisodes(episodes []model.EpisodeRecord) ([]byte, error) {
	return json.Marshal(episodes)
}

func DecodeEpisodes(data []byte) ([]model.EpisodeRecord, error) {
	var episodes []model.EpisodeRecord
	if err := json.Unmarshal(data, &episodes); err != nil {
		return nil, err
	}
	return episodes, nil
}

func EncodeBenchmark(b model.BenchmarkRecord) ([]byte, error) {
	return json.Marshal(b)
}

func DecodeBenchmark(data []byte) (model.BenchmarkRecord, error) {
	var benchmark model.BenchmarkRecord
	if err := json.Unmarshal(data, &benchmark); err != nil {
		return model.BenchmarkRecord{}, err
	}
	if err := checkVersion(benchmark.VersionedRecord); err != nil {
		return model.BenchmarkRecord{}, err
	}
	return benchmark, nil
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return ErrVersionMismatch
	}
	return nil
}

// sortRuns orders runs oldest first, then by id.
func sortRuns(runs []model.RunRecord) {
	sort.SliceStable(runs, func(i, j int) bool {
		if runs[i].CreatedAtUTC != runs[j].CreatedAtUTC {
			return runs[i].CreatedAtUTC < runs[j].CreatedAtUTC
		}
		return runs[i].ID < runs[j].ID
	})
}
