package model

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// Transition is one step of joint experience.
type Transition struct {
	Obs       [][]float64 `json:"obs"`
	State     []float64   `json:"state"`
	Actions   [][]float64 `json:"actions"`
	Rewards   []float64   `json:"rewards"`
	NextObs   [][]float64 `json:"next_obs"`
	NextState []float64   `json:"next_state"`
	Done      []bool      `json:"done"`
}

// GlobalState concatenates a joint observation into one vector.
func GlobalState(obs [][]float64) []float64 {
	size := 0
	for _, o := range obs {
		size += len(o)
	}
	state := make([]float64, 0, size)
	for _, o := range obs {
		state = append(state, o...)
	}
	return state
}

type RunRecord struct {
	VersionedRecord
	ID           string  `json:"id"`
	Scenario     string  `json:"scenario"`
	Learner      string  `json:"learner"`
	Evaluate     bool    `json:"evaluate"`
	Seed         int64   `json:"seed"`
	Episodes     int     `json:"episodes"`
	TotalSteps   int     `json:"total_steps"`
	BestAverage  float64 `json:"best_average"`
	FinalAverage float64 `json:"final_average"`
	CreatedAtUTC string  `json:"created_at_utc"`
}

type EpisodeRecord struct {
	Index         int     `json:"index"`
	Return        float64 `json:"return"`
	MovingAverage float64 `json:"moving_average"`
	Steps         int     `json:"steps"`
}

// BenchmarkRecord aggregates per-agent benchmark values over evaluation rollouts.
type BenchmarkRecord struct {
	VersionedRecord
	RunID    string      `json:"run_id"`
	Scenario string      `json:"scenario"`
	Rollouts int         `json:"rollouts"`
	Returns  []float64   `json:"returns"`
	Labels   [][]string  `json:"labels"`
	Agents   [][]float64 `json:"agents"`
}
