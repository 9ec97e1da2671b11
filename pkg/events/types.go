package events

import (
	"time"
)

type Kind string

const (
	RunStarted    Kind = "run_started"
	ChunkFinished Kind = "chunk_finished"
	RunFinished   Kind = "run_finished"
)

// Event reports evaluation progress
type Event struct {
	Kind      Kind
	Task      string
	RunDir    string
	Chunk     int
	Elapsed   time.Duration // wall time of the chunk, or of the whole run
	Success   []bool        // per rollout, chunk events only
	Steps     []int
	Timestamp time.Time
}

// Publisher fans progress events out to subscribers
type Publisher interface {
	Publish(ev Event) error
}
