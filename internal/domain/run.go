package domain

import "time"

// RunStatus is the lifecycle state of an ingestion run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// RunMetrics counts the per-item outcomes of an ingestion run.
type RunMetrics struct {
	Inserted      int `json:"inserted"`
	Superseded    int `json:"superseded"`
	StaleDropped  int `json:"stale_dropped"`
	Invalid       int `json:"invalid"`
	Unresolved    int `json:"unresolved"`
	Opportunities int `json:"opportunities"`
}

// Run is the bookkeeping record for one ingestion run from one bookmaker.
// A run is created in the running state and finalized exactly once; finalized
// runs are never mutated.
type Run struct {
	ID            string
	Bookmaker     string
	SportType     SportType
	StartedAt     time.Time
	EndedAt       *time.Time
	Status        RunStatus
	EventsFound   int
	OddsExtracted int
	ErrorsCount   int
	Metrics       RunMetrics
	ErrorDetail   string
}

// Finalized reports whether the run has reached a terminal status.
func (r Run) Finalized() bool {
	return r.Status != RunRunning
}
