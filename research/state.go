package research

import (
	"time"

	"github.com/probelab/scrutiny/evidence"
)

// Phase is one state of the orchestration machine.
type Phase string

const (
	PhaseInitializing  Phase = "initializing"
	PhaseOrchestrating Phase = "orchestrating"
	PhaseExecuting     Phase = "executing"
	PhaseCollecting    Phase = "collecting"
	PhaseAnalyzing     Phase = "analyzing"
	PhaseDeciding      Phase = "deciding"
	PhaseSynthesizing  Phase = "synthesizing"
	PhaseComplete      Phase = "complete"
	PhaseError         Phase = "error"
)

// JobRecord is the orchestrator's view of one submitted job. The broker
// owns the job; this is a weak reference by id.
type JobRecord struct {
	JobID     string `json:"job_id"`
	Type      string `json:"type"`
	Purpose   string `json:"purpose"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	Iteration int    `json:"iteration"`
}

// State is the full mutable state of one research run. Only the
// orchestrator writes to it.
type State struct {
	RunID     string `json:"run_id"`
	Company   string `json:"company"`
	TargetURL string `json:"target_url"`
	Thesis    Thesis `json:"thesis"`

	Phase          Phase    `json:"phase"`
	IterationCount int      `json:"iteration_count"`
	MaxIterations  int      `json:"max_iterations"`
	Questions      []string `json:"questions"`
	Gaps           []string `json:"gaps"`
	Insights       []string `json:"insights"`

	// EvidenceByCategory maps category to item ids in insertion order.
	EvidenceByCategory map[evidence.Category][]string `json:"evidence_by_category"`
	CoveredTypes       []string                       `json:"covered_types"`
	Coverage           float64                        `json:"coverage"`
	EvidenceCount      int                            `json:"evidence_count"`

	ActiveJobs    []JobRecord `json:"active_jobs,omitempty"`
	CompletedJobs []JobRecord `json:"completed_jobs"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
	Err        string    `json:"error,omitempty"`
}

// coverageOf computes the covered required types from a type count map.
func coverageOf(required []string, byType map[string]int) ([]string, float64) {
	if len(required) == 0 {
		return nil, 0
	}
	var covered []string
	for _, rt := range required {
		if byType[rt] > 0 {
			covered = append(covered, rt)
		}
	}
	return covered, float64(len(covered)) / float64(len(required))
}
