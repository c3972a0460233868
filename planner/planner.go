// Package planner defines the external reasoning contract of a research
// run. A Planner turns the current research state into a Plan of collector
// jobs; an Analyzer distills recent evidence into insights and open gaps.
// Both are backed by Gemini in production and by fakes in tests. Malformed
// backend output is never fatal: callers get a conservative fallback.
package planner

import (
	"context"
	"encoding/json"
	"errors"
)

// Phases a Plan may declare.
const (
	PhaseTargetedSearch = "targeted_search"
	PhaseGapFilling     = "gap_filling"
	PhaseValidation     = "validation"
	PhaseDeepDive       = "deep_dive"
)

// ErrEmptyPlan reports a backend response with no usable tool calls.
var ErrEmptyPlan = errors.New("planner: no valid tool calls in response")

// ToolCall is one collector job the Plan requests.
type ToolCall struct {
	CollectorType string          `json:"collector_type"`
	Purpose       string          `json:"purpose"`
	Config        json.RawMessage `json:"config,omitempty"`
}

// Plan is one iteration's worth of research direction.
type Plan struct {
	Phase         string     `json:"phase"`
	Reasoning     string     `json:"reasoning"`
	Questions     []string   `json:"questions"`
	Gaps          []string   `json:"gaps"`
	ToolCalls     []ToolCall `json:"tool_calls"`
	ContinueAfter bool       `json:"continue_after"`
}

// EvidenceDigest is the compact form of a stored item handed to backends.
type EvidenceDigest struct {
	Type     string  `json:"type"`
	Category string  `json:"category"`
	Summary  string  `json:"summary"`
	URL      string  `json:"url"`
	Score    float64 `json:"confidence"`
}

// Snapshot is the serialized research state a Planner reasons over.
type Snapshot struct {
	Company               string           `json:"company"`
	TargetURL             string           `json:"target_url"`
	Thesis                string           `json:"thesis"`
	Iteration             int              `json:"iteration"`
	MaxIterations         int              `json:"max_iterations"`
	RequiredEvidenceTypes []string         `json:"required_evidence_types"`
	CoveredTypes          []string         `json:"covered_types"`
	Gaps                  []string         `json:"gaps"`
	Insights              []string         `json:"insights"`
	Questions             []string         `json:"questions"`
	RecentEvidence        []EvidenceDigest `json:"recent_evidence"`
}

// Analysis is what an Analyzer extracts from recent evidence.
type Analysis struct {
	Insights       []string       `json:"insights"`
	DiscoveredInfo map[string]any `json:"discovered_info"`
	Gaps           []string       `json:"gaps"`
}

// Planner produces the next Plan from a state snapshot.
type Planner interface {
	Plan(ctx context.Context, snap *Snapshot) (*Plan, error)
}

// Analyzer extracts insights and remaining gaps from recent evidence.
type Analyzer interface {
	Analyze(ctx context.Context, recent []EvidenceDigest, questions []string) (*Analysis, error)
}

// PlannerFunc adapts a function to the Planner interface.
type PlannerFunc func(ctx context.Context, snap *Snapshot) (*Plan, error)

func (f PlannerFunc) Plan(ctx context.Context, snap *Snapshot) (*Plan, error) { return f(ctx, snap) }

// AnalyzerFunc adapts a function to the Analyzer interface.
type AnalyzerFunc func(ctx context.Context, recent []EvidenceDigest, questions []string) (*Analysis, error)

func (f AnalyzerFunc) Analyze(ctx context.Context, recent []EvidenceDigest, questions []string) (*Analysis, error) {
	return f(ctx, recent, questions)
}

// collectorTypes the orchestrator can dispatch.
var collectorTypes = map[string]bool{
	"crawl":       true,
	"security":    true,
	"fingerprint": true,
	"discovery":   true,
}

// validPhases for normalization.
var validPhases = map[string]bool{
	PhaseTargetedSearch: true,
	PhaseGapFilling:     true,
	PhaseValidation:     true,
	PhaseDeepDive:       true,
}

// normalize drops tool calls with unknown collector types and repairs the
// phase. Returns ErrEmptyPlan when nothing usable remains.
func normalize(p *Plan) error {
	if !validPhases[p.Phase] {
		p.Phase = PhaseTargetedSearch
	}
	valid := p.ToolCalls[:0]
	for _, tc := range p.ToolCalls {
		if collectorTypes[tc.CollectorType] {
			valid = append(valid, tc)
		}
	}
	p.ToolCalls = valid
	if len(p.ToolCalls) == 0 {
		return ErrEmptyPlan
	}
	return nil
}

// FallbackPlan is the conservative default substituted when the backend
// returns malformed or empty output: one broad crawl, keep iterating.
func FallbackPlan(snap *Snapshot) *Plan {
	return &Plan{
		Phase:     PhaseTargetedSearch,
		Reasoning: "planner output unusable, defaulting to broad crawl",
		Gaps:      snap.Gaps,
		ToolCalls: []ToolCall{{
			CollectorType: "crawl",
			Purpose:       "broad evidence sweep of " + snap.TargetURL,
		}},
		ContinueAfter: true,
	}
}

// FallbackAnalysis keeps the previous gaps when the Analyzer fails.
func FallbackAnalysis(gaps []string) *Analysis {
	return &Analysis{Gaps: gaps}
}
