// Package collector defines the contract shared by the four collector
// workers: page crawler, security prober, technology fingerprinter, and
// interactive discovery agent.
//
// A worker consumes one Task and returns an Outcome with zero or more
// Evidence Items. Sub-step failures (one path failing to crawl, one probe
// timing out) are collected into Outcome.Errors; the worker still returns
// its partial results. Only total failure returns an error, which the
// broker converts into a failed job.
package collector

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/probelab/scrutiny/broker"
	"github.com/probelab/scrutiny/evidence"
)

// Task is one unit of collector work, decoded from a broker job.
type Task struct {
	JobID   string
	Type    broker.JobType
	Company string
	Target  string
	Purpose string
	Attempt int
	Config  json.RawMessage

	// Progress reports completion percentage back to the broker.
	// Always non-nil for tasks built by Worker.
	Progress func(pct int)
}

// Outcome is what a worker hands back for one task.
type Outcome struct {
	Evidence []evidence.Item
	Summary  string
	Errors   []string // non-fatal sub-step failures
}

// Handler processes tasks of one collector type.
type Handler interface {
	Handle(ctx context.Context, task *Task) (*Outcome, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, task *Task) (*Outcome, error)

func (f HandlerFunc) Handle(ctx context.Context, task *Task) (*Outcome, error) {
	return f(ctx, task)
}

// EvidenceSink receives the items a completed task produced.
type EvidenceSink func(ctx context.Context, items ...evidence.Item) error

// Result is the JSON recorded as the broker job result.
type Result struct {
	Summary       string   `json:"summary"`
	EvidenceIDs   []string `json:"evidence_ids,omitempty"`
	EvidenceCount int      `json:"evidence_count"`
	Errors        []string `json:"errors,omitempty"`
}

// baseConfig carries the company name alongside every typed config.
type baseConfig struct {
	Company string `json:"company"`
}

// Worker adapts a Handler into a broker.Worker. Evidence from successful
// outcomes is appended to sink before the job completes; a sink failure
// fails the job so no evidence is silently lost.
func Worker(b *broker.Broker, h Handler, sink EvidenceSink) broker.Worker {
	return broker.WorkerFunc(func(ctx context.Context, job *broker.Job) (any, error) {
		var base baseConfig
		if len(job.Config) > 0 {
			// Company is best-effort; a malformed config still reaches the
			// handler, which owns full decoding.
			_ = json.Unmarshal(job.Config, &base)
		}

		task := &Task{
			JobID:   job.ID,
			Type:    job.Type,
			Company: base.Company,
			Target:  job.Target,
			Purpose: job.Purpose,
			Attempt: job.Attempt,
			Config:  job.Config,
			Progress: func(pct int) {
				_ = b.SetProgress(ctx, job.ID, pct)
			},
		}

		outcome, err := h.Handle(ctx, task)
		if err != nil {
			return nil, err
		}
		if outcome == nil {
			return nil, fmt.Errorf("collector: nil outcome for job %s", job.ID)
		}

		if len(outcome.Evidence) > 0 && sink != nil {
			if err := sink(ctx, outcome.Evidence...); err != nil {
				return nil, fmt.Errorf("store evidence: %w", err)
			}
		}

		res := Result{
			Summary:       outcome.Summary,
			EvidenceCount: len(outcome.Evidence),
			Errors:        outcome.Errors,
		}
		for _, it := range outcome.Evidence {
			res.EvidenceIDs = append(res.EvidenceIDs, it.ID)
		}
		return res, nil
	})
}
