// Package research runs the iterative evidence-research loop: plan,
// execute, collect, analyze, decide, repeat. The orchestrator is the only
// writer of the run's State; collectors talk to it exclusively through the
// broker and the evidence store.
package research

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/probelab/scrutiny/broker"
	"github.com/probelab/scrutiny/collector"
	"github.com/probelab/scrutiny/evidence"
	"github.com/probelab/scrutiny/idgen"
	"github.com/probelab/scrutiny/observability"
	"github.com/probelab/scrutiny/planner"
)

// RunError is a run-level fatal error. Transient collector failures and
// malformed planner output never become one.
type RunError struct {
	RunID string
	Phase Phase
	Err   error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("research run %s failed in %s: %v", e.RunID, e.Phase, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// Options tunes the orchestration loop.
type Options struct {
	MaxIterations     int           // default: 5
	CoverageThreshold float64       // default: 0.8
	MaxOpenGaps       int           // default: 3
	AwaitTimeout      time.Duration // per-job wait in collecting. Default: 5m.
	RunDeadline       time.Duration // whole-run budget. Default: 2h.
	RecentN           int           // evidence items handed to the analyzer. Default: 20.
	Logger            *slog.Logger
}

func (o *Options) defaults() {
	if o.MaxIterations <= 0 {
		o.MaxIterations = 5
	}
	if o.CoverageThreshold <= 0 {
		o.CoverageThreshold = 0.8
	}
	if o.MaxOpenGaps <= 0 {
		o.MaxOpenGaps = 3
	}
	if o.AwaitTimeout <= 0 {
		o.AwaitTimeout = 5 * time.Minute
	}
	if o.RunDeadline <= 0 {
		o.RunDeadline = 2 * time.Hour
	}
	if o.RecentN <= 0 {
		o.RecentN = 20
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Orchestrator drives research runs. Safe for one run at a time per value;
// create one per concurrent run.
type Orchestrator struct {
	broker   *broker.Broker
	store    *evidence.Store
	planner  planner.Planner
	analyzer planner.Analyzer
	trail    *observability.Trail // may be nil
	ids      idgen.Generator
	log      *slog.Logger
	opts     Options
}

// New wires an orchestrator. trail may be nil to disable the audit trail.
func New(b *broker.Broker, store *evidence.Store, p planner.Planner, a planner.Analyzer, trail *observability.Trail, opts Options) *Orchestrator {
	opts.defaults()
	return &Orchestrator{
		broker:   b,
		store:    store,
		planner:  p,
		analyzer: a,
		trail:    trail,
		ids:      idgen.Default,
		log:      opts.Logger,
		opts:     opts,
	}
}

// Run executes one research run to completion. The returned State is
// valid even on error; its Phase tells how far the run got. The error, if
// any, is a *RunError.
func (o *Orchestrator) Run(ctx context.Context, company, targetURL, thesisID string) (*State, error) {
	st := &State{
		RunID:         o.ids(),
		Company:       company,
		TargetURL:     targetURL,
		Phase:         PhaseInitializing,
		MaxIterations: o.opts.MaxIterations,
		StartedAt:     time.Now(),
	}
	log := o.log.With("run_id", st.RunID, "company", company)

	thesis, err := ThesisFor(thesisID)
	if err != nil {
		return o.fatal(st, err)
	}
	st.Thesis = thesis
	st.Questions = append(st.Questions, thesis.SeedQuestions...)
	st.Gaps = append(st.Gaps, thesis.RequiredTypes...)
	if err := o.refreshCoverage(ctx, st); err != nil {
		return o.fatal(st, fmt.Errorf("load existing evidence: %w", err))
	}

	ctx, cancel := context.WithTimeout(ctx, o.opts.RunDeadline)
	defer cancel()
	o.record(st, "run_start", map[string]string{"thesis": thesis.ID, "target": targetURL}, nil, nil, 0)

	for {
		if err := ctx.Err(); err != nil {
			return o.fatal(st, fmt.Errorf("run deadline: %w", err))
		}

		st.Phase = PhaseOrchestrating
		st.IterationCount++
		plan := o.nextPlan(ctx, st)
		log.Info("research: plan", "iteration", st.IterationCount, "phase", plan.Phase, "tool_calls", len(plan.ToolCalls), "continue_after", plan.ContinueAfter)

		st.Phase = PhaseExecuting
		o.execute(ctx, st, plan)

		st.Phase = PhaseCollecting
		o.collect(ctx, st)

		st.Phase = PhaseAnalyzing
		o.analyze(ctx, st, plan)
		if err := o.refreshCoverage(ctx, st); err != nil {
			return o.fatal(st, fmt.Errorf("refresh coverage: %w", err))
		}

		st.Phase = PhaseDeciding
		if o.shouldStop(st, plan) {
			break
		}
		log.Info("research: iterating", "coverage", st.Coverage, "gaps", len(st.Gaps))
	}

	st.Phase = PhaseSynthesizing
	if err := o.synthesize(ctx, st); err != nil {
		return o.fatal(st, fmt.Errorf("synthesize: %w", err))
	}
	st.Phase = PhaseComplete
	st.FinishedAt = time.Now()
	o.record(st, "run_complete", nil, map[string]any{
		"iterations": st.IterationCount,
		"coverage":   st.Coverage,
		"evidence":   st.EvidenceCount,
		"gaps":       len(st.Gaps),
	}, nil, time.Since(st.StartedAt))
	log.Info("research: complete", "iterations", st.IterationCount, "coverage", st.Coverage, "evidence", st.EvidenceCount)
	return st, nil
}

// nextPlan calls the planner and audits the result. The planner backends
// already fall back internally; this also covers a planner that returns an
// error or nil outright.
func (o *Orchestrator) nextPlan(ctx context.Context, st *State) *planner.Plan {
	snap := o.snapshot(ctx, st)
	start := time.Now()
	plan, err := o.planner.Plan(ctx, snap)
	if err != nil || plan == nil || len(plan.ToolCalls) == 0 {
		o.log.Warn("research: planner unusable, falling back", "run_id", st.RunID, "error", err)
		plan = planner.FallbackPlan(snap)
	}
	for _, q := range plan.Questions {
		st.Questions = appendUnique(st.Questions, q)
	}
	if len(plan.Gaps) > 0 {
		st.Gaps = plan.Gaps
	}
	o.record(st, "plan_created", map[string]any{"iteration": st.IterationCount}, plan, err, time.Since(start))
	return plan
}

// execute submits each tool call as one broker job. A submission failure
// is recorded as an already-failed job, not a run error.
func (o *Orchestrator) execute(ctx context.Context, st *State, plan *planner.Plan) {
	for _, tc := range plan.ToolCalls {
		jt, cfg, err := o.jobFor(st.Company, tc)
		if err != nil {
			st.CompletedJobs = append(st.CompletedJobs, JobRecord{
				Type: tc.CollectorType, Purpose: tc.Purpose,
				Status: string(broker.StatusFailed), Error: err.Error(),
				Iteration: st.IterationCount,
			})
			continue
		}
		id, err := o.broker.Submit(ctx, jt, st.TargetURL, tc.Purpose, cfg)
		if err != nil {
			o.log.Warn("research: submit failed", "run_id", st.RunID, "type", tc.CollectorType, "error", err)
			st.CompletedJobs = append(st.CompletedJobs, JobRecord{
				Type: tc.CollectorType, Purpose: tc.Purpose,
				Status: string(broker.StatusFailed), Error: err.Error(),
				Iteration: st.IterationCount,
			})
			continue
		}
		st.ActiveJobs = append(st.ActiveJobs, JobRecord{
			JobID: id, Type: tc.CollectorType, Purpose: tc.Purpose,
			Status: string(broker.StatusQueued), Iteration: st.IterationCount,
		})
	}
}

// jobFor maps a tool call to a broker job type and typed config.
func (o *Orchestrator) jobFor(company string, tc planner.ToolCall) (broker.JobType, any, error) {
	decode := func(v any) error {
		if len(tc.Config) == 0 {
			return nil
		}
		return json.Unmarshal(tc.Config, v)
	}
	switch tc.CollectorType {
	case "crawl":
		var cfg collector.CrawlConfig
		if err := decode(&cfg); err != nil {
			return "", nil, fmt.Errorf("crawl config: %w", err)
		}
		cfg.Company = company
		return broker.TypeCrawl, cfg, nil
	case "security":
		var cfg collector.ProbeConfig
		if err := decode(&cfg); err != nil {
			return "", nil, fmt.Errorf("security config: %w", err)
		}
		cfg.Company = company
		return broker.TypeSecurity, cfg, nil
	case "fingerprint":
		var cfg collector.FingerprintConfig
		if err := decode(&cfg); err != nil {
			return "", nil, fmt.Errorf("fingerprint config: %w", err)
		}
		cfg.Company = company
		return broker.TypeFingerprint, cfg, nil
	case "discovery":
		var cfg collector.DiscoverConfig
		if err := decode(&cfg); err != nil {
			return "", nil, fmt.Errorf("discovery config: %w", err)
		}
		cfg.Company = company
		return broker.TypeDiscovery, cfg, nil
	}
	return "", nil, fmt.Errorf("unknown collector type %q", tc.CollectorType)
}

// collect fans out one wait per active job and blocks until all are
// terminal or timed out. Timeouts are soft: the job keeps running and its
// evidence lands in the store whenever it finishes.
func (o *Orchestrator) collect(ctx context.Context, st *State) {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		done = make([]JobRecord, 0, len(st.ActiveJobs))
	)
	for _, rec := range st.ActiveJobs {
		wg.Add(1)
		go func(rec JobRecord) {
			defer wg.Done()
			start := time.Now()
			job, err := o.broker.AwaitCompletion(ctx, rec.JobID, o.opts.AwaitTimeout)
			switch {
			case errors.Is(err, broker.ErrAwaitTimeout):
				rec.Status = "timeout"
				rec.Error = "not terminal within " + o.opts.AwaitTimeout.String()
			case err != nil:
				rec.Status = string(broker.StatusFailed)
				rec.Error = err.Error()
			default:
				rec.Status = string(job.Status)
				rec.Error = job.Error
			}
			o.record(st, "job_terminal", map[string]string{"job_id": rec.JobID, "type": rec.Type}, map[string]string{"status": rec.Status}, err, time.Since(start))

			mu.Lock()
			done = append(done, rec)
			mu.Unlock()
		}(rec)
	}
	wg.Wait()
	st.CompletedJobs = append(st.CompletedJobs, done...)
	st.ActiveJobs = nil
}

// analyze hands recent evidence to the analyzer and folds insights and
// gaps into the state. Any analyzer failure carries the current gaps
// forward unchanged.
func (o *Orchestrator) analyze(ctx context.Context, st *State, plan *planner.Plan) {
	recent, err := o.recentDigests(ctx, st)
	if err != nil {
		o.log.Warn("research: recent evidence query failed", "run_id", st.RunID, "error", err)
		return
	}
	analysis, err := o.analyzer.Analyze(ctx, recent, st.Questions)
	if err != nil || analysis == nil {
		o.log.Warn("research: analyzer unusable, keeping gaps", "run_id", st.RunID, "error", err)
		analysis = planner.FallbackAnalysis(st.Gaps)
	}
	for _, in := range analysis.Insights {
		st.Insights = appendUnique(st.Insights, in)
	}
	if analysis.Gaps != nil {
		st.Gaps = analysis.Gaps
	}
}

// shouldStop applies the termination rule after each iteration.
func (o *Orchestrator) shouldStop(st *State, plan *planner.Plan) bool {
	if st.IterationCount >= o.opts.MaxIterations {
		return true
	}
	if !plan.ContinueAfter {
		return true
	}
	return st.Coverage >= o.opts.CoverageThreshold && len(st.Gaps) <= o.opts.MaxOpenGaps
}

// refreshCoverage recomputes covered types and counts from the store.
func (o *Orchestrator) refreshCoverage(ctx context.Context, st *State) error {
	byType, err := o.store.CountByType(ctx, st.Company)
	if err != nil {
		return err
	}
	st.CoveredTypes, st.Coverage = coverageOf(st.Thesis.RequiredTypes, byType)
	total := 0
	for _, n := range byType {
		total += n
	}
	st.EvidenceCount = total
	return nil
}

// synthesize fills the category index for report assembly.
func (o *Orchestrator) synthesize(ctx context.Context, st *State) error {
	st.EvidenceByCategory = make(map[evidence.Category][]string)
	for _, cat := range evidence.Categories() {
		items, err := o.store.ByCategory(ctx, st.Company, cat)
		if err != nil {
			return err
		}
		for _, it := range items {
			st.EvidenceByCategory[cat] = append(st.EvidenceByCategory[cat], it.ID)
		}
	}
	return nil
}

func (o *Orchestrator) snapshot(ctx context.Context, st *State) *planner.Snapshot {
	recent, err := o.recentDigests(ctx, st)
	if err != nil {
		o.log.Warn("research: snapshot evidence query failed", "run_id", st.RunID, "error", err)
	}
	return &planner.Snapshot{
		Company:               st.Company,
		TargetURL:             st.TargetURL,
		Thesis:                st.Thesis.ID,
		Iteration:             st.IterationCount,
		MaxIterations:         st.MaxIterations,
		RequiredEvidenceTypes: st.Thesis.RequiredTypes,
		CoveredTypes:          st.CoveredTypes,
		Gaps:                  st.Gaps,
		Insights:              st.Insights,
		Questions:             st.Questions,
		RecentEvidence:        recent,
	}
}

func (o *Orchestrator) recentDigests(ctx context.Context, st *State) ([]planner.EvidenceDigest, error) {
	items, err := o.store.Recent(ctx, st.Company, o.opts.RecentN)
	if err != nil {
		return nil, err
	}
	digests := make([]planner.EvidenceDigest, 0, len(items))
	for _, it := range items {
		digests = append(digests, planner.EvidenceDigest{
			Type:     it.Type,
			Category: string(it.Category),
			Summary:  it.Payload.Summary,
			URL:      it.Source.URL,
			Score:    it.Confidence,
		})
	}
	return digests, nil
}

func (o *Orchestrator) fatal(st *State, err error) (*State, error) {
	st.Phase = PhaseError
	st.Err = err.Error()
	st.FinishedAt = time.Now()
	o.record(st, "run_error", nil, nil, err, time.Since(st.StartedAt))
	o.log.Error("research: run failed", "run_id", st.RunID, "error", err)
	return st, &RunError{RunID: st.RunID, Phase: st.Phase, Err: err}
}

func (o *Orchestrator) record(st *State, operation string, params, result any, err error, d time.Duration) {
	if o.trail == nil {
		return
	}
	o.trail.Record(st.RunID, "orchestrator", operation, params, result, err, d)
}

func appendUnique(xs []string, x string) []string {
	for _, v := range xs {
		if v == x {
			return xs
		}
	}
	return append(xs, x)
}
