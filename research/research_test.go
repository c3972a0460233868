package research

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/probelab/scrutiny/broker"
	"github.com/probelab/scrutiny/collector"
	"github.com/probelab/scrutiny/dbopen"
	"github.com/probelab/scrutiny/evidence"
	"github.com/probelab/scrutiny/idgen"
	"github.com/probelab/scrutiny/planner"
)

type fixture struct {
	broker *broker.Broker
	store  *evidence.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(evidence.Schema))
	b, err := broker.New(db, broker.Options{
		Visibility:   5 * time.Second,
		PollInterval: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("broker.New: %v", err)
	}
	store, err := evidence.NewStore(db)
	if err != nil {
		t.Fatalf("evidence.NewStore: %v", err)
	}
	return &fixture{broker: b, store: store}
}

func (f *fixture) run(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.broker.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

// registerCrawler installs a crawl worker that appends one item of the
// given type per job.
func (f *fixture) registerCrawler(evidenceType string) {
	sink := func(ctx context.Context, items ...evidence.Item) error {
		return f.store.Append(ctx, items...)
	}
	handler := collector.HandlerFunc(func(ctx context.Context, task *collector.Task) (*collector.Outcome, error) {
		return &collector.Outcome{
			Evidence: []evidence.Item{{
				ID:      idgen.New(),
				Company: task.Company,
				Type:    evidenceType,
				Source:  evidence.Source{URL: task.Target, Tool: "crawler", CollectedAt: time.Now()},
				Payload: evidence.Payload{Summary: "crawled " + task.Target},
			}},
			Summary: "ok",
		}, nil
	})
	f.broker.Register(broker.TypeCrawl, 2, collector.Worker(f.broker, handler, sink))
}

func crawlPlanner(continueAfter bool) planner.Planner {
	return planner.PlannerFunc(func(ctx context.Context, snap *planner.Snapshot) (*planner.Plan, error) {
		return &planner.Plan{
			Phase: planner.PhaseTargetedSearch,
			ToolCalls: []planner.ToolCall{
				{CollectorType: "crawl", Purpose: "sweep"},
			},
			ContinueAfter: continueAfter,
		}, nil
	})
}

func noopAnalyzer() planner.Analyzer {
	return planner.AnalyzerFunc(func(ctx context.Context, recent []planner.EvidenceDigest, questions []string) (*planner.Analysis, error) {
		return &planner.Analysis{}, nil
	})
}

func fastOpts() Options {
	return Options{
		MaxIterations: 3,
		AwaitTimeout:  10 * time.Second,
		RunDeadline:   time.Minute,
	}
}

func TestRunTerminatesAtMaxIterations(t *testing.T) {
	f := newFixture(t)
	f.registerCrawler("page_content")
	f.run(t)

	// a planner that always wants to continue must still stop at the cap
	o := New(f.broker, f.store, crawlPlanner(true), noopAnalyzer(), nil, fastOpts())
	st, err := o.Run(context.Background(), "Acme", "https://acme.test", "general")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if st.IterationCount != 3 {
		t.Errorf("got %d iterations, want 3", st.IterationCount)
	}
	if st.Phase != PhaseComplete {
		t.Errorf("got phase %s, want complete", st.Phase)
	}
}

func TestIterationCountStrictlyIncrements(t *testing.T) {
	f := newFixture(t)
	f.registerCrawler("page_content")
	f.run(t)

	var mu sync.Mutex
	var seen []int
	p := planner.PlannerFunc(func(ctx context.Context, snap *planner.Snapshot) (*planner.Plan, error) {
		mu.Lock()
		seen = append(seen, snap.Iteration)
		mu.Unlock()
		return &planner.Plan{
			ToolCalls:     []planner.ToolCall{{CollectorType: "crawl", Purpose: "sweep"}},
			ContinueAfter: true,
		}, nil
	})

	o := New(f.broker, f.store, p, noopAnalyzer(), nil, fastOpts())
	if _, err := o.Run(context.Background(), "Acme", "https://acme.test", "general"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []int{1, 2, 3}
	if len(seen) != len(want) {
		t.Fatalf("planner called %d times, want %d", len(seen), len(want))
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("iteration %d: snapshot said %d, want %d", i, seen[i], want[i])
		}
	}
}

func TestContinueAfterFalseStopsEarly(t *testing.T) {
	f := newFixture(t)
	f.registerCrawler("page_content")
	f.run(t)

	o := New(f.broker, f.store, crawlPlanner(false), noopAnalyzer(), nil, fastOpts())
	st, err := o.Run(context.Background(), "Acme", "https://acme.test", "general")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if st.IterationCount != 1 {
		t.Errorf("got %d iterations, want 1", st.IterationCount)
	}
}

func TestCoverageDecision(t *testing.T) {
	required := make([]string, 10)
	byType := map[string]int{}
	for i := range required {
		required[i] = fmt.Sprintf("type_%d", i)
	}
	for i := 0; i < 8; i++ {
		byType[required[i]] = 1
	}

	covered, coverage := coverageOf(required, byType)
	if len(covered) != 8 || coverage != 0.8 {
		t.Fatalf("got %d covered at %.2f, want 8 at 0.80", len(covered), coverage)
	}

	opts := Options{}
	opts.defaults()
	o := &Orchestrator{opts: opts}
	plan := &planner.Plan{ContinueAfter: true}

	st := &State{IterationCount: 1, Coverage: coverage, Gaps: []string{"g1", "g2"}}
	if !o.shouldStop(st, plan) {
		t.Error("coverage 0.8 with 2 gaps should terminate")
	}

	_, coverage7 := coverageOf(required, map[string]int{
		required[0]: 1, required[1]: 1, required[2]: 1, required[3]: 1,
		required[4]: 1, required[5]: 1, required[6]: 1,
	})
	st = &State{IterationCount: 1, Coverage: coverage7, Gaps: []string{"g1", "g2"}}
	if o.shouldStop(st, plan) {
		t.Error("coverage 0.7 should not terminate")
	}
}

func TestFailedJobDoesNotAbortRun(t *testing.T) {
	f := newFixture(t)
	f.broker.Register(broker.TypeCrawl, 2, broker.WorkerFunc(func(ctx context.Context, job *broker.Job) (any, error) {
		return nil, errors.New("dial tcp: no such host")
	}))
	f.run(t)

	opts := fastOpts()
	opts.MaxIterations = 2
	o := New(f.broker, f.store, crawlPlanner(true), noopAnalyzer(), nil, opts)
	st, err := o.Run(context.Background(), "Acme", "https://unreachable.invalid", "general")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if st.Phase != PhaseComplete {
		t.Fatalf("got phase %s, want complete", st.Phase)
	}
	if len(st.CompletedJobs) != 2 {
		t.Fatalf("got %d completed jobs, want 2", len(st.CompletedJobs))
	}
	for _, rec := range st.CompletedJobs {
		if rec.Status != string(broker.StatusFailed) {
			t.Errorf("job %s status %q, want failed", rec.JobID, rec.Status)
		}
		if rec.Error == "" {
			t.Errorf("job %s has no captured error", rec.JobID)
		}
	}

	n, err := f.store.Count(context.Background(), "Acme")
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 0 {
		t.Errorf("store has %d items after failed jobs, want 0", n)
	}
}

func TestUnknownThesisIsFatal(t *testing.T) {
	f := newFixture(t)
	o := New(f.broker, f.store, crawlPlanner(false), noopAnalyzer(), nil, fastOpts())

	st, err := o.Run(context.Background(), "Acme", "https://acme.test", "world-domination")
	if err == nil {
		t.Fatal("expected error for unknown thesis")
	}
	var runErr *RunError
	if !errors.As(err, &runErr) {
		t.Fatalf("error type %T, want *RunError", err)
	}
	var thesisErr *ErrUnknownThesis
	if !errors.As(err, &thesisErr) {
		t.Fatalf("cause type %T, want *ErrUnknownThesis", errors.Unwrap(err))
	}
	if st.Phase != PhaseError {
		t.Errorf("got phase %s, want error", st.Phase)
	}
}

func TestRunSynthesizesCategoryIndex(t *testing.T) {
	f := newFixture(t)
	f.registerCrawler("technology_stack")
	f.run(t)

	analyzer := planner.AnalyzerFunc(func(ctx context.Context, recent []planner.EvidenceDigest, questions []string) (*planner.Analysis, error) {
		return &planner.Analysis{Insights: []string{"modern stack"}, Gaps: []string{}}, nil
	})
	o := New(f.broker, f.store, crawlPlanner(false), analyzer, nil, fastOpts())
	st, err := o.Run(context.Background(), "Acme", "https://acme.test", "general")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(st.EvidenceByCategory[evidence.CategoryTechnical]) != 1 {
		t.Errorf("technical category index = %v", st.EvidenceByCategory)
	}
	if len(st.Insights) != 1 || st.Insights[0] != "modern stack" {
		t.Errorf("insights = %v", st.Insights)
	}
	if st.EvidenceCount != 1 {
		t.Errorf("got %d evidence items, want 1", st.EvidenceCount)
	}
	if len(st.CoveredTypes) != 1 || st.CoveredTypes[0] != "technology_stack" {
		t.Errorf("covered types = %v", st.CoveredTypes)
	}
}

func TestMalformedPlannerFallsBackToCrawl(t *testing.T) {
	f := newFixture(t)
	f.registerCrawler("page_content")
	f.run(t)

	p := planner.PlannerFunc(func(ctx context.Context, snap *planner.Snapshot) (*planner.Plan, error) {
		return nil, errors.New("backend exploded")
	})
	opts := fastOpts()
	opts.MaxIterations = 1
	o := New(f.broker, f.store, p, noopAnalyzer(), nil, opts)
	st, err := o.Run(context.Background(), "Acme", "https://acme.test", "general")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if st.Phase != PhaseComplete {
		t.Fatalf("got phase %s, want complete", st.Phase)
	}
	if len(st.CompletedJobs) != 1 || st.CompletedJobs[0].Status != string(broker.StatusSucceeded) {
		t.Errorf("fallback crawl did not run: %+v", st.CompletedJobs)
	}
}

func TestThesisTable(t *testing.T) {
	for _, id := range []string{"accelerate-organic-growth", "buy-and-build", "digital-transformation", "general"} {
		th, err := ThesisFor(id)
		if err != nil {
			t.Fatalf("ThesisFor(%q): %v", id, err)
		}
		if len(th.RequiredTypes) == 0 {
			t.Errorf("thesis %q has no required types", id)
		}
		if len(th.SeedQuestions) == 0 {
			t.Errorf("thesis %q has no seed questions", id)
		}
	}

	th, err := ThesisFor("")
	if err != nil {
		t.Fatalf("ThesisFor empty: %v", err)
	}
	if th.ID != "general" {
		t.Errorf("empty thesis resolved to %q, want general", th.ID)
	}
}
