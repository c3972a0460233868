package report

import (
	"context"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/probelab/scrutiny/dbopen"
	"github.com/probelab/scrutiny/evidence"
	"github.com/probelab/scrutiny/research"
)

func testState(t *testing.T) (*Assembler, *research.State, *evidence.Store) {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(evidence.Schema))
	store, err := evidence.NewStore(db)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	thesis, err := research.ThesisFor("general")
	if err != nil {
		t.Fatalf("ThesisFor: %v", err)
	}
	st := &research.State{
		RunID:          "run-1",
		Company:        "Acme",
		TargetURL:      "https://acme.test",
		Thesis:         thesis,
		Phase:          research.PhaseComplete,
		IterationCount: 2,
		MaxIterations:  5,
		Coverage:       0.5,
		CoveredTypes:   []string{"technology_stack", "page_content", "security_assessment"},
		EvidenceCount:  2,
		Insights:       []string{"Runs on React and Cloudflare"},
		Gaps:           []string{"api_discovery"},
		StartedAt:      time.Now().Add(-10 * time.Minute),
		FinishedAt:     time.Now(),
		CompletedJobs: []research.JobRecord{
			{JobID: "j1", Type: "crawl", Status: "succeeded", Purpose: "sweep", Iteration: 1},
			{JobID: "j2", Type: "security", Status: "failed", Purpose: "probe | headers", Iteration: 2},
		},
	}
	return New(store), st, store
}

func TestRenderCompleteRun(t *testing.T) {
	a, st, store := testState(t)

	items := []evidence.Item{
		{
			ID: "e1", Company: "Acme", Category: evidence.CategoryTechnical, Type: "technology_stack",
			Source:  evidence.Source{URL: "https://acme.test", Tool: "fingerprinter", CollectedAt: time.Now()},
			Payload: evidence.Payload{Summary: "React, Cloudflare"}, Confidence: 0.8,
		},
		{
			ID: "e2", Company: "Acme", Category: evidence.CategorySecurity, Type: "security_assessment",
			Source:  evidence.Source{URL: "https://acme.test", Tool: "security_prober", CollectedAt: time.Now()},
			Payload: evidence.Payload{Summary: "score 72, HSTS missing"}, Confidence: 0.85,
		},
	}
	if err := store.Append(context.Background(), items...); err != nil {
		t.Fatalf("Append: %v", err)
	}
	st.EvidenceByCategory = map[evidence.Category][]string{
		evidence.CategoryTechnical: {"e1"},
		evidence.CategorySecurity:  {"e2"},
	}

	out, err := a.Render(context.Background(), st)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	for _, want := range []string{
		"# Due Diligence Research Report: Acme",
		"Coverage: 50%",
		"## Key Insights",
		"Runs on React and Cloudflare",
		"## Open Gaps",
		"api_discovery",
		"## Technical Evidence",
		"React, Cloudflare",
		"## Security Evidence",
		"score 72, HSTS missing",
		"## Collection Jobs",
		"probe \\| headers",
		"1 of 2 jobs did not succeed",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q", want)
		}
	}
}

func TestRenderErroredRun(t *testing.T) {
	a, st, _ := testState(t)
	st.Phase = research.PhaseError
	st.Err = "run deadline: context deadline exceeded"

	out, err := a.Render(context.Background(), st)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(out, "## Run Failed") {
		t.Error("failure section missing")
	}
	if strings.Contains(out, "## Key Insights") {
		t.Error("errored run should not render insights")
	}
}
