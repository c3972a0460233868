// Package report renders a finished research run as markdown. It is a
// thin read-only view over the run state and the evidence store; no
// analysis happens here.
package report

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/probelab/scrutiny/evidence"
	"github.com/probelab/scrutiny/research"
)

// maxItemsPerCategory keeps the evidence sections readable.
const maxItemsPerCategory = 10

// Assembler renders reports from run state plus stored evidence.
type Assembler struct {
	store *evidence.Store
}

func New(store *evidence.Store) *Assembler {
	return &Assembler{store: store}
}

// Render produces the markdown report for a run. Works for complete and
// errored runs; an errored run yields a short failure report.
func (a *Assembler) Render(ctx context.Context, st *research.State) (string, error) {
	var b strings.Builder

	fmt.Fprintf(&b, "# Due Diligence Research Report: %s\n\n", st.Company)
	fmt.Fprintf(&b, "- Target: %s\n", st.TargetURL)
	fmt.Fprintf(&b, "- Thesis: %s\n", st.Thesis.Label)
	fmt.Fprintf(&b, "- Run: %s\n", st.RunID)
	fmt.Fprintf(&b, "- Started: %s\n", st.StartedAt.Format(time.RFC3339))
	if !st.FinishedAt.IsZero() {
		fmt.Fprintf(&b, "- Duration: %s\n", st.FinishedAt.Sub(st.StartedAt).Round(time.Second))
	}
	fmt.Fprintf(&b, "- Iterations: %d of %d\n", st.IterationCount, st.MaxIterations)
	fmt.Fprintf(&b, "- Evidence collected: %d items\n", st.EvidenceCount)
	fmt.Fprintf(&b, "- Coverage: %.0f%% (%d of %d required evidence types)\n\n",
		st.Coverage*100, len(st.CoveredTypes), len(st.Thesis.RequiredTypes))

	if st.Phase == research.PhaseError {
		fmt.Fprintf(&b, "## Run Failed\n\n%s\n", st.Err)
		return b.String(), nil
	}

	if len(st.Insights) > 0 {
		b.WriteString("## Key Insights\n\n")
		for _, in := range st.Insights {
			fmt.Fprintf(&b, "- %s\n", in)
		}
		b.WriteString("\n")
	}

	if len(st.Gaps) > 0 {
		b.WriteString("## Open Gaps\n\n")
		b.WriteString("Evidence the run could not establish; findings below are partial on these axes.\n\n")
		for _, g := range st.Gaps {
			fmt.Fprintf(&b, "- %s\n", g)
		}
		b.WriteString("\n")
	}

	for _, cat := range evidence.Categories() {
		if err := a.renderCategory(ctx, &b, st, cat); err != nil {
			return "", err
		}
	}

	a.renderJobs(&b, st)
	return b.String(), nil
}

func (a *Assembler) renderCategory(ctx context.Context, b *strings.Builder, st *research.State, cat evidence.Category) error {
	if len(st.EvidenceByCategory[cat]) == 0 {
		return nil
	}
	items, err := a.store.ByCategory(ctx, st.Company, cat)
	if err != nil {
		return fmt.Errorf("load %s evidence: %w", cat, err)
	}
	if len(items) == 0 {
		return nil
	}
	if len(items) > maxItemsPerCategory {
		items = items[:maxItemsPerCategory]
	}

	fmt.Fprintf(b, "## %s Evidence\n\n", titleCase(string(cat)))
	for _, it := range items {
		summary := it.Payload.Summary
		if summary == "" {
			summary = it.Type
		}
		fmt.Fprintf(b, "- **%s** (confidence %.2f): %s\n", it.Type, it.Confidence, summary)
		if it.Source.URL != "" {
			fmt.Fprintf(b, "  - source: %s via %s\n", it.Source.URL, it.Source.Tool)
		}
	}
	b.WriteString("\n")
	return nil
}

func (a *Assembler) renderJobs(b *strings.Builder, st *research.State) {
	if len(st.CompletedJobs) == 0 {
		return
	}
	b.WriteString("## Collection Jobs\n\n")
	b.WriteString("| Iteration | Type | Status | Purpose |\n")
	b.WriteString("|---|---|---|---|\n")
	for _, j := range st.CompletedJobs {
		fmt.Fprintf(b, "| %d | %s | %s | %s |\n", j.Iteration, j.Type, j.Status, escapeCell(j.Purpose))
	}
	b.WriteString("\n")
	failed := 0
	for _, j := range st.CompletedJobs {
		if j.Status != "succeeded" {
			failed++
		}
	}
	if failed > 0 {
		fmt.Fprintf(b, "%d of %d jobs did not succeed; see the audit trail for details.\n\n", failed, len(st.CompletedJobs))
	}
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", "\\|")
}
