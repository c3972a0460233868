package research

import "fmt"

// Thesis fixes what a research run must establish: the evidence types that
// count toward coverage and the keywords that seed the first questions.
type Thesis struct {
	ID            string
	Label         string
	RequiredTypes []string
	FocusKeywords []string
	SeedQuestions []string
}

// ErrUnknownThesis reports a thesis id with no table entry.
type ErrUnknownThesis struct{ ID string }

func (e *ErrUnknownThesis) Error() string { return fmt.Sprintf("unknown thesis %q", e.ID) }

var theses = map[string]Thesis{
	"accelerate-organic-growth": {
		ID:    "accelerate-organic-growth",
		Label: "Accelerate Organic Growth",
		RequiredTypes: []string{
			"technology_stack", "deep_crawl", "page_content",
			"api_discovery", "security_assessment",
			"market_position", "growth_signals", "customer_evidence",
		},
		FocusKeywords: []string{"scalability", "product velocity", "self-serve", "integrations", "pricing tiers"},
		SeedQuestions: []string{
			"Can the product and platform scale with accelerated customer acquisition?",
			"How mature is the self-serve and integration surface?",
		},
	},
	"buy-and-build": {
		ID:    "buy-and-build",
		Label: "Buy and Build",
		RequiredTypes: []string{
			"technology_stack", "deep_crawl", "api_discovery",
			"security_assessment", "interactive_discovery",
			"integration_surface", "architecture_signals", "team_signals",
		},
		FocusKeywords: []string{"api", "platform", "extensibility", "multi-tenant", "acquisition readiness"},
		SeedQuestions: []string{
			"Is the architecture modular enough to absorb bolt-on acquisitions?",
			"How open and documented is the integration surface?",
		},
	},
	"digital-transformation": {
		ID:    "digital-transformation",
		Label: "Digital Transformation",
		RequiredTypes: []string{
			"technology_stack", "page_content", "security_assessment",
			"documentation", "deep_crawl",
			"legacy_signals", "modernization_evidence", "compliance_posture",
		},
		FocusKeywords: []string{"legacy", "migration", "cloud", "compliance", "modernization"},
		SeedQuestions: []string{
			"How much of the stack is legacy versus modern infrastructure?",
			"What is the security and compliance posture today?",
		},
	},
	"general": {
		ID:    "general",
		Label: "General Diligence",
		RequiredTypes: []string{
			"technology_stack", "deep_crawl", "page_content",
			"security_assessment", "api_discovery", "interactive_discovery",
		},
		FocusKeywords: []string{"product", "technology", "security"},
		SeedQuestions: []string{
			"What does the company build and on what stack?",
			"Are there material security weaknesses visible from the outside?",
		},
	},
}

// ThesisFor resolves a thesis id. An empty id means general diligence; an
// unknown id is a run-fatal error.
func ThesisFor(id string) (Thesis, error) {
	if id == "" {
		id = "general"
	}
	t, ok := theses[id]
	if !ok {
		return Thesis{}, &ErrUnknownThesis{ID: id}
	}
	return t, nil
}

// Theses lists the known thesis ids.
func Theses() []string {
	ids := make([]string, 0, len(theses))
	for id := range theses {
		ids = append(ids, id)
	}
	return ids
}
