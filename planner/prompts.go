package planner

import (
	"fmt"
	"strings"
)

const planSystem = `You are the research director for a technical due-diligence engagement.
Given the current research state, produce the next collection plan as JSON:

{
  "phase": "targeted_search" | "gap_filling" | "validation" | "deep_dive",
  "reasoning": "<why these tool calls>",
  "questions": ["<open research question>", ...],
  "gaps": ["<required evidence type still missing>", ...],
  "tool_calls": [
    {"collector_type": "crawl" | "security" | "fingerprint" | "discovery",
     "purpose": "<what this job should establish>",
     "config": {}}
  ],
  "continue_after": true | false
}

Rules:
- Issue at most 4 tool calls per plan.
- Prefer "gap_filling" once more than half the required evidence types are covered.
- Set "continue_after" to false only when the remaining gaps cannot be closed
  by the available collectors.
- Respond with JSON only.`

const analyzeSystem = `You are a due-diligence analyst. Given recently collected evidence and
the open research questions, respond with JSON:

{
  "insights": ["<specific, evidence-backed finding>", ...],
  "discovered_info": {"<key>": <value>, ...},
  "gaps": ["<required evidence type still missing>", ...]
}

Rules:
- Every insight must be traceable to at least one evidence item.
- List a gap only when no evidence item covers it.
- Respond with JSON only.`

func planPrompt(snap *Snapshot) (string, error) {
	if snap == nil {
		return "", fmt.Errorf("nil snapshot")
	}
	var b strings.Builder
	b.WriteString(planSystem)
	b.WriteString("\n\n[RESEARCH STATE]\n")
	b.WriteString(marshalIndent(snap))
	return b.String(), nil
}

func analyzePrompt(recent []EvidenceDigest, questions []string) (string, error) {
	var b strings.Builder
	b.WriteString(analyzeSystem)
	b.WriteString("\n\n[RECENT EVIDENCE]\n")
	b.WriteString(marshalIndent(recent))
	b.WriteString("\n\n[RESEARCH QUESTIONS]\n")
	b.WriteString(marshalIndent(questions))
	return b.String(), nil
}
