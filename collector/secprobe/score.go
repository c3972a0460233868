package secprobe

// Severity grades one finding.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// deductions is the per-severity score penalty. Kept as a variable so the
// policy is adjustable without touching the scorer.
var deductions = map[Severity]int{
	SeverityCritical: 25,
	SeverityHigh:     15,
	SeverityMedium:   8,
	SeverityLow:      3,
	SeverityInfo:     1,
}

// Score aggregates findings into a 0-100 score, floored at 0.
func Score(findings []Finding) int {
	score := 100
	for _, f := range findings {
		score -= deductions[f.Severity]
	}
	if score < 0 {
		score = 0
	}
	return score
}
