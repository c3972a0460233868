// Package evidence defines Evidence Items and their append-only store.
//
// Items are immutable once created; corrections are new items. Append is
// idempotent by id (last write wins) and safe under concurrent writers.
package evidence

import (
	"strings"
	"time"
)

// Category buckets evidence by subject area.
type Category string

const (
	CategoryTechnical Category = "technical"
	CategorySecurity  Category = "security"
	CategoryMarket    Category = "market"
	CategoryTeam      Category = "team"
	CategoryFinancial Category = "financial"
	CategoryGeneral   Category = "general"
)

// Categories lists all evidence categories in display order.
func Categories() []Category {
	return []Category{
		CategoryTechnical, CategorySecurity, CategoryMarket,
		CategoryTeam, CategoryFinancial, CategoryGeneral,
	}
}

// Source identifies where an item came from.
type Source struct {
	URL         string    `json:"url"`
	Tool        string    `json:"tool"`
	CollectedAt time.Time `json:"collected_at"`
}

// Payload is the structured content of an item.
type Payload struct {
	Raw       string `json:"raw,omitempty"`
	Processed string `json:"processed,omitempty"`
	Summary   string `json:"summary,omitempty"`
}

// Item is one atomic piece of collected information about a target.
type Item struct {
	ID         string   `json:"id"`
	Company    string   `json:"company"`
	Category   Category `json:"category"`
	Type       string   `json:"type"`
	Source     Source   `json:"source"`
	Payload    Payload  `json:"payload"`
	Confidence float64  `json:"confidence"` // extraction certainty [0,1]
	Relevance  float64  `json:"relevance"`  // follow-up priority [0,1]
}

// CategoryFor infers a category from a fine-grained evidence type when the
// producing worker did not assign one.
func CategoryFor(evidenceType string) Category {
	t := strings.ToLower(evidenceType)
	switch {
	case strings.Contains(t, "security"), strings.Contains(t, "ssl"),
		strings.Contains(t, "tls"), strings.Contains(t, "compliance"):
		return CategorySecurity
	case strings.Contains(t, "tech"), strings.Contains(t, "api"),
		strings.Contains(t, "stack"), strings.Contains(t, "crawl"),
		strings.Contains(t, "infrastructure"), strings.Contains(t, "code"):
		return CategoryTechnical
	case strings.Contains(t, "market"), strings.Contains(t, "competitor"),
		strings.Contains(t, "pricing"), strings.Contains(t, "customer"):
		return CategoryMarket
	case strings.Contains(t, "team"), strings.Contains(t, "founder"),
		strings.Contains(t, "leadership"), strings.Contains(t, "career"):
		return CategoryTeam
	case strings.Contains(t, "financ"), strings.Contains(t, "revenue"),
		strings.Contains(t, "funding"):
		return CategoryFinancial
	}
	return CategoryGeneral
}
