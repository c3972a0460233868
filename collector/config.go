package collector

import (
	"encoding/json"
	"fmt"

	"github.com/probelab/scrutiny/broker"
)

// Job configs form a tagged union keyed by collector type. The planner
// emits one of these per tool call; the matching worker decodes it.

// CrawlConfig configures a page crawler job.
type CrawlConfig struct {
	Company string   `json:"company"`
	Depth   int      `json:"depth,omitempty"` // page budget = depth*3
	Paths   []string `json:"paths,omitempty"` // extra paths beyond the well-known set
	// Snapshot requests visual captures. The HTTP crawler cannot take
	// them; it records the request in Outcome.Errors so the planner sees
	// the miss and can queue a discover job instead.
	Snapshot bool `json:"snapshot,omitempty"`
}

// ProbeConfig configures a security prober job.
type ProbeConfig struct {
	Company string `json:"company"`
}

// FingerprintConfig configures a technology fingerprinter job.
type FingerprintConfig struct {
	Company string `json:"company"`
}

// DiscoverConfig configures an interactive discovery job.
type DiscoverConfig struct {
	Company string `json:"company"`
	// Mode selects the objective set: demo_access, product_discovery,
	// technical_docs, api_endpoints, deep_exploration.
	Mode string `json:"mode,omitempty"`
	// Depth tracks self-queued recursion. Jobs at depth >= 3 never queue
	// follow-ups.
	Depth int `json:"depth,omitempty"`
}

// EncodeConfig wraps a typed config for submission.
func EncodeConfig(v any) (json.RawMessage, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("collector: encode config: %w", err)
	}
	return data, nil
}

// DecodeConfig decodes a task config into the worker's typed variant.
// An empty config decodes to the zero value.
func DecodeConfig(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("collector: decode config: %w", err)
	}
	return nil
}

// ConfigFor returns the zero-value typed config for a collector type.
func ConfigFor(t broker.JobType) any {
	switch t {
	case broker.TypeCrawl:
		return &CrawlConfig{}
	case broker.TypeSecurity:
		return &ProbeConfig{}
	case broker.TypeFingerprint:
		return &FingerprintConfig{}
	case broker.TypeDiscovery:
		return &DiscoverConfig{}
	}
	return nil
}
