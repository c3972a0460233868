// Package fingerprint implements the technology fingerprinter worker.
//
// One fetch of the target is matched against an extensible signature table
// covering script sources, inline script globals, stylesheet hrefs, meta
// generator tags, response headers and cookies. Rule matches accumulate
// per-technology confidence, capped at 1.0. The worker also records SEO
// metadata and lightweight performance heuristics.
package fingerprint

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/probelab/scrutiny/collector"
	"github.com/probelab/scrutiny/evidence"
	"github.com/probelab/scrutiny/extract"
	"github.com/probelab/scrutiny/fetch"
	"github.com/probelab/scrutiny/idgen"
)

// Detection is one identified technology.
type Detection struct {
	Tech       string   `json:"tech"`
	Category   string   `json:"category"`
	Confidence float64  `json:"confidence"`
	Matched    []string `json:"matched"` // which rule kinds fired
}

// SEO is the metadata summary of the page.
type SEO struct {
	Title          string `json:"title"`
	Description    string `json:"description,omitempty"`
	HasCanonical   bool   `json:"has_canonical"`
	OpenGraphTags  int    `json:"open_graph_tags"`
	HasRobotsMeta  bool   `json:"has_robots_meta"`
	HasGenerator   bool   `json:"has_generator"`
}

// Perf holds lightweight page performance heuristics.
type Perf struct {
	FetchMs     int64 `json:"fetch_ms"`
	PageBytes   int   `json:"page_bytes"`
	ScriptCount int   `json:"script_count"`
	StyleCount  int   `json:"style_count"`
}

// Profile is the structured result of one fingerprint job.
type Profile struct {
	Target       string      `json:"target"`
	Technologies []Detection `json:"technologies"`
	SEO          SEO         `json:"seo"`
	Perf         Perf        `json:"perf"`
}

// Fingerprinter is the technology fingerprinter worker.
type Fingerprinter struct {
	fetcher *fetch.Fetcher
	ids     idgen.Generator
	log     *slog.Logger
	sigs    []Signature
}

// New creates a Fingerprinter. A nil sigs table uses DefaultSignatures.
func New(fetcher *fetch.Fetcher, logger *slog.Logger, sigs []Signature) *Fingerprinter {
	if logger == nil {
		logger = slog.Default()
	}
	if sigs == nil {
		sigs = DefaultSignatures
	}
	return &Fingerprinter{fetcher: fetcher, ids: idgen.Default, log: logger, sigs: sigs}
}

// Handle fingerprints the target and emits one technology_stack item with
// technologies sorted by descending confidence.
func (f *Fingerprinter) Handle(ctx context.Context, task *collector.Task) (*collector.Outcome, error) {
	var cfg collector.FingerprintConfig
	if err := collector.DecodeConfig(task.Config, &cfg); err != nil {
		return nil, err
	}

	task.Progress(10)
	res, err := f.fetcher.Get(ctx, task.Target)
	if err != nil {
		return nil, fmt.Errorf("fingerprint fetch: %w", err)
	}
	task.Progress(40)

	doc, err := extract.Parse(res.Body)
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}

	page := pageSurfaces{
		scriptSrcs: extract.ScriptSrcs(doc),
		inlineJS:   extract.InlineScripts(doc),
		cssHrefs:   extract.StylesheetHrefs(doc),
		generator:  extract.MetaTags(doc)["generator"],
		header:     res.Header,
		cookies:    res.Header.Values("Set-Cookie"),
	}

	profile := Profile{
		Target:       task.Target,
		Technologies: f.match(page),
		SEO:          seoProfile(doc),
		Perf: Perf{
			FetchMs:     res.Duration.Milliseconds(),
			PageBytes:   len(res.Body),
			ScriptCount: len(page.scriptSrcs) + len(page.inlineJS),
			StyleCount:  len(page.cssHrefs),
		},
	}
	task.Progress(85)

	raw, err := json.Marshal(profile)
	if err != nil {
		return nil, fmt.Errorf("marshal profile: %w", err)
	}

	var names []string
	for _, d := range profile.Technologies {
		names = append(names, d.Tech)
	}

	item := evidence.Item{
		ID:       f.ids(),
		Company:  task.Company,
		Category: evidence.CategoryTechnical,
		Type:     "technology_stack",
		Source: evidence.Source{
			URL:         task.Target,
			Tool:        "fingerprinter",
			CollectedAt: time.Now(),
		},
		Payload: evidence.Payload{
			Raw:     string(raw),
			Summary: fmt.Sprintf("%d technologies detected: %s", len(names), strings.Join(names, ", ")),
		},
		Confidence: 0.8,
		Relevance:  0.75,
	}

	f.log.Info("fingerprint: done", "job_id", task.JobID, "target", task.Target, "techs", len(names))
	return &collector.Outcome{
		Evidence: []evidence.Item{item},
		Summary:  item.Payload.Summary,
	}, nil
}

// pageSurfaces are the matchable surfaces of one fetched page.
type pageSurfaces struct {
	scriptSrcs []string
	inlineJS   []string
	cssHrefs   []string
	generator  string
	header     http.Header
	cookies    []string
}

func (f *Fingerprinter) match(page pageSurfaces) []Detection {
	var out []Detection
	for _, sig := range f.sigs {
		conf := 0.0
		var matched []string
		for _, rule := range sig.Rules {
			if ruleMatches(rule, page) {
				conf += rule.Weight
				matched = append(matched, string(rule.Kind))
			}
		}
		if conf == 0 {
			continue
		}
		if conf > 1.0 {
			conf = 1.0
		}
		out = append(out, Detection{
			Tech:       sig.Tech,
			Category:   sig.Category,
			Confidence: conf,
			Matched:    matched,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Confidence > out[j].Confidence
	})
	return out
}

func ruleMatches(rule Rule, page pageSurfaces) bool {
	switch rule.Kind {
	case KindScriptSrc:
		return anyContainsFold(page.scriptSrcs, rule.Pattern)
	case KindInlineJS:
		// Inline globals are case-sensitive identifiers.
		for _, js := range page.inlineJS {
			if strings.Contains(js, rule.Pattern) {
				return true
			}
		}
	case KindCSSHref:
		return anyContainsFold(page.cssHrefs, rule.Pattern)
	case KindMeta:
		return page.generator != "" &&
			strings.Contains(strings.ToLower(page.generator), strings.ToLower(rule.Pattern))
	case KindHeader:
		name, value, hasValue := strings.Cut(rule.Pattern, ":")
		got := page.header.Get(strings.TrimSpace(name))
		if got == "" {
			return false
		}
		if !hasValue {
			return true
		}
		return strings.Contains(strings.ToLower(got), strings.ToLower(strings.TrimSpace(value)))
	case KindCookie:
		return anyContainsFold(page.cookies, rule.Pattern)
	}
	return false
}

func anyContainsFold(haystacks []string, needle string) bool {
	needle = strings.ToLower(needle)
	for _, h := range haystacks {
		if strings.Contains(strings.ToLower(h), needle) {
			return true
		}
	}
	return false
}

func seoProfile(doc *html.Node) SEO {
	meta := extract.MetaTags(doc)
	og := 0
	for k := range meta {
		if strings.HasPrefix(k, "og:") {
			og++
		}
	}
	return SEO{
		Title:         extract.Title(doc),
		Description:   meta["description"],
		HasCanonical:  hasCanonical(doc),
		OpenGraphTags: og,
		HasRobotsMeta: meta["robots"] != "",
		HasGenerator:  meta["generator"] != "",
	}
}

func hasCanonical(doc *html.Node) bool {
	for _, n := range extract.FindAll(doc, atom.Link) {
		if strings.EqualFold(extract.Attr(n, "rel"), "canonical") {
			return true
		}
	}
	return false
}
