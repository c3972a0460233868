// Package discover implements the interactive discovery agent.
//
// A discovery job drives a real browser through a small set of objectives
// selected by mode (demo access, product discovery, technical docs, API
// endpoints, deep exploration). Visited pages are classified heuristically
// into API-endpoint, feature, and generic technical evidence. High-value
// discovered paths self-queue follow-up jobs with an explicit depth bound
// so recursion stays finite.
package discover

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/probelab/scrutiny/collector"
	"github.com/probelab/scrutiny/evidence"
	"github.com/probelab/scrutiny/idgen"
)

// MaxDepth bounds self-queued recursion.
const MaxDepth = 3

// maxFollowUps caps the follow-up jobs one discovery job may queue.
const maxFollowUps = 3

// JobSink queues a follow-up discovery job. Wired to broker.Submit.
type JobSink func(ctx context.Context, target, purpose string, cfg collector.DiscoverConfig) error

// objective is one goal-directed exploration step.
type objective struct {
	name  string
	paths []string // visited relative to the target
}

// objectivesFor selects the objective set for a discovery mode.
func objectivesFor(mode string) []objective {
	switch mode {
	case "demo_access":
		return []objective{
			{"locate demo or trial entry", []string{"", "/demo", "/trial", "/signup", "/get-started"}},
		}
	case "technical_docs":
		return []objective{
			{"survey developer documentation", []string{"/docs", "/documentation", "/developers", "/guides"}},
		}
	case "api_endpoints":
		return []objective{
			{"enumerate public API surface", []string{"/api", "/docs/api", "/api-reference", "/graphql"}},
		}
	case "deep_exploration":
		return []objective{
			{"map the product surface", []string{"", "/product", "/features"}},
			{"probe auxiliary paths", []string{"/sitemap.xml", "/robots.txt", "/.well-known/security.txt", "/openapi.json"}},
		}
	default: // product_discovery
		return []objective{
			{"understand the product offering", []string{"", "/product", "/features", "/pricing"}},
		}
	}
}

// followUpMarkers make a discovered link worth its own discovery job.
var followUpMarkers = []string{"api", "docs", "demo", "developer", "pricing"}

// Visit is the record of one rendered page.
type Visit struct {
	URL           string `json:"url"`
	TextLen       int    `json:"text_len"`
	LinkCount     int    `json:"link_count"`
	ScreenshotLen int    `json:"screenshot_len,omitempty"`
}

// ObjectiveResult is the structured data one objective yielded.
type ObjectiveResult struct {
	Objective    string   `json:"objective"`
	Visits       []Visit  `json:"visits"`
	APIEndpoints []string `json:"api_endpoints,omitempty"`
	FeatureLinks []string `json:"feature_links,omitempty"`
	DocLinks     []string `json:"doc_links,omitempty"`
}

// Options configures the agent.
type Options struct {
	MaxTextLen  int  // per-page text cap. Default: 3000.
	Screenshots bool // capture a screenshot per objective
}

func (o *Options) defaults() {
	if o.MaxTextLen <= 0 {
		o.MaxTextLen = 3000
	}
}

// Agent is the interactive discovery worker.
type Agent struct {
	session Session
	sink    JobSink
	ids     idgen.Generator
	log     *slog.Logger
	opts    Options
}

// New creates an Agent. sink may be nil, which disables follow-up queuing.
func New(session Session, sink JobSink, logger *slog.Logger, opts Options) *Agent {
	opts.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{session: session, sink: sink, ids: idgen.Default, log: logger, opts: opts}
}

// Handle runs all objectives for the configured mode. Per-page failures go
// into Outcome.Errors; the job fails only when nothing could be visited.
func (a *Agent) Handle(ctx context.Context, task *collector.Task) (*collector.Outcome, error) {
	var cfg collector.DiscoverConfig
	if err := collector.DecodeConfig(task.Config, &cfg); err != nil {
		return nil, err
	}
	if cfg.Mode == "" {
		cfg.Mode = "product_discovery"
	}

	base, err := url.Parse(task.Target)
	if err != nil {
		return nil, fmt.Errorf("parse target: %w", err)
	}

	log := a.log.With("job_id", task.JobID, "target", task.Target, "mode", cfg.Mode, "depth", cfg.Depth)
	objectives := objectivesFor(cfg.Mode)
	out := &collector.Outcome{}
	now := time.Now()
	visited := 0
	discovered := map[string]struct{}{}

	for i, obj := range objectives {
		task.Progress(i * 100 / len(objectives))

		result, links, errs := a.runObjective(ctx, base, obj)
		out.Errors = append(out.Errors, errs...)
		if len(result.Visits) == 0 {
			continue
		}
		visited += len(result.Visits)
		for _, l := range links {
			discovered[l] = struct{}{}
		}

		item, err := a.objectiveItem(task, cfg.Mode, result, now)
		if err != nil {
			out.Errors = append(out.Errors, "marshal "+obj.name+": "+err.Error())
			continue
		}
		out.Evidence = append(out.Evidence, *item)
	}

	if visited == 0 {
		return nil, fmt.Errorf("no objective page reachable: %s", strings.Join(out.Errors, "; "))
	}

	queued := a.queueFollowUps(ctx, task, cfg, base, discovered)

	out.Summary = fmt.Sprintf("mode %s: %d pages visited, %d evidence items, %d follow-ups queued",
		cfg.Mode, visited, len(out.Evidence), queued)
	log.Info("discover: done", "visited", visited, "follow_ups", queued, "errors", len(out.Errors))
	return out, nil
}

func (a *Agent) runObjective(ctx context.Context, base *url.URL, obj objective) (ObjectiveResult, []string, []string) {
	result := ObjectiveResult{Objective: obj.name}
	var allLinks, errs []string

	for _, path := range obj.paths {
		if ctx.Err() != nil {
			errs = append(errs, "cancelled: "+ctx.Err().Error())
			break
		}
		pageURL := joinPath(base, path)

		page, err := a.session.Visit(ctx, pageURL)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", pageURL, err))
			continue
		}

		visit := Visit{URL: pageURL}
		if text, err := page.Text(ctx); err == nil {
			if len(text) > a.opts.MaxTextLen {
				text = text[:a.opts.MaxTextLen]
			}
			visit.TextLen = len(text)
		}
		links, err := page.Links(ctx)
		if err == nil {
			visit.LinkCount = len(links)
			allLinks = append(allLinks, links...)
			classifyLinks(links, &result)
		}
		if a.opts.Screenshots && len(result.Visits) == 0 {
			if shot, err := page.Screenshot(ctx); err == nil {
				visit.ScreenshotLen = len(shot)
			}
		}
		page.Close()
		result.Visits = append(result.Visits, visit)
	}
	return result, allLinks, errs
}

func (a *Agent) objectiveItem(task *collector.Task, mode string, result ObjectiveResult, now time.Time) (*evidence.Item, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}

	etype := "interactive_discovery"
	category := evidence.CategoryTechnical
	confidence := 0.7
	if len(result.APIEndpoints) > 0 {
		etype = "api_discovery"
		confidence = 0.8
	}

	return &evidence.Item{
		ID:       a.ids(),
		Company:  task.Company,
		Category: category,
		Type:     etype,
		Source: evidence.Source{
			URL:         task.Target,
			Tool:        "discovery_agent",
			CollectedAt: now,
		},
		Payload: evidence.Payload{
			Raw: string(raw),
			Summary: fmt.Sprintf("%s (%s): %d pages, %d api endpoints, %d doc links",
				result.Objective, mode, len(result.Visits), len(result.APIEndpoints), len(result.DocLinks)),
		},
		Confidence: confidence,
		Relevance:  0.8,
	}, nil
}

// queueFollowUps submits discovery jobs for high-value discovered paths on
// the same host, respecting the depth bound.
func (a *Agent) queueFollowUps(ctx context.Context, task *collector.Task, cfg collector.DiscoverConfig, base *url.URL, discovered map[string]struct{}) int {
	if a.sink == nil || cfg.Depth >= MaxDepth-1 {
		return 0
	}

	queued := 0
	for link := range discovered {
		if queued >= maxFollowUps {
			break
		}
		u, err := url.Parse(link)
		if err != nil || u.Host != base.Host {
			continue
		}
		if !isHighValue(u.Path) || samePage(u, base) {
			continue
		}

		next := collector.DiscoverConfig{
			Company: cfg.Company,
			Mode:    modeForPath(u.Path),
			Depth:   cfg.Depth + 1,
		}
		purpose := fmt.Sprintf("follow-up on discovered path %s", u.Path)
		if err := a.sink(ctx, u.String(), purpose, next); err != nil {
			a.log.Warn("discover: follow-up submit failed", "url", u.String(), "error", err)
			continue
		}
		queued++
	}
	return queued
}

func classifyLinks(links []string, result *ObjectiveResult) {
	for _, l := range links {
		lower := strings.ToLower(l)
		switch {
		case strings.Contains(lower, "/api") || strings.Contains(lower, "graphql"):
			result.APIEndpoints = appendUnique(result.APIEndpoints, l)
		case strings.Contains(lower, "/docs") || strings.Contains(lower, "/developer"):
			result.DocLinks = appendUnique(result.DocLinks, l)
		case strings.Contains(lower, "/feature") || strings.Contains(lower, "/product"):
			result.FeatureLinks = appendUnique(result.FeatureLinks, l)
		}
	}
}

func isHighValue(path string) bool {
	p := strings.ToLower(path)
	for _, m := range followUpMarkers {
		if strings.Contains(p, m) {
			return true
		}
	}
	return false
}

func modeForPath(path string) string {
	p := strings.ToLower(path)
	switch {
	case strings.Contains(p, "api"):
		return "api_endpoints"
	case strings.Contains(p, "docs"), strings.Contains(p, "developer"):
		return "technical_docs"
	case strings.Contains(p, "demo"):
		return "demo_access"
	}
	return "product_discovery"
}

func joinPath(base *url.URL, path string) string {
	u := *base
	if path != "" {
		u.Path = strings.TrimSuffix(base.Path, "/") + path
	}
	return u.String()
}

func samePage(u, base *url.URL) bool {
	return strings.TrimSuffix(u.Path, "/") == strings.TrimSuffix(base.Path, "/")
}

func appendUnique(xs []string, x string) []string {
	for _, v := range xs {
		if v == x {
			return xs
		}
	}
	return append(xs, x)
}
