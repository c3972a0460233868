// Package crawl implements the page crawler worker.
//
// A crawl job visits the target URL plus a fixed set of well-known paths
// (pricing, docs, api, security, ...) up to a page budget of depth*3. Each
// page yields one evidence item with its visible text and a markdown
// rendition; the job also emits one aggregate item summarizing detected
// endpoints and client-side technologies across all pages.
package crawl

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"

	"github.com/probelab/scrutiny/collector"
	"github.com/probelab/scrutiny/docload"
	"github.com/probelab/scrutiny/evidence"
	"github.com/probelab/scrutiny/extract"
	"github.com/probelab/scrutiny/fetch"
	"github.com/probelab/scrutiny/idgen"
)

// wellKnownPaths are probed on every crawl, in priority order.
var wellKnownPaths = []string{
	"",
	"/pricing",
	"/docs",
	"/api",
	"/product",
	"/features",
	"/security",
	"/about",
	"/customers",
	"/integrations",
	"/blog",
	"/careers",
	"/changelog",
	"/status",
	"/contact",
}

// apiEndpointRe matches API-like paths in markup and script bodies.
var apiEndpointRe = regexp.MustCompile(`(?i)(/api/[a-z0-9_\-./{}]*|/v[0-9]+/[a-z0-9_\-./{}]+|/graphql[a-z0-9_\-./]*|/rest/[a-z0-9_\-./]+)`)

// clientSig is a quick client-side technology signature. The full signature
// table lives in the fingerprinter; the crawler only tags what it sees in
// passing.
type clientSig struct {
	tech    string
	pattern string // substring of script src or inline script
}

var clientSigs = []clientSig{
	{"React", "react"},
	{"Vue.js", "vue"},
	{"Angular", "angular"},
	{"Next.js", "__NEXT_DATA__"},
	{"Nuxt", "__NUXT__"},
	{"jQuery", "jquery"},
	{"Gatsby", "___gatsby"},
	{"Google Analytics", "googletagmanager"},
	{"Segment", "analytics.js"},
	{"Intercom", "intercom"},
	{"Stripe", "js.stripe.com"},
	{"HubSpot", "hs-scripts"},
}

// PageInfo is the structured record of one crawled page.
type PageInfo struct {
	URL        string            `json:"url"`
	Title      string            `json:"title"`
	StatusCode int               `json:"status_code"`
	TextLen    int               `json:"text_len"`
	DurationMs int64             `json:"duration_ms"`
	Techs      []string          `json:"techs,omitempty"`
	Forms      []extract.Form    `json:"forms,omitempty"`
	Meta       map[string]string `json:"meta,omitempty"`
	PDF        bool              `json:"pdf,omitempty"`

	endpoints []string // collected separately, reported in the aggregate
}

// Options configures the crawler.
type Options struct {
	DefaultDepth int // page budget = depth*3. Default: 2.
	MaxTextLen   int // per-page visible text cap. Default: 4000.
}

func (o *Options) defaults() {
	if o.DefaultDepth <= 0 {
		o.DefaultDepth = 2
	}
	if o.MaxTextLen <= 0 {
		o.MaxTextLen = 4000
	}
}

// Crawler is the page crawler worker.
type Crawler struct {
	fetcher  *fetch.Fetcher
	ids      idgen.Generator
	log      *slog.Logger
	md       *converter.Converter
	sanitize *bluemonday.Policy
	opts     Options
}

// New creates a Crawler.
func New(fetcher *fetch.Fetcher, logger *slog.Logger, opts Options) *Crawler {
	opts.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Crawler{
		fetcher: fetcher,
		ids:     idgen.Default,
		log:     logger,
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
		sanitize: bluemonday.UGCPolicy(),
		opts:     opts,
	}
}

// Handle crawls the target and its well-known paths. Per-page failures go
// into Outcome.Errors; the job only fails when every page fails.
func (c *Crawler) Handle(ctx context.Context, task *collector.Task) (*collector.Outcome, error) {
	var cfg collector.CrawlConfig
	if err := collector.DecodeConfig(task.Config, &cfg); err != nil {
		return nil, err
	}
	depth := cfg.Depth
	if depth <= 0 {
		depth = c.opts.DefaultDepth
	}
	budget := depth * 3

	baseURL, err := url.Parse(task.Target)
	if err != nil {
		return nil, fmt.Errorf("parse target: %w", err)
	}

	urls := c.pageURLs(baseURL, cfg.Paths, budget)
	log := c.log.With("job_id", task.JobID, "target", task.Target)
	log.Info("crawl: starting", "pages", len(urls), "depth", depth)

	out := &collector.Outcome{}
	if cfg.Snapshot {
		out.Errors = append(out.Errors, "snapshot: not supported over plain http, queue a discover job for visual capture")
	}
	var pages []PageInfo
	endpoints := map[string]struct{}{}
	techs := map[string]struct{}{}
	now := time.Now()

	for i, pageURL := range urls {
		if ctx.Err() != nil {
			out.Errors = append(out.Errors, "crawl cancelled: "+ctx.Err().Error())
			break
		}
		task.Progress(i * 100 / len(urls))

		item, info, err := c.crawlPage(ctx, task, pageURL, now)
		if err != nil {
			out.Errors = append(out.Errors, fmt.Sprintf("%s: %v", pageURL, err))
			log.Debug("crawl: page failed", "url", pageURL, "error", err)
			continue
		}

		out.Evidence = append(out.Evidence, *item)
		pages = append(pages, *info)
		for _, t := range info.Techs {
			techs[t] = struct{}{}
		}
		for _, e := range info.endpoints {
			endpoints[e] = struct{}{}
		}
	}

	if len(pages) == 0 {
		return nil, fmt.Errorf("all %d pages failed: %s", len(urls), strings.Join(out.Errors, "; "))
	}

	agg, err := c.aggregate(task, pages, sortedKeys(endpoints), sortedKeys(techs), now)
	if err != nil {
		out.Errors = append(out.Errors, "aggregate: "+err.Error())
	} else {
		out.Evidence = append(out.Evidence, *agg)
	}

	out.Summary = fmt.Sprintf("crawled %d/%d pages, %d endpoints, %d technologies",
		len(pages), len(urls), len(endpoints), len(techs))
	log.Info("crawl: done", "pages", len(pages), "failed", len(out.Errors))
	return out, nil
}

// pageURLs builds the visit list: seed, well-known paths, then extra
// configured paths, capped at budget.
func (c *Crawler) pageURLs(base *url.URL, extra []string, budget int) []string {
	seen := map[string]struct{}{}
	var urls []string
	add := func(path string) {
		if len(urls) >= budget {
			return
		}
		u := *base
		if path != "" {
			u.Path = strings.TrimSuffix(base.Path, "/") + path
		}
		s := u.String()
		if _, dup := seen[s]; dup {
			return
		}
		seen[s] = struct{}{}
		urls = append(urls, s)
	}
	for _, p := range wellKnownPaths {
		add(p)
	}
	for _, p := range extra {
		if !strings.HasPrefix(p, "/") {
			p = "/" + p
		}
		add(p)
	}
	return urls
}

func (c *Crawler) crawlPage(ctx context.Context, task *collector.Task, pageURL string, now time.Time) (*evidence.Item, *PageInfo, error) {
	res, err := c.fetcher.Get(ctx, pageURL)
	if err != nil {
		return nil, nil, err
	}

	info := &PageInfo{
		URL:        res.FinalURL,
		StatusCode: res.StatusCode,
		DurationMs: res.Duration.Milliseconds(),
	}

	if docload.IsPDF(res.Header.Get("Content-Type"), res.Body) {
		doc, err := docload.ExtractPDF(res.Body)
		if err != nil {
			return nil, nil, fmt.Errorf("pdf: %w", err)
		}
		info.Title = doc.Title
		info.PDF = true
		text := doc.Text
		if len(text) > c.opts.MaxTextLen {
			text = text[:c.opts.MaxTextLen]
		}
		info.TextLen = len(text)
		item := c.pageItem(task, pageURL, "documentation", now, evidence.Payload{
			Raw:     text,
			Summary: fmt.Sprintf("%s (PDF, %d pages)", doc.Title, doc.PageCount),
		})
		return item, info, nil
	}

	ex, err := extract.Extract(res.Body, extract.Options{MaxTextLen: c.opts.MaxTextLen})
	if err != nil {
		return nil, nil, fmt.Errorf("extract: %w", err)
	}
	info.Title = ex.Title
	info.TextLen = len(ex.Text)

	doc, err := extract.Parse(res.Body)
	if err == nil {
		info.Meta = extract.MetaTags(doc)
		info.Forms = extract.Forms(doc)
		info.Techs = detectClientTechs(doc)
		info.endpoints = detectEndpoints(doc, string(res.Body))
	}

	item := c.pageItem(task, pageURL, "page_content", now, evidence.Payload{
		Raw:       ex.Text,
		Processed: c.htmlToMarkdown(ex.HTML, pageURL, ex.Text),
		Summary:   ex.Title,
	})
	return item, info, nil
}

func (c *Crawler) pageItem(task *collector.Task, pageURL, etype string, now time.Time, payload evidence.Payload) *evidence.Item {
	return &evidence.Item{
		ID:       c.ids(),
		Company:  task.Company,
		Category: evidence.CategoryFor(etype),
		Type:     etype,
		Source: evidence.Source{
			URL:         pageURL,
			Tool:        "crawler",
			CollectedAt: now,
		},
		Payload:    payload,
		Confidence: 0.75,
		Relevance:  relevanceFor(pageURL),
	}
}

func (c *Crawler) aggregate(task *collector.Task, pages []PageInfo, endpoints, techs []string, now time.Time) (*evidence.Item, error) {
	raw, err := json.Marshal(map[string]any{
		"pages":        pages,
		"endpoints":    endpoints,
		"technologies": techs,
	})
	if err != nil {
		return nil, err
	}
	item := &evidence.Item{
		ID:       c.ids(),
		Company:  task.Company,
		Category: evidence.CategoryTechnical,
		Type:     "deep_crawl",
		Source: evidence.Source{
			URL:         task.Target,
			Tool:        "crawler",
			CollectedAt: now,
		},
		Payload: evidence.Payload{
			Raw: string(raw),
			Summary: fmt.Sprintf("%d pages crawled; endpoints: %s; technologies: %s",
				len(pages), strings.Join(endpoints, ", "), strings.Join(techs, ", ")),
		},
		Confidence: 0.8,
		Relevance:  0.8,
	}
	return item, nil
}

// htmlToMarkdown converts sanitized HTML to markdown, falling back to the
// plain text when conversion fails or comes back empty.
func (c *Crawler) htmlToMarkdown(html, sourceURL, fallback string) string {
	if html == "" {
		return fallback
	}
	clean := c.sanitize.Sanitize(html)
	result, err := c.md.ConvertString(clean, converter.WithDomain(sourceURL))
	if err != nil || strings.TrimSpace(result) == "" {
		return fallback
	}
	return strings.TrimSpace(result)
}

// relevanceFor prioritizes follow-up exploration of commercially and
// technically telling paths.
func relevanceFor(pageURL string) float64 {
	p := strings.ToLower(pageURL)
	switch {
	case strings.Contains(p, "/api"), strings.Contains(p, "/docs"):
		return 0.9
	case strings.Contains(p, "/pricing"), strings.Contains(p, "/security"):
		return 0.85
	case strings.Contains(p, "/product"), strings.Contains(p, "/features"):
		return 0.7
	}
	return 0.5
}
