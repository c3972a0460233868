package discover

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/probelab/scrutiny/collector"
)

type fakePage struct {
	text  string
	links []string
}

func (p *fakePage) Text(ctx context.Context) (string, error)      { return p.text, nil }
func (p *fakePage) Links(ctx context.Context) ([]string, error)   { return p.links, nil }
func (p *fakePage) Screenshot(ctx context.Context) ([]byte, error) { return []byte{0x89}, nil }
func (p *fakePage) Close() error                                   { return nil }

type fakeSession struct {
	pages  map[string]*fakePage
	visits []string
}

func (s *fakeSession) Visit(ctx context.Context, url string) (Page, error) {
	s.visits = append(s.visits, url)
	p, ok := s.pages[url]
	if !ok {
		return nil, errors.New("navigation failed")
	}
	return p, nil
}

func newTask(t *testing.T, target string, cfg collector.DiscoverConfig) *collector.Task {
	t.Helper()
	raw, err := collector.EncodeConfig(cfg)
	if err != nil {
		t.Fatalf("encode config: %v", err)
	}
	return &collector.Task{
		JobID:    "job-1",
		Type:     "discovery",
		Company:  "Acme",
		Target:   target,
		Config:   raw,
		Progress: func(int) {},
	}
}

func TestProductDiscovery(t *testing.T) {
	sess := &fakeSession{pages: map[string]*fakePage{
		"https://acme.test": {
			text:  "Acme is a workflow platform",
			links: []string{"https://acme.test/product", "https://acme.test/api/v1"},
		},
		"https://acme.test/product": {
			text:  "Features overview",
			links: []string{"https://acme.test/features/automation"},
		},
	}}
	agent := New(sess, nil, nil, Options{})

	task := newTask(t, "https://acme.test", collector.DiscoverConfig{Company: "Acme"})
	out, err := agent.Handle(context.Background(), task)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(out.Evidence) != 1 {
		t.Fatalf("got %d evidence items, want 1", len(out.Evidence))
	}
	item := out.Evidence[0]
	if item.Type != "api_discovery" {
		t.Errorf("got type %q, want api_discovery", item.Type)
	}
	if !strings.Contains(item.Payload.Raw, "/api/v1") {
		t.Errorf("raw payload missing discovered endpoint: %s", item.Payload.Raw)
	}
	// /features and /pricing were unreachable but visits succeeded overall
	if len(out.Errors) != 2 {
		t.Errorf("got %d errors, want 2: %v", len(out.Errors), out.Errors)
	}
}

func TestNoPageReachableFails(t *testing.T) {
	sess := &fakeSession{pages: map[string]*fakePage{}}
	agent := New(sess, nil, nil, Options{})

	task := newTask(t, "https://down.test", collector.DiscoverConfig{Company: "Acme"})
	if _, err := agent.Handle(context.Background(), task); err == nil {
		t.Fatal("expected error when nothing is reachable")
	}
}

func TestFollowUpQueuing(t *testing.T) {
	sess := &fakeSession{pages: map[string]*fakePage{
		"https://acme.test": {
			links: []string{
				"https://acme.test/docs/getting-started",
				"https://other.test/api", // off host, skipped
			},
		},
	}}
	var submitted []collector.DiscoverConfig
	sink := func(ctx context.Context, target, purpose string, cfg collector.DiscoverConfig) error {
		submitted = append(submitted, cfg)
		if !strings.Contains(target, "acme.test") {
			t.Errorf("unexpected follow-up target %q", target)
		}
		return nil
	}
	agent := New(sess, sink, nil, Options{})

	task := newTask(t, "https://acme.test", collector.DiscoverConfig{Company: "Acme", Depth: 0})
	if _, err := agent.Handle(context.Background(), task); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(submitted) != 1 {
		t.Fatalf("got %d follow-ups, want 1", len(submitted))
	}
	if submitted[0].Depth != 1 {
		t.Errorf("got depth %d, want 1", submitted[0].Depth)
	}
	if submitted[0].Mode != "technical_docs" {
		t.Errorf("got mode %q, want technical_docs", submitted[0].Mode)
	}
}

func TestDepthBoundStopsQueuing(t *testing.T) {
	sess := &fakeSession{pages: map[string]*fakePage{
		"https://acme.test": {links: []string{"https://acme.test/docs"}},
	}}
	calls := 0
	sink := func(ctx context.Context, target, purpose string, cfg collector.DiscoverConfig) error {
		calls++
		return nil
	}
	agent := New(sess, sink, nil, Options{})

	task := newTask(t, "https://acme.test", collector.DiscoverConfig{Company: "Acme", Depth: MaxDepth - 1})
	if _, err := agent.Handle(context.Background(), task); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if calls != 0 {
		t.Errorf("got %d follow-ups at max depth, want 0", calls)
	}
}

func TestDeepExplorationProbesAuxiliaryPaths(t *testing.T) {
	sess := &fakeSession{pages: map[string]*fakePage{
		"https://acme.test":             {text: "home"},
		"https://acme.test/robots.txt":  {text: "User-agent: *"},
		"https://acme.test/sitemap.xml": {text: "<urlset/>"},
	}}
	agent := New(sess, nil, nil, Options{})

	task := newTask(t, "https://acme.test", collector.DiscoverConfig{Company: "Acme", Mode: "deep_exploration"})
	out, err := agent.Handle(context.Background(), task)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	var sawSitemap bool
	for _, v := range sess.visits {
		if strings.HasSuffix(v, "/sitemap.xml") {
			sawSitemap = true
		}
	}
	if !sawSitemap {
		t.Errorf("sitemap.xml not visited: %v", sess.visits)
	}
	if len(out.Evidence) != 2 {
		t.Errorf("got %d evidence items, want 2 (one per objective)", len(out.Evidence))
	}
}

func TestModeForPath(t *testing.T) {
	tests := []struct {
		path, want string
	}{
		{"/api/v2", "api_endpoints"},
		{"/docs/install", "technical_docs"},
		{"/demo", "demo_access"},
		{"/pricing", "product_discovery"},
	}
	for _, tt := range tests {
		if got := modeForPath(tt.path); got != tt.want {
			t.Errorf("modeForPath(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}
