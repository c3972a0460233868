package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	genai "google.golang.org/genai"

	"github.com/probelab/scrutiny/jsonflex"
)

// generateFunc issues one JSON-mode model call. Split out so tests can
// substitute a canned backend without a live API key.
type generateFunc func(ctx context.Context, prompt string) (string, error)

// GeminiConfig configures the Gemini-backed Planner/Analyzer.
type GeminiConfig struct {
	Model   string        // default: gemini-2.5-flash
	APIKey  string        // empty = the SDK reads GEMINI_API_KEY
	Timeout time.Duration // per-call deadline. Default: 90s.
	Logger  *slog.Logger
}

func (c *GeminiConfig) defaults() {
	if c.Model == "" {
		c.Model = "gemini-2.5-flash"
	}
	if c.Timeout <= 0 {
		c.Timeout = 90 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Gemini implements Planner and Analyzer over the genai SDK. The API key
// is read from the environment by the SDK (GEMINI_API_KEY).
type Gemini struct {
	generate generateFunc
	cfg      GeminiConfig
	log      *slog.Logger
}

// NewGemini connects to the Gemini API.
func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	cfg.defaults()
	cli, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.APIKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	g := &Gemini{cfg: cfg, log: cfg.Logger}
	g.generate = func(ctx context.Context, prompt string) (string, error) {
		resp, err := cli.Models.GenerateContent(ctx, cfg.Model,
			[]*genai.Content{{Parts: []*genai.Part{{Text: prompt}}}},
			&genai.GenerateContentConfig{ResponseMIMEType: "application/json"},
		)
		if err != nil {
			return "", err
		}
		if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
			return "", fmt.Errorf("empty model response")
		}
		return resp.Candidates[0].Content.Parts[0].Text, nil
	}
	return g, nil
}

// Plan asks the model for the next iteration's Plan. Malformed output falls
// back to a broad-crawl default; a transport error does too, since the run
// must not crash on a flaky backend.
func (g *Gemini) Plan(ctx context.Context, snap *Snapshot) (*Plan, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	prompt, err := planPrompt(snap)
	if err != nil {
		return nil, fmt.Errorf("build plan prompt: %w", err)
	}

	text, err := g.generate(ctx, prompt)
	if err != nil {
		g.log.Warn("planner: model call failed, using fallback plan", "error", err)
		return FallbackPlan(snap), nil
	}

	var plan Plan
	if err := jsonflex.Unmarshal([]byte(text), &plan); err != nil {
		g.log.Warn("planner: unparseable plan, using fallback", "error", err)
		return FallbackPlan(snap), nil
	}
	if err := normalize(&plan); err != nil {
		g.log.Warn("planner: plan had no valid tool calls, using fallback")
		return FallbackPlan(snap), nil
	}
	return &plan, nil
}

// Analyze asks the model to distill recent evidence. On any failure the
// previous gaps are carried forward unchanged.
func (g *Gemini) Analyze(ctx context.Context, recent []EvidenceDigest, questions []string) (*Analysis, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	prompt, err := analyzePrompt(recent, questions)
	if err != nil {
		return nil, fmt.Errorf("build analyze prompt: %w", err)
	}

	text, err := g.generate(ctx, prompt)
	if err != nil {
		g.log.Warn("planner: analyzer call failed, carrying gaps forward", "error", err)
		return FallbackAnalysis(nil), nil
	}

	var analysis Analysis
	if err := jsonflex.Unmarshal([]byte(text), &analysis); err != nil {
		g.log.Warn("planner: unparseable analysis, carrying gaps forward", "error", err)
		return FallbackAnalysis(nil), nil
	}
	return &analysis, nil
}

func marshalIndent(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(b)
}
