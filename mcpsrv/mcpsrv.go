// Package mcpsrv exposes research runs and the evidence store as MCP
// tools, so an agent can start runs and query collected evidence.
package mcpsrv

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/probelab/scrutiny/evidence"
	"github.com/probelab/scrutiny/kit"
	"github.com/probelab/scrutiny/runctl"
)

// Service bundles what the tools need.
type Service struct {
	runs  *runctl.Manager
	store *evidence.Store
}

func New(runs *runctl.Manager, store *evidence.Store) *Service {
	return &Service{runs: runs, store: store}
}

// RegisterMCP registers all scrutiny tools on an MCP server.
func (s *Service) RegisterMCP(srv *mcp.Server) {
	s.registerStartTool(srv)
	s.registerStatusTool(srv)
	s.registerListTool(srv)
	s.registerSearchTool(srv)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// --- start research ---

type startReq struct {
	Company   string `json:"company"`
	TargetURL string `json:"target_url"`
	Thesis    string `json:"thesis"`
}

func (s *Service) registerStartTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "scrutiny_start_research",
		Description: "Start a due-diligence research run against a company's public web presence. Returns the run id to poll with scrutiny_research_status.",
		InputSchema: inputSchema(map[string]any{
			"company":    map[string]any{"type": "string", "description": "Company name"},
			"target_url": map[string]any{"type": "string", "description": "Company website URL"},
			"thesis":     map[string]any{"type": "string", "description": "Investment thesis id (accelerate-organic-growth, buy-and-build, digital-transformation, general)"},
		}, []string{"company", "target_url"}),
	}

	endpoint := func(_ context.Context, req any) (any, error) {
		r := req.(*startReq)
		if r.Company == "" || r.TargetURL == "" {
			return nil, fmt.Errorf("company and target_url are required")
		}
		entry, err := s.runs.Start(r.Company, r.TargetURL, r.Thesis)
		if err != nil {
			return nil, err
		}
		return map[string]string{"run_id": entry.ID, "status": entry.Status}, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r startReq
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- research status ---

type statusReq struct {
	RunID string `json:"run_id"`
}

func (s *Service) registerStatusTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "scrutiny_research_status",
		Description: "Get the status and, once complete, the full state of a research run.",
		InputSchema: inputSchema(map[string]any{
			"run_id": map[string]any{"type": "string", "description": "Run id from scrutiny_start_research"},
		}, []string{"run_id"}),
	}

	endpoint := func(_ context.Context, req any) (any, error) {
		r := req.(*statusReq)
		entry, ok := s.runs.Get(r.RunID)
		if !ok {
			return nil, fmt.Errorf("run %s not found", r.RunID)
		}
		return entry, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r statusReq
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r, EnrichCtx: func(ctx context.Context) context.Context {
			return kit.WithRunID(ctx, r.RunID)
		}}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- list evidence ---

type listReq struct {
	Company  string `json:"company"`
	Category string `json:"category"`
	Limit    int    `json:"limit"`
}

func (s *Service) registerListTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "scrutiny_list_evidence",
		Description: "List collected evidence for a company, optionally filtered by category (technical, security, market, team, financial, general).",
		InputSchema: inputSchema(map[string]any{
			"company":  map[string]any{"type": "string", "description": "Company name"},
			"category": map[string]any{"type": "string", "description": "Optional category filter"},
			"limit":    map[string]any{"type": "integer", "description": "Max items, default 50"},
		}, []string{"company"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*listReq)
		if r.Limit <= 0 {
			r.Limit = 50
		}
		var (
			items []evidence.Item
			err   error
		)
		if r.Category != "" {
			items, err = s.store.ByCategory(ctx, r.Company, evidence.Category(r.Category))
		} else {
			items, err = s.store.Recent(ctx, r.Company, r.Limit)
		}
		if err != nil {
			return nil, err
		}
		if len(items) > r.Limit {
			items = items[:r.Limit]
		}
		return map[string]any{"count": len(items), "items": items}, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r listReq
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- search evidence ---

type searchReq struct {
	Company string `json:"company"`
	Query   string `json:"query"`
	Limit   int    `json:"limit"`
}

func (s *Service) registerSearchTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "scrutiny_search_evidence",
		Description: "Search a company's collected evidence by keyword across types and payloads.",
		InputSchema: inputSchema(map[string]any{
			"company": map[string]any{"type": "string", "description": "Company name"},
			"query":   map[string]any{"type": "string", "description": "Search term"},
			"limit":   map[string]any{"type": "integer", "description": "Max items, default 50"},
		}, []string{"company", "query"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*searchReq)
		if r.Query == "" {
			return nil, fmt.Errorf("query is required")
		}
		items, err := s.store.Search(ctx, r.Company, r.Query, r.Limit)
		if err != nil {
			return nil, err
		}
		return map[string]any{"count": len(items), "items": items}, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r searchReq
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}
