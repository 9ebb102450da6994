package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	// URIScheme is the custom URI scheme for storekb resources.
	uriScheme = "storekb://"

	// runScanLimit bounds how far back a run resource looks in history.
	runScanLimit = 200
)

// registerResources registers all resource handlers with the MCP server.
func (s *Server) registerResources() {
	if s.ports.Sync == nil {
		return
	}

	s.server.AddResource(&mcp.Resource{
		URI:         uriScheme + "sync/status",
		Name:        "sync-status",
		Description: "Current or most recent knowledge base sync",
		MIMEType:    "application/json",
	}, s.handleSyncStatusResource)

	s.server.AddResource(&mcp.Resource{
		URI:         uriScheme + "index/health",
		Name:        "index-health",
		Description: "Vector index counters",
		MIMEType:    "application/json",
	}, s.handleIndexHealthResource)

	// Template for archived runs.
	s.server.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: uriScheme + "runs/{runId}",
		Name:        "sync-run",
		Description: "A sync run with its item-level errors",
		MIMEType:    "application/json",
	}, s.handleRunResource)
}

// handleSyncStatusResource returns the current sync state.
func (s *Server) handleSyncStatusResource(
	ctx context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	state, err := s.ports.Sync.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading sync status: %w", err)
	}
	return jsonResource(req.Params.URI, state)
}

// handleIndexHealthResource returns vector index counters.
func (s *Server) handleIndexHealthResource(
	ctx context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	health, err := s.ports.Sync.Health(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading index health: %w", err)
	}
	return jsonResource(req.Params.URI, health)
}

// handleRunResource returns one run, current or archived.
func (s *Server) handleRunResource(
	ctx context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	// Extract runId from URI: storekb://runs/{runId}
	runID := extractRunID(req.Params.URI)
	if runID == "" {
		return nil, mcp.ResourceNotFoundError(req.Params.URI)
	}

	current, err := s.ports.Sync.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading sync status: %w", err)
	}
	if current.RunID == runID {
		return jsonResource(req.Params.URI, current)
	}

	runs, err := s.ports.Sync.History(ctx, runScanLimit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	for i := range runs {
		if runs[i].RunID == runID {
			return jsonResource(req.Params.URI, &runs[i])
		}
	}
	return nil, mcp.ResourceNotFoundError(req.Params.URI)
}

func jsonResource(uri string, v any) (*mcp.ReadResourceResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshalling %s: %w", uri, err)
	}

	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		}},
	}, nil
}

// extractRunID extracts the run ID from a URI like storekb://runs/{runId}.
func extractRunID(uri string) string {
	const prefix = uriScheme + "runs/"

	if !strings.HasPrefix(uri, prefix) {
		return ""
	}

	id := strings.TrimPrefix(uri, prefix)
	if strings.Contains(id, "/") {
		return ""
	}
	return id
}
