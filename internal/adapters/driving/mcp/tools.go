package mcp

import (
	"context"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/custodia-labs/storekb/internal/core/domain"
	"github.com/custodia-labs/storekb/internal/core/ports/driving"
)

// RetrieveInput is the input schema for the retrieve tool.
type RetrieveInput struct {
	Query         string  `json:"query" jsonschema:"the question or keywords to look up"`
	MaxChunks     int     `json:"max_chunks,omitempty" jsonschema:"maximum number of chunks to return"`
	MinSimilarity float64 `json:"min_similarity,omitempty" jsonschema:"minimum cosine similarity between 0 and 1"`
}

// RetrieveOutput is the output schema for the retrieve tool.
type RetrieveOutput struct {
	Results []ChunkOutput `json:"results"`
	Count   int           `json:"count"`
}

// ChunkOutput represents a single retrieved chunk.
type ChunkOutput struct {
	ContentType string  `json:"content_type"`
	ContentID   string  `json:"content_id"`
	ChunkIndex  int     `json:"chunk_index"`
	Title       string  `json:"title,omitempty"`
	URL         string  `json:"url,omitempty"`
	Similarity  float64 `json:"similarity"`
	Text        string  `json:"text"`
}

// AskInput is the input schema for the ask tool.
type AskInput struct {
	Query     string         `json:"query" jsonschema:"the shopper question to answer"`
	History   []MessageInput `json:"history,omitempty" jsonschema:"prior conversation turns, oldest first"`
	StoreName string         `json:"store_name,omitempty" jsonschema:"name of the store answering"`
	PageURL   string         `json:"page_url,omitempty" jsonschema:"page the question was asked on"`
	Locale    string         `json:"locale,omitempty" jsonschema:"preferred answer language, e.g. en-GB"`
}

// MessageInput is one prior conversation turn.
type MessageInput struct {
	Role    string `json:"role" jsonschema:"user or assistant"`
	Content string `json:"content"`
}

// AskOutput is the output schema for the ask tool.
type AskOutput struct {
	Answer    string           `json:"answer"`
	Fallback  bool             `json:"fallback"`
	Citations []CitationOutput `json:"citations"`
	Model     string           `json:"model,omitempty"`
}

// CitationOutput points an answer at a content item.
type CitationOutput struct {
	ContentType string  `json:"content_type"`
	ContentID   string  `json:"content_id"`
	Title       string  `json:"title,omitempty"`
	URL         string  `json:"url,omitempty"`
	Similarity  float64 `json:"similarity"`
}

// SyncStatusInput is the input schema for the sync_status tool.
type SyncStatusInput struct {
	History int `json:"history,omitempty" jsonschema:"number of archived runs to include"`
}

// SyncStatusOutput is the output schema for the sync_status tool.
type SyncStatusOutput struct {
	Current RunOutput   `json:"current"`
	History []RunOutput `json:"history,omitempty"`
}

// RunOutput summarises one sync run.
type RunOutput struct {
	RunID          string   `json:"run_id,omitempty"`
	Phase          string   `json:"phase"`
	Operation      string   `json:"operation,omitempty"`
	ContentType    string   `json:"content_type,omitempty"`
	ProcessedItems int      `json:"processed_items"`
	TotalItems     int      `json:"total_items"`
	Removed        int      `json:"removed"`
	StartedAt      string   `json:"started_at,omitempty"`
	CompletedAt    string   `json:"completed_at,omitempty"`
	Failure        string   `json:"failure,omitempty"`
	Errors         []string `json:"errors,omitempty"`
}

// IndexHealthInput is the (empty) input schema for the index_health tool.
type IndexHealthInput struct{}

// IndexHealthOutput is the output schema for the index_health tool.
type IndexHealthOutput struct {
	TotalEntries    int            `json:"total_entries"`
	ActiveEntries   int            `json:"active_entries"`
	InactiveEntries int            `json:"inactive_entries"`
	ActiveByType    map[string]int `json:"active_by_type,omitempty"`
	ItemsByType     map[string]int `json:"items_by_type,omitempty"`
	EntriesByModel  map[string]int `json:"entries_by_model,omitempty"`
	LastUpdated     string         `json:"last_updated,omitempty"`
}

// registerTools registers all tool handlers with the MCP server.
func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "retrieve",
		Description: "Find catalog, page and policy passages relevant to a question",
	}, s.handleRetrieve)

	if s.ports.Answer != nil {
		mcp.AddTool(s.server, &mcp.Tool{
			Name:        "ask",
			Description: "Answer a shopper question from the store knowledge base, with citations",
		}, s.handleAsk)
	}

	if s.ports.Sync != nil {
		mcp.AddTool(s.server, &mcp.Tool{
			Name:        "sync_status",
			Description: "Report the current knowledge base sync and recent runs",
		}, s.handleSyncStatus)
		mcp.AddTool(s.server, &mcp.Tool{
			Name:        "index_health",
			Description: "Report vector index counters by content type and model",
		}, s.handleIndexHealth)
	}
}

// handleRetrieve handles the retrieve tool invocation.
func (s *Server) handleRetrieve(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input RetrieveInput,
) (*mcp.CallToolResult, RetrieveOutput, error) {
	results, err := s.ports.Retrieval.Retrieve(ctx, input.Query,
		s.ports.maxChunks(input.MaxChunks), s.ports.minSimilarity(input.MinSimilarity))
	if err != nil {
		return nil, RetrieveOutput{}, err
	}

	output := RetrieveOutput{
		Results: make([]ChunkOutput, len(results)),
		Count:   len(results),
	}
	for i := range results {
		r := &results[i]
		output.Results[i] = ChunkOutput{
			ContentType: string(r.ContentType),
			ContentID:   r.ContentID,
			ChunkIndex:  r.ChunkIndex,
			Title:       r.Title(),
			URL:         r.URL(),
			Similarity:  r.Similarity,
			Text:        r.Text,
		}
	}

	return nil, output, nil
}

// handleAsk handles the ask tool invocation.
func (s *Server) handleAsk(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input AskInput,
) (*mcp.CallToolResult, AskOutput, error) {
	if s.ports.Answer == nil {
		return nil, AskOutput{}, ErrAnswerUnavailable
	}

	history := make([]domain.ChatMessage, 0, len(input.History))
	for _, m := range input.History {
		history = append(history, domain.ChatMessage{Role: m.Role, Content: m.Content})
	}

	req := driving.AskRequest{
		Query:   input.Query,
		History: history,
		Context: domain.CallerContext{
			StoreName: input.StoreName,
			PageURL:   input.PageURL,
			Locale:    input.Locale,
		},
		MaxChunks: s.ports.MaxChunks,
	}
	if s.ports.MinSimilarity > 0 {
		minSim := s.ports.MinSimilarity
		req.MinSimilarity = &minSim
	}

	answer, err := s.ports.Answer.Ask(ctx, req)
	if err != nil {
		return nil, AskOutput{}, err
	}

	output := AskOutput{
		Answer:    answer.Text,
		Fallback:  answer.Fallback,
		Model:     answer.Model,
		Citations: make([]CitationOutput, len(answer.Citations)),
	}
	for i, c := range answer.Citations {
		output.Citations[i] = CitationOutput{
			ContentType: string(c.ContentType),
			ContentID:   c.ContentID,
			Title:       c.Title,
			URL:         c.URL,
			Similarity:  c.Similarity,
		}
	}
	return nil, output, nil
}

// handleSyncStatus handles the sync_status tool invocation.
func (s *Server) handleSyncStatus(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input SyncStatusInput,
) (*mcp.CallToolResult, SyncStatusOutput, error) {
	if s.ports.Sync == nil {
		return nil, SyncStatusOutput{}, errSyncUnavailable
	}

	state, err := s.ports.Sync.Status(ctx)
	if err != nil {
		return nil, SyncStatusOutput{}, err
	}
	output := SyncStatusOutput{Current: runOutput(state)}

	if input.History > 0 {
		runs, err := s.ports.Sync.History(ctx, input.History)
		if err != nil {
			return nil, SyncStatusOutput{}, err
		}
		output.History = make([]RunOutput, len(runs))
		for i := range runs {
			output.History[i] = runOutput(&runs[i])
		}
	}
	return nil, output, nil
}

// handleIndexHealth handles the index_health tool invocation.
func (s *Server) handleIndexHealth(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	_ IndexHealthInput,
) (*mcp.CallToolResult, IndexHealthOutput, error) {
	if s.ports.Sync == nil {
		return nil, IndexHealthOutput{}, errSyncUnavailable
	}

	h, err := s.ports.Sync.Health(ctx)
	if err != nil {
		return nil, IndexHealthOutput{}, err
	}
	return nil, healthOutput(h), nil
}

func runOutput(state *domain.SyncState) RunOutput {
	out := RunOutput{
		RunID:          state.RunID,
		Phase:          string(state.Phase),
		Operation:      string(state.Operation),
		ContentType:    string(state.ContentType),
		ProcessedItems: state.ProcessedItems,
		TotalItems:     state.TotalItems,
		Removed:        state.Removed,
		StartedAt:      formatTime(state.StartedAt),
		CompletedAt:    formatTime(state.CompletedAt),
		Failure:        state.Failure,
	}
	for _, e := range state.Errors {
		out.Errors = append(out.Errors, e.String())
	}
	return out
}

func healthOutput(h *domain.IndexHealth) IndexHealthOutput {
	return IndexHealthOutput{
		TotalEntries:    h.TotalEntries,
		ActiveEntries:   h.ActiveEntries,
		InactiveEntries: h.InactiveEntries,
		ActiveByType:    byType(h.ActiveByType),
		ItemsByType:     byType(h.ContentItemsByType),
		EntriesByModel:  h.EntriesByModel,
		LastUpdated:     formatTime(h.LastUpdated),
	}
}

func byType(m map[domain.ContentType]int) map[string]int {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[string(k)] = v
	}
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
