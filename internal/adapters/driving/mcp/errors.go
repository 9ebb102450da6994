// Package mcp provides an MCP (Model Context Protocol) server adapter for storekb.
// It lets assistants query the store knowledge base and inspect sync health.
package mcp

import "errors"

// ErrMissingRetrievalService is returned when the retrieval service is not provided.
var ErrMissingRetrievalService = errors.New("mcp: retrieval service is required")

// ErrAnswerUnavailable is returned by the ask tool when no answer service is wired.
var ErrAnswerUnavailable = errors.New("mcp: answer service is not configured")

var errSyncUnavailable = errors.New("mcp: sync orchestrator is not configured")
