// Package mcp exposes session history to model-assisted coaching tools.
package mcp

import (
	"context"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// New creates an MCP server with all tools and resources registered.
func New(ds DataSource, pending PendingSource, version string, log *slog.Logger) *server.MCPServer {
	s := server.NewMCPServer("Kinevo Sessions", version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
		server.WithInstructions("Kinevo workout session server. Query a student's workout sessions, per-set logs, workout plans, load history, and substitute options."),
	)

	h := &handlers{ds: ds, pending: pending, log: log}

	s.AddTools(
		server.ServerTool{Tool: toolGetSessions, Handler: h.getSessions},
		server.ServerTool{Tool: toolGetSessionSets, Handler: h.getSessionSets},
		server.ServerTool{Tool: toolGetWorkoutPlan, Handler: h.getWorkoutPlan},
		server.ServerTool{Tool: toolGetLastLoad, Handler: h.getLastLoad},
		server.ServerTool{Tool: toolGetSubstitutes, Handler: h.getSubstitutes},
	)

	s.AddResources(
		server.ServerResource{Resource: resPendingQueue, Handler: h.pendingQueue},
	)

	return s
}

// handlers holds dependencies for MCP tool/resource handlers.
type handlers struct {
	ds      DataSource
	pending PendingSource
	log     *slog.Logger
}

var resPendingQueue = mcp.NewResource(
	"kinevo://pending_queue",
	"Pending Finish Queue",
	mcp.WithResourceDescription("Workout finishes waiting for replay because they could not be attributed to an authenticated identity"),
	mcp.WithMIMEType("application/json"),
)

func (h *handlers) pendingQueue(_ context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	list, err := h.pending.Load()
	if err != nil {
		return nil, err
	}
	contents, err := asJSONResource(req.Params.URI, list)
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{contents}, nil
}
