package server

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/joeycumines/ticktree/internal/engine"
	"github.com/joeycumines/ticktree/internal/storage"
)

// NewMCPServer exposes the world behind o as MCP tools, so agents can watch
// trees without scraping the HTTP API.
func NewMCPServer(o Options, version string) *mcpserver.MCPServer {
	h := &handler{Options: o}
	s := mcpserver.NewMCPServer("ticktree", version, mcpserver.WithToolCapabilities(false))

	s.AddTool(mcp.NewTool("list_trees",
		mcp.WithDescription("List spawned trees with their status and run count."),
	), h.listTreesTool)
	s.AddTool(mcp.NewTool("get_tree",
		mcp.WithDescription("Show the live blackboard and status of one tree."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Tree name, as shown by list_trees")),
	), h.getTreeTool)
	if o.Logs != nil {
		s.AddTool(mcp.NewTool("search_logs",
			mcp.WithDescription("Return recent log entries, optionally filtered by a substring."),
			mcp.WithString("query", mcp.Description("Substring to match against messages and attributes")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of entries (default 100)")),
		), h.searchLogsTool)
	}
	return s
}

func (h *handler) listTreesTool(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(h.treeStatuses())
}

func (h *handler) getTreeTool(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	snap, err := h.capture(name)
	switch {
	case err != nil:
		return mcp.NewToolResultError(err.Error()), nil
	case snap == nil:
		return mcp.NewToolResultError(fmt.Sprintf("tree not found: %s", name)), nil
	}
	return jsonResult(snap)
}

func (h *handler) searchLogsTool(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if q := req.GetString("query", ""); q != "" {
		return jsonResult(h.Logs.Search(q))
	}
	return jsonResult(h.Logs.Recent(req.GetInt("limit", 100)))
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (h *handler) treeStatuses() []TreeStatus {
	var out []TreeStatus
	h.Trees.Inspect(func(world *engine.World) {
		out = make([]TreeStatus, 0, len(world.Trees()))
		for _, root := range world.Trees() {
			out = append(out, TreeStatus{
				Root:   int32(root),
				Name:   storage.Key(world, root),
				Status: world.Status(root).String(),
				Runs:   world.Runs(root),
				Tick:   world.Ticks(),
			})
		}
	})
	return out
}

// capture returns nil, nil when no tree is called name.
func (h *handler) capture(name string) (snap *storage.Snapshot, err error) {
	h.Trees.Inspect(func(world *engine.World) {
		for _, root := range world.Trees() {
			if storage.Key(world, root) == name {
				snap, err = storage.Capture(world, root, time.Now())
				return
			}
		}
	})
	return snap, err
}
