package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/storynest/vignette/internal/storage"
	"github.com/storynest/vignette/internal/story"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store     *storage.Store
	Splicer   Splicer
	Generator StoryGenerator // optional; if nil, generate_vignette returns an error
}

// NewMCPServer creates an MCP server exposing the vignette tools and the
// recent-stories resource.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"vignette",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("vignette turns stored children's stories into nine-panel illustrated vignettes."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("splice_vignette",
			mcp.WithDescription("Generate a panorama for a stored story and cut it into nine panels."),
			mcp.WithString("storyId", mcp.Description("ID of a stored story"), mcp.Required()),
		),
		mcpSpliceVignette(deps),
	)

	s.AddTool(
		mcp.NewTool("generate_vignette",
			mcp.WithDescription("Write a new story from free-form parameters, then splice it into nine panels."),
			mcp.WithString("parameters", mcp.Description(`JSON object such as {"childName":"Mia","theme":"space"}`), mcp.Required()),
		),
		mcpGenerateVignette(deps),
	)

	s.AddTool(
		mcp.NewTool("get_vignette",
			mcp.WithDescription("Read back the recorded panels of a story."),
			mcp.WithString("storyId", mcp.Description("ID of a stored story"), mcp.Required()),
		),
		mcpGetVignette(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"stories://recent",
			"Recent Stories",
			mcp.WithResourceDescription("Last 10 stored stories (id, title, scene count)"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecentStories(deps),
	)

	return s
}

func mcpSpliceVignette(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		storyID, err := req.RequireString("storyId")
		if err != nil || storyID == "" {
			return mcpError("storyId is required"), nil
		}

		res, err := deps.Splicer.Splice(ctx, storyID)
		if err != nil {
			return mcpError(fmt.Sprintf("splice failed: %v", err)), nil
		}
		return mcpJSON(res)
	}
}

func mcpGenerateVignette(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if deps.Generator == nil {
			return mcpError("story generation not available: no story model configured"), nil
		}

		raw, err := req.RequireString("parameters")
		if err != nil {
			return mcpError("parameters is required"), nil
		}
		var params map[string]any
		if err := json.Unmarshal([]byte(raw), &params); err != nil {
			return mcpError(fmt.Sprintf("invalid parameters JSON: %v", err)), nil
		}

		res, err := deps.Generator.Generate(ctx, params)
		if err != nil {
			return mcpError(fmt.Sprintf("generation failed: %v", err)), nil
		}
		return mcpJSON(res)
	}
}

func mcpGetVignette(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		storyID, err := req.RequireString("storyId")
		if err != nil || storyID == "" {
			return mcpError("storyId is required"), nil
		}

		res, err := deps.Splicer.Get(storyID)
		if err != nil {
			return mcpError(err.Error()), nil
		}
		return mcpJSON(res)
	}
}

func mcpResourceRecentStories(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		recs, err := deps.Store.ListStories(10, 0)
		if err != nil {
			return nil, fmt.Errorf("failed to list stories: %w", err)
		}

		type storySummary struct {
			ID         string `json:"id"`
			Title      string `json:"title"`
			SceneCount int    `json:"sceneCount"`
			CreatedAt  string `json:"createdAt"`
		}

		summaries := make([]storySummary, 0, len(recs))
		for _, rec := range recs {
			st, err := story.FromRecord(rec)
			if err != nil {
				slog.Warn("skipping unreadable story", "story_id", rec.ID, "error", err)
				continue
			}
			summaries = append(summaries, storySummary{
				ID:         st.ID,
				Title:      st.Title,
				SceneCount: len(st.Scenes),
				CreatedAt:  st.CreatedAt.Format(time.RFC3339),
			})
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal stories: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
