package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kasperhn/intercept/internal/dataset"
	"github.com/kasperhn/intercept/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store    *storage.Store
	Datasets *dataset.Service
	Defaults dataset.Thresholds
}

// NewMCPServer creates an MCP server exposing the annotation and export
// surface to agent tooling.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"intercept",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("intercept — captured LLM completions, rater annotations, and fine-tuning dataset export."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("list_projects",
			mcp.WithDescription("List all capture projects with their IDs and names."),
		),
		mcpListProjects(deps),
	)

	s.AddTool(
		mcp.NewTool("dataset_summary",
			mcp.WithDescription("Per-request annotation status for a project: candidate counts, SFT readiness, DPO readiness."),
			mcp.WithString("project_id", mcp.Description("Project ID"), mcp.Required()),
			mcp.WithNumber("sft_threshold", mcp.Description("Minimum average reward for SFT eligibility (default from config)")),
			mcp.WithNumber("dpo_threshold", mcp.Description("Average reward below which a candidate is a DPO negative (default from config)")),
		),
		mcpDatasetSummary(deps),
	)

	s.AddTool(
		mcp.NewTool("export_sft",
			mcp.WithDescription("Export the project's supervised fine-tuning dataset as a JSON array of conversations."),
			mcp.WithString("project_id", mcp.Description("Project ID"), mcp.Required()),
			mcp.WithNumber("threshold", mcp.Description("Minimum average reward (default from config)")),
		),
		mcpExportSFT(deps),
	)

	s.AddTool(
		mcp.NewTool("export_dpo",
			mcp.WithDescription("Export the project's preference (DPO) dataset as a JSON array of chosen/rejected pairs."),
			mcp.WithString("project_id", mcp.Description("Project ID"), mcp.Required()),
			mcp.WithNumber("sft_threshold", mcp.Description("Positive-side threshold (default from config)")),
			mcp.WithNumber("dpo_threshold", mcp.Description("Negative-side threshold (default from config)")),
			mcp.WithString("format", mcp.Description("Either \"pairs\" (default) or \"hub\"")),
		),
		mcpExportDPO(deps),
	)

	return s
}

func mcpListProjects(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		projects, err := deps.Store.ListProjects()
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list projects: %v", err)), nil
		}
		if projects == nil {
			projects = []storage.Project{}
		}

		b, err := json.Marshal(projects)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal projects: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func (d MCPDeps) thresholdsFrom(req mcp.CallToolRequest) dataset.Thresholds {
	return dataset.Thresholds{
		SFT:         req.GetFloat("sft_threshold", d.Defaults.SFT),
		DPONegative: req.GetFloat("dpo_threshold", d.Defaults.DPONegative),
	}
}

func mcpDatasetSummary(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		projectID, err := req.RequireString("project_id")
		if err != nil {
			return mcpError("project_id is required"), nil
		}

		report, err := deps.Datasets.Summarize(ctx, projectID, deps.thresholdsFrom(req))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to summarize project: %v", err)), nil
		}

		b, err := json.Marshal(report)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal summary: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpExportSFT(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		projectID, err := req.RequireString("project_id")
		if err != nil {
			return mcpError("project_id is required"), nil
		}

		threshold := req.GetFloat("threshold", deps.Defaults.SFT)

		convs, err := deps.Datasets.GenerateSFT(ctx, projectID, threshold)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to generate dataset: %v", err)), nil
		}

		b, err := dataset.EncodeJSON(convs)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to encode dataset: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpExportDPO(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		projectID, err := req.RequireString("project_id")
		if err != nil {
			return mcpError("project_id is required"), nil
		}

		t := deps.thresholdsFrom(req)

		var b []byte
		if req.GetString("format", "pairs") == "hub" {
			pairs, err := deps.Datasets.GenerateDPOHub(ctx, projectID, t)
			if err != nil {
				return mcpError(fmt.Sprintf("failed to generate dataset: %v", err)), nil
			}
			b, err = dataset.EncodeJSON(pairs)
			if err != nil {
				return mcpError(fmt.Sprintf("failed to encode dataset: %v", err)), nil
			}
		} else {
			pairs, err := deps.Datasets.GenerateDPO(ctx, projectID, t)
			if err != nil {
				return mcpError(fmt.Sprintf("failed to generate dataset: %v", err)), nil
			}
			b, err = dataset.EncodeJSON(pairs)
			if err != nil {
				return mcpError(fmt.Sprintf("failed to encode dataset: %v", err)), nil
			}
		}

		return mcpText(string(b)), nil
	}
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
