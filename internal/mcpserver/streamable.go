// Package mcpserver exposes the pool's operations as MCP tools over
// streamable HTTP.
package mcpserver

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	sdkserver "github.com/mark3labs/mcp-go/server"

	"github.com/kabir325/fogpool/internal/engine"
	"github.com/kabir325/fogpool/internal/logx"
	"github.com/kabir325/fogpool/internal/pool"
)

// NewHandler constructs a Streamable HTTP MCP handler serving the pool tools.
func NewHandler(e *engine.Engine, version string) http.Handler {
	return sdkserver.NewStreamableHTTPServer(
		NewServer(e, version),
		sdkserver.WithHTTPContextFunc(func(ctx context.Context, r *http.Request) context.Context {
			return ctx
		}),
	)
}

// NewServer builds the MCP server and registers its tools.
func NewServer(e *engine.Engine, version string) *sdkserver.MCPServer {
	srv := sdkserver.NewMCPServer(
		"fogpool",
		version,
		sdkserver.WithResourceCapabilities(false, false),
		sdkserver.WithToolCapabilities(false),
		sdkserver.WithPromptCapabilities(false),
	)
	t := &tools{engine: e}
	srv.AddTool(mcp.NewTool("submit_query",
		mcp.WithDescription("Send a prompt to every active client and return the aggregated answer"),
		mcp.WithString("prompt", mcp.Required(), mcp.Description("prompt text")),
		mcp.WithString("context", mcp.Description("extra context prepended to the prompt")),
		mcp.WithBoolean("use_rag", mcp.Description("inject matching knowledge base documents")),
		mcp.WithString("session_id", mcp.Description("chat session to continue")),
		mcp.WithString("policy", mcp.Description("concatenate, first-success, majority-vote or best-score")),
	), t.submitQuery)
	srv.AddTool(mcp.NewTool("get_stats",
		mcp.WithDescription("Pool status: client counts, models in use and health"),
	), t.getStats)
	srv.AddTool(mcp.NewTool("trigger_reassignment",
		mcp.WithDescription("Re-score every active client and update model assignments"),
		mcp.WithString("reason", mcp.Description("MANUAL, PERIODIC or CHURN; defaults to MANUAL")),
	), t.triggerReassignment)
	srv.AddTool(mcp.NewTool("list_clients",
		mcp.WithDescription("All client records in registration order"),
	), t.listClients)
	return srv
}

type tools struct {
	engine *engine.Engine
}

func (t *tools) submitQuery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	prompt, err := req.RequireString("prompt")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := t.engine.SubmitQuery(ctx, engine.QueryRequest{
		Prompt:    prompt,
		Context:   req.GetString("context", ""),
		UseRAG:    req.GetBool("use_rag", false),
		SessionID: req.GetString("session_id", ""),
		Policy:    req.GetString("policy", ""),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(res)
}

func (t *tools) getStats(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(t.engine.GetStats(ctx))
}

func (t *tools) triggerReassignment(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	reason, err := pool.ParseReason(req.GetString("reason", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(t.engine.TriggerReassignment(ctx, reason))
}

func (t *tools) listClients(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(t.engine.Clients(ctx))
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		logx.Log.Error().Err(err).Msg("encode tool result")
		return nil, err
	}
	return mcp.NewToolResultText(string(b)), nil
}
