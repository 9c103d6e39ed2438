package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/joescharf/hoist/internal/detect"
	"github.com/joescharf/hoist/internal/models"
	"github.com/joescharf/hoist/internal/proxy"
	"github.com/joescharf/hoist/internal/store"
)

const defaultListLimit = 20

// Server exposes deployment history and the local planning helpers as MCP
// tools.
type Server struct {
	store   store.Store
	version string
}

// NewServer creates the MCP server wrapper. s may be nil when history is
// disabled; the history tools then report an error.
func NewServer(s store.Store, version string) *Server {
	return &Server{store: s, version: version}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("hoist", s.version, server.WithToolCapabilities(true))

	srv.AddTool(s.listRunsTool())
	srv.AddTool(s.showRunTool())
	srv.AddTool(s.detectMethodTool())
	srv.AddTool(s.renderProxyTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	stdioServer := server.NewStdioServer(s.MCPServer())
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

type runOut struct {
	ID          string     `json:"id"`
	RepoURL     string     `json:"repo_url"`
	Branch      string     `json:"branch"`
	Host        string     `json:"host"`
	AppName     string     `json:"app_name"`
	AppPort     int        `json:"app_port"`
	Method      string     `json:"method,omitempty"`
	Commit      string     `json:"commit,omitempty"`
	Status      string     `json:"status"`
	FailedStage string     `json:"failed_stage,omitempty"`
	Error       string     `json:"error,omitempty"`
	LogPath     string     `json:"log_path,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
}

func toRunOut(r *models.Run) runOut {
	return runOut{
		ID:          r.ID,
		RepoURL:     r.RepoURL,
		Branch:      r.Branch,
		Host:        r.Host,
		AppName:     r.AppName,
		AppPort:     r.AppPort,
		Method:      string(r.Method),
		Commit:      r.Commit,
		Status:      string(r.Status),
		FailedStage: string(r.FailedStage),
		Error:       r.Error,
		LogPath:     r.LogPath,
		StartedAt:   r.StartedAt,
		EndedAt:     r.EndedAt,
	}
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// hoist_list_runs
func (s *Server) listRunsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("hoist_list_runs",
		mcp.WithDescription("List recent deployment runs, newest first. Returns a JSON array with id, repository, host, status and failed stage."),
		mcp.WithString("host", mcp.Description("Only runs against this host")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of runs (default 20)")),
	)
	return tool, s.handleListRuns
}

func (s *Server) handleListRuns(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.store == nil {
		return mcp.NewToolResultError("run history is disabled"), nil
	}
	limit := request.GetInt("limit", defaultListLimit)
	host := request.GetString("host", "")

	runs, err := s.store.ListRuns(ctx, limit, host)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list runs: %v", err)), nil
	}

	out := make([]runOut, len(runs))
	for i, r := range runs {
		out[i] = toRunOut(r)
	}
	return jsonResult(out)
}

// hoist_show_run
func (s *Server) showRunTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("hoist_show_run",
		mcp.WithDescription("Show one deployment run with its per-stage results. Accepts a full run id or a unique prefix."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Run id or unique id prefix")),
	)
	return tool, s.handleShowRun
}

func (s *Server) handleShowRun(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.store == nil {
		return mcp.NewToolResultError("run history is disabled"), nil
	}
	id, err := request.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: id"), nil
	}

	run, err := s.store.GetRun(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to get run: %v", err)), nil
	}
	stages, err := s.store.ListStageResults(ctx, run.ID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list stages: %v", err)), nil
	}

	type stageOut struct {
		Stage      string `json:"stage"`
		Status     string `json:"status"`
		Detail     string `json:"detail,omitempty"`
		DurationMS int64  `json:"duration_ms"`
	}
	out := struct {
		runOut
		Stages []stageOut `json:"stages"`
	}{runOut: toRunOut(run), Stages: make([]stageOut, len(stages))}
	for i, st := range stages {
		out.Stages[i] = stageOut{
			Stage:      string(st.Stage),
			Status:     string(st.Status),
			Detail:     st.Detail,
			DurationMS: st.Duration().Milliseconds(),
		}
	}
	return jsonResult(out)
}

// hoist_detect_method
func (s *Server) detectMethodTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("hoist_detect_method",
		mcp.WithDescription("Detect how a local working tree would be deployed: compose (a compose manifest exists) or dockerfile. Compose wins when both exist."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Directory of the working tree")),
	)
	return tool, s.handleDetectMethod
}

func (s *Server) handleDetectMethod(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := request.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: path"), nil
	}

	d, err := detect.Detect(path)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]string{
		"method": string(d.Method),
		"file":   d.File,
	})
}

// hoist_render_proxy
func (s *Server) renderProxyTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("hoist_render_proxy",
		mcp.WithDescription("Render the Nginx server block that forwards port 80 to the application port."),
		mcp.WithNumber("port", mcp.Required(), mcp.Description("Application port (1-65535)")),
		mcp.WithString("server_name", mcp.Description("Nginx server_name (default _)")),
	)
	return tool, s.handleRenderProxy
}

func (s *Server) handleRenderProxy(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	port, err := request.RequireInt("port")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: port"), nil
	}

	site, err := proxy.Render(port, request.GetString("server_name", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(site), nil
}
