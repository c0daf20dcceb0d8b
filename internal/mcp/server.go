// Package mcp exposes the marketplace runtime as MCP tools so agent clients
// can invoke skills and workflows over the protocol.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"skillmarket/backend/internal/billing"
	"skillmarket/backend/internal/services"
	"skillmarket/backend/internal/workflow"
)

type Server struct {
	mcpServer  *server.MCPServer
	invocation *services.Invocation
	engine     *workflow.Engine
	billing    *billing.Service
}

func NewServer(invocation *services.Invocation, engine *workflow.Engine, bill *billing.Service) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"Skill Marketplace",
			"1.0.0",
			server.WithToolCapabilities(true),
		),
		invocation: invocation,
		engine:     engine,
		billing:    bill,
	}

	s.registerTools()
	return s
}

func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"invoke_skill",
			mcp.WithDescription("Invoke an installed skill for a tenant"),
			mcp.WithString("tenant_id", mcp.Required(), mcp.Description("Tenant on whose behalf to invoke")),
			mcp.WithString("skill_id", mcp.Required(), mcp.Description("The skill to invoke")),
			mcp.WithString("input", mcp.Required(), mcp.Description("JSON object with the skill input")),
			mcp.WithString("device_id", mcp.Description("Device identity for rate limiting")),
		),
		s.handleInvokeSkill,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"run_workflow",
			mcp.WithDescription("Run an approved workflow by id"),
			mcp.WithString("tenant_id", mcp.Required(), mcp.Description("Tenant on whose behalf to run")),
			mcp.WithString("workflow_id", mcp.Required(), mcp.Description("The workflow to run")),
			mcp.WithString("input", mcp.Description("JSON object with the initial variables")),
			mcp.WithString("device_id", mcp.Description("Device identity for rate limiting")),
		),
		s.handleRunWorkflow,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"wallet_balance",
			mcp.WithDescription("Read a tenant's remaining credits"),
			mcp.WithString("tenant_id", mcp.Required(), mcp.Description("The tenant to look up")),
		),
		s.handleWalletBalance,
	)
}

func toolCaller(args map[string]interface{}) (services.Caller, error) {
	tenantID, ok := args["tenant_id"].(string)
	if !ok || tenantID == "" {
		return services.Caller{}, fmt.Errorf("missing required parameter: tenant_id")
	}
	deviceID, _ := args["device_id"].(string)
	if deviceID == "" {
		deviceID = "mcp_client"
	}
	return services.Caller{TenantID: tenantID, UserID: "mcp", DeviceID: deviceID}, nil
}

func parseInput(args map[string]interface{}) (map[string]any, error) {
	raw, ok := args["input"].(string)
	if !ok || raw == "" {
		return map[string]any{}, nil
	}
	var input map[string]any
	if err := json.Unmarshal([]byte(raw), &input); err != nil {
		return nil, fmt.Errorf("input must be a JSON object: %w", err)
	}
	return input, nil
}

func (s *Server) handleInvokeSkill(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	call, err := toolCaller(args)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	skillID, ok := args["skill_id"].(string)
	if !ok || skillID == "" {
		return mcp.NewToolResultError("Missing required parameter: skill_id"), nil
	}
	input, err := parseInput(args)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	res, err := s.invocation.InvokeSkill(ctx, call, skillID, input)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Invocation denied: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(res)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleRunWorkflow(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	call, err := toolCaller(args)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	workflowID, ok := args["workflow_id"].(string)
	if !ok || workflowID == "" {
		return mcp.NewToolResultError("Missing required parameter: workflow_id"), nil
	}
	input, err := parseInput(args)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	res, err := s.engine.RunNamed(ctx, call, workflowID, "", input)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Workflow run failed: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(res)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleWalletBalance(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	tenantID, ok := args["tenant_id"].(string)
	if !ok || tenantID == "" {
		return mcp.NewToolResultError("Missing required parameter: tenant_id"), nil
	}

	balance, err := s.billing.Balance(ctx, tenantID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Balance lookup failed: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(map[string]any{"tenant_id": tenantID, "balance": balance})
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func MountHTTPHandlers(mux *http.ServeMux, mcpServer *server.MCPServer) {
	sseServer := server.NewSSEServer(mcpServer, server.WithStaticBasePath("/mcp"))

	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			sseServer.ServeHTTP(w, r)
			return
		}
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	})

	mux.HandleFunc("/mcp/sse", sseServer.ServeHTTP)
	mux.HandleFunc("/mcp/message", sseServer.ServeHTTP)
}
