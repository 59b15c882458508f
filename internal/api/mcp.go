package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jobpulse/jobpulse/internal/orchestrator"
	"github.com/jobpulse/jobpulse/internal/storage"
	"github.com/jobpulse/jobpulse/internal/window"
)

// MCPWindows abstracts window lookups for the diagnostics server.
type MCPWindows interface {
	GetStatus(ctx context.Context, userID string) (window.Status, error)
}

// MCPDeps holds dependencies for the MCP diagnostics server.
type MCPDeps struct {
	Store   *storage.Store
	Engine  Engine
	Windows MCPWindows
}

// NewMCPServer creates an MCP server exposing operator diagnostics: run a
// delivery cycle, inspect engine status, and drill into one user's window.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"jobpulse",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("jobpulse — delivery scheduling diagnostics for the job-alert engine."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("run_cycle",
			mcp.WithDescription("Trigger one delivery cycle immediately and return its report."),
		),
		mcpRunCycle(deps),
	)

	s.AddTool(
		mcp.NewTool("delivery_status",
			mcp.WithDescription("Return engine status: eligible users, active windows, reminders sent today, embedding coverage."),
		),
		mcpDeliveryStatus(deps),
	)

	s.AddTool(
		mcp.NewTool("user_window",
			mcp.WithDescription("Inspect one user's conversation window and recent cycle outcomes."),
			mcp.WithString("address", mcp.Description("Messaging address of the user"), mcp.Required()),
		),
		mcpUserWindow(deps),
	)

	return s
}

func mcpRunCycle(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		report, err := deps.Engine.RunCycle(ctx)
		if err == orchestrator.ErrCycleRunning {
			return mcpError("a delivery cycle is already running"), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("cycle failed: %v", err)), nil
		}

		b, err := json.Marshal(map[string]any{
			"cycle_id":  report.CycleID,
			"eligible":  report.Eligible,
			"sent":      report.Sent,
			"reminders": report.Reminders,
			"skipped":   report.Skipped,
			"errors":    report.Errors,
			"duration":  report.Duration.String(),
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal report: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpDeliveryStatus(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		st, err := deps.Engine.Status(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to read status: %v", err)), nil
		}

		b, err := json.Marshal(st)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal status: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpUserWindow(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		address, err := req.RequireString("address")
		if err != nil {
			return mcpError("address is required"), nil
		}

		user, err := deps.Store.GetUserByAddress(address)
		if err == storage.ErrNotFound {
			return mcpError(fmt.Sprintf("no user with address %s", address)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to look up user: %v", err)), nil
		}

		st, err := deps.Windows.GetStatus(ctx, user.ID)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to read window: %v", err)), nil
		}

		result := map[string]any{
			"user_id":            user.ID,
			"address":            user.Address,
			"window_state":       st.State,
			"hours_elapsed":      st.HoursElapsed,
			"hours_remaining":    st.HoursRemaining,
			"messages_in_window": st.MessagesInWindow,
			"four_hour_sent":     st.FourHourReminderSent,
			"battery_sent":       st.BatteryWarningSent,
		}
		if !st.WindowStart.IsZero() {
			result["window_start"] = st.WindowStart.Format(time.RFC3339)
			result["last_activity"] = st.LastActivity.Format(time.RFC3339)
		}

		b, err := json.Marshal(result)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
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
