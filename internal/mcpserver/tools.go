package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/langline/langline/internal/common/logger"
	"github.com/langline/langline/internal/graph"
	"github.com/langline/langline/internal/runs"
	"github.com/langline/langline/internal/storage"
)

func registerTools(s *server.MCPServer, store storage.Storage, engine *runs.Engine, log *logger.Logger) {
	s.AddTool(
		mcp.NewTool("invoke_agent",
			mcp.WithDescription("Invoke an assistant with a message and return its reply. "+
				"Pass thread_id to continue an existing conversation."),
			mcp.WithString("assistant_id",
				mcp.Required(),
				mcp.Description("Assistant UUID or graph name to invoke"),
			),
			mcp.WithString("message",
				mcp.Required(),
				mcp.Description("The user message to send"),
			),
			mcp.WithString("thread_id",
				mcp.Description("Existing thread to continue (optional; a new thread is created when omitted)"),
			),
		),
		invokeAgentHandler(store, engine, log),
	)

	s.AddTool(
		mcp.NewTool("get_thread_state",
			mcp.WithDescription("Fetch the accumulated state of a conversation thread"),
			mcp.WithString("thread_id",
				mcp.Required(),
				mcp.Description("The thread ID to read"),
			),
		),
		getThreadStateHandler(store),
	)

	s.AddTool(
		mcp.NewTool("list_assistants",
			mcp.WithDescription("List available assistants, optionally filtered by graph name"),
			mcp.WithString("graph_id",
				mcp.Description("Only return assistants bound to this graph (optional)"),
			),
		),
		listAssistantsHandler(store),
	)

	log.Info("registered MCP tools", zap.Int("count", 3))
}

func invokeAgentHandler(store storage.Storage, engine *runs.Engine, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		assistantID, err := req.RequireString("assistant_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		message, err := req.RequireString("message")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		threadID := req.GetString("thread_id", "")

		assistant, err := engine.ResolveAssistant(ctx, assistantID, storage.SystemOwner)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Unknown assistant %q", assistantID)), nil
		}

		if threadID == "" {
			threadID = uuid.NewString()
		}
		thread := &storage.Thread{
			ThreadID: threadID,
			Metadata: map[string]any{"mcp": true},
			Status:   storage.ThreadStatusIdle,
			Values:   map[string]any{},
		}
		if _, err := store.Threads().Create(ctx, thread, storage.SystemOwner, storage.IfExistsDoNothing); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to prepare thread: %v", err)), nil
		}

		run, err := engine.CreateRun(ctx, runs.CreateRunParams{
			ThreadID:          threadID,
			Assistant:         assistant,
			Input:             message,
			Metadata:          map[string]any{"mcp": true},
			MultitaskStrategy: storage.MultitaskEnqueue,
		})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to create run: %v", err)), nil
		}

		state, err := engine.Execute(ctx, run, assistant, "")
		if err != nil {
			log.WithError(err).Warn("MCP agent invocation failed", zap.String("run_id", run.RunID))
			return mcp.NewToolResultError(err.Error()), nil
		}

		reply := graph.LastMessageContent(state.Values)
		payload, _ := json.MarshalIndent(map[string]any{
			"thread_id": threadID,
			"run_id":    run.RunID,
			"reply":     reply,
		}, "", "  ")
		return mcp.NewToolResultText(string(payload)), nil
	}
}

func getThreadStateHandler(store storage.Storage) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		threadID, err := req.RequireString("thread_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		state, err := store.Threads().GetState(ctx, threadID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to read thread state: %v", err)), nil
		}
		formatted, _ := json.MarshalIndent(state, "", "  ")
		return mcp.NewToolResultText(string(formatted)), nil
	}
}

func listAssistantsHandler(store storage.Storage) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		results, err := store.Assistants().Search(ctx, storage.AssistantQuery{
			GraphID: req.GetString("graph_id", ""),
			Limit:   100,
		}, storage.SystemOwner)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to list assistants: %v", err)), nil
		}
		formatted, _ := json.MarshalIndent(results, "", "  ")
		return mcp.NewToolResultText(string(formatted)), nil
	}
}
