package web

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/omegacore/agentrun/internal/loop"
	"github.com/omegacore/agentrun/internal/prompt"
	"github.com/omegacore/agentrun/internal/session"
	"github.com/omegacore/agentrun/internal/tool"
)

// CommandHandlerOptions configures the slash command handler.
type CommandHandlerOptions struct {
	Loader       *prompt.PromptLoader
	MCPReload    func() // nil = no MCP; /reload only reloads prompts
	Store        *session.Store
	Memory       *loop.SessionMemory
	Invoker      loop.LLMInvoker // used by /compact for summary generation
	ToolRegistry *tool.Registry  // used by /stats for tool count
	ModelName    string          // used by /stats
}

// commandResult is the JSON response from a slash command.
type commandResult struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"` // optional frontend action (e.g. "clear_chat")
}

// commandFunc handles a single slash command.
type commandFunc func(ctx context.Context, args string, sessionID string) commandResult

// CommandHandler routes slash commands to handlers without involving the
// Agent Loop Engine's own turn.
type CommandHandler struct {
	loader       *prompt.PromptLoader
	mcpReload    func()
	store        *session.Store
	memory       *loop.SessionMemory
	invoker      loop.LLMInvoker
	toolRegistry *tool.Registry
	modelName    string
	commands     map[string]commandFunc
}

// NewCommandHandler creates a command handler with built-in commands.
func NewCommandHandler(opts CommandHandlerOptions) *CommandHandler {
	h := &CommandHandler{
		loader:       opts.Loader,
		mcpReload:    opts.MCPReload,
		store:        opts.Store,
		memory:       opts.Memory,
		invoker:      opts.Invoker,
		toolRegistry: opts.ToolRegistry,
		modelName:    opts.ModelName,
	}
	h.commands = map[string]commandFunc{
		"reload":  h.cmdReload,
		"clear":   h.cmdClear,
		"help":    h.cmdHelp,
		"compact": h.cmdCompact,
		"stats":   h.cmdStats,
	}
	return h
}

type commandRequest struct {
	Command   string `json:"command"`
	Args      string `json:"args"`
	SessionID string `json:"session_id"`
}

// HandleCommand is the HTTP handler for POST /api/command.
func (h *CommandHandler) HandleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	w.Header().Set("Content-Type", "application/json")

	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		json.NewEncoder(w).Encode(commandResult{OK: false, Message: "failed to parse request: " + err.Error()})
		return
	}

	fn, ok := h.commands[req.Command]
	if !ok {
		json.NewEncoder(w).Encode(commandResult{
			OK:      false,
			Message: "unknown command /" + req.Command + ", type /help for the list",
		})
		return
	}

	result := fn(r.Context(), req.Args, req.SessionID)
	json.NewEncoder(w).Encode(result)
}

// ── Built-in commands ──

func (h *CommandHandler) cmdReload(ctx context.Context, args, sessionID string) commandResult {
	if h.loader != nil {
		h.loader.Reload()
	}
	if h.mcpReload != nil {
		h.mcpReload()
	}
	log.Printf("[Command] /reload executed")
	return commandResult{OK: true, Message: "prompts and MCP config reloaded"}
}

func (h *CommandHandler) cmdClear(ctx context.Context, args, sessionID string) commandResult {
	if sessionID != "" && h.store != nil {
		h.store.Delete(sessionID)
	}
	log.Printf("[Command] /clear executed, session=%s", sessionID)
	return commandResult{OK: true, Message: "conversation cleared", Action: "clear_chat"}
}

func (h *CommandHandler) cmdHelp(ctx context.Context, args, sessionID string) commandResult {
	return commandResult{
		OK: true,
		Message: "available commands:\n" +
			"/reload — reload prompts and MCP config\n" +
			"/clear — clear the current conversation\n" +
			"/compact [N] — summarize older history, keeping the last N messages (default 4)\n" +
			"/stats — show current session and system status\n" +
			"/help — show this message",
	}
}

func (h *CommandHandler) cmdStats(ctx context.Context, args, sessionID string) commandResult {
	var sb strings.Builder
	sb.WriteString("current session status\n")

	if sessionID != "" && h.memory != nil {
		history := h.memory.Get(sessionID)
		sb.WriteString(fmt.Sprintf("- messages: %d\n", len(history)))
	} else {
		sb.WriteString("- messages: no active session\n")
	}

	if h.toolRegistry != nil {
		tools := h.toolRegistry.List()
		mcpCount := 0
		for _, t := range tools {
			if strings.HasPrefix(t.Name(), "mcp_") {
				mcpCount++
			}
		}
		sb.WriteString(fmt.Sprintf("- registered tools: %d", len(tools)))
		if mcpCount > 0 {
			sb.WriteString(fmt.Sprintf(" (including %d MCP)", mcpCount))
		}
		sb.WriteString("\n")
	}

	if h.modelName != "" {
		sb.WriteString(fmt.Sprintf("- model: %s\n", h.modelName))
	}

	return commandResult{OK: true, Message: sb.String()}
}

func (h *CommandHandler) cmdCompact(ctx context.Context, args, sessionID string) commandResult {
	if sessionID == "" || h.memory == nil {
		return commandResult{OK: false, Message: "no active session"}
	}
	if h.invoker == nil {
		return commandResult{OK: false, Message: "LLM not configured, cannot summarize"}
	}

	keepN := 0 // Compact substitutes its own default when <= 0
	if args != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(args)); err == nil && n >= 0 {
			keepN = n
		}
	}

	removed, err := session.Compact(ctx, h.invoker, h.memory, sessionID, keepN)
	if err != nil {
		log.Printf("[Command] /compact LLM error: %v", err)
		return commandResult{OK: false, Message: "summary generation failed: " + err.Error()}
	}
	if removed == 0 {
		return commandResult{OK: true, Message: "conversation too short to compact"}
	}

	log.Printf("[Command] /compact executed, session=%s removed=%d", sessionID, removed)
	return commandResult{OK: true, Message: fmt.Sprintf("compacted %d messages into a summary", removed)}
}
