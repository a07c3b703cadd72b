package web

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/omegacore/agentrun/internal/loop"
	"github.com/omegacore/agentrun/internal/session"
)

type noopInvoker struct{}

func (noopInvoker) Invoke(_ context.Context, _ string, _ []loop.ChatMessage, _ loop.CallOptions) (string, int, float64, error) {
	return "a terse summary", 5, 0, nil
}

func postCommand(t *testing.T, h *CommandHandler, cmd, args, sessionID string) commandResult {
	t.Helper()
	body, _ := json.Marshal(commandRequest{Command: cmd, Args: args, SessionID: sessionID})
	req := httptest.NewRequest(http.MethodPost, "/api/command", bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.HandleCommand(w, req)

	var result commandResult
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return result
}

func TestCommandHandler_UnknownCommand(t *testing.T) {
	h := NewCommandHandler(CommandHandlerOptions{})
	result := postCommand(t, h, "nope", "", "")
	if result.OK {
		t.Error("unknown command should report OK=false")
	}
}

func TestCommandHandler_Clear(t *testing.T) {
	mem := loop.NewSessionMemory()
	mem.Put("s1", []loop.ChatMessage{{Role: loop.RoleUser, Content: loop.TextContent("hi")}})
	store := session.NewStore(mem, time.Minute)
	defer store.Close()

	h := NewCommandHandler(CommandHandlerOptions{Store: store, Memory: mem})
	result := postCommand(t, h, "clear", "", "s1")
	if !result.OK || result.Action != "clear_chat" {
		t.Errorf("got %+v", result)
	}
	if got := mem.Get("s1"); got != nil {
		t.Errorf("expected session cleared, got %v", got)
	}
}

func TestCommandHandler_CompactNoActiveSession(t *testing.T) {
	h := NewCommandHandler(CommandHandlerOptions{})
	result := postCommand(t, h, "compact", "", "")
	if result.OK {
		t.Error("compact with no session should fail")
	}
}

func TestCommandHandler_CompactSummarizesHistory(t *testing.T) {
	mem := loop.NewSessionMemory()
	var history []loop.ChatMessage
	for i := 0; i < 10; i++ {
		history = append(history, loop.ChatMessage{Role: loop.RoleUser, Content: loop.TextContent("x")})
	}
	mem.Put("s1", history)

	h := NewCommandHandler(CommandHandlerOptions{Memory: mem, Invoker: noopInvoker{}})
	result := postCommand(t, h, "compact", "4", "s1")
	if !result.OK {
		t.Errorf("expected compact to succeed, got %+v", result)
	}
}

func TestCommandHandler_Help(t *testing.T) {
	h := NewCommandHandler(CommandHandlerOptions{})
	result := postCommand(t, h, "help", "", "")
	if !result.OK || result.Message == "" {
		t.Errorf("got %+v", result)
	}
}
