package loop_test

import (
	"strings"
	"testing"

	"github.com/omegacore/agentrun/internal/loop"
)

func TestBuildSystemPrompt_PureFunctionOfInputs(t *testing.T) {
	tools := []loop.ToolSchema{
		{Name: "echo", Description: "Echoes text.", Params: []loop.ParamSchema{
			{Name: "text", Type: "string", Required: true, Description: "text to echo"},
		}},
	}
	a := loop.BuildSystemPrompt("You are an agent.", tools, loop.LangEN, "be polite", "use tabs")
	b := loop.BuildSystemPrompt("You are an agent.", tools, loop.LangEN, "be polite", "use tabs")
	if a != b {
		t.Fatal("expected byte-identical output for identical inputs")
	}
}

func TestBuildSystemPrompt_IncludesToolUsageBlock(t *testing.T) {
	tools := []loop.ToolSchema{
		{Name: "write", Description: "Writes a file.", Params: []loop.ParamSchema{
			{Name: "path", Type: "string", Required: true},
			{Name: "content", Type: "string", Required: true},
		}},
	}
	prompt := loop.BuildSystemPrompt("base", tools, loop.LangEN, "", "")
	roundTrip := loop.ParseReply("<write><path>a.txt</path><content>hi</content></write>", []string{"write"})
	if roundTrip.Kind != loop.KindToolCall || roundTrip.ToolName != "write" {
		t.Fatalf("expected the prompt's canonical example shape to parse as a tool call, got %+v", roundTrip)
	}
	if roundTrip.ToolParams["path"] != "a.txt" || roundTrip.ToolParams["content"] != "hi" {
		t.Errorf("got params %v", roundTrip.ToolParams)
	}
	if len(prompt) == 0 {
		t.Fatal("expected non-empty prompt")
	}
	if !strings.Contains(prompt, "## write") || !strings.Contains(prompt, "<path>string, required</path>") {
		t.Errorf("expected the write tool's usage block in the prompt, got %q", prompt)
	}
}

func TestBuildSystemPrompt_OmitsEmptyRuleSections(t *testing.T) {
	prompt := loop.BuildSystemPrompt("base", nil, loop.LangEN, "", "")
	if strings.Contains(prompt, "# User Rules") || strings.Contains(prompt, "# Project Rules") {
		t.Errorf("expected no rule sections when both are empty, got:\n%s", prompt)
	}
}
