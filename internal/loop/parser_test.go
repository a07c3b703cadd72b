package loop_test

import (
	"reflect"
	"testing"

	"github.com/omegacore/agentrun/internal/loop"
)

func TestParseReply_Completion(t *testing.T) {
	result := loop.ParseReply("<attempt_completion><result>hello</result></attempt_completion>", nil)
	if result.Kind != loop.KindCompletion {
		t.Fatalf("got kind %q, want completion", result.Kind)
	}
	if result.CompletionText != "hello" {
		t.Errorf("got completion text %q, want hello", result.CompletionText)
	}
}

func TestParseReply_CompletionEmptyResultIsValid(t *testing.T) {
	result := loop.ParseReply("<attempt_completion><result></result></attempt_completion>", nil)
	if result.Kind != loop.KindCompletion {
		t.Fatalf("got kind %q, want completion", result.Kind)
	}
	if result.CompletionText != "" {
		t.Errorf("got completion text %q, want empty string", result.CompletionText)
	}
}

func TestParseReply_LegacyFinalAnswer(t *testing.T) {
	result := loop.ParseReply("<final_answer>done</final_answer>", nil)
	if result.Kind != loop.KindCompletion || result.CompletionText != "done" {
		t.Errorf("got %+v", result)
	}
}

func TestParseReply_GreedyExtractionToleratesNesting(t *testing.T) {
	result := loop.ParseReply("<attempt_completion><result><result>nested</result></result></attempt_completion>", nil)
	if result.Kind != loop.KindCompletion {
		t.Fatalf("got kind %q", result.Kind)
	}
	if result.CompletionText != "<result>nested</result>" {
		t.Errorf("got %q, want the outer pair's content", result.CompletionText)
	}
}

func TestParseReply_Followup(t *testing.T) {
	reply := `<ask_followup_question><question>Which file?</question>` +
		`<options><option>a.go</option><option>b.go</option></options></ask_followup_question>`
	result := loop.ParseReply(reply, nil)
	if result.Kind != loop.KindFollowup {
		t.Fatalf("got kind %q", result.Kind)
	}
	if result.FollowupQuestion != "Which file?" {
		t.Errorf("got question %q", result.FollowupQuestion)
	}
	if !reflect.DeepEqual(result.FollowupOptions, []string{"a.go", "b.go"}) {
		t.Errorf("got options %v", result.FollowupOptions)
	}
}

func TestParseReply_DirectTagToolCallRoundTrip(t *testing.T) {
	tools := []string{"echo", "write", "read"}
	for _, tool := range tools {
		reply := "<" + tool + "><p>v</p></" + tool + ">"
		result := loop.ParseReply(reply, tools)
		if result.Kind != loop.KindToolCall {
			t.Fatalf("tool %q: got kind %q", tool, result.Kind)
		}
		if result.ToolName != tool {
			t.Errorf("tool %q: got name %q", tool, result.ToolName)
		}
		if !reflect.DeepEqual(result.ToolParams, map[string]string{"p": "v"}) {
			t.Errorf("tool %q: got params %v", tool, result.ToolParams)
		}
	}
}

func TestParseReply_LegacyToolUseForm(t *testing.T) {
	reply := `<tool_use><tool_name>echo</tool_name><text>hi</text></tool_use>`
	result := loop.ParseReply(reply, []string{"echo"})
	if result.Kind != loop.KindToolCall {
		t.Fatalf("got kind %q", result.Kind)
	}
	if result.ToolName != "echo" {
		t.Errorf("got tool name %q", result.ToolName)
	}
	if result.ToolParams["text"] != "hi" {
		t.Errorf("got params %v", result.ToolParams)
	}
}

func TestParseReply_NoStructure(t *testing.T) {
	result := loop.ParseReply("let me try", []string{"echo"})
	if result.Kind != loop.KindNoStructure {
		t.Errorf("got kind %q, want no_structure", result.Kind)
	}
}

func TestParseReply_ReasoningExtractedAlongsideClassification(t *testing.T) {
	reply := "<thinking>pondering</thinking><attempt_completion><result>ok</result></attempt_completion>"
	result := loop.ParseReply(reply, nil)
	if result.Reasoning != "pondering" {
		t.Errorf("got reasoning %q", result.Reasoning)
	}
	if result.Kind != loop.KindCompletion {
		t.Errorf("got kind %q", result.Kind)
	}
}

func TestParseReply_ReasoningTagPriority(t *testing.T) {
	// thinking takes priority over thought and think when more than one is present.
	reply := "<think>c</think><thought>b</thought><thinking>a</thinking>"
	result := loop.ParseReply(reply, nil)
	if result.Reasoning != "a" {
		t.Errorf("got reasoning %q, want a", result.Reasoning)
	}
}

func TestNormalizeCompletion_StripsCodeFence(t *testing.T) {
	got := loop.NormalizeCompletion("```go\nfunc main() {}\n```")
	if got != "func main() {}" {
		t.Errorf("got %q", got)
	}
}

func TestNormalizeCompletion_TrimsWhitespace(t *testing.T) {
	got := loop.NormalizeCompletion("  \n  hello  \n ")
	if got != "hello" {
		t.Errorf("got %q", got)
	}
}
