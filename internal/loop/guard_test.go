package loop

import (
	"testing"
	"time"
)

func TestCostGuard_TokenBudget_Exceeded(t *testing.T) {
	g := NewCostGuard(100, 0)
	if g.RecordTokens(60) {
		t.Fatal("should not be exceeded at 60/100")
	}
	if !g.RecordTokens(50) {
		t.Error("expected exceeded at 110/100")
	}
}

func TestCostGuard_TokenBudget_Disabled(t *testing.T) {
	g := NewCostGuard(0, 0)
	for i := 0; i < 10; i++ {
		if g.RecordTokens(99999) {
			t.Fatal("disabled guard should never report exceeded")
		}
	}
}

func TestCostGuard_Duration_Exceeded(t *testing.T) {
	g := NewCostGuard(0, 20*time.Millisecond)
	time.Sleep(40 * time.Millisecond)
	if !g.DurationExceeded() {
		t.Error("expected duration exceeded")
	}
	if g.Reason() == "" {
		t.Error("expected a non-empty reason once exceeded")
	}
}

func TestCostGuard_Duration_Disabled(t *testing.T) {
	g := NewCostGuard(0, 0)
	time.Sleep(10 * time.Millisecond)
	if g.DurationExceeded() {
		t.Error("disabled duration guard should never report exceeded")
	}
}

func TestCostGuard_NilSafe(t *testing.T) {
	var g *CostGuard
	if g.RecordTokens(100) {
		t.Error("nil guard should report no budget exceeded")
	}
	if g.DurationExceeded() {
		t.Error("nil guard should report no duration exceeded")
	}
	if g.Reason() != "" {
		t.Error("nil guard should have empty reason")
	}
}

func toolStep(index int, name string, input map[string]any, observation string) AgentStep {
	return AgentStep{Index: index, Status: StatusActing, ToolName: name, ToolInput: input, Observation: observation}
}

func TestRepetitionDetector_SameToolFrequency(t *testing.T) {
	var d RepetitionDetector
	steps := []AgentStep{
		toolStep(1, "file_read", map[string]any{"path": "a.go"}, "ok"),
		toolStep(2, "file_read", map[string]any{"path": "b.go"}, "ok"),
		toolStep(3, "file_read", map[string]any{"path": "c.go"}, "ok"),
	}
	r := d.Check(steps)
	if !r.Detected || r.Rule != "same_tool_freq" {
		t.Errorf("expected same_tool_freq detection, got %+v", r)
	}
}

func TestRepetitionDetector_UpdatePlanExempt(t *testing.T) {
	var d RepetitionDetector
	steps := []AgentStep{
		toolStep(1, "update_plan", map[string]any{"step_id": "1"}, "ok"),
		toolStep(2, "update_plan", map[string]any{"step_id": "2"}, "ok"),
		toolStep(3, "update_plan", map[string]any{"step_id": "3"}, "ok"),
	}
	if r := d.Check(steps); r.Detected {
		t.Errorf("update_plan repetition should be exempt, got %+v", r)
	}
}

func TestRepetitionDetector_SimilarParams(t *testing.T) {
	var d RepetitionDetector
	steps := []AgentStep{
		toolStep(1, "file_read", map[string]any{"path": "a.go"}, "ok"),
		toolStep(2, "file_read", map[string]any{"path": "a.go"}, "ok"),
	}
	r := d.Check(steps)
	if !r.Detected || r.Rule != "similar_params" {
		t.Errorf("expected similar_params detection, got %+v", r)
	}
}

func TestRepetitionDetector_ConsecutiveErrors(t *testing.T) {
	var d RepetitionDetector
	steps := []AgentStep{
		toolStep(1, "shell", map[string]any{"cmd": "a"}, "Tool shell failed: exit 1"),
		toolStep(2, "file_read", map[string]any{"path": "x"}, "Tool file_read failed: not found"),
		toolStep(3, "web_reader", map[string]any{"url": "y"}, "Tool web_reader failed: timeout"),
	}
	r := d.Check(steps)
	if !r.Detected || r.Rule != "consecutive_errors" {
		t.Errorf("expected consecutive_errors detection, got %+v", r)
	}
}

func TestRepetitionDetector_NoPatternBelowThreshold(t *testing.T) {
	var d RepetitionDetector
	steps := []AgentStep{
		toolStep(1, "file_read", map[string]any{"path": "a.go"}, "ok"),
		toolStep(2, "shell", map[string]any{"cmd": "ls"}, "ok"),
	}
	if r := d.Check(steps); r.Detected {
		t.Errorf("expected no detection, got %+v", r)
	}
}
