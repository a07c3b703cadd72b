package loop

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"
)

// ── Cost Guard ──

// CostGuard enforces an optional token budget and an optional wall-clock
// duration limit across one Execute run. Either limit set to 0 disables it.
type CostGuard struct {
	maxTokens   int64
	maxDuration time.Duration
	usedTokens  atomic.Int64
	startTime   time.Time
}

// NewCostGuard creates a cost guard. maxTokens <= 0 and/or maxDuration <= 0
// disable the respective check.
func NewCostGuard(maxTokens int64, maxDuration time.Duration) *CostGuard {
	return &CostGuard{maxTokens: maxTokens, maxDuration: maxDuration, startTime: time.Now()}
}

// RecordTokens adds n tokens to the running total and reports whether the
// budget has been exceeded.
func (g *CostGuard) RecordTokens(n int) bool {
	if g == nil || g.maxTokens <= 0 {
		return false
	}
	return g.usedTokens.Add(int64(n)) > g.maxTokens
}

// DurationExceeded reports whether the run has been active longer than the
// configured duration limit.
func (g *CostGuard) DurationExceeded() bool {
	if g == nil || g.maxDuration <= 0 {
		return false
	}
	return time.Since(g.startTime) > g.maxDuration
}

// Reason describes which limit tripped, for inclusion in a forced-completion
// notice. Callers should check RecordTokens/DurationExceeded first.
func (g *CostGuard) Reason() string {
	if g == nil {
		return ""
	}
	if g.maxTokens > 0 && g.usedTokens.Load() > g.maxTokens {
		return fmt.Sprintf("token budget exceeded: used %d / limit %d", g.usedTokens.Load(), g.maxTokens)
	}
	if g.maxDuration > 0 && time.Since(g.startTime) > g.maxDuration {
		return fmt.Sprintf("runtime exceeded: %v / limit %v", time.Since(g.startTime).Round(time.Second), g.maxDuration)
	}
	return ""
}

// ── Repetition Detector ──

const (
	repWindowSize          = 8
	repSameToolLimit       = 3
	repConsecErrorLimit    = 3
	repSimilarityThreshold = 0.6
)

// paramDedupTools maps tool names exempt from pure call-frequency counting
// to the parameter whose value should additionally match before two calls
// are considered the same. Its only entry, update_plan, is also dropped by
// filterToolSteps, so update_plan calls never reach any rule.
var paramDedupTools = map[string]string{
	"update_plan": "step_id",
}

// RepetitionDetector analyzes recent AgentSteps for repetitive tool use.
// Stateless: every Check call re-derives its verdict from the steps given.
type RepetitionDetector struct{}

// RepetitionResult describes a detected repetition pattern.
type RepetitionResult struct {
	Detected    bool
	Rule        string // "same_tool_freq", "similar_params", "consecutive_errors"
	Description string
	ToolName    string
}

// Check inspects the acting/observing steps taken so far and returns the
// first matching rule, if any. update_plan and walkthrough calls are
// excluded — their repetition is harmless bookkeeping.
func (d RepetitionDetector) Check(steps []AgentStep) RepetitionResult {
	toolSteps := filterToolSteps(steps)
	if len(toolSteps) < 2 {
		return RepetitionResult{}
	}
	if r := d.checkSameToolFrequency(toolSteps); r.Detected {
		return r
	}
	if r := d.checkSimilarParams(toolSteps); r.Detected {
		return r
	}
	if r := d.checkConsecutiveErrors(toolSteps); r.Detected {
		return r
	}
	return RepetitionResult{}
}

func filterToolSteps(steps []AgentStep) []AgentStep {
	out := make([]AgentStep, 0, len(steps))
	for _, s := range steps {
		if s.Status != StatusActing {
			continue
		}
		if s.ToolName == "update_plan" || s.ToolName == "walkthrough" || s.ToolName == "ask_followup_question" {
			continue
		}
		out = append(out, s)
	}
	return out
}

func toolCallKey(s AgentStep) (name, key string) {
	if paramKey, ok := paramDedupTools[s.ToolName]; ok {
		if v, ok := s.ToolInput[paramKey].(string); ok {
			return s.ToolName, v
		}
		return s.ToolName, ""
	}
	return s.ToolName, ""
}

func (d RepetitionDetector) checkSameToolFrequency(toolSteps []AgentStep) RepetitionResult {
	window := toolSteps
	if len(window) > repWindowSize {
		window = window[len(window)-repWindowSize:]
	}

	type dedupKey struct{ name, key string }
	freq := make(map[dedupKey]int)
	for _, s := range window {
		name, key := toolCallKey(s)
		freq[dedupKey{name, key}]++
	}

	for k, count := range freq {
		if count >= repSameToolLimit {
			desc := fmt.Sprintf("%s was called %d times", k.name, count)
			if k.key != "" && len(k.key) <= 60 {
				desc += fmt.Sprintf(" (param: %s)", k.key)
			}
			return RepetitionResult{Detected: true, Rule: "same_tool_freq", Description: desc, ToolName: k.name}
		}
	}
	return RepetitionResult{}
}

func (d RepetitionDetector) checkSimilarParams(toolSteps []AgentStep) RepetitionResult {
	last := toolSteps[len(toolSteps)-1]
	prev := toolSteps[len(toolSteps)-2]
	if last.ToolName != prev.ToolName {
		return RepetitionResult{}
	}

	similar := false
	switch {
	case isSearchTool(last.ToolName):
		q1, _ := prev.ToolInput["query"].(string)
		q2, _ := last.ToolInput["query"].(string)
		if q1 != "" && q2 != "" {
			similar = jaccardSimilarity(bigrams(q1), bigrams(q2)) > repSimilarityThreshold
		}
	case paramDedupTools[last.ToolName] == "path":
		p1, _ := prev.ToolInput["path"].(string)
		p2, _ := last.ToolInput["path"].(string)
		similar = p1 != "" && p1 == p2
	default:
		b1, _ := json.Marshal(prev.ToolInput)
		b2, _ := json.Marshal(last.ToolInput)
		similar = string(b1) == string(b2)
	}

	if similar {
		return RepetitionResult{Detected: true, Rule: "similar_params", Description: last.ToolName + " called consecutively with similar parameters", ToolName: last.ToolName}
	}
	return RepetitionResult{}
}

func (d RepetitionDetector) checkConsecutiveErrors(toolSteps []AgentStep) RepetitionResult {
	if len(toolSteps) < repConsecErrorLimit {
		return RepetitionResult{}
	}
	tail := toolSteps[len(toolSteps)-repConsecErrorLimit:]
	for _, s := range tail {
		if !strings.Contains(s.Observation, " failed: ") {
			return RepetitionResult{}
		}
	}
	return RepetitionResult{Detected: true, Rule: "consecutive_errors", Description: fmt.Sprintf("the last %d tool calls all failed", repConsecErrorLimit)}
}

func isSearchTool(name string) bool {
	return name == "web_search" || name == "search_tavily" || name == "search_brave" ||
		(strings.HasPrefix(name, "mcp_") && strings.Contains(name, "search"))
}

func bigrams(s string) map[string]bool {
	runes := []rune(s)
	set := make(map[string]bool)
	for i := 0; i < len(runes)-1; i++ {
		set[string(runes[i:i+2])] = true
	}
	return set
}

func jaccardSimilarity(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	intersection := 0
	for k := range a {
		if b[k] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 1.0
	}
	return float64(intersection) / float64(union)
}
