// Package loop implements the Agent Loop Runtime: a bounded, single-session
// ReAct-style state machine that interleaves LLM calls with tool dispatch,
// recovers from format and transient failures, and streams progress as a
// sequence of steps.
package loop

import (
	"context"
	"time"
)

// Role is the speaker of a ChatMessage.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Content is message content: either plain text or an ordered sequence of
// parts (text and image references). A tagged variant, not a raw string
// field, so callers cannot accidentally confuse the two shapes.
type Content interface {
	isContent()
}

// TextContent is a plain-string message body.
type TextContent string

func (TextContent) isContent() {}

// PartsContent is an ordered sequence of content parts.
type PartsContent []Part

func (PartsContent) isContent() {}

// Part is one element of a PartsContent sequence.
type Part interface {
	isPart()
}

// TextPart carries plain text within a PartsContent sequence.
type TextPart string

func (TextPart) isPart() {}

// ImageDetail is the hint level requested for image interpretation.
type ImageDetail string

const (
	DetailAuto ImageDetail = "auto"
	DetailLow  ImageDetail = "low"
	DetailHigh ImageDetail = "high"
)

// ImagePart references an image by URL with an optional detail hint.
type ImagePart struct {
	URL    string
	Detail ImageDetail
}

func (ImagePart) isPart() {}

// ChatMessage pairs a role with content. Invariant: the first non-system
// message of a run's history is always the original user task and is never
// removed by truncation.
type ChatMessage struct {
	Role    Role
	Content Content
}

// Text returns the message's content as a flattened string (text parts
// joined; image parts contribute nothing). Convenience for logging and
// token estimation call sites outside this package.
func (m ChatMessage) Text() string {
	return contentText(m.Content)
}

func contentText(c Content) string {
	switch v := c.(type) {
	case TextContent:
		return string(v)
	case PartsContent:
		out := ""
		for _, p := range v {
			if tp, ok := p.(TextPart); ok {
				out += string(tp)
			}
		}
		return out
	default:
		return ""
	}
}

// ParamSchema describes one tool input parameter.
type ParamSchema struct {
	Name        string
	Type        string
	Description string
	Required    bool
}

// ToolSchema describes one registered tool, unique by Name within a registry.
type ToolSchema struct {
	Name        string
	Description string
	Params      []ParamSchema
}

// RequiredParams returns the subset of Params marked required.
func (t ToolSchema) RequiredParams() []string {
	var out []string
	for _, p := range t.Params {
		if p.Required {
			out = append(out, p.Name)
		}
	}
	return out
}

// StepStatus is the lifecycle stage of one AgentStep.
type StepStatus string

const (
	StatusThinking  StepStatus = "thinking"
	StatusActing    StepStatus = "acting"
	StatusObserving StepStatus = "observing"
	StatusDone      StepStatus = "done"
	StatusError     StepStatus = "error"
)

// AgentStep is an immutable observation of one loop iteration. Within one
// Index, Status progresses monotonically thinking -> acting -> observing ->
// done/error; a done status implies a non-empty FinalAnswer.
type AgentStep struct {
	Index       int
	Status      StepStatus
	Reasoning   string
	ToolName    string
	ToolInput   map[string]any
	Observation string
	FinalAnswer string
	Tokens      int
	CostUSD     float64
}

// Language selects the wording used for nudges, notices and protocol text.
type Language string

const (
	LangEN Language = "en"
	LangZH Language = "zh"
)

// LoopConfig parameterises one Engine run.
type LoopConfig struct {
	MaxIterations int // >= 1
	MaxTokens     int
	Temperature   float64
	Tools         []string // ordered list of tool names available this run
	BasePrompt    string
	Language      Language

	// MaxRunTokens and MaxRunDuration bound a whole Execute run (as opposed
	// to MaxTokens, which bounds one history-truncation pass). Either <= 0
	// disables the respective check. When exceeded, the Engine forces
	// completion early instead of running the remaining iterations.
	MaxRunTokens   int64
	MaxRunDuration time.Duration
}

// LoopResult is the outcome of one Engine run.
type LoopResult struct {
	FinalAnswer  string
	Steps        []AgentStep
	TotalTokens  int
	TotalCostUSD float64
	Iterations   int
	History      []ChatMessage
}

// CallOptions carries per-call LLM parameters.
type CallOptions struct {
	Temperature float64
	MaxTokens   int
}

// LLMInvoker is the capability the Engine uses to call the language model.
// Implementations may fail; failures are retried by the Retry Policy.
type LLMInvoker interface {
	Invoke(ctx context.Context, systemPrompt string, history []ChatMessage, opts CallOptions) (text string, tokens int, costUSD float64, err error)
}

// ToolInvoker is the capability the Engine uses to dispatch a tool call.
type ToolInvoker interface {
	Invoke(ctx context.Context, name string, input map[string]any) (string, error)
}

// FollowupPrompter is the optional capability the Engine uses to surface an
// ask_followup_question back to a human and block for the answer.
type FollowupPrompter interface {
	Prompt(ctx context.Context, runID, question string, options []string) (string, error)
}

// StepSink receives one snapshot per sink call; it is never handed a
// mutable reference to subsequent state.
type StepSink interface {
	Send(runID string, step AgentStep)
}

// StepSinkFunc adapts a plain function to StepSink.
type StepSinkFunc func(runID string, step AgentStep)

// Send implements StepSink.
func (f StepSinkFunc) Send(runID string, step AgentStep) { f(runID, step) }

// NoopSink discards every step. Useful in tests that only assert on the
// returned LoopResult.
var NoopSink StepSink = StepSinkFunc(func(string, AgentStep) {})
