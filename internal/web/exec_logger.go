package web

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/omegacore/agentrun/internal/loop"
)

// ExecLogger writes one markdown section per AgentStep to a log file for
// development debugging. It implements loop.StepSink so it can sit directly
// between the Engine and the SSE writer. Thread-safe; the file is truncated
// on creation.
type ExecLogger struct {
	mu   sync.Mutex
	file *os.File
}

// NewExecLogger creates a logger that writes to path, truncating it first.
func NewExecLogger(path string) (*ExecLogger, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("cannot create exec log: %w", err)
	}
	return &ExecLogger{file: f}, nil
}

// Send implements loop.StepSink.
func (l *ExecLogger) Send(runID string, step loop.AgentStep) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.writef("## run %s · step %d — %s\n\n", runID, step.Index, stepStatusLabel(step.Status))

	switch step.Status {
	case loop.StatusThinking:
		if step.Reasoning != "" {
			l.writef("\n> %s\n\n", strings.ReplaceAll(step.Reasoning, "\n", "\n> "))
		}
	case loop.StatusActing, loop.StatusObserving:
		if step.ToolName != "" {
			l.writef("**tool**: `%s`  \n", step.ToolName)
		}
		if len(step.ToolInput) > 0 {
			l.writef("\n<details>\n<summary>input</summary>\n\n```\n%v\n```\n\n</details>\n\n", step.ToolInput)
		}
		if step.Observation != "" {
			output := step.Observation
			runes := []rune(output)
			if len(runes) > 4000 {
				output = string(runes[:4000]) + "\n... (truncated)"
			}
			l.writef("\n<details>\n<summary>observation</summary>\n\n```\n%s\n```\n\n</details>\n\n", output)
		}
	case loop.StatusDone:
		if step.FinalAnswer != "" {
			l.writef("\n%s\n\n", step.FinalAnswer)
		}
	case loop.StatusError:
		l.writef("**error**: %s\n\n", step.Observation)
	}

	l.writef("---\n\n")
}

// StartRun writes a session header with the user's task.
func (l *ExecLogger) StartRun(runID, task string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writef("# agent run %s\n\n", runID)
	l.writef("**started**: %s  \n", time.Now().Format("2006-01-02 15:04:05"))
	l.writef("**task**: %s\n\n", task)
	l.writef("---\n\n")
}

// EndRun writes the final result summary.
func (l *ExecLogger) EndRun(result loop.LoopResult) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writef("## summary\n\n")
	l.writef("- **steps**: %d\n", len(result.Steps))
	l.writef("- **iterations**: %d\n", result.Iterations)
	l.writef("- **tokens**: %d\n", result.TotalTokens)
	l.writef("- **cost usd**: %.4f\n", result.TotalCostUSD)
	l.writef("- **finished**: %s\n\n", time.Now().Format("2006-01-02 15:04:05"))
}

// Close closes the underlying file.
func (l *ExecLogger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

func (l *ExecLogger) writef(format string, args ...interface{}) {
	fmt.Fprintf(l.file, format, args...)
}

func stepStatusLabel(s loop.StepStatus) string {
	switch s {
	case loop.StatusThinking:
		return "thinking"
	case loop.StatusActing:
		return "acting"
	case loop.StatusObserving:
		return "observing"
	case loop.StatusDone:
		return "done"
	case loop.StatusError:
		return "error"
	default:
		return string(s)
	}
}
