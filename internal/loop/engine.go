package loop

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/omegacore/agentrun/internal/retry"
)

// ErrSessionBusy is returned by Execute when a run is already active for the
// requested session id. Two runs against the same session are forbidden by
// policy (§5); callers must wait for the first to finish or serialise
// themselves.
var ErrSessionBusy = errors.New("loop: a run is already active for this session")

// Engine is the Agent Loop Engine: a bounded single-session state machine
// driving one ReAct loop per Execute call. Capability dependencies are
// small interfaces carried by value, replacing the source's closure-based
// injection (§9).
type Engine struct {
	memory      *SessionMemory
	llm         LLMInvoker
	tools       ToolInvoker
	followup    FollowupPrompter // optional; nil is a valid "no prompter configured" state
	sink        StepSink
	estimator   TokenEstimator
	toolSchemas map[string]ToolSchema

	mu           sync.Mutex
	activeRuns   map[string]context.CancelFunc // runID -> cancel
	activeByName map[string]string             // sessionID -> runID
}

// NewEngine constructs an Engine. toolSchemas need not cover every tool
// named in a given run's LoopConfig.Tools; schemas missing from the map are
// treated as having no required parameters.
func NewEngine(memory *SessionMemory, llm LLMInvoker, tools ToolInvoker, followup FollowupPrompter, sink StepSink, toolSchemas []ToolSchema) *Engine {
	schemaMap := make(map[string]ToolSchema, len(toolSchemas))
	for _, s := range toolSchemas {
		schemaMap[s.Name] = s
	}
	if sink == nil {
		sink = NoopSink
	}
	return &Engine{
		memory:       memory,
		llm:          llm,
		tools:        tools,
		followup:     followup,
		sink:         sink,
		estimator:    CharEstimator{},
		toolSchemas:  schemaMap,
		activeRuns:   make(map[string]context.CancelFunc),
		activeByName: make(map[string]string),
	}
}

// WithEstimator replaces the default char-count TokenEstimator, e.g. with a
// TiktokenEstimator, without changing any other contract.
func (e *Engine) WithEstimator(estimator TokenEstimator) *Engine {
	e.estimator = estimator
	return e
}

type llmResult struct {
	text    string
	tokens  int
	costUSD float64
}

// Execute runs one ReAct loop to completion, cancellation, or terminal
// error. runID identifies this run for Cancel; sessionID identifies the
// conversation whose history is loaded from and, at exit, written back to
// Session Memory. historyOverride, when non-nil, replaces the session's
// stored history as the run's starting point instead of loading it from
// memory. userRules and projectRules are passed through to the Prompt
// Builder.
func (e *Engine) Execute(
	ctx context.Context,
	runID string,
	cfg LoopConfig,
	sessionID string,
	task string,
	images []string,
	historyOverride []ChatMessage,
	userRules, projectRules string,
) (LoopResult, error) {
	if cfg.MaxIterations < 1 {
		cfg.MaxIterations = 1
	}

	if !e.lockSession(runID, sessionID) {
		return LoopResult{}, ErrSessionBusy
	}
	runCtx, cancel := context.WithCancel(ctx)
	e.registerCancel(runID, cancel)
	defer func() {
		cancel()
		e.unlockSession(runID, sessionID)
	}()

	var history []ChatMessage
	if historyOverride != nil {
		history = append(history, historyOverride...)
	} else {
		history = e.memory.Get(sessionID)
	}
	history = append(history, ChatMessage{Role: RoleUser, Content: buildUserContent(task, images)})

	schemas := make([]ToolSchema, 0, len(cfg.Tools))
	for _, name := range cfg.Tools {
		if s, ok := e.toolSchemas[name]; ok {
			schemas = append(schemas, s)
		} else {
			schemas = append(schemas, ToolSchema{Name: name})
		}
	}
	systemPrompt := BuildSystemPrompt(cfg.BasePrompt, schemas, cfg.Language, userRules, projectRules)

	var steps []AgentStep
	mistakeCounter := 0
	totalTokens := 0
	totalCostUSD := 0.0
	iterations := 0
	costGuard := NewCostGuard(cfg.MaxRunTokens, cfg.MaxRunDuration)
	var detector RepetitionDetector
	repetitionWarned := false

	persist := func(result LoopResult) LoopResult {
		result.History = history
		e.memory.Put(sessionID, history)
		return result
	}

	for i := 1; i <= cfg.MaxIterations; i++ {
		iterations = i

		if runCtx.Err() != nil {
			return persist(cancelledResult(cfg.Language, steps, totalTokens, totalCostUSD, iterations)), nil
		}

		if costGuard.DurationExceeded() {
			forced := e.forceCompletion(runCtx, runID, cfg, history, steps, totalTokens, totalCostUSD, iterations, systemPrompt)
			return persist(forced), nil
		}

		thinkStep := AgentStep{Index: i, Status: StatusThinking}
		steps = append(steps, thinkStep)
		e.sink.Send(runID, thinkStep)

		history, _ = Truncate(history, e.estimator, cfg.MaxTokens, cfg.Language)

		if runCtx.Err() != nil {
			return persist(cancelledResult(cfg.Language, steps, totalTokens, totalCostUSD, iterations)), nil
		}

		res, err := retry.Do(runCtx, retry.Default, func(ctx context.Context) (llmResult, error) {
			text, tokens, cost, err := e.llm.Invoke(ctx, systemPrompt, history, CallOptions{
				Temperature: cfg.Temperature,
				MaxTokens:   cfg.MaxTokens,
			})
			return llmResult{text: text, tokens: tokens, costUSD: cost}, err
		})
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return persist(cancelledResult(cfg.Language, steps, totalTokens, totalCostUSD, iterations)), nil
			}
			errStep := AgentStep{Index: i, Status: StatusError, Reasoning: err.Error()}
			steps = append(steps, errStep)
			e.sink.Send(runID, errStep)
			return persist(LoopResult{
				Steps:        steps,
				TotalTokens:  totalTokens,
				TotalCostUSD: totalCostUSD,
				Iterations:   iterations,
			}), fmt.Errorf("loop: terminal LLM failure: %w", err)
		}

		totalTokens += res.tokens
		totalCostUSD += res.costUSD
		history = append(history, ChatMessage{Role: RoleAssistant, Content: TextContent(res.text)})

		if costGuard.RecordTokens(res.tokens) {
			forced := e.forceCompletion(runCtx, runID, cfg, history, steps, totalTokens, totalCostUSD, iterations, systemPrompt)
			return persist(forced), nil
		}

		parsed := ParseReply(res.text, cfg.Tools)

		switch parsed.Kind {
		case KindCompletion:
			final := NormalizeCompletion(parsed.CompletionText)
			doneStep := AgentStep{Index: i, Status: StatusDone, Reasoning: parsed.Reasoning, FinalAnswer: final, Tokens: res.tokens, CostUSD: res.costUSD}
			steps = append(steps, doneStep)
			e.sink.Send(runID, doneStep)
			return persist(LoopResult{
				FinalAnswer:  final,
				Steps:        steps,
				TotalTokens:  totalTokens,
				TotalCostUSD: totalCostUSD,
				Iterations:   iterations,
			}), nil

		case KindFollowup:
			actingStep := AgentStep{Index: i, Status: StatusActing, ToolName: "ask_followup_question", Reasoning: parsed.Reasoning}
			steps = append(steps, actingStep)
			e.sink.Send(runID, actingStep)

			var answer string
			switch {
			case e.followup == nil:
				answer = noPrompterAnswer(cfg.Language)
			default:
				a, ferr := e.followup.Prompt(runCtx, runID, parsed.FollowupQuestion, parsed.FollowupOptions)
				if ferr != nil {
					answer = fallbackFollowupAnswer(cfg.Language)
				} else {
					answer = a
				}
			}

			history = append(history, ChatMessage{Role: RoleUser, Content: TextContent(parsed.FollowupQuestion + "\n\n" + answer)})
			obsStep := AgentStep{Index: i, Status: StatusObserving, ToolName: "ask_followup_question", Observation: answer}
			steps = append(steps, obsStep)
			e.sink.Send(runID, obsStep)
			mistakeCounter = 0
			continue

		case KindToolCall:
			schema := e.toolSchemas[parsed.ToolName]
			missing := missingRequiredParams(schema, parsed.ToolParams)
			if len(missing) > 0 {
				msg := missingParamMessage(cfg.Language, parsed.ToolName, missing)
				history = append(history, ChatMessage{Role: RoleUser, Content: TextContent(msg)})
				mistakeCounter++
				continue
			}

			actingStep := AgentStep{Index: i, Status: StatusActing, ToolName: parsed.ToolName, ToolInput: paramsToMap(parsed.ToolParams), Reasoning: parsed.Reasoning}
			steps = append(steps, actingStep)
			e.sink.Send(runID, actingStep)

			obs, terr := e.tools.Invoke(runCtx, parsed.ToolName, paramsToMap(parsed.ToolParams))
			if terr != nil {
				obs = toolFailedObservation(parsed.ToolName, terr)
			}
			observingStep := AgentStep{Index: i, Status: StatusObserving, ToolName: parsed.ToolName, Observation: obs}
			steps = append(steps, observingStep)
			e.sink.Send(runID, observingStep)

			history = append(history, ChatMessage{Role: RoleUser, Content: TextContent(toolUseResultMessage(cfg.Language, parsed.ToolName, obs))})
			mistakeCounter = 0

			if !repetitionWarned {
				if r := detector.Check(steps); r.Detected {
					repetitionWarned = true
					history = append(history, ChatMessage{Role: RoleUser, Content: TextContent(repetitionNotice(cfg.Language, r.Description))})
				}
			}
			continue

		default: // KindNoStructure
			mistakeCounter++
			var nudge string
			if mistakeCounter >= 3 {
				nudge = tooManyMistakesMessage(cfg.Language)
			} else {
				nudge = noToolUsedNudge(cfg.Language)
			}
			history = append(history, ChatMessage{Role: RoleUser, Content: TextContent(nudge)})
			continue
		}
	}

	forced := e.forceCompletion(runCtx, runID, cfg, history, steps, totalTokens, totalCostUSD, iterations, systemPrompt)
	history = forced.History
	return persist(forced), nil
}

func (e *Engine) forceCompletion(
	ctx context.Context,
	runID string,
	cfg LoopConfig,
	history []ChatMessage,
	steps []AgentStep,
	totalTokens int,
	totalCostUSD float64,
	iterations int,
	systemPrompt string,
) LoopResult {
	history = append(history, ChatMessage{Role: RoleUser, Content: TextContent(forcedCompletionInstruction(cfg.Language))})

	lowerTemp := cfg.Temperature / 2

	res, err := retry.Do(ctx, retry.ForcedCompletion, func(ctx context.Context) (llmResult, error) {
		text, tokens, cost, err := e.llm.Invoke(ctx, systemPrompt, history, CallOptions{
			Temperature: lowerTemp,
			MaxTokens:   cfg.MaxTokens,
		})
		return llmResult{text: text, tokens: tokens, costUSD: cost}, err
	})

	var final string
	if err != nil {
		final = concatObservations(steps)
	} else {
		totalTokens += res.tokens
		totalCostUSD += res.costUSD
		history = append(history, ChatMessage{Role: RoleAssistant, Content: TextContent(res.text)})
		parsed := ParseReply(res.text, cfg.Tools)
		if parsed.Kind == KindCompletion {
			final = NormalizeCompletion(parsed.CompletionText)
		} else {
			final = NormalizeCompletion(res.text)
		}
	}

	doneStep := AgentStep{Index: iterations, Status: StatusDone, FinalAnswer: final, Tokens: totalTokens, CostUSD: totalCostUSD}
	steps = append(steps, doneStep)
	e.sink.Send(runID, doneStep)

	return LoopResult{
		FinalAnswer:  final,
		Steps:        steps,
		TotalTokens:  totalTokens,
		TotalCostUSD: totalCostUSD,
		Iterations:   iterations,
		History:      history,
	}
}

// Cancel signals cancellation for an in-progress run. Returns false if runID
// is not currently active.
func (e *Engine) Cancel(runID string) bool {
	e.mu.Lock()
	cancel, ok := e.activeRuns[runID]
	e.mu.Unlock()
	if !ok {
		return false
	}
	cancel()
	return true
}

// ClearSession discards the stored memory for sessionID.
func (e *Engine) ClearSession(sessionID string) {
	e.memory.Clear(sessionID)
}

func (e *Engine) lockSession(runID, sessionID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.activeByName[sessionID]; busy {
		return false
	}
	e.activeByName[sessionID] = runID
	return true
}

func (e *Engine) unlockSession(runID, sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.activeRuns, runID)
	if e.activeByName[sessionID] == runID {
		delete(e.activeByName, sessionID)
	}
}

func (e *Engine) registerCancel(runID string, cancel context.CancelFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.activeRuns[runID] = cancel
}

func cancelledResult(lang Language, steps []AgentStep, totalTokens int, totalCostUSD float64, iterations int) LoopResult {
	return LoopResult{
		FinalAnswer:  cancelledMessage(lang),
		Steps:        steps,
		TotalTokens:  totalTokens,
		TotalCostUSD: totalCostUSD,
		Iterations:   iterations,
	}
}

func buildUserContent(task string, images []string) Content {
	if len(images) == 0 {
		return TextContent(task)
	}
	parts := make(PartsContent, 0, len(images)+1)
	parts = append(parts, TextPart(task))
	for _, url := range images {
		parts = append(parts, ImagePart{URL: url, Detail: DetailAuto})
	}
	return parts
}

func missingRequiredParams(schema ToolSchema, params map[string]string) []string {
	var missing []string
	for _, name := range schema.RequiredParams() {
		if _, ok := params[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

func paramsToMap(params map[string]string) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}
