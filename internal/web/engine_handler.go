package web

import (
	"context"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/omegacore/agentrun/internal/loop"
	"github.com/omegacore/agentrun/internal/plan"
	"github.com/omegacore/agentrun/internal/prompt"
	"github.com/omegacore/agentrun/internal/session"
	"github.com/omegacore/agentrun/internal/tool"
	"github.com/omegacore/agentrun/internal/tool/builtin"
	"github.com/omegacore/agentrun/internal/walkthrough"
)

const (
	maxRequestBody  = 1 << 20         // 1MB max request body
	maxMessageRunes = 8000            // max user message length in runes
	defaultLanguage = loop.LangEN
)

// agentTimeout is the global timeout for one Engine.Execute call.
// Configurable via AGENT_TIMEOUT_MINUTES env var (default: 10, min: 1, max: 30).
var agentTimeout = loadAgentTimeout()

func loadAgentTimeout() time.Duration {
	const defaultMinutes = 10
	v := os.Getenv("AGENT_TIMEOUT_MINUTES")
	if v == "" {
		return time.Duration(defaultMinutes) * time.Minute
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 || n > 30 {
		log.Printf("[Config] WARNING: invalid AGENT_TIMEOUT_MINUTES=%q (must be 1-30), using default %d", v, defaultMinutes)
		return time.Duration(defaultMinutes) * time.Minute
	}
	return time.Duration(n) * time.Minute
}

// EngineHandlerOptions groups all configuration for EngineHandler.
type EngineHandlerOptions struct {
	Memory           *loop.SessionMemory
	LLM              loop.LLMInvoker
	Followup         loop.FollowupPrompter // optional
	Estimator        loop.TokenEstimator   // optional; defaults to loop's own CharEstimator
	Registry         *tool.Registry
	Loader           *prompt.PromptLoader
	SessionStore     *session.Store
	PlanStore        *plan.PlanStore
	WalkthroughStore *walkthrough.Store
	ExecLogger       *ExecLogger // optional development debug log
	MaxIterations    int
	MaxTokens        int
	Temperature      float64
	Language         loop.Language
	MaxRunTokens     int64         // 0 = no per-run token budget
	MaxRunDuration   time.Duration // 0 = no per-run duration limit
}

// EngineHandler serves POST /api/run. Because per-request tools (update_plan,
// walkthrough) are injected as a Registry view scoped to this request's
// session, EngineHandler builds a fresh loop.Engine per call instead of
// reusing one across requests — the Engine's ToolInvoker is bound at
// construction and cannot see a later WithExtra overlay.
type EngineHandler struct {
	memory           *loop.SessionMemory
	llm              loop.LLMInvoker
	followup         loop.FollowupPrompter
	estimator        loop.TokenEstimator
	registry         *tool.Registry
	loader           *prompt.PromptLoader
	sessionStore     *session.Store
	planStore        *plan.PlanStore
	walkthroughStore *walkthrough.Store
	execLogger       *ExecLogger
	maxIterations    int
	maxTokens        int
	temperature      float64
	language         loop.Language
	maxRunTokens     int64
	maxRunDuration   time.Duration
}

// NewEngineHandler creates an EngineHandler from EngineHandlerOptions.
func NewEngineHandler(opts EngineHandlerOptions) *EngineHandler {
	lang := opts.Language
	if lang == "" {
		lang = defaultLanguage
	}
	return &EngineHandler{
		memory:           opts.Memory,
		llm:              opts.LLM,
		followup:         opts.Followup,
		estimator:        opts.Estimator,
		registry:         opts.Registry,
		loader:           opts.Loader,
		sessionStore:     opts.SessionStore,
		planStore:        opts.PlanStore,
		walkthroughStore: opts.WalkthroughStore,
		execLogger:       opts.ExecLogger,
		maxIterations:    opts.MaxIterations,
		maxTokens:        opts.MaxTokens,
		temperature:      opts.Temperature,
		language:         lang,
		maxRunTokens:     opts.MaxRunTokens,
		maxRunDuration:   opts.MaxRunDuration,
	}
}

// HandleRun processes one task through the Agent Loop Engine using SSE
// streaming, emitting one "step" event per loop.AgentStep and a final
// "done" event carrying the answer and run statistics.
func (h *EngineHandler) HandleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)

	task := strings.TrimSpace(r.FormValue("message"))
	if task == "" {
		http.Error(w, "Empty message", http.StatusBadRequest)
		return
	}
	if len([]rune(task)) > maxMessageRunes {
		http.Error(w, "Message too long", http.StatusRequestEntityTooLarge)
		return
	}
	sessionID := strings.TrimSpace(r.FormValue("session_id"))
	runID := sessionID
	if runID == "" {
		runID = task
	}

	sse := newSSEWriter(w, r)
	if sse == nil {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), agentTimeout)
	defer cancel()

	reqRegistry := h.registry
	if h.planStore != nil {
		planTool := builtin.NewUpdatePlanTool(h.planStore, sessionID, func(steps []plan.PlanStep) {
			sse.Send("plan", map[string]any{"steps": steps})
		})
		reqRegistry = reqRegistry.WithExtra(planTool)
		defer h.planStore.Delete(sessionID)
	}
	if h.walkthroughStore != nil {
		wtTool := builtin.NewWalkthroughTool(h.walkthroughStore, sessionID)
		reqRegistry = reqRegistry.WithExtra(wtTool)
		defer h.walkthroughStore.Delete(sessionID)
	}

	cfg := loop.LoopConfig{
		MaxIterations:  h.maxIterations,
		MaxTokens:      h.maxTokens,
		Temperature:    h.temperature,
		Tools:          reqRegistry.Names(),
		BasePrompt:     h.basePrompt(),
		Language:       h.language,
		MaxRunTokens:   h.maxRunTokens,
		MaxRunDuration: h.maxRunDuration,
	}

	var userRules, projectRules string
	if h.loader != nil {
		userRules = h.loader.LoadUserRules()
		projectRules = h.loader.Load("decide_common.md")
	}

	var sink loop.StepSink = loop.NoopSink
	if h.execLogger != nil {
		sink = h.execLogger
		h.execLogger.StartRun(runID, task)
	}
	engine := loop.NewEngine(h.memory, h.llm, tool.RegistryInvoker{Registry: reqRegistry}, h.followup, sink, reqRegistry.Schemas())
	if h.estimator != nil {
		engine = engine.WithEstimator(h.estimator)
	}

	startTime := time.Now()
	result, err := engine.Execute(ctx, runID, cfg, sessionID, task, nil, nil, userRules, projectRules)
	if err != nil {
		log.Printf("[Engine] run %s failed: %v", runID, err)
		sse.Send("done", sseDoneEvent{Solution: "The run failed: " + err.Error()})
		return
	}
	if h.execLogger != nil {
		h.execLogger.EndRun(result)
	}

	if h.sessionStore != nil && sessionID != "" {
		h.sessionStore.Touch(sessionID)
	}

	toolCalls := 0
	for _, step := range result.Steps {
		if step.Status == loop.StatusActing {
			toolCalls++
		}
		sse.Send("step", sseStepEvent{
			Index:       step.Index,
			Status:      string(step.Status),
			Reasoning:   step.Reasoning,
			ToolName:    step.ToolName,
			ToolInput:   step.ToolInput,
			Observation: step.Observation,
			FinalAnswer: step.FinalAnswer,
		})
	}

	sse.Send("done", sseDoneEvent{
		Solution: result.FinalAnswer,
		Stats: &agentStats{
			Steps:      len(result.Steps),
			ToolCalls:  toolCalls,
			ElapsedMs:  time.Since(startTime).Milliseconds(),
			TokensUsed: result.TotalTokens,
			CostUSD:    result.TotalCostUSD,
		},
	})
	log.Printf("[Engine] run %s done: %d iterations, %d steps, %d tokens", runID, result.Iterations, len(result.Steps), result.TotalTokens)
}

// basePrompt assembles the L2 persona/objective text fed into
// loop.BuildSystemPrompt as BasePrompt, falling back to a minimal default
// when no PromptLoader is configured.
func (h *EngineHandler) basePrompt() string {
	if h.loader == nil {
		return "You are a careful, tool-using assistant."
	}
	var sb strings.Builder
	if soul := h.loader.LoadSoul(); soul != "" {
		sb.WriteString(soul)
		sb.WriteString("\n\n")
	}
	if style := h.loader.Load("answer_style.md"); style != "" {
		sb.WriteString(style)
	}
	if sb.Len() == 0 {
		return "You are a careful, tool-using assistant."
	}
	return sb.String()
}
