package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/omegacore/agentrun/internal/llm/openai"
	"github.com/omegacore/agentrun/internal/loop"
	"github.com/omegacore/agentrun/internal/mcp"
	"github.com/omegacore/agentrun/internal/plan"
	"github.com/omegacore/agentrun/internal/prompt"
	"github.com/omegacore/agentrun/internal/runtime"
	"github.com/omegacore/agentrun/internal/session"
	"github.com/omegacore/agentrun/internal/skill"
	"github.com/omegacore/agentrun/internal/tool"
	"github.com/omegacore/agentrun/internal/tool/builtin"
	"github.com/omegacore/agentrun/internal/walkthrough"
	"github.com/omegacore/agentrun/internal/web"
	"github.com/omegacore/agentrun/pkg/config"
)

func main() {
	// Load .env file
	config.LoadEnv()

	fmt.Println("╔══════════════════════════════════════╗")
	fmt.Println("║       Pocket-Omega v0.2              ║")
	fmt.Println("║   ReAct Agent Loop · Go + HTMX        ║")
	fmt.Println("╚══════════════════════════════════════╝")

	// Initialize LLM client
	llmClient, err := openai.NewClientFromEnv()
	if err != nil {
		log.Fatalf("❌ Failed to initialize LLM client: %v", err)
	}

	model := os.Getenv("LLM_MODEL")
	baseURL := os.Getenv("LLM_BASE_URL")
	fmt.Printf("🤖 LLM: %s @ %s\n", model, baseURL)

	// Initialize tool registry with built-in tools
	registry := tool.NewRegistry()
	workspaceDir := os.Getenv("WORKSPACE_DIR")
	if workspaceDir == "" {
		workspaceDir, _ = os.Getwd()
	}
	// Validate workspace directory exists
	if info, err := os.Stat(workspaceDir); err != nil || !info.IsDir() {
		log.Fatalf("❌ WORKSPACE_DIR %q does not exist or is not a directory", workspaceDir)
	}
	fmt.Printf("📂 Workspace: %s\n", workspaceDir)

	shellEnabled := os.Getenv("TOOL_SHELL_ENABLED") != "false"
	registry.Register(builtin.NewShellTool(workspaceDir, shellEnabled))
	registry.Register(builtin.NewFileReadTool(workspaceDir))
	registry.Register(builtin.NewFileWriteTool(workspaceDir))
	registry.Register(builtin.NewFileListTool(workspaceDir))
	registry.Register(builtin.NewFileFindTool(workspaceDir))
	registry.Register(builtin.NewTimeTool())
	registry.Register(builtin.NewWebReaderTool())

	// core file operations (unconditional)
	registry.Register(builtin.NewFileGrepTool(workspaceDir))
	registry.Register(builtin.NewFileMoveTool(workspaceDir))
	registry.Register(builtin.NewFileOpenTool(workspaceDir))

	// extended file operations (unconditional)
	registry.Register(builtin.NewFileDeleteTool(workspaceDir))
	registry.Register(builtin.NewFilePatchTool(workspaceDir))

	// HTTP request tool (enabled by default, disable via TOOL_HTTP_ENABLED=false)
	if os.Getenv("TOOL_HTTP_ENABLED") != "false" {
		allowInternal := os.Getenv("TOOL_HTTP_ALLOW_INTERNAL") == "true"
		registry.Register(builtin.NewHTTPRequestTool(allowInternal))
		if allowInternal {
			fmt.Println("🌐 HTTP request tool enabled (internal addresses allowed)")
		} else {
			fmt.Println("🌐 HTTP request tool enabled")
		}
	}

	// Conditional search tools — auto-enable when API key is configured
	if key := os.Getenv("TAVILY_API_KEY"); key != "" {
		registry.Register(builtin.NewTavilySearchTool(key))
		fmt.Println("🔍 Tavily web search enabled")
	}
	if key := os.Getenv("BRAVE_API_KEY"); key != "" {
		registry.Register(builtin.NewBraveSearchTool(key))
		fmt.Println("🔍 Brave search enabled")
	}

	if err := registry.InitAll(context.Background()); err != nil {
		log.Fatalf("❌ Failed to initialize tools: %v", err)
	}
	defer registry.CloseAll()

	// Probe node/tsx availability before loading skills — "node" runtime
	// skills fail at invocation time without this, so warn up front instead.
	nodeRuntime := runtime.ProbeNodeRuntime()
	if !nodeRuntime.NodeAvailable {
		log.Printf("⚠️  node not found in PATH: skills with runtime=\"node\" will fail to run")
	}

	// Load workspace skills from <workspaceDir>/skills/
	skillMgr := skill.NewManager(workspaceDir)
	if n, skillErrs := skillMgr.LoadAll(context.Background(), registry); n > 0 || len(skillErrs) > 0 {
		fmt.Printf("🧩 Workspace skills: %d loaded\n", n)
		for _, e := range skillErrs {
			log.Printf("⚠️  Skill load: %v", e)
		}
		if !nodeRuntime.NodeAvailable {
			if defs, _ := skill.ScanDir(workspaceDir); hasNodeSkill(defs) {
				log.Printf("⚠️  a loaded skill uses runtime=\"node\" but node was not found in PATH")
			}
		}
	}
	// skill_reload is always available so the agent can hot-reload skills
	// even when mcp.json is absent.
	registry.Register(skill.NewReloadTool(skillMgr, registry))

	fmt.Printf("🛠️  Tools: %d registered\n", len(registry.List()))

	// Initialize the three-layer prompt loader (L2 embed defaults + L3 user rules).
	// Created before MCP so that mcpMgr.SetPromptLoader can wire Reload integration.
	promptsDir := os.Getenv("PROMPTS_DIR")
	if promptsDir == "" {
		promptsDir = filepath.Join(workspaceDir, "prompts")
	}
	rulesPath := os.Getenv("USER_RULES_PATH")
	if rulesPath == "" {
		rulesPath = filepath.Join(workspaceDir, "rules.md")
	}
	soulPath := os.Getenv("SOUL_PATH")
	if soulPath == "" {
		soulPath = filepath.Join(workspaceDir, "soul.md")
	}
	promptLoader := prompt.NewPromptLoader(promptsDir, rulesPath, soulPath)
	fmt.Printf("📋 Prompt loader: L2=%s L3=%s Soul=%s\n", promptsDir, rulesPath, soulPath)

	// Initialize MCP client manager (optional — only when mcp.json exists)
	mcpServerCount := 0
	var mcpMgr *mcp.Manager
	mcpConfigPath := os.Getenv("MCP_CONFIG")
	if mcpConfigPath == "" {
		mcpConfigPath = "mcp.json"
	}
	if _, statErr := os.Stat(mcpConfigPath); statErr == nil {
		mcpMgr = mcp.NewManager(mcpConfigPath)
		// Wire prompt cache invalidation into mcp_reload so hot-reloading
		// prompts and MCP config both happen with a single tool call.
		mcpMgr.SetPromptLoader(promptLoader)
		// Wire skill reload into mcp_reload so that calling mcp_reload also
		// reloads workspace skills — one command covers everything.
		mcpMgr.AddReloadHook(skillMgr.Reload)
		// Always register the reload tool so the agent can fix connection issues
		// even if the initial ConnectAll fails partially or completely.
		registry.Register(mcp.NewReloadTool(mcpMgr, registry))

		n, mcpErrs := mcpMgr.ConnectAll(context.Background())
		for _, e := range mcpErrs {
			log.Printf("⚠️  MCP connect: %v", e)
		}
		if n > 0 {
			if err := mcpMgr.RegisterTools(context.Background(), registry); err != nil {
				log.Printf("⚠️  MCP register tools: %v", err)
			}
			fmt.Printf("🔌 MCP: %d server(s) connected\n", n)
		}
		mcpServerCount = n
		defer mcpMgr.CloseAll()
	}

	// Session memory (hard core) + TTL janitor (ambient)
	sessionTTL := 30 * time.Minute
	if v := os.Getenv("SESSION_TTL_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			sessionTTL = time.Duration(n) * time.Minute
		} else {
			log.Printf("⚠️ Invalid SESSION_TTL_MINUTES=%q, using default 30m", v)
		}
	}
	memory := loop.NewSessionMemory()
	sessionStore := session.NewStore(memory, sessionTTL)
	defer sessionStore.Close()
	fmt.Printf("💬 Session: TTL=%v\n", sessionTTL)

	planStore := plan.NewPlanStore()
	walkthroughStore := walkthrough.NewStore()

	maxIterations := 15
	if v := os.Getenv("AGENT_MAX_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			maxIterations = n
		}
	}
	contextWindow := llmClient.GetConfig().ResolveContextWindow()
	temperature := 0.3
	if v := os.Getenv("LLM_TEMPERATURE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			temperature = f
		}
	}
	fmt.Printf("📐 ContextWindow: %d tokens, MaxIterations: %d\n", contextWindow, maxIterations)

	var estimator loop.TokenEstimator
	if tk, err := loop.NewTiktokenEstimator(model); err == nil {
		estimator = tk
	} else {
		log.Printf("⚠️ Falling back to char-based token estimator: %v", err)
	}

	// Development debug log of every agent step, mirroring the teacher's
	// markdown exec log but driven from loop.AgentStep via loop.StepSink.
	logDir := filepath.Join(workspaceDir, "logs")
	var execLogger *web.ExecLogger
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		log.Printf("⚠️ Failed to create log directory %q: %v", logDir, err)
	} else if l, err := web.NewExecLogger(filepath.Join(logDir, "agent_exec.md")); err != nil {
		log.Printf("⚠️ Exec logger disabled: %v", err)
	} else {
		execLogger = l
		defer execLogger.Close()
		fmt.Printf("📝 Exec log: logs/agent_exec.md\n")
	}

	var maxRunTokens int64
	if v := os.Getenv("AGENT_MAX_RUN_TOKENS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			maxRunTokens = n
		}
	}
	var maxRunDuration time.Duration
	if v := os.Getenv("AGENT_MAX_RUN_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			maxRunDuration = time.Duration(n) * time.Minute
		}
	}

	engineHandler := web.NewEngineHandler(web.EngineHandlerOptions{
		Memory:           memory,
		LLM:              llmClient,
		Estimator:        estimator,
		Registry:         registry,
		Loader:           promptLoader,
		SessionStore:     sessionStore,
		PlanStore:        planStore,
		WalkthroughStore: walkthroughStore,
		ExecLogger:       execLogger,
		MaxIterations:    maxIterations,
		MaxTokens:        contextWindow,
		Temperature:      temperature,
		Language:         loop.LangEN,
		MaxRunTokens:     maxRunTokens,
		MaxRunDuration:   maxRunDuration,
	})

	commandHandler := web.NewCommandHandler(web.CommandHandlerOptions{
		Loader: promptLoader,
		MCPReload: func() {
			if mcpMgr != nil {
				if _, err := mcpMgr.Reload(context.Background(), registry); err != nil {
					log.Printf("⚠️  /reload MCP reload: %v", err)
				}
			}
		},
		Store:        sessionStore,
		Memory:       memory,
		Invoker:      llmClient,
		ToolRegistry: registry,
		ModelName:    model,
	})

	healthInfo := web.HealthInfo{
		LLMModel:       model,
		ToolCount:      len(registry.List()),
		MCPServerCount: mcpServerCount,
		SessionCount:   sessionStore.Count,
	}

	// Create and start web server
	server, err := web.NewServer(engineHandler, commandHandler, healthInfo)
	if err != nil {
		log.Fatalf("❌ Failed to create web server: %v", err)
	}

	if err := server.Start(); err != nil {
		log.Fatalf("❌ Server error: %v", err)
	}
}

func hasNodeSkill(defs []*skill.SkillDef) bool {
	for _, d := range defs {
		if d.Runtime == "node" {
			return true
		}
	}
	return false
}
