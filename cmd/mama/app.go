package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/haasonsaas/mama/internal/agent"
	"github.com/haasonsaas/mama/internal/audit"
	"github.com/haasonsaas/mama/internal/config"
	"github.com/haasonsaas/mama/internal/jobs"
	"github.com/haasonsaas/mama/internal/llm"
	"github.com/haasonsaas/mama/internal/llm/cost"
	"github.com/haasonsaas/mama/internal/llm/providers"
	"github.com/haasonsaas/mama/internal/memory/consolidated"
	"github.com/haasonsaas/mama/internal/memory/consolidation"
	"github.com/haasonsaas/mama/internal/memory/embedding"
	"github.com/haasonsaas/mama/internal/memory/episodic"
	"github.com/haasonsaas/mama/internal/memory/retrieval"
	"github.com/haasonsaas/mama/internal/memory/soul"
	"github.com/haasonsaas/mama/internal/sandbox"
	"github.com/haasonsaas/mama/internal/sandbox/capfs"
	"github.com/haasonsaas/mama/internal/sandbox/capnet"
	"github.com/haasonsaas/mama/internal/sandbox/capshell"
	"github.com/haasonsaas/mama/internal/scheduler"
	execTool "github.com/haasonsaas/mama/internal/tools/exec"
	filesTool "github.com/haasonsaas/mama/internal/tools/files"
	jobsTool "github.com/haasonsaas/mama/internal/tools/jobs"
	metaTool "github.com/haasonsaas/mama/internal/tools/meta"
	networkTool "github.com/haasonsaas/mama/internal/tools/network"
	scheduletool "github.com/haasonsaas/mama/internal/tools/schedule"
	websearchTool "github.com/haasonsaas/mama/internal/tools/websearch"
	"github.com/haasonsaas/mama/internal/store"
	"github.com/haasonsaas/mama/internal/workingmemory"
	"github.com/haasonsaas/mama/pkg/types"
)

// app bundles every long-lived collaborator the CLI subcommands need,
// wired once at process start. Grounded on the teacher's cmd/nexus command
// builders, which each re-derive their dependencies from a loaded
// config.Config rather than holding a single shared container; app
// consolidates that into one struct since mama's surface is much smaller.
type app struct {
	cfg config.Config

	db         *store.Store
	auditStore audit.Store
	sandbox    *sandbox.Sandbox
	router     *llm.Router
	costTrack  *cost.Tracker
	scheduler  *scheduler.Scheduler
	registry   *agent.ToolRegistry

	episodes    *episodic.Store
	memories    *consolidated.Store
	retrieval   *retrieval.Pipeline
	consolidate *consolidation.Engine
	jobStore    jobs.Store

	soulPath string
	logger   *slog.Logger
}

func loadConfig() (config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	return config.Load(path)
}

// newApp opens the store, builds the sandbox/router/memory/scheduler stack,
// and registers every tool, per spec.md §3's module layering.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	home := config.Home()
	if err := os.MkdirAll(home, 0o755); err != nil {
		return nil, fmt.Errorf("create home dir: %w", err)
	}
	if err := os.MkdirAll(cfg.Sandbox.WorkspaceRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace dir: %w", err)
	}

	db, err := store.Open(ctx, cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	logger := slog.Default()
	auditStore := audit.NewSQLStore(db)

	sb := sandbox.New(auditStore)
	fs, err := capfs.New(capfs.Policy{WorkspaceRoot: cfg.Sandbox.WorkspaceRoot})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("build filesystem capability: %w", err)
	}
	sb.Register(fs)
	sb.Register(capshell.New(capshell.Policy{}))
	sb.Register(capnet.New(capnet.Policy{
		AllowedDomains:     cfg.Sandbox.AllowedDomains,
		AskDomains:         cfg.Sandbox.AskDomains,
		RateLimitPerMinute: cfg.Sandbox.RateLimitPerMinute,
	}))

	costTracker := cost.New(db, nil)
	router, err := buildRouter(cfg, costTracker)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("build llm router: %w", err)
	}

	embedder, err := buildEmbedder(cfg)
	if err != nil {
		logger.Warn("embedding provider unavailable, falling back to lexical-only memory search", "error", err)
	}

	episodes := episodic.New(db, embedder)
	memories := consolidated.New(db, embedder)

	jobStore := jobs.NewSQLStore(db)

	soulPath := filepath.Join(home, "soul.md")
	consolidateEngine := consolidation.New(episodes, memories, router, soulPath)

	// a is allocated before the scheduler so runAgentTask can close over it;
	// the scheduler needs its RunTask at construction time (no setter), and
	// runAgentTask in turn needs the fully-populated app to build a loop.
	a := &app{
		cfg:         cfg,
		db:          db,
		auditStore:  auditStore,
		sandbox:     sb,
		router:      router,
		costTrack:   costTracker,
		episodes:    episodes,
		memories:    memories,
		consolidate: consolidateEngine,
		jobStore:    jobStore,
		soulPath:    soulPath,
		logger:      logger,
	}

	sched := scheduler.New(db, auditStore, a.runAgentTask, scheduler.WithLogger(logger))
	a.scheduler = sched
	retrievalPipeline := retrieval.New(memories, episodes, sched.ListJobs, retrieval.DefaultConfig())
	a.retrieval = retrievalPipeline

	registry := agent.NewToolRegistry()
	registry.Register(filesTool.NewReadFileTool(sb))
	registry.Register(filesTool.NewWriteFileTool(sb))
	registry.Register(filesTool.NewListDirectoryTool(sb))
	registry.Register(filesTool.NewSearchFilesTool(sb))
	registry.Register(filesTool.NewMoveFileTool(sb))
	registry.Register(filesTool.NewEditFileTool(sb))
	registry.Register(execTool.NewExecuteCommandTool(sb))
	registry.Register(networkTool.NewHTTPRequestTool(sb))
	registry.Register(websearchTool.NewWebSearchTool(sb, websearchTool.Config{
		SearchURL:          cfg.WebSearch.SearchURL,
		DefaultResultCount: cfg.WebSearch.ResultCount,
	}))
	registry.Register(metaTool.NewAskUserTool())
	registry.Register(metaTool.NewReportProgressTool())
	registry.Register(scheduletool.NewCreateScheduledJobTool(sched))
	registry.Register(scheduletool.NewListScheduledJobsTool(sched))
	registry.Register(scheduletool.NewManageJobTool(sched))
	registry.Register(jobsTool.NewStatusTool(jobStore))
	registry.Register(jobsTool.NewCancelTool(jobStore))
	registry.Register(jobsTool.NewListTool(jobStore))

	a.registry = registry
	return a, nil
}

func (a *app) Close() error {
	return a.db.Close()
}

func buildRouter(cfg config.Config, tracker *cost.Tracker) (*llm.Router, error) {
	registered := map[string]llm.Provider{}
	routes := map[llm.TaskType]string{}
	for taskType, providerName := range cfg.LLM.Routes {
		routes[llm.TaskType(taskType)] = providerName
	}

	for name, pc := range cfg.LLM.Providers {
		switch name {
		case "anthropic":
			p, err := providers.NewAnthropic(providers.AnthropicConfig{
				APIKey: pc.APIKey, BaseURL: pc.BaseURL, DefaultModel: pc.DefaultModel,
			})
			if err != nil {
				return nil, fmt.Errorf("build anthropic provider: %w", err)
			}
			registered[name] = p
		case "openai":
			p, err := providers.NewOpenAI(providers.OpenAIConfig{
				APIKey: pc.APIKey, BaseURL: pc.BaseURL, DefaultModel: pc.DefaultModel,
			})
			if err != nil {
				return nil, fmt.Errorf("build openai provider: %w", err)
			}
			registered[name] = p
		case "ollama":
			registered[name] = providers.NewOllama(providers.OllamaConfig{
				BaseURL: pc.BaseURL,
				Models:  llm.ModelSelection{DefaultModel: pc.DefaultModel},
			})
		default:
			return nil, fmt.Errorf("unknown llm provider %q", name)
		}
	}

	return llm.New(registered, routes, cfg.LLM.Primary, cfg.LLM.Fallback, tracker), nil
}

func buildEmbedder(cfg config.Config) (*embedding.Provider, error) {
	if cfg.Memory.EmbeddingProvider == "" {
		return nil, fmt.Errorf("no embedding provider configured")
	}
	return embedding.New(embedding.Config{
		Provider: cfg.Memory.EmbeddingProvider,
		APIKey:   cfg.Memory.EmbeddingAPIKey,
		BaseURL:  cfg.Memory.EmbeddingBaseURL,
		Model:    cfg.Memory.EmbeddingModel,
	})
}

// runAgentTask drives one agent.Loop turn for a scheduler- or
// heartbeat-originated task string, per spec.md §4.9/§4.8.
func (a *app) runAgentTask(ctx context.Context, task string) (string, error) {
	loop := a.newLoop(types.ChannelAPI, "scheduled:"+task)
	resp, err := loop.Run(ctx, task)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// newLoop builds an agent.Loop bound to one channel/session, sharing every
// process-wide collaborator.
func (a *app) newLoop(channel types.Channel, sessionKey string) *agent.Loop {
	soulText := ""
	if doc, err := soul.Load(a.soulPath); err == nil {
		soulText = doc.Render()
	}

	cfg := agent.Config{
		Router:    a.router,
		Registry:  a.registry,
		Memory:    workingmemory.New(workingmemory.DefaultConfig(4000)),
		Episodes:  a.episodes,
		Retrieval: a.retrieval,
		Sandbox:   a.sandbox,
		SoulText:  soulText,
		Logger:    a.logger,
	}
	return agent.New(cfg, channel, sessionKey)
}

// statusSnapshot implements httpapi.StatusFunc.
func (a *app) statusSnapshot(ctx context.Context) (map[string]any, error) {
	jobsList, err := a.scheduler.ListJobs(ctx)
	if err != nil {
		return nil, err
	}
	pending, _ := a.episodes.PendingCount(ctx)
	return map[string]any{
		"scheduledJobs":   len(jobsList),
		"pendingEpisodes": pending,
	}, nil
}
