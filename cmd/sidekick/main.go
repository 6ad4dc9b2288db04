// Package main provides the CLI entry point for Sidekick, a personal
// AI assistant with task management, layered memory, web search, and a
// hybrid scheduler.
//
// # Basic Usage
//
// Start an interactive chat session:
//
//	sidekick chat --config sidekick.yaml
//
// Run one memory consolidation pass:
//
//	sidekick consolidate
//
// # Environment Variables
//
//   - OPENAI_API_KEY: OpenAI-compatible API key
//   - ANTHROPIC_API_KEY: Anthropic API key for Claude models
//
// A .env file beside the config is loaded automatically.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/sidekick/internal/agent"
	"github.com/haasonsaas/sidekick/internal/config"
	"github.com/haasonsaas/sidekick/internal/llm"
	"github.com/haasonsaas/sidekick/internal/memory"
	"github.com/haasonsaas/sidekick/internal/memory/embeddings"
	embeddingsollama "github.com/haasonsaas/sidekick/internal/memory/embeddings/ollama"
	"github.com/haasonsaas/sidekick/internal/schedule"
	"github.com/haasonsaas/sidekick/internal/tasks"
	"github.com/haasonsaas/sidekick/internal/tools"
	"github.com/haasonsaas/sidekick/internal/tools/builtin"
	"github.com/haasonsaas/sidekick/internal/tools/websearch"
)

// Build-time variables set via -ldflags:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD)"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

var configPath string

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "sidekick",
		Short:        "Sidekick - personal AI assistant",
		Long:         "Sidekick is a personal AI assistant with task management,\nlayered memory, web search, and scheduled routines.",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "sidekick.yaml", "Path to configuration file")

	rootCmd.AddCommand(
		buildChatCmd(),
		buildConsolidateCmd(),
		buildStatusCmd(),
		buildVersionCmd(),
	)
	return rootCmd
}

// newLogger builds the process logger around a LevelVar so the level
// can be retuned when the config file changes.
func newLogger(cfg config.LoggingConfig) (*slog.Logger, *slog.LevelVar) {
	level := new(slog.LevelVar)
	level.Set(parseLogLevel(cfg.Level))
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger, level
}

func parseLogLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// runtime holds the assembled subsystems for one process.
type runtime struct {
	cfg        *config.Config
	logger     *slog.Logger
	logLevel   *slog.LevelVar
	llm        *llm.FailoverClient
	memory     *memory.System
	retriever  *memory.Retriever
	tasks      *tasks.Manager
	registry   *tools.Registry
	supervisor *agent.Supervisor
	scheduler  *schedule.Scheduler
	autoCons   *memory.AutoConsolidator
}

func buildRuntime(path string) (*runtime, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	logger, logLevel := newLogger(cfg.Logging)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	client, err := buildLLM(cfg.LLM, logger)
	if err != nil {
		return nil, err
	}

	counter := memory.NewTiktokenCounter("gpt-4o-mini")
	summarizer := memory.SummarizerFunc(func(ctx context.Context, messages []memory.BufferMessage) (string, error) {
		var sb strings.Builder
		for _, m := range messages {
			fmt.Fprintf(&sb, "%s: %s\n", m.Role, m.Content)
		}
		resp, err := client.Chat(ctx, []llm.Message{
			{Role: llm.RoleSystem, Content: "请将以下对话压缩成一段简洁的中文摘要，保留关键事实和待办事项。"},
			{Role: llm.RoleUser, Content: sb.String()},
		}, nil, llm.Options{MaxTokens: 300})
		if err != nil {
			return "", err
		}
		return resp.Content, nil
	})

	working := memory.NewWorkingMemory(memory.WorkingConfig{
		MaxMessages: cfg.Memory.Working.MaxMessages,
		MaxTokens:   cfg.Memory.Working.MaxTokens,
		KeepRecent:  cfg.Memory.Working.KeepRecent,
	}, counter, summarizer, logger)

	embedder := buildEmbedder(cfg, logger)
	system, err := memory.NewSystem(memory.SystemConfig{
		DataDir: cfg.Memory.FallbackDir,
		SQLite:  memory.SQLiteConfig{Path: cfg.Memory.DBPath},
	}, embedder, working, logger)
	if err != nil {
		return nil, fmt.Errorf("open memory system: %w", err)
	}

	retriever := memory.NewRetriever(system, memory.RetrievalConfig{
		TopK:        cfg.Memory.Retrieval.TopK,
		TokenBudget: cfg.Memory.Retrieval.TokenBudget,
	}, counter, logger)

	taskManager, err := tasks.NewManager(cfg.Tasks.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("open task store: %w", err)
	}

	searchClient := websearch.NewClient(websearch.Config{
		Backend:            websearch.Backend(cfg.Search.Backend),
		SearXNGURL:         cfg.Search.SearXNGURL,
		DefaultResultCount: cfg.Search.DefaultResultCount,
		CacheTTL:           cfg.Search.CacheTTL,
	}, logger)

	registry := tools.NewRegistry(logger)
	if err := builtin.Register(registry, builtin.Deps{
		Tasks:      taskManager,
		Memory:     system,
		Session:    working,
		Search:     searchClient,
		Summarizer: client,
	}); err != nil {
		return nil, fmt.Errorf("register tools: %w", err)
	}

	supervisor, err := agent.NewSupervisor(agent.SupervisorConfig{
		LLM:     client,
		Tools:   registry,
		Memory:  retriever,
		History: working,
		Personality: &agent.Personality{
			Name:        cfg.Agent.Personality.Name,
			Description: cfg.Agent.Personality.Description,
			Traits:      cfg.Agent.Personality.Traits,
		},
		MaxSteps:      cfg.Agent.MaxSteps,
		RetryAttempts: cfg.Agent.RetryAttempts,
		RetryDelay:    cfg.Agent.RetryDelay,
		Logger:        logger,
	})
	if err != nil {
		return nil, err
	}

	extractor := memory.ExtractorFunc(func(ctx context.Context, prompt string) (string, error) {
		resp, err := client.Chat(ctx, []llm.Message{{Role: llm.RoleUser, Content: prompt}}, nil, llm.Options{Temperature: 0.2})
		if err != nil {
			return "", err
		}
		return resp.Content, nil
	})
	consolidator := memory.NewConsolidator(system, extractor, memory.ConsolidationConfig{}, logger)
	autoCons := memory.NewAutoConsolidator(consolidator, system, memory.AutoConfig{
		StateDir: cfg.DataDir,
	}, logger)

	rt := &runtime{
		cfg:        cfg,
		logger:     logger,
		logLevel:   logLevel,
		llm:        client,
		memory:     system,
		retriever:  retriever,
		tasks:      taskManager,
		registry:   registry,
		supervisor: supervisor,
		autoCons:   autoCons,
	}
	rt.scheduler = buildScheduler(rt, consolidator)
	return rt, nil
}

func buildLLM(cfg config.LLMConfig, logger *slog.Logger) (*llm.FailoverClient, error) {
	primary, err := buildProvider(cfg.Primary, logger)
	if err != nil {
		return nil, fmt.Errorf("primary llm: %w", err)
	}
	var backup llm.Client
	if cfg.Backup != nil {
		backup, err = buildProvider(*cfg.Backup, logger)
		if err != nil {
			return nil, fmt.Errorf("backup llm: %w", err)
		}
	}
	return llm.NewFailoverClient(primary, backup, llm.FailoverConfig{
		Strategy:         llm.Strategy(cfg.Failover.Strategy),
		CircuitThreshold: cfg.Failover.CircuitThreshold,
		Logger:           logger,
	}), nil
}

func buildProvider(cfg config.LLMProviderConfig, logger *slog.Logger) (llm.Client, error) {
	switch cfg.Provider {
	case "openai":
		return llm.NewOpenAIClient(llm.OpenAIConfig{
			APIKey:      cfg.APIKey,
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			Logger:      logger,
		})
	case "anthropic":
		return llm.NewAnthropicClient(llm.AnthropicConfig{
			APIKey:    cfg.APIKey,
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
			Logger:    logger,
		})
	case "ollama":
		return llm.NewOllamaClient(llm.OllamaConfig{
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
		}), nil
	}
	return nil, fmt.Errorf("unknown llm provider: %q", cfg.Provider)
}

func buildEmbedder(cfg *config.Config, logger *slog.Logger) embeddings.Provider {
	// Local embeddings when available, deterministic hash otherwise.
	return embeddings.NewChain(logger,
		embeddingsollama.New(embeddingsollama.Config{}),
		embeddings.NewHashProvider(768),
	)
}

func buildScheduler(rt *runtime, consolidator *memory.Consolidator) *schedule.Scheduler {
	s := schedule.NewScheduler(schedule.WithLogger(rt.logger))
	cfg := rt.cfg.Scheduler

	if cfg.DailyReport.Enabled {
		_ = s.ScheduleDaily("daily-report", cfg.DailyReport.Hour, cfg.DailyReport.Minute, func(ctx context.Context) error {
			stats, err := consolidator.Run(ctx)
			if err != nil {
				return err
			}
			rt.logger.Info("daily consolidation finished",
				"collected", stats.Collected,
				"facts", stats.FactsExtracted,
				"beliefs", stats.BeliefsExtracted,
				"archived", stats.Archived)
			return nil
		})
	}

	if cfg.Heartbeat.Enabled && cfg.Heartbeat.Endpoint != "" {
		source := schedule.HTTPBriefing(nil, cfg.Heartbeat.Endpoint)
		_ = s.RegisterHeartbeat("briefing", source, cfg.Heartbeat.Interval,
			func(ctx context.Context, b schedule.Briefing) error {
				payload, _ := json.Marshal(b)
				_, err := rt.memory.Remember(ctx, "监控异常: "+string(payload),
					memory.TypeObservation, memory.LevelEvent, []string{"heartbeat"})
				return err
			}, nil)
	}

	_ = s.On("task_created", nil, func(data map[string]any) error {
		rt.logger.Info("task created", "title", data["title"])
		return nil
	})
	return s
}

// applyConfig applies the settings that can change while the process is
// running. Today that is the log level; everything else needs a restart.
func (rt *runtime) applyConfig(fresh *config.Config) {
	level := parseLogLevel(fresh.Logging.Level)
	if level != rt.logLevel.Level() {
		rt.logLevel.Set(level)
		rt.logger.Info("log level updated", "level", level)
	}
}

func buildChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime(configPath)
			if err != nil {
				return err
			}
			defer rt.memory.Close()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if rt.cfg.Scheduler.Enabled {
				if err := rt.scheduler.Start(ctx); err != nil {
					return err
				}
				defer func() {
					stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer stopCancel()
					_ = rt.scheduler.Stop(stopCtx)
				}()
			}
			if rt.cfg.Memory.Consolidate.Enabled {
				go rt.autoCons.Run(ctx)
			}

			go func() {
				err := config.Watch(ctx, configPath, rt.logger, rt.applyConfig)
				if err != nil && ctx.Err() == nil {
					rt.logger.Warn("config watch stopped", "error", err)
				}
			}()

			return runChat(ctx, rt)
		},
	}
}

func runChat(ctx context.Context, rt *runtime) error {
	sessionID := fmt.Sprintf("cli-%d", time.Now().Unix())
	working := rt.memory.Working()

	fmt.Println("Sidekick 已就绪，输入 exit 退出。")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			fmt.Println("再见！")
			return nil
		}

		var stream <-chan agent.Chunk
		if plan := rt.supervisor.TakePausedPlan(); plan != nil {
			stream = rt.supervisor.ContinueWithInput(ctx, input, plan)
		} else {
			stream = rt.supervisor.Handle(ctx, input, sessionID)
		}

		var reply strings.Builder
		for chunk := range stream {
			if chunk.NeedInput != nil {
				fmt.Println(chunk.NeedInput.Prompt)
				continue
			}
			fmt.Print(chunk.Text)
			reply.WriteString(chunk.Text)
		}
		fmt.Println()

		working.AddMessage(ctx, "user", input)
		if text := strings.TrimSpace(reply.String()); text != "" {
			working.AddMessage(ctx, "assistant", text)
		}
		updateContextSlot(working, rt.logger)

		if ctx.Err() != nil {
			return nil
		}
	}
}

// updateContextSlot mirrors the recent turns into the context slot so
// the micro-sync layer has something to snapshot.
func updateContextSlot(working *memory.WorkingMemory, logger *slog.Logger) {
	msgs := working.Messages()
	if len(msgs) > 6 {
		msgs = msgs[len(msgs)-6:]
	}
	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		content := []rune(m.Content)
		if len(content) > 100 {
			content = content[:100]
		}
		lines = append(lines, fmt.Sprintf("%s: %s", m.Role, string(content)))
	}
	if err := working.WriteSlot("context", strings.Join(lines, "\n"), 500, 5); err != nil {
		logger.Warn("failed to update context slot", "error", err)
	}
}

func buildConsolidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "consolidate",
		Short: "Run one memory consolidation pass",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime(configPath)
			if err != nil {
				return err
			}
			defer rt.memory.Close()

			extractor := memory.ExtractorFunc(func(ctx context.Context, prompt string) (string, error) {
				resp, err := rt.llm.Chat(ctx, []llm.Message{{Role: llm.RoleUser, Content: prompt}}, nil, llm.Options{Temperature: 0.2})
				if err != nil {
					return "", err
				}
				return resp.Content, nil
			})
			consolidator := memory.NewConsolidator(rt.memory, extractor, memory.ConsolidationConfig{}, rt.logger)

			stats, err := consolidator.Run(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Collected %d entries: %d facts, %d beliefs, %d summaries, %d archived.\n",
				stats.Collected, stats.FactsExtracted, stats.BeliefsExtracted,
				stats.SummariesCreated, stats.Archived)
			return nil
		},
	}
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("sidekick %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func buildStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show storage and provider status",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime(configPath)
			if err != nil {
				return err
			}
			defer rt.memory.Close()

			ctx := cmd.Context()
			stats, usingFallback, err := rt.memory.Stats(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Memory entries: %d (fallback store: %v)\n", stats.Total, usingFallback)
			fmt.Printf("Tasks: %d\n", rt.tasks.Count())
			fmt.Printf("Tools: %s\n", strings.Join(rt.registry.Names(), ", "))
			fmt.Printf("LLM: %s\n", rt.llm.Name())

			snapshot, _ := json.MarshalIndent(rt.llm.Stats(), "", "  ")
			fmt.Printf("Failover stats: %s\n", snapshot)
			return nil
		},
	}
}
