package cmd

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/kodalabs/koda/internal/agent"
	"github.com/kodalabs/koda/internal/cache"
	"github.com/kodalabs/koda/internal/config"
	"github.com/kodalabs/koda/internal/cost"
	"github.com/kodalabs/koda/internal/critic"
	"github.com/kodalabs/koda/internal/llm"
	"github.com/kodalabs/koda/internal/telemetry"
	"github.com/kodalabs/koda/internal/tools"
	"github.com/kodalabs/koda/internal/trace"
)

func runAgent(args []string) {
	// Setup structured logging
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	if len(args) > 0 {
		if !runTask(cfg, strings.Join(args, " ")) {
			os.Exit(1)
		}
		return
	}
	runInteractive(cfg)
}

func runInteractive(cfg *config.Config) {
	fmt.Println("Koda: AI coding agent")
	fmt.Println("Type your task, or 'quit' to exit.")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		task := strings.TrimSpace(scanner.Text())
		if task == "" {
			continue
		}
		switch strings.ToLower(task) {
		case "quit", "exit", "q":
			return
		}
		runTask(cfg, task)
		fmt.Println()
	}
}

// runTask executes one task end to end and reports whether it succeeded.
// Every task gets fresh per-task state: collector, tracker, scratchpad.
func runTask(cfg *config.Config, task string) bool {
	ctx := context.Background()
	taskID := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]

	var collector *trace.Collector
	if cfg.Trace.Enabled {
		collector = trace.NewCollector(taskID, cfg.Trace.LogDir)
	}

	tracker := cost.NewTracker(cfg.Cost, collector)
	client := llm.NewClient(cfg.LLM, cfg.AnthropicAPIKey, tracker, collector)

	registry := tools.NewRegistry(collector)
	for _, t := range builtinTools(cfg.Tools) {
		if err := registry.Register(t); err != nil {
			slog.Error("tool registration failed", "tool", t.Name(), "error", err)
			os.Exit(1)
		}
	}
	slog.Debug("tools registered", "count", registry.Len())

	loopOpts := []agent.LoopOption{agent.WithStatusFunc(printStatus)}
	if cfg.Cache.Enabled {
		taskCache, err := cache.Open(cfg.Cache, cache.NewHashEmbedder(cache.DefaultDimension), collector)
		if err != nil {
			slog.Warn("task cache unavailable", "error", err)
		} else {
			defer taskCache.Close()
			loopOpts = append(loopOpts, agent.WithCache(taskCache))
		}
	}

	loop := agent.NewLoop(cfg, client, registry, tracker, collector, nil, loopOpts...)
	router := agent.NewRouter(cfg.Planner)
	planner := agent.NewPlanner(cfg.Planner, client, collector)
	executor := agent.NewPlanExecutor(cfg.Planner, router, planner, loop, collector)

	result := executor.Run(ctx, task, "")

	verified := true
	if len(result.FilesModified) > 0 {
		verifier := critic.NewVerifier(cfg.Critic, cfg.Tools, collector)
		vres := verifier.Verify(ctx, result.FilesModified, "./...")
		fmt.Println("\nVerification:")
		fmt.Println(vres.Summary())
		verified = vres.Passed()
	}

	printResult(result, tracker.Summarize())

	if collector != nil {
		if path, err := collector.Save(); err != nil {
			slog.Warn("failed to save trace", "error", err)
		} else if path != "" {
			fmt.Printf("Trace saved: %s\n", path)
		}
		if err := telemetry.Export(ctx, cfg.Telemetry, collector.ToDocument()); err != nil {
			slog.Warn("telemetry export failed", "error", err)
		}
	}

	return result.Success && verified
}

func builtinTools(cfg config.ToolsConfig) []tools.Tool {
	return []tools.Tool{
		&tools.ReadFileTool{},
		&tools.WriteFileTool{MaxFileSize: cfg.MaxFileSize},
		&tools.ListDirectoryTool{},
		&tools.GlobTool{},
		&tools.GrepTool{},
		tools.NewShellTool(cfg),
		&tools.GitStatusTool{},
		&tools.GitDiffTool{},
		&tools.GitLogTool{},
		&tools.GitCommitTool{},
		&tools.ASTCheckTool{},
		tools.NewLintTool(cfg),
		tools.NewTestRunnerTool(cfg),
	}
}

func printStatus(msg string) {
	fmt.Printf("  %s\n", msg)
}

func printResult(result agent.AgentResult, summary cost.Summary) {
	fmt.Println()
	if result.Response != "" {
		fmt.Println(result.Response)
	} else {
		fmt.Println("(no response)")
	}

	fmt.Println()
	fmt.Printf("  Iterations:     %d\n", result.Iterations)
	fmt.Printf("  Tool calls:     %d\n", len(result.ToolCallsMade))
	fmt.Printf("  Files modified: %d\n", len(result.FilesModified))
	fmt.Printf("  Tokens:         %d\n", result.TotalTokens)
	fmt.Printf("  Cost:           $%.4f\n", result.TotalCostUSD)
	fmt.Printf("  Duration:       %.1fs\n", result.DurationSeconds)
	if summary.CacheSavingsUSD > 0 {
		fmt.Printf("  Cache savings:  $%.4f\n", summary.CacheSavingsUSD)
	}
}
