package main

import (
	"bufio"
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/vibecore-ai/vibecore/internal/auth"
	"github.com/vibecore-ai/vibecore/internal/config"
	"github.com/vibecore-ai/vibecore/internal/engine"
	"github.com/vibecore-ai/vibecore/internal/mcp"
	"github.com/vibecore-ai/vibecore/internal/observability"
	"github.com/vibecore-ai/vibecore/internal/provider"
	"github.com/vibecore-ai/vibecore/internal/session"
	"github.com/vibecore-ai/vibecore/internal/tools"
	"github.com/vibecore-ai/vibecore/internal/tools/fetch"
	"github.com/vibecore-ai/vibecore/internal/tools/files"
	"github.com/vibecore-ai/vibecore/internal/tools/pathguard"
	"github.com/vibecore-ai/vibecore/internal/tools/shell"
	"github.com/vibecore-ai/vibecore/internal/tools/todo"
)

const mainAgentName = "main"

func runInteractive(cmd *cobra.Command, configPath string, continueLast bool, sessionID string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
	metrics := observability.NewMetrics(nil)

	workdir, err := os.Getwd()
	if err != nil {
		return err
	}

	resume := continueLast || sessionID != ""
	if continueLast {
		info, err := session.MostRecent(cfg.BaseDir, workdir)
		if err != nil {
			return fmt.Errorf("no session to continue: %w", err)
		}
		sessionID = info.ID
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	store, err := session.NewStore(cfg.BaseDir, workdir, sessionID,
		session.WithLockTimeout(cfg.LockTimeout),
		session.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	if resume && !store.Exists() {
		return fmt.Errorf("session %q: %w", sessionID, session.ErrSessionNotFound)
	}

	tokens, err := buildTokenManager(logger, metrics)
	if err != nil {
		return err
	}

	client, err := buildClient(cfg, tokens, logger, metrics)
	if err != nil {
		return err
	}

	todoTool := todo.New()
	registry, err := buildRegistry(cfg, todoTool, logger, metrics)
	if err != nil {
		return err
	}

	ctx := observability.WithSessionID(cmd.Context(), sessionID)
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM)
	defer stop()

	mcpManager := mcp.NewManager(logger)
	defer mcpManager.Close()
	for _, server := range cfg.MCPServers {
		if err := mcpManager.Connect(ctx, server, registry); err != nil {
			logger.Warn(ctx, "mcp server unavailable", "server", server.Name, "error", err)
		}
	}

	agents := buildAgents(cfg)

	out := newRenderer(os.Stdout)
	supervisor := engine.NewSupervisor(client, registry, agents, mainAgentName, out.handle,
		engine.WithMaxTurns(cfg.MaxTurns),
		engine.WithLogger(logger),
		engine.WithMetrics(metrics),
	)
	if err := registry.Register(supervisor); err != nil {
		return err
	}

	runner, err := engine.NewRunner(client, registry, store, agents, mainAgentName,
		engine.WithMaxTurns(cfg.MaxTurns),
		engine.WithLogger(logger),
		engine.WithMetrics(metrics),
	)
	if err != nil {
		return err
	}

	orch := engine.NewOrchestrator(runner, store, out.handle,
		engine.WithResetter(todoTool),
		engine.WithOrchestratorLogger(logger),
	)

	if resume {
		if err := orch.Replay(ctx, out.replay); err != nil {
			return fmt.Errorf("resume session %q: %w", sessionID, err)
		}
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	go orch.Run(runCtx)

	// First Ctrl+C cancels the in-flight turn; Ctrl+C at an idle prompt
	// shuts down.
	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	defer signal.Stop(interrupts)
	go func() {
		for range interrupts {
			if orch.Busy() {
				orch.Cancel()
			} else {
				cancelRun()
			}
		}
	}()

	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	if interactive {
		fmt.Fprintf(os.Stdout, "vibecore %s | session %s\n", version, sessionID)
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		if interactive && !orch.Busy() {
			fmt.Fprint(os.Stdout, "> ")
		}
		select {
		case <-runCtx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				// Let queued work drain before exiting on EOF.
				for orch.Busy() {
					select {
					case <-runCtx.Done():
						return nil
					case <-time.After(50 * time.Millisecond):
					}
				}
				return nil
			}
			if line == "/exit" || line == "/quit" {
				orch.Cancel()
				return nil
			}
			orch.Submit(line)
		}
	}
}

func buildTokenManager(logger *observability.Logger, metrics *observability.Metrics) (*auth.Manager, error) {
	path, err := auth.DefaultPath()
	if err != nil {
		return nil, err
	}
	store := auth.NewStore(path)
	tokens := auth.NewManager(store, auth.NewOAuthClient(),
		auth.WithLogger(logger),
		auth.WithMetrics(metrics),
	)

	if _, err := tokens.CredentialType(auth.ProviderName); err != nil {
		if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
			saveErr := store.Save(auth.ProviderName, auth.Credentials{
				Type:   auth.CredentialAPIKey,
				APIKey: key,
			})
			if saveErr != nil {
				return nil, saveErr
			}
			return tokens, nil
		}
		return nil, fmt.Errorf("not authenticated: run `vibecore login` or set ANTHROPIC_API_KEY")
	}
	return tokens, nil
}

func buildClient(cfg *config.Config, tokens *auth.Manager, logger *observability.Logger, metrics *observability.Metrics) (provider.Client, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = provider.DefaultBaseURL
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("base_url: %w", err)
	}

	ic := provider.NewInterceptor(tokens, auth.ProviderName, u.Host)
	return provider.NewAnthropicClient(cfg.BaseURL, ic,
		provider.WithLogger(logger),
		provider.WithMetrics(metrics),
	), nil
}

func buildRegistry(cfg *config.Config, todoTool *todo.Tool, logger *observability.Logger, metrics *observability.Metrics) (*tools.Registry, error) {
	validator, err := pathguard.NewValidator(cfg.Tools.AllowedDirectories)
	if err != nil {
		return nil, err
	}
	workdir := validator.AllowedDirectories()[0]

	registry := tools.NewRegistry(tools.WithLogger(logger), tools.WithMetrics(metrics))

	disabled := make(map[string]bool, len(cfg.Tools.Disabled))
	for _, name := range cfg.Tools.Disabled {
		disabled[name] = true
	}

	builtins := []tools.Tool{
		files.NewReadTool(validator),
		files.NewWriteTool(validator),
		files.NewEditTool(validator),
		files.NewGlobTool(validator, workdir),
		files.NewGrepTool(validator, workdir),
		shell.NewBashTool(validator, workdir),
		fetch.New(nil),
		todoTool,
	}
	for _, t := range builtins {
		if disabled[t.Name()] {
			continue
		}
		if err := registry.Register(t); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func buildAgents(cfg *config.Config) map[string]*engine.Agent {
	agents := map[string]*engine.Agent{
		mainAgentName: {
			Name:         mainAgentName,
			Instructions: mainInstructions(cfg),
			Model:        cfg.Model,
			MaxTokens:    cfg.MaxTokens,
			Temperature:  cfg.Temperature,
			Reasoning:    cfg.Reasoning,
		},
	}
	for _, a := range cfg.Agents {
		model := a.Model
		if model == "" {
			model = cfg.Model
		}
		agents[a.Name] = &engine.Agent{
			Name:         a.Name,
			Instructions: a.Instructions,
			Model:        model,
			MaxTokens:    cfg.MaxTokens,
			Temperature:  cfg.Temperature,
			Reasoning:    cfg.Reasoning,
			Tools:        a.Tools,
			Handoffs:     a.Handoffs,
		}
		agents[mainAgentName].Handoffs = append(agents[mainAgentName].Handoffs, a.Name)
	}
	return agents
}

func mainInstructions(cfg *config.Config) string {
	where := "the current directory"
	if len(cfg.Tools.AllowedDirectories) > 0 {
		where = cfg.Tools.AllowedDirectories[0]
	}
	return fmt.Sprintf(
		"You are a capable coding agent working in %s. Use the available tools to read, edit, and run code. Keep answers concise.",
		where,
	)
}
