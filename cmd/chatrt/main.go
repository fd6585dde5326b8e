// Command chatrt boots the plugable agentic chat runtime: it loads
// Settings (TOML + env), wires the actor mesh (inference, MCP host, Python
// sandbox, database toolbox), builds the Tool Capability Resolver template
// and the dispatcher, then runs a minimal stdio frontend so the runtime is
// exercisable end to end. A richer frontend (HTTP, Telegram, whatever)
// plugs in ahead of runREPL the same way the teacher's frontend/
// package swaps in telegram.New without touching the agent core.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	oasis "github.com/nevindra/chatrt"
	"github.com/nevindra/chatrt/actormesh"
	"github.com/nevindra/chatrt/agenticloop"
	"github.com/nevindra/chatrt/chatproto"
	"github.com/nevindra/chatrt/dispatch"
	"github.com/nevindra/chatrt/ingest"
	"github.com/nevindra/chatrt/internal/config"
	"github.com/nevindra/chatrt/provider/resolve"
	"github.com/nevindra/chatrt/pysandbox"
	"github.com/nevindra/chatrt/statemachine"
	"github.com/nevindra/chatrt/store/sqlite"
	"github.com/nevindra/chatrt/toolregistry"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg := config.Load(os.Getenv("CHATRT_CONFIG"))
	if cfg.LLM.APIKey == "" && cfg.LLM.Provider != "ollama" {
		logger.Warn("no LLM API key configured; set OASIS_LLM_API_KEY or [llm].api_key in chatrt.toml")
	}

	provider, err := resolve.Provider(resolve.Config{
		Provider: cfg.LLM.Provider,
		APIKey:   cfg.LLM.APIKey,
		Model:    cfg.LLM.Model,
	})
	if err != nil {
		logger.Error("provider init failed", "err", err)
		os.Exit(1)
	}

	var embed oasis.EmbeddingProvider
	if cfg.Tools.RagEnabled || cfg.Tools.DeferredMCPTools || cfg.Tools.SQLEnabled {
		embed, err = resolve.EmbeddingProvider(resolve.EmbeddingConfig{
			Provider:   cfg.Embedding.Provider,
			APIKey:     cfg.Embedding.APIKey,
			Model:      cfg.Embedding.Model,
			Dimensions: cfg.Embedding.Dimensions,
		})
		if err != nil {
			logger.Warn("embedding provider init failed; tool_search/schema_search/rag disabled", "err", err)
		}
	}

	inference := actormesh.NewInferenceActor(provider, embed, "", actormesh.LocalServiceConfig{}, logger)

	runner, err := newSandboxRunner(cfg.Tools.Sandbox)
	if err != nil {
		logger.Error("sandbox runner init failed", "err", err)
		os.Exit(1)
	}
	python := actormesh.NewPythonActor(runner, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mcpHost := actormesh.NewMCPHost(logger)
	for _, s := range cfg.Tools.MCPServers {
		if err := mcpHost.Connect(ctx, actormesh.ServerConfig{ServerID: s.ServerID, Command: s.Command, Args: s.Args}); err != nil {
			logger.Warn("mcp server connect failed", "server", s.ServerID, "err", err)
		}
	}

	var dbToolbox *actormesh.DatabaseToolbox
	var schemaVector *actormesh.VectorActor
	if len(cfg.Tools.DatabaseSources) > 0 {
		dbToolbox = actormesh.NewDatabaseToolbox(logger)
		for _, s := range cfg.Tools.DatabaseSources {
			src, err := openDatabaseSource(ctx, s)
			if err != nil {
				logger.Warn("database source open failed", "source", s.ID, "err", err)
				continue
			}
			if err := dbToolbox.RegisterSource(ctx, src); err != nil {
				logger.Warn("database source register failed", "source", s.ID, "err", err)
			}
		}
		schemaVector = actormesh.NewVectorActor("schema", actormesh.NewSchemaVectorBackend(), logger)
	}

	var ragActor *actormesh.RAGActor
	var ragVector *actormesh.VectorActor
	if cfg.Tools.RagEnabled && embed != nil {
		store := sqlite.New(cfg.Database.Path)
		ingestor := ingest.NewIngestor(store, embed)
		ragActor = actormesh.NewRAGActor(ingestor, logger)
		ragVector = actormesh.NewVectorActor("rag_chunks", actormesh.RAGChunksBackend{Store: store}, logger)
	}

	hasDBSources := len(cfg.Tools.DatabaseSources) > 0
	mode, enabledBuiltins := tier1Settings(cfg.Tools, hasDBSources)
	logger.Info("operational mode resolved", "mode", mode.String())

	registry := toolregistry.New()

	d := &dispatch.Dispatcher{
		Registry:       registry,
		MCPHost:        mcpHost,
		Python:         python,
		DB:             dbToolbox,
		SchemaSearch:   schemaVector,
		RAG:            ragVector,
		Embedder:       embed,
		Logger:         logger,
		EnabledSources: enabledDatabaseSources(cfg.Tools.DatabaseSources),
	}

	loopCfg := agenticloop.Config{
		Inference:       inference,
		Dispatcher:      d,
		Registry:        registry,
		Model:           cfg.LLM.Model,
		Caller:          "chatrt-cli",
		Mode:            mode,
		PromptCtx:       promptContext(cfg.Tools, "You are a helpful local-first assistant. Respond concisely."),
		Thresholds:      statemachine.DefaultRelevancyThresholds(),
		ResolveTemplate: resolveTemplate(cfg.Tools, enabledBuiltins, hasDBSources),
	}

	runREPL(ctx, loopCfg, ragActor)
}

func enabledDatabaseSources(sources []config.DatabaseSourceConfig) map[string]bool {
	m := make(map[string]bool, len(sources))
	for _, s := range sources {
		m[s.ID] = true
	}
	return m
}

func newSandboxRunner(cfg config.SandboxConfig) (actormesh.SandboxRunner, error) {
	switch cfg.Isolation {
	case "docker":
		return pysandbox.NewDockerRunner(pysandbox.DockerConfig{Image: cfg.DockerImage})
	default:
		bin := cfg.PythonBin
		if bin == "" {
			bin = "python3"
		}
		return pysandbox.NewRunner(bin), nil
	}
}

// ingestFile reads path off disk and hands it to the RAG actor, reporting
// the resulting chunk count or the failure back to the REPL.
func ingestFile(ctx context.Context, rag *actormesh.RAGActor, path string) {
	if rag == nil {
		fmt.Println("[error] rag is not enabled (set tools.rag_enabled and an embedding provider in chatrt.toml)")
		return
	}
	content, err := os.ReadFile(path)
	if err != nil {
		fmt.Printf("[error] reading %s: %v\n", path, err)
		return
	}
	result, err := rag.IngestFile(ctx, content, filepath.Base(path))
	if err != nil {
		fmt.Printf("[error] ingesting %s: %v\n", path, err)
		return
	}
	fmt.Printf("ingested %s as document %s (%d chunks)\n", path, result.DocumentID, result.ChunkCount)
}

func openDatabaseSource(ctx context.Context, s config.DatabaseSourceConfig) (*actormesh.DatabaseSource, error) {
	switch s.Kind {
	case "postgres":
		return actormesh.OpenPostgresSource(ctx, s.ID, s.DSN)
	case "sqlite":
		return actormesh.OpenSQLiteSource(s.ID, s.DSN)
	default:
		return nil, fmt.Errorf("unsupported database kind: %q", s.Kind)
	}
}

// runREPL is the minimal stdio frontend spec's UI-shell non-goal leaves
// room for: one line in, one turn out, streamed to stdout as it arrives.
// A leading "/ingest <path>" line bypasses the agentic loop entirely and
// feeds the file straight to the RAG actor, the one piece of the turn loop
// that's a sidecar pipeline rather than a dispatched tool call.
func runREPL(ctx context.Context, cfg agenticloop.Config, rag *actormesh.RAGActor) {
	fmt.Println("chatrt ready. Type a message and press enter (Ctrl+D to quit).")
	if rag != nil {
		fmt.Println("RAG enabled: \"/ingest <path>\" indexes a file for rag_search.")
	}
	scanner := bufio.NewScanner(os.Stdin)
	var history []chatproto.ChatMessage

	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if path, ok := strings.CutPrefix(line, "/ingest "); ok {
			ingestFile(ctx, rag, strings.TrimSpace(path))
			continue
		}

		events := make(chan oasis.StreamEvent, 16)
		done := make(chan struct{})
		go func() {
			defer close(done)
			for evt := range events {
				if evt.Type == oasis.EventTextDelta {
					fmt.Print(evt.Content)
				}
			}
		}()

		result, err := agenticloop.RunTurn(ctx, cfg, agenticloop.TurnInput{Prompt: line, History: history}, events)
		close(events)
		<-done

		if err != nil {
			fmt.Printf("\n[error] %v\n", err)
			continue
		}
		if result.FinalContent != "" {
			fmt.Println(result.FinalContent)
		}
		fmt.Println()
		history = result.Messages
	}
}
