// Command echogarden is the main entry point for the EchoGarden server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/echogarden-io/echogarden/internal/app"
	"github.com/echogarden-io/echogarden/internal/config"
	"github.com/echogarden-io/echogarden/pkg/provider/asr"
	"github.com/echogarden-io/echogarden/pkg/provider/asr/native"
	"github.com/echogarden-io/echogarden/pkg/provider/asr/stub"
	"github.com/echogarden-io/echogarden/pkg/provider/embeddings"
	embeddingsmock "github.com/echogarden-io/echogarden/pkg/provider/embeddings/mock"
	"github.com/echogarden-io/echogarden/pkg/provider/embeddings/ollama"
	"github.com/echogarden-io/echogarden/pkg/provider/embeddings/openai"
	"github.com/echogarden-io/echogarden/pkg/provider/llm"
	"github.com/echogarden-io/echogarden/pkg/provider/llm/anyllm"
	llmmock "github.com/echogarden-io/echogarden/pkg/provider/llm/mock"
	llmopenai "github.com/echogarden-io/echogarden/pkg/provider/llm/openai"
	"github.com/echogarden-io/echogarden/pkg/provider/vision"
	visionlocal "github.com/echogarden-io/echogarden/pkg/provider/vision/local"
	visionstub "github.com/echogarden-io/echogarden/pkg/provider/vision/stub"
	anyllmlib "github.com/mozilla-ai/any-llm-go"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "echogarden: config file %q not found — pass -config with the path to a YAML config file\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "echogarden: %v\n", err)
		}
		return 1
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("echogarden starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	printStartupSummary(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, providers, logger)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		slog.Error("run error", "err", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires every built-in provider implementation into
// reg under the name used to select it from config. The "mock" entries exist
// so a deployment can run end-to-end (ingest, retrieve, chat) against
// deterministic canned data without any external API keys, which is also
// what the test suite's config fixtures use.
func registerBuiltinProviders(reg *config.Registry) {
	registerLLMProviders(reg)
	registerEmbeddingsProviders(reg)
	registerASRProviders(reg)
	registerVisionProviders(reg)
}

func registerLLMProviders(reg *config.Registry) {
	reg.RegisterLLM("openai", func(e config.ProviderEntry) (llm.Provider, error) {
		var opts []llmopenai.Option
		if e.BaseURL != "" {
			opts = append(opts, llmopenai.WithBaseURL(e.BaseURL))
		}
		return llmopenai.New(e.APIKey, e.Model, opts...)
	})
	reg.RegisterLLM("anyllm-openai", func(e config.ProviderEntry) (llm.Provider, error) {
		return anyllm.NewOpenAI(e.Model, anyllmOpts(e)...)
	})
	reg.RegisterLLM("anyllm-anthropic", func(e config.ProviderEntry) (llm.Provider, error) {
		return anyllm.NewAnthropic(e.Model, anyllmOpts(e)...)
	})
	reg.RegisterLLM("anyllm-gemini", func(e config.ProviderEntry) (llm.Provider, error) {
		return anyllm.NewGemini(e.Model, anyllmOpts(e)...)
	})
	reg.RegisterLLM("anyllm-ollama", func(e config.ProviderEntry) (llm.Provider, error) {
		return anyllm.NewOllama(e.Model, anyllmOpts(e)...)
	})
	reg.RegisterLLM("mock", func(e config.ProviderEntry) (llm.Provider, error) {
		return &llmmock.Provider{}, nil
	})
}

func anyllmOpts(e config.ProviderEntry) []anyllmlib.Option {
	var opts []anyllmlib.Option
	if e.APIKey != "" {
		opts = append(opts, anyllmlib.WithAPIKey(e.APIKey))
	}
	if e.BaseURL != "" {
		opts = append(opts, anyllmlib.WithBaseURL(e.BaseURL))
	}
	return opts
}

func registerEmbeddingsProviders(reg *config.Registry) {
	reg.RegisterEmbeddings("openai", func(e config.ProviderEntry) (embeddings.Provider, error) {
		var opts []openai.Option
		if e.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(e.BaseURL))
		}
		return openai.New(e.APIKey, e.Model, opts...)
	})
	reg.RegisterEmbeddings("ollama", func(e config.ProviderEntry) (embeddings.Provider, error) {
		var opts []ollama.Option
		if dims, ok := intOption(e.Options, "dimensions"); ok {
			opts = append(opts, ollama.WithDimensions(dims))
		}
		return ollama.New(e.BaseURL, e.Model, opts...)
	})
	reg.RegisterEmbeddings("mock", func(e config.ProviderEntry) (embeddings.Provider, error) {
		return &embeddingsmock.Provider{DimensionsValue: 1536, ModelIDValue: "mock-embedding"}, nil
	})
}

func registerASRProviders(reg *config.Registry) {
	reg.RegisterASR("native", func(e config.ProviderEntry) (asr.Provider, error) {
		return native.New(e.Model)
	})
	reg.RegisterASR("stub", func(e config.ProviderEntry) (asr.Provider, error) {
		return stub.New(), nil
	})
}

func registerVisionProviders(reg *config.Registry) {
	reg.RegisterVision("local", func(e config.ProviderEntry) (vision.Provider, error) {
		var opts []visionlocal.Option
		if e.Model != "" {
			opts = append(opts, visionlocal.WithTesseractPath(e.Model))
		}
		return visionlocal.New(opts...), nil
	})
	reg.RegisterVision("stub", func(e config.ProviderEntry) (vision.Provider, error) {
		return visionstub.New(), nil
	})
}

func intOption(opts map[string]any, key string) (int, bool) {
	v, ok := opts[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

// buildProviders instantiates every provider named in cfg using reg and
// returns them in an [app.Providers] struct. A provider kind left unnamed in
// cfg is simply left nil; app.New degrades the tools that depend on it.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	if name := cfg.Providers.LLM.Name; name != "" {
		p, err := reg.CreateLLM(cfg.Providers.LLM)
		if err != nil {
			return nil, fmt.Errorf("create llm provider %q: %w", name, err)
		}
		ps.LLM = p
		slog.Info("provider created", "kind", "llm", "name", name)
	}

	if name := cfg.Providers.Embeddings.Name; name != "" {
		p, err := reg.CreateEmbeddings(cfg.Providers.Embeddings)
		if err != nil {
			return nil, fmt.Errorf("create embeddings provider %q: %w", name, err)
		}
		ps.Embeddings = p
		slog.Info("provider created", "kind", "embeddings", "name", name)
	}

	if name := cfg.Providers.ASR.Name; name != "" {
		p, err := reg.CreateASR(cfg.Providers.ASR)
		if err != nil {
			return nil, fmt.Errorf("create asr provider %q: %w", name, err)
		}
		ps.ASR = p
		slog.Info("provider created", "kind", "asr", "name", name)
	}

	if name := cfg.Providers.Vision.Name; name != "" {
		p, err := reg.CreateVision(cfg.Providers.Vision)
		if err != nil {
			return nil, fmt.Errorf("create vision provider %q: %w", name, err)
		}
		ps.Vision = p
		slog.Info("provider created", "kind", "vision", "name", name)
	}

	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        EchoGarden — startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider("Embeddings", cfg.Providers.Embeddings.Name, cfg.Providers.Embeddings.Model)
	printProvider("ASR", cfg.Providers.ASR.Name, cfg.Providers.ASR.Model)
	printProvider("Vision", cfg.Providers.Vision.Name, cfg.Providers.Vision.Model)
	fmt.Printf("║  Watch path      : %-19s ║\n", orNone(cfg.Capture.WatchPath))
	fmt.Printf("║  MCP servers     : %-19d ║\n", len(cfg.MCP.Servers))
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func orNone(s string) string {
	if s == "" {
		return "(disabled)"
	}
	return s
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
