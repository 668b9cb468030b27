package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind. Used by
// [Validate] to warn about unrecognized provider names.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "anyllm-openai", "anyllm-anthropic", "anyllm-gemini", "anyllm-ollama", "mock"},
	"embeddings": {"openai", "ollama", "mock"},
	"asr":        {"native", "stub"},
	"vision":     {"local", "stub"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found. Non-fatal
// inconsistencies are logged as warnings rather than rejected.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)
	validateProviderName("asr", cfg.Providers.ASR.Name)
	validateProviderName("vision", cfg.Providers.Vision.Name)

	if cfg.Providers.Embeddings.Name != "" && cfg.Storage.EmbeddingDimensions <= 0 {
		slog.Warn("providers.embeddings is configured but storage.embedding_dimensions is not set; semantic search will not work until it is")
	}
	if cfg.Providers.LLM.Name == "" {
		slog.Warn("no llm provider configured; weaver/verifier/summarizer tools will fall back to their stub behavior")
	}
	if cfg.Storage.PostgresDSN == "" {
		slog.Warn("storage.postgres_dsn is empty; falling back to the in-memory store, which does not persist across restarts")
	}

	if cfg.Capture.WatchPath != "" {
		if cfg.Capture.PollIntervalS < 0 {
			errs = append(errs, fmt.Errorf("capture.poll_interval_s must be >= 0, got %d", cfg.Capture.PollIntervalS))
		}
		if cfg.Capture.MaxFileMB < 0 {
			errs = append(errs, fmt.Errorf("capture.max_file_mb must be >= 0, got %d", cfg.Capture.MaxFileMB))
		}
		if cfg.Capture.MaxJobAttempts < 0 {
			errs = append(errs, fmt.Errorf("capture.max_job_attempts must be >= 0, got %d", cfg.Capture.MaxJobAttempts))
		}
	}

	w := cfg.Retrieval.Weights
	if w != (FusionWeights{}) {
		sum := w.Semantic + w.FTS + w.Graph + w.Recency
		if sum <= 0 {
			errs = append(errs, errors.New("retrieval.weights must have a positive sum when any weight is set"))
		} else if sum < 0.99 || sum > 1.01 {
			slog.Warn("retrieval.weights do not sum to 1.0; scores will still rank consistently but will not be in [0,1]", "sum", sum)
		}
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
