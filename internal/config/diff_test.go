package config_test

import (
	"testing"

	"github.com/echogarden-io/echogarden/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Server:  config.ServerConfig{LogLevel: config.LogInfo},
		Capture: config.CaptureConfig{PollIntervalS: 2, MaxFileMB: 20},
	}
	d := config.Diff(cfg, cfg)
	if d.LogLevelChanged {
		t.Error("expected LogLevelChanged=false for identical configs")
	}
	if d.CaptureChanged {
		t.Error("expected CaptureChanged=false for identical configs")
	}
	if d.RetrievalWeightsChanged {
		t.Error("expected RetrievalWeightsChanged=false for identical configs")
	}
	if d.CaptureAPIKeyChanged {
		t.Error("expected CaptureAPIKeyChanged=false for identical configs")
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Server: config.ServerConfig{LogLevel: config.LogInfo}}
	newCfg := &config.Config{Server: config.ServerConfig{LogLevel: config.LogDebug}}

	d := config.Diff(old, newCfg)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
}

func TestDiff_CaptureChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Capture: config.CaptureConfig{PollIntervalS: 2, MaxFileMB: 20}}
	newCfg := &config.Config{Capture: config.CaptureConfig{PollIntervalS: 5, MaxFileMB: 20}}

	d := config.Diff(old, newCfg)
	if !d.CaptureChanged {
		t.Error("expected CaptureChanged=true")
	}
	if d.NewPollIntervalS != 5 {
		t.Errorf("expected NewPollIntervalS=5, got %d", d.NewPollIntervalS)
	}
}

func TestDiff_RetrievalWeightsChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Retrieval: config.RetrievalConfig{Weights: config.FusionWeights{Semantic: 0.4, FTS: 0.2, Graph: 0.2, Recency: 0.2}}}
	newCfg := &config.Config{Retrieval: config.RetrievalConfig{Weights: config.FusionWeights{Semantic: 0.6, FTS: 0.2, Graph: 0.1, Recency: 0.1}}}

	d := config.Diff(old, newCfg)
	if !d.RetrievalWeightsChanged {
		t.Error("expected RetrievalWeightsChanged=true")
	}
	if d.NewWeights.Semantic != 0.6 {
		t.Errorf("expected NewWeights.Semantic=0.6, got %v", d.NewWeights.Semantic)
	}
}

func TestDiff_CaptureAPIKeyChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Server: config.ServerConfig{CaptureAPIKey: "old-key"}}
	newCfg := &config.Config{Server: config.ServerConfig{CaptureAPIKey: "new-key"}}

	d := config.Diff(old, newCfg)
	if !d.CaptureAPIKeyChanged {
		t.Error("expected CaptureAPIKeyChanged=true")
	}
}

func TestDiff_MultipleChanges(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		Server:  config.ServerConfig{LogLevel: config.LogInfo},
		Capture: config.CaptureConfig{PollIntervalS: 2},
	}
	newCfg := &config.Config{
		Server:  config.ServerConfig{LogLevel: config.LogWarn},
		Capture: config.CaptureConfig{PollIntervalS: 10},
	}

	d := config.Diff(old, newCfg)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if !d.CaptureChanged {
		t.Error("expected CaptureChanged=true")
	}
}
