package config_test

import (
	"strings"
	"testing"

	"github.com/echogarden-io/echogarden/internal/config"
)

func TestValidate_InvalidCaptureWithoutWatchPathIsIgnored(t *testing.T) {
	t.Parallel()
	yaml := `
capture:
  poll_interval_s: -1
`
	// poll_interval_s is only checked once watch_path is set.
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_NegativePollIntervalRejectedWhenWatching(t *testing.T) {
	t.Parallel()
	yaml := `
capture:
  watch_path: /data/inbox
  poll_interval_s: -1
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for negative poll_interval_s, got nil")
	}
	if !strings.Contains(err.Error(), "poll_interval_s") {
		t.Errorf("error should mention poll_interval_s, got: %v", err)
	}
}

func TestValidate_NegativeMaxFileMBRejected(t *testing.T) {
	t.Parallel()
	yaml := `
capture:
  watch_path: /data/inbox
  max_file_mb: -5
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for negative max_file_mb, got nil")
	}
}

func TestValidate_ZeroSumFusionWeightsRejected(t *testing.T) {
	t.Parallel()
	yaml := `
retrieval:
  weights:
    semantic: 0
    fts: 0
    graph: 0
    recency: -1
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for non-positive weight sum, got nil")
	}
}

func TestValidate_FusionWeightsSummingToOneIsValid(t *testing.T) {
	t.Parallel()
	yaml := `
retrieval:
  weights:
    semantic: 0.4
    fts: 0.2
    graph: 0.2
    recency: 0.2
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidProviderNames(t *testing.T) {
	t.Parallel()
	if len(config.ValidProviderNames) == 0 {
		t.Fatal("ValidProviderNames should not be empty")
	}
	llmNames := config.ValidProviderNames["llm"]
	if len(llmNames) == 0 {
		t.Fatal(`ValidProviderNames["llm"] should not be empty`)
	}
	found := false
	for _, n := range llmNames {
		if n == "openai" {
			found = true
			break
		}
	}
	if !found {
		t.Error(`ValidProviderNames["llm"] should contain "openai"`)
	}
}
