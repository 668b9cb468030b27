package app_test

import (
	"context"
	"testing"
	"time"

	"github.com/echogarden-io/echogarden/internal/app"
	"github.com/echogarden-io/echogarden/internal/config"
	embeddingsmock "github.com/echogarden-io/echogarden/pkg/provider/embeddings/mock"
	llmmock "github.com/echogarden-io/echogarden/pkg/provider/llm/mock"
	"github.com/echogarden-io/echogarden/pkg/store/memstore"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			ListenAddr: "127.0.0.1:0",
			LogLevel:   config.LogInfo,
		},
		Providers: config.ProvidersConfig{
			LLM:        config.ProviderEntry{Name: "mock"},
			Embeddings: config.ProviderEntry{Name: "mock"},
		},
	}
}

func testProviders() *app.Providers {
	return &app.Providers{
		LLM:        &llmmock.Provider{},
		Embeddings: &embeddingsmock.Provider{DimensionsValue: 8, ModelIDValue: "mock-embedding"},
	}
}

func TestNew_WithMocks(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	application, err := app.New(context.Background(), cfg, testProviders(), nil, app.WithStore(memstore.New()))
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	if application == nil {
		t.Fatal("New() returned nil app")
	}
}

func TestNew_NilProviders(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Providers = config.ProvidersConfig{}

	application, err := app.New(context.Background(), cfg, nil, nil, app.WithStore(memstore.New()))
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	if application == nil {
		t.Fatal("New() returned nil app")
	}
}

func TestApp_Shutdown(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	application, err := app.New(context.Background(), cfg, testProviders(), nil, app.WithStore(memstore.New()))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := application.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}

	// Shutdown is idempotent; a second call must not error or hang.
	if err := application.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown() error: %v", err)
	}
}

func TestApp_RunAndShutdown(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	application, err := app.New(context.Background(), cfg, testProviders(), nil, app.WithStore(memstore.New()))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		errCh <- application.Run(ctx)
	}()

	time.Sleep(50 * time.Millisecond)

	cancel()

	select {
	case err := <-errCh:
		if err != nil && err != context.Canceled {
			t.Fatalf("Run() returned unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return within 5s after context cancellation")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
}
