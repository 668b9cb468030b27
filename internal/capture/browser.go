package capture

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/echogarden-io/echogarden/internal/apperr"
	"github.com/echogarden-io/echogarden/internal/registry"
	"github.com/echogarden-io/echogarden/pkg/ids"
	"github.com/echogarden-io/echogarden/pkg/store"
)

// BrowserCapture turns content pushed from the browser extension directly
// into a MemoryCard, skipping the blob/watcher path: there is no file on
// disk, only text and a source URL.
type BrowserCapture struct {
	store    store.Store
	registry *registry.Registry
	log      *slog.Logger
}

// NewBrowserCapture constructs a BrowserCapture service.
func NewBrowserCapture(s store.Store, reg *registry.Registry, log *slog.Logger) *BrowserCapture {
	if log == nil {
		log = slog.Default()
	}
	return &BrowserCapture{store: s, registry: reg, log: log}
}

// Highlight records a user-selected passage of text from a page.
func (b *BrowserCapture) Highlight(ctx context.Context, url, title, quote string) (string, error) {
	if strings.TrimSpace(quote) == "" {
		return "", apperr.New(apperr.InvalidInput, "capture: highlight quote must not be empty")
	}
	return b.captureText(ctx, "browser_highlight", url, title, quote)
}

// Bookmark records a saved page with no extracted passage; the page title
// stands in for content so the pipeline still has something to summarize.
func (b *BrowserCapture) Bookmark(ctx context.Context, url, title string) (string, error) {
	text := title
	if text == "" {
		text = url
	}
	return b.captureText(ctx, "browser_bookmark", url, text, text)
}

// Visit records a single page visit with no user annotation — a thin card,
// mainly useful as a graph/recency signal rather than searchable content.
func (b *BrowserCapture) Visit(ctx context.Context, url, title string, visitedAt time.Time) (string, error) {
	card := store.MemoryCard{
		MemoryID:    ids.Prefixed("mem"),
		Type:        "browser_visit",
		ContentText: title,
		Summary:     truncateSummary(title),
		SourceTime:  visitedAt,
		CreatedAt:   time.Now(),
		TraceID:     ids.Prefixed("trace"),
		Metadata: store.CardMetadata{
			URL:        url,
			SourceType: "browser",
		},
	}
	committed, err := b.store.Cards().Upsert(ctx, card)
	if err != nil {
		return "", fmt.Errorf("capture: upsert visit card: %w", err)
	}
	return committed.MemoryID, nil
}

// ResearchSession groups a set of visited URLs captured together under one
// title, e.g. a browser tab group closed at once.
func (b *BrowserCapture) ResearchSession(ctx context.Context, title string, urls []string) (string, error) {
	text := title + "\n" + strings.Join(urls, "\n")
	return b.captureText(ctx, "browser_research_session", "", text, text)
}

// HistoryEntry is one row of a bulk browser-history import.
type HistoryEntry struct {
	URL       string
	Title     string
	VisitedAt time.Time
}

// ImportHistory bulk-imports visited pages as thin browser_visit cards,
// returning the count committed.
func (b *BrowserCapture) ImportHistory(ctx context.Context, entries []HistoryEntry) (int, error) {
	count := 0
	for _, e := range entries {
		if _, err := b.Visit(ctx, e.URL, e.Title, e.VisitedAt); err != nil {
			b.log.Warn("capture: import history entry failed", "url", e.URL, "error", err)
			continue
		}
		count++
	}
	return count, nil
}

// captureText runs the shared summarizer -> extractor -> text_embed ->
// graph_builder pipeline over already-extracted text (no doc_parse step,
// since browser captures arrive as text, not a blob).
func (b *BrowserCapture) captureText(ctx context.Context, cardType, url, title, text string) (string, error) {
	traceID := ids.Prefixed("trace")
	if _, err := b.store.Exec().CreateTrace(ctx, store.ExecTrace{
		TraceID:   traceID,
		StartedTs: time.Now(),
		Status:    store.TraceRunning,
	}); err != nil {
		return "", fmt.Errorf("capture: create trace: %w", err)
	}

	summaryOut, err := b.registry.Dispatch(ctx, "summarizer", map[string]any{"text": text}, traceID)
	if err != nil {
		_ = b.store.Exec().FinishTrace(ctx, traceID, store.TraceError)
		return "", fmt.Errorf("capture: summarize: %w", err)
	}
	summary, _ := summaryOut["summary"].(string)

	extractOut, err := b.registry.Dispatch(ctx, "extractor", map[string]any{"text": text}, traceID)
	if err != nil {
		_ = b.store.Exec().FinishTrace(ctx, traceID, store.TraceError)
		return "", fmt.Errorf("capture: extract: %w", err)
	}
	entities, _ := extractOut["entities"].([]map[string]any)
	var tags, actions []string
	if v, ok := extractOut["tags"].([]string); ok {
		tags = v
	}
	if v, ok := extractOut["actions"].([]string); ok {
		actions = v
	}

	embedOut, err := b.registry.Dispatch(ctx, "text_embed", map[string]any{"text": text}, traceID)
	if err != nil {
		_ = b.store.Exec().FinishTrace(ctx, traceID, store.TraceError)
		return "", fmt.Errorf("capture: embed: %w", err)
	}
	vector := toFloat32Slice(embedOut["vector"])

	memoryID := ids.Prefixed("mem")
	if _, err := b.registry.Dispatch(ctx, "graph_builder", map[string]any{
		"memory_id": memoryID,
		"entities":  entitiesToAny(entities),
		"trace_id":  traceID,
	}, traceID); err != nil {
		_ = b.store.Exec().FinishTrace(ctx, traceID, store.TraceError)
		return "", fmt.Errorf("capture: graph builder: %w", err)
	}

	card := store.MemoryCard{
		MemoryID:    memoryID,
		Type:        cardType,
		ContentText: text,
		Summary:     summary,
		SourceTime:  time.Now(),
		CreatedAt:   time.Now(),
		TraceID:     traceID,
		Metadata: store.CardMetadata{
			URL:        url,
			Entities:   entityLabels(entities),
			Tags:       tags,
			Actions:    actions,
			SourceType: "browser",
			Pipeline:   cardType + ":v1",
		},
	}

	committed, err := b.store.Cards().Upsert(ctx, card)
	if err != nil {
		_ = b.store.Exec().FinishTrace(ctx, traceID, store.TraceError)
		return "", fmt.Errorf("capture: upsert card: %w", err)
	}

	if len(vector) > 0 {
		if err := b.store.Cards().InsertEmbeddings(ctx, committed.MemoryID, []store.Embedding{{
			EmbeddingID: ids.Prefixed("emb"),
			MemoryID:    committed.MemoryID,
			Modality:    store.ModalityText,
			Vector:      vector,
		}}); err != nil {
			b.log.Warn("capture: insert embeddings failed", "memory_id", committed.MemoryID, "error", err)
		}
	}

	if err := b.store.Exec().FinishTrace(ctx, traceID, store.TraceOK); err != nil {
		b.log.Warn("capture: finish trace failed", "trace_id", traceID, "error", err)
	}

	return committed.MemoryID, nil
}

func truncateSummary(s string) string {
	if len(s) <= 400 {
		return s
	}
	return s[:400]
}

func entityLabels(entities []map[string]any) []string {
	labels := make([]string, 0, len(entities))
	for _, m := range entities {
		if canonical, ok := m["canonical"].(string); ok {
			labels = append(labels, canonical)
		}
	}
	return labels
}

// entitiesToAny widens entities to []any, the shape graph_builder's input
// schema expects.
func entitiesToAny(entities []map[string]any) []any {
	out := make([]any, len(entities))
	for i, e := range entities {
		out[i] = e
	}
	return out
}

func toFloat32Slice(v any) []float32 {
	if vec, ok := v.([]float32); ok {
		return vec
	}
	if raw, ok := v.([]any); ok {
		out := make([]float32, len(raw))
		for i, x := range raw {
			if f, ok := x.(float64); ok {
				out[i] = float32(f)
			}
		}
		return out
	}
	return nil
}
