// Package ingest implements the orchestrator: given a blob, it routes to a
// tool pipeline by MIME/extension, recording every dispatch as an ExecNode
// and ExecEdge, then commits a MemoryCard, its embeddings, and its graph
// nodes/edges in one pass.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/echogarden-io/echogarden/internal/registry"
	"github.com/echogarden-io/echogarden/pkg/ids"
	"github.com/echogarden-io/echogarden/pkg/store"
)

const (
	defaultNodeTimeoutMs = 30_000
	pipelineVersion      = 1
)

// Class is the routing class an orchestrator assigns to a blob.
type Class string

const (
	ClassTextDocument Class = "doc"
	ClassImage        Class = "image"
	ClassAudio        Class = "audio"
	ClassUnknown      Class = "unknown"
)

var textExtensions = map[string]bool{
	".txt": true, ".md": true, ".json": true, ".csv": true, ".log": true,
	".pdf": true, ".docx": true, ".pptx": true, ".html": true,
}

var audioExtensions = map[string]bool{
	".wav": true, ".mp3": true, ".m4a": true, ".ogg": true, ".flac": true,
}

// Classify assigns a routing class to a blob based on its MIME type and,
// failing that, its file extension.
func Classify(mime, path string) Class {
	switch {
	case strings.HasPrefix(mime, "text/"), mime == "application/pdf", strings.Contains(mime, "officedocument"):
		return ClassTextDocument
	case strings.HasPrefix(mime, "image/"):
		return ClassImage
	case strings.HasPrefix(mime, "audio/"):
		return ClassAudio
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch {
	case textExtensions[ext]:
		return ClassTextDocument
	case audioExtensions[ext]:
		return ClassAudio
	}
	return ClassUnknown
}

// Payload is the ingest_blob job payload.
type Payload struct {
	BlobID    string
	SHA256    string
	Mime      string
	SizeBytes int64
	TraceID   string
	MaxFileMB int64
}

// Orchestrator runs the ingest pipeline for one blob per invocation.
type Orchestrator struct {
	store    store.Store
	registry *registry.Registry
	log      *slog.Logger
}

// New constructs an Orchestrator.
func New(s store.Store, reg *registry.Registry, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{store: s, registry: reg, log: log}
}

// run tracks the exec-graph bookkeeping threaded through one ingest pass.
// lastNodeIDs is the current "frontier" of the exec DAG: the node(s) the
// next dispatch depends on. It holds more than one id only while a fork
// (e.g. ocr/vision_embed) hasn't yet joined back into a single successor.
type run struct {
	traceID     string
	lastNodeIDs []string
	o           *Orchestrator
	ctx         context.Context
}

// IngestBlob runs the full pipeline for payload, returning the committed
// (or idempotently pre-existing) MemoryCard.
func (o *Orchestrator) IngestBlob(ctx context.Context, payload Payload) (store.MemoryCard, error) {
	if existing, found, err := o.findExistingCard(ctx, payload); err != nil {
		return store.MemoryCard{}, err
	} else if found {
		return existing, nil
	}

	blob, err := o.store.Blobs().Get(ctx, payload.BlobID)
	if err != nil {
		return store.MemoryCard{}, fmt.Errorf("ingest: resolve blob: %w", err)
	}

	trace, err := o.store.Exec().CreateTrace(ctx, store.ExecTrace{
		TraceID:   payload.TraceID,
		StartedTs: time.Now(),
		Status:    store.TraceRunning,
	})
	if err != nil {
		return store.MemoryCard{}, fmt.Errorf("ingest: create trace: %w", err)
	}

	r := &run{traceID: trace.TraceID, o: o, ctx: ctx}

	maxFileMB := payload.MaxFileMB
	if maxFileMB <= 0 {
		maxFileMB = 20
	}
	oversize := payload.SizeBytes > maxFileMB*1024*1024

	class := Classify(payload.Mime, blob.Path)
	if oversize {
		class = ClassUnknown
	}

	card, res, pipelineErr := r.runPipeline(class, payload, blob)
	if pipelineErr != nil {
		o.log.Warn("ingest: pipeline failed, committing placeholder", "blob_id", payload.BlobID, "error", pipelineErr)
		card = placeholderCard(payload, blob, pipelineErr)
		res = pipelineResult{}
	}
	card.TraceID = payload.TraceID

	committed, err := o.commit(ctx, card, res)
	if err != nil {
		_ = o.store.Exec().FinishTrace(ctx, trace.TraceID, store.TraceError)
		return store.MemoryCard{}, fmt.Errorf("ingest: commit: %w", err)
	}

	status := store.TraceOK
	if pipelineErr != nil {
		status = store.TraceError
	}
	if err := o.store.Exec().FinishTrace(ctx, trace.TraceID, status); err != nil {
		o.log.Warn("ingest: finish trace failed", "trace_id", trace.TraceID, "error", err)
	}

	return committed, nil
}

// TextPayload is the /ingest (inline text) request body.
type TextPayload struct {
	Text     string
	Metadata map[string]any
}

// IngestText runs the content pipeline directly over already-extracted text,
// skipping blob resolution and doc_parse/ocr/asr. Used by the /ingest HTTP
// endpoint for text pasted or pushed by API callers rather than dropped into
// the watch root.
func (o *Orchestrator) IngestText(ctx context.Context, payload TextPayload) (store.MemoryCard, error) {
	if strings.TrimSpace(payload.Text) == "" {
		return store.MemoryCard{}, fmt.Errorf("ingest: text must not be empty")
	}

	traceID := ids.Prefixed("trace")
	if _, err := o.store.Exec().CreateTrace(ctx, store.ExecTrace{
		TraceID:   traceID,
		StartedTs: time.Now(),
		Status:    store.TraceRunning,
	}); err != nil {
		return store.MemoryCard{}, fmt.Errorf("ingest: create trace: %w", err)
	}

	r := &run{traceID: traceID, o: o, ctx: ctx}
	res := pipelineResult{text: payload.Text, pipeline: "text"}

	summaryOut, err := r.dispatch("summarizer", map[string]any{"text": res.text})
	if err != nil {
		_ = o.store.Exec().FinishTrace(ctx, traceID, store.TraceError)
		return store.MemoryCard{}, fmt.Errorf("ingest: summarize: %w", err)
	}
	res.summary, _ = summaryOut["summary"].(string)

	extractOut, err := r.dispatch("extractor", map[string]any{"text": res.text})
	if err != nil {
		_ = o.store.Exec().FinishTrace(ctx, traceID, store.TraceError)
		return store.MemoryCard{}, fmt.Errorf("ingest: extract: %w", err)
	}
	res.entities, _ = extractOut["entities"].([]map[string]any)
	if tags, ok := extractOut["tags"].([]string); ok {
		res.tags = tags
	}
	if actions, ok := extractOut["actions"].([]string); ok {
		res.actions = actions
	}

	embedOut, err := r.dispatch("text_embed", map[string]any{"text": res.text})
	if err != nil {
		_ = o.store.Exec().FinishTrace(ctx, traceID, store.TraceError)
		return store.MemoryCard{}, fmt.Errorf("ingest: embed: %w", err)
	}
	res.textVector = toFloat32Slice(embedOut["vector"])

	memoryID := ids.Prefixed("mem")
	if _, err := r.dispatch("graph_builder", map[string]any{
		"memory_id": memoryID,
		"entities":  entitiesToAny(res.entities),
		"trace_id":  traceID,
	}); err != nil {
		_ = o.store.Exec().FinishTrace(ctx, traceID, store.TraceError)
		return store.MemoryCard{}, fmt.Errorf("ingest: graph builder: %w", err)
	}

	url, _ := payload.Metadata["url"].(string)
	card := store.MemoryCard{
		MemoryID:    memoryID,
		Type:        "note",
		ContentText: res.text,
		Summary:     res.summary,
		SourceTime:  time.Now(),
		CreatedAt:   time.Now(),
		TraceID:     traceID,
		Metadata: store.CardMetadata{
			Pipeline:   fmt.Sprintf("text:v%d", pipelineVersion),
			URL:        url,
			Entities:   entityLabels(res.entities),
			Tags:       res.tags,
			Actions:    res.actions,
			SourceType: "api",
		},
	}

	committed, err := o.commit(ctx, card, res)
	if err != nil {
		_ = o.store.Exec().FinishTrace(ctx, traceID, store.TraceError)
		return store.MemoryCard{}, fmt.Errorf("ingest: commit: %w", err)
	}

	if err := o.store.Exec().FinishTrace(ctx, traceID, store.TraceOK); err != nil {
		o.log.Warn("ingest: finish trace failed", "trace_id", traceID, "error", err)
	}
	return committed, nil
}

func (o *Orchestrator) findExistingCard(ctx context.Context, payload Payload) (store.MemoryCard, bool, error) {
	cards, err := o.store.Cards().List(ctx, store.CardFilter{Limit: 0})
	if err != nil {
		return store.MemoryCard{}, false, fmt.Errorf("ingest: idempotency check: %w", err)
	}
	for _, c := range cards {
		if c.Metadata.BlobID == payload.BlobID && c.TraceID == payload.TraceID {
			return c, true, nil
		}
	}
	return store.MemoryCard{}, false, nil
}

// pipelineResult accumulates what a content pipeline produced before commit.
type pipelineResult struct {
	text       string
	title      string
	summary    string
	entities   []map[string]any
	tags       []string
	actions    []string
	textVector []float32
	visVector  []float32
	pipeline   string
}

func (r *run) runPipeline(class Class, payload Payload, blob store.Blob) (store.MemoryCard, pipelineResult, error) {
	var res pipelineResult

	switch class {
	case ClassTextDocument:
		res.pipeline = "doc"
		out, err := r.dispatch("doc_parse", map[string]any{"blob_id": payload.BlobID})
		if err != nil {
			return store.MemoryCard{}, res, err
		}
		res.text, _ = out["text"].(string)
		if title, ok := out["title"].(string); ok {
			res.title = title
		}

	case ClassImage:
		res.pipeline = "ocr"
		// ocr and vision_embed share the frontier as a common predecessor
		// but run concurrently and independently of each other; both feed
		// into summarizer below.
		predecessors := r.lastNodeIDs
		var ocrOut, visOut map[string]any
		var ocrNodeID, visNodeID string

		g, gctx := errgroup.WithContext(r.ctx)
		forked := &run{traceID: r.traceID, o: r.o, ctx: gctx}
		g.Go(func() error {
			out, nodeID, err := forked.dispatchFrom("ocr", map[string]any{"blob_id": payload.BlobID}, predecessors...)
			if err != nil {
				return err
			}
			ocrOut, ocrNodeID = out, nodeID
			return nil
		})
		g.Go(func() error {
			out, nodeID, err := forked.dispatchFrom("vision_embed", map[string]any{"blob_id": payload.BlobID}, predecessors...)
			if err != nil {
				return err
			}
			visOut, visNodeID = out, nodeID
			return nil
		})
		if err := g.Wait(); err != nil {
			return store.MemoryCard{}, res, err
		}

		res.text, _ = ocrOut["text"].(string)
		res.visVector = toFloat32Slice(visOut["vector"])
		r.lastNodeIDs = []string{ocrNodeID, visNodeID}

	case ClassAudio:
		res.pipeline = "asr"
		out, err := r.dispatch("asr", map[string]any{"blob_id": payload.BlobID})
		if err != nil {
			return store.MemoryCard{}, res, err
		}
		res.text, _ = out["text"].(string)

	default:
		return placeholderCard(payload, blob, nil), res, nil
	}

	if strings.TrimSpace(res.text) == "" {
		return placeholderCard(payload, blob, fmt.Errorf("empty content after parse")), res, nil
	}

	summaryOut, err := r.dispatch("summarizer", map[string]any{"text": res.text})
	if err != nil {
		return store.MemoryCard{}, res, err
	}
	res.summary, _ = summaryOut["summary"].(string)

	extractOut, err := r.dispatch("extractor", map[string]any{"text": res.text})
	if err != nil {
		return store.MemoryCard{}, res, err
	}
	res.entities, _ = extractOut["entities"].([]map[string]any)
	if tags, ok := extractOut["tags"].([]string); ok {
		res.tags = tags
	}
	if actions, ok := extractOut["actions"].([]string); ok {
		res.actions = actions
	}

	embedOut, err := r.dispatch("text_embed", map[string]any{"text": res.text})
	if err != nil {
		return store.MemoryCard{}, res, err
	}
	res.textVector = toFloat32Slice(embedOut["vector"])

	memoryID := ids.Prefixed("mem")
	if _, err := r.dispatch("graph_builder", map[string]any{
		"memory_id": memoryID,
		"entities":  entitiesToAny(res.entities),
		"trace_id":  r.traceID,
	}); err != nil {
		return store.MemoryCard{}, res, err
	}

	card := store.MemoryCard{
		MemoryID:    memoryID,
		Type:        res.pipeline,
		ContentText: res.text,
		Summary:     res.summary,
		SourceTime:  blob.CreatedTs,
		CreatedAt:   time.Now(),
		Metadata: store.CardMetadata{
			Mime:       blob.Mime,
			Pipeline:   fmt.Sprintf("%s:v%d", res.pipeline, pipelineVersion),
			FilePath:   blob.Path,
			Entities:   entityLabels(res.entities),
			Tags:       res.tags,
			Actions:    res.actions,
			SourceType: "filesystem",
			BlobID:     payload.BlobID,
		},
	}
	return card, res, nil
}

// dispatch runs one tool as the sole successor of the current frontier,
// then advances the frontier to the new node. Most pipeline stages are a
// straight chain and only need this.
func (r *run) dispatch(tool string, inputs map[string]any) (map[string]any, error) {
	outputs, nodeID, err := r.dispatchFrom(tool, inputs, r.lastNodeIDs...)
	if err == nil {
		r.lastNodeIDs = []string{nodeID}
	}
	return outputs, err
}

// dispatchFrom runs one tool with an explicit set of predecessor nodes,
// recording the ExecNode and one ExecEdge per predecessor around the
// registry dispatch. It does not touch r.lastNodeIDs, so callers that fan
// out (dispatching more than one tool off the same predecessors) can do so
// by calling dispatchFrom directly and joining the frontier themselves.
func (r *run) dispatchFrom(tool string, inputs map[string]any, predecessors ...string) (map[string]any, string, error) {
	callID := ids.Prefixed("call")
	node, err := r.o.store.Exec().CreateNode(r.ctx, store.ExecNode{
		ExecNodeID: ids.Prefixed("node"),
		TraceID:    r.traceID,
		CallID:     callID,
		State:      store.ExecRunning,
		Attempt:    1,
		TimeoutMs:  defaultNodeTimeoutMs,
	})
	if err != nil {
		return nil, "", fmt.Errorf("ingest: create exec node: %w", err)
	}

	for _, pred := range predecessors {
		if pred == "" {
			continue
		}
		if err := r.o.store.Exec().CreateEdge(r.ctx, store.ExecEdge{
			FromExecNode: pred,
			ToExecNode:   node.ExecNodeID,
			Condition:    store.CondOnOK,
		}); err != nil {
			r.o.log.Warn("ingest: create exec edge failed", "error", err)
		}
	}

	outputs, _, dispatchErr := r.o.registry.DispatchWithCallID(r.ctx, tool, inputs, r.traceID, callID)

	state := store.ExecOK
	if dispatchErr != nil {
		state = store.ExecError
	}
	if err := r.o.store.Exec().UpdateNodeStatus(r.ctx, node.ExecNodeID, state); err != nil {
		r.o.log.Warn("ingest: update exec node status failed", "error", err)
	}

	return outputs, node.ExecNodeID, dispatchErr
}

func (o *Orchestrator) commit(ctx context.Context, card store.MemoryCard, res pipelineResult) (store.MemoryCard, error) {
	committed, err := o.store.Cards().Upsert(ctx, card)
	if err != nil {
		return store.MemoryCard{}, fmt.Errorf("upsert card: %w", err)
	}

	var embeddings []store.Embedding
	if len(res.textVector) > 0 {
		embeddings = append(embeddings, store.Embedding{
			EmbeddingID: ids.Prefixed("emb"),
			MemoryID:    committed.MemoryID,
			Modality:    store.ModalityText,
			Vector:      res.textVector,
		})
	}
	if len(res.visVector) > 0 {
		embeddings = append(embeddings, store.Embedding{
			EmbeddingID: ids.Prefixed("emb"),
			MemoryID:    committed.MemoryID,
			Modality:    store.ModalityVision,
			Vector:      res.visVector,
		})
	}
	if len(embeddings) > 0 {
		if err := o.store.Cards().InsertEmbeddings(ctx, committed.MemoryID, embeddings); err != nil {
			return store.MemoryCard{}, fmt.Errorf("insert embeddings: %w", err)
		}
	}

	return committed, nil
}

func placeholderCard(payload Payload, blob store.Blob, cause error) store.MemoryCard {
	errMsg := ""
	if cause != nil {
		errMsg = cause.Error()
	}
	return store.MemoryCard{
		MemoryID:   ids.Prefixed("mem"),
		Type:       "placeholder",
		SourceTime: blob.CreatedTs,
		CreatedAt:  time.Now(),
		Metadata: store.CardMetadata{
			Mime:       blob.Mime,
			Pipeline:   fmt.Sprintf("placeholder:v%d", pipelineVersion),
			FilePath:   blob.Path,
			SourceType: "filesystem",
			BlobID:     payload.BlobID,
			Error:      errMsg,
		},
	}
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
// schema expects (and the shape it would see over the JSON /tools/run
// endpoint, where a JSON array always decodes to []any).
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
