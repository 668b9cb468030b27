// Package qa implements the Q&A orchestrator: a security filter, then
// retrieve -> weave -> verify -> persist, dispatched entirely through the
// tool registry so every step lands in the exec trace.
package qa

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/echogarden-io/echogarden/internal/apperr"
	"github.com/echogarden-io/echogarden/internal/registry"
	"github.com/echogarden-io/echogarden/pkg/ids"
	"github.com/echogarden-io/echogarden/pkg/store"
)

const (
	defaultMaxMessageChars   = 4000
	defaultNonPrintableRatio = 0.10
	defaultTopK              = 8
	abstainRefusal           = "I don't have enough evidence in your memories to answer that confidently."
)

// Response is the result of handling one chat message.
type Response struct {
	ConversationID string
	TurnID         string
	TraceID        string
	Answer         string
	Verdict        store.Verdict
	Citations      []store.ChatCitation
}

// Orchestrator runs the Q&A pipeline.
type Orchestrator struct {
	store    store.Store
	registry *registry.Registry
	log      *slog.Logger

	maxMessageChars   int
	nonPrintableRatio float64
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMaxMessageChars overrides the security filter's length cap.
func WithMaxMessageChars(n int) Option {
	return func(o *Orchestrator) { o.maxMessageChars = n }
}

// New constructs a Q&A Orchestrator.
func New(s store.Store, reg *registry.Registry, log *slog.Logger, opts ...Option) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	o := &Orchestrator{
		store:             s,
		registry:          reg,
		log:               log,
		maxMessageChars:   defaultMaxMessageChars,
		nonPrintableRatio: defaultNonPrintableRatio,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// HandleChat runs the full retrieve -> weave -> verify -> persist pipeline
// for message within conversationID (created if empty).
func (o *Orchestrator) HandleChat(ctx context.Context, conversationID, message string) (Response, error) {
	if err := o.securityFilter(message); err != nil {
		return Response{}, err
	}

	conv, err := o.store.Conversations().GetOrCreate(ctx, conversationID)
	if err != nil {
		return Response{}, fmt.Errorf("qa: get or create conversation: %w", err)
	}

	traceID := ids.Prefixed("trace")
	if _, err := o.store.Exec().CreateTrace(ctx, store.ExecTrace{
		TraceID:   traceID,
		StartedTs: time.Now(),
		Status:    store.TraceRunning,
	}); err != nil {
		return Response{}, fmt.Errorf("qa: create trace: %w", err)
	}

	evidence, err := o.retrieve(ctx, traceID, message)
	if err != nil {
		_ = o.store.Exec().FinishTrace(ctx, traceID, store.TraceError)
		return Response{}, err
	}

	answer, citedMemoryIDs, err := o.weave(ctx, traceID, message, evidence)
	if err != nil {
		_ = o.store.Exec().FinishTrace(ctx, traceID, store.TraceError)
		return Response{}, err
	}

	verdict, finalAnswer, flagged, err := o.verify(ctx, traceID, message, answer, evidence)
	if err != nil {
		_ = o.store.Exec().FinishTrace(ctx, traceID, store.TraceError)
		return Response{}, err
	}

	if verdict == store.VerdictAbstain {
		finalAnswer = abstainRefusal
		citedMemoryIDs = nil
	}

	citations := make([]store.ChatCitation, len(citedMemoryIDs))
	for i, memoryID := range citedMemoryIDs {
		citations[i] = store.ChatCitation{MemoryID: memoryID}
	}

	evidenceJSON, _ := json.Marshal(evidence)
	turn := store.Turn{
		ConversationID: conv.ConversationID,
		UserText:       message,
		AssistantText:  finalAnswer,
		Verdict:        verdict,
		TraceID:        traceID,
		EvidenceJSON:   evidenceJSON,
		CreatedAt:      time.Now(),
	}
	if len(flagged) > 0 {
		if b, err := json.Marshal(flagged); err == nil {
			turn.CitationsJSON = b
		}
	}

	savedTurn, err := o.store.Conversations().AppendTurn(ctx, turn, citations)
	if err != nil {
		_ = o.store.Exec().FinishTrace(ctx, traceID, store.TraceError)
		return Response{}, fmt.Errorf("qa: append turn: %w", err)
	}

	if err := o.store.Exec().FinishTrace(ctx, traceID, store.TraceOK); err != nil {
		o.log.Warn("qa: finish trace failed", "trace_id", traceID, "error", err)
	}

	return Response{
		ConversationID: conv.ConversationID,
		TurnID:         savedTurn.TurnID,
		TraceID:        traceID,
		Answer:         finalAnswer,
		Verdict:        verdict,
		Citations:      citations,
	}, nil
}

// securityFilter rejects messages that are too long, or whose non-printable
// byte ratio suggests a binary paste rather than text.
func (o *Orchestrator) securityFilter(message string) error {
	if strings.TrimSpace(message) == "" {
		return apperr.New(apperr.InvalidInput, "qa: message must not be empty")
	}
	if len(message) > o.maxMessageChars {
		return apperr.New(apperr.InvalidInput, fmt.Sprintf("qa: message exceeds %d character limit", o.maxMessageChars))
	}

	var nonPrintable int
	for _, r := range message {
		if r == '\n' || r == '\t' || r == '\r' {
			continue
		}
		if !unicode.IsPrint(r) {
			nonPrintable++
		}
	}
	if float64(nonPrintable)/float64(len([]rune(message))) > o.nonPrintableRatio {
		return apperr.New(apperr.InvalidInput, "qa: message contains too high a ratio of non-printable bytes")
	}
	return nil
}

func (o *Orchestrator) retrieve(ctx context.Context, traceID, message string) ([]map[string]any, error) {
	out, err := o.registry.Dispatch(ctx, "retrieval", map[string]any{
		"query": message,
		"top_k": float64(defaultTopK),
	}, traceID)
	if err != nil {
		return nil, fmt.Errorf("qa: retrieve: %w", err)
	}
	results, _ := out["results"].([]map[string]any)
	return results, nil
}

func (o *Orchestrator) weave(ctx context.Context, traceID, message string, evidence []map[string]any) (answer string, citedMemoryIDs []string, err error) {
	evidenceAny := make([]any, len(evidence))
	for i, e := range evidence {
		evidenceAny[i] = e
	}

	out, err := o.registry.Dispatch(ctx, "weaver", map[string]any{
		"query":    message,
		"evidence": evidenceAny,
	}, traceID)
	if err != nil {
		return "", nil, fmt.Errorf("qa: weave: %w", err)
	}

	answer, _ = out["answer"].(string)
	citedMemoryIDs, _ = out["cited_memory_ids"].([]string)
	return answer, citedMemoryIDs, nil
}

func (o *Orchestrator) verify(ctx context.Context, traceID, message, answer string, evidence []map[string]any) (verdict store.Verdict, finalAnswer string, flagged []string, err error) {
	evidenceAny := make([]any, len(evidence))
	for i, e := range evidence {
		evidenceAny[i] = e
	}

	out, err := o.registry.Dispatch(ctx, "verifier", map[string]any{
		"query":    message,
		"answer":   answer,
		"evidence": evidenceAny,
	}, traceID)
	if err != nil {
		return "", "", nil, fmt.Errorf("qa: verify: %w", err)
	}

	verdictStr, _ := out["verdict"].(string)
	verdict = store.Verdict(verdictStr)

	finalAnswer = answer
	if verdict == store.VerdictRevise {
		if revised, ok := out["revised_answer"].(string); ok && revised != "" {
			finalAnswer = revised
		}
	}
	flagged, _ = out["flagged_claims"].([]string)
	return verdict, finalAnswer, flagged, nil
}
