// Package retrieval implements the hybrid retriever: four independent
// signal generators (full-text, semantic, graph, recency) run concurrently
// via errgroup, are min-max normalized within their own candidate set, and
// fused with configurable weights into a single ranked result.
package retrieval

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/echogarden-io/echogarden/pkg/provider/embeddings"
	"github.com/echogarden-io/echogarden/pkg/store"
)

const (
	recencyTauDays  = 14.0
	recencyPoolSize = 200
	graphPoolLimit  = 50
)

// Weights assigns a fusion weight to each signal. A Retriever uses
// DefaultWeights unless WithWeights is given; WithWeights replaces all four
// values as given, so a zero field gives that signal no weight.
type Weights struct {
	Semantic float64
	FTS      float64
	Graph    float64
	Recency  float64
}

// DefaultWeights matches the spec's default fusion weighting.
var DefaultWeights = Weights{Semantic: 0.40, FTS: 0.20, Graph: 0.20, Recency: 0.20}

// DefaultSourceBoosts adds a small bonus for source types known to carry
// strong user intent signal.
var DefaultSourceBoosts = map[string]float64{
	"browser_highlight": 0.05,
	"document":          0.03,
}

// Filters narrows which cards are eligible for retrieval.
type Filters struct {
	SourceType string
	CardType   string
	TimeMin    *time.Time
	TimeMax    *time.Time
}

// Hit is one ranked retrieval result.
type Hit struct {
	MemoryID   string
	Card       store.MemoryCard
	FinalScore float64
	Reasons    []string
}

// Result is the outcome of a Retrieve call.
type Result struct {
	Hits  []Hit
	Trace string // "hybrid" or "fts_only" when semantic degraded
}

// Retriever runs the hybrid retrieval pipeline over a Store.
type Retriever struct {
	cards    store.CardRepo
	graph    store.GraphRepo
	embedder embeddings.Provider
	weights  Weights
	boosts   map[string]float64
	tauDays  float64
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithWeights overrides the default fusion weights.
func WithWeights(w Weights) Option {
	return func(r *Retriever) { r.weights = w }
}

// WithSourceBoosts overrides the default per-source-type score boosts.
func WithSourceBoosts(boosts map[string]float64) Option {
	return func(r *Retriever) { r.boosts = boosts }
}

// New constructs a Retriever. embedder may be nil, in which case the
// semantic signal is always skipped and Result.Trace is "fts_only".
func New(cards store.CardRepo, graph store.GraphRepo, embedder embeddings.Provider, opts ...Option) *Retriever {
	r := &Retriever{
		cards:    cards,
		graph:    graph,
		embedder: embedder,
		weights:  DefaultWeights,
		boosts:   DefaultSourceBoosts,
		tauDays:  recencyTauDays,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// signalScores maps memory_id to a raw, signal-local score.
type signalScores map[string]float64

// Retrieve runs every signal concurrently, fuses them, and returns the
// top_k hits ordered by final_score descending, memory_id ascending on ties.
func (r *Retriever) Retrieve(ctx context.Context, query string, topK int, filters Filters) (Result, error) {
	if topK <= 0 {
		topK = 8
	}

	var (
		ftsScores      signalScores
		semanticScores signalScores
		graphScores    signalScores
		recencyScores  signalScores
		cardsByID      = map[string]store.MemoryCard{}
		mu             sync.Mutex
		semanticFailed bool
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		scores, cards, err := r.ftsSignal(gctx, query, filters)
		if err != nil {
			return fmt.Errorf("retrieval: fts signal: %w", err)
		}
		mu.Lock()
		ftsScores = scores
		mergeCards(cardsByID, cards)
		mu.Unlock()
		return nil
	})

	g.Go(func() error {
		if r.embedder == nil {
			mu.Lock()
			semanticFailed = true
			mu.Unlock()
			return nil
		}
		scores, cards, err := r.semanticSignal(gctx, query, topK)
		if err != nil {
			mu.Lock()
			semanticFailed = true
			mu.Unlock()
			return nil // degrade to fts-only rather than fail the whole retrieval
		}
		mu.Lock()
		semanticScores = scores
		mergeCards(cardsByID, cards)
		mu.Unlock()
		return nil
	})

	g.Go(func() error {
		scores, cards, err := r.graphSignal(gctx, query)
		if err != nil {
			return fmt.Errorf("retrieval: graph signal: %w", err)
		}
		mu.Lock()
		graphScores = scores
		mergeCards(cardsByID, cards)
		mu.Unlock()
		return nil
	})

	g.Go(func() error {
		scores, cards, err := r.recencySignal(gctx, filters)
		if err != nil {
			return fmt.Errorf("retrieval: recency signal: %w", err)
		}
		mu.Lock()
		recencyScores = scores
		mergeCards(cardsByID, cards)
		mu.Unlock()
		return nil
	})

	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	normFTS := minMaxNormalize(ftsScores)
	normSemantic := minMaxNormalize(semanticScores)
	normGraph := minMaxNormalize(graphScores)
	normRecency := minMaxNormalize(recencyScores)

	type scored struct {
		hit   Hit
		score float64
	}
	var results []scored

	for id, card := range cardsByID {
		var score float64
		var reasons []string

		if v := normFTS[id]; v > 0 {
			score += r.weights.FTS * v
			reasons = append(reasons, "fts")
		}
		if v := normSemantic[id]; v > 0 {
			score += r.weights.Semantic * v
			reasons = append(reasons, "semantic")
		}
		if v := normGraph[id]; v > 0 {
			score += r.weights.Graph * v
			reasons = append(reasons, "graph")
		}
		if v := normRecency[id]; v > 0 {
			score += r.weights.Recency * v
			reasons = append(reasons, "recency")
		}
		if boost, ok := r.boosts[card.Metadata.SourceType]; ok && boost > 0 {
			score += boost
			reasons = append(reasons, "source_boost")
		}
		if len(reasons) == 0 {
			continue
		}

		results = append(results, scored{hit: Hit{MemoryID: id, Card: card, FinalScore: score, Reasons: reasons}, score: score})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].score != results[j].score {
			return results[i].score > results[j].score
		}
		return results[i].hit.MemoryID < results[j].hit.MemoryID
	})

	if len(results) > topK {
		results = results[:topK]
	}

	hits := make([]Hit, len(results))
	for i, s := range results {
		hits[i] = s.hit
	}

	trace := "hybrid"
	if semanticFailed {
		trace = "fts_only"
	}
	return Result{Hits: hits, Trace: trace}, nil
}

func (r *Retriever) ftsSignal(ctx context.Context, query string, filters Filters) (signalScores, []store.MemoryCard, error) {
	cards, err := r.cards.Search(ctx, query, store.CardFilter{SourceType: filters.SourceType, CardType: filters.CardType, Limit: recencyPoolSize})
	if err != nil {
		return nil, nil, err
	}
	scores := make(signalScores, len(cards))
	// The store interface returns cards pre-ranked by the engine; approximate
	// the engine rank as an inverse-position score since no raw rank value
	// crosses the repository boundary.
	for i, c := range cards {
		scores[c.MemoryID] = 1.0 / float64(i+1)
	}
	return scores, cards, nil
}

func (r *Retriever) semanticSignal(ctx context.Context, query string, topK int) (signalScores, []store.MemoryCard, error) {
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, nil, err
	}
	poolSize := topK * 4
	if poolSize < 20 {
		poolSize = 20
	}
	scoredCards, err := r.cards.SemanticSearch(ctx, vec, poolSize)
	if err != nil {
		return nil, nil, err
	}
	scores := make(signalScores, len(scoredCards))
	cards := make([]store.MemoryCard, len(scoredCards))
	for i, sc := range scoredCards {
		scores[sc.Card.MemoryID] = sc.Score
		cards[i] = sc.Card
	}
	return scores, cards, nil
}

func (r *Retriever) graphSignal(ctx context.Context, query string) (signalScores, []store.MemoryCard, error) {
	entities, err := r.graph.Search(ctx, query, store.NodeEntity, 10)
	if err != nil {
		return nil, nil, err
	}
	if len(entities) == 0 {
		return nil, nil, nil
	}

	seeds := make([]string, len(entities))
	for i, e := range entities {
		seeds[i] = e.NodeID
	}

	subgraph, err := r.graph.Expand(ctx, store.ExpandQuery{
		Seeds:     seeds,
		Hops:      1,
		Direction: store.DirIn,
		EdgeTypes: []store.EdgeType{store.EdgeMentions},
		MaxNodes:  graphPoolLimit,
		MaxEdges:  graphPoolLimit * 2,
	})
	if err != nil {
		return nil, nil, err
	}

	weightSum := map[string]float64{}
	weightCount := map[string]int{}
	for _, edge := range subgraph.Edges {
		if edge.Type != store.EdgeMentions {
			continue
		}
		weightSum[edge.From] += edge.Weight
		weightCount[edge.From]++
	}

	scores := make(signalScores, len(weightSum))
	var memoryIDs []string
	for nodeID, count := range weightCount {
		if count == 0 || len(nodeID) < 4 || nodeID[:4] != "mem:" {
			continue
		}
		memoryID := nodeID[4:]
		scores[memoryID] = weightSum[nodeID] / float64(count)
		memoryIDs = append(memoryIDs, memoryID)
	}

	cards := make([]store.MemoryCard, 0, len(memoryIDs))
	for _, id := range memoryIDs {
		card, err := r.cards.Get(ctx, id)
		if err != nil {
			continue // node exists but its card was purged; skip silently
		}
		cards = append(cards, card)
	}
	return scores, cards, nil
}

func (r *Retriever) recencySignal(ctx context.Context, filters Filters) (signalScores, []store.MemoryCard, error) {
	cards, err := r.cards.List(ctx, store.CardFilter{SourceType: filters.SourceType, CardType: filters.CardType, Limit: recencyPoolSize})
	if err != nil {
		return nil, nil, err
	}
	now := time.Now()
	scores := make(signalScores, len(cards))
	for _, c := range cards {
		ageDays := now.Sub(c.CreatedAt).Hours() / 24
		if ageDays < 0 {
			ageDays = 0
		}
		scores[c.MemoryID] = math.Exp(-ageDays / r.tauDays)
	}
	return scores, cards, nil
}

func minMaxNormalize(scores signalScores) signalScores {
	if len(scores) == 0 {
		return signalScores{}
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range scores {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	out := make(signalScores, len(scores))
	if hi == lo {
		for k := range scores {
			out[k] = 1
		}
		return out
	}
	for k, v := range scores {
		out[k] = (v - lo) / (hi - lo)
	}
	return out
}

func mergeCards(dst map[string]store.MemoryCard, cards []store.MemoryCard) {
	for _, c := range cards {
		dst[c.MemoryID] = c
	}
}
