// Package memstore is an in-process implementation of store.Store backed by
// plain Go maps guarded by a mutex. It is used by unit tests across the
// module and by the dev/stub run mode where a live PostgreSQL instance is
// unavailable.
//
// It is not intended for production use: full-text search is a naive
// substring scan and semantic search is a brute-force cosine comparison
// over every stored vector. Both are adequate for test-sized data.
package memstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/echogarden-io/echogarden/pkg/store"
)

// Store is an in-memory store.Store.
type Store struct {
	mu sync.Mutex

	sources    map[string]store.Source
	blobs      map[string]store.Blob
	blobBySHA  map[string]string // sha256 -> blobID
	fileStates map[string]store.FileState

	cards      map[string]store.MemoryCard
	embeddings map[string][]store.Embedding // memoryID -> embeddings

	nodes map[string]store.GraphNode
	edges map[string]store.GraphEdge

	traces    map[string]store.ExecTrace
	execNodes map[string]store.ExecNode
	execEdges []store.ExecEdge
	toolCalls []store.ToolCall

	jobs map[string]store.Job

	conversations map[string]store.Conversation
	turns         map[string][]store.Turn // conversationID -> turns, ordered
	citations     map[string][]store.ChatCitation

	searchHistory []store.SearchQuery

	seq int
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		sources:       make(map[string]store.Source),
		blobs:         make(map[string]store.Blob),
		blobBySHA:     make(map[string]string),
		fileStates:    make(map[string]store.FileState),
		cards:         make(map[string]store.MemoryCard),
		embeddings:    make(map[string][]store.Embedding),
		nodes:         make(map[string]store.GraphNode),
		edges:         make(map[string]store.GraphEdge),
		traces:        make(map[string]store.ExecTrace),
		execNodes:     make(map[string]store.ExecNode),
		jobs:          make(map[string]store.Job),
		conversations: make(map[string]store.Conversation),
		turns:         make(map[string][]store.Turn),
		citations:     make(map[string][]store.ChatCitation),
	}
}

// nextID returns a process-unique, monotonically increasing id with the
// given prefix. It is not a ULID/UUID: ordering and uniqueness are all the
// in-memory store needs, and tests benefit from short, readable ids.
func (s *Store) nextID(prefix string) string {
	s.seq++
	return fmt.Sprintf("%s_%08d", prefix, s.seq)
}

func (s *Store) Close() error { return nil }

func (s *Store) Cards() store.CardRepo                  { return cardRepo{s} }
func (s *Store) Blobs() store.BlobRepo                  { return blobRepo{s} }
func (s *Store) Graph() store.GraphRepo                 { return graphRepo{s} }
func (s *Store) Exec() store.ExecRepo                   { return execRepo{s} }
func (s *Store) Jobs() store.JobRepo                    { return jobRepo{s} }
func (s *Store) Conversations() store.ConversationRepo  { return conversationRepo{s} }
func (s *Store) SearchHistory() store.SearchHistoryRepo { return searchHistoryRepo{s} }

// --- cards ---

type cardRepo struct{ s *Store }

func (r cardRepo) Upsert(ctx context.Context, card store.MemoryCard) (store.MemoryCard, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, existing := range r.s.cards {
		if existing.Metadata.BlobID == card.Metadata.BlobID && existing.TraceID == card.TraceID {
			return existing, nil
		}
	}

	if card.MemoryID == "" {
		card.MemoryID = r.s.nextID("mem")
	}
	if card.CreatedAt.IsZero() {
		card.CreatedAt = time.Now()
	}
	r.s.cards[card.MemoryID] = card
	return card, nil
}

func (r cardRepo) Get(ctx context.Context, memoryID string) (store.MemoryCard, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.cards[memoryID]
	if !ok {
		return store.MemoryCard{}, fmt.Errorf("memstore: card %q not found", memoryID)
	}
	return c, nil
}

func (r cardRepo) List(ctx context.Context, filter store.CardFilter) ([]store.MemoryCard, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var all []store.MemoryCard
	for _, c := range r.s.cards {
		if filter.SourceType != "" && c.Metadata.SourceType != filter.SourceType {
			continue
		}
		if filter.CardType != "" && c.Type != filter.CardType {
			continue
		}
		all = append(all, c)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	return paginate(all, filter.Offset, filter.Limit), nil
}

func (r cardRepo) Search(ctx context.Context, query string, filter store.CardFilter) ([]store.MemoryCard, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	q := strings.ToLower(query)
	var hits []store.MemoryCard
	for _, c := range r.s.cards {
		if filter.SourceType != "" && c.Metadata.SourceType != filter.SourceType {
			continue
		}
		if filter.CardType != "" && c.Type != filter.CardType {
			continue
		}
		if strings.Contains(strings.ToLower(c.Summary), q) || strings.Contains(strings.ToLower(c.ContentText), q) {
			hits = append(hits, c)
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].CreatedAt.After(hits[j].CreatedAt) })
	return paginate(hits, filter.Offset, filter.Limit), nil
}

func (r cardRepo) InsertEmbeddings(ctx context.Context, memoryID string, embeddings []store.Embedding) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i := range embeddings {
		if embeddings[i].EmbeddingID == "" {
			embeddings[i].EmbeddingID = r.s.nextID("emb")
		}
		embeddings[i].MemoryID = memoryID
	}
	r.s.embeddings[memoryID] = append(r.s.embeddings[memoryID], embeddings...)
	return nil
}

func (r cardRepo) SemanticSearch(ctx context.Context, queryVector []float32, topK int) ([]store.ScoredCard, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var scored []store.ScoredCard
	for memoryID, embs := range r.s.embeddings {
		card, ok := r.s.cards[memoryID]
		if !ok {
			continue
		}
		best := -1.0
		for _, e := range embs {
			if e.Modality != store.ModalityText {
				continue
			}
			if sim := cosine(queryVector, e.Vector); sim > best {
				best = sim
			}
		}
		if best >= 0 {
			scored = append(scored, store.ScoredCard{Card: card, Score: best})
		}
	}
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Card.MemoryID < scored[j].Card.MemoryID
	})
	if topK > 0 && len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

func (r cardRepo) Delete(ctx context.Context, memoryID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.cards, memoryID)
	delete(r.s.embeddings, memoryID)
	delete(r.s.nodes, "mem:"+memoryID)
	return nil
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

// --- blobs ---

type blobRepo struct{ s *Store }

func (r blobRepo) InsertSource(ctx context.Context, src store.Source) (store.Source, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.sources {
		if existing.URI == src.URI {
			return existing, nil
		}
	}
	if src.SourceID == "" {
		src.SourceID = r.s.nextID("src")
	}
	if src.CreatedTs.IsZero() {
		src.CreatedTs = time.Now()
	}
	r.s.sources[src.SourceID] = src
	return src, nil
}

func (r blobRepo) InsertBlob(ctx context.Context, blob store.Blob) (store.Blob, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if blob.BlobID == "" {
		blob.BlobID = r.s.nextID("blob")
	}
	if blob.CreatedTs.IsZero() {
		blob.CreatedTs = time.Now()
	}
	r.s.blobs[blob.BlobID] = blob
	if _, exists := r.s.blobBySHA[blob.SHA256]; !exists {
		r.s.blobBySHA[blob.SHA256] = blob.BlobID
	}
	return blob, nil
}

func (r blobRepo) FindBySHA(ctx context.Context, sha256 string) (store.Blob, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	id, ok := r.s.blobBySHA[sha256]
	if !ok {
		return store.Blob{}, false, nil
	}
	return r.s.blobs[id], true, nil
}

func (r blobRepo) Get(ctx context.Context, blobID string) (store.Blob, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.blobs[blobID]
	if !ok {
		return store.Blob{}, fmt.Errorf("memstore: blob %q not found", blobID)
	}
	return b, nil
}

func (r blobRepo) GetFileState(ctx context.Context, path string) (store.FileState, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	fs, ok := r.s.fileStates[path]
	return fs, ok, nil
}

func (r blobRepo) UpsertFileState(ctx context.Context, fs store.FileState) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.fileStates[fs.Path] = fs
	return nil
}
