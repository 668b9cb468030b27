package store

import (
	"context"
	"time"
)

// CardFilter narrows a cards.list / cards.search call. Zero values mean "no
// filter" for that dimension. Constructed directly by callers (HTTP handlers
// decode query params straight into it) rather than via functional options,
// since every field is independently optional and there is no construction
// invariant to protect.
type CardFilter struct {
	SourceType string
	CardType   string
	Limit      int
	Offset     int
}

// CardRepo persists and queries MemoryCards, their Embeddings, and the
// full-text index over Summary/ContentText.
type CardRepo interface {
	// Upsert inserts card, or, if a card already exists for the same
	// (BlobID, TraceID) pair, returns the existing one unchanged. Never
	// returns a duplicate and never errors on the conflict itself.
	Upsert(ctx context.Context, card MemoryCard) (MemoryCard, error)

	Get(ctx context.Context, memoryID string) (MemoryCard, error)

	// List returns cards ordered by CreatedAt descending, most recent first.
	List(ctx context.Context, filter CardFilter) ([]MemoryCard, error)

	// Search runs the full-text index over Summary and ContentText.
	Search(ctx context.Context, query string, filter CardFilter) ([]MemoryCard, error)

	InsertEmbeddings(ctx context.Context, memoryID string, embeddings []Embedding) error

	// SemanticSearch returns the topK cards whose text embedding is nearest
	// to queryVector by cosine similarity, along with the raw similarity
	// score in [0,1].
	SemanticSearch(ctx context.Context, queryVector []float32, topK int) ([]ScoredCard, error)

	// Delete removes a card, its embeddings (cascade), and its mem:* graph
	// node. Used only by explicit purge operations.
	Delete(ctx context.Context, memoryID string) error
}

// ScoredCard pairs a MemoryCard with a raw similarity score from a vector
// query.
type ScoredCard struct {
	Card  MemoryCard
	Score float64
}

// BlobRepo persists content-addressed binaries and the FileState dedup
// table.
type BlobRepo interface {
	InsertSource(ctx context.Context, src Source) (Source, error)

	InsertBlob(ctx context.Context, blob Blob) (Blob, error)
	FindBySHA(ctx context.Context, sha256 string) (Blob, bool, error)
	Get(ctx context.Context, blobID string) (Blob, error)

	GetFileState(ctx context.Context, path string) (FileState, bool, error)
	UpsertFileState(ctx context.Context, fs FileState) error
}

// EdgeDirection constrains graph traversal direction.
type EdgeDirection string

const (
	DirIn   EdgeDirection = "in"
	DirOut  EdgeDirection = "out"
	DirBoth EdgeDirection = "both"
)

// ExpandQuery parameterizes graph.Expand. Seeds is required; everything
// else is an optional filter, zero meaning unset.
type ExpandQuery struct {
	Seeds     []string
	Hops      int // 1 or 2
	Direction EdgeDirection
	EdgeTypes []EdgeType // empty means all types
	TimeMin   *time.Time
	TimeMax   *time.Time
	MaxNodes  int
	MaxEdges  int
}

// Subgraph is the result of a graph expansion or neighbor query: the set of
// visited nodes and the edges connecting them.
type Subgraph struct {
	Nodes []GraphNode
	Edges []GraphEdge
}

// GraphRepo persists the knowledge graph: nodes, edges, and traversal
// queries over them.
type GraphRepo interface {
	// UpsertNodes is idempotent by NodeID.
	UpsertNodes(ctx context.Context, nodes []GraphNode) (int, error)

	// UpsertEdges is idempotent by EdgeID. Repeated upsert of the same edge
	// id increases Weight (capped at 1) to reflect accumulating evidence.
	UpsertEdges(ctx context.Context, edges []GraphEdge) (int, error)

	// Neighbors returns the one-hop neighborhood of node in the given
	// direction, up to limit edges.
	Neighbors(ctx context.Context, nodeID string, direction EdgeDirection, limit int) (Subgraph, error)

	// Expand performs a BFS from seeds out to Hops, pruned by EdgeTypes and
	// the [TimeMin,TimeMax] validity window, bounded by MaxNodes/MaxEdges.
	Expand(ctx context.Context, q ExpandQuery) (Subgraph, error)

	// Search ranks nodes by label-prefix match, then substring match, then
	// recency of attached edges; nodeType filters when non-empty.
	Search(ctx context.Context, query string, nodeType NodeType, limit int) ([]GraphNode, error)

	GetNode(ctx context.Context, nodeID string) (GraphNode, bool, error)

	// DeleteCardNode removes the mem:<memoryID> node and its edges; used
	// when a card is purged.
	DeleteCardNode(ctx context.Context, memoryID string) error
}

// ExecRepo persists the append-only execution trace: traces, nodes, edges,
// and the flat ToolCall ledger.
type ExecRepo interface {
	CreateTrace(ctx context.Context, trace ExecTrace) (ExecTrace, error)
	FinishTrace(ctx context.Context, traceID string, status TraceStatus) error
	GetTrace(ctx context.Context, traceID string) (ExecTrace, error)

	CreateNode(ctx context.Context, node ExecNode) (ExecNode, error)
	UpdateNodeStatus(ctx context.Context, execNodeID string, state ExecNodeState) error
	CreateEdge(ctx context.Context, edge ExecEdge) error

	// Graph returns every ExecNode and ExecEdge recorded for traceID.
	Graph(ctx context.Context, traceID string) ([]ExecNode, []ExecEdge, error)

	RecordToolCall(ctx context.Context, call ToolCall) (ToolCall, error)
	ListToolCalls(ctx context.Context, traceID string, limit int) ([]ToolCall, error)
}

// JobRepo persists the work queue. Lease, Complete, and Fail are the only
// mutating operations and must be safe for concurrent workers.
type JobRepo interface {
	Enqueue(ctx context.Context, jobType JobType, payload []byte, traceID string) (Job, error)

	// Lease atomically selects the oldest queued-or-errored job of one of
	// the given types whose NextRunTs has passed, marks it running, and
	// returns it. Returns ok=false when no job is due.
	Lease(ctx context.Context, workerID string, types []JobType, now time.Time) (job Job, ok bool, err error)

	Complete(ctx context.Context, jobID string) error

	// Fail records an error on the job. Exponential backoff and the dead
	// threshold are computed by the caller (internal/capture) and passed
	// through as nextRunTs/status so the repo stays policy-free.
	Fail(ctx context.Context, jobID string, errText string, nextRunTs time.Time, status JobStatus, attempts int) error

	Get(ctx context.Context, jobID string) (Job, error)
	List(ctx context.Context, status JobStatus, limit int) ([]Job, error)
}

// ConversationRepo persists conversations, their turns, and chat citations.
type ConversationRepo interface {
	GetOrCreate(ctx context.Context, conversationID string) (Conversation, error)
	AppendTurn(ctx context.Context, turn Turn, citations []ChatCitation) (Turn, error)
	ListConversations(ctx context.Context, limit int) ([]Conversation, error)
	GetConversation(ctx context.Context, conversationID string) (Conversation, []Turn, error)
}

// SearchHistoryRepo persists the /search/history log.
type SearchHistoryRepo interface {
	Record(ctx context.Context, q SearchQuery) error
	Recent(ctx context.Context, limit int) ([]SearchQuery, error)
}

// Store aggregates every repository. Components depend on the narrowest
// repo interface they actually use; Store exists so main.go can construct
// one backing implementation and hand out the pieces.
type Store interface {
	Cards() CardRepo
	Blobs() BlobRepo
	Graph() GraphRepo
	Exec() ExecRepo
	Jobs() JobRepo
	Conversations() ConversationRepo
	SearchHistory() SearchHistoryRepo

	Close() error
}
