// Package store defines the persistent data model for EchoGarden and the
// repository interfaces that the rest of the system depends on.
//
// Two implementations exist: postgres (pkg/store/postgres) backed by
// PostgreSQL + pgvector for production use, and memstore (pkg/store/memstore)
// an in-process implementation used by tests and the stub/dev config.
package store

import "time"

// SourceType identifies where a Source originates.
type SourceType string

const (
	SourceFilesystem SourceType = "filesystem"
	SourceAPI        SourceType = "api"
	SourceBrowser    SourceType = "browser"
)

// Source is one external origin of captured content: a watched directory, a
// browser extension, or an API caller. Immutable after creation.
type Source struct {
	SourceID  string
	Type      SourceType
	URI       string
	CreatedTs time.Time
}

// Blob is content-addressed binary data. Multiple blobs may share a SHA256
// when identical bytes arrive from distinct paths; sha256 alone identifies
// content, the row identifies one observed occurrence of it.
type Blob struct {
	BlobID    string
	SHA256    string
	Path      string
	Mime      string
	SizeBytes int64
	SourceID  string
	CreatedTs time.Time
}

// FileState is the watcher's dedup tracker, keyed by Path.
type FileState struct {
	Path       string
	MtimeNs    int64
	SizeBytes  int64
	SHA256     string
	LastSeenTs time.Time
}

// JobStatus is the lifecycle state of a queued Job.
type JobStatus string

const (
	JobQueued  JobStatus = "queued"
	JobRunning JobStatus = "running"
	JobDone    JobStatus = "done"
	JobError   JobStatus = "error"
	JobDead    JobStatus = "dead"
)

// JobType enumerates the kinds of work the queue carries. Only ingest_blob
// is produced by the watcher today; other types are reserved for future
// background work (e.g. re-embedding on model upgrade).
type JobType string

const (
	JobTypeIngestBlob JobType = "ingest_blob"
)

// Job is one queued unit of work.
type Job struct {
	JobID     string
	Type      JobType
	Status    JobStatus
	Attempts  int
	NextRunTs time.Time
	Payload   []byte // typed JSON, shape depends on Type
	ErrorText string
	TraceID   string // set when this job is the root of an execution trace
	CreatedTs time.Time
	UpdatedTs time.Time
}

// IngestBlobPayload is the JSON payload carried by an ingest_blob Job.
type IngestBlobPayload struct {
	BlobID    string `json:"blob_id"`
	SHA256    string `json:"sha256"`
	Mime      string `json:"mime"`
	SizeBytes int64  `json:"size_bytes"`
	TraceID   string `json:"trace_id"`
}

// CardMetadata is the structured metadata carried on every MemoryCard.
type CardMetadata struct {
	Mime       string   `json:"mime,omitempty"`
	Pipeline   string   `json:"pipeline,omitempty"`
	FilePath   string   `json:"file_path,omitempty"`
	URL        string   `json:"url,omitempty"`
	ThumbURL   string   `json:"thumb_url,omitempty"`
	MediaURL   string   `json:"media_url,omitempty"`
	Entities   []string `json:"entities,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	Actions    []string `json:"actions,omitempty"`
	SourceType string   `json:"source_type,omitempty"`
	BlobID     string   `json:"blob_id,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// MemoryCard is the atomic unit of knowledge in the system.
type MemoryCard struct {
	MemoryID    string
	Type        string // note, browser_highlight, document, placeholder, ...
	SourceTime  time.Time
	CreatedAt   time.Time
	Summary     string // <= 400 chars
	ContentText string
	Metadata    CardMetadata
	TraceID     string // the trace that produced this card; part of the idempotency key
}

// Modality identifies which embedding space a vector belongs to.
type Modality string

const (
	ModalityText   Modality = "text"
	ModalityVision Modality = "vision"
)

// Embedding references a vector stored in the vector index.
type Embedding struct {
	EmbeddingID string
	MemoryID    string
	Modality    Modality
	VectorRef   string
	Vector      []float32
}

// NodeType enumerates recognized graph node kinds.
type NodeType string

const (
	NodeMemoryCard   NodeType = "MemoryCard"
	NodeEntity       NodeType = "Entity"
	NodePerson       NodeType = "Person"
	NodeOrganization NodeType = "Organization"
	NodeLocation     NodeType = "Location"
	NodeTopic        NodeType = "Topic"
	NodeConcept      NodeType = "Concept"
)

// GraphNode is a node in the knowledge graph. Canonical id namespaces:
// "mem:<memory_id>" for MemoryCard nodes, "ent:<canonical-slug>" for
// extracted entities.
type GraphNode struct {
	NodeID string         `json:"node_id"`
	Type   NodeType       `json:"type"`
	Props  map[string]any `json:"props,omitempty"`
}

// Label returns the node's display label, stored at props["label"].
func (n GraphNode) Label() string {
	if l, ok := n.Props["label"].(string); ok {
		return l
	}
	return ""
}

// EdgeType enumerates recognized graph edge kinds.
type EdgeType string

const (
	EdgeMentions  EdgeType = "MENTIONS"
	EdgeAbout     EdgeType = "ABOUT"
	EdgeRelatedTo EdgeType = "RELATED_TO"
)

// EdgeProvenance records who/what created a GraphEdge and with what confidence.
type EdgeProvenance struct {
	CreatedBy  string  `json:"created_by"`
	Confidence float64 `json:"confidence"`
	TraceID    string  `json:"trace_id"`
}

// GraphEdge is a directed, weighted, time-scoped relationship between two
// graph nodes.
type GraphEdge struct {
	EdgeID     string         `json:"edge_id"`
	From       string         `json:"from"`
	To         string         `json:"to"`
	Type       EdgeType       `json:"type"`
	Weight     float64        `json:"weight"` // in [0,1]
	ValidFrom  time.Time      `json:"valid_from"`
	ValidTo    *time.Time     `json:"valid_to,omitempty"`
	Provenance EdgeProvenance `json:"provenance"`
}

// TraceStatus is the lifecycle state of an ExecTrace.
type TraceStatus string

const (
	TraceRunning   TraceStatus = "running"
	TraceOK        TraceStatus = "ok"
	TraceError     TraceStatus = "error"
	TraceCancelled TraceStatus = "cancelled"
)

// ExecTrace is one top-level operation: an ingest of one blob, or one chat
// request.
type ExecTrace struct {
	TraceID    string
	StartedTs  time.Time
	FinishedTs *time.Time
	Status     TraceStatus
	RootCallID string
	Metadata   map[string]any
}

// ExecNodeState is the lifecycle state of a single tool invocation within a
// trace.
type ExecNodeState string

const (
	ExecPending ExecNodeState = "pending"
	ExecRunning ExecNodeState = "running"
	ExecOK      ExecNodeState = "ok"
	ExecError   ExecNodeState = "error"
	ExecTimeout ExecNodeState = "timeout"
)

// ExecNode is a single tool invocation recorded within an ExecTrace.
type ExecNode struct {
	ExecNodeID string
	TraceID    string
	CallID     string
	State      ExecNodeState
	Attempt    int
	TimeoutMs  int
}

// ExecEdgeCondition governs when an ExecEdge is considered satisfied.
type ExecEdgeCondition string

const (
	CondAlways  ExecEdgeCondition = "always"
	CondOnOK    ExecEdgeCondition = "on_ok"
	CondOnError ExecEdgeCondition = "on_error"
)

// ExecEdge is a dependency between two ExecNodes within the same trace.
type ExecEdge struct {
	FromExecNode string
	ToExecNode   string
	Condition    ExecEdgeCondition
}

// ToolCallStatus mirrors ExecNodeState for the flatter ToolCall ledger.
type ToolCallStatus string

const (
	ToolCallOK    ToolCallStatus = "ok"
	ToolCallError ToolCallStatus = "error"
)

// ToolCall is one registry dispatch, recorded regardless of whether it is
// part of an exec trace.
type ToolCall struct {
	CallID   string
	ToolName string
	Ts       time.Time
	Inputs   []byte // JSON snapshot
	Outputs  []byte // JSON snapshot
	Status   ToolCallStatus
	TraceID  string
}

// Conversation groups an ordered sequence of chat Turns.
type Conversation struct {
	ConversationID string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Title          string
}

// Verdict is the outcome of the verifier tool for a chat Turn.
type Verdict string

const (
	VerdictPass    Verdict = "pass"
	VerdictRevise  Verdict = "revise"
	VerdictAbstain Verdict = "abstain"
)

// Turn is one question/answer exchange within a Conversation.
type Turn struct {
	TurnID         string
	ConversationID string
	UserText       string
	AssistantText  string
	Verdict        Verdict
	TraceID        string
	CitationsJSON  []byte
	EvidenceJSON   []byte
	CreatedAt      time.Time
}

// ChatCitation attributes part of a Turn's answer to a specific MemoryCard.
type ChatCitation struct {
	CitationID string
	TurnID     string
	MemoryID   string
	Quote      string
	SpanStart  int
	SpanEnd    int
}

// SearchQuery is a history log entry for a retrieval request.
type SearchQuery struct {
	SearchID    string
	QueryText   string
	Filters     []byte // JSON snapshot
	ResultCount int
	TraceID     string
	CreatedAt   time.Time
}
