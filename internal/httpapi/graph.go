package httpapi

import (
	"net/http"

	"github.com/echogarden-io/echogarden/internal/apperr"
	"github.com/echogarden-io/echogarden/pkg/store"
)

type graphUpsertRequest struct {
	Nodes []store.GraphNode `json:"nodes"`
	Edges []store.GraphEdge `json:"edges"`
}

func (s *Server) graphUpsert(w http.ResponseWriter, r *http.Request) {
	var req graphUpsertRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, apperr.Wrap(apperr.InvalidInput, "decode request body", err))
		return
	}
	nodeCount, edgeCount, err := s.graph.Upsert(r.Context(), req.Nodes, req.Edges)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.Internal, "graph upsert", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"nodes_upserted": nodeCount, "edges_upserted": edgeCount})
}

func (s *Server) graphQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	nodeID := q.Get("node_id")
	if nodeID == "" {
		writeError(w, apperr.New(apperr.InvalidInput, "node_id is required"))
		return
	}
	node, ok, err := s.store.Graph().GetNode(r.Context(), nodeID)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.Internal, "graph query", err))
		return
	}
	if !ok {
		writeNotFound(w, "node")
		return
	}
	writeJSON(w, http.StatusOK, node)
}

type graphExpandRequest struct {
	Seeds     []string            `json:"seeds"`
	Hops      int                 `json:"hops"`
	Direction store.EdgeDirection `json:"direction"`
	EdgeTypes []store.EdgeType    `json:"edge_types"`
	MaxNodes  int                 `json:"max_nodes"`
	MaxEdges  int                 `json:"max_edges"`
}

func (s *Server) graphExpand(w http.ResponseWriter, r *http.Request) {
	var req graphExpandRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, apperr.Wrap(apperr.InvalidInput, "decode request body", err))
		return
	}
	if len(req.Seeds) == 0 {
		writeError(w, apperr.New(apperr.InvalidInput, "seeds must not be empty"))
		return
	}
	hops := req.Hops
	if hops <= 0 {
		hops = 1
	}
	maxNodes := req.MaxNodes
	if maxNodes <= 0 {
		maxNodes = 100
	}
	maxEdges := req.MaxEdges
	if maxEdges <= 0 {
		maxEdges = 200
	}
	direction := req.Direction
	if direction == "" {
		direction = store.DirBoth
	}

	sub, err := s.graph.Expand(r.Context(), store.ExpandQuery{
		Seeds:     req.Seeds,
		Hops:      hops,
		Direction: direction,
		EdgeTypes: req.EdgeTypes,
		MaxNodes:  maxNodes,
		MaxEdges:  maxEdges,
	})
	if err != nil {
		writeError(w, apperr.Wrap(apperr.Internal, "graph expand", err))
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

// graphSubgraph is an alias for /graph/expand that reads seeds from the
// query string, convenient for GET-only clients (e.g. a browser devtools
// panel) that cannot send a JSON body.
func (s *Server) graphSubgraph(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	seed := q.Get("seed")
	if seed == "" {
		writeError(w, apperr.New(apperr.InvalidInput, "seed is required"))
		return
	}
	sub, err := s.graph.Expand(r.Context(), store.ExpandQuery{
		Seeds:     []string{seed},
		Hops:      atoiDefault(q.Get("hops"), 1),
		Direction: store.DirBoth,
		MaxNodes:  atoiDefault(q.Get("max_nodes"), 100),
		MaxEdges:  atoiDefault(q.Get("max_edges"), 200),
	})
	if err != nil {
		writeError(w, apperr.Wrap(apperr.Internal, "graph subgraph", err))
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (s *Server) graphSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := q.Get("q")
	if query == "" {
		writeError(w, apperr.New(apperr.InvalidInput, "q is required"))
		return
	}
	nodeType := store.NodeType(q.Get("node_type"))
	limit := atoiDefault(q.Get("limit"), 20)

	nodes, err := s.graph.Search(r.Context(), query, nodeType, limit)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.Internal, "graph search", err))
		return
	}
	writeJSON(w, http.StatusOK, nodes)
}

func (s *Server) graphNeighbors(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	nodeID := q.Get("node_id")
	if nodeID == "" {
		writeError(w, apperr.New(apperr.InvalidInput, "node_id is required"))
		return
	}
	direction := store.EdgeDirection(q.Get("direction"))
	if direction == "" {
		direction = store.DirBoth
	}
	limit := atoiDefault(q.Get("limit"), 50)

	sub, err := s.graph.Neighbors(r.Context(), nodeID, direction, limit)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.Internal, "graph neighbors", err))
		return
	}
	writeJSON(w, http.StatusOK, sub)
}
