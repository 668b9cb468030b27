package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/echogarden-io/echogarden/pkg/store"
)

type jobRepo struct{ s *Store }

func (r jobRepo) Enqueue(ctx context.Context, jobType store.JobType, payload []byte, traceID string) (store.Job, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	now := time.Now()
	job := store.Job{
		JobID:     r.s.nextID("job"),
		Type:      jobType,
		Status:    store.JobQueued,
		Payload:   payload,
		TraceID:   traceID,
		NextRunTs: now,
		CreatedTs: now,
		UpdatedTs: now,
	}
	r.s.jobs[job.JobID] = job
	return job, nil
}

// Lease picks the oldest due job deterministically (by CreatedTs, tie-break
// by JobID) to match the FIFO-per-type guarantee the storage layer promises.
func (r jobRepo) Lease(ctx context.Context, workerID string, types []store.JobType, now time.Time) (store.Job, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	allowed := map[store.JobType]bool{}
	for _, t := range types {
		allowed[t] = true
	}

	var candidates []store.Job
	for _, j := range r.s.jobs {
		if len(allowed) > 0 && !allowed[j.Type] {
			continue
		}
		if j.Status != store.JobQueued && j.Status != store.JobError {
			continue
		}
		if j.NextRunTs.After(now) {
			continue
		}
		candidates = append(candidates, j)
	}
	if len(candidates) == 0 {
		return store.Job{}, false, nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].CreatedTs.Equal(candidates[j].CreatedTs) {
			return candidates[i].CreatedTs.Before(candidates[j].CreatedTs)
		}
		return candidates[i].JobID < candidates[j].JobID
	})

	picked := candidates[0]
	picked.Status = store.JobRunning
	picked.UpdatedTs = now
	r.s.jobs[picked.JobID] = picked
	return picked, true, nil
}

func (r jobRepo) Complete(ctx context.Context, jobID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	j, ok := r.s.jobs[jobID]
	if !ok {
		return fmt.Errorf("memstore: job %q not found", jobID)
	}
	j.Status = store.JobDone
	j.UpdatedTs = time.Now()
	r.s.jobs[jobID] = j
	return nil
}

func (r jobRepo) Fail(ctx context.Context, jobID string, errText string, nextRunTs time.Time, status store.JobStatus, attempts int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	j, ok := r.s.jobs[jobID]
	if !ok {
		return fmt.Errorf("memstore: job %q not found", jobID)
	}
	j.Status = status
	j.ErrorText = errText
	j.NextRunTs = nextRunTs
	j.Attempts = attempts
	j.UpdatedTs = time.Now()
	r.s.jobs[jobID] = j
	return nil
}

func (r jobRepo) Get(ctx context.Context, jobID string) (store.Job, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	j, ok := r.s.jobs[jobID]
	if !ok {
		return store.Job{}, fmt.Errorf("memstore: job %q not found", jobID)
	}
	return j, nil
}

func (r jobRepo) List(ctx context.Context, status store.JobStatus, limit int) ([]store.Job, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var all []store.Job
	for _, j := range r.s.jobs {
		if status != "" && j.Status != status {
			continue
		}
		all = append(all, j)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedTs.After(all[j].CreatedTs) })
	return paginate(all, 0, limit), nil
}

// conversations

type conversationRepo struct{ s *Store }

func (r conversationRepo) GetOrCreate(ctx context.Context, conversationID string) (store.Conversation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if conversationID != "" {
		if c, ok := r.s.conversations[conversationID]; ok {
			return c, nil
		}
	}
	now := time.Now()
	c := store.Conversation{
		ConversationID: conversationID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if c.ConversationID == "" {
		c.ConversationID = r.s.nextID("conv")
	}
	r.s.conversations[c.ConversationID] = c
	return c, nil
}

func (r conversationRepo) AppendTurn(ctx context.Context, turn store.Turn, citations []store.ChatCitation) (store.Turn, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if turn.TurnID == "" {
		turn.TurnID = r.s.nextID("turn")
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}
	r.s.turns[turn.ConversationID] = append(r.s.turns[turn.ConversationID], turn)

	for i := range citations {
		if citations[i].CitationID == "" {
			citations[i].CitationID = r.s.nextID("cite")
		}
		citations[i].TurnID = turn.TurnID
	}
	r.s.citations[turn.TurnID] = citations

	if c, ok := r.s.conversations[turn.ConversationID]; ok {
		c.UpdatedAt = turn.CreatedAt
		r.s.conversations[turn.ConversationID] = c
	}
	return turn, nil
}

func (r conversationRepo) ListConversations(ctx context.Context, limit int) ([]store.Conversation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var all []store.Conversation
	for _, c := range r.s.conversations {
		all = append(all, c)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].UpdatedAt.After(all[j].UpdatedAt) })
	return paginate(all, 0, limit), nil
}

func (r conversationRepo) GetConversation(ctx context.Context, conversationID string) (store.Conversation, []store.Turn, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c, ok := r.s.conversations[conversationID]
	if !ok {
		return store.Conversation{}, nil, fmt.Errorf("memstore: conversation %q not found", conversationID)
	}
	return c, r.s.turns[conversationID], nil
}

// search history

type searchHistoryRepo struct{ s *Store }

func (r searchHistoryRepo) Record(ctx context.Context, q store.SearchQuery) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if q.SearchID == "" {
		q.SearchID = r.s.nextID("search")
	}
	if q.CreatedAt.IsZero() {
		q.CreatedAt = time.Now()
	}
	r.s.searchHistory = append(r.s.searchHistory, q)
	return nil
}

func (r searchHistoryRepo) Recent(ctx context.Context, limit int) ([]store.SearchQuery, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []store.SearchQuery
	for i := len(r.s.searchHistory) - 1; i >= 0; i-- {
		out = append(out, r.s.searchHistory[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// marshalFilters snapshots a filter struct into the JSON blob
// SearchQuery.Filters expects, returning "{}" when v cannot be marshalled.
func marshalFilters(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return b
}
