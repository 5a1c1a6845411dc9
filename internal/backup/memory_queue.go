package backup

import (
	"context"
	"sort"
	"sync"

	"github.com/bountyboard/bountyd/internal/bounty"
)

// MemoryQueue is an in-memory Queue intended for unit tests and single-process usage.
// It is safe for concurrent use.
type MemoryQueue struct {
	mu sync.Mutex

	entries         map[string]map[string]string
	pendingCreate   map[string]struct{}
	pendingComplete map[string]struct{}
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		entries:         make(map[string]map[string]string),
		pendingCreate:   make(map[string]struct{}),
		pendingComplete: make(map[string]struct{}),
	}
}

func (q *MemoryQueue) EnqueueCreation(_ context.Context, b bounty.Bounty) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	member := Member(b.ID)
	q.merge(member, encodeCreation(b))
	q.pendingCreate[member] = struct{}{}
	return nil
}

func (q *MemoryQueue) EnqueueCompletion(_ context.Context, c bounty.Completion) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	member := Member(c.BountyID)
	q.merge(member, encodeCompletion(c))
	q.pendingComplete[member] = struct{}{}
	return nil
}

func (q *MemoryQueue) PendingCreationIDs(_ context.Context) ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return sortedKeys(q.pendingCreate), nil
}

func (q *MemoryQueue) PendingCompletionIDs(_ context.Context) ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return sortedKeys(q.pendingComplete), nil
}

func (q *MemoryQueue) LoadCreation(_ context.Context, id string) (bounty.Bounty, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	m, ok := q.entries[id]
	if !ok {
		return bounty.Bounty{}, ErrNotFound
	}
	return decodeCreation(m)
}

func (q *MemoryQueue) LoadCompletion(_ context.Context, id string) (bounty.Completion, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	m, ok := q.entries[id]
	if !ok {
		return bounty.Completion{}, ErrNotFound
	}
	return decodeCompletion(m)
}

func (q *MemoryQueue) ClearCreation(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.drop(id, creationFields)
	delete(q.pendingCreate, id)
	return nil
}

func (q *MemoryQueue) ClearCompletion(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.drop(id, completionFields)
	delete(q.pendingComplete, id)
	return nil
}

// Raw returns a copy of the field map stored for id.
func (q *MemoryQueue) Raw(id string) (map[string]string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	m, ok := q.entries[id]
	if !ok {
		return nil, false
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out, true
}

func (q *MemoryQueue) merge(member string, fields map[string]string) {
	m, ok := q.entries[member]
	if !ok {
		m = make(map[string]string, len(fields))
		q.entries[member] = m
	}
	for k, v := range fields {
		m[k] = v
	}
}

func (q *MemoryQueue) drop(member string, fields []string) {
	m, ok := q.entries[member]
	if !ok {
		return
	}
	for _, f := range fields {
		delete(m, f)
	}
	if len(m) == 0 {
		delete(q.entries, member)
	}
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

var _ Queue = (*MemoryQueue)(nil)
