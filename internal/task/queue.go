package task

import (
	"sort"
	"sync"
)

// queued wraps a definition with its submission sequence number, which
// breaks ties within a priority band so draining is deterministic.
type queued struct {
	def *Definition
	seq uint64
}

// Queue is the priority task queue. Heavier priorities drain first; within a
// band, submission order wins.
type Queue struct {
	mu    sync.Mutex
	items []queued
	seq   uint64
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Push enqueues a task.
func (q *Queue) Push(def *Definition) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	q.items = append(q.items, queued{def: def, seq: q.seq})
	sort.SliceStable(q.items, func(i, j int) bool {
		wi, wj := q.items[i].def.Priority.Weight(), q.items[j].def.Priority.Weight()
		if wi != wj {
			return wi > wj
		}
		return q.items[i].seq < q.items[j].seq
	})
}

// Next pops up to k tasks whose dependencies are satisfied according to
// ready. Blocked tasks keep their place in the queue.
func (q *Queue) Next(k int, ready func(*Definition) bool) []*Definition {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*Definition, 0, k)
	rest := q.items[:0]
	for _, item := range q.items {
		if len(out) < k && (ready == nil || ready(item.def)) {
			out = append(out, item.def)
			continue
		}
		rest = append(rest, item)
	}
	q.items = rest
	return out
}

// Peek returns the queued definitions in drain order without removing them.
func (q *Queue) Peek() []*Definition {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*Definition, len(q.items))
	for i, item := range q.items {
		out[i] = item.def
	}
	return out
}

// Remove deletes a task from the queue by ID. Returns true if found.
func (q *Queue) Remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, item := range q.items {
		if item.def.ID == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return true
		}
	}
	return false
}

// Len returns the number of queued tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
