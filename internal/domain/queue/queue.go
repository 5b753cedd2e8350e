package queue

import (
	"container/heap"
	"sync"
	"time"

	"github.com/scriptdeck/scriptdeck/internal/shared/types"
)

// Item wraps a request waiting for a worker. Ordering key is
// (priority, arrival sequence); positions are derived on demand because
// items ahead may complete or be cancelled at any time.
type Item struct {
	Request    types.Request
	EnqueuedAt time.Time

	seq   uint64
	index int // heap index, -1 once removed
}

// View is a read-only snapshot of a queued item.
type View struct {
	RequestID string        `json:"request_id"`
	Priority  int           `json:"priority"`
	Tags      []string      `json:"tags,omitempty"`
	Position  int           `json:"position"`
	Waiting   time.Duration `json:"waiting"`
}

// Queue is a bounded-free priority queue: capacity enforcement belongs
// to admission, ordering belongs here. Priority 1 is served first; ties
// break by arrival. Safe for concurrent use.
type Queue struct {
	mu   sync.Mutex
	heap itemHeap
	byID map[string]*Item
	seq  uint64
	now  func() time.Time
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{
		byID: make(map[string]*Item),
		now:  time.Now,
	}
}

// Enqueue adds a request and returns its item.
func (q *Queue) Enqueue(req types.Request) *Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.seq++
	item := &Item{
		Request:    req,
		EnqueuedAt: q.now(),
		seq:        q.seq,
	}
	heap.Push(&q.heap, item)
	q.byID[req.ID] = item
	return item
}

// Next removes and returns the highest-precedence item, or nil when the
// queue is empty.
func (q *Queue) Next() *Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.heap.Len() == 0 {
		return nil
	}
	item := heap.Pop(&q.heap).(*Item)
	delete(q.byID, item.Request.ID)
	return item
}

// Remove cancels a still-queued item. Returns false when the request is
// not queued (already dispatched or unknown).
func (q *Queue) Remove(requestID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.byID[requestID]
	if !ok || item.index < 0 {
		return false
	}
	heap.Remove(&q.heap, item.index)
	delete(q.byID, requestID)
	return true
}

// Position derives the current 0-based queue position of a request, or
// -1 when it is not queued. Positions are never cached.
func (q *Queue) Position(requestID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.byID[requestID]
	if !ok {
		return -1
	}

	pos := 0
	for _, other := range q.heap {
		if other != item && before(other, item) {
			pos++
		}
	}
	return pos
}

// Len returns the number of queued items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.heap.Len()
}

// AverageWait returns the mean time current items have been queued.
func (q *Queue) AverageWait() time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.heap.Len() == 0 {
		return 0
	}
	var total time.Duration
	now := q.now()
	for _, item := range q.heap {
		total += now.Sub(item.EnqueuedAt)
	}
	return total / time.Duration(q.heap.Len())
}

// Snapshot returns up to limit items in service order.
func (q *Queue) Snapshot(limit int) []View {
	q.mu.Lock()
	items := make([]*Item, len(q.heap))
	copy(items, q.heap)
	now := q.now()
	q.mu.Unlock()

	sortItems(items)
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}

	views := make([]View, len(items))
	for i, item := range items {
		views[i] = View{
			RequestID: item.Request.ID,
			Priority:  item.Request.Priority,
			Tags:      item.Request.Tags,
			Position:  i,
			Waiting:   now.Sub(item.EnqueuedAt),
		}
	}
	return views
}

// before reports whether a is served before b.
func before(a, b *Item) bool {
	if a.Request.Priority != b.Request.Priority {
		return a.Request.Priority < b.Request.Priority
	}
	return a.seq < b.seq
}

func sortItems(items []*Item) {
	// Insertion sort keeps the snapshot path dependency-free; queues are
	// bounded small by admission.
	for i := 1; i < len(items); i++ {
		for j := i; j > 0 && before(items[j], items[j-1]); j-- {
			items[j], items[j-1] = items[j-1], items[j]
		}
	}
}

type itemHeap []*Item

func (h itemHeap) Len() int           { return len(h) }
func (h itemHeap) Less(i, j int) bool { return before(h[i], h[j]) }

func (h itemHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *itemHeap) Push(x interface{}) {
	item := x.(*Item)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *itemHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}
