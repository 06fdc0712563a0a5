package core

import (
	"cmp"
	"container/heap"
	"fmt"
	"slices"
)

const defaultQueueCap = 16

// QueueKind selects the ReadyQueue implementation used by a Scheduler.
type QueueKind string

const (
	// QueueCircular is the circular doubly-linked ready queue (default).
	QueueCircular QueueKind = "circular"
	// QueueHeap is the stable min-heap ready queue.
	QueueHeap QueueKind = "heap"
)

// NewReadyQueue returns an empty queue of the given kind. An empty kind
// selects QueueCircular.
func NewReadyQueue(kind QueueKind) (ReadyQueue, error) {
	switch kind {
	case QueueCircular, "":
		return NewCircularReadyQueue(), nil
	case QueueHeap:
		return NewPriorityReadyQueue(), nil
	default:
		return nil, fmt.Errorf("%w: unknown queue kind %q", ErrInvalidConfig, kind)
	}
}

// ReadyQueue holds threads that are runnable but not executing.
//
// Implementations are not safe for concurrent use; the Scheduler guards
// them with its own lock. All implementations select the numerically
// smallest priority and break ties in favour of the oldest insertion.
type ReadyQueue interface {
	Insert(t *Thread)
	SelectHighestPriority() (*Thread, bool)
	Len() int
	Drain() []*Thread // Remove everything, oldest first
}

// =============================================================================
// CircularReadyQueue: circular doubly-linked chain over an index-stable arena
// =============================================================================

type readyNode struct {
	thread *Thread
	prev   int
	next   int
}

// CircularReadyQueue links queued threads in a circle anchored at head.
// Following next from head visits threads oldest to newest, following prev
// visits them newest to oldest. Node slots are recycled through a free list
// so indices stay stable while a thread is queued.
type CircularReadyQueue struct {
	nodes []readyNode
	free  []int
	head  int
	size  int
}

func NewCircularReadyQueue() *CircularReadyQueue {
	return &CircularReadyQueue{
		nodes: make([]readyNode, 0, defaultQueueCap),
		head:  -1,
	}
}

// Insert links t in as the newest node, just behind head.
func (q *CircularReadyQueue) Insert(t *Thread) {
	idx := q.allocNode(t)

	if q.size == 0 {
		q.head = idx
		q.nodes[idx].prev = idx
		q.nodes[idx].next = idx
	} else {
		tail := q.nodes[q.head].prev
		q.nodes[idx].prev = tail
		q.nodes[idx].next = q.head
		q.nodes[tail].next = idx
		q.nodes[q.head].prev = idx
	}
	q.size++
}

// SelectHighestPriority unlinks and returns the thread with the smallest
// priority value. The scan starts at the oldest node and only moves on a
// strictly smaller value, so the oldest of several equal minima wins.
func (q *CircularReadyQueue) SelectHighestPriority() (*Thread, bool) {
	if q.size == 0 {
		return nil, false
	}

	best := q.head
	for cur := q.nodes[q.head].next; cur != q.head; cur = q.nodes[cur].next {
		if q.nodes[cur].thread.priority < q.nodes[best].thread.priority {
			best = cur
		}
	}

	return q.unlink(best), true
}

func (q *CircularReadyQueue) Len() int {
	return q.size
}

// Drain unlinks every queued thread and returns them oldest first.
func (q *CircularReadyQueue) Drain() []*Thread {
	if q.size == 0 {
		return nil
	}
	out := make([]*Thread, 0, q.size)
	for q.size > 0 {
		out = append(out, q.unlink(q.head))
	}
	q.nodes = make([]readyNode, 0, defaultQueueCap)
	q.free = nil
	return out
}

// Walk calls fn for each queued thread from oldest to newest until fn
// returns false. It returns the number of nodes visited.
func (q *CircularReadyQueue) Walk(fn func(t *Thread) bool) int {
	if q.size == 0 {
		return 0
	}
	visited := 0
	cur := q.head
	for {
		visited++
		if !fn(q.nodes[cur].thread) {
			return visited
		}
		cur = q.nodes[cur].next
		if cur == q.head {
			return visited
		}
	}
}

func (q *CircularReadyQueue) allocNode(t *Thread) int {
	if n := len(q.free); n > 0 {
		idx := q.free[n-1]
		q.free = q.free[:n-1]
		q.nodes[idx] = readyNode{thread: t}
		return idx
	}
	q.nodes = append(q.nodes, readyNode{thread: t})
	return len(q.nodes) - 1
}

func (q *CircularReadyQueue) unlink(idx int) *Thread {
	n := q.nodes[idx]

	if q.size == 1 {
		q.head = -1
	} else {
		q.nodes[n.prev].next = n.next
		q.nodes[n.next].prev = n.prev
		if idx == q.head {
			q.head = n.next
		}
	}
	q.size--

	// Zero out the slot to release the thread reference
	q.nodes[idx] = readyNode{prev: -1, next: -1}
	q.free = append(q.free, idx)
	return n.thread
}

// =============================================================================
// PriorityReadyQueue: Min-Heap based queue with Stability (FIFO for same priority)
// =============================================================================

type priorityItem struct {
	thread   *Thread
	sequence uint64 // For stability
	index    int    // For heap
}

// priorityHeap implements heap.Interface
type priorityHeap []*priorityItem

func (h priorityHeap) Len() int { return len(h) }

// Less: smaller priority value first, then smaller sequence first (FIFO)
func (h priorityHeap) Less(i, j int) bool {
	if h[i].thread.priority != h[j].thread.priority {
		return h[i].thread.priority < h[j].thread.priority
	}
	return h[i].sequence < h[j].sequence
}

func (h priorityHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *priorityHeap) Push(x any) {
	item := x.(*priorityItem)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *priorityHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil // Avoid memory leak
	item.index = -1
	*h = old[0 : n-1]
	return item
}

// PriorityReadyQueue keys threads by (priority, insertion sequence). A
// thread's priority is only changed while it is active, never while it is
// queued, so heap order stays valid.
type PriorityReadyQueue struct {
	pq           priorityHeap
	nextSequence uint64
}

func NewPriorityReadyQueue() *PriorityReadyQueue {
	return &PriorityReadyQueue{
		pq: make(priorityHeap, 0, defaultQueueCap),
	}
}

func (q *PriorityReadyQueue) Insert(t *Thread) {
	heap.Push(&q.pq, &priorityItem{thread: t, sequence: q.nextSequence})
	q.nextSequence++
}

func (q *PriorityReadyQueue) SelectHighestPriority() (*Thread, bool) {
	if len(q.pq) == 0 {
		return nil, false
	}
	item := heap.Pop(&q.pq).(*priorityItem)
	return item.thread, true
}

func (q *PriorityReadyQueue) Len() int {
	return len(q.pq)
}

// Drain removes all threads, oldest insertion first.
func (q *PriorityReadyQueue) Drain() []*Thread {
	if len(q.pq) == 0 {
		return nil
	}
	items := make([]*priorityItem, len(q.pq))
	copy(items, q.pq)
	slices.SortFunc(items, func(a, b *priorityItem) int {
		return cmp.Compare(a.sequence, b.sequence)
	})
	out := make([]*Thread, len(items))
	for i, item := range items {
		out[i] = item.thread
	}
	q.pq = make(priorityHeap, 0, defaultQueueCap)
	return out
}
