package refresh

import "sync"

// key identifies one credential awaiting a retry.
type key struct {
	UserID    string
	ServiceID string
}

// retryQueue is a bounded FIFO with de-duplication. When full, new entries
// are dropped; the proactive sweep will still pick the credential up later.
type retryQueue struct {
	mu      sync.Mutex
	cap     int
	items   []key
	present map[key]bool
}

func newRetryQueue(capacity int) *retryQueue {
	if capacity <= 0 {
		capacity = 128
	}
	return &retryQueue{
		cap:     capacity,
		present: make(map[key]bool),
	}
}

// Push enqueues k. Returns false when k is already queued or the queue is full.
func (q *retryQueue) Push(k key) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.present[k] {
		return false
	}
	if len(q.items) >= q.cap {
		return false
	}
	q.items = append(q.items, k)
	q.present[k] = true
	return true
}

// PopAll drains the queue and returns the entries in FIFO order.
func (q *retryQueue) PopAll() []key {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := q.items
	q.items = nil
	q.present = make(map[key]bool)
	return out
}

// Len returns the number of queued entries.
func (q *retryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
