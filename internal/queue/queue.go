// Package queue provides the ordered pending-job queue shared between
// enqueueing callers and the single download worker.
package queue

import "sync"

// Queue is a thread-safe FIFO of job keys. Enqueue is idempotent: a key
// already pending is never duplicated. The blocking pop wakes on every
// push and on Close.
type Queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	keys   []string
	closed bool
}

func New() *Queue {
	q := &Queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends key unless it is already pending. Returns true if the key
// was added.
func (q *Queue) Push(key string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.indexOf(key) != -1 {
		return false
	}
	q.keys = append(q.keys, key)
	q.cond.Signal()
	return true
}

// PushFront moves key to the head of the queue, removing any existing
// occurrence first. Used for user-requested priority bumps.
func (q *Queue) PushFront(key string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if i := q.indexOf(key); i != -1 {
		q.keys = append(q.keys[:i], q.keys[i+1:]...)
	}
	q.keys = append([]string{key}, q.keys...)
	q.cond.Signal()
}

// Remove deletes key if still pending and reports whether it was there.
// A false return does not mean the job isn't running; the cancel path
// must check the live registry independently.
func (q *Queue) Remove(key string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	i := q.indexOf(key)
	if i == -1 {
		return false
	}
	q.keys = append(q.keys[:i], q.keys[i+1:]...)
	return true
}

// PopBlocking waits until a key is available or the queue is closed.
// Returns ok=false only on close with nothing pending.
func (q *Queue) PopBlocking() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.keys) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.keys) == 0 {
		return "", false
	}
	key := q.keys[0]
	q.keys = q.keys[1:]
	return key, true
}

// Close wakes all blocked pops. Pending keys stay queued so a reopened
// worker can drain them later.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
}

// Reopen clears the closed flag after a Close, allowing PopBlocking to
// wait again.
func (q *Queue) Reopen() {
	q.mu.Lock()
	q.closed = false
	q.mu.Unlock()
}

// Len returns the number of pending keys.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.keys)
}

// Pending returns a copy of the queued keys in pop order.
func (q *Queue) Pending() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, len(q.keys))
	copy(out, q.keys)
	return out
}

// caller must hold q.mu
func (q *Queue) indexOf(key string) int {
	for i, k := range q.keys {
		if k == key {
			return i
		}
	}
	return -1
}
