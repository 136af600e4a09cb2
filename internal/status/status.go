// Package status holds the per-episode download status records and the
// store that all pipeline components read and write through.
package status

import (
	"sync"
	"time"
)

// State is the lifecycle position of one download job.
type State int

const (
	StateNone State = iota
	StateQueued
	StateRunning
	StateVerifying
	StateDone
	StateFailed
	StateCanceled
)

func (s State) String() string {
	switch s {
	case StateQueued:
		return "queued"
	case StateRunning:
		return "running"
	case StateVerifying:
		return "verifying"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	case StateCanceled:
		return "canceled"
	default:
		return "none"
	}
}

// IsTerminal reports whether no further transitions happen without a
// fresh enqueue.
func (s State) IsTerminal() bool {
	return s == StateDone || s == StateFailed || s == StateCanceled
}

// DownloadStatus is the mutable record kept per job key. Callers always
// receive copies; only the store mutates the canonical record.
type DownloadStatus struct {
	Key           string
	State         State
	BytesReceived int64
	TotalBytes    int64 // 0 when the server sent no Content-Length
	LocalPath     string
	Error         string
	UpdatedAt     time.Time
}

// Listener receives a copy of the status after each mutation. Listeners
// run on the mutating goroutine and must not block.
type Listener func(key string, st DownloadStatus)

// Store is the in-memory status map. Records are created on first write
// and never deleted, so a query after completion stays meaningful.
type Store struct {
	mu        sync.RWMutex
	statuses  map[string]*DownloadStatus
	listenMu  sync.RWMutex
	listeners []Listener
}

func NewStore() *Store {
	return &Store{statuses: make(map[string]*DownloadStatus)}
}

// Subscribe registers a listener for every subsequent mutation.
func (s *Store) Subscribe(l Listener) {
	s.listenMu.Lock()
	s.listeners = append(s.listeners, l)
	s.listenMu.Unlock()
}

// Update applies fn to the record for key under the lock, stamps
// UpdatedAt, and notifies listeners after the lock is released. A record
// is created on first use.
func (s *Store) Update(key string, fn func(st *DownloadStatus)) DownloadStatus {
	s.mu.Lock()
	st, ok := s.statuses[key]
	if !ok {
		st = &DownloadStatus{Key: key}
		s.statuses[key] = st
	}
	fn(st)
	st.UpdatedAt = time.Now()
	snapshot := *st
	s.mu.Unlock()

	// Never notify while holding the lock: a subscriber may call back
	// into the store.
	s.notify(key, snapshot)
	return snapshot
}

func (s *Store) notify(key string, st DownloadStatus) {
	s.listenMu.RLock()
	ls := s.listeners
	s.listenMu.RUnlock()
	for _, l := range ls {
		l(key, st)
	}
}

// Get returns a copy of the record for key. Unknown keys report
// StateNone.
func (s *Store) Get(key string) DownloadStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if st, ok := s.statuses[key]; ok {
		return *st
	}
	return DownloadStatus{Key: key, State: StateNone}
}

// GetState returns just the state for key.
func (s *Store) GetState(key string) State {
	return s.Get(key).State
}

// Snapshot returns copies of every record, in no particular order.
func (s *Store) Snapshot() []DownloadStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]DownloadStatus, 0, len(s.statuses))
	for _, st := range s.statuses {
		out = append(out, *st)
	}
	return out
}

// Restore seeds a completed record without firing listeners. Used when
// loading the persisted index at startup.
func (s *Store) Restore(key, localPath string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.statuses[key]; ok {
		return
	}
	s.statuses[key] = &DownloadStatus{
		Key:       key,
		State:     StateDone,
		LocalPath: localPath,
		UpdatedAt: time.Now(),
	}
}
