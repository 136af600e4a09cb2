// Package manager is the public entry point of the download pipeline:
// one background worker draining an ordered queue, with enqueue, priority
// bump and cancel safe to call from any goroutine.
package manager

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/castpull/castpull/internal/catalog"
	"github.com/castpull/castpull/internal/fetch"
	"github.com/castpull/castpull/internal/index"
	"github.com/castpull/castpull/internal/queue"
	"github.com/castpull/castpull/internal/retry"
	"github.com/castpull/castpull/internal/status"
	"github.com/castpull/castpull/internal/utils"
)

// PathResolver maps an episode to its destination file. Implementations
// must be pure except for EnsureUnique's existence probing.
type PathResolver interface {
	BuildPath(baseDir string, ep catalog.Episode) string
	EnsureUnique(path string) string
}

type defaultResolver struct{}

func (defaultResolver) BuildPath(baseDir string, ep catalog.Episode) string {
	return utils.BuildEpisodePath(baseDir, ep.FeedTitle, ep.Title, ep.SourceURL)
}

func (defaultResolver) EnsureUnique(path string) string {
	return utils.EnsureUnique(path)
}

// Config assembles the pipeline. Zero fields take defaults.
type Config struct {
	// DownloadDir is the downloads root, created lazily.
	DownloadDir string

	// IndexPath is where the completed-downloads index lives. Empty
	// disables persistence.
	IndexPath string

	Retry retry.Config
	Fetch fetch.Config

	// Client is the shared HTTP client. Nil builds the default.
	Client *http.Client

	// Resolver overrides the default path construction.
	Resolver PathResolver
}

// Manager owns the worker lifecycle and the registry of live per-job
// cancellation handles.
type Manager struct {
	cfg     Config
	store   *status.Store
	queue   *queue.Queue
	catalog catalog.Resolver
	index   *index.Index
	policy  *retry.Policy
	fetcher *fetch.Fetcher
	client  *http.Client

	lifeMu     sync.Mutex
	stopCancel context.CancelFunc
	workerDone chan struct{}

	regMu   sync.Mutex
	running map[string]context.CancelFunc
}

// New builds a manager over the given catalog. The worker is not started
// until the first Enqueue or an explicit EnsureRunning.
func New(cfg Config, cat catalog.Resolver) *Manager {
	if cfg.Resolver == nil {
		cfg.Resolver = defaultResolver{}
	}
	client := cfg.Client
	if client == nil {
		client = fetch.NewHTTPClient()
	}

	m := &Manager{
		cfg:     cfg,
		store:   status.NewStore(),
		queue:   queue.New(),
		catalog: cat,
		policy:  retry.NewPolicy(cfg.Retry),
		fetcher: fetch.NewFetcher(client, cfg.Fetch),
		client:  client,
		running: make(map[string]context.CancelFunc),
	}

	if cfg.IndexPath != "" {
		m.index = index.New(cfg.IndexPath, m.store, 0)
		m.index.Load()
		m.index.Start()
		m.store.Subscribe(func(key string, st status.DownloadStatus) {
			if st.State == status.StateDone {
				m.index.MarkDirty()
			}
		})
	}

	return m
}

// Store exposes the status store for subscriptions and queries.
func (m *Manager) Store() *status.Store {
	return m.store
}

// GetState returns the current state for key; StateNone if never seen.
func (m *Manager) GetState(key string) status.State {
	return m.store.GetState(key)
}

// Status returns a copy of the full status record for key.
func (m *Manager) Status(key string) status.DownloadStatus {
	return m.store.Get(key)
}

// Enqueue appends key to the pending queue and makes sure the worker is
// alive. Reports whether the job is pending or executing; false means
// the key is already Done with its file still on disk, and no status
// event will follow.
func (m *Manager) Enqueue(key string) bool {
	return m.enqueue(key, false)
}

// ForceFront is Enqueue with priority: the key jumps ahead of the
// backlog. A job already executing is not preempted.
func (m *Manager) ForceFront(key string) bool {
	return m.enqueue(key, true)
}

func (m *Manager) enqueue(key string, front bool) bool {
	st := m.store.Get(key)
	if st.State == status.StateDone && st.LocalPath != "" && fileExists(st.LocalPath) {
		// Restart short-circuit: the work is already on disk
		return false
	}

	m.regMu.Lock()
	_, live := m.running[key]
	m.regMu.Unlock()
	if live {
		// Already executing; don't clobber its visible progress
		return true
	}

	m.store.Update(key, func(st *status.DownloadStatus) {
		st.State = status.StateQueued
		st.BytesReceived = 0
		st.TotalBytes = 0
		st.Error = ""
	})

	if front {
		m.queue.PushFront(key)
	} else {
		m.queue.Push(key)
	}
	m.EnsureRunning()
	return true
}

// Cancel requests cancellation for key. A queued-but-not-started job is
// removed synchronously; a running job is signaled and stops at its next
// I/O checkpoint. Cancel never blocks on the job's actual exit.
func (m *Manager) Cancel(key string) {
	removed := m.queue.Remove(key)

	// The registry lock also covers the window between the worker popping
	// a key and claiming it: a key that is Queued but in neither the
	// queue nor the registry is in that window, and marking it Canceled
	// here makes the claim check below abort it.
	m.regMu.Lock()
	cancel := m.running[key]
	if cancel == nil && (removed || m.store.GetState(key) == status.StateQueued) {
		m.store.Update(key, func(st *status.DownloadStatus) {
			st.State = status.StateCanceled
		})
	}
	m.regMu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// EnsureRunning starts the worker loop if it is not already alive.
// Idempotent; concurrent callers start at most one worker.
func (m *Manager) EnsureRunning() {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()

	if m.workerDone != nil {
		select {
		case <-m.workerDone:
			// Previous worker exited; fall through and start a new one
		default:
			return
		}
	}

	m.queue.Reopen()
	ctx, cancel := context.WithCancel(context.Background())
	m.stopCancel = cancel
	done := make(chan struct{})
	m.workerDone = done

	go m.workerLoop(ctx, done)
}

// Stop signals the worker and every live job to stop, then waits for the
// worker to exit. Pending keys stay Queued; a later EnsureRunning resumes
// them. Safe to call multiple times and from any goroutine.
func (m *Manager) Stop() {
	m.lifeMu.Lock()
	cancel := m.stopCancel
	done := m.workerDone
	m.lifeMu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.queue.Close()

	m.regMu.Lock()
	for _, c := range m.running {
		c()
	}
	m.regMu.Unlock()

	if done != nil {
		<-done
	}
}

// Close stops the worker and releases the index and idle connections.
func (m *Manager) Close() {
	m.Stop()
	if m.index != nil {
		m.index.Close()
	}
	m.client.CloseIdleConnections()
}

func (m *Manager) workerLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		key, ok := m.queue.PopBlocking()
		if !ok {
			return
		}
		if ctx.Err() != nil {
			// Stop raced the pop: put the key back so it stays pending
			m.queue.PushFront(key)
			return
		}
		m.runOne(ctx, key)
	}
}

func (m *Manager) runOne(ctx context.Context, key string) {
	// Claim the job before anything else so Cancel always finds either
	// the queue entry or a live handle. A cancel that landed between the
	// pop and this claim left the key marked Canceled.
	jobCtx, cancel := context.WithCancel(ctx)
	m.regMu.Lock()
	m.running[key] = cancel
	canceled := m.store.GetState(key) == status.StateCanceled
	m.regMu.Unlock()
	defer func() {
		cancel()
		m.regMu.Lock()
		delete(m.running, key)
		m.regMu.Unlock()
	}()
	if canceled {
		return
	}

	ep, err := m.catalog.Resolve(key)
	if err != nil {
		// Data-consistency error, not transient: fail and move on
		m.store.Update(key, func(st *status.DownloadStatus) {
			st.State = status.StateFailed
			st.Error = fmt.Sprintf("cannot resolve episode %q: %v", key, err)
		})
		return
	}

	if st := m.store.Get(key); st.State == status.StateDone && fileExists(st.LocalPath) {
		return
	}

	m.runJob(jobCtx, key, ep)
}

// runJob executes attempts for one episode until success, a fatal error,
// retry exhaustion, or cancellation.
func (m *Manager) runJob(ctx context.Context, key string, ep catalog.Episode) {
	if ep.SourceURL == "" {
		m.store.Update(key, func(st *status.DownloadStatus) {
			st.State = status.StateFailed
			st.Error = "episode has no source URL"
		})
		return
	}

	baseDir := m.cfg.DownloadDir
	dest := m.cfg.Resolver.BuildPath(baseDir, ep)
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		m.store.Update(key, func(st *status.DownloadStatus) {
			st.State = status.StateFailed
			st.Error = fmt.Sprintf("cannot create download directory: %v", err)
		})
		return
	}
	dest = m.cfg.Resolver.EnsureUnique(dest)

	var lastErr error
	for attempt := 0; ; attempt++ {
		m.store.Update(key, func(st *status.DownloadStatus) {
			st.State = status.StateRunning
			st.BytesReceived = 0
			st.LocalPath = dest
			st.Error = ""
		})

		finalPath, err := m.fetcher.Run(ctx, ep.SourceURL, dest, fetch.Events{
			Progress: func(received, total int64) {
				m.store.Update(key, func(st *status.DownloadStatus) {
					st.BytesReceived = received
					st.TotalBytes = total
				})
			},
			Verifying: func() {
				m.store.Update(key, func(st *status.DownloadStatus) {
					st.State = status.StateVerifying
				})
			},
			PathChanged: func(path string) {
				dest = path
				m.store.Update(key, func(st *status.DownloadStatus) {
					st.LocalPath = path
				})
			},
		})

		if err == nil {
			utils.Debug("download complete: %s -> %s", key, finalPath)
			m.store.Update(key, func(st *status.DownloadStatus) {
				st.State = status.StateDone
				st.LocalPath = finalPath
			})
			return
		}

		if errors.Is(err, context.Canceled) {
			m.store.Update(key, func(st *status.DownloadStatus) {
				st.State = status.StateCanceled
			})
			return
		}

		lastErr = err
		delay, retryAgain := m.policy.Decide(attempt, err)
		if !retryAgain {
			utils.Debug("download failed: %s after %d attempt(s): %v", key, attempt+1, err)
			m.store.Update(key, func(st *status.DownloadStatus) {
				st.State = status.StateFailed
				st.Error = failureSummary(attempt+1, lastErr)
			})
			return
		}

		utils.Debug("transient failure for %s (attempt %d), retrying in %s: %v",
			key, attempt+1, delay, err)
		select {
		case <-ctx.Done():
			m.store.Update(key, func(st *status.DownloadStatus) {
				st.State = status.StateCanceled
			})
			return
		case <-time.After(delay):
		}
	}
}

func failureSummary(attempts int, err error) string {
	if attempts > 1 {
		return fmt.Sprintf("failed after %d attempts: %v", attempts, err)
	}
	return err.Error()
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}
