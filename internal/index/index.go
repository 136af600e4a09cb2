// Package index persists the set of completed downloads so a restarted
// process recognizes them without re-downloading. The file is a derived
// cache: corrupt or missing, it is rebuilt empty, never an error.
package index

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/castpull/castpull/internal/status"
	"github.com/castpull/castpull/internal/utils"
)

const schemaVersion = 1

// Entry records one completed download.
type Entry struct {
	Key       string `json:"key"`
	LocalPath string `json:"localPath"`
}

type indexFile struct {
	SchemaVersion int     `json:"schemaVersion"`
	Items         []Entry `json:"items"`
}

// Index debounces completion events into atomic snapshot writes of the
// index file. One background writer; MarkDirty may be called from any
// goroutine.
type Index struct {
	path     string
	store    *status.Store
	debounce time.Duration

	dirty chan struct{}
	stop  chan struct{}
	done  chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once

	// renameFn is swappable so tests can fail between temp write and
	// replace.
	renameFn func(oldpath, newpath string) error
}

// New creates an index persisting to path, reading completed entries
// from store. debounce <= 0 uses the 800ms default.
func New(path string, store *status.Store, debounce time.Duration) *Index {
	if debounce <= 0 {
		debounce = 800 * time.Millisecond
	}
	return &Index{
		path:     path,
		store:    store,
		debounce: debounce,
		dirty:    make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		renameFn: os.Rename,
	}
}

// Load restores completed entries into the status store. Entries whose
// file no longer exists are skipped. A missing, unreadable or corrupt
// index yields an empty restore without error.
func (ix *Index) Load() int {
	data, err := os.ReadFile(ix.path)
	if err != nil {
		return 0
	}
	var f indexFile
	if err := json.Unmarshal(data, &f); err != nil {
		utils.Debug("index: discarding corrupt index file: %v", err)
		return 0
	}

	restored := 0
	for _, e := range f.Items {
		if e.Key == "" || e.LocalPath == "" {
			continue
		}
		if _, err := os.Stat(e.LocalPath); err != nil {
			continue
		}
		ix.store.Restore(e.Key, e.LocalPath)
		restored++
	}
	return restored
}

// Start launches the background writer. Idempotent.
func (ix *Index) Start() {
	ix.startOnce.Do(func() {
		go ix.run()
	})
}

// MarkDirty schedules a flush after the quiet period. Bursts coalesce
// into one write.
func (ix *Index) MarkDirty() {
	select {
	case ix.dirty <- struct{}{}:
	default:
	}
}

// Close stops the writer, flushing once if a write is pending. Safe to
// call multiple times.
func (ix *Index) Close() {
	ix.stopOnce.Do(func() {
		close(ix.stop)
	})
	ix.startOnce.Do(func() {
		// Never started: nothing to wait for
		close(ix.done)
	})
	<-ix.done
}

func (ix *Index) run() {
	defer close(ix.done)

	var timer *time.Timer
	var timerC <-chan time.Time
	pending := false

	for {
		select {
		case <-ix.stop:
			if pending {
				if err := ix.Flush(); err != nil {
					utils.Debug("index: final flush failed: %v", err)
				}
			}
			return
		case <-ix.dirty:
			pending = true
			if timer == nil {
				timer = time.NewTimer(ix.debounce)
				timerC = timer.C
			} else {
				// A new completion before the quiet period elapses simply
				// reschedules the write
				timer.Reset(ix.debounce)
			}
		case <-timerC:
			timer = nil
			timerC = nil
			pending = false
			if err := ix.Flush(); err != nil {
				utils.Debug("index: flush failed: %v", err)
			}
		}
	}
}

// Flush serializes the current snapshot of completed jobs whose file
// still exists, writes it to a temp file and atomically replaces the
// index. A crash mid-flush leaves the old index intact.
func (ix *Index) Flush() error {
	f := indexFile{SchemaVersion: schemaVersion}
	for _, st := range ix.store.Snapshot() {
		if st.State != status.StateDone || st.LocalPath == "" {
			continue
		}
		if _, err := os.Stat(st.LocalPath); err != nil {
			continue
		}
		f.Items = append(f.Items, Entry{Key: st.Key, LocalPath: st.LocalPath})
	}

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal index: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(ix.path), 0755); err != nil {
		return err
	}
	tempPath := ix.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write index temp file: %w", err)
	}
	if err := ix.renameFn(tempPath, ix.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace index: %w", err)
	}
	return nil
}
