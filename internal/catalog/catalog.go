// Package catalog is the episode library the download pipeline resolves
// job keys against. The pipeline only depends on the Resolver interface;
// the sqlite store is the production implementation.
package catalog

import (
	"errors"
	"time"
)

// ErrNotFound reports an unknown episode key. The pipeline treats it as
// fatal for the job, never transient.
var ErrNotFound = errors.New("catalog: episode not found")

// Episode is one downloadable item.
type Episode struct {
	ID         string
	FeedTitle  string
	Title      string
	SourceURL  string
	Downloaded bool
	LocalPath  string
	AddedAt    time.Time
}

// Resolver maps a stable job key to its episode.
type Resolver interface {
	Resolve(key string) (Episode, error)
}
