// Package fetch performs one HTTP transfer attempt: stream the body into
// a temp file beside the destination, verify the size, and atomically
// publish the result. Retry decisions live with the caller.
package fetch

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/h2non/filetype"
	"github.com/vfaronov/httpheader"

	"github.com/castpull/castpull/internal/utils"
)

// Config tunes one attempt. Zero fields take the defaults.
type Config struct {
	// AttemptTimeout bounds the entire attempt, headers included.
	AttemptTimeout time.Duration

	// ReadStallTimeout bounds any single body read.
	ReadStallTimeout time.Duration

	// ChunkSize is the streaming copy buffer size.
	ChunkSize int

	// ProgressInterval throttles progress callbacks. The final update of
	// an attempt is always delivered.
	ProgressInterval time.Duration

	UserAgent string
}

// DefaultConfig returns the tuned attempt defaults.
func DefaultConfig() Config {
	return Config{
		AttemptTimeout:   15 * time.Second,
		ReadStallTimeout: 12 * time.Second,
		ChunkSize:        64 * 1024,
		ProgressInterval: 400 * time.Millisecond,
		UserAgent:        "castpull/1.0",
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = d.AttemptTimeout
	}
	if c.ReadStallTimeout <= 0 {
		c.ReadStallTimeout = d.ReadStallTimeout
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = d.ChunkSize
	}
	if c.ProgressInterval <= 0 {
		c.ProgressInterval = d.ProgressInterval
	}
	if c.UserAgent == "" {
		c.UserAgent = d.UserAgent
	}
	return c
}

// Events are the hooks one attempt publishes through. Any field may be
// nil. Callbacks run on the fetching goroutine and must not block.
type Events struct {
	// Progress receives the running byte count. total is 0 when the
	// server sent no Content-Length.
	Progress func(received, total int64)

	// Verifying fires after the stream ends, before the size check.
	Verifying func()

	// PathChanged fires when a Content-Disposition hint or sniffed file
	// type moves the destination, so in-flight status never points at a
	// stale name.
	PathChanged func(path string)
}

// NewHTTPClient builds the process-wide client for sequential episode
// transfers. No client-level timeout: attempts carry their own context
// deadlines, and a global timeout would also kill long healthy streams.
func NewHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:          10,
			MaxIdleConnsPerHost:   4,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
		},
	}
}

// Fetcher performs single transfer attempts over a shared HTTP client.
type Fetcher struct {
	client *http.Client
	cfg    Config
}

func NewFetcher(client *http.Client, cfg Config) *Fetcher {
	if client == nil {
		client = NewHTTPClient()
	}
	return &Fetcher{client: client, cfg: cfg.withDefaults()}
}

// Run executes one attempt: GET sourceURL, stream into destPath+".part",
// verify, rename. Returns the final path, which may differ from destPath
// if a filename hint refined the extension. On any error the temp file is
// removed best-effort and the original error propagates untouched.
func (f *Fetcher) Run(ctx context.Context, sourceURL, destPath string, ev Events) (string, error) {
	attemptCtx, cancelAttempt := context.WithTimeout(ctx, f.cfg.AttemptTimeout)
	defer cancelAttempt()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		// The job ctx takes precedence: a canceled job must never be
		// reported as a network failure.
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &HTTPStatusError{StatusCode: resp.StatusCode}
	}

	var total int64
	if resp.ContentLength > 0 {
		total = resp.ContentLength
	}

	dest := refineFromDisposition(destPath, resp)
	if dest != destPath && ev.PathChanged != nil {
		ev.PathChanged(dest)
	}

	tempPath := dest + utils.PartSuffix
	out, err := os.OpenFile(tempPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return "", err
	}

	received, dest, err := f.stream(ctx, attemptCtx, cancelAttempt, resp, out, dest, total, ev)
	if err != nil {
		out.Close()
		os.Remove(dest + utils.PartSuffix) // best-effort, never masks err
		return "", err
	}

	if ev.Verifying != nil {
		ev.Verifying()
	}
	if total > 0 && received != total {
		out.Close()
		os.Remove(dest + utils.PartSuffix)
		return "", &SizeMismatchError{Got: received, Want: total}
	}

	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(dest + utils.PartSuffix)
		return "", err
	}
	if err := out.Close(); err != nil {
		os.Remove(dest + utils.PartSuffix)
		return "", err
	}

	// Atomic finalize: the canonical path only ever holds a complete file
	if _, err := os.Stat(dest); err == nil {
		if err := os.Remove(dest); err != nil {
			os.Remove(dest + utils.PartSuffix)
			return "", err
		}
	}
	if err := os.Rename(dest+utils.PartSuffix, dest); err != nil {
		os.Remove(dest + utils.PartSuffix)
		return "", err
	}

	return dest, nil
}

// stream copies the body into out in fixed-size chunks with a per-read
// stall watchdog and throttled progress. Returns the byte count and the
// possibly-refined destination path.
func (f *Fetcher) stream(ctx, attemptCtx context.Context, cancelAttempt context.CancelFunc,
	resp *http.Response, out *os.File, dest string, total int64, ev Events) (int64, string, error) {

	// The watchdog cancels the attempt ctx when one read stalls. The flag
	// must be checked before ctx errors so a stall isn't misread as a
	// caller cancellation.
	var stalled atomic.Bool
	watchdog := time.AfterFunc(f.cfg.ReadStallTimeout, func() {
		stalled.Store(true)
		cancelAttempt()
	})
	defer watchdog.Stop()

	buf := make([]byte, f.cfg.ChunkSize)
	var received int64
	var lastPublish time.Time
	sniffed := false

	publish := func(final bool) {
		if ev.Progress == nil {
			return
		}
		if !final && time.Since(lastPublish) < f.cfg.ProgressInterval {
			return
		}
		lastPublish = time.Now()
		ev.Progress(received, total)
	}

	for {
		watchdog.Reset(f.cfg.ReadStallTimeout)
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if !sniffed {
				sniffed = true
				if newDest, changed := refineFromMagic(dest, buf[:n]); changed {
					if err := os.Rename(dest+utils.PartSuffix, newDest+utils.PartSuffix); err == nil {
						dest = newDest
						if ev.PathChanged != nil {
							ev.PathChanged(dest)
						}
					}
				}
			}
			if _, err := out.Write(buf[:n]); err != nil {
				return received, dest, err
			}
			received += int64(n)
			publish(false)
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			switch {
			case stalled.Load():
				return received, dest, &StallError{Timeout: f.cfg.ReadStallTimeout}
			case ctx.Err() != nil:
				return received, dest, ctx.Err()
			case attemptCtx.Err() != nil:
				return received, dest, context.DeadlineExceeded
			default:
				return received, dest, readErr
			}
		}
	}
	watchdog.Stop()

	publish(true)
	return received, dest, nil
}

// refineFromDisposition applies a Content-Disposition filename hint: only
// the extension is taken, the path stem stays under the caller's control.
func refineFromDisposition(destPath string, resp *http.Response) string {
	_, name, err := httpheader.ContentDisposition(resp.Header)
	if err != nil || name == "" {
		return destPath
	}
	hintExt := filepath.Ext(utils.SanitizeFilename(name))
	if hintExt == "" || strings.EqualFold(hintExt, filepath.Ext(destPath)) {
		return destPath
	}
	return strings.TrimSuffix(destPath, filepath.Ext(destPath)) + hintExt
}

// refineFromMagic adds an extension sniffed from the first chunk when the
// destination has none.
func refineFromMagic(dest string, head []byte) (string, bool) {
	if filepath.Ext(dest) != "" {
		return dest, false
	}
	kind, err := filetype.Match(head)
	if err != nil || kind == filetype.Unknown || kind.Extension == "" {
		return dest, false
	}
	return dest + "." + kind.Extension, true
}
