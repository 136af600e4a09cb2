package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/castpull/castpull/internal/retry"
	"github.com/castpull/castpull/internal/utils"
)

func testFetcher(cfg Config) *Fetcher {
	return NewFetcher(&http.Client{}, cfg)
}

func noPartFiles(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) == utils.PartSuffix {
			t.Errorf("leftover temp file: %s", e.Name())
		}
	}
}

func TestRun_Success(t *testing.T) {
	payload := make([]byte, 1000)
	for i := range payload {
		payload[i] = byte(i)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1000")
		w.Write(payload)
	}))
	defer srv.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "ep1.mp3")

	var lastReceived, lastTotal int64
	sawVerifying := false
	f := testFetcher(Config{ProgressInterval: time.Nanosecond})
	final, err := f.Run(context.Background(), srv.URL, dest, Events{
		Progress: func(received, total int64) {
			lastReceived, lastTotal = received, total
		},
		Verifying: func() { sawVerifying = true },
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if final != dest {
		t.Errorf("final path = %q, want %q", final, dest)
	}
	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("destination missing: %v", err)
	}
	if len(data) != 1000 {
		t.Errorf("wrote %d bytes, want 1000", len(data))
	}
	if lastReceived != 1000 || lastTotal != 1000 {
		t.Errorf("final progress = %d/%d, want 1000/1000", lastReceived, lastTotal)
	}
	if !sawVerifying {
		t.Error("Verifying event never fired")
	}
	noPartFiles(t, dir)
}

func TestRun_TransientStatusCodes(t *testing.T) {
	for _, code := range []int{408, 429, 500, 503} {
		t.Run(fmt.Sprint(code), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(code)
			}))
			defer srv.Close()

			dir := t.TempDir()
			f := testFetcher(Config{})
			_, err := f.Run(context.Background(), srv.URL, filepath.Join(dir, "ep.mp3"), Events{})

			var httpErr *HTTPStatusError
			if !errors.As(err, &httpErr) {
				t.Fatalf("error = %v, want *HTTPStatusError", err)
			}
			if httpErr.StatusCode != code {
				t.Errorf("StatusCode = %d, want %d", httpErr.StatusCode, code)
			}
			if !retry.IsTransient(err) {
				t.Errorf("status %d should be transient", code)
			}
			noPartFiles(t, dir)
		})
	}
}

func TestRun_FatalStatusCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	dir := t.TempDir()
	f := testFetcher(Config{})
	_, err := f.Run(context.Background(), srv.URL, filepath.Join(dir, "ep.mp3"), Events{})

	if err == nil {
		t.Fatal("expected error for 404")
	}
	if retry.IsTransient(err) {
		t.Error("404 must not be transient")
	}
}

func TestRun_SizeMismatchIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Advertise more than we send
		w.Header().Set("Content-Length", "1000")
		w.WriteHeader(http.StatusOK)
		w.Write(make([]byte, 400))
		// Force the connection closed so the client sees a short body
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		panic(http.ErrAbortHandler)
	}))
	defer srv.Close()

	dir := t.TempDir()
	f := testFetcher(Config{})
	_, err := f.Run(context.Background(), srv.URL, filepath.Join(dir, "ep.mp3"), Events{})

	if err == nil {
		t.Fatal("expected error for truncated body")
	}
	if !retry.IsTransient(err) {
		t.Errorf("truncated transfer should be transient, got %v", err)
	}
	noPartFiles(t, dir)
}

func TestRun_CancellationPropagates(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "100000")
		w.WriteHeader(http.StatusOK)
		w.Write(make([]byte, 1000))
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	dir := t.TempDir()
	dest := filepath.Join(dir, "ep.mp3")

	f := testFetcher(Config{ProgressInterval: time.Nanosecond})
	errCh := make(chan error, 1)
	go func() {
		_, err := f.Run(ctx, srv.URL, dest, Events{
			Progress: func(received, total int64) {
				if received > 0 {
					cancel()
				}
			},
		})
		errCh <- err
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("error = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Error("canceled run left a file at the destination")
	}
	noPartFiles(t, dir)
}

func TestRun_StallTriggersWatchdog(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "2000")
		w.WriteHeader(http.StatusOK)
		w.Write(make([]byte, 1000))
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		// Stall past the read timeout
		<-release
	}))
	defer srv.Close()
	defer close(release)

	dir := t.TempDir()
	f := testFetcher(Config{
		AttemptTimeout:   10 * time.Second,
		ReadStallTimeout: 100 * time.Millisecond,
	})
	_, err := f.Run(context.Background(), srv.URL, filepath.Join(dir, "ep.mp3"), Events{})

	var stallErr *StallError
	if !errors.As(err, &stallErr) {
		t.Fatalf("error = %v, want *StallError", err)
	}
	if !retry.IsTransient(err) {
		t.Error("a stall should be transient")
	}
	noPartFiles(t, dir)
}

func TestRun_ContentDispositionRefinesExtension(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Disposition", `attachment; filename="episode.m4a"`)
		w.Header().Set("Content-Length", "4")
		w.Write([]byte("data"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "ep1.mp3")

	var pathChanges []string
	f := testFetcher(Config{})
	final, err := f.Run(context.Background(), srv.URL, dest, Events{
		PathChanged: func(p string) { pathChanges = append(pathChanges, p) },
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := filepath.Join(dir, "ep1.m4a")
	if final != want {
		t.Errorf("final path = %q, want %q", final, want)
	}
	if len(pathChanges) != 1 || pathChanges[0] != want {
		t.Errorf("PathChanged events = %v, want [%q]", pathChanges, want)
	}
	if _, err := os.Stat(want); err != nil {
		t.Error("refined destination missing")
	}
	noPartFiles(t, dir)
}

func TestRun_ReplacesExistingDestination(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("fresh content"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "ep1.mp3")
	if err := os.WriteFile(dest, []byte("stale"), 0644); err != nil {
		t.Fatal(err)
	}

	f := testFetcher(Config{})
	if _, err := f.Run(context.Background(), srv.URL, dest, Events{}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	data, _ := os.ReadFile(dest)
	if string(data) != "fresh content" {
		t.Errorf("destination = %q, want replaced content", data)
	}
}
