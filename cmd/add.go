package cmd

import (
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path"
	"strings"
	"sync"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/castpull/castpull/internal/catalog"
	"github.com/castpull/castpull/internal/status"
)

var addCmd = &cobra.Command{
	Use:   "add <url> [url...]",
	Short: "Add episodes to the catalog and download them",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		held, err := AcquireLock()
		if err != nil {
			return err
		}
		if !held {
			return fmt.Errorf("another castpull instance is running")
		}
		defer ReleaseLock()

		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.close()

		feed, _ := cmd.Flags().GetString("feed")
		title, _ := cmd.Flags().GetString("title")

		// Terminal-state tracking so we can exit once everything settles.
		// The idle channel only closes after the enqueue loop is done, so
		// a fast first download can't end the wait early.
		var mu sync.Mutex
		var idleOnce sync.Once
		enqueuing := true
		pending := make(map[string]bool)
		idle := make(chan struct{})

		a.manager.Store().Subscribe(func(key string, st status.DownloadStatus) {
			mu.Lock()
			defer mu.Unlock()
			if !pending[key] {
				return
			}
			switch st.State {
			case status.StateRunning:
				if st.TotalBytes > 0 {
					fmt.Printf("\r%s: %s / %s", key[:8],
						humanize.Bytes(uint64(st.BytesReceived)),
						humanize.Bytes(uint64(st.TotalBytes)))
				} else {
					fmt.Printf("\r%s: %s", key[:8], humanize.Bytes(uint64(st.BytesReceived)))
				}
			case status.StateDone:
				fmt.Printf("\r%s: done -> %s\n", key[:8], st.LocalPath)
				delete(pending, key)
			case status.StateFailed:
				fmt.Printf("\r%s: failed: %s\n", key[:8], st.Error)
				delete(pending, key)
			case status.StateCanceled:
				fmt.Printf("\r%s: canceled\n", key[:8])
				delete(pending, key)
			}
			if len(pending) == 0 && !enqueuing {
				idleOnce.Do(func() { close(idle) })
			}
		})

		for _, url := range args {
			epTitle := title
			if epTitle == "" {
				epTitle = titleFromURL(url)
			}
			ep, err := a.catalog.Add(catalog.Episode{
				FeedTitle: orDefault(feed, "Inbox"),
				Title:     epTitle,
				SourceURL: url,
			})
			if err != nil {
				return err
			}
			mu.Lock()
			pending[ep.ID] = true
			mu.Unlock()
			if !a.manager.Enqueue(ep.ID) {
				// Already downloaded; no status event will ever arrive
				mu.Lock()
				delete(pending, ep.ID)
				mu.Unlock()
				st := a.manager.Status(ep.ID)
				fmt.Printf("%s already downloaded -> %s\n", ep.ID[:8], st.LocalPath)
				continue
			}
			fmt.Printf("queued %s (%s)\n", ep.Title, ep.ID[:8])
		}

		mu.Lock()
		enqueuing = false
		if len(pending) == 0 {
			idleOnce.Do(func() { close(idle) })
		}
		mu.Unlock()

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sig)

		select {
		case <-idle:
		case <-sig:
			fmt.Println("\ninterrupted, stopping...")
			a.manager.Stop()
		}
		return nil
	},
}

func init() {
	addCmd.Flags().String("feed", "", "Feed title used for the episode directory")
	addCmd.Flags().String("title", "", "Episode title (defaults to the URL filename)")
	rootCmd.AddCommand(addCmd)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// titleFromURL derives a readable episode title from the URL filename.
func titleFromURL(rawurl string) string {
	parsed, err := url.Parse(rawurl)
	if err != nil || parsed.Path == "" || parsed.Path == "/" {
		return rawurl
	}
	base := path.Base(parsed.Path)
	if ext := path.Ext(base); ext != "" {
		base = strings.TrimSuffix(base, ext)
	}
	if base == "" || base == "." {
		return rawurl
	}
	return base
}
