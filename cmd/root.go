package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/castpull/castpull/internal/catalog"
	"github.com/castpull/castpull/internal/config"
	"github.com/castpull/castpull/internal/fetch"
	"github.com/castpull/castpull/internal/manager"
	"github.com/castpull/castpull/internal/retry"
	"github.com/castpull/castpull/internal/status"
	"github.com/castpull/castpull/internal/utils"
)

// Version information - set via ldflags during build
var (
	Version   = "dev"
	BuildTime = "unknown"
)

var rootCmd = &cobra.Command{
	Use:     "castpull",
	Short:   "A resilient podcast episode downloader",
	Long:    `Castpull downloads podcast episodes one at a time, retries flaky transfers, and never leaves a half-written file at the destination.`,
	Version: Version,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("output", "o", "", "Downloads root directory (defaults to settings)")
}

// app bundles the shared backend the subcommands run against.
type app struct {
	settings config.Settings
	catalog  *catalog.Store
	manager  *manager.Manager
}

// openApp initializes config dirs, the catalog DB and the download
// manager. Callers must closeApp when done.
func openApp(cmd *cobra.Command) (*app, error) {
	if err := config.EnsureDirs(); err != nil {
		return nil, err
	}

	settings := config.LoadSettings()
	utils.SetDebug(settings.Debug)

	if out, _ := cmd.Flags().GetString("output"); out != "" {
		settings.DownloadDir = out
	}

	cat, err := catalog.Open(filepath.Join(config.GetStateDir(), "catalog.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}

	mgr := manager.New(manager.Config{
		DownloadDir: settings.DownloadDir,
		IndexPath:   filepath.Join(config.GetStateDir(), "downloads.json"),
		Retry: retry.Config{
			MaxRetries: settings.MaxRetries,
			BaseDelay:  retry.DefaultConfig().BaseDelay,
			MaxDelay:   retry.DefaultConfig().MaxDelay,
			MaxJitter:  retry.DefaultConfig().MaxJitter,
		},
		Fetch: fetch.Config{
			AttemptTimeout:   settings.AttemptTimeout(),
			ReadStallTimeout: settings.ReadStallTimeout(),
		},
	}, cat)

	// Mirror completions into the catalog's downloaded flag
	mgr.Store().Subscribe(func(key string, st status.DownloadStatus) {
		if st.State == status.StateDone {
			if err := cat.MarkDownloaded(key, st.LocalPath); err != nil {
				utils.Debug("failed to flag episode %s downloaded: %v", key, err)
			}
		}
	})

	return &app{settings: settings, catalog: cat, manager: mgr}, nil
}

func (a *app) close() {
	a.manager.Close()
	a.catalog.Close()
}
