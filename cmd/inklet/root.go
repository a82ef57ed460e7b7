package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/inklet/inklet/internal/api"
	"github.com/inklet/inklet/internal/config"
	"github.com/inklet/inklet/internal/daemon"
	"github.com/inklet/inklet/internal/note"
	"github.com/inklet/inklet/internal/storage"
	"github.com/inklet/inklet/internal/syncer"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "inklet",
	Short: "Markdown workspace sync",
	Long: `inklet keeps a directory of markdown documents in sync with an
inklet server and with other inklet processes on the same machine.

Documents live as plain *.md files in the workspace directory. Local
edits are detected, queued durably, and pushed to the server with
retries; remote edits arrive over a realtime channel and land back on
disk. Conflicting edits are never merged silently: they are recorded
and resolved explicitly with 'inklet conflicts'.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: ./inklet.yaml or ~/.config/inklet/inklet.yaml)")

	rootCmd.AddGroup(&cobra.Group{ID: "sync", Title: "Sync Commands:"})
}

// loadConfig loads configuration or exits with an error message.
func loadConfig() *config.Config {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// components bundles everything a one-shot sync command needs.
type components struct {
	cfg    *config.Config
	db     *storage.DB
	store  *note.Store
	engine *syncer.Engine
}

// openComponents opens the local database, loads the workspace into a
// store, and builds an engine from persisted state. Callers must close
// the returned database.
func openComponents(needServer bool) *components {
	cfg := loadConfig()

	if needServer {
		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}

	database, err := storage.Open(cfg.DatabasePath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening local database: %v\n", err)
		os.Exit(1)
	}
	if err := database.InitSchema(); err != nil {
		database.Close()
		fmt.Fprintf(os.Stderr, "Error initializing schema: %v\n", err)
		os.Exit(1)
	}

	store := note.NewStore()
	if err := loadWorkspaceInto(store, cfg.Workspace.Dir); err != nil {
		database.Close()
		fmt.Fprintf(os.Stderr, "Error loading workspace: %v\n", err)
		os.Exit(1)
	}

	var remote syncer.Remote
	if cfg.Server.URL != "" {
		remote = api.NewClient(cfg.Server.URL, cfg.Server.Token)
	}

	engine := syncer.New(syncer.Config{
		Store:      store,
		Remote:     remote,
		KV:         database,
		Interval:   cfg.Sync.Interval,
		MaxRetries: cfg.Sync.MaxRetries,
	})

	return &components{cfg: cfg, db: database, store: store, engine: engine}
}

// loadWorkspaceInto reads workspace *.md files into the store. The
// file stem is the document id.
func loadWorkspaceInto(store *note.Store, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".md") || strings.HasPrefix(name, ".") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			continue
		}

		modTime := time.Now().UTC()
		if info, err := entry.Info(); err == nil {
			modTime = info.ModTime().UTC()
		}

		content := string(data)
		store.Put(&note.Document{
			ID:        strings.TrimSuffix(name, ".md"),
			Name:      daemon.DeriveName(content),
			Content:   content,
			CreatedAt: modTime,
			UpdatedAt: modTime,
		})
	}
	return nil
}
