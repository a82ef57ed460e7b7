package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/inklet/inklet/internal/api"
	"github.com/inklet/inklet/internal/broadcast"
	"github.com/inklet/inklet/internal/config"
	"github.com/inklet/inklet/internal/daemon"
	"github.com/inklet/inklet/internal/note"
	"github.com/inklet/inklet/internal/realtime"
	"github.com/inklet/inklet/internal/storage"
	"github.com/inklet/inklet/internal/syncer"
	"github.com/inklet/inklet/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Run the sync daemon (foreground)",
	Long: `Run the inklet sync daemon in foreground mode.

The daemon will:
  1. Watch the workspace directory for markdown edits
  2. Queue and push local changes to the server with retries
  3. Apply changes pushed by other devices back onto disk
  4. Relay changes to other inklet processes on this machine

Stop with Ctrl+C; pending changes are persisted and retried on the
next run.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		logger := newDaemonLogger(cfg)

		database, err := storage.Open(cfg.DatabasePath())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening local database: %v\n", err)
			os.Exit(1)
		}
		defer database.Close()

		if err := database.InitSchema(); err != nil {
			fmt.Fprintf(os.Stderr, "Error initializing schema: %v\n", err)
			os.Exit(1)
		}

		store := note.NewStore()
		client := api.NewClient(cfg.Server.URL, cfg.Server.Token)

		bcaster := broadcast.ConnectPeerOrNoop(cmd.Context(), cfg.Hub.Addr, logger)
		defer bcaster.Close()

		engine := syncer.New(syncer.Config{
			Store:       store,
			Remote:      client,
			KV:          database,
			Broadcaster: bcaster,
			Interval:    cfg.Sync.Interval,
			MaxRetries:  cfg.Sync.MaxRetries,
			Logger:      logger,
		})
		detector := syncer.NewDetector(engine, logger)

		var channel *realtime.Channel
		if endpoint := cfg.RealtimeEndpoint(); endpoint != "" {
			channel = realtime.New(realtime.Config{
				URL:    endpoint,
				Token:  cfg.Server.Token,
				Logger: logger,
			})
		}

		dcfg := daemon.DefaultConfig()
		dcfg.WorkspaceDir = cfg.Workspace.Dir
		dcfg.Store = store
		dcfg.Engine = engine
		dcfg.Detector = detector
		dcfg.Channel = channel
		dcfg.Broadcaster = bcaster
		dcfg.Logger = logger

		d, err := daemon.New(dcfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating daemon: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Starting inklet sync daemon...\n", ui.RenderAccent("🚀"))
		fmt.Printf("   Workspace: %s\n", cfg.Workspace.Dir)
		fmt.Printf("   Server: %s\n", cfg.Server.URL)
		fmt.Printf("   Database: %s\n", cfg.DatabasePath())
		fmt.Printf("\nPress Ctrl+C to stop\n\n")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := d.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Daemon stopped with error: %v\n", err)
			os.Exit(1)
		}
	},
}

// newDaemonLogger writes to stderr and, when configured, a rotated
// log file.
func newDaemonLogger(cfg *config.Config) *log.Logger {
	var w io.Writer = os.Stderr
	if cfg.Log.File != "" {
		w = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   cfg.Log.File,
			MaxSize:    cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
		})
	}
	return log.New(w, "[inklet] ", log.LstdFlags)
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}
