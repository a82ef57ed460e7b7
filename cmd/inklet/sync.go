package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/inklet/inklet/internal/syncer"
	"github.com/inklet/inklet/internal/ui"
)

var syncPull bool

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Push pending changes to the server now",
	Long: `Perform a one-shot sync pass.

This stages any workspace edits made since the last confirmed sync,
then drains the pending queue against the server: updates and deletes
are pushed, version conflicts are recorded for 'inklet conflicts', and
transient failures stay queued for the next run.

With --pull, changed documents are also fetched from the server and
written back into the workspace.`,
	Run: func(cmd *cobra.Command, args []string) {
		c := openComponents(true)
		defer c.db.Close()

		// Stage anything that drifted from the server mirror, edits
		// and removals both. The daemon detects them live; a one-shot
		// run has to diff.
		c.engine.StageDrift()

		pending := c.engine.PendingCount()
		if pending == 0 && !syncPull {
			fmt.Printf("%s Nothing to sync\n", ui.RenderPass("✓"))
			return
		}

		fmt.Printf("%s Syncing %d pending change(s)...\n", ui.RenderAccent("🔄"), pending)
		start := time.Now()

		c.engine.ForceSyncNow()

		if syncPull {
			if err := c.engine.RefreshSince(cmd.Context()); err != nil {
				fmt.Fprintf(os.Stderr, "Error pulling changes: %v\n", err)
				os.Exit(1)
			}
			writeStoreToWorkspace(c)
		}

		elapsed := time.Since(start)
		switch c.engine.Status() {
		case syncer.StatusSynced:
			fmt.Printf("%s Sync complete in %v\n", ui.RenderPass("✓"), elapsed.Round(time.Millisecond))
		case syncer.StatusOffline:
			fmt.Printf("%s Server unreachable; %d change(s) kept for the next run\n",
				ui.RenderWarn("⚠"), c.engine.PendingCount())
		case syncer.StatusError:
			fmt.Fprintf(os.Stderr, "%s Sync finished with errors: %s\n",
				ui.RenderError("✗"), c.engine.LastError())
			os.Exit(1)
		default:
			if n := c.engine.ConflictCount(); n > 0 {
				fmt.Printf("%s Sync complete; %d conflict(s) need resolution (run 'inklet conflicts')\n",
					ui.RenderWarn("⚠"), n)
			} else {
				fmt.Printf("%s Sync pass finished; %d change(s) still pending\n",
					ui.RenderAccent("ℹ"), c.engine.PendingCount())
			}
		}
	},
}

func init() {
	syncCmd.Flags().BoolVar(&syncPull, "pull", false, "also pull remote changes into the workspace")
	rootCmd.AddCommand(syncCmd)
}
