package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/inklet/inklet/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show sync status",
	Long: `Display the current sync state.

Shows:
  - Workspace location and document count
  - Pending changes waiting to be pushed
  - Unresolved conflicts
  - Last confirmed sync time`,
	Run: func(cmd *cobra.Command, args []string) {
		c := openComponents(false)
		defer c.db.Close()

		cfg := c.cfg

		fmt.Printf("\n%s Inklet Sync Status\n\n", ui.RenderAccent("📊"))
		fmt.Printf("Workspace: %s\n", cfg.Workspace.Dir)
		fmt.Printf("Documents: %d\n", c.store.Count())
		if cfg.Server.URL != "" {
			fmt.Printf("Server: %s\n", cfg.Server.URL)
		} else {
			fmt.Printf("Server: %s\n", ui.RenderDim("not configured"))
		}

		if info, err := os.Stat(cfg.DatabasePath()); err == nil {
			fmt.Printf("Database: %s (%s)\n", cfg.DatabasePath(), formatSize(info.Size()))
		}

		fmt.Println()

		if n := c.engine.PendingCount(); n > 0 {
			fmt.Printf("Pending: %s\n", ui.RenderWarn(fmt.Sprintf("%d change(s) waiting", n)))
			for _, item := range c.engine.Queue().Items() {
				line := fmt.Sprintf("  %s %s", item.Type, item.ID)
				if item.Retries > 0 {
					line += fmt.Sprintf(" (%d failed attempt(s))", item.Retries)
				}
				fmt.Println(line)
			}
		} else {
			fmt.Printf("Pending: %s\n", ui.RenderPass("none"))
		}

		if n := c.engine.ConflictCount(); n > 0 {
			fmt.Printf("Conflicts: %s\n", ui.RenderError(fmt.Sprintf("%d unresolved (run 'inklet conflicts')", n)))
		} else {
			fmt.Printf("Conflicts: %s\n", ui.RenderPass("none"))
		}

		if t := c.engine.LastSyncedAt(); t != nil {
			fmt.Printf("Last sync: %s\n", t.Local().Format("2006-01-02 15:04:05"))
		} else {
			fmt.Printf("Last sync: %s\n", ui.RenderDim("never"))
		}
		fmt.Println()
	},
}

// formatSize renders a byte count for humans.
func formatSize(size int64) string {
	switch {
	case size > 1024*1024:
		return fmt.Sprintf("%.1f MB", float64(size)/(1024*1024))
	case size > 1024:
		return fmt.Sprintf("%.1f KB", float64(size)/1024)
	default:
		return fmt.Sprintf("%d bytes", size)
	}
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
