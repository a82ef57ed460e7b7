package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/inklet/inklet/internal/ui"
)

var pullSince string

var pullCmd = &cobra.Command{
	Use:     "pull",
	GroupID: "sync",
	Short:   "Fetch remote changes into the workspace",
	Long: `Fetch documents changed on the server and write them into the
workspace directory.

By default this pulls everything changed since the last confirmed
sync. --since accepts natural language:

  inklet pull --since "yesterday"
  inklet pull --since "2 hours ago"
  inklet pull --since "last monday"

Remote changes only land when they are newer than the local copy;
unsynced local edits are never overwritten.`,
	Run: func(cmd *cobra.Command, args []string) {
		c := openComponents(true)
		defer c.db.Close()

		var since time.Time
		if pullSince != "" {
			parsed, err := parseSince(pullSince)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			since = parsed
		} else if t := c.engine.LastSyncedAt(); t != nil {
			since = *t
		}

		if since.IsZero() {
			fmt.Printf("%s Pulling all documents...\n", ui.RenderAccent("🔄"))
		} else {
			fmt.Printf("%s Pulling changes since %s...\n", ui.RenderAccent("🔄"),
				since.Local().Format("2006-01-02 15:04:05"))
		}

		before := c.store.Count()
		if err := c.engine.PullSince(cmd.Context(), since); err != nil {
			fmt.Fprintf(os.Stderr, "Error pulling changes: %v\n", err)
			os.Exit(1)
		}

		writeStoreToWorkspace(c)

		fmt.Printf("%s Pull complete\n", ui.RenderPass("✓"))
		fmt.Printf("   Documents: %d (was %d)\n", c.store.Count(), before)
	},
}

// parseSince turns a natural-language time expression into a
// timestamp in the past.
func parseSince(expr string) (time.Time, error) {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)

	result, err := w.Parse(expr, time.Now())
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse --since %q: %w", expr, err)
	}
	if result == nil {
		return time.Time{}, fmt.Errorf("could not understand --since %q", expr)
	}
	if result.Time.After(time.Now()) {
		return time.Time{}, fmt.Errorf("--since %q is in the future", expr)
	}
	return result.Time, nil
}

// writeStoreToWorkspace projects the store's live documents onto the
// workspace directory.
func writeStoreToWorkspace(c *components) {
	if err := os.MkdirAll(c.cfg.Workspace.Dir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating workspace: %v\n", err)
		os.Exit(1)
	}
	for _, doc := range c.store.List() {
		path := filepath.Join(c.cfg.Workspace.Dir, doc.Filename())
		if data, err := os.ReadFile(path); err == nil && string(data) == doc.Content {
			continue
		}
		if err := os.WriteFile(path, []byte(doc.Content), 0644); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to write %s: %v\n", path, err)
		}
	}
}

func init() {
	pullCmd.Flags().StringVar(&pullSince, "since", "", "pull changes since this time (natural language)")
	rootCmd.AddCommand(pullCmd)
}
