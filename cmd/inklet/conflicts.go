package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/inklet/inklet/internal/note"
	"github.com/inklet/inklet/internal/syncer"
	"github.com/inklet/inklet/internal/ui"
)

var conflictKeep string

var conflictsCmd = &cobra.Command{
	Use:     "conflicts",
	GroupID: "sync",
	Short:   "List unresolved sync conflicts",
	Long: `List documents whose local edits collided with newer server
versions.

Conflicting edits are never merged or overwritten silently. Each
conflict keeps both versions until you resolve it with
'inklet conflicts resolve'.`,
	Run: func(cmd *cobra.Command, args []string) {
		c := openComponents(false)
		defer c.db.Close()

		conflicts := c.engine.Conflicts().Unresolved()
		if len(conflicts) == 0 {
			fmt.Printf("%s No unresolved conflicts\n", ui.RenderPass("✓"))
			return
		}

		fmt.Printf("\n%s %d unresolved conflict(s)\n\n", ui.RenderWarn("⚠"), len(conflicts))
		for _, cf := range conflicts {
			fmt.Printf("%s %s\n", ui.RenderBold(cf.Local.Name), ui.RenderDim("("+cf.DocID+")"))
			fmt.Printf("  Local edit:     %s\n", cf.Local.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
			fmt.Printf("  Server edit:    %s (version %d)\n",
				cf.Server.UpdatedAt.Local().Format("2006-01-02 15:04:05"), cf.Server.SyncVersion)
			fmt.Printf("  Detected:       %s\n", cf.DetectedAt.Local().Format("2006-01-02 15:04:05"))
			fmt.Println()
		}
		fmt.Printf("Resolve with: inklet conflicts resolve <doc-id>\n\n")
	},
}

var conflictsResolveCmd = &cobra.Command{
	Use:   "resolve <doc-id>",
	Short: "Resolve a sync conflict",
	Long: `Resolve the conflict for a document.

Choices:
  local   Keep your version; it overwrites the server copy.
  server  Take the server version; your local edit is discarded
          (a snapshot is saved locally first).
  both    Keep your version and add the server version as a new
          document in the workspace.

Without --keep, an interactive picker is shown.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		docID := args[0]

		c := openComponents(true)
		defer c.db.Close()

		conflict := c.engine.Conflicts().Get(docID)
		if conflict == nil {
			fmt.Fprintf(os.Stderr, "Error: no unresolved conflict for document %s\n", docID)
			os.Exit(1)
		}

		choice := conflictKeep
		if choice == "" {
			if !term.IsTerminal(int(os.Stdin.Fd())) {
				fmt.Fprintf(os.Stderr, "Error: --keep is required when not running interactively\n")
				os.Exit(1)
			}
			picked, err := pickResolution(conflict)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			choice = picked
		}

		res := syncer.Resolution(choice)

		// Taking the server version discards the local edit; snapshot
		// it first so the content stays recoverable.
		if res == syncer.ResolutionServer {
			if _, err := c.db.SaveVersion(docID, conflict.Local.Name, conflict.Local.Content); err != nil {
				fmt.Fprintf(os.Stderr, "Error saving local snapshot: %v\n", err)
				os.Exit(1)
			}
		}

		server, err := c.engine.ResolveConflict(docID, res)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		switch res {
		case syncer.ResolutionLocal:
			c.engine.ForceSyncNow()
			fmt.Printf("%s Kept local version of %s\n", ui.RenderPass("✓"), conflict.Local.Name)

		case syncer.ResolutionServer:
			writeStoreToWorkspace(c)
			fmt.Printf("%s Took server version of %s (local snapshot saved)\n",
				ui.RenderPass("✓"), conflict.Local.Name)

		case syncer.ResolutionBoth:
			copyDoc := note.NewDocument(server.Name+" (server copy)", server.Content)
			copyDoc.FolderID = server.FolderID
			copyDoc.UpdatedAt = time.Now().UTC()
			c.store.Put(copyDoc)

			path := filepath.Join(c.cfg.Workspace.Dir, copyDoc.Filename())
			if err := os.WriteFile(path, []byte(copyDoc.Content), 0644); err != nil {
				fmt.Fprintf(os.Stderr, "Error writing server copy: %v\n", err)
				os.Exit(1)
			}

			c.engine.QueueDocumentSync(copyDoc)
			c.engine.ForceSyncNow()
			fmt.Printf("%s Kept both: local version unchanged, server version saved as %s\n",
				ui.RenderPass("✓"), copyDoc.Filename())
		}
	},
}

// pickResolution shows an interactive choice for the conflict.
func pickResolution(conflict *syncer.Conflict) (string, error) {
	var choice string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title(fmt.Sprintf("Conflict: %s", conflict.Local.Name)).
				Description(fmt.Sprintf("Your edit from %s collided with a server edit from %s.",
					conflict.Local.UpdatedAt.Local().Format("15:04:05"),
					conflict.Server.UpdatedAt.Local().Format("15:04:05"))).
				Options(
					huh.NewOption("Keep my version (overwrite server)", "local"),
					huh.NewOption("Take server version (snapshot my edit)", "server"),
					huh.NewOption("Keep both (server version as a new document)", "both"),
				).
				Value(&choice),
		),
	)
	if err := form.Run(); err != nil {
		return "", err
	}
	return choice, nil
}

func init() {
	conflictsResolveCmd.Flags().StringVar(&conflictKeep, "keep", "", "resolution: local, server, or both")
	conflictsCmd.AddCommand(conflictsResolveCmd)
	rootCmd.AddCommand(conflictsCmd)
}
