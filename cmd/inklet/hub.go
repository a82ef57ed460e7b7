package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/inklet/inklet/internal/broadcast"
	"github.com/inklet/inklet/internal/ui"
)

var hubCmd = &cobra.Command{
	Use:     "hub",
	GroupID: "sync",
	Short:   "Run the local broadcast hub (foreground)",
	Long: `Run the loopback relay that links inklet processes on this machine.

Each daemon or editor process connects to the hub and sees the
others' document changes immediately, without a server round trip.
Processes work fine without a hub; they just stop hearing about each
other until one is available.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()

		hub := broadcast.NewHub(&broadcast.HubConfig{Addr: cfg.Hub.Addr})
		if err := hub.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Error starting hub: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Broadcast hub listening on %s\n", ui.RenderAccent("📡"), hub.Addr())
		fmt.Printf("\nPress Ctrl+C to stop\n\n")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		<-ctx.Done()

		if err := hub.Stop(); err != nil {
			fmt.Fprintf(os.Stderr, "Error stopping hub: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(hubCmd)
}
