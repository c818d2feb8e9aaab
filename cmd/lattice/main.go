package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const banner = `
  ╦  ┌─┐┌┬┐┌┬┐┬┌─┐┌─┐
  ║  ├─┤ │  │ ││  ├┤
  ╩═╝┴ ┴ ┴  ┴ ┴└─┘└─┘
`

func main() {
	rootCmd := &cobra.Command{
		Use:   "lattice",
		Short: "Tools for the Lattice reactive runtime",
		Long: `Lattice is a fine-grained reactive runtime for Go.

Signals hold state, memos derive values from it and effects act on
the outside world; the runtime records who read what and recomputes
only what a write actually reaches. This CLI benchmarks propagation
through common graph shapes and runs a demo collaboration server
with a live graph inspector.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		benchCmd(),
		serveCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "\033[31mError:\033[0m %s\n", err)
		os.Exit(1)
	}
}

// printBanner prints the Lattice ASCII art banner.
func printBanner() {
	fmt.Print(banner)
}
