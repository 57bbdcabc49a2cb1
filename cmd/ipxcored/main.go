// Command ipxcored is a thin wiring binary around the ipxcore core: it is
// not an HTTP server (the spec's non-goal excludes the HTTP/routing
// framework), only the piece that loads configuration, wires the provider
// pool, shared-stream registry, and dispatcher together, and exposes a
// couple of maintenance subcommands.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	// Best-effort local-development convenience; a missing .env is not an
	// error, matching how operators run this outside of development too.
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "ipxcored",
		Short: "ipxcore reverse-proxy core: provider pool, dispatcher, BTreeStore, title parser",
	}
	root.AddCommand(newServeCommand())
	root.AddCommand(newCompactCommand())
	root.AddCommand(newParseTitleCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
