// Package main is the fluxion command: it syncs point-of-sale sales and
// inventory into the warehouse, reconciles counts and runs the Temporal
// worker.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	_ "github.com/nucleus/fluxion/internal/connector/rest"
	_ "github.com/nucleus/fluxion/internal/connector/tabular"
)

var Version = "dev"

// errIncomplete signals that the command ran but some location failed; the
// summary has already been printed.
var errIncomplete = errors.New("one or more locations failed")

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if !errors.Is(err, errIncomplete) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "fluxion",
		Short:         "Point-of-sale extraction, warehouse load and reconciliation",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().String("sources", "", "sources file (default $FLUXION_SOURCES_FILE)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (default $FLUXION_LOG_LEVEL)")

	rootCmd.AddCommand(syncCmd())
	rootCmd.AddCommand(reconcileCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(workerCmd())

	return rootCmd
}
