// Command generalize infers which column of a dataset plays which role
// (year, binary category, remainder, ...) from a bounded sample, and records
// the resolved mapping.
//
// Subcommands:
//
//	generalize classify --config jobs.yaml [--json] [--parallel N]
//	generalize validate --config jobs.yaml
//	generalize probe --url data.csv [--columns a,b] [--report]
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	// Register every storage backend; jobs choose one by kind.
	_ "generalize/internal/storage/all"
)

// errInvalidConfig is returned after validation issues were printed.
var errInvalidConfig = errors.New("configuration is invalid")

// app carries state shared by subcommands.
type app struct {
	verbose bool
	log     *zap.Logger

	// newLogger builds the process logger; tests replace it.
	newLogger func(verbose bool) (*zap.Logger, error)
}

func productionLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	return cfg.Build()
}

func newRootCmd(a *app) *cobra.Command {
	if a.newLogger == nil {
		a.newLogger = productionLogger
	}
	a.log = zap.NewNop()

	root := &cobra.Command{
		Use:           "generalize",
		Short:         "Infer column roles from a bounded dataset sample",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			l, err := a.newLogger(a.verbose)
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			a.log = l
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			_ = a.log.Sync()
		},
	}
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Enable debug logging")

	root.AddCommand(newClassifyCmd(a), newValidateCmd(a), newProbeCmd(a))
	return root
}

func main() {
	if err := newRootCmd(&app{}).Execute(); err != nil {
		if !errors.Is(err, errInvalidConfig) {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		os.Exit(1)
	}
}
