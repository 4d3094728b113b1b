// Command metarecon reconciles registry metadata documents and pushes them to
// the platform metadata API.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

const (
	exitFailure = 1
	exitUsage   = 2
)

type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func withCode(code int, err error) error {
	if err == nil {
		return nil
	}
	return &exitError{code: code, err: err}
}

func exitCode(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return exitFailure
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(exitCode(err))
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "metarecon",
		Short: "Reconcile cancer registry metadata exports",
		Long: `metarecon audits and repairs exported tracker metadata (programs, stages,
data elements, indicators, rules...) stored as JSON documents, records every
run in a ledger and pushes the results to the platform metadata API.

Documents are addressed as storage keys; a collection inside a document is
selected with key#collection, e.g. "Program/Program Stage.json#programStages".`,
		SilenceUsage:      true,
		PersistentPreRunE: checkFormat,
	}
	root.PersistentFlags().String("config", "", "Config file (YAML); METARECON_* env vars override it")
	root.PersistentFlags().Bool("dry-run", false, "Compute reports without writing documents")
	root.PersistentFlags().Bool("strict", false, "Exit non-zero when any error issue is reported")
	root.PersistentFlags().String("format", formatText, "Output format: text|json")

	root.AddCommand(
		newAuditCmd(),
		newClassifyCmd(),
		newOrphansCmd(),
		newAssignCmd(),
		newDedupeCmd(),
		newRemapCmd(),
		newMergeCmd(),
		newSplitCmd(),
		newShortNamesCmd(),
		newCloneCmd(),
		newFilterCmd(),
		newPushCmd(),
		newPullCmd(),
		newRunsCmd(),
	)
	return root
}
