package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"metarecon/internal/app"
	"metarecon/internal/ledger"
	"metarecon/pkg/domain"
)

const (
	formatText = "text"
	formatJSON = "json"
)

func checkFormat(cmd *cobra.Command, _ []string) error {
	format, _ := cmd.Flags().GetString("format")
	switch format {
	case formatText, formatJSON:
		return nil
	default:
		return withCode(exitUsage, fmt.Errorf("unknown --format %q (want text or json)", format))
	}
}

// render prints an operation result and turns its outcome into the command
// error. detail prints the operation specific part of the text output.
func render(cmd *cobra.Command, payload any, res app.Result, opErr error, detail func(w io.Writer)) error {
	w := cmd.OutOrStdout()
	format, _ := cmd.Flags().GetString("format")
	if format == formatJSON {
		if err := writeJSON(w, payload); err != nil {
			return err
		}
	} else {
		if detail != nil {
			detail(w)
		}
		writeReport(w, res)
	}
	return verdict(cmd, res.Report, opErr)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeReport(w io.Writer, res app.Result) {
	rep := res.Report
	mode := ""
	if res.DryRun {
		mode = " (dry run)"
	}
	fmt.Fprintf(w, "%s %s: %s%s changed=%d unchanged=%d skipped=%d failed=%d\n",
		rep.Operation, res.RunID, rep.Outcome(), mode, rep.Changed, rep.Unchanged, rep.Skipped, rep.Failed)
	for _, issue := range rep.Issues {
		fmt.Fprintf(w, "  %s\n", issue)
	}
	if len(res.Written) > 0 {
		fmt.Fprintf(w, "written: %s\n", strings.Join(res.Written, ", "))
	}
}

func verdict(cmd *cobra.Command, rep domain.Report, opErr error) error {
	if opErr != nil {
		return withCode(exitFailure, opErr)
	}
	if rep.Outcome() == domain.OutcomeFailure {
		return withCode(exitFailure, fmt.Errorf("%s failed", rep.Operation))
	}
	if strict, _ := cmd.Flags().GetBool("strict"); strict && rep.HasErrors() {
		return withCode(exitFailure, fmt.Errorf("%s reported %d error(s), %d failed", rep.Operation, rep.Count(domain.SeverityError), rep.Failed))
	}
	return nil
}

func writeRuns(w io.Writer, runs []ledger.Run) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tOPERATION\tSTARTED\tDURATION\tOUTCOME\tCHANGED\tISSUES\tDOCUMENTS")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
			r.ID, r.Operation, r.StartedAt.Format(time.RFC3339),
			r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond),
			r.Outcome, r.Report.Changed, len(r.Report.Issues), strings.Join(r.Documents, ","))
	}
	return tw.Flush()
}

func writeRun(w io.Writer, r ledger.Run) {
	fmt.Fprintf(w, "run %s\n", r.ID)
	fmt.Fprintf(w, "operation: %s\nstarted:   %s\nfinished:  %s\noutcome:   %s\n",
		r.Operation, r.StartedAt.Format(time.RFC3339), r.FinishedAt.Format(time.RFC3339), r.Outcome)
	if len(r.Documents) > 0 {
		fmt.Fprintf(w, "documents: %s\n", strings.Join(r.Documents, ", "))
	}
	for _, c := range r.IDChanges {
		fmt.Fprintf(w, "  %s %s[%d] %s -> %s (%s)\n", c.Document, c.Collection, c.Position, c.OldID, c.NewID, c.Reason)
	}
	for _, issue := range r.Report.Issues {
		fmt.Fprintf(w, "  %s\n", issue)
	}
}
