package pipeline

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"
)

// WriteJSON writes the report as indented JSON
func WriteJSON(w io.Writer, report *Report) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// WriteText writes the per-stage counts, the summary table and the review list
func WriteText(w io.Writer, report *Report) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	mode := ""
	if report.DryRun {
		mode = " (dry run, nothing written)"
	}
	fmt.Fprintf(tw, "Run\t%s%s\n", report.RunID, mode)
	fmt.Fprintf(tw, "Store\t%s\n", report.StorePath)
	if report.BackupPath != "" {
		fmt.Fprintf(tw, "Backup\t%s\n", report.BackupPath)
	}
	fmt.Fprintf(tw, "Rules\t%s\n", report.RulesVersion)
	fmt.Fprintf(tw, "Duration\t%s\n", report.Duration.Round(time.Millisecond))
	fmt.Fprintln(tw)

	fmt.Fprintln(tw, "STAGE\tEXAMINED\tCHANGED\tFIELDS\tFLAGGED\tSKIPPED\tDELETED")
	for _, s := range report.Stages {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%d\n",
			s.Stage, s.Examined, s.ChangedRecords(), len(s.Corrected), len(s.Flagged), len(s.Skipped), len(s.Deleted))
	}
	fmt.Fprintln(tw)

	t := report.Totals
	fmt.Fprintln(tw, "SUMMARY\tRECORDS")
	fmt.Fprintf(tw, "corrected\t%d\n", t.Corrected)
	fmt.Fprintf(tw, "unchanged\t%d\n", t.Unchanged)
	fmt.Fprintf(tw, "flagged for review\t%d\n", t.Flagged)
	fmt.Fprintf(tw, "deleted duplicates\t%d\n", t.Deleted)
	fmt.Fprintf(tw, "total before run\t%d\n", t.Records)

	if len(report.Review) > 0 {
		fmt.Fprintln(tw)
		fmt.Fprintln(tw, "REVIEW ID\tREASON")
		for _, f := range report.Review {
			fmt.Fprintf(tw, "%d\t%s\n", f.ID, f.Reason)
		}
	}

	return tw.Flush()
}
