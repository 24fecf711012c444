// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/LeeDigitalWorks/dirsync/pkg/identity"
	"github.com/LeeDigitalWorks/dirsync/pkg/reconcile"
)

// printSummary renders a run summary for terminals.
func printSummary(out io.Writer, s *reconcile.RunSummary) {
	if s == nil {
		return
	}

	fmt.Fprintf(out, "Run %s (%s)\n", s.RunID, s.Trigger)
	fmt.Fprintf(out, "  Status:            %s\n", s.Status)
	fmt.Fprintf(out, "  Started:           %s (%s)\n", s.StartedAt.Format("2006-01-02 15:04:05Z07:00"), humanize.Time(s.StartedAt))
	fmt.Fprintf(out, "  Duration:          %s\n", s.Duration().Round(time.Millisecond))
	fmt.Fprintf(out, "  Directory records: %s\n", humanize.Comma(int64(s.TotalDirectoryRecords)))
	fmt.Fprintf(out, "  Created:           %s\n", humanize.Comma(int64(s.Created)))
	fmt.Fprintf(out, "  Updated:           %s\n", humanize.Comma(int64(s.Updated)))
	if s.Marked > 0 {
		fmt.Fprintf(out, "  Marked missing:    %s\n", humanize.Comma(int64(s.Marked)))
	}
	fmt.Fprintf(out, "  Deleted:           %s\n", humanize.Comma(int64(s.Deleted)))
	fmt.Fprintf(out, "  Skipped:           %s\n", humanize.Comma(int64(len(s.SkippedErrors))))
	if s.Cancelled {
		fmt.Fprintln(out, "  Cancelled:         yes")
	}
	if s.Error != "" {
		fmt.Fprintf(out, "  Error:             %s\n", s.Error)
	}

	if len(s.SkippedErrors) == 0 {
		return
	}
	fmt.Fprintln(out)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tKIND\tOP\tMESSAGE")
	fmt.Fprintln(w, "---\t----\t--\t-------")
	for _, e := range s.SkippedErrors {
		op := string(e.Op)
		if op == "" {
			op = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.Key, e.Kind, op, e.Message)
	}
	w.Flush()
}

// printPlan renders a dry-run plan for terminals.
func printPlan(out io.Writer, p *reconcile.Plan) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "OP\tKEY\tCHANGES")
	fmt.Fprintln(w, "--\t---\t-------")
	for _, c := range p.Creates {
		fmt.Fprintf(w, "create\t%s\t%s\n", c.Key, c.DistinguishedName)
	}
	for _, u := range p.Updates {
		fmt.Fprintf(w, "update\t%s\t%s\n", u.Key, describePatch(u.Patch))
	}
	for _, k := range p.Marks {
		fmt.Fprintf(w, "mark_missing\t%s\t-\n", k)
	}
	for _, k := range p.Deletes {
		fmt.Fprintf(w, "delete\t%s\t-\n", k)
	}
	for _, e := range p.Errors {
		fmt.Fprintf(w, "skip\t%s\t%s\n", e.Key, e.Message)
	}
	w.Flush()

	fmt.Fprintln(out)
	fmt.Fprintf(out, "Plan: %s to create, %s to update, %s to mark, %s to delete, %s skipped.\n",
		humanize.Comma(int64(len(p.Creates))),
		humanize.Comma(int64(len(p.Updates))),
		humanize.Comma(int64(len(p.Marks))),
		humanize.Comma(int64(len(p.Deletes))),
		humanize.Comma(int64(len(p.Errors))),
	)
}

// describePatch lists patched fields in a stable order.
func describePatch(p identity.Patch) string {
	if len(p) == 0 {
		return "clear missing"
	}
	parts := make([]string, 0, len(p))
	for f, v := range p {
		parts = append(parts, fmt.Sprintf("%s=%v", f, v))
	}
	sort.Strings(parts)
	return strings.Join(parts, " ")
}
