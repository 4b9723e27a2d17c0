package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	v1 "github.com/fyrsmithlabs/solvd/pkg/api/v1"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printSolves(w io.Writer, solves []v1.Solve) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tREPO\tISSUE\tSTATUS\tCREATED")
	for _, s := range solves {
		fmt.Fprintf(tw, "%s\t%s\t#%d\t%s\t%s\n", s.ID, s.RepoURL, s.IssueNumber, s.Status, s.CreatedAt.Local().Format(time.DateTime))
	}
	return tw.Flush()
}

func printDetail(w io.Writer, d *v1.SolveDetail) error {
	fmt.Fprintf(w, "Solve:    %s\n", d.ID)
	fmt.Fprintf(w, "Repo:     %s#%d (base %s)\n", d.RepoURL, d.IssueNumber, d.BaseBranch)
	fmt.Fprintf(w, "Status:   %s\n", d.Status)
	if d.ErrorMessage != "" {
		fmt.Fprintf(w, "Error:    %s\n", d.ErrorMessage)
	}
	if d.Champion != nil {
		fmt.Fprintf(w, "Champion: run %d (%s) %s\n", d.Champion.Ordinal, d.Champion.Model, deref(d.Champion.PRURL))
	}
	fmt.Fprintln(w)
	return printRuns(w, d.Runs)
}

func printRuns(w io.Writer, runs []v1.Run) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tMODEL\tTEMP\tEDITS\tEVOLUTION\tSTATUS\tTESTS\tFILES\tLOC\tPR")
	for _, r := range runs {
		fmt.Fprintf(tw, "%d\t%s\t%g\t%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.Ordinal, r.Model, r.Temperature, r.MaxEdits, r.Evolution, r.Status,
			tests(r.TestsPassed), intOrDash(r.FilesChanged), intOrDash(r.LOCChanged), deref(r.PRURL))
	}
	return tw.Flush()
}

func tests(passed *bool) string {
	switch {
	case passed == nil:
		return "-"
	case *passed:
		return "pass"
	default:
		return "fail"
	}
}

func intOrDash(v *int) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprint(*v)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
