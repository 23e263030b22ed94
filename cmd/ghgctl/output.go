package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"github.com/JonMunkholm/ghgledger/internal/core"
)

type format string

const (
	formatText format = "text"
	formatJSON format = "json"
	formatYAML format = "yaml"
)

func parseFormat(s string) (format, error) {
	switch f := format(s); f {
	case formatText, formatJSON, formatYAML:
		return f, nil
	}
	return "", fmt.Errorf("unsupported output format %q (want text, json or yaml)", s)
}

// printResult writes v in the requested format. JSON and YAML share the
// API field names; YAML is produced from the JSON form so both agree.
func printResult(w io.Writer, f format, v any) error {
	switch f {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case formatYAML:
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		var generic any
		if err := json.Unmarshal(raw, &generic); err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(generic); err != nil {
			return err
		}
		return enc.Close()
	default:
		return printText(w, v)
	}
}

func printText(w io.Writer, v any) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	switch r := v.(type) {
	case *core.PreviewReport:
		fmt.Fprintf(tw, "adapter:\t%s\n", r.Adapter)
		fmt.Fprintf(tw, "rows read:\t%d\n", r.RowsRead)
		fmt.Fprintf(tw, "checked:\t%d\n", r.PreviewStats.Checked)
		fmt.Fprintf(tw, "ok:\t%d\n", r.PreviewStats.OK)
		fmt.Fprintf(tw, "problems:\t%d\n", r.PreviewStats.Problems)
		writeRowErrors(tw, r.Errors)
	case *core.ImportReport:
		fmt.Fprintf(tw, "import job:\t%s\n", r.ImportJobID)
		fmt.Fprintf(tw, "dataset:\t%s (%s)\n", r.DatasetID, r.DatasetVersion)
		fmt.Fprintf(tw, "adapter:\t%s\n", r.Adapter)
		fmt.Fprintf(tw, "policy:\t%s\n", r.DuplicatePolicy)
		fmt.Fprintf(tw, "rows:\t%d\n", r.RowsTotal)
		fmt.Fprintf(tw, "inserted:\t%d\n", r.Inserted)
		fmt.Fprintf(tw, "replaced:\t%d\n", r.Replaced)
		fmt.Fprintf(tw, "duplicates:\t%d\n", r.Duplicates)
		fmt.Fprintf(tw, "skipped:\t%d\n", r.Skipped)
		fmt.Fprintf(tw, "invalid:\t%d\n", r.Invalid)
		if r.ArchiveKey != "" {
			fmt.Fprintf(tw, "archived:\t%s\n", r.ArchiveKey)
		}
		writeRowErrors(tw, r.Errors)
		if r.ErrorsTotal > len(r.Errors) {
			fmt.Fprintf(tw, "\t... %d more errors\n", r.ErrorsTotal-len(r.Errors))
		}
	case []core.ReconcileRow:
		fmt.Fprintln(tw, "YEAR\tOBSERVED\tREPORTED\tDELTA\tPCT")
		for _, row := range r {
			pct := "-"
			if row.Pct != nil {
				pct = formatFloat(*row.Pct)
			}
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", row.Year,
				formatFloat(row.Observed), formatFloat(row.Reported), formatFloat(row.Delta), pct)
		}
	case *core.Explanation:
		fmt.Fprintf(tw, "year:\t%d\n", r.Year)
		fmt.Fprintf(tw, "observed:\t%s\n", formatFloat(r.Observed))
		fmt.Fprintf(tw, "reported:\t%s\n", formatFloat(r.Reported))
		fmt.Fprintf(tw, "delta:\t%s\n", formatFloat(r.Delta))
		for _, b := range r.Buckets {
			fmt.Fprintf(tw, "  %s:\t%s\n", b.Bucket, formatFloat(b.Tonnes))
		}
		fmt.Fprintf(tw, "residual:\t%s\n", formatFloat(r.Residual))
		if r.Disclaimer != "" {
			fmt.Fprintf(tw, "\n%s\n", r.Disclaimer)
		}
	case *core.AnomalyReport:
		fmt.Fprintf(tw, "subject:\t%s\n", r.Subject)
		fmt.Fprintf(tw, "source:\t%s\n", r.Source)
		fmt.Fprintf(tw, "z:\t%s\n", formatFloat(r.Z))
		flagged := make(map[int]float64, len(r.Anomalies))
		for _, a := range r.Anomalies {
			flagged[a.Year] = a.Score
		}
		fmt.Fprintln(tw, "YEAR\tVALUE\tSCORE")
		for _, p := range r.Series {
			score := ""
			if s, ok := flagged[p.Year]; ok {
				score = formatFloat(s) + " *"
			}
			fmt.Fprintf(tw, "%d\t%s\t%s\n", p.Year, formatFloat(p.Value), score)
		}
	case core.Facility:
		fmt.Fprintf(tw, "id:\t%s\n", r.ID)
		fmt.Fprintf(tw, "name:\t%s\n", r.Name)
		if r.SectorID != "" {
			fmt.Fprintf(tw, "sector:\t%s\n", r.SectorID)
		}
		keys := make([]string, 0, len(r.Meta))
		for k := range r.Meta {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(tw, "%s:\t%s\n", k, r.Meta[k])
		}
	case []core.AdapterInfo:
		fmt.Fprintln(tw, "KEY\tPRIORITY\tDEFAULT")
		for _, a := range r {
			fmt.Fprintf(tw, "%s\t%d\t%t\n", a.Key, a.Priority, a.Default)
		}
	default:
		return fmt.Errorf("no text rendering for %T", v)
	}
	return tw.Flush()
}

func writeRowErrors(w io.Writer, errs []core.RowError) {
	if len(errs) == 0 {
		return
	}
	fmt.Fprintln(w, "\nROW\tREASON")
	for _, e := range errs {
		fmt.Fprintf(w, "%d\t%s\n", e.Row, e.Reason)
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
