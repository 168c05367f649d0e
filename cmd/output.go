package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"warden/core"
	"warden/ingest"
	"warden/repair"
	"warden/storage"
	"warden/triage"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"
)

// emit writes v as JSON or YAML when requested and reports whether it did
func (o *rootOptions) emit(w io.Writer, v interface{}) (bool, error) {
	switch {
	case o.outputJSON:
		return true, outputAsJSON(w, v)
	case o.outputYAML:
		return true, outputAsYAML(w, v)
	default:
		return false, nil
	}
}

func outputAsJSON(w io.Writer, data interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

func outputAsYAML(w io.Writer, data interface{}) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(data); err != nil {
		return err
	}
	return encoder.Close()
}

func printSection(w io.Writer, title string) {
	fmt.Fprintln(w)
	headerColor.Fprintln(w, title)
	fmt.Fprintln(w, strings.Repeat("-", len(title)))
}

func printField(w io.Writer, label string, value interface{}) {
	fmt.Fprintf(w, "  %-25s %v\n", label+":", value)
}

func severityColor(sev core.Severity) *color.Color {
	switch sev {
	case core.SeverityHigh:
		return errorColor
	case core.SeverityMedium:
		return warningColor
	default:
		return infoColor
	}
}

func printFindings(w io.Writer, findings []core.Finding) {
	printSection(w, fmt.Sprintf("Findings (%d)", len(findings)))
	if len(findings) == 0 {
		successColor.Fprintln(w, "  "+triage.NoAnomalies)
		return
	}
	for _, f := range findings {
		fmt.Fprintf(w, "  %s  %-32s %s  %s\n",
			f.Timestamp.UTC().Format("2006-01-02T15:04:05Z"),
			f.RuleName,
			severityColor(f.Severity).Sprintf("%-6s", f.Severity),
			f.Details)
	}
}

func printSkipCounts(w io.Writer, skips map[string]int) {
	rules := make([]string, 0, len(skips))
	for rule := range skips {
		rules = append(rules, rule)
	}
	sort.Strings(rules)

	printSection(w, "Skipped Events")
	for _, rule := range rules {
		printField(w, rule, skips[rule])
	}
}

func printIngestStats(w io.Writer, stats ingest.Stats) {
	printSection(w, "Input")
	printField(w, "Lines", stats.Lines)
	printField(w, "JSON records", stats.JSON)
	printField(w, "Key=value records", stats.KV)
	printField(w, "Msgpack records", stats.Msgpack)
	if stats.Rejected > 0 {
		printField(w, "Rejected", warningColor.Sprint(stats.Rejected))
	} else {
		printField(w, "Rejected", 0)
	}
}

func printRepairStats(w io.Writer, stats repair.Stats) {
	printField(w, "Items", stats.Items)
	printField(w, "Observed commands", stats.Observed)
	printField(w, "Synthesized", stats.Synthesized)
	printField(w, "No data", stats.NoData)
	printField(w, "Replaced", stats.Replaced)
	printField(w, "Dropped commands", stats.DroppedCommands)
}

func printBlocks(w io.Writer, blocks []core.CommandBlock) {
	for _, b := range blocks {
		label := b.ItemLabel
		if b.RiskID != "" {
			label = b.RiskID + " " + label
		}
		var source string
		switch b.Source {
		case core.CommandObserved:
			source = successColor.Sprint(b.Source)
		case core.CommandSynthesized:
			source = warningColor.Sprint(b.Source)
		default:
			source = errorColor.Sprint(b.Source)
		}
		fmt.Fprintf(w, "  [%s] %s\n", source, label)
		fmt.Fprintf(w, "      %s\n", b.Command)
	}
}

func printText(w io.Writer, text string) {
	if strings.TrimSpace(text) == "" {
		fmt.Fprintln(w, "  (empty)")
		return
	}
	for _, ln := range strings.Split(strings.TrimRight(text, "\n"), "\n") {
		fmt.Fprintln(w, "  "+ln)
	}
}

func printReport(w io.Writer, r *triage.Report) {
	headerColor.Fprintln(w, "Triage Report")
	printField(w, "Run ID", r.RunID)
	printField(w, "Source", r.Source)
	printField(w, "Events", r.Events)
	if r.Status == triage.StatusComplete {
		printField(w, "Status", successColor.Sprint(r.Status))
	} else {
		printField(w, "Status", errorColor.Sprintf("%s (failed at %s)", r.Status, r.FailedAt))
		printField(w, "Error", r.Error)
	}
	printField(w, "Duration", r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))

	printFindings(w, r.Findings)

	if r.Analysis != "" {
		printSection(w, "Analysis")
		printText(w, r.Analysis)
	}
	if len(r.Risks) > 0 {
		printSection(w, "Risks")
		for _, risk := range r.Risks {
			line := fmt.Sprintf("  [%s] %s", risk.ID, risk.Text)
			if risk.Principal != "" {
				line += infoColor.Sprintf("  (%s)", risk.Principal)
			}
			fmt.Fprintln(w, line)
		}
	}
	if r.Plan != "" {
		printSection(w, "Plan")
		printText(w, r.Plan)
	}
	if r.Actions != "" {
		printSection(w, "Actions")
		printText(w, r.Actions)
	}
	if len(r.Blocks) > 0 {
		printSection(w, "Commands")
		printBlocks(w, r.Blocks)
	}

	printSection(w, "Grounding")
	for _, stage := range []triage.Stage{triage.StageReasoning, triage.StagePlanner, triage.StageExecutor} {
		printField(w, "Suppressed ("+string(stage)+")", r.Suppressed[stage])
	}
	printRepairStats(w, r.Repair)
}

func printRuns(w io.Writer, runs []storage.RunSummary) {
	printSection(w, fmt.Sprintf("Runs (%d)", len(runs)))
	if len(runs) == 0 {
		fmt.Fprintln(w, "  No runs recorded")
		return
	}
	for _, run := range runs {
		status := successColor.Sprint(run.Status)
		if run.Status != triage.StatusComplete {
			status = errorColor.Sprint(run.Status)
		}
		fmt.Fprintf(w, "  %s  %s  %-8s events=%d findings=%d risks=%d commands=%d  %s\n",
			run.ID,
			run.StartedAt.UTC().Format("2006-01-02T15:04:05Z"),
			status,
			run.Events, run.Findings, run.Risks, run.Commands,
			run.Source)
	}
}
