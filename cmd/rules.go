package cmd

import (
	"context"

	"warden/core"
	"warden/ingest"

	"github.com/spf13/cobra"
)

// RulesResult is the structured output of the rules command
type RulesResult struct {
	Source     string         `json:"source" yaml:"source"`
	Input      ingest.Stats   `json:"input" yaml:"input"`
	Findings   []core.Finding `json:"findings" yaml:"findings"`
	SkipCounts map[string]int `json:"skip_counts" yaml:"skip_counts"`
}

func newRulesCmd(opts *rootOptions) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "rules <logfile>",
		Short: "Run the deterministic detection rules over a log file",
		Long: `Stream a JSONL, key=value or msgpack authentication log through the
detection engine and print every finding in emission order.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), defaultTimeout)
			defer cancel()

			app, err := opts.newApp(ctx)
			if err != nil {
				return err
			}
			defer app.Shutdown()

			findings, engine, stats, err := app.Detect(ctx, args[0], ingest.Format(format))
			if err != nil {
				return err
			}
			if findings == nil {
				findings = []core.Finding{}
			}

			result := RulesResult{
				Source:     args[0],
				Input:      stats,
				Findings:   findings,
				SkipCounts: engine.SkipCounts(),
			}
			w := cmd.OutOrStdout()
			if done, err := opts.emit(w, result); done {
				return err
			}

			printIngestStats(w, result.Input)
			printFindings(w, result.Findings)
			printSkipCounts(w, result.SkipCounts)
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", string(ingest.FormatAuto), "Input format: auto, text or msgpack")
	return cmd
}
