package cmd

import (
	"context"
	"errors"
	"time"

	"warden/ingest"
	"warden/llm"
	"warden/triage"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"
)

func newTriageCmd(opts *rootOptions) *cobra.Command {
	var (
		format     string
		transcript string
	)

	cmd := &cobra.Command{
		Use:   "triage <logfile>",
		Short: "Run detection, grounded analysis, planning and command repair",
		Long: `Run the full triage pipeline over a log file. Generated text is replayed
from a recorded transcript; every stage is grounded against the users and IPs
in the log before it is shown or passed on.

A run that fails mid-pipeline still prints and records everything produced
before the failure, then exits non-zero.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gen, err := llm.LoadTranscript(transcript)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), defaultTimeout)
			defer cancel()

			app, err := opts.newApp(ctx)
			if err != nil {
				return err
			}
			defer app.Shutdown()

			var s *spinner.Spinner
			if !opts.structured() && !opts.quiet {
				s = spinner.New(spinner.CharSets[14], 100*time.Millisecond)
				s.Writer = cmd.ErrOrStderr()
				s.Suffix = " Running triage..."
				s.Start()
			}
			report, runErr := app.Triage(ctx, args[0], ingest.Format(format), gen)
			if s != nil {
				s.Stop()
			}
			if report == nil {
				return runErr
			}

			return renderTriage(cmd, opts, report, runErr)
		},
	}

	cmd.Flags().StringVar(&format, "format", string(ingest.FormatAuto), "Input format: auto, text or msgpack")
	cmd.Flags().StringVar(&transcript, "transcript", "", "YAML transcript of recorded generator responses")
	_ = cmd.MarkFlagRequired("transcript")
	return cmd
}

func renderTriage(cmd *cobra.Command, opts *rootOptions, report *triage.Report, runErr error) error {
	w := cmd.OutOrStdout()
	done, err := opts.emit(w, report)
	if err != nil {
		return err
	}
	if !done {
		printReport(w, report)
	}
	if runErr != nil {
		return errors.Join(errors.New("triage incomplete"), runErr)
	}
	return nil
}
