package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// errStorageDisabled is returned when run history is not configured
var errStorageDisabled = errors.New("run history is disabled; set storage.enabled in the config")

func newRunsCmd(opts *rootOptions) *cobra.Command {
	var (
		limit  int
		entity string
		remove bool
	)

	cmd := &cobra.Command{
		Use:   "runs [run-id]",
		Short: "List, show or delete recorded triage runs",
		Long: `Without arguments, list recorded runs newest first. With a run ID, print
that run's full report. --entity lists stored findings keyed on a user or IP.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if remove && len(args) == 0 {
				return fmt.Errorf("--delete needs a run ID")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), defaultTimeout)
			defer cancel()

			app, err := opts.newApp(ctx)
			if err != nil {
				return err
			}
			defer app.Shutdown()
			if app.Store == nil {
				return errStorageDisabled
			}

			w := cmd.OutOrStdout()
			switch {
			case remove:
				if err := app.Store.DeleteRun(ctx, args[0]); err != nil {
					return err
				}
				if !opts.quiet {
					successColor.Fprintf(w, "Deleted run %s\n", args[0])
				}
				return nil

			case len(args) == 1:
				report, err := app.Store.GetRun(ctx, args[0])
				if err != nil {
					return err
				}
				if done, err := opts.emit(w, report); done {
					return err
				}
				printReport(w, report)
				return nil

			case entity != "":
				findings, err := app.Store.FindingsForEntity(ctx, entity, limit)
				if err != nil {
					return err
				}
				if done, err := opts.emit(w, findings); done {
					return err
				}
				printSection(w, fmt.Sprintf("Findings for %s (%d)", entity, len(findings)))
				for _, f := range findings {
					fmt.Fprintf(w, "  %s  %s  %s  %s\n", f.RunID, f.RuleName,
						severityColor(f.Severity).Sprint(f.Severity), f.Details)
				}
				return nil

			default:
				runs, err := app.Store.ListRuns(ctx, limit)
				if err != nil {
					return err
				}
				if done, err := opts.emit(w, runs); done {
					return err
				}
				printRuns(w, runs)
				return nil
			}
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum rows to list (0 for all)")
	cmd.Flags().StringVar(&entity, "entity", "", "List stored findings for this user or IP")
	cmd.Flags().BoolVar(&remove, "delete", false, "Delete the given run")
	return cmd
}
