package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the detection, grounding and repair HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := opts.newApp(ctx)
			if err != nil {
				return err
			}
			defer app.Shutdown()

			app.Sugar.Infof("API listening on %s", app.Config.APIAddr())
			return app.Serve(ctx)
		},
	}
}
