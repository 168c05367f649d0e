// Package cmd provides the warden command-line interface.
package cmd

import (
	"context"
	"fmt"
	"time"

	"warden/bootstrap"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// CLI output formatters
var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	warningColor = color.New(color.FgYellow)
	infoColor    = color.New(color.FgCyan)
	headerColor  = color.New(color.FgBlue, color.Bold)
)

// defaultTimeout bounds one-shot commands
const defaultTimeout = 10 * time.Minute

// rootOptions holds the persistent flags
type rootOptions struct {
	configFile string
	outputJSON bool
	outputYAML bool
	noColor    bool
	quiet      bool
	logLevel   string
}

// NewRootCmd creates the warden command with all subcommands
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "warden",
		Short: "Authentication log triage with grounded generated analysis",
		Long: `warden runs deterministic detection rules over authentication logs, then
grounds generated analysis, plans and investigation commands against the
entities actually present in the logs.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.noColor {
				color.NoColor = true
			}
			if opts.outputJSON && opts.outputYAML {
				return fmt.Errorf("--json and --yaml are mutually exclusive")
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&opts.configFile, "config", "", "Config file path (default: ./config.yaml or ./config/config.yaml)")
	root.PersistentFlags().BoolVar(&opts.outputJSON, "json", false, "Output in JSON format")
	root.PersistentFlags().BoolVar(&opts.outputYAML, "yaml", false, "Output in YAML format")
	root.PersistentFlags().BoolVar(&opts.noColor, "no-color", false, "Disable colored output")
	root.PersistentFlags().BoolVar(&opts.quiet, "quiet", false, "Only log errors")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override log_level from config")

	root.AddCommand(newRulesCmd(opts))
	root.AddCommand(newTriageCmd(opts))
	root.AddCommand(newRepairCmd(opts))
	root.AddCommand(newRunsCmd(opts))
	root.AddCommand(newServeCmd(opts))

	return root
}

// newApp loads config and logging and opens the app's backends
func (o *rootOptions) newApp(ctx context.Context) (*bootstrap.App, error) {
	cfg, err := bootstrap.InitConfig(o.configFile)
	if err != nil {
		return nil, err
	}

	level := cfg.LogLevel
	if o.logLevel != "" {
		level = o.logLevel
	}
	if o.quiet {
		level = "error"
	}
	_, sugar, err := bootstrap.InitLogger(level)
	if err != nil {
		return nil, err
	}
	bootstrap.LogConfig(cfg, sugar)

	return bootstrap.NewApp(ctx, cfg, sugar)
}

// structured reports whether output should be machine readable
func (o *rootOptions) structured() bool {
	return o.outputJSON || o.outputYAML
}
