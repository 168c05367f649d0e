package cmd

import (
	"fmt"
	"os"

	"warden/core"
	"warden/ground"
	"warden/ingest"
	"warden/repair"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// RepairOutput is the structured output of the repair command
type RepairOutput struct {
	repair.Result `yaml:",inline"`
	Dropped       int `json:"dropped" yaml:"dropped"`
}

func newRepairCmd(opts *rootOptions) *cobra.Command {
	var (
		risksFile  string
		eventsFile string
		dataFile   string
	)

	cmd := &cobra.Command{
		Use:   "repair <actions-file>",
		Short: "Pair every Item with a safe Command",
		Long: `Read executor output and make sure every "- Item:" line is followed by a
"Command:" line that passes the command grammar. Missing or unsafe commands are
replaced from the safe catalogue, or with "No data".

--risks supplies the tagged risk list (YAML or JSON) used to resolve principals.
--events grounds the text against a log file before repair.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", args[0], err)
			}

			var lookup repair.PrincipalLookup
			if risksFile != "" {
				reg, err := loadRisks(risksFile)
				if err != nil {
					return err
				}
				lookup = reg
			}

			text := string(raw)
			dropped := 0
			if eventsFile != "" {
				events, _, err := ingest.NewLoader(nil).LoadFile(eventsFile, ingest.FormatAuto)
				if err != nil {
					return err
				}
				res := ground.Suppress(text, ground.NewAllowlist(events))
				text, dropped = res.Text, res.Dropped
			}

			if dataFile == "" {
				dataFile = repair.DefaultDataFile
			}
			result := repair.NewEngine(dataFile, nil).Repair(text, lookup)
			if result.Blocks == nil {
				result.Blocks = []core.CommandBlock{}
			}

			w := cmd.OutOrStdout()
			if done, err := opts.emit(w, RepairOutput{Result: result, Dropped: dropped}); done {
				return err
			}

			fmt.Fprintln(w, result.Text)
			if !opts.quiet {
				errW := cmd.ErrOrStderr()
				printSection(errW, "Repair")
				printField(errW, "Suppressed lines", dropped)
				printRepairStats(errW, result.Stats)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&risksFile, "risks", "", "Tagged risk list (YAML or JSON)")
	cmd.Flags().StringVar(&eventsFile, "events", "", "Log file whose users and IPs ground the text")
	cmd.Flags().StringVar(&dataFile, "data-file", "", "Data file named in synthesized commands (default: "+repair.DefaultDataFile+")")
	return cmd
}

// loadRisks reads a risk list; YAML is a superset of JSON so one decoder serves both
func loadRisks(path string) (*ground.RiskRegister, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read risks %s: %w", path, err)
	}
	var items []core.RiskItem
	if err := yaml.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("failed to parse risks %s: %w", path, err)
	}
	return ground.RestoreRiskRegister(items)
}
