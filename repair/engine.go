package repair

import (
	"regexp"
	"strings"

	"warden/core"
	"warden/metrics"

	"go.uber.org/zap"
)

// CommandIndent prefixes every synthesized command line
const CommandIndent = "  "

var (
	riskHeader  = regexp.MustCompile(`(?i)^\[(r\d+)\]`)
	itemLine    = regexp.MustCompile(`^[-*]\s*Item:\s*(.*)$`)
	commandLine = regexp.MustCompile(`(?i)^command:\s*(.*)$`)
)

// PrincipalLookup resolves the inferred principal of a risk block
type PrincipalLookup interface {
	PrincipalFor(id string) (string, bool)
}

// state of the pairing walk
type state int

const (
	awaitingItem state = iota
	awaitingCommand
)

// Stats counts what one repair pass changed.
// NoData and Synthesized only count inserted commands.
type Stats struct {
	Items           int `json:"items" yaml:"items"`
	Observed        int `json:"observed" yaml:"observed"`
	Synthesized     int `json:"synthesized" yaml:"synthesized"`
	NoData          int `json:"no_data" yaml:"no_data"`
	Replaced        int `json:"replaced" yaml:"replaced"`
	DroppedCommands int `json:"dropped_commands" yaml:"dropped_commands"`
}

// Changed reports whether the pass altered the text
func (s Stats) Changed() bool {
	return s.Synthesized+s.NoData+s.DroppedCommands > 0
}

// Result is the repaired text with its parsed command blocks
type Result struct {
	Text   string              `json:"text" yaml:"text"`
	Blocks []core.CommandBlock `json:"blocks" yaml:"blocks"`
	Stats  Stats               `json:"stats" yaml:"stats"`
}

// Engine repairs Item/Command pairing in generated plans
type Engine struct {
	grammar   *Grammar
	catalogue *Catalogue
	logger    *zap.SugaredLogger
}

// NewEngine creates a repair engine for the given data file
func NewEngine(dataFile string, logger *zap.SugaredLogger) *Engine {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Engine{
		grammar:   NewGrammar(dataFile),
		catalogue: NewCatalogue(dataFile),
		logger:    logger,
	}
}

// Grammar returns the command grammar used by the engine
func (e *Engine) Grammar() *Grammar {
	return e.grammar
}

// acceptable reports whether a Command: value may stay as written
func (e *Engine) acceptable(value string) bool {
	return value == core.NoData || e.grammar.Valid(value)
}

// Repair walks text line by line and guarantees every item is followed by an
// acceptable command. Well-formed text comes back byte-identical.
func (e *Engine) Repair(text string, risks PrincipalLookup) Result {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines)+4)
	res := Result{}

	var (
		st        = awaitingItem
		riskID    string
		itemLabel string
		itemText  string
	)

	for i := 0; i < len(lines); i++ {
		ln := lines[i]
		trimmed := strings.TrimSpace(ln)

		switch st {
		case awaitingItem:
			if m := riskHeader.FindStringSubmatch(trimmed); m != nil {
				riskID = strings.ToUpper(m[1])
				out = append(out, ln)
				continue
			}
			if m := itemLine.FindStringSubmatch(trimmed); m != nil {
				res.Stats.Items++
				itemLabel = strings.TrimSpace(m[1])
				itemText = ln
				out = append(out, ln)
				st = awaitingCommand
				continue
			}
			if m := commandLine.FindStringSubmatch(trimmed); m != nil {
				if e.acceptable(strings.TrimSpace(m[1])) {
					out = append(out, ln)
				} else {
					res.Stats.DroppedCommands++
					e.logger.Debugw("Dropped stray command", "risk", riskID, "command", trimmed)
				}
				continue
			}
			out = append(out, ln)

		case awaitingCommand:
			// Look past blank lines for the item's command
			j := i
			for j < len(lines) && strings.TrimSpace(lines[j]) == "" {
				j++
			}

			var value string
			hasCommand := false
			if j < len(lines) {
				if m := commandLine.FindStringSubmatch(strings.TrimSpace(lines[j])); m != nil {
					hasCommand = true
					value = strings.TrimSpace(m[1])
				}
			}

			if hasCommand && e.acceptable(value) {
				out = append(out, lines[i:j+1]...)
				res.Blocks = append(res.Blocks, core.CommandBlock{
					RiskID:    riskID,
					ItemLabel: itemLabel,
					Command:   value,
					Source:    sourceOf(value),
				})
				res.Stats.Observed++
				i = j
				st = awaitingItem
				continue
			}

			cmd, source := e.synthesize(itemText, riskID, risks)
			out = append(out, CommandIndent+"Command: "+cmd)
			out = append(out, lines[i:j]...)
			res.record(riskID, itemLabel, cmd, source)
			if hasCommand {
				res.Stats.Replaced++
				e.logger.Debugw("Replaced unsafe command", "risk", riskID, "item", itemLabel, "command", value)
				i = j
			} else {
				i = j - 1
			}
			st = awaitingItem
		}
	}

	// Item on the last line
	if st == awaitingCommand {
		cmd, source := e.synthesize(itemText, riskID, risks)
		out = append(out, CommandIndent+"Command: "+cmd)
		res.record(riskID, itemLabel, cmd, source)
	}

	res.Text = strings.Join(out, "\n")
	return res
}

func (e *Engine) synthesize(item, riskID string, risks PrincipalLookup) (string, core.CommandSource) {
	var hint string
	if risks != nil && riskID != "" {
		hint, _ = risks.PrincipalFor(riskID)
	}

	principal := ResolvePrincipal(item, hint)
	if cmd, ok := e.catalogue.Synthesize(item, principal); ok && e.grammar.Valid(cmd) {
		metrics.CommandsRepaired.WithLabelValues(string(core.CommandSynthesized)).Inc()
		return cmd, core.CommandSynthesized
	}

	metrics.CommandsRepaired.WithLabelValues(string(core.CommandNoData)).Inc()
	return core.NoData, core.CommandNoData
}

func sourceOf(value string) core.CommandSource {
	if value == core.NoData {
		return core.CommandNoData
	}
	return core.CommandObserved
}

// record appends an inserted command block
func (r *Result) record(riskID, label, cmd string, source core.CommandSource) {
	r.Blocks = append(r.Blocks, core.CommandBlock{
		RiskID:    riskID,
		ItemLabel: label,
		Command:   cmd,
		Source:    source,
	})
	switch source {
	case core.CommandSynthesized:
		r.Stats.Synthesized++
	case core.CommandNoData:
		r.Stats.NoData++
	}
}
