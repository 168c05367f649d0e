package core

import (
	"fmt"
	"time"
)

// Finding is a deterministic detection result.
type Finding struct {
	RuleName  string    `json:"rule_name" yaml:"rule_name"`
	Severity  Severity  `json:"severity" yaml:"severity"`
	Details   string    `json:"details" yaml:"details"`
	Key       string    `json:"key,omitempty" yaml:"key,omitempty"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
}

// Signal renders the finding as a single "rule | severity | details" line
func (f Finding) Signal() string {
	return fmt.Sprintf("%s | %s | %s", f.RuleName, f.Severity, f.Details)
}

// RiskItem is a tagged risk extracted from generated analysis text.
// Principal is empty when no email-like token was found.
type RiskItem struct {
	ID        string `json:"id" yaml:"id"`
	Text      string `json:"text" yaml:"text"`
	Principal string `json:"principal,omitempty" yaml:"principal,omitempty"`
}

// CommandSource records where a command in a CommandBlock came from
type CommandSource string

const (
	// CommandObserved is a generator command that passed the safety grammar
	CommandObserved CommandSource = "observed"
	// CommandSynthesized was produced from the safe catalogue
	CommandSynthesized CommandSource = "synthesized"
	// CommandNoData is the sentinel
	CommandNoData CommandSource = "no_data"
)

// CommandBlock pairs an item line with its validated command
type CommandBlock struct {
	RiskID    string        `json:"risk_id" yaml:"risk_id"`
	ItemLabel string        `json:"item_label" yaml:"item_label"`
	Command   string        `json:"command" yaml:"command"`
	Source    CommandSource `json:"source" yaml:"source"`
}
